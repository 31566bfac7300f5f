package hdlc

import (
	"strings"
	"testing"
)

func TestNextInfoFrameAcceptsMatchingSequenceAndAdvancesRecvSeq(t *testing.T) {
	w := &frameLayer{sendSeq: 3, recvSeq: 5}
	iControl := byte(3<<5) | byte(5<<1) // N(R)=3, N(S)=5, I frame (bit0=0)
	w.pendingFrames = []frame{{control: iControl, info: []byte{0x01}}}

	got, err := w.nextInfoFrame()
	if err != nil {
		t.Fatalf("nextInfoFrame: %v", err)
	}
	if got == nil {
		t.Fatal("expected a frame, got nil")
	}
	if w.recvSeq != 6 {
		t.Fatalf("recvSeq = %d, want 6", w.recvSeq)
	}
	if w.sendSeq != 3 {
		t.Fatalf("sendSeq changed to %d, want unchanged 3", w.sendSeq)
	}
}

func TestNextInfoFrameWrapsRecvSeqAtModulo8(t *testing.T) {
	w := &frameLayer{sendSeq: 7, recvSeq: 7}
	iControl := byte(7<<5) | byte(7<<1)
	w.pendingFrames = []frame{{control: iControl}}

	if _, err := w.nextInfoFrame(); err != nil {
		t.Fatalf("nextInfoFrame: %v", err)
	}
	if w.recvSeq != 0 {
		t.Fatalf("recvSeq = %d, want 0 after wraparound", w.recvSeq)
	}
}

func TestNextInfoFrameRejectsUnexpectedNR(t *testing.T) {
	w := &frameLayer{sendSeq: 2, recvSeq: 0}
	// N(R)=5 instead of the expected 2.
	iControl := byte(5<<5) | byte(0<<1)
	w.pendingFrames = []frame{{control: iControl}}

	_, err := w.nextInfoFrame()
	if err == nil {
		t.Fatal("expected an error for a mismatched N(R)")
	}
	if !strings.Contains(err.Error(), "N(R)") {
		t.Fatalf("got error %q, want it to mention N(R)", err)
	}
	if w.recvSeq != 0 {
		t.Fatalf("recvSeq advanced to %d on a rejected frame, want unchanged 0", w.recvSeq)
	}
}

func TestNextInfoFrameRejectsUnexpectedNS(t *testing.T) {
	w := &frameLayer{sendSeq: 2, recvSeq: 4}
	// N(R)=2 matches, but N(S)=6 instead of the expected 4.
	iControl := byte(2<<5) | byte(6<<1)
	w.pendingFrames = []frame{{control: iControl}}

	_, err := w.nextInfoFrame()
	if err == nil {
		t.Fatal("expected an error for a mismatched N(S)")
	}
	if !strings.Contains(err.Error(), "N(S)") {
		t.Fatalf("got error %q, want it to mention N(S)", err)
	}
}

func TestNextInfoFrameAcceptsMatchingRRAndReturnsNil(t *testing.T) {
	w := &frameLayer{sendSeq: 4, recvSeq: 0}
	rrControl := byte(4<<5) | 1 // RR: bit0 set, low nibble 0b0001
	w.pendingFrames = []frame{{control: rrControl}}

	got, err := w.nextInfoFrame()
	if err != nil {
		t.Fatalf("nextInfoFrame: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil (RR carries no data)", got)
	}
	if len(w.pendingFrames) != 0 {
		t.Fatalf("pendingFrames not drained: %v", w.pendingFrames)
	}
}

func TestNextInfoFrameRejectsUnexpectedNRInRR(t *testing.T) {
	w := &frameLayer{sendSeq: 4, recvSeq: 0}
	rrControl := byte(1<<5) | 1 // N(R)=1, expected 4
	w.pendingFrames = []frame{{control: rrControl}}

	_, err := w.nextInfoFrame()
	if err == nil {
		t.Fatal("expected an error for a mismatched N(R) in an RR frame")
	}
	if !strings.Contains(err.Error(), "N(R)") {
		t.Fatalf("got error %q, want it to mention N(R)", err)
	}
}

func TestNextInfoFrameRejectsUnknownFrameType(t *testing.T) {
	w := &frameLayer{sendSeq: 0, recvSeq: 0}
	w.pendingFrames = []frame{{control: 0x43}} // DISC, neither I nor RR nor UI
	if _, err := w.nextInfoFrame(); err == nil {
		t.Fatal("expected an error for an unrecognised frame type")
	}
}

func TestNextSendControlEncodesSeqAndWrapsAtModulo8(t *testing.T) {
	w := &frameLayer{sendSeq: 7, recvSeq: 2}
	control := w.nextSendControl()
	want := byte(2<<5) | byte(7<<1)
	if control != want {
		t.Fatalf("control = %#x, want %#x", control, want)
	}
	if w.sendSeq != 0 {
		t.Fatalf("sendSeq = %d, want 0 after wraparound", w.sendSeq)
	}
}

func TestCRC16MatchesX25Check(t *testing.T) {
	// The CRC-16/X.25 check value for the ASCII string "123456789" is
	// 0x906e (the standard check vector for this polynomial/init/xorout).
	got := crc16([]byte("123456789"))
	if got != 0x906e {
		t.Fatalf("crc16 = %#x, want %#x", got, 0x906e)
	}
}

func TestCRC16RangeMatchesCRC16OverSameBytes(t *testing.T) {
	data := []byte{0xa0, 0x10, 0x02, 0x03, 0x3f, 0x01, 0x02, 0x03}
	headerCRC, _ := crc16Range(data, 5)
	if want := crc16(data[:5]); headerCRC != want {
		t.Fatalf("header CRC = %#x, want %#x", headerCRC, want)
	}
}

func TestAddressFieldLength(t *testing.T) {
	cases := []struct {
		upper, lower uint16
		want         int
	}{
		{upper: 0x10, lower: 0, want: 1},
		{upper: 0x10, lower: 0x01, want: 2},
		{upper: 0x100, lower: 0, want: 4},
		{upper: 0x10, lower: 0x100, want: 4},
	}
	for _, c := range cases {
		w := &frameLayer{upperAddr: c.upper, lowerAddr: c.lower}
		if got := w.addressFieldLength(); got != c.want {
			t.Errorf("addressFieldLength(upper=%#x, lower=%#x) = %d, want %d", c.upper, c.lower, got, c.want)
		}
	}
}
