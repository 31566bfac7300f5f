// Package hdlc implements the HDLC data-link layer of spec.md §4.5: frame
// addressing, CRC-16/X.25 header and frame checksums, SNRM/UA negotiation,
// and I/S/U frame sequencing with segmentation for PDUs larger than one
// HDLC window.
package hdlc

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nilsby/godlms/base"
	"go.uber.org/zap"
)

const (
	maxBytesBefore7e = 100
	maxLength        = 2050
	maxPackets       = 20
	maxBody          = 10000000
	initpacketlength = 2000
	maxRRframecycles = 10
	maxEmptycycles   = 10
	maxReadoutBytes  = 1000000
)

type frameLayer struct {
	transport        base.Stream
	upperAddr        uint16
	lowerAddr        uint16
	clientAddr       byte
	logger           *zap.SugaredLogger
	rxBuf            [maxLength]byte
	txBuf            [maxLength]byte
	maxRecv          uint
	maxSend          uint
	opened           bool
	sendSeq          byte
	recvSeq          byte
	pendingOut       int
	phase            int // 0 - idle, 1 - writing, 2 - reading
	packetsbuffer    [maxPackets]frame
	pendingFrames    []frame
	currentFrame     *frame
	emptyFrameBudget int
	writeTurn        bool // tracks who owns the final/poll bit
}

// frame is one decoded or pending-to-encode HDLC I/S/U frame.
type frame struct {
	control      byte
	info         []byte
	segmented    bool
	inlinelength int // nonzero when the payload is already staged in txBuf
}

type Settings struct {
	Logical  uint16
	Physical uint16
	Client   byte
	MaxRcv   uint
	MaxSnd   uint
}

func New(transport base.Stream, settings *Settings) (base.Stream, error) {
	if settings.Logical > 0x3fff {
		return nil, fmt.Errorf("invalid logical address")
	}
	if settings.Physical > 0x3fff {
		return nil, fmt.Errorf("invalid physical address")
	}
	if settings.Client > 0x7f {
		return nil, fmt.Errorf("invalid client address")
	}
	if settings.MaxRcv > initpacketlength {
		settings.MaxRcv = initpacketlength
	} else if settings.MaxRcv < 128 {
		settings.MaxRcv = 128
	}
	if settings.MaxSnd > initpacketlength {
		settings.MaxSnd = initpacketlength
	} else if settings.MaxSnd < 128 {
		settings.MaxSnd = 128
	}

	w := &frameLayer{
		transport:  transport,
		upperAddr:  settings.Logical,
		lowerAddr:  settings.Physical,
		clientAddr: settings.Client,
		maxRecv:    settings.MaxRcv,
		maxSend:    settings.MaxSnd,
		writeTurn:  true,
	}
	return w, nil
}

func (w *frameLayer) logf(format string, v ...any) {
	if w.logger != nil {
		w.logger.Infof(format, v...)
	}
}

func (w *frameLayer) Close() error {
	if !w.opened {
		return nil
	}
	err := w.drainPending()
	if err != nil {
		return err
	}
	err = w.writeFrame(frame{control: (w.recvSeq << 5) | 1, info: nil, segmented: false}, true)
	if err != nil {
		return err
	}
	if err := w.awaitReceiveReady(); err != nil {
		return err
	}

	// DISC
	err = w.writeFrame(frame{control: 0x43, info: nil, segmented: false}, true)
	if err != nil {
		return fmt.Errorf("unable to create disconnect packet")
	}
	_, err = w.readFrames() // just ignoring whatever returns
	if err != nil {
		return err
	}

	w.opened = false
	return w.transport.Close()
}

func (w *frameLayer) Open() error {
	if w.opened {
		return nil
	}
	if err := w.transport.Open(); err != nil {
		return err
	}
	// snrm here, always negotiate for now
	p := w.rxBuf[:0]
	if w.maxRecv > 128 || w.maxSend > 128 { // longer snrm
		p = append(p, 0x81, 0x80, 0x14, 0x05, 0x02, byte(w.maxSend>>8), byte(w.maxSend), 0x06, 0x02, byte(w.maxRecv>>8), byte(w.maxRecv))
	} else {
		p = append(p, 0x81, 0x80, 0x14, 0x05, 0x01, byte(w.maxSend), 0x06, 0x01, byte(w.maxRecv))
	}
	p = append(p, 0x07, 0x04, 0x00, 0x00, 0x00, 0x01, 0x08, 0x04, 0x00, 0x00, 0x00, 0x01)

	err := w.writeFrame(frame{control: 0x83, info: p, segmented: false}, true)
	if err != nil {
		return err
	}
	// receive and parse snrm response
	r, err := w.readFrames()
	if err != nil {
		return err
	}
	if len(r) == 0 {
		return fmt.Errorf("no packet received, EOF?")
	}
	if len(r) > 1 {
		return fmt.Errorf("more than one packet received, expecting only one as snrm answer")
	}

	if r[0].control != 0x63 {
		return fmt.Errorf("invalid snrm answer, expected UA, got %x", r[0].control)
	}
	err = w.parseUAResponse(r[0].info)
	if err != nil {
		return err
	}
	w.logf("snrm completed, having maxSend: %v, maxRecv: %v", w.maxSend, w.maxRecv)

	w.opened = true
	return nil
}

func (w *frameLayer) parseUAResponse(ua []byte) error {
	if ua == nil {
		return fmt.Errorf("no ua response")
	}
	if len(ua) < 21 {
		return fmt.Errorf("too short snrm response")
	}
	if ua[0] != 0x81 || ua[1] != 0x80 {
		return fmt.Errorf("invalid snrm response header")
	}
	if len(ua) != int(ua[2])+3 {
		return fmt.Errorf("invalid snrm response length")
	}
	for i := 3; i < len(ua); i++ {
		con, t, err := decodeUATag(ua[i+1:])
		if err != nil {
			return err
		}
		switch ua[i] {
		case 5:
			if t < w.maxRecv {
				w.maxRecv = t
			}
		case 6:
			if t < w.maxSend {
				w.maxSend = t
			}
		case 7: // windows always 1 for now
		case 8:
		default:
			return fmt.Errorf("invalid snrm response tag: %v", ua[i])
		}
		i += con
	}
	return nil
}

func decodeUATag(t []byte) (int, uint, error) {
	if len(t) < 2 {
		return 0, 0, fmt.Errorf("too short tag")
	}
	switch t[0] {
	case 1:
		return 2, uint(t[1]), nil
	case 2:
		if len(t) < 3 {
			return 0, 0, fmt.Errorf("too short tag")
		}
		return 3, (uint(t[1]) << 8) | uint(t[2]), nil
	case 4:
		if len(t) < 5 {
			return 0, 0, fmt.Errorf("too short tag")
		}
		return 5, (uint(t[1]) << 24) | (uint(t[2]) << 16) | (uint(t[3]) << 8) | uint(t[4]), nil
	default:
		return 0, 0, fmt.Errorf("invalid tag length")
	}
}

func (w *frameLayer) Disconnect() error {
	w.opened = false
	return w.transport.Disconnect()
}

func (w *frameLayer) nextInfoFrame() (fr *frame, err error) {
	for len(w.pendingFrames) > 0 {
		fr = &w.pendingFrames[0]
		w.pendingFrames = w.pendingFrames[1:]
		if fr.control&1 == 0 { // I frame
			if fr.control>>5 != w.sendSeq { // no retransmission handling, so N(R) must match exactly
				return nil, fmt.Errorf("unexpected N(R) %d in received I frame, want %d", fr.control>>5, w.sendSeq)
			}
			if (fr.control>>1)&7 != w.recvSeq {
				return nil, fmt.Errorf("unexpected N(S) %d in received I frame, want %d", (fr.control>>1)&7, w.recvSeq)
			}
			w.recvSeq = (w.recvSeq + 1) & 7
			return
		} else if fr.control == 3 {
			w.logf("received UI, discarding")
		} else if fr.control&0xf == 1 {
			if fr.control>>5 != w.sendSeq {
				return nil, fmt.Errorf("unexpected N(R) %d in received RR, want %d", fr.control>>5, w.sendSeq)
			}
		} else {
			return nil, fmt.Errorf("unexpected frame type %x", fr.control)
		}
	}
	return nil, nil
}

func (w *frameLayer) sendReceiveReady() error {
	return w.writeFrame(frame{control: (w.recvSeq << 5) | 1, info: nil, segmented: false}, true)
}

func (w *frameLayer) Read(p []byte) (n int, err error) {
	if !w.opened {
		return 0, base.ErrNotOpened
	}
	if w.phase == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}
	err = w.flushPending()
	if err != nil {
		return 0, err
	}
	// check if there is something to drainPending
	if w.currentFrame != nil { // something in last packet, drainPending that...
		if len(w.currentFrame.info) == 0 { // drainPending everything, decide according to segmentation what to do next
			w.emptyFrameBudget--
			if w.emptyFrameBudget <= 0 {
				return 0, fmt.Errorf("too many empty frames")
			}
			next, err := w.nextInfoFrame()
			if err != nil {
				return 0, err
			}
			if next == nil { // check segmentation, otherwise set phase and return EOF
				if w.currentFrame.segmented { // ask for another packets
					err = w.sendReceiveReady()
					if err != nil {
						return 0, err
					}
					w.currentFrame = nil
				} else {
					w.phase = 0
					w.currentFrame = nil
					return 0, io.EOF
				}
			} else {
				w.currentFrame = next
				return w.Read(p) // bounded recursion: at most maxPackets frames are ever buffered
			}
		} else {
			w.emptyFrameBudget = maxEmptycycles
			n = copy(p, w.currentFrame.info)
			w.currentFrame.info = w.currentFrame.info[n:]
			return n, nil
		}
	}

	for byteBudget := maxRRframecycles; byteBudget > 0; byteBudget-- {
		w.pendingFrames, err = w.readFrames()
		if err != nil {
			return 0, err
		}
		w.currentFrame, err = w.nextInfoFrame()
		if err != nil {
			return 0, err
		}
		if w.currentFrame != nil {
			return w.Read(p)
		}
		err = w.sendReceiveReady()
		if err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("too many RR received")
}

func (w *frameLayer) nextSendControl() byte {
	r := (w.recvSeq << 5) | (w.sendSeq << 1)
	w.sendSeq = (w.sendSeq + 1) & 7
	return r
}

func (w *frameLayer) awaitReceiveReady() error {
	r, err := w.readFrames()
	if err != nil {
		return err
	}
	if len(r) == 0 {
		return fmt.Errorf("no packet received, EOF?")
	}
	// exactly one RR is expected here; a segmented I frame's window carries no other frame type.
	hasRR := false
	for _, p := range r {
		if p.control&1 == 0 {
			return fmt.Errorf("unexpected I frame while awaiting RR")
		}
		if p.control == 3 {
			w.logf("received UI, discarding")
		} else if p.control&0xf == 1 {
			if hasRR {
				return fmt.Errorf("duplicate RR received")
			}
			hasRR = true
			if p.control>>5 != w.sendSeq {
				return fmt.Errorf("unexpected N(R) in RR, repetition is not supported")
			}
		} else {
			return fmt.Errorf("unexpected frame type %x", p.control)
		}
	}
	if !hasRR {
		return fmt.Errorf("no RR received")
	}
	return nil
}

func (w *frameLayer) Write(src []byte) error {
	if !w.opened {
		return base.ErrNotOpened
	}
	if len(src) == 0 {
		return nil
	}
	// flush whatever Read left pending before staging new outgoing data.
	err := w.drainPending()
	if err != nil {
		return err
	}
	for len(src) > 0 {
		l := len(src)
		s := false
		if w.pendingOut+l > int(w.maxSend) {
			l = int(w.maxSend) - w.pendingOut
			s = true
		}
		copy(w.txBuf[w.pendingOut+11:], src[:l])
		w.pendingOut += l
		if s { // send partial packet with segment bit
			err = w.writeFrame(frame{control: w.nextSendControl(), inlinelength: w.pendingOut, segmented: true}, true)
			if err != nil {
				return err
			}
			// expecting RR after final bit but during segmented transfer
			err = w.awaitReceiveReady()
			if err != nil {
				return err
			}
			w.pendingOut = 0
		}
		src = src[l:]
	}
	return nil
}

func (w *frameLayer) flushPending() error {
	if w.pendingOut > 0 { // a final unsent packet is still staged, send it now
		err := w.writeFrame(frame{control: w.nextSendControl(), inlinelength: w.pendingOut, segmented: false}, true)
		if err != nil {
			return err
		}
		w.pendingOut = 0
	}
	if w.phase != 2 {
		w.pendingFrames = nil
		w.currentFrame = nil
		w.emptyFrameBudget = maxEmptycycles
		w.phase = 2
	}
	return nil
}

// drainPending consumes any reply frames left over from a prior Read so
// Write can stage a new request cleanly. txBuf is reused as scratch
// space since it is idle while draining.
func (w *frameLayer) drainPending() error {
	switch w.phase {
	case 0: // nothing exchanged yet
		w.pendingOut = 0
		w.phase = 1
		return nil
	case 1: // already mid-write, nothing pending to drain
		return nil
	}
	byteBudget := maxReadoutBytes
	for {
		n, err := w.Read(w.txBuf[:])
		byteBudget -= n
		if err != nil {
			if errors.Is(err, io.EOF) {
				w.pendingOut = 0
				w.phase = 1
				return nil
			}
			return err
		}
		if byteBudget <= 0 {
			return fmt.Errorf("too many bytes read")
		}
	}
}

func (w *frameLayer) SetMaxReceivedBytes(m int64) {
	w.transport.SetMaxReceivedBytes(m)
}

func (w *frameLayer) SetDeadline(t time.Time) {
	w.transport.SetDeadline(t)
}

func (w *frameLayer) SetLogger(logger *zap.SugaredLogger) {
	w.logger = logger
	w.transport.SetLogger(logger)
}

func (w *frameLayer) IsOpen() bool {
	return w.opened
}

var crcTable = [...]uint16{
	0x0000, 0x1189, 0x2312, 0x329b, 0x4624, 0x57ad, 0x6536, 0x74bf,
	0x8c48, 0x9dc1, 0xaf5a, 0xbed3, 0xca6c, 0xdbe5, 0xe97e, 0xf8f7,
	0x1081, 0x0108, 0x3393, 0x221a, 0x56a5, 0x472c, 0x75b7, 0x643e,
	0x9cc9, 0x8d40, 0xbfdb, 0xae52, 0xdaed, 0xcb64, 0xf9ff, 0xe876,
	0x2102, 0x308b, 0x0210, 0x1399, 0x6726, 0x76af, 0x4434, 0x55bd,
	0xad4a, 0xbcc3, 0x8e58, 0x9fd1, 0xeb6e, 0xfae7, 0xc87c, 0xd9f5,
	0x3183, 0x200a, 0x1291, 0x0318, 0x77a7, 0x662e, 0x54b5, 0x453c,
	0xbdcb, 0xac42, 0x9ed9, 0x8f50, 0xfbef, 0xea66, 0xd8fd, 0xc974,
	0x4204, 0x538d, 0x6116, 0x709f, 0x0420, 0x15a9, 0x2732, 0x36bb,
	0xce4c, 0xdfc5, 0xed5e, 0xfcd7, 0x8868, 0x99e1, 0xab7a, 0xbaf3,
	0x5285, 0x430c, 0x7197, 0x601e, 0x14a1, 0x0528, 0x37b3, 0x263a,
	0xdecd, 0xcf44, 0xfddf, 0xec56, 0x98e9, 0x8960, 0xbbfb, 0xaa72,
	0x6306, 0x728f, 0x4014, 0x519d, 0x2522, 0x34ab, 0x0630, 0x17b9,
	0xef4e, 0xfec7, 0xcc5c, 0xddd5, 0xa96a, 0xb8e3, 0x8a78, 0x9bf1,
	0x7387, 0x620e, 0x5095, 0x411c, 0x35a3, 0x242a, 0x16b1, 0x0738,
	0xffcf, 0xee46, 0xdcdd, 0xcd54, 0xb9eb, 0xa862, 0x9af9, 0x8b70,
	0x8408, 0x9581, 0xa71a, 0xb693, 0xc22c, 0xd3a5, 0xe13e, 0xf0b7,
	0x0840, 0x19c9, 0x2b52, 0x3adb, 0x4e64, 0x5fed, 0x6d76, 0x7cff,
	0x9489, 0x8500, 0xb79b, 0xa612, 0xd2ad, 0xc324, 0xf1bf, 0xe036,
	0x18c1, 0x0948, 0x3bd3, 0x2a5a, 0x5ee5, 0x4f6c, 0x7df7, 0x6c7e,
	0xa50a, 0xb483, 0x8618, 0x9791, 0xe32e, 0xf2a7, 0xc03c, 0xd1b5,
	0x2942, 0x38cb, 0x0a50, 0x1bd9, 0x6f66, 0x7eef, 0x4c74, 0x5dfd,
	0xb58b, 0xa402, 0x9699, 0x8710, 0xf3af, 0xe226, 0xd0bd, 0xc134,
	0x39c3, 0x284a, 0x1ad1, 0x0b58, 0x7fe7, 0x6e6e, 0x5cf5, 0x4d7c,
	0xc60c, 0xd785, 0xe51e, 0xf497, 0x8028, 0x91a1, 0xa33a, 0xb2b3,
	0x4a44, 0x5bcd, 0x6956, 0x78df, 0x0c60, 0x1de9, 0x2f72, 0x3efb,
	0xd68d, 0xc704, 0xf59f, 0xe416, 0x90a9, 0x8120, 0xb3bb, 0xa232,
	0x5ac5, 0x4b4c, 0x79d7, 0x685e, 0x1ce1, 0x0d68, 0x3ff3, 0x2e7a,
	0xe70e, 0xf687, 0xc41c, 0xd595, 0xa12a, 0xb0a3, 0x8238, 0x93b1,
	0x6b46, 0x7acf, 0x4854, 0x59dd, 0x2d62, 0x3ceb, 0x0e70, 0x1ff9,
	0xf78f, 0xe606, 0xd49d, 0xc514, 0xb1ab, 0xa022, 0x92b9, 0x8330,
	0x7bc7, 0x6a4e, 0x58d5, 0x495c, 0x3de3, 0x2c6a, 0x1ef1, 0x0f78,
}

func crc16(d []byte) uint16 {
	c := uint16(0xffff)
	for _, b := range d {
		c = crcTable[byte(c)^b] ^ (c >> 8)
	}
	return c ^ 0xffff
}

func crc16Range(d []byte, headerLen int) (headerCRC uint16, frameCRC uint16) {
	c := uint16(0xffff)
	for i := 0; i < headerLen; i++ {
		c = crcTable[byte(c)^d[i]] ^ (c >> 8)
	}
	headerCRC = c ^ 0xffff
	for i := headerLen; i < len(d); i++ {
		c = crcTable[byte(c)^d[i]] ^ (c >> 8)
	}
	return headerCRC, c ^ 0xffff
}

// readFrames reads one complete batch of HDLC frames off a segmented
// stream transport, stopping at the frame with the final bit set.
func (w *frameLayer) readFrames() ([]frame, error) {
	if w.writeTurn {
		return nil, fmt.Errorf("cannot read packets, write is expected")
	}

	off := 0
	first := true
	final := false
	for !final {
		if off >= len(w.packetsbuffer) {
			return nil, fmt.Errorf("too many packets received")
		}
		m, err := w.readOneFrame(first)
		if err != nil {
			return nil, err
		}
		first = false
		final = m.control&0x10 != 0
		m.control &= 0xef // clear final bit
		w.packetsbuffer[off] = m
		off++
	}
	w.writeTurn = true
	return w.packetsbuffer[:off], nil // everything is received, final is set, our turn now
}

func (w *frameLayer) parseFrameHeader() (uint, error) {
	if (w.rxBuf[1] & 0xf0) != 0xa0 {
		return 0, fmt.Errorf("invalid starting packet: %X", w.rxBuf[1])
	}
	length := ((uint(w.rxBuf[1]) & 7) << 8) | uint(w.rxBuf[2])
	if length < 7 {
		return 0, fmt.Errorf("invalid packet length, too short")
	}
	return length - 2, nil
}

// readOneFrame reads a single HDLC frame. first distinguishes the first
// frame of a batch, which must resynchronize on the opening 0x7e flag,
// from later frames, which start right where the previous one ended.
func (w *frameLayer) readOneFrame(first bool) (fr frame, err error) {
	length := uint(0)
	if first {
		byteBudget := 0
		for {
			_, err = io.ReadFull(w.transport, w.rxBuf[:3])
			if err != nil {
				return
			}
			if w.rxBuf[0] == 0x7e { // have minimal header already
				length, err = w.parseFrameHeader()
				if err != nil {
					return
				}
				break
			}
			if w.rxBuf[1] == 0x7e {
				w.rxBuf[1] = w.rxBuf[2]
				_, err = io.ReadFull(w.transport, w.rxBuf[2:3]) // read one remaining header byte
				if err != nil {
					return
				}
				length, err = w.parseFrameHeader()
				if err != nil {
					return
				}
				break
			}
			if w.rxBuf[2] == 0x7e {
				_, err = io.ReadFull(w.transport, w.rxBuf[1:3]) // read one remaining header byte
				if err != nil {
					return
				}
				length, err = w.parseFrameHeader()
				if err != nil {
					return
				}
				break
			}
			byteBudget += 3
			if byteBudget > maxBytesBefore7e {
				return fr, fmt.Errorf("too many bytes before any 0x7e found")
			}
		}
	} else { // no searching, there has to be either 0x7e or 0xa0
		_, err = io.ReadFull(w.transport, w.rxBuf[1:3])
		if err != nil {
			return
		}
		if (w.rxBuf[1] & 0xf0) == 0xa0 {
			length, err = w.parseFrameHeader()
			if err != nil {
				return
			}
		} else if w.rxBuf[1] == 0x7e {
			w.rxBuf[1] = w.rxBuf[2]
			_, err = io.ReadFull(w.transport, w.rxBuf[2:3]) // read one remaining header byte
			if err != nil {
				return
			}
			length, err = w.parseFrameHeader()
			if err != nil {
				return
			}
		}
	}
	// the first frame in a batch reuses rxBuf directly to avoid an allocation;
	// later frames in the same batch get their own buffer since rxBuf is
	// already spoken for by the one being decoded.
	var frameBuf []byte
	if first {
		frameBuf = w.rxBuf[1 : length+4]
	} else {
		frameBuf = make([]byte, length+3)
	}
	_, err = io.ReadFull(w.transport, frameBuf[2:])
	if err != nil {
		return
	}
	if frameBuf[length+2] != 0x7e {
		return fr, fmt.Errorf("there is no closing tag found")
	}
	frameBuf[0] = w.rxBuf[1] // min header
	frameBuf[1] = w.rxBuf[2]
	return w.decodeFrame(frameBuf[:length+2])
}

func (w *frameLayer) decodeFrame(raw []byte) (fr frame, err error) {
	if len(raw) < 6 {
		return fr, fmt.Errorf("too short packet")
	}

	// check addresses
	if raw[2]&1 == 0 {
		return fr, fmt.Errorf("invalid ending bit of client address")
	}
	if raw[2]>>1 != w.clientAddr {
		return fr, fmt.Errorf("invalid client address")
	}
	offset := 0
	var upper uint16
	var lower uint16
	if raw[3]&1 != 0 { // single address
		upper = uint16(raw[3] >> 1)
		lower = 0
		offset = 1
	} else if raw[4]&1 != 0 { // each single byte
		upper = uint16(raw[3] >> 1)
		lower = uint16(raw[4] >> 1)
		offset = 2
	} else if raw[5]&1 != 0 {
		return fr, fmt.Errorf("invalid address field, premature termination bit")
	} else if len(raw) < 7 {
		return fr, fmt.Errorf("too short packet for whole address")
	} else if raw[6]&1 == 0 {
		return fr, fmt.Errorf("there is no termination bit in address field")
	} else {
		upper = uint16(raw[3]>>1)<<7 | uint16(raw[4]>>1)
		lower = uint16(raw[5]>>1)<<7 | uint16(raw[6]>>1)
		offset = 4
	}

	if upper != w.upperAddr {
		return fr, fmt.Errorf("mismatch in logical address")
	}
	if lower != w.lowerAddr {
		return fr, fmt.Errorf("mismatch in physical address")
	}

	if len(raw) < offset+6 {
		return fr, fmt.Errorf("too short packet")
	}

	offset += 3
	fr.segmented = raw[0]&8 != 0
	fr.control = raw[offset]
	// offset now points at the control byte; classify by remaining length
	rem := len(raw) - offset
	switch {
	case rem < 3:
		return fr, fmt.Errorf("too short packet")
	case rem == 3: // just frameCRC and no info
		// check FCS
		frameCRC := crc16(raw[:len(raw)-2])
		if frameCRC != uint16(raw[len(raw)-2])|(uint16(raw[len(raw)-1])<<8) {
			return fr, fmt.Errorf("frameCRC mismatch")
		}
		return fr, nil
	case rem == 4:
		return fr, fmt.Errorf("invalid packet length")
	default: // having some info
		headerCRC, frameCRC := crc16Range(raw[:len(raw)-2], offset+1)
		if headerCRC != uint16(raw[offset+1])|(uint16(raw[offset+2])<<8) {
			return fr, fmt.Errorf("headerCRC mismatch")
		}
		if frameCRC != uint16(raw[len(raw)-2])|(uint16(raw[len(raw)-1])<<8) {
			return fr, fmt.Errorf("frameCRC mismatch")
		}
		fr.info = raw[offset+3 : len(raw)-2] // aliases raw; the trailing CRC bytes stay reachable but unused
	}

	return fr, nil
}

func (w *frameLayer) addressFieldLength() int {
	if w.upperAddr <= 0x7f {
		if w.lowerAddr == 0 {
			return 1
		} else {
			if w.lowerAddr <= 0x7f {
				return 2
			}
		}
	}
	return 4
}

func crc16Write(d []byte, headerLen int) uint16 {
	c := uint16(0xffff)
	for i := 0; i < headerLen; i++ {
		c = crcTable[byte(c)^d[i]] ^ (c >> 8)
	}
	headerCRC := c ^ 0xffff
	d[headerLen] = byte(headerCRC)
	d[headerLen+1] = byte(headerCRC >> 8)

	for i := headerLen; i < len(d); i++ {
		c = crcTable[byte(c)^d[i]] ^ (c >> 8)
	}
	return c ^ 0xffff
}

func (w *frameLayer) writeFrame(packet frame, final bool) (err error) {
	if !w.writeTurn {
		return fmt.Errorf("cannot write right now")
	}

	addrlen := w.addressFieldLength()

	var fr []byte
	switch addrlen {
	case 1:
		w.txBuf[6] = byte(w.upperAddr<<1) | 1
		fr = w.txBuf[3:]
	case 2:
		w.txBuf[5] = byte(w.upperAddr << 1)
		w.txBuf[6] = byte(w.lowerAddr<<1) | 1
		fr = w.txBuf[2:]
	case 4:
		w.txBuf[3] = byte(w.upperAddr>>7) << 1
		w.txBuf[4] = byte(w.upperAddr << 1)
		w.txBuf[5] = byte(w.lowerAddr>>7) << 1
		w.txBuf[6] = byte(w.lowerAddr<<1) | 1
		fr = w.txBuf[:]
	default:
		return fmt.Errorf("unreachable address length %d", addrlen)
	}

	fr[0] = 0x7e
	offset := 3 + addrlen // address + header + 0x7e
	fr[offset] = byte(w.clientAddr<<1) | 1
	offset++
	fr[offset] = packet.control
	if final {
		fr[offset] |= 0x10
	}
	offset++
	ilen := packet.inlinelength
	pcopy := false
	if ilen == 0 {
		ilen = len(packet.info) // nil info yields ilen 0 too, handled below
		pcopy = true
	}
	if ilen > 0 {
		leni := offset + 3 + ilen
		if leni > 0x7ff {
			return fmt.Errorf("too long packet to encode")
		}
		fr[1] = 0xa0 | byte(leni>>8)
		if packet.segmented {
			fr[1] |= 8
		}
		fr[2] = byte(leni)
		offset += 2
		if pcopy {
			copy(fr[offset:], packet.info)
		}
		offset += ilen
		frameCRC := crc16Write(fr[1:offset], offset-3-ilen)
		fr[offset] = byte(frameCRC)
		offset++
		fr[offset] = byte(frameCRC >> 8)
		offset++
	} else { // only single crc here (FCS)
		fr[1] = 0xa0
		if packet.segmented {
			fr[1] |= 8
		}
		fr[2] = byte(offset + 1)
		frameCRC := crc16(fr[1:offset])
		fr[offset] = byte(frameCRC)
		offset++
		fr[offset] = byte(frameCRC >> 8)
		offset++
	}
	fr[offset] = 0x7e
	offset++

	w.writeTurn = !final // no windowing yet
	return w.transport.Write(fr[:offset])
}
