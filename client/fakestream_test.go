package client

import (
	"io"
	"time"

	"go.uber.org/zap"
)

// fakeStream is a loopback base.Stream double. Each Write enqueues the
// request and Read drains the next pre-programmed response (or invokes
// a responder callback to build one on the fly), returning io.EOF once
// the response is exhausted, matching the wrapper's message-boundary
// contract that Connection.readMessage relies on.
type fakeStream struct {
	open      bool
	sent      [][]byte
	responses [][]byte
	responder func(req []byte) []byte

	pending []byte
	pos     int
}

func (f *fakeStream) Open() error  { f.open = true; return nil }
func (f *fakeStream) Close() error { f.open = false; return nil }
func (f *fakeStream) Disconnect() error {
	f.open = false
	return nil
}
func (f *fakeStream) IsOpen() bool                     { return f.open }
func (f *fakeStream) SetLogger(*zap.SugaredLogger)     {}
func (f *fakeStream) SetDeadline(time.Time)            {}
func (f *fakeStream) SetMaxReceivedBytes(int64)        {}

func (f *fakeStream) Write(src []byte) error {
	cp := append([]byte(nil), src...)
	f.sent = append(f.sent, cp)

	if f.responder != nil {
		f.pending = f.responder(cp)
	} else if len(f.responses) > 0 {
		f.pending = f.responses[0]
		f.responses = f.responses[1:]
	} else {
		f.pending = nil
	}
	f.pos = 0
	return nil
}

func (f *fakeStream) Read(p []byte) (int, error) {
	if f.pos >= len(f.pending) {
		return 0, io.EOF
	}
	n := copy(p, f.pending[f.pos:])
	f.pos += n
	return n, nil
}
