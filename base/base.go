// Package base holds the constants, enums and minimal collaborator
// contracts shared by every other package in this module: the APDU tag
// registry, conformance bits, association result codes and the Stream
// interface the transport layer must satisfy.
package base

import (
	"time"

	"go.uber.org/zap"
)

// Stream is the transport contract the core consumes (HDLC engine,
// Wrapper, Connection FSM). Implementations are blocking/synchronous:
// Read/Write suspend the caller until data is available, the deadline
// elapses, or the underlying link fails.
type Stream interface {
	Open() error
	Close() error
	Disconnect() error // hard end of connection, no orderly unassociation
	IsOpen() bool
	SetLogger(logger *zap.SugaredLogger)
	SetDeadline(t time.Time)     // zero time means no deadline
	SetMaxReceivedBytes(m int64) // every call resets the running counter
	Read(p []byte) (n int, err error)
	Write(src []byte) error // always writes everything or returns an error
}
