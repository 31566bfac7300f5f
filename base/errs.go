package base

import "errors"

// Sentinel transport errors, grounded on the teacher's base/errs.go.
var (
	ErrNothingToRead        = errors.New("nothing to read")
	ErrNotOpened            = errors.New("connection is not open")
	ErrCommunicationTimeout = errors.New("communication timeout")
)
