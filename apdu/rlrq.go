package apdu

import "github.com/nilsby/godlms/base"

// EncodeRLRQ builds a release-request. An empty RLRQ is a bare two-byte
// frame; otherwise it carries a BER-encoded release reason, grounded on
// dlmsal/rlrq.go: encodeRLRQ.
func EncodeRLRQ(empty bool, reason base.ReleaseRequestReason) []byte {
	if empty {
		return []byte{byte(base.TagRLRQ), 0}
	}
	return []byte{byte(base.TagRLRQ), 3, base.BERTypeContext, 1, byte(reason)}
}

// DecodeRLRE parses a release-response. Devices commonly reply with an
// empty body; when present, byte 2 (if the context tag is found) carries
// the release reason and is otherwise ignored, since the Connection FSM
// only needs to know that release was acknowledged.
func DecodeRLRE(src []byte) error {
	if len(src) < 2 || src[0] != byte(base.TagRLRE) {
		return unexpectedTag("RLRE", src[0])
	}
	return nil
}

// ExceptionResponse is the minimal two-field exception-response of
// spec.md §4.2 (state-error, service-error), grounded on
// dlmsal/dlmsexception.go: decodeException.
type ExceptionResponse struct {
	StateError   byte
	ServiceError byte
}

// DecodeExceptionResponse parses an exception-response body (src must
// not include the leading CosemTag byte).
func DecodeExceptionResponse(src []byte) ExceptionResponse {
	var e ExceptionResponse
	if len(src) > 0 {
		e.StateError = src[0]
	}
	if len(src) > 1 {
		e.ServiceError = src[1]
	}
	return e
}
