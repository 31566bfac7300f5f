// Package dlmserrors implements the typed error taxonomy the core
// surfaces to callers. Every distinct failure mode described in the
// protocol's error handling design gets its own Kind rather than being
// distinguished by message text, so callers can switch on it instead of
// pattern-matching strings.
package dlmserrors

import (
	"errors"
	"fmt"

	"github.com/nilsby/godlms/base"
)

type Kind int

const (
	Malformed Kind = iota
	UnknownAPDU
	UnknownTag
	DecryptionError
	AuthenticationFailed
	AssociationRefused
	ProtocolError
	PreconditionFailed
	ServiceError
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Malformed:
		return "MALFORMED"
	case UnknownAPDU:
		return "UNKNOWN_APDU"
	case UnknownTag:
		return "UNKNOWN_TAG"
	case DecryptionError:
		return "DECRYPTION_ERROR"
	case AuthenticationFailed:
		return "AUTHENTICATION_FAILED"
	case AssociationRefused:
		return "ASSOCIATION_REFUSED"
	case ProtocolError:
		return "PROTOCOL_ERROR"
	case PreconditionFailed:
		return "PRECONDITION_FAILED"
	case ServiceError:
		return "SERVICE_ERROR"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// E is the single error type backing every Kind. ServiceError additionally
// sets Result to the server-reported access-result enum.
type E struct {
	Kind   Kind
	Result base.AccessResultTag // only meaningful when Kind == ServiceError
	msg    string
	cause  error
}

func (e *E) Error() string {
	if e.Kind == ServiceError {
		if e.msg != "" {
			return fmt.Sprintf("%s(%s): %s", e.Kind, e.Result, e.msg)
		}
		return fmt.Sprintf("%s(%s)", e.Kind, e.Result)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	if e.msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	return e.Kind.String()
}

func (e *E) Unwrap() error { return e.cause }

// Is lets errors.Is(err, dlmserrors.New(Kind, "")) match on Kind alone.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *E {
	return &E{Kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error) *E {
	return &E{Kind: kind, cause: err}
}

// NewServiceError builds a ServiceError carrying the server-reported
// access-result code, grounded on the teacher's DlmsError/NewDlmsError.
func NewServiceError(result base.AccessResultTag) *E {
	return &E{Kind: ServiceError, Result: result}
}

// Of returns the Kind of err if it (or something it wraps) is an *E,
// and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var e *E
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
