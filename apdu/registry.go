package apdu

import (
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
)

// Kind identifies which concrete APDU variant a Decode call produced.
type Kind int

const (
	KindUnknown Kind = iota
	KindAARE
	KindRLRE
	KindGetResponse
	KindSetResponse
	KindActionResponse
	KindDataNotification
	KindConfirmedServiceError
	KindExceptionResponse
	KindCiphered
)

// Decoded is the tagged-union result of Decode: exactly one of the
// typed fields is populated, matching Kind.
type Decoded struct {
	Kind                  Kind
	AARE                  *AARE
	GetResponse           *GetResponse
	SetResponse           *SetResponse
	ActionResponse        *ActionResponse
	DataNotification      *DataNotification
	ConfirmedServiceError *ConfirmedServiceError
	ExceptionResponse     *ExceptionResponse
	Ciphered              *CipheredEnvelope
}

// Decode dispatches on src's leading CosemTag byte, implementing the
// APDU registry of spec.md §4.2. Unrecognised or not-yet-applicable
// tags (RLRQ, AARQ, and every request variant, which this client never
// receives) yield dlmserrors.UnknownAPDU.
func Decode(src []byte) (Decoded, error) {
	if len(src) == 0 {
		return Decoded{}, dlmserrors.New(dlmserrors.Malformed, "empty APDU")
	}
	tag := base.CosemTag(src[0])
	switch tag {
	case base.TagAARE:
		v, err := DecodeAARE(src)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: KindAARE, AARE: &v}, nil
	case base.TagRLRE:
		if err := DecodeRLRE(src); err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: KindRLRE}, nil
	case base.TagGetResponse:
		v, err := DecodeGetResponse(src)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: KindGetResponse, GetResponse: &v}, nil
	case base.TagSetResponse:
		v, err := DecodeSetResponse(src)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: KindSetResponse, SetResponse: &v}, nil
	case base.TagActionResponse:
		v, err := DecodeActionResponse(src)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: KindActionResponse, ActionResponse: &v}, nil
	case base.TagDataNotification:
		v, err := DecodeDataNotification(src)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: KindDataNotification, DataNotification: &v}, nil
	case base.TagConfirmedServiceError:
		_, cse, err := DecodeInitiateResponse(src)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: KindConfirmedServiceError, ConfirmedServiceError: cse}, nil
	case base.TagExceptionResponse:
		e := DecodeExceptionResponse(src[1:])
		return Decoded{Kind: KindExceptionResponse, ExceptionResponse: &e}, nil
	case base.TagGloGetResponse, base.TagGloSetResponse, base.TagGloActionResponse,
		base.TagGloReadResponse, base.TagGloWriteResponse, base.TagGloInitiateResponse, base.TagGloConfirmedServiceError,
		base.TagDedGetResponse, base.TagDedSetResponse, base.TagDedActionResponse,
		base.TagDedReadResponse, base.TagDedWriteResponse,
		base.TagGeneralGloCiphering, base.TagGeneralDedCiphering:
		v, err := DecodeCipheredEnvelope(src)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: KindCiphered, Ciphered: &v}, nil
	default:
		return Decoded{}, dlmserrors.Newf(dlmserrors.UnknownAPDU, "unrecognised APDU tag 0x%02x", src[0])
	}
}
