package apdu

import (
	"bytes"
	"encoding/binary"

	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
)

// applicationContextOID is the fixed OID body for the DLMS UA
// application-context object identifier (2.16.756.5.8.1.x), grounded on
// dlmsal/aarq.go: putappctxname.
var applicationContextOID = []byte{0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01}

// mechanismNameOID is the fixed OID body for the DLMS UA authentication
// mechanism-name object identifier (2.16.756.5.8.2.x).
var mechanismNameOID = []byte{0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x02}

// AARQ is the Application Association Request of spec.md §3/§4.2,
// grounded on dlmsal/aarq.go: encodeaarq/putappctxname/putmechname/
// putsecvalues/putsystitle/createxdlms.
type AARQ struct {
	ApplicationContext base.ApplicationContext
	Authentication     base.Authentication
	// ClientSystemTitle is only sent when Authentication is HighGmac
	// (the calling-AP-title field carries the client's system title so
	// the server can reconstruct the GMAC nonce).
	ClientSystemTitle []byte
	// AuthenticationValue is the calling-authentication-value: the Low
	// password, or the HLS-GMAC client-to-server challenge CtoS.
	AuthenticationValue []byte
	// UserInformation is the already-assembled xDLMS initiate-request
	// content (plaintext tag 0x01, or glo-initiate-request tag 0x21
	// already ciphered by the security package) — apdu does not know
	// about ciphering, it only frames whatever bytes it is given.
	UserInformation []byte
}

// EncodeAARQ serialises a, returning both the full wire form and a
// redacted copy with the authentication-value zeroed so callers can log
// the redacted form without exposing a password or challenge, grounded
// on dlmsal/aarq.go: encodeaarq's (out, outnosec) pair.
func EncodeAARQ(a AARQ) (full []byte, redacted []byte, err error) {
	var content bytes.Buffer

	content.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName)
	content.Write([]byte{0x09})
	content.Write(applicationContextOID)
	content.WriteByte(byte(a.ApplicationContext))

	if a.Authentication == base.AuthenticationHighGmac && len(a.ClientSystemTitle) > 0 {
		EncodeTag2(&content, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeCallingAPTitle, 0x04, a.ClientSystemTitle)
	}

	if a.Authentication != base.AuthenticationNone {
		content.WriteByte(base.BERTypeContext | base.PduTypeSenderAcseRequirements)
		content.Write([]byte{0x07, 0x80})

		content.WriteByte(base.BERTypeContext | base.PduTypeMechanismName)
		content.Write(mechanismNameOID)
		content.WriteByte(byte(a.Authentication))
	}

	secStart := content.Len()
	if a.Authentication != base.AuthenticationNone {
		EncodeTag2(&content, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeCallingAuthenticationValue, 0x80, a.AuthenticationValue)
	}
	secEnd := content.Len()

	EncodeTag2(&content, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeUserInformation, 0x04, a.UserInformation)

	var out bytes.Buffer
	EncodeTag(&out, byte(base.TagAARQ), content.Bytes())
	full = out.Bytes()

	redacted = append([]byte(nil), full...)
	prefixLen := len(full) - content.Len()
	for i := prefixLen + secStart; i < prefixLen+secEnd; i++ {
		redacted[i] = 0
	}
	return full, redacted, nil
}

// InitiateRequest is the plaintext xDLMS initiate-request body (the
// content of AARQ's user-information, before any ciphering is applied).
type InitiateRequest struct {
	DedicatedKey     []byte // nil unless a dedicated key is proposed
	ConformanceBlock base.Conformance
	MaxPduRecvSize   uint16
}

// EncodeInitiateRequest builds the plaintext initiate-request bytes
// (leading tag 0x01), grounded on dlmsal/aarq.go: createxdlms.
func EncodeInitiateRequest(r InitiateRequest) []byte {
	var out bytes.Buffer
	out.WriteByte(1) // InitiateRequest tag
	if len(r.DedicatedKey) > 0 {
		out.WriteByte(1)
		out.WriteByte(byte(len(r.DedicatedKey)))
		out.Write(r.DedicatedKey)
	} else {
		out.WriteByte(0)
	}
	out.WriteByte(0) // quality-of-service not proposed
	out.WriteByte(base.DlmsVersion)
	out.Write([]byte{0x5f, 0x1f, 0x04})
	out.WriteByte(0) // conformance bit-string: 0 unused bits
	var conf [4]byte
	binary.BigEndian.PutUint32(conf[:], uint32(r.ConformanceBlock))
	out.Write(conf[1:])
	out.WriteByte(byte(r.MaxPduRecvSize >> 8))
	out.WriteByte(byte(r.MaxPduRecvSize))
	return out.Bytes()
}

// AARE is the Application Association Response, grounded on
// dlmsal/aarq.go: decodeaare + the per-tag parse* helpers, and
// dlmsal/dlmsal.go's tag-dispatch switch in Open.
type AARE struct {
	ApplicationContext base.ApplicationContext
	Result              base.AssociationResult
	Diagnostic          base.SourceDiagnostic
	ServerSystemTitle   []byte // responding AP title, present under HighGmac
	StoC                []byte // responder's ACSE auth value: server-to-client challenge
	// UserInformation is the raw (possibly still-ciphered) xDLMS
	// response content; the caller deciphers and decodes it with
	// DecodeInitiateResponse.
	UserInformation []byte
}

// DecodeAARE parses the tag-led AARE buffer (src[0] must be TagAARE).
func DecodeAARE(src []byte) (AARE, error) {
	if len(src) < 2 || src[0] != byte(base.TagAARE) {
		return AARE{}, unexpectedTag("AARE", src[0])
	}
	_, _, body, err := DecodeTag(src)
	if err != nil {
		return AARE{}, err
	}
	elems, err := DecodeElements(body)
	if err != nil {
		return AARE{}, err
	}

	var a AARE
	for _, e := range elems {
		switch e.Tag {
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName: // 0xa1
			if len(e.Data) != 9 || !bytes.Equal(e.Data[:8], applicationContextOID) {
				return AARE{}, dlmserrors.New(dlmserrors.Malformed, "invalid application-context-name element")
			}
			a.ApplicationContext = base.ApplicationContext(e.Data[8])
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPTitle: // 0xa2: result
			if len(e.Data) != 3 {
				return AARE{}, dlmserrors.New(dlmserrors.Malformed, "invalid association-result element")
			}
			a.Result = base.AssociationResult(e.Data[2])
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAEQualifier: // 0xa3: source diagnostic
			if len(e.Data) != 5 {
				return AARE{}, dlmserrors.New(dlmserrors.Malformed, "invalid source-diagnostic element")
			}
			a.Diagnostic = base.SourceDiagnostic(e.Data[4])
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPInvocationID: // 0xa4: responding AP title
			if len(e.Data) < 2 || e.Data[0] != 0x04 {
				return AARE{}, dlmserrors.New(dlmserrors.Malformed, "invalid responding-ap-title element")
			}
			a.ServerSystemTitle = append([]byte(nil), e.Data[2:]...)
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeSenderAcseRequirements: // 0xaa: StoC
			if len(e.Data) < 2 || e.Data[0] != 0x80 {
				return AARE{}, dlmserrors.New(dlmserrors.Malformed, "invalid responder-acse-requirements element")
			}
			a.StoC = append([]byte(nil), e.Data[2:]...)
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeUserInformation: // 0xbe
			if len(e.Data) < 2 || e.Data[0] != 0x04 {
				return AARE{}, dlmserrors.New(dlmserrors.Malformed, "invalid user-information element")
			}
			a.UserInformation = append([]byte(nil), e.Data[2:]...)
		}
	}
	return a, nil
}

// InitiateResponse is the plaintext xDLMS initiate-response body.
type InitiateResponse struct {
	NegotiatedConformance   base.Conformance
	ServerMaxReceivePduSize uint16
	VAAddress               int16
}

// ConfirmedServiceError mirrors spec.md §7 SERVICE_ERROR for the
// association phase.
type ConfirmedServiceError struct {
	Service base.AccessResultTag
}

// DecodeInitiateResponse decodes the plaintext (post-decipher) xDLMS
// response body, grounded on dlmsal/aarq.go: decodeInitiateResponse. It
// returns (resp, nil, nil) on success or (nil, &cse, nil) on a confirmed
// service error.
func DecodeInitiateResponse(src []byte) (*InitiateResponse, *ConfirmedServiceError, error) {
	if len(src) == 0 {
		return nil, nil, dlmserrors.New(dlmserrors.Malformed, "empty initiate-response")
	}
	switch src[0] {
	case byte(base.TagInitiateResponse):
		body := src[1:]
		if len(body) >= 1 && body[0] == 0x01 {
			body = body[2:]
		} else if len(body) >= 1 {
			body = body[1:]
		}
		if len(body) < 12 {
			return nil, nil, dlmserrors.New(dlmserrors.Malformed, "initiate-response too short")
		}
		if body[0] != base.DlmsVersion {
			return nil, nil, dlmserrors.New(dlmserrors.Malformed, "unexpected dlms version")
		}
		if !bytes.Equal(body[1:5], []byte{0x5f, 0x1f, 0x04, 0x00}) {
			return nil, nil, dlmserrors.New(dlmserrors.Malformed, "invalid initiate-response content")
		}
		conf := binary.BigEndian.Uint32(body[4:8])
		pdu := binary.BigEndian.Uint16(body[8:10])
		vaa := int16(binary.BigEndian.Uint16(body[10:12]))
		return &InitiateResponse{NegotiatedConformance: base.Conformance(conf), ServerMaxReceivePduSize: pdu, VAAddress: vaa}, nil, nil
	case byte(base.TagConfirmedServiceError):
		if len(src) < 2 {
			return nil, nil, dlmserrors.New(dlmserrors.Malformed, "confirmed-service-error too short")
		}
		return nil, &ConfirmedServiceError{Service: base.AccessResultTag(src[len(src)-1])}, nil
	default:
		return nil, nil, dlmserrors.Newf(dlmserrors.UnknownTag, "unexpected initiate-response tag %d", src[0])
	}
}
