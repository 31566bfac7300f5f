package apdu

import (
	"bytes"

	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
)

// CipheredEnvelope is the wire framing that carries a ciphered APDU
// (spec.md §4.3): a leading CosemTag identifying glo/ded/general
// ciphering, an optional system title (general-* variants only), the
// security-control byte, the 4-byte invocation counter, and the
// ciphertext-plus-tag produced by the security package. apdu only
// frames these bytes; it never touches the key material, grounded on
// dlmsal/dlmsciphering.go: encryptpacket/decryptpacket and
// dlmsal/dlmstransport.go: sendpdu/recvcipheredpdu.
type CipheredEnvelope struct {
	Tag         base.CosemTag
	SystemTitle []byte // non-nil only for TagGeneralGloCiphering/TagGeneralDedCiphering
	Security    byte
	FrameCounter uint32
	Ciphertext  []byte // security-control-less ciphertext, tag appended by the cipher
}

// IsGeneral reports whether tag carries an inline system title.
func IsGeneral(tag base.CosemTag) bool {
	return tag == base.TagGeneralGloCiphering || tag == base.TagGeneralDedCiphering
}

// EncodeCipheredEnvelope serialises e.
func EncodeCipheredEnvelope(e CipheredEnvelope) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(byte(e.Tag))
	if IsGeneral(e.Tag) {
		if len(e.SystemTitle) != 8 {
			return nil, dlmserrors.New(dlmserrors.Malformed, "general ciphering requires an 8-byte system title")
		}
		out.WriteByte(8)
		out.Write(e.SystemTitle)
	}
	EncodeLength(&out, uint(5+len(e.Ciphertext)))
	out.WriteByte(e.Security)
	writeUint32(&out, e.FrameCounter)
	out.Write(e.Ciphertext)
	return out.Bytes(), nil
}

// DecodeCipheredEnvelope parses src, which must start with one of the
// Glo*/Ded*/General* CosemTag bytes.
func DecodeCipheredEnvelope(src []byte) (CipheredEnvelope, error) {
	if len(src) < 6 {
		return CipheredEnvelope{}, dlmserrors.New(dlmserrors.Malformed, "truncated ciphered envelope")
	}
	var e CipheredEnvelope
	e.Tag = base.CosemTag(src[0])
	r := bytes.NewReader(src[1:])

	if IsGeneral(e.Tag) {
		sl, _, err := DecodeLength(r)
		if err != nil {
			return CipheredEnvelope{}, truncated("ciphered envelope system-title length", err)
		}
		e.SystemTitle, err = readN(r, int(sl), "ciphered envelope system title")
		if err != nil {
			return CipheredEnvelope{}, err
		}
	}

	n, _, err := DecodeLength(r)
	if err != nil {
		return CipheredEnvelope{}, truncated("ciphered envelope length", err)
	}
	if n < 5 {
		return CipheredEnvelope{}, dlmserrors.New(dlmserrors.Malformed, "ciphered envelope shorter than SC+FC")
	}
	body, err := readN(r, int(n), "ciphered envelope body")
	if err != nil {
		return CipheredEnvelope{}, err
	}
	e.Security = body[0]
	e.FrameCounter = uint32(body[1])<<24 | uint32(body[2])<<16 | uint32(body[3])<<8 | uint32(body[4])
	e.Ciphertext = body[5:]
	return e, nil
}

// UnderlyingRequestTag maps a plaintext request's CosemTag to the
// matching glo/ded wire tag, grounded on dlmsal/dlmstransport.go:
// sendpdu's tag-selection switch.
func UnderlyingRequestTag(plain base.CosemTag, dedicated bool) (base.CosemTag, error) {
	if dedicated {
		switch plain {
		case base.TagGetRequest:
			return base.TagDedGetRequest, nil
		case base.TagSetRequest:
			return base.TagDedSetRequest, nil
		case base.TagActionRequest:
			return base.TagDedActionRequest, nil
		case base.TagReadRequest:
			return base.TagDedReadRequest, nil
		case base.TagWriteRequest:
			return base.TagDedWriteRequest, nil
		}
	} else {
		switch plain {
		case base.TagGetRequest:
			return base.TagGloGetRequest, nil
		case base.TagSetRequest:
			return base.TagGloSetRequest, nil
		case base.TagActionRequest:
			return base.TagGloActionRequest, nil
		case base.TagReadRequest:
			return base.TagGloReadRequest, nil
		case base.TagWriteRequest:
			return base.TagGloWriteRequest, nil
		}
	}
	return 0, dlmserrors.Newf(dlmserrors.UnknownTag, "no ciphered variant for tag 0x%02x", byte(plain))
}
