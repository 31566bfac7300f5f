// Package apdu implements the tagged-union APDU registry of spec.md §4.2:
// association (AARQ/AARE), release (RLRQ/RLRE), the exception response,
// and the encode-side helpers shared by the Get/Set/Action request
// variants built by the client package's Connection FSM.
package apdu

import (
	"bytes"
	"fmt"
	"io"
)

// codedLength returns how many bytes EncodeLength would emit for n,
// grounded on dlmsal/utils.go: codedlength.
func codedLength(n uint) int {
	switch {
	case n < 128:
		return 1
	case n < 256:
		return 2
	case n < 65536:
		return 3
	case n < 16777216:
		return 4
	default:
		return 5
	}
}

// EncodeLength appends the BER definite-length form of n to dst.
func EncodeLength(dst *bytes.Buffer, n uint) {
	switch {
	case n < 128:
		dst.WriteByte(byte(n))
	case n < 256:
		dst.WriteByte(0x81)
		dst.WriteByte(byte(n))
	case n < 65536:
		dst.WriteByte(0x82)
		dst.WriteByte(byte(n >> 8))
		dst.WriteByte(byte(n))
	case n < 16777216:
		dst.WriteByte(0x83)
		dst.WriteByte(byte(n >> 16))
		dst.WriteByte(byte(n >> 8))
		dst.WriteByte(byte(n))
	default:
		dst.WriteByte(0x84)
		dst.WriteByte(byte(n >> 24))
		dst.WriteByte(byte(n >> 16))
		dst.WriteByte(byte(n >> 8))
		dst.WriteByte(byte(n))
	}
}

// DecodeLength reads a BER definite-length prefix from src.
func DecodeLength(src io.Reader) (n uint, consumed int, err error) {
	var tmp [4]byte
	if _, err = io.ReadFull(src, tmp[:1]); err != nil {
		return 0, 0, err
	}
	b := tmp[0]
	if b < 128 {
		return uint(b), 1, nil
	}
	if b == 128 {
		return 0, 0, fmt.Errorf("apdu: unsupported indefinite length")
	}
	c := int(b & 0x7f)
	if c > 4 {
		return 0, 0, fmt.Errorf("apdu: length prefix too long")
	}
	if _, err = io.ReadFull(src, tmp[:c]); err != nil {
		return 0, 0, err
	}
	for i := 0; i < c; i++ {
		n = (n << 8) | uint(tmp[i])
	}
	return n, c + 1, nil
}

// EncodeTag writes tag, its BER length, and data.
func EncodeTag(dst *bytes.Buffer, tag byte, data []byte) {
	dst.WriteByte(tag)
	EncodeLength(dst, uint(len(data)))
	dst.Write(data)
}

// EncodeTag2 wraps data in an inner tag/length before wrapping the whole
// thing in the outer tag/length, grounded on dlmsal/utils.go: encodetag2.
func EncodeTag2(dst *bytes.Buffer, tag byte, innerTag byte, data []byte) {
	dst.WriteByte(tag)
	EncodeLength(dst, uint(len(data)+1+codedLength(uint(len(data)))))
	dst.WriteByte(innerTag)
	EncodeLength(dst, uint(len(data)))
	dst.Write(data)
}

// DecodeTag peels one tag/length/value element off the front of src,
// returning how many bytes it consumed.
func DecodeTag(src []byte) (tag byte, consumed int, data []byte, err error) {
	if len(src) < 2 {
		return 0, 0, nil, fmt.Errorf("apdu: no data available")
	}
	tag = src[0]
	n, c, err := DecodeLength(bytes.NewReader(src[1:]))
	if err != nil {
		return 0, 0, nil, err
	}
	if len(src) < c+1+int(n) {
		return 0, 0, nil, fmt.Errorf("apdu: truncated element")
	}
	return tag, c + 1 + int(n), src[1+c : 1+c+int(n)], nil
}

// Element is one decoded BER TLV from an AARQ/AARE content block.
type Element struct {
	Tag  byte
	Data []byte
}

// DecodeElements splits src into a flat sequence of top-level TLV
// elements, grounded on dlmsal/aarq.go: decodeaare (reused for AARQ
// content on the rare occasion a server needs to parse it back).
func DecodeElements(src []byte) ([]Element, error) {
	out := make([]Element, 0, 16)
	for len(src) > 0 {
		tag, c, data, err := DecodeTag(src)
		if err != nil {
			return nil, err
		}
		out = append(out, Element{Tag: tag, Data: data})
		src = src[c:]
	}
	return out, nil
}

// applicationContextPrefix is the fixed OID prefix for the DLMS UA
// application context object identifier (2.16.756.5.8.1.x).
var applicationContextPrefix = []byte{0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01}

// mechanismNamePrefix is the fixed OID prefix for the DLMS UA
// authentication mechanism name object identifier (2.16.756.5.8.2.x).
var mechanismNamePrefix = []byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x02}
