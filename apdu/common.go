package apdu

import (
	"bytes"
	"fmt"
	"io"

	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
	"github.com/nilsby/godlms/obis"
)

// AttributeRef is the wire form of the COSEM attribute reference triple
// (spec.md §3): class id, OBIS instance and signed attribute index,
// grounded on dlmsal/dlmslnget.go: encodelncosemattr.
type AttributeRef struct {
	Class     uint16
	Instance  obis.Code
	Attribute int8
}

func encodeAttributeRef(dst *bytes.Buffer, a AttributeRef) {
	dst.WriteByte(byte(a.Class >> 8))
	dst.WriteByte(byte(a.Class))
	dst.Write(a.Instance.Bytes())
	dst.WriteByte(byte(a.Attribute))
}

func decodeAttributeRef(src *bytes.Reader) (AttributeRef, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(src, hdr[:]); err != nil {
		return AttributeRef{}, truncated("cosem attribute descriptor", err)
	}
	ob, err := obis.FromBytes(hdr[2:8])
	if err != nil {
		return AttributeRef{}, dlmserrors.Wrap(dlmserrors.Malformed, err)
	}
	return AttributeRef{
		Class:     uint16(hdr[0])<<8 | uint16(hdr[1]),
		Instance:  ob,
		Attribute: int8(hdr[8]),
	}, nil
}

// AccessSelection is the optional selective-access clause attached to a
// Get/Set/Action request item: a one-byte selector plus an arbitrary
// A-XDR parameter (typically a RangeDescriptor, spec.md §4.2.1).
type AccessSelection struct {
	Selector byte
	Value    axdr.Value
}

func encodeAccessSelection(dst *bytes.Buffer, a *AccessSelection) error {
	if a == nil {
		dst.WriteByte(0)
		return nil
	}
	dst.WriteByte(1)
	dst.WriteByte(a.Selector)
	return axdr.EncodeInto(dst, a.Value)
}

func decodeAccessSelection(src *bytes.Reader) (*AccessSelection, error) {
	present, err := src.ReadByte()
	if err != nil {
		return nil, truncated("access-selection flag", err)
	}
	if present == 0 {
		return nil, nil
	}
	sel, err := src.ReadByte()
	if err != nil {
		return nil, truncated("access-selector", err)
	}
	v, err := axdr.Decode(src)
	if err != nil {
		return nil, err
	}
	return &AccessSelection{Selector: sel, Value: v}, nil
}

// AccessResult is a single get-data-result / action-result: either a
// decoded data value or a server-reported DataAccessResult error
// (spec.md §7 SERVICE_ERROR), grounded on dlmsal/dlmslnget.go's inline
// NewDlmsDataError branches.
type AccessResult struct {
	Data  axdr.Value
	Error *base.AccessResultTag
}

func encodeAccessResult(dst *bytes.Buffer, r AccessResult) error {
	if r.Error != nil {
		dst.WriteByte(1)
		dst.WriteByte(byte(*r.Error))
		return nil
	}
	dst.WriteByte(0)
	return axdr.EncodeInto(dst, r.Data)
}

func decodeAccessResult(src *bytes.Reader) (AccessResult, error) {
	choice, err := src.ReadByte()
	if err != nil {
		return AccessResult{}, truncated("data-access-result choice", err)
	}
	if choice != 0 {
		b, err := src.ReadByte()
		if err != nil {
			return AccessResult{}, truncated("data-access-result error code", err)
		}
		tag := base.AccessResultTag(b)
		return AccessResult{Error: &tag}, nil
	}
	v, err := axdr.Decode(src)
	if err != nil {
		return AccessResult{}, err
	}
	return AccessResult{Data: v}, nil
}

func truncated(what string, err error) error {
	return dlmserrors.Newf(dlmserrors.Malformed, "truncated %s: %v", what, err)
}

func unexpectedTag(context string, got byte) error {
	return dlmserrors.Newf(dlmserrors.UnknownAPDU, "%s: unexpected tag 0x%02x", context, got)
}

func readByte(src *bytes.Reader, what string) (byte, error) {
	b, err := src.ReadByte()
	if err != nil {
		return 0, truncated(what, err)
	}
	return b, nil
}

func readN(src *bytes.Reader, n int, what string) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, truncated(what, err)
	}
	return buf, nil
}

func readUint32(src *bytes.Reader, what string) (uint32, error) {
	b, err := readN(src, 4, what)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func writeUint32(dst *bytes.Buffer, v uint32) {
	dst.WriteByte(byte(v >> 24))
	dst.WriteByte(byte(v >> 16))
	dst.WriteByte(byte(v >> 8))
	dst.WriteByte(byte(v))
}

func fmtTag(tag byte) string {
	return fmt.Sprintf("0x%02x", tag)
}
