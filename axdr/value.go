package axdr

import (
	"fmt"

	"github.com/nilsby/godlms/base"
)

// Tag is the single leading byte of every A-XDR data element (spec.md §3).
type Tag uint16

const (
	TagNull               Tag = 0
	TagArray              Tag = 1
	TagStructure          Tag = 2
	TagBoolean            Tag = 3
	TagBitString          Tag = 4
	TagDoubleLong         Tag = 5
	TagDoubleLongUnsigned Tag = 6
	TagFloatingPoint      Tag = 7
	TagOctetString        Tag = 9
	TagVisibleString      Tag = 10
	TagUTF8String         Tag = 12
	TagBCD                Tag = 13
	TagInteger            Tag = 15
	TagLong               Tag = 16
	TagUnsigned           Tag = 17
	TagLongUnsigned       Tag = 18
	TagCompactArray       Tag = 19
	TagLong64             Tag = 20
	TagLong64Unsigned     Tag = 21
	TagEnum               Tag = 22
	TagFloat32            Tag = 23
	TagFloat64            Tag = 24
	TagDateTime           Tag = 25
	TagDate               Tag = 26
	TagTime               Tag = 27
	TagDontCare           Tag = 255
	// TagError is not part of the DLMS wire grammar: it lets a decoded
	// tree carry an embedded access-result error inline (e.g. inside an
	// exception-response body) without a separate error-union type.
	TagError Tag = 0x1000
)

// Value is the recursive tagged value of spec.md §3. Value.Value holds
// the Go-native payload for the tag: bool, int8/16/32/64, uint8/16/32/64,
// float32/64, []byte (octet_string), string (visible/utf8 string),
// int8 (bcd), uint8 (enum), []bool (bit_string), Date, Time, DateTime,
// []Value (array/structure), CompactArray, or base.AccessResultTag (TagError).
type Value struct {
	Tag   Tag
	Value interface{}
}

// NewError wraps a server-reported access result as an inline data-tree
// error node, grounded on the teacher's NewDlmsDataError/DlmsError.
func NewError(result base.AccessResultTag) Value {
	return Value{Tag: TagError, Value: result}
}

func (v Value) String() string {
	switch v.Tag {
	case TagNull:
		return "null"
	case TagError:
		return fmt.Sprintf("error(%v)", v.Value)
	default:
		return fmt.Sprintf("%v", v.Value)
	}
}

// CompactArray is the compact_array compound of spec.md §3: a type
// descriptor (Tag, or Tags when Tag==TagStructure) shared by every
// element, followed by the elements themselves without per-element tags.
type CompactArray struct {
	Tag   Tag
	Tags  []Tag // element types when Tag == TagStructure
	Value []Value
}
