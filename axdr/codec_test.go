package axdr

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/nilsby/godlms/dlmserrors"
	"github.com/nilsby/godlms/obis"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	encoded, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode(%+v): %v", v, err)
	}
	got, err := Decode(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Decode(%x): %v", encoded, err)
	}
	return got
}

func TestRoundTripScalarTags(t *testing.T) {
	cases := []Value{
		{Tag: TagNull},
		{Tag: TagBoolean, Value: true},
		{Tag: TagBoolean, Value: false},
		{Tag: TagDoubleLong, Value: int32(-123456)},
		{Tag: TagDoubleLongUnsigned, Value: uint32(123456)},
		{Tag: TagFloatingPoint, Value: float32(3.5)},
		{Tag: TagOctetString, Value: []byte{0x01, 0x02, 0x03}},
		{Tag: TagVisibleString, Value: "hello"},
		{Tag: TagUTF8String, Value: "héllo"},
		{Tag: TagBCD, Value: int8(-42)},
		{Tag: TagInteger, Value: int8(-7)},
		{Tag: TagLong, Value: int16(-1000)},
		{Tag: TagUnsigned, Value: uint8(200)},
		{Tag: TagLongUnsigned, Value: uint16(60000)},
		{Tag: TagLong64, Value: int64(-1 << 40)},
		{Tag: TagLong64Unsigned, Value: uint64(1 << 40)},
		{Tag: TagEnum, Value: uint8(5)},
		{Tag: TagFloat32, Value: float32(1.25)},
		{Tag: TagFloat64, Value: float64(2.718281828)},
		{Tag: TagDate, Value: Date{Year: 2024, Month: 3, Day: 14, DayOfWeek: 4}},
		{Tag: TagTime, Value: Time{Hour: 23, Minute: 59, Second: 1, Hundredths: 50}},
		{Tag: TagDateTime, Value: DateTime{
			Date: Date{Year: 2024, Month: 3, Day: 14, DayOfWeek: 4},
			Time: Time{Hour: 12, Minute: 0, Second: 0, Hundredths: 0},
		}},
	}

	for _, want := range cases {
		got := roundTrip(t, want)
		if got.Tag != want.Tag {
			t.Errorf("tag %v: got tag %v", want.Tag, got.Tag)
			continue
		}
		if !reflect.DeepEqual(got.Value, want.Value) {
			t.Errorf("tag %v: got %#v, want %#v", want.Tag, got.Value, want.Value)
		}
	}
}

func TestRoundTripBitString(t *testing.T) {
	want := Value{Tag: TagBitString, Value: []bool{true, false, true, true, false}}
	got := roundTrip(t, want)
	if !reflect.DeepEqual(got.Value, want.Value) {
		t.Fatalf("got %v, want %v", got.Value, want.Value)
	}
}

func TestRoundTripArrayAndStructure(t *testing.T) {
	inner := Value{Tag: TagStructure, Value: []Value{
		{Tag: TagUnsigned, Value: uint8(1)},
		{Tag: TagOctetString, Value: []byte{0xaa, 0xbb}},
	}}
	want := Value{Tag: TagArray, Value: []Value{inner, inner}}
	got := roundTrip(t, want)
	if got.Tag != TagArray {
		t.Fatalf("got tag %v, want TagArray", got.Tag)
	}
	items, ok := got.Value.([]Value)
	if !ok || len(items) != 2 {
		t.Fatalf("got %#v, want 2-element array", got.Value)
	}
	for _, item := range items {
		fields, ok := item.Value.([]Value)
		if !ok || len(fields) != 2 {
			t.Fatalf("got %#v, want 2-field structure", item.Value)
		}
	}
}

func TestRoundTripOctetStringFromObisCode(t *testing.T) {
	code := obis.Code{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}
	encoded, err := Encode(Value{Tag: TagOctetString, Value: code})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gotBytes, ok := got.Value.([]byte)
	if !ok || !bytes.Equal(gotBytes, code.Bytes()) {
		t.Fatalf("got %v, want %v", got.Value, code.Bytes())
	}
}

func TestRoundTripCompactArrayOfScalars(t *testing.T) {
	want := Value{Tag: TagCompactArray, Value: CompactArray{
		Tag: TagLongUnsigned,
		Value: []Value{
			{Tag: TagLongUnsigned, Value: uint16(1)},
			{Tag: TagLongUnsigned, Value: uint16(2)},
			{Tag: TagLongUnsigned, Value: uint16(3)},
		},
	}}
	got := roundTrip(t, want)
	ca, ok := got.Value.(CompactArray)
	if !ok || len(ca.Value) != 3 {
		t.Fatalf("got %#v, want 3-element compact_array", got.Value)
	}
	for i, item := range ca.Value {
		want := uint16(i + 1)
		if item.Value != want {
			t.Errorf("element %d: got %v, want %v", i, item.Value, want)
		}
	}
}

func TestRoundTripCompactArrayOfStructures(t *testing.T) {
	want := Value{Tag: TagCompactArray, Value: CompactArray{
		Tag:  TagStructure,
		Tags: []Tag{TagUnsigned, TagOctetString},
		Value: []Value{
			{Tag: TagStructure, Value: []Value{
				{Tag: TagUnsigned, Value: uint8(1)},
				{Tag: TagOctetString, Value: []byte{0x01}},
			}},
			{Tag: TagStructure, Value: []Value{
				{Tag: TagUnsigned, Value: uint8(2)},
				{Tag: TagOctetString, Value: []byte{0x02, 0x03}},
			}},
		},
	}}
	got := roundTrip(t, want)
	ca, ok := got.Value.(CompactArray)
	if !ok || len(ca.Value) != 2 {
		t.Fatalf("got %#v, want 2-element compact_array", got.Value)
	}
	first, ok := ca.Value[0].Value.([]Value)
	if !ok || len(first) != 2 || first[0].Value != uint8(1) {
		t.Fatalf("got %#v, want {1, [0x01]}", ca.Value[0].Value)
	}
}

func TestDecodeUnknownTagIsUnknownTagKind(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{0xfe}))
	if err == nil {
		t.Fatal("expected an error for an unrecognised tag")
	}
	if kind, ok := dlmserrors.Of(err); !ok || kind != dlmserrors.UnknownTag {
		t.Fatalf("got %v, want a dlmserrors.UnknownTag error", err)
	}
}
