package apdu

import (
	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/obis"
)

// CaptureObject builds the capture-object structure {class-id,
// logical-name, attribute-index, data-index} used as the first element
// of a RangeDescriptor, grounded on dlmsal/utils.go: EncodeCaptureObject.
func CaptureObject(classID uint16, instance obis.Code, attribute int8, dataIndex uint16) axdr.Value {
	return axdr.Value{
		Tag: axdr.TagStructure,
		Value: []axdr.Value{
			{Tag: axdr.TagLongUnsigned, Value: classID},
			{Tag: axdr.TagOctetString, Value: instance.Bytes()},
			{Tag: axdr.TagInteger, Value: attribute},
			{Tag: axdr.TagLongUnsigned, Value: dataIndex},
		},
	}
}

// clockCaptureObject is the fixed capture-object for the clock object
// (class 8, logical name 0.0.1.0.0.255, attribute 2: time), used by
// RangeDescriptor's restricting-object, grounded on
// dlmsal/utils.go: EncodeSimpleRangeAccess.
var clockCaptureObject = CaptureObject(8, obis.Code{A: 0, B: 0, C: 1, D: 0, E: 0, F: 255}, 2, 0)

// RangeDescriptor builds the selective-access parameter of spec.md
// §4.2.1 (access-selector 1): a restricting-object (the clock) plus
// a from/to date-time window and an empty selected-values array,
// grounded on dlmsal/utils.go: EncodeSimpleRangeAccess.
func RangeDescriptor(from, to axdr.DateTime) axdr.Value {
	return axdr.Value{
		Tag: axdr.TagStructure,
		Value: []axdr.Value{
			clockCaptureObject,
			{Tag: axdr.TagOctetString, Value: from},
			{Tag: axdr.TagOctetString, Value: to},
			{Tag: axdr.TagArray, Value: []axdr.Value{}},
		},
	}
}
