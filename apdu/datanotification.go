package apdu

import (
	"bytes"

	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
)

// DataNotification is the unconfirmed push APDU of spec.md §4.2
// (ConformanceDataNotification): a long invoke-id-and-priority, an
// optional timestamp, and an inline data value. There is no request
// half to confirm delivery, so the Connection FSM surfaces it directly
// to the caller without touching the at-most-one-in-flight state.
type DataNotification struct {
	LongInvokeID uint32
	Timestamp    *axdr.DateTime
	Body         axdr.Value
}

// EncodeDataNotification serialises n, grounded on the CosemTag table
// (TagDataNotification) and the same length-prefixed octet-string
// encoding the A-XDR codec already uses for date_time values.
func EncodeDataNotification(n DataNotification) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagDataNotification))
	writeUint32(&out, n.LongInvokeID)
	if n.Timestamp == nil {
		out.WriteByte(0)
	} else {
		tagged, err := axdr.Encode(axdr.Value{Tag: axdr.TagDateTime, Value: *n.Timestamp})
		if err != nil {
			return nil, err
		}
		out.WriteByte(12)
		out.Write(tagged[1:]) // drop the leading data-tag byte: this field has no tag of its own
	}
	if err := axdr.EncodeInto(&out, n.Body); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecodeDataNotification parses body, which must start with the CosemTag
// DataNotification byte.
func DecodeDataNotification(body []byte) (DataNotification, error) {
	if len(body) < 6 || body[0] != byte(base.TagDataNotification) {
		return DataNotification{}, unexpectedTag("DataNotification", firstByte(body))
	}
	r := bytes.NewReader(body[1:])
	id, err := readUint32(r, "data-notification invoke-id")
	if err != nil {
		return DataNotification{}, err
	}
	tsLen, err := readByte(r, "data-notification timestamp length")
	if err != nil {
		return DataNotification{}, err
	}
	var ts *axdr.DateTime
	if tsLen != 0 {
		if tsLen != 12 {
			return DataNotification{}, dlmserrors.New(dlmserrors.Malformed, "data-notification timestamp must be 12 octets")
		}
		raw, err := readN(r, 12, "data-notification timestamp")
		if err != nil {
			return DataNotification{}, err
		}
		v, err := axdr.Decode(bytes.NewReader(append([]byte{byte(axdr.TagDateTime)}, raw...)))
		if err != nil {
			return DataNotification{}, err
		}
		dt, ok := v.Value.(axdr.DateTime)
		if !ok {
			return DataNotification{}, dlmserrors.New(dlmserrors.Malformed, "data-notification timestamp decoded to unexpected type")
		}
		ts = &dt
	}
	v, err := axdr.Decode(r)
	if err != nil {
		return DataNotification{}, err
	}
	return DataNotification{LongInvokeID: id, Timestamp: ts, Body: v}, nil
}
