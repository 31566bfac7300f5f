package apdu

import (
	"bytes"

	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
)

// ActionRequestItem is a cosem-method-descriptor (same wire shape as a
// cosem-attribute-descriptor, with Attribute standing in for the
// method id) plus an optional method parameter, grounded on
// dlmsal/dlmslnaction.go: encodelnactionitem.
type ActionRequestItem struct {
	Method    AttributeRef
	Parameter *axdr.Value
}

// EncodeActionRequestNormal builds a single-method ActionRequest,
// grounded on dlmsal/dlmslnaction.go: action.
func EncodeActionRequestNormal(invokeID byte, item ActionRequestItem) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagActionRequest))
	out.WriteByte(byte(base.TagActionRequestNormal))
	out.WriteByte(invokeID)
	encodeAttributeRef(&out, item.Method)
	if item.Parameter == nil {
		out.WriteByte(0)
		return out.Bytes(), nil
	}
	out.WriteByte(1)
	if err := axdr.EncodeInto(&out, *item.Parameter); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncodeActionRequestNextPBlock requests the next block of a
// block-transferred ActionResponse, grounded on
// dlmsal/dlmslnaction.go: Read (state 2, next-block branch).
func EncodeActionRequestNextPBlock(invokeID byte, blockNumber uint32) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagActionRequest))
	out.WriteByte(byte(base.TagActionRequestNextPBlock))
	out.WriteByte(invokeID)
	writeUint32(&out, blockNumber)
	return out.Bytes()
}

// ActionResponseKind discriminates the two wire shapes of ActionResponse
// that a single, non-listed action can produce.
type ActionResponseKind int

const (
	ActionResponseKindNormal ActionResponseKind = iota
	ActionResponseKindWithPBlock
)

// ActionResponse is the decoded body of an Action.Response.
type ActionResponse struct {
	Kind        ActionResponseKind
	InvokeID    byte
	Result      base.AccessResultTag // Kind == Normal
	Data        *AccessResult        // Kind == Normal, non-nil when the method returned a value
	LastBlock   bool                 // Kind == WithPBlock
	BlockNumber uint32               // Kind == WithPBlock
	RawData     []byte               // Kind == WithPBlock
}

// DecodeActionResponse parses body, which must start with the CosemTag
// ActionResponse byte, grounded on dlmsal/dlmslnaction.go: actiondata.
func DecodeActionResponse(body []byte) (ActionResponse, error) {
	if len(body) < 2 || body[0] != byte(base.TagActionResponse) {
		return ActionResponse{}, unexpectedTag("ActionResponse", firstByte(body))
	}
	r := bytes.NewReader(body[1:])
	variant, err := readByte(r, "action-response variant")
	if err != nil {
		return ActionResponse{}, err
	}
	invokeID, err := readByte(r, "action-response invoke-id")
	if err != nil {
		return ActionResponse{}, err
	}

	var resp ActionResponse
	resp.InvokeID = invokeID

	switch base.ActionResponseTag(variant) {
	case base.TagActionResponseNormal:
		resp.Kind = ActionResponseKindNormal
		b, err := readByte(r, "action-response result")
		if err != nil {
			return ActionResponse{}, err
		}
		resp.Result = base.AccessResultTag(b)
		if resp.Result != 0 {
			return resp, nil
		}
		if r.Len() == 0 {
			return resp, nil
		}
		hasData, err := readByte(r, "action-response has-data flag")
		if err != nil {
			return ActionResponse{}, err
		}
		if hasData == 0 {
			return resp, nil
		}
		ar, err := decodeAccessResult(r)
		if err != nil {
			return ActionResponse{}, err
		}
		resp.Data = &ar
		return resp, nil
	case base.TagActionResponseWithPBlock:
		resp.Kind = ActionResponseKindWithPBlock
		lastByte, err := readByte(r, "action-response last-block flag")
		if err != nil {
			return ActionResponse{}, err
		}
		resp.LastBlock = lastByte != 0
		resp.BlockNumber, err = readUint32(r, "action-response block number")
		if err != nil {
			return ActionResponse{}, err
		}
		n, _, err := DecodeLength(r)
		if err != nil {
			return ActionResponse{}, truncated("action-response block length", err)
		}
		resp.RawData, err = readN(r, int(n), "action-response block data")
		if err != nil {
			return ActionResponse{}, err
		}
		return resp, nil
	default:
		return ActionResponse{}, unexpectedTag("action-response variant", variant)
	}
}
