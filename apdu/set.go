package apdu

import (
	"bytes"

	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
)

// SetRequestItem pairs a cosem-attribute-descriptor with the value to
// write and optional selective access, grounded on
// dlmsal/dlmslnset.go: encodelnsetitem.
type SetRequestItem struct {
	Attribute AttributeRef
	Access    *AccessSelection
	Value     axdr.Value
}

func encodeSetRequestItem(dst *bytes.Buffer, item SetRequestItem) error {
	encodeAttributeRef(dst, item.Attribute)
	return encodeAccessSelection(dst, item.Access)
}

// EncodeSetRequestNormal builds a single-shot, unsegmented SetRequest
// (attribute descriptor plus the full value), grounded on
// dlmsal/dlmslnset.go: setsingle's non-block-transfer branch.
func EncodeSetRequestNormal(invokeID byte, item SetRequestItem) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagSetRequest))
	out.WriteByte(invokeID)
	out.WriteByte(byte(base.TagSetRequestNormal))
	if err := encodeSetRequestItem(&out, item); err != nil {
		return nil, err
	}
	if err := axdr.EncodeInto(&out, item.Value); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncodeSetRequestFirstBlockHeader builds the fixed prefix (everything
// up to but excluding the per-block last/blockno/length/data fields) of
// a segmented SetRequest, grounded on dlmsal/dlmslnset.go: setsingle's
// block-transfer branch up to the first local.Write(data[:ts]).
func EncodeSetRequestFirstBlockHeader(invokeID byte, item SetRequestItem) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagSetRequest))
	out.WriteByte(invokeID)
	out.WriteByte(byte(base.TagSetRequestWithFirstDataBlock))
	if err := encodeSetRequestItem(&out, item); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncodeSetRequestBlock appends one data-block frame to a prefix
// (either the first-block header from EncodeSetRequestFirstBlockHeader,
// or a fresh continuation header) plus the chunk's bytes.
func EncodeSetRequestBlock(prefix []byte, blockNumber uint32, last bool, chunk []byte) []byte {
	var out bytes.Buffer
	out.Write(prefix)
	if last {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
	writeUint32(&out, blockNumber)
	EncodeLength(&out, uint(len(chunk)))
	out.Write(chunk)
	return out.Bytes()
}

// EncodeSetRequestContinuationHeader builds the fixed prefix for the
// second and later blocks of a segmented SetRequest (TagSetRequestWithDataBlock
// carries no attribute descriptor, only the invoke id).
func EncodeSetRequestContinuationHeader(invokeID byte) []byte {
	return []byte{byte(base.TagSetRequest), invokeID, byte(base.TagSetRequestWithDataBlock)}
}

// EncodeSetRequestWithList builds an unsegmented list SetRequest.
func EncodeSetRequestWithList(invokeID byte, items []SetRequestItem) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagSetRequest))
	out.WriteByte(invokeID)
	out.WriteByte(byte(base.TagSetRequestWithList))
	EncodeLength(&out, uint(len(items)))
	for _, item := range items {
		if err := encodeSetRequestItem(&out, item); err != nil {
			return nil, err
		}
	}
	EncodeLength(&out, uint(len(items)))
	for _, item := range items {
		if err := axdr.EncodeInto(&out, item.Value); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

// EncodeSetRequestListFirstBlockHeader builds the fixed prefix of a
// segmented list SetRequest, grounded on dlmsal/dlmslnset.go: Set's
// block-transfer-with-list branch.
func EncodeSetRequestListFirstBlockHeader(invokeID byte, items []SetRequestItem) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagSetRequest))
	out.WriteByte(invokeID)
	out.WriteByte(byte(base.TagSetRequestWithListAndFirstDataBlock))
	EncodeLength(&out, uint(len(items)))
	for _, item := range items {
		if err := encodeSetRequestItem(&out, item); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

// SetResponseKind discriminates the five wire shapes of SetResponse.
type SetResponseKind int

const (
	SetResponseKindNormal SetResponseKind = iota
	SetResponseKindDataBlock
	SetResponseKindLastDataBlock
	SetResponseKindLastDataBlockWithList
	SetResponseKindWithList
)

// SetResponse is the decoded body of a Set.Response.
type SetResponse struct {
	Kind        SetResponseKind
	InvokeID    byte
	Result      base.AccessResultTag   // Kind == Normal or LastDataBlock
	Results     []base.AccessResultTag // Kind == WithList or LastDataBlockWithList
	BlockNumber uint32                 // Kind == DataBlock or LastDataBlock(WithList)
}

// DecodeSetResponse parses body, which must start with the CosemTag
// SetResponse byte.
func DecodeSetResponse(body []byte) (SetResponse, error) {
	if len(body) < 2 || body[0] != byte(base.TagSetResponse) {
		return SetResponse{}, unexpectedTag("SetResponse", firstByte(body))
	}
	r := bytes.NewReader(body[1:])
	invokeID, err := readByte(r, "set-response invoke-id")
	if err != nil {
		return SetResponse{}, err
	}
	variant, err := readByte(r, "set-response variant")
	if err != nil {
		return SetResponse{}, err
	}

	var resp SetResponse
	resp.InvokeID = invokeID

	switch base.SetResponseTag(variant) {
	case base.TagSetResponseNormal:
		resp.Kind = SetResponseKindNormal
		b, err := readByte(r, "set-response result")
		if err != nil {
			return SetResponse{}, err
		}
		resp.Result = base.AccessResultTag(b)
		return resp, nil
	case base.TagSetResponseDataBlock:
		resp.Kind = SetResponseKindDataBlock
		resp.BlockNumber, err = readUint32(r, "set-response block number")
		return resp, err
	case base.TagSetResponseLastDataBlock:
		resp.Kind = SetResponseKindLastDataBlock
		b, err := readByte(r, "set-response result")
		if err != nil {
			return SetResponse{}, err
		}
		resp.Result = base.AccessResultTag(b)
		resp.BlockNumber, err = readUint32(r, "set-response block number")
		return resp, err
	case base.TagSetResponseLastDataBlockWithList:
		resp.Kind = SetResponseKindLastDataBlockWithList
		n, _, err := DecodeLength(r)
		if err != nil {
			return SetResponse{}, truncated("set-response list length", err)
		}
		raw, err := readN(r, int(n), "set-response result list")
		if err != nil {
			return SetResponse{}, err
		}
		resp.Results = make([]base.AccessResultTag, n)
		for i, b := range raw {
			resp.Results[i] = base.AccessResultTag(b)
		}
		resp.BlockNumber, err = readUint32(r, "set-response block number")
		return resp, err
	case base.TagSetResponseWithList:
		resp.Kind = SetResponseKindWithList
		n, _, err := DecodeLength(r)
		if err != nil {
			return SetResponse{}, truncated("set-response list length", err)
		}
		raw, err := readN(r, int(n), "set-response result list")
		if err != nil {
			return SetResponse{}, err
		}
		resp.Results = make([]base.AccessResultTag, n)
		for i, b := range raw {
			resp.Results[i] = base.AccessResultTag(b)
		}
		return resp, nil
	default:
		return SetResponse{}, unexpectedTag("set-response variant", variant)
	}
}
