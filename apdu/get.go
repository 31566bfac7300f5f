package apdu

import (
	"bytes"

	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
)

// GetRequestItem is one cosem-attribute-descriptor plus optional
// selective access, grounded on dlmsal/dlmslnget.go: encodelngetitem.
type GetRequestItem struct {
	Attribute AttributeRef
	Access    *AccessSelection
}

func encodeGetRequestItem(dst *bytes.Buffer, item GetRequestItem) error {
	encodeAttributeRef(dst, item.Attribute)
	return encodeAccessSelection(dst, item.Access)
}

// EncodeGetRequestNormal builds a single-item Get.Request, grounded on
// dlmsal/dlmslnget.go: get (len(items)==1 branch).
func EncodeGetRequestNormal(invokeID byte, item GetRequestItem) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagGetRequest))
	out.WriteByte(byte(base.TagGetRequestNormal))
	out.WriteByte(invokeID)
	if err := encodeGetRequestItem(&out, item); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncodeGetRequestWithList builds a multi-item Get.Request, grounded on
// dlmsal/dlmslnget.go: get (len(items)>1 branch).
func EncodeGetRequestWithList(invokeID byte, items []GetRequestItem) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagGetRequest))
	out.WriteByte(byte(base.TagGetRequestWithList))
	out.WriteByte(invokeID)
	EncodeLength(&out, uint(len(items)))
	for _, item := range items {
		if err := encodeGetRequestItem(&out, item); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

// EncodeGetRequestNext requests the next block of a data-block
// transfer in progress, grounded on dlmsal/dlmslnget.go: Read (state 2,
// next-block branch).
func EncodeGetRequestNext(invokeID byte, blockNumber uint32) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagGetRequest))
	out.WriteByte(byte(base.TagGetRequestNext))
	out.WriteByte(invokeID)
	writeUint32(&out, blockNumber)
	return out.Bytes()
}

// GetResponseKind discriminates the three wire shapes of GetResponse.
type GetResponseKind int

const (
	GetResponseKindNormal GetResponseKind = iota
	GetResponseKindWithDataBlock
	GetResponseKindWithList
)

// GetResponse is the decoded body of a Get.Response, with RawData
// carrying one block-transfer segment's raw bytes (the Connection FSM
// accumulates these across calls and decodes the whole with axdr.Decode
// once LastBlock is true), grounded on dlmsal/dlmslnget.go.
type GetResponse struct {
	Kind        GetResponseKind
	InvokeID    byte
	Result      AccessResult   // Kind == Normal
	Results     []AccessResult // Kind == WithList
	LastBlock   bool           // Kind == WithDataBlock
	BlockNumber uint32         // Kind == WithDataBlock
	RawData     []byte         // Kind == WithDataBlock
}

// DecodeGetResponse parses body, which must start with the CosemTag
// GetResponse byte.
func DecodeGetResponse(body []byte) (GetResponse, error) {
	if len(body) < 2 || body[0] != byte(base.TagGetResponse) {
		return GetResponse{}, unexpectedTag("GetResponse", firstByte(body))
	}
	r := bytes.NewReader(body[1:])
	variant, err := readByte(r, "get-response variant")
	if err != nil {
		return GetResponse{}, err
	}
	invokeID, err := readByte(r, "get-response invoke-id")
	if err != nil {
		return GetResponse{}, err
	}

	var resp GetResponse
	resp.InvokeID = invokeID

	switch base.GetResponseTag(variant) {
	case base.TagGetResponseNormal:
		resp.Kind = GetResponseKindNormal
		resp.Result, err = decodeAccessResult(r)
		return resp, err
	case base.TagGetResponseWithDataBlock:
		resp.Kind = GetResponseKindWithDataBlock
		lastByte, err := readByte(r, "get-response last-block flag")
		if err != nil {
			return GetResponse{}, err
		}
		resp.LastBlock = lastByte != 0
		resp.BlockNumber, err = readUint32(r, "get-response block number")
		if err != nil {
			return GetResponse{}, err
		}
		resultByte, err := readByte(r, "get-response block result")
		if err != nil {
			return GetResponse{}, err
		}
		if resultByte != 0 {
			errByte, err := readByte(r, "get-response block error")
			if err != nil {
				return GetResponse{}, err
			}
			tag := base.AccessResultTag(errByte)
			resp.Result = AccessResult{Error: &tag}
			return resp, nil
		}
		n, _, err := DecodeLength(r)
		if err != nil {
			return GetResponse{}, truncated("get-response block length", err)
		}
		resp.RawData, err = readN(r, int(n), "get-response block data")
		if err != nil {
			return GetResponse{}, err
		}
		return resp, nil
	case base.TagGetResponseWithList:
		resp.Kind = GetResponseKindWithList
		n, _, err := DecodeLength(r)
		if err != nil {
			return GetResponse{}, truncated("get-response list length", err)
		}
		resp.Results = make([]AccessResult, n)
		for i := range resp.Results {
			resp.Results[i], err = decodeAccessResult(r)
			if err != nil {
				return GetResponse{}, err
			}
		}
		return resp, nil
	default:
		return GetResponse{}, unexpectedTag("get-response variant", variant)
	}
}

// DecodeBlockValue decodes the fully reassembled raw bytes of a
// block-transferred Get result into a single data value.
func DecodeBlockValue(raw []byte) (axdr.Value, error) {
	r := bytes.NewReader(raw)
	v, err := axdr.Decode(r)
	if err != nil {
		return axdr.Value{}, err
	}
	if r.Len() != 0 {
		return axdr.Value{}, dlmserrors.New(dlmserrors.Malformed, "trailing bytes after block-transferred data")
	}
	return v, nil
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}
