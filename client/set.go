package client

import (
	"bytes"

	"github.com/nilsby/godlms/apdu"
	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
	"github.com/nilsby/godlms/security"
)

// setBlockReserve is the worst-case overhead (ciphering tag plus the
// block-transfer framing bytes) reserved when deciding whether a value
// fits in a single, unsegmented SetRequest, grounded on
// dlmsal/dlmslnset.go: setsingle's size checks.
const setBlockReserve = 6 + security.TagLength
const setFirstBlockReserve = 16 + security.TagLength

// Set writes a single COSEM attribute, transparently chunking the value
// into a block transfer when it doesn't fit in one PDU, grounded on
// dlmsal/dlmslnset.go: setsingle.
func (c *Connection) Set(item apdu.SetRequestItem) (base.AccessResultTag, error) {
	invokeID := c.nextInvokeID()

	full, err := apdu.EncodeSetRequestNormal(invokeID, item)
	if err != nil {
		return 0, err
	}
	if len(full) <= c.maxPduSendSize-setBlockReserve {
		return c.setSendNormal(full)
	}

	var valueBuf bytes.Buffer
	if err := axdr.EncodeInto(&valueBuf, item.Value); err != nil {
		return 0, err
	}

	header, err := apdu.EncodeSetRequestFirstBlockHeader(invokeID, item)
	if err != nil {
		return 0, err
	}
	return c.setSendBlocks(invokeID, header, valueBuf.Bytes())
}

func (c *Connection) setSendNormal(req []byte) (base.AccessResultTag, error) {
	decoded, err := c.sendReceive(base.TagSetRequest, req)
	if err != nil {
		return 0, err
	}
	if decoded.Kind != apdu.KindSetResponse || decoded.SetResponse.Kind != apdu.SetResponseKindNormal {
		return 0, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected response kind %d to Set", decoded.Kind)
	}
	return decoded.SetResponse.Result, nil
}

func (c *Connection) setSendBlocks(invokeID byte, prefix []byte, data []byte) (base.AccessResultTag, error) {
	if c.maxPduSendSize < setFirstBlockReserve+len(prefix) {
		return 0, dlmserrors.New(dlmserrors.PreconditionFailed, "negotiated max pdu size too small for block transfer")
	}

	blockNumber := uint32(1)
	for {
		avail := c.maxPduSendSize - setFirstBlockReserve - len(prefix)
		var chunk []byte
		var last bool
		if len(data) > avail {
			chunk, data = data[:avail], data[avail:]
			last = false
		} else {
			chunk, data = data, nil
			last = true
		}

		wire := apdu.EncodeSetRequestBlock(prefix, blockNumber, last, chunk)
		decoded, err := c.sendReceive(base.TagSetRequest, wire)
		if err != nil {
			return 0, err
		}
		if decoded.Kind != apdu.KindSetResponse {
			return 0, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected response kind %d while reassembling Set data block", decoded.Kind)
		}
		resp := decoded.SetResponse

		switch resp.Kind {
		case apdu.SetResponseKindDataBlock:
			if last {
				return 0, dlmserrors.New(dlmserrors.ProtocolError, "expected last-data-block response but got data-block")
			}
			if resp.BlockNumber != blockNumber {
				return 0, dlmserrors.New(dlmserrors.ProtocolError, "unexpected block number in set-response")
			}
			blockNumber++
			prefix = apdu.EncodeSetRequestContinuationHeader(invokeID)
		case apdu.SetResponseKindLastDataBlock:
			if !last {
				return 0, dlmserrors.New(dlmserrors.ProtocolError, "expected data-block response but got last-data-block")
			}
			if resp.BlockNumber != blockNumber {
				return 0, dlmserrors.New(dlmserrors.ProtocolError, "unexpected block number in set-response")
			}
			return resp.Result, nil
		default:
			return 0, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected set-response kind %d", resp.Kind)
		}
	}
}

// SetWithList writes several COSEM attributes in one request, grounded
// on dlmsal/dlmslnset.go: Set's multi-item branch.
func (c *Connection) SetWithList(items []apdu.SetRequestItem) ([]base.AccessResultTag, error) {
	invokeID := c.nextInvokeID()
	full, err := apdu.EncodeSetRequestWithList(invokeID, items)
	if err != nil {
		return nil, err
	}
	if len(full) <= c.maxPduSendSize-setBlockReserve {
		decoded, err := c.sendReceive(base.TagSetRequest, full)
		if err != nil {
			return nil, err
		}
		if decoded.Kind != apdu.KindSetResponse || decoded.SetResponse.Kind != apdu.SetResponseKindWithList {
			return nil, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected response kind %d to SetWithList", decoded.Kind)
		}
		return decoded.SetResponse.Results, nil
	}

	var valueBuf bytes.Buffer
	axdr.EncodeLength(&valueBuf, uint(len(items)))
	for _, item := range items {
		if err := axdr.EncodeInto(&valueBuf, item.Value); err != nil {
			return nil, err
		}
	}

	header, err := apdu.EncodeSetRequestListFirstBlockHeader(invokeID, items)
	if err != nil {
		return nil, err
	}
	if c.maxPduSendSize < setFirstBlockReserve+len(header) {
		return nil, dlmserrors.New(dlmserrors.PreconditionFailed, "negotiated max pdu size too small for block transfer")
	}

	data := valueBuf.Bytes()
	blockNumber := uint32(1)
	prefix := header
	for {
		avail := c.maxPduSendSize - setFirstBlockReserve - len(prefix)
		var chunk []byte
		var last bool
		if len(data) > avail {
			chunk, data = data[:avail], data[avail:]
			last = false
		} else {
			chunk, data = data, nil
			last = true
		}

		wire := apdu.EncodeSetRequestBlock(prefix, blockNumber, last, chunk)
		decoded, err := c.sendReceive(base.TagSetRequest, wire)
		if err != nil {
			return nil, err
		}
		if decoded.Kind != apdu.KindSetResponse {
			return nil, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected response kind %d while reassembling SetWithList data block", decoded.Kind)
		}
		resp := decoded.SetResponse

		switch resp.Kind {
		case apdu.SetResponseKindDataBlock:
			if last {
				return nil, dlmserrors.New(dlmserrors.ProtocolError, "expected last-data-block response but got data-block")
			}
			if resp.BlockNumber != blockNumber {
				return nil, dlmserrors.New(dlmserrors.ProtocolError, "unexpected block number in set-response")
			}
			blockNumber++
			prefix = apdu.EncodeSetRequestContinuationHeader(invokeID)
		case apdu.SetResponseKindLastDataBlockWithList:
			if !last {
				return nil, dlmserrors.New(dlmserrors.ProtocolError, "expected data-block response but got last-data-block")
			}
			if resp.BlockNumber != blockNumber {
				return nil, dlmserrors.New(dlmserrors.ProtocolError, "unexpected block number in set-response")
			}
			return resp.Results, nil
		default:
			return nil, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected set-response kind %d", resp.Kind)
		}
	}
}
