package client

import (
	"github.com/nilsby/godlms/apdu"
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
)

// Action invokes a single COSEM method, transparently reassembling a
// block-transferred (pblock) reply, grounded on
// dlmsal/dlmslnaction.go: action/actiondata/Read.
func (c *Connection) Action(item apdu.ActionRequestItem) (*apdu.AccessResult, error) {
	invokeID := c.nextInvokeID()
	req, err := apdu.EncodeActionRequestNormal(invokeID, item)
	if err != nil {
		return nil, err
	}

	decoded, err := c.sendReceive(base.TagActionRequest, req)
	if err != nil {
		return nil, err
	}
	if decoded.Kind != apdu.KindActionResponse {
		return nil, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected response kind %d to Action", decoded.Kind)
	}
	resp := decoded.ActionResponse

	switch resp.Kind {
	case apdu.ActionResponseKindNormal:
		if resp.Result != 0 {
			tag := resp.Result
			return &apdu.AccessResult{Error: &tag}, nil
		}
		return resp.Data, nil
	case apdu.ActionResponseKindWithPBlock:
		if resp.BlockNumber != 1 {
			return nil, dlmserrors.New(dlmserrors.ProtocolError, "unexpected block number in action-response")
		}
		raw := append([]byte(nil), resp.RawData...)
		blockNumber := resp.BlockNumber
		lastBlock := resp.LastBlock
		for !lastBlock {
			next := apdu.EncodeActionRequestNextPBlock(invokeID, blockNumber)
			decoded, err = c.sendReceive(base.TagActionRequest, next)
			if err != nil {
				return nil, err
			}
			if decoded.Kind != apdu.KindActionResponse || decoded.ActionResponse.Kind != apdu.ActionResponseKindWithPBlock {
				return nil, dlmserrors.New(dlmserrors.ProtocolError, "unexpected response kind while reassembling Action pblock")
			}
			resp = decoded.ActionResponse
			blockNumber++
			if resp.BlockNumber != blockNumber {
				return nil, dlmserrors.New(dlmserrors.ProtocolError, "unexpected block number in action-response")
			}
			raw = append(raw, resp.RawData...)
			lastBlock = resp.LastBlock
		}
		v, err := apdu.DecodeBlockValue(raw)
		if err != nil {
			return nil, err
		}
		return &apdu.AccessResult{Data: v}, nil
	default:
		return nil, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected action-response kind %d", resp.Kind)
	}
}
