package client

import (
	"github.com/nilsby/godlms/apdu"
	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
)

// Get reads a single COSEM attribute, transparently reassembling a
// block-transferred reply, grounded on dlmsal/dlmslnget.go: get/Read.
func (c *Connection) Get(item apdu.GetRequestItem) (axdr.Value, error) {
	invokeID := c.nextInvokeID()
	req, err := apdu.EncodeGetRequestNormal(invokeID, item)
	if err != nil {
		return axdr.Value{}, err
	}

	decoded, err := c.sendReceive(base.TagGetRequest, req)
	if err != nil {
		return axdr.Value{}, err
	}
	if decoded.Kind != apdu.KindGetResponse {
		return axdr.Value{}, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected response kind %d to Get", decoded.Kind)
	}
	resp := decoded.GetResponse

	switch resp.Kind {
	case apdu.GetResponseKindNormal:
		if resp.Result.Error != nil {
			return axdr.Value{}, dlmserrors.NewServiceError(*resp.Result.Error)
		}
		return resp.Result.Data, nil
	case apdu.GetResponseKindWithDataBlock:
		if resp.Result.Error != nil {
			return axdr.Value{}, dlmserrors.NewServiceError(*resp.Result.Error)
		}
		if resp.BlockNumber != 1 {
			return axdr.Value{}, dlmserrors.New(dlmserrors.ProtocolError, "unexpected block number in get-response")
		}
		raw := append([]byte(nil), resp.RawData...)
		blockNumber := resp.BlockNumber
		lastBlock := resp.LastBlock
		for !lastBlock {
			next := apdu.EncodeGetRequestNext(invokeID, blockNumber)
			decoded, err = c.sendReceive(base.TagGetRequest, next)
			if err != nil {
				return axdr.Value{}, err
			}
			if decoded.Kind != apdu.KindGetResponse || decoded.GetResponse.Kind != apdu.GetResponseKindWithDataBlock {
				return axdr.Value{}, dlmserrors.New(dlmserrors.ProtocolError, "unexpected response kind while reassembling Get data block")
			}
			resp = decoded.GetResponse
			if resp.Result.Error != nil {
				return axdr.Value{}, dlmserrors.NewServiceError(*resp.Result.Error)
			}
			blockNumber++
			if resp.BlockNumber != blockNumber {
				return axdr.Value{}, dlmserrors.New(dlmserrors.ProtocolError, "unexpected block number in get-response")
			}
			raw = append(raw, resp.RawData...)
			lastBlock = resp.LastBlock
		}
		return apdu.DecodeBlockValue(raw)
	default:
		return axdr.Value{}, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected get-response kind %d", resp.Kind)
	}
}

// GetWithList reads several COSEM attributes in one request, grounded on
// dlmsal/dlmslnget.go: get's multi-item branch. A list reply sent with
// block transfer is not reassembled: any get-response other than the
// with-list form is rejected as a ProtocolError.
func (c *Connection) GetWithList(items []apdu.GetRequestItem) ([]apdu.AccessResult, error) {
	invokeID := c.nextInvokeID()
	req, err := apdu.EncodeGetRequestWithList(invokeID, items)
	if err != nil {
		return nil, err
	}

	decoded, err := c.sendReceive(base.TagGetRequest, req)
	if err != nil {
		return nil, err
	}
	if decoded.Kind != apdu.KindGetResponse || decoded.GetResponse.Kind != apdu.GetResponseKindWithList {
		return nil, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected response kind %d to GetWithList", decoded.Kind)
	}
	return decoded.GetResponse.Results, nil
}
