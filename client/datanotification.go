package client

import (
	"github.com/nilsby/godlms/apdu"
	"github.com/nilsby/godlms/dlmserrors"
)

// ReceiveDataNotification reads one unsolicited push APDU, grounded on
// original_source/dlms_cosem/dlms.py's DataNotification reception path.
// Unlike Get/Set/Action, this is not a request/response exchange: the
// caller is expected to be blocked in a read loop waiting for the meter
// to push a message on its own.
func (c *Connection) ReceiveDataNotification() (apdu.DataNotification, error) {
	if c.state != StateAssociated && c.state != StateReady {
		return apdu.DataNotification{}, dlmserrors.Newf(dlmserrors.PreconditionFailed, "cannot receive a data notification from state %v", c.state)
	}

	raw, err := readMessage(c.transport)
	if err != nil {
		return apdu.DataNotification{}, err
	}

	decoded, err := apdu.Decode(raw)
	if err != nil {
		return apdu.DataNotification{}, err
	}
	if decoded.Kind == apdu.KindCiphered {
		if c.settings.cipher == nil {
			return apdu.DataNotification{}, dlmserrors.New(dlmserrors.ProtocolError, "received ciphered data notification but no cipher is configured")
		}
		plain, err := c.settings.cipher.Decrypt(decoded.Ciphered.Security, decoded.Ciphered.FrameCounter, decoded.Ciphered.Ciphertext)
		if err != nil {
			return apdu.DataNotification{}, err
		}
		decoded, err = apdu.Decode(plain)
		if err != nil {
			return apdu.DataNotification{}, err
		}
	}
	if decoded.Kind != apdu.KindDataNotification {
		return apdu.DataNotification{}, dlmserrors.Newf(dlmserrors.ProtocolError, "unexpected APDU kind %d while awaiting a data notification", decoded.Kind)
	}
	return *decoded.DataNotification, nil
}
