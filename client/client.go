// Package client implements the Connection FSM of spec.md §4.4: the
// association lifecycle, the request/response exchange for Get/Set/Action,
// and DataNotification reception. It is the only package that ties apdu,
// security and a base.Stream transport together, grounded on
// dlmsal/dlmsal.go, dlmsal/dlmstransport.go, dlmsal/dlmslnget.go,
// dlmsal/dlmslnset.go, dlmsal/dlmslnaction.go and dlmsal/dlmslnauth.go.
package client

import (
	"encoding/binary"
	"io"

	"github.com/nilsby/godlms/apdu"
	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
	"github.com/nilsby/godlms/obis"
	"github.com/nilsby/godlms/security"
	"go.uber.org/zap"
)

// State is one of the six Connection FSM states of spec.md §4.4.
type State int

const (
	StateNoAssociation State = iota
	StateAwaitingResponse
	StateAssociated
	StateAwaitingReleaseResponse
	StateReleased
	StateReady
)

func (s State) String() string {
	switch s {
	case StateNoAssociation:
		return "NO_ASSOCIATION"
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateAssociated:
		return "ASSOCIATED"
	case StateAwaitingReleaseResponse:
		return "AWAITING_RELEASE_RESPONSE"
	case StateReleased:
		return "RELEASED"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// associationLNObis is the well-known instance of the Association LN
// object (class 15) whose reply/authenticate method carries the
// HLS-GMAC challenge response, grounded on dlmsal/dlmslnauth.go.
var associationLNObis = obis.Code{A: 0, B: 0, C: 40, D: 0, E: 0, F: 255}

// Connection drives one association's lifecycle over a base.Stream,
// grounded on dlmsal/dlmsal.go: Dlms.
type Connection struct {
	transport base.Stream
	logger    *zap.SugaredLogger
	settings  *Settings
	state     State

	invokeID       byte
	maxPduSendSize int
}

// NewConnection builds a Connection that must go through Associate
// before any Get/Set/Action, grounded on dlmsal.NewDlms.
func NewConnection(transport base.Stream, settings *Settings) *Connection {
	return &Connection{
		transport:      transport,
		settings:       settings,
		state:          StateNoAssociation,
		maxPduSendSize: 0xffff,
	}
}

// NewReadyConnection builds a Connection for a pre-established
// association (spec.md §4.4's READY state): no AARQ/AARE exchange is
// performed, and Release returns PreconditionFailed rather than sending
// an RLRQ (see SPEC_FULL.md "Open Questions resolved").
func NewReadyConnection(transport base.Stream, settings *Settings, maxPduSendSize int) *Connection {
	return &Connection{
		transport:      transport,
		settings:       settings,
		state:          StateReady,
		maxPduSendSize: maxPduSendSize,
	}
}

func (c *Connection) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
	c.transport.SetLogger(logger)
}

func (c *Connection) logf(format string, v ...any) {
	if c.logger != nil {
		c.logger.Infof(format, v...)
	}
}

// State reports the Connection's current FSM state.
func (c *Connection) State() State {
	return c.state
}

// Disconnect tears down the transport without attempting a release,
// grounded on dlmsal.Dlms.Close's abrupt-teardown path.
func (c *Connection) Disconnect() error {
	c.state = StateNoAssociation
	return c.transport.Disconnect()
}

// Associate performs the AARQ/AARE exchange and, when the server
// demands it, the HLS-GMAC challenge/response, grounded on
// dlmsal.Dlms.Open.
func (c *Connection) Associate() error {
	if c.state == StateReady {
		return dlmserrors.New(dlmserrors.PreconditionFailed, "connection is pre-established, no association needed")
	}
	if c.state != StateNoAssociation {
		return dlmserrors.Newf(dlmserrors.PreconditionFailed, "cannot associate from state %v", c.state)
	}
	c.state = StateAwaitingResponse

	if err := c.transport.Open(); err != nil {
		c.state = StateNoAssociation
		return err
	}

	initReq := apdu.EncodeInitiateRequest(apdu.InitiateRequest{
		ConformanceBlock: c.settings.ConformanceBlock,
		MaxPduRecvSize:   c.settings.MaxPduRecvSize,
	})

	var authMech base.Authentication
	var clientTitle, authValue, userInfo []byte
	userInfo = initReq

	if c.settings.cipher != nil {
		authMech = c.settings.cipher.Mechanism()
		clientTitle = c.settings.cipher.ClientSystemTitle()

		var err error
		if authMech == base.AuthenticationHighGmac {
			sc := c.settings.securityControl()
			authValue, err = c.settings.cipher.Hash(sc, c.settings.frameCounter)
			if err != nil {
				c.state = StateNoAssociation
				return err
			}

			var ciphertext []byte
			ciphertext, err = c.settings.cipher.Encrypt(sc, c.settings.frameCounter, initReq)
			if err != nil {
				c.state = StateNoAssociation
				return err
			}
			envelope := apdu.CipheredEnvelope{
				Tag:          base.TagGloInitiateRequest,
				Security:     sc,
				FrameCounter: c.settings.frameCounter,
				Ciphertext:   ciphertext,
			}
			if c.settings.UseGeneralCiphering {
				envelope.Tag = base.TagGeneralGloCiphering
				envelope.SystemTitle = clientTitle
			}
			var env []byte
			env, err = apdu.EncodeCipheredEnvelope(envelope)
			if err != nil {
				c.state = StateNoAssociation
				return err
			}
			c.settings.frameCounter++
			userInfo = env
		} else {
			authValue, err = c.settings.cipher.Hash(0, 0)
			if err != nil {
				c.state = StateNoAssociation
				return err
			}
		}
	}

	aarq := apdu.AARQ{
		ApplicationContext:  c.settings.ApplicationContext,
		Authentication:      authMech,
		ClientSystemTitle:   clientTitle,
		AuthenticationValue: authValue,
		UserInformation:     userInfo,
	}
	full, redacted, err := apdu.EncodeAARQ(aarq)
	if err != nil {
		c.state = StateNoAssociation
		return err
	}
	if c.settings.ShowSecuredValues {
		c.logf("sending AARQ: % x", full)
	} else {
		c.logf("sending AARQ: % x", redacted)
	}

	if err := c.transport.Write(full); err != nil {
		c.state = StateNoAssociation
		return err
	}
	raw, err := readMessage(c.transport)
	if err != nil {
		c.state = StateNoAssociation
		return err
	}

	aare, err := apdu.DecodeAARE(raw)
	if err != nil {
		c.state = StateNoAssociation
		return err
	}
	if aare.Result != base.AssociationResultAccepted {
		c.state = StateNoAssociation
		return dlmserrors.Newf(dlmserrors.AssociationRefused, "association refused: result=%v diagnostic=%v", aare.Result, aare.Diagnostic)
	}
	if aare.Diagnostic != base.SourceDiagnosticNone && aare.Diagnostic != base.SourceDiagnosticAuthenticationRequired {
		c.state = StateNoAssociation
		return dlmserrors.Newf(dlmserrors.AssociationRefused, "association refused: diagnostic=%v", aare.Diagnostic)
	}
	c.settings.ServerSystemTitle = aare.ServerSystemTitle
	c.settings.SourceDiagnostic = aare.Diagnostic

	if c.settings.cipher != nil {
		if len(aare.ServerSystemTitle) != 8 || len(aare.StoC) == 0 {
			c.state = StateNoAssociation
			return dlmserrors.New(dlmserrors.ProtocolError, "ciphered association requires a server system title and StoC challenge")
		}
		if err := c.settings.cipher.Setup(aare.ServerSystemTitle, aare.StoC); err != nil {
			c.state = StateNoAssociation
			return err
		}
	}

	plainUserInfo, err := c.decipherIfNeeded(aare.UserInformation)
	if err != nil {
		c.state = StateNoAssociation
		return err
	}
	initResp, cse, err := apdu.DecodeInitiateResponse(plainUserInfo)
	if err != nil {
		c.state = StateNoAssociation
		return err
	}
	if cse != nil {
		c.state = StateNoAssociation
		return dlmserrors.NewServiceError(cse.Service)
	}

	c.maxPduSendSize = int(initResp.ServerMaxReceivePduSize)
	c.settings.VAAddress = initResp.VAAddress
	c.invokeID = 0
	c.state = StateAssociated

	if aare.Diagnostic == base.SourceDiagnosticAuthenticationRequired {
		if err := c.hlsAuthenticate(); err != nil {
			c.state = StateNoAssociation
			return err
		}
	}
	return nil
}

// hlsAuthenticate exchanges the HLS-GMAC reply/authenticate challenge
// response, grounded on dlmsal/dlmslnauth.go: LNAuthentication.
func (c *Connection) hlsAuthenticate() error {
	if c.settings.cipher == nil {
		return dlmserrors.New(dlmserrors.AuthenticationFailed, "high-level authentication requires a configured cipher")
	}

	sc := byte(base.SecurityAuthentication)
	hash, err := c.settings.cipher.Hash(sc, c.settings.frameCounter)
	if err != nil {
		return err
	}
	challenge := make([]byte, 5+len(hash))
	challenge[0] = sc
	binary.BigEndian.PutUint32(challenge[1:5], c.settings.frameCounter)
	copy(challenge[5:], hash)
	c.settings.frameCounter++

	param := axdr.Value{Tag: axdr.TagOctetString, Value: challenge}
	result, err := c.Action(apdu.ActionRequestItem{
		Method:    apdu.AttributeRef{Class: 15, Instance: associationLNObis, Attribute: 1},
		Parameter: &param,
	})
	if err != nil {
		return err
	}
	if result == nil || result.Error != nil {
		return dlmserrors.New(dlmserrors.AuthenticationFailed, "authenticate method returned no usable reply")
	}
	reply, ok := result.Data.Value.([]byte)
	if !ok || len(reply) != 5+security.TagLength {
		return dlmserrors.New(dlmserrors.AuthenticationFailed, "malformed authenticate reply")
	}
	if reply[0] != byte(base.SecurityAuthentication) {
		return dlmserrors.New(dlmserrors.AuthenticationFailed, "unexpected security control in authenticate reply")
	}
	fc := binary.BigEndian.Uint32(reply[1:5])
	ok, err = c.settings.cipher.Verify(reply[0], fc, reply[5:])
	if err != nil {
		return err
	}
	if !ok {
		return dlmserrors.New(dlmserrors.AuthenticationFailed, "server authentication value did not verify")
	}
	return nil
}

// Release sends an RLRQ and awaits the RLRE, grounded on
// dlmsal.Dlms.Close's graceful-release path. A pre-established (READY)
// connection cannot be released with RLRQ (spec.md §4.4) and returns
// PreconditionFailed instead.
func (c *Connection) Release() error {
	if c.state == StateReady {
		return dlmserrors.New(dlmserrors.PreconditionFailed, "pre-established connection cannot be released with RLRQ")
	}
	if c.state != StateAssociated {
		return dlmserrors.Newf(dlmserrors.PreconditionFailed, "cannot release from state %v", c.state)
	}
	c.state = StateAwaitingReleaseResponse

	rlrq := apdu.EncodeRLRQ(c.settings.EmptyRLRQ, base.ReleaseRequestReasonNormal)
	if err := c.transport.Write(rlrq); err != nil {
		return err
	}
	raw, err := readMessage(c.transport)
	if err != nil {
		return err
	}
	if err := apdu.DecodeRLRE(raw); err != nil {
		return err
	}
	c.state = StateReleased
	return nil
}

// Close releases the association if one is still open, then closes the
// transport, grounded on dlmsal.Dlms.Close.
func (c *Connection) Close() error {
	if c.state == StateAssociated {
		_ = c.Release()
	}
	c.state = StateNoAssociation
	return c.transport.Close()
}

// readMessage materialises one complete response APDU. Every base.Stream
// implementation (wrapper, hdlc) signals a message boundary with io.EOF,
// so io.ReadAll drains exactly one frame.
func readMessage(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

// decipherIfNeeded unwraps body when it is a glo/ded/general ciphered
// envelope, returning it unchanged otherwise.
func (c *Connection) decipherIfNeeded(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}
	switch base.CosemTag(body[0]) {
	case base.TagGloInitiateResponse, base.TagGloConfirmedServiceError,
		base.TagGloGetResponse, base.TagGloSetResponse, base.TagGloActionResponse,
		base.TagGloReadResponse, base.TagGloWriteResponse,
		base.TagDedGetResponse, base.TagDedSetResponse, base.TagDedActionResponse,
		base.TagDedReadResponse, base.TagDedWriteResponse,
		base.TagGeneralGloCiphering, base.TagGeneralDedCiphering:
		env, err := apdu.DecodeCipheredEnvelope(body)
		if err != nil {
			return nil, err
		}
		if c.settings.cipher == nil {
			return nil, dlmserrors.New(dlmserrors.ProtocolError, "received ciphered APDU but no cipher is configured")
		}
		if err := c.checkServerFrameCounter(env.FrameCounter); err != nil {
			return nil, err
		}
		return c.settings.cipher.Decrypt(env.Security, env.FrameCounter, env.Ciphertext)
	default:
		return body, nil
	}
}

// checkServerFrameCounter enforces spec.md §3's invocation-counter
// monotonicity invariant: a server frame counter that fails to strictly
// increase past the last one seen on this association is a replay or
// rollback and a hard error, grounded on
// original_source/dlms_cosem/connection.py:
// update_meter_invocation_counter.
func (c *Connection) checkServerFrameCounter(fc uint32) error {
	if c.settings.sawServerFrameCounter && fc <= c.settings.lastServerFrameCounter {
		return dlmserrors.Newf(dlmserrors.DecryptionError, "server frame counter %d did not increase past last seen %d", fc, c.settings.lastServerFrameCounter)
	}
	c.settings.lastServerFrameCounter = fc
	c.settings.sawServerFrameCounter = true
	return nil
}

func (c *Connection) nextInvokeID() byte {
	c.invokeID = (c.invokeID + 1) & 7
	return c.invokeID | c.settings.invokebyte()
}

// sendReceive writes plain (a complete plaintext request APDU led by
// requestTag), transparently ciphering it when the association is
// secured, and returns the decoded response, transparently deciphering
// it too, grounded on dlmsal/dlmstransport.go: sendpdu/recvcipheredpdu.
func (c *Connection) sendReceive(requestTag base.CosemTag, plain []byte) (apdu.Decoded, error) {
	if c.state != StateAssociated && c.state != StateReady {
		return apdu.Decoded{}, dlmserrors.Newf(dlmserrors.PreconditionFailed, "cannot exchange PDUs from state %v", c.state)
	}

	wire := plain
	if c.settings.cipher != nil && c.settings.cipher.Mechanism() == base.AuthenticationHighGmac {
		cipheredTag, err := apdu.UnderlyingRequestTag(requestTag, false)
		if err != nil {
			return apdu.Decoded{}, err
		}
		sc := c.settings.securityControl()
		fc := c.settings.frameCounter
		ciphertext, err := c.settings.cipher.Encrypt(sc, fc, plain)
		if err != nil {
			return apdu.Decoded{}, err
		}
		c.settings.frameCounter++
		envelope := apdu.CipheredEnvelope{
			Tag:          cipheredTag,
			Security:     sc,
			FrameCounter: fc,
			Ciphertext:   ciphertext,
		}
		if c.settings.UseGeneralCiphering {
			envelope.Tag = base.TagGeneralGloCiphering
			envelope.SystemTitle = c.settings.cipher.ClientSystemTitle()
		}
		wire, err = apdu.EncodeCipheredEnvelope(envelope)
		if err != nil {
			return apdu.Decoded{}, err
		}
	}

	if len(wire) > c.maxPduSendSize {
		return apdu.Decoded{}, dlmserrors.Newf(dlmserrors.PreconditionFailed, "request of %d bytes exceeds negotiated max PDU size %d", len(wire), c.maxPduSendSize)
	}

	if err := c.transport.Write(wire); err != nil {
		return apdu.Decoded{}, err
	}
	raw, err := readMessage(c.transport)
	if err != nil {
		return apdu.Decoded{}, err
	}

	decoded, err := apdu.Decode(raw)
	if err != nil {
		return apdu.Decoded{}, err
	}
	if decoded.Kind == apdu.KindCiphered {
		if c.settings.cipher == nil {
			return apdu.Decoded{}, dlmserrors.New(dlmserrors.ProtocolError, "received ciphered response but no cipher is configured")
		}
		if err := c.checkServerFrameCounter(decoded.Ciphered.FrameCounter); err != nil {
			return apdu.Decoded{}, err
		}
		plainResp, err := c.settings.cipher.Decrypt(decoded.Ciphered.Security, decoded.Ciphered.FrameCounter, decoded.Ciphered.Ciphertext)
		if err != nil {
			return apdu.Decoded{}, err
		}
		decoded, err = apdu.Decode(plainResp)
		if err != nil {
			return apdu.Decoded{}, err
		}
	}
	if decoded.Kind == apdu.KindExceptionResponse {
		return apdu.Decoded{}, dlmserrors.Newf(dlmserrors.ProtocolError, "exception-response: state=%d service=%d", decoded.ExceptionResponse.StateError, decoded.ExceptionResponse.ServiceError)
	}
	return decoded, nil
}
