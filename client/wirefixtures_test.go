package client

import (
	"bytes"
	"testing"

	"github.com/nilsby/godlms/apdu"
	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/security"
)

// buildAARE assembles a minimal AARE wire frame accepted by
// apdu.DecodeAARE, for tests that drive Connection.Associate against a
// fakeStream without a real meter on the other end.
func buildAARE(diagnostic base.SourceDiagnostic, serverSystemTitle, stoc, userInfo []byte) []byte {
	var content bytes.Buffer

	var appCtx bytes.Buffer
	appCtx.Write([]byte{0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01, byte(base.ApplicationContextLNNoCiphering)})
	apdu.EncodeTag(&content, 0xa1, appCtx.Bytes())

	apdu.EncodeTag(&content, 0xa2, []byte{0x02, 0x01, byte(base.AssociationResultAccepted)})
	apdu.EncodeTag(&content, 0xa3, []byte{0xa1, 0x03, 0x02, 0x01, byte(diagnostic)})

	if len(serverSystemTitle) > 0 {
		apdu.EncodeTag2(&content, 0xa4, 0x04, serverSystemTitle)
	}
	if len(stoc) > 0 {
		apdu.EncodeTag2(&content, 0xaa, 0x80, stoc)
	}
	apdu.EncodeTag2(&content, 0xbe, 0x04, userInfo)

	var out bytes.Buffer
	apdu.EncodeTag(&out, byte(base.TagAARE), content.Bytes())
	return out.Bytes()
}

// buildInitiateResponse assembles the plaintext xDLMS initiate-response
// body a real meter returns inside AARE.UserInformation.
func buildInitiateResponse(conformance base.Conformance, maxPduSendSize uint16, vaAddress int16) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagInitiateResponse))
	out.WriteByte(0) // no negotiated-quality-of-service
	out.WriteByte(base.DlmsVersion)
	out.Write([]byte{0x5f, 0x1f, 0x04, 0x00})
	var conf [3]byte
	conf[0] = byte(conformance >> 16)
	conf[1] = byte(conformance >> 8)
	conf[2] = byte(conformance)
	out.Write(conf[:])
	out.WriteByte(byte(maxPduSendSize >> 8))
	out.WriteByte(byte(maxPduSendSize))
	out.WriteByte(byte(uint16(vaAddress) >> 8))
	out.WriteByte(byte(uint16(vaAddress)))
	return out.Bytes()
}

func acceptedAARE(maxPduSendSize uint16) []byte {
	userInfo := buildInitiateResponse(defaultLNConformance, maxPduSendSize, 1)
	return buildAARE(base.SourceDiagnosticNone, nil, nil, userInfo)
}

func buildGetResponseNormal(invokeID byte, v axdr.Value) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagGetResponse))
	out.WriteByte(byte(base.TagGetResponseNormal))
	out.WriteByte(invokeID)
	out.WriteByte(0) // result: data follows
	_ = axdr.EncodeInto(&out, v)
	return out.Bytes()
}

func buildGetResponseBlock(invokeID byte, blockNumber uint32, last bool, chunk []byte) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagGetResponse))
	out.WriteByte(byte(base.TagGetResponseWithDataBlock))
	out.WriteByte(invokeID)
	if last {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
	var bn [4]byte
	bn[0], bn[1], bn[2], bn[3] = byte(blockNumber>>24), byte(blockNumber>>16), byte(blockNumber>>8), byte(blockNumber)
	out.Write(bn[:])
	out.WriteByte(0) // block result: success
	apdu.EncodeLength(&out, uint(len(chunk)))
	out.Write(chunk)
	return out.Bytes()
}

func buildSetResponseNormal(invokeID byte, result base.AccessResultTag) []byte {
	return []byte{byte(base.TagSetResponse), invokeID, byte(base.TagSetResponseNormal), byte(result)}
}

func buildSetResponseDataBlock(invokeID byte, blockNumber uint32) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagSetResponse))
	out.WriteByte(invokeID)
	out.WriteByte(byte(base.TagSetResponseDataBlock))
	var bn [4]byte
	bn[0], bn[1], bn[2], bn[3] = byte(blockNumber>>24), byte(blockNumber>>16), byte(blockNumber>>8), byte(blockNumber)
	out.Write(bn[:])
	return out.Bytes()
}

func buildSetResponseLastDataBlock(invokeID byte, blockNumber uint32, result base.AccessResultTag) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagSetResponse))
	out.WriteByte(invokeID)
	out.WriteByte(byte(base.TagSetResponseLastDataBlock))
	out.WriteByte(byte(result))
	var bn [4]byte
	bn[0], bn[1], bn[2], bn[3] = byte(blockNumber>>24), byte(blockNumber>>16), byte(blockNumber>>8), byte(blockNumber)
	out.Write(bn[:])
	return out.Bytes()
}

func buildActionResponseNormal(invokeID byte, result base.AccessResultTag, v *axdr.Value) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagActionResponse))
	out.WriteByte(byte(base.TagActionResponseNormal))
	out.WriteByte(invokeID)
	out.WriteByte(byte(result))
	if result == 0 && v != nil {
		out.WriteByte(1)
		out.WriteByte(0) // access-result: success
		_ = axdr.EncodeInto(&out, *v)
	}
	return out.Bytes()
}

func buildActionResponsePBlock(invokeID byte, blockNumber uint32, last bool, chunk []byte) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(base.TagActionResponse))
	out.WriteByte(byte(base.TagActionResponseWithPBlock))
	out.WriteByte(invokeID)
	if last {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
	var bn [4]byte
	bn[0], bn[1], bn[2], bn[3] = byte(blockNumber>>24), byte(blockNumber>>16), byte(blockNumber>>8), byte(blockNumber)
	out.Write(bn[:])
	apdu.EncodeLength(&out, uint(len(chunk)))
	out.Write(chunk)
	return out.Bytes()
}

func buildDataNotification(longInvokeID uint32, v axdr.Value) []byte {
	raw, err := apdu.EncodeDataNotification(apdu.DataNotification{LongInvokeID: longInvokeID, Body: v})
	if err != nil {
		panic(err)
	}
	return raw
}

// associatedConnection builds a Connection already in StateAssociated,
// bypassing Associate, for tests that only exercise Get/Set/Action.
func associatedConnection(stream base.Stream, maxPduSendSize int) *Connection {
	c := NewConnection(stream, NewSettingsWithNoAuthentication())
	c.state = StateAssociated
	c.maxPduSendSize = maxPduSendSize
	return c
}

// gmacCiphers builds a matching client/server *security.Cipher pair
// sharing master keys, mirroring security_test.go's gmacCiphers helper:
// client models this connection's side, server models the remote
// meter's side, letting a test encrypt fake responses without a live
// association.
func gmacCiphers(t *testing.T) (client, server *security.Cipher) {
	t.Helper()
	clientTitle := []byte("CLNT0001")
	serverTitle := []byte("SRVR0001")
	ctos := []byte("ctos-challenge")
	stoc := []byte("stoc-challenge")

	client, err := security.New(security.Settings{
		Mechanism:         base.AuthenticationHighGmac,
		EncryptionKey:     bytes.Repeat([]byte{0x11}, 16),
		AuthenticationKey: bytes.Repeat([]byte{0x22}, 16),
		ClientSystemTitle: clientTitle,
	})
	if err != nil {
		t.Fatalf("client New: %v", err)
	}
	if err := client.Setup(serverTitle, stoc); err != nil {
		t.Fatalf("client Setup: %v", err)
	}
	client.SetCtoS(ctos)

	server, err = security.New(security.Settings{
		Mechanism:         base.AuthenticationHighGmac,
		EncryptionKey:     bytes.Repeat([]byte{0x11}, 16),
		AuthenticationKey: bytes.Repeat([]byte{0x22}, 16),
		ClientSystemTitle: serverTitle,
	})
	if err != nil {
		t.Fatalf("server New: %v", err)
	}
	if err := server.Setup(clientTitle, ctos); err != nil {
		t.Fatalf("server Setup: %v", err)
	}
	return client, server
}

// cipheredAssociatedConnection builds a Connection already in
// StateAssociated with a client-side cipher installed, plus the
// matching server-side cipher a test uses to encrypt fake ciphered
// responses fed back through stream.
func cipheredAssociatedConnection(t *testing.T, stream base.Stream, maxPduSendSize int) (*Connection, *security.Cipher) {
	t.Helper()
	clientCipher, serverCipher := gmacCiphers(t)
	settings := &Settings{
		ApplicationContext: base.ApplicationContextLNCiphering,
		HighPriority:       true,
		ConfirmedRequests:  true,
		EmptyRLRQ:          true,
		ConformanceBlock:   defaultLNConformance | base.ConformanceGeneralProtection,
		cipher:             clientCipher,
	}
	c := NewConnection(stream, settings)
	c.state = StateAssociated
	c.maxPduSendSize = maxPduSendSize
	return c, serverCipher
}

// buildCipheredGetResponseBlock encrypts a plaintext get-response block
// PDU with server, wrapping it in the glo-get-response envelope this
// association's client cipher expects to decrypt, at invocation counter fc.
func buildCipheredGetResponseBlock(server *security.Cipher, fc uint32, invokeID byte, blockNumber uint32, last bool, chunk []byte) []byte {
	plain := buildGetResponseBlock(invokeID, blockNumber, last, chunk)
	sc := byte(base.SecurityAuthentication) | byte(base.SecurityEncryption)
	ciphertext, err := server.Encrypt(sc, fc, plain)
	if err != nil {
		panic(err)
	}
	out, err := apdu.EncodeCipheredEnvelope(apdu.CipheredEnvelope{
		Tag:          base.TagGloGetResponse,
		Security:     sc,
		FrameCounter: fc,
		Ciphertext:   ciphertext,
	})
	if err != nil {
		panic(err)
	}
	return out
}
