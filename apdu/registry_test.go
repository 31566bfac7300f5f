package apdu

import (
	"bytes"
	"testing"
	"time"

	"github.com/nilsby/godlms/axdr"
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
	"github.com/nilsby/godlms/obis"
)

func TestDecodeDispatchesGetResponseVariants(t *testing.T) {
	var valueBuf bytes.Buffer
	if err := axdr.EncodeInto(&valueBuf, axdr.Value{Tag: axdr.TagUnsigned, Value: uint8(9)}); err != nil {
		t.Fatal(err)
	}
	normal := append([]byte{byte(base.TagGetResponse), byte(base.TagGetResponseNormal), 0x81, 0x00}, valueBuf.Bytes()...)
	got, err := Decode(normal)
	if err != nil {
		t.Fatalf("Decode(normal): %v", err)
	}
	if got.Kind != KindGetResponse || got.GetResponse.Kind != GetResponseKindNormal {
		t.Fatalf("got %+v, want a normal GetResponse", got)
	}
	if got.GetResponse.Result.Data.Value != uint8(9) {
		t.Fatalf("got %v, want 9", got.GetResponse.Result.Data.Value)
	}

	block := append([]byte{byte(base.TagGetResponse), byte(base.TagGetResponseWithDataBlock), 0x81, 1}, []byte{0, 0, 0, 5}...)
	block = append(block, 0, 3, 0xaa, 0xbb, 0xcc)
	got, err = Decode(block)
	if err != nil {
		t.Fatalf("Decode(block): %v", err)
	}
	if got.Kind != KindGetResponse || got.GetResponse.Kind != GetResponseKindWithDataBlock {
		t.Fatalf("got %+v, want a data-block GetResponse", got)
	}
	if !got.GetResponse.LastBlock || got.GetResponse.BlockNumber != 5 {
		t.Fatalf("got last=%v block=%d, want last=true block=5", got.GetResponse.LastBlock, got.GetResponse.BlockNumber)
	}
	if !bytes.Equal(got.GetResponse.RawData, []byte{0xaa, 0xbb, 0xcc}) {
		t.Fatalf("got %x, want aabbcc", got.GetResponse.RawData)
	}
}

func TestDecodeSetResponseNormal(t *testing.T) {
	raw := []byte{byte(base.TagSetResponse), 0x81, byte(base.TagSetResponseNormal), byte(base.TagAccSuccess)}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != KindSetResponse || got.SetResponse.Kind != SetResponseKindNormal {
		t.Fatalf("got %+v, want a normal SetResponse", got)
	}
	if got.SetResponse.InvokeID != 0x81 || got.SetResponse.Result != base.TagAccSuccess {
		t.Fatalf("got invokeID=%d result=%v", got.SetResponse.InvokeID, got.SetResponse.Result)
	}
}

func TestDecodeActionResponseNormalWithData(t *testing.T) {
	var valBuf bytes.Buffer
	if err := axdr.EncodeInto(&valBuf, axdr.Value{Tag: axdr.TagUnsigned, Value: uint8(7)}); err != nil {
		t.Fatal(err)
	}
	raw := []byte{byte(base.TagActionResponse), byte(base.TagActionResponseNormal), 0x81, byte(base.TagAccSuccess), 1}
	raw = append(raw, 0) // choice: data (not error)
	raw = append(raw, valBuf.Bytes()...)

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != KindActionResponse || got.ActionResponse.Kind != ActionResponseKindNormal {
		t.Fatalf("got %+v, want a normal ActionResponse", got)
	}
	if got.ActionResponse.Data == nil || got.ActionResponse.Data.Data.Value != uint8(7) {
		t.Fatalf("got %+v, want data=7", got.ActionResponse.Data)
	}
}

func TestDecodeDataNotificationRoundTrip(t *testing.T) {
	ts := axdr.FromTime(time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC))
	want := DataNotification{
		LongInvokeID: 42,
		Timestamp:    &ts,
		Body:         axdr.Value{Tag: axdr.TagOctetString, Value: []byte{1, 2, 3}},
	}
	encoded, err := EncodeDataNotification(want)
	if err != nil {
		t.Fatalf("EncodeDataNotification: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindDataNotification {
		t.Fatalf("got kind %v, want KindDataNotification", decoded.Kind)
	}
	got := decoded.DataNotification
	if got.LongInvokeID != want.LongInvokeID {
		t.Fatalf("got invoke id %d, want %d", got.LongInvokeID, want.LongInvokeID)
	}
	if got.Timestamp == nil || got.Timestamp.Date != want.Timestamp.Date || got.Timestamp.Time != want.Timestamp.Time {
		t.Fatalf("got timestamp %+v, want %+v", got.Timestamp, want.Timestamp)
	}
	gotBytes, ok := got.Body.Value.([]byte)
	if !ok || !bytes.Equal(gotBytes, []byte{1, 2, 3}) {
		t.Fatalf("got body %v, want [1 2 3]", got.Body.Value)
	}
}

func TestDecodeDataNotificationWithoutTimestamp(t *testing.T) {
	want := DataNotification{LongInvokeID: 1, Body: axdr.Value{Tag: axdr.TagBoolean, Value: true}}
	encoded, err := EncodeDataNotification(want)
	if err != nil {
		t.Fatalf("EncodeDataNotification: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.DataNotification.Timestamp != nil {
		t.Fatalf("got timestamp %+v, want nil", decoded.DataNotification.Timestamp)
	}
}

func TestDecodeAARE(t *testing.T) {
	var content bytes.Buffer
	content.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName)
	content.Write([]byte{0x09})
	content.Write(applicationContextOID)
	content.WriteByte(byte(base.ApplicationContextLNCiphering))

	content.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPTitle)
	content.Write([]byte{0x03, 0x02, 0x01, byte(base.AssociationResultAccepted)})

	content.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAEQualifier)
	content.Write([]byte{0x05, 0xa1, 0x03, 0x02, 0x01, byte(base.SourceDiagnosticNone)})

	serverTitle := []byte("SRVR0001")
	content.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPInvocationID)
	EncodeLength(&content, uint(2+len(serverTitle)))
	content.WriteByte(0x04)
	content.WriteByte(byte(len(serverTitle)))
	content.Write(serverTitle)

	stoc := []byte("stoc-challenge")
	content.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeSenderAcseRequirements)
	EncodeLength(&content, uint(2+len(stoc)))
	content.WriteByte(0x80)
	content.WriteByte(byte(len(stoc)))
	content.Write(stoc)

	ui := []byte{0x01, 0x02, 0x03}
	EncodeTag2(&content, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeUserInformation, 0x04, ui)

	var full bytes.Buffer
	EncodeTag(&full, byte(base.TagAARE), content.Bytes())

	got, err := DecodeAARE(full.Bytes())
	if err != nil {
		t.Fatalf("DecodeAARE: %v", err)
	}
	if got.ApplicationContext != base.ApplicationContextLNCiphering {
		t.Errorf("got application context %v, want LNCiphering", got.ApplicationContext)
	}
	if got.Result != base.AssociationResultAccepted {
		t.Errorf("got result %v, want Accepted", got.Result)
	}
	if got.Diagnostic != base.SourceDiagnosticNone {
		t.Errorf("got diagnostic %v, want None", got.Diagnostic)
	}
	if !bytes.Equal(got.ServerSystemTitle, serverTitle) {
		t.Errorf("got server title %q, want %q", got.ServerSystemTitle, serverTitle)
	}
	if !bytes.Equal(got.StoC, stoc) {
		t.Errorf("got StoC %q, want %q", got.StoC, stoc)
	}
	if !bytes.Equal(got.UserInformation, ui) {
		t.Errorf("got user information %x, want %x", got.UserInformation, ui)
	}
}

func TestDecodeRLRE(t *testing.T) {
	if err := DecodeRLRE([]byte{byte(base.TagRLRE), 0}); err != nil {
		t.Fatalf("DecodeRLRE: %v", err)
	}
	if err := DecodeRLRE([]byte{byte(base.TagAARE), 0}); err == nil {
		t.Fatal("expected an error decoding an RLRE with the wrong leading tag")
	}

	decoded, err := Decode([]byte{byte(base.TagRLRE), 0})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindRLRE {
		t.Fatalf("got kind %v, want KindRLRE", decoded.Kind)
	}
}

func TestEncodeRLRQEmptyAndWithReason(t *testing.T) {
	empty := EncodeRLRQ(true, base.ReleaseRequestReasonNormal)
	if !bytes.Equal(empty, []byte{byte(base.TagRLRQ), 0}) {
		t.Fatalf("got %x, want empty RLRQ", empty)
	}
	withReason := EncodeRLRQ(false, base.ReleaseRequestReasonNormal)
	if len(withReason) != 5 || withReason[0] != byte(base.TagRLRQ) {
		t.Fatalf("got %x, want a 5-byte RLRQ with a reason", withReason)
	}
}

func TestDecodeExceptionResponse(t *testing.T) {
	decoded, err := Decode([]byte{byte(base.TagExceptionResponse), 1, 2})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindExceptionResponse {
		t.Fatalf("got kind %v, want KindExceptionResponse", decoded.Kind)
	}
	if decoded.ExceptionResponse.StateError != 1 || decoded.ExceptionResponse.ServiceError != 2 {
		t.Fatalf("got %+v, want {1 2}", decoded.ExceptionResponse)
	}
}

func TestDecodeConfirmedServiceError(t *testing.T) {
	decoded, err := Decode([]byte{byte(base.TagConfirmedServiceError), 0, byte(base.TagAccHardwareFault)})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindConfirmedServiceError {
		t.Fatalf("got kind %v, want KindConfirmedServiceError", decoded.Kind)
	}
	if decoded.ConfirmedServiceError.Service != base.TagAccHardwareFault {
		t.Fatalf("got %v, want HardwareFault", decoded.ConfirmedServiceError.Service)
	}
}

func TestCipheredEnvelopeRoundTripGloAndGeneral(t *testing.T) {
	glo := CipheredEnvelope{
		Tag:          base.TagGloGetResponse,
		Security:     byte(base.SecurityAuthentication) | byte(base.SecurityEncryption),
		FrameCounter: 17,
		Ciphertext:   []byte{0xde, 0xad, 0xbe, 0xef},
	}
	encoded, err := EncodeCipheredEnvelope(glo)
	if err != nil {
		t.Fatalf("EncodeCipheredEnvelope(glo): %v", err)
	}
	got, err := DecodeCipheredEnvelope(encoded)
	if err != nil {
		t.Fatalf("DecodeCipheredEnvelope(glo): %v", err)
	}
	if got.Tag != glo.Tag || got.Security != glo.Security || got.FrameCounter != glo.FrameCounter || !bytes.Equal(got.Ciphertext, glo.Ciphertext) {
		t.Fatalf("got %+v, want %+v", got, glo)
	}
	if got.SystemTitle != nil {
		t.Fatalf("got system title %x on a non-general envelope, want nil", got.SystemTitle)
	}

	general := CipheredEnvelope{
		Tag:          base.TagGeneralGloCiphering,
		SystemTitle:  []byte("SRVR0001"),
		Security:     byte(base.SecurityAuthentication) | byte(base.SecurityEncryption),
		FrameCounter: 99,
		Ciphertext:   []byte{0x01, 0x02, 0x03},
	}
	encoded, err = EncodeCipheredEnvelope(general)
	if err != nil {
		t.Fatalf("EncodeCipheredEnvelope(general): %v", err)
	}
	got, err = DecodeCipheredEnvelope(encoded)
	if err != nil {
		t.Fatalf("DecodeCipheredEnvelope(general): %v", err)
	}
	if !bytes.Equal(got.SystemTitle, general.SystemTitle) {
		t.Fatalf("got system title %q, want %q", got.SystemTitle, general.SystemTitle)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindCiphered {
		t.Fatalf("got kind %v, want KindCiphered", decoded.Kind)
	}
}

func TestEncodeAARQRedactsAuthenticationValue(t *testing.T) {
	a := AARQ{
		ApplicationContext:  base.ApplicationContextLNCiphering,
		Authentication:      base.AuthenticationHighGmac,
		ClientSystemTitle:   []byte("CLNT0001"),
		AuthenticationValue: []byte("super-secret-challenge"),
		UserInformation:     EncodeInitiateRequest(InitiateRequest{ConformanceBlock: 0, MaxPduRecvSize: 0xffff}),
	}
	full, redacted, err := EncodeAARQ(a)
	if err != nil {
		t.Fatalf("EncodeAARQ: %v", err)
	}
	if bytes.Equal(full, redacted) {
		t.Fatal("redacted AARQ must differ from the full AARQ")
	}
	if !bytes.Contains(full, a.AuthenticationValue) {
		t.Fatal("expected the full AARQ to contain the authentication value")
	}
	if bytes.Contains(redacted, a.AuthenticationValue) {
		t.Fatal("redacted AARQ must not contain the authentication value")
	}
	if full[0] != byte(base.TagAARQ) {
		t.Fatalf("got leading tag 0x%02x, want TagAARQ", full[0])
	}
}

func TestEncodeGetRequestNormal(t *testing.T) {
	item := GetRequestItem{Attribute: AttributeRef{Class: 1, Instance: obis.Code{C: 1, D: 8, E: 0, F: 255}, Attribute: 2}}
	got, err := EncodeGetRequestNormal(0xc1, item)
	if err != nil {
		t.Fatalf("EncodeGetRequestNormal: %v", err)
	}
	want := []byte{byte(base.TagGetRequest), byte(base.TagGetRequestNormal), 0xc1, 0, 1, 0, 0, 1, 8, 0, 255, 2, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestEncodeSetRequestNormal(t *testing.T) {
	item := SetRequestItem{
		Attribute: AttributeRef{Class: 1, Instance: obis.Code{F: 255}, Attribute: 2},
		Value:     axdr.Value{Tag: axdr.TagUnsigned, Value: uint8(9)},
	}
	got, err := EncodeSetRequestNormal(0xc2, item)
	if err != nil {
		t.Fatalf("EncodeSetRequestNormal: %v", err)
	}
	if got[0] != byte(base.TagSetRequest) || got[1] != 0xc2 || got[2] != byte(base.TagSetRequestNormal) {
		t.Fatalf("got %x, want a SetRequestNormal header", got)
	}
	if got[len(got)-2] != byte(axdr.TagUnsigned) || got[len(got)-1] != 9 {
		t.Fatalf("got tail %x, want the encoded value appended", got[len(got)-2:])
	}
}

func TestEncodeActionRequestNormalWithAndWithoutParameter(t *testing.T) {
	item := ActionRequestItem{Method: AttributeRef{Class: 70, Instance: obis.Code{F: 255}, Attribute: 1}}
	got, err := EncodeActionRequestNormal(0xc3, item)
	if err != nil {
		t.Fatalf("EncodeActionRequestNormal: %v", err)
	}
	if got[len(got)-1] != 0 {
		t.Fatalf("got %x, want a trailing 0 has-parameter flag", got)
	}

	param := axdr.Value{Tag: axdr.TagInteger, Value: int8(1)}
	item.Parameter = &param
	got, err = EncodeActionRequestNormal(0xc3, item)
	if err != nil {
		t.Fatalf("EncodeActionRequestNormal: %v", err)
	}
	if bytes.Equal(got[len(got)-2:], []byte{byte(axdr.TagInteger), 1}) == false {
		t.Fatalf("got tail %x, want the encoded parameter appended", got[len(got)-2:])
	}
}

func TestUnderlyingRequestTag(t *testing.T) {
	glo, err := UnderlyingRequestTag(base.TagGetRequest, false)
	if err != nil || glo != base.TagGloGetRequest {
		t.Fatalf("got %v, %v; want TagGloGetRequest, nil", glo, err)
	}
	ded, err := UnderlyingRequestTag(base.TagSetRequest, true)
	if err != nil || ded != base.TagDedSetRequest {
		t.Fatalf("got %v, %v; want TagDedSetRequest, nil", ded, err)
	}
	if _, err := UnderlyingRequestTag(base.TagAARE, false); err == nil {
		t.Fatal("expected an error for a tag with no ciphered variant")
	}
}

func TestDecodeEmptyAPDUIsMalformed(t *testing.T) {
	_, err := Decode(nil)
	if err == nil {
		t.Fatal("expected an error decoding an empty APDU")
	}
	if kind, ok := dlmserrors.Of(err); !ok || kind != dlmserrors.Malformed {
		t.Fatalf("got error %v, want Malformed", err)
	}
}

func TestDecodeUnrecognisedTagIsUnknownAPDU(t *testing.T) {
	_, err := Decode([]byte{0xff})
	if err == nil {
		t.Fatal("expected an error decoding an unrecognised APDU tag")
	}
	if kind, ok := dlmserrors.Of(err); !ok || kind != dlmserrors.UnknownAPDU {
		t.Fatalf("got error %v, want UnknownAPDU", err)
	}
}
