// Package client implements the Connection FSM of spec.md §4.4: the
// association lifecycle, the request/response exchange for Get/Set/Action,
// and DataNotification reception. It is the only package that ties apdu,
// security and a base.Stream transport together, grounded on
// dlmsal/dlmsal.go, dlmsal/dlmstransport.go, dlmsal/dlmslnget.go,
// dlmsal/dlmslnset.go, dlmsal/dlmslnaction.go and dlmsal/dlmslnauth.go.
package client

import (
	"github.com/nilsby/godlms/base"
	"github.com/nilsby/godlms/dlmserrors"
	"github.com/nilsby/godlms/security"
)

// Settings configures one association, grounded on
// dlmsal/dlmsal.go: DlmsSettings. Short-name referencing has no field
// here (Non-goal); every field concerns logical-name addressing.
type Settings struct {
	ConformanceBlock   base.Conformance
	MaxPduRecvSize     uint16
	HighPriority       bool
	ConfirmedRequests  bool
	EmptyRLRQ          bool
	ApplicationContext base.ApplicationContext
	UseGeneralCiphering bool
	ShowSecuredValues  bool // disables authentication-value log redaction; debug only

	// Populated from the AARE during Associate; read-only for callers.
	ServerSystemTitle []byte
	SourceDiagnostic  base.SourceDiagnostic
	VAAddress         int16

	cipher       *security.Cipher
	frameCounter uint32

	// lastServerFrameCounter/sawServerFrameCounter track the invocation
	// counter monotonicity invariant of spec.md §3 across this
	// association's lifetime; see Connection.checkServerFrameCounter.
	lastServerFrameCounter uint32
	sawServerFrameCounter  bool
}

// defaultLNConformance mirrors dlmsal.go's NewSettingsWith*LN constructors:
// block transfer on every service plus selective access and the one-item
// optimization bits.
const defaultLNConformance = base.ConformanceBlockTransferWithGetOrRead |
	base.ConformanceBlockTransferWithSetOrWrite | base.ConformanceBlockTransferWithAction |
	base.ConformanceAction | base.ConformanceGet | base.ConformanceSet |
	base.ConformanceSelectiveAccess | base.ConformanceMultipleReferences |
	base.ConformanceAttribute0SupportedWithGet

// NewSettingsWithNoAuthentication mirrors dlmsal.NewSettingsWithNoAuthenticationLN.
func NewSettingsWithNoAuthentication() *Settings {
	return &Settings{
		ApplicationContext: base.ApplicationContextLNNoCiphering,
		HighPriority:       true,
		ConfirmedRequests:  true,
		EmptyRLRQ:          true,
		ConformanceBlock:   defaultLNConformance,
	}
}

// NewSettingsWithLowAuthentication mirrors dlmsal.NewSettingsWithLowAuthenticationLN.
func NewSettingsWithLowAuthentication(password string) (*Settings, error) {
	cipher, err := security.New(security.Settings{
		Mechanism: base.AuthenticationLow,
		Password:  []byte(password),
	})
	if err != nil {
		return nil, err
	}
	return &Settings{
		ApplicationContext: base.ApplicationContextLNNoCiphering,
		HighPriority:       true,
		ConfirmedRequests:  true,
		EmptyRLRQ:          true,
		ConformanceBlock:   defaultLNConformance,
		cipher:             cipher,
	}, nil
}

// NewSettingsWithCiphering mirrors dlmsal.NewSettingsWithCipheringLN: an
// association secured with AES-GCM-128 (suite 0) and authenticated with
// HLS-GMAC. systemTitle is this client's 8-byte system title, ctos is the
// client-to-server challenge placed in the AARQ's calling-authentication
// value, fc is the starting frame counter.
func NewSettingsWithCiphering(systemTitle, encryptionKey, authenticationKey, ctos []byte, fc uint32) (*Settings, error) {
	if len(systemTitle) != 8 {
		return nil, dlmserrors.New(dlmserrors.ProtocolError, "client system title must be 8 bytes")
	}
	if len(ctos) == 0 {
		return nil, dlmserrors.New(dlmserrors.ProtocolError, "ctos challenge must not be empty")
	}
	cipher, err := security.New(security.Settings{
		Mechanism:         base.AuthenticationHighGmac,
		EncryptionKey:     encryptionKey,
		AuthenticationKey: authenticationKey,
		ClientSystemTitle: systemTitle,
	})
	if err != nil {
		return nil, err
	}
	cipher.SetCtoS(ctos)
	return &Settings{
		ApplicationContext: base.ApplicationContextLNCiphering,
		HighPriority:       true,
		ConfirmedRequests:  true,
		EmptyRLRQ:          true,
		ConformanceBlock:   defaultLNConformance | base.ConformanceGeneralProtection,
		cipher:             cipher,
		frameCounter:       fc,
	}, nil
}

func (s *Settings) invokebyte() byte {
	var b byte
	if s.HighPriority {
		b |= 0x80
	}
	if s.ConfirmedRequests {
		b |= 0x40
	}
	return b
}

// securityControl returns the security-control byte this association
// ciphers with: authenticated and encrypted whenever a cipher is set, none
// otherwise, grounded on dlmsal.NewSettingsWithCipheringLN's Security field.
func (s *Settings) securityControl() byte {
	if s.cipher == nil {
		return byte(base.SecurityNone)
	}
	return byte(base.SecurityAuthentication) | byte(base.SecurityEncryption)
}
