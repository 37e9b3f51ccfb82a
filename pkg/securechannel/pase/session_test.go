package pase

import (
	"bytes"
	"testing"

	"github.com/larkspur-iot/chip-core/pkg/crypto"
)

// newTestPair builds a matching initiator/responder for the SDK test
// passcode. The responder gets a verifier derived from the same passcode.
func newTestPair(t *testing.T, salt []byte) (*Session, *Session) {
	t.Helper()
	verifier, err := GenerateVerifier(sdkPasscode, salt, sdkIterations)
	if err != nil {
		t.Fatalf("GenerateVerifier: %v", err)
	}
	initiator, err := NewInitiator(sdkPasscode)
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	responder, err := NewResponder(verifier, salt, sdkIterations)
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}
	return initiator, responder
}

// runHandshake pumps all four legs plus the closing status report.
func runHandshake(t *testing.T, initiator, responder *Session) {
	t.Helper()
	pbkdfReq, err := initiator.Start(1000)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	pbkdfResp, err := responder.HandlePBKDFParamRequest(pbkdfReq, 2000)
	if err != nil {
		t.Fatalf("HandlePBKDFParamRequest: %v", err)
	}
	pake1, err := initiator.HandlePBKDFParamResponse(pbkdfResp)
	if err != nil {
		t.Fatalf("HandlePBKDFParamResponse: %v", err)
	}
	pake2, err := responder.HandlePake1(pake1)
	if err != nil {
		t.Fatalf("HandlePake1: %v", err)
	}
	pake3, err := initiator.HandlePake2(pake2)
	if err != nil {
		t.Fatalf("HandlePake2: %v", err)
	}
	_, success, err := responder.HandlePake3(pake3)
	if err != nil {
		t.Fatalf("HandlePake3: %v", err)
	}
	if err := initiator.HandleStatusReport(success); err != nil {
		t.Fatalf("HandleStatusReport: %v", err)
	}
}

func TestHandshakeStatesAndKeys(t *testing.T) {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i)
	}
	initiator, responder := newTestPair(t, salt)

	// Walk the legs one at a time, checking each side's state after its
	// own transition.
	pbkdfReq, err := initiator.Start(1000)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := initiator.State(); got != StateWaitingPBKDFResponse {
		t.Errorf("initiator state = %v, want WaitingPBKDFResponse", got)
	}

	pbkdfResp, err := responder.HandlePBKDFParamRequest(pbkdfReq, 2000)
	if err != nil {
		t.Fatalf("HandlePBKDFParamRequest: %v", err)
	}
	if got := responder.State(); got != StateWaitingPake1 {
		t.Errorf("responder state = %v, want WaitingPake1", got)
	}

	pake1, err := initiator.HandlePBKDFParamResponse(pbkdfResp)
	if err != nil {
		t.Fatalf("HandlePBKDFParamResponse: %v", err)
	}
	if got := initiator.State(); got != StateWaitingPake2 {
		t.Errorf("initiator state = %v, want WaitingPake2", got)
	}

	pake2, err := responder.HandlePake1(pake1)
	if err != nil {
		t.Fatalf("HandlePake1: %v", err)
	}
	if got := responder.State(); got != StateWaitingPake3 {
		t.Errorf("responder state = %v, want WaitingPake3", got)
	}

	pake3, err := initiator.HandlePake2(pake2)
	if err != nil {
		t.Fatalf("HandlePake2: %v", err)
	}
	if got := initiator.State(); got != StateWaitingStatusReport {
		t.Errorf("initiator state = %v, want WaitingStatusReport", got)
	}

	_, success, err := responder.HandlePake3(pake3)
	if err != nil || !success {
		t.Fatalf("HandlePake3 = (%v, %v), want success", success, err)
	}
	if got := responder.State(); got != StateComplete {
		t.Errorf("responder state = %v, want Complete", got)
	}

	if err := initiator.HandleStatusReport(true); err != nil {
		t.Fatalf("HandleStatusReport: %v", err)
	}
	if got := initiator.State(); got != StateComplete {
		t.Errorf("initiator state = %v, want Complete", got)
	}

	// Both sides must hold identical keys and each other's session ids.
	ik, rk := initiator.SessionKeys(), responder.SessionKeys()
	if ik == nil || rk == nil {
		t.Fatal("session keys missing after completion")
	}
	if ik.I2RKey != rk.I2RKey || ik.R2IKey != rk.R2IKey ||
		ik.AttestationChallenge != rk.AttestationChallenge {
		t.Error("derived keys differ between the two sides")
	}
	if initiator.LocalSessionID() != 1000 || initiator.PeerSessionID() != 2000 {
		t.Errorf("initiator ids = (%d, %d), want (1000, 2000)",
			initiator.LocalSessionID(), initiator.PeerSessionID())
	}
	if responder.LocalSessionID() != 2000 || responder.PeerSessionID() != 1000 {
		t.Errorf("responder ids = (%d, %d), want (2000, 1000)",
			responder.LocalSessionID(), responder.PeerSessionID())
	}
}

func TestWrongPasscodeFailsAtPake2(t *testing.T) {
	salt := make([]byte, 32)
	verifier, _ := GenerateVerifier(sdkPasscode, salt, sdkIterations)

	initiator, _ := NewInitiator(12341234) // not the verifier's passcode
	responder, _ := NewResponder(verifier, salt, sdkIterations)

	pbkdfReq, _ := initiator.Start(1000)
	pbkdfResp, _ := responder.HandlePBKDFParamRequest(pbkdfReq, 2000)
	pake1, _ := initiator.HandlePBKDFParamResponse(pbkdfResp)
	pake2, _ := responder.HandlePake1(pake1)

	// Mismatched w0/w1 shows up as a failed cB verification here.
	if _, err := initiator.HandlePake2(pake2); err == nil {
		t.Error("initiator accepted cB derived from a different passcode")
	}
}

func TestInitiatorWithKnownParams(t *testing.T) {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i)
	}
	verifier, _ := GenerateVerifier(sdkPasscode, salt, sdkIterations)
	initiator, err := NewInitiatorWithParams(sdkPasscode, salt, sdkIterations)
	if err != nil {
		t.Fatalf("NewInitiatorWithParams: %v", err)
	}
	responder, _ := NewResponder(verifier, salt, sdkIterations)

	runHandshake(t, initiator, responder)

	if initiator.State() != StateComplete || responder.State() != StateComplete {
		t.Errorf("states = %v/%v, want Complete/Complete",
			initiator.State(), responder.State())
	}
}

func TestOutOfOrderMessagesRejected(t *testing.T) {
	salt := make([]byte, 32)
	verifier, _ := GenerateVerifier(sdkPasscode, salt, sdkIterations)

	t.Run("double start", func(t *testing.T) {
		s, _ := NewInitiator(sdkPasscode)
		s.Start(1000)
		if _, err := s.Start(1001); err != ErrInvalidState {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})
	t.Run("responder cannot start", func(t *testing.T) {
		s, _ := NewResponder(verifier, salt, sdkIterations)
		if _, err := s.Start(1000); err != ErrInvalidState {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})
	t.Run("initiator fed pake1", func(t *testing.T) {
		s, _ := NewInitiator(sdkPasscode)
		if _, err := s.HandlePake1(nil); err != ErrInvalidState {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})
	t.Run("responder fed pake3 first", func(t *testing.T) {
		s, _ := NewResponder(verifier, salt, sdkIterations)
		if _, _, err := s.HandlePake3(nil); err != ErrInvalidState {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})
	t.Run("pbkdf response before start", func(t *testing.T) {
		s, _ := NewInitiator(sdkPasscode)
		if _, err := s.HandlePBKDFParamResponse(nil); err != ErrInvalidState {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})
	t.Run("pake2 before pbkdf response", func(t *testing.T) {
		s, _ := NewInitiator(sdkPasscode)
		s.Start(1000)
		if _, err := s.HandlePake2(nil); err != ErrInvalidState {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})
	t.Run("status report before pake3", func(t *testing.T) {
		s, _ := NewInitiator(sdkPasscode)
		if err := s.HandleStatusReport(true); err != ErrInvalidState {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})
}

func TestFailureStatusReportFailsInitiator(t *testing.T) {
	salt := make([]byte, 32)
	initiator, responder := newTestPair(t, salt)

	pbkdfReq, _ := initiator.Start(1000)
	pbkdfResp, _ := responder.HandlePBKDFParamRequest(pbkdfReq, 2000)
	pake1, _ := initiator.HandlePBKDFParamResponse(pbkdfResp)
	pake2, _ := responder.HandlePake1(pake1)
	initiator.HandlePake2(pake2)

	if initiator.State() != StateWaitingStatusReport {
		t.Fatalf("state = %v, want WaitingStatusReport", initiator.State())
	}
	if err := initiator.HandleStatusReport(false); err != ErrInvalidStatusReport {
		t.Errorf("err = %v, want ErrInvalidStatusReport", err)
	}
	if initiator.State() != StateFailed {
		t.Errorf("state = %v, want Failed", initiator.State())
	}
}

func TestCorruptedPake3Rejected(t *testing.T) {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i)
	}
	initiator, responder := newTestPair(t, salt)

	pbkdfReq, _ := initiator.Start(1000)
	pbkdfResp, _ := responder.HandlePBKDFParamRequest(pbkdfReq, 2000)
	pake1, _ := initiator.HandlePBKDFParamResponse(pbkdfResp)
	pake2, _ := responder.HandlePake1(pake1)
	pake3Data, _ := initiator.HandlePake2(pake2)

	pake3, err := DecodePake3(pake3Data)
	if err != nil {
		t.Fatalf("DecodePake3: %v", err)
	}
	pake3.CA[0] ^= 0xFF
	corrupted, err := pake3.Encode()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}

	_, success, err := responder.HandlePake3(corrupted)
	if err != ErrConfirmationFailed || success {
		t.Errorf("HandlePake3 = (%v, %v), want ErrConfirmationFailed", success, err)
	}
	if responder.State() != StateFailed {
		t.Errorf("state = %v, want Failed", responder.State())
	}
}

func TestMRPParameterExchange(t *testing.T) {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i)
	}
	initiator, responder := newTestPair(t, salt)

	initiatorMRP := &MRPParameters{IdleRetransTimeout: 1000, ActiveRetransTimeout: 2000, ActiveThreshold: 4000}
	responderMRP := &MRPParameters{IdleRetransTimeout: 3000, ActiveRetransTimeout: 5000, ActiveThreshold: 6000}
	initiator.SetLocalMRPParams(initiatorMRP)
	responder.SetLocalMRPParams(responderMRP)

	runHandshake(t, initiator, responder)

	got := initiator.PeerMRPParams()
	if got == nil || *got != *responderMRP {
		t.Errorf("initiator peer MRP = %+v, want %+v", got, responderMRP)
	}
	got = responder.PeerMRPParams()
	if got == nil || *got != *initiatorMRP {
		t.Errorf("responder peer MRP = %+v, want %+v", got, initiatorMRP)
	}
}

func TestHandshakeWithoutMRPParams(t *testing.T) {
	salt := make([]byte, 32)
	initiator, responder := newTestPair(t, salt)

	runHandshake(t, initiator, responder)

	if initiator.State() != StateComplete || responder.State() != StateComplete {
		t.Fatalf("states = %v/%v, want Complete/Complete",
			initiator.State(), responder.State())
	}
	if initiator.PeerMRPParams() != nil || responder.PeerMRPParams() != nil {
		t.Error("peer MRP params should be nil when never advertised")
	}
}

// Session-key expansion vector from the SDK's TestSessionKeystore.cpp;
// pins our HKDF split against the reference.
func TestSessionKeyExpansionSDKVector(t *testing.T) {
	okm, err := crypto.HKDFSHA256([]byte("secret"), []byte("salt123"), []byte("info123"), 48)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}

	wantI2R := []byte{
		0xa1, 0x34, 0xe2, 0x84, 0xe8, 0x62, 0x84, 0x86,
		0xf4, 0xd6, 0x20, 0xa7, 0x11, 0xf3, 0xcb, 0x50,
	}
	wantR2I := []byte{
		0x8a, 0x84, 0xa7, 0x4c, 0x15, 0x50, 0xcf, 0x1d,
		0xc5, 0x7e, 0x5f, 0x8a, 0x09, 0x9d, 0xcf, 0x37,
	}
	wantAttestation := []byte{
		0x73, 0x91, 0x84, 0xdd, 0x14, 0x65, 0x85, 0x64,
		0x73, 0x70, 0x66, 0x61, 0xf5, 0x11, 0x6b, 0xe5,
	}

	if !bytes.Equal(okm[0:16], wantI2R) {
		t.Errorf("I2R:\ngot  %x\nwant %x", okm[0:16], wantI2R)
	}
	if !bytes.Equal(okm[16:32], wantR2I) {
		t.Errorf("R2I:\ngot  %x\nwant %x", okm[16:32], wantR2I)
	}
	if !bytes.Equal(okm[32:48], wantAttestation) {
		t.Errorf("attestation:\ngot  %x\nwant %x", okm[32:48], wantAttestation)
	}
}
