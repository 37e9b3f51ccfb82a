package pase

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/crypto"
	"github.com/larkspur-iot/chip-core/pkg/crypto/spake2p"
)

// Role distinguishes the two sides of the handshake.
type Role int

const (
	// RoleInitiator is the commissioner; it knows the passcode.
	RoleInitiator Role = iota
	// RoleResponder is the commissionee; it holds only the verifier.
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	}
	return "Unknown"
}

// State is the position in the four-leg handshake. Each side only ever
// visits its own half of the waiting states.
type State int

const (
	StateInit State = iota
	StateWaitingPBKDFResponse // initiator, after PBKDFParamRequest
	StateWaitingPake1         // responder, after PBKDFParamResponse
	StateWaitingPake2         // initiator, after Pake1
	StateWaitingPake3         // responder, after Pake2
	StateWaitingStatusReport  // initiator, after Pake3
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateWaitingPBKDFResponse:
		return "WaitingPBKDFResponse"
	case StateWaitingPake1:
		return "WaitingPake1"
	case StateWaitingPake2:
		return "WaitingPake2"
	case StateWaitingPake3:
		return "WaitingPake3"
	case StateWaitingStatusReport:
		return "WaitingStatusReport"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	}
	return "Unknown"
}

// Session drives one side of a PASE handshake. Each HandleX method
// consumes exactly one inbound message and produces the next outbound one;
// the caller moves the bytes.
//
// Initiator: NewInitiator -> Start -> HandlePBKDFParamResponse ->
// HandlePake2 -> HandleStatusReport -> SessionKeys.
//
// Responder: NewResponder -> HandlePBKDFParamRequest -> HandlePake1 ->
// HandlePake3 -> SessionKeys.
type Session struct {
	role  Role
	state State

	passcode   uint32    // initiator only
	verifier   *Verifier // responder only
	salt       []byte
	iterations uint32

	localSessionID uint16
	peerSessionID  uint16

	localRandom [RandomSize]byte
	peerRandom  [RandomSize]byte

	// contextHash binds the SPAKE2+ transcript to this handshake:
	// SHA-256 over the context prefix and both raw PBKDF messages.
	contextHash    []byte
	pbkdfReqBytes  []byte
	pbkdfRespBytes []byte

	spake *spake2p.SPAKE2P
	keys  *SessionKeys

	localMRPParams *MRPParameters
	peerMRPParams  *MRPParameters

	rand io.Reader // swappable for tests

	mu sync.Mutex
}

// NewInitiator creates the commissioner side; the PBKDF parameters will
// come from the responder.
func NewInitiator(passcode uint32) (*Session, error) {
	if err := ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	return &Session{
		role:     RoleInitiator,
		state:    StateInit,
		passcode: passcode,
		rand:     rand.Reader,
	}, nil
}

// NewInitiatorWithParams creates a commissioner that already knows salt
// and iteration count (e.g. from out-of-band configuration).
func NewInitiatorWithParams(passcode uint32, salt []byte, iterations uint32) (*Session, error) {
	if err := ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	if err := validatePBKDFParams(salt, iterations); err != nil {
		return nil, err
	}
	return &Session{
		role:       RoleInitiator,
		state:      StateInit,
		passcode:   passcode,
		salt:       copyBytes(salt),
		iterations: iterations,
		rand:       rand.Reader,
	}, nil
}

// NewResponder creates the commissionee side from a stored verifier.
func NewResponder(verifier *Verifier, salt []byte, iterations uint32) (*Session, error) {
	if verifier == nil {
		return nil, ErrInvalidMessage
	}
	if err := validatePBKDFParams(salt, iterations); err != nil {
		return nil, err
	}
	return &Session{
		role:       RoleResponder,
		state:      StateInit,
		verifier:   verifier,
		salt:       copyBytes(salt),
		iterations: iterations,
		rand:       rand.Reader,
	}, nil
}

// require checks that the session is on the expected side and at the
// expected point of the handshake. Caller holds s.mu.
func (s *Session) require(role Role, state State) error {
	if s.role != role || s.state != state {
		return ErrInvalidState
	}
	return nil
}

// Start emits the PBKDFParamRequest that opens the handshake (initiator).
func (s *Session) Start(localSessionID uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(RoleInitiator, StateInit); err != nil {
		return nil, err
	}

	s.localSessionID = localSessionID
	if _, err := io.ReadFull(s.rand, s.localRandom[:]); err != nil {
		return nil, err
	}

	req := &PBKDFParamRequest{
		InitiatorRandom:    s.localRandom,
		InitiatorSessionID: localSessionID,
		PasscodeID:         DefaultPasscodeID,
		HasPBKDFParameters: s.salt != nil && s.iterations > 0,
		MRPParams:          s.localMRPParams,
	}
	data, err := req.Encode()
	if err != nil {
		return nil, err
	}

	s.pbkdfReqBytes = data
	s.state = StateWaitingPBKDFResponse
	return data, nil
}

// HandlePBKDFParamRequest consumes the opening request and emits the
// PBKDFParamResponse (responder).
func (s *Session) HandlePBKDFParamRequest(data []byte, localSessionID uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(RoleResponder, StateInit); err != nil {
		return nil, err
	}

	req, err := DecodePBKDFParamRequest(data)
	if err != nil {
		return nil, err
	}
	if req.PasscodeID != DefaultPasscodeID {
		return nil, ErrInvalidPasscodeID
	}

	// The raw request bytes go into the transcript hash verbatim.
	s.pbkdfReqBytes = data
	s.localSessionID = localSessionID
	s.peerSessionID = req.InitiatorSessionID
	s.peerRandom = req.InitiatorRandom
	s.peerMRPParams = req.MRPParams

	if _, err := io.ReadFull(s.rand, s.localRandom[:]); err != nil {
		return nil, err
	}

	resp := &PBKDFParamResponse{
		InitiatorRandom:    req.InitiatorRandom,
		ResponderRandom:    s.localRandom,
		ResponderSessionID: localSessionID,
		MRPParams:          s.localMRPParams,
	}
	if !req.HasPBKDFParameters {
		resp.PBKDFParams = &PBKDFParameters{Iterations: s.iterations, Salt: s.salt}
	}

	respData, err := resp.Encode()
	if err != nil {
		return nil, err
	}
	s.pbkdfRespBytes = respData
	s.computeContext()

	s.spake, err = spake2p.NewVerifier(s.contextHash, nil, nil, s.verifier.W0, s.verifier.L)
	if err != nil {
		return nil, err
	}

	s.state = StateWaitingPake1
	return respData, nil
}

// HandlePBKDFParamResponse consumes the responder's parameters and emits
// Pake1 (initiator).
func (s *Session) HandlePBKDFParamResponse(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(RoleInitiator, StateWaitingPBKDFResponse); err != nil {
		return nil, err
	}

	resp, err := DecodePBKDFParamResponse(data)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(resp.InitiatorRandom[:], s.localRandom[:]) != 1 {
		return nil, ErrRandomMismatch
	}

	s.pbkdfRespBytes = data
	s.peerSessionID = resp.ResponderSessionID
	s.peerRandom = resp.ResponderRandom
	s.peerMRPParams = resp.MRPParams

	if s.salt == nil && resp.PBKDFParams != nil {
		s.salt = resp.PBKDFParams.Salt
		s.iterations = resp.PBKDFParams.Iterations
	}
	if s.salt == nil || s.iterations == 0 {
		return nil, ErrInvalidMessage
	}

	s.computeContext()

	w0, w1, err := ComputeW0W1(s.passcode, s.salt, s.iterations)
	if err != nil {
		return nil, err
	}
	s.spake, err = spake2p.NewProver(s.contextHash, nil, nil, w0, w1)
	if err != nil {
		return nil, err
	}

	pA, err := s.spake.GenerateShare()
	if err != nil {
		return nil, err
	}
	out, err := (&Pake1{PA: pA}).Encode()
	if err != nil {
		return nil, err
	}

	s.state = StateWaitingPake2
	return out, nil
}

// HandlePake1 consumes pA and emits Pake2 with pB and cB (responder).
func (s *Session) HandlePake1(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(RoleResponder, StateWaitingPake1); err != nil {
		return nil, err
	}

	pake1, err := DecodePake1(data)
	if err != nil {
		return nil, err
	}

	pB, err := s.spake.GenerateShare()
	if err != nil {
		return nil, err
	}
	if err := s.spake.ProcessPeerShare(pake1.PA); err != nil {
		return nil, err
	}
	cB, err := s.spake.Confirmation()
	if err != nil {
		return nil, err
	}

	out, err := (&Pake2{PB: pB, CB: cB}).Encode()
	if err != nil {
		return nil, err
	}

	s.state = StateWaitingPake3
	return out, nil
}

// HandlePake2 verifies cB and emits Pake3 with cA (initiator).
func (s *Session) HandlePake2(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(RoleInitiator, StateWaitingPake2); err != nil {
		return nil, err
	}

	pake2, err := DecodePake2(data)
	if err != nil {
		return nil, err
	}

	if err := s.spake.ProcessPeerShare(pake2.PB); err != nil {
		return nil, err
	}
	if err := s.spake.VerifyPeerConfirmation(pake2.CB); err != nil {
		return nil, ErrConfirmationFailed
	}
	cA, err := s.spake.Confirmation()
	if err != nil {
		return nil, err
	}

	out, err := (&Pake3{CA: cA}).Encode()
	if err != nil {
		return nil, err
	}

	s.state = StateWaitingStatusReport
	return out, nil
}

// HandlePake3 verifies cA and, on success, derives the session keys
// (responder). The caller is responsible for sending the success
// StatusReport.
func (s *Session) HandlePake3(data []byte) (statusReport []byte, success bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(RoleResponder, StateWaitingPake3); err != nil {
		return nil, false, err
	}

	pake3, err := DecodePake3(data)
	if err != nil {
		return nil, false, err
	}

	if err := s.spake.VerifyPeerConfirmation(pake3.CA); err != nil {
		s.state = StateFailed
		return nil, false, ErrConfirmationFailed
	}
	if err := s.deriveSessionKeys(); err != nil {
		return nil, false, err
	}

	s.state = StateComplete
	return nil, true, nil
}

// HandleStatusReport finishes the handshake on the initiator once the
// responder's StatusReport arrived. The caller decodes the report and
// passes only its verdict.
func (s *Session) HandleStatusReport(isSuccess bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(RoleInitiator, StateWaitingStatusReport); err != nil {
		return err
	}
	if !isSuccess {
		s.state = StateFailed
		return ErrInvalidStatusReport
	}
	if err := s.deriveSessionKeys(); err != nil {
		return err
	}
	s.state = StateComplete
	return nil
}

// computeContext hashes the context prefix and both raw PBKDF messages
// into the transcript binding.
func (s *Session) computeContext() {
	h := sha256.New()
	h.Write([]byte(ContextPrefix))
	h.Write(s.pbkdfReqBytes)
	h.Write(s.pbkdfRespBytes)
	s.contextHash = h.Sum(nil)
}

// deriveSessionKeys expands Ke into I2R, R2I and the attestation
// challenge: HKDF-SHA-256(Ke, salt=[], info="SessionKeys", 48).
func (s *Session) deriveSessionKeys() error {
	ke := s.spake.SharedSecret()
	if len(ke) == 0 {
		return ErrSessionNotReady
	}

	okm, err := crypto.HKDFSHA256(ke, nil, []byte("SessionKeys"), 48)
	if err != nil {
		return err
	}

	s.keys = &SessionKeys{}
	copy(s.keys.I2RKey[:], okm[0:16])
	copy(s.keys.R2IKey[:], okm[16:32])
	copy(s.keys.AttestationChallenge[:], okm[32:48])
	return nil
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns which side this session is.
func (s *Session) Role() Role { return s.role }

// SessionKeys returns the derived keys, or nil before completion.
func (s *Session) SessionKeys() *SessionKeys {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateComplete {
		return nil
	}
	return s.keys
}

// LocalSessionID returns the id we allocated for the new session.
func (s *Session) LocalSessionID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSessionID
}

// PeerSessionID returns the id the peer allocated.
func (s *Session) PeerSessionID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerSessionID
}

// SetLocalMRPParams sets the MRP timing hints to advertise. Must be
// called before the first leg is built.
func (s *Session) SetLocalMRPParams(params *MRPParameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localMRPParams = params
}

// PeerMRPParams returns the peer's advertised MRP timing, or nil.
func (s *Session) PeerMRPParams() *MRPParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerMRPParams
}

// SetRandom swaps the randomness source; tests use this for determinism.
func (s *Session) SetRandom(r io.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rand = r
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
