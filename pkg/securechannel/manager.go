package securechannel

import (
	"errors"
	"sync"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/securechannel/pase"
	"github.com/larkspur-iot/chip-core/pkg/session"
)

const (
	// DefaultBusyWaitTime is the retry hint (ms) sent when a second
	// handshake arrives on a busy exchange.
	DefaultBusyWaitTime = 5000

	// HandshakeTimeout bounds how long a half-finished handshake may
	// linger before CleanupExpiredHandshakes reaps it.
	HandshakeTimeout = 60 * time.Second
)

var (
	ErrNoHandler           = errors.New("securechannel: no handler for message type")
	ErrHandshakeInProgress = errors.New("securechannel: handshake already in progress")
	ErrNoActiveHandshake   = errors.New("securechannel: no active handshake")
	ErrSessionTableFull    = errors.New("securechannel: session table full")
	ErrInvalidOpcode       = errors.New("securechannel: invalid opcode for current state")
	ErrSessionClosed       = errors.New("securechannel: session closed by peer")
	ErrCASENotImplemented  = errors.New("securechannel: CASE session establishment is not implemented by this core")
)

// Message pairs a Secure Channel opcode with its payload; Route consumes
// and produces these symmetrically.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// NewMessage wraps payload; nil payload yields nil (no message to send).
func NewMessage(opcode Opcode, payload []byte) *Message {
	if payload == nil {
		return nil
	}
	return &Message{Opcode: opcode, Payload: payload}
}

// Callbacks notifies the embedding runtime of session lifecycle events.
type Callbacks struct {
	// OnSessionEstablished fires when a handshake completes and the
	// secure context has been installed.
	OnSessionEstablished func(ctx *session.SecureContext)

	// OnSessionError fires when establishment fails; stage names the
	// step that failed.
	OnSessionError func(err error, stage string)

	// OnSessionClosed fires when the peer sent CloseSession.
	OnSessionClosed func(localSessionID uint16)

	// OnResponderBusy fires when a responder asked us to back off.
	OnResponderBusy func(waitTimeMs uint16)
}

// ManagerConfig wires the Manager to its collaborators.
type ManagerConfig struct {
	// SessionManager owns the secure session contexts.
	SessionManager *session.Manager

	Callbacks Callbacks
}

// handshake is one in-flight PASE exchange, keyed by exchange id.
type handshake struct {
	pase           *pase.Session
	localSessionID uint16
	startedAt      time.Time
}

// responderConfig is set while a commissioning window is open; it is what
// lets PBKDFParamRequest messages be answered.
type responderConfig struct {
	verifier   *pase.Verifier
	salt       []byte
	iterations uint32
}

// Manager routes Secure Channel opcodes: PASE legs to the handshake state
// machine, status reports to the right party, reserved CASE opcodes to a
// clean rejection. The certificate machinery behind CASE lives with an
// external collaborator, so only the opcode surface is recognized here.
type Manager struct {
	config ManagerConfig

	mu         sync.RWMutex
	handshakes map[uint16]*handshake
	responder  *responderConfig
}

// NewManager creates a secure channel manager.
func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		config:     config,
		handshakes: make(map[uint16]*handshake),
	}
}

// permitted reports whether an opcode may appear during session
// establishment at all.
func permitted(o Opcode) bool {
	return o.IsPASE() || o.IsCASE() || o == OpcodeStandaloneAck || o == OpcodeStatusReport
}

// Route dispatches one inbound message and returns the response to send,
// if any.
func (m *Manager) Route(exchangeID uint16, msg *Message) (*Message, error) {
	if msg == nil || !permitted(msg.Opcode) {
		return nil, ErrInvalidOpcode
	}

	switch {
	case msg.Opcode.IsPASE():
		return m.routePASE(exchangeID, msg.Opcode, msg.Payload)
	case msg.Opcode.IsCASE():
		// Reserved entry point; a certificate-capable build would hand
		// this to its CASE engine.
		return nil, ErrCASENotImplemented
	case msg.Opcode == OpcodeStatusReport:
		return m.routeStatusReport(exchangeID, msg.Payload)
	default: // OpcodeStandaloneAck, consumed by the MRP layer already
		return nil, nil
	}
}

// routePASE advances the handshake on this exchange by one leg.
func (m *Manager) routePASE(exchangeID uint16, opcode Opcode, payload []byte) (*Message, error) {
	resp, established, err := m.advancePASE(exchangeID, opcode, payload)
	if err != nil {
		return nil, err
	}
	// Callbacks run outside the lock.
	if established != nil && m.config.Callbacks.OnSessionEstablished != nil {
		m.config.Callbacks.OnSessionEstablished(established)
	}
	return resp, nil
}

func (m *Manager) advancePASE(exchangeID uint16, opcode Opcode, payload []byte) (*Message, *session.SecureContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hs, exists := m.handshakes[exchangeID]

	if opcode == OpcodePBKDFParamRequest {
		if exists {
			// Second request on a live exchange: tell them to wait.
			return NewMessage(OpcodeStatusReport, Busy(DefaultBusyWaitTime).Encode()), nil, nil
		}
		resp, err := m.acceptPBKDFParamRequest(exchangeID, payload)
		return resp, nil, err
	}

	if !exists || hs.pase == nil {
		return nil, nil, ErrNoActiveHandshake
	}

	switch opcode {
	case OpcodePBKDFParamResponse:
		out, err := hs.pase.HandlePBKDFParamResponse(payload)
		return NewMessage(OpcodePASEPake1, out), nil, err

	case OpcodePASEPake1:
		out, err := hs.pase.HandlePake1(payload)
		return NewMessage(OpcodePASEPake2, out), nil, err

	case OpcodePASEPake2:
		out, err := hs.pase.HandlePake2(payload)
		return NewMessage(OpcodePASEPake3, out), nil, err

	case OpcodePASEPake3:
		_, ok, err := hs.pase.HandlePake3(payload)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, errors.New("securechannel: PASE confirmation failed")
		}
		resp := NewMessage(OpcodeStatusReport, Success().Encode())
		if hs.pase.State() == pase.StateComplete {
			established, err := m.finishHandshakeLocked(exchangeID, hs)
			if err != nil {
				return nil, nil, err
			}
			return resp, established, nil
		}
		return resp, nil, nil
	}

	return nil, nil, ErrInvalidOpcode
}

// acceptPBKDFParamRequest opens a responder-side handshake. Caller holds
// m.mu.
func (m *Manager) acceptPBKDFParamRequest(exchangeID uint16, payload []byte) (*Message, error) {
	if m.responder == nil {
		return nil, errors.New("securechannel: PASE responder not configured (commissioning window not open)")
	}

	localSessionID, err := m.config.SessionManager.AllocateSessionID()
	if err != nil {
		return nil, ErrSessionTableFull
	}

	ps, err := pase.NewResponder(m.responder.verifier, m.responder.salt, m.responder.iterations)
	if err != nil {
		return nil, err
	}
	out, err := ps.HandlePBKDFParamRequest(payload, localSessionID)
	if err != nil {
		return nil, err
	}

	m.handshakes[exchangeID] = &handshake{
		pase:           ps,
		localSessionID: localSessionID,
		startedAt:      time.Now(),
	}
	return NewMessage(OpcodePBKDFParamResponse, out), nil
}

// routeStatusReport interprets an inbound StatusReport against any
// handshake on the exchange.
func (m *Manager) routeStatusReport(exchangeID uint16, payload []byte) (*Message, error) {
	status, err := DecodeStatusReport(payload)
	if err != nil {
		return nil, err
	}

	switch {
	case status.IsBusy():
		if m.config.Callbacks.OnResponderBusy != nil {
			m.config.Callbacks.OnResponderBusy(status.BusyWaitTime())
		}
		m.dropHandshake(exchangeID)
		return nil, nil

	case status.IsSuccess() && status.IsSecureChannel() &&
		status.SecureChannelCode() == ProtocolCodeSuccess:
		established, err := m.finishOnSuccessReport(exchangeID)
		if err != nil {
			return nil, err
		}
		if established != nil && m.config.Callbacks.OnSessionEstablished != nil {
			m.config.Callbacks.OnSessionEstablished(established)
		}
		return nil, nil

	case status.IsSuccess() && status.IsSecureChannel() &&
		status.SecureChannelCode() == ProtocolCodeCloseSession:
		return nil, ErrSessionClosed
	}

	// Any other non-success report fails the handshake, if one exists.
	m.mu.RLock()
	_, exists := m.handshakes[exchangeID]
	m.mu.RUnlock()
	if exists && !status.IsSuccess() {
		m.dropHandshake(exchangeID)
		if m.config.Callbacks.OnSessionError != nil {
			m.config.Callbacks.OnSessionError(status, "StatusReport")
		}
	}
	return nil, nil
}

func (m *Manager) finishOnSuccessReport(exchangeID uint16) (*session.SecureContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hs, exists := m.handshakes[exchangeID]
	if !exists {
		return nil, nil
	}
	return m.finishHandshakeLocked(exchangeID, hs)
}

func (m *Manager) dropHandshake(exchangeID uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handshakes, exchangeID)
}

// StartPASE opens an initiator handshake on the exchange and returns the
// PBKDFParamRequest to send.
func (m *Manager) StartPASE(exchangeID uint16, passcode uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.handshakes[exchangeID]; exists {
		return nil, ErrHandshakeInProgress
	}

	localSessionID, err := m.config.SessionManager.AllocateSessionID()
	if err != nil {
		return nil, ErrSessionTableFull
	}
	ps, err := pase.NewInitiator(passcode)
	if err != nil {
		return nil, err
	}
	req, err := ps.Start(localSessionID)
	if err != nil {
		return nil, err
	}

	m.handshakes[exchangeID] = &handshake{
		pase:           ps,
		localSessionID: localSessionID,
		startedAt:      time.Now(),
	}
	return req, nil
}

// SetPASEResponder arms the responder side. Must be in place before a
// PBKDFParamRequest arrives; clear it when the commissioning window
// closes.
func (m *Manager) SetPASEResponder(verifier *pase.Verifier, salt []byte, iterations uint32) error {
	if verifier == nil {
		return errors.New("securechannel: verifier is nil")
	}
	if len(salt) < pase.PBKDFMinSaltLength || len(salt) > pase.PBKDFMaxSaltLength {
		return errors.New("securechannel: invalid salt length")
	}
	if iterations < pase.PBKDFMinIterations || iterations > pase.PBKDFMaxIterations {
		return errors.New("securechannel: invalid iteration count")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = &responderConfig{verifier: verifier, salt: salt, iterations: iterations}
	return nil
}

// ClearPASEResponder disarms the responder side.
func (m *Manager) ClearPASEResponder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = nil
}

// HasPASEResponder reports whether PBKDFParamRequests would be accepted.
func (m *Manager) HasPASEResponder() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.responder != nil
}

// finishHandshakeLocked builds the secure context from the completed
// handshake and installs it in the session table. Caller holds m.mu; the
// handshake entry is removed either way.
func (m *Manager) finishHandshakeLocked(exchangeID uint16, hs *handshake) (*session.SecureContext, error) {
	fail := func(err error, stage string) (*session.SecureContext, error) {
		if m.config.Callbacks.OnSessionError != nil {
			m.config.Callbacks.OnSessionError(err, stage)
		}
		delete(m.handshakes, exchangeID)
		return nil, err
	}

	secureCtx, err := m.buildSecureContext(hs)
	if err != nil {
		return fail(err, "CompleteHandshake")
	}
	if err := m.config.SessionManager.AddSecureContext(secureCtx); err != nil {
		return fail(err, "AddSecureContext")
	}

	delete(m.handshakes, exchangeID)
	return secureCtx, nil
}

// buildSecureContext turns the PASE result into a session.SecureContext.
func (m *Manager) buildSecureContext(hs *handshake) (*session.SecureContext, error) {
	// The initiator finishes its own state machine when the success
	// report arrives.
	if hs.pase.Role() == pase.RoleInitiator &&
		hs.pase.State() == pase.StateWaitingStatusReport {
		if err := hs.pase.HandleStatusReport(true); err != nil {
			return nil, err
		}
	}

	keys := hs.pase.SessionKeys()
	if keys == nil {
		return nil, errors.New("securechannel: PASE session keys not ready")
	}

	role := session.SessionRoleInitiator
	if hs.pase.Role() == pase.RoleResponder {
		role = session.SessionRoleResponder
	}

	return session.NewSecureContext(session.SecureContextConfig{
		SessionType:    session.SessionTypePASE,
		Role:           role,
		LocalSessionID: hs.localSessionID,
		PeerSessionID:  hs.pase.PeerSessionID(),
		I2RKey:         keys.I2RKey[:],
		R2IKey:         keys.R2IKey[:],
		// A PASE session starts with no fabric and the unspecified
		// node id.
		FabricIndex: 0,
		PeerNodeID:  0,
		LocalNodeID: 0,
	})
}

// HasActiveHandshake reports whether a handshake is live on the exchange.
func (m *Manager) HasActiveHandshake(exchangeID uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.handshakes[exchangeID]
	return exists
}

// ActiveHandshakeCount returns the number of live handshakes.
func (m *Manager) ActiveHandshakeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handshakes)
}

// CleanupExpiredHandshakes reaps handshakes older than HandshakeTimeout.
func (m *Manager) CleanupExpiredHandshakes() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for exchangeID, hs := range m.handshakes {
		if now.Sub(hs.startedAt) > HandshakeTimeout {
			delete(m.handshakes, exchangeID)
			if m.config.Callbacks.OnSessionError != nil {
				m.config.Callbacks.OnSessionError(errors.New("handshake timeout"), "Timeout")
			}
		}
	}
}
