// Package exchange implements Matter message exchanges and the Message
// Reliability Protocol (MRP).
//
// An exchange is a single conversation between two nodes, scoped to one
// session and identified by {session, exchange id, role}. The Manager
// multiplexes exchanges over sessions, runs MRP ack/retransmit bookkeeping
// for UDP peers, and dispatches inbound messages to protocol handlers
// registered per protocol id (Matter spec 4.10, 4.12).
package exchange

import (
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/message"
	"github.com/larkspur-iot/chip-core/pkg/session"
	"github.com/larkspur-iot/chip-core/pkg/transport"
)

// Role says which side of an exchange we are. Note this is independent of
// the session role: a node that was the CASE responder may well initiate
// its own exchanges over that session.
type Role int

const (
	RoleUnknown Role = iota

	// RoleInitiator allocated the exchange id and sets the I flag on
	// every message it sends within the exchange.
	RoleInitiator

	// RoleResponder adopted the initiator's exchange id after receiving
	// an unsolicited message; it never sets the I flag.
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

// IsValid reports whether r is one of the two defined roles.
func (r Role) IsValid() bool { return r == RoleInitiator || r == RoleResponder }

// Invert flips initiator to responder and back.
func (r Role) Invert() Role {
	switch r {
	case RoleInitiator:
		return RoleResponder
	case RoleResponder:
		return RoleInitiator
	}
	return RoleUnknown
}

// lifecycle state of an exchange; spec 4.10.5.3 governs the closing path.
type state int

const (
	stateActive  state = iota // sends and receives allowed
	stateClosing              // draining acks/retransmits, no new sends
	stateClosed               // fully torn down
)

func (s state) canSend() bool    { return s == stateActive }
func (s state) canReceive() bool { return s == stateActive || s == stateClosing }

// Session is the slice of a session context the exchange layer needs:
// the MRP timing parameters negotiated for the peer.
type Session interface {
	GetParams() session.Params
}

// SecureSession is implemented by encrypted session contexts. The exchange
// layer type-asserts to it when a message must be encrypted on send.
type SecureSession interface {
	Session

	LocalSessionID() uint16
	PeerSessionID() uint16

	// IsPeerActive selects between the peer's idle and active MRP
	// intervals for backoff.
	IsPeerActive() bool

	// Encrypt seals a full message (header, protocol header, payload)
	// and assigns the outgoing message counter into header.
	Encrypt(header *message.MessageHeader, protocol *message.ProtocolHeader, payload []byte, privacy bool) ([]byte, error)
}

// Delegate receives upcalls for a single exchange.
type Delegate interface {
	// OnMessage is invoked for each inbound message on the exchange.
	// A non-nil return payload is sent back on the same exchange.
	OnMessage(ex *Exchange, header *message.ProtocolHeader, payload []byte) ([]byte, error)

	// OnClose is invoked once when the exchange is torn down.
	OnClose(ex *Exchange)
}

// Exchange is one conversation over a session. MRP state is deliberately
// narrow: at most one pending ack and one in-flight reliable message per
// exchange (spec 4.12.3).
type Exchange struct {
	// ID is the exchange id, allocated by the initiator and shared by
	// both sides.
	ID uint16

	// Role is our side of the conversation.
	Role Role

	// ProtocolID is pinned by the first message on the exchange.
	ProtocolID message.ProtocolID

	state          state
	localSessionID uint16
	session        Session
	peer           transport.PeerAddress
	delegate       Delegate
	manager        *Manager

	ackDue     uint32 // inbound counter we still owe an ack for
	hasAckDue  bool
	retxActive bool   // a reliable send of ours is awaiting ack
	retxCtr    uint32 // counter of that send

	mu sync.Mutex
}

type exchangeConfig struct {
	id             uint16
	role           Role
	protocolID     message.ProtocolID
	localSessionID uint16
	session        Session
	peer           transport.PeerAddress
	delegate       Delegate
	manager        *Manager
}

func newExchange(cfg exchangeConfig) *Exchange {
	return &Exchange{
		ID:             cfg.id,
		Role:           cfg.role,
		state:          stateActive,
		ProtocolID:     cfg.protocolID,
		localSessionID: cfg.localSessionID,
		session:        cfg.session,
		peer:           cfg.peer,
		delegate:       cfg.delegate,
		manager:        cfg.manager,
	}
}

// key returns the table key identifying this exchange.
func (ex *Exchange) key() exchangeKey {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return exchangeKey{session: ex.localSessionID, exchange: ex.ID, role: ex.Role}
}

// Session returns the session the exchange runs over.
func (ex *Exchange) Session() Session {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.session
}

// PeerAddress returns where outbound messages go.
func (ex *Exchange) PeerAddress() transport.PeerAddress {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.peer
}

// LocalSessionID returns the local id of the underlying session.
func (ex *Exchange) LocalSessionID() uint16 {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.localSessionID
}

// IsInitiator reports whether we opened the exchange.
func (ex *Exchange) IsInitiator() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.Role == RoleInitiator
}

// IsClosed reports whether the exchange has fully shut down.
func (ex *Exchange) IsClosed() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.state == stateClosed
}

// SetDelegate installs the upcall target for inbound messages.
func (ex *Exchange) SetDelegate(d Delegate) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.delegate = d
}

// Delegate returns the installed delegate, or nil.
func (ex *Exchange) Delegate() Delegate {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.delegate
}

// HasDelegate reports whether a delegate is installed.
func (ex *Exchange) HasDelegate() bool { return ex.Delegate() != nil }

func (ex *Exchange) setAckDue(counter uint32) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.ackDue = counter
	ex.hasAckDue = true
}

func (ex *Exchange) clearAckDue() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.ackDue = 0
	ex.hasAckDue = false
}

func (ex *Exchange) pendingAck() (uint32, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.ackDue, ex.hasAckDue
}

func (ex *Exchange) setRetxPending(counter uint32) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.retxCtr = counter
	ex.retxActive = true
}

// HasPendingRetransmit reports whether a reliable send is still awaiting
// its ack.
func (ex *Exchange) HasPendingRetransmit() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.retxActive
}

// CanSend reports whether a new message may be sent now. Sends are refused
// while closing and while a reliable message is in flight (MRP allows a
// single outstanding reliable message per exchange).
func (ex *Exchange) CanSend() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.state.canSend() && !ex.retxActive
}

// SendMessage sends an application message on the exchange. The protocol
// header's exchange-scoped fields are filled in here; a pending inbound ack
// is piggybacked if one is due. reliable only takes effect over UDP.
func (ex *Exchange) SendMessage(opcode uint8, payload []byte, reliable bool) error {
	ex.mu.Lock()
	if !ex.state.canSend() {
		st := ex.state
		ex.mu.Unlock()
		if st == stateClosed {
			return ErrExchangeClosed
		}
		return ErrExchangeClosing
	}
	if ex.retxActive {
		ex.mu.Unlock()
		return ErrPendingRetransmit
	}
	mgr := ex.manager
	ex.mu.Unlock()

	if mgr == nil {
		return ErrExchangeClosed
	}

	proto := &message.ProtocolHeader{
		ProtocolID:     ex.ProtocolID,
		ProtocolOpcode: opcode,
		ExchangeID:     ex.ID,
		Initiator:      ex.Role == RoleInitiator,
		Reliability:    reliable && ex.peer.TransportType == transport.TransportTypeUDP,
	}

	if ctr, due := ex.pendingAck(); due {
		proto.Acknowledgement = true
		proto.AckedMessageCounter = ctr
		ex.clearAckDue()
	}

	return mgr.sendMessage(ex, proto, payload)
}

// Close tears the exchange down: flush any owed ack, then wait for the
// in-flight reliable message (if any) to be acked or exhausted before
// removal.
func (ex *Exchange) Close() error {
	ex.mu.Lock()
	if ex.state == stateClosed {
		ex.mu.Unlock()
		return nil
	}
	ex.state = stateClosing
	mgr := ex.manager
	retxActive := ex.retxActive
	ex.mu.Unlock()

	if mgr == nil {
		return nil
	}

	mgr.flushPendingAck(ex)

	if !retxActive {
		ex.mu.Lock()
		ex.state = stateClosed
		ex.mu.Unlock()
		mgr.removeExchange(ex)
	}
	// Otherwise removal happens from retxDone.
	return nil
}

// retxDone is called when the in-flight reliable message is acked or gives
// up; it completes a deferred close.
func (ex *Exchange) retxDone() {
	ex.mu.Lock()
	ex.retxActive = false
	ex.retxCtr = 0
	if ex.state == stateClosing {
		ex.state = stateClosed
		mgr := ex.manager
		ex.mu.Unlock()
		if mgr != nil {
			mgr.removeExchange(ex)
		}
		return
	}
	ex.mu.Unlock()
}

// handleMessage delivers an inbound message to the delegate.
func (ex *Exchange) handleMessage(proto *message.ProtocolHeader, payload []byte) ([]byte, error) {
	ex.mu.Lock()
	if !ex.state.canReceive() {
		ex.mu.Unlock()
		return nil, ErrExchangeClosed
	}
	d := ex.delegate
	ex.mu.Unlock()

	if d == nil {
		return nil, nil
	}
	return d.OnMessage(ex, proto, payload)
}
