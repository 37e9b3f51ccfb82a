package exchange

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/larkspur-iot/chip-core/pkg/message"
	"github.com/larkspur-iot/chip-core/pkg/securechannel"
	"github.com/larkspur-iot/chip-core/pkg/session"
	"github.com/larkspur-iot/chip-core/pkg/transport"
)

// ProtocolHandler is the upcall interface for one protocol id, registered
// via Manager.RegisterProtocol.
type ProtocolHandler interface {
	// OnMessage handles a message on an existing exchange. A non-nil
	// return payload is sent back on the exchange.
	OnMessage(ex *Exchange, opcode uint8, payload []byte) ([]byte, error)

	// OnUnsolicited handles the first message of a peer-initiated
	// exchange.
	OnUnsolicited(ex *Exchange, opcode uint8, payload []byte) ([]byte, error)
}

// ManagerConfig wires the exchange Manager to its collaborators.
type ManagerConfig struct {
	// SessionManager resolves session ids to session contexts.
	SessionManager *session.Manager

	// TransportManager performs the network I/O.
	TransportManager *transport.Manager
}

// Manager routes messages between the transport/session layers and
// protocol handlers, tracking exchanges and their MRP obligations.
type Manager struct {
	config ManagerConfig

	mu        sync.RWMutex
	exchanges map[exchangeKey]*Exchange
	handlers  map[message.ProtocolID]ProtocolHandler

	acks *ackTable
	retx *retxTable

	// nextExchangeID: first one random, then incrementing (spec 4.10.2).
	nextExchangeID uint16
}

// NewManager creates an exchange manager.
func NewManager(config ManagerConfig) *Manager {
	m := &Manager{
		config:    config,
		exchanges: make(map[exchangeKey]*Exchange),
		handlers:  make(map[message.ProtocolID]ProtocolHandler),
		acks:      newAckTable(),
		retx:      newRetxTable(),
	}
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err == nil {
		m.nextExchangeID = binary.LittleEndian.Uint16(buf[:])
	}
	return m
}

// RegisterProtocol installs the handler for a protocol id.
func (m *Manager) RegisterProtocol(protocolID message.ProtocolID, handler ProtocolHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[protocolID] = handler
}

// NewExchange opens an exchange as initiator, ready for its first send.
func (m *Manager) NewExchange(
	sess Session,
	localSessionID uint16,
	peer transport.PeerAddress,
	protocolID message.ProtocolID,
	delegate Delegate,
) (*Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextExchangeID
	m.nextExchangeID++

	key := exchangeKey{session: localSessionID, exchange: id, role: RoleInitiator}
	if _, exists := m.exchanges[key]; exists {
		return nil, ErrExchangeExists
	}

	ex := newExchange(exchangeConfig{
		id:             id,
		role:           RoleInitiator,
		protocolID:     protocolID,
		localSessionID: localSessionID,
		session:        sess,
		peer:           peer,
		delegate:       delegate,
		manager:        m,
	})
	m.exchanges[key] = ex
	return ex, nil
}

// OnMessageReceived is the receive-path entry point: header decode, session
// lookup, decrypt, MRP flag handling, exchange match, handler dispatch.
func (m *Manager) OnMessageReceived(msg *transport.ReceivedMessage) error {
	var header message.MessageHeader
	if _, err := header.Decode(msg.Data); err != nil {
		return ErrInvalidMessage
	}

	var sess Session
	var frame *message.Frame

	if header.SessionID == 0 {
		// Handshake traffic. The source node id is mandatory and keys
		// the unsecured context (spec 4.13.2.1).
		var err error
		frame, err = message.DecodeUnsecured(msg.Data)
		if err != nil {
			return ErrInvalidMessage
		}
		if !header.SourcePresent {
			return ErrInvalidMessage
		}
		unsec, err := m.config.SessionManager.FindOrCreateUnsecuredContext(fabric.NodeID(header.SourceNodeID))
		if err != nil {
			return err
		}
		if !unsec.CheckCounter(header.MessageCounter) {
			return ErrInvalidMessage
		}
		sess = unsec
	} else {
		secure := m.config.SessionManager.FindSecureContext(header.SessionID)
		if secure == nil {
			return ErrSessionNotFound
		}
		sess = secure
		var err error
		frame, err = secure.Decrypt(msg.Data)
		if err != nil {
			return err
		}
	}

	return m.processFrame(frame, msg.PeerAddr, sess)
}

func (m *Manager) processFrame(frame *message.Frame, peer transport.PeerAddress, sess Session) error {
	proto := &frame.Protocol

	// The sender's I flag fixes our role: initiator messages land on our
	// responder exchanges and vice versa.
	ourRole := RoleInitiator
	if proto.Initiator {
		ourRole = RoleResponder
	}

	key := exchangeKey{
		session:  frame.Header.SessionID,
		exchange: proto.ExchangeID,
		role:     ourRole,
	}

	if proto.Acknowledgement {
		m.handleReceivedAck(proto.AckedMessageCounter)
	}

	m.mu.RLock()
	ex, exists := m.exchanges[key]
	m.mu.RUnlock()

	if !exists {
		return m.handleUnsolicited(frame, peer, sess, key)
	}

	if proto.Reliability {
		m.scheduleAck(ex, frame.Header.MessageCounter)
	}

	response, err := ex.handleMessage(proto, frame.Payload)
	if err != nil {
		return err
	}
	if response != nil {
		reliable := peer.TransportType == transport.TransportTypeUDP
		return ex.SendMessage(proto.ProtocolOpcode, response, reliable)
	}
	return nil
}

// handleUnsolicited deals with a message that matched no exchange
// (spec 4.10.5.2): initiator messages for a registered protocol open a
// responder exchange; everything else is acked (if reliable) and dropped.
func (m *Manager) handleUnsolicited(frame *message.Frame, peer transport.PeerAddress, sess Session, key exchangeKey) error {
	proto := frame.Protocol

	if !proto.Initiator {
		if proto.Reliability {
			m.ackWithoutExchange(frame, peer, sess)
		}
		return ErrUnsolicitedNotInitiator
	}

	m.mu.RLock()
	handler, ok := m.handlers[proto.ProtocolID]
	m.mu.RUnlock()

	if !ok {
		if proto.Reliability {
			m.ackWithoutExchange(frame, peer, sess)
		}
		return ErrNoHandler
	}

	ex := newExchange(exchangeConfig{
		id:             proto.ExchangeID,
		role:           RoleResponder,
		protocolID:     proto.ProtocolID,
		localSessionID: frame.Header.SessionID,
		session:        sess,
		peer:           peer,
		manager:        m,
	})

	m.mu.Lock()
	m.exchanges[key] = ex
	m.mu.Unlock()

	if proto.Reliability {
		m.scheduleAck(ex, frame.Header.MessageCounter)
	}

	response, err := handler.OnUnsolicited(ex, proto.ProtocolOpcode, frame.Payload)
	if err != nil {
		m.mu.Lock()
		delete(m.exchanges, key)
		m.mu.Unlock()
		return err
	}
	if response != nil {
		reliable := peer.TransportType == transport.TransportTypeUDP
		return ex.SendMessage(proto.ProtocolOpcode, response, reliable)
	}
	return nil
}

func (m *Manager) handleReceivedAck(ackedCounter uint32) {
	e := m.retx.ack(ackedCounter)
	if e == nil {
		return
	}
	m.mu.RLock()
	ex, exists := m.exchanges[e.key]
	m.mu.RUnlock()
	if exists {
		ex.retxDone()
	}
}

// scheduleAck records that we owe an ack for an inbound reliable message
// and arms the standalone-ack fallback.
func (m *Manager) scheduleAck(ex *Exchange, counter uint32) {
	key := ex.key()
	ex.setAckDue(counter)

	displaced := m.acks.add(key, counter, func() {
		m.sendStandaloneAck(ex, counter)
	})
	if displaced != nil {
		m.sendStandaloneAck(ex, displaced.counter)
	}
}

func (m *Manager) sendStandaloneAck(ex *Exchange, ackedCounter uint32) {
	proto := &message.ProtocolHeader{
		ProtocolID:          message.ProtocolSecureChannel,
		ProtocolOpcode:      uint8(securechannel.OpcodeStandaloneAck),
		ExchangeID:          ex.ID,
		Initiator:           ex.Role == RoleInitiator,
		Acknowledgement:     true,
		AckedMessageCounter: ackedCounter,
		// Standalone acks are never themselves reliable.
	}

	m.acks.markStandaloneSent(ex.key())
	ex.clearAckDue()

	_ = m.transmit(ex, proto, nil)
}

// ackWithoutExchange acks a reliable message that created no exchange,
// building an ephemeral reply from the frame alone.
func (m *Manager) ackWithoutExchange(frame *message.Frame, peer transport.PeerAddress, sess Session) {
	ourRole := RoleInitiator
	if frame.Protocol.Initiator {
		ourRole = RoleResponder
	}

	proto := &message.ProtocolHeader{
		ProtocolID:          message.ProtocolSecureChannel,
		ProtocolOpcode:      uint8(securechannel.OpcodeStandaloneAck),
		ExchangeID:          frame.Protocol.ExchangeID,
		Initiator:           ourRole == RoleInitiator,
		Acknowledgement:     true,
		AckedMessageCounter: frame.Header.MessageCounter,
	}

	if secure, ok := sess.(SecureSession); ok {
		header := &message.MessageHeader{SessionID: secure.PeerSessionID()}
		encoded, err := secure.Encrypt(header, proto, nil, false)
		if err != nil {
			return
		}
		_ = m.config.TransportManager.Send(encoded, peer)
		return
	}

	unsec, ok := sess.(*session.UnsecuredContext)
	if !ok {
		return
	}
	counter, err := m.config.SessionManager.NextGlobalCounter()
	if err != nil {
		return
	}
	out := &message.Frame{
		Header: message.MessageHeader{
			SessionID:      0,
			SessionType:    message.SessionTypeUnicast,
			MessageCounter: counter,
			SourceNodeID:   uint64(unsec.EphemeralNodeID()),
			SourcePresent:  true,
		},
		Protocol: *proto,
	}
	_ = m.config.TransportManager.Send(out.EncodeUnsecured(), peer)
}

// flushPendingAck emits a standalone ack for any ack still owed on the
// exchange. Called on close.
func (m *Manager) flushPendingAck(ex *Exchange) {
	key := ex.key()
	if m.acks.owed(key) {
		counter, _ := m.acks.pending(key)
		m.sendStandaloneAck(ex, counter)
	}
}

// sendMessage piggybacks any owed ack onto the outbound message, then
// transmits.
func (m *Manager) sendMessage(ex *Exchange, proto *message.ProtocolHeader, payload []byte) error {
	if ctr, due := ex.pendingAck(); due && !proto.Acknowledgement {
		proto.Acknowledgement = true
		proto.AckedMessageCounter = ctr
		m.acks.markPiggybacked(ex.key())
		ex.clearAckDue()
	}
	return m.transmit(ex, proto, payload)
}

// transmit encodes (and for secure sessions encrypts) the message, arms
// retransmission for reliable sends, and hands the buffer to transport.
func (m *Manager) transmit(ex *Exchange, proto *message.ProtocolHeader, payload []byte) error {
	sess := ex.Session()
	if sess == nil {
		return ErrSessionNotFound
	}

	secure, isSecure := sess.(SecureSession)
	if !isSecure {
		return m.transmitUnsecured(ex, sess, proto, payload)
	}

	header := &message.MessageHeader{
		SessionID: secure.PeerSessionID(),
		// MessageCounter is assigned inside Encrypt.
	}
	encoded, err := secure.Encrypt(header, proto, payload, false)
	if err != nil {
		return err
	}

	if proto.Reliability {
		params := sess.GetParams()
		baseInterval := params.IdleInterval
		if secure.IsPeerActive() {
			baseInterval = params.ActiveInterval
		}
		err = m.retx.add(ex.key(), header.MessageCounter, encoded, ex.PeerAddress(), baseInterval, m.onRetxTimeout)
		if err != nil {
			return err
		}
		ex.setRetxPending(header.MessageCounter)
	}

	return m.config.TransportManager.Send(encoded, ex.PeerAddress())
}

// transmitUnsecured sends over a session-id-0 session: global counter,
// source node id present, no encryption (spec 4.4.1, 4.13.2.1).
func (m *Manager) transmitUnsecured(ex *Exchange, sess Session, proto *message.ProtocolHeader, payload []byte) error {
	unsec, ok := sess.(*session.UnsecuredContext)
	if !ok {
		return ErrSessionNotFound
	}

	counter, err := m.config.SessionManager.NextGlobalCounter()
	if err != nil {
		return err
	}

	frame := &message.Frame{
		Header: message.MessageHeader{
			SessionID:      0,
			SessionType:    message.SessionTypeUnicast,
			MessageCounter: counter,
			SourceNodeID:   uint64(unsec.EphemeralNodeID()),
			SourcePresent:  true,
		},
		Protocol: *proto,
		Payload:  payload,
	}
	encoded := frame.EncodeUnsecured()

	if proto.Reliability {
		params := sess.GetParams()
		err = m.retx.add(ex.key(), counter, encoded, ex.PeerAddress(), params.IdleInterval, m.onRetxTimeout)
		if err != nil {
			return err
		}
		ex.setRetxPending(counter)
	}

	return m.config.TransportManager.Send(encoded, ex.PeerAddress())
}

// onRetxTimeout re-sends an unacked reliable message or gives up after
// MRPMaxTransmissions.
func (m *Manager) onRetxTimeout(e *retxEntry) {
	m.mu.RLock()
	ex, exists := m.exchanges[e.key]
	m.mu.RUnlock()

	if !exists {
		m.retx.removeByCounter(e.counter)
		return
	}

	sess := ex.Session()
	if sess == nil {
		m.retx.removeByCounter(e.counter)
		ex.retxDone()
		return
	}

	params := sess.GetParams()
	baseInterval := params.IdleInterval
	if secure, ok := sess.(SecureSession); ok && secure.IsPeerActive() {
		baseInterval = params.ActiveInterval
	}

	if !m.retx.reschedule(e.counter, baseInterval) {
		ex.retxDone()
		return
	}
	_ = m.config.TransportManager.Send(e.buf, e.peer)
}

func (m *Manager) removeExchange(ex *Exchange) {
	key := ex.key()

	m.mu.Lock()
	delete(m.exchanges, key)
	m.mu.Unlock()

	m.acks.remove(key)
	m.retx.remove(key)

	if d := ex.Delegate(); d != nil {
		d.OnClose(ex)
	}
}

// GetExchange looks up an exchange by its identifying tuple.
func (m *Manager) GetExchange(localSessionID, exchangeID uint16, role Role) (*Exchange, bool) {
	key := exchangeKey{session: localSessionID, exchange: exchangeID, role: role}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.exchanges[key]
	return ex, ok
}

// ExchangeCount returns the number of live exchanges.
func (m *Manager) ExchangeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.exchanges)
}

// Close shuts down every exchange and clears the MRP tables.
func (m *Manager) Close() {
	m.mu.Lock()
	open := make([]*Exchange, 0, len(m.exchanges))
	for _, ex := range m.exchanges {
		open = append(open, ex)
	}
	m.mu.Unlock()

	for _, ex := range open {
		ex.Close()
	}
	m.acks.clear()
	m.retx.clear()
}
