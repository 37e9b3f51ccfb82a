package exchange

import (
	"sync"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/larkspur-iot/chip-core/pkg/message"
	"github.com/larkspur-iot/chip-core/pkg/session"
	"github.com/larkspur-iot/chip-core/pkg/transport"
)

// TestManagerPair wires two Managers back to back through an in-process
// pipe transport, so tests can exercise the full send path:
// Manager -> transport -> pipe -> transport -> Manager -> ProtocolHandler.
//
//	pair, _ := exchange.NewTestManagerPair(exchange.TestManagerPairConfig{UDP: true})
//	defer pair.Close()
//
//	pair.Manager(1).RegisterProtocol(myProtocolID, myHandler)
//	ex, _ := pair.Manager(0).NewExchange(pair.Session(0), 0, pair.PeerAddress(1, false), myProtocolID, myDelegate)
//	ex.SendMessage(opcode, payload, true)
type TestManagerPair struct {
	managers    [2]*Manager
	sessions    [2]*TestUnsecuredSession
	sessionMgrs [2]*session.Manager
	handlers    [2]*TestProtocolHandler
	transports  *transport.PipeManagerPair
	received    [2]chan ReceivedMessage
	inbound     [2]*inboundTap
}

// ReceivedMessage is what a TestProtocolHandler saw.
type ReceivedMessage struct {
	Opcode      uint8
	Payload     []byte
	ExchangeID  uint16
	Unsolicited bool
}

// TestManagerPairConfig selects which transports the pipe carries.
// Defaults to UDP when neither is set.
type TestManagerPairConfig struct {
	UDP bool
	TCP bool
}

// inboundTap feeds raw transport receives into a Manager.
type inboundTap struct {
	manager *Manager
}

func (t *inboundTap) handle(msg *transport.ReceivedMessage) {
	if t.manager != nil {
		t.manager.OnMessageReceived(msg)
	}
}

// NewTestManagerPair builds two connected managers with fresh session
// managers and unsecured test sessions (node ids 0x1000 and 0x2000).
func NewTestManagerPair(config TestManagerPairConfig) (*TestManagerPair, error) {
	if !config.UDP && !config.TCP {
		config.UDP = true
	}

	pair := &TestManagerPair{
		received: [2]chan ReceivedMessage{
			make(chan ReceivedMessage, 100),
			make(chan ReceivedMessage, 100),
		},
		inbound: [2]*inboundTap{{}, {}},
	}

	transports, err := transport.NewPipeManagerPair(transport.PipeManagerConfig{
		UDP: config.UDP,
		TCP: config.TCP,
		Handlers: [2]transport.MessageHandler{
			pair.inbound[0].handle,
			pair.inbound[1].handle,
		},
	})
	if err != nil {
		return nil, err
	}
	pair.transports = transports

	for i := 0; i < 2; i++ {
		idx := i
		pair.handlers[i] = &TestProtocolHandler{}
		pair.handlers[i].onReceive = func(msg ReceivedMessage) {
			select {
			case pair.received[idx] <- msg:
			default:
			}
		}
	}

	pair.sessionMgrs[0] = session.NewManager(session.ManagerConfig{})
	pair.sessionMgrs[1] = session.NewManager(session.ManagerConfig{})
	pair.sessions[0] = NewTestUnsecuredSession(0x1000)
	pair.sessions[1] = NewTestUnsecuredSession(0x2000)

	for i := 0; i < 2; i++ {
		pair.managers[i] = NewManager(ManagerConfig{
			SessionManager:   pair.sessionMgrs[i],
			TransportManager: transports.Manager(i),
		})
		pair.inbound[i].manager = pair.managers[i]
		pair.managers[i].RegisterProtocol(message.ProtocolSecureChannel, pair.handlers[i])
	}

	return pair, nil
}

// Manager returns side idx's exchange manager.
func (p *TestManagerPair) Manager(idx int) *Manager { return p.managers[idx] }

// Session returns side idx's unsecured test session.
func (p *TestManagerPair) Session(idx int) *TestUnsecuredSession { return p.sessions[idx] }

// SessionManager returns side idx's session manager.
func (p *TestManagerPair) SessionManager(idx int) *session.Manager { return p.sessionMgrs[idx] }

// PeerAddress returns the address that reaches side idx; use
// PeerAddress(1, false) when sending from manager 0 to manager 1 over UDP.
func (p *TestManagerPair) PeerAddress(idx int, tcp bool) transport.PeerAddress {
	addrs := p.transports.PeerAddresses(idx)
	if tcp {
		return addrs.TCP
	}
	return addrs.UDP
}

// WaitForMessage blocks until side idx's handler sees a message or the
// timeout passes.
func (p *TestManagerPair) WaitForMessage(idx int, timeout time.Duration) (ReceivedMessage, bool) {
	select {
	case msg := <-p.received[idx]:
		return msg, true
	case <-time.After(timeout):
		return ReceivedMessage{}, false
	}
}

// Pipe exposes the underlying pipe for loss/latency simulation.
func (p *TestManagerPair) Pipe() *transport.Pipe { return p.transports.Pipe() }

// Close releases both managers and the pipe.
func (p *TestManagerPair) Close() {
	for i := 0; i < 2; i++ {
		if p.managers[i] != nil {
			p.managers[i].Close()
		}
	}
	if p.transports != nil {
		p.transports.Close()
	}
}

// TestUnsecuredSession emits session-id-0 frames carrying a fixed source
// node id. It satisfies SecureSession so the manager's normal send path
// exercises it, but Encrypt only encodes.
type TestUnsecuredSession struct {
	params       session.Params
	sourceNodeID fabric.NodeID
	counter      uint32
	mu           sync.Mutex
}

// NewTestUnsecuredSession creates a test session with short MRP intervals.
func NewTestUnsecuredSession(sourceNodeID uint64) *TestUnsecuredSession {
	return &TestUnsecuredSession{
		params: session.Params{
			IdleInterval:    50 * time.Millisecond,
			ActiveInterval:  30 * time.Millisecond,
			ActiveThreshold: 100 * time.Millisecond,
		},
		sourceNodeID: fabric.NodeID(sourceNodeID),
	}
}

func (s *TestUnsecuredSession) GetParams() session.Params { return s.params }
func (s *TestUnsecuredSession) LocalSessionID() uint16    { return 0 }
func (s *TestUnsecuredSession) PeerSessionID() uint16     { return 0 }
func (s *TestUnsecuredSession) IsPeerActive() bool        { return false }

// Encrypt assigns the next counter and encodes an unsecured frame.
func (s *TestUnsecuredSession) Encrypt(header *message.MessageHeader, protocol *message.ProtocolHeader, payload []byte, privacy bool) ([]byte, error) {
	s.mu.Lock()
	s.counter++
	header.MessageCounter = s.counter
	s.mu.Unlock()

	header.SessionID = 0
	header.SourcePresent = true
	header.SourceNodeID = uint64(s.sourceNodeID)

	frame := &message.Frame{
		Header:   *header,
		Protocol: *protocol,
		Payload:  payload,
	}
	return frame.EncodeUnsecured(), nil
}

// TestProtocolHandler records every message it is handed and mirrors it to
// an optional callback.
type TestProtocolHandler struct {
	messages  []recordedMessage
	onReceive func(ReceivedMessage)
	mu        sync.Mutex
}

type recordedMessage struct {
	exchangeID  uint16
	opcode      uint8
	payload     []byte
	unsolicited bool
}

func (h *TestProtocolHandler) record(ex *Exchange, opcode uint8, payload []byte, unsolicited bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := recordedMessage{
		exchangeID:  ex.ID,
		opcode:      opcode,
		payload:     append([]byte(nil), payload...),
		unsolicited: unsolicited,
	}
	h.messages = append(h.messages, msg)

	if h.onReceive != nil {
		h.onReceive(ReceivedMessage{
			Opcode:      opcode,
			Payload:     msg.payload,
			ExchangeID:  ex.ID,
			Unsolicited: unsolicited,
		})
	}
}

// OnMessage implements ProtocolHandler.
func (h *TestProtocolHandler) OnMessage(ex *Exchange, opcode uint8, payload []byte) ([]byte, error) {
	h.record(ex, opcode, payload, false)
	return nil, nil
}

// OnUnsolicited implements ProtocolHandler.
func (h *TestProtocolHandler) OnUnsolicited(ex *Exchange, opcode uint8, payload []byte) ([]byte, error) {
	h.record(ex, opcode, payload, true)
	return nil, nil
}
