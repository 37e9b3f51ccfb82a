package transport

import (
	"net"
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/message"
	"github.com/pion/logging"
)

// TCP accepts connections from a net.Listener and frames each one with the
// 4-byte length prefix of Spec Section 4.5, delivering decoded frames to a
// MessageHandler.
type TCP struct {
	listener net.Listener
	handler  MessageHandler
	log      logging.LeveledLogger

	gate    lifecycleGate
	closeCh chan struct{}
	wg      sync.WaitGroup

	connsMu sync.RWMutex
	conns   map[string]*tcpConn // keyed by remote address string
}

// tcpConn pairs a raw connection with the framed reader/writer built on
// top of it.
type tcpConn struct {
	conn   net.Conn
	reader *message.StreamReader
	writer *message.StreamWriter
	mu     sync.Mutex // serializes writer access
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{
		conn:   conn,
		reader: message.NewStreamReader(conn),
		writer: message.NewStreamWriter(conn),
	}
}

// TCPConfig configures a TCP transport.
type TCPConfig struct {
	Listener       net.Listener // reused as-is if set; otherwise dialed from ListenAddr
	ListenAddr     string
	MessageHandler MessageHandler
	LoggerFactory  logging.LoggerFactory
}

func NewTCP(config TCPConfig) (*TCP, error) {
	if config.MessageHandler == nil {
		return nil, ErrNoHandler
	}

	t := &TCP{
		listener: config.Listener,
		handler:  config.MessageHandler,
		closeCh:  make(chan struct{}),
		conns:    make(map[string]*tcpConn),
	}

	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("transport-tcp")
	}

	if t.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		t.listener = listener
	}

	return t, nil
}

func (t *TCP) Start() error {
	if err := t.gate.begin(); err != nil {
		return err
	}
	if t.log != nil {
		t.log.Infof("starting TCP transport on %s", t.listener.Addr())
	}
	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Stop closes the listener and every tracked connection, then waits for
// all handler goroutines to exit.
func (t *TCP) Stop() error {
	if err := t.gate.end(); err != nil {
		return err
	}
	if t.log != nil {
		t.log.Info("stopping TCP transport")
	}

	close(t.closeCh)
	t.listener.Close()

	t.connsMu.Lock()
	for _, tc := range t.conns {
		tc.conn.Close()
	}
	t.conns = make(map[string]*tcpConn)
	t.connsMu.Unlock()

	t.wg.Wait()
	return nil
}

// Send writes data as a framed RawFrame with an empty message header; used
// when the caller hasn't already assembled a full wire message.
func (t *TCP) Send(data []byte, addr net.Addr) error {
	if t.gate.isClosed() {
		return ErrClosed
	}
	if addr == nil {
		return ErrInvalidAddress
	}

	tc, err := t.getOrCreateConn(addr)
	if err != nil {
		return err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.writer.WriteFrame(&message.RawFrame{
		Header:           message.MessageHeader{},
		EncryptedPayload: data,
	})
}

// SendRaw writes data with only the length prefix, for callers that
// already hold a complete wire message.
func (t *TCP) SendRaw(data []byte, addr net.Addr) error {
	if t.gate.isClosed() {
		return ErrClosed
	}
	if addr == nil {
		return ErrInvalidAddress
	}

	tc, err := t.getOrCreateConn(addr)
	if err != nil {
		return err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	_, err = tc.writer.Write(data)
	return err
}

func (t *TCP) LocalAddr() net.Addr {
	return t.listener.Addr()
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.shuttingDown() {
				return
			}
			continue
		}
		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCP) handleConn(conn net.Conn) {
	defer t.wg.Done()

	tc := newTCPConn(conn)
	remoteAddr := conn.RemoteAddr().String()

	t.connsMu.Lock()
	t.conns[remoteAddr] = tc
	t.connsMu.Unlock()

	defer func() {
		conn.Close()
		t.connsMu.Lock()
		delete(t.conns, remoteAddr)
		t.connsMu.Unlock()
	}()

	for {
		if t.shuttingDown() {
			return
		}

		data, err := tc.reader.Read()
		if err != nil {
			return // includes io.EOF and any connection error
		}

		t.handler(&ReceivedMessage{
			Data:     data,
			PeerAddr: NewTCPPeerAddress(conn.RemoteAddr()),
		})
	}
}

// getOrCreateConn returns the tracked connection for addr, dialing one and
// starting its read loop if none exists yet.
func (t *TCP) getOrCreateConn(addr net.Addr) (*tcpConn, error) {
	addrStr := addr.String()

	t.connsMu.RLock()
	tc, ok := t.conns[addrStr]
	t.connsMu.RUnlock()
	if ok {
		return tc, nil
	}

	conn, err := net.Dial("tcp", addrStr)
	if err != nil {
		return nil, err
	}
	tc = newTCPConn(conn)

	t.connsMu.Lock()
	if existing, raced := t.conns[addrStr]; raced {
		t.connsMu.Unlock()
		conn.Close()
		return existing, nil
	}
	t.conns[addrStr] = tc
	t.connsMu.Unlock()

	t.wg.Add(1)
	go t.handleConn(conn)

	return tc, nil
}

// AddConnection registers an already-established connection, such as one
// side of a net.Pipe() in tests.
func (t *TCP) AddConnection(conn net.Conn) {
	tc := newTCPConn(conn)

	remoteAddr := conn.RemoteAddr().String()
	t.connsMu.Lock()
	t.conns[remoteAddr] = tc
	t.connsMu.Unlock()

	t.wg.Add(1)
	go t.handleConn(conn)
}

func (t *TCP) shuttingDown() bool {
	select {
	case <-t.closeCh:
		return true
	default:
		return false
	}
}
