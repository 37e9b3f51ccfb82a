package transport

import (
	"net"
	"sync"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/message"
	"github.com/pion/logging"
)

// DefaultPort is the Matter operational port (Spec Section 2.5.6.3).
const DefaultPort = 5540

// UDP runs a read loop over a net.PacketConn, dispatching each datagram to
// a MessageHandler.
type UDP struct {
	conn    net.PacketConn
	handler MessageHandler
	log     logging.LeveledLogger

	gate    lifecycleGate
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	Conn           net.PacketConn // reused as-is if set; otherwise dialed from ListenAddr
	ListenAddr     string
	MessageHandler MessageHandler
	LoggerFactory  logging.LoggerFactory // nil disables logging
}

func NewUDP(config UDPConfig) (*UDP, error) {
	if config.MessageHandler == nil {
		return nil, ErrNoHandler
	}

	u := &UDP{
		conn:    config.Conn,
		handler: config.MessageHandler,
		closeCh: make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	return u, nil
}

func (u *UDP) Start() error {
	if err := u.gate.begin(); err != nil {
		return err
	}
	if u.log != nil {
		u.log.Infof("starting UDP transport on %s", u.conn.LocalAddr())
	}
	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Stop closes the socket and blocks until the read loop has exited.
func (u *UDP) Stop() error {
	if err := u.gate.end(); err != nil {
		return err
	}
	if u.log != nil {
		u.log.Info("stopping UDP transport")
	}

	close(u.closeCh)
	u.conn.SetReadDeadline(time.Now()) // unblocks a pending ReadFrom
	u.conn.Close()
	u.wg.Wait()
	return nil
}

func (u *UDP) Send(data []byte, addr net.Addr) error {
	if u.gate.isClosed() {
		return ErrClosed
	}
	if addr == nil {
		return ErrInvalidAddress
	}
	if len(data) > message.MaxUDPMessageSize {
		return ErrMessageTooLarge
	}

	if u.log != nil {
		u.log.Debugf("sending %d bytes to %v", len(data), addr)
	}
	if _, err := u.conn.WriteTo(data, addr); err != nil {
		if u.log != nil {
			u.log.Warnf("send failed: %v", err)
		}
		return err
	}
	return nil
}

func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, message.MaxUDPMessageSize)
	for {
		if u.shuttingDown() {
			return
		}

		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			if u.shuttingDown() {
				return
			}
			if u.log != nil {
				u.log.Warnf("UDP read error: %v", err)
			}
			continue
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if u.log != nil {
			u.log.Debugf("received %d bytes from %v", n, addr)
		}

		u.handler(&ReceivedMessage{Data: data, PeerAddr: NewUDPPeerAddress(addr)})
	}
}

func (u *UDP) shuttingDown() bool {
	select {
	case <-u.closeCh:
		return true
	default:
		return false
	}
}
