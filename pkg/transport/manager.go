package transport

import (
	"fmt"
	"net"
	"sync"
)

// Manager multiplexes UDP and TCP transports behind a single Send/Start/Stop
// API, routing outbound sends by the destination PeerAddress's transport
// type.
type Manager struct {
	udp     *UDP
	tcp     *TCP
	handler MessageHandler

	gate lifecycleGate
	mu   sync.RWMutex
}

// ManagerConfig configures the transport manager. Leaving both UDPEnabled
// and TCPEnabled false enables both (the common case); set one explicitly
// to run single-transport.
type ManagerConfig struct {
	Port           int // default DefaultPort (5540)
	UDPEnabled     bool
	TCPEnabled     bool
	MessageHandler MessageHandler

	UDPConn     net.PacketConn // pre-existing connection, for tests
	TCPListener net.Listener   // pre-existing listener, for tests
}

func NewManager(config ManagerConfig) (*Manager, error) {
	if config.MessageHandler == nil {
		return nil, ErrNoHandler
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if !config.UDPEnabled && !config.TCPEnabled {
		config.UDPEnabled = true
		config.TCPEnabled = true
	}

	m := &Manager{handler: config.MessageHandler}
	listenAddr := fmt.Sprintf(":%d", config.Port)

	if config.UDPEnabled {
		udp, err := NewUDP(UDPConfig{
			Conn:           config.UDPConn,
			ListenAddr:     listenAddr,
			MessageHandler: config.MessageHandler,
		})
		if err != nil {
			return nil, fmt.Errorf("creating UDP transport: %w", err)
		}
		m.udp = udp
	}

	if config.TCPEnabled {
		tcp, err := NewTCP(TCPConfig{
			Listener:       config.TCPListener,
			ListenAddr:     listenAddr,
			MessageHandler: config.MessageHandler,
		})
		if err != nil {
			if m.udp != nil {
				m.udp.Stop()
			}
			return nil, fmt.Errorf("creating TCP transport: %w", err)
		}
		m.tcp = tcp
	}

	return m, nil
}

func (m *Manager) Start() error {
	if err := m.gate.begin(); err != nil {
		return err
	}

	if m.udp != nil {
		if err := m.udp.Start(); err != nil {
			return fmt.Errorf("starting UDP transport: %w", err)
		}
	}
	if m.tcp != nil {
		if err := m.tcp.Start(); err != nil {
			if m.udp != nil {
				m.udp.Stop()
			}
			return fmt.Errorf("starting TCP transport: %w", err)
		}
	}
	return nil
}

// Stop closes every enabled transport, collecting but not aborting on
// individual failures; the first error is returned.
func (m *Manager) Stop() error {
	if err := m.gate.end(); err != nil {
		return err
	}

	var errs []error
	stop := func(name string, fn func() error) {
		if err := fn(); err != nil && err != ErrClosed {
			errs = append(errs, fmt.Errorf("stopping %s: %w", name, err))
		}
	}
	if m.udp != nil {
		stop("UDP", m.udp.Stop)
	}
	if m.tcp != nil {
		stop("TCP", m.tcp.Stop)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Send routes data to the transport named by peer.TransportType.
func (m *Manager) Send(data []byte, peer PeerAddress) error {
	if m.gate.isClosed() {
		return ErrClosed
	}
	if !peer.IsValid() {
		return ErrInvalidAddress
	}

	switch peer.TransportType {
	case TransportTypeUDP:
		if m.udp == nil {
			return fmt.Errorf("UDP transport not enabled")
		}
		return m.udp.Send(data, peer.Addr)
	case TransportTypeTCP:
		if m.tcp == nil {
			return fmt.Errorf("TCP transport not enabled")
		}
		return m.tcp.SendRaw(data, peer.Addr)
	default:
		return ErrInvalidAddress
	}
}

// LocalAddresses reports the bound address of every enabled transport.
func (m *Manager) LocalAddresses() []net.Addr {
	var addrs []net.Addr
	if m.udp != nil {
		addrs = append(addrs, m.udp.LocalAddr())
	}
	if m.tcp != nil {
		addrs = append(addrs, m.tcp.LocalAddr())
	}
	return addrs
}

func (m *Manager) UDP() *UDP { return m.udp }
func (m *Manager) TCP() *TCP { return m.tcp }
