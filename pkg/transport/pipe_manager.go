package transport

import "net"

// PipeManagerConfig configures a PipeManagerPair. UDP managers share a
// virtual Pipe (so NetworkCondition simulation applies); TCP managers dial
// each other over real loopback sockets, since a Pipe has only one
// connection per side and can't back a listener accepting multiple peers.
type PipeManagerConfig struct {
	UDP      bool
	TCP      bool
	Handlers [2]MessageHandler
}

// peerAddressPair is what PeerAddresses returns; fields are exported so
// callers outside the package can read them without naming the type.
type peerAddressPair struct {
	UDP PeerAddress
	TCP PeerAddress
}

// PipeManagerPair wires two transport Managers together entirely
// in-process, for exchange/session-layer tests that need a real send/
// receive path without touching the network.
type PipeManagerPair struct {
	managers  [2]*Manager
	pipe      *Pipe
	peerAddrs [2]peerAddressPair
}

// NewPipeManagerPair builds and starts both managers.
func NewPipeManagerPair(config PipeManagerConfig) (*PipeManagerPair, error) {
	if !config.UDP && !config.TCP {
		config.UDP = true
	}

	p := &PipeManagerPair{}

	var udpFactories [2]*PipeFactory
	if config.UDP {
		udpFactories[0], udpFactories[1] = NewPipeFactoryPair()
		p.pipe = udpFactories[0].Pipe()
	}

	var tcpListeners [2]net.Listener
	if config.TCP {
		for i := range tcpListeners {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				closeListeners(tcpListeners[:i])
				return nil, err
			}
			tcpListeners[i] = listener
		}
	}

	for i := range p.managers {
		mgrConfig := ManagerConfig{
			UDPEnabled:     config.UDP,
			TCPEnabled:     config.TCP,
			MessageHandler: config.Handlers[i],
		}
		if config.UDP {
			conn, err := udpFactories[i].CreateUDPConn(DefaultPort)
			if err != nil {
				closeListeners(tcpListeners[:])
				return nil, err
			}
			mgrConfig.UDPConn = conn
		}
		if config.TCP {
			mgrConfig.TCPListener = tcpListeners[i]
		}

		mgr, err := NewManager(mgrConfig)
		if err != nil {
			closeListeners(tcpListeners[:])
			return nil, err
		}
		if err := mgr.Start(); err != nil {
			closeListeners(tcpListeners[:])
			return nil, err
		}
		p.managers[i] = mgr
	}

	for i := range p.peerAddrs {
		peer := 1 - i
		var addrs peerAddressPair
		if config.UDP {
			addrs.UDP = NewUDPPeerAddress(udpFactories[peer].LocalAddr())
		}
		if config.TCP {
			addrs.TCP = NewTCPPeerAddress(tcpListeners[peer].Addr())
		}
		p.peerAddrs[i] = addrs
	}

	return p, nil
}

func closeListeners(listeners []net.Listener) {
	for _, l := range listeners {
		if l != nil {
			l.Close()
		}
	}
}

func (p *PipeManagerPair) Manager(idx int) *Manager {
	return p.managers[idx]
}

// PeerAddresses returns the addresses other side idx should be reached at.
func (p *PipeManagerPair) PeerAddresses(idx int) peerAddressPair {
	return p.peerAddrs[idx]
}

// Pipe returns the shared virtual network, or nil if UDP wasn't enabled.
func (p *PipeManagerPair) Pipe() *Pipe {
	return p.pipe
}

func (p *PipeManagerPair) Close() {
	for _, mgr := range p.managers {
		if mgr != nil {
			mgr.Stop()
		}
	}
}
