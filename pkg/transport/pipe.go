package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// Factory creates the connections a transport listens on; real network
// sockets for production, a Pipe for deterministic tests.
type Factory interface {
	CreateUDPConn(port int) (net.PacketConn, error)
	// CreateTCPListener returns nil if the factory doesn't support TCP.
	CreateTCPListener(port int) (net.Listener, error)
}

// NetworkCondition simulates adverse network behavior over a Pipe: packet
// loss, delay, duplication, and reordering.
type NetworkCondition struct {
	DropRate float64

	DelayMin time.Duration
	DelayMax time.Duration // actual delay is uniform over [DelayMin, DelayMax]

	DuplicateRate float64

	ReorderRate  float64
	ReorderDelay time.Duration
}

// PipeConfig configures a Pipe's delivery behavior.
type PipeConfig struct {
	AutoProcess     bool          // true in DefaultPipeConfig; false leaves delivery to Tick/Process
	ProcessInterval time.Duration // default 1ms
}

func DefaultPipeConfig() PipeConfig {
	return PipeConfig{AutoProcess: true, ProcessInterval: time.Millisecond}
}

// Pipe is an in-memory, bidirectional link between two endpoints built on
// pion's test.Bridge, with NetworkCondition simulation layered on top. By
// default a background goroutine ticks the bridge continuously; call
// SetAutoProcess(false) to drive delivery manually with Tick/Process.
type Pipe struct {
	bridge *test.Bridge

	mu        sync.RWMutex
	condition NetworkCondition
	closed    bool
	rng       *rand.Rand

	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

func NewPipeWithConfig(config PipeConfig) *Pipe {
	if config.ProcessInterval == 0 {
		config.ProcessInterval = time.Millisecond
	}

	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if p.autoProcess {
		p.runTicker()
	}
	return p
}

func (p *Pipe) runTicker() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess toggles the background delivery goroutine. Disabling it
// gives tests exact control over packet ordering via Tick/Process.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.runTicker()
		return
	}
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

func (p *Pipe) Conn0() net.Conn { return p.bridge.GetConn0() }
func (p *Pipe) Conn1() net.Conn { return p.bridge.GetConn1() }

// Tick delivers at most one queued packet per direction and reports how
// many were delivered (0, 1, or 2).
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process drains every queued packet and reports the total delivered.
func (p *Pipe) Process() int {
	total := 0
	for {
		n := p.Tick()
		if n == 0 {
			return total
		}
		total += n
	}
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	var firstErr error
	for _, conn := range []net.Conn{p.bridge.GetConn0(), p.bridge.GetConn1()} {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PipeAddr is the net.Addr of a Pipe endpoint: which side (0 or 1) and a
// logical port number, since the underlying bridge has no real sockets.
type PipeAddr struct {
	ID   int
	Port int
}

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return fmt.Sprintf("pipe:%d:%d", a.ID, a.Port) }

// PipePacketConn adapts one Pipe endpoint to net.PacketConn so a Pipe can
// stand in for a UDP socket in the UDP transport.
type PipePacketConn struct {
	conn     net.Conn
	localID  int
	port     int
	peerAddr net.Addr
	pipe     *Pipe
}

func (c *PipePacketConn) ReadFrom(b []byte) (n int, addr net.Addr, err error) {
	n, err = c.conn.Read(b)
	return n, c.peerAddr, err
}

// WriteTo applies the pipe's configured NetworkCondition (drop, delay,
// duplicate, reorder) before writing; addr is ignored since a Pipe has
// exactly one peer. A reordered packet is held for ReorderDelay so that
// later writes overtake it.
func (c *PipePacketConn) WriteTo(b []byte, addr net.Addr) (n int, err error) {
	if c.pipe != nil {
		c.pipe.mu.RLock()
		cond := c.pipe.condition
		rng := c.pipe.rng
		c.pipe.mu.RUnlock()

		if cond.DropRate > 0 && rng.Float64() < cond.DropRate {
			return len(b), nil
		}

		if cond.DelayMax > 0 {
			delay := cond.DelayMin
			if cond.DelayMax > cond.DelayMin {
				delay += time.Duration(rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
			}
			if delay > 0 {
				time.Sleep(delay)
			}
		}

		if cond.DuplicateRate > 0 && rng.Float64() < cond.DuplicateRate {
			if _, err := c.conn.Write(b); err != nil {
				return 0, err
			}
		}

		if cond.ReorderRate > 0 && rng.Float64() < cond.ReorderRate {
			held := append([]byte(nil), b...)
			go func() {
				time.Sleep(cond.ReorderDelay)
				c.conn.Write(held)
			}()
			return len(b), nil
		}
	}

	return c.conn.Write(b)
}

func (c *PipePacketConn) Close() error                       { return c.conn.Close() }
func (c *PipePacketConn) LocalAddr() net.Addr                { return PipeAddr{ID: c.localID, Port: c.port} }
func (c *PipePacketConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *PipePacketConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *PipePacketConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var _ net.PacketConn = (*PipePacketConn)(nil)

// PipeFactory is a Factory backed by a shared Pipe, for wiring two
// transports together entirely in-memory.
type PipeFactory struct {
	mu          sync.Mutex
	peerFactory *PipeFactory
	pipe        *Pipe
	localID     int
	udpConn     *PipePacketConn
}

func NewPipeFactoryPair() (*PipeFactory, *PipeFactory) {
	return NewPipeFactoryPairWithConfig(DefaultPipeConfig())
}

func NewPipeFactoryPairWithConfig(config PipeConfig) (*PipeFactory, *PipeFactory) {
	pipe := NewPipeWithConfig(config)

	f0 := &PipeFactory{pipe: pipe, localID: 0}
	f1 := &PipeFactory{pipe: pipe, localID: 1}
	f0.peerFactory = f1
	f1.peerFactory = f0
	return f0, f1
}

func (f *PipeFactory) Pipe() *Pipe { return f.pipe }

func (f *PipeFactory) LocalAddr() net.Addr {
	return PipeAddr{ID: f.localID, Port: DefaultPort}
}

func (f *PipeFactory) PeerAddr() net.Addr {
	return PipeAddr{ID: 1 - f.localID, Port: DefaultPort}
}

func (f *PipeFactory) CreateUDPConn(port int) (net.PacketConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.udpConn != nil {
		return f.udpConn, nil
	}

	var conn net.Conn
	if f.localID == 0 {
		conn = f.pipe.Conn0()
	} else {
		conn = f.pipe.Conn1()
	}

	f.udpConn = &PipePacketConn{
		conn:     conn,
		localID:  f.localID,
		port:     port,
		peerAddr: PipeAddr{ID: 1 - f.localID, Port: port},
		pipe:     f.pipe,
	}
	return f.udpConn, nil
}

// CreateTCPListener always returns nil: pipe-backed tests exercise the UDP
// path, and a Pipe has no notion of multiple incoming connections to
// back a TCP listener.
func (f *PipeFactory) CreateTCPListener(port int) (net.Listener, error) {
	return nil, nil
}

func (f *PipeFactory) SetCondition(cond NetworkCondition) {
	f.pipe.SetCondition(cond)
}

var _ Factory = (*PipeFactory)(nil)
