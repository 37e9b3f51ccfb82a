package matter

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/commissioning"
	"github.com/larkspur-iot/chip-core/pkg/discovery"
	"github.com/larkspur-iot/chip-core/pkg/exchange"
	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/larkspur-iot/chip-core/pkg/im"
	"github.com/larkspur-iot/chip-core/pkg/message"
	"github.com/larkspur-iot/chip-core/pkg/securechannel"
	"github.com/larkspur-iot/chip-core/pkg/securechannel/pase"
	"github.com/larkspur-iot/chip-core/pkg/session"
	"github.com/larkspur-iot/chip-core/pkg/transport"
	"github.com/pion/logging"
)

const storageSectionCounters = "counters"
const storageSectionFabrics = "fabrics"

// Node represents a running Matter node (device or controller). It owns
// the stack's core managers and the single Interaction Model handler chain
// applications register cluster handlers on; the cluster data model, ACL
// enforcement and certificate-based fabric provisioning live outside this
// package entirely.
type Node struct {
	config NodeConfig
	state  NodeState
	log    logging.LeveledLogger

	sessionMgr   *session.Manager
	transportMgr *transport.Manager
	exchangeMgr  *exchange.Manager
	scMgr        *securechannel.Manager
	imChain      *im.Chain
	imEngine     *im.Engine
	discoveryMgr *discovery.Manager

	fabrics map[fabric.FabricIndex]fabric.NodeID

	commWindow *commissioning.CommissioningWindow
	paseInfo   *paseInfo

	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// paseInfo holds PASE parameters derived from the commissioning passcode.
type paseInfo struct {
	verifier   *pase.Verifier
	salt       []byte
	iterations uint32
}

// NewNode creates a new Matter node with the given configuration. The node
// is created but not started; call Start to begin operation.
func NewNode(config NodeConfig) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	n := &Node{
		config:  config,
		state:   NodeStateUninitialized,
		fabrics: make(map[fabric.FabricIndex]fabric.NodeID),
		imChain: im.NewChain(),
		stopCh:  make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("matter")
	}

	if err := n.loadState(); err != nil {
		return nil, err
	}
	if err := n.initPASE(); err != nil {
		return nil, err
	}

	n.sessionMgr = session.NewManager(session.ManagerConfig{})

	n.state = NodeStateInitialized
	return n, nil
}

// InteractionModel returns the handler chain applications register their
// cluster implementations on.
func (n *Node) InteractionModel() *im.Chain {
	return n.imChain
}

// loadState restores the fabric table from persisted storage. Missing
// storage keys are treated as "no fabrics yet", not an error.
func (n *Node) loadState() error {
	raw, err := n.config.Storage.Get(storageSectionFabrics, "index")
	if err == ErrKeyNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if len(raw)%9 != 0 {
		return nil
	}
	for i := 0; i+9 <= len(raw); i += 9 {
		idx := fabric.FabricIndex(raw[i])
		nodeID := fabric.NodeID(binary.LittleEndian.Uint64(raw[i+1 : i+9]))
		n.fabrics[idx] = nodeID
	}
	return nil
}

// saveFabrics persists the fabric table as a flat [index:1][nodeID:8] table.
func (n *Node) saveFabrics() {
	buf := make([]byte, 0, len(n.fabrics)*9)
	for idx, nodeID := range n.fabrics {
		buf = append(buf, byte(idx))
		var nb [8]byte
		binary.LittleEndian.PutUint64(nb[:], uint64(nodeID))
		buf = append(buf, nb[:]...)
	}
	n.config.Storage.Set(storageSectionFabrics, "index", buf)
}

// initPASE derives the commissioning PASE verifier from the configured
// passcode. See Matter Specification Section 3.10.
func (n *Node) initPASE() error {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	iterations := uint32(1000)

	verifier, err := pase.GenerateVerifier(n.config.Passcode, salt, iterations)
	if err != nil {
		return err
	}

	n.paseInfo = &paseInfo{verifier: verifier, salt: salt, iterations: iterations}
	return nil
}

// Start initializes the network stack and begins operation. For
// uncommissioned nodes this opens a commissioning window; for commissioned
// nodes it advertises operationally.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.state.CanStart() {
		if n.state.IsRunning() {
			return ErrAlreadyStarted
		}
		return ErrNotInitialized
	}

	n.state = NodeStateStarting
	n.ctx, n.cancel = context.WithCancel(ctx)

	if err := n.startTransport(); err != nil {
		n.state = NodeStateInitialized
		return err
	}
	n.startExchange()
	n.registerProtocols()

	if err := n.startDiscovery(); err != nil {
		n.stopExchange()
		n.stopTransport()
		n.state = NodeStateInitialized
		return err
	}

	if len(n.fabrics) > 0 {
		n.state = NodeStateCommissioned
		n.advertiseOperational()
	} else {
		n.state = NodeStateUncommissioned
		n.openCommissioningWindowLocked(3 * time.Minute)
	}

	if n.log != nil {
		n.log.Infof("node started, state=%s", n.state)
	}
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(n.state)
	}
	return nil
}

// startTransport initializes the transport layer.
func (n *Node) startTransport() error {
	var udpConn net.PacketConn
	var tcpListener net.Listener
	var err error

	if n.config.TransportFactory != nil {
		udpConn, err = n.config.TransportFactory.CreateUDPConn(n.config.Port)
		if err != nil {
			return err
		}
		tcpListener, err = n.config.TransportFactory.CreateTCPListener(n.config.Port)
		if err != nil {
			return err
		}
	}

	handler := func(msg *transport.ReceivedMessage) {
		if n.exchangeMgr != nil {
			n.exchangeMgr.OnMessageReceived(msg)
		}
	}

	n.transportMgr, err = transport.NewManager(transport.ManagerConfig{
		Port:           n.config.Port,
		UDPEnabled:     true,
		TCPEnabled:     true,
		UDPConn:        udpConn,
		TCPListener:    tcpListener,
		MessageHandler: handler,
	})
	if err != nil {
		return err
	}
	return n.transportMgr.Start()
}

func (n *Node) stopTransport() {
	if n.transportMgr != nil {
		n.transportMgr.Stop()
	}
}

// startExchange initializes the exchange layer.
func (n *Node) startExchange() {
	n.exchangeMgr = exchange.NewManager(exchange.ManagerConfig{
		SessionManager:   n.sessionMgr,
		TransportManager: n.transportMgr,
	})
}

func (n *Node) stopExchange() {
	if n.exchangeMgr != nil {
		n.exchangeMgr.Close()
	}
}

// registerProtocols wires the secure channel and interaction model
// protocol handlers into the exchange manager's dispatch table.
func (n *Node) registerProtocols() {
	n.scMgr = securechannel.NewManager(securechannel.ManagerConfig{
		SessionManager: n.sessionMgr,
		Callbacks: securechannel.Callbacks{
			OnSessionEstablished: n.onSessionEstablished,
			OnSessionError:       n.onSessionError,
			OnSessionClosed:      n.onSessionClosed,
		},
	})
	n.scMgr.SetPASEResponder(n.paseInfo.verifier, n.paseInfo.salt, n.paseInfo.iterations)

	n.imEngine = im.NewEngine(n.imChain)

	n.exchangeMgr.RegisterProtocol(message.ProtocolSecureChannel, newSecureChannelAdapter(n.scMgr))
	n.exchangeMgr.RegisterProtocol(message.ProtocolID(im.ProtocolID), newIMAdapter(n.imEngine))
}

// startDiscovery initializes DNS-SD.
func (n *Node) startDiscovery() error {
	var err error
	n.discoveryMgr, err = discovery.NewManager(discovery.ManagerConfig{
		Port: n.config.Port,
	})
	return err
}

func (n *Node) stopDiscovery() {
	if n.discoveryMgr != nil {
		n.discoveryMgr.Close()
	}
}

// advertiseOperational starts operational DNS-SD advertisement for every
// fabric the node is commissioned onto.
func (n *Node) advertiseOperational() {
	if n.discoveryMgr == nil {
		return
	}
	for idx, nodeID := range n.fabrics {
		var compressed [8]byte
		binary.LittleEndian.PutUint64(compressed[:], uint64(idx)<<56|uint64(nodeID)&0x00FFFFFFFFFFFFFF)
		n.discoveryMgr.StartOperational(compressed, nodeID, discovery.OperationalTXT{})
	}
}

// OpenCommissioningWindow opens a commissioning window for the given
// duration. Returns ErrAlreadyCommissioned if the node already belongs to
// a fabric and ErrCommissioningWindowOpen if a window is already open.
func (n *Node) OpenCommissioningWindow(timeout time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.fabrics) > 0 {
		return ErrAlreadyCommissioned
	}
	return n.openCommissioningWindowLocked(timeout)
}

func (n *Node) openCommissioningWindowLocked(timeout time.Duration) error {
	if n.commWindow != nil {
		return ErrCommissioningWindowOpen
	}

	var advertiser *discovery.Advertiser
	if n.discoveryMgr != nil {
		advertiser = n.discoveryMgr.Advertiser()
	}

	w, err := commissioning.NewCommissioningWindow(commissioning.CommissioningWindowConfig{
		Timeout:       timeout,
		Discriminator: n.config.Discriminator,
		VendorID:      n.config.VendorID,
		ProductID:     n.config.ProductID,
		DeviceName:    n.config.DeviceName,
		Verifier:      n.paseInfo.verifier,
		Salt:          n.paseInfo.salt,
		Iterations:    n.paseInfo.iterations,
		Advertiser:    advertiser,
		OnWindowClosed: func(error) {
			n.mu.Lock()
			n.commWindow = nil
			n.mu.Unlock()
		},
	})
	if err != nil {
		return err
	}
	n.commWindow = w
	n.state = NodeStateCommissioningOpen

	go func() {
		w.Open(context.Background())
	}()
	return nil
}

// CloseCommissioningWindow closes an open commissioning window, if any.
func (n *Node) CloseCommissioningWindow() error {
	n.mu.Lock()
	w := n.commWindow
	n.mu.Unlock()

	if w == nil {
		return ErrCommissioningWindowClosed
	}
	return w.Close()
}

// Stop gracefully shuts down the node.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.state.CanStop() {
		if n.state == NodeStateStopped {
			return ErrAlreadyStopped
		}
		return ErrNotStarted
	}

	n.state = NodeStateStopping

	n.stopOnce.Do(func() {
		close(n.stopCh)
		if n.cancel != nil {
			n.cancel()
		}
	})

	if n.commWindow != nil {
		cw := n.commWindow
		n.commWindow = nil
		cw.Close()
	}

	n.stopDiscovery()
	n.stopExchange()
	n.stopTransport()
	n.saveState()

	n.state = NodeStateStopped
	if n.log != nil {
		n.log.Info("node stopped")
	}
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(n.state)
	}
	return nil
}

// saveState persists the global message counter and the fabric table to
// storage.
func (n *Node) saveState() {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n.sessionMgr.GlobalCounter().Current())
	n.config.Storage.Set(storageSectionCounters, "local", buf[:])
	n.saveFabrics()
}

// State returns the current node state.
func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// IsCommissioned returns true if the node belongs to at least one fabric.
func (n *Node) IsCommissioned() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.fabrics) > 0
}

// AddFabric records that the node has been commissioned onto the given
// fabric. The certificate exchange that authorizes this belongs to the
// CASE/credential collaborator; this only updates bookkeeping once that
// collaborator reports success.
func (n *Node) AddFabric(index fabric.FabricIndex, nodeID fabric.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fabrics[index] = nodeID
	n.saveFabrics()
	if n.state == NodeStateUncommissioned || n.state == NodeStateCommissioningOpen {
		n.state = NodeStateCommissioned
	}
}

// RemoveFabric removes the node from a fabric.
func (n *Node) RemoveFabric(index fabric.FabricIndex) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.fabrics[index]; !ok {
		return ErrFabricNotFound
	}
	delete(n.fabrics, index)
	n.saveFabrics()

	if len(n.fabrics) == 0 && n.state == NodeStateCommissioned {
		n.state = NodeStateUncommissioned
		if n.config.OnStateChanged != nil {
			n.config.OnStateChanged(n.state)
		}
	}
	return nil
}

// Fabrics returns the fabric indices the node is commissioned onto.
func (n *Node) Fabrics() []fabric.FabricIndex {
	n.mu.RLock()
	defer n.mu.RUnlock()

	result := make([]fabric.FabricIndex, 0, len(n.fabrics))
	for idx := range n.fabrics {
		result = append(result, idx)
	}
	return result
}

// SessionManager returns the node's session manager.
func (n *Node) SessionManager() *session.Manager { return n.sessionMgr }

// SecureChannelManager returns the node's secure channel manager.
func (n *Node) SecureChannelManager() *securechannel.Manager { return n.scMgr }

// ExchangeManager returns the node's exchange manager.
func (n *Node) ExchangeManager() *exchange.Manager { return n.exchangeMgr }

// TransportManager returns the node's transport manager.
func (n *Node) TransportManager() *transport.Manager { return n.transportMgr }

// LoggerFactory returns the node's logger factory, or nil.
func (n *Node) LoggerFactory() logging.LoggerFactory { return n.config.LoggerFactory }

func (n *Node) onSessionEstablished(ctx *session.SecureContext) {
	n.mu.Lock()
	cw := n.commWindow
	n.mu.Unlock()

	if ctx.SessionType() == session.SessionTypePASE && cw != nil {
		cw.OnPASEComplete(ctx)
	}
	if n.config.OnSessionEstablished != nil {
		n.config.OnSessionEstablished(ctx.LocalSessionID(), uint8(ctx.SessionType()))
	}
}

func (n *Node) onSessionError(err error, stage string) {
	if n.log != nil {
		n.log.Warnf("session error at %s: %v", stage, err)
	}
}

func (n *Node) onSessionClosed(localSessionID uint16) {
	if n.config.OnSessionClosed != nil {
		n.config.OnSessionClosed(localSessionID)
	}
}
