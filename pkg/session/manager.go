package session

import (
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/larkspur-iot/chip-core/pkg/message"
)

const DefaultMaxGroupPeers = 64

// Manager is the session-layer API used by pkg/securechannel and
// pkg/exchange: it owns the secure session table, the group peer
// reception tracker, and the global counter used before a secure session
// exists.
type Manager struct {
	mu sync.RWMutex

	secure        *Table
	groupPeers    *GroupPeerTable
	globalCounter *message.GlobalCounter
}

type ManagerConfig struct {
	MaxSessions   int // default DefaultMaxSessions (16)
	MaxGroupPeers int // default DefaultMaxGroupPeers (64)
}

func NewManager(config ManagerConfig) *Manager {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	if config.MaxGroupPeers <= 0 {
		config.MaxGroupPeers = DefaultMaxGroupPeers
	}

	return &Manager{
		secure:        NewTable(config.MaxSessions),
		groupPeers:    NewGroupPeerTable(config.MaxGroupPeers),
		globalCounter: message.NewGlobalCounter(),
	}
}

func (m *Manager) AllocateSessionID() (uint16, error) {
	return m.secure.AllocateID()
}

func (m *Manager) AddSecureContext(ctx *SecureContext) error {
	return m.secure.Add(ctx)
}

// RemoveSecureContext zeroizes the session's keys before dropping it from
// the table.
func (m *Manager) RemoveSecureContext(localSessionID uint16) {
	if ctx := m.secure.FindByLocalID(localSessionID); ctx != nil {
		ctx.ZeroizeKeys()
	}
	m.secure.Remove(localSessionID)
}

func (m *Manager) FindSecureContext(localSessionID uint16) *SecureContext {
	return m.secure.FindByLocalID(localSessionID)
}

func (m *Manager) FindSecureContextByPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) []*SecureContext {
	return m.secure.FindByPeer(fabricIndex, nodeID)
}

func (m *Manager) FindSecureContextByFabric(fabricIndex fabric.FabricIndex) []*SecureContext {
	return m.secure.FindByFabric(fabricIndex)
}

func (m *Manager) SecureSessionCount() int {
	return m.secure.Count()
}

func (m *Manager) IsSecureTableFull() bool {
	return m.secure.IsFull()
}

func (m *Manager) GlobalCounter() *message.GlobalCounter {
	return m.globalCounter
}

func (m *Manager) NextGlobalCounter() (uint32, error) {
	return m.globalCounter.Next()
}

func (m *Manager) CheckGroupCounter(fabricIndex fabric.FabricIndex, sourceNodeID fabric.NodeID, counter uint32) bool {
	return m.groupPeers.CheckCounter(fabricIndex, sourceNodeID, counter)
}

func (m *Manager) RemoveGroupPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) {
	m.groupPeers.RemovePeer(fabricIndex, nodeID)
}

// zeroizeAndRemove clears keys on every matching session before evicting
// it, shared by RemoveFabric and RemovePeer.
func (m *Manager) zeroizeAndRemove(sessions []*SecureContext, evict func()) {
	for _, ctx := range sessions {
		ctx.ZeroizeKeys()
	}
	evict()
}

// RemoveFabric tears down every secure session and group peer record on a
// fabric, called when the fabric itself is removed from the node.
func (m *Manager) RemoveFabric(fabricIndex fabric.FabricIndex) {
	m.zeroizeAndRemove(m.secure.FindByFabric(fabricIndex), func() {
		m.secure.RemoveByFabric(fabricIndex)
	})
	m.groupPeers.RemoveFabric(fabricIndex)
}

// RemovePeer tears down every secure session and group peer record for a
// specific node, called when that peer is removed.
func (m *Manager) RemovePeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) {
	m.zeroizeAndRemove(m.secure.FindByPeer(fabricIndex, nodeID), func() {
		m.secure.RemoveByPeer(fabricIndex, nodeID)
	})
	m.groupPeers.RemovePeer(fabricIndex, nodeID)
}

// Clear zeroizes and drops every session, resets group tracking, and
// restarts the global counter.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.secure.ForEach(func(ctx *SecureContext) bool {
		ctx.ZeroizeKeys()
		return true
	})
	m.secure.Clear()
	m.groupPeers.Clear()
	m.globalCounter = message.NewGlobalCounter()
}

func (m *Manager) ForEachSecureSession(fn func(*SecureContext) bool) {
	m.secure.ForEach(fn)
}

func (m *Manager) GroupPeerCount() int {
	return m.groupPeers.Count()
}
