package session

import (
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
)

const (
	MinSessionID       uint16 = 1 // 0 is reserved for unsecured sessions
	MaxSessionID       uint16 = 0xFFFF
	DefaultMaxSessions        = 16
)

// Table indexes secure session contexts by local session ID and supports
// lookup by peer or fabric. IDs are handed out sequentially and wrap
// around MaxSessionID, skipping 0 and any ID still in use.
type Table struct {
	mu          sync.RWMutex
	sessions    map[uint16]*SecureContext
	maxSessions int
	nextID      uint16
}

func NewTable(maxSessions int) *Table {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Table{
		sessions:    make(map[uint16]*SecureContext),
		maxSessions: maxSessions,
		nextID:      MinSessionID,
	}
}

// AllocateID reserves the next free ID in [1, 65535]. It does not insert
// into the table — callers still call Add with a context carrying this ID.
func (t *Table) AllocateID() (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return 0, ErrSessionTableFull
	}

	start := t.nextID
	for {
		id := t.nextID
		t.nextID++
		if t.nextID == 0 {
			t.nextID = MinSessionID
		}
		if _, taken := t.sessions[id]; !taken {
			return id, nil
		}
		if t.nextID == start {
			return 0, ErrSessionIDExhausted
		}
	}
}

func (t *Table) Add(ctx *SecureContext) error {
	if ctx == nil {
		return ErrInvalidSessionID
	}
	id := ctx.LocalSessionID()
	if id == 0 {
		return ErrInvalidSessionID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return ErrSessionTableFull
	}
	if _, exists := t.sessions[id]; exists {
		return ErrDuplicateSession
	}
	t.sessions[id] = ctx
	return nil
}

func (t *Table) Remove(localSessionID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, localSessionID)
}

func (t *Table) FindByLocalID(id uint16) *SecureContext {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

func (t *Table) FindByPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) []*SecureContext {
	return t.filter(func(ctx *SecureContext) bool {
		return ctx.FabricIndex() == fabricIndex && ctx.PeerNodeID() == nodeID
	})
}

func (t *Table) FindByFabric(fabricIndex fabric.FabricIndex) []*SecureContext {
	return t.filter(func(ctx *SecureContext) bool {
		return ctx.FabricIndex() == fabricIndex
	})
}

func (t *Table) filter(match func(*SecureContext) bool) []*SecureContext {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*SecureContext
	for _, ctx := range t.sessions {
		if match(ctx) {
			out = append(out, ctx)
		}
	}
	return out
}

func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *Table) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions) >= t.maxSessions
}

func (t *Table) MaxSessions() int {
	return t.maxSessions
}

func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = make(map[uint16]*SecureContext)
}

func (t *Table) ForEach(fn func(*SecureContext) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ctx := range t.sessions {
		if !fn(ctx) {
			return
		}
	}
}

// RemoveByFabric evicts every session on a fabric and reports how many
// were removed.
func (t *Table) RemoveByFabric(fabricIndex fabric.FabricIndex) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, ctx := range t.sessions {
		if ctx.FabricIndex() == fabricIndex {
			delete(t.sessions, id)
			n++
		}
	}
	return n
}

// RemoveByPeer evicts every session to a peer on a fabric and reports how
// many were removed.
func (t *Table) RemoveByPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, ctx := range t.sessions {
		if ctx.FabricIndex() == fabricIndex && ctx.PeerNodeID() == nodeID {
			delete(t.sessions, id)
			n++
		}
	}
	return n
}
