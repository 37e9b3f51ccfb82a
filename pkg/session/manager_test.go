package session

import (
	"testing"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
)

func TestManagerFreshState(t *testing.T) {
	m := NewManager(ManagerConfig{})
	if m.SecureSessionCount() != 0 || m.GroupPeerCount() != 0 {
		t.Errorf("fresh manager: sessions %d, group peers %d",
			m.SecureSessionCount(), m.GroupPeerCount())
	}
	if m.IsSecureTableFull() {
		t.Error("empty table reports full")
	}
}

func TestManagerAllocateSessionID(t *testing.T) {
	m := NewManager(ManagerConfig{MaxSessions: 10})

	id1, err := m.AllocateSessionID()
	if err != nil || id1 == 0 {
		t.Fatalf("AllocateSessionID = (%d, %v)", id1, err)
	}
	id2, err := m.AllocateSessionID()
	if err != nil || id2 == id1 {
		t.Fatalf("second AllocateSessionID = (%d, %v), first was %d", id2, err, id1)
	}
}

func TestManagerSecureContextLifecycle(t *testing.T) {
	m := NewManager(ManagerConfig{MaxSessions: 10})

	ctx := paseCtx(123)
	if err := m.AddSecureContext(ctx); err != nil {
		t.Fatalf("AddSecureContext: %v", err)
	}
	if m.SecureSessionCount() != 1 || m.FindSecureContext(123) == nil {
		t.Fatal("added context not visible")
	}

	m.RemoveSecureContext(123)
	if m.SecureSessionCount() != 0 {
		t.Error("context survived RemoveSecureContext")
	}
	// Removal wipes key material.
	for _, b := range ctx.i2rKey {
		if b != 0 {
			t.Error("i2rKey not zeroized on removal")
			break
		}
	}
}

func TestManagerPeerAndFabricLookups(t *testing.T) {
	m := NewManager(ManagerConfig{MaxSessions: 10})
	m.AddSecureContext(caseCtx(1, 1, 0x1234))
	m.AddSecureContext(caseCtx(2, 1, 0x1234))
	m.AddSecureContext(caseCtx(3, 1, 0x5678))
	m.AddSecureContext(caseCtx(4, 2, 0x1234))

	if got := m.FindSecureContextByPeer(1, 0x1234); len(got) != 2 {
		t.Errorf("FindSecureContextByPeer = %d sessions, want 2", len(got))
	}
	if got := m.FindSecureContextByFabric(1); len(got) != 3 {
		t.Errorf("FindSecureContextByFabric = %d sessions, want 3", len(got))
	}
}

func TestManagerGlobalCounter(t *testing.T) {
	m := NewManager(ManagerConfig{})
	if m.GlobalCounter() == nil {
		t.Fatal("GlobalCounter is nil")
	}

	c1, err := m.NextGlobalCounter()
	if err != nil {
		t.Fatalf("NextGlobalCounter: %v", err)
	}
	c2, err := m.NextGlobalCounter()
	if err != nil {
		t.Fatalf("NextGlobalCounter: %v", err)
	}
	if c2 != c1+1 {
		t.Errorf("counters %d then %d, want +1", c1, c2)
	}
}

// Group counters are trust-on-first-use per (fabric, source node).
func TestManagerGroupCounter(t *testing.T) {
	m := NewManager(ManagerConfig{MaxGroupPeers: 10})
	fi, node := fabric.FabricIndex(1), fabric.NodeID(0x1234)

	if !m.CheckGroupCounter(fi, node, 100) {
		t.Error("first group message rejected")
	}
	if m.CheckGroupCounter(fi, node, 100) {
		t.Error("replayed group counter accepted")
	}
	if !m.CheckGroupCounter(fi, node, 101) {
		t.Error("advancing group counter rejected")
	}
	if m.GroupPeerCount() != 1 {
		t.Errorf("GroupPeerCount = %d, want 1", m.GroupPeerCount())
	}

	m.RemoveGroupPeer(fi, node)
	if m.GroupPeerCount() != 0 {
		t.Error("group peer survived removal")
	}
}

func TestManagerRemoveFabric(t *testing.T) {
	m := NewManager(ManagerConfig{MaxSessions: 10})
	m.AddSecureContext(caseCtx(1, 1, 0x1234))
	m.AddSecureContext(caseCtx(2, 1, 0x5678))
	m.AddSecureContext(caseCtx(3, 2, 0x1234))
	m.CheckGroupCounter(1, 0x1111, 100)
	m.CheckGroupCounter(1, 0x2222, 100)
	m.CheckGroupCounter(2, 0x1111, 100)

	m.RemoveFabric(1)

	if m.SecureSessionCount() != 1 {
		t.Errorf("sessions after RemoveFabric = %d, want 1", m.SecureSessionCount())
	}
	if m.GroupPeerCount() != 1 {
		t.Errorf("group peers after RemoveFabric = %d, want 1", m.GroupPeerCount())
	}
}

func TestManagerRemovePeer(t *testing.T) {
	m := NewManager(ManagerConfig{MaxSessions: 10})
	m.AddSecureContext(caseCtx(1, 1, 0x1234))
	m.AddSecureContext(caseCtx(2, 1, 0x1234))
	m.AddSecureContext(caseCtx(3, 1, 0x5678))
	m.CheckGroupCounter(1, 0x1234, 100)
	m.CheckGroupCounter(1, 0x5678, 100)

	m.RemovePeer(1, 0x1234)

	if m.SecureSessionCount() != 1 {
		t.Errorf("sessions after RemovePeer = %d, want 1", m.SecureSessionCount())
	}
	if m.GroupPeerCount() != 1 {
		t.Errorf("group peers after RemovePeer = %d, want 1", m.GroupPeerCount())
	}
}

func TestManagerClear(t *testing.T) {
	m := NewManager(ManagerConfig{MaxSessions: 10})
	m.AddSecureContext(paseCtx(1))
	m.AddSecureContext(paseCtx(2))
	m.CheckGroupCounter(1, 0x1234, 100)
	m.NextGlobalCounter()

	m.Clear()

	if m.SecureSessionCount() != 0 || m.GroupPeerCount() != 0 {
		t.Errorf("after Clear: sessions %d, group peers %d",
			m.SecureSessionCount(), m.GroupPeerCount())
	}
}

func TestManagerForEachAndCapacity(t *testing.T) {
	m := NewManager(ManagerConfig{MaxSessions: 2})
	m.AddSecureContext(paseCtx(1))
	if m.IsSecureTableFull() {
		t.Error("1/2 table reports full")
	}
	m.AddSecureContext(paseCtx(2))
	if !m.IsSecureTableFull() {
		t.Error("2/2 table reports not full")
	}

	visited := 0
	m.ForEachSecureSession(func(*SecureContext) bool {
		visited++
		return true
	})
	if visited != 2 {
		t.Errorf("ForEachSecureSession visited %d, want 2", visited)
	}
}
