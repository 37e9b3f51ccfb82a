package session

import (
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/larkspur-iot/chip-core/pkg/message"
)

// GroupContext decrypts one group (multicast) message using the group's
// shared operational key. Unlike SecureContext it is built fresh per
// message rather than held for a session's lifetime (Section 4.16.1).
type GroupContext struct {
	sourceNodeID   fabric.NodeID
	fabricIndex    fabric.FabricIndex
	groupID        uint16
	groupSessionID uint16
	codec          *message.Codec
}

// GroupContextConfig supplies the Group Key Management state needed to
// decrypt one incoming group message.
type GroupContextConfig struct {
	SourceNodeID   fabric.NodeID
	FabricIndex    fabric.FabricIndex
	GroupID        uint16
	GroupSessionID uint16
	OperationalKey []byte
}

func NewGroupContext(config GroupContextConfig) (*GroupContext, error) {
	if len(config.OperationalKey) != SessionKeySize {
		return nil, ErrInvalidKey
	}

	codec, err := message.NewCodec(config.OperationalKey, uint64(config.SourceNodeID))
	if err != nil {
		return nil, err
	}

	return &GroupContext{
		sourceNodeID:   config.SourceNodeID,
		fabricIndex:    config.FabricIndex,
		groupID:        config.GroupID,
		groupSessionID: config.GroupSessionID,
		codec:          codec,
	}, nil
}

func (g *GroupContext) SourceNodeID() fabric.NodeID     { return g.sourceNodeID }
func (g *GroupContext) FabricIndex() fabric.FabricIndex { return g.fabricIndex }
func (g *GroupContext) GroupID() uint16                 { return g.groupID }
func (g *GroupContext) GroupSessionID() uint16           { return g.groupSessionID }

func (g *GroupContext) Decrypt(data []byte) (*message.Frame, error) {
	frame, err := g.codec.Decode(data, uint64(g.sourceNodeID))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return frame, nil
}

// groupPeerKey identifies a group message sender. The same NodeID can
// appear on more than one fabric, so tracking is keyed per-fabric.
type groupPeerKey struct {
	fabricIndex fabric.FabricIndex
	nodeID      fabric.NodeID
}

// GroupPeerTable tracks per-sender reception state for group messages
// under the trust-first policy of Section 4.6.5.2.2: a peer's first
// message is accepted unconditionally to establish the counter baseline,
// and later messages are checked with rollover-aware comparison.
type GroupPeerTable struct {
	mu       sync.RWMutex
	peers    map[groupPeerKey]*message.ReceptionState
	maxPeers int
}

// NewGroupPeerTable builds an empty table. maxPeers of 0 means unlimited.
func NewGroupPeerTable(maxPeers int) *GroupPeerTable {
	return &GroupPeerTable{
		peers:    make(map[groupPeerKey]*message.ReceptionState),
		maxPeers: maxPeers,
	}
}

func (t *GroupPeerTable) CheckCounter(fabricIndex fabric.FabricIndex, sourceNodeID fabric.NodeID, counter uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := groupPeerKey{fabricIndex: fabricIndex, nodeID: sourceNodeID}

	state, tracked := t.peers[key]
	if !tracked {
		if t.maxPeers > 0 && len(t.peers) >= t.maxPeers {
			return false
		}
		t.peers[key] = message.NewReceptionState(counter)
		return true
	}

	return state.CheckAndAccept(counter, true)
}

func (t *GroupPeerTable) RemovePeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, groupPeerKey{fabricIndex: fabricIndex, nodeID: nodeID})
}

func (t *GroupPeerTable) RemoveFabric(fabricIndex fabric.FabricIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.peers {
		if key.fabricIndex == fabricIndex {
			delete(t.peers, key)
		}
	}
}

func (t *GroupPeerTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func (t *GroupPeerTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = make(map[groupPeerKey]*message.ReceptionState)
}
