package session

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/larkspur-iot/chip-core/pkg/message"
)

// UnsecuredContext tracks the handshake-phase session state: an ephemeral
// node ID for routing, a reception window for replay detection of
// unencrypted messages, and MRP timing (Section 4.13.2.1).
type UnsecuredContext struct {
	mu sync.RWMutex

	role            SessionRole
	ephemeralNodeID fabric.NodeID
	receptionState  *message.ReceptionState
	params          Params
}

// NewUnsecuredContext opens an unsecured context for a handshake.
// Initiators draw a random ephemeral node ID immediately; responders
// learn theirs from the first message received and set it via
// SetEphemeralNodeID.
func NewUnsecuredContext(role SessionRole) (*UnsecuredContext, error) {
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	ctx := &UnsecuredContext{
		role:           role,
		receptionState: message.NewReceptionStateEmpty(),
		params:         DefaultParams(),
	}

	if role == SessionRoleInitiator {
		nodeID, err := randomEphemeralNodeID()
		if err != nil {
			return nil, err
		}
		ctx.ephemeralNodeID = nodeID
	}

	return ctx, nil
}

func (u *UnsecuredContext) Role() SessionRole {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.role
}

func (u *UnsecuredContext) EphemeralNodeID() fabric.NodeID {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.ephemeralNodeID
}

func (u *UnsecuredContext) SetEphemeralNodeID(nodeID fabric.NodeID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ephemeralNodeID = nodeID
}

// CheckCounter applies Section 4.6.5.3's relaxed duplicate rule for
// unencrypted messages: counters behind the window are still accepted,
// since they may come from a peer that rebooted.
func (u *UnsecuredContext) CheckCounter(counter uint32) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.receptionState.CheckUnencrypted(counter)
}

func (u *UnsecuredContext) GetParams() Params {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.params
}

// SetParams is typically called once MRP parameters are learned from a
// peer's DNS-SD TXT records.
func (u *UnsecuredContext) SetParams(params Params) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.params = params.WithDefaults()
}

// randomEphemeralNodeID draws a node ID from the operational range for use
// during a handshake, before a real operational identity exists.
func randomEphemeralNodeID() (fabric.NodeID, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}

	span := uint64(fabric.NodeIDMaxOperational) - uint64(fabric.NodeIDMinOperational)
	raw := binary.LittleEndian.Uint64(buf[:])
	return fabric.NodeID(raw%span + uint64(fabric.NodeIDMinOperational)), nil
}
