package session

import (
	"sync"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/larkspur-iot/chip-core/pkg/message"
)

// Key and identifier sizes (Section 4.13.3.1).
const (
	SessionKeySize   = 16 // I2R/R2I key width for AES-128
	ResumptionIDSize = 16
	MaxCATCount      = 3
)

// SecureContext is an established PASE/CASE session: the 15 fields Section
// 4.13.3.1 specifies (identity, keys, counters, fabric binding, resumption,
// timestamps, MRP parameters) plus up to MaxCATCount CASE Authenticated
// Tags. pkg/securechannel constructs one after a handshake completes.
type SecureContext struct {
	mu sync.RWMutex

	sessionType    SessionType
	role           SessionRole
	localSessionID uint16 // routes incoming messages to this context
	peerSessionID  uint16 // placed in outgoing messages' Session ID field

	i2rKey       []byte
	r2iKey       []byte
	sharedSecret []byte // CASE resumption only; nil for PASE

	encryptCodec *message.Codec
	decryptCodec *message.Codec

	localCounter   *message.SessionCounter
	receptionState *message.ReceptionState

	fabricIndex fabric.FabricIndex // 0 for PASE before AddNOC
	peerNodeID  fabric.NodeID      // 0 for PASE
	localNodeID fabric.NodeID      // 0 for PASE

	resumptionID [ResumptionIDSize]byte

	sessionTimestamp time.Time // last send or receive
	activeTimestamp  time.Time // last receive, feeds IsPeerActive

	params Params

	caseAuthTags []uint32
}

// SecureContextConfig supplies the handshake outputs needed to build a
// SecureContext.
type SecureContextConfig struct {
	SessionType    SessionType
	Role           SessionRole
	LocalSessionID uint16
	PeerSessionID  uint16
	I2RKey         []byte
	R2IKey         []byte
	SharedSecret   []byte // optional, CASE resumption only
	FabricIndex    fabric.FabricIndex
	PeerNodeID     fabric.NodeID
	LocalNodeID    fabric.NodeID
	Params         Params
	CaseAuthTags   []uint32
}

// NewSecureContext builds a session context from a completed PASE/CASE
// handshake, deriving the encrypt/decrypt codec pair from the session's
// role and key pair.
func NewSecureContext(config SecureContextConfig) (*SecureContext, error) {
	if !config.SessionType.IsValid() {
		return nil, ErrInvalidSessionType
	}
	if !config.Role.IsValid() {
		return nil, ErrInvalidRole
	}
	if config.LocalSessionID == 0 {
		return nil, ErrInvalidSessionID
	}
	if len(config.I2RKey) != SessionKeySize || len(config.R2IKey) != SessionKeySize {
		return nil, ErrInvalidKey
	}

	localNonceID, peerNonceID := nonceNodeIDs(config.SessionType, config.LocalNodeID, config.PeerNodeID)

	encryptCodec, decryptCodec, err := buildRoleCodecs(config.Role, config.I2RKey, config.R2IKey, localNonceID, peerNonceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ctx := &SecureContext{
		sessionType:      config.SessionType,
		role:             config.Role,
		localSessionID:   config.LocalSessionID,
		peerSessionID:    config.PeerSessionID,
		i2rKey:           append([]byte(nil), config.I2RKey...),
		r2iKey:           append([]byte(nil), config.R2IKey...),
		encryptCodec:     encryptCodec,
		decryptCodec:     decryptCodec,
		localCounter:     message.NewSessionCounter(),
		receptionState:   message.NewReceptionStateEmpty(),
		fabricIndex:      config.FabricIndex,
		peerNodeID:       config.PeerNodeID,
		localNodeID:      config.LocalNodeID,
		sessionTimestamp: now,
		activeTimestamp:  now,
		params:           config.Params.WithDefaults(),
	}

	if len(config.SharedSecret) > 0 {
		ctx.sharedSecret = append([]byte(nil), config.SharedSecret...)
	}
	if n := len(config.CaseAuthTags); n > 0 {
		if n > MaxCATCount {
			n = MaxCATCount
		}
		ctx.caseAuthTags = append([]uint32(nil), config.CaseAuthTags[:n]...)
	}

	return ctx, nil
}

// nonceNodeIDs resolves which node IDs feed AEAD nonce construction: PASE
// sessions have no operational identity yet and always nonce with 0,
// regardless of what LocalNodeID/PeerNodeID were passed in.
func nonceNodeIDs(sessionType SessionType, local, peer fabric.NodeID) (localNonceID, peerNonceID uint64) {
	if sessionType == SessionTypePASE {
		return 0, 0
	}
	return uint64(local), uint64(peer)
}

// buildRoleCodecs assigns I2R/R2I keys to encrypt/decrypt roles: the
// initiator encrypts with I2R and decrypts with R2I, the responder the
// reverse.
func buildRoleCodecs(role SessionRole, i2rKey, r2iKey []byte, localNonceID, peerNonceID uint64) (encrypt, decrypt *message.Codec, err error) {
	sendKey, recvKey := i2rKey, r2iKey
	if role == SessionRoleResponder {
		sendKey, recvKey = r2iKey, i2rKey
	}

	encrypt, err = message.NewCodec(sendKey, localNonceID)
	if err != nil {
		return nil, nil, err
	}
	decrypt, err = message.NewCodec(recvKey, peerNonceID)
	if err != nil {
		return nil, nil, err
	}
	return encrypt, decrypt, nil
}

func (s *SecureContext) LocalSessionID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localSessionID
}

// PeerSessionID is what must go in outgoing messages' Session ID field.
func (s *SecureContext) PeerSessionID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerSessionID
}

func (s *SecureContext) SessionType() SessionType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionType
}

func (s *SecureContext) Role() SessionRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// FabricIndex is 0 for a PASE session before AddNOC.
func (s *SecureContext) FabricIndex() fabric.FabricIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fabricIndex
}

// SetFabricIndex is called after AddNOC completes on a PASE-established
// session, once it has moved onto a fabric.
func (s *SecureContext) SetFabricIndex(index fabric.FabricIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fabricIndex = index
}

func (s *SecureContext) PeerNodeID() fabric.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerNodeID
}

func (s *SecureContext) LocalNodeID() fabric.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localNodeID
}

// Encrypt assigns the peer session ID and next local counter value into
// header, then encrypts protocol+payload for transmission.
func (s *SecureContext) Encrypt(header *message.MessageHeader, protocol *message.ProtocolHeader, payload []byte, privacy bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, err := s.localCounter.Next()
	if err != nil {
		return nil, ErrCounterExhausted
	}
	header.SessionID = s.peerSessionID
	header.MessageCounter = counter

	encrypted, err := s.encryptCodec.Encode(header, protocol, payload, privacy)
	if err != nil {
		return nil, err
	}
	s.sessionTimestamp = time.Now()
	return encrypted, nil
}

// Decrypt decrypts an incoming message and checks its counter against the
// reception window before accepting it.
func (s *SecureContext) Decrypt(data []byte) (*message.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, peerNonceID := nonceNodeIDs(s.sessionType, s.localNodeID, s.peerNodeID)

	frame, err := s.decryptCodec.Decode(data, peerNonceID)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if !s.receptionState.CheckAndAccept(frame.Header.MessageCounter, false) {
		return nil, ErrReplayDetected
	}

	now := time.Now()
	s.sessionTimestamp = now
	s.activeTimestamp = now
	return frame, nil
}

func (s *SecureContext) NextCounter() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, err := s.localCounter.Next()
	if err != nil {
		return 0, ErrCounterExhausted
	}
	return counter, nil
}

func (s *SecureContext) CheckCounter(counter uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receptionState.CheckAndAccept(counter, false)
}

// IsPeerActive implements PeerActiveMode = (now - ActiveTimestamp) <
// ActiveThreshold (Section 4.13.3.1 field 15d), used for MRP retry timing.
func (s *SecureContext) IsPeerActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.activeTimestamp) < s.params.ActiveThreshold
}

// MarkActivity records a send (isReceive=false) or receive (true); receives
// additionally bump the active timestamp.
func (s *SecureContext) MarkActivity(isReceive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.sessionTimestamp = now
	if isReceive {
		s.activeTimestamp = now
	}
}

func (s *SecureContext) GetParams() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *SecureContext) SetParams(params Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params.WithDefaults()
}

func (s *SecureContext) SetResumptionID(id [ResumptionIDSize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumptionID = id
}

func (s *SecureContext) ResumptionID() [ResumptionIDSize]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumptionID
}

// SharedSecret returns nil for PASE sessions, and a defensive copy
// otherwise.
func (s *SecureContext) SharedSecret() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sharedSecret == nil {
		return nil
	}
	return append([]byte(nil), s.sharedSecret...)
}

// CaseAuthTags returns nil for PASE sessions or if none were set.
func (s *SecureContext) CaseAuthTags() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.caseAuthTags == nil {
		return nil
	}
	return append([]uint32(nil), s.caseAuthTags...)
}

func (s *SecureContext) SessionTimestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionTimestamp
}

func (s *SecureContext) ActiveTimestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTimestamp
}

// ZeroizeKeys wipes key material and drops the codecs built from it; call
// when a session closes.
func (s *SecureContext) ZeroizeKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()

	zero(s.i2rKey)
	zero(s.r2iKey)
	zero(s.sharedSecret)

	s.encryptCodec = nil
	s.decryptCodec = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
