// Operational group key derivation (§4.17.2): turns a fabric's shared
// epoch key into the per-group encryption key, privacy key and session
// id that group messaging actually uses on the wire.
package crypto

import (
	"encoding/binary"
	"errors"
)

const (
	CompressedFabricIDSize = 8
	GroupSessionIDSize     = 2
)

// Info strings fixed by §4.17.2.1; a future Group Key protocol version
// would introduce new strings rather than reusing these.
var (
	groupKeyInfo     = []byte("GroupKey v1.0")
	groupKeyHashInfo = []byte("GroupKeyHash")
)

var (
	ErrInvalidEpochKeySize           = errors.New("group: invalid epoch key size, must be 16 bytes")
	ErrInvalidCompressedFabricIDSize = errors.New("group: invalid compressed fabric ID size, must be 8 bytes")
	ErrInvalidOperationalKeySize     = errors.New("group: invalid operational key size, must be 16 bytes")
)

// GroupOperationalCredentials bundles the keys and session id derived
// for one epoch key on one fabric.
type GroupOperationalCredentials struct {
	EncryptionKey []byte
	PrivacyKey    []byte
	SessionID     uint16
}

// DeriveGroupOperationalKeyV1 derives the operational group encryption
// key: HKDF-SHA256(epochKey, salt=compressedFabricID, info="GroupKey v1.0", 16).
func DeriveGroupOperationalKeyV1(epochKey, compressedFabricID []byte) ([]byte, error) {
	if len(epochKey) != SymmetricKeySize {
		return nil, ErrInvalidEpochKeySize
	}
	if len(compressedFabricID) != CompressedFabricIDSize {
		return nil, ErrInvalidCompressedFabricIDSize
	}
	return HKDFSHA256(epochKey, compressedFabricID, groupKeyInfo, SymmetricKeySize)
}

// DeriveGroupSessionIDV1 derives the 16-bit session id a group's
// messages carry, so a receiver can pick the right key set without
// trying every group key it holds.
func DeriveGroupSessionIDV1(operationalKey []byte) (uint16, error) {
	if len(operationalKey) != SymmetricKeySize {
		return 0, ErrInvalidOperationalKeySize
	}
	digest, err := HKDFSHA256(operationalKey, nil, groupKeyHashInfo, GroupSessionIDSize)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(digest), nil
}

// DeriveGroupCredentialsV1 runs the full group-key derivation chain for
// one epoch key: operational key, privacy key and session id together.
func DeriveGroupCredentialsV1(epochKey, compressedFabricID []byte) (*GroupOperationalCredentials, error) {
	encryptionKey, err := DeriveGroupOperationalKeyV1(epochKey, compressedFabricID)
	if err != nil {
		return nil, err
	}
	privacyKey, err := DerivePrivacyKey(encryptionKey)
	if err != nil {
		return nil, err
	}
	sessionID, err := DeriveGroupSessionIDV1(encryptionKey)
	if err != nil {
		return nil, err
	}
	return &GroupOperationalCredentials{
		EncryptionKey: encryptionKey,
		PrivacyKey:    privacyKey,
		SessionID:     sessionID,
	}, nil
}
