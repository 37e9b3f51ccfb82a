package message

import "errors"

// Header and frame decoding errors.
var (
	ErrMessageTooShort     = errors.New("message: data too short")
	ErrInvalidVersion      = errors.New("message: invalid version (must be 0)")
	ErrInvalidSessionType  = errors.New("message: invalid session type (reserved value)")
	ErrInvalidDSIZ         = errors.New("message: invalid DSIZ field (reserved value)")
	ErrMissingSourceNodeID = errors.New("message: group session requires source node ID")
	ErrMessageTooLong      = errors.New("message: exceeds maximum size")
	ErrInvalidMIC          = errors.New("message: invalid MIC length")
	ErrPayloadTooShort     = errors.New("message: payload too short for protocol header")
	ErrStreamReadFailed    = errors.New("message: failed to read from stream")
	ErrInvalidLengthPrefix = errors.New("message: invalid length prefix")
)

// Security layer errors: AEAD failures and bad key/nonce material.
var (
	ErrDecryptionFailed = errors.New("message: decryption/authentication failed")
	ErrInvalidKey       = errors.New("message: invalid encryption key")
	ErrInvalidNonce     = errors.New("message: invalid nonce")
)

// Counter errors.
var (
	ErrReplayDetected    = errors.New("message: replay detected (duplicate counter)")
	ErrCounterExhausted  = errors.New("message: message counter exhausted")
	ErrCounterOutOfRange = errors.New("message: counter outside valid window")
)

// The size constants referenced across header, frame and protocol
// encoding are grouped here so they aren't scattered across unrelated files.
const (
	// MessageVersion is the only supported message format version (Section 4.4.1.1).
	MessageVersion uint8 = 0

	// MinHeaderSize is Message Flags(1) + Session ID(2) + Security Flags(1) + Counter(4).
	MinHeaderSize = 8

	// MinProtocolHeaderSize is Exchange Flags(1) + Opcode(1) + Exchange ID(2) + Protocol ID(2).
	MinProtocolHeaderSize = 6

	// MaxUDPMessageSize is the IPv6 minimum MTU (Section 4.4.4).
	MaxUDPMessageSize = 1280

	// MICSize is the AES-CCM tag length in bytes (Section 3.6).
	MICSize = 16

	// NodeIDSize is the width of a 64-bit Node ID field.
	NodeIDSize = 8

	// GroupIDSize is the width of a 16-bit Group ID field.
	GroupIDSize = 2

	// TCPLengthPrefixSize is the TCP stream framing prefix width (Section 4.5.1).
	TCPLengthPrefixSize = 4

	// BTPLengthPrefixSize is the BTP/PAFTP stream framing prefix width.
	BTPLengthPrefixSize = 2
)

// UnspecifiedNodeID marks a session with no operational identity yet, as
// used during PASE.
const UnspecifiedNodeID uint64 = 0
