package message

import "encoding/binary"

// Message Flags bit layout (Section 4.4.1.1): version in the top nibble,
// S-flag at bit 2, DSIZ in the low two bits.
const (
	msgFlagDSIZMask    uint8 = 0x03
	msgFlagSourceBit   uint8 = 0x04
	msgFlagVersionMask uint8 = 0x0F
	msgFlagVersionShift      = 4
)

// Security Flags bit layout (Section 4.4.1.3): session type in the low two
// bits, then MX/C/P flags climbing toward the top of the byte.
const (
	secFlagSessionTypeMask uint8 = 0x03
	secFlagExtensionsBit   uint8 = 0x20
	secFlagControlBit      uint8 = 0x40
	secFlagPrivacyBit      uint8 = 0x80
)

// MessageHeader is the unencrypted envelope that precedes every Matter
// message (Section 4.4.1): routing and session identification, the counter
// used both as a replay-detection value and as AEAD nonce material, and the
// flags describing how the rest of the frame is to be interpreted. All
// multi-byte fields are little-endian on the wire.
type MessageHeader struct {
	SessionID      uint16
	MessageCounter uint32
	SessionType    SessionType

	// SourceNodeID is present only when SourcePresent is set; required for
	// group messages, optional for unicast.
	SourceNodeID  uint64
	SourcePresent bool

	DestinationType    DestinationType
	DestinationNodeID  uint64 // valid when DestinationType == DestinationNodeID
	DestinationGroupID uint16 // valid when DestinationType == DestinationGroupID

	Privacy    bool // P flag
	Control    bool // C flag
	Extensions bool // MX flag — must stay false on a 1.0 node
}

// Size reports the encoded header length given its current fields.
func (h *MessageHeader) Size() int {
	n := MinHeaderSize
	if h.SourcePresent {
		n += NodeIDSize
	}
	return n + h.DestinationType.Size()
}

// Encode serializes the header; the result doubles as AAD for encryption.
func (h *MessageHeader) Encode() []byte {
	buf := make([]byte, h.Size())
	h.EncodeTo(buf)
	return buf
}

// EncodeTo writes the header into buf, which must be at least Size()
// bytes, and returns the number of bytes written.
func (h *MessageHeader) EncodeTo(buf []byte) int {
	off := 0

	buf[off] = h.messageFlags()
	off++

	binary.LittleEndian.PutUint16(buf[off:], h.SessionID)
	off += 2

	buf[off] = h.securityFlags()
	off++

	binary.LittleEndian.PutUint32(buf[off:], h.MessageCounter)
	off += 4

	if h.SourcePresent {
		binary.LittleEndian.PutUint64(buf[off:], h.SourceNodeID)
		off += NodeIDSize
	}

	switch h.DestinationType {
	case DestinationNodeID:
		binary.LittleEndian.PutUint64(buf[off:], h.DestinationNodeID)
		off += NodeIDSize
	case DestinationGroupID:
		binary.LittleEndian.PutUint16(buf[off:], h.DestinationGroupID)
		off += GroupIDSize
	}

	return off
}

func (h *MessageHeader) messageFlags() uint8 {
	flags := (MessageVersion & msgFlagVersionMask) << msgFlagVersionShift
	if h.SourcePresent {
		flags |= msgFlagSourceBit
	}
	flags |= uint8(h.DestinationType) & msgFlagDSIZMask
	return flags
}

func (h *MessageHeader) securityFlags() uint8 {
	flags := uint8(h.SessionType) & secFlagSessionTypeMask
	if h.Extensions {
		flags |= secFlagExtensionsBit
	}
	if h.Control {
		flags |= secFlagControlBit
	}
	if h.Privacy {
		flags |= secFlagPrivacyBit
	}
	return flags
}

// Decode parses a header from the front of data, returning bytes consumed.
func (h *MessageHeader) Decode(data []byte) (int, error) {
	if len(data) < MinHeaderSize {
		return 0, ErrMessageTooShort
	}

	off := 0
	msgFlags := data[off]
	off++

	version := (msgFlags >> msgFlagVersionShift) & msgFlagVersionMask
	if version != MessageVersion {
		return 0, ErrInvalidVersion
	}
	h.SourcePresent = msgFlags&msgFlagSourceBit != 0
	h.DestinationType = DestinationType(msgFlags & msgFlagDSIZMask)
	if !h.DestinationType.IsValid() {
		return 0, ErrInvalidDSIZ
	}

	h.SessionID = binary.LittleEndian.Uint16(data[off:])
	off += 2

	secFlags := data[off]
	off++
	h.SessionType = SessionType(secFlags & secFlagSessionTypeMask)
	if !h.SessionType.IsValid() {
		return 0, ErrInvalidSessionType
	}
	h.Extensions = secFlags&secFlagExtensionsBit != 0
	h.Control = secFlags&secFlagControlBit != 0
	h.Privacy = secFlags&secFlagPrivacyBit != 0

	h.MessageCounter = binary.LittleEndian.Uint32(data[off:])
	off += 4

	need := off
	if h.SourcePresent {
		need += NodeIDSize
	}
	need += h.DestinationType.Size()
	if len(data) < need {
		return 0, ErrMessageTooShort
	}

	if h.SourcePresent {
		h.SourceNodeID = binary.LittleEndian.Uint64(data[off:])
		off += NodeIDSize
	} else {
		h.SourceNodeID = 0
	}

	switch h.DestinationType {
	case DestinationNodeID:
		h.DestinationNodeID = binary.LittleEndian.Uint64(data[off:])
		h.DestinationGroupID = 0
		off += NodeIDSize
	case DestinationGroupID:
		h.DestinationGroupID = binary.LittleEndian.Uint16(data[off:])
		h.DestinationNodeID = 0
		off += GroupIDSize
	default:
		h.DestinationNodeID = 0
		h.DestinationGroupID = 0
	}

	return off, nil
}

// IsSecure reports whether the message is encrypted. The one reserved
// combination meaning "unsecured" is unicast session type with ID 0.
func (h *MessageHeader) IsSecure() bool {
	return !(h.SessionType == SessionTypeUnicast && h.SessionID == 0)
}

// Validate checks field combinations beyond what Decode enforces
// structurally (Section 4.7.2.1.c).
func (h *MessageHeader) Validate() error {
	if h.SessionType == SessionTypeGroup {
		if !h.SourcePresent {
			return ErrMissingSourceNodeID
		}
		if h.DestinationType == DestinationNone {
			return ErrInvalidDSIZ
		}
	}
	if h.SessionType == SessionTypeUnicast && h.DestinationType == DestinationGroupID {
		return ErrInvalidDSIZ
	}
	return nil
}

// PrivacyHeaderOffset is where the obfuscated window begins: right after
// Message Flags, Session ID and Security Flags.
func (h *MessageHeader) PrivacyHeaderOffset() int { return 4 }

// PrivacyObfuscatedSize is the width of the obfuscated window: the message
// counter plus whichever optional source/destination fields are present
// (Section 4.9.3).
func (h *MessageHeader) PrivacyObfuscatedSize() int {
	n := 4
	if h.SourcePresent {
		n += NodeIDSize
	}
	return n + h.DestinationType.Size()
}
