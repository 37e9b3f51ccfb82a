// Package message implements the Matter unicast/group message wire format:
// header encode/decode, AES-CCM secure payloads, AES-CTR privacy obfuscation
// of the header, counter-based replay detection, and TCP stream framing.
// See Matter Specification Chapter 4.
package message

// SessionType selects which key space a message's Session ID names: the
// unicast table (PASE/CASE) or the group table. Carried in the low two bits
// of the Security Flags byte (Section 4.4.1.3).
type SessionType uint8

const (
	// SessionTypeUnicast is a unicast session; Session ID 0 under this type
	// additionally marks the message as entirely unsecured.
	SessionTypeUnicast SessionType = 0
	// SessionTypeGroup addresses a multicast group via a group key.
	SessionTypeGroup SessionType = 1
)

func (s SessionType) IsValid() bool { return s <= SessionTypeGroup }

func (s SessionType) String() string {
	if s == SessionTypeGroup {
		return "Group"
	}
	if s == SessionTypeUnicast {
		return "Unicast"
	}
	return "Unknown"
}

// DestinationType names which destination field, if any, follows the
// message counter: the DSIZ subfield of Message Flags (Section 4.4.1.1).
type DestinationType uint8

const (
	DestinationNone    DestinationType = 0
	DestinationNodeID  DestinationType = 1
	DestinationGroupID DestinationType = 2
)

func (d DestinationType) IsValid() bool { return d <= DestinationGroupID }

// Size is the on-wire width of the destination field this type selects.
func (d DestinationType) Size() int {
	switch d {
	case DestinationNodeID:
		return NodeIDSize
	case DestinationGroupID:
		return GroupIDSize
	default:
		return 0
	}
}

func (d DestinationType) String() string {
	switch d {
	case DestinationNodeID:
		return "NodeID"
	case DestinationGroupID:
		return "GroupID"
	default:
		return "None"
	}
}

// ProtocolID names the protocol that owns a message's opcode space
// (Section 4.4.3.4).
type ProtocolID uint16

const (
	ProtocolSecureChannel              ProtocolID = 0x0000
	ProtocolInteractionModel           ProtocolID = 0x0001
	ProtocolBDX                        ProtocolID = 0x0002
	ProtocolUserDirectedCommissioning  ProtocolID = 0x0003
	ProtocolForTesting                 ProtocolID = 0x0004
)

var protocolIDNames = map[ProtocolID]string{
	ProtocolSecureChannel:             "SecureChannel",
	ProtocolInteractionModel:          "InteractionModel",
	ProtocolBDX:                       "BDX",
	ProtocolUserDirectedCommissioning: "UDC",
	ProtocolForTesting:                "Testing",
}

func (p ProtocolID) String() string {
	if name, ok := protocolIDNames[p]; ok {
		return name
	}
	return "Unknown"
}

// VendorIDMatter is the standard (non-manufacturer-specific) vendor ID.
const VendorIDMatter uint16 = 0x0000
