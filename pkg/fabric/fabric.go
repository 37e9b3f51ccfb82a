// Package fabric defines the node and fabric identifier types shared by the
// session, exchange and secure-channel layers.
//
// A fabric is a security domain anchored by a root CA and a 64-bit Fabric ID;
// each node tracks its membership locally via an 8-bit Fabric Index. Only the
// identifiers live here — the credential and multi-fabric management (root
// certificates, NOC chains, the fabric table itself) are an external
// collaborator's responsibility and are out of scope for this core.
package fabric

import "fmt"

// FabricIndex is an 8-bit local index identifying a fabric on this node.
// Valid values are 1-254; 0 is invalid/unassigned (e.g. a PASE session
// before any NOC has been installed).
type FabricIndex uint8

const (
	FabricIndexMin     FabricIndex = 1
	FabricIndexMax     FabricIndex = 254
	FabricIndexInvalid FabricIndex = 0
)

// IsValid returns true if the fabric index is in the valid range [1, 254].
func (f FabricIndex) IsValid() bool {
	return f >= FabricIndexMin && f <= FabricIndexMax
}

func (f FabricIndex) String() string {
	if f == FabricIndexInvalid {
		return "FabricIndex(invalid)"
	}
	return fmt.Sprintf("FabricIndex(%d)", f)
}

// FabricID is a 64-bit fabric identifier. 0 is reserved and invalid.
type FabricID uint64

const FabricIDInvalid FabricID = 0

func (f FabricID) IsValid() bool {
	return f != FabricIDInvalid
}

func (f FabricID) String() string {
	return fmt.Sprintf("FabricID(0x%016X)", uint64(f))
}

// NodeID is a 64-bit node identifier. Operational node IDs fall in
// [0x0000_0000_0000_0001, 0xFFFF_FFFE_FFFF_FFFD]; values above that range are
// reserved for group IDs, temporary IDs and other special meanings the core
// does not need to interpret.
type NodeID uint64

const (
	NodeIDMinOperational NodeID = 0x0000_0000_0000_0001
	NodeIDMaxOperational NodeID = 0xFFFF_FFFE_FFFF_FFFD
	NodeIDUnspecified    NodeID = 0x0000_0000_0000_0000
)

// IsOperational returns true if the node ID falls in the operational range.
func (n NodeID) IsOperational() bool {
	return n >= NodeIDMinOperational && n <= NodeIDMaxOperational
}

func (n NodeID) String() string {
	return fmt.Sprintf("NodeID(0x%016X)", uint64(n))
}

// VendorID is a 16-bit vendor identifier.
type VendorID uint16

const (
	VendorIDUnspecified VendorID = 0
	VendorIDTestVendor1 VendorID = 0xFFF1
	VendorIDTestVendor2 VendorID = 0xFFF2
	VendorIDTestVendor3 VendorID = 0xFFF3
	VendorIDTestVendor4 VendorID = 0xFFF4
)

func (v VendorID) String() string {
	return fmt.Sprintf("VendorID(0x%04X)", uint16(v))
}

// CompressedFabricIDSize is the size in bytes of a compressed fabric
// identifier, as used in mDNS operational service instance names. Deriving
// it from a root public key is credential management and lives outside the
// core; callers that have one (from the external fabric collaborator) pass
// it through opaquely as [CompressedFabricIDSize]byte.
const CompressedFabricIDSize = 8
