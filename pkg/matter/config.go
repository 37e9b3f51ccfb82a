package matter

import (
	"net"

	"github.com/pion/logging"
)

// DefaultPort is the standard Matter operational/commissioning UDP/TCP port.
const DefaultPort = 5540

// TransportFactory creates the sockets a Node listens on. Nodes under test
// supply one backed by net.Pipe so the stack runs without touching a real
// network interface.
type TransportFactory interface {
	CreateUDPConn(port int) (net.PacketConn, error)
	CreateTCPListener(port int) (net.Listener, error)
}

// NodeConfig configures a Node.
type NodeConfig struct {
	// VendorID and ProductID identify the device for discovery and PASE.
	VendorID  uint16
	ProductID uint16

	// DeviceName is a human-readable label, used in discovery TXT records.
	DeviceName string

	// Discriminator is the 12-bit value advertised during commissioning.
	Discriminator uint16

	// Passcode is the commissioning passcode the PASE verifier is derived from.
	Passcode uint32

	// Port is the UDP/TCP port to listen on. Defaults to DefaultPort.
	Port int

	// Storage persists counters and commissioned-fabric bookkeeping across
	// restarts. Required.
	Storage Storage

	// TransportFactory overrides socket creation, for testing. Optional.
	TransportFactory TransportFactory

	// LoggerFactory supplies per-component loggers. Optional.
	LoggerFactory logging.LoggerFactory

	// OnStateChanged is called whenever the node's lifecycle state changes.
	OnStateChanged func(NodeState)

	// OnSessionEstablished is called when a secure session completes.
	OnSessionEstablished func(localSessionID uint16, sessionType uint8)

	// OnSessionClosed is called when a peer closes a secure session.
	OnSessionClosed func(localSessionID uint16)
}

// Validate checks the configuration for required fields and valid ranges.
func (c *NodeConfig) Validate() error {
	if c.Storage == nil {
		return ErrStorageRequired
	}
	if c.VendorID == 0 || c.VendorID == 0xFFFF {
		return ErrInvalidVendorID
	}
	if c.Discriminator > 0x0FFF {
		return ErrInvalidDiscriminator
	}
	if !IsValidPasscode(c.Passcode) {
		return ErrInvalidPasscode
	}
	return nil
}

// applyDefaults fills in zero-valued optional fields.
func (c *NodeConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
}
