package matter

import (
	"github.com/larkspur-iot/chip-core/pkg/transport"
)

// TestNodeConfig returns a NodeConfig with the standard test vendor id,
// discriminator, and passcode, backed by in-memory storage.
func TestNodeConfig() NodeConfig {
	return NodeConfig{
		VendorID:      0xFFF1,
		ProductID:     0x8001,
		DeviceName:    "Test Device",
		Discriminator: 3840,
		Passcode:      20202021,
		Storage:       NewMemoryStorage(),
	}
}

// TestNodePair builds a device and a controller node whose transports are
// joined by an in-process pipe, so they exchange real frames without
// touching the network. transport.PipeFactory already satisfies
// TransportFactory.
func TestNodePair() (*Node, *Node, error) {
	deviceFactory, controllerFactory := transport.NewPipeFactoryPair()

	deviceConfig := TestNodeConfig()
	deviceConfig.TransportFactory = deviceFactory

	device, err := NewNode(deviceConfig)
	if err != nil {
		return nil, nil, err
	}

	controllerConfig := TestNodeConfig()
	controllerConfig.DeviceName = "Test Controller"
	controllerConfig.VendorID = 0xFFF2
	controllerConfig.Discriminator = 3841
	controllerConfig.Passcode = 20202022
	controllerConfig.TransportFactory = controllerFactory

	controller, err := NewNode(controllerConfig)
	if err != nil {
		return nil, nil, err
	}

	return device, controller, nil
}

var _ TransportFactory = (*transport.PipeFactory)(nil)
