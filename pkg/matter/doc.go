// Package matter ties the stack together into a runnable node: transport,
// sessions, exchanges, the secure channel, discovery, and the interaction
// model handler chain behind one facade.
//
// A device is a Node:
//
//	node, err := matter.NewNode(matter.NodeConfig{
//	    VendorID:      0xFFF1,
//	    ProductID:     0x8001,
//	    DeviceName:    "Go Light",
//	    Discriminator: 3840,
//	    Passcode:      20202021,
//	    Storage:       matter.NewMemoryStorage(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Attach cluster handlers to the interaction model chain.
//	node.InteractionModel().Register(1, onOffClusterID, myHandler)
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// An uncommissioned node advertises itself over DNS-SD automatically;
// OpenCommissioningWindow re-opens commissioning on demand.
//
// For tests, MemoryStorage plus a pipe-backed TransportFactory (see
// TestNodePair) run two nodes against each other entirely in memory.
package matter
