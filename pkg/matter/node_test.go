package matter

import (
	"context"
	"testing"

	"github.com/larkspur-iot/chip-core/pkg/exchange"
	"github.com/larkspur-iot/chip-core/pkg/im"
)

func testConfig() NodeConfig {
	return NodeConfig{
		VendorID:      0xFFF1,
		ProductID:     0x8001,
		DeviceName:    "Test Device",
		Discriminator: 3840,
		Passcode:      20202021,
		Storage:       NewMemoryStorage(),
	}
}

func TestNewNodeValidatesConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *NodeConfig)
		wantErr error
	}{
		{"missing storage", func(c *NodeConfig) { c.Storage = nil }, ErrStorageRequired},
		{"bad vendor", func(c *NodeConfig) { c.VendorID = 0 }, ErrInvalidVendorID},
		{"bad discriminator", func(c *NodeConfig) { c.Discriminator = 0x1000 }, ErrInvalidDiscriminator},
		{"bad passcode", func(c *NodeConfig) { c.Passcode = 11111111 }, ErrInvalidPasscode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := NewNode(cfg); err != tc.wantErr {
				t.Fatalf("got err %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewNodeAppliesDefaultsAndDerivesPASE(t *testing.T) {
	n, err := NewNode(testConfig())
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if n.config.Port != DefaultPort {
		t.Fatalf("port = %d, want %d", n.config.Port, DefaultPort)
	}
	if n.paseInfo == nil || n.paseInfo.verifier == nil {
		t.Fatal("expected a derived PASE verifier")
	}
	if n.State() != NodeStateInitialized {
		t.Fatalf("state = %v, want Initialized", n.State())
	}
	if n.IsCommissioned() {
		t.Fatal("fresh node should not be commissioned")
	}
}

func TestNodeFabricBookkeepingPersists(t *testing.T) {
	storage := NewMemoryStorage()
	cfg := testConfig()
	cfg.Storage = storage

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	n.AddFabric(1, 0xAABB)
	if !n.IsCommissioned() {
		t.Fatal("expected node to be commissioned after AddFabric")
	}

	// A second Node sharing the same storage should see the persisted fabric.
	n2, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode (reload): %v", err)
	}
	if !n2.IsCommissioned() {
		t.Fatal("expected reloaded node to be commissioned from storage")
	}
	fabrics := n2.Fabrics()
	if len(fabrics) != 1 || fabrics[0] != 1 {
		t.Fatalf("fabrics = %v, want [1]", fabrics)
	}

	if err := n2.RemoveFabric(1); err != nil {
		t.Fatalf("RemoveFabric: %v", err)
	}
	if n2.IsCommissioned() {
		t.Fatal("expected node to be uncommissioned after RemoveFabric")
	}
	if err := n2.RemoveFabric(1); err != ErrFabricNotFound {
		t.Fatalf("RemoveFabric (again) = %v, want ErrFabricNotFound", err)
	}
}

// stubCluster is a minimal im.Handler used to exercise the wiring between
// im.Engine and a registered cluster implementation.
type stubCluster struct {
	value []byte
}

func (s *stubCluster) HandleRead(ctx context.Context, path im.AttributePath) (im.AttributeDataIB, error) {
	return im.AttributeDataIB{Path: path, DataVersion: 1, Data: s.value}, nil
}

func (s *stubCluster) HandleWrite(ctx context.Context, path im.AttributePath, data []byte) error {
	s.value = append([]byte(nil), data...)
	return nil
}

func (s *stubCluster) HandleInvoke(ctx context.Context, txn *im.Transaction, cmd im.CommandPath, data []byte) (im.CommandResponse, error) {
	return im.CommandResponse{CommandID: cmd.CommandID, Data: data}, nil
}

func TestNodeInteractionModelWiring(t *testing.T) {
	n, err := NewNode(testConfig())
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	cluster := &stubCluster{value: []byte{0x01}}
	n.InteractionModel().Register(1, 0x0006, cluster)

	engine := im.NewEngine(n.InteractionModel())
	exCtx := &exchange.Exchange{ID: 42}

	readReq := make([]byte, 10)
	readReq[0], readReq[1] = 1, 0 // endpoint 1
	readReq[2] = 0x06             // cluster 0x0006

	resp, err := engine.OnMessage(exCtx, uint8(im.OpcodeReadRequest), readReq)
	if err != nil {
		t.Fatalf("OnMessage(read): %v", err)
	}
	if len(resp) < 5 || resp[4] != 0x01 {
		t.Fatalf("unexpected read response: %v", resp)
	}
}
