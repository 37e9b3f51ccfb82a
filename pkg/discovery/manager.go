package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
)

// ManagerConfig configures a Manager's embedded Advertiser and Resolver.
type ManagerConfig struct {
	HostName      string
	Port          int // default DefaultPort
	Interfaces    []net.Interface
	BrowseTimeout time.Duration // default DefaultBrowseTimeout
	LookupTimeout time.Duration // default DefaultLookupTimeout

	ServerFactory MDNSServerFactory // for tests
	MDNSResolver  MDNSResolver      // for tests
}

// Manager pairs an Advertiser and a Resolver behind one closeable handle,
// covering every discovery role a Matter node needs: advertising itself
// and finding others.
type Manager struct {
	config     ManagerConfig
	advertiser *Advertiser
	resolver   *Resolver

	mu     sync.RWMutex
	closed bool
}

func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Port <= 0 {
		config.Port = DefaultPort
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	advertiser, err := NewAdvertiser(AdvertiserConfig{
		HostName:      config.HostName,
		Port:          config.Port,
		Interfaces:    config.Interfaces,
		ServerFactory: config.ServerFactory,
	})
	if err != nil {
		return nil, err
	}

	resolver, err := NewResolver(ResolverConfig{
		MDNSResolver:  config.MDNSResolver,
		BrowseTimeout: config.BrowseTimeout,
		LookupTimeout: config.LookupTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{config: config, advertiser: advertiser, resolver: resolver}, nil
}

// Close stops advertising and releases the manager's resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true

	if m.advertiser != nil {
		m.advertiser.Close()
	}
	return nil
}

// guard reports ErrClosed if the manager has been closed; every method
// below calls it before touching the advertiser or resolver.
func (m *Manager) guard() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// ---- Advertising ----

// StartCommissionable begins advertising as commissionable. Spec Section 4.3.1.
func (m *Manager) StartCommissionable(txt CommissionableTXT) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.advertiser.StartCommissionable(txt)
}

// StartOperational begins advertising as operational, after commissioning
// onto a fabric. Spec Section 4.3.2.
func (m *Manager) StartOperational(compressedFabricID [8]byte, nodeID fabric.NodeID, txt OperationalTXT) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.advertiser.StartOperational(compressedFabricID, nodeID, txt)
}

// StartCommissioner begins advertising as a commissioner. Spec Section 4.3.3.
func (m *Manager) StartCommissioner(txt CommissionerTXT) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.advertiser.StartCommissioner(txt)
}

func (m *Manager) StopAdvertising(serviceType ServiceType) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.advertiser.Stop(serviceType)
}

func (m *Manager) StopAllAdvertising() {
	if m.guard() != nil {
		return
	}
	m.advertiser.StopAll()
}

func (m *Manager) IsAdvertising(serviceType ServiceType) bool {
	if m.guard() != nil {
		return false
	}
	return m.advertiser.IsAdvertising(serviceType)
}

// ---- Resolution ----

// BrowseCommissionable discovers commissionable nodes. Spec Section 4.3.1.
func (m *Manager) BrowseCommissionable(ctx context.Context) (<-chan ResolvedService, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseCommissionable(ctx)
}

// BrowseCommissionableByDiscriminator filters by long discriminator.
func (m *Manager) BrowseCommissionableByDiscriminator(ctx context.Context, discriminator uint16) (<-chan ResolvedService, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseCommissionableWithFilter(ctx, LongDiscriminatorSubtype(discriminator))
}

// BrowseCommissionableByVendor filters by vendor ID.
func (m *Manager) BrowseCommissionableByVendor(ctx context.Context, vendorID fabric.VendorID) (<-chan ResolvedService, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseCommissionableWithFilter(ctx, VendorIDSubtype(vendorID))
}

// BrowseOperational discovers operational nodes. Spec Section 4.3.2.
func (m *Manager) BrowseOperational(ctx context.Context) (<-chan ResolvedService, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseOperational(ctx)
}

// BrowseCommissioner discovers commissioners. Spec Section 4.3.3.
func (m *Manager) BrowseCommissioner(ctx context.Context) (<-chan ResolvedService, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseCommissioner(ctx)
}

// LookupOperational finds a known commissioned node, the usual precursor to
// establishing a CASE session. Spec Section 4.3.2.
func (m *Manager) LookupOperational(ctx context.Context, compressedFabricID [8]byte, nodeID fabric.NodeID) (*ResolvedService, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.resolver.LookupOperational(ctx, compressedFabricID, nodeID)
}

// DiscoverCommissionableNode browses and returns the first node matching
// discriminator.
func (m *Manager) DiscoverCommissionableNode(ctx context.Context, discriminator uint16) (*ResolvedService, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.resolver.DiscoverCommissionableNode(ctx, discriminator)
}

func (m *Manager) Advertiser() *Advertiser { return m.advertiser }
func (m *Manager) Resolver() *Resolver     { return m.resolver }
