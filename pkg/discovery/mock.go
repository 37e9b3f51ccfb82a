package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/grandcat/zeroconf"
)

// MockMDNSResolver is an MDNSResolver backed by an in-memory registry, for
// exercising Resolver without touching the network.
type MockMDNSResolver struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
}

func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{services: make(map[string][]*zeroconf.ServiceEntry)}
}

// RegisterService makes entry visible to a later Browse or Lookup of
// service.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

func (m *MockMDNSResolver) ClearServices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string][]*zeroconf.ServiceEntry)
}

func (m *MockMDNSResolver) snapshot(service string) []*zeroconf.ServiceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*zeroconf.ServiceEntry, len(m.services[service]))
	copy(entries, m.services[service])
	return entries
}

// Browse implements MDNSResolver by replaying every registered entry for
// service, synchronously so callers don't race the channel's closing.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.snapshot(service) {
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Lookup implements MDNSResolver by replaying the first registered entry
// for service whose instance matches.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.snapshot(service) {
		if entry.Instance != instance {
			continue
		}
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	return nil
}

// MockCommissionableService builds a _matterc._udp entry for tests.
func MockCommissionableService(instanceName string, port int, ip net.IP, discriminator uint16) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instanceName,
			Service:  ServiceCommissionable,
			Domain:   DefaultDomain,
		},
		HostName: instanceName + ".local.",
		Port:     port,
		AddrIPv4: []net.IP{ip},
		Text: []string{
			TXTKeyDiscriminator + "=" + strconv.Itoa(int(discriminator)),
			TXTKeyCommissioningMode + "=1",
			TXTKeyVendorProduct + "=65521+32769",
		},
	}
}

// MockOperationalService builds a _matter._tcp entry for tests, with its
// instance name derived the same way Advertiser.StartOperational does.
func MockOperationalService(compressedFabricID [8]byte, nodeID uint64, port int, ip net.IP) *zeroconf.ServiceEntry {
	instanceName := OperationalInstanceName(compressedFabricID, fabric.NodeID(nodeID))
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instanceName,
			Service:  ServiceOperational,
			Domain:   DefaultDomain,
		},
		HostName: instanceName + ".local.",
		Port:     port,
		AddrIPv4: []net.IP{ip},
	}
}
