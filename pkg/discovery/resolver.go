package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout and DefaultLookupTimeout bound Resolver operations
// when the caller's context carries no deadline of its own.
const (
	DefaultBrowseTimeout = 10 * time.Second
	DefaultLookupTimeout = 5 * time.Second
)

// ResolvedService is a Matter node discovered via DNS-SD.
type ResolvedService struct {
	ServiceType  ServiceType
	InstanceName string
	HostName     string
	Port         int
	IPs          []net.IP          // sorted by SortIPsByPreference
	Text         map[string]string // decoded TXT record
}

// PreferredIP returns the first (most preferred) address, or nil if none.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) == 0 {
		return nil
	}
	return r.IPs[0]
}

func (r *ResolvedService) IPv6Addresses() []net.IP { return FilterIPv6(r.IPs) }
func (r *ResolvedService) IPv4Addresses() []net.IP { return FilterIPv4(r.IPs) }

// MDNSResolver abstracts mDNS browse/lookup so tests can substitute
// MockMDNSResolver for the real network.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production MDNSResolver.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Lookup(ctx, instance, service, domain, entries)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// MDNSResolver is the backing implementation; nil uses zeroconf.
	MDNSResolver MDNSResolver

	BrowseTimeout time.Duration // default DefaultBrowseTimeout
	LookupTimeout time.Duration // default DefaultLookupTimeout
}

// Resolver discovers Matter nodes via DNS-SD browse and lookup.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
}

func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	return &Resolver{config: config, resolver: resolver}, nil
}

// BrowseCommissionable discovers commissionable nodes. Spec Section 4.3.1.
func (r *Resolver) BrowseCommissionable(ctx context.Context) (<-chan ResolvedService, error) {
	return r.browse(ctx, ServiceTypeCommissionable, ServiceCommissionable)
}

// BrowseCommissionableWithFilter discovers commissionable nodes matching a
// subtype filter such as ShortDiscriminatorSubtype or VendorIDSubtype.
func (r *Resolver) BrowseCommissionableWithFilter(ctx context.Context, filter string) (<-chan ResolvedService, error) {
	return r.browse(ctx, ServiceTypeCommissionable, filter+"._sub."+ServiceCommissionable)
}

// BrowseOperational discovers operational nodes. Spec Section 4.3.2.
func (r *Resolver) BrowseOperational(ctx context.Context) (<-chan ResolvedService, error) {
	return r.browse(ctx, ServiceTypeOperational, ServiceOperational)
}

// BrowseCommissioner discovers commissioners. Spec Section 4.3.3.
func (r *Resolver) BrowseCommissioner(ctx context.Context) (<-chan ResolvedService, error) {
	return r.browse(ctx, ServiceTypeCommissioner, ServiceCommissioner)
}

func (r *Resolver) browse(ctx context.Context, serviceType ServiceType, service string) (<-chan ResolvedService, error) {
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	results := make(chan ResolvedService)
	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer cancel()
		defer close(results)

		go func() {
			defer close(entries)
			r.resolver.Browse(ctx, service, DefaultDomain, entries)
		}()

		for entry := range entries {
			select {
			case results <- entryToResolvedService(entry, serviceType):
			case <-ctx.Done():
				return
			}
		}
	}()

	return results, nil
}

// LookupOperational finds a specific commissioned node by its operational
// instance name. The primary way to resolve a peer before a CASE session.
// Spec Section 4.3.2.
func (r *Resolver) LookupOperational(ctx context.Context, compressedFabricID [8]byte, nodeID fabric.NodeID) (*ResolvedService, error) {
	return r.Lookup(ctx, ServiceTypeOperational, OperationalInstanceName(compressedFabricID, nodeID))
}

// Lookup resolves a single service instance by name.
func (r *Resolver) Lookup(ctx context.Context, serviceType ServiceType, instanceName string) (*ResolvedService, error) {
	service := serviceType.ServiceString()
	if service == "" {
		return nil, ErrInvalidServiceType
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(entries)
		r.resolver.Lookup(ctx, instanceName, service, DefaultDomain, entries)
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		svc := entryToResolvedService(entry, serviceType)
		return &svc, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// DiscoverCommissionableNode browses by long discriminator and returns the
// first match.
func (r *Resolver) DiscoverCommissionableNode(ctx context.Context, discriminator uint16) (*ResolvedService, error) {
	services, err := r.BrowseCommissionableWithFilter(ctx, LongDiscriminatorSubtype(discriminator))
	if err != nil {
		return nil, err
	}
	for svc := range services {
		return &svc, nil
	}
	return nil, ErrServiceNotFound
}

func entryToResolvedService(entry *zeroconf.ServiceEntry, serviceType ServiceType) ResolvedService {
	allIPs := make([]net.IP, 0, len(entry.AddrIPv6)+len(entry.AddrIPv4))
	allIPs = append(allIPs, entry.AddrIPv6...)
	allIPs = append(allIPs, entry.AddrIPv4...)

	return ResolvedService{
		ServiceType:  serviceType,
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(allIPs),
		Text:         ParseTXT(entry.Text),
	}
}

// Discovery subtype filters. Spec Section 4.3.1.7.
const CommissioningModeSubtype = "_CM"

func ShortDiscriminatorSubtype(shortDiscriminator uint8) string {
	return "_S" + strconv.Itoa(int(shortDiscriminator))
}

func LongDiscriminatorSubtype(discriminator uint16) string {
	return "_L" + strconv.Itoa(int(discriminator))
}

func VendorIDSubtype(vendorID fabric.VendorID) string {
	return "_V" + strconv.Itoa(int(vendorID))
}

func DeviceTypeSubtype(deviceType uint32) string {
	return "_T" + strconv.Itoa(int(deviceType))
}
