package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultPort is the default Matter operational port.
const DefaultPort = 5540

// MDNSServer is an active mDNS service registration that can be withdrawn.
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory creates MDNSServer registrations; swapped out in tests
// to avoid touching a real network.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory registers services via grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// activeService tracks one of the advertiser's live registrations.
type activeService struct {
	server       MDNSServer
	instanceName string
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// HostName is stored with the config but is not passed to the mDNS
	// registration; the underlying mDNS library always picks the host
	// name itself.
	HostName string

	// Port is the Matter port to advertise; defaults to DefaultPort.
	Port int

	// Interfaces restricts advertising to the given interfaces; nil means all.
	Interfaces []net.Interface

	// ServerFactory creates mDNS registrations; nil uses zeroconf.
	ServerFactory MDNSServerFactory

	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes Matter DNS-SD services: commissionable, operational,
// and commissioner. At most one registration per ServiceType is active at
// a time.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu       sync.RWMutex
	services map[ServiceType]*activeService
	closed   bool
}

func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Port <= 0 || config.Port > 65535 {
		config.Port = DefaultPort
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:   config,
		factory:  factory,
		services: make(map[ServiceType]*activeService),
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a, nil
}

// register runs the common closed/already-started guard, calls the mDNS
// factory, and records the result under serviceType.
func (a *Advertiser) register(serviceType ServiceType, instanceName, service string, txt []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if _, exists := a.services[serviceType]; exists {
		return ErrAlreadyStarted
	}

	if a.log != nil {
		a.log.Debugf("registering mDNS service: instance=%s service=%s port=%d", instanceName, service, a.config.Port)
		a.log.Tracef("TXT records: %v", txt)
	}

	server, err := a.factory.Register(instanceName, service, DefaultDomain, a.config.Port, txt, a.config.Interfaces)
	if err != nil {
		return fmt.Errorf("advertiser: mDNS registration failed for %s: %w", service, err)
	}

	a.services[serviceType] = &activeService{server: server, instanceName: instanceName}
	return nil
}

// commissionableSubtypes builds the DNS-SD subtype list a commissionable
// node advertises for filtered discovery: short/long discriminator, then
// whichever of commissioning-mode, vendor, and device-type apply.
func commissionableSubtypes(txt CommissionableTXT) []string {
	subtypes := []string{
		ShortDiscriminatorSubtype(txt.ShortDiscriminator()),
		LongDiscriminatorSubtype(txt.Discriminator),
	}
	if txt.CommissioningMode > CommissioningModeDisabled {
		subtypes = append(subtypes, CommissioningModeSubtype)
	}
	if txt.VendorID != 0 {
		subtypes = append(subtypes, VendorIDSubtype(txt.VendorID))
	}
	if txt.DeviceType != 0 {
		subtypes = append(subtypes, DeviceTypeSubtype(txt.DeviceType))
	}
	return subtypes
}

// StartCommissionable advertises the node as ready to be commissioned:
// service _matterc._udp with discriminator/vendor/device-type subtypes.
// Spec Section 4.3.1.
func (a *Advertiser) StartCommissionable(txt CommissionableTXT) error {
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: commissionable txt validation failed: %w", err)
	}

	instanceName, err := GenerateCommissionableInstanceName()
	if err != nil {
		return fmt.Errorf("advertiser: failed to generate instance name: %w", err)
	}

	service := ServiceCommissionable
	for _, st := range commissionableSubtypes(txt) {
		service += "," + st
	}

	return a.register(ServiceTypeCommissionable, instanceName, service, txt.Encode())
}

// StartOperational advertises a commissioned node on its fabric: service
// _matter._tcp with an instance name derived from the compressed fabric ID
// and node ID. Spec Section 4.3.2.
func (a *Advertiser) StartOperational(compressedFabricID [8]byte, nodeID fabric.NodeID, txt OperationalTXT) error {
	instanceName := OperationalInstanceName(compressedFabricID, nodeID)
	return a.register(ServiceTypeOperational, instanceName, ServiceOperational, txt.Encode())
}

// StartCommissioner advertises the node itself as a commissioner: service
// _matterd._udp. Spec Section 4.3.3.
func (a *Advertiser) StartCommissioner(txt CommissionerTXT) error {
	if err := txt.Validate(); err != nil {
		return err
	}

	instanceName, err := GenerateCommissionableInstanceName()
	if err != nil {
		return err
	}

	service := ServiceCommissioner
	if txt.VendorID != 0 {
		service += fmt.Sprintf(",_V%d._sub.%s", txt.VendorID, ServiceCommissioner)
	}
	if txt.DeviceType != 0 {
		service += fmt.Sprintf(",_T%d._sub.%s", txt.DeviceType, ServiceCommissioner)
	}

	return a.register(ServiceTypeCommissioner, instanceName, service, txt.Encode())
}

// Stop withdraws the registration for serviceType.
func (a *Advertiser) Stop(serviceType ServiceType) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	svc, exists := a.services[serviceType]
	if !exists {
		return ErrNotStarted
	}

	svc.server.Shutdown()
	delete(a.services, serviceType)
	return nil
}

// StopAll withdraws every active registration.
func (a *Advertiser) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, svc := range a.services {
		svc.server.Shutdown()
	}
	a.services = make(map[ServiceType]*activeService)
}

// Close withdraws every registration and marks the advertiser unusable.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	for _, svc := range a.services {
		svc.server.Shutdown()
	}
	a.services = nil
	a.closed = true
	return nil
}

// IsAdvertising reports whether serviceType currently has an active
// registration.
func (a *Advertiser) IsAdvertising(serviceType ServiceType) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, exists := a.services[serviceType]
	return exists
}

// GetInstanceName returns the instance name registered for serviceType, or
// "" if it isn't active.
func (a *Advertiser) GetInstanceName(serviceType ServiceType) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if svc, exists := a.services[serviceType]; exists {
		return svc.instanceName
	}
	return ""
}

// AdvertiserWithContext ties an Advertiser's lifetime to a context: closing
// or cancelling either one closes both.
type AdvertiserWithContext struct {
	*Advertiser
	cancel context.CancelFunc
}

func NewAdvertiserWithContext(ctx context.Context, config AdvertiserConfig) (*AdvertiserWithContext, error) {
	adv, err := NewAdvertiser(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	awc := &AdvertiserWithContext{Advertiser: adv, cancel: cancel}

	go func() {
		<-ctx.Done()
		adv.Close()
	}()

	return awc, nil
}

func (a *AdvertiserWithContext) Close() error {
	a.cancel()
	return a.Advertiser.Close()
}
