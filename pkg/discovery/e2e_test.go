//go:build !race
// +build !race

package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

// The tests in this file advertise on the real network interface via
// zeroconf and browse for their own announcements. They need multicast
// connectivity and are skipped in -short runs.

// browseForPort watches a subtype (or the bare service) and reports
// whether an entry with the expected port shows up before the deadline.
func browseForPort(t *testing.T, service string, port int, timeout time.Duration) bool {
	t.Helper()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		t.Fatalf("zeroconf.NewResolver: %v", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *zeroconf.ServiceEntry, 1)
	go func() {
		for entry := range entries {
			if entry.Port == port {
				select {
				case found <- entry:
				default:
				}
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		t.Fatalf("Browse(%s): %v", service, err)
	}

	select {
	case <-found:
		return true
	case <-ctx.Done():
		return false
	}
}

func TestCommissionableAdvertisingOnNetwork(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	adv, err := NewAdvertiser(AdvertiserConfig{Port: 15540})
	if err != nil {
		t.Fatalf("NewAdvertiser: %v", err)
	}
	defer adv.Close()

	txt := CommissionableTXT{
		Discriminator:     3840,
		VendorID:          0xFFF1,
		ProductID:         0x8001,
		DeviceName:        "Test Device",
		CommissioningMode: CommissioningModeBasic,
	}
	if err := adv.StartCommissionable(txt); err != nil {
		t.Fatalf("StartCommissionable: %v", err)
	}
	time.Sleep(time.Second)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		t.Fatalf("zeroconf.NewResolver: %v", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *zeroconf.ServiceEntry, 1)
	go func() {
		for entry := range entries {
			if entry.Port == 15540 {
				select {
				case found <- entry:
				default:
				}
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := resolver.Browse(ctx, ServiceCommissionable, "local.", entries); err != nil {
		t.Fatalf("Browse: %v", err)
	}

	select {
	case entry := <-found:
		// The TXT records we published must come back verbatim.
		want := map[string]bool{"D=3840": false, "VP=65521+32769": false, "CM=1": false}
		for _, record := range entry.Text {
			if _, ok := want[record]; ok {
				want[record] = true
			}
		}
		for record, ok := range want {
			if !ok {
				t.Errorf("TXT record %q not seen on the wire", record)
			}
		}
	case <-ctx.Done():
		t.Fatal("advertised service never discovered")
	}
}

// Discriminator 3840 (0xF00) advertises short-discriminator subtype _S15.
func TestSubtypeFilteringOnNetwork(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	adv, err := NewAdvertiser(AdvertiserConfig{Port: 15541})
	if err != nil {
		t.Fatalf("NewAdvertiser: %v", err)
	}
	defer adv.Close()

	if err := adv.StartCommissionable(CommissionableTXT{
		Discriminator:     3840,
		VendorID:          0xFFF1,
		ProductID:         0x8001,
		DeviceName:        "Subtype Test",
		CommissioningMode: CommissioningModeBasic,
	}); err != nil {
		t.Fatalf("StartCommissionable: %v", err)
	}
	time.Sleep(time.Second)

	if !browseForPort(t, ServiceCommissionable+",_S15", 15541, 5*time.Second) {
		t.Error("service not discoverable via _S15 subtype filter")
	}
}

// Every derived subtype must be browsable individually.
func TestAllSubtypesOnNetwork(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	adv, err := NewAdvertiser(AdvertiserConfig{Port: 15542})
	if err != nil {
		t.Fatalf("NewAdvertiser: %v", err)
	}
	defer adv.Close()

	if err := adv.StartCommissionable(CommissionableTXT{
		Discriminator:     3840,   // _S15, _L3840
		VendorID:          0xFFF1, // _V65521
		ProductID:         0x8001,
		DeviceName:        "Multi Subtype Test",
		CommissioningMode: CommissioningModeBasic, // _CM
		DeviceType:        0x0100,                 // _T256
	}); err != nil {
		t.Fatalf("StartCommissionable: %v", err)
	}
	time.Sleep(time.Second)

	for _, subtype := range []string{"_S15", "_L3840", "_CM", "_V65521", "_T256"} {
		t.Run(subtype, func(t *testing.T) {
			if !browseForPort(t, ServiceCommissionable+","+subtype, 15542, 3*time.Second) {
				t.Errorf("service not discoverable via %s", subtype)
			}
		})
	}
}
