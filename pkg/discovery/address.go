package discovery

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
)

// OperationalInstanceName builds the DNS-SD instance name for operational
// discovery: 16 uppercase hex chars of the compressed fabric ID, a hyphen,
// then 16 uppercase hex chars of the node ID. Spec Section 4.3.2.1.
func OperationalInstanceName(compressedFabricID [8]byte, nodeID fabric.NodeID) string {
	cfid := binary.BigEndian.Uint64(compressedFabricID[:])
	return fmt.Sprintf("%016X-%016X", cfid, uint64(nodeID))
}

// ParseOperationalInstanceName is the inverse of OperationalInstanceName; it
// rejects anything not exactly 33 characters (16 + '-' + 16).
func ParseOperationalInstanceName(instanceName string) ([8]byte, fabric.NodeID, error) {
	var compressedFabricID [8]byte

	if len(instanceName) != 33 || instanceName[16] != '-' {
		return compressedFabricID, 0, ErrInvalidInstanceName
	}

	cfid, err := hex.DecodeString(instanceName[:16])
	if err != nil {
		return compressedFabricID, 0, ErrInvalidInstanceName
	}
	nid, err := hex.DecodeString(instanceName[17:])
	if err != nil {
		return compressedFabricID, 0, ErrInvalidInstanceName
	}

	copy(compressedFabricID[:], cfid)
	return compressedFabricID, fabric.NodeID(binary.BigEndian.Uint64(nid)), nil
}

// GenerateCommissionableInstanceName returns a random 64-bit instance name
// (16 uppercase hex chars) suitable for commissionable or commissioner
// discovery, where Spec Section 4.3.1 leaves the instance name unspecified
// beyond "random".
func GenerateCommissionableInstanceName() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf[:])), nil
}

// SortIPsByPreference orders addresses by how likely they are to route
// successfully, per Spec Section 4.3.2.6: global unicast first, then
// unique-local, then link-local, then other IPv6, then IPv4, then IPv6
// loopback and multicast. The input slice is left untouched; a sorted
// copy is returned.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority ranks an address for SortIPsByPreference; lower sorts first.
func ipPriority(ip net.IP) int {
	ip16 := ip.To16()
	if ip16 == nil {
		return 99
	}
	if ip.To4() != nil {
		return 50
	}
	switch {
	case isGlobalUnicast(ip16):
		return 0
	case isUniqueLocal(ip16):
		return 1
	case ip16.IsLinkLocalUnicast():
		return 2
	case ip16.IsLoopback():
		return 80
	case ip16.IsMulticast():
		return 90
	default:
		return 10
	}
}

// isGlobalUnicast reports whether ip is routable on the open internet,
// excluding ULA and the IPv4 private ranges mapped into IPv6.
func isGlobalUnicast(ip net.IP) bool {
	if !ip.IsGlobalUnicast() || isUniqueLocal(ip) {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		private := ip4[0] == 10 ||
			(ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31) ||
			(ip4[0] == 192 && ip4[1] == 168)
		if private {
			return false
		}
	}
	return true
}

// isUniqueLocal reports whether ip falls in the IPv6 ULA range fc00::/7.
func isUniqueLocal(ip net.IP) bool {
	ip16 := ip.To16()
	return ip16 != nil && (ip16[0] == 0xfc || ip16[0] == 0xfd)
}

// FilterIPv6 returns only the IPv6 addresses in ips.
func FilterIPv6(ips []net.IP) []net.IP {
	var out []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			out = append(out, ip)
		}
	}
	return out
}

// FilterIPv4 returns only the IPv4 addresses in ips.
func FilterIPv4(ips []net.IP) []net.IP {
	var out []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			out = append(out, ip)
		}
	}
	return out
}

// localInterfaceIPs walks every up, non-loopback interface and collects the
// addresses keep reports true for. GetLocalAddresses and
// GetLocalIPv6Addresses differ only in their keep predicate.
func localInterfaceIPs(keep func(net.IP) bool) ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var addresses []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && keep(ip) {
				addresses = append(addresses, ip)
			}
		}
	}
	return addresses, nil
}

// GetLocalIPv6Addresses returns every non-loopback IPv6 address bound to a
// live interface on the host.
func GetLocalIPv6Addresses() ([]net.IP, error) {
	return localInterfaceIPs(func(ip net.IP) bool {
		return ip.To4() == nil && ip.To16() != nil && !ip.IsLoopback()
	})
}

// GetLocalAddresses returns every non-loopback address, IPv4 or IPv6, bound
// to a live interface on the host.
func GetLocalAddresses() ([]net.IP, error) {
	return localInterfaceIPs(func(ip net.IP) bool {
		return !ip.IsLoopback()
	})
}
