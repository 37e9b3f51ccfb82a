// Package discovery implements Matter's DNS-SD (mDNS) discovery: advertising
// a node as commissionable, operational, or a commissioner, and resolving
// those same services on the local network.
//
// Spec References:
//   - Section 4.3: Discovery
//   - Section 4.3.1: Commissionable Node Discovery (_matterc._udp)
//   - Section 4.3.2: Operational Discovery (_matter._tcp)
//   - Section 4.3.3: Commissioner Discovery (_matterd._udp)
package discovery

import "errors"

// ServiceType identifies the kind of DNS-SD service a node advertises or
// browses for. Spec Section 4.3.
type ServiceType int

const (
	ServiceTypeUnknown ServiceType = iota

	// ServiceTypeCommissionable: _matterc._udp. Spec Section 4.3.1.
	ServiceTypeCommissionable

	// ServiceTypeOperational: _matter._tcp. Spec Section 4.3.2.
	ServiceTypeOperational

	// ServiceTypeCommissioner: _matterd._udp. Spec Section 4.3.3.
	ServiceTypeCommissioner
)

// DNS-SD service strings and domain.
const (
	ServiceCommissionable = "_matterc._udp"
	ServiceOperational     = "_matter._tcp"
	ServiceCommissioner    = "_matterd._udp"
	DefaultDomain          = "local."
)

func (s ServiceType) String() string {
	switch s {
	case ServiceTypeCommissionable:
		return "Commissionable"
	case ServiceTypeOperational:
		return "Operational"
	case ServiceTypeCommissioner:
		return "Commissioner"
	default:
		return "Unknown"
	}
}

func (s ServiceType) IsValid() bool {
	switch s {
	case ServiceTypeCommissionable, ServiceTypeOperational, ServiceTypeCommissioner:
		return true
	default:
		return false
	}
}

// ServiceString returns the DNS-SD service type string, or "" for an
// unknown type.
func (s ServiceType) ServiceString() string {
	switch s {
	case ServiceTypeCommissionable:
		return ServiceCommissionable
	case ServiceTypeOperational:
		return ServiceOperational
	case ServiceTypeCommissioner:
		return ServiceCommissioner
	default:
		return ""
	}
}

// CommissioningMode is the CM TXT key value. Spec Section 4.3.1.3.
type CommissioningMode int

const (
	// CommissioningModeDisabled (CM=0): extended discovery only.
	CommissioningModeDisabled CommissioningMode = iota
	// CommissioningModeBasic (CM=1): factory-new or first-boot commissioning window.
	CommissioningModeBasic
	// CommissioningModeEnhanced (CM=2): administrator-opened commissioning window.
	CommissioningModeEnhanced
)

func (c CommissioningMode) String() string {
	switch c {
	case CommissioningModeDisabled:
		return "Disabled"
	case CommissioningModeBasic:
		return "Basic"
	case CommissioningModeEnhanced:
		return "Enhanced"
	default:
		return "Unknown"
	}
}

func (c CommissioningMode) IsValid() bool {
	return c >= CommissioningModeDisabled && c <= CommissioningModeEnhanced
}

// ICDMode is the ICD TXT key value for an Intermittently Connected Device.
// Spec Section 4.3.4.
type ICDMode int

const (
	// ICDModeSIT: Short Idle Time.
	ICDModeSIT ICDMode = iota
	// ICDModeLIT: Long Idle Time.
	ICDModeLIT
)

func (i ICDMode) String() string {
	switch i {
	case ICDModeSIT:
		return "SIT"
	case ICDModeLIT:
		return "LIT"
	default:
		return "Unknown"
	}
}

func (i ICDMode) IsValid() bool {
	return i == ICDModeSIT || i == ICDModeLIT
}

// Sentinel errors returned by the discovery package.
var (
	ErrClosed               = errors.New("discovery: closed")
	ErrAlreadyStarted       = errors.New("discovery: already started")
	ErrNotStarted           = errors.New("discovery: not started")
	ErrInvalidServiceType   = errors.New("discovery: invalid service type")
	ErrInvalidDiscriminator = errors.New("discovery: invalid discriminator (must be 0-4095)")
	ErrInvalidDeviceName    = errors.New("discovery: invalid device name (max 32 characters)")
	ErrInvalidHostName      = errors.New("discovery: invalid host name")
	ErrInvalidPort          = errors.New("discovery: invalid port (must be 1-65535)")
	ErrNoAddresses          = errors.New("discovery: no IP addresses provided")
	ErrServiceNotFound      = errors.New("discovery: service not found")
	ErrTimeout              = errors.New("discovery: operation timed out")
	ErrInvalidInstanceName  = errors.New("discovery: invalid instance name format")
	ErrInvalidTXTRecord     = errors.New("discovery: invalid TXT record format")
)
