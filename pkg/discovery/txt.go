package discovery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
)

// TXT record keys. Spec Sections 4.3.1.4 and 4.3.2.5.
const (
	TXTKeyDiscriminator        = "D"
	TXTKeyCommissioningMode    = "CM"
	TXTKeyVendorProduct        = "VP"
	TXTKeyDeviceType           = "DT"
	TXTKeyDeviceName           = "DN"
	TXTKeyIdleInterval         = "SII"
	TXTKeyActiveInterval       = "SAI"
	TXTKeyTCPSupported         = "T"
	TXTKeyICDMode              = "ICD"
	TXTKeyPairingHint          = "PH"
	TXTKeyPairingInstructions  = "PI"
	TXTKeyCommissionerPasscode = "CP"
	TXTKeyJointFabric          = "JF"
)

// MaxDeviceNameLength is the DN value's maximum length. Spec Section 4.3.1.9.
const MaxDeviceNameLength = 32

// MaxDiscriminator is the largest valid 12-bit discriminator.
const MaxDiscriminator = 0xFFF

// sleepyParams is the SII/SAI/T/ICD block shared by commissionable and
// operational TXT records.
type sleepyParams struct {
	IdleInterval   time.Duration
	ActiveInterval time.Duration
	TCPSupported   bool
	ICDMode        ICDMode
	ICDSet         bool
}

func (s sleepyParams) encode() []string {
	var txt []string
	if s.IdleInterval > 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyIdleInterval, s.IdleInterval.Milliseconds()))
	}
	if s.ActiveInterval > 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyActiveInterval, s.ActiveInterval.Milliseconds()))
	}
	if s.TCPSupported {
		txt = append(txt, TXTKeyTCPSupported+"=1")
	}
	if s.ICDSet {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyICDMode, s.ICDMode))
	}
	return txt
}

func parseSleepyParams(m map[string]string) (sleepyParams, error) {
	var s sleepyParams
	if v, ok := m[TXTKeyIdleInterval]; ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return s, ErrInvalidTXTRecord
		}
		s.IdleInterval = time.Duration(n) * time.Millisecond
	}
	if v, ok := m[TXTKeyActiveInterval]; ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return s, ErrInvalidTXTRecord
		}
		s.ActiveInterval = time.Duration(n) * time.Millisecond
	}
	if v, ok := m[TXTKeyTCPSupported]; ok {
		s.TCPSupported = v == "1"
	}
	if v, ok := m[TXTKeyICDMode]; ok {
		n, err := strconv.ParseInt(v, 10, 8)
		if err != nil {
			return s, ErrInvalidTXTRecord
		}
		s.ICDMode = ICDMode(n)
		s.ICDSet = true
	}
	return s, nil
}

// CommissionableTXT holds the TXT records advertised under _matterc._udp.
// Spec Section 4.3.1.4.
type CommissionableTXT struct {
	Discriminator       uint16 // required. Spec Section 4.3.1.5
	CommissioningMode   CommissioningMode
	VendorID            fabric.VendorID // from VP, with ProductID
	ProductID           uint16
	DeviceType          uint32
	DeviceName          string // max MaxDeviceNameLength
	IdleInterval        time.Duration
	ActiveInterval      time.Duration
	TCPSupported        bool
	ICDMode             ICDMode
	ICDSet              bool
	PairingHint         uint16
	PairingInstructions string
}

func (c *CommissionableTXT) sleepy() sleepyParams {
	return sleepyParams{c.IdleInterval, c.ActiveInterval, c.TCPSupported, c.ICDMode, c.ICDSet}
}

// Encode renders c as DNS-SD TXT record strings.
func (c *CommissionableTXT) Encode() []string {
	txt := []string{
		fmt.Sprintf("%s=%d", TXTKeyDiscriminator, c.Discriminator),
		fmt.Sprintf("%s=%d", TXTKeyCommissioningMode, c.CommissioningMode),
	}

	if c.VendorID != 0 || c.ProductID != 0 {
		txt = append(txt, fmt.Sprintf("%s=%d+%d", TXTKeyVendorProduct, c.VendorID, c.ProductID))
	}
	if c.DeviceType != 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyDeviceType, c.DeviceType))
	}
	if c.DeviceName != "" {
		txt = append(txt, fmt.Sprintf("%s=%s", TXTKeyDeviceName, truncateDeviceName(c.DeviceName)))
	}

	txt = append(txt, c.sleepy().encode()...)

	if c.PairingHint != 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyPairingHint, c.PairingHint))
	}
	if c.PairingInstructions != "" {
		txt = append(txt, fmt.Sprintf("%s=%s", TXTKeyPairingInstructions, c.PairingInstructions))
	}
	return txt
}

// Validate checks c against the spec's field limits.
func (c *CommissionableTXT) Validate() error {
	if c.Discriminator > MaxDiscriminator {
		return ErrInvalidDiscriminator
	}
	if len(c.DeviceName) > MaxDeviceNameLength {
		return ErrInvalidDeviceName
	}
	return nil
}

// ShortDiscriminator derives the 4-bit short form from the 12-bit
// discriminator: bits 8-11. Spec Section 4.3.1.5.
func (c *CommissionableTXT) ShortDiscriminator() uint8 {
	return uint8((c.Discriminator >> 8) & 0xF)
}

func truncateDeviceName(name string) string {
	if len(name) > MaxDeviceNameLength {
		return name[:MaxDeviceNameLength]
	}
	return name
}

// OperationalTXT holds the TXT records advertised under _matter._tcp.
// Spec Section 4.3.2.5.
type OperationalTXT struct {
	IdleInterval   time.Duration
	ActiveInterval time.Duration
	TCPSupported   bool
	ICDMode        ICDMode
	ICDSet         bool
}

func (o *OperationalTXT) Encode() []string {
	s := sleepyParams{o.IdleInterval, o.ActiveInterval, o.TCPSupported, o.ICDMode, o.ICDSet}
	return s.encode()
}

// CommissionerTXT holds the TXT records advertised under _matterd._udp.
// Spec Section 4.3.3.
type CommissionerTXT struct {
	VendorID             fabric.VendorID
	ProductID            uint16
	DeviceType           uint32
	DeviceName           string
	CommissionerPasscode bool
}

func (c *CommissionerTXT) Encode() []string {
	var txt []string
	if c.VendorID != 0 || c.ProductID != 0 {
		txt = append(txt, fmt.Sprintf("%s=%d+%d", TXTKeyVendorProduct, c.VendorID, c.ProductID))
	}
	if c.DeviceType != 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyDeviceType, c.DeviceType))
	}
	if c.DeviceName != "" {
		txt = append(txt, fmt.Sprintf("%s=%s", TXTKeyDeviceName, truncateDeviceName(c.DeviceName)))
	}
	if c.CommissionerPasscode {
		txt = append(txt, TXTKeyCommissionerPasscode+"=1")
	}
	return txt
}

func (c *CommissionerTXT) Validate() error {
	if len(c.DeviceName) > MaxDeviceNameLength {
		return ErrInvalidDeviceName
	}
	return nil
}

// ParseTXT splits raw "key=value" DNS-SD TXT strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string, len(records))
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseCommissionableTXT decodes TXT records advertised under _matterc._udp.
func ParseCommissionableTXT(records []string) (*CommissionableTXT, error) {
	m := ParseTXT(records)
	txt := &CommissionableTXT{}

	if v, ok := m[TXTKeyDiscriminator]; ok {
		d, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, ErrInvalidTXTRecord
		}
		if d > MaxDiscriminator {
			return nil, ErrInvalidDiscriminator
		}
		txt.Discriminator = uint16(d)
	}
	if v, ok := m[TXTKeyCommissioningMode]; ok {
		cm, err := strconv.ParseInt(v, 10, 8)
		if err != nil {
			return nil, ErrInvalidTXTRecord
		}
		txt.CommissioningMode = CommissioningMode(cm)
	}
	if v, ok := m[TXTKeyVendorProduct]; ok {
		if err := parseVendorProduct(v, &txt.VendorID, &txt.ProductID); err != nil {
			return nil, err
		}
	}
	if v, ok := m[TXTKeyDeviceType]; ok {
		dt, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, ErrInvalidTXTRecord
		}
		txt.DeviceType = uint32(dt)
	}
	if v, ok := m[TXTKeyDeviceName]; ok {
		txt.DeviceName = v
	}
	if v, ok := m[TXTKeyPairingHint]; ok {
		ph, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, ErrInvalidTXTRecord
		}
		txt.PairingHint = uint16(ph)
	}
	if v, ok := m[TXTKeyPairingInstructions]; ok {
		txt.PairingInstructions = v
	}

	s, err := parseSleepyParams(m)
	if err != nil {
		return nil, err
	}
	txt.IdleInterval, txt.ActiveInterval = s.IdleInterval, s.ActiveInterval
	txt.TCPSupported, txt.ICDMode, txt.ICDSet = s.TCPSupported, s.ICDMode, s.ICDSet

	return txt, nil
}

// ParseOperationalTXT decodes TXT records advertised under _matter._tcp.
func ParseOperationalTXT(records []string) (*OperationalTXT, error) {
	s, err := parseSleepyParams(ParseTXT(records))
	if err != nil {
		return nil, err
	}
	return &OperationalTXT{
		IdleInterval:   s.IdleInterval,
		ActiveInterval: s.ActiveInterval,
		TCPSupported:   s.TCPSupported,
		ICDMode:        s.ICDMode,
		ICDSet:         s.ICDSet,
	}, nil
}

// ParseCommissionerTXT decodes TXT records advertised under _matterd._udp.
func ParseCommissionerTXT(records []string) (*CommissionerTXT, error) {
	m := ParseTXT(records)
	txt := &CommissionerTXT{}

	if v, ok := m[TXTKeyVendorProduct]; ok {
		if err := parseVendorProduct(v, &txt.VendorID, &txt.ProductID); err != nil {
			return nil, err
		}
	}
	if v, ok := m[TXTKeyDeviceType]; ok {
		dt, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, ErrInvalidTXTRecord
		}
		txt.DeviceType = uint32(dt)
	}
	if v, ok := m[TXTKeyDeviceName]; ok {
		txt.DeviceName = v
	}
	if v, ok := m[TXTKeyCommissionerPasscode]; ok {
		txt.CommissionerPasscode = v == "1"
	}

	return txt, nil
}

// parseVendorProduct parses the VP key's "VID+PID" format.
func parseVendorProduct(s string, vid *fabric.VendorID, pid *uint16) error {
	parts := strings.SplitN(s, "+", 2)
	if len(parts) != 2 {
		return ErrInvalidTXTRecord
	}

	v, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return ErrInvalidTXTRecord
	}
	p, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return ErrInvalidTXTRecord
	}

	*vid = fabric.VendorID(v)
	*pid = uint16(p)
	return nil
}
