package commissioning

import (
	"errors"
	"time"
)

// DefaultPASETimeout bounds a PASE handshake when the caller's context
// carries no deadline of its own.
const DefaultPASETimeout = 30 * time.Second

var (
	ErrAlreadyCommissioning = errors.New("commissioning: operation already in progress")
	ErrDeviceNotFound       = errors.New("commissioning: device not found")

	ErrPASEFailed        = errors.New("commissioning: PASE handshake failed")
	ErrCASEFailed        = errors.New("commissioning: CASE handshake failed")
	ErrAttestationFailed = errors.New("commissioning: device attestation failed")

	// ErrFailSafeExpired: the fail-safe timer ran out mid-commissioning;
	// the device reverts to its pre-commissioning state.
	ErrFailSafeExpired = errors.New("commissioning: fail-safe timer expired")

	ErrCommissioningTimeout = errors.New("commissioning: operation timed out")
	ErrCancelled            = errors.New("commissioning: operation cancelled")

	ErrWindowClosed      = errors.New("commissioning: window closed")
	ErrWindowAlreadyOpen = errors.New("commissioning: window already open")

	ErrInvalidPasscode      = errors.New("commissioning: invalid passcode")
	ErrInvalidDiscriminator = errors.New("commissioning: invalid discriminator")
)
