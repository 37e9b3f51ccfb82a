// Package pase implements Passcode-Authenticated Session Establishment.
//
// PASE bootstraps the first secure session between a commissioner
// (initiator, knows the passcode) and a commissionee (responder, holds
// only a verifier derived from it) via SPAKE2+ over four legs:
// PBKDFParamRequest/Response negotiate the PBKDF parameters, Pake1/Pake2
// exchange the SPAKE2+ shares, Pake3 and the closing StatusReport carry
// the key confirmations. Matter spec 4.14.1.
package pase

import (
	"errors"
)

const (
	// ContextPrefix seeds the SPAKE2+ transcript hash. It reads "PAKE",
	// not "PASE" — that is what the reference implementation hashes.
	ContextPrefix = "CHIP PAKE V1 Commissioning"

	// RandomSize is the length of the random nonces in the PBKDF legs.
	RandomSize = 32

	// DefaultPasscodeID is the only passcode id in use (always 0).
	DefaultPasscodeID = 0

	// SessionKeySize is the length of each derived direction key.
	SessionKeySize = 16

	// AttestationChallengeSize is the length of the attestation
	// challenge derived alongside the session keys.
	AttestationChallengeSize = 16
)

// PBKDF parameter bounds (spec 3.9).
const (
	PBKDFMinSaltLength = 16
	PBKDFMaxSaltLength = 32
	PBKDFMinIterations = 1000
	PBKDFMaxIterations = 100000
)

var (
	ErrInvalidState        = errors.New("pase: invalid protocol state")
	ErrInvalidMessage      = errors.New("pase: invalid message")
	ErrInvalidPasscode     = errors.New("pase: invalid passcode")
	ErrInvalidSalt         = errors.New("pase: invalid salt length")
	ErrInvalidIterations   = errors.New("pase: invalid iteration count")
	ErrInvalidPasscodeID   = errors.New("pase: invalid passcode ID")
	ErrInvalidRandom       = errors.New("pase: invalid random value")
	ErrRandomMismatch      = errors.New("pase: initiator random mismatch")
	ErrConfirmationFailed  = errors.New("pase: key confirmation failed")
	ErrUnexpectedMessage   = errors.New("pase: unexpected message type")
	ErrSessionNotReady     = errors.New("pase: session not ready")
	ErrPeerBusy            = errors.New("pase: peer is busy")
	ErrInvalidStatusReport = errors.New("pase: invalid status report")
)

// SessionKeys is what a completed handshake yields: one key per
// direction plus the device-attestation challenge.
type SessionKeys struct {
	I2RKey               [SessionKeySize]byte
	R2IKey               [SessionKeySize]byte
	AttestationChallenge [AttestationChallengeSize]byte
}
