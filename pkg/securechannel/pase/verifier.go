package pase

import (
	"crypto/elliptic"
	"encoding/binary"
	"math/big"

	"github.com/larkspur-iot/chip-core/pkg/crypto"
	"github.com/larkspur-iot/chip-core/pkg/crypto/spake2p"
)

// Verifier is what the commissionee stores instead of the passcode:
// the w0 scalar and the registration point L = w1*P (spec 3.10). Knowing
// it is enough to verify an initiator, not to impersonate one.
type Verifier struct {
	W0 []byte // 32 bytes
	L  []byte // 65-byte uncompressed point
}

var p256 = elliptic.P256()

// GenerateVerifier derives a verifier from a passcode:
//
//	ws  = PBKDF2-SHA256(passcode_le4, salt, iterations, 80)
//	w0  = ws[0:40]  mod n
//	w1  = ws[40:80] mod n
//	L   = w1 * P
func GenerateVerifier(passcode uint32, salt []byte, iterations uint32) (*Verifier, error) {
	if err := ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	if err := validatePBKDFParams(salt, iterations); err != nil {
		return nil, err
	}

	w0, w1, err := ComputeW0W1(passcode, salt, iterations)
	if err != nil {
		return nil, err
	}

	x, y := p256.ScalarBaseMult(w1)
	l := make([]byte, spake2p.PointSizeBytes)
	l[0] = 0x04
	x.FillBytes(l[1:33])
	y.FillBytes(l[33:65])

	return &Verifier{W0: w0, L: l}, nil
}

// ComputeW0W1 runs the PBKDF2 expansion shared by verifier generation and
// the initiator's prover setup. The passcode is hashed as 4 little-endian
// bytes; the two 40-byte halves are reduced mod the curve order, the
// extra 64 bits keeping the reduction bias negligible (RFC 9383).
func ComputeW0W1(passcode uint32, salt []byte, iterations uint32) (w0, w1 []byte, err error) {
	var pc [4]byte
	binary.LittleEndian.PutUint32(pc[:], passcode)

	ws := crypto.PBKDF2SHA256(pc[:], salt, int(iterations), 2*spake2p.WsSizeBytes)
	w0 = reduceScalar(ws[:spake2p.WsSizeBytes])
	w1 = reduceScalar(ws[spake2p.WsSizeBytes:])
	return w0, w1, nil
}

// reduceScalar maps a 40-byte expansion onto a fixed 32-byte scalar
// mod the P-256 group order.
func reduceScalar(ws []byte) []byte {
	v := new(big.Int).SetBytes(ws)
	v.Mod(v, p256.Params().N)

	out := make([]byte, spake2p.GroupSizeBytes)
	v.FillBytes(out)
	return out
}

// ValidatePasscode rejects the passcodes the spec forbids (5.1.7):
// anything over 8 digits, repeated-digit codes, and the two obvious
// ascending/descending runs.
func ValidatePasscode(passcode uint32) error {
	if passcode > 99999999 {
		return ErrInvalidPasscode
	}
	switch passcode {
	case 0, 11111111, 22222222, 33333333, 44444444,
		55555555, 66666666, 77777777, 88888888, 99999999,
		12345678, 87654321:
		return ErrInvalidPasscode
	}
	return nil
}

func validatePBKDFParams(salt []byte, iterations uint32) error {
	if len(salt) < PBKDFMinSaltLength || len(salt) > PBKDFMaxSaltLength {
		return ErrInvalidSalt
	}
	if iterations < PBKDFMinIterations || iterations > PBKDFMaxIterations {
		return ErrInvalidIterations
	}
	return nil
}

// Serialize concatenates W0 and L (97 bytes), the storage format.
func (v *Verifier) Serialize() []byte {
	out := make([]byte, spake2p.GroupSizeBytes+spake2p.PointSizeBytes)
	copy(out, v.W0)
	copy(out[spake2p.GroupSizeBytes:], v.L)
	return out
}

// DeserializeVerifier parses the 97-byte storage format.
func DeserializeVerifier(data []byte) (*Verifier, error) {
	if len(data) != spake2p.GroupSizeBytes+spake2p.PointSizeBytes {
		return nil, ErrInvalidMessage
	}
	v := &Verifier{
		W0: make([]byte, spake2p.GroupSizeBytes),
		L:  make([]byte, spake2p.PointSizeBytes),
	}
	copy(v.W0, data[:spake2p.GroupSizeBytes])
	copy(v.L, data[spake2p.GroupSizeBytes:])
	return v, nil
}
