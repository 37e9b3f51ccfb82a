// Package spake2p implements SPAKE2+, the augmented password-authenticated
// key exchange Matter uses to bootstrap a session from a short passcode
// (§3.10 of the spec; RFC 9383). "Augmented" means the verifier never
// has to hold the password itself, only a registration record (w0, L)
// derived from it — so compromising a verifier's storage doesn't hand
// an attacker the passcode directly.
//
// Ciphersuite: P256-SHA256-HKDF-HMAC, the only one Matter allows.
//
//	Prover (commissioner)                 Verifier (commissionee)
//	NewProver(w0, w1)                     NewVerifier(w0, L)
//	X := GenerateShare()     --X-->       Y := GenerateShare()
//	                                      ProcessPeerShare(X)
//	                         <--Y--
//	ProcessPeerShare(Y)                   confirmV := Confirmation()
//	                         <-confirmV-
//	VerifyPeerConfirmation(confirmV)
//	confirmP := Confirmation()  --confirmP-->
//	                                       VerifyPeerConfirmation(confirmP)
//	Ke := SharedSecret()                  Ke := SharedSecret()
package spake2p

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"math/big"

	"github.com/larkspur-iot/chip-core/pkg/crypto"
)

// Sizes fixed by the P256-SHA256-HKDF-HMAC ciphersuite (§3.10).
const (
	GroupSizeBytes = 32 // a P-256 scalar
	PointSizeBytes = 65 // an uncompressed P-256 point
	HashSizeBytes  = 32 // SHA-256 digest
	WsSizeBytes    = 40 // w0s/w1s before reduction mod the group order
)

// Role distinguishes which side of the handshake an SPAKE2P instance
// plays; the two roles use the M/N generators and the Z/V formulas
// asymmetrically.
type Role int

const (
	RoleProver Role = iota
	RoleVerifier
)

type handshakeState int

const (
	stateInit handshakeState = iota
	stateShareSent
	stateSecretDerived
	stateConfirmed
)

var (
	ErrInvalidW0Size       = errors.New("spake2p: w0 must be 32 bytes")
	ErrInvalidW1Size       = errors.New("spake2p: w1 must be 32 bytes")
	ErrInvalidLSize        = errors.New("spake2p: L must be 65 bytes (uncompressed point)")
	ErrInvalidShareSize    = errors.New("spake2p: share must be 65 bytes (uncompressed point)")
	ErrInvalidPointOnCurve = errors.New("spake2p: point is not on the curve")
	ErrInvalidState        = errors.New("spake2p: invalid protocol state for this operation")
	ErrConfirmationFailed  = errors.New("spake2p: key confirmation failed")
)

// SPAKE2P drives one side of a single SPAKE2+ exchange. It is not safe
// for concurrent use and is single-shot: once Confirmed, build a new
// instance for the next handshake.
type SPAKE2P struct {
	role       Role
	context    []byte
	idProver   []byte
	idVerifier []byte

	w0 *big.Int     // shared password scalar, both sides
	w1 *big.Int     // prover-only second password scalar
	l  *affinePoint // verifier-only, L = w1*G

	random    *big.Int // x (prover) or y (verifier)
	myShare   []byte
	peerShare []byte
	z         []byte // shared DH value
	v         []byte // shared verification value

	ka, ke   []byte // split from SHA256(transcript)
	kcA, kcB []byte // confirmation keys, HKDF-derived from ka

	state handshakeState
	rand  io.Reader
}

// NewProver builds the commissioner side, which knows both password
// scalars w0 and w1.
func NewProver(context, idProver, idVerifier, w0, w1 []byte) (*SPAKE2P, error) {
	if len(w0) != GroupSizeBytes {
		return nil, ErrInvalidW0Size
	}
	if len(w1) != GroupSizeBytes {
		return nil, ErrInvalidW1Size
	}
	return &SPAKE2P{
		role:       RoleProver,
		context:    cloneBytes(context),
		idProver:   cloneBytes(idProver),
		idVerifier: cloneBytes(idVerifier),
		w0:         new(big.Int).SetBytes(w0),
		w1:         new(big.Int).SetBytes(w1),
		state:      stateInit,
		rand:       rand.Reader,
	}, nil
}

// NewVerifier builds the commissionee side, which holds w0 and the
// registration point L = w1*G instead of w1 itself.
func NewVerifier(context, idProver, idVerifier, w0, l []byte) (*SPAKE2P, error) {
	if len(w0) != GroupSizeBytes {
		return nil, ErrInvalidW0Size
	}
	if len(l) != PointSizeBytes {
		return nil, ErrInvalidLSize
	}
	lPoint, err := parsePoint(l)
	if err != nil {
		return nil, err
	}
	return &SPAKE2P{
		role:       RoleVerifier,
		context:    cloneBytes(context),
		idProver:   cloneBytes(idProver),
		idVerifier: cloneBytes(idVerifier),
		w0:         new(big.Int).SetBytes(w0),
		l:          lPoint,
		state:      stateInit,
		rand:       rand.Reader,
	}, nil
}

// SetRandom overrides the randomness source; tests use this to replay
// a fixed scalar and reproduce known transcripts.
func (s *SPAKE2P) SetRandom(r io.Reader) {
	s.rand = r
}

// GenerateShare draws this party's ephemeral scalar and returns its
// public share: X = x*G + w0*M for the prover, Y = y*G + w0*N for the
// verifier.
func (s *SPAKE2P) GenerateShare() ([]byte, error) {
	if s.state != stateInit {
		return nil, ErrInvalidState
	}

	random, err := randomScalar(s.rand)
	if err != nil {
		return nil, err
	}
	s.random = random

	generator := generatorN
	if s.role == RoleProver {
		generator = generatorM
	}
	s.myShare = serialize(blindedShare(random, s.w0, generator))
	s.state = stateShareSent
	return cloneBytes(s.myShare), nil
}

// ProcessPeerShare validates the peer's share, derives the shared
// values Z and V, and runs the key schedule down to ka/ke/kcA/kcB.
func (s *SPAKE2P) ProcessPeerShare(peerShare []byte) error {
	if s.state != stateShareSent {
		return ErrInvalidState
	}
	if len(peerShare) != PointSizeBytes {
		return ErrInvalidShareSize
	}

	peer, err := parsePoint(peerShare)
	if err != nil {
		return err
	}
	s.peerShare = cloneBytes(peerShare)

	if s.role == RoleProver {
		s.z, s.v = s.proverSharedValues(peer)
	} else {
		s.z, s.v = s.verifierSharedValues(peer)
	}

	if err := s.runKeySchedule(); err != nil {
		return err
	}
	s.state = stateSecretDerived
	return nil
}

// Confirmation returns this party's MAC over the peer's share, proving
// it derived the same ke without revealing ke itself.
func (s *SPAKE2P) Confirmation() ([]byte, error) {
	if s.state != stateSecretDerived && s.state != stateConfirmed {
		return nil, ErrInvalidState
	}
	key := s.kcB
	if s.role == RoleProver {
		key = s.kcA
	}
	return macOver(key, s.peerShare), nil
}

// VerifyPeerConfirmation checks the peer's confirmation MAC against
// the key it should have produced.
func (s *SPAKE2P) VerifyPeerConfirmation(peerConfirm []byte) error {
	if s.state != stateSecretDerived && s.state != stateConfirmed {
		return ErrInvalidState
	}
	key := s.kcA
	if s.role == RoleProver {
		key = s.kcB
	}
	if !hmac.Equal(macOver(key, s.myShare), peerConfirm) {
		return ErrConfirmationFailed
	}
	s.state = stateConfirmed
	return nil
}

// SharedSecret returns ke, the 16-byte key both sides agreed on. Call
// only after VerifyPeerConfirmation has succeeded.
func (s *SPAKE2P) SharedSecret() []byte {
	return cloneBytes(s.ke)
}

// proverSharedValues computes Z = x*(Y-w0*N), V = w1*(Y-w0*N).
func (s *SPAKE2P) proverSharedValues(peerY *affinePoint) (z, v []byte) {
	blinded := subPoints(peerY, mulPoint(generatorN, s.w0))
	return serialize(mulPoint(blinded, s.random)), serialize(mulPoint(blinded, s.w1))
}

// verifierSharedValues computes Z = y*(X-w0*M), V = y*L.
func (s *SPAKE2P) verifierSharedValues(peerX *affinePoint) (z, v []byte) {
	blinded := subPoints(peerX, mulPoint(generatorM, s.w0))
	return serialize(mulPoint(blinded, s.random)), serialize(mulPoint(s.l, s.random))
}

// runKeySchedule hashes the transcript into Ka||Ke and expands Ka into
// the two confirmation keys KcA||KcB (§3.10.4).
func (s *SPAKE2P) runKeySchedule() error {
	digest := sha256.Sum256(s.transcript())

	s.ka = cloneBytes(digest[:16])
	s.ke = cloneBytes(digest[16:])

	confirmKeys, err := crypto.HKDFSHA256(s.ka, nil, []byte("ConfirmationKeys"), 32)
	if err != nil {
		return err
	}
	s.kcA = cloneBytes(confirmKeys[:16])
	s.kcB = cloneBytes(confirmKeys[16:])
	return nil
}

// transcript assembles TT, the length-prefixed field sequence both
// sides hash to derive their keys: context, identities, the M/N
// generators, both shares, Z, V and w0 — each preceded by an 8-byte
// little-endian length.
func (s *SPAKE2P) transcript() []byte {
	shareX, shareY := s.peerShare, s.myShare
	if s.role == RoleProver {
		shareX, shareY = s.myShare, s.peerShare
	}

	w0Bytes := make([]byte, GroupSizeBytes)
	s.w0.FillBytes(w0Bytes)

	var tt []byte
	for _, field := range [][]byte{
		s.context, s.idProver, s.idVerifier,
		generatorMBytes, generatorNBytes,
		shareX, shareY, s.z, s.v, w0Bytes,
	} {
		tt = appendLenPrefixed(tt, field)
	}
	return tt
}

func appendLenPrefixed(dst, data []byte) []byte {
	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(data)))
	dst = append(dst, length[:]...)
	return append(dst, data...)
}

func macOver(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
