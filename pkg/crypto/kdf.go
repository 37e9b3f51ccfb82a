package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 iteration bounds the Matter specification places on password
// stretching for PASE bootstrap (§3.9): below the floor a passcode is
// brute-forceable too cheaply, above the ceiling commissioning would
// time out on constrained devices.
const (
	PBKDF2IterationsMin = 1000
	PBKDF2IterationsMax = 100000
)

// PBKDF2SHA256 stretches password into a keyLen-byte key using
// PBKDF2-HMAC-SHA256 with the given salt and iteration count. This is
// the first step of SPAKE2+ bootstrap: it turns a short numeric
// passcode into the w0/w1 scalar material.
func PBKDF2SHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// HKDFSHA256 runs the full extract-then-expand HKDF-SHA256 (RFC 5869)
// over ikm, returning length bytes of output keying material. This
// backs every session-key and confirmation-key derivation after the
// PASE/CASE shared secret has been established.
func HKDFSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	kdf := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HKDFExtractSHA256 runs only the extract half of HKDF, collapsing ikm
// (with optional salt) into a 32-byte pseudorandom key. Exposed
// separately for callers that need to extract once and expand several
// times from the same PRK.
func HKDFExtractSHA256(ikm, salt []byte) []byte {
	return hkdf.Extract(sha256.New, ikm, salt)
}

// HKDFExpandSHA256 runs only the expand half of HKDF against an
// already-extracted pseudorandom key prk, deriving length bytes tagged
// with info.
func HKDFExpandSHA256(prk, info []byte, length int) ([]byte, error) {
	reader := hkdf.Expand(sha256.New, prk, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
