// Package crypto collects the cryptographic building blocks the secure
// messaging and PASE layers are built on: SHA-256/HMAC digests, HKDF and
// PBKDF2 key derivation, AES-CCM/AES-CTR ciphers, P-256 group arithmetic
// and SPAKE2+ (in the spake2p subpackage). None of these are novel —
// they wrap the Go standard library and golang.org/x/crypto with the
// fixed parameters Matter mandates (128-bit keys/tags, 13-byte nonces,
// the P-256 curve) so callers never have to pick a parameter themselves.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
)

// Digest sizes mandated by the Matter specification's crypto primitives
// table: every hash and MAC in this stack is SHA-256 based.
const (
	SHA256LenBits  = 256
	SHA256LenBytes = 32
)

// SHA256 returns the 32-byte SHA-256 digest of msg.
func SHA256(msg []byte) [SHA256LenBytes]byte {
	return sha256.Sum256(msg)
}

// SHA256Slice is SHA256 with a slice return, for callers that don't want
// to deal with the fixed-size array.
func SHA256Slice(msg []byte) []byte {
	sum := sha256.Sum256(msg)
	return sum[:]
}

// NewSHA256 returns a streaming SHA-256 hasher for incremental digests.
func NewSHA256() hash.Hash {
	return sha256.New()
}

// HMACSHA256 computes HMAC-SHA256(key, msg) and returns the fixed-size MAC.
func HMACSHA256(key, msg []byte) [SHA256LenBytes]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	var out [SHA256LenBytes]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// HMACSHA256Slice is HMACSHA256 with a slice return.
func HMACSHA256Slice(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// NewHMACSHA256 returns a streaming HMAC-SHA256 hasher keyed with key.
func NewHMACSHA256(key []byte) hash.Hash {
	return hmac.New(sha256.New, key)
}

// HMACEqual reports whether two MACs match, comparing in constant time
// so a timing side-channel can't leak how many leading bytes matched.
func HMACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
