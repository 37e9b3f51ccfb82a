// General-purpose P-256 (secp256r1) key, sign and ECDH operations
// (§3.5). SPAKE2+ implements its own point arithmetic against the
// fixed M/N constants (see the spake2p subpackage); this file backs
// the plain ECDSA/ECDH operations a CASE implementation would need.
package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	P256GroupSizeBits                = 256
	P256GroupSizeBytes               = 32
	P256PublicKeySizeBytes           = 65 // 0x04 || X || Y
	P256CompressedPublicKeySizeBytes = 33 // 0x02/0x03 || X
	P256SignatureSizeBytes           = 64 // r || s
)

// P256KeyPair is a P-256 private/public key pair usable for both ECDH
// (key agreement) and ECDSA (signing) operations.
type P256KeyPair struct {
	ecdh  *ecdh.PrivateKey
	ecdsa *ecdsa.PrivateKey
}

// P256GenerateKeyPair generates a fresh random P-256 key pair.
func P256GenerateKeyPair() (*P256KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ECDH key: %w", err)
	}
	return keyPairFromECDH(priv)
}

// P256KeyPairFromPrivateKey reconstructs a key pair from a raw 32-byte
// private scalar.
func P256KeyPairFromPrivateKey(privateKey []byte) (*P256KeyPair, error) {
	if len(privateKey) != P256GroupSizeBytes {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", P256GroupSizeBytes, len(privateKey))
	}
	priv, err := ecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return keyPairFromECDH(priv)
}

// keyPairFromECDH derives the ECDSA view of an ECDH private key so the
// same key material backs both Sign and ECDH without regenerating keys.
func keyPairFromECDH(priv *ecdh.PrivateKey) (*P256KeyPair, error) {
	pub := priv.PublicKey().Bytes()
	if len(pub) != P256PublicKeySizeBytes || pub[0] != 0x04 {
		return nil, errors.New("unexpected public key format")
	}
	ecdsaPriv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1:33]),
			Y:     new(big.Int).SetBytes(pub[33:65]),
		},
		D: new(big.Int).SetBytes(priv.Bytes()),
	}
	return &P256KeyPair{ecdh: priv, ecdsa: ecdsaPriv}, nil
}

// P256PublicKey returns the uncompressed public key (0x04 || X || Y).
func (kp *P256KeyPair) P256PublicKey() []byte {
	return kp.ecdh.PublicKey().Bytes()
}

// P256PublicKeyCompressed returns the compressed public key
// (0x02/0x03 || X).
func (kp *P256KeyPair) P256PublicKeyCompressed() []byte {
	pub := kp.ecdsa.PublicKey
	return elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y)
}

// P256PrivateKey returns the raw 32-byte private scalar.
func (kp *P256KeyPair) P256PrivateKey() []byte {
	return kp.ecdh.Bytes()
}

// P256Sign signs SHA256(message) with ECDSA, returning a fixed-size
// 64-byte r||s signature (each half zero-padded to 32 bytes).
func P256Sign(keyPair *P256KeyPair, message []byte) ([]byte, error) {
	digest := SHA256(message)
	r, s, err := ecdsa.Sign(rand.Reader, keyPair.ecdsa, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ECDSA sign failed: %w", err)
	}

	sig := make([]byte, P256SignatureSizeBytes)
	rBytes, sBytes := r.Bytes(), s.Bytes()
	copy(sig[P256GroupSizeBytes-len(rBytes):P256GroupSizeBytes], rBytes)
	copy(sig[P256SignatureSizeBytes-len(sBytes):], sBytes)
	return sig, nil
}

// P256Verify checks a 64-byte r||s ECDSA signature over message against
// a 65-byte uncompressed public key.
func P256Verify(publicKey, message, signature []byte) (bool, error) {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return false, err
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return false, errors.New("public key point is not on the P-256 curve")
	}
	if len(signature) != P256SignatureSizeBytes {
		return false, fmt.Errorf("signature must be %d bytes, got %d", P256SignatureSizeBytes, len(signature))
	}

	r := new(big.Int).SetBytes(signature[:P256GroupSizeBytes])
	s := new(big.Int).SetBytes(signature[P256GroupSizeBytes:])
	digest := SHA256(message)
	return ecdsa.Verify(pub, digest[:], r, s), nil
}

// P256ECDH computes the ECDH shared secret (the x-coordinate of the
// shared point) between keyPair and peerPublicKey.
func P256ECDH(keyPair *P256KeyPair, peerPublicKey []byte) ([]byte, error) {
	if len(peerPublicKey) != P256PublicKeySizeBytes {
		return nil, fmt.Errorf("peer public key must be %d bytes, got %d", P256PublicKeySizeBytes, len(peerPublicKey))
	}
	peer, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}
	secret, err := keyPair.ecdh.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("ECDH computation failed: %w", err)
	}
	return secret, nil
}

// P256ECDHFromPrivateKey is P256ECDH for callers holding only the raw
// private key bytes rather than a *P256KeyPair.
func P256ECDHFromPrivateKey(privateKey, peerPublicKey []byte) ([]byte, error) {
	kp, err := P256KeyPairFromPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return P256ECDH(kp, peerPublicKey)
}

// P256PublicKeyFromCompressed expands a 33-byte compressed public key
// (0x02/0x03 || X) into the 65-byte uncompressed form (0x04 || X || Y).
func P256PublicKeyFromCompressed(compressed []byte) ([]byte, error) {
	if len(compressed) != P256CompressedPublicKeySizeBytes {
		return nil, fmt.Errorf("compressed key must be %d bytes, got %d", P256CompressedPublicKeySizeBytes, len(compressed))
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), compressed)
	if x == nil {
		return nil, errors.New("failed to decompress public key")
	}

	out := make([]byte, P256PublicKeySizeBytes)
	out[0] = 0x04
	xBytes, yBytes := x.Bytes(), y.Bytes()
	copy(out[1+P256GroupSizeBytes-len(xBytes):1+P256GroupSizeBytes], xBytes)
	copy(out[1+2*P256GroupSizeBytes-len(yBytes):], yBytes)
	return out, nil
}

// P256ValidatePublicKey checks that publicKey is a well-formed
// uncompressed point that actually lies on the P-256 curve.
func P256ValidatePublicKey(publicKey []byte) error {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return err
	}
	if !elliptic.P256().IsOnCurve(pub.X, pub.Y) {
		return errors.New("public key point is not on the P-256 curve")
	}
	return nil
}

// parsePublicKey decodes a 65-byte uncompressed public key into its
// curve coordinates without checking curve membership.
func parsePublicKey(publicKey []byte) (*ecdsa.PublicKey, error) {
	if len(publicKey) != P256PublicKeySizeBytes {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", P256PublicKeySizeBytes, len(publicKey))
	}
	if publicKey[0] != 0x04 {
		return nil, errors.New("public key must be in uncompressed format (starting with 0x04)")
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(publicKey[1:33]),
		Y:     new(big.Int).SetBytes(publicKey[33:65]),
	}, nil
}
