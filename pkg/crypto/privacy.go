// Message privacy encryption: AES-128-CTR (NIST SP 800-38A §6.5) plus
// the key/nonce derivations that feed it (§3.7, §4.9 of the spec). This
// is a distinct, optional obfuscation layer over the already-AEAD-
// protected header fields — it never replaces AES-CCM authentication.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
)

const (
	AESCTRKeySize   = 16
	AESCTRNonceSize = 13

	ctrBlockSize = 16
	ctrLenSize   = 2 // L = 15 - nonceSize, fixed at 2 for a 13-byte nonce

	// NonceSize and MICSize are shared across the AEAD and privacy
	// nonce constructions; SymmetricKeySize is every 128-bit key in
	// this stack (encryption, privacy, attestation).
	NonceSize        = 13
	SymmetricKeySize = 16
	MICSize          = 16

	privacyNonceMICOffset = 5
	privacyNonceMICLength = 11
)

var privacyKeyInfo = []byte("PrivacyKey")

var (
	ErrAESCTRInvalidKeySize   = errors.New("aesctr: invalid key size, must be 16 bytes")
	ErrAESCTRInvalidNonceSize = errors.New("aesctr: invalid nonce size, must be 13 bytes")
	ErrInvalidKeySize         = errors.New("nonce: invalid key size, must be 16 bytes")
	ErrInvalidMICSize         = errors.New("nonce: invalid MIC size, must be 16 bytes")
)

// AESCTR is an AES-128-CTR instance used exclusively for Matter message
// privacy (obfuscating the protocol/exchange header, not the payload —
// payload confidentiality comes from AES-CCM).
type AESCTR struct {
	block cipher.Block
}

// NewAESCTR builds a privacy-encryption cipher from a 16-byte key.
func NewAESCTR(key []byte) (*AESCTR, error) {
	if len(key) != AESCTRKeySize {
		return nil, ErrAESCTRInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &AESCTR{block: block}, nil
}

// NonceSize reports the nonce length AESCTR requires (always 13).
func (c *AESCTR) NonceSize() int { return AESCTRNonceSize }

// Encrypt XORs plaintext with the CTR keystream for nonce.
func (c *AESCTR) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != AESCTRNonceSize {
		return nil, ErrAESCTRInvalidNonceSize
	}
	out := make([]byte, len(plaintext))
	c.xor(nonce, out, plaintext)
	return out, nil
}

// Decrypt reverses Encrypt; CTR mode makes the two operations identical.
func (c *AESCTR) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != AESCTRNonceSize {
		return nil, ErrAESCTRInvalidNonceSize
	}
	out := make([]byte, len(ciphertext))
	c.xor(nonce, out, ciphertext)
	return out, nil
}

// xor runs CTR keystream generation starting at counter 1, matching the
// convention AES-CCM uses (counter 0 is reserved there for tag masking;
// privacy encryption keeps the same offset for consistency even though
// it has no tag to mask).
func (c *AESCTR) xor(nonce []byte, dst, src []byte) {
	if len(src) == 0 {
		return
	}
	var ctr [ctrBlockSize]byte
	ctr[0] = ctrLenSize - 1
	copy(ctr[1:1+AESCTRNonceSize], nonce)
	ctr[ctrBlockSize-1] = 1

	cipher.NewCTR(c.block, ctr[:]).XORKeyStream(dst, src)
}

// AESCTREncrypt is the one-shot convenience form of AESCTR.Encrypt.
func AESCTREncrypt(key, nonce, plaintext []byte) ([]byte, error) {
	c, err := NewAESCTR(key)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(nonce, plaintext)
}

// AESCTRDecrypt is the one-shot convenience form of AESCTR.Decrypt.
func AESCTRDecrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	c, err := NewAESCTR(key)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(nonce, ciphertext)
}

// DerivePrivacyKey derives the 16-byte privacy key from a session's
// encryption key via HKDF-SHA256 with an empty salt and the "PrivacyKey"
// info string (§4.9.1).
func DerivePrivacyKey(encryptionKey []byte) ([]byte, error) {
	if len(encryptionKey) != SymmetricKeySize {
		return nil, ErrInvalidKeySize
	}
	return HKDFSHA256(encryptionKey, nil, privacyKeyInfo, SymmetricKeySize)
}

// BuildPrivacyNonce assembles the 13-byte nonce used for privacy
// encryption (§4.9.2): sessionID(BE16) || mic[5:16] — the big-endian
// session id concatenated with the low 11 bytes of the AEAD tag.
func BuildPrivacyNonce(sessionID uint16, mic []byte) ([]byte, error) {
	if len(mic) != MICSize {
		return nil, ErrInvalidMICSize
	}
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint16(nonce[0:2], sessionID)
	copy(nonce[2:13], mic[privacyNonceMICOffset:privacyNonceMICOffset+privacyNonceMICLength])
	return nonce, nil
}
