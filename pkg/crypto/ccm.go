// AES-CCM as specified by NIST SP 800-38C / RFC 3610, constrained to the
// parameters the Matter message layer requires: a 128-bit key, a 13-byte
// nonce and a 128-bit authentication tag (§3.6 of the spec).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

const (
	AESCCMKeySize   = 16
	AESCCMTagSize   = 16
	AESCCMNonceSize = 13

	ccmBlockSize = 16
)

var (
	ErrAESCCMInvalidKeySize     = errors.New("aesccm: invalid key size, must be 16 bytes")
	ErrAESCCMInvalidNonceSize   = errors.New("aesccm: invalid nonce size")
	ErrAESCCMInvalidTagSize     = errors.New("aesccm: invalid tag size, must be 4, 6, 8, 10, 12, 14, or 16")
	ErrAESCCMPlaintextTooLong   = errors.New("aesccm: plaintext too long")
	ErrAESCCMCiphertextTooShort = errors.New("aesccm: ciphertext too short")
	ErrAESCCMAuthFailed         = errors.New("aesccm: message authentication failed")
)

// AESCCM is a configured AES-CCM instance. tagSize and lenSize are the
// CCM "M" and "L" parameters (RFC 3610 §2); Matter always uses M=16,
// L=2, but NewAESCCMWithParams exists so the RFC 3610 test vectors
// (which use other M/L combinations) can exercise the same code.
type AESCCM struct {
	block   cipher.Block
	tagSize int
	lenSize int
}

// NewAESCCM builds the Matter-mandated AES-128-CCM instance: 13-byte
// nonce, 16-byte tag.
func NewAESCCM(key []byte) (*AESCCM, error) {
	return NewAESCCMWithParams(key, AESCCMNonceSize, AESCCMTagSize)
}

// NewAESCCMWithParams builds an AES-CCM instance with an explicit nonce
// and tag size, for conformance testing against non-Matter CCM vectors.
func NewAESCCMWithParams(key []byte, nonceSize, tagSize int) (*AESCCM, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrAESCCMInvalidKeySize
	}

	lenSize := 15 - nonceSize
	if lenSize < 2 || lenSize > 8 {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if tagSize < 4 || tagSize > 16 || tagSize%2 != 0 {
		return nil, ErrAESCCMInvalidTagSize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &AESCCM{block: block, tagSize: tagSize, lenSize: lenSize}, nil
}

// NonceSize reports the nonce length this instance expects.
func (c *AESCCM) NonceSize() int { return 15 - c.lenSize }

// TagSize reports the authentication tag length this instance produces.
func (c *AESCCM) TagSize() int { return c.tagSize }

// Seal encrypts and authenticates plaintext under aad, returning
// ciphertext with the tag appended (len(plaintext)+TagSize() bytes).
func (c *AESCCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if maxLen := (1 << (8 * c.lenSize)) - 1; len(plaintext) > maxLen {
		return nil, ErrAESCCMPlaintextTooLong
	}

	tag := c.cbcMAC(nonce, plaintext, aad)
	mask := c.tagMask(nonce)

	out := make([]byte, len(plaintext)+c.tagSize)
	c.xorKeystream(nonce, out[:len(plaintext)], plaintext)
	for i := 0; i < c.tagSize; i++ {
		out[len(plaintext)+i] = tag[i] ^ mask[i]
	}
	return out, nil
}

// Open verifies and decrypts ciphertext (plaintext||tag) under aad,
// returning the plaintext. A corrupted tag yields ErrAESCCMAuthFailed
// and no partial plaintext is returned.
func (c *AESCCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(ciphertext) < c.tagSize {
		return nil, ErrAESCCMCiphertextTooShort
	}

	body := ciphertext[:len(ciphertext)-c.tagSize]
	sealedTag := ciphertext[len(ciphertext)-c.tagSize:]

	mask := c.tagMask(nonce)
	gotTag := make([]byte, c.tagSize)
	for i := 0; i < c.tagSize; i++ {
		gotTag[i] = sealedTag[i] ^ mask[i]
	}

	plaintext := make([]byte, len(body))
	c.xorKeystream(nonce, plaintext, body)

	wantTag := c.cbcMAC(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(gotTag, wantTag[:c.tagSize]) != 1 {
		return nil, ErrAESCCMAuthFailed
	}
	return plaintext, nil
}

// cbcMAC computes the CBC-MAC authentication tag over B_0, the
// length-prefixed AAD blocks and the plaintext blocks (RFC 3610 §2.2).
func (c *AESCCM) cbcMAC(nonce, plaintext, aad []byte) []byte {
	flags := byte(0)
	if len(aad) > 0 {
		flags |= 1 << 6
	}
	flags |= byte((c.tagSize-2)/2) << 3
	flags |= byte(c.lenSize - 1)

	var b0 [ccmBlockSize]byte
	b0[0] = flags
	n := c.NonceSize()
	copy(b0[1:1+n], nonce)
	c.encodeLength(b0[1+n:], len(plaintext))

	mac := make([]byte, ccmBlockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		mac = c.absorbAAD(mac, aad)
	}
	return c.absorbBlocks(mac, plaintext)[:c.tagSize]
}

// absorbAAD folds the length-prefixed associated data into the running
// CBC-MAC state, per the header-length encoding rules of RFC 3610 §2.2.
func (c *AESCCM) absorbAAD(mac, aad []byte) []byte {
	var header [ccmBlockSize]byte
	var headerLen int
	aadLen := len(aad)

	switch {
	case aadLen < (1<<16)-(1<<8):
		binary.BigEndian.PutUint16(header[0:2], uint16(aadLen))
		headerLen = 2
	case aadLen < (1 << 32):
		header[0], header[1] = 0xFF, 0xFE
		binary.BigEndian.PutUint32(header[2:6], uint32(aadLen))
		headerLen = 6
	default:
		header[0], header[1] = 0xFF, 0xFF
		binary.BigEndian.PutUint64(header[2:10], uint64(aadLen))
		headerLen = 10
	}

	firstChunk := ccmBlockSize - headerLen
	if firstChunk > len(aad) {
		firstChunk = len(aad)
	}
	copy(header[headerLen:], aad[:firstChunk])

	for i := 0; i < ccmBlockSize; i++ {
		mac[i] ^= header[i]
	}
	c.block.Encrypt(mac, mac)

	return c.absorbBlocks(mac, aad[firstChunk:])
}

// absorbBlocks XORs data into mac one AES block at a time, encrypting
// after each block (the heart of CBC-MAC); the final partial block, if
// any, is zero-padded.
func (c *AESCCM) absorbBlocks(mac, data []byte) []byte {
	for len(data) > 0 {
		var block [ccmBlockSize]byte
		n := copy(block[:], data)
		data = data[n:]
		for i := 0; i < ccmBlockSize; i++ {
			mac[i] ^= block[i]
		}
		c.block.Encrypt(mac, mac)
	}
	return mac
}

// tagMask produces S_0 = E(K, A_0), the keystream block used to mask
// the authentication tag (counter = 0 is reserved for this purpose and
// never used to mask plaintext).
func (c *AESCCM) tagMask(nonce []byte) []byte {
	var a0 [ccmBlockSize]byte
	a0[0] = byte(c.lenSize - 1)
	n := c.NonceSize()
	copy(a0[1:1+n], nonce)

	s0 := make([]byte, ccmBlockSize)
	c.block.Encrypt(s0, a0[:])
	return s0
}

// xorKeystream runs CTR-mode keystream generation starting at counter 1
// (counter 0 is reserved for tagMask) and XORs it into dst.
func (c *AESCCM) xorKeystream(nonce []byte, dst, src []byte) {
	var ctr [ccmBlockSize]byte
	ctr[0] = byte(c.lenSize - 1)
	n := c.NonceSize()
	copy(ctr[1:1+n], nonce)
	ctr[ccmBlockSize-1] = 1

	var stream [ccmBlockSize]byte
	for i := 0; i < len(src); i += ccmBlockSize {
		c.block.Encrypt(stream[:], ctr[:])
		end := i + ccmBlockSize
		if end > len(src) {
			end = len(src)
		}
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ stream[j-i]
		}
		bumpCounter(ctr[ccmBlockSize-c.lenSize:])
	}
}

// encodeLength writes length into dst as a big-endian value occupying
// dst's full width (the CCM "L" field).
func (c *AESCCM) encodeLength(dst []byte, length int) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(length)
		length >>= 8
	}
}

// bumpCounter increments a big-endian counter field in place.
func bumpCounter(ctr []byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			return
		}
	}
}

// AESCCM128Encrypt is the one-shot convenience form of Seal for callers
// that don't want to hold onto an *AESCCM.
func AESCCM128Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	c, err := NewAESCCM(key)
	if err != nil {
		return nil, err
	}
	return c.Seal(nonce, plaintext, aad)
}

// AESCCM128Decrypt is the one-shot convenience form of Open.
func AESCCM128Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	c, err := NewAESCCM(key)
	if err != nil {
		return nil, err
	}
	return c.Open(nonce, ciphertext, aad)
}

// BuildAEADNonce assembles the 13-byte AES-CCM nonce used for message
// encryption (§4.8.1.1): securityFlags || messageCounter(LE32) ||
// sourceNodeID(LE64). sourceNodeID is the Unspecified Node ID (0) for
// PASE sessions where no operational identity exists yet.
func BuildAEADNonce(securityFlags uint8, messageCounter uint32, sourceNodeID uint64) []byte {
	nonce := make([]byte, AESCCMNonceSize)
	nonce[0] = securityFlags
	binary.LittleEndian.PutUint32(nonce[1:5], messageCounter)
	binary.LittleEndian.PutUint64(nonce[5:13], sourceNodeID)
	return nonce
}
