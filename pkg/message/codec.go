package message

import "github.com/larkspur-iot/chip-core/pkg/crypto"

// Codec encodes and decrypts messages for one secure session, pairing an
// AES-CCM encryption key with its derived AES-CTR privacy key (Section
// 4.8, 4.9).
type Codec struct {
	encryptionKey []byte
	privacyKey    []byte
	sourceNodeID  uint64
}

// NewCodec builds a codec around a 16-byte AES-128 key. sourceNodeID feeds
// the AEAD nonce: UnspecifiedNodeID for PASE, the operational node ID for
// CASE.
func NewCodec(encryptionKey []byte, sourceNodeID uint64) (*Codec, error) {
	if len(encryptionKey) != crypto.SymmetricKeySize {
		return nil, ErrInvalidKey
	}
	privacyKey, err := crypto.DerivePrivacyKey(encryptionKey)
	if err != nil {
		return nil, err
	}
	return &Codec{encryptionKey: encryptionKey, privacyKey: privacyKey, sourceNodeID: sourceNodeID}, nil
}

// Encode encrypts protocol+payload and assembles the wire message,
// optionally obfuscating the header (Sections 4.8.2, 4.9.3). header.Privacy
// is set to match the privacy argument before encoding.
func (c *Codec) Encode(header *MessageHeader, protocol *ProtocolHeader, payload []byte, privacy bool) ([]byte, error) {
	header.Privacy = privacy

	protocolBytes := protocol.Encode()
	plaintext := make([]byte, len(protocolBytes)+len(payload))
	copy(plaintext, protocolBytes)
	copy(plaintext[len(protocolBytes):], payload)

	aad := header.Encode()
	nonce := crypto.BuildAEADNonce(header.securityFlags(), header.MessageCounter, c.sourceNodeID)

	ciphertext, err := crypto.AESCCM128Encrypt(c.encryptionKey, nonce, plaintext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	encryptedPayload := ciphertext[:len(ciphertext)-MICSize]
	mic := ciphertext[len(ciphertext)-MICSize:]

	headerBytes := aad
	if privacy {
		headerBytes, err = c.obfuscateHeader(aad, header, mic)
		if err != nil {
			return nil, err
		}
	}

	out := make([]byte, len(headerBytes)+len(encryptedPayload)+MICSize)
	n := copy(out, headerBytes)
	n += copy(out[n:], encryptedPayload)
	copy(out[n:], mic)
	return out, nil
}

// Decode reverses Encode: deobfuscates the header if needed, verifies and
// decrypts the AEAD payload, and splits the result back into protocol
// header and application payload (Sections 4.8.3, 4.9.4).
func (c *Codec) Decode(data []byte, sourceNodeID uint64) (*Frame, error) {
	raw, err := DecodeRaw(data)
	if err != nil {
		return nil, err
	}
	if !raw.Header.IsSecure() {
		return nil, ErrDecryptionFailed
	}

	headerBytes := make([]byte, raw.Header.Size())
	if raw.Header.Privacy {
		copy(headerBytes, data[:raw.Header.Size()])
		if err := c.deobfuscateHeader(headerBytes, &raw.Header, raw.MIC); err != nil {
			return nil, err
		}
		if _, err := raw.Header.Decode(headerBytes); err != nil {
			return nil, err
		}
	} else {
		raw.Header.EncodeTo(headerBytes)
	}

	nonce := crypto.BuildAEADNonce(raw.Header.securityFlags(), raw.Header.MessageCounter, sourceNodeID)

	ciphertext := make([]byte, len(raw.EncryptedPayload)+MICSize)
	n := copy(ciphertext, raw.EncryptedPayload)
	copy(ciphertext[n:], raw.MIC)

	plaintext, err := crypto.AESCCM128Decrypt(c.encryptionKey, nonce, ciphertext, headerBytes)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	frame := &Frame{Header: raw.Header}
	protocolLen, err := frame.Protocol.Decode(plaintext)
	if err != nil {
		return nil, err
	}
	if len(plaintext) > protocolLen {
		frame.Payload = append([]byte(nil), plaintext[protocolLen:]...)
	}
	return frame, nil
}

// privacyWindow runs the obfuscation-window lookup shared by obfuscate and
// deobfuscate: both operate on the same offset/length inside headerBytes.
func (c *Codec) privacyWindow(headerBytes []byte, header *MessageHeader, mic []byte) (nonce []byte, window []byte, err error) {
	nonce, err = crypto.BuildPrivacyNonce(header.SessionID, mic)
	if err != nil {
		return nil, nil, err
	}
	off := header.PrivacyHeaderOffset()
	n := header.PrivacyObfuscatedSize()
	return nonce, headerBytes[off : off+n], nil
}

func (c *Codec) obfuscateHeader(headerBytes []byte, header *MessageHeader, mic []byte) ([]byte, error) {
	nonce, window, err := c.privacyWindow(headerBytes, header, mic)
	if err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return headerBytes, nil
	}
	obfuscated, err := crypto.AESCTREncrypt(c.privacyKey, nonce, window)
	if err != nil {
		return nil, err
	}
	copy(window, obfuscated)
	return headerBytes, nil
}

func (c *Codec) deobfuscateHeader(headerBytes []byte, header *MessageHeader, mic []byte) error {
	nonce, window, err := c.privacyWindow(headerBytes, header, mic)
	if err != nil {
		return err
	}
	if len(window) == 0 {
		return nil
	}
	plain, err := crypto.AESCTRDecrypt(c.privacyKey, nonce, window)
	if err != nil {
		return err
	}
	copy(window, plain)
	return nil
}

// DecodeWithKey builds a throwaway Codec to decode a single message; useful
// where the caller doesn't otherwise keep a Codec around for the session.
func DecodeWithKey(data []byte, encryptionKey []byte, sourceNodeID uint64) (*Frame, error) {
	codec, err := NewCodec(encryptionKey, sourceNodeID)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data, sourceNodeID)
}

// UnsecuredCodec encodes/decodes the unencrypted messages used before a
// session has keys (PASE/CASE handshake).
type UnsecuredCodec struct{}

func NewUnsecuredCodec() *UnsecuredCodec { return &UnsecuredCodec{} }

func (u *UnsecuredCodec) Encode(header *MessageHeader, protocol *ProtocolHeader, payload []byte) []byte {
	frame := &Frame{Header: *header, Protocol: *protocol, Payload: payload}
	return frame.EncodeUnsecured()
}

func (u *UnsecuredCodec) Decode(data []byte) (*Frame, error) {
	return DecodeUnsecured(data)
}
