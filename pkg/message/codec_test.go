package message

import (
	"bytes"
	"testing"
)

var testKey = []byte{
	0x5e, 0xde, 0xd2, 0x44, 0xe5, 0x53, 0x2b, 0x3c,
	0xdc, 0x23, 0x40, 0x9d, 0xba, 0xd0, 0x52, 0xd2,
}

func mustCodec(t *testing.T, nodeID uint64) *Codec {
	t.Helper()
	codec, err := NewCodec(testKey, nodeID)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestCodecRoundtrip(t *testing.T) {
	codec := mustCodec(t, UnspecifiedNodeID)

	cases := []struct {
		name    string
		header  MessageHeader
		proto   ProtocolHeader
		payload []byte
		privacy bool
	}{
		{
			name:   "empty payload",
			header: MessageHeader{SessionID: 0x1234, SessionType: SessionTypeUnicast, MessageCounter: 1},
			proto:  ProtocolHeader{ProtocolID: ProtocolSecureChannel, ProtocolOpcode: 0x40, ExchangeID: 1},
		},
		{
			name:   "application payload",
			header: MessageHeader{SessionID: 0x5678, SessionType: SessionTypeUnicast, MessageCounter: 100},
			proto: ProtocolHeader{
				ProtocolID:     ProtocolInteractionModel,
				ProtocolOpcode: 0x02,
				ExchangeID:     0xABCD,
				Initiator:      true,
				Reliability:    true,
			},
			payload: []byte("Hello, Matter!"),
		},
		{
			name:   "piggybacked ack",
			header: MessageHeader{SessionID: 0x1000, SessionType: SessionTypeUnicast, MessageCounter: 200},
			proto: ProtocolHeader{
				ProtocolID:          ProtocolSecureChannel,
				ProtocolOpcode:      0x40,
				ExchangeID:          1,
				Acknowledgement:     true,
				AckedMessageCounter: 199,
			},
			payload: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name:    "privacy",
			header:  MessageHeader{SessionID: 0x2000, SessionType: SessionTypeUnicast, MessageCounter: 300},
			proto:   ProtocolHeader{ProtocolID: ProtocolInteractionModel, ProtocolOpcode: 0x05, ExchangeID: 0x1111},
			payload: []byte("Private message content"),
			privacy: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := tc.header // Encode mutates the privacy flag

			encoded, err := codec.Encode(&header, &tc.proto, tc.payload, tc.privacy)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if tc.privacy && !header.Privacy {
				t.Error("privacy flag not set on encode")
			}

			decoded, err := codec.Decode(encoded, UnspecifiedNodeID)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded.Header.SessionID != tc.header.SessionID ||
				decoded.Header.MessageCounter != tc.header.MessageCounter {
				t.Errorf("header fields: got (%04x, %08x), want (%04x, %08x)",
					decoded.Header.SessionID, decoded.Header.MessageCounter,
					tc.header.SessionID, tc.header.MessageCounter)
			}
			if decoded.Protocol != tc.proto {
				t.Errorf("protocol header:\ngot  %+v\nwant %+v", decoded.Protocol, tc.proto)
			}
			if !bytes.Equal(decoded.Payload, tc.payload) {
				t.Errorf("payload = %x, want %x", decoded.Payload, tc.payload)
			}
		})
	}
}

// The source node id is part of the nonce, so the decoder must agree on it.
func TestCodecNonceNodeID(t *testing.T) {
	const nodeID = uint64(0x0102030405060708)
	codec := mustCodec(t, nodeID)

	header := MessageHeader{SessionID: 0x1234, SessionType: SessionTypeUnicast, MessageCounter: 1}
	proto := ProtocolHeader{ProtocolID: ProtocolSecureChannel, ProtocolOpcode: 0x40, ExchangeID: 1}

	encoded, err := codec.Encode(&header, &proto, []byte("test"), false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := codec.Decode(encoded, nodeID)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded.Payload, []byte("test")) {
		t.Error("payload lost")
	}

	if _, err := codec.Decode(encoded, 0xDEADBEEF); err != ErrDecryptionFailed {
		t.Errorf("wrong node id: err = %v, want ErrDecryptionFailed", err)
	}
}

func TestCodecPrivacyObfuscation(t *testing.T) {
	codec := mustCodec(t, UnspecifiedNodeID)

	header := MessageHeader{SessionID: 0xABCD, SessionType: SessionTypeUnicast, MessageCounter: 0x12345678}
	proto := ProtocolHeader{ProtocolID: ProtocolSecureChannel, ProtocolOpcode: 0x40, ExchangeID: 1}

	plain, err := codec.Encode(&header, &proto, nil, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	header.Privacy = false
	private, err := codec.Encode(&header, &proto, nil, true)
	if err != nil {
		t.Fatalf("Encode with privacy: %v", err)
	}

	// P flag is bit 7 of the security flags at offset 3.
	if private[3]&0x80 == 0 {
		t.Error("P flag missing from private message")
	}
	if plain[3]&0x80 != 0 {
		t.Error("P flag set on plain message")
	}

	// The counter field rides in the clear without privacy and is
	// obfuscated with it.
	counterLE := []byte{0x78, 0x56, 0x34, 0x12}
	if !bytes.Equal(plain[4:8], counterLE) {
		t.Errorf("plain counter = %x, want %x", plain[4:8], counterLE)
	}
	if bytes.Equal(private[4:8], counterLE) {
		t.Error("private counter not obfuscated")
	}

	// Both forms decode back to the same counter.
	for name, buf := range map[string][]byte{"plain": plain, "private": private} {
		decoded, err := codec.Decode(buf, UnspecifiedNodeID)
		if err != nil {
			t.Fatalf("Decode %s: %v", name, err)
		}
		if decoded.Header.MessageCounter != 0x12345678 {
			t.Errorf("%s counter = %08x, want 12345678", name, decoded.Header.MessageCounter)
		}
	}
}

func TestCodecTamperDetection(t *testing.T) {
	codec := mustCodec(t, UnspecifiedNodeID)

	header := MessageHeader{SessionID: 0x1234, SessionType: SessionTypeUnicast, MessageCounter: 1}
	proto := ProtocolHeader{ProtocolID: ProtocolSecureChannel, ProtocolOpcode: 0x40, ExchangeID: 1}

	encoded, err := codec.Encode(&header, &proto, []byte("test"), false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encoded[len(encoded)-MICSize-1] ^= 0xFF

	if _, err := codec.Decode(encoded, UnspecifiedNodeID); err != ErrDecryptionFailed {
		t.Errorf("tampered ciphertext: err = %v, want ErrDecryptionFailed", err)
	}
}

func TestNewCodecKeyLength(t *testing.T) {
	for _, n := range []int{0, 15, 17} {
		if _, err := NewCodec(make([]byte, n), UnspecifiedNodeID); err != ErrInvalidKey {
			t.Errorf("NewCodec(%d bytes) err = %v, want ErrInvalidKey", n, err)
		}
	}
}

func TestUnsecuredCodec(t *testing.T) {
	codec := NewUnsecuredCodec()

	header := MessageHeader{SessionType: SessionTypeUnicast, MessageCounter: 1}
	proto := ProtocolHeader{
		ProtocolID:     ProtocolSecureChannel,
		ProtocolOpcode: 0x20,
		ExchangeID:     1,
		Initiator:      true,
	}
	payload := []byte("PBKDF params")

	decoded, err := codec.Decode(codec.Encode(&header, &proto, payload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Header.SessionID != 0 {
		t.Errorf("SessionID = %04x, want 0", decoded.Header.SessionID)
	}
	if decoded.Protocol != proto {
		t.Errorf("protocol header:\ngot  %+v\nwant %+v", decoded.Protocol, proto)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Errorf("payload = %x, want %x", decoded.Payload, payload)
	}
}

func TestDecodeWithKey(t *testing.T) {
	codec := mustCodec(t, UnspecifiedNodeID)

	header := MessageHeader{SessionID: 0x1234, SessionType: SessionTypeUnicast, MessageCounter: 1}
	proto := ProtocolHeader{ProtocolID: ProtocolSecureChannel, ProtocolOpcode: 0x40, ExchangeID: 1}
	encoded, _ := codec.Encode(&header, &proto, []byte("test"), false)

	decoded, err := DecodeWithKey(encoded, testKey, UnspecifiedNodeID)
	if err != nil {
		t.Fatalf("DecodeWithKey: %v", err)
	}
	if !bytes.Equal(decoded.Payload, []byte("test")) {
		t.Error("payload lost")
	}
}

func TestCodecGroupMessage(t *testing.T) {
	const nodeID = uint64(0xABCDEF0123456789)
	codec := mustCodec(t, nodeID)

	header := MessageHeader{
		SessionID:          0x1000,
		SessionType:        SessionTypeGroup,
		MessageCounter:     100,
		SourcePresent:      true,
		SourceNodeID:       nodeID,
		DestinationType:    DestinationGroupID,
		DestinationGroupID: 0x1234,
	}
	proto := ProtocolHeader{
		ProtocolID:     ProtocolInteractionModel,
		ProtocolOpcode: 0x10,
		ExchangeID:     1,
		Initiator:      true,
	}
	payload := []byte("Group message payload")

	encoded, err := codec.Encode(&header, &proto, payload, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := codec.Decode(encoded, nodeID)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Header.SessionType != SessionTypeGroup ||
		decoded.Header.SourceNodeID != nodeID ||
		decoded.Header.DestinationGroupID != 0x1234 {
		t.Errorf("header = %+v", decoded.Header)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Error("payload lost")
	}
}

func TestCodecLargePayload(t *testing.T) {
	codec := mustCodec(t, UnspecifiedNodeID)

	header := MessageHeader{SessionID: 0x1234, SessionType: SessionTypeUnicast, MessageCounter: 1}
	proto := ProtocolHeader{ProtocolID: ProtocolInteractionModel, ProtocolOpcode: 0x05, ExchangeID: 1}
	payload := bytes.Repeat([]byte{0xAB}, 1000)

	encoded, err := codec.Encode(&header, &proto, payload, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := codec.Decode(encoded, UnspecifiedNodeID)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Error("1000-byte payload corrupted in roundtrip")
	}
}
