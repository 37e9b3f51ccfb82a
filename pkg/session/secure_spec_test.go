package session

import (
	"bytes"
	"testing"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/larkspur-iot/chip-core/pkg/message"
)

// PASE encryption vector "secure pase message (short payload)" from the
// SDK's TestSessionManagerDispatch.cpp. I2R and R2I are the same key in
// this vector; the counter is pinned to 12345.
var sdkPaseVector = struct {
	sessionID uint16
	key       []byte
	counter   uint32
	payload   []byte
	encrypted []byte
}{
	sessionID: 0x0bb8,
	key: []byte{
		0x5e, 0xde, 0xd2, 0x44, 0xe5, 0x53, 0x2b, 0x3c,
		0xdc, 0x23, 0x40, 0x9d, 0xba, 0xd0, 0x52, 0xd2,
	},
	counter: 0x00003039,
	payload: []byte{0x11, 0x22, 0x33, 0x44, 0x55},
	// 8-byte header in the clear, 11 encrypted bytes (protocol header +
	// payload), 16-byte MIC.
	encrypted: []byte{
		0x00, 0xb8, 0x0b, 0x00, 0x39, 0x30, 0x00, 0x00,
		0x5a, 0x98, 0x9a, 0xe4, 0x2e, 0x8d, 0x0f, 0x7f, 0x88, 0x5d, 0xfb,
		0x2f, 0xaa, 0x89, 0x49, 0xcf, 0x73, 0x0a, 0x57, 0x28, 0xe0, 0x35, 0x46, 0x10, 0xa0, 0xc4, 0xa7,
	},
}

func sdkVectorContext(t *testing.T, role SessionRole) *SecureContext {
	t.Helper()
	tv := sdkPaseVector
	return mustSecureContext(t, SecureContextConfig{
		SessionType:    SessionTypePASE,
		Role:           role,
		LocalSessionID: tv.sessionID,
		PeerSessionID:  tv.sessionID,
		I2RKey:         tv.key,
		R2IKey:         tv.key,
		PeerNodeID:     fabric.NodeID(0),
		LocalNodeID:    fabric.NodeID(0),
	})
}

func TestDecryptSDKVector(t *testing.T) {
	tv := sdkPaseVector
	ctx := sdkVectorContext(t, SessionRoleResponder)

	frame, err := ctx.Decrypt(tv.encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if frame.Header.SessionID != tv.sessionID {
		t.Errorf("SessionID = 0x%04x, want 0x%04x", frame.Header.SessionID, tv.sessionID)
	}
	if frame.Header.MessageCounter != tv.counter {
		t.Errorf("MessageCounter = %d, want %d", frame.Header.MessageCounter, tv.counter)
	}
	if !bytes.Equal(frame.Payload, tv.payload) {
		t.Errorf("payload:\ngot  %x\nwant %x", frame.Payload, tv.payload)
	}
}

func TestEncryptSDKVector(t *testing.T) {
	tv := sdkPaseVector
	ctx := sdkVectorContext(t, SessionRoleInitiator)

	// Pin the local counter to the vector's value.
	ctx.mu.Lock()
	ctx.localCounter = message.NewSessionCounterWithValue(tv.counter)
	ctx.mu.Unlock()

	// Protocol header bytes from the vector's plaintext:
	// 0x05 (I|R), opcode 0x64, exchange 0x0eee, protocol 0x7d20.
	proto := &message.ProtocolHeader{
		Initiator:      true,
		Reliability:    true,
		ProtocolOpcode: 0x64,
		ExchangeID:     0x0eee,
		ProtocolID:     message.ProtocolID(0x7d20),
	}
	header := &message.MessageHeader{SessionType: message.SessionTypeUnicast}

	encrypted, err := ctx.Encrypt(header, proto, tv.payload, false)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !bytes.Equal(encrypted, tv.encrypted) {
		t.Errorf("frame:\ngot  %x\nwant %x", encrypted, tv.encrypted)
	}
}

func TestSDKKeyRoundtrip(t *testing.T) {
	tv := sdkPaseVector

	mk := func(role SessionRole, localID, peerID uint16) *SecureContext {
		return mustSecureContext(t, SecureContextConfig{
			SessionType:    SessionTypePASE,
			Role:           role,
			LocalSessionID: localID,
			PeerSessionID:  peerID,
			I2RKey:         tv.key,
			R2IKey:         tv.key,
		})
	}
	initiator := mk(SessionRoleInitiator, 1000, 2000)
	responder := mk(SessionRoleResponder, 2000, 1000)

	// Initiator -> responder.
	encrypted, err := initiator.Encrypt(
		&message.MessageHeader{SessionType: message.SessionTypeUnicast},
		&message.ProtocolHeader{
			Initiator:      true,
			Reliability:    true,
			ProtocolOpcode: 0x20,
			ExchangeID:     0x0001,
			ProtocolID:     message.ProtocolSecureChannel,
		},
		tv.payload, false)
	if err != nil {
		t.Fatalf("initiator.Encrypt: %v", err)
	}
	frame, err := responder.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("responder.Decrypt: %v", err)
	}
	if !bytes.Equal(frame.Payload, tv.payload) {
		t.Errorf("forward payload:\ngot  %x\nwant %x", frame.Payload, tv.payload)
	}

	// Responder -> initiator.
	responsePayload := []byte{0xaa, 0xbb, 0xcc}
	encrypted, err = responder.Encrypt(
		&message.MessageHeader{SessionType: message.SessionTypeUnicast},
		&message.ProtocolHeader{
			Acknowledgement: true,
			ProtocolOpcode:  0x21,
			ExchangeID:      0x0001,
			ProtocolID:      message.ProtocolSecureChannel,
		},
		responsePayload, false)
	if err != nil {
		t.Fatalf("responder.Encrypt: %v", err)
	}
	frame, err = initiator.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("initiator.Decrypt: %v", err)
	}
	if !bytes.Equal(frame.Payload, responsePayload) {
		t.Errorf("reverse payload:\ngot  %x\nwant %x", frame.Payload, responsePayload)
	}
}

// SDK vector "short payload / wrong MIC".
func TestDecryptRejectsWrongMIC(t *testing.T) {
	ctx := sdkVectorContext(t, SessionRoleResponder)

	bad := append([]byte(nil), sdkPaseVector.encrypted...)
	bad[len(bad)-1] ^= 0xFF

	if _, err := ctx.Decrypt(bad); err == nil {
		t.Error("corrupted MIC accepted")
	}
}

// CASE sessions nonce with the operational node ids instead of 0.
func TestCASENodeIDNonce(t *testing.T) {
	localNodeID := fabric.NodeID(0x0102030405060708)
	peerNodeID := fabric.NodeID(0x1112131415161718)

	initiator := mustSecureContext(t, SecureContextConfig{
		SessionType:    SessionTypeCASE,
		Role:           SessionRoleInitiator,
		LocalSessionID: 1000,
		PeerSessionID:  2000,
		I2RKey:         testI2RKey,
		R2IKey:         testR2IKey,
		FabricIndex:    1,
		PeerNodeID:     peerNodeID,
		LocalNodeID:    localNodeID,
	})
	responder := mustSecureContext(t, SecureContextConfig{
		SessionType:    SessionTypeCASE,
		Role:           SessionRoleResponder,
		LocalSessionID: 2000,
		PeerSessionID:  1000,
		I2RKey:         testI2RKey,
		R2IKey:         testR2IKey,
		FabricIndex:    1,
		PeerNodeID:     localNodeID,
		LocalNodeID:    peerNodeID,
	})

	payload := []byte("Hello CASE Session!")
	encrypted, err := initiator.Encrypt(
		&message.MessageHeader{SessionType: message.SessionTypeUnicast},
		&message.ProtocolHeader{
			Initiator:      true,
			Reliability:    true,
			ProtocolOpcode: 0x01,
			ExchangeID:     0x1234,
			ProtocolID:     message.ProtocolInteractionModel,
		},
		payload, false)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	frame, err := responder.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload:\ngot  %x\nwant %x", frame.Payload, payload)
	}
}
