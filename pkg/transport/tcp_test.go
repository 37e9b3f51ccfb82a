package transport

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func newLoopbackTCP(t *testing.T, handler MessageHandler) *TCP {
	t.Helper()
	if handler == nil {
		handler = func(*ReceivedMessage) {}
	}
	tcp, err := NewTCP(TCPConfig{ListenAddr: "127.0.0.1:0", MessageHandler: handler})
	if err != nil {
		t.Fatalf("NewTCP: %v", err)
	}
	return tcp
}

func TestNewTCP(t *testing.T) {
	tcp := newLoopbackTCP(t, nil)
	defer tcp.Stop()
	if tcp.listener == nil {
		t.Error("no listener bound")
	}

	if _, err := NewTCP(TCPConfig{ListenAddr: "127.0.0.1:0"}); err != ErrNoHandler {
		t.Errorf("NewTCP without handler = %v, want ErrNoHandler", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	injected, err := NewTCP(TCPConfig{Listener: listener, MessageHandler: func(*ReceivedMessage) {}})
	if err != nil {
		t.Fatalf("NewTCP with listener: %v", err)
	}
	defer injected.Stop()
	if injected.listener != listener {
		t.Error("injected listener replaced")
	}
}

func TestTCPStartStop(t *testing.T) {
	tcp := newLoopbackTCP(t, nil)

	if err := tcp.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tcp.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := tcp.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := tcp.Stop(); err != ErrClosed {
		t.Errorf("second Stop = %v, want ErrClosed", err)
	}
}

// Feed a length-prefixed frame through an injected net.Pipe connection.
func TestTCPFraming(t *testing.T) {
	received := make(chan *ReceivedMessage, 1)

	tcp := newLoopbackTCP(t, func(msg *ReceivedMessage) { received <- msg })
	if err := tcp.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tcp.Stop()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	tcp.AddConnection(serverConn)

	payload := []byte{0x00, 0x01, 0x02, 0x03, 0x04}
	prefix := []byte{byte(len(payload)), 0, 0, 0}
	if _, err := clientConn.Write(prefix); err != nil {
		t.Fatalf("write prefix: %v", err)
	}
	if _, err := clientConn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	select {
	case msg := <-received:
		if !bytes.Equal(msg.Data, payload) {
			t.Errorf("received %x, want %x", msg.Data, payload)
		}
		if msg.PeerAddr.TransportType != TransportTypeTCP {
			t.Errorf("transport type = %v, want TCP", msg.PeerAddr.TransportType)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never arrived")
	}
}

func TestTCPRoundtrip(t *testing.T) {
	atServer := make(chan *ReceivedMessage, 1)

	server := newLoopbackTCP(t, func(msg *ReceivedMessage) { atServer <- msg })
	if err := server.Start(); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	defer server.Stop()

	client := newLoopbackTCP(t, nil)
	if err := client.Start(); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Stop()

	payload := []byte("hello from client")
	if err := client.SendRaw(payload, server.LocalAddr()); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}

	select {
	case msg := <-atServer:
		if !bytes.Equal(msg.Data, payload) {
			t.Errorf("server received %q, want %q", msg.Data, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived at server")
	}
}

func TestTCPLocalAddr(t *testing.T) {
	tcp := newLoopbackTCP(t, nil)
	defer tcp.Stop()

	tcpAddr, ok := tcp.LocalAddr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("LocalAddr type = %T, want *net.TCPAddr", tcp.LocalAddr())
	}
	if tcpAddr.Port == 0 {
		t.Error("ephemeral port not assigned")
	}
}

func TestTCPSendErrors(t *testing.T) {
	tcp := newLoopbackTCP(t, nil)
	defer tcp.Stop()
	if err := tcp.SendRaw([]byte{0x01}, nil); err != ErrInvalidAddress {
		t.Errorf("nil address: %v, want ErrInvalidAddress", err)
	}

	closed := newLoopbackTCP(t, nil)
	closed.Stop()
	addr, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:5540")
	if err := closed.SendRaw([]byte{0x01}, addr); err != ErrClosed {
		t.Errorf("send after Stop: %v, want ErrClosed", err)
	}
}
