package securechannel

import (
	"testing"

	"github.com/larkspur-iot/chip-core/pkg/fabric"
	"github.com/larkspur-iot/chip-core/pkg/session"
)

func addTestSecureContext(t *testing.T, mgr *session.Manager, cfg session.SecureContextConfig) {
	t.Helper()
	if cfg.I2RKey == nil {
		cfg.I2RKey = make([]byte, 16)
	}
	if cfg.R2IKey == nil {
		cfg.R2IKey = make([]byte, 16)
	}
	ctx, err := session.NewSecureContext(cfg)
	if err != nil {
		t.Fatalf("NewSecureContext: %v", err)
	}
	if err := mgr.AddSecureContext(ctx); err != nil {
		t.Fatalf("AddSecureContext: %v", err)
	}
}

func TestCloseSessionRemovesSession(t *testing.T) {
	sessions := session.NewManager(session.ManagerConfig{})
	addTestSecureContext(t, sessions, session.SecureContextConfig{
		SessionType:    session.SessionTypePASE,
		Role:           session.SessionRoleInitiator,
		LocalSessionID: 1,
		PeerSessionID:  2,
	})

	var closed uint16
	handler := NewUnsolicitedHandler(sessions, Callbacks{
		OnSessionClosed: func(id uint16) { closed = id },
	})

	if !handler.HandleStatusReport(1, CloseSession()) {
		t.Fatal("CloseSession not handled")
	}
	if closed != 1 {
		t.Errorf("OnSessionClosed got %d, want 1", closed)
	}
	if sessions.FindSecureContext(1) != nil {
		t.Error("session survived CloseSession")
	}
}

// CloseSession works the same for a CASE session carrying fabric info.
func TestCloseSessionCASE(t *testing.T) {
	sessions := session.NewManager(session.ManagerConfig{})
	addTestSecureContext(t, sessions, session.SecureContextConfig{
		SessionType:    session.SessionTypeCASE,
		Role:           session.SessionRoleInitiator,
		LocalSessionID: 42,
		PeerSessionID:  43,
		FabricIndex:    1,
		PeerNodeID:     fabric.NodeID(12345),
		LocalNodeID:    fabric.NodeID(67890),
	})

	var closed uint16
	handler := NewUnsolicitedHandler(sessions, Callbacks{
		OnSessionClosed: func(id uint16) { closed = id },
	})

	if !handler.HandleStatusReport(42, CloseSession()) {
		t.Fatal("CloseSession not handled")
	}
	if closed != 42 {
		t.Errorf("OnSessionClosed got %d, want 42", closed)
	}
	if sessions.FindSecureContext(42) != nil {
		t.Error("CASE session survived CloseSession")
	}
}

// CloseSession for an unknown session is claimed silently: handled, no
// callback.
func TestCloseSessionUnknownSession(t *testing.T) {
	sessions := session.NewManager(session.ManagerConfig{})

	callbackFired := false
	handler := NewUnsolicitedHandler(sessions, Callbacks{
		OnSessionClosed: func(uint16) { callbackFired = true },
	})

	if !handler.HandleStatusReport(999, CloseSession()) {
		t.Error("CloseSession for unknown session should still be claimed")
	}
	if callbackFired {
		t.Error("no callback expected when the session does not exist")
	}
}

func TestBusySurfacesWaitTime(t *testing.T) {
	var wait uint16
	handler := NewUnsolicitedHandler(session.NewManager(session.ManagerConfig{}), Callbacks{
		OnResponderBusy: func(ms uint16) { wait = ms },
	})

	if !handler.HandleStatusReport(1, Busy(1000)) {
		t.Fatal("Busy not handled")
	}
	if wait != 1000 {
		t.Errorf("OnResponderBusy got %d, want 1000", wait)
	}
}

// Reports for other protocols pass through untouched.
func TestForeignProtocolStatusIgnored(t *testing.T) {
	handler := NewUnsolicitedHandler(session.NewManager(session.ManagerConfig{}), Callbacks{})

	imStatus := NewStatusReport(GeneralCodeSuccess, 0x00010000, 0x0001)
	if handler.HandleStatusReport(1, imStatus) {
		t.Error("interaction-model status claimed by secure channel handler")
	}
}

func TestCloseAndBusyPredicates(t *testing.T) {
	if !IsCloseSession(CloseSession()) {
		t.Error("IsCloseSession(CloseSession()) = false")
	}
	for _, s := range []*StatusReport{Success(), Busy(500), InvalidParam()} {
		if IsCloseSession(s) {
			t.Errorf("IsCloseSession(%v) = true", s)
		}
	}

	if !IsBusyStatus(Busy(500)) {
		t.Error("IsBusyStatus(Busy()) = false")
	}
	for _, s := range []*StatusReport{Success(), CloseSession()} {
		if IsBusyStatus(s) {
			t.Errorf("IsBusyStatus(%v) = true", s)
		}
	}
}

func TestSendHelpers(t *testing.T) {
	status, err := DecodeStatusReport(SendCloseSession())
	if err != nil {
		t.Fatalf("decode SendCloseSession: %v", err)
	}
	if !IsCloseSession(status) {
		t.Error("SendCloseSession bytes do not decode to CloseSession")
	}

	status, err = DecodeStatusReport(SendBusy(1234))
	if err != nil {
		t.Fatalf("decode SendBusy: %v", err)
	}
	if !IsBusyStatus(status) || status.BusyWaitTime() != 1234 {
		t.Errorf("SendBusy decoded to %v (wait %d), want busy/1234", status, status.BusyWaitTime())
	}
}
