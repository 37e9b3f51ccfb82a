package commissioning

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestWindow(t *testing.T, timeout time.Duration) *CommissioningWindow {
	t.Helper()
	w, err := NewCommissioningWindow(CommissioningWindowConfig{
		Timeout:    timeout,
		Iterations: 1000,
	})
	if err != nil {
		t.Fatalf("NewCommissioningWindow: %v", err)
	}
	return w
}

// openInBackground starts the window and waits for the advertising state.
func openInBackground(t *testing.T, w *CommissioningWindow, ctx context.Context) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Open(ctx) }()
	time.Sleep(10 * time.Millisecond)
	return errCh
}

func TestNewCommissioningWindow(t *testing.T) {
	w := newTestWindow(t, 30*time.Second)
	if w.State() != DeviceStateUncommissioned {
		t.Errorf("fresh window state = %v, want Uncommissioned", w.State())
	}
}

func TestWindowPASEFlow(t *testing.T) {
	w := newTestWindow(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	openInBackground(t, w, ctx)

	if w.State() != DeviceStateAdvertising {
		t.Fatalf("state after Open = %v, want Advertising", w.State())
	}

	if err := w.OnPASERequest(); err != nil {
		t.Fatalf("OnPASERequest: %v", err)
	}
	if w.State() != DeviceStatePASEPending {
		t.Errorf("state = %v, want PASEPending", w.State())
	}

	if err := w.OnPASEComplete(nil); err != nil {
		t.Fatalf("OnPASEComplete: %v", err)
	}
	if w.State() != DeviceStatePASEEstablished {
		t.Errorf("state = %v, want PASEEstablished", w.State())
	}
}

func TestWindowPASEFailureReverts(t *testing.T) {
	w := newTestWindow(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	openInBackground(t, w, ctx)

	w.OnPASERequest()
	w.OnPASEFailed()
	if w.State() != DeviceStateAdvertising {
		t.Errorf("state after failed PASE = %v, want Advertising", w.State())
	}
}

func TestWindowClose(t *testing.T) {
	w := newTestWindow(t, 5*time.Second)
	errCh := openInBackground(t, w, context.Background())

	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Open returned %v after clean Close", err)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Open did not return after Close")
	}
}

func TestWindowTimeout(t *testing.T) {
	w := newTestWindow(t, 50*time.Millisecond)
	if err := w.Open(context.Background()); err != ErrCommissioningTimeout {
		t.Errorf("Open = %v, want ErrCommissioningTimeout", err)
	}
}

func TestWindowDoubleOpen(t *testing.T) {
	w := newTestWindow(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	openInBackground(t, w, ctx)

	if err := w.Open(ctx); err != ErrWindowAlreadyOpen {
		t.Errorf("second Open = %v, want ErrWindowAlreadyOpen", err)
	}
}

func TestFailSafeTimerArmDisarm(t *testing.T) {
	var expired atomic.Bool
	timer := NewFailSafeTimer(func() { expired.Store(true) })

	if timer.IsArmed() {
		t.Error("timer armed before Arm")
	}
	timer.Arm(100 * time.Millisecond)
	if !timer.IsArmed() {
		t.Error("timer not armed after Arm")
	}
	if remaining := timer.RemainingTime(); remaining <= 0 || remaining > 100*time.Millisecond {
		t.Errorf("RemainingTime = %v, want (0, 100ms]", remaining)
	}

	timer.Disarm()
	if timer.IsArmed() {
		t.Error("timer armed after Disarm")
	}
	time.Sleep(150 * time.Millisecond)
	if expired.Load() {
		t.Error("callback fired after Disarm")
	}
	if timer.RemainingTime() != 0 || !timer.ExpiresAt().IsZero() {
		t.Error("disarmed timer still reports a deadline")
	}
}

func TestFailSafeTimerExpiry(t *testing.T) {
	var expired atomic.Bool
	timer := NewFailSafeTimer(func() { expired.Store(true) })

	timer.Arm(50 * time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	if !expired.Load() {
		t.Error("callback never fired")
	}
	if timer.IsArmed() {
		t.Error("timer still armed after expiry")
	}
}

func TestFailSafeTimerRearm(t *testing.T) {
	var expired atomic.Bool
	timer := NewFailSafeTimer(func() { expired.Store(true) })

	timer.Arm(50 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	timer.Arm(100 * time.Millisecond)

	// Past the original deadline, before the new one.
	time.Sleep(60 * time.Millisecond)
	if expired.Load() {
		t.Error("re-arm did not reset the countdown")
	}
	time.Sleep(60 * time.Millisecond)
	if !expired.Load() {
		t.Error("re-armed timer never expired")
	}
}

func TestWindowFailSafe(t *testing.T) {
	w := newTestWindow(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	openInBackground(t, w, ctx)

	w.OnPASERequest()
	w.OnPASEComplete(nil)

	w.ArmFailSafe(500 * time.Millisecond)
	if w.State() != DeviceStateCommissioning {
		t.Errorf("state after ArmFailSafe = %v, want Commissioning", w.State())
	}
	w.DisarmFailSafe()
}

// Fail-safe expiry closes the window with ErrFailSafeExpired.
func TestWindowFailSafeExpiry(t *testing.T) {
	w := newTestWindow(t, 5*time.Second)
	errCh := openInBackground(t, w, context.Background())

	w.OnPASERequest()
	w.OnPASEComplete(nil)
	w.ArmFailSafe(30 * time.Millisecond)

	select {
	case err := <-errCh:
		if err != ErrFailSafeExpired {
			t.Errorf("Open returned %v, want ErrFailSafeExpired", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("window never closed after fail-safe expiry")
	}
}
