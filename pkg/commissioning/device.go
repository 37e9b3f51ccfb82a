// Package commissioning implements the device-side commissioning window
// and the commissioner-side PASE client that together bootstrap the first
// secure session with a node.
package commissioning

import (
	"context"
	"sync"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/discovery"
	"github.com/larkspur-iot/chip-core/pkg/securechannel/pase"
	"github.com/larkspur-iot/chip-core/pkg/session"
)

// CommissioningWindowConfig configures one commissioning window.
type CommissioningWindowConfig struct {
	// Timeout closes the window automatically; defaults to 3 minutes.
	Timeout time.Duration

	// DNS-SD advertisement fields.
	Discriminator uint16
	VendorID      uint16
	ProductID     uint16
	DeviceName    string // optional, max 32 chars

	// PASE responder material. Verifier may also be installed later via
	// SetVerifier, but must be present before the first request arrives.
	Verifier   *pase.Verifier
	Salt       []byte // 16-32 bytes
	Iterations uint32 // defaults to 1000

	// Advertiser publishes _matterc._udp; nil means the caller wires one
	// up separately.
	Advertiser *discovery.Advertiser

	OnStateChanged          func(state DeviceCommissioningState)
	OnPASEEstablished       func(sess *session.SecureContext)
	OnCommissioningComplete func()
	OnWindowClosed          func(reason error)
}

// CommissioningWindow is the device-side state machine for one window: a
// bounded period during which the node advertises and answers PASE.
type CommissioningWindow struct {
	config   CommissioningWindowConfig
	state    DeviceCommissioningState
	failSafe *FailSafeTimer

	mu        sync.RWMutex
	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewCommissioningWindow builds a window; it does not start advertising
// until Open.
func NewCommissioningWindow(config CommissioningWindowConfig) (*CommissioningWindow, error) {
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Minute
	}
	if config.Iterations == 0 {
		config.Iterations = 1000
	}

	w := &CommissioningWindow{
		config:  config,
		state:   DeviceStateUncommissioned,
		closeCh: make(chan struct{}),
	}
	w.failSafe = NewFailSafeTimer(func() {
		w.closeWithError(ErrFailSafeExpired)
	})
	return w, nil
}

// Open starts the window and blocks until it closes: by timeout, by
// context cancellation, or by Close.
func (w *CommissioningWindow) Open(ctx context.Context) error {
	w.mu.Lock()
	if w.state == DeviceStateAdvertising {
		w.mu.Unlock()
		return ErrWindowAlreadyOpen
	}
	w.setState(DeviceStateAdvertising)
	w.mu.Unlock()

	timer := time.NewTimer(w.config.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		w.closeWithError(ctx.Err())
		return ctx.Err()
	case <-timer.C:
		w.closeWithError(ErrCommissioningTimeout)
		return ErrCommissioningTimeout
	case <-w.closeCh:
		return w.closeErr
	}
}

// Close ends the window normally.
func (w *CommissioningWindow) Close() error {
	w.closeWithError(nil)
	return nil
}

func (w *CommissioningWindow) closeWithError(err error) {
	w.closeOnce.Do(func() {
		w.closeErr = err
		close(w.closeCh)

		w.mu.Lock()
		w.failSafe.Disarm()
		w.setState(DeviceStateUncommissioned)
		w.mu.Unlock()

		if w.config.OnWindowClosed != nil {
			w.config.OnWindowClosed(err)
		}
	})
}

// State returns the window's current state.
func (w *CommissioningWindow) State() DeviceCommissioningState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// setState updates state and fires the callback. Caller holds w.mu.
func (w *CommissioningWindow) setState(state DeviceCommissioningState) {
	w.state = state
	if w.config.OnStateChanged != nil {
		w.config.OnStateChanged(state)
	}
}

// Verifier returns the PASE verifier in effect.
func (w *CommissioningWindow) Verifier() *pase.Verifier {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config.Verifier
}

// SetVerifier installs the verifier; must happen before Open when the
// config carried none.
func (w *CommissioningWindow) SetVerifier(v *pase.Verifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config.Verifier = v
}

// Salt returns the PBKDF salt.
func (w *CommissioningWindow) Salt() []byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config.Salt
}

// Iterations returns the PBKDF iteration count.
func (w *CommissioningWindow) Iterations() uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config.Iterations
}

// OnPASERequest records an incoming handshake attempt; refused once the
// window left the advertising state.
func (w *CommissioningWindow) OnPASERequest() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != DeviceStateAdvertising {
		return ErrWindowClosed
	}
	w.setState(DeviceStatePASEPending)
	return nil
}

// OnPASEComplete records a finished handshake and hands the session to
// the callback.
func (w *CommissioningWindow) OnPASEComplete(sess *session.SecureContext) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != DeviceStatePASEPending {
		return ErrWindowClosed
	}
	w.setState(DeviceStatePASEEstablished)

	if w.config.OnPASEEstablished != nil {
		w.config.OnPASEEstablished(sess)
	}
	return nil
}

// OnPASEFailed returns a failed handshake to the advertising state.
func (w *CommissioningWindow) OnPASEFailed() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == DeviceStatePASEPending {
		w.setState(DeviceStateAdvertising)
	}
}

// ArmFailSafe starts (or restarts) the fail-safe, marking the window as
// actively commissioning.
func (w *CommissioningWindow) ArmFailSafe(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.setState(DeviceStateCommissioning)
	w.failSafe.Arm(timeout)
}

// DisarmFailSafe cancels the fail-safe after successful commissioning.
func (w *CommissioningWindow) DisarmFailSafe() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failSafe.Disarm()
}

// OnCommissioningComplete finalizes the flow.
func (w *CommissioningWindow) OnCommissioningComplete() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.failSafe.Disarm()
	w.setState(DeviceStateCommissioned)

	if w.config.OnCommissioningComplete != nil {
		w.config.OnCommissioningComplete()
	}
	return nil
}

// FailSafeTimer reverts a device to its pre-commissioning state when
// commissioning stalls: the commissioner arms it, completes the flow, and
// disarms it; expiry means roll back (spec 11.10.7.2).
type FailSafeTimer struct {
	mu        sync.Mutex
	timeout   time.Duration
	expiresAt time.Time
	armed     bool
	onExpire  func()
	timer     *time.Timer
}

// NewFailSafeTimer builds a disarmed timer.
func NewFailSafeTimer(onExpire func()) *FailSafeTimer {
	return &FailSafeTimer{onExpire: onExpire}
}

// Arm starts the countdown, resetting any previous one.
func (f *FailSafeTimer) Arm(timeout time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timeout = timeout
	f.expiresAt = time.Now().Add(timeout)
	f.armed = true

	f.timer = time.AfterFunc(timeout, func() {
		f.mu.Lock()
		wasArmed := f.armed
		f.armed = false
		f.mu.Unlock()

		if wasArmed && f.onExpire != nil {
			f.onExpire()
		}
	})
}

// Disarm cancels the countdown.
func (f *FailSafeTimer) Disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.armed = false
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// IsArmed reports whether the countdown is running.
func (f *FailSafeTimer) IsArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

// RemainingTime returns time left before expiry, 0 when disarmed.
func (f *FailSafeTimer) RemainingTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.armed {
		return 0
	}
	if remaining := time.Until(f.expiresAt); remaining > 0 {
		return remaining
	}
	return 0
}

// ExpiresAt returns the deadline, zero when disarmed.
func (f *FailSafeTimer) ExpiresAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.armed {
		return time.Time{}
	}
	return f.expiresAt
}
