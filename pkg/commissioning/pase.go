package commissioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/exchange"
	"github.com/larkspur-iot/chip-core/pkg/message"
	"github.com/larkspur-iot/chip-core/pkg/securechannel"
	"github.com/larkspur-iot/chip-core/pkg/session"
	"github.com/larkspur-iot/chip-core/pkg/transport"
	"github.com/pion/logging"
)

var (
	ErrPASETimeout       = errors.New("pase: handshake timeout")
	ErrPASEProtocol      = errors.New("pase: protocol error")
	ErrPASEUnexpectedMsg = errors.New("pase: unexpected message")
	ErrPASECanceled      = errors.New("pase: handshake canceled")
)

// PASEClient drives the initiator side of a PASE handshake over a real
// exchange: it shuttles each securechannel.Manager output onto the wire
// and waits for the peer's next leg, until the closing status report
// installs the secure session.
type PASEClient struct {
	exchangeManager *exchange.Manager
	secureChannel   *securechannel.Manager
	sessionManager  *session.Manager
	timeout         time.Duration
	log             logging.LeveledLogger
}

// PASEClientConfig wires the client to the node's managers.
type PASEClientConfig struct {
	ExchangeManager *exchange.Manager
	SecureChannel   *securechannel.Manager
	SessionManager  *session.Manager

	// Timeout applies when the caller's context has no deadline;
	// defaults to DefaultPASETimeout.
	Timeout time.Duration

	// LoggerFactory may be nil to disable logging.
	LoggerFactory logging.LoggerFactory
}

// NewPASEClient creates a PASE client.
func NewPASEClient(config PASEClientConfig) *PASEClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultPASETimeout
	}

	c := &PASEClient{
		exchangeManager: config.ExchangeManager,
		secureChannel:   config.SecureChannel,
		sessionManager:  config.SessionManager,
		timeout:         timeout,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("pase")
	}
	return c
}

// Establish runs the four-leg handshake against peerAddr with the given
// passcode and returns the installed secure session.
func (c *PASEClient) Establish(ctx context.Context, peerAddr transport.PeerAddress, passcode uint32) (*session.SecureContext, error) {
	if c.log != nil {
		c.log.Infof("starting PASE with %s", peerAddr.Addr)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Handshake traffic rides an unsecured (session id 0) context.
	unsecured, err := session.NewUnsecuredContext(session.SessionRoleInitiator)
	if err != nil {
		return nil, err
	}

	relay := newPASERelay(c.secureChannel)

	exch, err := c.exchangeManager.NewExchange(
		unsecured,
		0,
		peerAddr,
		message.ProtocolSecureChannel,
		relay,
	)
	if err != nil {
		return nil, err
	}
	defer exch.Close()

	req, err := c.secureChannel.StartPASE(exch.ID, passcode)
	if err != nil {
		return nil, err
	}
	if err := exch.SendMessage(uint8(securechannel.OpcodePBKDFParamRequest), req, true); err != nil {
		return nil, err
	}

	// Each wait yields the next leg to transmit; the final wait returns
	// nil once the status report closed the handshake.
	for leg := 2; ; leg++ {
		next, err := relay.wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("pase leg %d: %w", leg, err)
		}
		if next == nil {
			break
		}
		if err := exch.SendMessage(uint8(next.Opcode), next.Payload, true); err != nil {
			return nil, fmt.Errorf("pase leg %d send: %w", leg, err)
		}
	}

	// The secure channel manager installed the session while routing the
	// status report; fish it out of the table.
	var secureCtx *session.SecureContext
	c.sessionManager.ForEachSecureSession(func(sess *session.SecureContext) bool {
		if sess.SessionType() == session.SessionTypePASE {
			secureCtx = sess
			return false
		}
		return true
	})
	if secureCtx == nil {
		return nil, ErrPASEProtocol
	}
	return secureCtx, nil
}

// paseRelay is the exchange delegate that feeds inbound legs through the
// secure channel manager and hands the produced responses back to
// Establish.
type paseRelay struct {
	secureChannel *securechannel.Manager
	results       chan paseStep

	mu   sync.Mutex
	done bool
}

type paseStep struct {
	next *securechannel.Message // nil once the handshake completed
	err  error
}

func newPASERelay(secureChannel *securechannel.Manager) *paseRelay {
	return &paseRelay{
		secureChannel: secureChannel,
		results:       make(chan paseStep, 1),
	}
}

// OnMessage implements exchange.Delegate.
func (r *paseRelay) OnMessage(ex *exchange.Exchange, header *message.ProtocolHeader, payload []byte) ([]byte, error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return nil, nil
	}
	r.mu.Unlock()

	opcode := securechannel.Opcode(header.ProtocolOpcode)

	// MRP acks and counter-sync traffic never advance the handshake.
	switch opcode {
	case securechannel.OpcodeStandaloneAck,
		securechannel.OpcodeMsgCounterSyncReq,
		securechannel.OpcodeMsgCounterSyncResp:
		return nil, nil
	}

	next, err := r.secureChannel.Route(ex.ID, &securechannel.Message{Opcode: opcode, Payload: payload})
	if err != nil {
		r.deliver(paseStep{err: err})
		return nil, err
	}

	if opcode == securechannel.OpcodeStatusReport {
		status, err := securechannel.DecodeStatusReport(payload)
		if err != nil {
			r.deliver(paseStep{err: err})
			return nil, err
		}
		if !status.IsSuccess() {
			r.deliver(paseStep{err: ErrPASEProtocol})
			return nil, ErrPASEProtocol
		}

		r.mu.Lock()
		r.done = true
		r.mu.Unlock()
		r.deliver(paseStep{}) // handshake complete
		return nil, nil
	}

	r.deliver(paseStep{next: next})
	return nil, nil
}

// OnClose implements exchange.Delegate.
func (r *paseRelay) OnClose(ex *exchange.Exchange) {
	r.deliver(paseStep{err: ErrPASECanceled})
}

func (r *paseRelay) deliver(step paseStep) {
	select {
	case r.results <- step:
	default:
	}
}

func (r *paseRelay) wait(ctx context.Context) (*securechannel.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ErrPASETimeout
	case step := <-r.results:
		return step.next, step.err
	}
}
