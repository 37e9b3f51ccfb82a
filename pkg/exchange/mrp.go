package exchange

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/larkspur-iot/chip-core/pkg/transport"
)

// MRP constants from Matter spec 4.12.8, table 22. Session-level intervals
// (idle/active) live in session.Params; they come from DNS-SD TXT records
// or the session-establishment payloads.
const (
	// MRPMaxTransmissions bounds total send attempts for a reliable
	// message, the initial send included.
	MRPMaxTransmissions = 5

	// MRPBackoffBase is the exponent base once backoff goes exponential.
	MRPBackoffBase = 1.6

	// MRPBackoffJitter scales the random jitter term.
	MRPBackoffJitter = 0.25

	// MRPBackoffMargin inflates the peer's advertised interval to absorb
	// clock and processing slop.
	MRPBackoffMargin = 1.1

	// MRPBackoffThreshold is how many sends stay on linear backoff
	// before switching to exponential.
	MRPBackoffThreshold = 1

	// MRPStandaloneAckTimeout is how long we hold an owed ack hoping to
	// piggyback it before emitting a standalone ack.
	MRPStandaloneAckTimeout = 200 * time.Millisecond
)

// MaxConcurrentExchanges is the recommended cap on concurrent exchanges
// per unicast session (spec 4.10.5.2), protecting the counter window.
const MaxConcurrentExchanges = 5

// exchangeKey identifies an exchange in the manager's tables:
// {session, exchange id, our role}.
type exchangeKey struct {
	session  uint16
	exchange uint16
	role     Role
}

// mrpBackoff computes the wait before send attempt attempt+1:
//
//	t = margin*base_interval * MRP_BACKOFF_BASE^max(0, n-threshold) * (1 + rand*jitter)
//
// Linear for the first MRPBackoffThreshold sends (fast recovery from a
// stray drop), exponential after (convergence under congestion). rnd must
// return values in [0,1); pass nil for the default source.
func mrpBackoff(baseInterval time.Duration, attempt int, rnd func() float64) time.Duration {
	if rnd == nil {
		rnd = rand.Float64
	}
	exp := attempt - MRPBackoffThreshold
	if exp < 0 {
		exp = 0
	}
	t := float64(baseInterval) * MRPBackoffMargin
	t *= math.Pow(MRPBackoffBase, float64(exp))
	t *= 1.0 + rnd()*MRPBackoffJitter
	return time.Duration(t)
}

// ackEntry is one owed acknowledgement (spec 4.12.6.2): the inbound counter
// to ack, plus whether a standalone ack already went out for it. There is
// at most one per exchange.
type ackEntry struct {
	counter        uint32
	standaloneSent bool
	timer          *time.Timer
	onTimeout      func()
}

func (e *ackEntry) stop() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// ackTable holds the acks we owe, keyed by exchange.
type ackTable struct {
	mu      sync.Mutex
	entries map[exchangeKey]*ackEntry
}

func newAckTable() *ackTable {
	return &ackTable{entries: make(map[exchangeKey]*ackEntry)}
}

// add registers an owed ack and arms the standalone-ack timer. If an entry
// for the exchange existed and never had its standalone ack sent, it is
// returned so the caller can flush it immediately (spec 4.12.5.2.2).
func (t *ackTable) add(key exchangeKey, counter uint32, onTimeout func()) *ackEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var displaced *ackEntry
	if old, ok := t.entries[key]; ok {
		old.stop()
		if !old.standaloneSent {
			displaced = old
		}
	}

	e := &ackEntry{counter: counter, onTimeout: onTimeout}
	e.timer = time.AfterFunc(MRPStandaloneAckTimeout, func() {
		t.mu.Lock()
		cur, ok := t.entries[key]
		if ok && cur == e && !cur.standaloneSent {
			cur.standaloneSent = true
		}
		t.mu.Unlock()
		if e.onTimeout != nil {
			e.onTimeout()
		}
	})
	t.entries[key] = e
	return displaced
}

// markPiggybacked drops the entry after its ack rode along on an outbound
// message. Returns the acked counter, or 0 when nothing was owed.
func (t *ackTable) markPiggybacked(key exchangeKey) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return 0
	}
	e.stop()
	delete(t.entries, key)
	return e.counter
}

// markStandaloneSent records that a standalone ack went out. The entry
// stays until the exchange closes or a later message piggybacks it.
func (t *ackTable) markStandaloneSent(key exchangeKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.stop()
		e.standaloneSent = true
	}
}

func (t *ackTable) remove(key exchangeKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.stop()
		delete(t.entries, key)
	}
}

// owed reports whether an ack is due and no standalone ack has covered it.
func (t *ackTable) owed(key exchangeKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return ok && !e.standaloneSent
}

func (t *ackTable) pending(key exchangeKey) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return 0, false
	}
	return e.counter, true
}

func (t *ackTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *ackTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		e.stop()
		delete(t.entries, k)
	}
}

// retxEntry is one in-flight reliable message (spec 4.12.6.1): the fully
// encoded (and, for secure sessions, encrypted) buffer, ready to put back
// on the wire as-is.
type retxEntry struct {
	key       exchangeKey
	counter   uint32
	buf       []byte
	peer      transport.PeerAddress
	sendCount int // 1 after the initial transmission
	timer     *time.Timer
	onTimeout func()
}

func (e *retxEntry) stop() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// retxTable holds in-flight reliable messages, indexed both by message
// counter (for ack matching) and by exchange (for the one-in-flight rule).
type retxTable struct {
	mu         sync.Mutex
	byCounter  map[uint32]*retxEntry
	byExchange map[exchangeKey]*retxEntry
}

func newRetxTable() *retxTable {
	return &retxTable{
		byCounter:  make(map[uint32]*retxEntry),
		byExchange: make(map[exchangeKey]*retxEntry),
	}
}

// add tracks a freshly sent reliable message and arms its first timer.
// Fails with ErrPendingRetransmit if the exchange already has one in
// flight.
func (t *retxTable) add(key exchangeKey, counter uint32, buf []byte, peer transport.PeerAddress, baseInterval time.Duration, onTimeout func(*retxEntry)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byExchange[key]; ok {
		return ErrPendingRetransmit
	}

	e := &retxEntry{
		key:       key,
		counter:   counter,
		buf:       buf,
		peer:      peer,
		sendCount: 1,
	}
	e.onTimeout = func() {
		if onTimeout != nil {
			onTimeout(e)
		}
	}
	e.timer = time.AfterFunc(mrpBackoff(baseInterval, 0, nil), e.onTimeout)

	t.byCounter[counter] = e
	t.byExchange[key] = e
	return nil
}

// ack evicts the entry matching an inbound ack counter. Returns the entry,
// or nil if the ack matched nothing (duplicate acks land here).
func (t *retxTable) ack(counter uint32) *retxEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byCounter[counter]
	if !ok {
		return nil
	}
	e.stop()
	delete(t.byCounter, counter)
	delete(t.byExchange, e.key)
	return e
}

// reschedule bumps the send count and re-arms the timer for the next
// attempt. Returns false (and evicts) once MRPMaxTransmissions sends have
// already been made.
func (t *retxTable) reschedule(counter uint32, baseInterval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byCounter[counter]
	if !ok {
		return false
	}
	e.sendCount++
	if e.sendCount > MRPMaxTransmissions {
		e.stop()
		delete(t.byCounter, counter)
		delete(t.byExchange, e.key)
		return false
	}
	e.stop()
	e.timer = time.AfterFunc(mrpBackoff(baseInterval, e.sendCount-1, nil), e.onTimeout)
	return true
}

func (t *retxTable) byCounterLookup(counter uint32) (*retxEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byCounter[counter]
	return e, ok
}

func (t *retxTable) byExchangeLookup(key exchangeKey) (*retxEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byExchange[key]
	return e, ok
}

func (t *retxTable) hasPending(key exchangeKey) bool {
	_, ok := t.byExchangeLookup(key)
	return ok
}

func (t *retxTable) remove(key exchangeKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byExchange[key]
	if !ok {
		return
	}
	e.stop()
	delete(t.byCounter, e.counter)
	delete(t.byExchange, key)
}

func (t *retxTable) removeByCounter(counter uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byCounter[counter]
	if !ok {
		return
	}
	e.stop()
	delete(t.byCounter, counter)
	delete(t.byExchange, e.key)
}

func (t *retxTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byCounter)
}

func (t *retxTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c, e := range t.byCounter {
		e.stop()
		delete(t.byCounter, c)
	}
	t.byExchange = make(map[exchangeKey]*retxEntry)
}

// forEach visits every in-flight entry. fn must not call back into the
// table.
func (t *retxTable) forEach(fn func(*retxEntry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.byCounter {
		fn(e)
	}
}
