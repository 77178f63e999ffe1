package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// ErrRelayUnavailable reports that an alert could not be handed to the
// relay. Callers treat it as advisory.
var ErrRelayUnavailable = errors.New("alert relay unavailable")

// DefaultBufferSize is the per-subscriber alert buffer. A subscriber that
// falls this far behind starts losing alerts.
const DefaultBufferSize = 64

// Subscriber is one connected monitor. The owner reads alerts from C until
// Done is closed, then stops.
type Subscriber struct {
	ExamID string
	C      <-chan types.Alert

	ch      chan types.Alert
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Done is closed when the subscriber has been removed from the relay.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Dropped reports how many alerts were discarded because C was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) shutdown() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// Relay is the subscription registry: exam id to the set of currently
// connected monitors. Nothing is persisted and nothing is replayed.
type Relay struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	buffer int
	closed bool
}

func New(buffer int) *Relay {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Relay{
		subs:   make(map[string]map[*Subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a monitor for future alerts on examID. Subscribing to
// a closed relay yields a subscriber that is already done.
func (r *Relay) Subscribe(examID string) *Subscriber {
	ch := make(chan types.Alert, r.buffer)
	sub := &Subscriber{ExamID: examID, C: ch, ch: ch, done: make(chan struct{})}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		sub.shutdown()
		return sub
	}
	set, ok := r.subs[examID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		r.subs[examID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channels. Alerts still buffered in
// C are discarded by the owner. Safe to call more than once.
func (r *Relay) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	if set, ok := r.subs[sub.ExamID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.subs, sub.ExamID)
		}
	}
	r.mu.Unlock()

	sub.shutdown()
}

// Publish delivers a to every subscriber of examID registered at the moment
// of the call and returns how many accepted it. Delivery never blocks: a
// full subscriber loses the alert.
func (r *Relay) Publish(examID string, a types.Alert) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for sub := range r.subs[examID] {
		if trySend(sub, a) {
			delivered++
		}
	}
	return delivered
}

// trySend is only called with r.mu held, so sub.ch cannot be closed under it.
func trySend(sub *Subscriber, a types.Alert) bool {
	select {
	case <-sub.done:
		return false
	default:
	}

	select {
	case sub.ch <- a:
		return true
	default:
		sub.dropped.Add(1)
		return false
	}
}

func (r *Relay) SubscriberCount(examID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[examID])
}

// Close tears down every subscriber. Later publishes reach no one.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := r.subs
	r.subs = make(map[string]map[*Subscriber]struct{})
	r.mu.Unlock()

	for _, set := range all {
		for sub := range set {
			sub.shutdown()
		}
	}
}

// Notify adapts the relay to the ledger's notifier contract.
func (r *Relay) Notify(_ context.Context, examID string, a types.Alert) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRelayUnavailable
	}
	r.Publish(examID, a)
	return nil
}
