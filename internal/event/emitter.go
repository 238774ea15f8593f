package event

import (
	"slices"
	"sync"
	"sync/atomic"
)

// SubscriptionState represents the state of a subscription.
type SubscriptionState int32

const (
	// SubscriptionStateActive means the subscription is receiving values.
	SubscriptionStateActive SubscriptionState = iota

	// SubscriptionStateCancelled means the subscription has been permanently cancelled.
	SubscriptionStateCancelled
)

// String returns a human-readable state name.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStateActive:
		return "active"
	case SubscriptionStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Subscription is a handle to a registered listener.
type Subscription struct {
	id     uint64
	state  atomic.Int32
	remove func(uint64)
}

// State returns the current subscription state.
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// IsActive returns true if the subscription can receive values.
func (s *Subscription) IsActive() bool {
	return s.State() == SubscriptionStateActive
}

// Cancel permanently cancels the subscription. It is idempotent and safe to
// call from inside a handler.
func (s *Subscription) Cancel() {
	if !s.state.CompareAndSwap(int32(SubscriptionStateActive), int32(SubscriptionStateCancelled)) {
		return
	}
	if s.remove != nil {
		s.remove(s.id)
	}
}

// Emitter delivers values of type T to subscribers in subscription order.
// The zero value is not usable; create with NewEmitter.
type Emitter[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*entry[T]
	closed bool
}

type entry[T any] struct {
	id      uint64
	handler func(T)
	sub     *Subscription
}

// NewEmitter creates an empty emitter.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// Subscribe registers handler and returns its subscription handle.
// A nil handler returns an already-cancelled handle. Subscribing to a
// closed emitter also returns a cancelled handle.
func (e *Emitter[T]) Subscribe(handler func(T)) *Subscription {
	sub := &Subscription{}
	if handler == nil {
		sub.state.Store(int32(SubscriptionStateCancelled))
		return sub
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		sub.state.Store(int32(SubscriptionStateCancelled))
		return sub
	}

	e.nextID++
	sub.id = e.nextID
	sub.remove = e.removeSub
	e.subs = append(e.subs, &entry[T]{id: sub.id, handler: handler, sub: sub})
	return sub
}

// Emit delivers v to every active subscriber, synchronously, in
// subscription order. Handlers registered or cancelled during delivery do
// not affect the current round: the subscriber set is snapshotted first,
// and cancelled entries are skipped at invoke time.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	snapshot := make([]*entry[T], len(e.subs))
	copy(snapshot, e.subs)
	e.mu.RUnlock()

	for _, ent := range snapshot {
		if ent.sub.IsActive() {
			ent.handler(v)
		}
	}
}

// Len returns the number of active subscriptions.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Close cancels every subscription and silences all further emits.
// It is idempotent.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	// Mark handles cancelled without re-entering the emitter lock.
	for _, ent := range subs {
		ent.sub.state.Store(int32(SubscriptionStateCancelled))
	}
}

// removeSub drops the entry with the given id, if still present.
func (e *Emitter[T]) removeSub(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, ent := range e.subs {
		if ent.id == id {
			e.subs = slices.Delete(e.subs, i, i+1)
			return
		}
	}
}
