// Package broadcast implements a bounded, multi-subscriber fan-out channel.
//
// A Hub has one logical "topic": publishers call Publish, subscribers call
// Subscribe and drain the returned channel. Slow subscribers do not block
// publishers; once a subscriber's buffer is full, the oldest buffered value
// is dropped to make room and the subscriber's lag counter is incremented.
package broadcast

import "sync"

// Hub fans values of type T out to any number of subscribers.
type Hub[T any] struct {
	mu       sync.Mutex
	capacity int
	subs     map[*subscription[T]]struct{}
	closed   bool
}

type subscription[T any] struct {
	ch  chan T
	mu  sync.Mutex
	lag uint64
}

// New creates a Hub whose per-subscriber buffer holds up to capacity entries.
func New[T any](capacity int) *Hub[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Hub[T]{
		capacity: capacity,
		subs:     make(map[*subscription[T]]struct{}),
	}
}

// Subscription is a handle returned by Subscribe. C returns the channel of
// published values; Lag reports how many values have been dropped due to a
// full buffer since the last call to Lag; Unsubscribe detaches and closes
// the channel returned by C.
type Subscription[T any] struct {
	hub *Hub[T]
	sub *subscription[T]
}

// C returns the channel to receive published values from. It is closed when
// the Hub is closed or the subscription is removed.
func (s *Subscription[T]) C() <-chan T {
	return s.sub.ch
}

// Lag returns and resets the number of values dropped for this subscriber
// since the last call.
func (s *Subscription[T]) Lag() uint64 {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	n := s.sub.lag
	s.sub.lag = 0
	return n
}

// Unsubscribe detaches the subscription from the Hub and closes its channel.
func (s *Subscription[T]) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s.sub]; ok {
		delete(s.hub.subs, s.sub)
		close(s.sub.ch)
	}
}

// Subscribe registers a new subscriber and returns its handle.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := &subscription[T]{ch: make(chan T, h.capacity)}
	if !h.closed {
		h.subs[sub] = struct{}{}
	} else {
		close(sub.ch)
	}
	return &Subscription[T]{hub: h, sub: sub}
}

// Publish delivers v to every current subscriber. A subscriber whose buffer
// is full has its oldest buffered value dropped (and its lag counter
// incremented) to make room for v, matching drop-oldest broadcast semantics
// rather than blocking the publisher.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- v:
		default:
			// Buffer full: drop the oldest entry to make room, then retry
			// once. If a concurrent receive already freed space, the retry
			// still succeeds; if not, we count the drop.
			select {
			case <-sub.ch:
				sub.mu.Lock()
				sub.lag++
				sub.mu.Unlock()
			default:
			}
			select {
			case sub.ch <- v:
			default:
				sub.mu.Lock()
				sub.lag++
				sub.mu.Unlock()
			}
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches and closes every current and future subscriber channel.
// Publish becomes a no-op after Close.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = make(map[*subscription[T]]struct{})
}
