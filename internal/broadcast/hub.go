// Package broadcast fans committed board events out to connected viewers.
// Delivery is best-effort: no retry, no backlog and no replay.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/marcus/boardsync/internal/events"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 64

// Hub is an in-process publish/subscribe channel for events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
	closed bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// Subscriber is one registered receiver. Its channel is closed when it is
// unsubscribed or the hub closes.
type Subscriber struct {
	ch      chan events.Envelope
	dropped atomic.Int64
}

// C returns the subscriber's receive channel.
func (s *Subscriber) C() <-chan events.Envelope { return s.ch }

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// NewHub creates a hub whose subscribers each queue up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[*Subscriber]struct{}), buffer: buffer}
}

// Subscribe registers a new subscriber. Subscribing to a closed hub returns
// a subscriber whose channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan events.Envelope, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

// Publish offers ev to every subscriber without blocking. A subscriber whose
// queue is full misses the event.
func (h *Hub) Publish(ev events.Envelope) {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
			h.delivered.Add(1)
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
			slog.Debug("broadcast: subscriber queue full, event dropped", "type", ev.Type)
		}
	}
}

// Close unsubscribes everyone. Later Publish calls reach nobody.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}
