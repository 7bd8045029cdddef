package events

import (
	"sync"
	"sync/atomic"

	"nbexec/internal/logging"
)

// =============================================================================
// NOTIFICATION HUB
// =============================================================================
//
// Hub fans events out to subscribers over per-subscriber buffered
// channels. Emit never blocks the caller: a subscriber that cannot
// keep up is dropped (its channel closed) rather than allowed to
// stall the queue. Because each subscriber has one ordered channel
// fed by one Emit call site, per-document ordering is preserved.

// Subscription is one observer's ordered event feed.
type Subscription struct {
	// C receives events in emit order. Closed when the subscription
	// is cancelled or the subscriber falls too far behind.
	C <-chan Event

	id    int
	docID string
	hub   *Hub
}

// Cancel removes the subscription from the hub.
func (s *Subscription) Cancel() {
	s.hub.cancel(s.id)
}

type subscriber struct {
	ch     chan Event
	docID  string // empty subscribes to every document
	closed bool
}

// Hub distributes queue events to remote observers.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int

	buffer int
	limit  int

	emitted int64
	dropped int64
}

// NewHub creates a hub. buffer is the per-subscriber backlog; limit
// caps concurrent subscribers (0 means unlimited).
func NewHub(buffer, limit int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		limit:  limit,
	}
}

var _ Emitter = (*Hub)(nil)

// Subscribe registers an observer. docID filters events to one
// document; empty receives everything. Returns nil when the
// subscriber limit is reached.
func (h *Hub) Subscribe(docID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.limit > 0 && len(h.subs) >= h.limit {
		logging.Get(logging.CategoryEvents).Warn("subscriber limit %d reached, rejecting", h.limit)
		return nil
	}

	id := h.nextID
	h.nextID++
	sub := &subscriber{
		ch:    make(chan Event, h.buffer),
		docID: docID,
	}
	h.subs[id] = sub

	logging.EventsDebug("subscriber %d registered (doc=%q, total=%d)", id, docID, len(h.subs))
	return &Subscription{C: sub.ch, id: id, docID: docID, hub: h}
}

func (h *Hub) cancel(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
}

// Emit delivers an event to every matching subscriber without
// blocking. A subscriber whose backlog is full is dropped.
func (h *Hub) Emit(ev Event) {
	atomic.AddInt64(&h.emitted, 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		if sub.docID != "" && sub.docID != ev.DocID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber too slow; dropping it beats stalling the queue.
			atomic.AddInt64(&h.dropped, 1)
			delete(h.subs, id)
			sub.closed = true
			close(sub.ch)
			logging.Get(logging.CategoryEvents).Warn("subscriber %d dropped: backlog full", id)
		}
	}
}

// Close cancels every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
}

// Metrics reports hub counters.
type Metrics struct {
	Subscribers int   `json:"subscribers"`
	Emitted     int64 `json:"emitted"`
	Dropped     int64 `json:"dropped"`
}

// GetMetrics returns current hub metrics.
func (h *Hub) GetMetrics() Metrics {
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()
	return Metrics{
		Subscribers: n,
		Emitted:     atomic.LoadInt64(&h.emitted),
		Dropped:     atomic.LoadInt64(&h.dropped),
	}
}
