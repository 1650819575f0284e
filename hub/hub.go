// Package hub fans state changes out to subscribers without ever blocking
// the publisher.
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/zonewatch/alert"
	"github.com/c360/zonewatch/metric"
	"github.com/c360/zonewatch/zone"
)

// DefaultQueueSize is the per-subscriber queue length when none is given
const DefaultQueueSize = 64

// Hub delivers events to subscribers in publish order, at most once each.
// A subscriber whose queue is full misses the event; nothing is retained for
// subscribers that join later.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	source    Snapshotter
	sourceMu  sync.RWMutex
	queueSize int

	now     func() time.Time
	metrics *metric.Metrics
	logger  *slog.Logger
}

// Option configures a Hub
type Option func(*Hub)

// WithQueueSize sets the default per-subscriber queue length
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithMetrics records subscriber counts and drops
func WithMetrics(m *metric.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the event timestamp source
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// New creates a hub
func New(opts ...Option) *Hub {
	h := &Hub{
		subs:      make(map[string]*Subscription),
		queueSize: DefaultQueueSize,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub")
	return h
}

// SetSource registers the state owner answering Snapshot
func (h *Hub) SetSource(s Snapshotter) {
	h.sourceMu.Lock()
	h.source = s
	h.sourceMu.Unlock()
}

// Snapshot returns the source's current state, or an empty snapshot when no
// source is registered.
func (h *Hub) Snapshot() Snapshot {
	h.sourceMu.RLock()
	src := h.source
	h.sourceMu.RUnlock()

	if src == nil {
		return Snapshot{Zones: map[string]zone.State{}, Alerts: []alert.Alert{}}
	}
	return src.Snapshot()
}

// Subscribe registers interest in the given categories; none means all.
// queueSize <= 0 uses the hub default.
func (h *Hub) Subscribe(queueSize int, types ...EventType) *Subscription {
	if queueSize <= 0 {
		queueSize = h.queueSize
	}
	if len(types) == 0 {
		types = AllEventTypes
	}

	sub := &Subscription{
		id:    uuid.NewString(),
		hub:   h,
		types: make(map[EventType]struct{}, len(types)),
		ch:    make(chan Event, queueSize),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	h.metrics.RecordHubSubscribers(len(h.subs))
	h.logger.Debug("Subscriber added", "subscription", sub.id, "types", types)
	return sub
}

// Publish stamps data as an event of type t and offers it to every matching
// subscriber. It never blocks.
func (h *Hub) Publish(t EventType, data any) Event {
	ev := Event{
		ID:   uuid.NewString(),
		Type: t,
		Time: h.now(),
		Data: data,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if _, ok := sub.types[t]; !ok {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			h.metrics.RecordHubDropped(string(t))
			h.logger.Debug("Subscriber queue full, event dropped",
				"subscription", sub.id, "type", t)
		}
	}
	return ev
}

// SubscriberCount returns the number of live subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are closed on arrival.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		sub.closed = true
		close(sub.ch)
		delete(h.subs, id)
	}
	h.metrics.RecordHubSubscribers(0)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	delete(h.subs, sub.id)
	h.metrics.RecordHubSubscribers(len(h.subs))
}

// Subscription is one consumer's queue of events
type Subscription struct {
	id      string
	hub     *Hub
	types   map[EventType]struct{}
	ch      chan Event
	dropped atomic.Uint64
	closed  bool // guarded by hub.mu
}

// ID returns the subscription identifier
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber missed because its queue was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}
