// Package buffer provides a generic, thread-safe ring buffer that evicts its
// oldest item when full.
package buffer

import (
	"sync"

	"github.com/c360/zonewatch/errors"
)

// DropCallback is called when an item is evicted to make room for a new one.
// It receives the item that was dropped.
type DropCallback[T any] func(item T)

// Ring is a fixed-capacity buffer that keeps the most recent items in arrival order.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // Points to the next write position

	metrics *ringMetrics // Optional Prometheus metrics
	onDrop  DropCallback[T]
}

// NewRing creates a ring buffer with the given capacity.
// Metrics are optional via WithMetrics().
// Returns an error if metrics registration fails when metrics are requested.
func NewRing[T any](capacity int, options ...Option[T]) (*Ring[T], error) {
	opts := applyOptions(options...)

	if capacity <= 0 {
		capacity = 1 // Minimum capacity
	}

	var metrics *ringMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "NewRing", "metrics registration")
		}
	}

	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		metrics:  metrics,
		onDrop:   opts.dropCallback,
	}, nil
}

// MustRing is NewRing for callers that never request metrics.
func MustRing[T any](capacity int, options ...Option[T]) *Ring[T] {
	r, err := NewRing(capacity, options...)
	if err != nil {
		panic(err)
	}
	return r
}

// Write appends an item at the tail, evicting the oldest item when full.
// It reports the evicted item, if any.
func (r *Ring[T]) Write(item T) (evicted T, dropped bool) {
	r.mu.Lock()

	if r.size == r.capacity {
		// head is also the oldest position when full
		evicted = r.items[r.head]
		dropped = true
		r.size--

		if r.metrics != nil {
			r.metrics.recordDrop()
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++

	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.capacity)
	}
	r.mu.Unlock()

	// Call the callback outside the lock to avoid deadlock
	if dropped && r.onDrop != nil {
		r.onDrop(evicted)
	}
	return evicted, dropped
}

// Items returns a copy of the buffered items, oldest first.
// The result is never nil.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	start := (r.head - r.size + r.capacity) % r.capacity
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(start+i)%r.capacity]
	}
	return out
}
