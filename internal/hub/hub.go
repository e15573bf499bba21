// Package hub fans filtered readings out to live subscribers. The
// acquisition goroutine is the single producer; each subscriber owns a
// bounded queue and a slow subscriber only ever loses its own oldest
// readings, never slows the producer or its peers.
package hub

import (
	"sync"
	"sync/atomic"

	"weigh-station-backend/internal/scale"
)

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 16

// Subscriber receives readings in production order on C. Dropped counts the
// readings evicted because the queue was full.
type Subscriber struct {
	ch      chan scale.FilteredReading
	dropped atomic.Uint64
}

// C is the subscriber's receive channel.
func (s *Subscriber) C() <-chan scale.FilteredReading {
	return s.ch
}

// Dropped returns how many readings this subscriber lost to queue overflow.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub is the fan-out point between the acquisition pipeline and live
// clients.
type Hub struct {
	buffer int

	mu        sync.RWMutex
	subs      map[*Subscriber]struct{}
	latest    scale.FilteredReading
	hasLatest bool
	published uint64
}

// New creates a hub with the given per-subscriber buffer depth.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[*Subscriber]struct{}),
	}
}

// Publish delivers r to every subscriber without blocking: when a queue is
// full the oldest queued reading for that subscriber is dropped to make
// room. It also retains r as the latest snapshot for pull clients.
func (h *Hub) Publish(r scale.FilteredReading) {
	h.mu.Lock()
	h.latest = r
	h.hasLatest = true
	h.published++
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- r:
		default:
			// Single producer, so evict-then-send cannot race another send.
			select {
			case <-sub.ch:
				sub.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- r:
			default:
			}
		}
	}
}

// Subscribe registers a new live subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan scale.FilteredReading, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and releases its queue.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Latest returns the most recent published reading for pull-based clients.
func (h *Hub) Latest() (scale.FilteredReading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.hasLatest
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
