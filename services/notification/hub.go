package main

import "sync"

// Hub fans live notifications out to connected observers. Delivery is
// best-effort and non-durable: a full subscriber buffer is skipped, a late
// subscriber gets nothing retroactively.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Notification]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Notification]struct{})}
}

// Subscribe registers an observer. The returned cancel func must be called
// when the observer disconnects.
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast pushes to every current subscriber without blocking.
func (h *Hub) Broadcast(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
			// Slow observer, drop this event for it.
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
