package broadcast

import (
	"context"
	"sync"
)

// Hub is an in-process Transport. Publish delivers synchronously to a snapshot of the
// topic's subscribers, which preserves per-sender order.
type Hub struct {
	mu     sync.RWMutex
	next   uint64
	topics map[string]map[uint64]func([]byte)
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[uint64]func([]byte))}
}

func (h *Hub) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	targets := make([]func([]byte), 0, len(h.topics[topic]))
	for _, fn := range h.topics[topic] {
		targets = append(targets, fn)
	}
	h.mu.RUnlock()

	for _, deliver := range targets {
		// Each subscriber gets its own copy so handlers cannot alias one another.
		buf := make([]byte, len(data))
		copy(buf, data)
		deliver(buf)
	}
	return nil
}

func (h *Hub) Subscribe(topic string, deliver func([]byte)) (func() error, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[uint64]func([]byte))
	}
	h.topics[topic][id] = deliver

	return func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.topics[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
		return nil
	}, nil
}

// Subscribers reports how many registrations a topic has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
