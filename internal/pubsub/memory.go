package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryPubSub delivers messages within a single process. Topics exist only
// while they have subscribers.
type MemoryPubSub struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]Handler
	lastID uint64
	closed bool
	logger *slog.Logger
}

// NewMemoryPubSub creates an empty in-process bus.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{
		topics: make(map[string]map[uint64]Handler),
		logger: slog.Default().With("component", "pubsub"),
	}
}

// Publish hands msg to every handler on topic. Each handler runs in its own
// goroutine so a slow subscriber never stalls the publisher. A topic with no
// subscribers is a no-op, not an error.
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, msg *Message) error {
	ps.mu.RLock()
	if ps.closed {
		ps.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(ps.topics[topic]))
	for _, h := range ps.topics[topic] {
		handlers = append(handlers, h)
	}
	ps.mu.RUnlock()

	if len(handlers) == 0 {
		ps.logger.Debug("no subscribers for topic", "topic", topic, "msg_type", msg.Type)
		return nil
	}
	for _, h := range handlers {
		go h(ctx, msg)
	}
	return nil
}

// Subscribe registers handler on topic.
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil, ErrClosed
	}

	ps.lastID++
	if ps.topics[topic] == nil {
		ps.topics[topic] = make(map[uint64]Handler)
	}
	ps.topics[topic][ps.lastID] = handler

	return &memorySubscription{ps: ps, topic: topic, id: ps.lastID}, nil
}

// Close drops every subscription and rejects further operations.
func (ps *MemoryPubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.closed = true
	ps.topics = make(map[string]map[uint64]Handler)
	return nil
}

// SubscriberCount reports the handlers registered on a topic.
func (ps *MemoryPubSub) SubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.topics[topic])
}

// TopicCount reports the live topics.
func (ps *MemoryPubSub) TopicCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.topics)
}

func (ps *MemoryPubSub) remove(topic string, id uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if handlers, ok := ps.topics[topic]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(ps.topics, topic)
		}
	}
}

type memorySubscription struct {
	ps    *MemoryPubSub
	topic string
	id    uint64
}

func (s *memorySubscription) Unsubscribe() error {
	s.ps.remove(s.topic, s.id)
	return nil
}
