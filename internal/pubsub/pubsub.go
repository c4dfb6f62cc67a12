// Package pubsub is the event bridge between processes. The hub publishes
// room and user events here instead of writing to connections directly, so
// a REST handler on one instance can reach a WebSocket held by another.
// The in-memory backend serves a single process; the Redis backend spans a
// deployment.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned for operations on a closed PubSub.
var ErrClosed = errors.New("pubsub: closed")

// Message is the unit carried between instances. Payload stays raw: the
// bridge relays frames, it does not interpret them.
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes a delivered message. Handlers run concurrently with the
// publisher and must not block indefinitely.
type Handler func(ctx context.Context, msg *Message)

// Subscription is a handle for tearing down one subscriber.
type Subscription interface {
	Unsubscribe() error
}

// PubSub is the backend contract. Implementations are safe for concurrent
// use; delivery is at-most-once and unordered across topics.
type PubSub interface {
	// Publish delivers msg to every current subscriber of topic.
	Publish(ctx context.Context, topic string, msg *Message) error

	// Subscribe registers handler for topic until the returned
	// Subscription is released.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Close tears the backend down; subsequent operations fail ErrClosed.
	Close() error
}

// TopicBuilder produces the canonical topic names. Room topics fan out to
// everyone subscribed to a conversation; user topics reach every connection
// of one user regardless of room.
type TopicBuilder struct{}

func (TopicBuilder) Room(roomID string) string { return "room:" + roomID }

func (TopicBuilder) User(userID string) string { return "user:" + userID }

// Topics is the shared TopicBuilder instance.
var Topics = TopicBuilder{}
