package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub carries events across instances over Redis channels. The
// registry, presence, and typing tables stay process-local; only the event
// stream crosses the wire.
type RedisPubSub struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*redisSubscription
	closed bool
	lastID atomic.Uint64
}

// NewRedisPubSub connects to Redis using a redis:// URL and pings before
// accepting work.
func NewRedisPubSub(url string) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger := slog.Default().With("component", "pubsub", "backend", "redis")
	logger.Info("connected to Redis", "addr", opts.Addr)

	return &RedisPubSub{
		client: client,
		subs:   make(map[uint64]*redisSubscription),
		logger: logger,
	}, nil
}

// Publish sends msg to topic; subscribers on every instance receive it.
func (ps *RedisPubSub) Publish(ctx context.Context, topic string, msg *Message) error {
	ps.mu.Lock()
	closed := ps.closed
	ps.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal pubsub message: %w", err)
	}
	if err := ps.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Subscribe opens a Redis channel subscription for topic. The confirmation
// handshake runs before returning so a successful Subscribe means the
// channel is live.
func (ps *RedisPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil, ErrClosed
	}
	ps.mu.Unlock()

	channel := ps.client.Subscribe(ctx, topic)
	if _, err := channel.Receive(ctx); err != nil {
		channel.Close()
		return nil, fmt.Errorf("subscribe to redis channel: %w", err)
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		ps:      ps,
		id:      ps.lastID.Add(1),
		topic:   topic,
		channel: channel,
		cancel:  cancel,
	}

	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		cancel()
		channel.Close()
		return nil, ErrClosed
	}
	ps.subs[sub.id] = sub
	ps.mu.Unlock()

	go sub.receive(recvCtx, handler)
	return sub, nil
}

// Close tears down every subscription and the client.
func (ps *RedisPubSub) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	subs := ps.subs
	ps.subs = make(map[uint64]*redisSubscription)
	ps.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.channel.Close()
	}
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	ps.logger.Info("redis pubsub closed")
	return nil
}

func (ps *RedisPubSub) forget(id uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.subs, id)
}

type redisSubscription struct {
	ps      *RedisPubSub
	id      uint64
	topic   string
	channel *redis.PubSub
	cancel  context.CancelFunc
}

// receive pumps the Redis channel into the handler until cancelled. Frames
// that fail to decode are logged and skipped; one bad publisher must not
// kill the subscription.
func (s *redisSubscription) receive(ctx context.Context, handler Handler) {
	ch := s.channel.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				s.ps.logger.Error("malformed pubsub frame", "error", err, "topic", s.topic)
				continue
			}
			go handler(ctx, &msg)
		}
	}
}

func (s *redisSubscription) Unsubscribe() error {
	s.cancel()
	s.channel.Close()
	s.ps.forget(s.id)
	return nil
}
