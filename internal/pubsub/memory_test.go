package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector buffers delivered messages so tests can wait on asynchronous
// handler dispatch.
type collector struct {
	ch chan *Message
}

func newCollector() *collector {
	return &collector{ch: make(chan *Message, 16)}
}

func (c *collector) handle(_ context.Context, msg *Message) {
	c.ch <- msg
}

func (c *collector) wait(t *testing.T) *Message {
	t.Helper()
	select {
	case msg := <-c.ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func (c *collector) expectNone(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c.ch:
		t.Fatalf("unexpected delivery: %s on %s", msg.Type, msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPubSub_DeliversToSubscriber(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	col := newCollector()
	_, err := ps.Subscribe(context.Background(), Topics.Room("r1"), col.handle)
	require.NoError(t, err)

	sent := &Message{
		Topic:   Topics.Room("r1"),
		Type:    "message.new",
		Payload: json.RawMessage(`{"body":"hello"}`),
	}
	require.NoError(t, ps.Publish(context.Background(), Topics.Room("r1"), sent))

	got := col.wait(t)
	assert.Equal(t, "message.new", got.Type)
	assert.JSONEq(t, `{"body":"hello"}`, string(got.Payload))
}

func TestMemoryPubSub_TopicsAreIsolated(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	col := newCollector()
	_, err := ps.Subscribe(context.Background(), Topics.Room("r1"), col.handle)
	require.NoError(t, err)

	msg := &Message{Topic: Topics.Room("r2"), Type: "message.new"}
	require.NoError(t, ps.Publish(context.Background(), Topics.Room("r2"), msg))

	col.expectNone(t)
}

func TestMemoryPubSub_FansOutToEverySubscriber(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	first := newCollector()
	second := newCollector()
	topic := Topics.User("u1")
	_, err := ps.Subscribe(context.Background(), topic, first.handle)
	require.NoError(t, err)
	_, err = ps.Subscribe(context.Background(), topic, second.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, ps.SubscriberCount(topic))

	msg := &Message{Topic: topic, Type: "conversation.added"}
	require.NoError(t, ps.Publish(context.Background(), topic, msg))

	first.wait(t)
	second.wait(t)
}

func TestMemoryPubSub_UnsubscribeStopsDelivery(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	kept := newCollector()
	dropped := newCollector()
	topic := Topics.Room("r1")
	_, err := ps.Subscribe(context.Background(), topic, kept.handle)
	require.NoError(t, err)
	sub, err := ps.Subscribe(context.Background(), topic, dropped.handle)
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 1, ps.SubscriberCount(topic))

	msg := &Message{Topic: topic, Type: "typing"}
	require.NoError(t, ps.Publish(context.Background(), topic, msg))

	kept.wait(t)
	dropped.expectNone(t)
}

func TestMemoryPubSub_LastUnsubscribePrunesTopic(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	sub, err := ps.Subscribe(context.Background(), Topics.Room("r1"), newCollector().handle)
	require.NoError(t, err)
	assert.Equal(t, 1, ps.TopicCount())

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, ps.TopicCount(), "empty topics must not accumulate")
}

func TestMemoryPubSub_PublishWithoutSubscribersIsNoOp(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	msg := &Message{Topic: Topics.Room("r1"), Type: "message.new"}
	assert.NoError(t, ps.Publish(context.Background(), Topics.Room("r1"), msg))
}

func TestMemoryPubSub_ClosedBusRejectsOperations(t *testing.T) {
	ps := NewMemoryPubSub()
	require.NoError(t, ps.Close())

	_, err := ps.Subscribe(context.Background(), Topics.Room("r1"), newCollector().handle)
	assert.ErrorIs(t, err, ErrClosed)

	msg := &Message{Topic: Topics.Room("r1"), Type: "message.new"}
	assert.ErrorIs(t, ps.Publish(context.Background(), Topics.Room("r1"), msg), ErrClosed)
}

func TestMemoryPubSub_CloseDropsSubscriptions(t *testing.T) {
	ps := NewMemoryPubSub()

	_, err := ps.Subscribe(context.Background(), Topics.User("u1"), newCollector().handle)
	require.NoError(t, err)
	require.NoError(t, ps.Close())

	assert.Equal(t, 0, ps.TopicCount())
}

func TestTopicBuilder(t *testing.T) {
	assert.Equal(t, "room:42", Topics.Room("42"))
	assert.Equal(t, "user:7", Topics.User("7"))
}
