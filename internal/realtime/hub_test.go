package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samovar-im/server/internal/domain"
	"github.com/samovar-im/server/internal/pubsub"
)

func newTestHub(t *testing.T, store *stubConvStore) (*Hub, *pubsub.MemoryPubSub) {
	t.Helper()
	ps := pubsub.NewMemoryPubSub()
	h := NewHub(store, nil, ps, testLogger())
	t.Cleanup(func() {
		h.Close()
		_ = ps.Close()
	})
	return h, ps
}

// presenceEvents filters a client's queued messages down to decoded presence
// broadcasts.
func presenceEvents(t *testing.T, c *Client) []PresenceBroadcastPayload {
	t.Helper()
	var out []PresenceBroadcastPayload
	for _, msg := range drain(t, c) {
		if msg.Type != EventTypePresence {
			continue
		}
		var p PresenceBroadcastPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		out = append(out, p)
	}
	return out
}

func TestHub_SingleTabLifecycleBroadcastsTwice(t *testing.T) {
	convID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	h, _ := newTestHub(t, &stubConvStore{byUser: map[uuid.UUID][]uuid.UUID{
		alice: {convID},
		bob:   {convID},
	}})
	ctx := context.Background()

	bobConn := newTestClient(bob, "bob")
	h.Connect(ctx, bobConn)
	drain(t, bobConn)

	aliceConn := newTestClient(alice, "alice")
	h.Connect(ctx, aliceConn)

	events := presenceEvents(t, bobConn)
	require.Len(t, events, 1, "connect must announce exactly once")
	assert.Equal(t, alice, events[0].UserID)
	assert.Equal(t, domain.PresenceOnline, events[0].Status)

	h.Disconnect(aliceConn)

	events = presenceEvents(t, bobConn)
	require.Len(t, events, 1, "closing the only tab must announce exactly once")
	assert.Equal(t, alice, events[0].UserID)
	assert.Equal(t, domain.PresenceOffline, events[0].Status)
	assert.Equal(t, domain.PresenceOffline, h.Presence().Get(alice).Status)
}

func TestHub_SecondTabNeverRebroadcasts(t *testing.T) {
	convID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	h, _ := newTestHub(t, &stubConvStore{byUser: map[uuid.UUID][]uuid.UUID{
		alice: {convID},
		bob:   {convID},
	}})
	ctx := context.Background()

	bobConn := newTestClient(bob, "bob")
	h.Connect(ctx, bobConn)
	drain(t, bobConn)

	tab1 := newTestClient(alice, "alice")
	h.Connect(ctx, tab1)
	assert.Len(t, presenceEvents(t, bobConn), 1)

	tab2 := newTestClient(alice, "alice")
	h.Connect(ctx, tab2)
	assert.Empty(t, presenceEvents(t, bobConn), "second tab must be silent")

	h.Disconnect(tab1)
	assert.Empty(t, presenceEvents(t, bobConn), "closing a non-last tab must be silent")
	assert.Equal(t, domain.PresenceOnline, h.Presence().Get(alice).Status)

	h.Disconnect(tab2)
	events := presenceEvents(t, bobConn)
	require.Len(t, events, 1)
	assert.Equal(t, domain.PresenceOffline, events[0].Status)
}

func TestHub_DisconnectIsIdempotent(t *testing.T) {
	convID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	h, _ := newTestHub(t, &stubConvStore{byUser: map[uuid.UUID][]uuid.UUID{
		alice: {convID},
		bob:   {convID},
	}})
	ctx := context.Background()

	bobConn := newTestClient(bob, "bob")
	h.Connect(ctx, bobConn)
	drain(t, bobConn)

	aliceConn := newTestClient(alice, "alice")
	h.Connect(ctx, aliceConn)
	drain(t, bobConn)

	h.Disconnect(aliceConn)
	h.Disconnect(aliceConn)

	assert.Len(t, presenceEvents(t, bobConn), 1, "double teardown must not re-broadcast offline")
	assert.False(t, h.Registry().IsOnline(alice))
}

func TestHub_DisconnectStopsTyping(t *testing.T) {
	convID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	h, _ := newTestHub(t, &stubConvStore{byUser: map[uuid.UUID][]uuid.UUID{
		alice: {convID},
		bob:   {convID},
	}})
	ctx := context.Background()

	bobConn := newTestClient(bob, "bob")
	h.Connect(ctx, bobConn)
	aliceConn := newTestClient(alice, "alice")
	h.Connect(ctx, aliceConn)
	drain(t, bobConn)

	payload := json.RawMessage(fmt.Sprintf(`{"conversation_id":%q}`, convID))
	h.HandleEvent(ctx, aliceConn, &Message{Type: EventTypeTypingStart, Payload: payload})

	var started []TypingBroadcastPayload
	for _, msg := range drain(t, bobConn) {
		if msg.Type == EventTypeTyping {
			var p TypingBroadcastPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &p))
			started = append(started, p)
		}
	}
	require.Len(t, started, 1)
	assert.True(t, started[0].IsTyping)

	// The teardown must clear the indicator for peers, not leave it to the
	// expiry timer.
	h.Disconnect(aliceConn)

	var stopped []TypingBroadcastPayload
	for _, msg := range drain(t, bobConn) {
		if msg.Type == EventTypeTyping {
			var p TypingBroadcastPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &p))
			stopped = append(stopped, p)
		}
	}
	require.Len(t, stopped, 1)
	assert.Equal(t, alice, stopped[0].UserID)
	assert.False(t, stopped[0].IsTyping)
}

// A page refresh races the old connection's teardown against the new
// connection's setup. Whatever the interleaving, one live connection must
// leave the user online, and the user topic bridged exactly once.
func TestHub_ReconnectRaceKeepsPresenceConsistent(t *testing.T) {
	alice := uuid.New()
	h, ps := newTestHub(t, &stubConvStore{byUser: map[uuid.UUID][]uuid.UUID{}})
	ctx := context.Background()
	userTopic := pubsub.Topics.User(alice.String())

	for i := 0; i < 200; i++ {
		old := newTestClient(alice, "alice")
		h.Connect(ctx, old)

		fresh := newTestClient(alice, "alice")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Disconnect(old)
		}()
		go func() {
			defer wg.Done()
			h.Connect(ctx, fresh)
		}()
		wg.Wait()

		require.True(t, h.Registry().IsOnline(alice))
		require.Equal(t, domain.PresenceOnline, h.Presence().Get(alice).Status,
			"live connection left behind an offline record on iteration %d", i)
		require.Equal(t, 1, ps.SubscriberCount(userTopic))

		h.Disconnect(fresh)
		require.Equal(t, domain.PresenceOffline, h.Presence().Get(alice).Status)
		require.Equal(t, 0, ps.SubscriberCount(userTopic))
	}
}
