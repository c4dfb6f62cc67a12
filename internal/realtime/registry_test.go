package realtime

import (
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(userID uuid.UUID, username string) *Client {
	return &Client{
		id:       uuid.New(),
		send:     make(chan []byte, 256),
		userID:   userID,
		username: username,
		rooms:    make(map[uuid.UUID]bool),
		logger:   testLogger(),
	}
}

func TestRegistry_AddReturnsCount(t *testing.T) {
	reg := NewRegistry()
	userID := uuid.New()

	c1 := newTestClient(userID, "alice")
	c2 := newTestClient(userID, "alice")

	assert.Equal(t, 1, reg.Add(userID, c1))
	assert.Equal(t, 2, reg.Add(userID, c2))
	assert.Equal(t, 2, reg.Count(userID))
	assert.True(t, reg.IsOnline(userID))
}

func TestRegistry_AddSameConnectionTwice(t *testing.T) {
	reg := NewRegistry()
	userID := uuid.New()
	c := newTestClient(userID, "alice")

	assert.Equal(t, 1, reg.Add(userID, c))
	assert.Equal(t, 1, reg.Add(userID, c), "set semantics: re-adding must not inflate the count")
}

func TestRegistry_RemoveLastConnectionPrunesUser(t *testing.T) {
	reg := NewRegistry()
	userID := uuid.New()
	c := newTestClient(userID, "alice")

	reg.Add(userID, c)
	remaining, removed := reg.Remove(userID, c)

	assert.True(t, removed)
	assert.Equal(t, 0, remaining)
	assert.False(t, reg.IsOnline(userID))
	assert.Empty(t, reg.OnlineUserIDs())
}

func TestRegistry_DoubleRemoveIsDetected(t *testing.T) {
	reg := NewRegistry()
	userID := uuid.New()
	c := newTestClient(userID, "alice")

	reg.Add(userID, c)

	_, removed := reg.Remove(userID, c)
	require.True(t, removed)

	// A second teardown of the same connection must report removed=false so
	// the offline transition fires exactly once.
	remaining, removed := reg.Remove(userID, c)
	assert.False(t, removed)
	assert.Equal(t, 0, remaining)
}

func TestRegistry_RemoveUnknownUser(t *testing.T) {
	reg := NewRegistry()
	c := newTestClient(uuid.New(), "ghost")

	remaining, removed := reg.Remove(uuid.New(), c)
	assert.False(t, removed)
	assert.Equal(t, 0, remaining)
}

func TestRegistry_MultiTabKeepsUserOnline(t *testing.T) {
	reg := NewRegistry()
	userID := uuid.New()
	c1 := newTestClient(userID, "alice")
	c2 := newTestClient(userID, "alice")

	reg.Add(userID, c1)
	reg.Add(userID, c2)

	remaining, removed := reg.Remove(userID, c1)
	assert.True(t, removed)
	assert.Equal(t, 1, remaining)
	assert.True(t, reg.IsOnline(userID))

	remaining, removed = reg.Remove(userID, c2)
	assert.True(t, removed)
	assert.Equal(t, 0, remaining)
	assert.False(t, reg.IsOnline(userID))
}

func TestRegistry_ConnectionsForSnapshot(t *testing.T) {
	reg := NewRegistry()
	userID := uuid.New()
	c1 := newTestClient(userID, "alice")
	c2 := newTestClient(userID, "alice")

	reg.Add(userID, c1)
	reg.Add(userID, c2)

	conns := reg.ConnectionsFor(userID)
	assert.Len(t, conns, 2)
	assert.ElementsMatch(t, []*Client{c1, c2}, conns)

	assert.Empty(t, reg.ConnectionsFor(uuid.New()), "unknown user gets an empty slice")
}

// Random concurrent add/remove interleavings must never leave a user key
// with an empty set behind.
func TestRegistry_ConcurrentChurn(t *testing.T) {
	reg := NewRegistry()

	users := make([]uuid.UUID, 8)
	for i := range users {
		users[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				userID := users[rng.Intn(len(users))]
				c := newTestClient(userID, "churn")
				reg.Add(userID, c)
				if rng.Intn(2) == 0 {
					reg.Remove(userID, c)
				} else {
					reg.Remove(userID, c)
					reg.Remove(userID, c) // double teardown must stay safe
				}
			}
		}(int64(g))
	}
	wg.Wait()

	// Everything was removed, so nobody may appear online.
	for _, id := range users {
		assert.Equal(t, 0, reg.Count(id))
		assert.False(t, reg.IsOnline(id))
	}
	assert.Empty(t, reg.OnlineUserIDs())
}
