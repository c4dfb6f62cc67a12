package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConvStore is an in-memory ConversationStore for resolver tests
type stubConvStore struct {
	byUser map[uuid.UUID][]uuid.UUID
	err    error
}

func (s *stubConvStore) ConversationIDsFor(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byUser[userID], nil
}

func (s *stubConvStore) IsMember(_ context.Context, convID, userID uuid.UUID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, id := range s.byUser[userID] {
		if id == convID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubConvStore) MemberIDs(_ context.Context, convID uuid.UUID) ([]uuid.UUID, error) {
	if s.err != nil {
		return nil, s.err
	}
	var ids []uuid.UUID
	for userID, convs := range s.byUser {
		for _, id := range convs {
			if id == convID {
				ids = append(ids, userID)
				break
			}
		}
	}
	return ids, nil
}

// =============================================================================
// Room Index Tests
// =============================================================================

func TestRooms_JoinReportsFirstSubscriber(t *testing.T) {
	rooms := NewRooms()
	roomID := uuid.New()
	c1 := newTestClient(uuid.New(), "alice")
	c2 := newTestClient(uuid.New(), "bob")

	assert.True(t, rooms.Join(roomID, c1), "first subscriber opens the room")
	assert.False(t, rooms.Join(roomID, c2))
	assert.False(t, rooms.Join(roomID, c1), "re-join is idempotent")
	assert.Len(t, rooms.Clients(roomID), 2)
}

func TestRooms_LeaveReportsEmptiedRoom(t *testing.T) {
	rooms := NewRooms()
	roomID := uuid.New()
	c1 := newTestClient(uuid.New(), "alice")
	c2 := newTestClient(uuid.New(), "bob")
	rooms.Join(roomID, c1)
	rooms.Join(roomID, c2)

	assert.False(t, rooms.Leave(roomID, c1))
	assert.True(t, rooms.Leave(roomID, c2), "last subscriber empties the room")
	assert.Empty(t, rooms.Clients(roomID))
}

func TestRooms_LeaveUnknownRoom(t *testing.T) {
	rooms := NewRooms()
	assert.False(t, rooms.Leave(uuid.New(), newTestClient(uuid.New(), "alice")))
}

func TestRooms_DropClientReturnsEmptiedRooms(t *testing.T) {
	rooms := NewRooms()
	r1 := uuid.New()
	r2 := uuid.New()
	r3 := uuid.New()

	leaving := newTestClient(uuid.New(), "alice")
	staying := newTestClient(uuid.New(), "bob")

	rooms.Join(r1, leaving)
	rooms.Join(r2, leaving)
	rooms.Join(r2, staying)
	rooms.Join(r3, staying)

	emptied := rooms.DropClient(leaving)
	assert.ElementsMatch(t, []uuid.UUID{r1}, emptied)
	assert.Len(t, rooms.Clients(r2), 1)
	assert.Len(t, rooms.Clients(r3), 1)
}

func TestRooms_UserIDsDeduplicatesConnections(t *testing.T) {
	rooms := NewRooms()
	roomID := uuid.New()
	userID := uuid.New()
	other := uuid.New()

	rooms.Join(roomID, newTestClient(userID, "alice"))
	rooms.Join(roomID, newTestClient(userID, "alice"))
	rooms.Join(roomID, newTestClient(other, "bob"))

	assert.ElementsMatch(t, []uuid.UUID{userID, other}, rooms.UserIDs(roomID))
}

// =============================================================================
// Resolver Tests
// =============================================================================

func TestResolver_ResolveTopics(t *testing.T) {
	userID := uuid.New()
	c1 := uuid.New()
	c2 := uuid.New()
	store := &stubConvStore{byUser: map[uuid.UUID][]uuid.UUID{
		userID: {c1, c2},
	}}

	resolver := NewResolver(store, testLogger())
	topics, err := resolver.ResolveTopics(context.Background(), userID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{c1, c2}, topics)
}

func TestResolver_NoConversations(t *testing.T) {
	resolver := NewResolver(&stubConvStore{byUser: map[uuid.UUID][]uuid.UUID{}}, testLogger())

	topics, err := resolver.ResolveTopics(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestResolver_StoreFailureSurfaces(t *testing.T) {
	storeErr := errors.New("connection refused")
	resolver := NewResolver(&stubConvStore{err: storeErr}, testLogger())

	topics, err := resolver.ResolveTopics(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Nil(t, topics)
}
