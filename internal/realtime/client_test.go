package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Client Identity Tests
// =============================================================================

func TestClient_IdentityFixedAtConstruction(t *testing.T) {
	userID := uuid.New()
	client := newTestClient(userID, "alice")

	assert.Equal(t, userID, client.UserID())
	assert.Equal(t, "alice", client.Username())
	assert.NotEqual(t, uuid.Nil, client.ID())
}

func TestClient_DistinctConnectionIDs(t *testing.T) {
	userID := uuid.New()
	c1 := newTestClient(userID, "alice")
	c2 := newTestClient(userID, "alice")

	assert.NotEqual(t, c1.ID(), c2.ID())
}

// =============================================================================
// Room Subscription Tests
// =============================================================================

func TestClient_JoinLeaveRoom(t *testing.T) {
	client := newTestClient(uuid.New(), "alice")
	roomID := uuid.New()

	assert.False(t, client.IsInRoom(roomID))

	client.JoinRoom(roomID)
	assert.True(t, client.IsInRoom(roomID))

	client.LeaveRoom(roomID)
	assert.False(t, client.IsInRoom(roomID))
}

func TestClient_RoomsSnapshot(t *testing.T) {
	client := newTestClient(uuid.New(), "alice")
	r1 := uuid.New()
	r2 := uuid.New()

	client.JoinRoom(r1)
	client.JoinRoom(r2)
	client.JoinRoom(r1) // idempotent

	assert.ElementsMatch(t, []uuid.UUID{r1, r2}, client.Rooms())
}

// =============================================================================
// Send Queue Tests
// =============================================================================

func TestClient_SendMarshalsEnvelope(t *testing.T) {
	client := newTestClient(uuid.New(), "alice")

	msg, err := NewMessage(EventTypeConvAdded, ConvAddedPayload{ConversationID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, client.Send(msg))

	data := <-client.send
	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, EventTypeConvAdded, got.Type)
	assert.False(t, got.Timestamp.IsZero())
}

func TestClient_EnqueueAfterClose(t *testing.T) {
	client := newTestClient(uuid.New(), "alice")
	client.close()

	assert.False(t, client.enqueue([]byte(`{}`)))
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	client := newTestClient(uuid.New(), "alice")

	client.close()
	client.close() // must not panic on the double close
}

func TestClient_EnqueueDropsWhenBufferFull(t *testing.T) {
	client := newTestClient(uuid.New(), "alice")
	client.send = make(chan []byte, 1)

	assert.True(t, client.enqueue([]byte(`{"type":"a"}`)))
	assert.False(t, client.enqueue([]byte(`{"type":"b"}`)))
}
