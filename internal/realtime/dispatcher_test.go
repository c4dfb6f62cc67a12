package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain pulls every queued message off the client's send buffer
func drain(t *testing.T, c *Client) []Message {
	t.Helper()
	var msgs []Message
	for {
		select {
		case data := <-c.send:
			var msg Message
			require.NoError(t, json.Unmarshal(data, &msg))
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestDispatcher_SendToUserHitsEveryConnection(t *testing.T) {
	reg := NewRegistry()
	rooms := NewRooms()
	d := NewDispatcher(reg, rooms, testLogger())

	userID := uuid.New()
	c1 := newTestClient(userID, "alice")
	c2 := newTestClient(userID, "alice")
	reg.Add(userID, c1)
	reg.Add(userID, c2)

	d.SendToUser(userID, EventTypeConvAdded, ConvAddedPayload{ConversationID: uuid.New()})

	assert.Len(t, drain(t, c1), 1)
	assert.Len(t, drain(t, c2), 1)
}

func TestDispatcher_SendToOfflineUserIsSilent(t *testing.T) {
	d := NewDispatcher(NewRegistry(), NewRooms(), testLogger())

	// Must not panic or error; the event is simply not delivered live.
	d.SendToUser(uuid.New(), EventTypeConvAdded, ConvAddedPayload{ConversationID: uuid.New()})
}

func TestDispatcher_SendToRoomExcludesUser(t *testing.T) {
	reg := NewRegistry()
	rooms := NewRooms()
	d := NewDispatcher(reg, rooms, testLogger())

	roomID := uuid.New()
	typist := uuid.New()
	peer := uuid.New()

	typistConn := newTestClient(typist, "alice")
	peerConn := newTestClient(peer, "bob")
	secondTab := newTestClient(typist, "alice")

	rooms.Join(roomID, typistConn)
	rooms.Join(roomID, peerConn)
	rooms.Join(roomID, secondTab)

	d.SendToRoom(roomID, EventTypeTyping, TypingBroadcastPayload{
		ConversationID: roomID,
		UserID:         typist,
		Username:       "alice",
		IsTyping:       true,
	}, typist)

	assert.Empty(t, drain(t, typistConn), "typist must not receive their own indicator")
	assert.Empty(t, drain(t, secondTab), "exclusion covers every connection of the user")

	msgs := drain(t, peerConn)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventTypeTyping, msgs[0].Type)

	var payload TypingBroadcastPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, typist, payload.UserID)
	assert.True(t, payload.IsTyping)
}

func TestDispatcher_SendToConversationExcludesNobodyByDefault(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, NewRooms(), testLogger())

	a := uuid.New()
	b := uuid.New()
	connA := newTestClient(a, "alice")
	connB := newTestClient(b, "bob")
	reg.Add(a, connA)
	reg.Add(b, connB)

	d.SendToConversation([]uuid.UUID{a, b}, EventTypeMessageNew, MessageNewPayload{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       a,
	}, uuid.Nil)

	assert.Len(t, drain(t, connA), 1)
	assert.Len(t, drain(t, connB), 1)
}

func TestDispatcher_SendToConversationSkipsExcluded(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, NewRooms(), testLogger())

	a := uuid.New()
	b := uuid.New()
	connA := newTestClient(a, "alice")
	connB := newTestClient(b, "bob")
	reg.Add(a, connA)
	reg.Add(b, connB)

	d.SendToConversation([]uuid.UUID{a, b}, EventTypeTyping, TypingBroadcastPayload{UserID: a}, a)

	assert.Empty(t, drain(t, connA))
	assert.Len(t, drain(t, connB), 1)
}

func TestDispatcher_ClosedConnectionMissesEvent(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, NewRooms(), testLogger())

	userID := uuid.New()
	open := newTestClient(userID, "alice")
	closed := newTestClient(userID, "alice")
	reg.Add(userID, open)
	reg.Add(userID, closed)
	closed.close()

	// Must not panic on the closed connection; the open one still gets it.
	d.SendToUser(userID, EventTypeConvAdded, ConvAddedPayload{ConversationID: uuid.New()})
	assert.Len(t, drain(t, open), 1)
}

func TestDispatcher_FullBufferDropsWithoutBlocking(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, NewRooms(), testLogger())

	userID := uuid.New()
	c := newTestClient(userID, "alice")
	c.send = make(chan []byte, 1)
	reg.Add(userID, c)

	d.SendToUser(userID, EventTypeConvAdded, ConvAddedPayload{ConversationID: uuid.New()})
	d.SendToUser(userID, EventTypeConvAdded, ConvAddedPayload{ConversationID: uuid.New()})

	// Second event is dropped on the floor, not queued, not fatal.
	assert.Len(t, drain(t, c), 1)
}
