package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samovar-im/server/internal/domain"
)

// =============================================================================
// NewMessage Tests
// =============================================================================

func TestNewMessage_CreatesCorrectEnvelope(t *testing.T) {
	before := time.Now()
	msg, err := NewMessage("test.event", map[string]string{"key": "value"})
	after := time.Now()

	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "test.event", msg.Type)
	assert.NotNil(t, msg.Payload)
	assert.False(t, msg.Timestamp.IsZero())
	assert.True(t, !msg.Timestamp.Before(before) && !msg.Timestamp.After(after))
}

func TestNewMessage_NilPayload(t *testing.T) {
	msg, err := NewMessage("test.event", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), msg.Payload)
}

func TestNewMessage_InvalidPayload(t *testing.T) {
	// Channels cannot be marshalled to JSON
	msg, err := NewMessage("test.event", make(chan int))
	assert.Error(t, err)
	assert.Nil(t, msg)
}

func TestNewMessage_JSONSerialization(t *testing.T) {
	msg, err := NewMessage(EventTypeMessageNew, MessageNewPayload{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       uuid.New(),
		SenderUsername: "alice",
		Type:           domain.MessageTypeText,
		Body:           "Hello!",
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, EventTypeMessageNew, decoded.Type)

	var payload MessageNewPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &payload))
	assert.Equal(t, "alice", payload.SenderUsername)
	assert.Equal(t, "Hello!", payload.Body)
}

// =============================================================================
// Payload Round-Trips
// =============================================================================

func TestTypingBroadcastPayload_RoundTrip(t *testing.T) {
	original := TypingBroadcastPayload{
		ConversationID: uuid.New(),
		UserID:         uuid.New(),
		Username:       "bob",
		IsTyping:       true,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded TypingBroadcastPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestTypingBroadcastPayload_StopOmitsNothing(t *testing.T) {
	// is_typing=false must survive serialization; a stop event that loses
	// its flag reads as a start on the other side.
	data, err := json.Marshal(TypingBroadcastPayload{IsTyping: false})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"is_typing":false`)
}

func TestPresenceBroadcastPayload_RoundTrip(t *testing.T) {
	original := PresenceBroadcastPayload{
		UserID:   uuid.New(),
		Status:   domain.PresenceBusy,
		LastSeen: time.Now().UTC().Truncate(time.Second),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded PresenceBroadcastPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.Status, decoded.Status)
	assert.True(t, original.LastSeen.Equal(decoded.LastSeen))
}

func TestReceiptReadPayload_Decode(t *testing.T) {
	convID := uuid.New()
	msgID := uuid.New()
	raw := []byte(`{"conversation_id":"` + convID.String() + `","message_ids":["` + msgID.String() + `"]}`)

	var payload ReceiptReadPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, convID.String(), payload.ConversationID)
	require.Len(t, payload.MessageIDs, 1)
	assert.Equal(t, msgID.String(), payload.MessageIDs[0])
}

func TestPresencePayloadHelper(t *testing.T) {
	p := domain.Presence{
		UserID:   uuid.New(),
		Status:   domain.PresenceAway,
		LastSeen: time.Now(),
	}

	got := presencePayload(p)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, domain.PresenceAway, got.Status)
	assert.Equal(t, p.LastSeen, got.LastSeen)
}
