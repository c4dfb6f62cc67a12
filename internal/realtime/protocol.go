package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/samovar-im/server/internal/domain"
)

// Event types for client -> server
const (
	EventTypeTypingStart    = "typing.start"
	EventTypeTypingStop     = "typing.stop"
	EventTypeMessageSend    = "message.send"
	EventTypeReceiptRead    = "receipt.read"
	EventTypePresenceUpdate = "presence.update"
	EventTypePresencePing   = "presence.ping"
	EventTypePresenceList   = "presence.list"
	EventTypeRoomJoin       = "room.join"
	EventTypeRoomLeave      = "room.leave"
)

// Event types for server -> client
const (
	EventTypeError           = "error"
	EventTypeMessageNew      = "message.new"
	EventTypeMessageUpdated  = "message.updated"
	EventTypeMessageDeleted  = "message.deleted"
	EventTypeMessageReaction = "message.reaction"
	EventTypePollVote        = "poll.vote"
	EventTypeTyping          = "typing"
	EventTypeReceiptUpdated  = "receipt.updated"
	EventTypePresence        = "presence"
	EventTypePresenceOnline  = "presence.online"
	EventTypeRoomJoined      = "room.joined"
	EventTypeMemberJoined    = "room.member_joined"
	EventTypeMemberLeft      = "room.member_left"
	EventTypeConvAdded       = "conversation.added"
)

// Message is the base WebSocket message envelope
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewMessage creates a message with the current timestamp
func NewMessage(eventType string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      eventType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// TypingPayload for typing.start / typing.stop
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessageSendPayload for sending a message over the socket
type MessageSendPayload struct {
	ConversationID string   `json:"conversation_id"`
	Type           string   `json:"type,omitempty"` // "text" (default) or "media"
	Body           string   `json:"body"`
	ReplyTo        string   `json:"reply_to,omitempty"`
	AttachmentIDs  []string `json:"attachment_ids,omitempty"`
	TempID         string   `json:"temp_id,omitempty"` // client-side temp ID for optimistic UI
}

// ReceiptReadPayload marks messages in a conversation as read.
// Empty MessageIDs means "everything unread in this conversation".
type ReceiptReadPayload struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids,omitempty"`
}

// PresenceUpdatePayload for explicit status changes
type PresenceUpdatePayload struct {
	Status string `json:"status"` // online, away, busy
}

// RoomJoinPayload for subscribing to a conversation topic
type RoomJoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

// RoomLeavePayload for unsubscribing from a conversation topic
type RoomLeavePayload struct {
	ConversationID string `json:"conversation_id"`
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ErrorPayload for error responses
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageNewPayload broadcasts a new message to conversation participants
type MessageNewPayload struct {
	ID             uuid.UUID           `json:"id"`
	ConversationID uuid.UUID           `json:"conversation_id"`
	SenderID       uuid.UUID           `json:"sender_id"`
	SenderUsername string              `json:"sender_username"`
	Type           domain.MessageType  `json:"type"`
	Body           string              `json:"body"`
	ReplyTo        *uuid.UUID          `json:"reply_to,omitempty"`
	Attachments    []AttachmentPayload `json:"attachments,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	TempID         string              `json:"temp_id,omitempty"` // echo back for sender
}

// AttachmentPayload contains attachment details
type AttachmentPayload struct {
	ID        uuid.UUID `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
}

// MessageUpdatedPayload broadcasts a message edit
type MessageUpdatedPayload struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Body           string    `json:"body"`
	EditedAt       time.Time `json:"edited_at"`
}

// MessageDeletedPayload broadcasts a message deletion
type MessageDeletedPayload struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	DeletedBy      uuid.UUID `json:"deleted_by"`
}

// MessageReactionPayload broadcasts a reaction being added or removed
type MessageReactionPayload struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Emoji          string    `json:"emoji"`
	Removed        bool      `json:"removed,omitempty"`
}

// PollVotePayload broadcasts a poll vote
type PollVotePayload struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	OptionIndex    int       `json:"option_index"`
}

// TypingBroadcastPayload broadcasts typing status to other participants
type TypingBroadcastPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Username       string    `json:"username"`
	IsTyping       bool      `json:"is_typing"`
}

// ReceiptUpdatedPayload notifies a sender that their messages were read
type ReceiptUpdatedPayload struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
	ReadBy         uuid.UUID   `json:"read_by"`
	ReadAt         time.Time   `json:"read_at"`
}

// PresenceBroadcastPayload for status changes
type PresenceBroadcastPayload struct {
	UserID   uuid.UUID             `json:"user_id"`
	Status   domain.PresenceStatus `json:"status"`
	LastSeen time.Time             `json:"last_seen"`
}

// PresenceOnlinePayload answers a presence.list request
type PresenceOnlinePayload struct {
	Users []PresenceBroadcastPayload `json:"users"`
}

// RoomJoinedPayload confirms a topic subscription
type RoomJoinedPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// MemberJoinedPayload notifies room members that a member was added
type MemberJoinedPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Username       string    `json:"username"`
	Role           string    `json:"role"`
	AddedBy        uuid.UUID `json:"added_by"`
}

// MemberLeftPayload notifies room members that a member left or was removed
type MemberLeftPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	RemovedBy      uuid.UUID `json:"removed_by"`
}

// ConvAddedPayload tells a user they were added to a conversation
type ConvAddedPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

func presencePayload(p domain.Presence) PresenceBroadcastPayload {
	return PresenceBroadcastPayload{
		UserID:   p.UserID,
		Status:   p.Status,
		LastSeen: p.LastSeen,
	}
}
