package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationTypeDM    ConversationType = "dm"
	ConversationTypeGroup ConversationType = "group"
)

type MemberRole string

const (
	MemberRoleMember MemberRole = "member"
	MemberRoleAdmin  MemberRole = "admin"
)

// Conversation represents a chat (DM or group)
type Conversation struct {
	ID        uuid.UUID        `json:"id"`
	Type      ConversationType `json:"type"`
	Title     string           `json:"title,omitempty"` // only for groups
	CreatedBy *uuid.UUID       `json:"created_by,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`

	// Populated on fetch
	Members []ConversationMember `json:"members,omitempty"`
}

// ConversationMember represents a user's membership in a conversation
type ConversationMember struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Role           MemberRole `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`

	// Populated on fetch
	User *PublicUser `json:"user,omitempty"`
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeMedia MessageType = "media"
	MessageTypePoll  MessageType = "poll"
)

// Message represents a chat message
type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       *uuid.UUID  `json:"sender_id,omitempty"` // nil if sender deleted
	Type           MessageType `json:"type"`
	Body           string      `json:"body"`
	ReplyTo        *uuid.UUID  `json:"reply_to,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`

	// Populated on fetch
	Sender      *PublicUser  `json:"sender,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Poll        *Poll        `json:"poll,omitempty"`
}

// Reaction is an emoji reaction on a message
type Reaction struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Poll is attached to a message of type "poll"
type Poll struct {
	MessageID uuid.UUID    `json:"message_id"`
	Question  string       `json:"question"`
	Options   []PollOption `json:"options"`
}

// PollOption is one choice in a poll, addressed by index
type PollOption struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	VoteCount int    `json:"vote_count"`
}

// MessageReceipt tracks read status per user
type MessageReceipt struct {
	MessageID uuid.UUID  `json:"message_id"`
	UserID    uuid.UUID  `json:"user_id"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}
