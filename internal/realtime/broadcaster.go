package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/samovar-im/server/internal/pubsub"
)

// Broadcaster lets the REST layer push events into the realtime fan-out
// without coupling to the WebSocket implementation. Events travel through
// the PubSub bridge, so with the Redis backend they reach every instance.
type Broadcaster interface {
	// MessageCreated announces a message persisted through the REST API
	MessageCreated(ctx context.Context, payload MessageNewPayload) error

	// MessageUpdated announces an edit
	MessageUpdated(ctx context.Context, convID, messageID uuid.UUID, body string, editedAt time.Time) error

	// MessageDeleted announces a deletion
	MessageDeleted(ctx context.Context, convID, messageID, deletedBy uuid.UUID) error

	// MessageReaction announces a reaction added or removed
	MessageReaction(ctx context.Context, convID, messageID, userID uuid.UUID, emoji string, removed bool) error

	// PollVoted announces a poll vote
	PollVoted(ctx context.Context, convID, messageID, userID uuid.UUID, optionIndex int) error

	// MemberJoined notifies room members that a member was added
	MemberJoined(ctx context.Context, convID, userID uuid.UUID, username, role string, addedBy uuid.UUID) error

	// MemberLeft notifies room members that a member left or was removed;
	// the hub also detaches the removed user's connections from the topic
	MemberLeft(ctx context.Context, convID, userID, removedBy uuid.UUID) error

	// ConversationAdded tells a user they were added to a conversation so
	// their live connections can subscribe to its topic
	ConversationAdded(ctx context.Context, userID, convID uuid.UUID) error
}

// PubSubBroadcaster implements Broadcaster on top of the PubSub system
type PubSubBroadcaster struct {
	ps pubsub.PubSub
}

// NewPubSubBroadcaster creates a broadcaster over the given pubsub backend
func NewPubSubBroadcaster(ps pubsub.PubSub) *PubSubBroadcaster {
	return &PubSubBroadcaster{ps: ps}
}

func (b *PubSubBroadcaster) MessageCreated(ctx context.Context, payload MessageNewPayload) error {
	return b.toRoom(ctx, payload.ConversationID, EventTypeMessageNew, payload)
}

func (b *PubSubBroadcaster) MessageUpdated(ctx context.Context, convID, messageID uuid.UUID, body string, editedAt time.Time) error {
	return b.toRoom(ctx, convID, EventTypeMessageUpdated, MessageUpdatedPayload{
		MessageID:      messageID,
		ConversationID: convID,
		Body:           body,
		EditedAt:       editedAt,
	})
}

func (b *PubSubBroadcaster) MessageDeleted(ctx context.Context, convID, messageID, deletedBy uuid.UUID) error {
	return b.toRoom(ctx, convID, EventTypeMessageDeleted, MessageDeletedPayload{
		MessageID:      messageID,
		ConversationID: convID,
		DeletedBy:      deletedBy,
	})
}

func (b *PubSubBroadcaster) MessageReaction(ctx context.Context, convID, messageID, userID uuid.UUID, emoji string, removed bool) error {
	return b.toRoom(ctx, convID, EventTypeMessageReaction, MessageReactionPayload{
		MessageID:      messageID,
		ConversationID: convID,
		UserID:         userID,
		Emoji:          emoji,
		Removed:        removed,
	})
}

func (b *PubSubBroadcaster) PollVoted(ctx context.Context, convID, messageID, userID uuid.UUID, optionIndex int) error {
	return b.toRoom(ctx, convID, EventTypePollVote, PollVotePayload{
		MessageID:      messageID,
		ConversationID: convID,
		UserID:         userID,
		OptionIndex:    optionIndex,
	})
}

func (b *PubSubBroadcaster) MemberJoined(ctx context.Context, convID, userID uuid.UUID, username, role string, addedBy uuid.UUID) error {
	return b.toRoom(ctx, convID, EventTypeMemberJoined, MemberJoinedPayload{
		ConversationID: convID,
		UserID:         userID,
		Username:       username,
		Role:           role,
		AddedBy:        addedBy,
	})
}

func (b *PubSubBroadcaster) MemberLeft(ctx context.Context, convID, userID, removedBy uuid.UUID) error {
	return b.toRoom(ctx, convID, EventTypeMemberLeft, MemberLeftPayload{
		ConversationID: convID,
		UserID:         userID,
		RemovedBy:      removedBy,
	})
}

func (b *PubSubBroadcaster) ConversationAdded(ctx context.Context, userID, convID uuid.UUID) error {
	return b.publish(ctx, pubsub.Topics.User(userID.String()), EventTypeConvAdded, ConvAddedPayload{
		ConversationID: convID,
	})
}

func (b *PubSubBroadcaster) toRoom(ctx context.Context, convID uuid.UUID, eventType string, payload interface{}) error {
	return b.publish(ctx, pubsub.Topics.Room(convID.String()), eventType, payload)
}

func (b *PubSubBroadcaster) publish(ctx context.Context, topic, eventType string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.ps.Publish(ctx, topic, &pubsub.Message{
		Topic:   topic,
		Type:    eventType,
		Payload: payloadBytes,
	})
}
