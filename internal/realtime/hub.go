package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/samovar-im/server/internal/domain"
	"github.com/samovar-im/server/internal/pubsub"
)

const maxMessageBodyLen = 10000

// MessageStore is the slice of the persistence layer used by socket-originated
// writes. Implemented by database.ConversationRepository.
type MessageStore interface {
	// CreateMessage persists a message and binds the given attachments to it
	CreateMessage(ctx context.Context, msg *domain.Message, attachmentIDs []uuid.UUID) error

	// MarkMessagesRead records read receipts for the reader and returns the
	// affected message ids grouped by their sender (the reader's own messages
	// are never included). Empty messageIDs means everything unread.
	MarkMessagesRead(ctx context.Context, convID, readerID uuid.UUID, messageIDs []uuid.UUID, readAt time.Time) (map[uuid.UUID][]uuid.UUID, error)
}

// Hub owns the four in-memory tables of the realtime core: the connection
// registry, the room index, the presence table, and the typing table. It is
// constructed once at process start and injected into every connection
// handler; a restart discards all of it and clients reconnect from scratch.
type Hub struct {
	registry   *Registry
	rooms      *Rooms
	presence   *PresenceTracker
	typing     *TypingTracker
	dispatcher *Dispatcher
	resolver   *Resolver

	convs    ConversationStore
	messages MessageStore
	ps       pubsub.PubSub

	// lifeMu makes each connection-count change atomic with its presence
	// transition. Without it a reconnect racing a teardown at the 1->0 edge
	// can land SetOffline after the new connection's SetOnline, wedging a
	// live user at offline.
	lifeMu sync.Mutex

	subMu    sync.Mutex
	roomSubs map[uuid.UUID]pubsub.Subscription
	userSubs map[uuid.UUID]pubsub.Subscription

	logger *slog.Logger
}

// NewHub creates a hub over the given collaborators
func NewHub(convs ConversationStore, messages MessageStore, ps pubsub.PubSub, logger *slog.Logger) *Hub {
	registry := NewRegistry()
	rooms := NewRooms()
	h := &Hub{
		registry:   registry,
		rooms:      rooms,
		presence:   NewPresenceTracker(),
		dispatcher: NewDispatcher(registry, rooms, logger),
		resolver:   NewResolver(convs, logger),
		convs:      convs,
		messages:   messages,
		ps:         ps,
		roomSubs:   make(map[uuid.UUID]pubsub.Subscription),
		userSubs:   make(map[uuid.UUID]pubsub.Subscription),
		logger:     logger,
	}
	h.typing = NewTypingTracker(DefaultTypingTimeout, h.typingExpired)
	return h
}

// Registry exposes the connection registry for read-only presence queries
func (h *Hub) Registry() *Registry { return h.registry }

// Presence exposes the presence table for read-only queries
func (h *Hub) Presence() *PresenceTracker { return h.presence }

// ============================================================================
// Connection lifecycle
// ============================================================================

// Connect registers a freshly-upgraded connection: registry insert, topic
// resolution and subscription, and the offline->online presence transition
// when this is the user's first connection.
func (h *Hub) Connect(ctx context.Context, c *Client) {
	userID := c.UserID()

	h.lifeMu.Lock()
	count := h.registry.Add(userID, c)
	var rec domain.Presence
	var announce bool
	if count == 1 {
		rec, announce = h.presence.SetOnline(userID)
	}
	h.lifeMu.Unlock()

	if count == 1 {
		h.ensureUserSubscription(userID)
	}

	// Fail-safe topic resolution: a store outage leaves the connection with
	// zero rooms, and the client retries via explicit room.join.
	topics, err := h.resolver.ResolveTopics(ctx, userID)
	if err != nil {
		h.logger.Warn("topic resolution failed, connection starts unsubscribed",
			"user_id", userID, "error", err)
	}
	for _, convID := range topics {
		h.subscribe(c, convID)
	}

	if announce {
		h.broadcastPresence(userID, rec, c.Rooms())
	}

	h.logger.Info("client connected",
		"user_id", userID, "conn_id", c.ID(), "connections", count, "rooms", len(topics))
}

// Disconnect tears a connection down. Idempotent: the transport may fire
// both an error and a close for the same connection, and the second call
// must not double-decrement anything or re-broadcast offline.
func (h *Hub) Disconnect(c *Client) {
	userID := c.UserID()
	roomIDs := c.Rooms()

	h.lifeMu.Lock()
	remaining, removed := h.registry.Remove(userID, c)
	var rec domain.Presence
	wentOffline := false
	if removed && remaining == 0 {
		rec = h.presence.SetOffline(userID)
		wentOffline = true
	}
	h.lifeMu.Unlock()
	if !removed {
		return
	}

	// Capture the presence audience before the room index forgets us
	peers := h.peersForRooms(userID, roomIDs)

	for _, roomID := range h.rooms.DropClient(c) {
		h.dropRoomSubscription(roomID)
	}
	c.close()

	if wentOffline {
		h.dropUserSubscription(userID)
		h.typing.PurgeUser(userID)
		h.sendPresenceTo(peers, rec)
	}

	h.logger.Info("client disconnected",
		"user_id", userID, "conn_id", c.ID(), "remaining", remaining)
}

// ============================================================================
// Inbound events
// ============================================================================

// HandleEvent processes one inbound client event
func (h *Hub) HandleEvent(ctx context.Context, c *Client, msg *Message) {
	switch msg.Type {
	case EventTypeTypingStart:
		h.handleTyping(ctx, c, msg.Payload, true)
	case EventTypeTypingStop:
		h.handleTyping(ctx, c, msg.Payload, false)
	case EventTypeMessageSend:
		h.handleMessageSend(ctx, c, msg.Payload)
	case EventTypeReceiptRead:
		h.handleReceiptRead(ctx, c, msg.Payload)
	case EventTypePresenceUpdate:
		h.handlePresenceUpdate(c, msg.Payload)
	case EventTypePresencePing:
		h.handlePresencePing(c)
	case EventTypePresenceList:
		h.handlePresenceList(c)
	case EventTypeRoomJoin:
		h.handleRoomJoin(ctx, c, msg.Payload)
	case EventTypeRoomLeave:
		h.handleRoomLeave(c, msg.Payload)
	default:
		c.sendError("unknown_event", "Unknown event type: "+msg.Type)
	}
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, payload json.RawMessage, start bool) {
	var p TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		c.sendError("invalid_payload", "Invalid typing payload")
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		c.sendError("invalid_conversation", "Invalid conversation ID")
		return
	}

	if start {
		if !h.ensureMembership(ctx, c, convID) {
			return
		}
		h.typing.Start(convID, c.UserID(), c.Username())
		h.dispatcher.SendToRoom(convID, EventTypeTyping, TypingBroadcastPayload{
			ConversationID: convID,
			UserID:         c.UserID(),
			Username:       c.Username(),
			IsTyping:       true,
		}, c.UserID())
		return
	}

	if h.typing.Stop(convID, c.UserID()) {
		h.dispatcher.SendToRoom(convID, EventTypeTyping, TypingBroadcastPayload{
			ConversationID: convID,
			UserID:         c.UserID(),
			Username:       c.Username(),
			IsTyping:       false,
		}, c.UserID())
	}
}

// typingExpired is the auto-expiry callback: the synthetic stop, delivered
// exactly as if the user had sent typing.stop.
func (h *Hub) typingExpired(convID, userID uuid.UUID, username string) {
	h.dispatcher.SendToRoom(convID, EventTypeTyping, TypingBroadcastPayload{
		ConversationID: convID,
		UserID:         userID,
		Username:       username,
		IsTyping:       false,
	}, userID)
}

func (h *Hub) handleMessageSend(ctx context.Context, c *Client, payload json.RawMessage) {
	var p MessageSendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("invalid_payload", "Invalid message payload")
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		c.sendError("invalid_conversation", "Invalid conversation ID")
		return
	}

	msgType := domain.MessageTypeText
	switch p.Type {
	case "", string(domain.MessageTypeText):
	case string(domain.MessageTypeMedia):
		msgType = domain.MessageTypeMedia
	default:
		c.sendError("invalid_type", "Message type must be 'text' or 'media'")
		return
	}

	if p.Body == "" && len(p.AttachmentIDs) == 0 {
		c.sendError("empty_message", "Message cannot be empty")
		return
	}
	if len(p.Body) > maxMessageBodyLen {
		c.sendError("message_too_long", "Message exceeds 10000 characters")
		return
	}

	var replyTo *uuid.UUID
	if p.ReplyTo != "" {
		id, err := uuid.Parse(p.ReplyTo)
		if err != nil {
			c.sendError("invalid_payload", "Invalid reply_to ID")
			return
		}
		replyTo = &id
	}

	attachmentIDs := make([]uuid.UUID, 0, len(p.AttachmentIDs))
	for _, idStr := range p.AttachmentIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			c.sendError("invalid_payload", "Invalid attachment ID: "+idStr)
			return
		}
		attachmentIDs = append(attachmentIDs, id)
	}

	if !h.ensureMembership(ctx, c, convID) {
		return
	}

	userID := c.UserID()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       &userID,
		Type:           msgType,
		Body:           p.Body,
		ReplyTo:        replyTo,
		CreatedAt:      time.Now(),
	}

	// Persist, then fan out. A store failure short-circuits here so no
	// participant ever sees a message that was not saved.
	if err := h.messages.CreateMessage(ctx, msg, attachmentIDs); err != nil {
		h.logger.Error("failed to save message", "error", err, "conversation_id", convID)
		c.sendError("save_failed", "Failed to save message")
		return
	}

	broadcast := MessageNewPayload{
		ID:             msg.ID,
		ConversationID: convID,
		SenderID:       userID,
		SenderUsername: c.Username(),
		Type:           msg.Type,
		Body:           msg.Body,
		ReplyTo:        msg.ReplyTo,
		CreatedAt:      msg.CreatedAt,
		TempID:         p.TempID,
		Attachments: lo.Map(msg.Attachments, func(a domain.Attachment, _ int) AttachmentPayload {
			return AttachmentPayload{
				ID:        a.ID,
				Filename:  a.Filename,
				MimeType:  a.MimeType,
				SizeBytes: a.SizeBytes,
			}
		}),
	}

	participants, err := h.convs.MemberIDs(ctx, convID)
	if err != nil {
		// The message is saved; deliver best-effort to live subscribers
		h.logger.Warn("participant lookup failed, falling back to room fan-out",
			"conversation_id", convID, "error", err)
		h.dispatcher.SendToRoom(convID, EventTypeMessageNew, broadcast, uuid.Nil)
		return
	}
	h.dispatcher.SendToConversation(participants, EventTypeMessageNew, broadcast, uuid.Nil)
}

func (h *Hub) handleReceiptRead(ctx context.Context, c *Client, payload json.RawMessage) {
	var p ReceiptReadPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		c.sendError("invalid_payload", "Invalid receipt payload")
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		c.sendError("invalid_conversation", "Invalid conversation ID")
		return
	}
	messageIDs := make([]uuid.UUID, 0, len(p.MessageIDs))
	for _, idStr := range p.MessageIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			c.sendError("invalid_payload", "Invalid message ID: "+idStr)
			return
		}
		messageIDs = append(messageIDs, id)
	}

	if !h.ensureMembership(ctx, c, convID) {
		return
	}

	readAt := time.Now()
	bySender, err := h.messages.MarkMessagesRead(ctx, convID, c.UserID(), messageIDs, readAt)
	if err != nil {
		h.logger.Error("failed to record read receipts", "error", err, "conversation_id", convID)
		c.sendError("save_failed", "Failed to record read receipts")
		return
	}

	// Notify each sender that their messages were read; nobody is excluded,
	// so the sender's every open tab updates.
	for senderID, ids := range bySender {
		h.dispatcher.SendToUser(senderID, EventTypeReceiptUpdated, ReceiptUpdatedPayload{
			ConversationID: convID,
			MessageIDs:     ids,
			ReadBy:         c.UserID(),
			ReadAt:         readAt,
		})
	}
}

func (h *Hub) handlePresenceUpdate(c *Client, payload json.RawMessage) {
	var p PresenceUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("invalid_payload", "Invalid presence payload")
		return
	}
	status, ok := domain.ParsePresenceStatus(p.Status)
	if !ok {
		// Invalid values (including "offline") are ignored
		h.logger.Debug("ignoring invalid presence status", "status", p.Status, "user_id", c.UserID())
		return
	}
	// An anomalous request from a user with no live connection is dropped,
	// never a crash
	if !h.registry.IsOnline(c.UserID()) {
		return
	}
	rec := h.presence.SetStatus(c.UserID(), status)
	h.broadcastPresence(c.UserID(), rec, h.userRoomIDs(c.UserID()))
}

func (h *Hub) handlePresencePing(c *Client) {
	if rec, changed := h.presence.Ping(c.UserID()); changed {
		h.broadcastPresence(c.UserID(), rec, h.userRoomIDs(c.UserID()))
	}
}

func (h *Hub) handlePresenceList(c *Client) {
	peers := h.peersForRooms(c.UserID(), h.userRoomIDs(c.UserID()))
	records := h.presence.Snapshot(peers)

	users := lo.Map(records, func(rec domain.Presence, _ int) PresenceBroadcastPayload {
		return presencePayload(rec)
	})
	msg, err := NewMessage(EventTypePresenceOnline, PresenceOnlinePayload{Users: users})
	if err != nil {
		return
	}
	_ = c.Send(msg)
}

func (h *Hub) handleRoomJoin(ctx context.Context, c *Client, payload json.RawMessage) {
	var p RoomJoinPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		c.sendError("invalid_payload", "Invalid room join payload")
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		c.sendError("invalid_conversation", "Invalid conversation ID")
		return
	}

	isMember, err := h.convs.IsMember(ctx, convID, c.UserID())
	if err != nil {
		c.sendError("membership_check_failed", "Could not verify membership")
		return
	}
	if !isMember {
		c.sendError("not_member", "Not a member of this conversation")
		return
	}

	h.subscribe(c, convID)

	msg, err := NewMessage(EventTypeRoomJoined, RoomJoinedPayload{ConversationID: convID})
	if err != nil {
		return
	}
	_ = c.Send(msg)
}

func (h *Hub) handleRoomLeave(c *Client, payload json.RawMessage) {
	var p RoomLeavePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		return
	}
	h.unsubscribe(c, convID)
}

// ============================================================================
// Topic subscription
// ============================================================================

func (h *Hub) subscribe(c *Client, convID uuid.UUID) {
	c.JoinRoom(convID)
	if first := h.rooms.Join(convID, c); first {
		h.ensureRoomSubscription(convID)
	}
}

func (h *Hub) unsubscribe(c *Client, convID uuid.UUID) {
	c.LeaveRoom(convID)
	if empty := h.rooms.Leave(convID, c); empty {
		h.dropRoomSubscription(convID)
	}
}

// ensureMembership checks that the connection may act on the conversation.
// A connection already subscribed to the topic was verified at subscribe
// time; otherwise the store is consulted and a member is lazily subscribed
// (this is the retry path after a failed resolve at connect time).
func (h *Hub) ensureMembership(ctx context.Context, c *Client, convID uuid.UUID) bool {
	if c.IsInRoom(convID) {
		return true
	}
	isMember, err := h.convs.IsMember(ctx, convID, c.UserID())
	if err != nil {
		c.sendError("membership_check_failed", "Could not verify membership")
		return false
	}
	if !isMember {
		c.sendError("not_member", "Not a member of this conversation")
		return false
	}
	h.subscribe(c, convID)
	return true
}

// ============================================================================
// Presence broadcast
// ============================================================================

// broadcastPresence delivers a presence change to users sharing a
// conversation with the subject, plus the subject's own connections so other
// tabs stay in sync. Scoped, never global.
func (h *Hub) broadcastPresence(userID uuid.UUID, rec domain.Presence, roomIDs []uuid.UUID) {
	h.sendPresenceTo(h.peersForRooms(userID, roomIDs), rec)
	h.dispatcher.SendToUser(userID, EventTypePresence, presencePayload(rec))
}

func (h *Hub) sendPresenceTo(peers []uuid.UUID, rec domain.Presence) {
	payload := presencePayload(rec)
	for _, peerID := range peers {
		h.dispatcher.SendToUser(peerID, EventTypePresence, payload)
	}
}

// peersForRooms returns the distinct users with live connections in any of
// the given rooms, excluding the subject.
func (h *Hub) peersForRooms(subject uuid.UUID, roomIDs []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{subject: {}}
	var peers []uuid.UUID
	for _, roomID := range roomIDs {
		for _, id := range h.rooms.UserIDs(roomID) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			peers = append(peers, id)
		}
	}
	return peers
}

// userRoomIDs returns the union of topics across all the user's connections
func (h *Hub) userRoomIDs(userID uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, c := range h.registry.ConnectionsFor(userID) {
		for _, roomID := range c.Rooms() {
			if _, ok := seen[roomID]; ok {
				continue
			}
			seen[roomID] = struct{}{}
			ids = append(ids, roomID)
		}
	}
	return ids
}

// ============================================================================
// PubSub bridge
// ============================================================================

// ensureRoomSubscription opens the pubsub bridge for a room the first time a
// local connection subscribes to it. Events published by the REST layer (or
// by another instance when the Redis backend is in use) are fanned out to
// the room's local connections.
//
// Subscribe can be a network round-trip on the Redis backend, so it runs
// outside subMu: the slot is reserved with a nil entry first, which keeps
// concurrent callers from double-subscribing without serializing every
// lifecycle change behind I/O.
func (h *Hub) ensureRoomSubscription(roomID uuid.UUID) {
	h.subMu.Lock()
	if _, ok := h.roomSubs[roomID]; ok {
		h.subMu.Unlock()
		return
	}
	h.roomSubs[roomID] = nil
	h.subMu.Unlock()

	topic := pubsub.Topics.Room(roomID.String())
	sub, err := h.ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *pubsub.Message) {
		h.handleRoomEvent(roomID, msg)
	})

	h.subMu.Lock()
	_, reserved := h.roomSubs[roomID]
	keep := err == nil && reserved
	if keep {
		h.roomSubs[roomID] = sub
	} else if reserved {
		delete(h.roomSubs, roomID)
	}
	h.subMu.Unlock()

	if err != nil {
		h.logger.Error("room subscription failed", "topic", topic, "error", err)
		return
	}
	if !keep {
		// The room emptied while the subscribe was in flight
		_ = sub.Unsubscribe()
	}
}

func (h *Hub) dropRoomSubscription(roomID uuid.UUID) {
	h.subMu.Lock()
	if len(h.rooms.Clients(roomID)) > 0 {
		// A connection joined while the last one was leaving
		h.subMu.Unlock()
		return
	}
	sub, ok := h.roomSubs[roomID]
	delete(h.roomSubs, roomID)
	h.subMu.Unlock()

	if ok && sub != nil {
		_ = sub.Unsubscribe()
	}
}

func (h *Hub) ensureUserSubscription(userID uuid.UUID) {
	h.subMu.Lock()
	if _, ok := h.userSubs[userID]; ok {
		h.subMu.Unlock()
		return
	}
	h.userSubs[userID] = nil
	h.subMu.Unlock()

	topic := pubsub.Topics.User(userID.String())
	sub, err := h.ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *pubsub.Message) {
		h.handleUserEvent(userID, msg)
	})

	h.subMu.Lock()
	_, reserved := h.userSubs[userID]
	keep := err == nil && reserved
	if keep {
		h.userSubs[userID] = sub
	} else if reserved {
		delete(h.userSubs, userID)
	}
	h.subMu.Unlock()

	if err != nil {
		h.logger.Error("user subscription failed", "topic", topic, "error", err)
		return
	}
	if !keep {
		_ = sub.Unsubscribe()
	}
}

func (h *Hub) dropUserSubscription(userID uuid.UUID) {
	h.subMu.Lock()
	if h.registry.IsOnline(userID) {
		// The user reconnected before this teardown ran; the new
		// connection still needs the bridge.
		h.subMu.Unlock()
		return
	}
	sub, ok := h.userSubs[userID]
	delete(h.userSubs, userID)
	h.subMu.Unlock()

	if ok && sub != nil {
		_ = sub.Unsubscribe()
	}
}

// handleRoomEvent forwards a bridged event to the room's local connections.
// A member removal additionally force-unsubscribes the removed user's
// connections: topic sets are kept in sync with the external membership.
func (h *Hub) handleRoomEvent(roomID uuid.UUID, msg *pubsub.Message) {
	if msg.Type == EventTypeMemberLeft {
		var p MemberLeftPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.logger.Error("invalid member_left payload", "room_id", roomID, "error", err)
			return
		}
		// Deliver first so the removed user learns about it, then detach
		h.dispatcher.SendRawToRoom(roomID, msg.Type, msg.Payload, uuid.Nil)
		for _, c := range h.registry.ConnectionsFor(p.UserID) {
			if c.IsInRoom(roomID) {
				h.unsubscribe(c, roomID)
			}
		}
		return
	}
	h.dispatcher.SendRawToRoom(roomID, msg.Type, msg.Payload, uuid.Nil)
}

// handleUserEvent forwards a user-targeted bridged event. Being added to a
// conversation subscribes the user's live connections to its topic.
func (h *Hub) handleUserEvent(userID uuid.UUID, msg *pubsub.Message) {
	if msg.Type == EventTypeConvAdded {
		var p ConvAddedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.logger.Error("invalid conversation.added payload", "user_id", userID, "error", err)
			return
		}
		for _, c := range h.registry.ConnectionsFor(userID) {
			h.subscribe(c, p.ConversationID)
		}
	}
	h.dispatcher.SendRawToUser(userID, msg.Type, msg.Payload)
}

// Close tears down the pubsub bridge subscriptions
func (h *Hub) Close() {
	h.subMu.Lock()
	subs := make([]pubsub.Subscription, 0, len(h.roomSubs)+len(h.userSubs))
	for id, sub := range h.roomSubs {
		if sub != nil {
			subs = append(subs, sub)
		}
		delete(h.roomSubs, id)
	}
	for id, sub := range h.userSubs {
		if sub != nil {
			subs = append(subs, sub)
		}
		delete(h.userSubs, id)
	}
	h.subMu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}
