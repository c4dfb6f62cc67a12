package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ConversationStore is the slice of the persistence layer the realtime core
// consumes. Implemented by database.ConversationRepository.
type ConversationStore interface {
	// ConversationIDsFor lists the conversations the user participates in
	ConversationIDsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// IsMember checks active participation in one conversation
	IsMember(ctx context.Context, convID, userID uuid.UUID) (bool, error)

	// MemberIDs lists the participant user ids of a conversation
	MemberIDs(ctx context.Context, convID uuid.UUID) ([]uuid.UUID, error)
}

// Rooms indexes live connections by subscribed conversation topic. It is the
// derived grouping used for room-scoped fan-out; the authoritative membership
// lives in the conversation store.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Client]struct{}
}

// NewRooms creates an empty room index
func NewRooms() *Rooms {
	return &Rooms{
		rooms: make(map[uuid.UUID]map[*Client]struct{}),
	}
}

// Join adds the connection to the room set and reports whether it was the
// room's first subscriber (the hub then opens the pubsub bridge for it).
func (r *Rooms) Join(roomID uuid.UUID, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[*Client]struct{})
		r.rooms[roomID] = set
	}
	set[c] = struct{}{}
	return !ok
}

// Leave removes the connection and reports whether the room emptied
func (r *Rooms) Leave(roomID uuid.UUID, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

// DropClient removes the connection from every room, returning the ids of
// rooms that emptied as a result.
func (r *Rooms) DropClient(c *Client) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var emptied []uuid.UUID
	for roomID, set := range r.rooms {
		if _, ok := set[c]; !ok {
			continue
		}
		delete(set, c)
		if len(set) == 0 {
			delete(r.rooms, roomID)
			emptied = append(emptied, roomID)
		}
	}
	return emptied
}

// Clients returns a snapshot of the room's live connections
func (r *Rooms) Clients(roomID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[roomID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	return clients
}

// UserIDs returns the distinct user ids with a live connection in the room
func (r *Rooms) UserIDs(roomID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for c := range r.rooms[roomID] {
		if _, ok := seen[c.UserID()]; ok {
			continue
		}
		seen[c.UserID()] = struct{}{}
		ids = append(ids, c.UserID())
	}
	return ids
}

// Resolver maps a user to the conversation topics their connections should
// subscribe to, by asking the conversation store.
type Resolver struct {
	store  ConversationStore
	logger *slog.Logger
}

// NewResolver creates a resolver backed by the conversation store
func NewResolver(store ConversationStore, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// ResolveTopics returns the conversation ids the user participates in.
// A store failure is returned to the caller, which treats the connection as
// having zero resolved topics for this attempt: no subscription, not a crash.
// The client can retry through an explicit room.join.
func (r *Resolver) ResolveTopics(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := r.store.ConversationIDsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve topics for %s: %w", userID, err)
	}
	return ids, nil
}
