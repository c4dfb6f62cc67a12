package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Registry maps a user id to the set of currently-open connections for that
// user. A user id is present iff its set is non-empty; empty sets are pruned
// in the same critical section that empties them.
//
// Process-wide, in-memory only. A restart discards it and every client is
// expected to reconnect.
type Registry struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[*Client]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[uuid.UUID]map[*Client]struct{}),
	}
}

// Add inserts the connection into the user's set, creating the set if
// absent, and returns the resulting connection count. Adding the same
// connection twice is a no-op (set semantics).
func (r *Registry) Add(userID uuid.UUID, c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = make(map[*Client]struct{})
		r.users[userID] = set
	}
	set[c] = struct{}{}
	return len(set)
}

// Remove deletes the connection from the user's set, pruning the key when
// the set empties. It returns the remaining count and whether this call
// actually removed the connection, so a double disconnect can be detected
// and the zero-connections transition triggered exactly once.
func (r *Registry) Remove(userID uuid.UUID, c *Client) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		return 0, false
	}
	if _, present := set[c]; !present {
		return len(set), false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.users, userID)
		return 0, true
	}
	return len(set), true
}

// ConnectionsFor returns a snapshot of the user's live connections.
// Unknown users get an empty slice, never an error.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	return clients
}

// Count returns the number of live connections for a user
func (r *Registry) Count(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// IsOnline reports whether the user has any live connection
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	return r.Count(userID) > 0
}

// OnlineUserIDs returns a snapshot of all user ids with live connections
func (r *Registry) OnlineUserIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}
