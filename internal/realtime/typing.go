package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTypingTimeout is how long a typing indicator lives without a refresh
const DefaultTypingTimeout = 3 * time.Second

// ExpireFunc is invoked when an entry times out (or is purged on disconnect),
// exactly as if the user had sent typing.stop. Called without the tracker
// lock held.
type ExpireFunc func(conversationID, userID uuid.UUID, username string)

type typingEntry struct {
	username string
	timer    *time.Timer
	gen      uint64
}

// TypingTracker keeps a per-conversation set of currently-typing users with
// auto-expiry. Every start schedules a cancellable removal; a repeated start
// for the same (conversation, user) pair resets that timer instead of
// stacking a second one. A generation counter guards against an already-fired
// timer racing a concurrent refresh.
type TypingTracker struct {
	mu       sync.Mutex
	timeout  time.Duration
	onExpire ExpireFunc
	convs    map[uuid.UUID]map[uuid.UUID]*typingEntry
	gen      uint64
}

// NewTypingTracker creates a tracker. onExpire must be non-nil.
func NewTypingTracker(timeout time.Duration, onExpire ExpireFunc) *TypingTracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingTracker{
		timeout:  timeout,
		onExpire: onExpire,
		convs:    make(map[uuid.UUID]map[uuid.UUID]*typingEntry),
	}
}

// Start records or refreshes the typing entry for the pair. Any pending
// expiry timer is cancelled and replaced atomically.
func (t *TypingTracker) Start(conversationID, userID uuid.UUID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.convs[conversationID]
	if !ok {
		users = make(map[uuid.UUID]*typingEntry)
		t.convs[conversationID] = users
	}

	t.gen++
	gen := t.gen

	if e, ok := users[userID]; ok {
		e.timer.Stop()
		e.gen = gen
		e.username = username
		e.timer = t.scheduleExpiry(conversationID, userID, gen)
		return
	}

	users[userID] = &typingEntry{
		username: username,
		gen:      gen,
		timer:    t.scheduleExpiry(conversationID, userID, gen),
	}
}

func (t *TypingTracker) scheduleExpiry(conversationID, userID uuid.UUID, gen uint64) *time.Timer {
	return time.AfterFunc(t.timeout, func() {
		t.expire(conversationID, userID, gen)
	})
}

// expire removes the entry if this timer is still the current one. A stale
// timer that lost the race to a refresh finds a newer generation and yields.
func (t *TypingTracker) expire(conversationID, userID uuid.UUID, gen uint64) {
	t.mu.Lock()
	users := t.convs[conversationID]
	e, ok := users[userID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.convs, conversationID)
	}
	t.mu.Unlock()

	t.onExpire(conversationID, userID, e.username)
}

// Stop removes the entry and cancels its timer, short-circuiting the expiry.
// Reports whether an entry existed; stopping an absent pair is a no-op.
func (t *TypingTracker) Stop(conversationID, userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.convs[conversationID]
	if !ok {
		return false
	}
	e, ok := users[userID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.convs, conversationID)
	}
	return true
}

// PurgeUser removes every entry for the user across all conversations,
// firing onExpire for each so peers see the indicator clear. Used on full
// disconnect so a hard-closed client leaves no ghost typing behind.
func (t *TypingTracker) PurgeUser(userID uuid.UUID) {
	type purged struct {
		conversationID uuid.UUID
		username       string
	}

	t.mu.Lock()
	var removed []purged
	for convID, users := range t.convs {
		if e, ok := users[userID]; ok {
			e.timer.Stop()
			delete(users, userID)
			if len(users) == 0 {
				delete(t.convs, convID)
			}
			removed = append(removed, purged{conversationID: convID, username: e.username})
		}
	}
	t.mu.Unlock()

	for _, p := range removed {
		t.onExpire(p.conversationID, userID, p.username)
	}
}

// TypingUsers returns the user ids currently typing in a conversation
func (t *TypingTracker) TypingUsers(conversationID uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.convs[conversationID]
	ids := make([]uuid.UUID, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	return ids
}
