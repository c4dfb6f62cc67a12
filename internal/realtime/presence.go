package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samovar-im/server/internal/domain"
)

// PresenceTracker holds each user's availability record. Transitions between
// offline and online are driven by the Registry's connection count; away and
// busy are lateral substates a connected client may request. Offline is
// reachable only through the last-connection-closed path.
type PresenceTracker struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.Presence
}

// NewPresenceTracker creates an empty tracker
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		records: make(map[uuid.UUID]domain.Presence),
	}
}

// SetOnline is called on the 0->1 connection transition. It reports whether
// the status actually changed, so a second tab opening does not re-broadcast.
func (p *PresenceTracker) SetOnline(userID uuid.UUID) (domain.Presence, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[userID]
	if ok && rec.Status != domain.PresenceOffline {
		return rec, false
	}
	rec = domain.Presence{UserID: userID, Status: domain.PresenceOnline, LastSeen: time.Now()}
	p.records[userID] = rec
	return rec, true
}

// SetOffline is called on the N->0 connection transition
func (p *PresenceTracker) SetOffline(userID uuid.UUID) domain.Presence {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := domain.Presence{UserID: userID, Status: domain.PresenceOffline, LastSeen: time.Now()}
	p.records[userID] = rec
	return rec
}

// SetStatus applies an explicit client-requested status (online, away, busy).
// The caller is responsible for checking the user still has a live connection.
func (p *PresenceTracker) SetStatus(userID uuid.UUID, status domain.PresenceStatus) domain.Presence {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := domain.Presence{UserID: userID, Status: status, LastSeen: time.Now()}
	p.records[userID] = rec
	return rec
}

// Ping records activity. A user who was away recovers to online; reports
// whether anything changed.
func (p *PresenceTracker) Ping(userID uuid.UUID) (domain.Presence, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[userID]
	if !ok || rec.Status != domain.PresenceAway {
		return rec, false
	}
	rec.Status = domain.PresenceOnline
	rec.LastSeen = time.Now()
	p.records[userID] = rec
	return rec, true
}

// Get returns the user's record; unknown users are offline
func (p *PresenceTracker) Get(userID uuid.UUID) domain.Presence {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[userID]
	if !ok {
		return domain.Presence{UserID: userID, Status: domain.PresenceOffline}
	}
	return rec
}

// Snapshot returns the non-offline records among the given users
func (p *PresenceTracker) Snapshot(userIDs []uuid.UUID) []domain.Presence {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Presence, 0, len(userIDs))
	for _, id := range userIDs {
		if rec, ok := p.records[id]; ok && rec.Status != domain.PresenceOffline {
			out = append(out, rec)
		}
	}
	return out
}
