package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samovar-im/server/internal/domain"
)

func TestPresence_UnknownUserIsOffline(t *testing.T) {
	p := NewPresenceTracker()

	rec := p.Get(uuid.New())
	assert.Equal(t, domain.PresenceOffline, rec.Status)
}

func TestPresence_SetOnlineChangesOnce(t *testing.T) {
	p := NewPresenceTracker()
	userID := uuid.New()

	rec, changed := p.SetOnline(userID)
	assert.True(t, changed)
	assert.Equal(t, domain.PresenceOnline, rec.Status)

	// Second tab opening: the user is already online, nothing to broadcast.
	_, changed = p.SetOnline(userID)
	assert.False(t, changed)
}

func TestPresence_SetOnlineDoesNotClobberExplicitStatus(t *testing.T) {
	p := NewPresenceTracker()
	userID := uuid.New()

	p.SetOnline(userID)
	p.SetStatus(userID, domain.PresenceBusy)

	// Another connection opens while the user is busy; busy must survive.
	_, changed := p.SetOnline(userID)
	assert.False(t, changed)
	assert.Equal(t, domain.PresenceBusy, p.Get(userID).Status)
}

func TestPresence_SetOffline(t *testing.T) {
	p := NewPresenceTracker()
	userID := uuid.New()

	p.SetOnline(userID)
	rec := p.SetOffline(userID)

	assert.Equal(t, domain.PresenceOffline, rec.Status)
	assert.Equal(t, domain.PresenceOffline, p.Get(userID).Status)
}

func TestPresence_PingRecoversFromAway(t *testing.T) {
	p := NewPresenceTracker()
	userID := uuid.New()

	p.SetOnline(userID)
	p.SetStatus(userID, domain.PresenceAway)

	rec, changed := p.Ping(userID)
	assert.True(t, changed)
	assert.Equal(t, domain.PresenceOnline, rec.Status)
}

func TestPresence_PingNoOpWhenNotAway(t *testing.T) {
	p := NewPresenceTracker()
	userID := uuid.New()

	p.SetOnline(userID)
	_, changed := p.Ping(userID)
	assert.False(t, changed, "ping while online changes nothing")

	p.SetStatus(userID, domain.PresenceBusy)
	_, changed = p.Ping(userID)
	assert.False(t, changed, "ping must not override busy")

	_, changed = p.Ping(uuid.New())
	assert.False(t, changed, "ping for unknown user is a no-op")
}

func TestPresence_SnapshotFiltersOffline(t *testing.T) {
	p := NewPresenceTracker()
	online := uuid.New()
	busy := uuid.New()
	offline := uuid.New()

	p.SetOnline(online)
	p.SetOnline(busy)
	p.SetStatus(busy, domain.PresenceBusy)
	p.SetOnline(offline)
	p.SetOffline(offline)

	records := p.Snapshot([]uuid.UUID{online, busy, offline, uuid.New()})
	require.Len(t, records, 2)

	statuses := map[uuid.UUID]domain.PresenceStatus{}
	for _, rec := range records {
		statuses[rec.UserID] = rec.Status
	}
	assert.Equal(t, domain.PresenceOnline, statuses[online])
	assert.Equal(t, domain.PresenceBusy, statuses[busy])
}
