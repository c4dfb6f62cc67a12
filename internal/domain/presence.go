package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is a user's availability, independent of any single connection.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// ParsePresenceStatus validates a client-supplied status. Offline is not a
// client-settable status: it is reserved for the zero-connections transition.
func ParsePresenceStatus(s string) (PresenceStatus, bool) {
	switch PresenceStatus(s) {
	case PresenceOnline, PresenceAway, PresenceBusy:
		return PresenceStatus(s), true
	}
	return "", false
}

// Presence is a user's availability record
type Presence struct {
	UserID   uuid.UUID      `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}
