package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// User.ToPublic Tests
// =============================================================================

func TestUser_ToPublic(t *testing.T) {
	now := time.Now()
	user := &User{
		ID:          uuid.New(),
		Username:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice W",
		AvatarURL:   "https://example.com/alice.png",
		LastSeenAt:  &now,
	}

	pub := user.ToPublic()

	assert.Equal(t, user.ID, pub.ID)
	assert.Equal(t, "alice", pub.Username)
	assert.Equal(t, "Alice W", pub.DisplayName)
	assert.Equal(t, "https://example.com/alice.png", pub.AvatarURL)
	assert.Equal(t, &now, pub.LastSeenAt)
}

func TestUser_ToPublic_NilLastSeenAt(t *testing.T) {
	user := &User{
		ID:       uuid.New(),
		Username: "eve",
	}

	pub := user.ToPublic()
	assert.Nil(t, pub.LastSeenAt)
}

// =============================================================================
// RefreshToken.IsValid Tests
// =============================================================================

func TestRefreshToken_IsValid_ValidToken(t *testing.T) {
	token := &RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
		CreatedAt: time.Now(),
		RevokedAt: nil,
	}

	assert.True(t, token.IsValid())
}

func TestRefreshToken_IsValid_ExpiredToken(t *testing.T) {
	token := &RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ExpiresAt: time.Now().Add(-1 * time.Hour),
		CreatedAt: time.Now().Add(-25 * time.Hour),
		RevokedAt: nil,
	}

	assert.False(t, token.IsValid())
}

func TestRefreshToken_IsValid_RevokedToken(t *testing.T) {
	revokedAt := time.Now().Add(-1 * time.Hour)
	token := &RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ExpiresAt: time.Now().Add(24 * time.Hour), // Not expired
		CreatedAt: time.Now().Add(-1 * time.Hour),
		RevokedAt: &revokedAt, // But revoked
	}

	assert.False(t, token.IsValid())
}

// =============================================================================
// Presence Status Parsing
// =============================================================================

func TestParsePresenceStatus(t *testing.T) {
	tests := []struct {
		input string
		want  PresenceStatus
		ok    bool
	}{
		{"online", PresenceOnline, true},
		{"away", PresenceAway, true},
		{"busy", PresenceBusy, true},
		{"offline", "", false}, // offline is derived from connections, never set by a client
		{"invisible", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParsePresenceStatus(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// =============================================================================
// Conversation Type Tests
// =============================================================================

func TestConversationType_Values(t *testing.T) {
	assert.Equal(t, ConversationType("dm"), ConversationTypeDM)
	assert.Equal(t, ConversationType("group"), ConversationTypeGroup)
}

func TestMemberRole_Values(t *testing.T) {
	assert.Equal(t, MemberRole("member"), MemberRoleMember)
	assert.Equal(t, MemberRole("admin"), MemberRoleAdmin)
}
