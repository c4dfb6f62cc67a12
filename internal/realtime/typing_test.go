package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expiryRecorder collects onExpire callbacks for assertions
type expiryRecorder struct {
	mu      sync.Mutex
	expired []uuid.UUID // conversation IDs, in callback order
}

func (r *expiryRecorder) callback() ExpireFunc {
	return func(conversationID, userID uuid.UUID, username string) {
		r.mu.Lock()
		r.expired = append(r.expired, conversationID)
		r.mu.Unlock()
	}
}

func (r *expiryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expired)
}

func (r *expiryRecorder) waitFor(t *testing.T, n int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if r.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d expirations within %v, got %d", n, within, r.count())
}

func TestTyping_AutoExpiry(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(30*time.Millisecond, rec.callback())

	convID := uuid.New()
	userID := uuid.New()

	tracker.Start(convID, userID, "alice")
	assert.Equal(t, []uuid.UUID{userID}, tracker.TypingUsers(convID))

	rec.waitFor(t, 1, time.Second)
	assert.Empty(t, tracker.TypingUsers(convID), "expired entry must be removed")
}

func TestTyping_RefreshResetsTimer(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(60*time.Millisecond, rec.callback())

	convID := uuid.New()
	userID := uuid.New()

	tracker.Start(convID, userID, "alice")

	// Keep refreshing well past the original deadline; the entry must survive
	// because each start replaces the pending timer.
	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		tracker.Start(convID, userID, "alice")
		assert.Equal(t, 0, rec.count(), "refresh must postpone expiry")
	}

	rec.waitFor(t, 1, time.Second)
	assert.Equal(t, 1, rec.count(), "one expiry after refreshes stop, not one per start")
}

func TestTyping_StopCancelsExpiry(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(30*time.Millisecond, rec.callback())

	convID := uuid.New()
	userID := uuid.New()

	tracker.Start(convID, userID, "alice")
	require.True(t, tracker.Stop(convID, userID))
	assert.Empty(t, tracker.TypingUsers(convID))

	// The cancelled timer must not fire later.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestTyping_StopWithoutStartIsNoOp(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(30*time.Millisecond, rec.callback())

	assert.False(t, tracker.Stop(uuid.New(), uuid.New()))
}

func TestTyping_IndependentPerConversation(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(time.Minute, rec.callback())

	convA := uuid.New()
	convB := uuid.New()
	userID := uuid.New()

	tracker.Start(convA, userID, "alice")
	tracker.Start(convB, userID, "alice")

	require.True(t, tracker.Stop(convA, userID))
	assert.Empty(t, tracker.TypingUsers(convA))
	assert.Equal(t, []uuid.UUID{userID}, tracker.TypingUsers(convB), "stopping in one conversation must not touch another")
}

func TestTyping_PurgeUserFiresExpiryPerConversation(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(time.Minute, rec.callback())

	convA := uuid.New()
	convB := uuid.New()
	userID := uuid.New()
	other := uuid.New()

	tracker.Start(convA, userID, "alice")
	tracker.Start(convB, userID, "alice")
	tracker.Start(convA, other, "bob")

	tracker.PurgeUser(userID)

	assert.Equal(t, 2, rec.count(), "hard disconnect clears the indicator in every conversation")
	assert.ElementsMatch(t, []uuid.UUID{convA, convB}, rec.expired)
	assert.Equal(t, []uuid.UUID{other}, tracker.TypingUsers(convA), "other users' entries survive the purge")
}

func TestTyping_ConcurrentStartStop(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(10*time.Millisecond, rec.callback())

	convID := uuid.New()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := uuid.New()
			for i := 0; i < 50; i++ {
				tracker.Start(convID, userID, "worker")
				if i%3 == 0 {
					tracker.Stop(convID, userID)
				}
			}
		}()
	}
	wg.Wait()

	// Eventually every remaining entry expires; no entry may be left behind.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(tracker.TypingUsers(convID)) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("typing entries leaked: %d still present", len(tracker.TypingUsers(convID)))
}
