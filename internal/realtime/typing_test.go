package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/pkg/constant"
)

func newTestTypingTracker(ttl time.Duration, now *time.Time) *TypingTracker {
	t := NewTypingTracker(ttl)
	t.nowFunc = func() time.Time { return *now }
	return t
}

func TestTypingTracker_StartStop(t *testing.T) {
	now := time.Now()
	tracker := newTestTypingTracker(5*time.Second, &now)

	changed := tracker.Start("u1", constant.ConversationTypeChannel, "c1", "conn1")
	assert.True(t, changed, "fresh start is a transition")

	// Re-arm before expiry is not a transition
	now = now.Add(2 * time.Second)
	changed = tracker.Start("u1", constant.ConversationTypeChannel, "c1", "conn1")
	assert.False(t, changed)

	assert.Equal(t, []string{"u1"}, tracker.TypingUsers(constant.ConversationTypeChannel, "c1"))

	changed = tracker.Stop("u1", constant.ConversationTypeChannel, "c1", "conn1")
	assert.True(t, changed)
	assert.Empty(t, tracker.TypingUsers(constant.ConversationTypeChannel, "c1"))

	// Stopping twice is a no-op
	changed = tracker.Stop("u1", constant.ConversationTypeChannel, "c1", "conn1")
	assert.False(t, changed)
}

func TestTypingTracker_StartAfterExpiry(t *testing.T) {
	now := time.Now()
	tracker := newTestTypingTracker(5*time.Second, &now)

	tracker.Start("u1", constant.ConversationTypeChannel, "c1", "conn1")

	// An expired entry was already swept from the client's perspective, so a
	// new start on the same user is treated as a fresh transition only when
	// the old entry is gone
	now = now.Add(6 * time.Second)
	changed := tracker.Start("u1", constant.ConversationTypeChannel, "c1", "conn1")
	assert.False(t, changed, "entry still present until swept")

	tracker.Stop("u1", constant.ConversationTypeChannel, "c1", "conn1")
	changed = tracker.Start("u1", constant.ConversationTypeChannel, "c1", "conn1")
	assert.True(t, changed)
}

func TestTypingTracker_Sweep(t *testing.T) {
	now := time.Now()
	tracker := newTestTypingTracker(5*time.Second, &now)

	tracker.Start("u1", constant.ConversationTypeChannel, "c1", "conn1")
	now = now.Add(3 * time.Second)
	tracker.Start("u2", constant.ConversationTypeDm, "d1", "conn2")

	now = now.Add(3 * time.Second)
	deltas := tracker.Sweep()
	require.Len(t, deltas, 1, "only the first entry has expired")
	assert.Equal(t, "u1", deltas[0].UserId)
	assert.Equal(t, constant.ConversationTypeChannel, deltas[0].ConversationType)
	assert.Equal(t, "c1", deltas[0].ConversationId)
	assert.False(t, deltas[0].IsTyping)

	assert.Empty(t, tracker.TypingUsers(constant.ConversationTypeChannel, "c1"))
	assert.Equal(t, []string{"u2"}, tracker.TypingUsers(constant.ConversationTypeDm, "d1"))
}

func TestTypingTracker_DisconnectCleanup(t *testing.T) {
	now := time.Now()
	tracker := newTestTypingTracker(5*time.Second, &now)

	tracker.Start("u1", constant.ConversationTypeChannel, "c1", "conn1")
	tracker.Start("u1", constant.ConversationTypeDm, "d1", "conn1")
	tracker.Start("u2", constant.ConversationTypeChannel, "c1", "conn2")

	deltas := tracker.DisconnectCleanup("conn1")
	require.Len(t, deltas, 2, "one delta per owned conversation")
	for _, d := range deltas {
		assert.Equal(t, "u1", d.UserId)
		assert.False(t, d.IsTyping)
	}

	// The other connection's entry survives
	assert.Equal(t, []string{"u2"}, tracker.TypingUsers(constant.ConversationTypeChannel, "c1"))

	assert.Nil(t, tracker.DisconnectCleanup("conn1"), "cleanup is idempotent")
}

func TestTypingTracker_ReArmMovesOwnership(t *testing.T) {
	now := time.Now()
	tracker := newTestTypingTracker(5*time.Second, &now)

	tracker.Start("u1", constant.ConversationTypeChannel, "c1", "conn1")
	now = now.Add(time.Second)
	tracker.Start("u1", constant.ConversationTypeChannel, "c1", "conn2")

	// The original connection no longer owns the entry
	assert.Nil(t, tracker.DisconnectCleanup("conn1"))

	deltas := tracker.DisconnectCleanup("conn2")
	require.Len(t, deltas, 1)
	assert.Equal(t, "u1", deltas[0].UserId)
}
