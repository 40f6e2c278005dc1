package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/models"
)

func TestTypingDebounceEmitsSingleStop(t *testing.T) {
	c, fc, timers := newTestClient(t)
	joinAcked(t, c, uuid.NewString())

	// Three keystroke bursts, each resetting the quiet-period timer.
	c.StartTyping()
	c.StartTyping()
	c.StartTyping()

	all := timers.all()
	require.Len(t, all, 3)
	assert.True(t, all[0].stopped)
	assert.True(t, all[1].stopped)
	assert.False(t, all[2].stopped)
	assert.Equal(t, 3*time.Second, all[2].d)

	assert.Equal(t, 3, fc.countEvent(models.EventTypingStart))
	assert.Zero(t, fc.countEvent(models.EventTypingStop))

	// Only the live timer produces a stop.
	all[2].fn()
	assert.Equal(t, 1, fc.countEvent(models.EventTypingStop))

	// A cancelled timer that races its cancellation stays silent.
	all[0].fn()
	all[1].fn()
	assert.Equal(t, 1, fc.countEvent(models.EventTypingStop))
}

func TestStopTypingCancelsTimerAndEmitsOnce(t *testing.T) {
	c, fc, timers := newTestClient(t)
	joinAcked(t, c, uuid.NewString())

	c.StartTyping()
	c.StopTyping()

	require.Len(t, timers.all(), 1)
	assert.True(t, timers.all()[0].stopped)
	assert.Equal(t, 1, fc.countEvent(models.EventTypingStop))

	// Idempotent when no typing is in progress.
	c.StopTyping()
	assert.Equal(t, 1, fc.countEvent(models.EventTypingStop))

	// The cancelled timer firing late changes nothing.
	timers.all()[0].fn()
	assert.Equal(t, 1, fc.countEvent(models.EventTypingStop))
}

func TestTypingRequiresActiveConversation(t *testing.T) {
	c, fc, timers := newTestClient(t)

	c.StartTyping()

	assert.Zero(t, fc.countEvent(models.EventTypingStart))
	assert.Empty(t, timers.all())
}

func TestPeerTypingFlagIsEventDriven(t *testing.T) {
	c, _, timers := newTestClient(t)
	conversationID := uuid.NewString()
	joinAcked(t, c, conversationID)

	deliver(t, c, models.EventUserTyping, models.TypingPayload{
		ConversationID: conversationID, UserID: "u2", IsTyping: true,
	})
	assert.Equal(t, []string{"u2"}, c.TypingUsers())

	// No local expiry timer runs for peer flags; only the peer's own stop
	// event clears them.
	assert.Empty(t, timers.all())

	deliver(t, c, models.EventUserTyping, models.TypingPayload{
		ConversationID: conversationID, UserID: "u2", IsTyping: false,
	})
	assert.Empty(t, c.TypingUsers())
}

func TestLeaveClearsTypingStateAndTimer(t *testing.T) {
	c, fc, timers := newTestClient(t)
	conversationID := uuid.NewString()
	joinAcked(t, c, conversationID)

	c.StartTyping()
	deliver(t, c, models.EventUserTyping, models.TypingPayload{
		ConversationID: conversationID, UserID: "u2", IsTyping: true,
	})

	c.Leave(conversationID)

	assert.True(t, timers.all()[0].stopped)
	assert.Empty(t, c.TypingUsers())

	// The cancelled auto-stop must not fire against the next conversation.
	timers.all()[0].fn()
	assert.Zero(t, fc.countEvent(models.EventTypingStop))
}
