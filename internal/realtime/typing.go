package realtime

import (
	"encoding/json"
	"log"

	"conversation-service/internal/models"
)

// StartTyping emits a typing-start signal and (re)arms the auto-stop
// timer. Rapid consecutive calls collapse into a single stop after the
// quiet period: each call cancels the previous timer, so exactly one
// typing-stop fires per debounce window.
func (c *Client) StartTyping() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.activeConv == "" {
		log.Printf("realtime: typing start skipped, no active conversation or connection")
		return
	}

	err := c.emitLocked(models.EventTypingStart, models.TypingPayload{
		ConversationID: c.activeConv,
		IsTyping:       true,
	})
	if err != nil {
		log.Printf("realtime: typing start failed: %v", err)
		return
	}

	c.stopTypingTimerLocked()
	gen := c.typingGen
	conversationID := c.activeConv
	c.typingTimer = c.newTimer(c.opts.TypingTimeout, func() {
		c.autoStopTyping(gen, conversationID)
	})
}

// StopTyping cancels the pending auto-stop and emits typing-stop
// immediately. A no-op when no typing is in progress.
func (c *Client) StopTyping() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.typingTimer == nil {
		return
	}
	c.stopTypingTimerLocked()
	c.emitTypingStopLocked()
}

// autoStopTyping is the timer callback. The generation check makes a
// cancelled timer a no-op even if it already fired concurrently.
func (c *Client) autoStopTyping(gen int, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.typingGen || conversationID != c.activeConv {
		return
	}
	c.typingTimer = nil
	c.typingGen++
	c.emitTypingStopLocked()
}

func (c *Client) emitTypingStopLocked() {
	if c.state != StateConnected || c.activeConv == "" {
		return
	}
	err := c.emitLocked(models.EventTypingStop, models.TypingPayload{
		ConversationID: c.activeConv,
		IsTyping:       false,
	})
	if err != nil {
		log.Printf("realtime: typing stop failed: %v", err)
	}
}

// stopTypingTimerLocked cancels any pending auto-stop. Callers hold c.mu.
func (c *Client) stopTypingTimerLocked() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingGen++
}

// TypingUsers lists peers currently flagged as typing in the active
// conversation. A peer's flag is cleared only by its own stop event; the
// local side is a pure projection of the peer's signals.
func (c *Client) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]string, 0, len(c.typingPeers))
	for userID := range c.typingPeers {
		users = append(users, userID)
	}
	return users
}

func (c *Client) handleUserTyping(gen int, data json.RawMessage) {
	var payload models.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(gen) || payload.ConversationID != c.activeConv || payload.UserID == "" {
		return
	}
	if payload.IsTyping {
		c.typingPeers[payload.UserID] = true
	} else {
		delete(c.typingPeers, payload.UserID)
	}
}
