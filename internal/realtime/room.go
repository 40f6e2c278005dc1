package realtime

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"conversation-service/internal/models"
)

// Join enters the conversation room. It requires a live connection and a
// well-formed conversation id; violations are logged no-ops. Joining the
// already-active conversation again is a no-op with no second emission,
// and a different conversation must be left before it can be joined, so
// stale subscriptions never leak across conversations.
func (c *Client) Join(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		log.Printf("realtime: join %s skipped, not connected", conversationID)
		return
	}
	if uuid.Validate(conversationID) != nil {
		log.Printf("realtime: join skipped, malformed conversation id %q", conversationID)
		return
	}
	if c.activeConv == conversationID && (c.joined || c.joinRequested) {
		return
	}
	if c.activeConv != "" && c.activeConv != conversationID {
		log.Printf("realtime: join %s skipped, leave %s first", conversationID, c.activeConv)
		return
	}

	c.activeConv = conversationID
	c.joinRequested = true
	if err := c.emitLocked(models.EventJoinConversation, models.ConversationRef{ConversationID: conversationID}); err != nil {
		c.activeConv = ""
		c.joinRequested = false
		log.Printf("realtime: join %s failed: %v", conversationID, err)
	}
}

// Leave exits the conversation room and clears every projection scoped to
// it: the message log, the typing set, and any pending typing timer.
// Safe to call for a conversation that was never joined.
func (c *Client) Leave(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conversationID == "" || conversationID != c.activeConv {
		return
	}
	if c.state == StateConnected {
		if err := c.emitLocked(models.EventLeaveConversation, models.ConversationRef{ConversationID: conversationID}); err != nil {
			log.Printf("realtime: leave %s emit failed: %v", conversationID, err)
		}
	}
	c.clearConversationLocked()
}

// ActiveConversation returns the id of the joined (or join-requested)
// conversation, or "".
func (c *Client) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeConv
}

// Joined reports whether the server acknowledged the join.
func (c *Client) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *Client) handleJoined(gen int, data json.RawMessage) {
	var ack models.ConversationRef
	if err := json.Unmarshal(data, &ack); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(gen) || ack.ConversationID != c.activeConv {
		return
	}
	c.joined = true
	c.joinRequested = false
}

// clearConversationLocked is the blanket cancellation point for
// conversation-scoped state. Callers hold c.mu.
func (c *Client) clearConversationLocked() {
	c.activeConv = ""
	c.joined = false
	c.joinRequested = false
	c.messages = nil
	c.seen = make(map[string]struct{})
	c.typingPeers = make(map[string]bool)
	c.stopTypingTimerLocked()
}
