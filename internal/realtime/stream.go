package realtime

import (
	"encoding/json"
	"log"

	"conversation-service/internal/models"
)

// Send emits an outbound message for the active conversation. It never
// mutates the local log: the message becomes visible only when the stored
// copy is broadcast back, so the log always reflects server-confirmed
// state. Precondition violations (no connection, no active conversation,
// empty content) are logged no-ops because the UI may race connection
// setup. There is no retry queue; a failed emit means the message never
// appears and the user resubmits.
func (c *Client) Send(content string, messageType models.MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		log.Printf("realtime: send skipped, not connected")
		return
	}
	if c.activeConv == "" {
		log.Printf("realtime: send skipped, no active conversation")
		return
	}
	if content == "" {
		log.Printf("realtime: send skipped, empty content")
		return
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !messageType.Valid() {
		log.Printf("realtime: send skipped, unknown message type %q", messageType)
		return
	}

	err := c.emitLocked(models.EventSendMessage, models.SendMessagePayload{
		ConversationID: c.activeConv,
		Content:        content,
		MessageType:    messageType,
	})
	if err != nil {
		log.Printf("realtime: send failed: %v", err)
	}
}

// Messages returns a copy of the local ordered log. Order is server
// delivery order; the log is append-only and never resorted, so clock
// skew between devices cannot shuffle it.
func (c *Client) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Client) handleNewMessage(gen int, data json.RawMessage) {
	var payload models.NewMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	c.mu.Lock()
	if c.stale(gen) || payload.ConversationID != c.activeConv {
		c.mu.Unlock()
		return
	}
	msg := payload.Message
	if _, dup := c.seen[msg.ID]; dup {
		// Redelivery under at-least-once semantics.
		c.mu.Unlock()
		return
	}
	c.seen[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	subs := make([]func(models.Message), 0, len(c.msgSubs))
	for _, fn := range c.msgSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}
