package realtime

import (
	"encoding/json"
	"log"

	"conversation-service/internal/models"
)

// MarkRead emits a read receipt for a batch of message ids in the active
// conversation. Local statuses are not touched here: the server confirms
// first and the inbound broadcast applies the change, the same discipline
// used for message send.
func (c *Client) MarkRead(messageIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.activeConv == "" {
		log.Printf("realtime: mark read skipped, no active conversation or connection")
		return
	}
	if len(messageIDs) == 0 {
		log.Printf("realtime: mark read skipped, no message ids")
		return
	}

	err := c.emitLocked(models.EventMarkRead, models.MarkReadPayload{
		ConversationID: c.activeConv,
		MessageIDs:     messageIDs,
	})
	if err != nil {
		log.Printf("realtime: mark read failed: %v", err)
	}
}

func (c *Client) handleMessagesRead(gen int, data json.RawMessage) {
	var payload models.MessagesReadPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(gen) || payload.ConversationID != c.activeConv {
		return
	}

	ids := make(map[string]struct{}, len(payload.MessageIDs))
	for _, id := range payload.MessageIDs {
		ids[id] = struct{}{}
	}

	for i := range c.messages {
		if _, ok := ids[c.messages[i].ID]; !ok {
			continue
		}
		// Status only ever moves forward; a late or repeated event can
		// never regress read back to sent or delivered.
		if c.messages[i].Status.Rank() < models.MessageStatusRead.Rank() {
			c.messages[i].Status = models.MessageStatusRead
		}
	}
}
