package realtime

import (
	"encoding/json"
	"time"

	"conversation-service/internal/models"
)

// IsOnline returns the last-known presence of a user. Users with no
// received event default to offline; absence of information is never
// treated as online.
func (c *Client) IsOnline(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence[userID].online
}

// LastSeen returns when an offline user was last seen. The second return
// is false while the user is online or was never observed: last-seen is
// only meaningful offline.
func (c *Client) LastSeen(userID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.presence[userID]
	if !ok || entry.online || entry.lastSeen.IsZero() {
		return time.Time{}, false
	}
	return entry.lastSeen, true
}

// Presence is connection-scoped, not conversation-scoped: the map
// survives room switches and is reset only when the transport goes away.

func (c *Client) handleUserOnline(gen int, data json.RawMessage) {
	var payload models.PresencePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(gen) || payload.UserID == "" {
		return
	}
	c.presence[payload.UserID] = presenceEntry{online: true}
}

func (c *Client) handleUserOffline(gen int, data json.RawMessage) {
	var payload models.PresencePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(gen) || payload.UserID == "" {
		return
	}
	entry := presenceEntry{online: false}
	if payload.LastSeen != nil {
		entry.lastSeen = *payload.LastSeen
	}
	c.presence[payload.UserID] = entry
}
