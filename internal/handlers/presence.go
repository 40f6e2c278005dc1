package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/ws"
)

// PresenceHandler exposes the hub's presence registry over REST, for
// screens that render a contact before any websocket event arrives.
type PresenceHandler struct {
	hub *ws.Hub
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(hub *ws.Hub) *PresenceHandler {
	return &PresenceHandler{hub: hub}
}

// GetPresence returns online state and, when offline, the last-seen time.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID := c.Param("user_id")

	online, lastSeen, known := h.hub.Presence(userID)
	resp := gin.H{"user_id": userID, "online": online}
	if known && !online && !lastSeen.IsZero() {
		resp["last_seen"] = lastSeen.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
