package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

const wsEventsRoutingKey = "ws_events.conversations"

// Hub maintains active websocket sessions, the conversation rooms they
// joined, and the presence registry derived from their connections.
type Hub struct {
	rooms    map[string]map[*Session]bool
	sessions map[*Session]ConnInfo
	presence map[string]*presenceRecord
	mu       sync.RWMutex
}

// presenceRecord refcounts a user's live connections. A user is online
// while at least one connection is open; lastSeen is set when the count
// drops to zero.
type presenceRecord struct {
	conns    int
	lastSeen time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Session]bool),
		sessions: make(map[*Session]ConnInfo),
		presence: make(map[string]*presenceRecord),
	}
}

// Register adds a session and updates presence. The first connection of a
// user broadcasts user_online to everyone; the newcomer additionally gets
// a snapshot of users currently online.
func (h *Hub) Register(sess *Session, info ConnInfo) {
	h.mu.Lock()
	h.sessions[sess] = info

	rec, ok := h.presence[sess.userID]
	if !ok {
		rec = &presenceRecord{}
		h.presence[sess.userID] = rec
	}
	rec.conns++
	cameOnline := rec.conns == 1

	var snapshot []string
	for userID, r := range h.presence {
		if r.conns > 0 && userID != sess.userID {
			snapshot = append(snapshot, userID)
		}
	}
	h.mu.Unlock()

	for _, userID := range snapshot {
		sess.sendEvent(models.EventUserOnline, models.PresencePayload{UserID: userID})
	}
	if cameOnline {
		h.broadcastAll(models.EventUserOnline, models.PresencePayload{UserID: sess.userID}, sess)
	}
}

// Unregister removes a session from every room and updates presence. The
// last connection of a user broadcasts user_offline with a lastSeen stamp.
func (h *Hub) Unregister(sess *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[sess]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, sess)
	for conversationID, conns := range h.rooms {
		delete(conns, sess)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}

	var wentOffline bool
	var lastSeen time.Time
	if rec, ok := h.presence[sess.userID]; ok {
		rec.conns--
		if rec.conns <= 0 {
			rec.conns = 0
			rec.lastSeen = time.Now().UTC()
			lastSeen = rec.lastSeen
			wentOffline = true
		}
	}
	h.mu.Unlock()

	if wentOffline {
		h.broadcastAll(models.EventUserOffline, models.PresencePayload{UserID: sess.userID, LastSeen: &lastSeen}, nil)
	}
}

// JoinRoom registers a session in a conversation room.
func (h *Hub) JoinRoom(conversationID string, sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*Session]bool)
	}
	h.rooms[conversationID][sess] = true
}

// LeaveRoom removes a session from a conversation room.
func (h *Hub) LeaveRoom(conversationID string, sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, sess)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// BroadcastToRoom sends an event to every session in the room, optionally
// skipping one (the originator of typing signals).
func (h *Hub) BroadcastToRoom(conversationID, event string, payload any, except *Session) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[conversationID]))
	for sess := range h.rooms[conversationID] {
		if sess != except {
			targets = append(targets, sess)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event, payload)
}

// Presence reports the last-known presence of a user. known is false when
// the user has never connected.
func (h *Hub) Presence(userID string) (online bool, lastSeen time.Time, known bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.presence[userID]
	if !ok {
		return false, time.Time{}, false
	}
	return rec.conns > 0, rec.lastSeen, true
}

func (h *Hub) broadcastAll(event string, payload any, except *Session) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for sess := range h.sessions {
		if sess != except {
			targets = append(targets, sess)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event, payload)
}

func (h *Hub) deliver(targets []*Session, event string, payload any) {
	frame, err := models.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("websocket marshal error for %s: %v", event, err)
		return
	}
	for _, sess := range targets {
		if err := sess.send(frame); err != nil {
			log.Printf("websocket write error: %v", err)
			sess.close()
			h.publishWSError(sess, err)
		}
	}
}

// publishWSError reports a failed write; the session's own read loop will
// observe the closed connection and unregister it.
func (h *Hub) publishWSError(sess *Session, err error) {
	h.mu.RLock()
	info, ok := h.sessions[sess]
	h.mu.RUnlock()
	if !ok {
		return
	}

	observability.IncWSEvent("ws_error")
	event := observability.NewWSEvent(
		observability.WSEventPayload{
			Event:      "ws_error",
			ConnID:     info.ConnID,
			DurationMS: time.Since(info.ConnectedAt).Milliseconds(),
			Reason:     err.Error(),
		},
		observability.IdentityPayload{
			UserID:   info.UserID,
			DeviceID: info.DeviceID,
			IP:       info.IP,
		},
	)
	_ = observability.PublishEvent(context.Background(), wsEventsRoutingKey, event,
		observability.BuildHeaders(info.RequestID, info.TraceID))
}
