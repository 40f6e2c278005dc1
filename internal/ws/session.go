package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/repositories"
)

// wsConn is the subset of *websocket.Conn the session needs. Tests swap
// in an in-memory implementation.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session serves one websocket connection. All inbound frames are handled
// on the single Run goroutine; writes from hub broadcasts are serialized
// through writeMu.
type Session struct {
	conn   wsConn
	hub    *Hub
	userID string

	convRepo repositories.ConversationRepository
	msgRepo  repositories.MessageRepository

	// joined is only touched from the Run goroutine.
	joined map[string]bool

	writeMu sync.Mutex
}

// NewSession constructs a Session.
func NewSession(conn wsConn, hub *Hub, userID string, convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository) *Session {
	return &Session{
		conn:     conn,
		hub:      hub,
		userID:   userID,
		convRepo: convRepo,
		msgRepo:  msgRepo,
		joined:   make(map[string]bool),
	}
}

// Run reads frames until the connection closes and returns the read error.
func (s *Session) Run(ctx context.Context) error {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		var env models.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Printf("dropping malformed frame from user %s: %v", s.userID, err)
			observability.IncWSDropped("malformed")
			continue
		}
		s.dispatch(ctx, env)
	}
}

func (s *Session) dispatch(ctx context.Context, env models.Envelope) {
	switch env.Event {
	case models.EventJoinConversation:
		s.handleJoin(ctx, env.Data)
	case models.EventLeaveConversation:
		s.handleLeave(env.Data)
	case models.EventSendMessage:
		s.handleSendMessage(ctx, env.Data)
	case models.EventTypingStart:
		s.handleTyping(env.Data, true)
	case models.EventTypingStop:
		s.handleTyping(env.Data, false)
	case models.EventMarkRead:
		s.handleMarkRead(ctx, env.Data)
	default:
		log.Printf("dropping unknown event %q from user %s", env.Event, s.userID)
		observability.IncWSDropped("unknown_event")
		return
	}
	observability.IncWSEvent(env.Event)
}

func (s *Session) handleJoin(ctx context.Context, data json.RawMessage) {
	var req models.ConversationRef
	if err := json.Unmarshal(data, &req); err != nil || uuid.Validate(req.ConversationID) != nil {
		observability.IncWSDropped("bad_conversation_id")
		return
	}

	member, err := s.convRepo.IsParticipant(ctx, req.ConversationID, s.userID)
	if err != nil || !member {
		log.Printf("join rejected for user %s conversation %s: member=%v err=%v", s.userID, req.ConversationID, member, err)
		observability.IncWSDropped("not_participant")
		return
	}

	s.hub.JoinRoom(req.ConversationID, s)
	s.joined[req.ConversationID] = true
	s.sendEvent(models.EventJoinedConversation, models.ConversationRef{ConversationID: req.ConversationID})
}

func (s *Session) handleLeave(data json.RawMessage) {
	var req models.ConversationRef
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		observability.IncWSDropped("bad_conversation_id")
		return
	}
	s.hub.LeaveRoom(req.ConversationID, s)
	delete(s.joined, req.ConversationID)
}

func (s *Session) handleSendMessage(ctx context.Context, data json.RawMessage) {
	var req models.SendMessagePayload
	if err := json.Unmarshal(data, &req); err != nil {
		observability.IncWSDropped("malformed")
		return
	}
	if !s.joined[req.ConversationID] {
		observability.IncWSDropped("not_joined")
		return
	}
	if req.Content == "" {
		observability.IncWSDropped("empty_content")
		return
	}
	if req.MessageType == "" {
		req.MessageType = models.MessageTypeText
	}
	if !req.MessageType.Valid() {
		observability.IncWSDropped("bad_message_type")
		return
	}

	msg, err := s.msgRepo.CreateMessage(ctx, req.ConversationID, s.userID, req.Content, req.MessageType)
	if err != nil {
		log.Printf("store message failed for conversation %s: %v", req.ConversationID, err)
		return
	}

	// The sender receives the broadcast too; clients only show a message
	// once the stored copy comes back.
	s.hub.BroadcastToRoom(req.ConversationID, models.EventNewMessage, models.NewMessagePayload{
		ConversationID: req.ConversationID,
		Message:        msg,
	}, nil)
}

func (s *Session) handleTyping(data json.RawMessage, isTyping bool) {
	var req models.TypingPayload
	if err := json.Unmarshal(data, &req); err != nil {
		observability.IncWSDropped("malformed")
		return
	}
	if !s.joined[req.ConversationID] {
		observability.IncWSDropped("not_joined")
		return
	}

	s.hub.BroadcastToRoom(req.ConversationID, models.EventUserTyping, models.TypingPayload{
		ConversationID: req.ConversationID,
		UserID:         s.userID,
		IsTyping:       isTyping,
	}, s)
}

func (s *Session) handleMarkRead(ctx context.Context, data json.RawMessage) {
	var req models.MarkReadPayload
	if err := json.Unmarshal(data, &req); err != nil {
		observability.IncWSDropped("malformed")
		return
	}
	if !s.joined[req.ConversationID] {
		observability.IncWSDropped("not_joined")
		return
	}
	if len(req.MessageIDs) == 0 {
		observability.IncWSDropped("empty_message_ids")
		return
	}

	updated, err := s.msgRepo.MarkMessagesRead(ctx, req.ConversationID, req.MessageIDs)
	if err != nil {
		log.Printf("mark read failed for conversation %s: %v", req.ConversationID, err)
		return
	}
	if len(updated) == 0 {
		return
	}

	s.hub.BroadcastToRoom(req.ConversationID, models.EventMessagesRead, models.MessagesReadPayload{
		ConversationID: req.ConversationID,
		MessageIDs:     updated,
		ReadBy:         s.userID,
	}, nil)
}

func (s *Session) sendEvent(event string, payload any) {
	frame, err := models.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("marshal %s failed: %v", event, err)
		return
	}
	if err := s.send(frame); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}

func (s *Session) send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Session) close() {
	_ = s.conn.Close()
}
