package models

import (
	"encoding/json"
	"time"
)

// Event names exchanged over the websocket, both directions.
const (
	// client -> server
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"

	// server -> client
	EventJoinedConversation = "joined_conversation"
	EventNewMessage         = "new_message"
	EventUserTyping         = "user_typing"
	EventUserOnline         = "user_online"
	EventUserOffline        = "user_offline"
	EventMessagesRead       = "messages_read"
)

// Envelope frames every websocket message as {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals a payload into a ready-to-send envelope frame.
func NewEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// ConversationRef is the payload of join/leave requests and the join ack.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is the outbound send_message request.
type SendMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType"`
}

// NewMessagePayload is the server broadcast for a stored message.
type NewMessagePayload struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// TypingPayload carries typing signals in both directions. UserID is
// empty on the client -> server leg; the server fills it in before
// broadcasting.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// PresencePayload is the user_online / user_offline broadcast. LastSeen
// is only set on the offline event.
type PresencePayload struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// MarkReadPayload is the outbound mark_read request.
type MarkReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// MessagesReadPayload is the server read-receipt broadcast.
type MessagesReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadBy         string   `json:"readBy"`
}
