package observability

// EventEnvelope wraps every event published to the broker.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEventPayload describes a websocket lifecycle event.
type WSEventPayload struct {
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

// IdentityPayload identifies the user behind an event.
type IdentityPayload struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
}

// NewWSEvent builds the envelope published for ws connect/disconnect/error.
func NewWSEvent(ws WSEventPayload, identity IdentityPayload) EventEnvelope {
	return EventEnvelope{
		EventType: "ws_events",
		EventName: ws.Event,
		Payload: map[string]interface{}{
			"ws":       ws,
			"identity": identity,
		},
	}
}

// BuildHeaders assembles AMQP headers used for correlation.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
