package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"conversation-service/internal/middleware"
	"conversation-service/internal/observability"
	"conversation-service/internal/repositories"
)

// Handler upgrades websocket connections and hands them to sessions.
type Handler struct {
	hub      *Hub
	verifier *middleware.TokenVerifier
	convRepo repositories.ConversationRepository
	msgRepo  repositories.MessageRepository
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, verifier *middleware.TokenVerifier, convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository) *Handler {
	return &Handler{hub: hub, verifier: verifier, convRepo: convRepo, msgRepo: msgRepo}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades the connection, and runs the session.
// The bearer token is read from the Authorization header only; tokens in
// query strings end up in access logs.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("conversation-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.verifier.VerifyBearer(c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	sess := NewSession(conn, h.hub, userID, h.convRepo, h.msgRepo)
	h.hub.Register(sess, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishLifecycle(ctx, info, "ws_connect", 0, "")

	go func() {
		// Sessions outlive the handshake request; detach from its context.
		runErr := sess.Run(context.Background())

		h.hub.Unregister(sess)
		conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")

		reason := ""
		if runErr != nil && !websocket.IsCloseError(runErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			reason = runErr.Error()
		}
		publishLifecycle(context.Background(), info, "ws_disconnect", time.Since(info.ConnectedAt).Milliseconds(), reason)
	}()
}

func publishLifecycle(ctx context.Context, info ConnInfo, event string, durationMS int64, reason string) {
	envelope := observability.NewWSEvent(
		observability.WSEventPayload{
			Event:      event,
			ConnID:     info.ConnID,
			DurationMS: durationMS,
			Reason:     reason,
		},
		observability.IdentityPayload{
			UserID:   info.UserID,
			DeviceID: info.DeviceID,
			IP:       info.IP,
		},
	)
	_ = observability.PublishEvent(ctx, wsEventsRoutingKey, envelope,
		observability.BuildHeaders(info.RequestID, info.TraceID))
}
