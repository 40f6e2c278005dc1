package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/middleware"
	"conversation-service/internal/mocks"
	"conversation-service/internal/models"
	"conversation-service/internal/realtime"
)

const integrationSecret = "test-secret"

func newIntegrationServer(t *testing.T, convRepo *mocks.ConversationRepositoryMock, msgRepo *mocks.MessageRepositoryMock) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	handler := NewHandler(hub, middleware.NewTokenVerifier(integrationSecret), convRepo, msgRepo)

	router := gin.New()
	router.GET("/ws", handler.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func signIntegrationToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(integrationSecret))
	require.NoError(t, err)
	return token
}

func dialRealtimeClient(t *testing.T, srv *httptest.Server, userID string) *realtime.Client {
	t.Helper()
	c := realtime.New(realtime.Options{
		URL:   wsURL(srv),
		Token: signIntegrationToken(t, userID),
	})
	c.Connect()
	t.Cleanup(c.Disconnect)
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)
	return c
}

func joinAndWait(t *testing.T, c *realtime.Client, conversationID string) {
	t.Helper()
	c.Join(conversationID)
	require.Eventually(t, c.Joined, 2*time.Second, 10*time.Millisecond)
}

func TestIntegrationHandshakeRequiresToken(t *testing.T) {
	srv := newIntegrationServer(t, new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock))

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegrationMessageRoundTrip(t *testing.T) {
	conversationID := uuid.NewString()
	messageID := uuid.NewString()

	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("IsParticipant", mock.Anything, conversationID, mock.Anything).Return(true, nil)

	stored := models.Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       "alice",
		Content:        "hello",
		Type:           models.MessageTypeText,
		Status:         models.MessageStatusSent,
		CreatedAt:      time.Now(),
	}
	msgRepo := new(mocks.MessageRepositoryMock)
	msgRepo.On("CreateMessage", mock.Anything, conversationID, "alice", "hello", models.MessageTypeText).
		Return(stored, nil)
	msgRepo.On("MarkMessagesRead", mock.Anything, conversationID, []string{messageID}).
		Return([]string{messageID}, nil)

	srv := newIntegrationServer(t, convRepo, msgRepo)

	alice := dialRealtimeClient(t, srv, "alice")
	bob := dialRealtimeClient(t, srv, "bob")
	joinAndWait(t, alice, conversationID)
	joinAndWait(t, bob, conversationID)

	alice.Send("hello", models.MessageTypeText)

	// Both participants receive the broadcast, the sender included.
	for _, c := range []*realtime.Client{alice, bob} {
		require.Eventually(t, func() bool {
			return len(c.Messages()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		got := c.Messages()[0]
		require.Equal(t, messageID, got.ID)
		require.Equal(t, "hello", got.Content)
		require.Equal(t, models.MessageStatusSent, got.Status)
	}

	bob.MarkRead([]string{messageID})

	require.Eventually(t, func() bool {
		msgs := alice.Messages()
		return len(msgs) == 1 && msgs[0].Status == models.MessageStatusRead
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIntegrationTypingReachesPeersOnly(t *testing.T) {
	conversationID := uuid.NewString()

	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("IsParticipant", mock.Anything, conversationID, mock.Anything).Return(true, nil)

	srv := newIntegrationServer(t, convRepo, new(mocks.MessageRepositoryMock))

	alice := dialRealtimeClient(t, srv, "alice")
	bob := dialRealtimeClient(t, srv, "bob")
	joinAndWait(t, alice, conversationID)
	joinAndWait(t, bob, conversationID)

	alice.StartTyping()

	require.Eventually(t, func() bool {
		users := bob.TypingUsers()
		return len(users) == 1 && users[0] == "alice"
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, alice.TypingUsers())

	alice.StopTyping()

	require.Eventually(t, func() bool {
		return len(bob.TypingUsers()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIntegrationPresenceFollowsConnections(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	srv := newIntegrationServer(t, convRepo, new(mocks.MessageRepositoryMock))

	alice := dialRealtimeClient(t, srv, "alice")

	bob := dialRealtimeClient(t, srv, "bob")
	// The newcomer receives a snapshot of who is already online.
	require.Eventually(t, func() bool {
		return bob.IsOnline("alice")
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return alice.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)

	bob.Disconnect()

	require.Eventually(t, func() bool {
		if alice.IsOnline("bob") {
			return false
		}
		_, ok := alice.LastSeen("bob")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}
