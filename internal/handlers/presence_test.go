package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/ws"
)

type idleConn struct {
	closed chan struct{}
}

func newIdleConn() *idleConn {
	return &idleConn{closed: make(chan struct{})}
}

func (c *idleConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, http.ErrServerClosed
}

func (c *idleConn) WriteMessage(messageType int, data []byte) error { return nil }

func (c *idleConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func newPresenceRouter(hub *ws.Hub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewPresenceHandler(hub)
	router := gin.New()
	router.GET("/presence/:user_id", handler.GetPresence)
	return router
}

func getPresence(t *testing.T, router *gin.Engine, userID string) map[string]any {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/presence/"+userID, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetPresenceUnknownUserIsOffline(t *testing.T) {
	router := newPresenceRouter(ws.NewHub())

	resp := getPresence(t, router, "stranger")
	assert.Equal(t, false, resp["online"])
	assert.NotContains(t, resp, "last_seen")
}

func TestGetPresenceTracksConnections(t *testing.T) {
	hub := ws.NewHub()
	router := newPresenceRouter(hub)

	sess := ws.NewSession(newIdleConn(), hub, "user-1", nil, nil)
	hub.Register(sess, ws.ConnInfo{ConnID: "conn-1", UserID: "user-1", ConnectedAt: time.Now()})

	resp := getPresence(t, router, "user-1")
	assert.Equal(t, true, resp["online"])

	hub.Unregister(sess)

	resp = getPresence(t, router, "user-1")
	assert.Equal(t, false, resp["online"])

	lastSeen, ok := resp["last_seen"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, lastSeen)
	assert.NoError(t, err)
}
