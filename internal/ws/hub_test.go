package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/models"
)

// fakeWSConn records written frames; reads block until closed.
type fakeWSConn struct {
	mu      sync.Mutex
	writes  [][]byte
	closed  bool
	closeCh chan struct{}
	once    sync.Once
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{closeCh: make(chan struct{})}
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	<-f.closeCh
	return 0, nil, errors.New("connection closed")
}

func (f *fakeWSConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("connection closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.writes = append(f.writes, buf)
	return nil
}

func (f *fakeWSConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.closeCh) })
	return nil
}

func (f *fakeWSConn) events() []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Envelope, 0, len(f.writes))
	for _, frame := range f.writes {
		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeWSConn) countEvent(name string) int {
	count := 0
	for _, env := range f.events() {
		if env.Event == name {
			count++
		}
	}
	return count
}

func newHubSession(hub *Hub, userID string) (*Session, *fakeWSConn) {
	conn := newFakeWSConn()
	sess := NewSession(conn, hub, userID, nil, nil)
	hub.Register(sess, ConnInfo{ConnID: "conn-" + userID, UserID: userID, ConnectedAt: time.Now()})
	return sess, conn
}

func TestHubRoomMembership(t *testing.T) {
	hub := NewHub()
	sess, _ := newHubSession(hub, "u1")

	hub.JoinRoom("c1", sess)
	assert.Len(t, hub.rooms, 1)

	hub.LeaveRoom("c1", sess)
	assert.Empty(t, hub.rooms)
}

func TestHubUnregisterLeavesAllRooms(t *testing.T) {
	hub := NewHub()
	sess, _ := newHubSession(hub, "u1")

	hub.JoinRoom("c1", sess)
	hub.JoinRoom("c2", sess)
	hub.Unregister(sess)

	assert.Empty(t, hub.rooms)
	assert.Empty(t, hub.sessions)
}

func TestHubBroadcastToRoomSkipsExcluded(t *testing.T) {
	hub := NewHub()
	sender, senderConn := newHubSession(hub, "u1")
	peer, peerConn := newHubSession(hub, "u2")
	outsider, outsiderConn := newHubSession(hub, "u3")

	hub.JoinRoom("c1", sender)
	hub.JoinRoom("c1", peer)
	hub.JoinRoom("c2", outsider)

	hub.BroadcastToRoom("c1", models.EventUserTyping, models.TypingPayload{
		ConversationID: "c1", UserID: "u1", IsTyping: true,
	}, sender)

	assert.Zero(t, senderConn.countEvent(models.EventUserTyping))
	assert.Equal(t, 1, peerConn.countEvent(models.EventUserTyping))
	assert.Zero(t, outsiderConn.countEvent(models.EventUserTyping))
}

func TestHubPresenceRefcountsConnections(t *testing.T) {
	hub := NewHub()
	observer, observerConn := newHubSession(hub, "watcher")

	first, _ := newHubSession(hub, "u1")
	second, _ := newHubSession(hub, "u1")

	// Two devices, one online transition.
	assert.Equal(t, 1, observerConn.countEvent(models.EventUserOnline))

	online, _, known := hub.Presence("u1")
	require.True(t, known)
	assert.True(t, online)

	hub.Unregister(first)
	online, _, _ = hub.Presence("u1")
	assert.True(t, online, "still online while one connection remains")
	assert.Zero(t, observerConn.countEvent(models.EventUserOffline))

	hub.Unregister(second)
	online, lastSeen, known := hub.Presence("u1")
	require.True(t, known)
	assert.False(t, online)
	assert.False(t, lastSeen.IsZero())
	assert.Equal(t, 1, observerConn.countEvent(models.EventUserOffline))

	_ = observer
}

func TestHubPresenceUnknownUser(t *testing.T) {
	hub := NewHub()

	online, lastSeen, known := hub.Presence("nobody")
	assert.False(t, online)
	assert.True(t, lastSeen.IsZero())
	assert.False(t, known)
}

func TestHubSendsPresenceSnapshotToNewcomer(t *testing.T) {
	hub := NewHub()
	newHubSession(hub, "u1")
	newHubSession(hub, "u2")

	_, lateConn := newHubSession(hub, "u3")

	assert.Equal(t, 2, lateConn.countEvent(models.EventUserOnline))
}

func TestHubOfflineBroadcastCarriesLastSeen(t *testing.T) {
	hub := NewHub()
	_, observerConn := newHubSession(hub, "watcher")
	sess, _ := newHubSession(hub, "u1")

	hub.Unregister(sess)

	var offline *models.PresencePayload
	for _, env := range observerConn.events() {
		if env.Event == models.EventUserOffline {
			var p models.PresencePayload
			require.NoError(t, json.Unmarshal(env.Data, &p))
			offline = &p
		}
	}
	require.NotNil(t, offline)
	assert.Equal(t, "u1", offline.UserID)
	require.NotNil(t, offline.LastSeen)
	assert.WithinDuration(t, time.Now(), *offline.LastSeen, time.Minute)
}
