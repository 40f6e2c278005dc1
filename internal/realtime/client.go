// Package realtime is the client side of the conversation websocket
// protocol: one authenticated connection per client session, a joined
// conversation room, and local projections of the message stream, typing
// signals, presence, and read receipts.
//
// No method returns an error to its caller. Transport failures resolve to
// connection state, precondition violations are logged no-ops, and
// duplicate or stale events are dropped; the transport delivers
// at-least-once, so consumers deduplicate.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"conversation-service/internal/models"
)

var errNotConnected = errors.New("not connected")

const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 5 * time.Second
	defaultTypingTimeout  = 3 * time.Second
)

// conn is the subset of *websocket.Conn the client uses. Tests swap in an
// in-memory implementation.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer establishes the websocket transport.
type Dialer func(ctx context.Context, url string, header http.Header) (conn, error)

func defaultDialer(ctx context.Context, url string, header http.Header) (conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// timerHandle is a cancellable timer owned by the typing coordinator.
type timerHandle interface {
	Stop() bool
}

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. "wss://host/ws".
	URL string
	// Token is the opaque bearer token. It travels in the Authorization
	// header, never in the URL.
	Token string

	// Reconnect policy. Zero values fall back to 5 attempts, 1s initial
	// delay doubling up to 5s.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// TypingTimeout is the quiet period after which typing auto-stops.
	TypingTimeout time.Duration
}

type presenceEntry struct {
	online   bool
	lastSeen time.Time
}

// Client owns the connection and every conversation-scoped projection.
// It is safe for concurrent use; inbound events are applied on the read
// loop goroutine.
type Client struct {
	opts Options

	dial     Dialer
	newTimer func(d time.Duration, f func()) timerHandle
	sleep    func(d time.Duration)

	mu      sync.Mutex
	state   State
	conn    conn
	gen     int // bumped on every teardown; stale read loops check it
	running bool
	closed  bool

	stateSubs map[int]func(State)
	msgSubs   map[int]func(models.Message)
	nextSubID int

	activeConv    string
	joined        bool
	joinRequested bool

	messages []models.Message
	seen     map[string]struct{}

	typingPeers map[string]bool
	typingTimer timerHandle
	typingGen   int

	presence map[string]presenceEntry
}

// New creates a disconnected Client.
func New(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = defaultTypingTimeout
	}
	return &Client{
		opts: opts,
		dial: defaultDialer,
		newTimer: func(d time.Duration, f func()) timerHandle {
			return time.AfterFunc(d, f)
		},
		sleep:       time.Sleep,
		stateSubs:   make(map[int]func(State)),
		msgSubs:     make(map[int]func(models.Message)),
		seen:        make(map[string]struct{}),
		typingPeers: make(map[string]bool),
		presence:    make(map[string]presenceEntry),
	}
}

// Connect starts the connection asynchronously; the outcome is observed
// through OnStateChange, not a return value. Without a token it is a
// logged no-op: callers may attempt it opportunistically before login
// completes. Calling it while a connection is live or being established
// is a no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.opts.Token == "" {
		c.mu.Unlock()
		log.Printf("realtime: connect skipped, no auth token")
		return
	}
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.closed = false
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	notify()

	go c.run()
}

// Disconnect closes the transport for good; no retry follows. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	ws := c.conn
	c.teardownLocked()
	notify := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	notify()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected is the gate every dependent operation checks.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// OnStateChange registers a state observer and returns its disposer.
func (c *Client) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.stateSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateSubs, id)
	}
}

// OnMessage registers an observer for messages appended to the local log
// and returns its disposer.
func (c *Client) OnMessage(fn func(models.Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.msgSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.msgSubs, id)
	}
}

// run owns the dial/read/retry cycle. At most one run goroutine exists,
// so reconnect attempts are serialized by construction.
func (c *Client) run() {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		url, token := c.opts.URL, c.opts.Token
		c.mu.Unlock()

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		ws, err := c.dial(context.Background(), url, header)
		if err != nil {
			attempt++
			if attempt >= c.opts.MaxRetries {
				log.Printf("realtime: giving up after %d connect attempts: %v", attempt, err)
				c.transition(StateDisconnected)
				return
			}
			delay := c.backoff(attempt)
			log.Printf("realtime: connect attempt %d failed, retrying in %s: %v", attempt, delay, err)
			c.sleep(delay)
			continue
		}
		attempt = 0

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			return
		}
		c.conn = ws
		c.gen++
		gen := c.gen
		rejoin := c.activeConv
		notify := c.setStateLocked(StateConnected)
		c.mu.Unlock()
		notify()

		// A fresh transport carries no room membership; re-enter the
		// active conversation before processing its events.
		if rejoin != "" {
			c.mu.Lock()
			c.joinRequested = true
			c.joined = false
			if err := c.emitLocked(models.EventJoinConversation, models.ConversationRef{ConversationID: rejoin}); err != nil {
				c.joinRequested = false
				log.Printf("realtime: rejoin %s failed: %v", rejoin, err)
			}
			c.mu.Unlock()
		}

		readErr := c.readLoop(ws, gen)

		c.mu.Lock()
		if c.closed || c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.conn = nil
		c.gen++
		c.joined = false
		c.joinRequested = false
		c.clearPresenceLocked()
		c.mu.Unlock()
		ws.Close()

		log.Printf("realtime: connection lost: %v", readErr)
		c.transition(StateDisconnected)
		c.transition(StateConnecting)
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.opts.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.opts.MaxBackoff {
			return c.opts.MaxBackoff
		}
	}
	if delay > c.opts.MaxBackoff {
		delay = c.opts.MaxBackoff
	}
	return delay
}

func (c *Client) readLoop(ws conn, gen int) error {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(gen, payload)
	}
}

// handleFrame applies one inbound event. Events are processed in
// transport-delivery order; there is no reordering buffer.
func (c *Client) handleFrame(gen int, payload []byte) {
	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("realtime: dropping malformed frame: %v", err)
		return
	}

	switch env.Event {
	case models.EventJoinedConversation:
		c.handleJoined(gen, env.Data)
	case models.EventNewMessage:
		c.handleNewMessage(gen, env.Data)
	case models.EventUserTyping:
		c.handleUserTyping(gen, env.Data)
	case models.EventUserOnline:
		c.handleUserOnline(gen, env.Data)
	case models.EventUserOffline:
		c.handleUserOffline(gen, env.Data)
	case models.EventMessagesRead:
		c.handleMessagesRead(gen, env.Data)
	default:
		log.Printf("realtime: ignoring unknown event %q", env.Event)
	}
}

// emitLocked writes one envelope frame. Callers hold c.mu, which also
// serializes writers on the shared transport.
func (c *Client) emitLocked(event string, payload any) error {
	if c.conn == nil {
		return errNotConnected
	}
	frame, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// stale reports whether an event belongs to a torn-down connection.
// Callers hold c.mu.
func (c *Client) stale(gen int) bool {
	return c.gen != gen
}

func (c *Client) setStateLocked(st State) func() {
	if c.state == st {
		return func() {}
	}
	c.state = st
	subs := make([]func(State), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			fn(st)
		}
	}
}

func (c *Client) transition(st State) {
	c.mu.Lock()
	notify := c.setStateLocked(st)
	c.mu.Unlock()
	notify()
}

// teardownLocked invalidates the live connection and all
// conversation-scoped state. Callers hold c.mu.
func (c *Client) teardownLocked() {
	c.conn = nil
	c.gen++
	c.clearConversationLocked()
	c.clearPresenceLocked()
}

func (c *Client) clearPresenceLocked() {
	c.presence = make(map[string]presenceEntry)
}
