package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Types
// ============================================================================

const (
	EventAuthenticated  = "authenticated"
	EventJoinChat       = "joinChat"
	EventLeaveChat      = "leaveChat"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
	EventError          = "error"
)

// RealtimeEnvelope is the wire format for every realtime frame.
type RealtimeEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// RoomPayload is the payload of joinChat and leaveChat.
type RoomPayload struct {
	ChatID string `json:"chatId"`
}

// SendMessagePayload is the payload of sendMessage.
type SendMessagePayload struct {
	ChatID  string  `json:"chatId"`
	Message Message `json:"message"`
}

// AuthenticatedPayload is the first frame the server sends after accepting the
// token.
type AuthenticatedPayload struct {
	UserID string `json:"userId"`
}

// RealtimeErrorPayload is sent when a server-side error occurs.
type RealtimeErrorPayload struct {
	Message string `json:"message"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime channel.
type RealtimeConfig struct {
	// URL overrides the websocket endpoint. Defaults to the client base URL
	// with a ws scheme and the /ws path.
	URL                  string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// WSURL derives the websocket endpoint from an http(s) base URL.
func WSURL(baseURL string) string {
	base := strings.Replace(baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return strings.TrimRight(base, "/") + "/ws"
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeChannel
// ============================================================================

// RealtimeChannel is the persistent websocket of one session. It is joined to
// at most one room; inbound messages whose chat differs from that room are
// dropped before reaching any handler.
type RealtimeChannel struct {
	url    string
	auth   *AuthSession
	config *RealtimeConfig
	log    zerolog.Logger
	recon  *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc

	// roomMu serializes room transitions against inbound delivery.
	roomMu sync.Mutex
	room   string

	handlersMu sync.RWMutex
	handlers   map[uint64]func(Message)
	nextID     uint64
	onError    []func(RealtimeErrorPayload)
}

// NewRealtimeChannel creates a channel for the session of client. Call
// Connect to establish it.
func NewRealtimeChannel(client *Client, config *RealtimeConfig) *RealtimeChannel {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	u := cfg.URL
	if u == "" {
		u = WSURL(client.BaseURL())
	}
	return &RealtimeChannel{
		url:      u,
		auth:     client.Auth(),
		config:   &cfg,
		log:      client.Logger().With().Str("component", "realtime").Logger(),
		recon:    newReconnector(&cfg),
		state:    StateDisconnected,
		handlers: make(map[uint64]func(Message)),
	}
}

// OnMessage registers h for inbound messages of the joined room. The returned
// function removes the handler.
func (rc *RealtimeChannel) OnMessage(h func(Message)) (unsubscribe func()) {
	rc.handlersMu.Lock()
	rc.nextID++
	id := rc.nextID
	rc.handlers[id] = h
	rc.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			rc.handlersMu.Lock()
			delete(rc.handlers, id)
			rc.handlersMu.Unlock()
		})
	}
}

// OnError registers a handler for server error frames.
func (rc *RealtimeChannel) OnError(h func(RealtimeErrorPayload)) {
	rc.handlersMu.Lock()
	rc.onError = append(rc.onError, h)
	rc.handlersMu.Unlock()
}

// State returns the current connection state.
func (rc *RealtimeChannel) State() RealtimeState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Room returns the joined room, or "" when none.
func (rc *RealtimeChannel) Room() string {
	rc.roomMu.Lock()
	defer rc.roomMu.Unlock()
	return rc.room
}

// Connect dials the server with the session token and waits for the
// authenticated frame.
func (rc *RealtimeChannel) Connect(ctx context.Context) error {
	id, err := rc.auth.Current()
	if err != nil {
		return err
	}

	rc.mu.Lock()
	if rc.state == StateConnected || rc.state == StateConnecting {
		rc.mu.Unlock()
		return nil
	}
	rc.state = StateConnecting
	rc.intentionalClose = false
	rc.mu.Unlock()

	wsURL := rc.url + "?token=" + url.QueryEscape(id.Token)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: rc.config.HTTPClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + id.Token}},
	})
	if err != nil {
		rc.setState(StateDisconnected)
		return fmt.Errorf("%w: websocket dial: %w", ErrNetwork, err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rc.setState(StateDisconnected)
		return fmt.Errorf("%w: read auth frame: %w", ErrNetwork, err)
	}

	var env RealtimeEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventAuthenticated {
		conn.Close(websocket.StatusNormalClosure, "")
		rc.setState(StateDisconnected)
		return fmt.Errorf("expected %q, got %q: %w", EventAuthenticated, env.Type, ErrUnauthenticated)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	rc.mu.Lock()
	rc.conn = conn
	rc.state = StateConnected
	rc.cancelFn = cancel
	rc.mu.Unlock()
	rc.recon.markConnected()
	rc.log.Info().Str("url", rc.url).Msg("realtime connected")

	go rc.readLoop(connCtx, conn)
	go rc.heartbeatLoop(connCtx, conn)

	// A room chosen while disconnected is joined now.
	rc.roomMu.Lock()
	room := rc.room
	rc.roomMu.Unlock()
	if room != "" {
		if err := rc.send(ctx, EventJoinChat, RoomPayload{ChatID: room}); err != nil {
			rc.log.Warn().Err(err).Str("room", room).Msg("rejoin failed")
		}
	}
	return nil
}

// Disconnect closes the connection and forgets the joined room.
func (rc *RealtimeChannel) Disconnect() error {
	rc.roomMu.Lock()
	rc.room = ""
	rc.roomMu.Unlock()

	rc.mu.Lock()
	rc.intentionalClose = true
	if rc.cancelFn != nil {
		rc.cancelFn()
		rc.cancelFn = nil
	}
	conn := rc.conn
	rc.conn = nil
	rc.state = StateDisconnected
	rc.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// JoinRoom subscribes to chatID, leaving any other joined room first.
func (rc *RealtimeChannel) JoinRoom(ctx context.Context, chatID string) error {
	return rc.SwitchRoom(ctx, rc.Room(), chatID)
}

// SwitchRoom leaves old and joins next as one step: from the moment it is
// called, only events of next are delivered. An empty next only leaves.
//
// The room is recorded even when the send fails, so Connect rejoins it.
func (rc *RealtimeChannel) SwitchRoom(ctx context.Context, old, next string) error {
	rc.roomMu.Lock()
	defer rc.roomMu.Unlock()

	if rc.room != "" && rc.room != old {
		rc.log.Debug().Str("expected", old).Str("actual", rc.room).Msg("switching from a different room")
		old = rc.room
	}
	if old == next && next != "" {
		return nil
	}
	rc.room = next

	if !rc.connected() {
		return ErrNotConnected
	}
	if old != "" {
		if err := rc.send(ctx, EventLeaveChat, RoomPayload{ChatID: old}); err != nil {
			return fmt.Errorf("leave %s: %w", old, err)
		}
	}
	if next != "" {
		if err := rc.send(ctx, EventJoinChat, RoomPayload{ChatID: next}); err != nil {
			return fmt.Errorf("join %s: %w", next, err)
		}
	}
	rc.log.Debug().Str("from", old).Str("to", next).Msg("room switched")
	return nil
}

// LeaveRoom unsubscribes from chatID. It is a no-op when chatID is not the
// joined room.
func (rc *RealtimeChannel) LeaveRoom(ctx context.Context, chatID string) error {
	rc.roomMu.Lock()
	joined := rc.room
	rc.roomMu.Unlock()
	if chatID == "" || joined != chatID {
		return nil
	}
	err := rc.SwitchRoom(ctx, chatID, "")
	if err == ErrNotConnected {
		return nil
	}
	return err
}

// SendMessage broadcasts an already persisted message to the other members of
// the room. It does not persist anything.
func (rc *RealtimeChannel) SendMessage(ctx context.Context, chatID string, msg Message) error {
	return rc.send(ctx, EventSendMessage, SendMessagePayload{ChatID: chatID, Message: msg})
}

func (rc *RealtimeChannel) connected() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.conn != nil && rc.state == StateConnected
}

func (rc *RealtimeChannel) setState(s RealtimeState) {
	rc.mu.Lock()
	rc.state = s
	rc.mu.Unlock()
}

func (rc *RealtimeChannel) send(ctx context.Context, eventType string, payload any) error {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(RealtimeEnvelope{Type: eventType, Payload: raw, RequestID: uuid.NewString()})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return nil
}

func (rc *RealtimeChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rc.mu.Lock()
			intentional := rc.intentionalClose
			if rc.conn == conn {
				rc.conn = nil
				rc.state = StateDisconnected
				if rc.cancelFn != nil {
					rc.cancelFn()
					rc.cancelFn = nil
				}
			}
			rc.mu.Unlock()
			if intentional {
				return
			}

			rc.log.Warn().Err(err).Msg("realtime disconnected")
			if rc.config.AutoReconnect && rc.recon.shouldReconnect() {
				rc.scheduleReconnect()
			}
			return
		}

		var env RealtimeEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		rc.dispatch(env)
	}
}

func (rc *RealtimeChannel) dispatch(env RealtimeEnvelope) {
	switch env.Type {
	case EventReceiveMessage:
		var msg Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			rc.log.Debug().Err(err).Msg("malformed message event")
			return
		}
		rc.deliver(msg)
	case EventError:
		var p RealtimeErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			rc.handlersMu.RLock()
			handlers := append([]func(RealtimeErrorPayload){}, rc.onError...)
			rc.handlersMu.RUnlock()
			for _, h := range handlers {
				h(p)
			}
		}
	}
}

// deliver holds roomMu so that a concurrent SwitchRoom either completes before
// the room check or waits until the handlers have returned.
func (rc *RealtimeChannel) deliver(msg Message) {
	rc.roomMu.Lock()
	defer rc.roomMu.Unlock()
	if rc.room == "" || msg.Chat != rc.room {
		rc.log.Debug().Str("chat", msg.Chat).Str("room", rc.room).Msg("dropping message for another room")
		return
	}

	rc.handlersMu.RLock()
	handlers := make([]func(Message), 0, len(rc.handlers))
	for _, h := range rc.handlers {
		handlers = append(handlers, h)
	}
	rc.handlersMu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (rc *RealtimeChannel) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rc.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				rc.log.Warn().Err(err).Msg("heartbeat failed")
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (rc *RealtimeChannel) scheduleReconnect() {
	for rc.recon.shouldReconnect() {
		delay := rc.recon.nextDelay()
		rc.setState(StateReconnecting)
		rc.log.Info().Int("attempt", rc.recon.attempt).Dur("delay", delay).Msg("reconnecting")

		time.Sleep(delay)

		rc.mu.Lock()
		intentional := rc.intentionalClose
		rc.mu.Unlock()
		if intentional {
			return
		}
		rc.setState(StateDisconnected)
		if err := rc.Connect(context.Background()); err == nil {
			return
		}
	}
	rc.setState(StateDisconnected)
}
