package chattest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

type roomPayload struct {
	ChatID string `json:"chatId"`
}

type sendMessagePayload struct {
	ChatID  string          `json:"chatId"`
	Message json.RawMessage `json:"message"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait    = 10 * time.Second
	sendQueueLen = 64
)

// hub fans out sendMessage frames to the other connections joined to the
// same chat room.
type hub struct {
	srv *Server
	log zerolog.Logger

	mu       sync.Mutex
	rooms    map[string]map[*wsConn]struct{}
	conns    map[*wsConn]struct{}
	accepted int
}

type wsConn struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	done   chan struct{}

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newHub(srv *Server, log zerolog.Logger) *hub {
	return &hub{
		srv:   srv,
		log:   log.With().Str("module", "chattest.hub").Logger(),
		rooms: make(map[string]map[*wsConn]struct{}),
		conns: make(map[*wsConn]struct{}),
	}
}

func (h *hub) serve(c *gin.Context) {
	uid, err := h.srv.parseToken(bearer(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws upgrade")
		return
	}
	conn := &wsConn{
		userID: uid,
		conn:   ws,
		send:   make(chan []byte, sendQueueLen),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.accepted++
	h.mu.Unlock()
	h.log.Debug().Str("user", uid).Msg("ws connected")

	auth, _ := json.Marshal(map[string]string{"userId": uid})
	conn.enqueue(h.frame("authenticated", auth))

	go h.writePump(conn)
	h.readPump(conn)
}

func (h *hub) readPump(c *wsConn) {
	defer h.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		switch env.Type {
		case "joinChat":
			var p roomPayload
			if json.Unmarshal(env.Payload, &p) != nil || p.ChatID == "" {
				continue
			}
			if !h.srv.isMember(p.ChatID, c.userID) {
				c.enqueue(h.errorFrame("not a member of this chat"))
				continue
			}
			h.join(c, p.ChatID)
		case "leaveChat":
			var p roomPayload
			if json.Unmarshal(env.Payload, &p) == nil {
				h.leave(c, p.ChatID)
			}
		case "sendMessage":
			var p sendMessagePayload
			if json.Unmarshal(env.Payload, &p) != nil || p.ChatID == "" {
				continue
			}
			h.broadcast(c, p.ChatID, h.frame("receiveMessage", p.Message))
		}
	}
}

func (h *hub) writePump(c *wsConn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *hub) join(c *wsConn, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[chatID]
	if !ok {
		members = make(map[*wsConn]struct{})
		h.rooms[chatID] = members
	}
	members[c] = struct{}{}
	c.mu.Lock()
	c.rooms[chatID] = struct{}{}
	c.mu.Unlock()
}

func (h *hub) leave(c *wsConn, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, chatID)
}

func (h *hub) leaveLocked(c *wsConn, chatID string) {
	if members, ok := h.rooms[chatID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()
}

// broadcast delivers to every connection in the room except the sender's.
func (h *hub) broadcast(from *wsConn, chatID string, frame []byte) {
	h.mu.Lock()
	targets := make([]*wsConn, 0, len(h.rooms[chatID]))
	for c := range h.rooms[chatID] {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(frame) {
			h.log.Warn().Str("user", c.userID).Msg("send queue full, dropping frame")
		}
	}
}

func (h *hub) drop(c *wsConn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()
	for _, r := range rooms {
		h.leaveLocked(c, r)
	}
	h.mu.Unlock()
	c.close()
	h.log.Debug().Str("user", c.userID).Msg("ws disconnected")
}

// dropUser closes every connection of userID as if the network had failed.
func (h *hub) dropUser(userID string) int {
	h.mu.Lock()
	var targets []*wsConn
	for c := range h.conns {
		if c.userID == userID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		h.drop(c)
	}
	return len(targets)
}

func (h *hub) stats() (open, accepted int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns), h.accepted
}

func (h *hub) roomSize(chatID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[chatID])
}

func (h *hub) frame(typ string, payload json.RawMessage) []byte {
	data, _ := json.Marshal(envelope{Type: typ, Payload: payload})
	return data
}

func (h *hub) errorFrame(msg string) []byte {
	payload, _ := json.Marshal(map[string]string{"message": msg})
	return h.frame("error", payload)
}

func (c *wsConn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
