// Package chattest is an in-memory chat server speaking the same REST and
// realtime protocol as the production service. It backs the end-to-end tests
// and `chatsync serve` for local development.
package chattest

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// Models
// ============================================================================

type User struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Chat struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Members []User `json:"members"`
	IsGroup bool   `json:"isGroup"`
	Admin   *User  `json:"admin,omitempty"`
}

type Message struct {
	ID        string    `json:"_id"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Chat      string    `json:"chat"`
	CreatedAt time.Time `json:"createdAt"`
}

type account struct {
	user User
	hash []byte
}

type chatRecord struct {
	id      string
	name    string
	members []string
	isGroup bool
	admin   string
}

// ============================================================================
// Server
// ============================================================================

// Server holds all state in memory. It is safe for concurrent use.
type Server struct {
	mu       sync.Mutex
	accounts map[string]*account // by id
	byEmail  map[string]string
	chats    map[string]*chatRecord
	order    []string
	messages map[string][]Message
	lastTS   time.Time

	secret   []byte
	tokenTTL time.Duration
	log      zerolog.Logger
	hub      *hub
	engine   *gin.Engine
}

type Option func(*Server)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithTokenTTL sets the lifetime of issued tokens. Default 24h.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.tokenTTL = ttl }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		accounts: make(map[string]*account),
		byEmail:  make(map[string]string),
		chats:    make(map[string]*chatRecord),
		messages: make(map[string][]Message),
		secret:   []byte(uuid.NewString()),
		tokenTTL: 24 * time.Hour,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s, s.log)
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving /api and /ws.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.POST("/register", s.register)
	api.POST("/login", s.login)

	authed := api.Group("/", s.requireAuth)
	authed.GET("/chat/user/:email", s.userByEmail)
	authed.GET("/chat/:userId", s.listChats)
	authed.POST("/chat", s.createChat)
	authed.PUT("/chat/:userId/add-members", s.addMembers)
	authed.GET("/message/:chatId", s.history)
	authed.POST("/message/:chatId", s.postMessage)

	r.GET("/ws", s.hub.serve)
	return r
}

// AddUser registers an account directly and returns it.
func (s *Server) AddUser(name, email, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return User{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return User{}, errUserExists
	}
	u := User{ID: uuid.NewString(), Email: email, Name: name}
	s.accounts[u.ID] = &account{user: u, hash: hash}
	s.byEmail[email] = u.ID
	return u, nil
}

// ChatCount returns the number of conversations ever created.
func (s *Server) ChatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

// Chat returns the stored conversation.
func (s *Server) Chat(id string) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.chats[id]
	if !ok {
		return Chat{}, false
	}
	return s.populateLocked(rec), true
}

// RoomSize returns how many realtime connections joined the chat room.
func (s *Server) RoomSize(chatID string) int {
	return s.hub.roomSize(chatID)
}

// DropConnections closes the realtime connections of userID without a close
// handshake and returns how many were closed.
func (s *Server) DropConnections(userID string) int {
	return s.hub.dropUser(userID)
}

// Connections returns the number of open realtime connections.
func (s *Server) Connections() int {
	open, _ := s.hub.stats()
	return open
}

// ConnectionsAccepted returns the number of realtime connections ever accepted.
func (s *Server) ConnectionsAccepted() int {
	_, accepted := s.hub.stats()
	return accepted
}

var (
	errUserExists   = errors.New("user already exists")
	errInvalidToken = errors.New("invalid token")
)

// ============================================================================
// Tokens
// ============================================================================

func (s *Server) issueToken(userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) parseToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errInvalidToken
	}
	s.mu.Lock()
	_, ok := s.accounts[claims.Subject]
	s.mu.Unlock()
	if !ok {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) requireAuth(c *gin.Context) {
	uid, err := s.parseToken(bearer(c.Request))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}
	c.Set("userID", uid)
	c.Next()
}

// ============================================================================
// Handlers
// ============================================================================

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username, email and password are required"})
		return
	}
	if _, err := s.AddUser(req.Username, req.Email, req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "User already exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User registered"})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Email and password are required"})
		return
	}

	s.mu.Lock()
	acc := s.accounts[s.byEmail[strings.ToLower(strings.TrimSpace(req.Email))]]
	s.mu.Unlock()
	if acc == nil || bcrypt.CompareHashAndPassword(acc.hash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid credentials"})
		return
	}

	token, err := s.issueToken(acc.user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "cannot issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": acc.user, "token": token})
}

func (s *Server) userByEmail(c *gin.Context) {
	email := strings.ToLower(c.Param("email"))
	s.mu.Lock()
	acc := s.accounts[s.byEmail[email]]
	s.mu.Unlock()
	if acc == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
		return
	}
	c.JSON(http.StatusOK, acc.user)
}

func (s *Server) listChats(c *gin.Context) {
	uid := c.GetString("userID")
	if c.Param("userId") != uid {
		c.JSON(http.StatusForbidden, gin.H{"message": "Cannot list chats of another user"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chat, 0)
	for _, id := range s.order {
		rec := s.chats[id]
		if lo.Contains(rec.members, uid) {
			out = append(out, s.populateLocked(rec))
		}
	}
	c.JSON(http.StatusOK, out)
}

type createChatRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	IsGroup bool     `json:"isGroup"`
	Admin   string   `json:"admin"`
}

func (s *Server) createChat(c *gin.Context) {
	uid := c.GetString("userID")
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request"})
		return
	}
	members := lo.Uniq(req.Members)
	switch {
	case !lo.Contains(members, uid):
		c.JSON(http.StatusForbidden, gin.H{"message": "Creator must be a member"})
		return
	case !req.IsGroup && (len(members) != 2 || req.Admin != ""):
		c.JSON(http.StatusBadRequest, gin.H{"message": "A direct chat has exactly two members and no admin"})
		return
	case req.IsGroup && (strings.TrimSpace(req.Name) == "" || req.Admin != uid):
		c.JSON(http.StatusBadRequest, gin.H{"message": "A group needs a name and its creator as admin"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		if _, ok := s.accounts[m]; !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
			return
		}
	}
	rec := &chatRecord{
		id:      uuid.NewString(),
		name:    req.Name,
		members: members,
		isGroup: req.IsGroup,
	}
	if req.IsGroup {
		rec.admin = req.Admin
	}
	s.chats[rec.id] = rec
	s.order = append(s.order, rec.id)
	s.log.Debug().Str("chat", rec.id).Bool("group", rec.isGroup).Msg("chat created")
	c.JSON(http.StatusCreated, s.populateLocked(rec))
}

type addMembersRequest struct {
	NewMembers []string `json:"newMembers" binding:"required"`
}

func (s *Server) addMembers(c *gin.Context) {
	uid := c.GetString("userID")
	var req addMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "newMembers is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.chats[c.Param("userId")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Chat not found"})
		return
	}
	if !rec.isGroup || rec.admin != uid {
		c.JSON(http.StatusForbidden, gin.H{"message": "Only the group admin can add members"})
		return
	}
	for _, m := range req.NewMembers {
		if _, ok := s.accounts[m]; !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
			return
		}
	}
	rec.members = lo.Uniq(append(rec.members, req.NewMembers...))
	c.JSON(http.StatusOK, s.populateLocked(rec))
}

func (s *Server) history(c *gin.Context) {
	uid := c.GetString("userID")
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, status := s.memberChatLocked(c.Param("chatId"), uid)
	if rec == nil {
		c.JSON(status, gin.H{"message": http.StatusText(status)})
		return
	}
	msgs := append([]Message{}, s.messages[rec.id]...)
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type postMessageRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Chat    string `json:"chat"`
}

func (s *Server) postMessage(c *gin.Context) {
	uid := c.GetString("userID")
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Content is required"})
		return
	}
	if req.Sender != uid {
		c.JSON(http.StatusForbidden, gin.H{"message": "Sender mismatch"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, status := s.memberChatLocked(c.Param("chatId"), uid)
	if rec == nil {
		c.JSON(status, gin.H{"message": http.StatusText(status)})
		return
	}
	msg := Message{
		ID:        uuid.NewString(),
		Sender:    s.accounts[uid].user,
		Content:   req.Content,
		Chat:      rec.id,
		CreatedAt: s.nextTimestampLocked(),
	}
	s.messages[rec.id] = append(s.messages[rec.id], msg)
	c.JSON(http.StatusCreated, msg)
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) isMember(chatID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.chats[chatID]
	return ok && lo.Contains(rec.members, userID)
}

func (s *Server) memberChatLocked(chatID, userID string) (*chatRecord, int) {
	rec, ok := s.chats[chatID]
	if !ok {
		return nil, http.StatusNotFound
	}
	if !lo.Contains(rec.members, userID) {
		return nil, http.StatusForbidden
	}
	return rec, http.StatusOK
}

func (s *Server) populateLocked(rec *chatRecord) Chat {
	out := Chat{
		ID:      rec.id,
		Name:    rec.name,
		IsGroup: rec.isGroup,
		Members: lo.FilterMap(rec.members, func(id string, _ int) (User, bool) {
			acc, ok := s.accounts[id]
			if !ok {
				return User{}, false
			}
			return acc.user, true
		}),
	}
	if acc, ok := s.accounts[rec.admin]; ok && rec.isGroup {
		admin := acc.user
		out.Admin = &admin
	}
	return out
}

// nextTimestampLocked keeps message timestamps strictly increasing.
func (s *Server) nextTimestampLocked() time.Time {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Millisecond)
	}
	s.lastTS = now
	return now
}
