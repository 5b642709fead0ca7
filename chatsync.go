// Package chatsync is a client for a multi-user chat service.
//
// It keeps one consistent, ordered view of the messages of the selected
// conversation by reconciling the request/response history API with the
// realtime room channel.
//
// Example:
//
//	auth := chatsync.NewAuthSession(chatsync.NewFileSessionStore(path))
//	client := chatsync.NewClient(auth, chatsync.WithBaseURL("http://localhost:5001"))
//
//	client.Account.Login(ctx, chatsync.LoginInput{Email: "a@x.com", Password: "p"})
//
//	chat := chatsync.NewChat(client, nil)
//	chat.Start(ctx)
//	chat.Engine.SelectConversation(ctx, chat.Directory.Conversations()[0])
//	chat.Engine.Send(ctx, "hello")
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Client
// ============================================================================

const (
	DefaultBaseURL = "http://localhost:5001"
	DefaultTimeout = 30 * time.Second
)

// Client talks to the chat REST API. Authorized calls read the bearer token
// from the AuthSession and fail with ErrUnauthenticated, without touching the
// network, when there is none.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *AuthSession
	log        zerolog.Logger

	Account  *AccountClient
	Chats    *ChatsClient
	Messages *MessagesClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a chat API client bound to auth.
func NewClient(auth *AuthSession, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		auth: auth,
		log:  zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Account = &AccountClient{c: c}
	c.Chats = &ChatsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	return c
}

// Auth returns the session the client authorizes with.
func (c *Client) Auth() *AuthSession {
	return c.auth
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Logger returns the client's logger.
func (c *Client) Logger() zerolog.Logger {
	return c.log
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, authorized bool) ([]byte, error) {
	var token string
	if authorized {
		id, err := c.auth.Current()
		if err != nil {
			return nil, err
		}
		token = id.Token
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrNetwork, err)
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Sub-Clients
// ============================================================================

// AccountClient handles registration and login.
type AccountClient struct{ c *Client }

// Login authenticates and installs the returned identity into the client's
// AuthSession.
func (a *AccountClient) Login(ctx context.Context, in LoginInput) (*Identity, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	data, err := a.c.doRequest(ctx, "POST", "/api/login", in, false)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[LoginResult](data)
	if err != nil {
		return nil, err
	}
	if res.Token == "" || res.Data.ID == "" {
		return nil, fmt.Errorf("login response without token: %w", ErrUnauthenticated)
	}
	id := Identity{User: res.Data, Token: res.Token}
	if err := a.c.auth.Set(id); err != nil {
		return nil, err
	}
	a.c.log.Info().Str("user", id.User.ID).Msg("logged in")
	return &id, nil
}

// Register creates an account. It does not log in.
func (a *AccountClient) Register(ctx context.Context, in RegisterInput) error {
	if err := validateInput(in); err != nil {
		return err
	}
	_, err := a.c.doRequest(ctx, "POST", "/api/register", in, false)
	return err
}

// ChatsClient handles conversations and user lookup.
type ChatsClient struct{ c *Client }

func (ch *ChatsClient) List(ctx context.Context, userID string) ([]Conversation, error) {
	data, err := ch.c.doRequest(ctx, "GET", "/api/chat/"+url.PathEscape(userID), nil, true)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[[]Conversation](data)
	if err != nil {
		return nil, err
	}
	return *res, nil
}

// UserByEmail resolves a user by exact email. An empty body is reported as
// ErrNotFound.
func (ch *ChatsClient) UserByEmail(ctx context.Context, email string) (User, error) {
	data, err := ch.c.doRequest(ctx, "GET", "/api/chat/user/"+url.PathEscape(email), nil, true)
	if err != nil {
		return User{}, err
	}
	res, err := decodeJSON[*User](data)
	if err != nil {
		return User{}, err
	}
	if *res == nil || (*res).ID == "" {
		return User{}, fmt.Errorf("user %q: %w", email, ErrNotFound)
	}
	return **res, nil
}

func (ch *ChatsClient) Create(ctx context.Context, in CreateConversationInput) (Conversation, error) {
	if err := validateInput(in); err != nil {
		return Conversation{}, err
	}
	data, err := ch.c.doRequest(ctx, "POST", "/api/chat", in, true)
	if err != nil {
		return Conversation{}, err
	}
	res, err := decodeJSON[Conversation](data)
	if err != nil {
		return Conversation{}, err
	}
	if res.ID == "" {
		return Conversation{}, fmt.Errorf("create conversation: empty response")
	}
	return *res, nil
}

// AddMembers returns the server's authoritative conversation record.
func (ch *ChatsClient) AddMembers(ctx context.Context, chatID string, userIDs []string) (Conversation, error) {
	path := "/api/chat/" + url.PathEscape(chatID) + "/add-members"
	data, err := ch.c.doRequest(ctx, "PUT", path, addMembersBody{NewMembers: userIDs}, true)
	if err != nil {
		return Conversation{}, err
	}
	res, err := decodeJSON[Conversation](data)
	if err != nil {
		return Conversation{}, err
	}
	return *res, nil
}

// MessagesClient handles message history and persistence.
type MessagesClient struct{ c *Client }

func (m *MessagesClient) History(ctx context.Context, chatID string) ([]Message, error) {
	data, err := m.c.doRequest(ctx, "GET", "/api/message/"+url.PathEscape(chatID), nil, true)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[historyResult](data)
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// Send persists a message as the signed-in user. The server assigns id and
// timestamp.
func (m *MessagesClient) Send(ctx context.Context, chatID, content string) (Message, error) {
	id, err := m.c.auth.Current()
	if err != nil {
		return Message{}, err
	}
	body := sendMessageBody{Sender: id.User.ID, Content: content, Chat: chatID}
	data, err := m.c.doRequest(ctx, "POST", "/api/message/"+url.PathEscape(chatID), body, true)
	if err != nil {
		return Message{}, err
	}
	res, err := decodeJSON[Message](data)
	if err != nil {
		return Message{}, err
	}
	return *res, nil
}
