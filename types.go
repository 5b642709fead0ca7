package chatsync

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// ============================================================================
// Domain Types
// ============================================================================

// User is a chat participant. Values are immutable once fetched.
type User struct {
	ID    string `json:"_id" toml:"id"`
	Email string `json:"email" toml:"email"`
	Name  string `json:"name" toml:"name"`
}

// Conversation is a direct (two members, no admin) or group chat thread.
type Conversation struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Members []User `json:"members"`
	IsGroup bool   `json:"isGroup"`
	Admin   *User  `json:"admin,omitempty"`
}

// MemberIDs returns the member ids in display order.
func (c Conversation) MemberIDs() []string {
	return lo.Map(c.Members, func(u User, _ int) string { return u.ID })
}

// HasMember reports whether userID belongs to the conversation.
func (c Conversation) HasMember(userID string) bool {
	return lo.ContainsBy(c.Members, func(u User) bool { return u.ID == userID })
}

// IsAdmin reports whether userID may change the membership of c.
// Direct conversations have no admin.
func (c Conversation) IsAdmin(userID string) bool {
	return c.IsGroup && c.Admin != nil && userID != "" && c.Admin.ID == userID
}

// DisplayName is the group name for groups and the other member's email for
// direct conversations.
func (c Conversation) DisplayName(selfID string) string {
	if c.IsGroup {
		return c.Name
	}
	other, ok := lo.Find(c.Members, func(u User) bool { return u.ID != selfID })
	if !ok {
		return ""
	}
	return other.Email
}

// Message is a single chat message. Chat is the id of the owning conversation.
type Message struct {
	ID        string    `json:"_id"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Chat      string    `json:"chat"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsOwn reports whether the message was sent by userID.
func (m Message) IsOwn(userID string) bool {
	return m.Sender.ID == userID
}

// ============================================================================
// Request / Response Types
// ============================================================================

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterInput struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is the body returned by POST /login.
type LoginResult struct {
	Data  User   `json:"data"`
	Token string `json:"token"`
}

// CreateConversationInput is the body of POST /chat.
type CreateConversationInput struct {
	Name    string   `json:"name"`
	Members []string `json:"members" validate:"min=2,dive,required"`
	IsGroup bool     `json:"isGroup"`
	Admin   string   `json:"admin,omitempty"`
}

type addMembersBody struct {
	NewMembers []string `json:"newMembers"`
}

type historyResult struct {
	Messages []Message `json:"messages"`
}

type sendMessageBody struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Chat    string `json:"chat"`
}

type groupInput struct {
	Name   string   `validate:"required"`
	Emails []string `validate:"min=1,dive,email"`
}

type addMembersInput struct {
	Emails []string `validate:"min=1,dive,email"`
}

// SplitEmails parses a comma separated list of addresses, dropping blanks.
func SplitEmails(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string { return strings.TrimSpace(p) })
	return lo.Compact(parts)
}
