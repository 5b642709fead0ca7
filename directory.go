package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// ChatAPI is the conversation half of the REST API. *ChatsClient implements it.
type ChatAPI interface {
	List(ctx context.Context, userID string) ([]Conversation, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, in CreateConversationInput) (Conversation, error)
	AddMembers(ctx context.Context, chatID string, userIDs []string) (Conversation, error)
}

// Directory keeps the conversations visible to the signed-in user.
//
// Results that complete after a Reset, and list results overtaken by a later
// list, are discarded.
type Directory struct {
	api  ChatAPI
	auth *AuthSession
	log  zerolog.Logger

	mu    sync.RWMutex
	convs []Conversation
	// epoch is bumped by Reset; listSeq at the start of every list.
	epoch    uint64
	listSeq  uint64
	inflight int
	// recent holds records written while a list is in flight, so that the
	// list result does not erase them.
	recent []Conversation
}

func NewDirectory(api ChatAPI, auth *AuthSession, log zerolog.Logger) *Directory {
	return &Directory{
		api:  api,
		auth: auth,
		log:  log.With().Str("component", "directory").Logger(),
	}
}

// Conversations returns a snapshot of the loaded list.
func (d *Directory) Conversations() []Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Conversation(nil), d.convs...)
}

// Find returns the loaded conversation with the given id.
func (d *Directory) Find(chatID string) (Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Find(d.convs, func(c Conversation) bool { return c.ID == chatID })
}

// ListConversations fetches the conversations of the signed-in user. On
// failure the previously loaded list is kept. A result superseded by Reset or
// by a later list is dropped and the current list is returned instead.
func (d *Directory) ListConversations(ctx context.Context) ([]Conversation, error) {
	id, err := d.auth.Current()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.listSeq++
	seq, epoch := d.listSeq, d.epoch
	d.inflight++
	d.recent = nil
	d.mu.Unlock()

	convs, err := d.api.List(ctx, id.User.ID)

	d.mu.Lock()
	d.inflight--
	stale := d.epoch != epoch || d.listSeq != seq
	if err == nil && !stale {
		d.convs = mergeRecent(convs, d.recent)
		d.recent = nil
	}
	if d.inflight == 0 {
		d.recent = nil
	}
	d.mu.Unlock()

	switch {
	case err != nil:
		d.log.Warn().Err(err).Msg("list conversations failed, keeping previous list")
		return nil, fmt.Errorf("list conversations: %w", err)
	case stale:
		d.log.Debug().Msg("discarding superseded conversation list")
	default:
		d.log.Debug().Int("count", len(convs)).Msg("conversations loaded")
	}
	return d.Conversations(), nil
}

// ResolveUserByEmail looks up a user by exact email.
func (d *Directory) ResolveUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, fmt.Errorf("%w: empty email", ErrInvalidInput)
	}
	if _, err := d.auth.Current(); err != nil {
		return User{}, err
	}
	u, err := d.api.UserByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// ResolveAll resolves every email or none. Any email that does not resolve
// fails the whole call with ErrPartialInput.
func (d *Directory) ResolveAll(ctx context.Context, emails []string) ([]User, error) {
	emails = normalizeEmails(emails)
	if len(emails) == 0 {
		return nil, fmt.Errorf("%w: no emails", ErrInvalidInput)
	}
	if _, err := d.auth.Current(); err != nil {
		return nil, err
	}

	users := make([]User, len(emails))
	g, gctx := errgroup.WithContext(ctx)
	for i, email := range emails {
		i, email := i, email
		g.Go(func() error {
			u, err := d.api.UserByEmail(gctx, email)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return fmt.Errorf("%w: %s: %w", ErrPartialInput, email, err)
				}
				return fmt.Errorf("resolve %s: %w", email, err)
			}
			users[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateDirect creates a two-member conversation between the signed-in user
// and the user registered under otherEmail. Repeated calls may create
// duplicates.
func (d *Directory) CreateDirect(ctx context.Context, otherEmail string) (Conversation, error) {
	self, err := d.auth.Current()
	if err != nil {
		return Conversation{}, err
	}
	epoch := d.currentEpoch()
	other, err := d.ResolveUserByEmail(ctx, otherEmail)
	if err != nil {
		return Conversation{}, fmt.Errorf("create chat: %w", err)
	}
	if other.ID == self.User.ID {
		return Conversation{}, fmt.Errorf("%w: cannot start a chat with yourself", ErrInvalidInput)
	}

	conv, err := d.api.Create(ctx, CreateConversationInput{
		Members: []string{self.User.ID, other.ID},
		IsGroup: false,
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("create chat: %w", err)
	}
	d.store(epoch, conv)
	d.log.Info().Str("chat", conv.ID).Str("with", other.Email).Msg("direct chat created")
	return conv, nil
}

// CreateGroup resolves every member email, adds the signed-in user and creates
// a group with that user as admin. Nothing is created when any email fails to
// resolve.
func (d *Directory) CreateGroup(ctx context.Context, name string, emails []string) (Conversation, error) {
	in := groupInput{Name: strings.TrimSpace(name), Emails: normalizeEmails(emails)}
	if err := validateInput(in); err != nil {
		return Conversation{}, err
	}
	self, err := d.auth.Current()
	if err != nil {
		return Conversation{}, err
	}
	epoch := d.currentEpoch()
	users, err := d.ResolveAll(ctx, in.Emails)
	if err != nil {
		return Conversation{}, fmt.Errorf("create group: %w", err)
	}

	members := lo.Uniq(append(lo.Map(users, func(u User, _ int) string { return u.ID }), self.User.ID))
	conv, err := d.api.Create(ctx, CreateConversationInput{
		Name:    in.Name,
		Members: members,
		IsGroup: true,
		Admin:   self.User.ID,
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("create group: %w", err)
	}
	d.store(epoch, conv)
	d.log.Info().Str("chat", conv.ID).Str("name", conv.Name).Int("members", len(conv.Members)).Msg("group created")
	return conv, nil
}

// Replace swaps the stored record with the same id for conv, or adds it.
func (d *Directory) Replace(conv Conversation) {
	d.store(d.currentEpoch(), conv)
}

// Reset forgets every loaded conversation. Requests still in flight will not
// write into the directory afterwards.
func (d *Directory) Reset() {
	d.mu.Lock()
	d.epoch++
	d.convs = nil
	d.recent = nil
	d.mu.Unlock()
}

func (d *Directory) currentEpoch() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.epoch
}

// store upserts conv unless the directory was reset since epoch. It reports
// whether conv was stored.
func (d *Directory) store(epoch uint64, conv Conversation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.epoch != epoch {
		d.log.Debug().Str("chat", conv.ID).Msg("discarding conversation written after reset")
		return false
	}
	d.convs = upsert(d.convs, conv)
	if d.inflight > 0 {
		d.recent = upsert(d.recent, conv)
	}
	return true
}

func upsert(convs []Conversation, conv Conversation) []Conversation {
	if _, i, ok := lo.FindIndexOf(convs, func(c Conversation) bool { return c.ID == conv.ID }); ok {
		convs[i] = conv
		return convs
	}
	return append(convs, conv)
}

// mergeRecent applies records written during a list on top of its result.
func mergeRecent(listed, recent []Conversation) []Conversation {
	out := append([]Conversation(nil), listed...)
	for _, conv := range recent {
		out = upsert(out, conv)
	}
	return out
}

func normalizeEmails(emails []string) []string {
	return lo.Uniq(lo.Compact(lo.Map(emails, func(e string, _ int) string { return strings.TrimSpace(e) })))
}
