package chatsync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// MembershipManager adds members to group conversations. Authorization is
// decided by the server; Conversation.IsAdmin only gates the affordance.
type MembershipManager struct {
	api ChatAPI
	dir *Directory
	log zerolog.Logger
}

func NewMembershipManager(api ChatAPI, dir *Directory, log zerolog.Logger) *MembershipManager {
	return &MembershipManager{
		api: api,
		dir: dir,
		log: log.With().Str("component", "membership").Logger(),
	}
}

// AddMembers resolves every email and adds the users to conv in one call. The
// returned record is the server's and replaces the directory entry. On any
// failure the directory is left as it was.
func (m *MembershipManager) AddMembers(ctx context.Context, conv Conversation, emails []string) (Conversation, error) {
	in := addMembersInput{Emails: normalizeEmails(emails)}
	if err := validateInput(in); err != nil {
		return Conversation{}, err
	}
	if conv.ID == "" {
		return Conversation{}, fmt.Errorf("%w: conversation without id", ErrInvalidInput)
	}

	users, err := m.dir.ResolveAll(ctx, in.Emails)
	if err != nil {
		return Conversation{}, fmt.Errorf("add members: %w", err)
	}
	ids := lo.Map(users, func(u User, _ int) string { return u.ID })

	updated, err := m.api.AddMembers(ctx, conv.ID, ids)
	if err != nil {
		m.log.Warn().Err(err).Str("chat", conv.ID).Msg("add members rejected")
		return Conversation{}, fmt.Errorf("add members: %w", err)
	}
	if updated.ID == "" {
		updated.ID = conv.ID
	}
	m.dir.Replace(updated)
	m.log.Info().Str("chat", updated.ID).Int("members", len(updated.Members)).Msg("members added")
	return updated, nil
}
