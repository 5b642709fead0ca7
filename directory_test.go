package chatsync

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeChatAPI answers from fixed data and counts the calls it receives.
type fakeChatAPI struct {
	convs    []Conversation
	listErr  error
	users    map[string]User
	creates  atomic.Int32
	adds     atomic.Int32
	addErr   error
	lastAdd  []string
	createFn func(CreateConversationInput) Conversation
	// listFn runs inside List while the request is in flight.
	listFn func(call int) []Conversation
	lists  atomic.Int32
}

func (f *fakeChatAPI) List(context.Context, string) ([]Conversation, error) {
	call := int(f.lists.Add(1))
	if f.listFn != nil {
		return f.listFn(call), nil
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.convs, nil
}

func (f *fakeChatAPI) UserByEmail(_ context.Context, email string) (User, error) {
	u, ok := f.users[email]
	if !ok {
		return User{}, &APIError{StatusCode: 404, Message: "User not found"}
	}
	return u, nil
}

func (f *fakeChatAPI) Create(_ context.Context, in CreateConversationInput) (Conversation, error) {
	f.creates.Add(1)
	if f.createFn != nil {
		return f.createFn(in), nil
	}
	return Conversation{ID: "new", Name: in.Name, IsGroup: in.IsGroup}, nil
}

func (f *fakeChatAPI) AddMembers(_ context.Context, chatID string, userIDs []string) (Conversation, error) {
	f.adds.Add(1)
	f.lastAdd = userIDs
	if f.addErr != nil {
		return Conversation{}, f.addErr
	}
	return Conversation{ID: chatID, IsGroup: true}, nil
}

func TestDirectory_ListConversations(t *testing.T) {
	ctx := context.Background()

	t.Run("should keep the previous list when a refresh fails", func(t *testing.T) {
		req := require.New(t)
		api := &fakeChatAPI{convs: []Conversation{{ID: "c1"}, {ID: "c2"}}}
		dir := NewDirectory(api, signedIn(t), zerolog.Nop())

		got, err := dir.ListConversations(ctx)
		req.NoError(err)
		req.Len(got, 2)

		api.listErr = &APIError{StatusCode: 503}
		_, err = dir.ListConversations(ctx)
		req.ErrorIs(err, ErrNetwork)
		req.Len(dir.Conversations(), 2)
	})

	t.Run("should require a session", func(t *testing.T) {
		dir := NewDirectory(&fakeChatAPI{}, NewAuthSession(nil), zerolog.Nop())
		_, err := dir.ListConversations(ctx)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("should list only the caller's conversations", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t, "a@x.com", "b@x.com", "c@x.com")
		a := env.client(t, "a@x.com")
		_, err := NewDirectory(a.Chats, a.Auth(), zerolog.Nop()).CreateDirect(ctx, "b@x.com")
		req.NoError(err)

		c := env.client(t, "c@x.com")
		convs, err := NewDirectory(c.Chats, c.Auth(), zerolog.Nop()).ListConversations(ctx)
		req.NoError(err)
		req.Empty(convs)
	})
}

func TestDirectory_ResolveUserByEmail(t *testing.T) {
	ctx := context.Background()
	api := &fakeChatAPI{users: map[string]User{"b@x.com": {ID: "u2", Email: "b@x.com"}}}
	dir := NewDirectory(api, signedIn(t), zerolog.Nop())

	t.Run("should trim the email", func(t *testing.T) {
		u, err := dir.ResolveUserByEmail(ctx, "  b@x.com ")
		require.NoError(t, err)
		require.Equal(t, "u2", u.ID)
	})

	t.Run("should report unknown users as not found", func(t *testing.T) {
		_, err := dir.ResolveUserByEmail(ctx, "nobody@x.com")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should reject an empty email", func(t *testing.T) {
		_, err := dir.ResolveUserByEmail(ctx, "  ")
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestDirectory_CreateDirect(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a two member conversation without admin", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t, "a@x.com", "b@x.com")
		a := env.client(t, "a@x.com")
		dir := NewDirectory(a.Chats, a.Auth(), zerolog.Nop())

		conv, err := dir.CreateDirect(ctx, "b@x.com")
		req.NoError(err)
		req.False(conv.IsGroup)
		req.Nil(conv.Admin)
		req.Len(conv.Members, 2)
		req.Equal("b@x.com", conv.DisplayName(mustIdentity(t, a).User.ID))

		found, ok := dir.Find(conv.ID)
		req.True(ok)
		req.Equal(conv.ID, found.ID)
	})

	t.Run("should fail for an unknown email without creating anything", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t, "a@x.com")
		a := env.client(t, "a@x.com")
		dir := NewDirectory(a.Chats, a.Auth(), zerolog.Nop())

		_, err := dir.CreateDirect(ctx, "ghost@x.com")
		req.ErrorIs(err, ErrNotFound)
		req.Zero(env.srv.ChatCount())
		req.Empty(dir.Conversations())
	})

	t.Run("should refuse a conversation with oneself", func(t *testing.T) {
		env := newTestEnv(t, "a@x.com")
		a := env.client(t, "a@x.com")
		_, err := NewDirectory(a.Chats, a.Auth(), zerolog.Nop()).CreateDirect(ctx, "a@x.com")
		require.ErrorIs(t, err, ErrInvalidInput)
		require.Zero(t, env.srv.ChatCount())
	})
}

func TestDirectory_CreateGroup(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a group with the creator as admin and member", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t, "a@x.com", "b@x.com", "c@x.com")
		a := env.client(t, "a@x.com")
		self := mustIdentity(t, a).User.ID
		dir := NewDirectory(a.Chats, a.Auth(), zerolog.Nop())

		conv, err := dir.CreateGroup(ctx, "Team", []string{"b@x.com", " c@x.com", "b@x.com"})
		req.NoError(err)
		req.True(conv.IsGroup)
		req.Equal("Team", conv.DisplayName(self))
		req.True(conv.IsAdmin(self))
		req.Len(conv.Members, 3)
		req.True(conv.HasMember(self))
		req.Len(dir.Conversations(), 1)
	})

	t.Run("should create nothing when one email does not resolve", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t, "a@x.com", "b@x.com")
		a := env.client(t, "a@x.com")
		dir := NewDirectory(a.Chats, a.Auth(), zerolog.Nop())
		_, err := dir.ListConversations(ctx)
		req.NoError(err)

		_, err = dir.CreateGroup(ctx, "Team", []string{"b@x.com", "c@x.com"})
		req.ErrorIs(err, ErrPartialInput)
		req.ErrorContains(err, "c@x.com")
		req.Zero(env.srv.ChatCount())
		req.Empty(dir.Conversations())
	})

	t.Run("should validate before any request", func(t *testing.T) {
		req := require.New(t)
		api := &fakeChatAPI{}
		dir := NewDirectory(api, signedIn(t), zerolog.Nop())

		_, err := dir.CreateGroup(ctx, " ", []string{"b@x.com"})
		req.ErrorIs(err, ErrInvalidInput)
		_, err = dir.CreateGroup(ctx, "Team", []string{" ", ""})
		req.ErrorIs(err, ErrInvalidInput)
		_, err = dir.CreateGroup(ctx, "Team", []string{"not-an-email"})
		req.ErrorIs(err, ErrInvalidInput)
		req.Zero(api.creates.Load())
	})

	t.Run("should surface lookup failures other than not found", func(t *testing.T) {
		api := &fakeChatAPI{}
		dir := NewDirectory(lookupFailing{api, fmt.Errorf("%w: timeout", ErrNetwork)}, signedIn(t), zerolog.Nop())
		_, err := dir.CreateGroup(ctx, "Team", []string{"b@x.com"})
		require.ErrorIs(t, err, ErrNetwork)
		require.NotErrorIs(t, err, ErrPartialInput)
		require.Zero(t, api.creates.Load())
	})
}

func TestDirectory_Replace(t *testing.T) {
	dir := NewDirectory(&fakeChatAPI{}, signedIn(t), zerolog.Nop())
	dir.Replace(Conversation{ID: "c1", Name: "old"})
	dir.Replace(Conversation{ID: "c2"})

	dir.Replace(Conversation{ID: "c1", Name: "new"})
	got, ok := dir.Find("c1")
	require.True(t, ok)
	require.Equal(t, "new", got.Name)
	require.Len(t, dir.Conversations(), 2)

	dir.Reset()
	require.Empty(t, dir.Conversations())
}

func TestDirectory_Staleness(t *testing.T) {
	ctx := context.Background()
	users := map[string]User{"b@x.com": {ID: "u2", Email: "b@x.com"}}

	t.Run("should drop a list that completes after reset", func(t *testing.T) {
		req := require.New(t)
		api := &fakeChatAPI{}
		dir := NewDirectory(api, signedIn(t), zerolog.Nop())
		api.listFn = func(int) []Conversation {
			dir.Reset()
			return []Conversation{{ID: "c1"}}
		}

		got, err := dir.ListConversations(ctx)
		req.NoError(err)
		req.Empty(got)
		req.Empty(dir.Conversations())
	})

	t.Run("should not let an older list overwrite a newer one", func(t *testing.T) {
		req := require.New(t)
		api := &fakeChatAPI{}
		dir := NewDirectory(api, signedIn(t), zerolog.Nop())
		api.listFn = func(call int) []Conversation {
			if call == 1 {
				newer, err := dir.ListConversations(ctx)
				req.NoError(err)
				req.Equal([]string{"c2"}, convIDs(newer))
				return []Conversation{{ID: "c1"}}
			}
			return []Conversation{{ID: "c2"}}
		}

		got, err := dir.ListConversations(ctx)
		req.NoError(err)
		req.Equal([]string{"c2"}, convIDs(got))
		req.Equal([]string{"c2"}, convIDs(dir.Conversations()))
	})

	t.Run("should keep a conversation created while a list is in flight", func(t *testing.T) {
		req := require.New(t)
		api := &fakeChatAPI{users: users}
		dir := NewDirectory(api, signedIn(t), zerolog.Nop())
		api.listFn = func(int) []Conversation {
			_, err := dir.CreateGroup(ctx, "Team", []string{"b@x.com"})
			req.NoError(err)
			return []Conversation{{ID: "c1"}}
		}

		got, err := dir.ListConversations(ctx)
		req.NoError(err)
		req.ElementsMatch([]string{"c1", "new"}, convIDs(got))

		api.listFn = nil
		api.convs = []Conversation{{ID: "c1"}}
		got, err = dir.ListConversations(ctx)
		req.NoError(err)
		req.Equal([]string{"c1"}, convIDs(got))
	})

	t.Run("should drop a creation that completes after reset", func(t *testing.T) {
		req := require.New(t)
		api := &fakeChatAPI{users: users}
		dir := NewDirectory(api, signedIn(t), zerolog.Nop())
		api.createFn = func(in CreateConversationInput) Conversation {
			dir.Reset()
			return Conversation{ID: "late", IsGroup: in.IsGroup}
		}

		conv, err := dir.CreateDirect(ctx, "b@x.com")
		req.NoError(err)
		req.Equal("late", conv.ID)
		req.Empty(dir.Conversations())

		api.createFn = nil
		_, err = dir.CreateDirect(ctx, "b@x.com")
		req.NoError(err)
		req.Len(dir.Conversations(), 1)
	})
}

func convIDs(convs []Conversation) []string {
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}

type lookupFailing struct {
	*fakeChatAPI
	err error
}

func (l lookupFailing) UserByEmail(context.Context, string) (User, error) {
	return User{}, l.err
}

func mustIdentity(t *testing.T, c *Client) Identity {
	t.Helper()
	id, err := c.Auth().Current()
	require.NoError(t, err)
	return id
}
