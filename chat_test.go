package chatsync

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestChat_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("should start without realtime and log it", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t, "a@x.com")
		dead := httptest.NewServer(http.NotFoundHandler())
		deadURL := WSURL(dead.URL)
		dead.Close()

		var logs syncBuffer
		client := NewClient(NewAuthSession(nil), WithBaseURL(env.ts.URL), WithLogger(zerolog.New(&logs)))
		_, err := client.Account.Login(ctx, LoginInput{Email: "a@x.com", Password: testPassword})
		req.NoError(err)

		chat := NewChat(client, &RealtimeConfig{URL: deadURL})
		req.NoError(chat.Start(ctx))
		req.Equal(StateDisconnected, chat.Channel.State())
		req.Contains(logs.String(), `"component":"chat"`)
		req.Contains(logs.String(), "realtime unavailable")

		req.NoError(chat.Close(ctx))
		req.NoError(chat.Logout(ctx))
		req.Contains(logs.String(), "logged out")
		_, err = client.Auth().Current()
		req.ErrorIs(err, ErrUnauthenticated)
	})

	t.Run("should refuse to start without a session", func(t *testing.T) {
		chat := NewChat(NewClient(NewAuthSession(nil)), nil)
		require.ErrorIs(t, chat.Start(ctx), ErrUnauthenticated)
	})

	t.Run("should close a connected session", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t, "a@x.com")
		chat := NewChat(env.client(t, "a@x.com"), nil)
		req.NoError(chat.Start(ctx))
		req.Equal(StateConnected, chat.Channel.State())
		req.Equal(1, env.srv.Connections())

		req.NoError(chat.Close(ctx))
		req.Equal(StateDisconnected, chat.Channel.State())
		req.Eventually(func() bool { return env.srv.Connections() == 0 }, 2*time.Second, 5*time.Millisecond)
	})
}
