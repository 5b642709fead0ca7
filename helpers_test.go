package chatsync

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatsync-io/chatsync-go/chattest"
	"github.com/stretchr/testify/require"
)

const testPassword = "p"

type testEnv struct {
	srv *chattest.Server
	ts  *httptest.Server
}

func newTestEnv(t *testing.T, emails ...string) *testEnv {
	t.Helper()
	srv := chattest.NewServer()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	for _, email := range emails {
		_, err := srv.AddUser(email, email, testPassword)
		require.NoError(t, err)
	}
	return &testEnv{srv: srv, ts: ts}
}

// client logs email in on a fresh session.
func (e *testEnv) client(t *testing.T, email string) *Client {
	t.Helper()
	c := NewClient(NewAuthSession(nil), WithBaseURL(e.ts.URL), WithTimeout(5*time.Second))
	_, err := c.Account.Login(context.Background(), LoginInput{Email: email, Password: testPassword})
	require.NoError(t, err)
	return c
}

// chat logs email in and starts a full session.
func (e *testEnv) chat(t *testing.T, email string) *Chat {
	t.Helper()
	return e.chatWith(t, email, nil)
}

func (e *testEnv) chatWith(t *testing.T, email string, config *RealtimeConfig) *Chat {
	t.Helper()
	chat := NewChat(e.client(t, email), config)
	require.NoError(t, chat.Start(context.Background()))
	t.Cleanup(func() { _ = chat.Close(context.Background()) })
	return chat
}

func (e *testEnv) waitRoomSize(t *testing.T, chatID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.srv.RoomSize(chatID) == n }, 2*time.Second, 5*time.Millisecond)
}
