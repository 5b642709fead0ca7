package chatsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Chat wires the components of one signed-in session together.
type Chat struct {
	Client    *Client
	Channel   *RealtimeChannel
	Directory *Directory
	Engine    *SyncEngine
	Members   *MembershipManager

	log zerolog.Logger
}

// NewChat builds the session components on top of client. config may be nil.
func NewChat(client *Client, config *RealtimeConfig) *Chat {
	channel := NewRealtimeChannel(client, config)
	dir := NewDirectory(client.Chats, client.Auth(), client.Logger())
	return &Chat{
		Client:    client,
		Channel:   channel,
		Directory: dir,
		Engine:    NewSyncEngine(client.Messages, channel, client.Auth(), client.Logger()),
		Members:   NewMembershipManager(client.Chats, dir, client.Logger()),
		log:       client.Logger().With().Str("component", "chat").Logger(),
	}
}

// Start connects the realtime channel and loads the conversation list. A
// failed realtime connection is logged; the session keeps working without
// live updates.
func (c *Chat) Start(ctx context.Context) error {
	if _, err := c.Client.Auth().Current(); err != nil {
		return err
	}
	if err := c.Channel.Connect(ctx); err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return err
		}
		c.log.Warn().Err(err).Msg("realtime unavailable")
	}
	if _, err := c.Directory.ListConversations(ctx); err != nil {
		return err
	}
	return nil
}

// Close leaves the joined room, removes the message handler and closes the
// realtime connection. The session stays signed in.
func (c *Chat) Close(ctx context.Context) error {
	var err error
	if cerr := c.Engine.Close(ctx); cerr != nil {
		err = fmt.Errorf("leave room: %w", cerr)
	}
	if cerr := c.Channel.Disconnect(); cerr != nil {
		c.log.Debug().Err(cerr).Msg("realtime close")
	}
	c.Directory.Reset()
	return err
}

// Logout closes the Chat and clears the session. The Chat must not be used
// afterwards.
func (c *Chat) Logout(ctx context.Context) error {
	closeErr := c.Close(ctx)
	var clearErr error
	if err := c.Client.Auth().Clear(); err != nil {
		clearErr = fmt.Errorf("clear session: %w", err)
	}
	c.log.Info().Msg("logged out")
	return errors.Join(closeErr, clearErr)
}
