package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	chatsync "github.com/chatsync-io/chatsync-go"
	"github.com/spf13/cobra"
)

var messagesJSON bool

func init() {
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Print the history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		msgs, err := client.Messages.History(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}
		if messagesJSON {
			return printJSON(msgs)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		id, _ := client.Auth().Current()
		for _, m := range msgs {
			printMessage(m, id.User.ID)
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <message>",
	Short: "Send a message and broadcast it to the room",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		chat, conv, err := openConversation(ctx, args[0])
		if err != nil {
			return err
		}
		defer chat.Close(context.Background())

		msg, err := chat.Engine.Send(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Sent to %s (message %s)\n", conv.DisplayName(msg.Sender.ID), msg.ID)
		return nil
	},
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <chat-id>",
	Short: "Follow a conversation in real time; lines typed on stdin are sent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		chat, conv, err := openConversation(ctx, args[0])
		if err != nil {
			return err
		}
		defer chat.Close(context.Background())

		id, _ := chat.Client.Auth().Current()
		fmt.Printf("-- %s (Ctrl-C to quit) --\n", conv.DisplayName(id.User.ID))

		printed := make(map[string]bool)
		render := func() {
			for _, m := range chat.Engine.Messages() {
				if printed[m.ID] {
					continue
				}
				printed[m.ID] = true
				printMessage(m, id.User.ID)
			}
		}
		render()

		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-chat.Engine.Updates():
				render()
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				if _, err := chat.Engine.Send(ctx, line); err != nil {
					fmt.Fprintf(os.Stderr, "! %s\n", chatsync.UserMessage(err, "Failed to send message"))
				}
			}
		}
	},
}

// openConversation starts a chat session and selects chatID.
func openConversation(ctx context.Context, chatID string) (*chatsync.Chat, chatsync.Conversation, error) {
	chat, err := newChat(ctx)
	if err != nil {
		return nil, chatsync.Conversation{}, err
	}
	conv, ok := chat.Directory.Find(chatID)
	if !ok {
		_ = chat.Close(ctx)
		return nil, chatsync.Conversation{}, fmt.Errorf("chat %s not found in your conversations", chatID)
	}
	reportRealtimeErrors(chat.Channel, os.Stderr)
	if err := chat.Engine.SelectConversation(ctx, conv); err != nil {
		_ = chat.Close(ctx)
		return nil, chatsync.Conversation{}, err
	}
	return chat, conv, nil
}

// reportRealtimeErrors prints the server's realtime error frames to w.
func reportRealtimeErrors(ch *chatsync.RealtimeChannel, w io.Writer) {
	ch.OnError(func(p chatsync.RealtimeErrorPayload) {
		fmt.Fprintf(w, "! %s\n", valueOrDefault(p.Message, "realtime error"))
	})
}

func printMessage(m chatsync.Message, selfID string) {
	who := m.Sender.Email
	if m.IsOwn(selfID) {
		who = "you"
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), valueOrDefault(who, m.Sender.ID), m.Content)
}
