package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	chatsync "github.com/chatsync-io/chatsync-go"
	"github.com/spf13/cobra"
)

var (
	registerUsername string
	registerPassword string
	loginPassword    string
)

func init() {
	registerCmd.Flags().StringVar(&registerUsername, "username", "", "Display name (defaults to the email's local part)")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "Password (prompted when empty)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when empty)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
}

// ============================================================================
// register / login / logout
// ============================================================================

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		email := args[0]
		username := registerUsername
		if username == "" {
			username, _, _ = strings.Cut(email, "@")
		}
		password, err := passwordOrPrompt(registerPassword)
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()
		if err := client.Account.Register(ctx, chatsync.RegisterInput{
			Username: username,
			Email:    email,
			Password: password,
		}); err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		fmt.Printf("Registered %s. Run 'chatsync login %s' to sign in.\n", email, email)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in and store the session locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		password, err := passwordOrPrompt(loginPassword)
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()
		id, err := client.Account.Login(ctx, chatsync.LoginInput{Email: args[0], Password: password})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Println("Login successful!")
		fmt.Printf("  User ID: %s\n", id.User.ID)
		fmt.Printf("  Email:   %s\n", id.User.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, s, err := newClient()
		if err != nil {
			return err
		}
		chat := chatsync.NewChat(client, &chatsync.RealtimeConfig{URL: s.RealtimeURL})
		ctx, cancel := requestContext()
		defer cancel()
		if err := chat.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

// ============================================================================
// status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, s, err := newClient()
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:     %s\n", s.BaseURL)
		fmt.Printf("  Realtime URL: %s\n", valueOrDefault(s.RealtimeURL, chatsync.WSURL(s.BaseURL)))
		fmt.Printf("  Timeout:      %s\n", s.Timeout)

		fmt.Println()
		fmt.Println("Session:")
		id, err := client.Auth().Current()
		if err != nil {
			fmt.Printf("  Status:       %s\n", chatsync.UserMessage(err, "not logged in"))
			return nil
		}
		fmt.Printf("  User:         %s (%s)\n", id.User.Email, id.User.ID)
		if exp, ok := chatsync.TokenExpiry(id.Token); ok {
			fmt.Printf("  Token:        valid (expires %s, in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Minute))
		} else {
			fmt.Println("  Token:        present (no expiry)")
		}
		return nil
	},
}

func passwordOrPrompt(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
