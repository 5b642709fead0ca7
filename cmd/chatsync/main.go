package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ============================================================================
// Root command
// ============================================================================

var (
	flagLogLevel string
	flagBaseURL  string

	logger zerolog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (env CHATSYNC_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "Chat server URL (overrides config and CHATSYNC_BASE_URL)")
}

var rootCmd = &cobra.Command{
	Use:           "chatsync",
	Short:         "Chat client CLI",
	Long:          "Command-line client for the chat service.\nLog in, browse conversations, create chats and groups, and follow a conversation in real time.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		logger = newLogger(s.LogLevel)
		return nil
	},
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}
