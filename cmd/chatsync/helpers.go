package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Netflix/go-env"
	chatsync "github.com/chatsync-io/chatsync-go"
	"github.com/joho/godotenv"
)

// envConfig holds the environment overrides. A .env file in the working
// directory is loaded first.
type envConfig struct {
	BaseURL     string `env:"CHATSYNC_BASE_URL"`
	RealtimeURL string `env:"CHATSYNC_REALTIME_URL"`
	LogLevel    string `env:"CHATSYNC_LOG_LEVEL"`
	Timeout     string `env:"CHATSYNC_TIMEOUT"`
	Reconnect   string `env:"CHATSYNC_REALTIME_RECONNECT"`
}

// settings is the merged view: flags over environment over config file over
// defaults.
type settings struct {
	BaseURL     string
	RealtimeURL string
	LogLevel    string
	Timeout     time.Duration
	Reconnect   bool
}

func loadSettings() (*settings, error) {
	_ = godotenv.Load()
	var e envConfig
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return mergeSettings(cfg, e, flagBaseURL, flagLogLevel)
}

func mergeSettings(cfg *Config, e envConfig, baseURL, logLevel string) (*settings, error) {
	s := &settings{
		BaseURL:     firstNonEmpty(baseURL, e.BaseURL, cfg.Default.BaseURL, chatsync.DefaultBaseURL),
		RealtimeURL: firstNonEmpty(e.RealtimeURL, cfg.Default.RealtimeURL),
		LogLevel:    firstNonEmpty(logLevel, e.LogLevel, cfg.Default.LogLevel),
		Timeout:     chatsync.DefaultTimeout,
		Reconnect:   true,
	}
	if t := firstNonEmpty(e.Timeout, cfg.Default.Timeout); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", t, err)
		}
		s.Timeout = d
	}
	switch {
	case e.Reconnect != "":
		on, err := strconv.ParseBool(e.Reconnect)
		if err != nil {
			return nil, fmt.Errorf("invalid CHATSYNC_REALTIME_RECONNECT %q: %w", e.Reconnect, err)
		}
		s.Reconnect = on
	case cfg.Realtime.Reconnect != nil:
		s.Reconnect = *cfg.Realtime.Reconnect
	}
	return s, nil
}

// realtimeConfig maps the merged settings onto the channel configuration.
func realtimeConfig(s *settings) *chatsync.RealtimeConfig {
	return &chatsync.RealtimeConfig{
		URL:           s.RealtimeURL,
		AutoReconnect: s.Reconnect,
	}
}

// newClient builds a client whose session is restored from session.toml.
func newClient() (*chatsync.Client, *settings, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	path, err := sessionPath()
	if err != nil {
		return nil, nil, err
	}
	auth := chatsync.NewAuthSession(chatsync.NewFileSessionStore(path))
	if err := auth.Restore(); err != nil {
		return nil, nil, err
	}
	client := chatsync.NewClient(auth,
		chatsync.WithBaseURL(s.BaseURL),
		chatsync.WithTimeout(s.Timeout),
		chatsync.WithLogger(logger),
	)
	return client, s, nil
}

// newChat builds a started chat session for commands that need the directory
// or the realtime channel.
func newChat(ctx context.Context) (*chatsync.Chat, error) {
	client, s, err := newClient()
	if err != nil {
		return nil, err
	}
	chat := chatsync.NewChat(client, realtimeConfig(s))
	if err := chat.Start(ctx); err != nil {
		return nil, err
	}
	return chat, nil
}

// requestContext returns a context bounded like a single REST call.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printError(err error) {
	switch {
	case errors.Is(err, chatsync.ErrUnauthenticated):
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'chatsync login <email>' first.")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", chatsync.UserMessage(err, err.Error()))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
