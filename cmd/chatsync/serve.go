package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chatsync-io/chatsync-go/chattest"
	"github.com/spf13/cobra"
)

var (
	serveAddr  string
	serveUsers []string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":5001", "Listen address")
	serveCmd.Flags().StringSliceVar(&serveUsers, "user", nil, "Seed an account as name:email:password (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an in-memory chat server for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := chattest.NewServer(chattest.WithLogger(logger))
		for _, seed := range serveUsers {
			name, email, password, err := parseSeedUser(seed)
			if err != nil {
				return err
			}
			if _, err := srv.AddUser(name, email, password); err != nil {
				return fmt.Errorf("seed %s: %w", email, err)
			}
		}

		httpSrv := &http.Server{
			Addr:              serveAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		logger.Info().Str("addr", serveAddr).Msg("chat server listening")
		fmt.Printf("Chat server listening on %s\n", serveAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func parseSeedUser(seed string) (name, email, password string, err error) {
	parts := strings.SplitN(seed, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("invalid --user %q, want name:email:password", seed)
	}
	return parts[0], parts[1], parts[2], nil
}
