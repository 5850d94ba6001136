package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/repo-analyser/internal/server"
)

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh every stored user's repositories once",
	Long: `Re-imports the repository list of every user with a stored source-host
token, the same work the scheduled resync does. A user whose sync fails
does not stop the others, but the command then exits non-zero.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(background(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, syncTimeout)
		defer cancel()

		srv, err := server.New(ctx, cfg, logger, server.Options{})
		if err != nil {
			return fmt.Errorf("creating server: %w", err)
		}
		defer srv.Close(context.Background())

		start := time.Now()
		n, err := srv.Resync(ctx)
		if err != nil {
			return fmt.Errorf("resync after %d repositories: %w", n, err)
		}
		logger.Info("resync finished", slog.Int("repositories", n), slog.Duration("duration", time.Since(start)))
		return nil
	},
}

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Minute, "give up after this long")
}
