package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/repo-analyser/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background workers",
	Long: `Starts the HTTP API together with the analysis queue workers and, when
sync.schedule is set, the periodic repository resync.

Example schedules:
  "0 3 * * *"   every night at 03:00
  "@every 6h"   every 6 hours

The process drains in-flight requests and queued work on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(background(cmd), cfg, logger, server.Options{})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Start()
}

// background is used where cobra did not provide a context.
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
