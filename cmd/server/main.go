// Command server runs the repository analysis service.
//
//	server serve     start the HTTP API, analysis workers and resync schedule
//	server migrate   apply pending database migrations and exit
//	server sync      refresh every stored user's repositories once and exit
//
// Running the binary without a subcommand is the same as "serve".
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/repo-analyser/internal/config"
	"github.com/sakif/repo-analyser/internal/repository/sqlstore"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "repo-analyser",
	Short: "Hosted repository analysis service",
	Long: `repo-analyser signs users in with GitHub, imports their repositories and
asks a language model to review a bounded sample of each one. Scores are
kept per run, so history, comparisons, analytics and an embeddable SVG
badge are served alongside the review itself.

Configuration comes from an optional file (--config), a .env file and
REPO_ANALYSER_* environment variables, in increasing precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.Version = Version
	rootCmd.AddCommand(serveCmd, migrateCmd, syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	if err := ensureDataDir(cfg.Database); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// ensureDataDir creates the directory of a file-backed SQLite database.
func ensureDataDir(db config.DatabaseConfig) error {
	if db.Driver != sqlstore.DriverSQLite || db.DSN == ":memory:" {
		return nil
	}
	path, _, _ := strings.Cut(strings.TrimPrefix(db.DSN, "file:"), "?")
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}

