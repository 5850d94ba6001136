package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/repo-analyser/internal/repository/sqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Applies every pending migration for the configured driver and exits.
"serve" migrates on start as well; this command exists for deployments that
run schema changes as a separate step.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := background(cmd)

		db, err := sqlstore.Connect(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		logger.Info("database migrated", slog.String("driver", db.Driver()))
		return nil
	},
}
