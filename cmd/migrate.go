package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mubot/mu/db"
	"github.com/mubot/mu/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Applies all pending schema migrations to the configured PostgreSQL
database. The serve command runs migrations automatically; this exists for
operating on the database without starting the server.`,
	RunE: func(*cobra.Command, []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Storage != config.StoragePostgres {
		return fmt.Errorf("storage is %q, migrations only apply to postgres", cfg.Storage)
	}

	logger := newLogger()
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}
