package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/linguapulse/lesson/config"
	"github.com/linguapulse/lesson/profile/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations to the Postgres profile store",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)

	pool, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	return postgres.Migrate(cmd.Context(), pool, logger)
}
