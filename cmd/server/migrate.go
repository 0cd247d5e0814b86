package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/sensechat/internal/config"
	"github.com/eldtechnologies/sensechat/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		logger := newLogger(cfg)
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for migrate")
		}
		if err := store.RunMigrations(cmd.Context(), cfg.DatabaseURL); err != nil {
			return err
		}
		logger.Info().Msg("migrations completed")
		return nil
	},
}
