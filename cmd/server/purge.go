package main

import (
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/sensechat/internal/config"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired messages once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		logger := newLogger(cfg)
		ctx := cmd.Context()

		db, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		purger, err := newPurger(ctx, cfg, db, logger)
		if err != nil {
			return err
		}
		n, err := purger.PurgeOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int64("purged", n).Msg("purge completed")
		return nil
	},
}
