package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Doitordead/Intel-irris/internal/logging"
	"github.com/Doitordead/Intel-irris/internal/store"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dialect, err := store.ParseDialect(c.cfg.DatabaseDriver)
			if err != nil {
				return err
			}
			db, err := store.Open(ctx, dialect, c.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if direction == "down" {
				err = store.RollbackMigrations(ctx, db, dialect)
			} else {
				err = store.ApplyMigrations(ctx, db, dialect)
			}
			if err != nil {
				return err
			}
			logging.FromContext(ctx).Info().Str("direction", direction).Str("driver", string(dialect)).Msg("migrations done")
			return nil
		},
	}
}
