package main

import (
	"log/slog"

	"qms/transaction-service/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPool(cmd, func(pool *pgxpool.Pool, logger *slog.Logger) error {
					if err := postgres.MigrateUp(cmd.Context(), pool); err != nil {
						return err
					}
					logger.Info("migrate up: ok")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPool(cmd, func(pool *pgxpool.Pool, logger *slog.Logger) error {
					if err := postgres.MigrateDown(cmd.Context(), pool); err != nil {
						return err
					}
					logger.Info("migrate down: ok")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print migration status",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPool(cmd, func(pool *pgxpool.Pool, logger *slog.Logger) error {
					return postgres.MigrateStatus(cmd.Context(), pool)
				})
			},
		},
	)
	return cmd
}
