package main

import (
	"log/slog"

	"qms/transaction-service/internal/config"
	"qms/transaction-service/internal/seed"
	"qms/transaction-service/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load a YAML seed document into postgres",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			return withPool(cmd, func(pool *pgxpool.Pool, logger *slog.Logger) error {
				if err := postgres.NewStore(pool, postgres.Options{}).ApplySeed(cmd.Context(), data); err != nil {
					return err
				}
				logger.Info("seed applied", "file", args[0], "departments", len(data.Departments), "flows", len(data.Flows), "users", len(data.Users))
				return nil
			})
		},
	}
}

func withPool(cmd *cobra.Command, fn func(pool *pgxpool.Pool, logger *slog.Logger) error) error {
	cfg := config.Load()
	logger := newLogger(cfg)
	pool, err := openPool(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool, logger)
}
