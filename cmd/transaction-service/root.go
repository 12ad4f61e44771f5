package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"qms/transaction-service/internal/config"
	"qms/transaction-service/internal/seed"
	"qms/transaction-service/internal/store"
	"qms/transaction-service/internal/store/memory"
	"qms/transaction-service/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const serviceName = "transaction-service"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Visitor transactions, priority numbers and waiting-time estimates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv()
		},
		RunE: runServe,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSeedCmd())
	return root
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return logger
}

type backend interface {
	store.Store
	store.Identity
	store.ServerAdmin
}

// openStore returns the configured backend and a func releasing it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		if cfg.SeedFile == "" {
			logger.Warn("memory store started without SEED_FILE; catalog is empty")
			return memory.New(), func() {}, nil
		}
		data, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("memory store seeded", "file", cfg.SeedFile, "departments", len(data.Departments), "flows", len(data.Flows))
		return memory.FromSeed(data), func() {}, nil
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStore(pool, postgres.Options{}), pool.Close, nil
}

func openPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DB_DSN is required for the postgres store")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}
