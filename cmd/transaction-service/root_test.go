package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"qms/transaction-service/internal/config"

	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["migrate"])
	require.True(t, names["seed"])

	migrate, _, err := root.Find([]string{"migrate", "status"})
	require.NoError(t, err)
	require.Equal(t, "status", migrate.Name())
}

func TestOpenMemoryStoreFromSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
departments:
  - id: reg
    name: Registration
    prefix: R-
services:
  - id: intake
    name: Intake
`), 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, release, err := openStore(context.Background(), config.Config{StoreDriver: config.DriverMemory, SeedFile: path}, logger)
	require.NoError(t, err)
	defer release()

	dept, err := backend.GetDepartment(context.Background(), "reg")
	require.NoError(t, err)
	require.Equal(t, "R-", dept.Prefix)
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, _, err := openStore(context.Background(), config.Config{StoreDriver: config.DriverPostgres}, logger)
	require.Error(t, err)
}
