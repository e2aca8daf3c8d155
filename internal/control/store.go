// Package control assembles the relayer from configuration and runs it.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/relayer/internal/core/config"
	"github.com/vietddude/relayer/internal/infra/storage"
	"github.com/vietddude/relayer/internal/infra/storage/bolt"
	"github.com/vietddude/relayer/internal/infra/storage/memory"
	"github.com/vietddude/relayer/internal/infra/storage/postgres"
)

// Store is the configured key-value backend.
type Store struct {
	storage.KV
	// DB is set for the postgres driver.
	DB *postgres.DB
}

// OpenStore opens the backend selected by cfg.Storage.Driver.
func OpenStore(ctx context.Context, cfg *config.AppConfig) (*Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		slog.Warn("Using memory storage, state is lost on restart")
		return &Store{KV: memory.NewMemoryStorage()}, nil

	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		slog.Info("Using PostgreSQL storage")
		return &Store{KV: postgres.NewKV(db), DB: db}, nil

	default:
		db, err := bolt.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.Storage.Path, err)
		}
		slog.Info("Using bolt storage", "path", cfg.Storage.Path)
		return &Store{KV: db}, nil
	}
}
