// Package store opens the kv.Store selected by configuration.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"attendance.org/internal/config"
	"attendance.org/internal/kv"
	"attendance.org/internal/obs"
	"attendance.org/internal/store/pg"
	"attendance.org/internal/store/sqlite"
)

// Backend is a kv.Store that holds resources until closed.
type Backend interface {
	kv.Store
	Close() error
}

type memoryBackend struct{ *kv.Memory }

func (memoryBackend) Close() error { return nil }

// Open returns the backend named by cfg.Driver. The postgres schema is
// created when missing.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case "memory":
		return memoryBackend{kv.NewMemory()}, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("store: %w", err)
			}
		}
		s, err := sqlite.Open(sqlite.Config{Path: cfg.Path, PoolSize: cfg.PoolSize})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := pg.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		obs.Info("postgres store ready", nil)
		return s, nil
	}
	return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
}
