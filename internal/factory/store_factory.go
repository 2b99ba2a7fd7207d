package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/phish-guard/internal/adapters/store"
	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/core"
	"go.uber.org/zap"
)

// StoreFactory creates the record store based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore opens and migrates the configured store
func (f *StoreFactory) CreateStore(ctx context.Context) (core.Store, error) {
	storeCfg, err := f.cfg.GetStore()
	if err != nil {
		return nil, err
	}
	if storeCfg.Driver == "memory" {
		f.logger.Warn("Using in-memory store, records are lost on restart")
		return store.NewMemoryStore(), nil
	}
	if storeCfg.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(storeCfg.DSN), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
	}

	db, err := store.Open(store.Config{
		Driver:          storeCfg.Driver,
		DSN:             storeCfg.DSN,
		MaxOpenConns:    storeCfg.MaxOpenConns,
		MaxIdleConns:    storeCfg.MaxIdleConns,
		ConnMaxLifetime: storeCfg.ConnMaxLifetime,
		LogLevel:        storeCfg.LogLevel,
	})
	if err != nil {
		return nil, err
	}
	s := store.NewGormStore(db, f.logger)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	f.logger.Info("Record store ready", zap.String("driver", storeCfg.Driver))
	return s, nil
}
