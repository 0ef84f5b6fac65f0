package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/adapters/store"
	"github.com/emailguardian/email-guardian/internal/config"
	"github.com/emailguardian/email-guardian/internal/core"
)

// StoreFactory creates durable stores based on configuration
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

// CreateStore creates a store based on the configuration
func (f *StoreFactory) CreateStore() (core.Store, error) {
	storageCfg := f.cfg.GetStorage()

	switch storageCfg.Type {
	case "memory":
		return store.NewMemoryStore(f.logger), nil
	case "sqlite":
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(storageCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLiteStore(storageCfg.SQLitePath, f.logger)
	case "mysql":
		return store.NewMySQLStore(storageCfg.MySQLDSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageCfg.Type)
	}
}
