package storage

import (
	"context"
	"fmt"

	"svcpanel/config"
	"svcpanel/models"
)

// SettingsStore persists the single global settings record.
// Load on an empty store returns an all-false record, not an error.
type SettingsStore interface {
	Load(ctx context.Context) (models.StoredSettings, error)
	Save(ctx context.Context, settings models.Settings) (models.StoredSettings, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver
func Open(cfg config.StorageConfig) (SettingsStore, error) {
	switch cfg.Driver {
	case "bolt":
		return NewBoltSettingsStore(cfg.Path)
	case "sqlite":
		return NewSQLiteSettingsStore(cfg.Path)
	case "redis":
		return NewRedisSettingsStore(cfg.RedisURL, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
