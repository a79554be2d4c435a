package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/config"
	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/internal/storage/postgres"
	"github.com/scrypster/cadence/internal/storage/sqlite"
)

// LoadEngineConfig reads the thresholds file when configured and applies the
// timezone override.
func LoadEngineConfig(cfg *config.Config) (engine.Config, error) {
	engineCfg := engine.DefaultConfig()
	if cfg.Engine.ConfigPath != "" {
		loaded, err := engine.LoadConfigFile(cfg.Engine.ConfigPath)
		if err != nil {
			return engineCfg, err
		}
		engineCfg = loaded
	}
	if cfg.Engine.Timezone != "" {
		engineCfg.Timezone = cfg.Engine.Timezone
	}
	if err := engineCfg.Validate(); err != nil {
		return engineCfg, fmt.Errorf("invalid engine config: %w", err)
	}
	return engineCfg, nil
}

// OpenStore connects to the configured backend with retry.
func OpenStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (storage.Store, error) {
	retry := storage.DefaultRetryConfig()
	retry.MaxRetries = cfg.Storage.ConnectRetries
	retry.InitialDelay = cfg.Storage.ConnectDelay

	switch cfg.Storage.StorageEngine {
	case config.EnginePostgres:
		return postgres.Open(ctx, cfg.Storage.PostgresDSN, postgres.Options{Retry: retry, Logger: logger})
	case config.EngineSQLite:
		if err := os.MkdirAll(filepath.Clean(cfg.Storage.DataPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.Open(ctx, cfg.SQLitePath(), sqlite.Options{Retry: retry, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.StorageEngine)
	}
}
