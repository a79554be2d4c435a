package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cadence/internal/config"
)

var cadenceVars = []string{
	"CADENCE_PORT", "CADENCE_HOST", "CADENCE_STORAGE_ENGINE", "CADENCE_DATA_PATH",
	"CADENCE_POSTGRES_DSN", "CADENCE_LOG_LEVEL", "CADENCE_LOG_FORMAT",
	"CADENCE_SECURITY_MODE", "CADENCE_API_TOKEN", "CADENCE_RATE_LIMIT_RPS",
	"CADENCE_RATE_LIMIT_BURST", "CADENCE_ENGINE_CONFIG", "CADENCE_TIMEZONE",
	"CADENCE_CLEANUP_SCHEDULE", "CADENCE_DB_CONNECT_RETRIES", "CADENCE_DB_CONNECT_DELAY",
}

// clearEnv unsets every CADENCE_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range cadenceVars {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.LoadConfigWithEnvFile("")
	require.NoError(t, err)

	assert.Equal(t, 6464, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "Default host must be 127.0.0.1 for security")
	assert.Equal(t, "@every 15m", cfg.Server.CleanupSchedule)
	assert.Equal(t, config.EngineSQLite, cfg.Storage.StorageEngine)
	assert.Equal(t, "./data/cadence.db", cfg.SQLitePath())
	assert.Equal(t, 3, cfg.Storage.ConnectRetries)
	assert.Equal(t, time.Second, cfg.Storage.ConnectDelay)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 10.0, cfg.Security.RateLimitRPS)
	assert.Equal(t, 20, cfg.Security.RateLimitBurst)
	assert.Equal(t, "127.0.0.1:6464", cfg.Addr())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CADENCE_PORT", "8080")
	t.Setenv("CADENCE_HOST", "0.0.0.0")
	t.Setenv("CADENCE_STORAGE_ENGINE", "Postgres")
	t.Setenv("CADENCE_POSTGRES_DSN", "postgres://localhost/cadence")
	t.Setenv("CADENCE_DB_CONNECT_DELAY", "250ms")
	t.Setenv("CADENCE_RATE_LIMIT_RPS", "2.5")

	cfg, err := config.LoadConfigWithEnvFile("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, config.EnginePostgres, cfg.Storage.StorageEngine)
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.ConnectDelay)
	assert.Equal(t, 2.5, cfg.Security.RateLimitRPS)
}

func TestLoadConfig_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CADENCE_PORT", "not-a-port")
	t.Setenv("CADENCE_DB_CONNECT_DELAY", "soon")

	cfg, err := config.LoadConfigWithEnvFile("")
	require.NoError(t, err)
	assert.Equal(t, 6464, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Storage.ConnectDelay)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without dsn", map[string]string{"CADENCE_STORAGE_ENGINE": "postgres"}},
		{"unknown engine", map[string]string{"CADENCE_STORAGE_ENGINE": "mongo"}},
		{"production without token", map[string]string{"CADENCE_SECURITY_MODE": "production"}},
		{"port out of range", map[string]string{"CADENCE_PORT": "70000"}},
		{"zero burst", map[string]string{"CADENCE_RATE_LIMIT_BURST": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.LoadConfigWithEnvFile("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CADENCE_PORT=7070\nCADENCE_LOG_FORMAT=json\n"), 0o600))
	t.Setenv("CADENCE_LOG_FORMAT", "text")

	cfg, err := config.LoadConfigWithEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "text", cfg.Logging.Format, "existing environment wins over the file")
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	clearEnv(t)
	_, err := config.LoadConfigWithEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
