// Package config provides configuration management for Cadence.
// It loads settings from an optional .env file and environment variables
// with the CADENCE_ prefix, and provides sensible defaults for all options.
//
// Engine thresholds (confidence tiers, relevance weights, expiries) are not
// environment settings; they live in an optional YAML file named by
// CADENCE_ENGINE_CONFIG and loaded with engine.LoadConfigFile.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage engines
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

// Config holds all configuration settings for the Cadence application.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	Security SecurityConfig
	Engine   EngineConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int    // Server port (default: 6464)
	Host            string // Server host (default: 127.0.0.1)
	CleanupSchedule string // Cron spec for the expired-context sweep (default: @every 15m)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine  string        // sqlite or postgres (default: sqlite)
	DataPath       string        // SQLite data directory (default: ./data)
	PostgresDSN    string        // Postgres connection string
	ConnectRetries int           // Connection attempts after the first (default: 3)
	ConnectDelay   time.Duration // Initial retry delay (default: 1s)
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string // debug, info, warn, error (default: info)
	Format string // text or json (default: text)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode   string  // development or production (default: development)
	APIToken       string  // Bearer token required in production mode
	RateLimitRPS   float64 // Requests per second per client (default: 10)
	RateLimitBurst int     // Burst size (default: 20)
}

// EngineConfig points at the engine threshold file.
type EngineConfig struct {
	ConfigPath string // YAML thresholds file; empty uses engine defaults
	Timezone   string // IANA zone used for times of day (default: UTC)
}

// LoadConfig reads .env from the working directory when present, then builds
// the configuration from environment variables. Variables already set in the
// environment win over the file.
func LoadConfig() (*Config, error) {
	return LoadConfigWithEnvFile(".env")
}

// LoadConfigWithEnvFile is LoadConfig with an explicit .env path.
// A missing file is not an error.
func LoadConfigWithEnvFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
		}
	}

	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.StorageEngine {
	case EngineSQLite:
	case EnginePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: CADENCE_POSTGRES_DSN is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}

	if c.IsProduction() && c.Security.APIToken == "" {
		return errors.New("config: CADENCE_API_TOKEN is required in production mode")
	}

	if c.Security.RateLimitRPS <= 0 || c.Security.RateLimitBurst < 1 {
		return fmt.Errorf("config: rate limit must be positive, got %v rps burst %d",
			c.Security.RateLimitRPS, c.Security.RateLimitBurst)
	}

	return nil
}

// IsProduction reports whether the security mode is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Security.SecurityMode, "production")
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SQLitePath returns the database file inside DataPath.
func (c *Config) SQLitePath() string {
	return strings.TrimRight(c.Storage.DataPath, "/") + "/cadence.db"
}

// buildBaseConfig constructs a Config from environment variables and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("CADENCE_PORT", 6464),
			Host:            getEnv("CADENCE_HOST", "127.0.0.1"),
			CleanupSchedule: getEnv("CADENCE_CLEANUP_SCHEDULE", "@every 15m"),
		},
		Storage: StorageConfig{
			StorageEngine:  strings.ToLower(getEnv("CADENCE_STORAGE_ENGINE", EngineSQLite)),
			DataPath:       getEnv("CADENCE_DATA_PATH", "./data"),
			PostgresDSN:    getEnv("CADENCE_POSTGRES_DSN", ""),
			ConnectRetries: getEnvInt("CADENCE_DB_CONNECT_RETRIES", 3),
			ConnectDelay:   getEnvDuration("CADENCE_DB_CONNECT_DELAY", time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("CADENCE_LOG_LEVEL", "info"),
			Format: getEnv("CADENCE_LOG_FORMAT", "text"),
		},
		Security: SecurityConfig{
			SecurityMode:   getEnv("CADENCE_SECURITY_MODE", "development"),
			APIToken:       getEnv("CADENCE_API_TOKEN", ""),
			RateLimitRPS:   getEnvFloat("CADENCE_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("CADENCE_RATE_LIMIT_BURST", 20),
		},
		Engine: EngineConfig{
			ConfigPath: getEnv("CADENCE_ENGINE_CONFIG", ""),
			Timezone:   getEnv("CADENCE_TIMEZONE", ""),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
