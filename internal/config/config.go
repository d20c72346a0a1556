// Package config holds process configuration, parsed from environment
// variables with caarlos0/env, and the live settings read from the store.
//
// Process configuration is fixed for the life of a command. Settings
// (backoff_base, poll_interval) live in the database and are re-read on every
// use so operators can tune running workers.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all process configuration sourced from environment variables.
type Config struct {
	// DataDir holds the SQLite database and the worker registry.
	DataDir string `env:"QUEUECTL_DATA_DIR" envDefault:"./db"`
	// DatabaseURL selects PostgreSQL when set to a postgres:// URL; empty
	// means SQLite under DataDir.
	DatabaseURL   string `env:"QUEUECTL_DATABASE_URL"`
	DBMaxConns    int32  `env:"QUEUECTL_DB_MAX_CONNS"    envDefault:"10"`
	BusyTimeoutMS int    `env:"QUEUECTL_BUSY_TIMEOUT_MS" envDefault:"5000"`

	// MaxRetries applies to submissions that omit max_retries.
	MaxRetries int `env:"QUEUECTL_MAX_RETRIES" envDefault:"3"`

	// RegistryPath overrides where running worker identifiers are recorded.
	RegistryPath string `env:"QUEUECTL_REGISTRY_PATH"`

	LogLevel  string `env:"QUEUECTL_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"QUEUECTL_LOG_FORMAT" envDefault:"text"`
}

// Load parses Config from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UsePostgres reports whether DatabaseURL points at PostgreSQL.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") ||
		strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// SQLitePath is the database file used when PostgreSQL is not configured.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "queue.db")
}

// WorkerRegistryPath is the file that records running worker identifiers.
func (c *Config) WorkerRegistryPath() string {
	if c.RegistryPath != "" {
		return c.RegistryPath
	}
	return filepath.Join(c.DataDir, "workers.json")
}

// BusyTimeout is how long SQLite waits on a locked database.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}
