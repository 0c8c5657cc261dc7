package config

import (
	"time"

	"github.com/vietddude/feedsync/internal/infra/feed"
	redisclient "github.com/vietddude/feedsync/internal/infra/redis"
	"github.com/vietddude/feedsync/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Feed     feed.Config        `yaml:"feed"`
	Ingest   IngestConfig       `yaml:"ingest"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// IngestConfig controls batching, retries and the sync schedule.
type IngestConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	MaxRetries  *int          `yaml:"max_retries"`  // nil = default, 0 = no retries
	BackoffBase float64       `yaml:"backoff_base"` // delay before retry n is BackoffBase^n seconds
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	Schedule    string        `yaml:"schedule"` // cron expression or descriptor
	RunOnStart  bool          `yaml:"run_on_start"`
}

// Retries returns the configured retry cap.
func (c IngestConfig) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
