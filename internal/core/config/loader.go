package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/feedsync/internal/infra/feed"
)

const (
	DefaultPort           = 8080
	DefaultBatchSize      = 50
	DefaultMaxRetries     = 5
	DefaultBackoffBase    = 2.0
	DefaultMaxBackoff     = 60 * time.Second
	DefaultConnectRetries = 5
	DefaultSchedule       = "@hourly"
)

// Load reads configuration from a YAML file. An empty path yields the
// defaults plus environment overrides.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = feed.DefaultTimeout
	}
	if cfg.Feed.MaxBodyBytes == 0 {
		cfg.Feed.MaxBodyBytes = feed.DefaultMaxBodyBytes
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = DefaultBatchSize
	}
	if cfg.Ingest.BackoffBase == 0 {
		cfg.Ingest.BackoffBase = DefaultBackoffBase
	}
	if cfg.Ingest.MaxBackoff == 0 {
		cfg.Ingest.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Database.ConnectRetries == 0 {
		cfg.Database.ConnectRetries = DefaultConnectRetries
	}
	if cfg.Ingest.Schedule == "" {
		cfg.Ingest.Schedule = DefaultSchedule
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate reports every invalid setting at once.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Feed.URL == "" {
		errs = append(errs, errors.New("feed.url is required"))
	}
	if c.Feed.Timeout < 0 {
		errs = append(errs, errors.New("feed.timeout must not be negative"))
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, errors.New("ingest.batch_size must be positive"))
	}
	if c.Ingest.Retries() < 0 {
		errs = append(errs, errors.New("ingest.max_retries must not be negative"))
	}
	if c.Ingest.BackoffBase < 1 {
		errs = append(errs, errors.New("ingest.backoff_base must be at least 1"))
	}
	if c.Ingest.MaxBackoff < 0 {
		errs = append(errs, errors.New("ingest.max_backoff must not be negative"))
	}
	if c.Database.ConnectRetries < 0 {
		errs = append(errs, errors.New("database.connect_retries must not be negative"))
	}
	if _, err := cron.ParseStandard(c.Ingest.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("ingest.schedule: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
