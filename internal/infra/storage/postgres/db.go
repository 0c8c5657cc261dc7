package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Use pgx via database/sql
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/feedsync/internal/ingest/metrics"
	"github.com/vietddude/feedsync/internal/infra/storage"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
	// ConnectRetries bounds how many extra pings are made while waiting for
	// the server to come up.
	ConnectRetries int `yaml:"connect_retries"`
}

// ConnectBackoff paces the startup pings.
type ConnectBackoff interface {
	GetDelay(retry int) time.Duration
	ShouldRetry(err error, retriesDone int) bool
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	*sqlx.DB
}

// NewDB creates a new database connection, pinging once.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	return Connect(ctx, cfg, nil)
}

// Connect creates a new database connection and keeps pinging until the
// server answers or backoff gives up. A nil backoff pings once.
func Connect(ctx context.Context, cfg Config, backoff ConnectBackoff) (*DB, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}

	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}

	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := waitForPing(ctx, db.PingContext, backoff, sleepContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

func waitForPing(ctx context.Context, ping func(context.Context) error, backoff ConnectBackoff, sleep func(context.Context, time.Duration) error) error {
	for retry := 0; ; retry++ {
		err := ping(ctx)
		if err == nil {
			return nil
		}
		if backoff == nil || !backoff.ShouldRetry(err, retry) {
			return err
		}

		delay := backoff.GetDelay(retry + 1)
		slog.Warn("Database not ready, retrying", "retry", retry+1, "delay", delay, "error", err)
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%w (last error: %v)", serr, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Begin implements storage.Store. Each call holds one pooled connection
// until the unit of work is committed or rolled back.
func (db *DB) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return nil, err
	}
	return uow, nil
}

// StartMetricsCollector starts a background goroutine to collect DB metrics.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				if stats.MaxOpenConnections > 0 {
					usage := float64(stats.OpenConnections) / float64(stats.MaxOpenConnections) * 100
					metrics.DBConnectionPoolUsage.Set(usage)
				}
			}
		}
	}()
}

// Health checks if the database is healthy.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
