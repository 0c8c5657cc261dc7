package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/feedsync/internal/api"
	"github.com/vietddude/feedsync/internal/core/config"
	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/infra/feed"
	redisclient "github.com/vietddude/feedsync/internal/infra/redis"
	"github.com/vietddude/feedsync/internal/infra/storage"
	"github.com/vietddude/feedsync/internal/infra/storage/memory"
	"github.com/vietddude/feedsync/internal/infra/storage/postgres"
	"github.com/vietddude/feedsync/internal/ingest/pipeline"
	"github.com/vietddude/feedsync/internal/ingest/reconcile"
	"github.com/vietddude/feedsync/internal/ingest/scheduler"
)

// ShutdownTimeout bounds how long Run waits for the HTTP server to drain.
const ShutdownTimeout = 15 * time.Second

// MaxConnectDelay caps the wait between startup database pings.
const MaxConnectDelay = 10 * time.Second

// Service is the main application struct that wires storage, the sync
// scheduler, the cron trigger and the API server.
type Service struct {
	cfg         *config.AppConfig
	db          *postgres.DB
	store       storage.Store
	pinger      storage.Pinger
	events      storage.EventRepository
	redisClient *redisclient.Client
	scheduler   *scheduler.Scheduler
	trigger     *scheduler.Trigger
	server      *api.Server
}

// NewService creates a new Service with all dependencies initialized.
func NewService(ctx context.Context, cfg *config.AppConfig) (*Service, error) {
	s := &Service{cfg: cfg}

	// 1. Initialize Storage
	if cfg.Database.URL != "" {
		db, err := postgres.Connect(ctx, cfg.Database, ConnectBackoff(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		s.db = db
		s.store = db
		s.pinger = db
		s.events = postgres.NewEventRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		mem := memory.NewMemoryStorage()
		s.store = mem
		s.pinger = mem
		s.events = memory.NewEventRepo(mem)
		slog.Info("Using Memory storage")
	}

	// 2. Initialize Redis (optional)
	var locker scheduler.TickLocker
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, tick lock and run history disabled", "error", err)
		} else {
			s.redisClient = client
			locker = client
		}
	}

	// 3. Initialize the sync pipeline
	feedCfg := cfg.Feed
	p := pipeline.New(
		func() pipeline.Fetcher { return feed.NewClient(feedCfg) },
		reconcile.New(s.store, cfg.Ingest.BatchSize),
	)

	strategy := scheduler.DefaultBackoff(nil)
	strategy.Base = cfg.Ingest.BackoffBase
	strategy.MaxDelay = cfg.Ingest.MaxBackoff
	strategy.MaxRetries = cfg.Ingest.Retries()

	s.scheduler = scheduler.New(p, strategy)
	if s.redisClient != nil {
		s.scheduler.SetRecorder(s.redisClient)
	}

	trigger, err := scheduler.NewTrigger(scheduler.TriggerConfig{
		Schedule:   cfg.Ingest.Schedule,
		RunOnStart: cfg.Ingest.RunOnStart,
	}, s.scheduler.RunOnce, locker)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.trigger = trigger

	// 4. Initialize API
	monitor := api.NewMonitor(s.pinger, s.events, s.scheduler)
	s.server = api.NewServer(monitor, s.events, cfg.Server.Port)

	return s, nil
}

// Run starts the API server and the trigger and blocks until ctx is
// cancelled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		slog.Info("Stopping API server")
		return s.server.Stop(shutdownCtx)
	})

	g.Go(func() error {
		return s.trigger.Run(gctx)
	})

	if s.db != nil {
		s.db.StartMetricsCollector(gctx)
	}

	return g.Wait()
}

// SyncOnce runs a single scheduled sync, retries included.
func (s *Service) SyncOnce(ctx context.Context) (*domain.RunReport, error) {
	return s.scheduler.Run(ctx)
}

// Status summarizes the store and recent runs.
type Status struct {
	Storage string              `json:"storage"`
	Events  int                 `json:"events"`
	LastRun *domain.RunReport   `json:"last_run"`
	Recent  []*domain.RunReport `json:"recent,omitempty"`
}

// Status reports the stored event count and the last runs. Recent runs are
// only available when Redis is configured.
func (s *Service) Status(ctx context.Context, recent int) (*Status, error) {
	st := &Status{Storage: "memory"}
	if s.db != nil {
		st.Storage = "postgres"
	}

	n, err := s.events.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	st.Events = n

	if st.LastRun, err = s.scheduler.LastRun(ctx); err != nil {
		return nil, err
	}
	if s.redisClient != nil && recent > 0 {
		if st.Recent, err = s.redisClient.RecentRuns(ctx, recent); err != nil {
			slog.Warn("Failed to load run history", "error", err)
		}
	}
	return st, nil
}

// Close releases the database and Redis connections.
func (s *Service) Close() error {
	var errs []error
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ConnectBackoff paces startup pings while the database comes up.
func ConnectBackoff(cfg *config.AppConfig) *scheduler.ExponentialBackoff {
	b := scheduler.DefaultBackoff(nil)
	b.MaxDelay = MaxConnectDelay
	b.MaxRetries = cfg.Database.ConnectRetries
	return b
}
