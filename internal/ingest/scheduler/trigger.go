package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sync at the top of every hour.
const DefaultSchedule = "@hourly"

// TickLockKey is the key replicas compete for on every tick.
const TickLockKey = "feedsync:tick"

// TickLocker lets only one replica run a given tick.
type TickLocker interface {
	AcquireLock(ctx context.Context, key string) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// TriggerConfig configures the cron trigger.
type TriggerConfig struct {
	Schedule   string
	RunOnStart bool
}

// Trigger fires a job on a cron schedule. A tick that arrives while the
// previous run is still going is skipped.
type Trigger struct {
	cfg    TriggerConfig
	job    func(ctx context.Context) error
	locker TickLocker
}

func NewTrigger(cfg TriggerConfig, job func(ctx context.Context) error, locker TickLocker) (*Trigger, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	return &Trigger{
		cfg:    cfg,
		job:    job,
		locker: locker,
	}, nil
}

// Run blocks until ctx is cancelled, then waits for a running job to return.
func (t *Trigger) Run(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	id, err := c.AddFunc(t.cfg.Schedule, func() { t.tick(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule feed sync: %w", err)
	}

	c.Start()
	slog.Info("Feed sync trigger started", "schedule", t.cfg.Schedule)

	// cron.Stop only waits for jobs it started, so the startup run is tracked here.
	var startup sync.WaitGroup
	if t.cfg.RunOnStart {
		// The wrapped job shares the SkipIfStillRunning guard with scheduled ticks.
		job := c.Entry(id).WrappedJob
		startup.Add(1)
		go func() {
			defer startup.Done()
			job.Run()
		}()
	}

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	startup.Wait()
	slog.Info("Feed sync trigger stopped")
	return nil
}

func (t *Trigger) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if t.locker != nil {
		ok, err := t.locker.AcquireLock(ctx, TickLockKey)
		switch {
		case err != nil:
			slog.Warn("Tick lock unavailable, running anyway", "error", err)
		case !ok:
			slog.Info("Tick skipped, another replica holds the lock")
			return
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := t.locker.ReleaseLock(releaseCtx, TickLockKey); err != nil {
					slog.Warn("Failed to release tick lock", "error", err)
				}
			}()
		}
	}

	if err := t.job(ctx); err != nil {
		slog.Error("Scheduled feed sync failed", "error", err)
	}
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
