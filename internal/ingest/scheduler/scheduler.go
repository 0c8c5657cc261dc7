// Package scheduler retries whole pipeline attempts with exponential backoff
// and keeps the report of the last run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/ingest/metrics"
	"github.com/vietddude/feedsync/internal/ingest/pipeline"
)

// Runner executes one pipeline attempt.
type Runner interface {
	Run(ctx context.Context) (pipeline.Outcome, error)
}

// Recorder persists run reports outside the process.
type Recorder interface {
	RecordRun(ctx context.Context, report *domain.RunReport) error
	LastRun(ctx context.Context) (*domain.RunReport, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

const recordTimeout = 5 * time.Second

// Scheduler runs the pipeline until it succeeds or retries are exhausted.
type Scheduler struct {
	runner   Runner
	strategy RetryStrategy
	sleep    SleepFunc

	mu       sync.RWMutex
	recorder Recorder
	last     *domain.RunReport
}

func New(runner Runner, strategy RetryStrategy) *Scheduler {
	if strategy == nil {
		strategy = DefaultBackoff(nil)
	}
	return &Scheduler{
		runner:   runner,
		strategy: strategy,
		sleep:    sleepContext,
	}
}

// SetRecorder sets where run reports are saved.
func (s *Scheduler) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// RunOnce runs the pipeline with retries and returns the terminal error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.Run(ctx)
	return err
}

// Run runs the pipeline with retries. The initial attempt is not a retry, so
// at most 1 + MaxRetries attempts are made. The report is always returned.
func (s *Scheduler) Run(ctx context.Context) (*domain.RunReport, error) {
	report := &domain.RunReport{
		StartedAt: time.Now().UTC(),
		State:     domain.RunStateIdle,
	}
	slog.Info("Feed sync started")

	var lastErr error
	for retry := 0; ; retry++ {
		if retry > 0 {
			delay := s.strategy.GetDelay(retry)
			report.BackoffSeconds = append(report.BackoffSeconds, delay.Seconds())
			slog.Warn("Retrying feed sync", "retry", retry, "delay", delay, "error", lastErr)

			if err := s.sleep(ctx, delay); err != nil {
				return s.finish(ctx, report, fmt.Errorf("feed sync cancelled after %d attempts: %w", report.Attempts, err))
			}
		}

		report.Attempts++
		started := time.Now()
		out, err := s.runner.Run(ctx)
		metrics.AttemptDuration.Observe(time.Since(started).Seconds())
		applyOutcome(report, out)

		if err == nil {
			metrics.AttemptsTotal.WithLabelValues("success", string(out.State)).Inc()
			return s.finish(ctx, report, nil)
		}

		stage := string(out.State)
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			stage = string(stageErr.Stage)
		}
		metrics.AttemptsTotal.WithLabelValues("failure", stage).Inc()
		slog.Error("Feed sync attempt failed",
			"attempt", report.Attempts,
			"state", stage,
			"error", err,
		)
		lastErr = err

		if !s.strategy.ShouldRetry(err, retry) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() != nil || errors.Is(lastErr, context.Canceled) {
		return s.finish(ctx, report, fmt.Errorf("feed sync stopped after %d attempts: %w", report.Attempts, lastErr))
	}
	return s.finish(ctx, report, fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, report.Attempts, lastErr))
}

// LastRun returns the most recent run report, preferring the recorder so that
// reports written by other replicas are visible. Nil when nothing ran yet.
func (s *Scheduler) LastRun(ctx context.Context) (*domain.RunReport, error) {
	s.mu.RLock()
	recorder, last := s.recorder, s.last
	s.mu.RUnlock()

	if recorder != nil {
		report, err := recorder.LastRun(ctx)
		if err != nil {
			slog.Warn("Failed to load last run report", "error", err)
		} else if report != nil {
			return report, nil
		}
	}
	return last, nil
}

func (s *Scheduler) finish(ctx context.Context, report *domain.RunReport, err error) (*domain.RunReport, error) {
	report.FinishedAt = time.Now().UTC()
	outcome := "success"
	if err != nil {
		report.State = domain.RunStateFailed
		report.Error = err.Error()
		outcome = "failed"
	} else {
		report.State = domain.RunStateDone
		if report.Malformed {
			outcome = "malformed"
		}
		metrics.LastSuccessTimestamp.Set(float64(report.FinishedAt.Unix()))
	}
	metrics.RunsTotal.WithLabelValues(outcome).Inc()

	s.mu.Lock()
	s.last = report
	recorder := s.recorder
	s.mu.Unlock()

	if recorder != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if rerr := recorder.RecordRun(recordCtx, report); rerr != nil {
			slog.Warn("Failed to record run report", "error", rerr)
		}
		cancel()
	}

	if err != nil {
		slog.Error("Feed sync failed",
			"attempts", report.Attempts,
			"duration", report.FinishedAt.Sub(report.StartedAt),
			"error", err,
		)
		return report, err
	}
	slog.Info("Feed sync finished",
		"attempts", report.Attempts,
		"parsed", report.Parsed,
		"malformed", report.Malformed,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

// applyOutcome copies the latest attempt's counters into the report.
func applyOutcome(report *domain.RunReport, out pipeline.Outcome) {
	report.FeedBytes = out.FeedBytes
	report.Parsed = out.Parsed
	report.SkippedOffline = out.SkippedOffline
	report.InvalidRecords = out.InvalidRecords
	report.InvalidPrices = out.InvalidPrices
	report.Malformed = out.Malformed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
