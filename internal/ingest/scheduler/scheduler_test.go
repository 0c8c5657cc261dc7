package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/ingest/pipeline"
)

// =============================================================================
// Mocks
// =============================================================================

type mockRunner struct {
	results []error
	calls   int
}

func (m *mockRunner) Run(ctx context.Context) (pipeline.Outcome, error) {
	var err error
	if m.calls < len(m.results) {
		err = m.results[m.calls]
	}
	m.calls++
	if err != nil {
		return pipeline.Outcome{State: domain.RunStateFailed},
			&pipeline.StageError{Stage: domain.RunStateFetching, Err: err}
	}
	return pipeline.Outcome{State: domain.RunStateDone, Parsed: 3, FeedBytes: 100}, nil
}

type mockRecorder struct {
	mu      sync.Mutex
	reports []*domain.RunReport
}

func (m *mockRecorder) RecordRun(ctx context.Context, report *domain.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

func (m *mockRecorder) LastRun(ctx context.Context) (*domain.RunReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reports) == 0 {
		return nil, nil
	}
	return m.reports[len(m.reports)-1], nil
}

func unavailable() error {
	return fmt.Errorf("%w: connection refused", domain.ErrFeedUnavailable)
}

// newTestScheduler records requested sleeps instead of waiting.
func newTestScheduler(runner Runner) (*Scheduler, *[]time.Duration) {
	var slept []time.Duration
	s := New(runner, DefaultBackoff(nil))
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return s, &slept
}

// =============================================================================
// Strategy Tests
// =============================================================================

func TestBackoff_Delay(t *testing.T) {
	strategy := DefaultBackoff(nil)

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	for i, w := range want {
		if d := strategy.GetDelay(i + 1); d != w {
			t.Errorf("retry %d: expected %v, got %v", i+1, w, d)
		}
	}

	// Retry 10: Cap at MaxDelay (60s)
	if d := strategy.GetDelay(10); d != 60*time.Second {
		t.Errorf("expected 60s, got %v", d)
	}

	// Without a cap a large retry saturates instead of overflowing.
	uncapped := DefaultBackoff(nil)
	uncapped.MaxDelay = 0
	if d := uncapped.GetDelay(200); d <= 0 {
		t.Errorf("expected a positive delay, got %v", d)
	}
}

func TestBackoff_ShouldRetry(t *testing.T) {
	strategy := DefaultBackoff(nil)
	strategy.MaxRetries = 3

	if !strategy.ShouldRetry(unavailable(), 0) {
		t.Error("should retry after the initial attempt")
	}
	if !strategy.ShouldRetry(unavailable(), 2) {
		t.Error("should retry after 2 retries")
	}
	if strategy.ShouldRetry(unavailable(), 3) {
		t.Error("should NOT retry after 3 retries (max reached)")
	}
	if strategy.ShouldRetry(context.Canceled, 0) {
		t.Error("should NOT retry a cancelled attempt")
	}
}

// =============================================================================
// Scheduler Tests
// =============================================================================

func TestRun_RetriesExhausted(t *testing.T) {
	runner := &mockRunner{results: []error{
		unavailable(), unavailable(), unavailable(), unavailable(), unavailable(), unavailable(),
	}}
	s, slept := newTestScheduler(runner)

	report, err := s.Run(context.Background())
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Errorf("terminal error should wrap the last error, got %v", err)
	}

	// Initial attempt plus 5 retries.
	if runner.calls != 6 {
		t.Errorf("expected 6 attempts, got %d", runner.calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	if !reflect.DeepEqual(*slept, want) {
		t.Errorf("expected delays %v, got %v", want, *slept)
	}
	if report.State != domain.RunStateFailed || report.Attempts != 6 {
		t.Errorf("unexpected report %+v", report)
	}
	if !reflect.DeepEqual(report.BackoffSeconds, []float64{2, 4, 8, 16, 32}) {
		t.Errorf("unexpected backoff %v", report.BackoffSeconds)
	}
}

func TestRun_SucceedsOnRetry(t *testing.T) {
	runner := &mockRunner{results: []error{unavailable(), unavailable(), nil}}
	s, slept := newTestScheduler(runner)

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if runner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", runner.calls)
	}
	if len(*slept) != 2 {
		t.Errorf("expected 2 sleeps, got %v", *slept)
	}
	if !report.Succeeded() || report.Parsed != 3 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestRun_FirstAttemptSucceeds(t *testing.T) {
	runner := &mockRunner{}
	s, slept := newTestScheduler(runner)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if runner.calls != 1 || len(*slept) != 0 {
		t.Errorf("expected a single attempt without sleeping, got %d calls %v", runner.calls, *slept)
	}
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &mockRunner{results: []error{unavailable(), unavailable()}}

	s := New(runner, DefaultBackoff(nil))
	s.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	report, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, domain.ErrRetriesExhausted) {
		t.Error("cancellation is not retry exhaustion")
	}
	if runner.calls != 1 || report.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", runner.calls)
	}
}

func TestRun_PermanentErrorStops(t *testing.T) {
	runner := &mockRunner{results: []error{errors.New("bad config")}}
	strategy := DefaultBackoff(func(err error) FailureCategory { return CategoryPermanent })
	s := New(runner, strategy)

	_, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if runner.calls != 1 {
		t.Errorf("permanent failure should not be retried, got %d attempts", runner.calls)
	}
}

func TestLastRun(t *testing.T) {
	s, _ := newTestScheduler(&mockRunner{})
	ctx := context.Background()

	if last, _ := s.LastRun(ctx); last != nil {
		t.Fatalf("expected no report before first run, got %+v", last)
	}

	recorder := &mockRecorder{}
	s.SetRecorder(recorder)
	if err := s.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	if len(recorder.reports) != 1 {
		t.Fatalf("expected report to be recorded, got %d", len(recorder.reports))
	}
	last, err := s.LastRun(ctx)
	if err != nil || last == nil || last.State != domain.RunStateDone {
		t.Errorf("unexpected last run %+v (err %v)", last, err)
	}
}
