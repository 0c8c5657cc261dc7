package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/infra/storage"
	"github.com/vietddude/feedsync/internal/infra/storage/memory"
	"github.com/vietddude/feedsync/internal/ingest/pipeline"
	"github.com/vietddude/feedsync/internal/ingest/reconcile"
)

func feedWithTitle(title string) []byte {
	return []byte(fmt.Sprintf(`<root>
  <base_event base_event_id="1" title=%q sell_mode="online">
    <event event_id="001" event_start_date="2024-10-28T12:00:00" event_end_date="2024-10-28T14:00:00">
      <zone price="20.0"/>
    </event>
  </base_event>
</root>`, title))
}

// countingFeed hands out a new fetcher per attempt and fails the first few fetches.
type countingFeed struct {
	failures int
	created  int
	closed   int
}

func (f *countingFeed) factory() pipeline.FetcherFactory {
	return func() pipeline.Fetcher {
		f.created++
		return &countingFetcher{feed: f, n: f.created}
	}
}

type countingFetcher struct {
	feed *countingFeed
	n    int
}

func (c *countingFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if c.n <= c.feed.failures {
		return nil, unavailable()
	}
	return feedWithTitle(fmt.Sprintf("Fetch %d", c.n)), nil
}

func (c *countingFetcher) Close() error {
	c.feed.closed++
	return nil
}

// flakyStore fails Begin a fixed number of times before delegating.
type flakyStore struct {
	storage.Store
	failures int
	begins   int
}

func (s *flakyStore) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	s.begins++
	if s.begins <= s.failures {
		return nil, errors.New("connection refused")
	}
	return s.Store.Begin(ctx)
}

func TestRun_RetryRefetchesFeed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	feed := &countingFeed{failures: 2}

	s, slept := newTestScheduler(pipeline.New(feed.factory(), reconcile.New(store, 0)))
	report, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", report.Attempts)
	}
	if len(*slept) != 2 {
		t.Errorf("expected 2 backoff sleeps, got %d", len(*slept))
	}
	if feed.created != 3 {
		t.Errorf("expected a fresh fetcher per attempt, got %d", feed.created)
	}
	if feed.closed != 3 {
		t.Errorf("expected every fetcher closed, got %d", feed.closed)
	}

	got, err := memory.NewEventRepo(store).GetByProviderUniqueID(ctx, domain.ProviderKey("1", "001"))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got == nil || got.Title != "Fetch 3" {
		t.Errorf("expected record from the third fetch, got %+v", got)
	}
}

func TestRun_PersistenceFailureRetried(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryStorage()
	store := &flakyStore{Store: mem, failures: 1}
	feed := &countingFeed{}

	s, _ := newTestScheduler(pipeline.New(feed.factory(), reconcile.New(store, 0)))
	report, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Attempts != 2 || store.begins != 2 {
		t.Errorf("expected 2 attempts and 2 transactions, got %d/%d", report.Attempts, store.begins)
	}
	if feed.created != 2 || feed.closed != 2 {
		t.Errorf("expected the feed fetched again on retry, got %d created, %d closed", feed.created, feed.closed)
	}

	got, err := memory.NewEventRepo(mem).GetByProviderUniqueID(ctx, domain.ProviderKey("1", "001"))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got == nil || got.Title != "Fetch 2" {
		t.Errorf("expected record from the second fetch, got %+v", got)
	}
}

func TestRun_PersistenceFailureExhausts(t *testing.T) {
	store := &flakyStore{Store: memory.NewMemoryStorage(), failures: 100}
	feed := &countingFeed{}

	s, _ := newTestScheduler(pipeline.New(feed.factory(), reconcile.New(store, 0)))
	_, err := s.Run(context.Background())
	if !errors.Is(err, domain.ErrRetriesExhausted) || !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected exhausted persistence error, got %v", err)
	}
	if feed.created != 6 {
		t.Errorf("expected 6 fetches, got %d", feed.created)
	}
}
