package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/feedsync/internal/ingest/scheduler"
)

func TestWaitForPing_RetriesUntilReady(t *testing.T) {
	pings := 0
	ping := func(ctx context.Context) error {
		pings++
		if pings < 3 {
			return errors.New("connection refused")
		}
		return nil
	}
	var slept []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if err := waitForPing(context.Background(), ping, scheduler.DefaultBackoff(nil), sleep); err != nil {
		t.Fatalf("expected database to become ready, got %v", err)
	}
	if pings != 3 {
		t.Errorf("expected 3 pings, got %d", pings)
	}
	if len(slept) != 2 || slept[0] != 2*time.Second || slept[1] != 4*time.Second {
		t.Errorf("unexpected sleeps %v", slept)
	}
}

func TestWaitForPing_GivesUp(t *testing.T) {
	pings := 0
	ping := func(ctx context.Context) error {
		pings++
		return errors.New("connection refused")
	}
	backoff := scheduler.DefaultBackoff(nil)
	backoff.MaxRetries = 2
	noSleep := func(ctx context.Context, d time.Duration) error { return nil }

	if err := waitForPing(context.Background(), ping, backoff, noSleep); err == nil {
		t.Fatal("expected error")
	}
	if pings != 3 {
		t.Errorf("expected 1 ping plus 2 retries, got %d", pings)
	}
}

func TestWaitForPing_NilBackoffPingsOnce(t *testing.T) {
	pings := 0
	ping := func(ctx context.Context) error {
		pings++
		return errors.New("connection refused")
	}

	if err := waitForPing(context.Background(), ping, nil, nil); err == nil {
		t.Fatal("expected error")
	}
	if pings != 1 {
		t.Errorf("expected a single ping, got %d", pings)
	}
}

func TestWaitForPing_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ping := func(ctx context.Context) error {
		cancel()
		return errors.New("connection refused")
	}

	err := waitForPing(ctx, ping, scheduler.DefaultBackoff(nil), sleepContext)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
