// Package pipeline runs one ingestion attempt: fetch, parse, reconcile.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/ingest/metrics"
	"github.com/vietddude/feedsync/internal/ingest/parser"
)

// Fetcher downloads the raw feed document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
	Close() error
}

// FetcherFactory builds a fresh fetcher for each attempt.
type FetcherFactory func() Fetcher

// Reconciler persists parsed events.
type Reconciler interface {
	Reconcile(ctx context.Context, events []domain.NormalizedEvent) error
}

// StageError records the state an attempt failed in.
type StageError struct {
	Stage domain.RunState
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Outcome describes what one attempt did.
type Outcome struct {
	State          domain.RunState
	FeedBytes      int
	Parsed         int
	SkippedOffline int
	InvalidRecords int
	InvalidPrices  int
	Malformed      bool
}

// Pipeline wires the feed client, parser and reconciler together.
type Pipeline struct {
	newFetcher FetcherFactory
	reconciler Reconciler
}

func New(newFetcher FetcherFactory, reconciler Reconciler) *Pipeline {
	return &Pipeline{
		newFetcher: newFetcher,
		reconciler: reconciler,
	}
}

// Run executes a single attempt. A malformed feed completes as a no-op.
// Errors are *StageError values wrapping the domain sentinels.
func (p *Pipeline) Run(ctx context.Context) (Outcome, error) {
	out := Outcome{State: domain.RunStateFetching}

	fetcher := p.newFetcher()
	raw, err := fetcher.Fetch(ctx)
	if cerr := fetcher.Close(); cerr != nil {
		slog.Warn("Failed to release feed client", "error", cerr)
	}
	if err != nil {
		return p.fail(out, err)
	}
	out.FeedBytes = len(raw)

	out.State = domain.RunStateParsing
	res := parser.ParseFeed(raw)
	out.Parsed = len(res.Events)
	out.SkippedOffline = res.SkippedOffline
	out.InvalidRecords = res.InvalidRecords
	out.InvalidPrices = res.InvalidPrices
	recordParse(res)

	if res.Err != nil {
		if errors.Is(res.Err, domain.ErrFeedMalformed) {
			out.Malformed = true
			out.State = domain.RunStateDone
			slog.Warn("Feed is malformed, nothing to reconcile", "bytes", out.FeedBytes)
			return out, nil
		}
		return p.fail(out, res.Err)
	}

	out.State = domain.RunStateReconciling
	if err := p.reconciler.Reconcile(ctx, res.Events); err != nil {
		return p.fail(out, err)
	}

	out.State = domain.RunStateDone
	return out, nil
}

func (p *Pipeline) fail(out Outcome, err error) (Outcome, error) {
	stage := out.State
	out.State = domain.RunStateFailed
	return out, &StageError{Stage: stage, Err: err}
}

func recordParse(res parser.Result) {
	metrics.EventsParsed.Add(float64(len(res.Events)))
	if res.SkippedOffline > 0 {
		metrics.RecordsSkipped.WithLabelValues("offline").Add(float64(res.SkippedOffline))
	}
	if res.InvalidRecords > 0 {
		metrics.RecordsSkipped.WithLabelValues("invalid_timestamp").Add(float64(res.InvalidRecords))
	}
	if res.InvalidPrices > 0 {
		metrics.RecordsSkipped.WithLabelValues("invalid_price").Add(float64(res.InvalidPrices))
	}
}
