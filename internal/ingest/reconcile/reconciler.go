// Package reconcile writes parsed events to the store as a set of upserts.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/infra/storage"
	"github.com/vietddude/feedsync/internal/ingest/metrics"
)

// DefaultBatchSize is the number of events sent per upsert statement.
const DefaultBatchSize = 50

// Reconciler upserts events keyed by provider_unique_id.
type Reconciler struct {
	store     storage.Store
	batchSize int
}

func New(store storage.Store, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Reconciler{
		store:     store,
		batchSize: batchSize,
	}
}

// Reconcile upserts all events in batches inside a single unit of work.
// Either every batch is committed or none is.
func (r *Reconciler) Reconcile(ctx context.Context, events []domain.NormalizedEvent) error {
	if len(events) == 0 {
		slog.Info("No events to upsert")
		return nil
	}

	uow, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w: %w", domain.ErrPersistence, err)
	}
	defer uow.Rollback()

	written := 0
	for start := 0; start < len(events); start += r.batchSize {
		end := min(start+r.batchSize, len(events))
		batch := dedupe(events[start:end])

		if err := uow.UpsertEvents(ctx, batch); err != nil {
			slog.Error("Failed to upsert event batch",
				"batch_start", start,
				"batch_size", len(batch),
				"error", err,
			)
			return fmt.Errorf("upsert batch at %d: %w: %w", start, domain.ErrPersistence, err)
		}
		written += len(batch)
	}

	if err := uow.Commit(); err != nil {
		slog.Error("Failed to commit events", "count", written, "error", err)
		return fmt.Errorf("commit events: %w: %w", domain.ErrPersistence, err)
	}

	metrics.EventsUpserted.Add(float64(written))
	slog.Info("Events upserted", "count", written)
	return nil
}

// dedupe collapses repeated keys within one batch, keeping the last
// occurrence at the position of the first. A single statement cannot
// touch the same conflict row twice.
func dedupe(batch []domain.NormalizedEvent) []domain.NormalizedEvent {
	index := make(map[string]int, len(batch))
	out := make([]domain.NormalizedEvent, 0, len(batch))
	for _, e := range batch {
		if i, ok := index[e.ProviderUniqueID]; ok {
			out[i] = e
			continue
		}
		index[e.ProviderUniqueID] = len(out)
		out = append(out, e)
	}
	return out
}
