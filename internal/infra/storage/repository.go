package storage

import (
	"context"

	"github.com/vietddude/feedsync/internal/core/domain"
)

// Store opens units of work against the event table.
type Store interface {
	// Begin starts a unit of work. Callers must Commit or Rollback it.
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork groups event writes into one transaction.
type UnitOfWork interface {
	// UpsertEvents inserts new events or overwrites existing ones keyed by
	// provider_unique_id. The surrogate ID of an existing row is preserved.
	UpsertEvents(ctx context.Context, events []domain.NormalizedEvent) error

	// Commit makes all writes of this unit visible.
	Commit() error

	// Rollback discards the unit. Safe to call after Commit.
	Rollback() error
}

// EventRepository handles read access to stored events
type EventRepository interface {
	// Search returns events with start_date >= fromDate and end_date <= toDate.
	// Dates use domain.DateLayout.
	Search(ctx context.Context, fromDate, toDate string) ([]domain.StoredEvent, error)

	// GetByProviderUniqueID returns nil when the key is unknown
	GetByProviderUniqueID(ctx context.Context, key string) (*domain.StoredEvent, error)

	// Count returns the number of stored events
	Count(ctx context.Context) (int, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}
