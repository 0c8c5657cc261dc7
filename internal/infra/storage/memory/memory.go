package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/infra/storage"
)

// MemoryStorage keeps events in process memory. It mirrors the unique
// provider_unique_id constraint of the PostgreSQL table.
type MemoryStorage struct {
	events map[string]domain.StoredEvent
	mu     sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events: make(map[string]domain.StoredEvent),
	}
}

// Begin starts a staged unit of work.
func (s *MemoryStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &unitOfWork{
		store:  s,
		staged: make(map[string]domain.NormalizedEvent),
	}, nil
}

func (s *MemoryStorage) Health(ctx context.Context) error {
	return nil
}

// -----------------------------------------------------------------------------
// Unit of Work
// -----------------------------------------------------------------------------

type unitOfWork struct {
	store  *MemoryStorage
	staged map[string]domain.NormalizedEvent
	order  []string
	done   bool
}

func (u *unitOfWork) UpsertEvents(ctx context.Context, events []domain.NormalizedEvent) error {
	if u.done {
		return fmt.Errorf("transaction already completed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range events {
		if _, ok := u.staged[e.ProviderUniqueID]; !ok {
			u.order = append(u.order, e.ProviderUniqueID)
		}
		u.staged[e.ProviderUniqueID] = e
	}
	return nil
}

// Commit applies staged rows. A row already present keeps its ID, which is
// what the conflict clause does in PostgreSQL.
func (u *unitOfWork) Commit() error {
	if u.done {
		return fmt.Errorf("transaction already completed")
	}
	u.done = true

	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for _, key := range u.order {
		e := u.staged[key]
		stored, ok := u.store.events[key]
		if !ok {
			stored.ID = uuid.New()
		}
		stored.NormalizedEvent = e
		u.store.events[key] = stored
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	u.done = true
	u.staged = nil
	u.order = nil
	return nil
}

// -----------------------------------------------------------------------------
// Event Repository
// -----------------------------------------------------------------------------

type EventRepo struct {
	store *MemoryStorage
}

func NewEventRepo(store *MemoryStorage) *EventRepo {
	return &EventRepo{store: store}
}

func (r *EventRepo) Search(ctx context.Context, fromDate, toDate string) ([]domain.StoredEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]domain.StoredEvent, 0)
	for _, e := range r.store.events {
		// Matches SQL semantics: a NULL end_date never satisfies the range.
		if e.StartDate >= fromDate && e.EndDate != "" && e.EndDate <= toDate {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate != out[j].StartDate {
			return out[i].StartDate < out[j].StartDate
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ProviderUniqueID < out[j].ProviderUniqueID
	})
	return out, nil
}

func (r *EventRepo) GetByProviderUniqueID(ctx context.Context, key string) (*domain.StoredEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	e, ok := r.store.events[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *EventRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.events), nil
}
