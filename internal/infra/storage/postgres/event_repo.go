package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/feedsync/internal/core/domain"
)

// EventRepo implements storage.EventRepository using PostgreSQL.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new PostgreSQL event repository.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

const selectEvents = `
	SELECT id, provider_unique_id, provider_base_event_id, provider_event_id, title,
		to_char(start_date, 'YYYY-MM-DD') AS start_date,
		start_time::text AS start_time,
		to_char(end_date, 'YYYY-MM-DD') AS end_date,
		end_time::text AS end_time,
		min_price, max_price
	FROM events
`

type eventRow struct {
	ID                  uuid.UUID       `db:"id"`
	ProviderUniqueID    string          `db:"provider_unique_id"`
	ProviderBaseEventID string          `db:"provider_base_event_id"`
	ProviderEventID     string          `db:"provider_event_id"`
	Title               string          `db:"title"`
	StartDate           string          `db:"start_date"`
	StartTime           sql.NullString  `db:"start_time"`
	EndDate             sql.NullString  `db:"end_date"`
	EndTime             sql.NullString  `db:"end_time"`
	MinPrice            sql.NullFloat64 `db:"min_price"`
	MaxPrice            sql.NullFloat64 `db:"max_price"`
}

func (r *eventRow) toDomain() domain.StoredEvent {
	return domain.StoredEvent{
		ID: r.ID,
		NormalizedEvent: domain.NormalizedEvent{
			ProviderUniqueID:    r.ProviderUniqueID,
			ProviderBaseEventID: r.ProviderBaseEventID,
			ProviderEventID:     r.ProviderEventID,
			Title:               r.Title,
			StartDate:           r.StartDate,
			StartTime:           r.StartTime.String,
			EndDate:             r.EndDate.String,
			EndTime:             r.EndTime.String,
			MinPrice:            floatPtr(r.MinPrice),
			MaxPrice:            floatPtr(r.MaxPrice),
		},
	}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// Search retrieves events inside a date range.
func (r *EventRepo) Search(
	ctx context.Context,
	fromDate, toDate string,
) ([]domain.StoredEvent, error) {
	query := selectEvents + `
		WHERE start_date >= $1::date AND end_date <= $2::date
		ORDER BY start_date, start_time, provider_unique_id
	`

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, fromDate, toDate); err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}

	events := make([]domain.StoredEvent, 0, len(rows))
	for i := range rows {
		events = append(events, rows[i].toDomain())
	}
	return events, nil
}

// GetByProviderUniqueID retrieves an event by its natural key.
func (r *EventRepo) GetByProviderUniqueID(
	ctx context.Context,
	key string,
) (*domain.StoredEvent, error) {
	query := selectEvents + `WHERE provider_unique_id = $1`

	var row eventRow
	err := r.db.GetContext(ctx, &row, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	e := row.toDomain()
	return &e, nil
}

// Count returns the number of stored events.
func (r *EventRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM events`); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
