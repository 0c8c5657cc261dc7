package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/ingest/metrics"
)

// upsertEventsQuery takes one array per column so the statement text does
// not depend on the batch size. Every column except id is overwritten on
// conflict.
const upsertEventsQuery = `
INSERT INTO events (id, provider_unique_id, provider_base_event_id, provider_event_id, title,
	start_date, start_time, end_date, end_time, min_price, max_price)
SELECT * FROM unnest(
	$1::uuid[], $2::text[], $3::text[], $4::text[], $5::text[],
	$6::date[], $7::time[], $8::date[], $9::time[],
	$10::double precision[], $11::double precision[]
)
ON CONFLICT (provider_unique_id) DO UPDATE SET
	provider_base_event_id = EXCLUDED.provider_base_event_id,
	provider_event_id = EXCLUDED.provider_event_id,
	title = EXCLUDED.title,
	start_date = EXCLUDED.start_date,
	start_time = EXCLUDED.start_time,
	end_date = EXCLUDED.end_date,
	end_time = EXCLUDED.end_time,
	min_price = EXCLUDED.min_price,
	max_price = EXCLUDED.max_price`

// UnitOfWork bundles event writes into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// UpsertEvents writes events with one INSERT ... ON CONFLICT statement.
// Keys must be unique within the slice.
func (u *UnitOfWork) UpsertEvents(ctx context.Context, events []domain.NormalizedEvent) error {
	if len(events) == 0 {
		return nil
	}
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}

	metrics.DBBatchSize.WithLabelValues("upsert_events").Observe(float64(len(events)))

	if _, err := u.tx.ExecContext(ctx, upsertEventsQuery, upsertArgs(events)...); err != nil {
		metrics.PersistenceErrors.WithLabelValues(sqlStateClass(err)).Inc()
		return fmt.Errorf("failed to upsert events: %w", err)
	}
	return nil
}

// upsertArgs builds the column arrays for upsertEventsQuery. New rows get a
// fresh id; on conflict the generated id is discarded.
func upsertArgs(events []domain.NormalizedEvent) []any {
	n := len(events)
	var (
		ids       = make(pq.StringArray, n)
		keys      = make(pq.StringArray, n)
		baseIDs   = make(pq.StringArray, n)
		eventIDs  = make(pq.StringArray, n)
		titles    = make(pq.StringArray, n)
		startDate = make(pq.StringArray, n)
		startTime = make([]sql.NullString, n)
		endDate   = make([]sql.NullString, n)
		endTime   = make([]sql.NullString, n)
		minPrice  = make([]sql.NullFloat64, n)
		maxPrice  = make([]sql.NullFloat64, n)
	)
	for i, e := range events {
		ids[i] = uuid.New().String()
		keys[i] = e.ProviderUniqueID
		baseIDs[i] = e.ProviderBaseEventID
		eventIDs[i] = e.ProviderEventID
		titles[i] = e.Title
		startDate[i] = e.StartDate
		startTime[i] = nullString(e.StartTime)
		endDate[i] = nullString(e.EndDate)
		endTime[i] = nullString(e.EndTime)
		minPrice[i] = nullFloat(e.MinPrice)
		maxPrice[i] = nullFloat(e.MaxPrice)
	}
	return []any{
		ids, keys, baseIDs, eventIDs, titles, startDate,
		pq.Array(startTime), pq.Array(endDate), pq.Array(endTime),
		pq.Array(minPrice), pq.Array(maxPrice),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// sqlStateClass returns the two-letter SQLSTATE class of a PostgreSQL error,
// e.g. "08" for connection exceptions or "23" for constraint violations.
func sqlStateClass(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		return pgErr.Code[:2]
	}
	return "unknown"
}
