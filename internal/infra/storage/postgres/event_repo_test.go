package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/feedsync/internal/core/domain"
)

// setupTestDB connects to FEEDSYNC_TEST_DATABASE_URL inside a scratch schema
// and applies migrations. Tests are skipped when the variable is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	rawURL := os.Getenv("FEEDSYNC_TEST_DATABASE_URL")
	if rawURL == "" {
		t.Skip("FEEDSYNC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	root, err := NewDB(ctx, Config{URL: rawURL})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	schema := fmt.Sprintf("feedsync_test_%d", time.Now().UnixNano())
	if _, err := root.ExecContext(ctx, "CREATE SCHEMA "+pq.QuoteIdentifier(schema)); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = root.ExecContext(context.Background(), "DROP SCHEMA "+pq.QuoteIdentifier(schema)+" CASCADE")
		_ = root.Close()
	})

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("Invalid database URL: %v", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	db, err := NewDB(ctx, Config{URL: u.String(), MaxConns: 4})
	if err != nil {
		t.Fatalf("Failed to connect to schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func price(v float64) *float64 { return &v }

func sample(key, title string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		ProviderUniqueID:    key,
		ProviderBaseEventID: "1",
		ProviderEventID:     key[2:],
		Title:               title,
		StartDate:           "2024-10-28",
		StartTime:           "12:00:00",
		EndDate:             "2024-10-28",
		EndTime:             "14:00:00",
		MinPrice:            price(20),
		MaxPrice:            price(50),
	}
}

func upsert(t *testing.T, db *DB, events ...domain.NormalizedEvent) {
	t.Helper()
	ctx := context.Background()
	uow, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer uow.Rollback()
	if err := uow.UpsertEvents(ctx, events); err != nil {
		t.Fatalf("UpsertEvents failed: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestEventRepo_UpsertPreservesID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepo(db)
	ctx := context.Background()

	upsert(t, db, sample("1_001", "Original"), sample("1_002", "Other"))
	first, err := repo.GetByProviderUniqueID(ctx, "1_001")
	if err != nil || first == nil {
		t.Fatalf("expected stored event, got %v (err %v)", first, err)
	}

	changed := sample("1_001", "Renamed")
	changed.MinPrice = nil
	changed.MaxPrice = nil
	upsert(t, db, changed)

	second, err := repo.GetByProviderUniqueID(ctx, "1_001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("surrogate ID changed: %s -> %s", first.ID, second.ID)
	}
	if second.Title != "Renamed" || second.MinPrice != nil || second.MaxPrice != nil {
		t.Errorf("fields not overwritten: %+v", second.NormalizedEvent)
	}
	if n, _ := repo.Count(ctx); n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
}

func TestEventRepo_Search(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepo(db)

	later := sample("1_003", "Later")
	later.StartDate, later.EndDate = "2024-12-01", "2024-12-02"
	upsert(t, db, sample("1_001", "First"), later)

	got, err := repo.Search(context.Background(), "2024-10-01", "2024-10-31")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 || got[0].ProviderUniqueID != "1_001" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got[0].StartTime != "12:00:00" || *got[0].MaxPrice != 50 {
		t.Errorf("unexpected row: %+v", got[0].NormalizedEvent)
	}
}

func TestUnitOfWork_RollbackDiscards(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	uow, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := uow.UpsertEvents(ctx, []domain.NormalizedEvent{sample("1_001", "x")}); err != nil {
		t.Fatalf("UpsertEvents failed: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if n, _ := NewEventRepo(db).Count(ctx); n != 0 {
		t.Errorf("expected no rows after rollback, got %d", n)
	}
}

func TestUpsertArgs_Columns(t *testing.T) {
	noPrice := sample("1_002", "b")
	noPrice.MinPrice, noPrice.MaxPrice = nil, nil
	noPrice.EndDate, noPrice.EndTime = "", ""

	args := upsertArgs([]domain.NormalizedEvent{sample("1_001", "a"), noPrice})
	if len(args) != 11 {
		t.Fatalf("expected 11 column arrays, got %d", len(args))
	}

	keys, ok := args[1].(pq.StringArray)
	if !ok || len(keys) != 2 || keys[1] != "1_002" {
		t.Errorf("unexpected key column %v", args[1])
	}

	for i, col := range []int{8, 10} {
		v, err := args[col].(driver.Valuer).Value()
		if err != nil {
			t.Fatalf("column %d: %v", col, err)
		}
		if s, _ := v.(string); !strings.HasSuffix(s, ",NULL}") {
			t.Errorf("case %d: expected trailing NULL in %v", i, v)
		}
	}

	if strings.Contains(upsertEventsQuery, "id = EXCLUDED.id,") {
		t.Error("surrogate id must not be updated on conflict")
	}
}
