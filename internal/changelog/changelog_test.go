package changelog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/Ap3pp3rs94/docsync/internal/db"
	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

func newTestReader(t *testing.T) (*Reader, *sql.DB, uuid.UUID) {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	sqlDB.SetMaxOpenConns(1)

	if err := db.EnsureSchema(sqlDB, db.DriverSQLite); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return New(sqlDB, db.DriverSQLite), sqlDB, uuid.New()
}

func insertEvent(t *testing.T, sqlDB *sql.DB, userID, docID uuid.UUID, eventType string) {
	t.Helper()
	_, err := sqlDB.Exec(`
		INSERT INTO change_events (document_id, user_id, event_type, forward_patch, reverse_patch, applied, server_timestamp, created_at)
		VALUES (?, ?, ?, '{}', 'null', 1, '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')
	`, docID.String(), userID.String(), eventType)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func TestLatestSequenceEmpty(t *testing.T) {
	r, _, userID := newTestReader(t)
	seq, err := r.LatestSequence(context.Background(), userID)
	if err != nil {
		t.Fatalf("latest_sequence: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected 0 for user with no events, got %d", seq)
	}
}

func TestSinceReturnsInOrderAndRespectsLimit(t *testing.T) {
	r, sqlDB, userID := newTestReader(t)
	docID := uuid.New()
	for i := 0; i < 5; i++ {
		insertEvent(t, sqlDB, userID, docID, "update")
	}

	all, err := r.Since(context.Background(), userID, 0, 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Sequence <= all[i-1].Sequence {
			t.Fatalf("events out of order: %v", all)
		}
	}

	limited, err := r.Since(context.Background(), userID, 0, 2)
	if err != nil {
		t.Fatalf("since limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit=2 to cap results, got %d", len(limited))
	}

	seq, err := r.LatestSequence(context.Background(), userID)
	if err != nil {
		t.Fatalf("latest_sequence: %v", err)
	}
	if seq != all[len(all)-1].Sequence {
		t.Fatalf("expected latest_sequence %d, got %d", all[len(all)-1].Sequence, seq)
	}

	tail, err := r.Since(context.Background(), userID, all[2].Sequence, 0)
	if err != nil {
		t.Fatalf("since tail: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 events after sequence %d, got %d", all[2].Sequence, len(tail))
	}
}
