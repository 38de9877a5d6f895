package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/Ap3pp3rs94/docsync/internal/db"
	"github.com/Ap3pp3rs94/docsync/internal/patch"
	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) (*Store, uuid.UUID) {
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

	userID := uuid.New()
	if _, err := sqlDB.Exec(`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`,
		userID.String(), "user@example.com", mustNow()); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return New(sqlDB, db.DriverSQLite), userID
}

func mustNow() string { return "2024-01-01T00:00:00Z" }

func TestCreateThenGetChangeEvent(t *testing.T) {
	s, userID := newTestStore(t)
	ctx := context.Background()
	docID := uuid.New()

	doc, err := s.Create(ctx, userID, docID, map[string]any{"title": "Hello", "body": "world"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if doc.SyncRevision != 1 {
		t.Fatalf("expected sync_revision 1, got %d", doc.SyncRevision)
	}
	if doc.Title != "Hello" {
		t.Fatalf("expected extracted title, got %q", doc.Title)
	}

	var count int
	if err := s.sqlDB.QueryRow(`SELECT COUNT(*) FROM change_events WHERE document_id = ?`, docID.String()).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 change event after create, got %d", count)
	}
}

func TestCreateDuplicateIDReturnsConflict(t *testing.T) {
	s, userID := newTestStore(t)
	ctx := context.Background()
	docID := uuid.New()

	if _, err := s.Create(ctx, userID, docID, map[string]any{"title": "A"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.Create(ctx, userID, docID, map[string]any{"title": "B"})
	var ce *ConflictError
	if err == nil {
		t.Fatalf("expected conflict error")
	}
	if !asConflict(err, &ce) {
		t.Fatalf("expected *ConflictError, got %T: %v", err, err)
	}
	if ce.Existing.Title != "A" {
		t.Fatalf("expected existing doc preserved, got title %q", ce.Existing.Title)
	}
}

func TestUpdateVersionMismatch(t *testing.T) {
	s, userID := newTestStore(t)
	ctx := context.Background()
	docID := uuid.New()

	if _, err := s.Create(ctx, userID, docID, map[string]any{"title": "A"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	p, err := patch.Normalize(json.RawMessage(`[{"op":"replace","path":"/title","value":"B"}]`))
	if err != nil {
		t.Fatalf("normalize patch: %v", err)
	}

	_, err = s.Update(ctx, userID, docID, p, 99)
	var vm *VersionMismatchError
	if err == nil || !asVersionMismatch(err, &vm) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	if vm.Current.SyncRevision != 1 {
		t.Fatalf("expected current revision 1, got %d", vm.Current.SyncRevision)
	}
}

func TestUpdateSuccessIncrementsRevisionAndAppendsEvent(t *testing.T) {
	s, userID := newTestStore(t)
	ctx := context.Background()
	docID := uuid.New()

	if _, err := s.Create(ctx, userID, docID, map[string]any{"title": "A"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	p, err := patch.Normalize(json.RawMessage(`[{"op":"replace","path":"/title","value":"B"}]`))
	if err != nil {
		t.Fatalf("normalize patch: %v", err)
	}

	doc, err := s.Update(ctx, userID, docID, p, 1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if doc.SyncRevision != 2 {
		t.Fatalf("expected sync_revision 2, got %d", doc.SyncRevision)
	}
	if doc.Title != "B" {
		t.Fatalf("expected updated title, got %q", doc.Title)
	}

	var count int
	if err := s.sqlDB.QueryRow(`SELECT COUNT(*) FROM change_events WHERE document_id = ?`, docID.String()).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 change events after create+update, got %d", count)
	}
}

func TestDeleteIsSoftAndDoesNotIncrementRevision(t *testing.T) {
	s, userID := newTestStore(t)
	ctx := context.Background()
	docID := uuid.New()

	if _, err := s.Create(ctx, userID, docID, map[string]any{"title": "A"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, err := s.Delete(ctx, userID, docID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if doc.SyncRevision != 1 {
		t.Fatalf("expected unchanged sync_revision, got %d", doc.SyncRevision)
	}
	if doc.DeletedAt == nil {
		t.Fatalf("expected deleted_at set")
	}

	docs, err := s.ListNonDeleted(ctx, userID)
	if err != nil {
		t.Fatalf("list_non_deleted: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected deleted document excluded from list, got %d", len(docs))
	}
}

func TestUpdateMissingDocumentNotFound(t *testing.T) {
	s, userID := newTestStore(t)
	ctx := context.Background()

	p, err := patch.Normalize(json.RawMessage(`[]`))
	if err != nil {
		t.Fatalf("normalize patch: %v", err)
	}
	_, err = s.Update(ctx, userID, uuid.New(), p, 1)
	if err == nil {
		t.Fatalf("expected not found error")
	}
}

func asConflict(err error, target **ConflictError) bool {
	ce, ok := err.(*ConflictError)
	if !ok {
		return false
	}
	*target = ce
	return true
}

func asVersionMismatch(err error, target **VersionMismatchError) bool {
	vm, ok := err.(*VersionMismatchError)
	if !ok {
		return false
	}
	*target = vm
	return true
}
