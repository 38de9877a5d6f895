// Package docstore is the transactional document store: every mutation
// writes the document row and appends a change event inside a single
// database transaction, so a crash between the two is impossible.
package docstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/docsync/internal/db"
	"github.com/Ap3pp3rs94/docsync/internal/model"
	"github.com/Ap3pp3rs94/docsync/internal/patch"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Sentinel errors distinguished from plain wrapped failures so callers
// (the session channel) can map them onto wire error kinds without string
// matching.
var (
	ErrNotFound = errors.New("docstore: not found")
	ErrConflict = errors.New("docstore: document id already exists")
)

// ConflictError carries the existing document for a create() id collision.
type ConflictError struct {
	Existing model.Document
}

func (e *ConflictError) Error() string { return ErrConflict.Error() }
func (e *ConflictError) Unwrap() error { return ErrConflict }

// VersionMismatchError carries the current document state for the client
// to reconcile against when an update's expected_revision is stale.
type VersionMismatchError struct {
	Current model.Document
}

func (e *VersionMismatchError) Error() string { return "docstore: sync_revision mismatch" }

// Store implements create/update/delete/list_non_deleted over sqlDB.
type Store struct {
	sqlDB  *sql.DB
	driver db.Driver
	now    func() time.Time
}

func New(sqlDB *sql.DB, driver db.Driver) *Store {
	return &Store{sqlDB: sqlDB, driver: driver, now: time.Now}
}

// Create inserts a new document owned by userID under the client-chosen id,
// appending a "create" change event in the same transaction. A duplicate id
// returns *ConflictError wrapping the existing row.
func (s *Store) Create(ctx context.Context, userID, id uuid.UUID, content any) (model.Document, error) {
	hash, title, size, err := summarize(content)
	if err != nil {
		return model.Document{}, fmt.Errorf("docstore: create: %w", err)
	}

	forward, err := json.Marshal(content)
	if err != nil {
		return model.Document{}, fmt.Errorf("docstore: create: marshal content: %w", err)
	}

	var result model.Document
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()
		doc := model.Document{
			ID: id, UserID: userID, Content: content, SyncRevision: 1,
			ContentHash: hash, Title: title, SizeBytes: size,
			CreatedAt: now, UpdatedAt: now,
		}

		contentJSON, err := json.Marshal(content)
		if err != nil {
			return fmt.Errorf("marshal content: %w", err)
		}
		// The id-uniqueness check is the insert itself, not a preceding
		// SELECT: two concurrent creates of the same id race on the
		// primary key constraint, and the loser re-reads the winner's row
		// to report conflict, instead of both racing past a plain SELECT.
		// The savepoint lets that re-read run on Postgres, where a failed
		// statement otherwise aborts the rest of the transaction.
		if _, err := tx.ExecContext(ctx, `SAVEPOINT create_document`); err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}
		_, err = tx.ExecContext(ctx, db.Rebind(s.driver, `
			INSERT INTO documents (id, user_id, content, sync_revision, content_hash, title, size_bytes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), doc.ID.String(), doc.UserID.String(), string(contentJSON), doc.SyncRevision, doc.ContentHash, doc.Title, doc.SizeBytes, doc.CreatedAt, doc.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				if _, rerr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT create_document`); rerr != nil {
					return fmt.Errorf("rollback to savepoint: %w", rerr)
				}
				existing, found, lerr := s.loadForUpdate(ctx, tx, id, userID, true)
				if lerr != nil {
					return lerr
				}
				if found {
					return &ConflictError{Existing: existing}
				}
			}
			return fmt.Errorf("insert document: %w", err)
		}

		if err := s.appendEvent(ctx, tx, model.ChangeEvent{
			DocumentID: id, UserID: userID, EventType: model.EventCreate,
			ForwardPatch: forward, ReversePatch: nil, Applied: true,
			ServerTimestamp: now, CreatedAt: now,
		}); err != nil {
			return err
		}

		result = doc
		return nil
	})
	if err != nil {
		var ce *ConflictError
		if errors.As(err, &ce) {
			return model.Document{}, ce
		}
		return model.Document{}, err
	}
	return result, nil
}

// isUniqueViolation reports whether err is a unique/primary-key constraint
// failure from either backing driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// Update applies patch to the document's content if expected_revision
// matches the current sync_revision; otherwise it returns
// *VersionMismatchError carrying the current state. The reverse patch is
// computed as diff(new_content, old_content) and recorded alongside the
// original forward patch.
func (s *Store) Update(ctx context.Context, userID, documentID uuid.UUID, p patch.Patch, expectedRevision int64) (model.Document, error) {
	forwardRaw, err := patch.MarshalRaw(p)
	if err != nil {
		return model.Document{}, fmt.Errorf("docstore: update: %w", err)
	}

	var result model.Document
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		current, found, err := s.loadForUpdate(ctx, tx, documentID, userID, false)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		if current.SyncRevision != expectedRevision {
			return &VersionMismatchError{Current: current}
		}

		newContent, err := patch.Apply(current.Content, p)
		if err != nil {
			return fmt.Errorf("invalid_patch: %w", err)
		}

		reverse, err := patch.Diff(newContent, current.Content)
		if err != nil {
			return fmt.Errorf("docstore: compute reverse patch: %w", err)
		}
		reverseRaw, err := patch.MarshalRaw(reverse)
		if err != nil {
			return fmt.Errorf("docstore: marshal reverse patch: %w", err)
		}

		hash, title, size, err := summarize(newContent)
		if err != nil {
			return fmt.Errorf("docstore: summarize: %w", err)
		}

		now := s.now().UTC()
		contentJSON, err := json.Marshal(newContent)
		if err != nil {
			return fmt.Errorf("marshal content: %w", err)
		}
		// sync_revision is guarded in the WHERE clause, not just checked in
		// Go above: that earlier check only short-circuits the common
		// case. The compare-and-set that actually prevents two racing
		// updates from both committing is this statement — a second writer
		// that read the same current.SyncRevision affects zero rows here
		// and is reported version_mismatch below, never silently applied.
		res, err := tx.ExecContext(ctx, db.Rebind(s.driver, `
			UPDATE documents SET content = ?, sync_revision = sync_revision + 1,
				content_hash = ?, title = ?, size_bytes = ?, updated_at = ?
			WHERE id = ? AND user_id = ? AND sync_revision = ?
		`), string(contentJSON), hash, title, size, now, documentID.String(), userID.String(), expectedRevision)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if affected == 0 {
			latest, found, lerr := s.loadForUpdate(ctx, tx, documentID, userID, false)
			if lerr != nil {
				return lerr
			}
			if !found {
				return ErrNotFound
			}
			return &VersionMismatchError{Current: latest}
		}

		if err := s.appendEvent(ctx, tx, model.ChangeEvent{
			DocumentID: documentID, UserID: userID, EventType: model.EventUpdate,
			ForwardPatch: forwardRaw, ReversePatch: reverseRaw, Applied: true,
			ServerTimestamp: now, CreatedAt: now,
		}); err != nil {
			return err
		}

		result = current
		result.Content = newContent
		result.SyncRevision = current.SyncRevision + 1
		result.ContentHash = hash
		result.Title = title
		result.SizeBytes = size
		result.UpdatedAt = now
		return nil
	})
	if err != nil {
		var vm *VersionMismatchError
		if errors.As(err, &vm) {
			return model.Document{}, vm
		}
		return model.Document{}, err
	}
	return result, nil
}

// Delete soft-deletes a document (deleted_at set, sync_revision untouched)
// and appends a "delete" change event recording the prior content as the
// reverse patch.
func (s *Store) Delete(ctx context.Context, userID, documentID uuid.UUID) (model.Document, error) {
	var result model.Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, found, err := s.loadForUpdate(ctx, tx, documentID, userID, false)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}

		priorContent, err := json.Marshal(current.Content)
		if err != nil {
			return fmt.Errorf("marshal prior content: %w", err)
		}

		now := s.now().UTC()
		_, err = tx.ExecContext(ctx, db.Rebind(s.driver,
			`UPDATE documents SET deleted_at = ?, updated_at = ? WHERE id = ? AND user_id = ?`),
			now, now, documentID.String(), userID.String())
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}

		if err := s.appendEvent(ctx, tx, model.ChangeEvent{
			DocumentID: documentID, UserID: userID, EventType: model.EventDelete,
			ForwardPatch: nil, ReversePatch: priorContent, Applied: true,
			ServerTimestamp: now, CreatedAt: now,
		}); err != nil {
			return err
		}

		current.DeletedAt = &now
		current.UpdatedAt = now
		result = current
		return nil
	})
	if err != nil {
		return model.Document{}, err
	}
	return result, nil
}

// ListNonDeleted returns userID's non-deleted documents ordered by
// updated_at descending.
func (s *Store) ListNonDeleted(ctx context.Context, userID uuid.UUID) ([]model.Document, error) {
	rows, err := s.sqlDB.QueryContext(ctx, db.Rebind(s.driver, `
		SELECT id, user_id, content, sync_revision, content_hash, title, size_bytes, deleted_at, created_at, updated_at
		FROM documents WHERE user_id = ? AND deleted_at IS NULL ORDER BY updated_at DESC
	`), userID.String())
	if err != nil {
		return nil, fmt.Errorf("docstore: list_non_deleted: %w", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("docstore: list_non_deleted: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docstore: commit: %w", err)
	}
	return nil
}

func (s *Store) loadForUpdate(ctx context.Context, tx *sql.Tx, id, userID uuid.UUID, anyUser bool) (model.Document, bool, error) {
	query := `SELECT id, user_id, content, sync_revision, content_hash, title, size_bytes, deleted_at, created_at, updated_at
		FROM documents WHERE id = ?`
	args := []any{id.String()}
	if !anyUser {
		query += ` AND user_id = ? AND deleted_at IS NULL`
		args = append(args, userID.String())
	}
	row := tx.QueryRowContext(ctx, db.Rebind(s.driver, query), args...)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return model.Document{}, false, nil
	}
	if err != nil {
		return model.Document{}, false, fmt.Errorf("load document: %w", err)
	}
	return doc, true, nil
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, ev model.ChangeEvent) error {
	forward := ev.ForwardPatch
	if forward == nil {
		forward = json.RawMessage("null")
	}
	reverse := ev.ReversePatch
	if reverse == nil {
		reverse = json.RawMessage("null")
	}
	_, err := tx.ExecContext(ctx, db.Rebind(s.driver, `
		INSERT INTO change_events (document_id, user_id, event_type, forward_patch, reverse_patch, applied, server_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), ev.DocumentID.String(), ev.UserID.String(), string(ev.EventType), string(forward), string(reverse), ev.Applied, ev.ServerTimestamp, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append change event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (model.Document, error) {
	var (
		idStr, userIDStr string
		contentStr       string
		deletedAt        sql.NullTime
		doc              model.Document
	)
	if err := row.Scan(&idStr, &userIDStr, &contentStr, &doc.SyncRevision, &doc.ContentHash,
		&doc.Title, &doc.SizeBytes, &deletedAt, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return model.Document{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Document{}, fmt.Errorf("parse document id: %w", err)
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return model.Document{}, fmt.Errorf("parse user id: %w", err)
	}
	var content any
	if err := json.Unmarshal([]byte(contentStr), &content); err != nil {
		return model.Document{}, fmt.Errorf("unmarshal content: %w", err)
	}
	doc.ID = id
	doc.UserID = userID
	doc.Content = content
	if deletedAt.Valid {
		t := deletedAt.Time
		doc.DeletedAt = &t
	}
	return doc, nil
}

// summarize computes content_hash (lowercase hex SHA-256 of the canonical
// JSON encoding of content), a best-effort title extracted from
// content.title, and the JSON encoding's byte length. The hash function is
// total: non-object content still hashes, just never yields a title.
func summarize(content any) (hash, title string, size int64, err error) {
	canonical, err := canonicalJSON(content)
	if err != nil {
		return "", "", 0, err
	}
	sum := sha256.Sum256(canonical)

	if m, ok := content.(map[string]any); ok {
		if t, ok := m["title"].(string); ok {
			title = t
		}
	}
	return hex.EncodeToString(sum[:]), title, int64(len(canonical)), nil
}

// canonicalJSON encodes v deterministically: object keys sorted, no
// insignificant whitespace, matching the content_hash invariant across
// independent nodes.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := normalizeForHash(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalizeForHash round-trips v through JSON to collapse it into
// map[string]any/[]any/primitive form so Marshal's built-in (sorted) map
// key ordering applies uniformly regardless of the caller's concrete type.
func normalizeForHash(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: canonicalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("docstore: canonicalize: %w", err)
	}
	return out, nil
}
