// Package changelog is the read side of a user's append-only change-event
// log written by internal/docstore.
package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Ap3pp3rs94/docsync/internal/db"
	"github.com/Ap3pp3rs94/docsync/internal/model"
	"github.com/google/uuid"
)

const defaultLimit = 100

// Reader serves since/latest_sequence queries against change_events.
type Reader struct {
	sqlDB  *sql.DB
	driver db.Driver
}

func New(sqlDB *sql.DB, driver db.Driver) *Reader {
	return &Reader{sqlDB: sqlDB, driver: driver}
}

// Since returns userID's events with sequence > lastSequence, ascending by
// sequence, capped at limit (defaulting to 100 when limit <= 0).
func (r *Reader) Since(ctx context.Context, userID uuid.UUID, lastSequence int64, limit int) ([]model.ChangeEvent, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := r.sqlDB.QueryContext(ctx, db.Rebind(r.driver, `
		SELECT sequence, document_id, user_id, event_type, forward_patch, reverse_patch, applied, server_timestamp, created_at
		FROM change_events WHERE user_id = ? AND sequence > ? ORDER BY sequence ASC LIMIT ?
	`), userID.String(), lastSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("changelog: since: %w", err)
	}
	defer rows.Close()

	var out []model.ChangeEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("changelog: since: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LatestSequence returns the maximum sequence recorded for userID, or 0 if
// the user has no events.
func (r *Reader) LatestSequence(ctx context.Context, userID uuid.UUID) (int64, error) {
	var seq sql.NullInt64
	err := r.sqlDB.QueryRowContext(ctx, db.Rebind(r.driver,
		`SELECT MAX(sequence) FROM change_events WHERE user_id = ?`), userID.String()).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("changelog: latest_sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.ChangeEvent, error) {
	var (
		documentIDStr, userIDStr string
		eventType                string
		forward, reverse         string
		ev                       model.ChangeEvent
	)
	if err := row.Scan(&ev.Sequence, &documentIDStr, &userIDStr, &eventType, &forward, &reverse,
		&ev.Applied, &ev.ServerTimestamp, &ev.CreatedAt); err != nil {
		return model.ChangeEvent{}, err
	}
	documentID, err := uuid.Parse(documentIDStr)
	if err != nil {
		return model.ChangeEvent{}, fmt.Errorf("parse document id: %w", err)
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return model.ChangeEvent{}, fmt.Errorf("parse user id: %w", err)
	}
	ev.DocumentID = documentID
	ev.UserID = userID
	ev.EventType = model.EventType(eventType)
	if forward != "" {
		ev.ForwardPatch = json.RawMessage(forward)
	}
	if reverse != "" {
		ev.ReversePatch = json.RawMessage(reverse)
	}
	return ev, nil
}
