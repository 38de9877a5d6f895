// Package users derives and persists the stable, deterministic identity
// every channel session authenticates as: a UUIDv5 computed from an email
// address under an application-specific namespace, so independent server
// instances given the same configuration agree on the same user id without
// coordination.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/docsync/internal/db"
	"github.com/Ap3pp3rs94/docsync/internal/model"
	"github.com/google/uuid"
)

// Namespace derives the application's UUIDv5 namespace from appID, itself
// rooted at the standard DNS namespace. Every node in a deployment must be
// configured with the same appID for get_or_create to yield identical ids
// for the same email.
func Namespace(appID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(appID))
}

// DeriveID computes the deterministic user id for email under namespace.
// email is hashed exactly as given — the client is responsible for sending
// the same literal string on every node, since two different strings
// (e.g. differing only in case) derive two different ids.
func DeriveID(namespace uuid.UUID, email string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(email))
}

// Directory persists users keyed by their deterministic id.
type Directory struct {
	sqlDB     *sql.DB
	driver    db.Driver
	namespace uuid.UUID
	now       func() time.Time
}

// New constructs a Directory. appID seeds the UUIDv5 namespace (see
// Namespace); it must match across every node in a deployment.
func New(sqlDB *sql.DB, driver db.Driver, appID string) *Directory {
	return &Directory{sqlDB: sqlDB, driver: driver, namespace: Namespace(appID), now: time.Now}
}

// GetOrCreate computes id = UUIDv5(namespace, email), upserts a row for it,
// and returns the existing row unchanged on conflict — the same email
// always resolves to the same user, created at most once.
func (d *Directory) GetOrCreate(ctx context.Context, email string) (model.User, error) {
	if email == "" {
		return model.User{}, errors.New("users: email is required")
	}
	id := DeriveID(d.namespace, email)
	now := d.now().UTC()

	insert := "INSERT INTO users (id, email, created_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING"
	if d.driver != db.DriverPostgres {
		insert = "INSERT OR IGNORE INTO users (id, email, created_at) VALUES (?, ?, ?)"
	}
	if _, err := d.sqlDB.ExecContext(ctx, db.Rebind(d.driver, insert), id.String(), email, now); err != nil {
		return model.User{}, fmt.Errorf("users: get_or_create: %w", err)
	}

	return d.byID(ctx, id)
}

func (d *Directory) byID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := d.sqlDB.QueryRowContext(ctx, db.Rebind(d.driver,
		`SELECT id, email, last_seen_at, created_at FROM users WHERE id = ?`), id.String())

	var (
		idStr      string
		email      string
		lastSeenAt sql.NullTime
		createdAt  time.Time
	)
	if err := row.Scan(&idStr, &email, &lastSeenAt, &createdAt); err != nil {
		return model.User{}, fmt.Errorf("users: lookup %s: %w", id, err)
	}

	u := model.User{ID: uuid.MustParse(idStr), Email: email, CreatedAt: createdAt}
	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		u.LastSeenAt = &t
	}
	return u, nil
}

// TouchLastSeen updates last_seen_at for id to now. Best-effort: callers
// typically ignore the error and proceed with the session regardless.
func (d *Directory) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	_, err := d.sqlDB.ExecContext(ctx, db.Rebind(d.driver, `UPDATE users SET last_seen_at = ? WHERE id = ?`),
		d.now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("users: touch_last_seen: %w", err)
	}
	return nil
}
