// Package credentials generates and persists API key/secret pairs used to
// authenticate channel join requests (see internal/hmacauth).
package credentials

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/docsync/internal/db"
	"github.com/Ap3pp3rs94/docsync/internal/model"
	"github.com/google/uuid"
)

const (
	apiKeyPrefix = "rpa_"
	secretPrefix = "rps_"
	randomBytes  = 32 // hex-encodes to 64 characters
)

// Generate produces a fresh api_key/secret pair from 32 cryptographically
// random bytes each, hex-encoded and prefixed per the wire format
// (rpa_<64 hex>, rps_<64 hex>).
func Generate() (apiKey, secret string, err error) {
	apiKey, err = randomToken(apiKeyPrefix)
	if err != nil {
		return "", "", err
	}
	secret, err = randomToken(secretPrefix)
	if err != nil {
		return "", "", err
	}
	return apiKey, secret, nil
}

func randomToken(prefix string) (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("credentials: generate: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// Store persists ApiCredential rows.
type Store struct {
	sqlDB  *sql.DB
	driver db.Driver
	now    func() time.Time
}

// New constructs a Store over sqlDB using the given driver's placeholder
// and upsert dialect.
func New(sqlDB *sql.DB, driver db.Driver) *Store {
	return &Store{sqlDB: sqlDB, driver: driver, now: time.Now}
}

// Create generates a new key/secret pair, persists it under name, and
// returns the full credential including the plaintext secret, which rpctl
// prints once at creation (its list output omits secrets).
func (s *Store) Create(ctx context.Context, name string) (model.ApiCredential, error) {
	apiKey, secret, err := Generate()
	if err != nil {
		return model.ApiCredential{}, err
	}

	cred := model.ApiCredential{
		ID:        uuid.New(),
		ApiKey:    apiKey,
		Secret:    secret,
		Name:      name,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}

	_, err = s.sqlDB.ExecContext(ctx, db.Rebind(s.driver, `
		INSERT INTO api_credentials (id, api_key, secret, name, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), cred.ID.String(), cred.ApiKey, cred.Secret, cred.Name, cred.IsActive, cred.CreatedAt)
	if err != nil {
		return model.ApiCredential{}, fmt.Errorf("credentials: create: %w", err)
	}
	return cred, nil
}

// FindByAPIKey implements hmacauth.CredentialLookup.
func (s *Store) FindByAPIKey(ctx context.Context, apiKey string) (model.ApiCredential, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx, db.Rebind(s.driver, `
		SELECT id, api_key, secret, name, is_active, last_used_at, created_at
		FROM api_credentials WHERE api_key = ?
	`), apiKey)
	cred, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return model.ApiCredential{}, false, nil
	}
	if err != nil {
		return model.ApiCredential{}, false, fmt.Errorf("credentials: find_by_api_key: %w", err)
	}
	return cred, true, nil
}

// TouchLastUsed implements hmacauth.CredentialLookup.
func (s *Store) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.sqlDB.ExecContext(ctx, db.Rebind(s.driver, `UPDATE api_credentials SET last_used_at = ? WHERE id = ?`),
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("credentials: touch_last_used: %w", err)
	}
	return nil
}

// List returns every credential ordered by created_at descending, secrets
// included — rpctl is the only consumer and runs against its own local
// ledger, never exposed over the wire protocol.
func (s *Store) List(ctx context.Context) ([]model.ApiCredential, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, api_key, secret, name, is_active, last_used_at, created_at
		FROM api_credentials ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("credentials: list: %w", err)
	}
	defer rows.Close()

	var out []model.ApiCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("credentials: list: %w", err)
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

// Revoke marks a credential inactive by api key. A revoked credential fails
// hmacauth verification at the is_active check, matching invalid_api_key.
func (s *Store) Revoke(ctx context.Context, apiKey string) error {
	res, err := s.sqlDB.ExecContext(ctx, db.Rebind(s.driver, `UPDATE api_credentials SET is_active = ? WHERE api_key = ?`),
		false, apiKey)
	if err != nil {
		return fmt.Errorf("credentials: revoke: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credentials: revoke: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("credentials: revoke: no credential with api_key %q", apiKey)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (model.ApiCredential, error) {
	var (
		idStr      string
		lastUsedAt sql.NullTime
		cred       model.ApiCredential
	)
	if err := row.Scan(&idStr, &cred.ApiKey, &cred.Secret, &cred.Name, &cred.IsActive, &lastUsedAt, &cred.CreatedAt); err != nil {
		return model.ApiCredential{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.ApiCredential{}, fmt.Errorf("parse credential id: %w", err)
	}
	cred.ID = id
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		cred.LastUsedAt = &t
	}
	return cred, nil
}
