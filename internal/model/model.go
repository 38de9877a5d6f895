// Package model holds the data-model types shared by the credential store,
// user directory, document store, and change-log reader.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is a stable identity derived deterministically from an email
// address (see internal/users).
type User struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ApiCredential is a persisted API key/secret pair.
type ApiCredential struct {
	ID         uuid.UUID  `json:"id"`
	ApiKey     string     `json:"api_key"`
	Secret     string     `json:"secret"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Document is a synchronized JSON document owned by exactly one user. Field
// tags match the documented wire key names, since internal/channel's
// request_full_sync reply serializes Document values directly rather than
// re-mapping every field by hand.
type Document struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Content      any        `json:"content"`
	SyncRevision int64      `json:"sync_revision"`
	ContentHash  string     `json:"content_hash"`
	Title        string     `json:"title"`
	SizeBytes    int64      `json:"size_bytes"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// EventType enumerates the kinds of change events the log records.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent is one row of a user's append-only change log. Field tags
// match the wire key names documented for get_changes_since (forward_patch,
// event_type, ...).
type ChangeEvent struct {
	Sequence        int64           `json:"sequence"`
	DocumentID      uuid.UUID       `json:"document_id"`
	UserID          uuid.UUID       `json:"user_id"`
	EventType       EventType       `json:"event_type"`
	ForwardPatch    json.RawMessage `json:"forward_patch"`
	ReversePatch    json.RawMessage `json:"reverse_patch"`
	Applied         bool            `json:"applied"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
	CreatedAt       time.Time       `json:"created_at"`
}
