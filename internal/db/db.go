// Package db opens and schema-initializes the sql.DB used by the document
// store, change log, user directory and credential store. It supports two
// drivers selected by DSN scheme: lib/pq for production Postgres, and
// mattn/go-sqlite3 for local development and rpctl's credential ledger.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver identifies which backend a DSN resolved to.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite3"
)

// Open resolves dsn to a driver by scheme and returns a ready *sql.DB.
//
//   - "sqlite://path", "file:path" or a bare filesystem path -> sqlite3
//   - "postgres://..." or "postgresql://..." -> lib/pq
//
// SQLite connections are capped at one open connection, matching the
// driver's recommended usage for a single-process writer.
func Open(dsn string) (*sql.DB, Driver, error) {
	driver, conn := resolve(dsn)

	sqlDB, err := sql.Open(string(driver), conn)
	if err != nil {
		return nil, "", fmt.Errorf("db: open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, "", fmt.Errorf("db: ping %s: %w", driver, err)
	}

	return sqlDB, driver, nil
}

func resolve(dsn string) (Driver, string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		return DriverSQLite, fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", path)
	case strings.HasPrefix(dsn, "file:"):
		return DriverSQLite, dsn
	default:
		return DriverSQLite, fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", dsn)
	}
}

// schema statements are written to run on both Postgres and SQLite: no
// jsonb (TEXT with canonical JSON instead), no SERIAL (driver-specific
// autoincrement handled via separate statements below).
var commonTables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		last_seen_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_credentials (
		id TEXT PRIMARY KEY,
		api_key TEXT NOT NULL UNIQUE,
		secret TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_used_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		sync_revision BIGINT NOT NULL DEFAULT 1,
		content_hash TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		deleted_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_user_deleted ON documents(user_id, deleted_at)`,
}

var postgresChangeEvents = `CREATE TABLE IF NOT EXISTS change_events (
	sequence BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	forward_patch TEXT NOT NULL,
	reverse_patch TEXT NOT NULL,
	applied BOOLEAN NOT NULL DEFAULT true,
	server_timestamp TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

var sqliteChangeEvents = `CREATE TABLE IF NOT EXISTS change_events (
	sequence INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	forward_patch TEXT NOT NULL,
	reverse_patch TEXT NOT NULL,
	applied BOOLEAN NOT NULL DEFAULT 1,
	server_timestamp TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

var commonIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_change_events_user_seq ON change_events(user_id, sequence)`,
	`CREATE INDEX IF NOT EXISTS idx_change_events_document ON change_events(document_id)`,
	`CREATE INDEX IF NOT EXISTS idx_change_events_user ON change_events(user_id)`,
}

var sqliteCredentialLedger = `CREATE TABLE IF NOT EXISTS api_credentials (
	id TEXT PRIMARY KEY,
	api_key TEXT NOT NULL UNIQUE,
	secret TEXT NOT NULL,
	name TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	last_used_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
)`

// EnsureSchema creates the users/api_credentials/documents/change_events
// tables if they do not already exist.
func EnsureSchema(sqlDB *sql.DB, driver Driver) error {
	for _, stmt := range commonTables {
		if _, err := sqlDB.Exec(stmt); err != nil {
			return fmt.Errorf("db: ensure schema: %w", err)
		}
	}

	changeEvents := postgresChangeEvents
	if driver == DriverSQLite {
		changeEvents = sqliteChangeEvents
	}
	if _, err := sqlDB.Exec(changeEvents); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}

	for _, stmt := range commonIndexes {
		if _, err := sqlDB.Exec(stmt); err != nil {
			return fmt.Errorf("db: ensure schema: %w", err)
		}
	}
	return nil
}

// EnsureCredentialLedgerSchema creates rpctl's standalone SQLite
// credential table. Separate from EnsureSchema because rpctl talks to its
// own ledger DB, never the syncserver's primary store.
func EnsureCredentialLedgerSchema(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec(sqliteCredentialLedger); err != nil {
		return fmt.Errorf("db: ensure credential ledger schema: %w", err)
	}
	return nil
}

// Rebind rewrites a query written with "?" placeholders into the form the
// given driver expects: lib/pq requires positional "$1", "$2", ...; the
// sqlite3 driver accepts "?" as-is. Every store package writes queries
// once, in sqlite-native "?" form, and rebinds before executing.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
