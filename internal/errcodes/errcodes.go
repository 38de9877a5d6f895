// Package errcodes is the stable registry of wire error kinds the sync
// server reports to clients, with metadata useful for HTTP-adjacent
// surfaces and structured logging.
package errcodes

// Code is a stable error kind shared across the channel wire protocol.
// Once published these strings are API-stable.
type Code string

// Authentication / join errors (spec §7).
const (
	MissingParams    Code = "missing_params"
	InvalidTimestamp Code = "invalid_timestamp"
	TimestampExpired Code = "timestamp_expired"
	InvalidApiKey    Code = "invalid_api_key"
	InvalidSignature Code = "invalid_signature"
)

// Document operation errors.
const (
	NotFound        Code = "not_found"
	Conflict        Code = "conflict"
	VersionMismatch Code = "version_mismatch"
	InvalidPatch    Code = "invalid_patch"
	InsertFailed    Code = "insert_failed"
	UpdateFailed    Code = "update_failed"
	DeleteFailed    Code = "delete_failed"
)

// Internal is replied for storage failures outside the document-mutation
// paths (join verification and user lookup, request_full_sync,
// get_changes_since) and tags the /health handler's failed-ping log line.
const (
	Internal Code = "internal"
)

// CodeMeta describes a code for HTTP-equivalent mapping, retry guidance,
// and documentation — the channel protocol itself never speaks HTTP status,
// but this metadata backs structured log fields and the health surface.
type CodeMeta struct {
	HTTPStatus  int
	Retryable   bool
	Kind        string // auth|client|conflict|server
	Description string
}

var registry = map[Code]CodeMeta{
	MissingParams:    {HTTPStatus: 400, Retryable: false, Kind: "auth", Description: "a required join parameter was missing"},
	InvalidTimestamp: {HTTPStatus: 401, Retryable: false, Kind: "auth", Description: "timestamp was not a valid integer"},
	TimestampExpired: {HTTPStatus: 401, Retryable: false, Kind: "auth", Description: "timestamp outside the allowed window"},
	InvalidApiKey:    {HTTPStatus: 401, Retryable: false, Kind: "auth", Description: "api key unknown or inactive"},
	InvalidSignature: {HTTPStatus: 401, Retryable: false, Kind: "auth", Description: "HMAC signature did not match"},

	NotFound:        {HTTPStatus: 404, Retryable: false, Kind: "client", Description: "document not found"},
	Conflict:        {HTTPStatus: 409, Retryable: false, Kind: "conflict", Description: "document id already exists"},
	VersionMismatch: {HTTPStatus: 409, Retryable: false, Kind: "conflict", Description: "sync_revision did not match expected_revision"},
	InvalidPatch:    {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "patch failed to apply"},
	InsertFailed:    {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "transactional insert failed"},
	UpdateFailed:    {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "transactional update failed"},
	DeleteFailed:    {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "transactional delete failed"},

	Internal: {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "internal error"},
}

// Meta returns metadata for a code. Used by internal/channel to attach
// http_status/retryable fields to every error-reply log line, and by
// cmd/syncserver's /health handler for a failed db ping.
func Meta(code Code) (CodeMeta, bool) {
	m, ok := registry[code]
	return m, ok
}
