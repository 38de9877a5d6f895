// Package config loads syncserver/rpctl configuration from an optional YAML
// file layered under environment-variable overrides, in the spirit of the
// teacher's tiered config loader but scoped down to the single-service,
// single-environment shape this binary actually needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything cmd/syncserver and cmd/rpctl need to boot.
type Config struct {
	// ListenAddr is the HTTP/WebSocket bind address, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// DatabaseDSN selects the storage backend. A "sqlite://" or
	// "file:" scheme (or a plain path) selects the SQLite driver;
	// anything else is handed to lib/pq as a Postgres DSN.
	DatabaseDSN string `yaml:"database_dsn"`

	// CredentialLedgerDSN is rpctl's local credential store, always
	// SQLite regardless of DatabaseDSN.
	CredentialLedgerDSN string `yaml:"credential_ledger_dsn"`

	// AppNamespace seeds UUIDv5 user-id derivation (see internal/users).
	AppNamespace string `yaml:"app_namespace"`

	// AuthWindow is the allowed clock skew for HMAC timestamp checks.
	AuthWindow time.Duration `yaml:"auth_window"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `yaml:"log_level"`

	// ServiceName tags every log line.
	ServiceName string `yaml:"service_name"`
}

// Default returns the zero-config baseline; Load layers a file and env vars
// on top of this.
func Default() Config {
	return Config{
		ListenAddr:          ":8080",
		DatabaseDSN:         "sqlite://docsync.db",
		CredentialLedgerDSN: "sqlite://rpctl_credentials.db",
		AppNamespace:        "docsync.local",
		AuthWindow:          300 * time.Second,
		LogLevel:            "info",
		ServiceName:         "docsync",
	}
}

// Load builds a Config starting from Default, layering in path (a YAML file;
// an empty path means "docsync.yaml", and a file that does not exist is
// skipped silently) and then environment variables prefixed DOCSYNC_.
//
// Recognized env vars: DOCSYNC_LISTEN_ADDR, DOCSYNC_DATABASE_DSN,
// DOCSYNC_CREDENTIAL_LEDGER_DSN, DOCSYNC_APP_NAMESPACE,
// DOCSYNC_AUTH_WINDOW (Go duration string), DOCSYNC_LOG_LEVEL,
// DOCSYNC_SERVICE_NAME.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "docsync.yaml"
	}
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookup("DOCSYNC_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := lookup("DOCSYNC_DATABASE_DSN"); ok {
		cfg.DatabaseDSN = v
	}
	if v, ok := lookup("DOCSYNC_CREDENTIAL_LEDGER_DSN"); ok {
		cfg.CredentialLedgerDSN = v
	}
	if v, ok := lookup("DOCSYNC_APP_NAMESPACE"); ok {
		cfg.AppNamespace = v
	}
	if v, ok := lookup("DOCSYNC_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("DOCSYNC_SERVICE_NAME"); ok {
		cfg.ServiceName = v
	}
	if v, ok := lookup("DOCSYNC_AUTH_WINDOW"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			// also accept a bare integer number of seconds
			if secs, serr := strconv.Atoi(v); serr == nil {
				d = time.Duration(secs) * time.Second
			} else {
				return fmt.Errorf("config: DOCSYNC_AUTH_WINDOW: %w", err)
			}
		}
		cfg.AuthWindow = d
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// Validate reports a descriptive error for any setting that would make the
// server unable to start.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("config: database_dsn is required")
	}
	if strings.TrimSpace(c.AppNamespace) == "" {
		return fmt.Errorf("config: app_namespace is required")
	}
	if c.AuthWindow <= 0 {
		return fmt.Errorf("config: auth_window must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	return nil
}
