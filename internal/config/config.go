// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Imports     ImportConfig
	Auth        AuthConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
	Backups     BackupConfig
	Maintenance MaintenanceConfig
	Inbox       InboxConfig
	Session     SessionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds settings for workbook uploads and import jobs.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of parallel import/apply jobs (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a job slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single apply or import job (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// PreviewTTL is how long a staged structure preview stays claimable (default: 30m)
	PreviewTTL time.Duration `env:"IMPORT_PREVIEW_TTL" default:"30m"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	// TokenSecret signs user bearer tokens (required)
	TokenSecret string `env:"AUTH_TOKEN_SECRET" required:"true"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for upload/import endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// BackupConfig holds structure backup settings.
type BackupConfig struct {
	// Dir is where pre-apply backup workbooks are written (default: backups)
	Dir string `env:"BACKUP_DIR" default:"backups"`

	// Keep is how many backups to retain per user (default: 20)
	Keep int `env:"BACKUP_KEEP" default:"20"`
}

// MaintenanceConfig holds the housekeeping cycle: audit archiving and
// backup retention sweeps.
type MaintenanceConfig struct {
	// Interval is the housekeeping cycle period (default: 24h)
	Interval time.Duration `env:"MAINTENANCE_INTERVAL" default:"24h"`

	// AuditHotDays is days audit entries stay in the hot table (default: 90)
	AuditHotDays int `env:"MAINTENANCE_AUDIT_HOT_DAYS" default:"90"`

	// AuditArchiveYears is years archived audit entries are kept (default: 7)
	AuditArchiveYears int `env:"MAINTENANCE_AUDIT_ARCHIVE_YEARS" default:"7"`

	// AuditBatchSize is rows moved per archive batch (default: 5000)
	AuditBatchSize int `env:"MAINTENANCE_AUDIT_BATCH_SIZE" default:"5000"`

	// BackupRetention is how long backup workbooks live (default: 720h)
	BackupRetention time.Duration `env:"MAINTENANCE_BACKUP_RETENTION" default:"720h"`
}

// InboxConfig holds drop-directory ingestion settings.
type InboxConfig struct {
	// Enabled turns the inbox watcher on (default: false)
	Enabled bool `env:"INBOX_ENABLED" default:"false"`

	// Dir is the watched directory (default: inbox)
	Dir string `env:"INBOX_DIR" default:"inbox"`

	// UserID is the account that owns inbox imports (required when enabled)
	UserID string `env:"INBOX_USER_ID"`

	// RescanInterval is the fallback full scan cadence (default: 1m)
	RescanInterval time.Duration `env:"INBOX_RESCAN_INTERVAL" default:"1m"`
}

// SessionConfig holds edit-session settings.
type SessionConfig struct {
	// IdleTimeout is how long an untouched session survives (default: 30m)
	IdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"30m"`

	// SweepInterval is how often expired sessions are removed (default: 5m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"5m"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
