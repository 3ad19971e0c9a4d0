// Package config loads the service configuration from environment variables.
// Defaults are applied for unset values and everything is validated on
// startup so misconfiguration fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15m)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15m"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including running uploads (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig selects and sizes the relational sink.
type DatabaseConfig struct {
	// Kind is the sink backend: postgres, mysql, sqlite or sqlserver (default: postgres)
	Kind string `env:"SINK_KIND" default:"postgres"`

	// URL is the backend connection string (required). For sqlite it is a file path.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of pooled connections (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds ingestion settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of parallel uploads (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of rows per insert batch, 1..5000 (default: 1000)
	BatchSize int `env:"UPLOAD_BATCH_SIZE" default:"1000"`

	// BatchTimeout bounds a single batch write (default: 10m)
	BatchTimeout time.Duration `env:"UPLOAD_BATCH_TIMEOUT" default:"10m"`

	// Timeout bounds a whole upload (default: 30m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"30m"`

	// ConflictPolicy is ignore, update or error (default: ignore)
	ConflictPolicy string `env:"UPLOAD_CONFLICT_POLICY" default:"ignore"`

	// SampleSize is the number of rows used for type inference and preview (default: 5)
	SampleSize int `env:"UPLOAD_SAMPLE_SIZE" default:"5"`

	// HeaderScanRows is how many spreadsheet rows are searched for the header (default: 15)
	HeaderScanRows int `env:"UPLOAD_HEADER_SCAN_ROWS" default:"15"`

	// TempDir is where multipart uploads are spooled (default: OS temp dir)
	TempDir string `env:"UPLOAD_TEMP_DIR"`

	// ResultRetention is how long finished async uploads stay queryable (default: 10m)
	ResultRetention time.Duration `env:"UPLOAD_RESULT_RETENTION" default:"10m"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Backend is none or datadog (default: none)
	Backend string `env:"METRICS_BACKEND" default:"none"`

	// Service is reported as the service tag (default: tableload)
	Service string `env:"METRICS_SERVICE" default:"tableload"`

	// Tags are extra comma-separated tags, e.g. "team:data,region:eu"
	Tags []string `env:"DD_TAGS"`

	// FlushInterval is how often buffered samples are submitted (default: 60s)
	FlushInterval time.Duration `env:"METRICS_FLUSH_INTERVAL" default:"60s"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
