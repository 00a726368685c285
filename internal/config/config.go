// Package config provides centralized configuration management for livpulse.
// Values come from environment variables, optionally backed by a livpulse.yaml
// file, with defaults declared on the struct tags. Everything is validated on
// startup so misconfiguration fails fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Staging  StagingConfig
	Upload   UploadConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Metrics  MetricsConfig
	Tracing  TracingConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0, websockets stay open)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including the upload drain (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for API requests (default: 120s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// MigrateOnStart applies embedded migrations before serving (default: true)
	MigrateOnStart bool `env:"DB_MIGRATE_ON_START" default:"true"`
}

// RedisConfig holds the Redis connection used for staging and progress fan-out.
type RedisConfig struct {
	// URL is a redis:// connection string. Empty disables Redis.
	URL string `env:"REDIS_URL"`

	// PubSub fans progress events out to other instances (default: true)
	PubSub bool `env:"REDIS_PUBSUB" default:"true"`

	// Channel is the pub/sub channel for progress events (default: csv:progress)
	Channel string `env:"REDIS_PROGRESS_CHANNEL" default:"csv:progress"`
}

// StagingConfig selects and tunes the staging store.
type StagingConfig struct {
	// Backend is redis, memory or none. Empty picks redis when REDIS_URL is set, memory otherwise.
	Backend string `env:"STAGING_BACKEND"`

	// ProgressTTL is how long progress snapshots live (default: 1h)
	ProgressTTL time.Duration `env:"STAGING_PROGRESS_TTL" default:"1h"`

	// ResultTTL is how long staged results and data types live (default: 24h)
	ResultTTL time.Duration `env:"STAGING_RESULT_TTL" default:"24h"`

	// MemoryCapacity caps entries per namespace for the memory backend (default: 1024)
	MemoryCapacity int `env:"STAGING_MEMORY_CAPACITY" default:"1024"`
}

// UploadConfig holds CSV upload processing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent caps background upload tasks across all users (default: 16)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"16"`

	// MaxWaitTime is how long a submission waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of records per commit batch (default: 100)
	BatchSize int `env:"UPLOAD_BATCH_SIZE" default:"100"`

	// ProgressInterval is how many rows pass between validation progress events (default: 100)
	ProgressInterval int `env:"UPLOAD_PROGRESS_INTERVAL" default:"100"`

	// PreviewRows is the number of rows kept in the result preview (default: 10)
	PreviewRows int `env:"UPLOAD_PREVIEW_ROWS" default:"10"`

	// InlineErrors is the number of errors carried on the final validation event (default: 10)
	InlineErrors int `env:"UPLOAD_INLINE_ERRORS" default:"10"`

	// Timeout bounds a single background processing task (default: 10m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"10m"`

	// CommitTimeout bounds a commit once it has started, independent of the request (default: 10m)
	CommitTimeout time.Duration `env:"UPLOAD_COMMIT_TIMEOUT" default:"10m"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the API limit per client (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for the upload endpoint (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds authentication and browser-facing settings.
type SecurityConfig struct {
	// JWTSecret verifies HS256 bearer tokens (required)
	JWTSecret string `env:"JWT_SECRET" required:"true"`

	// JWTIssuer, when set, must match the token's iss claim
	JWTIssuer string `env:"JWT_ISSUER"`

	// AllowedOrigins is a comma-separated CORS allow list
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envAlt:"FRONTEND_URL" default:"http://localhost:3000"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" default:"true"`
	Path    string `env:"METRICS_PATH" default:"/metrics"`
}

// TracingConfig controls OTLP trace export. An empty collector address disables it.
type TracingConfig struct {
	CollectorAddr string `env:"OTEL_COLLECTOR_ADDR"`
	ServiceName   string `env:"OTEL_SERVICE_NAME" default:"livpulse-backend"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StagingBackend resolves the effective staging backend.
func (c *Config) StagingBackend() string {
	if c.Staging.Backend != "" {
		return c.Staging.Backend
	}
	if c.Redis.URL != "" {
		return "redis"
	}
	return "memory"
}
