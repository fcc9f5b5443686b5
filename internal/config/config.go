// Package config loads the service configuration from environment variables.
// Every setting has a default except the database URL; Load validates the
// result so misconfiguration fails at startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Import   ImportConfig
	ICal     ICalConfig
	Geocoder GeocoderConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds a single request, including synchronous exports.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL accepts DATABASE_URL or DB_URL.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate creates the entities table on startup.
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// RedisConfig holds the redis settings shared by the task queue and the
// progress store. An empty Addr runs batches in process.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`

	// Queue is the asynq queue batch steps run on.
	Queue       string        `env:"REDIS_QUEUE" default:"default"`
	Concurrency int           `env:"WORKER_CONCURRENCY" default:"4"`
	ProgressTTL time.Duration `env:"REDIS_PROGRESS_TTL" default:"24h"`
}

// Enabled reports whether a redis address is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// ImportConfig holds batch import settings.
type ImportConfig struct {
	// BatchSize is the number of items per batch invocation.
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"50"`

	// Strict aborts a run on the first failed item instead of counting it.
	Strict bool `env:"IMPORT_STRICT" default:"false"`

	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// UploadDir holds uploaded CSV files until their run finishes. It must
	// be shared with the workers when the queue is enabled.
	UploadDir string `env:"IMPORT_UPLOAD_DIR" default:"/tmp/activism-uploads"`

	// MaxConcurrent limits in-process runs; MaxWaitTime is how long a
	// request waits for a slot.
	MaxConcurrent int           `env:"IMPORT_MAX_CONCURRENT" default:"5"`
	MaxWaitTime   time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`
}

// ICalConfig holds iCalendar feed settings.
type ICalConfig struct {
	FetchTimeout time.Duration `env:"ICAL_FETCH_TIMEOUT" default:"30s"`
	RetryMax     int           `env:"ICAL_RETRY_MAX" default:"0"`

	// SyncInterval re-runs every iCalendar import record. Zero disables
	// the scheduler.
	SyncInterval time.Duration `env:"ICAL_SYNC_INTERVAL" default:"0s"`
}

// GeocoderConfig holds address validation settings. Without an API key
// every address is accepted.
type GeocoderConfig struct {
	APIKey   string        `env:"GEOCODER_API_KEY" envAlt:"GOOGLE_MAPS_API_KEY"`
	Endpoint string        `env:"GEOCODER_ENDPOINT"`
	Language string        `env:"GEOCODER_LANGUAGE" default:"en"`
	Timeout  time.Duration `env:"GEOCODER_TIMEOUT" default:"10s"`
	RetryMax int           `env:"GEOCODER_RETRY_MAX" default:"2"`
}

// SecurityConfig holds API authentication settings.
type SecurityConfig struct {
	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`
	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" default:"true"`
	Path    string `env:"METRICS_PATH" default:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
