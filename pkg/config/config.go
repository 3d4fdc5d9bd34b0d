// Package config provides the unified configuration system for legisync.
// It defines a single Config structure organized into logical sections:
//
//   - API: remote source endpoint, credentials, timeouts, retry policy
//   - RateLimit: request pacing and rolling-window quota
//   - Database: PostgreSQL connection and pool sizing
//   - Ingest: batch sizes, worker counts, queue bounds
//
// Configuration is loaded from an optional YAML file and overridden by
// LEGISYNC_* environment variables.
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Ingest.BatchSize = 500
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opendiscourse/legisync/pkg/errors"
)

// Config is the top-level configuration for a legisync process.
type Config struct {
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// APIConfig configures the remote data source gateway.
type APIConfig struct {
	// BaseURL is the root of the remote API, without a trailing slash
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// APIKey is sent as a static credential header on every request
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// RequestTimeout bounds every network call
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// MaxRetries is the number of attempts for transient failures
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// RetryBaseDelay is the backoff unit; attempt n waits base * 2^n
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	// UserAgent identifies this client to the remote source
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

// RateLimitConfig configures outbound request pacing.
type RateLimitConfig struct {
	// MinInterval is the minimum spacing between consecutive requests
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	// MaxRequestsPerHour caps requests inside a rolling hour window
	MaxRequestsPerHour int `mapstructure:"max_requests_per_hour" yaml:"max_requests_per_hour"`
}

// DatabaseConfig configures the PostgreSQL store.
type DatabaseConfig struct {
	// DSN is a pgx connection string (postgres://...)
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// MinConns is the warm pool size
	MinConns int32 `mapstructure:"min_conns" yaml:"min_conns"`
	// MaxConns is the pool ceiling
	MaxConns int32 `mapstructure:"max_conns" yaml:"max_conns"`
	// ConnectTimeout bounds the initial connection attempt
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// IngestConfig configures the ingestion engine and worker pool.
type IngestConfig struct {
	// BatchSize is the requested page size per fetch (API max 1000)
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// Workers is the number of concurrent record workers
	Workers int `mapstructure:"workers" yaml:"workers"`
	// QueueSize bounds the worker pool task queue
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
	// MaxErrorsReported caps the error list in a run summary
	MaxErrorsReported int `mapstructure:"max_errors_reported" yaml:"max_errors_reported"`
	// SessionPoolMin / SessionPoolMax bound the API session pool
	SessionPoolMin int `mapstructure:"session_pool_min" yaml:"session_pool_min"`
	SessionPoolMax int `mapstructure:"session_pool_max" yaml:"session_pool_max"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://api.govinfo.gov",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
			UserAgent:      "legisync/1.0",
		},
		RateLimit: RateLimitConfig{
			MinInterval:        100 * time.Millisecond,
			MaxRequestsPerHour: 1000,
		},
		Database: DatabaseConfig{
			DSN:            "postgres://opendiscourse@localhost:5432/opendiscourse",
			MinConns:       5,
			MaxConns:       20,
			ConnectTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			BatchSize:         100,
			Workers:           runtime.NumCPU(),
			QueueSize:         1024,
			MaxErrorsReported: 10,
			SessionPoolMin:    2,
			SessionPoolMax:    10,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load reads configuration from the given file (optional) and the
// environment, layered over Default. Environment variables use the
// LEGISYNC prefix with underscores, e.g. LEGISYNC_API_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("legisync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	bindDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindDefaults registers defaults so AutomaticEnv can override every key
// even when no config file is present.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.api_key", cfg.API.APIKey)
	v.SetDefault("api.request_timeout", cfg.API.RequestTimeout)
	v.SetDefault("api.max_retries", cfg.API.MaxRetries)
	v.SetDefault("api.retry_base_delay", cfg.API.RetryBaseDelay)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)
	v.SetDefault("rate_limit.min_interval", cfg.RateLimit.MinInterval)
	v.SetDefault("rate_limit.max_requests_per_hour", cfg.RateLimit.MaxRequestsPerHour)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("database.min_conns", cfg.Database.MinConns)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)
	v.SetDefault("ingest.batch_size", cfg.Ingest.BatchSize)
	v.SetDefault("ingest.workers", cfg.Ingest.Workers)
	v.SetDefault("ingest.queue_size", cfg.Ingest.QueueSize)
	v.SetDefault("ingest.max_errors_reported", cfg.Ingest.MaxErrorsReported)
	v.SetDefault("ingest.session_pool_min", cfg.Ingest.SessionPoolMin)
	v.SetDefault("ingest.session_pool_max", cfg.Ingest.SessionPoolMax)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.encoding", cfg.Log.Encoding)
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New(errors.ErrorTypeConfig, "api.base_url is required")
	}
	if c.API.MaxRetries < 1 {
		return errors.New(errors.ErrorTypeConfig, "api.max_retries must be at least 1")
	}
	if c.RateLimit.MaxRequestsPerHour < 1 {
		return errors.New(errors.ErrorTypeConfig, "rate_limit.max_requests_per_hour must be positive")
	}
	if c.Database.MinConns < 0 || c.Database.MaxConns < 1 {
		return errors.New(errors.ErrorTypeConfig, "database pool sizes must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return errors.New(errors.ErrorTypeConfig, "database.min_conns cannot exceed database.max_conns")
	}
	if c.Ingest.BatchSize < 1 || c.Ingest.BatchSize > 1000 {
		return errors.New(errors.ErrorTypeConfig, "ingest.batch_size must be between 1 and 1000")
	}
	if c.Ingest.Workers < 1 {
		return errors.New(errors.ErrorTypeConfig, "ingest.workers must be at least 1")
	}
	if c.Ingest.SessionPoolMin > c.Ingest.SessionPoolMax {
		return errors.New(errors.ErrorTypeConfig, "ingest.session_pool_min cannot exceed session_pool_max")
	}
	return nil
}
