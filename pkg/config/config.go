// Package config defines the gateway's YAML configuration schema,
// defaults, validation, environment overrides and file watching.
package config

import (
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Logging   LoggingConfig             `yaml:"logging"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Redis     RedisConfig               `yaml:"redis"`
	Gateway   GatewayConfig             `yaml:"gateway"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Pipeline  PipelineConfig            `yaml:"log_pipeline"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`

	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RedisConfig configures the shared cache and the log queue. An empty
// URL selects the in-memory cache and the SQLite log spool.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// GatewayConfig tunes the proxy path.
type GatewayConfig struct {
	// Timeout is the per-call upstream ceiling; ExtendedTimeout
	// applies when a request carries the increase-timeout flag.
	Timeout         time.Duration `yaml:"timeout"`
	ExtendedTimeout time.Duration `yaml:"extended_timeout"`

	// CaptureCeiling bounds stream-body capture.
	CaptureCeiling time.Duration `yaml:"capture_ceiling"`

	// Upstream connection pool.
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig describes one upstream adapter.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`

	// ApprovedURLPatterns are regular expressions a target-url
	// override must match; an override matching none fails closed.
	ApprovedURLPatterns []string `yaml:"approved_url_patterns"`

	// StreamViaQuery marks providers that signal streaming through
	// the alt=sse query parameter instead of a body flag.
	StreamViaQuery bool `yaml:"stream_via_query"`

	// RealtimeURL is the provider's realtime WebSocket endpoint;
	// empty disables the relay for this provider.
	RealtimeURL string `yaml:"realtime_url"`
}

// PipelineConfig sizes the log pipeline.
type PipelineConfig struct {
	QueueSize  int           `yaml:"queue_size"`
	Workers    int           `yaml:"workers"`
	DrainGrace time.Duration `yaml:"drain_grace"`

	// SpoolPath is the SQLite spool used when Redis is not
	// configured.
	SpoolPath string `yaml:"spool_path"`

	BodyStore BodyStoreConfig `yaml:"body_store"`

	// TierLimits maps organization tiers to log-volume thresholds;
	// DefaultTier applies to unmapped tiers (zero quota = unlimited).
	TierLimits  map[string]TierLimitConfig `yaml:"tier_limits"`
	DefaultTier TierLimitConfig            `yaml:"default_tier"`
}

// BodyStoreConfig configures raw body archival.
type BodyStoreConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
}

// TierLimitConfig is one tier's log-volume threshold.
type TierLimitConfig struct {
	Quota  float64       `yaml:"quota"`
	Window time.Duration `yaml:"window"`
}
