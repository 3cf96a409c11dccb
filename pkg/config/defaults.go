package config

import "time"

// ApplyDefaults fills every unset field with its default value. It is
// idempotent and never overrides an explicitly configured value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":8787"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Streaming responses can run long; the write timeout must
		// cover the capture ceiling.
		cfg.Server.WriteTimeout = 35 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 2 * time.Minute
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 2 * time.Minute
	}
	if cfg.Gateway.ExtendedTimeout == 0 {
		cfg.Gateway.ExtendedTimeout = 10 * time.Minute
	}
	if cfg.Gateway.CaptureCeiling == 0 {
		cfg.Gateway.CaptureCeiling = 30 * time.Minute
	}
	if cfg.Gateway.MaxIdleConns == 0 {
		cfg.Gateway.MaxIdleConns = 100
	}
	if cfg.Gateway.MaxIdleConnsPerHost == 0 {
		cfg.Gateway.MaxIdleConnsPerHost = 32
	}
	if cfg.Gateway.IdleConnTimeout == 0 {
		cfg.Gateway.IdleConnTimeout = 90 * time.Second
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = 1024
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.DrainGrace == 0 {
		cfg.Pipeline.DrainGrace = 5 * time.Second
	}
	if cfg.Pipeline.SpoolPath == "" {
		cfg.Pipeline.SpoolPath = "gateway-logs.db"
	}
	if cfg.Pipeline.BodyStore.Dir == "" {
		cfg.Pipeline.BodyStore.Dir = "gateway-bodies"
	}
	if cfg.Pipeline.BodyStore.Retention == 0 {
		cfg.Pipeline.BodyStore.Retention = 30 * 24 * time.Hour
	}
}
