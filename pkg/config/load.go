package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults and validates the YAML configuration at path.
// Environment variables are not consulted; use LoadWithEnvOverrides
// for that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads the file and then applies GATEWAY_*
// environment overrides, which always take precedence:
//
//  1. Load YAML from file
//  2. Apply defaults
//  3. Apply environment overrides
//  4. Re-validate
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies GATEWAY_SECTION_FIELD variables.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GATEWAY_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("GATEWAY_SERVER_SHUTDOWN_GRACE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ShutdownGrace = d
		}
	}

	if val := os.Getenv("GATEWAY_LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("GATEWAY_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("GATEWAY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}

	if val := os.Getenv("GATEWAY_REDIS_URL"); val != "" {
		cfg.Redis.URL = val
	}

	if val := os.Getenv("GATEWAY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Gateway.Timeout = d
		}
	}
	if val := os.Getenv("GATEWAY_EXTENDED_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Gateway.ExtendedTimeout = d
		}
	}
	if val := os.Getenv("GATEWAY_CAPTURE_CEILING"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Gateway.CaptureCeiling = d
		}
	}

	if val := os.Getenv("GATEWAY_PIPELINE_QUEUE_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Pipeline.QueueSize = i
		}
	}
	if val := os.Getenv("GATEWAY_PIPELINE_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Pipeline.Workers = i
		}
	}
	if val := os.Getenv("GATEWAY_PIPELINE_SPOOL_PATH"); val != "" {
		cfg.Pipeline.SpoolPath = val
	}
	if val := os.Getenv("GATEWAY_BODY_STORE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Pipeline.BodyStore.Enabled = b
		}
	}
	if val := os.Getenv("GATEWAY_BODY_STORE_DIR"); val != "" {
		cfg.Pipeline.BodyStore.Dir = val
	}
	if val := os.Getenv("GATEWAY_BODY_STORE_RETENTION"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pipeline.BodyStore.Retention = d
		}
	}

	for name := range cfg.Providers {
		applyProviderEnvOverrides(cfg, name)
	}
}

// applyProviderEnvOverrides applies GATEWAY_PROVIDERS_<NAME>_<FIELD>
// for one configured provider.
func applyProviderEnvOverrides(cfg *Config, name string) {
	p := cfg.Providers[name]
	prefix := fmt.Sprintf("GATEWAY_PROVIDERS_%s_", strings.ToUpper(name))
	modified := false

	if val := os.Getenv(prefix + "BASE_URL"); val != "" {
		p.BaseURL = val
		modified = true
	}
	if val := os.Getenv(prefix + "REALTIME_URL"); val != "" {
		p.RealtimeURL = val
		modified = true
	}
	if modified {
		cfg.Providers[name] = p
	}
}
