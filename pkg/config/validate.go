package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "text": true}

// Validate checks the configuration for errors that would make the
// gateway misbehave at runtime. It expects defaults to have been
// applied already.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}

	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logging.Format)] {
		return fmt.Errorf("logging.format %q is not one of json, text", cfg.Logging.Format)
	}

	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for name, p := range cfg.Providers {
		if err := validateProvider(name, p); err != nil {
			return err
		}
	}

	if cfg.Pipeline.QueueSize < 0 || cfg.Pipeline.Workers < 0 {
		return fmt.Errorf("log_pipeline sizes must not be negative")
	}
	for tier, limit := range cfg.Pipeline.TierLimits {
		if limit.Quota < 0 {
			return fmt.Errorf("log_pipeline.tier_limits.%s.quota must not be negative", tier)
		}
		if limit.Quota > 0 && limit.Window <= 0 {
			return fmt.Errorf("log_pipeline.tier_limits.%s.window is required with a quota", tier)
		}
	}

	return nil
}

func validateProvider(name string, p ProviderConfig) error {
	if p.BaseURL == "" {
		return fmt.Errorf("providers.%s.base_url is required", name)
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("providers.%s.base_url %q is not an http(s) URL", name, p.BaseURL)
	}
	for _, pattern := range p.ApprovedURLPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("providers.%s approved pattern %q: %w", name, pattern, err)
		}
	}
	if p.RealtimeURL != "" {
		ru, err := url.Parse(p.RealtimeURL)
		if err != nil || (ru.Scheme != "ws" && ru.Scheme != "wss") || ru.Host == "" {
			return fmt.Errorf("providers.%s.realtime_url %q is not a ws(s) URL", name, p.RealtimeURL)
		}
	}
	return nil
}
