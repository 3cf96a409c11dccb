package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mercator-hq/gateway/pkg/cache"
	"mercator-hq/gateway/pkg/config"
	"mercator-hq/gateway/pkg/gateway/logpipe"
	"mercator-hq/gateway/pkg/gateway/provider"
	"mercator-hq/gateway/pkg/gateway/proxy"
	"mercator-hq/gateway/pkg/gateway/ratelimit"
	"mercator-hq/gateway/pkg/gateway/realtime"
	"mercator-hq/gateway/pkg/server"
	"mercator-hq/gateway/pkg/telemetry/logging"
	"mercator-hq/gateway/pkg/telemetry/metrics"
)

var (
	runListenAddr string
	runLogLevel   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway server",
	Long: `Start the gateway server.

Loads the configuration file, applies GATEWAY_* environment overrides,
and serves the proxy and realtime endpoints until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// A .env file is optional; environment overrides still apply
		// without one.
		_ = godotenv.Load()

		cfg, err := config.LoadWithEnvOverrides(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if runListenAddr != "" {
			cfg.Server.ListenAddress = runListenAddr
		}
		if runLogLevel != "" {
			cfg.Logging.Level = runLogLevel
		}

		logger, err := logging.Setup(logging.Config{
			Level:     cfg.Logging.Level,
			Format:    cfg.Logging.Format,
			AddSource: cfg.Logging.AddSource,
		})
		if err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}
		logger.Info("starting gateway",
			"version", Version,
			"listen_address", cfg.Server.ListenAddress,
			"providers", len(cfg.Providers))

		return runGateway(cmd.Context(), cfg, logger)
	},
}

func init() {
	runCmd.Flags().StringVar(&runListenAddr, "listen", "", "listen address (overrides config)")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "log level (overrides config)")
	rootCmd.AddCommand(runCmd)
}

// runGateway is the composition root. Every collaborator is built
// here and handed to its consumers explicitly.
func runGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Shared KV store. Redis when configured, otherwise in-process.
	var (
		kv         cache.Store
		redisStore *cache.RedisStore
	)
	if cfg.Redis.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		rs, err := cache.NewRedisStore(connectCtx, cfg.Redis.URL)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisStore = rs
		kv = rs
	} else {
		logger.Info("redis not configured, using in-memory cache and sqlite spool")
		kv = cache.NewMemoryStore()
	}
	defer kv.Close()

	// Log queue. Redis Streams when available, SQLite spool otherwise.
	var queue logpipe.Queue
	if redisStore != nil {
		queue = logpipe.NewRedisQueue(redisStore.Client())
	} else {
		sq, err := logpipe.NewSQLiteQueue(cfg.Pipeline.SpoolPath)
		if err != nil {
			return fmt.Errorf("failed to open log spool: %w", err)
		}
		defer sq.Close()
		queue = sq
	}

	var bodies logpipe.BodyStore
	if cfg.Pipeline.BodyStore.Enabled {
		bs, err := logpipe.NewFilesystemBodyStore(cfg.Pipeline.BodyStore.Dir, cfg.Pipeline.BodyStore.Retention)
		if err != nil {
			return fmt.Errorf("failed to open body store: %w", err)
		}
		defer bs.Close()
		bodies = bs
	}

	tierLimits := make(map[string]logpipe.TierLimit, len(cfg.Pipeline.TierLimits))
	for name, tl := range cfg.Pipeline.TierLimits {
		tierLimits[name] = logpipe.TierLimit{Quota: tl.Quota, Window: tl.Window}
	}
	limiter := ratelimit.NewStore(kv)
	tier := logpipe.NewTierLimiter(limiter, tierLimits, logpipe.TierLimit{
		Quota:  cfg.Pipeline.DefaultTier.Quota,
		Window: cfg.Pipeline.DefaultTier.Window,
	})

	collector, registry := metrics.NewCollector(nil)

	// Org lookups repeat per token; memoize them in the shared cache.
	resolver := logpipe.NewCachedOrgResolver(
		logpipe.NewHashOrgResolver(""), kv, 5*time.Minute)

	pipeline := logpipe.New(logpipe.Config{
		QueueSize:  cfg.Pipeline.QueueSize,
		Workers:    cfg.Pipeline.Workers,
		DrainGrace: cfg.Pipeline.DrainGrace,
	}, resolver, tier, bodies, queue, collector)
	defer pipeline.Close()

	mapper, err := proxy.NewMapper(providerConfigs(cfg))
	if err != nil {
		return fmt.Errorf("failed to build provider mapper: %w", err)
	}

	upstream := provider.NewClient(provider.Options{
		Timeout:             cfg.Gateway.Timeout,
		ExtendedTimeout:     cfg.Gateway.ExtendedTimeout,
		MaxIdleConns:        cfg.Gateway.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Gateway.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Gateway.IdleConnTimeout,
	})

	orchestrator := proxy.NewOrchestrator(mapper, upstream, limiter, pipeline, collector, proxy.OrchestratorOptions{
		CaptureCeiling: cfg.Gateway.CaptureCeiling,
	})

	relay := realtime.NewRelay(realtimeTargets(cfg), pipeline, collector)

	// Hot reload keeps the provider table current without a restart.
	watcher, err := config.Watch(cfgFile, func(next *config.Config) {
		for _, pc := range providerConfigs(next) {
			if err := mapper.SetProvider(pc); err != nil {
				logger.Warn("reload: skipping provider", "provider", pc.Name, "error", err)
			}
		}
		logger.Info("configuration reloaded", "providers", len(next.Providers))
	})
	if err != nil {
		logger.Warn("config watching disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	srv := server.New(cfg, orchestrator, relay, registry)
	return srv.Start(ctx)
}

func providerConfigs(cfg *config.Config) []proxy.ProviderConfig {
	out := make([]proxy.ProviderConfig, 0, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		out = append(out, proxy.ProviderConfig{
			Name:                name,
			BaseURL:             pc.BaseURL,
			ApprovedURLPatterns: pc.ApprovedURLPatterns,
			StreamViaQuery:      pc.StreamViaQuery,
		})
	}
	return out
}

func realtimeTargets(cfg *config.Config) []realtime.TargetConfig {
	var out []realtime.TargetConfig
	for name, pc := range cfg.Providers {
		if pc.RealtimeURL == "" {
			continue
		}
		out = append(out, realtime.TargetConfig{Name: name, URL: pc.RealtimeURL})
	}
	return out
}
