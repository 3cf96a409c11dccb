// Package server provides the gateway's HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mercator-hq/gateway/pkg/config"
)

// defaultRealtimeProvider serves the bare realtime path, which
// predates per-provider realtime routes.
const defaultRealtimeProvider = "openai"

// GatewayHandler proxies one inbound request for a provider.
type GatewayHandler interface {
	Handle(w http.ResponseWriter, r *http.Request, provider string)
}

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	proxy    GatewayHandler
	realtime GatewayHandler
	registry *prometheus.Registry
	logger   *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New creates the server. registry may be nil when metrics are
// disabled.
func New(cfg *config.Config, proxy, realtime GatewayHandler, registry *prometheus.Registry) *Server {
	return &Server{
		cfg:        cfg,
		proxy:      proxy,
		realtime:   realtime,
		registry:   registry,
		logger:     slog.Default().With("component", "server"),
		shutdownCh: make(chan struct{}),
	}
}

// Router builds the gateway's route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if s.cfg.Metrics.Enabled && s.registry != nil {
		r.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.HandleFunc("/v1/gateway/realtime", func(w http.ResponseWriter, req *http.Request) {
		s.realtime.Handle(w, req, defaultRealtimeProvider)
	})
	r.HandleFunc("/v1/gateway/{provider}/realtime", func(w http.ResponseWriter, req *http.Request) {
		s.realtime.Handle(w, req, chi.URLParam(req, "provider"))
	})
	r.HandleFunc("/v1/gateway/{provider}/*", func(w http.ResponseWriter, req *http.Request) {
		s.proxy.Handle(w, req, chi.URLParam(req, "provider"))
	})

	return r
}

// Start runs the server and blocks until a shutdown signal, context
// cancellation or a listener error.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddress,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "address", s.cfg.Server.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
		return s.Shutdown()
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown()
	case err := <-errCh:
		return err
	case <-s.shutdownCh:
		return nil
	}
}

// Shutdown stops the listener gracefully within the configured grace
// period. Safe to call more than once.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		defer close(s.shutdownCh)
		if s.httpServer == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownGrace)
		defer cancel()
		err = s.httpServer.Shutdown(ctx)
	})
	return err
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
