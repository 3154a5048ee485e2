// Package server provides the HTTP surface of the inference service.
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

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/inference"
	"mercator-hq/callisto/pkg/telemetry/audit"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

// Server serves the inference HTTP API:
//
//	GET  /health      liveness
//	GET  /ready       readiness (model loaded)
//	POST /predict     inference
//	GET  /model/info  model metadata
//	GET  /metrics     Prometheus exposition
//
// Every response carries the server-assigned X-Request-ID header.
type Server struct {
	cfg        *config.Config
	gate       *inference.Gate
	pipeline   *inference.Pipeline
	backend    inference.Backend
	trail      *audit.Trail
	registry   *prometheus.Registry
	classifier inference.Classifier

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// Options bundles the server dependencies.
type Options struct {
	Config     *config.Config
	Gate       *inference.Gate
	Pipeline   *inference.Pipeline
	Backend    inference.Backend
	Trail      *audit.Trail
	Registry   *prometheus.Registry
	Classifier inference.Classifier
}

// New creates a server.
func New(opts Options) *Server {
	return &Server{
		cfg:        opts.Config,
		gate:       opts.Gate,
		pipeline:   opts.Pipeline,
		backend:    opts.Backend,
		trail:      opts.Trail,
		registry:   opts.Registry,
		classifier: opts.Classifier,
	}
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/model/info", s.handleModelInfo)
	mux.Handle("/metrics", metrics.Handler(s.registry))

	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = gateMiddleware(s.gate, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// Start starts the HTTP server and blocks until the context is cancelled,
// a shutdown signal arrives, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true

	s.httpServer = &http.Server{
		Addr:           s.cfg.Server.ListenAddress,
		Handler:        s.Handler(),
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		IdleTimeout:    s.cfg.Server.IdleTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting inference server",
			"address", s.cfg.Server.ListenAddress,
			"model", s.cfg.Model.Name,
			"version", s.cfg.Model.Version,
			"auth_enabled", s.gate.Required(),
			"audit_enabled", s.trail.Enabled(),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the server and drains the audit trail.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		s.mu.Unlock()
		if !running {
			return
		}

		slog.Info("initiating graceful shutdown",
			"timeout", s.cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		if err := s.trail.Close(); err != nil {
			slog.Error("error closing audit trail", "error", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("inference server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// ApplyRuntimeConfig applies the runtime-tunable knobs from a reloaded
// configuration: batch limits and the audit toggle. Everything else needs a
// restart.
func (s *Server) ApplyRuntimeConfig(cfg *config.Config) {
	s.pipeline.Validator().SetLimits(inference.Limits{
		MaxBatchSize: cfg.Limits.MaxBatchSize,
		MaxFeatures:  cfg.Limits.MaxFeatures,
	})
	s.trail.SetEnabled(cfg.Audit.Enabled)

	slog.Info("runtime config applied",
		"max_batch_size", cfg.Limits.MaxBatchSize,
		"max_features", cfg.Limits.MaxFeatures,
		"audit_enabled", cfg.Audit.Enabled,
	)
}
