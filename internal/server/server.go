package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/analytics"
	"github.com/fleetsight/fleetsight/internal/audit"
	"github.com/fleetsight/fleetsight/internal/config"
	"github.com/fleetsight/fleetsight/internal/db"
)

// Server exposes the analysis pipeline over HTTP: run triggering, run
// history, per-device scores, and a WebSocket event stream.
type Server struct {
	config *config.Config
	logger *zap.Logger

	// Core components
	pipeline *analytics.Pipeline
	store    db.Store
	audit    audit.Logger
	hub      *Hub
	limiter  *rateLimiter

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a new fleetsight server.
func NewServer(cfg *config.Config, logger *zap.Logger, store db.Store, auditLogger audit.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:   cfg,
		logger:   logger,
		pipeline: analytics.NewPipeline(logger, nil),
		store:    store,
		audit:    auditLogger,
		ctx:      ctx,
		cancel:   cancel,
	}
	srv.hub = newHub(ctx, logger)
	srv.limiter = newRateLimiter(cfg.Server.RateLimitPerMinute)

	return srv, nil
}

// Start starts the server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("starting HTTP server", zap.Int("port", s.config.Server.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if s.audit != nil {
		_ = s.audit.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
			WithResult(audit.ResultSuccess).
			WithDescription(fmt.Sprintf("server listening on port %d", s.config.Server.Port)))
	}

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down HTTP server", zap.Error(err))
		}
	}

	if s.audit != nil {
		_ = s.audit.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
			WithResult(audit.ResultSuccess).
			WithDescription("server shut down"))
	}

	s.limiter.stop()
	s.cancel()
	s.wg.Wait()

	s.logger.Info("server stopped")
	return nil
}

// detectorOptions fills unset request options from the server's detector
// configuration, so API callers inherit the operator-tuned defaults.
func (s *Server) detectorOptions(opts analytics.Options) analytics.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.config.Detector

	if opts.Contamination == 0 {
		opts.Contamination = d.Contamination
	}
	if opts.Trees == 0 {
		opts.Trees = d.Trees
	}
	if opts.SubSampleSize == 0 {
		opts.SubSampleSize = d.SubSampleSize
	}
	if opts.Seed == 0 {
		opts.Seed = d.Seed
	}
	if opts.Workers == 0 {
		opts.Workers = d.Workers
	}
	return opts
}

// ApplyConfig updates the live-tunable detector and changepoint settings from
// a reloaded configuration. Server-level settings (port, TLS, origins) require
// a restart and are ignored here.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Detector = cfg.Detector
	s.config.Changepoint = cfg.Changepoint
	s.logger.Info("detector configuration reloaded",
		zap.Float64("contamination", cfg.Detector.Contamination),
		zap.Int("trees", cfg.Detector.Trees),
	)
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers registers HTTP handlers.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Health and readiness checks
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Analysis endpoints; run triggering is rate limited per client
	mux.HandleFunc("/api/v1/runs", s.limiter.limit(s.handleRuns))
	mux.HandleFunc("/api/v1/runs/", s.handleRunByID)
	mux.HandleFunc("/api/v1/anomalies", s.handleAnomalies)

	// WebSocket event stream
	mux.HandleFunc("/ws/events", s.handleEvents)
}
