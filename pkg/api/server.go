// Package api provides the embedded admin HTTP surface for processes that
// host a cache engine: health probes, component statistics and the
// prometheus exposition endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/engine"
	"github.com/tiercache/tiercache/internal/health"
)

// ServerConfig configures the admin server
type ServerConfig struct {
	// Address to bind the server to (e.g. "localhost:9191")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultServerConfig returns default admin server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:9191",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server exposes engine health and statistics over HTTP
type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	monitor    *health.Monitor
	config     ServerConfig
	logger     *zap.Logger
	startedAt  time.Time
}

// NewServer creates an admin server over the given engine. A nil monitor
// makes readiness check the store inline; a nil metricsHandler disables
// the /metrics route.
func NewServer(config ServerConfig, eng *engine.Engine, monitor *health.Monitor, metricsHandler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		engine:    eng,
		monitor:   monitor,
		config:    config,
		logger:    logger,
		startedAt: time.Now(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)
	router.HandleFunc("/v1/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/v1/breakers", s.handleBreakers).Methods(http.MethodGet)
	router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	router.Use(s.loggingMiddleware)

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Start begins serving; it blocks until the listener fails or Shutdown
// is called
func (s *Server) Start() error {
	s.logger.Info("admin server listening", zap.String("address", s.config.Address))
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

// StartBackground runs the server in a goroutine, logging listener failures
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("admin server stopped", zap.Error(err))
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.engine.Health(r.Context())
	if err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"healthy":   false,
			"error":     err.Error(),
			"timestamp": time.Now(),
		})
		return
	}

	code := http.StatusOK
	if !health.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, health)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	// Ready means the durable tier answers; L1 alone cannot serve a cold
	// process.
	var ready bool
	if s.monitor != nil {
		ready = s.monitor.Healthy()
	} else {
		status, err := s.engine.Health(r.Context())
		ready = err == nil && status.Healthy
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"breakers":  stats.Breakers,
		"count":     len(stats.Breakers),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":    "tiercache admin",
		"started_at": s.startedAt,
		"uptime":     time.Since(s.startedAt).String(),
		"endpoints": []string{
			"/healthz",
			"/health/live",
			"/health/ready",
			"/v1/stats",
			"/v1/breakers",
			"/metrics",
			"/info",
		},
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("admin request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
