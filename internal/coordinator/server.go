package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/metrics"
	"github.com/tiercache/tiercache/pkg/types"
)

// ServerConfig configures the coordinator HTTP server
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:9190",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodyBytes: 8 * 1024 * 1024, // 8MB
	}
}

// Server exposes the coordinator actor over HTTP: the kv surface consumed by
// the store client and the rate-limit RPC surface consumed by all processes.
type Server struct {
	httpServer *http.Server
	actor      *Actor
	config     ServerConfig
	collector  *metrics.Collector
	logger     *zap.Logger
}

// checkRequest is the rate-limit check RPC payload
type checkRequest struct {
	Identifier  string `json:"identifier"`
	MaxRequests int    `json:"maxRequests"`
	WindowMs    int64  `json:"windowMs"`
}

// resetRequest is the rate-limit reset RPC payload
type resetRequest struct {
	Identifier string `json:"identifier"`
}

type resetResponse struct {
	Success bool `json:"success"`
}

type rateStatsResponse struct {
	Entries    int      `json:"entries"`
	SampleKeys []string `json:"sampleKeys"`
}

// NewServer creates a coordinator HTTP server around an actor. A nil
// collector falls back to the default registry for exposition and skips
// rate-limit decision recording.
func NewServer(config ServerConfig, actor *Actor, collector *metrics.Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	var metricsHandler http.Handler
	if collector != nil {
		metricsHandler = collector.Handler()
	} else {
		metricsHandler = promhttp.Handler()
	}

	s := &Server{
		actor:     actor,
		config:    config,
		collector: collector,
		logger:    logger,
	}

	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	kv := router.PathPrefix("/v1/kv").Subrouter()
	kv.HandleFunc("/clear", s.handleClear).Methods(http.MethodPost)
	kv.HandleFunc("/{key:.+}", s.handleGet).Methods(http.MethodGet)
	kv.HandleFunc("/{key:.+}", s.handlePut).Methods(http.MethodPut)
	kv.HandleFunc("/{key:.+}", s.handleDelete).Methods(http.MethodDelete)

	rl := router.PathPrefix("/v1/ratelimit").Subrouter()
	rl.HandleFunc("/check", s.handleRateCheck).Methods(http.MethodPost)
	rl.HandleFunc("/reset", s.handleRateReset).Methods(http.MethodPost)
	rl.HandleFunc("/stats", s.handleRateStats).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Start begins serving; it blocks until the listener fails or Stop is called
func (s *Server) Start() error {
	s.logger.Info("coordinator server listening", zap.String("address", s.config.Address))
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("coordinator server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	_, err := s.actor.Stats(r.Context())
	status := types.HealthStatus{
		Healthy:   err == nil,
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}
	if err != nil {
		status.Message = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	data, err := s.actor.Get(r.Context(), key)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	ttl := time.Hour
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid ttl %q", raw))
			return
		}
		ttl = time.Duration(seconds) * time.Second
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodyBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if int64(len(body)) > s.config.MaxBodyBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Errorf("body exceeds %d bytes", s.config.MaxBodyBytes))
		return
	}

	if err := s.actor.Put(r.Context(), key, body, ttl); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if err := s.actor.Delete(r.Context(), key); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	if err := s.actor.Clear(r.Context(), prefix); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRateCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Identifier == "" || req.MaxRequests <= 0 || req.WindowMs <= 0 {
		s.writeError(w, http.StatusBadRequest,
			fmt.Errorf("identifier, maxRequests and windowMs are required"))
		return
	}

	decision, err := s.actor.CheckRate(r.Context(), req.Identifier, req.MaxRequests,
		time.Duration(req.WindowMs)*time.Millisecond)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordRateLimitDecision(decision.Allowed)
	}
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleRateReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Identifier == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("identifier is required"))
		return
	}

	existed, err := s.actor.ResetRate(r.Context(), req.Identifier)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resetResponse{Success: existed})
}

func (s *Server) handleRateStats(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, samples, err := s.actor.RateStats(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rateStatsResponse{Entries: entries, SampleKeys: samples})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("coordinator request failed",
		zap.Int("status", status),
		zap.Error(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
