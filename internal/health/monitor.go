// Package health runs periodic health checks against a store backend and
// tracks state transitions. Readiness probes consult the monitor instead of
// hitting the backend on every request.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// Config represents health monitor settings
type Config struct {
	// Interval between checks
	Interval time.Duration `yaml:"interval"`

	// CheckTimeout bounds a single health call
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// FailureThreshold is the number of consecutive failures before the
	// backend is reported unhealthy
	FailureThreshold int `yaml:"failure_threshold"`

	// OnStateChange is called on every healthy/unhealthy transition
	OnStateChange func(healthy bool) `yaml:"-"`
}

// DefaultConfig returns default monitor settings
func DefaultConfig() *Config {
	return &Config{
		Interval:         15 * time.Second,
		CheckTimeout:     5 * time.Second,
		FailureThreshold: 3,
	}
}

// Stats tracks monitor activity
type Stats struct {
	Checks      int64     `json:"checks"`
	Failures    int64     `json:"failures"`
	Transitions int64     `json:"transitions"`
	LastChecked time.Time `json:"last_checked"`
	LastError   string    `json:"last_error,omitempty"`
}

// Monitor periodically checks one backend's health
type Monitor struct {
	mu      sync.Mutex
	backend types.Backend
	config  *Config
	logger  *zap.Logger

	healthy     bool
	consecFails int
	lastStatus  types.HealthStatus
	stats       Stats
	stopCh      chan struct{}
	stopped     chan struct{}
	started     bool
}

// NewMonitor creates a monitor over the given backend. It does not start
// checking until Start is called; until the first check the backend is
// assumed healthy.
func NewMonitor(backend types.Backend, config *Config, logger *zap.Logger) (*Monitor, error) {
	if backend == nil {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "health monitor requires a backend").
			WithComponent("health")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		backend: backend,
		config:  config,
		logger:  logger,
		healthy: true,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Start begins the check loop
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.NewError(errors.ErrCodeAlreadyStarted, "health monitor already started").
			WithComponent("health")
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()
	return nil
}

// Stop terminates the check loop
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stopCh)
	<-m.stopped
}

// Healthy reports the current observed state
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// LastStatus returns the most recent backend health report
func (m *Monitor) LastStatus() types.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStatus
}

// GetStats returns a snapshot of monitor counters
func (m *Monitor) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// CheckNow runs one check outside the loop schedule
func (m *Monitor) CheckNow(ctx context.Context) types.HealthStatus {
	return m.check(ctx)
}

func (m *Monitor) loop() {
	defer close(m.stopped)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.config.CheckTimeout)
			m.check(ctx)
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context) types.HealthStatus {
	status, err := m.backend.Health(ctx)
	if err != nil {
		status = types.HealthStatus{
			Healthy:   false,
			Message:   err.Error(),
			CheckedAt: time.Now(),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Checks++
	m.stats.LastChecked = time.Now()
	m.lastStatus = status

	if status.Healthy {
		m.consecFails = 0
		m.stats.LastError = ""
		if !m.healthy {
			m.transitionLocked(true)
		}
		return status
	}

	m.consecFails++
	m.stats.Failures++
	m.stats.LastError = status.Message
	if m.healthy && m.consecFails >= m.config.FailureThreshold {
		m.transitionLocked(false)
	}
	return status
}

func (m *Monitor) transitionLocked(healthy bool) {
	m.healthy = healthy
	m.stats.Transitions++
	if healthy {
		m.logger.Info("backend recovered", zap.String("backend", m.backend.Name()))
	} else {
		m.logger.Warn("backend unhealthy",
			zap.String("backend", m.backend.Name()),
			zap.Int("consecutive_failures", m.consecFails),
			zap.String("error", m.stats.LastError))
	}
	if m.config.OnStateChange != nil {
		// Copy to release the lock before user code runs.
		cb := m.config.OnStateChange
		go cb(healthy)
	}
}
