package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// breaker states as gauge values
const (
	stateClosed   = 0
	stateHalfOpen = 1
	stateOpen     = 2
)

// Collector records cache engine metrics into a private Prometheus registry
type Collector struct {
	registry *prometheus.Registry

	tierHits      *prometheus.CounterVec
	tierMisses    *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	dedupTotal    *prometheus.CounterVec
	batchSize     *prometheus.HistogramVec
	batchWait     *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
	rateDecisions *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
}

// NewCollector creates a collector with all metrics registered
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		tierHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiercache",
			Name:      "tier_hits_total",
			Help:      "Cache hits by tier",
		}, []string{"tier"}),
		tierMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiercache",
			Name:      "tier_misses_total",
			Help:      "Cache misses by tier",
		}, []string{"tier"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiercache",
			Name:      "evictions_total",
			Help:      "Evictions by tier",
		}, []string{"tier"}),
		dedupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiercache",
			Name:      "dedup_requests_total",
			Help:      "Deduplicator requests by outcome",
		}, []string{"outcome"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tiercache",
			Name:      "batch_flush_size",
			Help:      "Items per flushed batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50},
		}, []string{"priority"}),
		batchWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tiercache",
			Name:      "batch_flush_wait_seconds",
			Help:      "Age of the oldest item at flush time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"priority"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tiercache",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per origin (0 closed, 1 half-open, 2 open)",
		}, []string{"origin"}),
		rateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiercache",
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions",
		}, []string{"decision"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tiercache",
			Name:      "operation_duration_seconds",
			Help:      "Cache API operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}

	registry.MustRegister(
		c.tierHits, c.tierMisses, c.evictions, c.dedupTotal,
		c.batchSize, c.batchWait, c.breakerState, c.rateDecisions,
		c.opDuration,
	)
	return c
}

// RecordTierHit records a hit on the named tier
func (c *Collector) RecordTierHit(tier string) {
	c.tierHits.WithLabelValues(tier).Inc()
}

// RecordTierMiss records a miss on the named tier
func (c *Collector) RecordTierMiss(tier string) {
	c.tierMisses.WithLabelValues(tier).Inc()
}

// RecordEviction records an eviction from the named tier
func (c *Collector) RecordEviction(tier string) {
	c.evictions.WithLabelValues(tier).Inc()
}

// RecordDedup records whether a request was coalesced into an existing
// in-flight operation
func (c *Collector) RecordDedup(deduplicated bool) {
	outcome := "executed"
	if deduplicated {
		outcome = "deduplicated"
	}
	c.dedupTotal.WithLabelValues(outcome).Inc()
}

// RecordBatchFlush records a flushed batch's size and oldest-item wait
func (c *Collector) RecordBatchFlush(priority string, size int, wait time.Duration) {
	c.batchSize.WithLabelValues(priority).Observe(float64(size))
	c.batchWait.WithLabelValues(priority).Observe(wait.Seconds())
}

// RecordBreakerState records a breaker state transition
func (c *Collector) RecordBreakerState(origin string, state string) {
	value := float64(stateClosed)
	switch state {
	case "HALF_OPEN":
		value = stateHalfOpen
	case "OPEN":
		value = stateOpen
	}
	c.breakerState.WithLabelValues(origin).Set(value)
}

// RecordRateLimitDecision records an allow or deny decision
func (c *Collector) RecordRateLimitDecision(allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	c.rateDecisions.WithLabelValues(decision).Inc()
}

// RecordOperation records a cache API operation's latency and outcome
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	c.opDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// Handler serves the collector's registry in Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry for additional registrations
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Nop is a MetricsCollector that records nothing
type Nop struct{}

func (Nop) RecordTierHit(string)                        {}
func (Nop) RecordTierMiss(string)                       {}
func (Nop) RecordEviction(string)                       {}
func (Nop) RecordDedup(bool)                            {}
func (Nop) RecordBatchFlush(string, int, time.Duration) {}
func (Nop) RecordBreakerState(string, string)           {}
func (Nop) RecordRateLimitDecision(bool)                {}
func (Nop) RecordOperation(string, time.Duration, bool) {}
