/*
Package metrics provides Prometheus metrics collection for TierCache.

# Overview

The package exposes one Collector owning a private Prometheus registry.
Components record through the shared MetricsCollector interface; the
coordinator server mounts Collector.Handler() at /metrics.

Metrics:

  - tiercache_tier_hits_total / tier_misses_total / evictions_total, by tier
  - tiercache_dedup_requests_total, by outcome (executed, deduplicated)
  - tiercache_batch_flush_size / batch_flush_wait_seconds, by priority
  - tiercache_breaker_state gauge per origin (0 closed, 1 half-open, 2 open)
  - tiercache_rate_limit_decisions_total (allowed, denied)
  - tiercache_operation_duration_seconds, by operation and status

Usage:

	collector := metrics.NewCollector()
	collector.RecordTierHit("l1")
	mux.Handle("/metrics", collector.Handler())

Nop satisfies the same interface and records nothing; components accept it
as the default so metrics wiring stays optional.
*/
package metrics
