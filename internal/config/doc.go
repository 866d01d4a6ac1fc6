/*
Package config provides configuration management for TierCache with multi-source support.

This package implements a layered configuration system: compiled-in defaults,
an optional YAML file, then environment variable overrides. Validation fails
fast at startup so a misconfigured backend selection never reaches the serving
path.

# Configuration Structure

Configuration sections:

Global Settings:
- Logging level
- Metrics listen address

Memory (L1) Settings:
- Memory budget and entry cap
- Default TTL and stale grace period
- Expired-entry cleanup interval

Store Settings:
- Backend selection ("redis" or "coordinator")
- Redis connection parameters and key prefix
- Coordinator service address and snapshot policy

Component Settings:
- Deduplicator timeouts and result-cache TTL
- Batch scheduler concurrency
- Circuit breaker thresholds and open timeout
- Prefetch engine tick, batch size and prediction window

Namespace Policies:
- Per-namespace L1 TTL, memory budget and entry cap
- Priority class (high, medium, low)
- Real-time and predictive key patterns
- Prefetch threshold and priority-key patterns

# Usage Examples

Loading configuration:

	cfg, err := config.Load("/etc/tiercache/config.yaml")
	if err != nil {
		log.Fatal(err)
	}

Configuration file format:

	global:
	  log_level: INFO
	  metrics_addr: "localhost:9191"

	store:
	  backend: redis
	  redis:
	    addr: "localhost:6379"
	    key_prefix: "tiercache:"
	    default_ttl: 1h

	memory:
	  max_memory_mb: 256
	  max_entries: 100000
	  default_ttl: 5m
	  grace_period: 30s

	namespaces:
	  market:
	    l1_ttl: 30s
	    priority: high
	    realtime_patterns: ["market:quote:"]

Environment variable mapping:

	TIERCACHE_LOG_LEVEL="DEBUG"
	TIERCACHE_BACKEND="coordinator"
	TIERCACHE_REDIS_ADDR="localhost:6379"
	TIERCACHE_COORDINATOR_URL="http://localhost:9190"
	TIERCACHE_MAX_MEMORY_MB="512"
	TIERCACHE_PREFETCH_ENABLED="false"

# Validation

Validate enforces:
- A backend is selected and its required address is present
- Memory budgets and breaker thresholds are positive
- Log level is one of DEBUG, INFO, WARN, ERROR
- Namespace priorities are high, medium or low

Only configuration errors are fatal; runtime store failures degrade
gracefully elsewhere.
*/
package config
