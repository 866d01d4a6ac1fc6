/*
Package types provides the core interfaces, data structures, and type
definitions shared across the cache engine.

This package is the contract layer: components depend on these types
instead of on each other, which keeps the tier implementations swappable
and testable in isolation.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│            Collaborator API                 │
	│            (internal/engine)                │
	└─────────────────────────────────────────────┘
	          │        │        │        │
	┌─────────┴───┐ ┌──┴──┐ ┌───┴────┐ ┌─┴───────┐
	│   Backend   │ │ L1  │ │ Dedup/ │ │Metrics  │
	│ (L2 / L0)   │ │     │ │ Batch  │ │         │
	└─────────────┘ └─────┘ └────────┘ └─────────┘

# Core Interfaces

Backend:
The durable store contract implemented by the Redis tier, the coordinator
client, and the router that fronts them. Get returns (nil, nil) on a clean
miss so callers can distinguish absence from failure. Capabilities reports
which optional operations (List, Clear) an implementation supports; the
router uses it to fall back or surface a capability gap instead of
guessing.

Codec:
Encode/Decode for typed values. The engine's default is JSON; a malformed
stored payload is treated as a miss by the caller, never surfaced as an
error.

MetricsCollector:
The observation surface every component reports into: tier hits and
misses, evictions, dedup outcomes, batch flushes, breaker state and
rate-limit decisions. A no-op implementation keeps the collector optional.

Origin:
The loader invoked on a full miss. It is a plain function type so
collaborators can close over whatever upstream call produces the value;
the engine wraps it in a per-namespace circuit breaker.

# Data Structures

ReadResult:
Carries Success, the payload, whether it was served from a cache tier, and
the Source that produced it (l1, l2, coordinator, origin, prefetch,
dedup).

RateLimitDecision:
The coordinator's sliding-window verdict: allowed, remaining budget, and a
retry-after hint in milliseconds.

HealthStatus, ListResult, CacheStats:
Shared result shapes for health probes, paginated prefix listings, and L1
statistics.

# Interface Contracts

1. Blocking operations accept context.Context for cancellation
2. All operations return explicit errors; misses are not errors
3. Implementations must be safe for concurrent use
4. Optional operations are declared via Capabilities, never stubbed
*/
package types
