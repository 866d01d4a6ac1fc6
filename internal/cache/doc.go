/*
Package cache provides the bounded in-process memory tier (L1) of the cache
hierarchy.

This package implements the fastest tier: a mutex-guarded map with weighted
LRU eviction, a dual capacity model, and TTL handling with a stale grace
window. Every collaborator-facing read tries this tier before touching the
durable store or the origin.

# Tier Position

	┌─────────────────────────────────────────────┐
	│              Collaborators                  │
	│         (engine.Read / engine.Write)        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            MemoryCache (L1)                 │  ← This Package
	│   • weighted LRU eviction                   │
	│   • entry-count AND byte-budget caps        │
	│   • TTL + stale grace window                │
	│   • nanosecond access, volatile             │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Durable Store (L2/L0)             │
	│        (Redis or coordinator process)       │
	└─────────────────────────────────────────────┘

# Capacity Model

The cache enforces two independent limits and admission evicts until both
hold:

Entry count:
- Hard cap on the number of resident entries
- Protects against many tiny values exhausting the map

Memory budget:
- Sum of value sizes plus per-entry overhead
- Protects against few huge values exhausting the process

Eviction order weighs recency against size, so one large cold value is
reclaimed before many small warm ones.

# TTL and Staleness

Get returns the value together with an Outcome:

	Hit    value fresh, within its TTL
	Stale  TTL passed but still inside the grace window
	Miss   absent, or past TTL plus grace

A stale value is still served; the caller decides whether to refresh in
the background. Entries past the grace window are treated exactly like
absent keys and are reclaimed by the cleanup loop.

# Usage

	c := cache.NewMemoryCache(&cache.Config{
		MaxMemoryBytes:  256 << 20,
		MaxEntries:      100000,
		DefaultTTL:      5 * time.Minute,
		GracePeriod:     30 * time.Second,
		CleanupInterval: time.Minute,
	}, logger)
	defer c.Close()

	c.Set("market:quote:AAPL", payload, time.Minute)

	data, outcome := c.Get("market:quote:AAPL")
	switch outcome {
	case cache.Hit:
		// serve directly
	case cache.Stale:
		// serve, then refresh in the background
	case cache.Miss:
		// fall through to the durable store
	}

	// Prefix invalidation
	removed := c.Delete("market:")

# Statistics

Stats reports hits, misses, stale hits, evictions, entry count, memory
usage and derived hit-rate/utilization ratios. The engine aggregates these
into its component snapshot and the prometheus collector exports the
counters.

# Thread Safety

All operations are safe for concurrent use. A single mutex guards the map
and the recency list; the cleanup goroutine takes the same lock, so there
are no torn reads of entry state.
*/
package cache
