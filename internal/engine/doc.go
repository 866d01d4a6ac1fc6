/*
Package engine assembles the cache tiers behind one collaborator-facing
API: Read, Write, Invalidate, and their typed Object variants.

Business modules depend on this package only. Tier selection, request
coalescing, promotion, prefetching, batching and circuit breaking are
wired here and stay invisible to callers.

# Read Path

	Read(ctx, key, opts)
	  │
	  ├─ deduplicator        coalesce concurrent identical reads
	  ├─ prefetch side cache consumed on hit
	  ├─ L1 memory tier      fresh hit, or stale-serve + refresh
	  ├─ durable store       router → Redis or coordinator
	  └─ origin loader       breaker-wrapped, warms store and L1

A full miss without an Origin in the options is an unsuccessful result,
not an error. Store failures degrade to the origin when one is provided;
otherwise they surface.

# Write Path

Write sets L1 immediately, invalidates the dedup result cache, and
schedules the durable put through the priority batch scheduler. With
Verify set the put is synchronous and read back; a mismatch returns
false without an error, leaving retry policy to the caller.

# Promotion and Prefetch

Values read from slower tiers pass through the promotion engine, which
decides per namespace whether and for how long to warm L1. Access
patterns feed the prefetch engine, which schedules predicted keys into a
short-lived side cache ahead of demand.

# Usage

	eng, err := engine.New(cfg, router, &engine.Options{
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := eng.Read(ctx, "market:quote:AAPL", engine.ReadOptions{
		Origin: func(ctx context.Context) ([]byte, error) {
			return fetchQuote(ctx, "AAPL")
		},
	})

Namespaces derive from the key's first colon-separated segment and select
the TTL, priority and prefetch policy from configuration.
*/
package engine
