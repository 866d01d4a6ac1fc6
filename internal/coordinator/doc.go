/*
Package coordinator implements the single-writer process that owns shared
mutable state: the authoritative key-value map and the distributed
rate-limit windows.

All mutations flow through one actor goroutine over a request channel, so
no lock ordering exists and writes serialize naturally. Reads go through
the same channel; the answer is therefore always consistent with every
mutation that preceded it.

# Process Model

	collaborator ──HTTP──▶ Server ──channel──▶ Actor (single goroutine)
	collaborator ──HTTP──▶        ──channel──▶   │
	                                             ├─ kv map (TTL-swept)
	                                             ├─ rate-limit windows
	                                             └─ disk snapshot loop

The HTTP server is plumbing only: it decodes requests, forwards them to
the actor, and encodes responses. Rate-limit checks are one RPC per
decision, which keeps the sliding windows exact across processes at the
cost of a network round trip.

# Persistence

The actor snapshots its state to disk on an interval and on shutdown,
writing to a temp file and renaming over the previous snapshot so a crash
never leaves a torn file. On start it restores from the snapshot when one
exists; expired entries and stale windows are dropped during restore.

# Surfaces

	GET    /healthz              liveness and entry counts
	GET    /metrics              prometheus exposition
	GET    /v1/kv/{key}          read
	PUT    /v1/kv/{key}          write with TTL
	DELETE /v1/kv/{key}          delete
	POST   /v1/kv/clear          clear a prefix
	POST   /v1/ratelimit/check   sliding-window decision
	POST   /v1/ratelimit/reset   drop one identifier's window
	GET    /v1/ratelimit/stats   window counts and sample identifiers
*/
package coordinator
