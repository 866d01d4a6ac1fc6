package types

import (
	"time"
)

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	StaleHits   uint64  `json:"stale_hits"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	MemoryBytes int64   `json:"memory_bytes"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// HealthStatus represents the health of a store backend
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// ListResult is one page of a prefix listing
type ListResult struct {
	Keys     []string `json:"keys"`
	Complete bool     `json:"complete"`
	Cursor   string   `json:"cursor,omitempty"`
}

// Capabilities advertises which optional backend operations are supported
type Capabilities struct {
	List  bool `json:"list"`
	Clear bool `json:"clear"`
}

// Source identifies which tier satisfied a read
type Source string

const (
	SourceL1          Source = "l1"
	SourceL2          Source = "l2"
	SourceCoordinator Source = "coordinator"
	SourceOrigin      Source = "origin"
	SourcePrefetch    Source = "prefetch"
	SourceDedup       Source = "dedup"
)

// Priority classifies scheduled store operations
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ReadResult is the collaborator-facing outcome of a cache read
type ReadResult struct {
	Success bool   `json:"success"`
	Data    []byte `json:"data,omitempty"`
	Cached  bool   `json:"cached"`
	Source  Source `json:"source"`
}

// RateLimitDecision is the structured outcome of a rate-limit check.
// A denied check is not an error; RetryAfter tells the caller when to retry.
type RateLimitDecision struct {
	Allowed    bool  `json:"allowed"`
	Remaining  int   `json:"remaining"`
	RetryAfter int64 `json:"retryAfter,omitempty"` // seconds
}
