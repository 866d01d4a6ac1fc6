package types

import (
	"context"
	"time"
)

// Backend defines the store contract implemented by the durable store (L2)
// and the coordinator client (L0). Get returns (nil, nil) on a miss.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// List is an optional capability; backends without it must return a
	// capability error rather than silently returning nothing.
	List(ctx context.Context, prefix, cursor string) (ListResult, error)

	// Clear is an optional capability.
	Clear(ctx context.Context) error

	Health(ctx context.Context) (HealthStatus, error)
	Capabilities() Capabilities
	Name() string
}

// Codec serializes cache values to and from their stored blob form
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// MetricsCollector defines the metrics recording interface
type MetricsCollector interface {
	RecordTierHit(tier string)
	RecordTierMiss(tier string)
	RecordEviction(tier string)
	RecordDedup(deduplicated bool)
	RecordBatchFlush(priority string, size int, wait time.Duration)
	RecordBreakerState(origin string, state string)
	RecordRateLimitDecision(allowed bool)
	RecordOperation(operation string, duration time.Duration, success bool)
}

// Origin is a no-argument operation against an unreliable upstream.
// The circuit breaker is agnostic to the payload shape.
type Origin func(ctx context.Context) ([]byte, error)
