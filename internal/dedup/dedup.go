// Package dedup coalesces concurrent identical requests into one in-flight
// operation and keeps a short-TTL result cache. The core invariant: at most
// one pending operation exists per key, so identical concurrent keys produce
// exactly one upstream invocation.
package dedup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/tiercache/tiercache/pkg/errors"
)

// Outcome reports how an Execute call was satisfied
type Outcome int

const (
	// OutcomeExecuted - this caller ran the operation
	OutcomeExecuted Outcome = iota
	// OutcomeDeduplicated - this caller joined an in-flight operation
	OutcomeDeduplicated
	// OutcomeCached - served from the short-TTL result cache
	OutcomeCached
)

// Config represents deduplicator configuration
type Config struct {
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	DefaultCacheTTL time.Duration `yaml:"default_cache_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	PendingMaxAge   time.Duration `yaml:"pending_max_age"`
	BatchConcurrency int64        `yaml:"batch_concurrency"`
}

// Options controls a single Execute call
type Options struct {
	Timeout      time.Duration
	CacheTTL     time.Duration
	ForceRefresh bool
}

// Stats tracks aggregate deduplicator activity
type Stats struct {
	TotalRequests uint64 `json:"total_requests"`
	Deduplicated  uint64 `json:"deduplicated"`
	CacheHits     uint64 `json:"cache_hits"`
	Timeouts      uint64 `json:"timeouts"`
	Pending       int    `json:"pending"`
	CachedResults int    `json:"cached_results"`
	MemoryBytes   int64  `json:"memory_bytes"`
}

// pendingOp is the single in-flight operation for a key. Subscribers wait on
// done and then read data/err; both are written exactly once before close.
type pendingOp struct {
	key          string
	startedAt    time.Time
	done         chan struct{}
	timer        *time.Timer
	subscribers  int
	deduplicated bool

	data []byte
	err  error
}

type cachedResult struct {
	data      []byte
	expiresAt time.Time
}

// Deduplicator coalesces concurrent identical operations
type Deduplicator struct {
	mu      sync.Mutex
	config  *Config
	pending map[string]*pendingOp
	results map[string]*cachedResult
	stats   Stats
	logger  *zap.Logger

	batchSem *semaphore.Weighted

	stopCh chan struct{}
	closed bool
}

// New creates a deduplicator and starts its sweep loop
func New(config *Config, logger *zap.Logger) *Deduplicator {
	if config == nil {
		config = &Config{}
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if config.DefaultCacheTTL <= 0 {
		config.DefaultCacheTTL = 30 * time.Second
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	if config.PendingMaxAge <= 0 {
		config.PendingMaxAge = 5 * time.Minute
	}
	if config.BatchConcurrency <= 0 {
		config.BatchConcurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Deduplicator{
		config:   config,
		pending:  make(map[string]*pendingOp),
		results:  make(map[string]*cachedResult),
		logger:   logger,
		batchSem: semaphore.NewWeighted(config.BatchConcurrency),
		stopCh:   make(chan struct{}),
	}

	go d.sweep()

	return d
}

// Execute runs operation at most once per key across all concurrent callers.
// A valid cached result short-circuits unless ForceRefresh is set; callers
// arriving while the operation is in flight subscribe to its outcome instead
// of invoking operation again.
func (d *Deduplicator) Execute(ctx context.Context, key string, operation func(context.Context) ([]byte, error), opts Options) ([]byte, Outcome, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.config.DefaultTimeout
	}
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = d.config.DefaultCacheTTL
	}

	d.mu.Lock()
	d.stats.TotalRequests++

	if !opts.ForceRefresh {
		if cached, ok := d.results[key]; ok && time.Now().Before(cached.expiresAt) {
			d.stats.CacheHits++
			data := make([]byte, len(cached.data))
			copy(data, cached.data)
			d.mu.Unlock()
			return data, OutcomeCached, nil
		}
	}

	if op, ok := d.pending[key]; ok {
		op.subscribers++
		op.deduplicated = true
		d.stats.Deduplicated++
		d.mu.Unlock()
		return d.wait(ctx, op, OutcomeDeduplicated)
	}

	op := &pendingOp{
		key:       key,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	// The timeout belongs to the operation, not the caller: when it fires,
	// every subscriber is rejected and the slot is freed.
	op.timer = time.AfterFunc(timeout, func() {
		d.settle(op, nil, errors.NewOperationTimeout("dedup:"+key, timeout), true, 0)
	})
	d.pending[key] = op
	d.mu.Unlock()

	go func() {
		data, err := operation(ctx)
		d.settle(op, data, err, false, cacheTTL)
	}()

	return d.wait(ctx, op, OutcomeExecuted)
}

// BatchResult is the outcome for one key of ExecuteBatch
type BatchResult struct {
	Data    []byte
	Outcome Outcome
	Err     error
}

// ExecuteBatch applies Execute across many keys with bounded concurrency
func (d *Deduplicator) ExecuteBatch(ctx context.Context, keys []string, operation func(context.Context, string) ([]byte, error), opts Options) map[string]BatchResult {
	results := make(map[string]BatchResult, len(keys))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, key := range keys {
		if err := d.batchSem.Acquire(ctx, 1); err != nil {
			resultsMu.Lock()
			results[key] = BatchResult{Err: err}
			resultsMu.Unlock()
			continue
		}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			defer d.batchSem.Release(1)

			data, outcome, err := d.Execute(ctx, key, func(ctx context.Context) ([]byte, error) {
				return operation(ctx, key)
			}, opts)

			resultsMu.Lock()
			results[key] = BatchResult{Data: data, Outcome: outcome, Err: err}
			resultsMu.Unlock()
		}(key)
	}

	wg.Wait()
	return results
}

// Invalidate drops any cached result for the key
func (d *Deduplicator) Invalidate(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.results, key)
}

// Stats returns a snapshot of aggregate counters
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.stats
	stats.Pending = len(d.pending)
	stats.CachedResults = len(d.results)

	var memory int64
	for _, cached := range d.results {
		memory += int64(len(cached.data))
	}
	for _, op := range d.pending {
		memory += int64(len(op.key)) + 64 // rough per-op bookkeeping estimate
	}
	stats.MemoryBytes = memory
	return stats
}

// Close stops the sweep loop
func (d *Deduplicator) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.stopCh)
}

// settle resolves a pending operation exactly once: records the outcome,
// caches found values, wakes all subscribers and frees the key's slot.
func (d *Deduplicator) settle(op *pendingOp, data []byte, err error, timedOut bool, cacheTTL time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-op.done:
		return // already settled by the other path
	default:
	}

	if op.timer != nil {
		op.timer.Stop()
	}

	op.data = data
	op.err = err
	close(op.done)

	if current, ok := d.pending[op.key]; ok && current == op {
		delete(d.pending, op.key)
	}

	if timedOut {
		d.stats.Timeouts++
	}

	// Misses (nil data) are never cached: a later call for the same key must
	// reach upstream again, where the value may have appeared.
	if err == nil && data != nil && cacheTTL > 0 {
		stored := make([]byte, len(data))
		copy(stored, data)
		d.results[op.key] = &cachedResult{
			data:      stored,
			expiresAt: time.Now().Add(cacheTTL),
		}
	}
}

// wait blocks until the operation settles or the caller's context ends.
// Every subscriber observes the identical outcome.
func (d *Deduplicator) wait(ctx context.Context, op *pendingOp, outcome Outcome) ([]byte, Outcome, error) {
	select {
	case <-op.done:
		if op.err != nil {
			return nil, outcome, op.err
		}
		// A nil result is a miss and must stay nil for every subscriber.
		if op.data == nil {
			return nil, outcome, nil
		}
		data := make([]byte, len(op.data))
		copy(data, op.data)
		return data, outcome, nil
	case <-ctx.Done():
		return nil, outcome, ctx.Err()
	}
}

// sweep periodically evicts expired cached results and abandons pending
// operations that outlived the safety threshold.
func (d *Deduplicator) sweep() {
	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			now := time.Now()

			d.mu.Lock()
			for key, cached := range d.results {
				if now.After(cached.expiresAt) {
					delete(d.results, key)
				}
			}
			var abandoned []*pendingOp
			for _, op := range d.pending {
				if now.Sub(op.startedAt) > d.config.PendingMaxAge {
					abandoned = append(abandoned, op)
				}
			}
			d.mu.Unlock()

			for _, op := range abandoned {
				d.logger.Warn("abandoning stale pending operation",
					zap.String("key", op.key),
					zap.Time("started_at", op.startedAt))
				d.settle(op, nil,
					errors.NewOperationTimeout("dedup:"+op.key, d.config.PendingMaxAge), true, 0)
			}
		}
	}
}
