// Package engine exposes the collaborator-facing cache API. Business modules
// read and write through this surface only; tier selection, coalescing,
// promotion and prefetching stay internal.
package engine

import (
	"bytes"
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/batch"
	"github.com/tiercache/tiercache/internal/cache"
	"github.com/tiercache/tiercache/internal/circuit"
	"github.com/tiercache/tiercache/internal/config"
	"github.com/tiercache/tiercache/internal/dedup"
	"github.com/tiercache/tiercache/internal/metrics"
	"github.com/tiercache/tiercache/internal/prefetch"
	"github.com/tiercache/tiercache/internal/promote"
	tcerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// ReadOptions controls a single Read call
type ReadOptions struct {
	// Origin loads the value when every tier misses. Nil means a full
	// miss returns an unsuccessful result instead of an error.
	Origin types.Origin
	// TTL overrides the namespace store TTL for origin-loaded values
	TTL time.Duration
	// ForceRefresh bypasses the dedup result cache but still coalesces
	ForceRefresh bool
}

// WriteOptions controls a single Write call
type WriteOptions struct {
	TTL      time.Duration
	Priority types.Priority
	// Verify reads the value back after a synchronous store put and
	// reports false on mismatch instead of an error
	Verify bool
}

// Stats aggregates per-component statistics
type Stats struct {
	L1       types.CacheStats                `json:"l1"`
	Dedup    dedup.Stats                     `json:"dedup"`
	Batch    batch.Stats                     `json:"batch"`
	Promote  promote.Stats                   `json:"promote"`
	Prefetch prefetch.Stats                  `json:"prefetch"`
	Breakers map[string]circuit.BreakerStats `json:"breakers"`
}

// Engine is the multi-tier cache and request-optimization engine
type Engine struct {
	cfg      *config.Configuration
	l1       *cache.MemoryCache
	store    types.Backend
	dedup    *dedup.Deduplicator
	promote  *promote.Engine
	prefetch *prefetch.Engine
	batch    *batch.Scheduler
	breakers *circuit.Manager
	metrics  types.MetricsCollector
	codec    types.Codec
	logger   *zap.Logger
}

// Options carries the optional collaborators for New
type Options struct {
	Metrics types.MetricsCollector
	Codec   types.Codec
	Logger  *zap.Logger
}

// New assembles an engine over the given store backend. The backend is
// typically a store.Router resolved from configuration.
func New(cfg *config.Configuration, backend types.Backend, opts *Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if backend == nil {
		return nil, tcerrors.NewError(tcerrors.ErrCodeMissingConfig, "engine requires a store backend").
			WithComponent("engine")
	}
	if opts == nil {
		opts = &Options{}
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	l1 := cache.NewMemoryCache(&cache.Config{
		MaxMemoryBytes:  int64(cfg.Memory.MaxMemoryMB) << 20,
		MaxEntries:      cfg.Memory.MaxEntries,
		DefaultTTL:      cfg.Memory.DefaultTTL,
		GracePeriod:     cfg.Memory.GracePeriod,
		CleanupInterval: cfg.Memory.CleanupInterval,
		OnEvict:         func(string) { collector.RecordEviction("l1") },
	}, logger.Named("l1"))

	e := &Engine{
		cfg:     cfg,
		l1:      l1,
		store:   backend,
		metrics: collector,
		codec:   codec,
		logger:  logger,
	}

	e.dedup = dedup.New(&dedup.Config{
		DefaultTimeout:   cfg.Dedup.DefaultTimeout,
		DefaultCacheTTL:  cfg.Dedup.DefaultCacheTTL,
		BatchConcurrency: int64(cfg.Dedup.BatchConcurrency),
	}, logger.Named("dedup"))

	e.promote = promote.NewEngine(l1, logger.Named("promote"))

	prefetchCfg := prefetch.DefaultConfig()
	prefetchCfg.TickInterval = cfg.Prefetch.TickInterval
	prefetchCfg.BatchSize = cfg.Prefetch.BatchSize
	prefetchCfg.MaxPredictionWindow = cfg.Prefetch.MaxPredictionWindow
	e.prefetch = prefetch.NewEngine(storeFetcher{backend: backend}, prefetchCfg, logger.Named("prefetch"))
	if cfg.Prefetch.Enabled {
		e.prefetch.Start()
	}

	batchCfg := batch.DefaultConfig()
	batchCfg.MaxConcurrency = cfg.Batch.MaxConcurrency
	e.batch = batch.NewScheduler(backend, batchCfg, logger.Named("batch"))
	e.batch.SetMetrics(collector)
	if err := e.batch.Start(); err != nil {
		return nil, err
	}

	e.breakers = circuit.NewManager(circuit.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		SuccessThreshold: uint32(cfg.Breaker.SuccessThreshold),
		Timeout:          cfg.Breaker.Timeout,
		OnStateChange: func(name string, from, to circuit.State) {
			collector.RecordBreakerState(name, to.String())
			logger.Info("breaker state changed",
				zap.String("origin", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return e, nil
}

// Close stops all background loops, draining pending batches first
func (e *Engine) Close() error {
	err := e.batch.Stop()
	e.prefetch.Stop()
	e.dedup.Close()
	e.l1.Close()
	return err
}

// Read returns the value for key, trying the side cache, the memory tier,
// the durable store and finally the origin loader. Concurrently overlapping
// reads of the same key coalesce into one upstream invocation.
func (e *Engine) Read(ctx context.Context, key string, opts ReadOptions) (types.ReadResult, error) {
	start := time.Now()
	result, err := e.read(ctx, key, opts)
	e.metrics.RecordOperation("read", time.Since(start), err == nil && result.Success)
	return result, err
}

func (e *Engine) read(ctx context.Context, key string, opts ReadOptions) (types.ReadResult, error) {
	var source types.Source
	var cached bool

	data, outcome, err := e.dedup.Execute(ctx, key, func(ctx context.Context) ([]byte, error) {
		d, src, c, err := e.readTiers(ctx, key, opts)
		source, cached = src, c
		return d, err
	}, dedup.Options{ForceRefresh: opts.ForceRefresh})

	if err != nil {
		return types.ReadResult{}, err
	}
	if outcome != dedup.OutcomeExecuted {
		source, cached = types.SourceDedup, true
		e.metrics.RecordDedup(true)
	} else {
		e.metrics.RecordDedup(false)
	}

	if data == nil {
		return types.ReadResult{Success: false, Source: source}, nil
	}
	return types.ReadResult{Success: true, Data: data, Cached: cached, Source: source}, nil
}

// readTiers walks the tiers for one coalesced read. A (nil, nil) return is
// a clean miss.
func (e *Engine) readTiers(ctx context.Context, key string, opts ReadOptions) ([]byte, types.Source, bool, error) {
	namespace := namespaceOf(key)
	ns := e.cfg.Namespace(namespace)

	if data, ok := e.prefetch.Lookup(key); ok {
		e.metrics.RecordTierHit("prefetch")
		e.prefetch.RecordAccess(key, namespace, ns)
		return data, types.SourcePrefetch, true, nil
	}

	data, outcome := e.l1.Get(key)
	switch outcome {
	case cache.Hit:
		e.metrics.RecordTierHit("l1")
		e.prefetch.RecordAccess(key, namespace, ns)
		return data, types.SourceL1, true, nil
	case cache.Stale:
		// Serve the stale value and refresh in the background.
		e.metrics.RecordTierHit("l1")
		e.prefetch.RecordAccess(key, namespace, ns)
		if opts.Origin != nil {
			go e.refresh(key, opts)
		}
		return data, types.SourceL1, true, nil
	}
	e.metrics.RecordTierMiss("l1")

	data, err := e.store.Get(ctx, key)
	if err != nil {
		if opts.Origin == nil {
			return nil, "", false, err
		}
		// Degrade to the origin; the router already logged the failure.
		data = nil
	}
	if data != nil {
		e.metrics.RecordTierHit("l2")
		source := storeSource(e.store)
		e.maybePromote(key, namespace, ns, data)
		e.prefetch.RecordAccess(key, namespace, ns)
		return data, source, true, nil
	}
	e.metrics.RecordTierMiss("l2")

	if opts.Origin == nil {
		e.prefetch.RecordMiss(key)
		return nil, "", false, nil
	}

	breaker := e.breakers.GetBreaker(namespace)
	data, err = breaker.Call(ctx, opts.Origin)
	if err != nil {
		e.prefetch.RecordMiss(key)
		return nil, "", false, err
	}

	e.maybePromote(key, namespace, ns, data)
	e.scheduleStoreWrite(key, data, opts.TTL, namespace, ns)
	e.prefetch.RecordAccess(key, namespace, ns)
	return data, types.SourceOrigin, false, nil
}

// refresh reloads an L1-stale key through the normal coalesced path
func (e *Engine) refresh(key string, opts ReadOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Dedup.DefaultTimeout)
	defer cancel()

	opts.ForceRefresh = true
	if _, err := e.read(ctx, key, opts); err != nil {
		e.logger.Warn("stale refresh failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// maybePromote asks the promotion engine whether a slower-tier value should
// warm the memory tier
func (e *Engine) maybePromote(key, namespace string, ns config.NamespaceConfig, data []byte) {
	pctx := promote.Context{
		Key:             key,
		Namespace:       namespace,
		Value:           data,
		SizeBytes:       int64(len(data)),
		NamespaceConfig: ns,
	}
	if p, ok := e.prefetch.Pattern(key); ok {
		pctx.AccessCount = p.AccessCount
		pctx.FirstAccessAt = p.FirstAccessAt
		pctx.LastAccessAt = p.LastAccessAt
	}

	decision := e.promote.Evaluate(pctx)
	if decision.ShouldPromote {
		e.l1.SetWithGrace(key, data, decision.EstimatedLifespan, e.cfg.Memory.GracePeriod)
	}
}

// scheduleStoreWrite warms the durable tier off the read path
func (e *Engine) scheduleStoreWrite(key string, data []byte, ttl time.Duration, namespace string, ns config.NamespaceConfig) {
	if ttl <= 0 {
		ttl = e.cfg.Store.Redis.DefaultTTL
	}
	e.batch.ScheduleWrite(key, data, ttl, namespace, nsPriority(ns), nil)
}

// Write stores the value in the memory tier and schedules the durable put.
// With Verify set, the put is synchronous and the read-back is compared;
// a mismatch returns false without an error.
func (e *Engine) Write(ctx context.Context, key string, data []byte, opts WriteOptions) (bool, error) {
	start := time.Now()
	ok, err := e.write(ctx, key, data, opts)
	e.metrics.RecordOperation("write", time.Since(start), err == nil && ok)
	return ok, err
}

func (e *Engine) write(ctx context.Context, key string, data []byte, opts WriteOptions) (bool, error) {
	namespace := namespaceOf(key)
	ns := e.cfg.Namespace(namespace)

	l1TTL := ns.L1TTL
	if l1TTL <= 0 {
		l1TTL = e.cfg.Memory.DefaultTTL
	}
	e.l1.SetWithGrace(key, data, l1TTL, e.cfg.Memory.GracePeriod)
	e.dedup.Invalidate(key)
	e.prefetch.RecordAccess(key, namespace, ns)

	storeTTL := opts.TTL
	if storeTTL <= 0 {
		storeTTL = e.cfg.Store.Redis.DefaultTTL
	}

	if opts.Verify {
		if err := e.store.Put(ctx, key, data, storeTTL); err != nil {
			return false, err
		}
		stored, err := e.store.Get(ctx, key)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(stored, data) {
			e.logger.Error("write verification mismatch",
				zap.String("key", key),
				zap.Int("written", len(data)),
				zap.Int("read_back", len(stored)))
			return false, nil
		}
		return true, nil
	}

	priority := opts.Priority
	if priority == "" {
		priority = nsPriority(ns)
	}
	e.batch.ScheduleWrite(key, data, storeTTL, namespace, priority, func(_ []byte, err error) {
		if err != nil {
			e.logger.Warn("durable write failed",
				zap.String("key", key),
				zap.Error(err))
		}
	})
	return true, nil
}

// Invalidate removes every key with the given prefix from the memory tier
// and the durable store, returning the number of entries removed
func (e *Engine) Invalidate(ctx context.Context, pattern string) (int, error) {
	start := time.Now()
	count, err := e.invalidate(ctx, pattern)
	e.metrics.RecordOperation("invalidate", time.Since(start), err == nil)
	return count, err
}

func (e *Engine) invalidate(ctx context.Context, pattern string) (int, error) {
	count := e.l1.Delete(pattern)

	cursor := ""
	for {
		page, err := e.store.List(ctx, pattern, cursor)
		if err != nil {
			if tcerrors.IsCode(err, tcerrors.ErrCodeCapabilityGap) {
				e.logger.Warn("store cannot list, durable entries not invalidated",
					zap.String("pattern", pattern))
				return count, nil
			}
			return count, err
		}
		for _, key := range page.Keys {
			if err := e.store.Delete(ctx, key); err != nil {
				return count, err
			}
			count++
			e.dedup.Invalidate(key)
		}
		if page.Complete {
			return count, nil
		}
		cursor = page.Cursor
	}
}

// Stats returns a snapshot of every component's counters
func (e *Engine) Stats() Stats {
	return Stats{
		L1:       e.l1.Stats(),
		Dedup:    e.dedup.Stats(),
		Batch:    e.batch.Stats(),
		Promote:  e.promote.Stats(),
		Prefetch: e.prefetch.Stats(),
		Breakers: e.breakers.GetStats(),
	}
}

// Health reports the store backend's health
func (e *Engine) Health(ctx context.Context) (types.HealthStatus, error) {
	return e.store.Health(ctx)
}

// storeFetcher adapts the store backend to the prefetch Fetcher contract
type storeFetcher struct {
	backend types.Backend
}

func (f storeFetcher) Fetch(ctx context.Context, keys []string) (map[string][]byte, error) {
	results := make(map[string][]byte, len(keys))
	for _, key := range keys {
		data, err := f.backend.Get(ctx, key)
		if err != nil {
			return results, err
		}
		if data != nil {
			results[key] = data
		}
	}
	return results, nil
}

func storeSource(backend types.Backend) types.Source {
	if strings.Contains(backend.Name(), "coordinator") {
		return types.SourceCoordinator
	}
	return types.SourceL2
}

func nsPriority(ns config.NamespaceConfig) types.Priority {
	switch ns.Priority {
	case "high":
		return types.PriorityHigh
	case "low":
		return types.PriorityLow
	default:
		return types.PriorityMedium
	}
}

// namespaceOf derives the namespace from the key's first segment
func namespaceOf(key string) string {
	if i := strings.Index(key, ":"); i > 0 {
		return key[:i]
	}
	return "default"
}
