// Package batch buffers store operations and flushes them in priority-grouped
// batches: each (type, namespace, priority) group flushes when it reaches a
// priority-specific size threshold or age threshold, whichever comes first.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/retry"
	"github.com/tiercache/tiercache/pkg/types"
)

// OpType defines the type of batched store operation
type OpType int

const (
	OpRead OpType = iota
	OpWrite
	OpDelete
)

// String returns string representation of operation type
func (ot OpType) String() string {
	switch ot {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Item represents one buffered store operation. Callback receives the item's
// individual outcome; sibling failures never abort it.
type Item struct {
	ID         string
	Type       OpType
	Key        string
	Payload    []byte
	TTL        time.Duration
	Namespace  string
	Priority   types.Priority
	EnqueuedAt time.Time
	Callback   func(data []byte, err error)
}

// Threshold holds the flush triggers for one priority class
type Threshold struct {
	MaxSize int           `yaml:"max_size"`
	MaxWait time.Duration `yaml:"max_wait"`
}

// Config represents batch scheduler configuration
type Config struct {
	Thresholds      map[types.Priority]Threshold `yaml:"thresholds"`
	MaxConcurrency  int                          `yaml:"max_concurrency"`
	CleanupInterval time.Duration                `yaml:"cleanup_interval"`
	StaleAge        time.Duration                `yaml:"stale_age"`
	Retry           retry.Config                 `yaml:"retry"`
}

// DefaultConfig returns the default per-priority thresholds
func DefaultConfig() *Config {
	return &Config{
		Thresholds: map[types.Priority]Threshold{
			types.PriorityHigh:   {MaxSize: 5, MaxWait: 100 * time.Millisecond},
			types.PriorityMedium: {MaxSize: 10, MaxWait: 500 * time.Millisecond},
			types.PriorityLow:    {MaxSize: 25, MaxWait: 2 * time.Second},
		},
		MaxConcurrency:  8,
		CleanupInterval: time.Minute,
		StaleAge:        5 * time.Minute,
		Retry:           retry.DefaultConfig(),
	}
}

// Stats tracks batch scheduler statistics
type Stats struct {
	TotalItems       int64   `json:"total_items"`
	FlushCount       int64   `json:"flush_count"`
	SizeFlushes      int64   `json:"size_flushes"`
	TimerFlushes     int64   `json:"timer_flushes"`
	FailedItems      int64   `json:"failed_items"`
	ReclaimedItems   int64   `json:"reclaimed_items"`
	AverageBatchSize float64 `json:"average_batch_size"`
	PendingBatches   int     `json:"pending_batches"`
}

// Store executes flushed items against the underlying backend
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type batchKey struct {
	opType    OpType
	namespace string
	priority  types.Priority
}

type pendingBatch struct {
	key   batchKey
	items []*Item
	timer *time.Timer
}

// Scheduler buffers and flushes store operations
type Scheduler struct {
	mu      sync.Mutex
	config  *Config
	store   Store
	batches map[batchKey]*pendingBatch
	stats   Stats
	retryer *retry.Retryer
	metrics types.MetricsCollector
	logger  *zap.Logger

	sem     chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	flushWg sync.WaitGroup
	started bool
}

// NewScheduler creates a batch scheduler over the given store
func NewScheduler(store Store, config *Config, logger *zap.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Thresholds) == 0 {
		config.Thresholds = DefaultConfig().Thresholds
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if config.StaleAge <= 0 {
		config.StaleAge = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		config:  config,
		store:   store,
		batches: make(map[batchKey]*pendingBatch),
		retryer: retry.New(config.Retry),
		logger:  logger,
		sem:     make(chan struct{}, config.MaxConcurrency),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the cleanup loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "batch scheduler already started").
			WithComponent("batch")
	}
	s.started = true

	s.wg.Add(1)
	go s.cleanupLoop()

	return nil
}

// Stop drains every pending batch and waits for in-flight flushes
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.NewError(errors.ErrCodeNotInitialized, "batch scheduler not started").
			WithComponent("batch")
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.FlushAll()
	s.flushWg.Wait()
	s.wg.Wait()
	return nil
}

// ScheduleRead enqueues a read; the result arrives via callback
func (s *Scheduler) ScheduleRead(key, namespace string, priority types.Priority, callback func([]byte, error)) string {
	return s.schedule(&Item{
		Type:      OpRead,
		Key:       key,
		Namespace: namespace,
		Priority:  priority,
		Callback:  callback,
	})
}

// ScheduleWrite enqueues a write
func (s *Scheduler) ScheduleWrite(key string, payload []byte, ttl time.Duration, namespace string, priority types.Priority, callback func([]byte, error)) string {
	data := make([]byte, len(payload))
	copy(data, payload)
	return s.schedule(&Item{
		Type:      OpWrite,
		Key:       key,
		Payload:   data,
		TTL:       ttl,
		Namespace: namespace,
		Priority:  priority,
		Callback:  callback,
	})
}

// ScheduleDelete enqueues a delete
func (s *Scheduler) ScheduleDelete(key, namespace string, priority types.Priority, callback func([]byte, error)) string {
	return s.schedule(&Item{
		Type:      OpDelete,
		Key:       key,
		Namespace: namespace,
		Priority:  priority,
		Callback:  callback,
	})
}

func (s *Scheduler) schedule(item *Item) string {
	item.ID = uuid.NewString()
	item.EnqueuedAt = time.Now()
	if item.Priority == "" {
		item.Priority = types.PriorityMedium
	}

	threshold, ok := s.config.Thresholds[item.Priority]
	if !ok {
		threshold = s.config.Thresholds[types.PriorityMedium]
	}

	key := batchKey{opType: item.Type, namespace: item.Namespace, priority: item.Priority}

	s.mu.Lock()
	s.stats.TotalItems++

	b, exists := s.batches[key]
	if !exists {
		b = &pendingBatch{key: key}
		// The age threshold starts with the batch's first item.
		b.timer = time.AfterFunc(threshold.MaxWait, func() {
			s.flushBatch(key, false)
		})
		s.batches[key] = b
	}
	b.items = append(b.items, item)
	full := len(b.items) >= threshold.MaxSize
	if full {
		// Flush off the caller's goroutine; Stop waits on flushWg.
		s.flushWg.Add(1)
		go func() {
			defer s.flushWg.Done()
			s.flushBatch(key, true)
		}()
	}
	s.mu.Unlock()
	return item.ID
}

// flushBatch removes the batch and executes its items. sizeTriggered
// distinguishes size flushes from timer flushes in the stats.
func (s *Scheduler) flushBatch(key batchKey, sizeTriggered bool) {
	s.mu.Lock()
	b, exists := s.batches[key]
	if !exists {
		s.mu.Unlock()
		return
	}
	delete(s.batches, key)
	if b.timer != nil {
		b.timer.Stop()
	}

	s.stats.FlushCount++
	if sizeTriggered {
		s.stats.SizeFlushes++
	} else {
		s.stats.TimerFlushes++
	}
	if s.stats.FlushCount > 0 {
		s.stats.AverageBatchSize = float64(s.stats.TotalItems) / float64(s.stats.FlushCount)
	}
	items := b.items
	s.mu.Unlock()

	if s.metrics != nil && len(items) > 0 {
		s.metrics.RecordBatchFlush(string(key.priority), len(items), time.Since(items[0].EnqueuedAt))
	}

	s.executeItems(items)
}

// SetMetrics attaches a collector for flush observations. Call before Start.
func (s *Scheduler) SetMetrics(m types.MetricsCollector) {
	s.metrics = m
}

// executeItems runs a flushed batch, each item's outcome captured
// independently so partial failure never aborts siblings.
func (s *Scheduler) executeItems(items []*Item) {
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		s.sem <- struct{}{}
		go func(item *Item) {
			defer wg.Done()
			defer func() { <-s.sem }()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var data []byte
			var err error
			switch item.Type {
			case OpRead:
				data, err = s.store.Get(ctx, item.Key)
			case OpWrite:
				// Mutations retry transient store failures; this is a
				// background path so the backoff cost is acceptable.
				err = s.retryer.Do(ctx, func(ctx context.Context) error {
					return s.store.Put(ctx, item.Key, item.Payload, item.TTL)
				})
			case OpDelete:
				err = s.retryer.Do(ctx, func(ctx context.Context) error {
					return s.store.Delete(ctx, item.Key)
				})
			}

			if err != nil {
				s.mu.Lock()
				s.stats.FailedItems++
				s.mu.Unlock()
				s.logger.Warn("batch item failed",
					zap.String("type", item.Type.String()),
					zap.String("namespace", item.Namespace),
					zap.String("key", item.Key),
					zap.Error(err))
			}
			if item.Callback != nil {
				item.Callback(data, err)
			}
		}(item)
	}
	wg.Wait()
}

// FlushAll forces an immediate drain of every pending batch, flushing
// namespaces in parallel. Used at shutdown.
func (s *Scheduler) FlushAll() {
	s.mu.Lock()
	keys := make([]batchKey, 0, len(s.batches))
	for key := range s.batches {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key batchKey) {
			defer wg.Done()
			s.flushBatch(key, false)
		}(key)
	}
	wg.Wait()
}

// Stats returns current scheduler statistics
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.PendingBatches = len(s.batches)
	return stats
}

// cleanupLoop reclaims batches whose oldest item exceeded the stale age,
// e.g. after a lost flush timer.
func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now()

			s.mu.Lock()
			var stale []batchKey
			for key, b := range s.batches {
				if len(b.items) > 0 && now.Sub(b.items[0].EnqueuedAt) > s.config.StaleAge {
					stale = append(stale, key)
					s.stats.ReclaimedItems += int64(len(b.items))
				}
			}
			s.mu.Unlock()

			for _, key := range stale {
				s.logger.Warn("reclaiming stale batch",
					zap.String("type", key.opType.String()),
					zap.String("namespace", key.namespace),
					zap.String("priority", string(key.priority)))
				s.flushBatch(key, false)
			}
		}
	}
}
