// Package prefetch predicts upcoming reads from per-key access patterns and
// warms a short-lived side cache ahead of the expected access time.
package prefetch

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/config"
)

// Fetcher loads values for predicted keys in one batched call
type Fetcher interface {
	Fetch(ctx context.Context, keys []string) (map[string][]byte, error)
}

// Config represents prefetch engine configuration
type Config struct {
	TickInterval        time.Duration `yaml:"tick_interval"`
	BatchSize           int           `yaml:"batch_size"`
	MaxPredictionWindow time.Duration `yaml:"max_prediction_window"`
	SideCacheTTL        time.Duration `yaml:"side_cache_ttl"`
	SideCacheMaxAge     time.Duration `yaml:"side_cache_max_age"`
	PatternMaxAge       time.Duration `yaml:"pattern_max_age"`
	PurgeInterval       time.Duration `yaml:"purge_interval"`
	RelatedWindow       time.Duration `yaml:"related_window"`
	MissJitterMax       time.Duration `yaml:"miss_jitter_max"`
}

// DefaultConfig returns the default prefetch configuration
func DefaultConfig() *Config {
	return &Config{
		TickInterval:        time.Second,
		BatchSize:           10,
		MaxPredictionWindow: 5 * time.Minute,
		SideCacheTTL:        5 * time.Minute,
		SideCacheMaxAge:     10 * time.Minute,
		PatternMaxAge:       24 * time.Hour,
		PurgeInterval:       time.Minute,
		RelatedWindow:       30 * time.Second,
		MissJitterMax:       2 * time.Second,
	}
}

// AccessPattern tracks the observed access history for one key
type AccessPattern struct {
	Key             string
	Namespace       string
	AccessCount     int64
	FirstAccessAt   time.Time
	LastAccessAt    time.Time
	AvgInterval     time.Duration
	intervalVarSum  float64 // sum of squared deviations, for regularity
	PrefetchScore   int
	PredictedNextAt time.Time
}

type queueItem struct {
	key          string
	namespace    string
	priority     int
	enqueuedAt   time.Time
	executeAfter time.Time
}

type sideEntry struct {
	data     []byte
	storedAt time.Time
}

// Stats tracks prefetch engine statistics
type Stats struct {
	Patterns       int   `json:"patterns"`
	QueueDepth     int   `json:"queue_depth"`
	SideCacheSize  int   `json:"side_cache_size"`
	Scheduled      int64 `json:"scheduled"`
	Fetched        int64 `json:"fetched"`
	FetchFailures  int64 `json:"fetch_failures"`
	SideCacheHits  int64 `json:"side_cache_hits"`
	RelatedQueued  int64 `json:"related_queued"`
	PatternsPurged int64 `json:"patterns_purged"`
}

// Engine observes accesses, schedules predicted keys and serves prefetched
// values from a short-TTL side cache
type Engine struct {
	mu        sync.Mutex
	config    *Config
	fetcher   Fetcher
	patterns  map[string]*AccessPattern
	queue     []*queueItem
	queued    map[string]bool
	sideCache map[string]*sideEntry
	relations map[string]map[string]int64
	recent    []recentAccess
	stats     Stats
	logger    *zap.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

type recentAccess struct {
	key string
	at  time.Time
}

// NewEngine creates a prefetch engine over the given fetcher
func NewEngine(fetcher Fetcher, cfg *Config, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxPredictionWindow <= 0 {
		cfg.MaxPredictionWindow = 5 * time.Minute
	}
	if cfg.SideCacheTTL <= 0 {
		cfg.SideCacheTTL = 5 * time.Minute
	}
	if cfg.SideCacheMaxAge <= 0 {
		cfg.SideCacheMaxAge = 10 * time.Minute
	}
	if cfg.PatternMaxAge <= 0 {
		cfg.PatternMaxAge = 24 * time.Hour
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		config:    cfg,
		fetcher:   fetcher,
		patterns:  make(map[string]*AccessPattern),
		queued:    make(map[string]bool),
		sideCache: make(map[string]*sideEntry),
		relations: make(map[string]map[string]int64),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background processor and purge loops
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(2)
	go e.processLoop()
	go e.purgeLoop()
}

// Stop halts the background loops
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
}

// RecordAccess updates the key's access pattern and schedules a prefetch
// when the pattern qualifies under the namespace policy
func (e *Engine) RecordAccess(key, namespace string, ns config.NamespaceConfig) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.patterns[key]
	if !exists {
		p = &AccessPattern{
			Key:           key,
			Namespace:     namespace,
			FirstAccessAt: now,
		}
		e.patterns[key] = p
	}

	if p.AccessCount > 0 {
		interval := now.Sub(p.LastAccessAt)
		// Incremental average over observed intervals.
		n := float64(p.AccessCount)
		prevAvg := float64(p.AvgInterval)
		newAvg := prevAvg + (float64(interval)-prevAvg)/n
		p.intervalVarSum += (float64(interval) - prevAvg) * (float64(interval) - newAvg)
		p.AvgInterval = time.Duration(newAvg)
	}
	p.AccessCount++
	// Recency is scored against the previous access; updating the
	// timestamp first would make the sub-score a constant.
	p.PrefetchScore = e.score(p, now)
	p.LastAccessAt = now

	e.recordRelations(key, now)

	threshold := ns.PrefetchThreshold
	if threshold <= 0 {
		threshold = config.DefaultNamespace().PrefetchThreshold
	}
	if p.AccessCount >= int64(threshold) && p.PrefetchScore >= 7 &&
		matchesAny(key, ns.PriorityKeyPatterns) {
		e.scheduleLocked(p, now)
	}
}

// score computes the 0-10 prefetch score from frequency, regularity and
// recency sub-scores
func (e *Engine) score(p *AccessPattern, now time.Time) int {
	score := 0

	// Frequency, 0-5 at access-count thresholds.
	switch {
	case p.AccessCount >= 10:
		score += 5
	case p.AccessCount >= 5:
		score += 4
	case p.AccessCount >= 3:
		score += 2
	}

	// Regularity, 0-3: low interval variance within the hour baseline.
	if p.AccessCount >= 2 && p.AvgInterval > 0 && p.AvgInterval < time.Hour {
		stddev := math.Sqrt(e.variance(p))
		ratio := stddev / float64(p.AvgInterval)
		switch {
		case ratio < 0.1:
			score += 3
		case ratio < 0.25:
			score += 2
		case ratio < 0.5:
			score += 1
		}
	}

	// Recency, 0-2.
	sinceLast := now.Sub(p.LastAccessAt)
	switch {
	case sinceLast < 5*time.Minute:
		score += 2
	case sinceLast < 30*time.Minute:
		score += 1
	}

	return score
}

func (e *Engine) variance(p *AccessPattern) float64 {
	intervals := p.AccessCount - 1
	if intervals < 1 {
		return 0
	}
	return p.intervalVarSum / float64(intervals)
}

// scheduleLocked enqueues the key with a delay derived from its predicted
// next access. Caller holds e.mu.
func (e *Engine) scheduleLocked(p *AccessPattern, now time.Time) {
	if e.queued[p.Key] {
		return
	}
	if _, inCache := e.sideCache[p.Key]; inCache {
		return
	}

	p.PredictedNextAt = p.LastAccessAt.Add(p.AvgInterval)
	delay := time.Duration(0.8 * float64(p.AvgInterval))
	if delay > e.config.MaxPredictionWindow {
		delay = e.config.MaxPredictionWindow
	}

	e.queue = append(e.queue, &queueItem{
		key:          p.Key,
		namespace:    p.Namespace,
		priority:     p.PrefetchScore,
		enqueuedAt:   now,
		executeAfter: now.Add(delay),
	})
	e.queued[p.Key] = true
	e.stats.Scheduled++
}

// recordRelations links the key to other keys accessed within the related
// window, so a miss can warm probable companions. Caller holds e.mu.
func (e *Engine) recordRelations(key string, now time.Time) {
	cutoff := now.Add(-e.config.RelatedWindow)
	kept := e.recent[:0]
	for _, r := range e.recent {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	e.recent = kept

	for _, r := range e.recent {
		if r.key == key {
			continue
		}
		if e.relations[key] == nil {
			e.relations[key] = make(map[string]int64)
		}
		e.relations[key][r.key]++
		if e.relations[r.key] == nil {
			e.relations[r.key] = make(map[string]int64)
		}
		e.relations[r.key][key]++
	}

	e.recent = append(e.recent, recentAccess{key: key, at: now})
}

// RecordMiss enqueues the key's top related keys with randomized jitter
func (e *Engine) RecordMiss(key string) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	related := e.topRelatedLocked(key, 3)
	for _, rel := range related {
		if e.queued[rel] {
			continue
		}
		if _, inCache := e.sideCache[rel]; inCache {
			continue
		}
		jitter := time.Duration(rand.Int63n(int64(e.config.MissJitterMax) + 1))
		priority := 0
		namespace := ""
		if p, ok := e.patterns[rel]; ok {
			priority = p.PrefetchScore
			namespace = p.Namespace
		}
		e.queue = append(e.queue, &queueItem{
			key:          rel,
			namespace:    namespace,
			priority:     priority,
			enqueuedAt:   now,
			executeAfter: now.Add(jitter),
		})
		e.queued[rel] = true
		e.stats.RelatedQueued++
	}
}

// topRelatedLocked returns up to n related keys by co-access count.
// Caller holds e.mu.
func (e *Engine) topRelatedLocked(key string, n int) []string {
	rels := e.relations[key]
	if len(rels) == 0 {
		return nil
	}
	type relCount struct {
		key   string
		count int64
	}
	sorted := make([]relCount, 0, len(rels))
	for k, c := range rels {
		sorted = append(sorted, relCount{key: k, count: c})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].key < sorted[j].key
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	keys := make([]string, len(sorted))
	for i, rc := range sorted {
		keys[i] = rc.key
	}
	return keys
}

// Lookup consults the side cache. A hit consumes the entry so later reads
// of the same key take the normal path again.
func (e *Engine) Lookup(key string) ([]byte, bool) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.sideCache[key]
	if !ok {
		return nil, false
	}
	if now.Sub(entry.storedAt) > e.config.SideCacheTTL {
		delete(e.sideCache, key)
		return nil, false
	}

	delete(e.sideCache, key)
	e.stats.SideCacheHits++

	data := make([]byte, len(entry.data))
	copy(data, entry.data)
	return data, true
}

func (e *Engine) processLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.processTick()
		}
	}
}

// processTick dequeues up to BatchSize due items by (priority desc,
// enqueue time asc) and fetches them in one batch
func (e *Engine) processTick() {
	now := time.Now()

	e.mu.Lock()
	var due []*queueItem
	var pending []*queueItem
	for _, item := range e.queue {
		if item.executeAfter.After(now) {
			pending = append(pending, item)
			continue
		}
		due = append(due, item)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].priority != due[j].priority {
			return due[i].priority > due[j].priority
		}
		return due[i].enqueuedAt.Before(due[j].enqueuedAt)
	})
	if len(due) > e.config.BatchSize {
		pending = append(pending, due[e.config.BatchSize:]...)
		due = due[:e.config.BatchSize]
	}
	e.queue = pending
	keys := make([]string, len(due))
	for i, item := range due {
		keys[i] = item.key
		delete(e.queued, item.key)
	}
	e.mu.Unlock()

	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := e.fetcher.Fetch(ctx, keys)
	if err != nil {
		e.mu.Lock()
		e.stats.FetchFailures += int64(len(keys))
		e.mu.Unlock()
		e.logger.Warn("prefetch batch failed",
			zap.Int("keys", len(keys)),
			zap.Error(err))
		return
	}

	now = time.Now()
	e.mu.Lock()
	for key, data := range results {
		if data == nil {
			continue
		}
		e.sideCache[key] = &sideEntry{data: data, storedAt: now}
		e.stats.Fetched++
	}
	e.mu.Unlock()
}

func (e *Engine) purgeLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.purge()
		}
	}
}

// purge evicts patterns idle past PatternMaxAge and side-cache entries
// older than SideCacheMaxAge
func (e *Engine) purge() {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	for key, p := range e.patterns {
		if now.Sub(p.LastAccessAt) > e.config.PatternMaxAge {
			delete(e.patterns, key)
			delete(e.relations, key)
			e.stats.PatternsPurged++
		}
	}
	for key, entry := range e.sideCache {
		if now.Sub(entry.storedAt) > e.config.SideCacheMaxAge {
			delete(e.sideCache, key)
		}
	}
}

// Pattern returns a copy of the key's access pattern, if tracked
func (e *Engine) Pattern(key string) (AccessPattern, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.patterns[key]
	if !ok {
		return AccessPattern{}, false
	}
	return *p, true
}

// Stats returns current engine statistics
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.stats
	stats.Patterns = len(e.patterns)
	stats.QueueDepth = len(e.queue)
	stats.SideCacheSize = len(e.sideCache)
	return stats
}

func matchesAny(key string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(key, pattern) {
			return true
		}
	}
	return false
}
