package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/pkg/types"
)

// Outcome classifies the result of a cache lookup. Stale is distinct from
// Miss: the entry's TTL has passed but its grace window has not, so callers
// may serve the value while scheduling a refresh.
type Outcome int

const (
	Miss Outcome = iota
	Hit
	Stale
)

// String returns string representation of the lookup outcome
func (o Outcome) String() string {
	switch o {
	case Hit:
		return "HIT"
	case Stale:
		return "STALE"
	case Miss:
		return "MISS"
	default:
		return "UNKNOWN"
	}
}

// Config represents bounded memory cache configuration
type Config struct {
	MaxMemoryBytes  int64         `yaml:"max_memory_bytes"`
	MaxEntries      int           `yaml:"max_entries"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	GracePeriod     time.Duration `yaml:"grace_period"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// OnEvict is called with the victim's key after each eviction. It runs
	// under the cache lock and must not call back into the cache.
	OnEvict func(key string) `yaml:"-"`
}

// memEntry represents an item in the cache
type memEntry struct {
	key            string
	data           []byte
	size           int64
	createdAt      time.Time
	expiresAt      time.Time
	graceExpiresAt time.Time
	accessTime     time.Time
	accessCount    int64
	weight         float64
	element        *list.Element
}

// listEntry represents the value stored in the recency list element
type listEntry struct {
	key string
}

// MemoryCache implements the bounded in-process cache tier (L1). It enforces
// both an entry-count cap and a memory-budget cap, evicting by a weighted
// recency/size policy before admitting new entries. Entries are exclusively
// owned: data is copied in on Set and copied out on Get.
type MemoryCache struct {
	mu           sync.RWMutex
	config       *Config
	items        map[string]*memEntry
	evictList    *list.List
	currentBytes int64
	stats        types.CacheStats
	logger       *zap.Logger

	stopCh chan struct{}
	closed bool
}

// NewMemoryCache creates a new bounded memory cache
func NewMemoryCache(config *Config, logger *zap.Logger) *MemoryCache {
	if config == nil {
		config = &Config{
			MaxMemoryBytes:  256 * 1024 * 1024, // 256MB
			MaxEntries:      100000,
			DefaultTTL:      5 * time.Minute,
			GracePeriod:     0,
			CleanupInterval: time.Minute,
		}
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &MemoryCache{
		config:    config,
		items:     make(map[string]*memEntry),
		evictList: list.New(),
		logger:    logger,
		stats: types.CacheStats{
			Capacity: config.MaxMemoryBytes,
		},
		stopCh: make(chan struct{}),
	}

	go c.cleanupExpired()

	return c
}

// Get retrieves a copy of the cached value. The Outcome distinguishes a
// fresh hit, a stale-but-in-grace hit, and a miss. Every access updates the
// recency metadata used for eviction.
func (c *MemoryCache) Get(key string) ([]byte, Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		c.updateHitRate()
		return nil, Miss
	}

	now := time.Now()
	if now.After(entry.graceExpiresAt) {
		c.removeEntry(key)
		c.stats.Misses++
		c.updateHitRate()
		return nil, Miss
	}

	entry.accessTime = now
	entry.accessCount++
	entry.weight = c.calculateWeight(entry)
	c.evictList.MoveToFront(entry.element)

	result := make([]byte, len(entry.data))
	copy(result, entry.data)

	if now.After(entry.expiresAt) {
		c.stats.StaleHits++
		c.updateHitRate()
		return result, Stale
	}

	c.stats.Hits++
	c.updateHitRate()
	return result, Hit
}

// Set stores a value with the given TTL and the configured grace period.
func (c *MemoryCache) Set(key string, data []byte, ttl time.Duration) {
	c.SetWithGrace(key, data, ttl, c.config.GracePeriod)
}

// SetWithGrace stores a value with an explicit grace window appended after
// TTL expiry during which Get reports Stale instead of Miss.
// Empty values are stored like any other; a zero-byte payload is a valid
// cached value, not a miss.
func (c *MemoryCache) SetWithGrace(key string, data []byte, ttl, grace time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if grace < 0 {
		grace = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	size := int64(len(data))

	if entry, exists := c.items[key]; exists {
		c.currentBytes -= entry.size
		entry.data = make([]byte, len(data))
		copy(entry.data, data)
		entry.size = size
		entry.createdAt = now
		entry.expiresAt = now.Add(ttl)
		entry.graceExpiresAt = now.Add(ttl + grace)
		entry.accessTime = now
		entry.accessCount++
		entry.weight = c.calculateWeight(entry)
		c.currentBytes += size
		c.evictList.MoveToFront(entry.element)
		c.evictIfNeeded()
		return
	}

	entry := &memEntry{
		key:            key,
		data:           make([]byte, len(data)),
		size:           size,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		graceExpiresAt: now.Add(ttl + grace),
		accessTime:     now,
		accessCount:    1,
	}
	copy(entry.data, data)
	entry.weight = c.calculateWeight(entry)

	entry.element = c.evictList.PushFront(&listEntry{key: key})
	c.items[key] = entry
	c.currentBytes += size

	c.evictIfNeeded()
}

// Delete removes all entries whose key has the given prefix and returns the
// number removed. Namespace invalidation passes a "ns:" prefix.
func (c *MemoryCache) Delete(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keysToDelete []string
	for key := range c.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keysToDelete = append(keysToDelete, key)
		}
	}

	for _, key := range keysToDelete {
		c.removeEntry(key)
	}
	return len(keysToDelete)
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Entries = len(c.items)
	stats.MemoryBytes = c.currentBytes
	if c.config.MaxMemoryBytes > 0 {
		stats.Utilization = float64(c.currentBytes) / float64(c.config.MaxMemoryBytes)
	}
	return stats
}

// EntryCount returns the number of live entries
func (c *MemoryCache) EntryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// MemoryBytes returns the current estimated memory footprint
func (c *MemoryCache) MemoryBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentBytes
}

// MaxMemoryBytes returns the configured memory budget
func (c *MemoryCache) MaxMemoryBytes() int64 {
	return c.config.MaxMemoryBytes
}

// MaxEntries returns the configured entry cap
func (c *MemoryCache) MaxEntries() int {
	return c.config.MaxEntries
}

// Clear removes every entry
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*memEntry)
	c.evictList.Init()
	c.currentBytes = 0
}

// Close stops the background cleanup loop
func (c *MemoryCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.stopCh)
}

// Helper methods

func (c *MemoryCache) calculateWeight(entry *memEntry) float64 {
	recencyFactor := 1.0 / (1.0 + time.Since(entry.accessTime).Seconds()/3600.0)
	frequencyFactor := float64(entry.accessCount)
	sizeFactor := 1.0 / (1.0 + float64(entry.size)/1024.0/1024.0) // smaller entries weigh more

	return recencyFactor * frequencyFactor * sizeFactor
}

func (c *MemoryCache) removeEntry(key string) {
	entry, exists := c.items[key]
	if !exists {
		return
	}

	if entry.element != nil {
		c.evictList.Remove(entry.element)
	}
	delete(c.items, key)
	c.currentBytes -= entry.size
}

func (c *MemoryCache) evictIfNeeded() {
	for c.currentBytes > c.config.MaxMemoryBytes && c.evictList.Len() > 0 {
		c.evictLowestWeight()
	}

	if c.config.MaxEntries > 0 {
		for len(c.items) > c.config.MaxEntries && c.evictList.Len() > 0 {
			c.evictLowestWeight()
		}
	}
}

// evictLowestWeight removes the least valuable entry, scanning the tail of
// the recency list so hot entries near the front are never considered.
func (c *MemoryCache) evictLowestWeight() {
	const scanDepth = 8

	var victim *memEntry
	element := c.evictList.Back()
	for i := 0; i < scanDepth && element != nil; i++ {
		entry := c.items[element.Value.(*listEntry).key]
		if entry == nil {
			next := element.Prev()
			c.evictList.Remove(element)
			element = next
			continue
		}
		if victim == nil || entry.weight < victim.weight {
			victim = entry
		}
		element = element.Prev()
	}

	if victim == nil {
		return
	}

	c.removeEntry(victim.key)
	c.stats.Evictions++
	if c.config.OnEvict != nil {
		c.config.OnEvict(victim.key)
	}
}

func (c *MemoryCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses + c.stats.StaleHits
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits+c.stats.StaleHits) / float64(total)
	}
}

func (c *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			var expiredKeys []string
			for key, entry := range c.items {
				if now.After(entry.graceExpiresAt) {
					expiredKeys = append(expiredKeys, key)
				}
			}
			for _, key := range expiredKeys {
				c.removeEntry(key)
			}
			c.mu.Unlock()

			if len(expiredKeys) > 0 {
				c.logger.Debug("expired entries swept",
					zap.Int("count", len(expiredKeys)))
			}
		}
	}
}
