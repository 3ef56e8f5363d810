package cache

import (
	"sync"
	"time"

	"market-dashboard-api/internal/logger"
	"market-dashboard-api/internal/models"
)

// Category partitions for cached market data. Two categories may hold the
// same symbol without colliding.
const (
	CategoryStocks   = "stocks"
	CategoryCryptos  = "cryptos"
	CategoryTrending = "trending"
	CategoryMetadata = "metadata"
)

type entry struct {
	value     interface{}
	category  string
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

type categoryCounters struct {
	hits   int64
	misses int64
	size   int
}

// Cache is an in-memory TTL cache with a capacity bound and
// least-recently-accessed eviction. Entries are keyed by (category, key);
// the internal map key is "category:key" but category membership is
// resolved from the entry itself, so keys containing the separator are safe.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	accessTimes map[string]time.Time
	maxSize     int

	hitCount   int64
	missCount  int64
	categories map[string]*categoryCounters

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	logger      *logger.Logger
}

// New creates a cache and starts its periodic expiry sweep. The sweep is
// advisory; correctness of Get does not depend on it having run. Callers
// own the cache lifecycle and must call Stop on shutdown.
func New(maxSize int, sweepInterval time.Duration, log *logger.Logger) *Cache {
	c := &Cache{
		entries:     make(map[string]*entry),
		accessTimes: make(map[string]time.Time),
		maxSize:     maxSize,
		categories:  make(map[string]*categoryCounters),
		sweepTicker: time.NewTicker(sweepInterval),
		stopSweep:   make(chan struct{}),
		logger:      log,
	}

	go c.sweep()

	return c
}

func fullKey(key, category string) string {
	return category + ":" + key
}

// Get returns the value for (key, category) if present and unexpired.
// An expired entry is removed as a side effect and reported as a miss.
func (c *Cache) Get(key, category string) (interface{}, bool) {
	value, fresh, _ := c.Lookup(key, category)
	if !fresh {
		return nil, false
	}
	return value, true
}

// Lookup behaves like Get but additionally surfaces the value of an entry
// that just expired (fresh=false, present=true), letting callers serve
// stale data when a live refresh fails. The expired entry is still purged
// and still counts as a miss.
func (c *Cache) Lookup(key, category string) (value interface{}, fresh bool, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	full := fullKey(key, category)
	counters := c.counters(category)

	item, ok := c.entries[full]
	if !ok {
		c.missCount++
		counters.misses++
		return nil, false, false
	}

	if item.expired(time.Now()) {
		c.removeLocked(full, item.category)
		c.missCount++
		counters.misses++
		return item.value, false, true
	}

	c.accessTimes[full] = time.Now()
	c.hitCount++
	counters.hits++
	return item.value, true, true
}

// Set inserts or replaces the value for (key, category). A non-positive
// TTL means immediately expired, so nothing is stored. When the cache is
// full and the key is new, the least recently accessed entry is evicted.
func (c *Cache) Set(key, category string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	full := fullKey(key, category)

	if existing, ok := c.entries[full]; ok {
		c.removeLocked(full, existing.category)
	} else if len(c.entries) >= c.maxSize {
		c.evictLeastRecentlyUsedLocked()
	}

	c.entries[full] = &entry{
		value:     value,
		category:  category,
		createdAt: time.Now(),
		ttl:       ttl,
	}
	c.accessTimes[full] = time.Now()
	c.counters(category).size++
}

// Delete removes the entry for (key, category) and reports whether
// anything was removed.
func (c *Cache) Delete(key, category string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	full := fullKey(key, category)
	if item, ok := c.entries[full]; ok {
		c.removeLocked(full, item.category)
		return true
	}
	return false
}

// Clear removes every entry in the given category, or all entries when
// category is empty, returning the number removed.
func (c *Cache) Clear(category string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for full, item := range c.entries {
		if category != "" && item.category != category {
			continue
		}
		c.removeLocked(full, item.category)
		removed++
	}
	return removed
}

// GetBatch returns the present, unexpired subset of keys. Missing keys are
// simply absent from the result.
func (c *Cache) GetBatch(keys []string, category string) map[string]interface{} {
	results := make(map[string]interface{})
	for _, key := range keys {
		if value, ok := c.Get(key, category); ok {
			results[key] = value
		}
	}
	return results
}

// Stats returns a snapshot of cache counters
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := models.CacheStats{
		Size:       len(c.entries),
		MaxSize:    c.maxSize,
		HitCount:   c.hitCount,
		MissCount:  c.missCount,
		Categories: make(map[string]models.CategoryStats, len(c.categories)),
	}
	if total := c.hitCount + c.missCount; total > 0 {
		stats.HitRate = float64(c.hitCount) / float64(total) * 100
	}
	for category, counters := range c.categories {
		stats.Categories[category] = models.CategoryStats{
			Hits:   counters.hits,
			Misses: counters.misses,
			Size:   counters.size,
		}
	}
	return stats
}

// Size returns the current number of entries
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop halts the background sweep goroutine
func (c *Cache) Stop() {
	close(c.stopSweep)
}

func (c *Cache) counters(category string) *categoryCounters {
	counters, ok := c.categories[category]
	if !ok {
		counters = &categoryCounters{}
		c.categories[category] = counters
	}
	return counters
}

func (c *Cache) removeLocked(full, category string) {
	if _, ok := c.entries[full]; ok {
		delete(c.entries, full)
		if counters, ok := c.categories[category]; ok && counters.size > 0 {
			counters.size--
		}
	}
	delete(c.accessTimes, full)
}

// evictLeastRecentlyUsedLocked removes the entry with the oldest access
// timestamp. A no-op on an empty cache.
func (c *Cache) evictLeastRecentlyUsedLocked() {
	var oldestKey string
	var oldestTime time.Time
	for full, accessed := range c.accessTimes {
		if oldestKey == "" || accessed.Before(oldestTime) {
			oldestKey = full
			oldestTime = accessed
		}
	}
	if oldestKey == "" {
		return
	}

	category := "unknown"
	if item, ok := c.entries[oldestKey]; ok {
		category = item.category
	}
	c.removeLocked(oldestKey, category)
}

// sweep periodically removes expired entries so memory stays bounded even
// without reads.
func (c *Cache) sweep() {
	for {
		select {
		case <-c.sweepTicker.C:
			removed := c.removeExpired()
			if removed > 0 {
				c.logger.Debugf("Cache sweep removed %d expired entries", removed)
			}
		case <-c.stopSweep:
			c.sweepTicker.Stop()
			return
		}
	}
}

func (c *Cache) removeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for full, item := range c.entries {
		if item.expired(now) {
			c.removeLocked(full, item.category)
			removed++
		}
	}
	return removed
}
