// Package cache implements the process-local result cache: TTL per entry,
// LRU access order, byte-size accounting with a global budget, a periodic
// expiry sweep and memory-pressure eviction.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/telemetry"
)

// Options configures a Cache.
type Options struct {
	// Name labels the cache in logs and metrics.
	Name       string
	MaxBytes   int64
	MaxEntries int
	DefaultTTL time.Duration
	SweepEvery time.Duration
}

var DefaultOptions = Options{
	Name:       "stream",
	MaxBytes:   64 * 1024 * 1024,
	MaxEntries: 1000,
	DefaultTTL: 30 * time.Minute,
	SweepEvery: 5 * time.Minute,
}

// Entry is one cached value with its bookkeeping.
type Entry struct {
	Value        interface{}
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessAt time.Time
	Size         int64
	ContentType  string
	Metadata     map[string]string
}

type cacheEntry struct {
	Entry
	key     string
	element *list.Element // position in the LRU list
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Entries   int
	BytesUsed int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a mutex-guarded key-value store with TTL, LRU eviction and a byte
// budget. Operations never block on I/O. A background sweeper removes expired
// entries and relieves memory pressure; Stop shuts it down idempotently.
type Cache struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*cacheEntry
	// lru orders entries by last access, oldest at the front.
	lru       *list.List
	bytesUsed int64

	hits      uint64
	misses    uint64
	evictions uint64

	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once

	now func() time.Time // swappable for tests
}

// New creates a cache and starts its sweeper.
func New(opts Options, logger *zap.Logger) *Cache {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultOptions.MaxBytes
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions.MaxEntries
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultOptions.DefaultTTL
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = DefaultOptions.SweepEvery
	}
	if opts.Name == "" {
		opts.Name = DefaultOptions.Name
	}
	c := &Cache{
		opts:    opts,
		entries: map[string]*cacheEntry{},
		lru:     list.New(),
		logger:  logger,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go c.sweepLoop()
	return c
}

// Get returns the live value for the key. Expired entries are treated as
// misses (and dropped). A hit refreshes the entry's access time.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		telemetry.CacheMisses.WithLabelValues(c.opts.Name).Inc()
		return nil, false
	}
	if !entry.ExpiresAt.After(c.now()) {
		c.removeLocked(entry, "expired")
		c.misses++
		telemetry.CacheMisses.WithLabelValues(c.opts.Name).Inc()
		return nil, false
	}
	entry.LastAccessAt = c.now()
	c.lru.MoveToBack(entry.element)
	c.hits++
	telemetry.CacheHits.WithLabelValues(c.opts.Name).Inc()
	return entry.Value, true
}

// GetStale returns the value for the key even if it already expired, as long
// as the sweeper hasn't collected it yet. Used as a degradation fallback when
// the fresh source is unavailable. Access time is not refreshed.
func (c *Cache) GetStale(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Set stores a value under the key with the given TTL (the default TTL when
// ttl <= 0), evicting as needed to keep the byte and entry budgets.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration, contentType string, metadata map[string]string) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	size := approximateSize(value)
	if size > c.opts.MaxBytes {
		c.logger.Warn("Value exceeds the cache byte budget, not caching",
			zap.String("cache", c.opts.Name), zap.String("key", key), zap.Int64("size", size))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace any existing entry for the key first so its size doesn't count
	// against the admission projection.
	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing, "replaced")
	}

	// Evict until admitting the entry projects to at most 80% of the byte
	// budget, then respect the entry count budget.
	if c.bytesUsed+size > c.opts.MaxBytes {
		target := int64(float64(c.opts.MaxBytes)*0.8) - size
		for c.bytesUsed > target && c.lru.Len() > 0 {
			c.evictOldestLocked("lru")
		}
	}
	if len(c.entries) >= c.opts.MaxEntries {
		c.evictOldestLocked("lru")
	}

	now := c.now()
	entry := &cacheEntry{
		Entry: Entry{
			Value:        value,
			CreatedAt:    now,
			ExpiresAt:    now.Add(ttl),
			LastAccessAt: now,
			Size:         size,
			ContentType:  contentType,
			Metadata:     metadata,
		},
		key: key,
	}
	entry.element = c.lru.PushBack(entry)
	c.entries[key] = entry
	c.bytesUsed += size
}

// Has reports whether a live entry exists for the key, evicting it when it
// turns out to be expired. The access time is not refreshed.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if !entry.ExpiresAt.After(c.now()) {
		c.removeLocked(entry, "expired")
		return false
	}
	return true
}

// Delete removes the entry for the key, if any.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		c.removeLocked(entry, "deleted")
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*cacheEntry{}
	c.lru.Init()
	c.bytesUsed = 0
}

// Sweep removes all expired entries immediately and returns how many were
// dropped. This is what POST /api/cache/clean triggers.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		BytesUsed: c.bytesUsed,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Stop terminates the background sweeper. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.opts.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			removed := c.sweepLocked()
			// Memory pressure: above 90% of the budget, shed ~10% of the
			// entries in LRU order.
			if c.bytesUsed > int64(float64(c.opts.MaxBytes)*0.9) {
				shed := len(c.entries) / 10
				if shed < 1 {
					shed = 1
				}
				for i := 0; i < shed && c.lru.Len() > 0; i++ {
					c.evictOldestLocked("pressure")
				}
			}
			entries, bytesUsed := len(c.entries), c.bytesUsed
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Debug("Cache sweep finished",
					zap.String("cache", c.opts.Name),
					zap.Int("removed", removed),
					zap.Int("entries", entries),
					zap.Int64("bytesUsed", bytesUsed))
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweepLocked() int {
	now := c.now()
	removed := 0
	for _, entry := range c.entries {
		if !entry.ExpiresAt.After(now) {
			c.removeLocked(entry, "expired")
			removed++
		}
	}
	return removed
}

func (c *Cache) evictOldestLocked(reason string) {
	front := c.lru.Front()
	if front == nil {
		return
	}
	c.removeLocked(front.Value.(*cacheEntry), reason)
	c.evictions++
}

func (c *Cache) removeLocked(entry *cacheEntry, reason string) {
	delete(c.entries, entry.key)
	c.lru.Remove(entry.element)
	c.bytesUsed -= entry.Size
	if reason != "deleted" && reason != "replaced" {
		telemetry.CacheEvictions.WithLabelValues(c.opts.Name, reason).Inc()
	}
}

const entryOverhead = 64

// approximateSize estimates the in-memory footprint of a value: fixed sizes
// for scalars, two bytes per character for strings, serialized size for
// structured values, plus a small fixed overhead per entry.
func approximateSize(value interface{}) int64 {
	var size int64
	switch v := value.(type) {
	case nil:
		size = 0
	case bool:
		size = 4
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		size = 8
	case string:
		size = int64(2 * len(v))
	case []byte:
		size = int64(len(v))
	default:
		if serialized, err := json.Marshal(v); err == nil {
			size = int64(len(serialized))
		} else {
			size = 256
		}
	}
	return size + entryOverhead
}
