package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"auth-service/internal/audit"
	"auth-service/internal/logger"
	"auth-service/internal/metrics"
	"auth-service/internal/models"
)

type memoryEntry struct {
	data      []byte
	createdAt time.Time
	expires   time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !now.Before(e.expires)
}

// MemoryCache is the in-process fallback cache. Both tiers are bounded:
// the primary tier evicts oldest-by-insertion past maxEntries, the stale
// tier past 2x maxEntries.
type MemoryCache struct {
	mu       sync.Mutex
	primary  map[string]*memoryEntry
	stale    map[string]*memoryEntry
	maxEntries int
	ttl      time.Duration
	staleTTL time.Duration

	hits         int64
	misses       int64
	totalLatency time.Duration
	ops          int64
}

// NewMemoryCache creates a local cache with the given primary TTL. Stale
// entries live 24x longer than primary ones.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryCache{
		primary:    make(map[string]*memoryEntry),
		stale:      make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		staleTTL:   ttl * 24,
	}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(ctx context.Context, key string) []byte {
	start := time.Now()
	defer c.recordLatency("get", start)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.primary[key]
	if !ok {
		c.misses++
		metrics.RecordCacheMiss(StrategyLocalMemory)
		return nil
	}
	if entry.expired(time.Now()) {
		delete(c.primary, key)
		c.misses++
		metrics.RecordCacheMiss(StrategyLocalMemory)
		return nil
	}

	c.hits++
	metrics.RecordCacheHit(StrategyLocalMemory)
	return entry.data
}

func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	start := time.Now()
	defer c.recordLatency("set", start)

	data, err := json.Marshal(value)
	if err != nil {
		logger.HandledError(ctx, "memory_cache", "set", "business", false, err)
		metrics.RecordCacheError("set", "business")
		return
	}

	if consumerID, stored, violated := violatesPollutionGuard(key, data); violated {
		metrics.RecordPollutionPrevention()
		audit.LogPollutionPrevented(ctx, key, consumerID, stored)
		return
	}

	if ttl <= 0 {
		ttl = c.ttl
	}
	now := time.Now()
	primaryExpires := now.Add(ttl)
	staleExpires := now.Add(c.staleTTL)
	if staleExpires.Before(primaryExpires) {
		staleExpires = primaryExpires
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.primary[key] = &memoryEntry{data: data, createdAt: now, expires: primaryExpires}
	c.stale[key] = &memoryEntry{data: data, createdAt: now, expires: staleExpires}

	evictOldest(c.primary, c.maxEntries)
	evictOldest(c.stale, 2*c.maxEntries)
}

func (c *MemoryCache) Delete(ctx context.Context, key string) {
	start := time.Now()
	defer c.recordLatency("delete", start)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.primary, key)
}

func (c *MemoryCache) Clear(ctx context.Context) {
	start := time.Now()
	defer c.recordLatency("clear", start)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.primary = make(map[string]*memoryEntry)
}

func (c *MemoryCache) GetStale(ctx context.Context, key string) []byte {
	start := time.Now()
	defer c.recordLatency("get_stale", start)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.stale[key]
	if !ok {
		return nil
	}
	if entry.expired(time.Now()) {
		delete(c.stale, key)
		return nil
	}
	return entry.data
}

func (c *MemoryCache) SetStale(ctx context.Context, key string, value interface{}) {
	start := time.Now()
	defer c.recordLatency("set_stale", start)

	data, err := json.Marshal(value)
	if err != nil {
		logger.HandledError(ctx, "memory_cache", "set_stale", "business", false, err)
		return
	}
	if consumerID, stored, violated := violatesPollutionGuard(key, data); violated {
		metrics.RecordPollutionPrevention()
		audit.LogPollutionPrevented(ctx, key, consumerID, stored)
		return
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[key] = &memoryEntry{data: data, createdAt: now, expires: now.Add(c.staleTTL)}
	evictOldest(c.stale, 2*c.maxEntries)
}

func (c *MemoryCache) DeleteStale(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stale, key)
}

func (c *MemoryCache) ClearStale(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = make(map[string]*memoryEntry)
}

func (c *MemoryCache) GetStats(ctx context.Context) *models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	active := 0
	for _, entry := range c.primary {
		if !entry.expired(now) {
			active++
		}
	}

	avgLatency := 0.0
	if c.ops > 0 {
		avgLatency = float64(c.totalLatency.Milliseconds()) / float64(c.ops)
	}

	return &models.CacheStats{
		Strategy:      StrategyLocalMemory,
		Entries:       len(c.primary),
		ActiveEntries: active,
		StaleEntries:  len(c.stale),
		HitRate:       formatHitRate(c.hits, c.misses),
		AvgLatencyMs:  avgLatency,
	}
}

func (c *MemoryCache) Close() error {
	return nil
}

func (c *MemoryCache) recordLatency(operation string, start time.Time) {
	elapsed := time.Since(start)
	metrics.RecordCacheOperation(operation, StrategyLocalMemory, elapsed)

	c.mu.Lock()
	c.totalLatency += elapsed
	c.ops++
	c.mu.Unlock()
}

// evictOldest removes oldest-by-createdAt entries until the map fits.
func evictOldest(entries map[string]*memoryEntry, max int) {
	for len(entries) > max {
		var oldestKey string
		var oldest time.Time
		for key, entry := range entries {
			if oldestKey == "" || entry.createdAt.Before(oldest) {
				oldestKey = key
				oldest = entry.createdAt
			}
		}
		delete(entries, oldestKey)
	}
}
