package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"auth-service/internal/apierrors"
	"auth-service/internal/audit"
	"auth-service/internal/config"
	"auth-service/internal/logger"
	"auth-service/internal/metrics"
	"auth-service/internal/models"

	"github.com/go-redis/redis/v8"
)

// Key namespaces for the shared backend.
const (
	primaryPrefix = "auth_service:"
	stalePrefix   = "auth_service_stale:"

	scanBatchSize = 100
	ttlSampleSize = 10
)

// RedisCache is the shared Redis/Valkey backend. The connection handle is
// owned here exclusively; the reconnect manager, breaker, and health
// monitor observe it through narrow capabilities.
type RedisCache struct {
	cfg      *config.CachingConfig
	timeouts config.OperationTimeouts

	client    *redis.Client
	breaker   *CacheBreaker
	reconnect *ReconnectManager
	scanner   *ScanIterator
	monitor   *HealthMonitor

	mu     sync.Mutex
	broken bool

	hits         int64
	misses       int64
	totalLatency time.Duration
	ops          int64
}

// NewRedisCache opens the connection, verifies it with PING, and starts
// the health monitor. The client's own retry machinery is disabled: this
// package owns reconnection and fail-fast behaviour.
func NewRedisCache(cfg *config.CachingConfig) (*RedisCache, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, &apierrors.ConfigError{Field: "caching.redisUrl", Reason: err.Error()}
	}
	if cfg.RedisPassword != "" {
		opt.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opt.DB = cfg.RedisDB
	}
	opt.MaxRetries = -1
	opt.DialTimeout = cfg.Resilience.OperationTimeouts.Connect

	r := &RedisCache{
		cfg:       cfg,
		timeouts:  cfg.Resilience.OperationTimeouts,
		client:    redis.NewClient(opt),
		breaker:   NewCacheBreaker(cfg.Resilience.CircuitBreaker),
		reconnect: NewReconnectManager(cfg.Resilience.Reconnect),
	}
	r.scanner = NewScanIterator(r.client, r.timeouts.Scan, 2, 0)

	ctx := context.Background()
	if err := r.connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.monitor = NewHealthMonitor(cfg.Resilience.HealthMonitor, r.ping, r.breaker)
	r.monitor.Start()

	logger.GetLogger().WithField("component", "redis_cache").
		WithField("db", opt.DB).
		Info("Redis connection established")
	return r, nil
}

var _ Cache = (*RedisCache)(nil)

func (r *RedisCache) connect(ctx context.Context) error {
	return withTimeout(ctx, "connect", r.timeouts.Connect, func(opCtx context.Context) error {
		return r.client.Ping(opCtx).Err()
	})
}

func (r *RedisCache) ping(ctx context.Context) error {
	return withTimeout(ctx, "ping", r.timeouts.Ping, func(opCtx context.Context) error {
		return r.client.Ping(opCtx).Err()
	})
}

// execute runs one cache operation through the full resilience stack:
// breaker admission, reconnect-if-broken, per-operation deadline, and
// failure classification.
func (r *RedisCache) execute(ctx context.Context, operation string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if !r.breaker.CanExecute() {
		metrics.RecordCacheBlocked(operation)
		return ErrBreakerOpen
	}

	if err := r.ensureConnected(ctx); err != nil {
		return err
	}

	err := r.breaker.Execute(func() error {
		return withTimeout(ctx, operation, timeout, fn)
	})
	if err != nil {
		r.handleFailure(ctx, operation, err)
	}
	return err
}

func (r *RedisCache) ensureConnected(ctx context.Context) error {
	r.mu.Lock()
	broken := r.broken
	r.mu.Unlock()
	if !broken {
		return nil
	}

	result := r.reconnect.ExecuteReconnect(ctx, r.connect)
	if !result.Success {
		err := result.Err
		if err == nil {
			err = fmt.Errorf("reconnect surrendered after %d attempts", result.Attempts)
		}
		return fmt.Errorf("redis connection unavailable: %w", err)
	}

	r.mu.Lock()
	r.broken = false
	r.mu.Unlock()
	logger.GetLogger().WithField("component", "redis_cache").
		WithField("attempts", result.Attempts).
		Info("Redis connection restored")
	return nil
}

func (r *RedisCache) handleFailure(ctx context.Context, operation string, err error) {
	if err == ErrBreakerOpen {
		return
	}
	classification := apierrors.Classify(err)
	if classification.Category == apierrors.CategoryConnection {
		r.mu.Lock()
		r.broken = true
		r.mu.Unlock()
	}
	metrics.RecordCacheError(operation, string(classification.Category))
	logger.HandledError(ctx, "redis_cache", operation, string(classification.Category), classification.IsRecoverable, err)
}

func (r *RedisCache) Get(ctx context.Context, key string) []byte {
	start := time.Now()
	defer r.recordLatency("get", start)

	var data []byte
	err := r.execute(ctx, "get", r.timeouts.Get, func(opCtx context.Context) error {
		val, getErr := r.client.Get(opCtx, primaryPrefix+key).Bytes()
		if getErr == redis.Nil {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		data = val
		return nil
	})
	if err != nil || data == nil {
		r.recordMiss()
		return nil
	}

	r.recordHit()
	return data
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	start := time.Now()
	defer r.recordLatency("set", start)

	data, err := json.Marshal(value)
	if err != nil {
		logger.HandledError(ctx, "redis_cache", "set", "business", false, err)
		metrics.RecordCacheError("set", "business")
		return
	}

	if consumerID, stored, violated := violatesPollutionGuard(key, data); violated {
		metrics.RecordPollutionPrevention()
		audit.LogPollutionPrevented(ctx, key, consumerID, stored)
		return
	}

	if ttl <= 0 {
		ttl = r.cfg.PrimaryTTL()
	}
	staleTTL := r.cfg.StaleTTL()
	if staleTTL < ttl {
		staleTTL = ttl
	}

	_ = r.execute(ctx, "set", r.timeouts.Set, func(opCtx context.Context) error {
		// Primary first; the stale shadow is only written once the
		// primary write is in place.
		if setErr := r.client.Set(opCtx, primaryPrefix+key, data, ttl).Err(); setErr != nil {
			return setErr
		}
		return r.client.Set(opCtx, stalePrefix+key, data, staleTTL).Err()
	})
}

func (r *RedisCache) Delete(ctx context.Context, key string) {
	start := time.Now()
	defer r.recordLatency("delete", start)

	_ = r.execute(ctx, "delete", r.timeouts.Delete, func(opCtx context.Context) error {
		return r.client.Del(opCtx, primaryPrefix+key).Err()
	})
}

func (r *RedisCache) Clear(ctx context.Context) {
	start := time.Now()
	defer r.recordLatency("clear", start)

	_ = r.execute(ctx, "clear", 0, func(opCtx context.Context) error {
		return r.deleteByPattern(opCtx, primaryPrefix+"*")
	})
}

func (r *RedisCache) GetStale(ctx context.Context, key string) []byte {
	start := time.Now()
	defer r.recordLatency("get_stale", start)

	var data []byte
	err := r.execute(ctx, "get", r.timeouts.Get, func(opCtx context.Context) error {
		val, getErr := r.client.Get(opCtx, stalePrefix+key).Bytes()
		if getErr == redis.Nil {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		data = val
		return nil
	})
	if err != nil {
		return nil
	}
	return data
}

func (r *RedisCache) SetStale(ctx context.Context, key string, value interface{}) {
	start := time.Now()
	defer r.recordLatency("set_stale", start)

	data, err := json.Marshal(value)
	if err != nil {
		logger.HandledError(ctx, "redis_cache", "set_stale", "business", false, err)
		return
	}
	if consumerID, stored, violated := violatesPollutionGuard(key, data); violated {
		metrics.RecordPollutionPrevention()
		audit.LogPollutionPrevented(ctx, key, consumerID, stored)
		return
	}

	_ = r.execute(ctx, "set", r.timeouts.Set, func(opCtx context.Context) error {
		return r.client.Set(opCtx, stalePrefix+key, data, r.cfg.StaleTTL()).Err()
	})
}

func (r *RedisCache) DeleteStale(ctx context.Context, key string) {
	start := time.Now()
	defer r.recordLatency("delete_stale", start)

	_ = r.execute(ctx, "delete", r.timeouts.Delete, func(opCtx context.Context) error {
		return r.client.Del(opCtx, stalePrefix+key).Err()
	})
}

func (r *RedisCache) ClearStale(ctx context.Context) {
	start := time.Now()
	defer r.recordLatency("clear_stale", start)

	_ = r.execute(ctx, "clear", 0, func(opCtx context.Context) error {
		return r.deleteByPattern(opCtx, stalePrefix+"*")
	})
}

// deleteByPattern enumerates matching keys with SCAN and deletes them in
// batches. A full-keyspace KEYS call is never issued.
func (r *RedisCache) deleteByPattern(ctx context.Context, pattern string) error {
	return r.scanner.Iterate(ctx, pattern, scanBatchSize, func(keys []string) error {
		return r.client.Del(ctx, keys...).Err()
	})
}

func (r *RedisCache) GetStats(ctx context.Context) *models.CacheStats {
	stats := &models.CacheStats{Strategy: StrategySharedRedis}

	r.mu.Lock()
	hits, misses := r.hits, r.misses
	avgLatency := 0.0
	if r.ops > 0 {
		avgLatency = float64(r.totalLatency.Milliseconds()) / float64(r.ops)
	}
	r.mu.Unlock()
	stats.HitRate = formatHitRate(hits, misses)
	stats.AvgLatencyMs = avgLatency
	stats.ServerType = r.getServerType(ctx)

	err := r.execute(ctx, "get_stats", 0, func(opCtx context.Context) error {
		result := r.scanner.CollectAll(opCtx, primaryPrefix+"*", scanBatchSize)
		stats.Entries = len(result.Keys)

		// Estimate the active ratio from a bounded TTL sample; TTL
		// failures are counted, not fatal.
		sample := result.Keys
		if len(sample) > ttlSampleSize {
			sample = sample[:ttlSampleSize]
		}
		activeInSample := 0
		for _, key := range sample {
			ttl, ttlErr := r.client.TTL(opCtx, key).Result()
			if ttlErr != nil {
				stats.TTLErrors++
				continue
			}
			if ttl > 0 || ttl == -1 {
				activeInSample++
			}
		}
		if len(sample) > 0 {
			stats.ActiveEntries = stats.Entries * activeInSample / len(sample)
		}

		staleCount, countErr := r.scanner.Count(opCtx, stalePrefix+"*", scanBatchSize)
		if countErr == nil {
			stats.StaleEntries = staleCount
		}
		return result.Stats.Err
	})
	if err != nil {
		logger.HandledError(ctx, "redis_cache", "get_stats", string(apierrors.Classify(err).Category), true, err)
	}
	return stats
}

// getServerType distinguishes Valkey from Redis via INFO server.
func (r *RedisCache) getServerType(ctx context.Context) string {
	var info string
	err := r.execute(ctx, "get_server_type", r.timeouts.Ping, func(opCtx context.Context) error {
		val, infoErr := r.client.Info(opCtx, "server").Result()
		if infoErr != nil {
			return infoErr
		}
		info = val
		return nil
	})
	if err == nil && strings.Contains(strings.ToLower(info), "valkey") {
		return "valkey"
	}
	return "redis"
}

// Breaker exposes the cache breaker for stats reporting.
func (r *RedisCache) Breaker() *CacheBreaker {
	return r.breaker
}

// Health exposes the monitor's snapshot.
func (r *RedisCache) Health() HealthState {
	if r.monitor == nil {
		return HealthState{Healthy: true}
	}
	return r.monitor.Status()
}

// Close stops the health monitor before closing the connection.
func (r *RedisCache) Close() error {
	if r.monitor != nil {
		r.monitor.Stop()
	}
	err := r.client.Close()
	logger.GetLogger().WithField("component", "redis_cache").Info("Redis connection closed")
	return err
}

func (r *RedisCache) recordHit() {
	metrics.RecordCacheHit(StrategySharedRedis)
	r.mu.Lock()
	r.hits++
	r.mu.Unlock()
}

func (r *RedisCache) recordMiss() {
	metrics.RecordCacheMiss(StrategySharedRedis)
	r.mu.Lock()
	r.misses++
	r.mu.Unlock()
}

func (r *RedisCache) recordLatency(operation string, start time.Time) {
	elapsed := time.Since(start)
	metrics.RecordCacheOperation(operation, StrategySharedRedis, elapsed)

	r.mu.Lock()
	r.totalLatency += elapsed
	r.ops++
	r.mu.Unlock()
}
