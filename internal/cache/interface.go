package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"auth-service/internal/models"
)

// Strategy tags reported by GetStats.
const (
	StrategyLocalMemory = "local-memory"
	StrategySharedRedis = "shared-redis"
)

const consumerSecretPrefix = "consumer_secret:"

// Cache is the two-tier credential cache. Every method is total: misses,
// expiries, and backend errors all surface as nil/no-op, never as an error.
// Implementations record a hit or a miss (with latency) or a categorized
// error for every completed operation.
type Cache interface {
	Get(ctx context.Context, key string) []byte
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)

	GetStale(ctx context.Context, key string) []byte
	SetStale(ctx context.Context, key string, value interface{})
	DeleteStale(ctx context.Context, key string)
	ClearStale(ctx context.Context)

	GetStats(ctx context.Context) *models.CacheStats
	Close() error
}

// violatesPollutionGuard reports whether storing payload under key would
// cache a credential under a key that does not match its own consumer id.
func violatesPollutionGuard(key string, payload []byte) (consumerID string, stored string, violated bool) {
	if !strings.HasPrefix(key, consumerSecretPrefix) {
		return "", "", false
	}
	consumerID = strings.TrimPrefix(key, consumerSecretPrefix)

	var probe struct {
		Consumer struct {
			ID string `json:"id"`
		} `json:"consumer"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return consumerID, "", false
	}
	if probe.Consumer.ID == "" {
		return consumerID, "", false
	}
	return consumerID, probe.Consumer.ID, probe.Consumer.ID != consumerID
}

// formatHitRate renders hits/(hits+misses) as a fixed-point percentage.
func formatHitRate(hits, misses int64) string {
	total := hits + misses
	if total == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(hits)/float64(total)*100)
}
