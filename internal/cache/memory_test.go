package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"auth-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret(consumerID string) *models.ConsumerSecret {
	return &models.ConsumerSecret{
		ID:       "cred-" + consumerID,
		Key:      "key-" + consumerID,
		Secret:   "secret-" + consumerID,
		Consumer: models.ConsumerRef{ID: consumerID},
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	secret := testSecret("c1")
	c.Set(ctx, models.CacheKey("c1"), secret, 0)

	data := c.Get(ctx, models.CacheKey("c1"))
	require.NotNil(t, data)

	var got models.ConsumerSecret
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *secret, got)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	c.Set(ctx, "k", "v", 10*time.Millisecond)
	assert.NotNil(t, c.Get(ctx, "k"))

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, c.Get(ctx, "k"))
}

func TestMemoryCacheDeleteLeavesStale(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	c.Set(ctx, "k", "v", 0)
	c.Delete(ctx, "k")

	assert.Nil(t, c.Get(ctx, "k"))
	assert.NotNil(t, c.GetStale(ctx, "k"))
}

func TestMemoryCacheClearLeavesStale(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	c.Set(ctx, "a", 1, 0)
	c.Set(ctx, "b", 2, 0)
	c.Clear(ctx)

	stats := c.GetStats(ctx)
	assert.Equal(t, 0, stats.Entries)
	assert.NotNil(t, c.GetStale(ctx, "a"))
	assert.NotNil(t, c.GetStale(ctx, "b"))
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Minute)

	c.Set(ctx, "first", 1, 0)
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "second", 2, 0)
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "third", 3, 0)

	assert.Nil(t, c.Get(ctx, "first"))
	assert.NotNil(t, c.Get(ctx, "second"))
	assert.NotNil(t, c.Get(ctx, "third"))
}

func TestMemoryCachePollutionGuard(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	// Payload owned by bob must not land under alice's key.
	c.Set(ctx, models.CacheKey("alice"), testSecret("bob"), 0)
	assert.Nil(t, c.Get(ctx, models.CacheKey("alice")))

	// Matching ids are stored.
	c.Set(ctx, models.CacheKey("alice"), testSecret("alice"), 0)
	assert.NotNil(t, c.Get(ctx, models.CacheKey("alice")))
}

func TestMemoryCacheHitRate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	assert.Equal(t, "0.00", c.GetStats(ctx).HitRate)

	c.Set(ctx, "k", "v", 0)
	c.Get(ctx, "k")      // hit
	c.Get(ctx, "other")  // miss

	assert.Equal(t, "50.00", c.GetStats(ctx).HitRate)
}

func TestMemoryCacheStaleOutlivesPrimary(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, 15*time.Millisecond)

	c.Set(ctx, "k", "v", 0)
	time.Sleep(30 * time.Millisecond)

	assert.Nil(t, c.Get(ctx, "k"))
	assert.NotNil(t, c.GetStale(ctx, "k"))
}

func TestMemoryCacheStats(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	c.Set(ctx, "a", 1, 0)
	c.Set(ctx, "b", 2, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	stats := c.GetStats(ctx)
	assert.Equal(t, StrategyLocalMemory, stats.Strategy)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.ActiveEntries)
	assert.Equal(t, 2, stats.StaleEntries)
}

func TestFormatHitRate(t *testing.T) {
	assert.Equal(t, "0.00", formatHitRate(0, 0))
	assert.Equal(t, "100.00", formatHitRate(5, 0))
	assert.Equal(t, "33.33", formatHitRate(1, 2))
}
