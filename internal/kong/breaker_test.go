package kong

import (
	"context"
	"testing"
	"time"

	"auth-service/internal/apierrors"
	"auth-service/internal/config"
	"auth-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKongBreakerConfig() config.KongBreakerConfig {
	return config.KongBreakerConfig{
		Enabled:                  true,
		Timeout:                  time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             50 * time.Millisecond,
		RollingCountTimeout:      10 * time.Second,
		RollingCountBuckets:      10,
		VolumeThreshold:          2,
	}
}

func breakerSecret(consumerID string) *models.ConsumerSecret {
	return &models.ConsumerSecret{
		ID:       "cred-" + consumerID,
		Key:      "key-" + consumerID,
		Secret:   "secret-" + consumerID,
		Consumer: models.ConsumerRef{ID: consumerID},
	}
}

func failingAction(status int) ConsumerAction {
	return func(ctx context.Context) (*models.ConsumerSecret, error) {
		return nil, apierrors.NewKongAPIError(status, "", "")
	}
}

func succeedingAction(consumerID string) ConsumerAction {
	return func(ctx context.Context) (*models.ConsumerSecret, error) {
		return breakerSecret(consumerID), nil
	}
}

func TestBreakerOpensOnInfrastructureErrors(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c1", failingAction(503))
	}

	assert.True(t, b.IsOpen())

	_, source, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c1", succeedingAction("c1"))
	assert.Equal(t, SourceOpen, source)
	assert.ErrorIs(t, err, ErrBreakerOpen)

	stats := b.GetStats()
	assert.Equal(t, "open", stats.State)
	assert.GreaterOrEqual(t, stats.Rejects, int64(1))
}

func TestBreakerBusinessErrorsNeverTrip(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, _, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c1", failingAction(404))
		require.Error(t, err)
	}

	assert.False(t, b.IsOpen())
	assert.Equal(t, "closed", b.GetStats().State)
	assert.Equal(t, int64(0), b.GetStats().Failures)
}

func TestBreakerServesLocalStaleWhileOpen(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), time.Hour, nil)
	ctx := context.Background()

	// A successful call populates the in-memory stale map.
	secret, source, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c3", succeedingAction("c3"))
	require.NoError(t, err)
	require.NotNil(t, secret)
	assert.Equal(t, SourceKong, source)

	// Storm of 503s until the breaker opens.
	for i := 0; i < 5; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c3", failingAction(503))
	}
	require.True(t, b.IsOpen())

	got, source, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c3", failingAction(503))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SourceInMemoryStale, source)
	assert.Equal(t, "cred-c3", got.ID)
	assert.GreaterOrEqual(t, b.GetStats().Fallbacks, int64(1))
}

func TestBreakerStaleMissReturnsOpen(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c9", failingAction(503))
	}
	require.True(t, b.IsOpen())

	secret, source, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "unknown", succeedingAction("unknown"))
	assert.Nil(t, secret)
	assert.Equal(t, SourceOpen, source)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreakerStaleEntriesExpire(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), 30*time.Millisecond, nil)
	ctx := context.Background()

	_, _, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c4", succeedingAction("c4"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c4", failingAction(503))
	}
	require.True(t, b.IsOpen())

	time.Sleep(40 * time.Millisecond)

	secret, source, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c4", failingAction(503))
	assert.Nil(t, secret)
	assert.Equal(t, SourceOpen, source)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreakerBusinessErrorInvalidatesStale(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), time.Hour, nil)
	ctx := context.Background()

	_, _, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c5", succeedingAction("c5"))
	require.NoError(t, err)

	// Upstream now says the consumer is gone; the stale entry must go too.
	_, _, err = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c5", failingAction(404))
	require.Error(t, err)

	for i := 0; i < 3; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c5", failingAction(503))
	}
	require.True(t, b.IsOpen())

	secret, source, _ := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c5", failingAction(503))
	assert.Nil(t, secret)
	assert.Equal(t, SourceOpen, source)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c6", failingAction(503))
	}
	require.True(t, b.IsOpen())

	time.Sleep(60 * time.Millisecond)

	// The probe call is admitted; its success closes the breaker.
	secret, source, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c6", succeedingAction("c6"))
	require.NoError(t, err)
	require.NotNil(t, secret)
	assert.Equal(t, SourceKong, source)
	assert.Equal(t, "closed", b.GetStats().State)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c7", failingAction(503))
	}
	require.True(t, b.IsOpen())

	time.Sleep(60 * time.Millisecond)

	_, _, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c7", failingAction(503))
	require.Error(t, err)
	assert.True(t, b.IsOpen())
}

func TestBreakerActionTimeoutCountsAsTimeout(t *testing.T) {
	cfg := testKongBreakerConfig()
	cfg.Timeout = 20 * time.Millisecond
	b := NewBreaker(cfg, time.Hour, nil)
	ctx := context.Background()

	slow := func(opCtx context.Context) (*models.ConsumerSecret, error) {
		select {
		case <-opCtx.Done():
			return nil, opCtx.Err()
		case <-time.After(time.Second):
			return breakerSecret("c8"), nil
		}
	}
	_, _, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c8", slow)
	require.Error(t, err)

	var timeoutErr *apierrors.TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, int64(1), b.GetStats().Timeouts)
}

func TestBreakerDisabledPassesThrough(t *testing.T) {
	cfg := testKongBreakerConfig()
	cfg.Enabled = false
	b := NewBreaker(cfg, time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c1", failingAction(503))
	}
	assert.False(t, b.IsOpen())

	secret, source, err := b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c1", succeedingAction("c1"))
	require.NoError(t, err)
	require.NotNil(t, secret)
	assert.Equal(t, SourceKong, source)
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c1", failingAction(503))
	}
	require.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	stats := b.GetStats()
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, int64(0), stats.Failures)
	assert.Equal(t, int64(0), stats.Fires)
}

func TestBreakerVolumeThresholdHoldsItClosed(t *testing.T) {
	cfg := testKongBreakerConfig()
	cfg.VolumeThreshold = 5
	b := NewBreaker(cfg, time.Hour, nil)
	ctx := context.Background()

	// Fewer failures than the volume threshold never trip it.
	for i := 0; i < 4; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c1", failingAction(503))
	}
	assert.False(t, b.IsOpen())
}

func TestBreakerHealthExecuteRejectsWhileOpen(t *testing.T) {
	b := NewBreaker(testKongBreakerConfig(), time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, _ = b.ExecuteConsumerOperation(ctx, "getConsumerSecret", "c1", failingAction(503))
	}
	require.True(t, b.IsOpen())

	err := b.Execute(ctx, "healthCheck", func(opCtx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
}
