package cache

import (
	"errors"
	"testing"
	"time"

	"auth-service/internal/apierrors"
	"auth-service/internal/config"

	"github.com/stretchr/testify/assert"
)

func testBreakerConfig() config.CacheBreakerConfig {
	return config.CacheBreakerConfig{
		MaxFailures:     3,
		VolumeThreshold: 3,
		ResetTimeout:    50 * time.Millisecond,
	}
}

func TestCacheBreakerOpensOnInfrastructureFailures(t *testing.T) {
	b := NewCacheBreaker(testBreakerConfig())

	connErr := errors.New("connection refused")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return connErr })
	}

	assert.False(t, b.CanExecute())
	assert.Equal(t, "open", b.State())

	err := b.Execute(func() error { return nil })
	assert.Equal(t, ErrBreakerOpen, err)
}

func TestCacheBreakerIgnoresBusinessErrors(t *testing.T) {
	b := NewCacheBreaker(testBreakerConfig())

	businessErr := apierrors.NewKongAPIError(404, "Not Found", "")
	for i := 0; i < 10; i++ {
		_ = b.Execute(func() error { return businessErr })
	}

	assert.True(t, b.CanExecute())
	assert.Equal(t, "closed", b.State())
}

func TestCacheBreakerHalfOpenRecovery(t *testing.T) {
	b := NewCacheBreaker(testBreakerConfig())

	connErr := errors.New("connection refused")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return connErr })
	}
	assert.False(t, b.CanExecute())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, b.CanExecute())

	// One success in half-open closes the breaker.
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}

func TestCacheBreakerRecordFailureExternally(t *testing.T) {
	b := NewCacheBreaker(testBreakerConfig())

	connErr := errors.New("Connection closed")
	for i := 0; i < 3; i++ {
		b.RecordFailure(connErr)
	}
	assert.False(t, b.CanExecute())
}
