package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"auth-service/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestHealthMonitorProbesPeriodically(t *testing.T) {
	var probes int32
	m := NewHealthMonitor(config.HealthMonitorConfig{
		Enabled:            true,
		Interval:           10 * time.Millisecond,
		UnhealthyThreshold: 3,
	}, func(ctx context.Context) error {
		atomic.AddInt32(&probes, 1)
		return nil
	}, NewCacheBreaker(testBreakerConfig()))

	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&probes), int32(2))
	assert.True(t, m.Status().Healthy)
}

func TestHealthMonitorMarksUnhealthyAfterThreshold(t *testing.T) {
	breaker := NewCacheBreaker(config.CacheBreakerConfig{
		MaxFailures:     2,
		VolumeThreshold: 2,
		ResetTimeout:    time.Second,
	})
	m := NewHealthMonitor(config.HealthMonitorConfig{
		Enabled:            true,
		Interval:           10 * time.Millisecond,
		UnhealthyThreshold: 2,
	}, func(ctx context.Context) error {
		return errors.New("connection refused")
	}, breaker)

	m.Start()
	time.Sleep(80 * time.Millisecond)
	m.Stop()

	status := m.Status()
	assert.False(t, status.Healthy)
	assert.GreaterOrEqual(t, status.ConsecutiveFailures, 2)
	// Probe failures past the threshold feed the breaker until it trips.
	assert.False(t, breaker.CanExecute())
}

func TestHealthMonitorDisabledDoesNotStart(t *testing.T) {
	var probes int32
	m := NewHealthMonitor(config.HealthMonitorConfig{
		Enabled:  false,
		Interval: 5 * time.Millisecond,
	}, func(ctx context.Context) error {
		atomic.AddInt32(&probes, 1)
		return nil
	}, NewCacheBreaker(testBreakerConfig()))

	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	assert.Equal(t, int32(0), atomic.LoadInt32(&probes))
}

func TestHealthMonitorStopIsIdempotent(t *testing.T) {
	m := NewHealthMonitor(config.HealthMonitorConfig{
		Enabled:            true,
		Interval:           10 * time.Millisecond,
		UnhealthyThreshold: 3,
	}, func(ctx context.Context) error { return nil }, NewCacheBreaker(testBreakerConfig()))

	m.Start()
	m.Stop()
	m.Stop()
}
