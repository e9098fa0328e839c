package cache

import (
	"errors"
	"time"

	"auth-service/internal/apierrors"
	"auth-service/internal/config"
	"auth-service/internal/logger"
	"auth-service/internal/metrics"
	"auth-service/internal/models"

	"github.com/sony/gobreaker"
)

// ErrBreakerOpen is returned when the cache breaker rejects an operation.
var ErrBreakerOpen = errors.New("cache circuit breaker is open")

// CacheBreaker fails fast in front of the Redis client. Only
// infrastructure and connection failures count toward tripping; business
// errors pass through without moving the state machine.
type CacheBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCacheBreaker(cfg config.CacheBreakerConfig) *CacheBreaker {
	settings := gobreaker.Settings{
		Name:        "cache_operations",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= uint32(cfg.VolumeThreshold) &&
				counts.TotalFailures >= uint32(cfg.MaxFailures)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return apierrors.Classify(err).Category == apierrors.CategoryBusiness
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.GetLogger().WithField("component", "cache_breaker").
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("Cache circuit breaker state changed")
			metrics.RecordBreakerTransition("cache", to.String())
			metrics.RecordBreakerState("cache", stateOrdinal(to))
		},
	}
	return &CacheBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// CanExecute reports whether an operation would be admitted right now.
// The admission decision is made before any I/O starts.
func (b *CacheBreaker) CanExecute() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// Execute runs fn under the breaker. Open-state rejections surface as
// ErrBreakerOpen; all other errors pass through unchanged.
func (b *CacheBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}

// RecordFailure feeds an external failure observation (the health monitor's
// probe verdict) into the breaker window.
func (b *CacheBreaker) RecordFailure(err error) {
	_, _ = b.cb.Execute(func() (interface{}, error) {
		return nil, err
	})
}

// RecordSuccess feeds a success observation into the breaker window; in
// half-open state this closes the breaker.
func (b *CacheBreaker) RecordSuccess() {
	_, _ = b.cb.Execute(func() (interface{}, error) {
		return nil, nil
	})
}

func (b *CacheBreaker) State() string {
	return b.cb.State().String()
}

func (b *CacheBreaker) GetStats() *models.BreakerStats {
	counts := b.cb.Counts()
	return &models.BreakerStats{
		State:     b.cb.State().String(),
		Fires:     int64(counts.Requests),
		Successes: int64(counts.TotalSuccesses),
		Failures:  int64(counts.TotalFailures),
	}
}

func stateOrdinal(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	default:
		return 2
	}
}
