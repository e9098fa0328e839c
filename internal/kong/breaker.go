package kong

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"auth-service/internal/apierrors"
	"auth-service/internal/audit"
	"auth-service/internal/cache"
	"auth-service/internal/config"
	"auth-service/internal/logger"
	"auth-service/internal/metrics"
	"auth-service/internal/models"
)

// ErrBreakerOpen is returned when the Kong breaker rejects a call and no
// stale data could be served instead.
var ErrBreakerOpen = errors.New("kong circuit breaker is open")

// Fallback attributions reported alongside a result.
const (
	SourceKong          = "kong"
	SourceRedisStale    = "redis_stale_cache"
	SourceInMemoryStale = "in_memory_stale_cache"
	SourceOpen          = "open"

	breakerScope = "kong_operations"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type bucket struct {
	fires     int64
	successes int64
	failures  int64
	timeouts  int64
}

type localStaleEntry struct {
	secret   *models.ConsumerSecret
	storedAt time.Time
}

const latencyWindowSize = 100

// Breaker wraps Kong admin calls under the kong_operations scope. Only
// infrastructure failures move the state machine; while open, consumer
// operations fall back to stale cache data within the tolerance window.
type Breaker struct {
	cfg            config.KongBreakerConfig
	staleTolerance time.Duration
	bucketSpan     time.Duration

	// sharedCache is set in high-availability mode; when nil the breaker
	// keeps its own in-memory stale map keyed <operation>:<consumerId>.
	sharedCache cache.Cache

	mu               sync.Mutex
	state            breakerState
	openedAt         time.Time
	lastStateChange  time.Time
	halfOpenInFlight bool

	buckets     []bucket
	bucketIdx   int
	bucketStart time.Time

	fires     int64
	successes int64
	failures  int64
	rejects   int64
	timeouts  int64
	fallbacks int64

	localStale map[string]localStaleEntry
	latencies  []float64
}

// NewBreaker builds the Kong breaker. Pass the shared cache in
// high-availability mode, nil in local mode.
func NewBreaker(cfg config.KongBreakerConfig, staleTolerance time.Duration, sharedCache cache.Cache) *Breaker {
	buckets := cfg.RollingCountBuckets
	if buckets <= 0 {
		buckets = 10
	}
	span := cfg.RollingCountTimeout / time.Duration(buckets)
	if span <= 0 {
		span = time.Second
	}
	b := &Breaker{
		cfg:            cfg,
		staleTolerance: staleTolerance,
		bucketSpan:     span,
		sharedCache:    sharedCache,
		buckets:        make([]bucket, buckets),
		bucketStart:    time.Now(),
		localStale:     make(map[string]localStaleEntry),
	}
	metrics.RecordBreakerState(breakerScope, 0)
	return b
}

// ConsumerAction is an admin operation scoped to one consumer.
type ConsumerAction func(ctx context.Context) (*models.ConsumerSecret, error)

// ExecuteConsumerOperation admits the action through the state machine.
// The returned source names where the result came from: kong on a live
// call, a stale attribution on fallback, open on a rejected call with no
// stale data.
func (b *Breaker) ExecuteConsumerOperation(ctx context.Context, operation, consumerID string, action ConsumerAction) (*models.ConsumerSecret, string, error) {
	if !b.cfg.Enabled {
		secret, err := action(ctx)
		return secret, SourceKong, err
	}

	if !b.admit() {
		b.recordReject()
		if secret, source := b.staleFallback(ctx, operation, consumerID); secret != nil {
			metrics.RecordBreakerFallback(source)
			audit.LogStaleFallback(ctx, consumerID, source)
			b.mu.Lock()
			b.fallbacks++
			b.mu.Unlock()
			return secret, source, nil
		}
		return nil, SourceOpen, ErrBreakerOpen
	}

	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	secret, err := action(opCtx)
	cancel()
	b.observeLatency(time.Since(start))

	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			err = &apierrors.TimeoutError{Operation: operation, Timeout: b.cfg.Timeout}
		}
		classification := apierrors.Classify(err)
		if classification.Category == apierrors.CategoryBusiness {
			// The upstream answered; only the request itself was bad.
			// Business outcomes never move the state machine, but they do
			// invalidate the consumer's stale entry.
			b.recordBusinessOutcome()
			b.invalidateStale(ctx, operation, consumerID)
			return nil, SourceKong, err
		}
		b.recordFailure(err)
		return nil, SourceKong, err
	}

	b.recordSuccess()
	if secret != nil {
		b.rememberStale(operation, consumerID, secret)
	}
	return secret, SourceKong, nil
}

// Execute admits a non-consumer operation (health checks). No stale
// fallback applies.
func (b *Breaker) Execute(ctx context.Context, operation string, action func(ctx context.Context) error) error {
	if !b.cfg.Enabled {
		return action(ctx)
	}
	if !b.admit() {
		b.recordReject()
		return ErrBreakerOpen
	}

	opCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	err := action(opCtx)
	cancel()

	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			err = &apierrors.TimeoutError{Operation: operation, Timeout: b.cfg.Timeout}
		}
		if apierrors.Classify(err).Category == apierrors.CategoryBusiness {
			b.recordBusinessOutcome()
			return err
		}
		b.recordFailure(err)
		return err
	}

	b.recordSuccess()
	return nil
}

// IsOpen reports whether the breaker is open and its reset timeout has not
// yet elapsed. A half-open breaker whose probe call is still in flight also
// rejects calls but is not reported as open.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateOpen && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		return false
	}
	return b.state == stateOpen
}

// admit decides synchronously, before any I/O, whether a call may run.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case stateOpen:
		if now.Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.transitionLocked(stateHalfOpen, now)
			b.halfOpenInFlight = true
			b.fires++
			return true
		}
		return false
	case stateHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		b.fires++
		return true
	default:
		b.rollLocked(now)
		b.buckets[b.bucketIdx].fires++
		b.fires++
		return true
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.successes++
	if b.state == stateHalfOpen {
		b.halfOpenInFlight = false
		b.resetWindowLocked(now)
		b.transitionLocked(stateClosed, now)
		return
	}
	b.rollLocked(now)
	b.buckets[b.bucketIdx].successes++
}

// recordBusinessOutcome counts an answered call that failed for business
// reasons. It is tallied like a success in the closed window; in half-open
// it only frees the probe slot, leaving the state unchanged.
func (b *Breaker) recordBusinessOutcome() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes++
	if b.state == stateHalfOpen {
		b.halfOpenInFlight = false
		return
	}
	b.rollLocked(time.Now())
	b.buckets[b.bucketIdx].successes++
}

func (b *Breaker) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var timeoutErr *apierrors.TimeoutError
	isTimeout := errors.As(err, &timeoutErr)
	if isTimeout {
		b.timeouts++
	} else {
		b.failures++
	}

	if b.state == stateHalfOpen {
		b.halfOpenInFlight = false
		b.openedAt = now
		b.transitionLocked(stateOpen, now)
		return
	}

	b.rollLocked(now)
	if isTimeout {
		b.buckets[b.bucketIdx].timeouts++
	} else {
		b.buckets[b.bucketIdx].failures++
	}

	total, failed := b.windowCountsLocked()
	if total >= int64(b.cfg.VolumeThreshold) && failed*100 >= int64(b.cfg.ErrorThresholdPercentage)*total {
		b.openedAt = now
		b.transitionLocked(stateOpen, now)
	}
}

func (b *Breaker) recordReject() {
	b.mu.Lock()
	b.rejects++
	b.mu.Unlock()
	metrics.RecordBreakerReject(breakerScope)
}

// rollLocked advances the current bucket to cover now.
func (b *Breaker) rollLocked(now time.Time) {
	n := len(b.buckets)
	for now.Sub(b.bucketStart) >= b.bucketSpan {
		elapsed := now.Sub(b.bucketStart)
		if elapsed >= b.bucketSpan*time.Duration(n) {
			// The whole window has aged out.
			b.resetWindowLocked(now)
			return
		}
		b.bucketIdx = (b.bucketIdx + 1) % n
		b.buckets[b.bucketIdx] = bucket{}
		b.bucketStart = b.bucketStart.Add(b.bucketSpan)
	}
}

func (b *Breaker) resetWindowLocked(now time.Time) {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
	b.bucketIdx = 0
	b.bucketStart = now
}

func (b *Breaker) windowCountsLocked() (total, failed int64) {
	for _, bk := range b.buckets {
		total += bk.successes + bk.failures + bk.timeouts
		failed += bk.failures + bk.timeouts
	}
	return total, failed
}

func (b *Breaker) transitionLocked(to breakerState, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastStateChange = now

	logger.GetLogger().WithField("component", "kong_breaker").
		WithField("from", from.String()).
		WithField("to", to.String()).
		Warn("Kong circuit breaker state changed")
	metrics.RecordBreakerTransition(breakerScope, to.String())
	metrics.RecordBreakerState(breakerScope, int(to))
}

// staleFallback serves the consumer's last known credential while open.
func (b *Breaker) staleFallback(ctx context.Context, operation, consumerID string) (*models.ConsumerSecret, string) {
	if consumerID == "" {
		return nil, SourceOpen
	}

	if b.sharedCache != nil {
		data := b.sharedCache.GetStale(ctx, models.CacheKey(consumerID))
		if data == nil {
			return nil, SourceOpen
		}
		var secret models.ConsumerSecret
		if err := json.Unmarshal(data, &secret); err != nil || secret.Validate() != nil {
			return nil, SourceOpen
		}
		return &secret, SourceRedisStale
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.localStale[operation+":"+consumerID]
	if !ok {
		return nil, SourceOpen
	}
	if time.Since(entry.storedAt) > b.staleTolerance {
		delete(b.localStale, operation+":"+consumerID)
		return nil, SourceOpen
	}
	return entry.secret, SourceInMemoryStale
}

// rememberStale captures a successful result for local-mode fallback.
func (b *Breaker) rememberStale(operation, consumerID string, secret *models.ConsumerSecret) {
	if b.sharedCache != nil || consumerID == "" {
		return
	}
	b.mu.Lock()
	b.localStale[operation+":"+consumerID] = localStaleEntry{secret: secret, storedAt: time.Now()}
	b.mu.Unlock()
}

// invalidateStale drops the consumer's stale entry after a business
// outcome proved it no longer exists upstream.
func (b *Breaker) invalidateStale(ctx context.Context, operation, consumerID string) {
	if consumerID == "" {
		return
	}
	if b.sharedCache != nil {
		b.sharedCache.DeleteStale(ctx, models.CacheKey(consumerID))
		return
	}
	b.mu.Lock()
	delete(b.localStale, operation+":"+consumerID)
	b.mu.Unlock()
}

func (b *Breaker) observeLatency(elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ms := float64(elapsed.Microseconds()) / 1000
	if len(b.latencies) >= latencyWindowSize {
		b.latencies = b.latencies[1:]
	}
	b.latencies = append(b.latencies, ms)
}

// GetStats snapshots the breaker counters and latency percentiles.
func (b *Breaker) GetStats() *models.BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := &models.BreakerStats{
		State:     b.state.String(),
		Fires:     b.fires,
		Successes: b.successes,
		Failures:  b.failures,
		Rejects:   b.rejects,
		Timeouts:  b.timeouts,
		Fallbacks: b.fallbacks,
	}
	if len(b.latencies) > 0 {
		sorted := make([]float64, len(b.latencies))
		copy(sorted, b.latencies)
		sort.Float64s(sorted)
		stats.Percentiles = map[string]float64{
			"p50": percentile(sorted, 50),
			"p90": percentile(sorted, 90),
			"p99": percentile(sorted, 99),
		}
	}
	return stats
}

// Reset force-closes the breaker and zeroes the rolling window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.halfOpenInFlight = false
	b.resetWindowLocked(now)
	b.fires, b.successes, b.failures, b.rejects, b.timeouts, b.fallbacks = 0, 0, 0, 0, 0, 0
	b.latencies = nil
	b.transitionLocked(stateClosed, now)
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
