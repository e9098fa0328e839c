package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultScanBatchSize = 100
	defaultMaxIterations = 10000
	scanRetryDelay       = 50 * time.Millisecond
)

// ScanStats describes a completed (or aborted) keyspace enumeration.
type ScanStats struct {
	TotalKeys  int
	Iterations int
	Retries    int
	DurationMs int64
	Completed  bool
	Err        error
}

// ScanResult carries the keys collected so far plus the enumeration stats.
// Partial results are always returned, even on failure.
type ScanResult struct {
	Keys  []string
	Stats ScanStats
}

// ScanIterator enumerates the keyspace with cursor-based SCAN calls. Each
// call is bounded by a timeout and retried with linear backoff; a hard
// iteration cap aborts runaway cursors.
type ScanIterator struct {
	client         *redis.Client
	timeout        time.Duration
	retriesPerScan int
	maxIterations  int
}

func NewScanIterator(client *redis.Client, timeout time.Duration, retriesPerScan, maxIterations int) *ScanIterator {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &ScanIterator{
		client:         client,
		timeout:        timeout,
		retriesPerScan: retriesPerScan,
		maxIterations:  maxIterations,
	}
}

// Iterate yields batches of keys to fn until the cursor cycle completes.
func (s *ScanIterator) Iterate(ctx context.Context, match string, batchSize int64, fn func(keys []string) error) error {
	stats := s.run(ctx, match, batchSize, fn)
	return stats.Err
}

// CollectAll gathers every key matching the pattern. On failure the keys
// collected so far are returned alongside the error.
func (s *ScanIterator) CollectAll(ctx context.Context, match string, batchSize int64) *ScanResult {
	var collected []string
	keysFn := func(keys []string) error {
		collected = append(collected, keys...)
		return nil
	}
	stats := s.run(ctx, match, batchSize, keysFn)
	return &ScanResult{Keys: collected, Stats: stats}
}

// Count returns the number of keys matching the pattern.
func (s *ScanIterator) Count(ctx context.Context, match string, batchSize int64) (int, error) {
	total := 0
	err := s.Iterate(ctx, match, batchSize, func(keys []string) error {
		total += len(keys)
		return nil
	})
	return total, err
}

// Exists reports whether at least one key matches the pattern.
func (s *ScanIterator) Exists(ctx context.Context, match string) (bool, error) {
	found := false
	err := s.Iterate(ctx, match, 1, func(keys []string) error {
		if len(keys) > 0 {
			found = true
		}
		return nil
	})
	return found, err
}

func (s *ScanIterator) run(ctx context.Context, match string, batchSize int64, fn func(keys []string) error) ScanStats {
	start := time.Now()
	stats := ScanStats{}
	if batchSize <= 0 {
		batchSize = defaultScanBatchSize
	}

	var cursor uint64
	for {
		if stats.Iterations >= s.maxIterations {
			stats.Err = fmt.Errorf("scan aborted after %d iterations without completing the cursor cycle", stats.Iterations)
			break
		}

		keys, next, retries, err := s.scanOnce(ctx, cursor, match, batchSize)
		stats.Retries += retries
		stats.Iterations++
		if err != nil {
			stats.Err = err
			break
		}

		if len(keys) > 0 {
			stats.TotalKeys += len(keys)
			if err := fn(keys); err != nil {
				stats.Err = err
				break
			}
		}

		cursor = next
		if cursor == 0 {
			stats.Completed = true
			break
		}
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	return stats
}

// scanOnce performs a single bounded SCAN call with bounded retries.
func (s *ScanIterator) scanOnce(ctx context.Context, cursor uint64, match string, batchSize int64) ([]string, uint64, int, error) {
	var keys []string
	var next uint64
	retries := 0

	for attempt := 0; ; attempt++ {
		err := withTimeout(ctx, "scan", s.timeout, func(opCtx context.Context) error {
			var scanErr error
			keys, next, scanErr = s.client.Scan(opCtx, cursor, match, batchSize).Result()
			return scanErr
		})
		if err == nil {
			return keys, next, retries, nil
		}
		if attempt >= s.retriesPerScan {
			return nil, 0, retries, fmt.Errorf("scan failed after %d retries: %w", retries, err)
		}
		retries++
		select {
		case <-ctx.Done():
			return nil, 0, retries, ctx.Err()
		case <-time.After(scanRetryDelay * time.Duration(attempt+1)):
		}
	}
}
