package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// TokenBucket is a per-client token bucket. Tokens refill at a fixed
// per-second rate up to the bucket's capacity.
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPerSec int
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(capacity, refillPerSec int) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPerSec: refillPerSec,
		lastRefill:   time.Now(),
	}
}

// Allow consumes one token, refilling first. It returns false when the
// bucket is empty.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(time.Now())
	if tb.tokens == 0 {
		return false
	}
	tb.tokens--
	return true
}

// refill credits whole elapsed seconds since the last refill.
func (tb *TokenBucket) refill(now time.Time) {
	wholeSeconds := int(now.Sub(tb.lastRefill).Seconds())
	if wholeSeconds <= 0 {
		return
	}
	tb.tokens += wholeSeconds * tb.refillPerSec
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// RateLimiter tracks one bucket per client IP.
type RateLimiter struct {
	buckets      map[string]*TokenBucket
	capacity     int
	refillPerSec int
	mu           sync.Mutex
}

func NewRateLimiter(capacity, refillPerSec int) *RateLimiter {
	return &RateLimiter{
		buckets:      make(map[string]*TokenBucket),
		capacity:     capacity,
		refillPerSec: refillPerSec,
	}
}

func (rl *RateLimiter) bucketFor(clientIP string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	bucket, ok := rl.buckets[clientIP]
	if !ok {
		bucket = NewTokenBucket(rl.capacity, rl.refillPerSec)
		rl.buckets[clientIP] = bucket
	}
	return bucket
}

// Handler rejects requests from clients that exhausted their bucket.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.bucketFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
