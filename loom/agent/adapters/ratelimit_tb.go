package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// ErrRateLimitExceeded is returned when a key has no tokens left.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket is a per-key token bucket rate limiter. A consumed token
// is gone until refill; release is a no-op kept for limiters that meter
// in-flight work instead.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration // one token per interval
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a rate limiter with the given burst capacity
// and refill interval.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 10
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

// Acquire consumes one token for the key or fails with
// ErrRateLimitExceeded.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: time.Now()}
		tb.buckets[key] = b
	}

	elapsed := time.Since(b.lastRefill)
	if refill := int(elapsed / tb.refillRate); refill > 0 {
		b.tokens = min(b.tokens+refill, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(refill) * tb.refillRate)
	}

	if b.tokens <= 0 {
		return nil, ErrRateLimitExceeded
	}
	b.tokens--
	return func() {}, nil
}

// Ensure TokenBucket implements the RateLimiter interface.
var _ ports.RateLimiter = (*TokenBucket)(nil)
