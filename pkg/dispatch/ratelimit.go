package dispatch

import (
	"sync"
	"time"
)

// RateLimiter is a per-platform token bucket. Take is non-blocking: a job
// that can't get a token stays scheduled and is picked up by a later cycle
// instead of holding a worker.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates an empty rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: map[string]*bucket{}, now: time.Now}
}

// Configure sets the budget for a platform. Unconfigured platforms are
// never limited.
func (rl *RateLimiter) Configure(platform string, perMinute, burst int) {
	if perMinute <= 0 {
		return
	}
	if burst <= 0 {
		burst = 1
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.buckets[platform] = &bucket{
		tokens:     float64(burst),
		capacity:   float64(burst),
		refillRate: float64(perMinute) / 60,
		lastRefill: rl.now(),
	}
}

// Take consumes one token for the platform if available. Refill and
// consumption happen under one lock so concurrent workers can't overdraw
// the bucket.
func (rl *RateLimiter) Take(platform string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[platform]
	if !ok {
		return true
	}

	now := rl.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
