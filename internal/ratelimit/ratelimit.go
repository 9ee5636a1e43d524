// Package ratelimit keeps one token bucket per client key.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an unused bucket is kept before cleanup drops it.
const idleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for multiple keys
type RateLimiter struct {
	buckets       map[string]*bucket
	limit         rate.Limit
	burst         int
	now           func() time.Time
	mu            sync.Mutex
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// Config for creating a new RateLimiter
type Config struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg Config) *RateLimiter {
	rl := &RateLimiter{
		buckets:     make(map[string]*bucket),
		limit:       rate.Limit(cfg.RequestsPerSecond),
		burst:       cfg.Burst,
		now:         cfg.Now,
		stopCleanup: make(chan struct{}),
	}
	if rl.now == nil {
		rl.now = time.Now
	}

	if cfg.CleanupInterval > 0 {
		rl.cleanupTicker = time.NewTicker(cfg.CleanupInterval)
		go rl.cleanup()
	}

	return rl
}

// Allow consumes a token for key. When none is available it reports how long
// the client should wait before retrying.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	now := rl.now()
	lim := rl.get(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Duration(math.MaxInt64)
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) get(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Len reports the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.sweep()
		case <-rl.stopCleanup:
			return
		}
	}
}

// sweep drops buckets idle for longer than idleTTL.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(rl.buckets, key)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		if rl.cleanupTicker != nil {
			rl.cleanupTicker.Stop()
		}
		close(rl.stopCleanup)
	})
}
