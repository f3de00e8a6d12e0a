package policy

import (
	"sync"
	"time"
)

// TokenBucket implements a basic token bucket rate limiter.
type TokenBucket struct {
	capacity     int
	tokens       float64
	refillAmount float64
	refillEvery  time.Duration
	lastRefill   time.Time
	lastSeen     time.Time
	mu           sync.Mutex
}

// NewTokenBucket constructs a token bucket with the provided parameters.
// Non-positive parameters disable limiting and return nil.
func NewTokenBucket(capacity int, refillAmount int, refillEvery time.Duration, now time.Time) *TokenBucket {
	if capacity <= 0 || refillAmount <= 0 || refillEvery <= 0 {
		return nil
	}
	return &TokenBucket{
		capacity:     capacity,
		tokens:       float64(capacity),
		refillAmount: float64(refillAmount),
		refillEvery:  refillEvery,
		lastRefill:   now,
		lastSeen:     now,
	}
}

// Allow consumes a single token if available and returns true. When no tokens
// are available the call returns false. A nil bucket always allows.
func (b *TokenBucket) Allow(now time.Time) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeen = now
	b.refill(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *TokenBucket) refill(now time.Time) {
	if now.Before(b.lastRefill) {
		b.lastRefill = now
		return
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.refillEvery {
		return
	}

	units := float64(elapsed) / float64(b.refillEvery)
	b.tokens += units * b.refillAmount
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
	b.lastRefill = now
}

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	Capacity     int
	RefillTokens int
	RefillEvery  time.Duration
}

// Enabled reports whether the config describes a usable bucket.
func (c RateLimitConfig) Enabled() bool {
	return c.Capacity > 0 && c.RefillTokens > 0 && c.RefillEvery > 0
}

// KeyedLimiter keeps one token bucket per client key.
type KeyedLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewKeyedLimiter returns nil when cfg is disabled; a nil limiter allows everything.
func NewKeyedLimiter(cfg RateLimitConfig) *KeyedLimiter {
	if !cfg.Enabled() {
		return nil
	}
	return &KeyedLimiter{
		cfg:     cfg,
		buckets: make(map[string]*TokenBucket),
	}
}

// Allow consumes a token from key's bucket.
func (l *KeyedLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = NewTokenBucket(l.cfg.Capacity, l.cfg.RefillTokens, l.cfg.RefillEvery, now)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(now)
}

// idleAfter is how long an untouched bucket takes to refill completely. A
// bucket idle that long is indistinguishable from a fresh one.
func (l *KeyedLimiter) idleAfter() time.Duration {
	steps := (l.cfg.Capacity + l.cfg.RefillTokens - 1) / l.cfg.RefillTokens
	return time.Duration(steps) * l.cfg.RefillEvery
}

// Sweep drops buckets that have been idle long enough to be full again and
// returns how many were removed.
func (l *KeyedLimiter) Sweep(now time.Time) int {
	if l == nil {
		return 0
	}
	idle := l.idleAfter()
	removed := 0
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, bucket := range l.buckets {
		bucket.mu.Lock()
		stale := now.Sub(bucket.lastSeen) >= idle
		bucket.mu.Unlock()
		if stale {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
