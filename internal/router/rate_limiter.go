package router

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultRateLimit  = 300
	DefaultRateWindow = time.Minute
)

// RateLimiter caps how many envelopes one client may send per window.
// Counters live in a go-cache keyed by client id and expire with the window,
// so idle clients cost nothing after a few minutes.
type RateLimiter struct {
	// mu makes the read-increment-reset of one counter a single step
	mu     sync.Mutex
	limit  int
	window time.Duration
	counts *cache.Cache
}

// NewRateLimiter creates a fixed-window limiter. A limit <= 0 allows everything.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		counts: cache.New(window, 5*window),
	}
}

// Allow records one envelope for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	n, err := rl.counts.IncrementInt(key, 1)
	if err != nil {
		// no counter, or its window expired: this envelope opens a new one
		rl.counts.Set(key, 1, rl.window)
		return true
	}
	return n <= rl.limit
}

// Forget drops the counter for key, typically on disconnect.
func (rl *RateLimiter) Forget(key string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.counts.Delete(key)
}

// Tracked returns how many clients currently have a live counter.
func (rl *RateLimiter) Tracked() int {
	if rl == nil {
		return 0
	}
	return rl.counts.ItemCount()
}
