package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"deepfake-guard/logging"
)

// RateLimiter gates requests per client key with one token bucket per client.
// The bucket holds ceiling tokens and refills ceiling tokens per window.
//
// A zero window never refills: each client gets ceiling requests for the life of
// the process. That mode is a development safeguard only, since counters grow
// without bound and never reset.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	ceiling int
	window  time.Duration
	now     func() time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func NewRateLimiter(ceiling int, window time.Duration) *RateLimiter {
	if window <= 0 {
		logging.Warn().Int("ceiling", ceiling).
			Msg("[RateLimit] No window configured, using non-resetting development limiter")
	}
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		ceiling: ceiling,
		window:  window,
		now:     time.Now,
	}
}

func (rl *RateLimiter) limit() rate.Limit {
	if rl.window <= 0 {
		return 0
	}
	return rate.Limit(float64(rl.ceiling) / rl.window.Seconds())
}

// Admit reports whether clientKey may make another request and consumes one token if so.
func (rl *RateLimiter) Admit(clientKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.entries[clientKey]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit(), rl.ceiling)}
		rl.entries[clientKey] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// evictStale drops clients idle for longer than one window; their buckets would be
// full again anyway. Nothing is evicted in the non-resetting mode.
func (rl *RateLimiter) evictStale() int {
	if rl.window <= 0 {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-rl.window)
	evicted := 0
	for key, entry := range rl.entries {
		if entry.lastAccess.Before(threshold) {
			delete(rl.entries, key)
			evicted++
		}
	}
	return evicted
}

// StartCleanup evicts stale clients every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if rl.window <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rl.evictStale(); n > 0 {
					logging.Debug().Int("evicted", n).Msg("[RateLimit] Evicted idle clients")
				}
			}
		}
	}()
}
