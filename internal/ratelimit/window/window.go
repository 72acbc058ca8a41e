// Package window implements the fixed-window decision as a pure function of
// (now, stored entry, quota). Stores and the façade share it so every backend
// admits and denies by the same rules.
//
// Windows are half-open [start, reset). Around a boundary a caller may see up
// to 2×MaxRequests admitted in a short span; that is inherent to fixed windows.
package window

import (
	"time"

	"nova/internal/ratelimit/models"
)

// Decision is the outcome of applying one request to a counter.
type Decision struct {
	Result models.RateLimitResult
	// Next is the entry to persist. Only meaningful when Write is true.
	Next  models.RateLimitEntry
	Write bool
}

// Apply decides one request. A nil or expired entry starts a fresh window.
// Denials never mutate the entry.
func Apply(now time.Time, entry *models.RateLimitEntry, cfg models.RateLimitConfig) Decision {
	current := candidate(now, entry, cfg)

	if current.Count >= cfg.MaxRequests {
		return Decision{Result: denied(now, current, cfg)}
	}

	current.Count++
	return Decision{
		Result: models.RateLimitResult{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - current.Count,
			ResetAt:   current.WindowResetAt,
		},
		Next:  current,
		Write: true,
	}
}

// Peek reports what a caller would see right now without consuming quota.
func Peek(now time.Time, entry *models.RateLimitEntry, cfg models.RateLimitConfig) models.RateLimitResult {
	current := candidate(now, entry, cfg)
	if current.Count >= cfg.MaxRequests {
		return denied(now, current, cfg)
	}
	return models.RateLimitResult{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests - current.Count,
		ResetAt:   current.WindowResetAt,
	}
}

// RetryAfterSeconds rounds the time left in the window up to whole seconds.
// It is at least 1 whenever reset is still in the future.
func RetryAfterSeconds(now, reset time.Time) int {
	left := reset.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// TTL is how long a backend should retain an entry written at now.
func TTL(now, reset time.Time, grace time.Duration) time.Duration {
	ttl := reset.Add(grace).Sub(now)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

func candidate(now time.Time, entry *models.RateLimitEntry, cfg models.RateLimitConfig) models.RateLimitEntry {
	if entry == nil || entry.IsExpired(now) {
		return models.RateLimitEntry{Count: 0, WindowResetAt: now.Add(cfg.Window)}
	}
	return *entry
}

func denied(now time.Time, current models.RateLimitEntry, cfg models.RateLimitConfig) models.RateLimitResult {
	return models.RateLimitResult{
		Allowed:    false,
		Limit:      cfg.MaxRequests,
		Remaining:  0,
		ResetAt:    current.WindowResetAt,
		RetryAfter: RetryAfterSeconds(now, current.WindowResetAt),
	}
}
