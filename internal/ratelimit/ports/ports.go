// Package ports defines shared interfaces for the ratelimit module.
// Interfaces are placed here when consumed by multiple services to avoid duplication.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/ports_mock.go -package=mocks

import (
	"context"
	"time"

	"nova/internal/ratelimit/models"
	"nova/pkg/platform/audit"
)

// AuditPublisher emits audit events for security-relevant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// QuotaStore persists fixed-window counters shared by every replica.
//
// Keys are rendered models.RateLimitKey strings. Implementations return
// sentinel.ErrUnavailable (wrapped) when the backend cannot answer.
type QuotaStore interface {
	// Get returns the entry and its version, or nil when the key is absent.
	Get(ctx context.Context, key string) (*models.VersionedEntry, error)

	// CompareAndSwap writes entry only if the stored version still equals
	// expectedVersion (0 means the key must not exist). It reports false on a
	// lost race and never overwrites a concurrent writer. ttl bounds retention.
	CompareAndSwap(ctx context.Context, key string, expectedVersion int64, entry models.RateLimitEntry, ttl time.Duration) (bool, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// AtomicStore is implemented by backends that can run the whole
// read-decide-write step natively (a mutex, a server-side script).
type AtomicStore interface {
	Apply(ctx context.Context, key string, cfg models.RateLimitConfig, now time.Time) (*models.RateLimitResult, error)
}

// Peeker is implemented by backends that can preview a decision on the same
// clock their AtomicStore uses. Peek never writes.
type Peeker interface {
	Peek(ctx context.Context, key string, cfg models.RateLimitConfig) (*models.RateLimitResult, error)
}

// Sweepable is implemented by backends without native expiry.
type Sweepable interface {
	// Sweep deletes entries whose window closed more than the grace period
	// before now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}
