package memory

import (
	"context"
	"sync"
	"time"

	"nova/internal/ratelimit/config"
	"nova/internal/ratelimit/models"
	"nova/internal/ratelimit/window"
)

// InMemoryQuotaStore keeps counters in process memory.
// It is a development stub: counters are not shared between replicas, so a
// horizontally scaled deployment must use a shared backend instead.
type InMemoryQuotaStore struct {
	mu      sync.Mutex
	entries map[string]*record
	version int64
	grace   time.Duration
	clock   func() time.Time
}

type record struct {
	entry     models.RateLimitEntry
	version   int64
	expiresAt time.Time
}

type Option func(*InMemoryQuotaStore)

// WithGrace sets how long past its window an entry survives a sweep.
func WithGrace(grace time.Duration) Option {
	return func(s *InMemoryQuotaStore) {
		s.grace = grace
	}
}

// WithClock replaces the wall clock used for write TTLs.
func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryQuotaStore) {
		s.clock = clock
	}
}

func New(opts ...Option) *InMemoryQuotaStore {
	s := &InMemoryQuotaStore{
		entries: make(map[string]*record),
		grace:   config.DefaultGrace,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryQuotaStore) Get(_ context.Context, key string) (*models.VersionedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(key)
	if rec == nil {
		return nil, nil
	}
	return &models.VersionedEntry{Entry: rec.entry, Version: rec.version}, nil
}

func (s *InMemoryQuotaStore) CompareAndSwap(_ context.Context, key string, expectedVersion int64, entry models.RateLimitEntry, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if rec := s.live(key); rec != nil {
		current = rec.version
	}
	if current != expectedVersion {
		return false, nil
	}
	s.put(key, entry, ttl)
	return true, nil
}

// Apply runs the window decision under the store lock.
func (s *InMemoryQuotaStore) Apply(_ context.Context, key string, cfg models.RateLimitConfig, now time.Time) (*models.RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored *models.RateLimitEntry
	if rec := s.live(key); rec != nil {
		stored = &rec.entry
	}

	decision := window.Apply(now, stored, cfg)
	if decision.Write {
		s.put(key, decision.Next, window.TTL(now, decision.Next.WindowResetAt, s.grace))
	}
	result := decision.Result
	return &result, nil
}

func (s *InMemoryQuotaStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep removes entries past their window plus grace, or past their write TTL.
func (s *InMemoryQuotaStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wall := s.clock()
	removed := 0
	for key, rec := range s.entries {
		if rec.entry.IsEvictable(now, s.grace) || !rec.expiresAt.After(wall) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryQuotaStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored entries, including logically expired ones.
func (s *InMemoryQuotaStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// live returns the record for key unless its write TTL has elapsed.
// Caller must hold s.mu.
func (s *InMemoryQuotaStore) live(key string) *record {
	rec, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !rec.expiresAt.After(s.clock()) {
		delete(s.entries, key)
		return nil
	}
	return rec
}

// put writes entry with a fresh version. Caller must hold s.mu.
func (s *InMemoryQuotaStore) put(key string, entry models.RateLimitEntry, ttl time.Duration) {
	s.version++
	s.entries[key] = &record{
		entry:     entry,
		version:   s.version,
		expiresAt: s.clock().Add(ttl),
	}
}
