package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"nova/internal/ratelimit/models"
)

var (
	t0      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testCfg = models.RateLimitConfig{MaxRequests: 5, Window: time.Minute}
)

type InMemoryQuotaStoreSuite struct {
	suite.Suite
	store *InMemoryQuotaStore
	wall  time.Time
	ctx   context.Context
}

func TestInMemoryQuotaStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryQuotaStoreSuite))
}

func (s *InMemoryQuotaStoreSuite) SetupTest() {
	s.wall = t0
	s.store = New(WithClock(func() time.Time { return s.wall }))
	s.ctx = context.Background()
}

func (s *InMemoryQuotaStoreSuite) TestCompareAndSwap() {
	entry := models.RateLimitEntry{Count: 1, WindowResetAt: t0.Add(time.Minute)}

	s.Run("create requires version zero", func() {
		ok, err := s.store.CompareAndSwap(s.ctx, "k:create", 0, entry, 2*time.Minute)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.store.CompareAndSwap(s.ctx, "k:create", 0, entry, 2*time.Minute)
		s.Require().NoError(err)
		s.False(ok, "second create must lose")
	})

	s.Run("update requires current version", func() {
		_, _ = s.store.CompareAndSwap(s.ctx, "k:update", 0, entry, 2*time.Minute)
		got, err := s.store.Get(s.ctx, "k:update")
		s.Require().NoError(err)
		s.Require().NotNil(got)

		next := entry
		next.Count = 2
		ok, err := s.store.CompareAndSwap(s.ctx, "k:update", got.Version, next, 2*time.Minute)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.store.CompareAndSwap(s.ctx, "k:update", got.Version, next, 2*time.Minute)
		s.Require().NoError(err)
		s.False(ok, "stale version must lose")

		latest, _ := s.store.Get(s.ctx, "k:update")
		s.Equal(2, latest.Entry.Count)
		s.Greater(latest.Version, got.Version)
	})
}

func (s *InMemoryQuotaStoreSuite) TestGetAbsent() {
	got, err := s.store.Get(s.ctx, "missing")
	s.NoError(err)
	s.Nil(got)
}

func (s *InMemoryQuotaStoreSuite) TestDeleteIsIdempotent() {
	s.NoError(s.store.Delete(s.ctx, "missing"))
	_, _ = s.store.Apply(s.ctx, "k", testCfg, t0)
	s.NoError(s.store.Delete(s.ctx, "k"))
	s.NoError(s.store.Delete(s.ctx, "k"))
	got, _ := s.store.Get(s.ctx, "k")
	s.Nil(got)
}

func (s *InMemoryQuotaStoreSuite) TestApply() {
	for i := range testCfg.MaxRequests {
		res, err := s.store.Apply(s.ctx, "k", testCfg, t0)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(testCfg.MaxRequests-i-1, res.Remaining)
	}

	res, err := s.store.Apply(s.ctx, "k", testCfg, t0.Add(30*time.Second))
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(30, res.RetryAfter)

	got, _ := s.store.Get(s.ctx, "k")
	s.Equal(testCfg.MaxRequests, got.Entry.Count, "denial does not mutate")
}

func (s *InMemoryQuotaStoreSuite) TestApplyConcurrent() {
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Apply(s.ctx, "k:concurrent", testCfg, t0)
			s.NoError(err)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(testCfg.MaxRequests, allowed)
}

func (s *InMemoryQuotaStoreSuite) TestWriteTTL() {
	_, _ = s.store.Apply(s.ctx, "k", testCfg, t0)

	s.wall = t0.Add(time.Minute + 59*time.Second)
	got, _ := s.store.Get(s.ctx, "k")
	s.NotNil(got, "entry is retained through the grace period")

	s.wall = t0.Add(2 * time.Minute)
	got, _ = s.store.Get(s.ctx, "k")
	s.Nil(got, "entry expires after window plus grace")
}

func (s *InMemoryQuotaStoreSuite) TestSweep() {
	_, _ = s.store.Apply(s.ctx, "old", testCfg, t0)
	_, _ = s.store.Apply(s.ctx, "fresh", testCfg, t0.Add(90*time.Second))

	removed, err := s.store.Sweep(s.ctx, t0.Add(2*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, removed)
	s.Equal(1, s.store.Len())

	got, _ := s.store.Get(s.ctx, "fresh")
	s.NotNil(got)
}
