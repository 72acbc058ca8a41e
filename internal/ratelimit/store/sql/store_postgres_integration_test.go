//go:build integration

package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"nova/internal/ratelimit/models"
	"nova/pkg/testutil/containers"
)

type PostgresQuotaStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *SQLQuotaStore
	ctx      context.Context
}

func TestPostgresQuotaStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresQuotaStoreSuite))
}

func (s *PostgresQuotaStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.GetManager().GetPostgres(s.T())

	var err error
	s.store, err = New(s.postgres.DB, Postgres)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Migrate(s.ctx))
}

func (s *PostgresQuotaStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(s.ctx, "rate_limit_entries"))
}

func (s *PostgresQuotaStoreSuite) TestConcurrentVersionedUpdates() {
	key := models.NewRateLimitKey("user-1", "generate").String()
	reset := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	ok, err := s.store.CompareAndSwap(s.ctx, key, 0, models.RateLimitEntry{Count: 1, WindowResetAt: reset}, 2*time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.store.CompareAndSwap(s.ctx, key, 1, models.RateLimitEntry{Count: 2, WindowResetAt: reset}, 2*time.Minute)
			s.NoError(err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins, "exactly one writer may win a version")

	got, err := s.store.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(2, got.Entry.Count)
	s.Equal(int64(2), got.Version)
}

func (s *PostgresQuotaStoreSuite) TestSweep() {
	past := time.Now().Add(-5 * time.Minute)
	key := models.NewRateLimitKey("user-2", "generate").String()
	_, _ = s.store.CompareAndSwap(s.ctx, key, 0, models.RateLimitEntry{Count: 1, WindowResetAt: past}, time.Minute)

	removed, err := s.store.Sweep(s.ctx, time.Now())
	s.Require().NoError(err)
	s.Equal(1, removed)
}
