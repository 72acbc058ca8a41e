package consul

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"nova/internal/ratelimit/models"
	"nova/pkg/platform/sentinel"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type ConsulQuotaStoreSuite struct {
	suite.Suite
	agent  *fakeAgent
	server *httptest.Server
	store  *ConsulQuotaStore
	ctx    context.Context
}

func TestConsulQuotaStoreSuite(t *testing.T) {
	suite.Run(t, new(ConsulQuotaStoreSuite))
}

func (s *ConsulQuotaStoreSuite) SetupTest() {
	s.agent = newFakeAgent()
	s.server = httptest.NewServer(s.agent)
	client, err := Dial(strings.TrimPrefix(s.server.URL, "http://"), "")
	s.Require().NoError(err)
	s.store, err = New(client, WithGrace(time.Minute))
	s.Require().NoError(err)
	s.ctx = context.Background()
}

func (s *ConsulQuotaStoreSuite) TearDownTest() {
	s.server.Close()
}

func (s *ConsulQuotaStoreSuite) TestCompareAndSwap() {
	key := models.NewRateLimitKey("203.0.113.7", "generate-playbook").String()
	entry := models.RateLimitEntry{Count: 1, WindowResetAt: t0.Add(time.Minute)}

	s.Run("create only when absent", func() {
		ok, err := s.store.CompareAndSwap(s.ctx, key, 0, entry, 0)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.store.CompareAndSwap(s.ctx, key, 0, entry, 0)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("update requires the current ModifyIndex", func() {
		got, err := s.store.Get(s.ctx, key)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(1, got.Entry.Count)
		s.True(got.Entry.WindowResetAt.Equal(entry.WindowResetAt))

		next := entry
		next.Count = 2
		ok, err := s.store.CompareAndSwap(s.ctx, key, got.Version, next, 0)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.store.CompareAndSwap(s.ctx, key, got.Version, next, 0)
		s.Require().NoError(err)
		s.False(ok, "stale index must lose")

		latest, err := s.store.Get(s.ctx, key)
		s.Require().NoError(err)
		s.Equal(2, latest.Entry.Count)
		s.Greater(latest.Version, got.Version)
	})
}

func (s *ConsulQuotaStoreSuite) TestGetAbsentAndDelete() {
	got, err := s.store.Get(s.ctx, "rate_limit:nobody:login")
	s.Require().NoError(err)
	s.Nil(got)

	s.NoError(s.store.Delete(s.ctx, "rate_limit:nobody:login"))

	_, err = s.store.CompareAndSwap(s.ctx, "rate_limit:u:login", 0, models.RateLimitEntry{Count: 1, WindowResetAt: t0}, 0)
	s.Require().NoError(err)
	s.NoError(s.store.Delete(s.ctx, "rate_limit:u:login"))
	s.Empty(s.agent.keys())
}

func (s *ConsulQuotaStoreSuite) TestSweepRemovesOnlyEvictable() {
	closed := models.RateLimitEntry{Count: 3, WindowResetAt: t0.Add(-2 * time.Minute)}
	open := models.RateLimitEntry{Count: 1, WindowResetAt: t0.Add(30 * time.Second)}
	inGrace := models.RateLimitEntry{Count: 1, WindowResetAt: t0.Add(-30 * time.Second)}

	for key, entry := range map[string]models.RateLimitEntry{
		"rate_limit:a:login": closed,
		"rate_limit:b:login": open,
		"rate_limit:c:login": inGrace,
	} {
		_, err := s.store.CompareAndSwap(s.ctx, key, 0, entry, 0)
		s.Require().NoError(err)
	}

	removed, err := s.store.Sweep(s.ctx, t0)
	s.Require().NoError(err)
	s.Equal(1, removed)
	s.Equal([]string{DefaultPrefix + "rate_limit:b:login", DefaultPrefix + "rate_limit:c:login"}, s.agent.keys())
}

func (s *ConsulQuotaStoreSuite) TestUnavailable() {
	s.NoError(s.store.Ping(s.ctx))

	s.agent.setDown(true)
	_, err := s.store.Get(s.ctx, "rate_limit:u:login")
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.ErrorIs(s.store.Ping(s.ctx), sentinel.ErrUnavailable)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestPathEscapesKey(t *testing.T) {
	client, err := api.NewClient(api.DefaultConfig())
	require.NoError(t, err)

	store, err := New(client, WithPrefix("/custom/"))
	require.NoError(t, err)

	key := models.NewRateLimitKey("10.0.0.1", "/api/generate").String()
	path := store.path(key)
	assert.Equal(t, "custom/", path[:len("custom/")])
	assert.NotContains(t, path[len("custom/"):], "/")
}
