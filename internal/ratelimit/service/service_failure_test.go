package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"nova/internal/ratelimit/config"
	"nova/internal/ratelimit/metrics"
	"nova/internal/ratelimit/models"
	"nova/internal/ratelimit/ports/mocks"
	dErrors "nova/pkg/domain-errors"
	"nova/pkg/platform/audit"
	"nova/pkg/platform/circuit"
	"nova/pkg/platform/sentinel"
	"nova/pkg/requestcontext"
)

var errBackend = errors.New("connection refused")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(policy config.FailurePolicy) *config.Config {
	cfg := config.DefaultConfig()
	cfg.FailurePolicy = policy
	cfg.MaxAttempts = 3
	cfg.RetryBaseDelay = 0
	cfg.RetryMaxDelay = 0
	cfg.StoreTimeout = 50 * time.Millisecond
	return cfg
}

// atomicStore combines the generated mocks into a store offering Apply.
type atomicStore struct {
	*mocks.MockQuotaStore
	apply *mocks.MockAtomicStore
}

func (a atomicStore) Apply(ctx context.Context, key string, cfg models.RateLimitConfig, now time.Time) (*models.RateLimitResult, error) {
	return a.apply.Apply(ctx, key, cfg, now)
}

func TestCheck_FailurePolicy(t *testing.T) {
	unavailable := func(store *mocks.MockQuotaStore) {
		store.EXPECT().Get(gomock.Any(), gomock.Any()).
			Return(nil, errors.Join(sentinel.ErrUnavailable, errBackend))
	}

	t.Run("fail closed surfaces store unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockQuotaStore(ctrl)
		unavailable(store)

		svc, err := New(store, WithConfig(testConfig(config.FailClosed)), WithLogger(quietLogger()))
		require.NoError(t, err)

		result, err := svc.Check(context.Background(), "u1", "ai", threePerMinute)
		require.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, IsStoreUnavailable(err))
		assert.False(t, IsInvalidConfig(err))
		assert.ErrorIs(t, err, errBackend)
	})

	t.Run("fail open admits with degraded result", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockQuotaStore(ctrl)
		unavailable(store)
		m := metrics.NewWithRegistry(prometheus.NewRegistry())

		svc, err := New(store, WithConfig(testConfig(config.FailOpen)), WithLogger(quietLogger()), WithMetrics(m))
		require.NoError(t, err)

		result, err := svc.Check(context.Background(), "u1", "ai", threePerMinute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.True(t, result.Degraded)
		assert.Equal(t, 3, result.Limit)
		assert.Equal(t, 1.0, promtest.ToFloat64(m.Degraded))
	})

	t.Run("status ignores fail open", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockQuotaStore(ctrl)
		unavailable(store)

		svc, err := New(store, WithConfig(testConfig(config.FailOpen)), WithLogger(quietLogger()))
		require.NoError(t, err)

		_, err = svc.Status(context.Background(), "u1", "ai", threePerMinute)
		assert.True(t, IsStoreUnavailable(err))
	})

	t.Run("clear ignores fail open", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockQuotaStore(ctrl)
		store.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(errBackend)

		svc, err := New(store, WithConfig(testConfig(config.FailOpen)), WithLogger(quietLogger()))
		require.NoError(t, err)

		err = svc.Clear(context.Background(), "u1", "ai")
		assert.True(t, IsStoreUnavailable(err))
	})

	t.Run("invalid config is never degraded", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockQuotaStore(ctrl)

		svc, err := New(store, WithConfig(testConfig(config.FailOpen)), WithLogger(quietLogger()))
		require.NoError(t, err)

		_, err = svc.Check(context.Background(), "u1", "ai", models.RateLimitConfig{MaxRequests: -1, Window: time.Second})
		assert.True(t, IsInvalidConfig(err))
	})
}

func TestCheck_CompareAndSwap(t *testing.T) {
	t.Run("retries lost swaps against the latest version", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockQuotaStore(ctrl)
		key := models.NewRateLimitKey("u1", "ai").String()
		reset := time.Now().Add(time.Minute)

		gomock.InOrder(
			store.EXPECT().Get(gomock.Any(), key).Return(nil, nil),
			store.EXPECT().CompareAndSwap(gomock.Any(), key, int64(0), gomock.Any(), gomock.Any()).Return(false, nil),
			store.EXPECT().Get(gomock.Any(), key).Return(&models.VersionedEntry{
				Entry:   models.RateLimitEntry{Count: 1, WindowResetAt: reset},
				Version: 7,
			}, nil),
			store.EXPECT().CompareAndSwap(gomock.Any(), key, int64(7), models.RateLimitEntry{Count: 2, WindowResetAt: reset}, gomock.Any()).Return(true, nil),
		)

		svc, err := New(store, WithConfig(testConfig(config.FailClosed)), WithLogger(quietLogger()))
		require.NoError(t, err)

		result, err := svc.Check(context.Background(), "u1", "ai", threePerMinute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 1, result.Remaining)
	})

	t.Run("exhausted attempts surface store unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockQuotaStore(ctrl)
		store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil).Times(3)
		store.EXPECT().CompareAndSwap(gomock.Any(), gomock.Any(), int64(0), gomock.Any(), gomock.Any()).Return(false, nil).Times(3)
		m := metrics.NewWithRegistry(prometheus.NewRegistry())

		breaker := circuit.New("test", circuit.WithFailureThreshold(1))
		svc, err := New(store,
			WithConfig(testConfig(config.FailClosed)),
			WithLogger(quietLogger()),
			WithMetrics(m),
			WithBreaker(breaker),
		)
		require.NoError(t, err)

		_, err = svc.Check(context.Background(), "u1", "ai", threePerMinute)
		assert.True(t, IsStoreUnavailable(err))
		assert.Equal(t, 3.0, promtest.ToFloat64(m.CASConflicts))
		assert.False(t, breaker.IsOpen(), "contention does not trip the breaker")
	})

	t.Run("store error during swap is not retried", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockQuotaStore(ctrl)
		store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)
		store.EXPECT().CompareAndSwap(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errBackend).Times(1)

		svc, err := New(store, WithConfig(testConfig(config.FailClosed)), WithLogger(quietLogger()))
		require.NoError(t, err)

		_, err = svc.Check(context.Background(), "u1", "ai", threePerMinute)
		assert.True(t, IsStoreUnavailable(err))
	})

	t.Run("denial skips the write", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockQuotaStore(ctrl)
		store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(&models.VersionedEntry{
			Entry:   models.RateLimitEntry{Count: 3, WindowResetAt: time.Now().Add(30 * time.Second)},
			Version: 2,
		}, nil)

		svc, err := New(store, WithConfig(testConfig(config.FailClosed)), WithLogger(quietLogger()))
		require.NoError(t, err)

		result, err := svc.Check(context.Background(), "u1", "ai", threePerMinute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Positive(t, result.RetryAfter)
	})
}

func TestCheck_StoreTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockQuotaStore(ctrl)
	store.EXPECT().Get(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string) (*models.VersionedEntry, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	svc, err := New(store, WithConfig(testConfig(config.FailClosed)), WithLogger(quietLogger()))
	require.NoError(t, err)

	started := time.Now()
	_, err = svc.Check(context.Background(), "u1", "ai", threePerMinute)
	assert.True(t, IsStoreUnavailable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)
}

func TestCheck_AtomicPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	base := mocks.NewMockQuotaStore(ctrl)
	apply := mocks.NewMockAtomicStore(ctrl)
	publisher := mocks.NewMockAuditPublisher(ctrl)

	denied := &models.RateLimitResult{Allowed: false, Limit: 3, ResetAt: time.Now().Add(time.Minute), RetryAfter: 60}
	apply.EXPECT().Apply(gomock.Any(), models.NewRateLimitKey("203.0.113.9", "ai").String(), threePerMinute, gomock.Any()).Return(denied, nil)
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Do(func(_ context.Context, event audit.SecurityEvent) {
		assert.Equal(t, string(audit.EventRateLimitExceeded), event.Action)
		assert.Equal(t, "203.0.113.0/24", event.Subject)
		assert.Equal(t, "ai", event.Endpoint)
	})

	svc, err := New(atomicStore{MockQuotaStore: base, apply: apply},
		WithConfig(testConfig(config.FailClosed)),
		WithLogger(quietLogger()),
		WithAuditPublisher(publisher),
	)
	require.NoError(t, err)

	result, err := svc.Check(context.Background(), "203.0.113.9", "ai", threePerMinute)
	require.NoError(t, err)
	assert.Same(t, denied, result)
}

func TestCheck_RejectsOversizedKeys(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		endpoint   string
	}{
		{name: "identifier over 255 characters", identifier: models.PrincipalIdentifier(strings.Repeat("a", 251)), endpoint: "ai"},
		{name: "endpoint over 128 characters", identifier: "u1", endpoint: strings.Repeat("e", 129)},
		{name: "escaping pushes the key past the column width", identifier: strings.Repeat(":", 200), endpoint: "ai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := mocks.NewMockQuotaStore(ctrl)
			breaker := circuit.New("test", circuit.WithFailureThreshold(1))

			svc, err := New(store,
				WithConfig(testConfig(config.FailOpen)),
				WithLogger(quietLogger()),
				WithBreaker(breaker),
			)
			require.NoError(t, err)

			result, err := svc.Check(context.Background(), tt.identifier, tt.endpoint, threePerMinute)
			assert.Nil(t, result)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			assert.False(t, IsStoreUnavailable(err))
			assert.False(t, breaker.IsOpen())
		})
	}
}

// peekingStore combines the generated mocks into a store offering Peek.
type peekingStore struct {
	*mocks.MockQuotaStore
	peek *mocks.MockPeeker
}

func (p peekingStore) Peek(ctx context.Context, key string, cfg models.RateLimitConfig) (*models.RateLimitResult, error) {
	return p.peek.Peek(ctx, key, cfg)
}

func TestStatus_PrefersStorePeek(t *testing.T) {
	t.Run("store clock wins over the request clock", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		base := mocks.NewMockQuotaStore(ctrl)
		peek := mocks.NewMockPeeker(ctrl)

		// The entry looks expired to the request clock but the store still
		// counts it, so Status must report the store's denial.
		denied := &models.RateLimitResult{Allowed: false, Limit: 1, ResetAt: time.Now().Add(5 * time.Second), RetryAfter: 5}
		peek.EXPECT().Peek(gomock.Any(), models.NewRateLimitKey("u1", "ai").String(), threePerMinute).Return(denied, nil)
		base.EXPECT().Get(gomock.Any(), gomock.Any()).Times(0)

		svc, err := New(peekingStore{MockQuotaStore: base, peek: peek},
			WithConfig(testConfig(config.FailClosed)), WithLogger(quietLogger()))
		require.NoError(t, err)

		ctx := requestcontext.WithTime(context.Background(), time.Now().Add(10*time.Minute))
		result, err := svc.Status(ctx, "u1", "ai", threePerMinute)
		require.NoError(t, err)
		assert.Same(t, denied, result)
	})

	t.Run("peek failure surfaces as unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		base := mocks.NewMockQuotaStore(ctrl)
		peek := mocks.NewMockPeeker(ctrl)
		peek.EXPECT().Peek(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.Join(sentinel.ErrUnavailable, errBackend))

		svc, err := New(peekingStore{MockQuotaStore: base, peek: peek},
			WithConfig(testConfig(config.FailOpen)), WithLogger(quietLogger()))
		require.NoError(t, err)

		_, err = svc.Status(context.Background(), "u1", "ai", threePerMinute)
		assert.True(t, IsStoreUnavailable(err))
	})
}

func TestClear_EmitsAudit(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockQuotaStore(ctrl)
	publisher := mocks.NewMockAuditPublisher(ctrl)

	store.EXPECT().Delete(gomock.Any(), models.NewRateLimitKey("u1", "ai").String()).Return(nil)
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Do(func(_ context.Context, event audit.SecurityEvent) {
		assert.Equal(t, string(audit.EventRateLimitCleared), event.Action)
		assert.Equal(t, audit.SeverityInfo, event.Severity)
	})

	svc, err := New(store, WithLogger(quietLogger()), WithAuditPublisher(publisher))
	require.NoError(t, err)
	require.NoError(t, svc.Clear(context.Background(), "u1", "ai"))
}

func TestBreakerTransitions(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockQuotaStore(ctrl)
	publisher := mocks.NewMockAuditPublisher(ctrl)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errBackend).Times(3)
	store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)

	var events []string
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Do(func(_ context.Context, event audit.SecurityEvent) {
		events = append(events, event.Action)
	}).AnyTimes()

	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
	svc, err := New(store,
		WithConfig(testConfig(config.FailClosed)),
		WithLogger(quietLogger()),
		WithAuditPublisher(publisher),
		WithMetrics(m),
		WithBreaker(breaker),
	)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Status(context.Background(), "u1", "ai", threePerMinute)
		require.Error(t, err)
	}
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.CircuitOpen))

	_, err = svc.Status(context.Background(), "u1", "ai", threePerMinute)
	require.NoError(t, err)
	assert.False(t, breaker.IsOpen())
	assert.Equal(t, 0.0, promtest.ToFloat64(m.CircuitOpen))

	assert.Equal(t, []string{
		string(audit.EventStoreDegraded),
		string(audit.EventStoreRecovered),
	}, events)
}
