// Package service is the quota façade: Check consumes quota, Status reads it,
// Clear resets it. Every backend goes through the same window rules; backends
// that implement ports.AtomicStore decide natively, the rest go through a
// bounded compare-and-swap loop.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nova/internal/ratelimit/config"
	"nova/internal/ratelimit/metrics"
	"nova/internal/ratelimit/models"
	"nova/internal/ratelimit/observability"
	"nova/internal/ratelimit/ports"
	"nova/internal/ratelimit/window"
	dErrors "nova/pkg/domain-errors"
	"nova/pkg/platform/audit"
	"nova/pkg/platform/circuit"
	"nova/pkg/platform/privacy"
	"nova/pkg/requestcontext"
)

const tracerName = "nova/ratelimit"

// errContention marks a CAS loop that ran out of attempts. It is a store
// failure for the caller but says nothing about backend health.
var errContention = errors.New("quota store contention")

type Service struct {
	store          ports.QuotaStore
	atomic         ports.AtomicStore
	peeker         ports.Peeker
	auditPublisher ports.AuditPublisher
	logger         *slog.Logger
	config         *config.Config
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	breaker        *circuit.Breaker
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithBreaker replaces the store circuit breaker.
func WithBreaker(breaker *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = breaker
	}
}

func New(store ports.QuotaStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("quota store is required")
	}

	svc := &Service{
		store:   store,
		logger:  slog.Default(),
		config:  config.DefaultConfig(),
		tracer:  otel.Tracer(tracerName),
		breaker: circuit.New("quota-store"),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.config == nil {
		return nil, dErrors.New(dErrors.CodeInvalidConfig, "config is required")
	}
	if err := svc.config.Validate(); err != nil {
		return nil, err
	}
	if atomic, ok := store.(ports.AtomicStore); ok {
		svc.atomic = atomic
	}
	if peeker, ok := store.(ports.Peeker); ok {
		svc.peeker = peeker
	}
	return svc, nil
}

// Presets exposes the preset registry the service was configured with.
func (s *Service) Presets() *config.Presets {
	return s.config.Presets
}

// FailurePolicy reports how Check behaves while the store is unavailable.
func (s *Service) FailurePolicy() config.FailurePolicy {
	return s.config.FailurePolicy
}

// Check consumes one unit of quota for (identifier, endpoint) and reports
// whether the request is admitted. A denial is a result, not an error.
//
// Errors: CodeInvalidConfig for a bad cfg, CodeInvalidInput for an empty
// identifier or endpoint, CodeUnavailable when the store cannot decide and the
// policy is fail-closed.
func (s *Service) Check(ctx context.Context, identifier, endpoint string, cfg models.RateLimitConfig) (*models.RateLimitResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := buildKey(identifier, endpoint)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	ctx, span := s.tracer.Start(ctx, "ratelimit.check", trace.WithAttributes(
		attribute.String("ratelimit.endpoint", endpoint),
		attribute.Int("ratelimit.max_requests", cfg.MaxRequests),
		attribute.Int64("ratelimit.window_ms", cfg.WindowMs()),
	))
	defer span.End()

	var result *models.RateLimitResult
	if s.atomic != nil {
		result, err = s.apply(ctx, key, cfg, now)
	} else {
		result, err = s.compareAndSwapLoop(ctx, key, cfg, now)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quota store failure")
		return s.checkFailure(ctx, identifier, endpoint, cfg, now, err)
	}
	s.recordSuccess(ctx)

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", result.Allowed),
		attribute.Int("ratelimit.remaining", result.Remaining),
	)
	if s.metrics != nil {
		s.metrics.RecordDecision(endpoint, result.Allowed)
	}
	if !result.Allowed {
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitExceeded,
			"identifier", identifier,
			"endpoint", endpoint,
			"limit", cfg.MaxRequests,
			"window_seconds", int(cfg.Window.Seconds()),
			"retry_after", result.RetryAfter,
		)
	}
	return result, nil
}

// CheckClass runs Check with the preset registered for class.
func (s *Service) CheckClass(ctx context.Context, identifier, endpoint string, class models.EndpointClass) (*models.RateLimitResult, error) {
	cfg, err := s.preset(class)
	if err != nil {
		return nil, err
	}
	return s.Check(ctx, identifier, endpoint, cfg)
}

// Status reports the current counter without consuming quota. An absent or
// expired entry reports the full quota. Store failures always surface.
func (s *Service) Status(ctx context.Context, identifier, endpoint string, cfg models.RateLimitConfig) (*models.RateLimitResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := buildKey(identifier, endpoint)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	ctx, span := s.tracer.Start(ctx, "ratelimit.status", trace.WithAttributes(
		attribute.String("ratelimit.endpoint", endpoint),
	))
	defer span.End()

	result, err := s.peek(ctx, key, cfg, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quota store failure")
		return nil, s.storeFailure(ctx, "status", err)
	}
	s.recordSuccess(ctx)
	return result, nil
}

// peek previews a decision. Stores that decide on their own clock also
// preview on it, so Status agrees with the next Check.
func (s *Service) peek(ctx context.Context, key string, cfg models.RateLimitConfig, now time.Time) (*models.RateLimitResult, error) {
	if s.peeker == nil {
		current, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		var entry *models.RateLimitEntry
		if current != nil {
			entry = &current.Entry
		}
		result := window.Peek(now, entry, cfg)
		return &result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "quota_store.peek")
	defer span.End()

	started := time.Now()
	result, err := s.peeker.Peek(ctx, key, cfg)
	s.observeStore("peek", started, err)
	return result, err
}

// StatusClass runs Status with the preset registered for class.
func (s *Service) StatusClass(ctx context.Context, identifier, endpoint string, class models.EndpointClass) (*models.RateLimitResult, error) {
	cfg, err := s.preset(class)
	if err != nil {
		return nil, err
	}
	return s.Status(ctx, identifier, endpoint, cfg)
}

// Clear deletes the counter for (identifier, endpoint). Clearing an absent
// key succeeds. Store failures always surface.
func (s *Service) Clear(ctx context.Context, identifier, endpoint string) error {
	key, err := buildKey(identifier, endpoint)
	if err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "ratelimit.clear", trace.WithAttributes(
		attribute.String("ratelimit.endpoint", endpoint),
	))
	defer span.End()

	if err := s.delete(ctx, key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quota store failure")
		return s.storeFailure(ctx, "clear", err)
	}
	s.recordSuccess(ctx)

	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitCleared,
		"identifier", identifier,
		"endpoint", endpoint,
		"actor_id", requestcontext.UserID(ctx),
	)
	return nil
}

// Ping reports store health for readiness probes. Stores without a health
// check are assumed reachable.
func (s *Service) Ping(ctx context.Context) error {
	pinger, ok := s.store.(ports.Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	if err := pinger.Ping(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limit store unavailable")
	}
	return nil
}

// IsStoreUnavailable reports whether err means the quota store could not decide.
func IsStoreUnavailable(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnavailable)
}

// IsInvalidConfig reports whether err was caused by a rejected quota config.
func IsInvalidConfig(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeInvalidConfig)
}

func (s *Service) preset(class models.EndpointClass) (models.RateLimitConfig, error) {
	cfg, ok := s.config.Presets.Get(class)
	if !ok {
		return models.RateLimitConfig{}, dErrors.New(dErrors.CodeInvalidConfig, "no preset for endpoint class "+class.String())
	}
	return cfg, nil
}

func (s *Service) apply(ctx context.Context, key string, cfg models.RateLimitConfig, now time.Time) (*models.RateLimitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "quota_store.apply")
	defer span.End()

	started := time.Now()
	result, err := s.atomic.Apply(ctx, key, cfg, now)
	s.observeStore("apply", started, err)
	return result, err
}

// compareAndSwapLoop is the read-decide-write cycle for stores without native
// atomics. Only a lost CAS is retried; any store error ends the loop at once
// because the write may or may not have landed.
func (s *Service) compareAndSwapLoop(ctx context.Context, key string, cfg models.RateLimitConfig, now time.Time) (*models.RateLimitResult, error) {
	bo := s.newBackOff()

	for attempt := 1; ; attempt++ {
		current, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}

		var entry *models.RateLimitEntry
		var version int64
		if current != nil {
			entry = &current.Entry
			version = current.Version
		}

		decision := window.Apply(now, entry, cfg)
		if !decision.Write {
			return &decision.Result, nil
		}

		ttl := window.TTL(now, decision.Next.WindowResetAt, s.config.Grace)
		swapped, err := s.compareAndSwap(ctx, key, version, decision.Next, ttl)
		if err != nil {
			return nil, err
		}
		if swapped {
			return &decision.Result, nil
		}

		if s.metrics != nil {
			s.metrics.IncrementCASConflicts()
		}
		if attempt >= s.config.MaxAttempts {
			return nil, fmt.Errorf("%w: lost %d compare-and-swap attempts on %s", errContention, attempt, key)
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.RetryBaseDelay
	bo.MaxInterval = s.config.RetryMaxDelay
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (s *Service) get(ctx context.Context, key string) (*models.VersionedEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "quota_store.get")
	defer span.End()

	started := time.Now()
	entry, err := s.store.Get(ctx, key)
	s.observeStore("get", started, err)
	return entry, err
}

func (s *Service) compareAndSwap(ctx context.Context, key string, version int64, entry models.RateLimitEntry, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "quota_store.compare_and_swap", trace.WithAttributes(
		attribute.Int64("quota_store.expected_version", version),
	))
	defer span.End()

	started := time.Now()
	swapped, err := s.store.CompareAndSwap(ctx, key, version, entry, ttl)
	s.observeStore("compare_and_swap", started, err)
	return swapped, err
}

func (s *Service) delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "quota_store.delete")
	defer span.End()

	started := time.Now()
	err := s.store.Delete(ctx, key)
	s.observeStore("delete", started, err)
	return err
}

func (s *Service) observeStore(op string, started time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveStore(op, started, err)
	}
}

// checkFailure applies the failure policy to a Check that the store could
// not decide.
func (s *Service) checkFailure(ctx context.Context, identifier, endpoint string, cfg models.RateLimitConfig, now time.Time, err error) (*models.RateLimitResult, error) {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ctx.Err()
	}
	unavailable := s.storeFailure(ctx, "check", err)

	if s.config.FailurePolicy != config.FailOpen {
		return nil, unavailable
	}

	s.logger.ErrorContext(ctx, "quota store unavailable, admitting request without a quota check",
		"identifier", privacy.AnonymizeIP(identifier),
		"endpoint", endpoint,
		"failure_policy", string(config.FailOpen),
		"error", err,
	)
	if s.metrics != nil {
		s.metrics.IncrementDegraded()
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests,
		ResetAt:   now.Add(cfg.Window),
		Degraded:  true,
	}, nil
}

// storeFailure records the failure with the breaker and returns the error
// callers see.
func (s *Service) storeFailure(ctx context.Context, op string, err error) error {
	if !errors.Is(err, errContention) {
		_, change := s.breaker.RecordFailure()
		if change.Opened {
			if s.metrics != nil {
				s.metrics.SetCircuitOpen(true)
			}
			s.logger.ErrorContext(ctx, "quota store circuit opened", "breaker", s.breaker.Name(), "error", err)
			observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventStoreDegraded,
				"reason", err.Error(),
			)
		}
	}

	s.logger.WarnContext(ctx, "quota store operation failed", "op", op, "error", err)
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limit store unavailable")
}

func (s *Service) recordSuccess(ctx context.Context) {
	_, change := s.breaker.RecordSuccess()
	if !change.Closed {
		return
	}
	if s.metrics != nil {
		s.metrics.SetCircuitOpen(false)
	}
	s.logger.InfoContext(ctx, "quota store circuit closed", "breaker", s.breaker.Name())
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventStoreRecovered)
}

func buildKey(identifier, endpoint string) (string, error) {
	if identifier == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	if endpoint == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "endpoint is required")
	}
	if len(identifier) > models.MaxIdentifierLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identifier must be 255 characters or less")
	}
	if len(endpoint) > models.MaxEndpointLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "endpoint must be 128 characters or less")
	}
	key := models.NewRateLimitKey(identifier, endpoint).String()
	if len(key) > models.MaxKeyLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "rate limit key is too long")
	}
	return key, nil
}
