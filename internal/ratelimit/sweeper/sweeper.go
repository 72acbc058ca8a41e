// Package sweeper reclaims storage held by quota entries whose window closed
// more than the grace period ago. Correctness never depends on it: expired
// entries are already treated as absent by every read.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nova/internal/ratelimit/metrics"
	"nova/internal/ratelimit/ports"
)

const DefaultInterval = time.Minute

type Sweeper struct {
	store    ports.Sweepable
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
}

type Option func(*Sweeper)

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

func New(store ports.Sweepable, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("sweepable store is required")
	}
	s := &Sweeper{
		store:    store,
		interval: DefaultInterval,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run sweeps every interval until ctx is cancelled. A failed pass is logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "quota sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "quota sweep failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "quota sweeper stopped")
			return nil
		}
	}
}

// RunOnce performs a single pass and returns how many entries were removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	started := time.Now()
	removed, err := s.store.Sweep(ctx, s.clock())
	if s.metrics != nil {
		s.metrics.RecordSweep(removed, time.Since(started))
	}
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		s.logger.DebugContext(ctx, "quota sweep removed entries", "removed", removed)
	}
	return removed, nil
}
