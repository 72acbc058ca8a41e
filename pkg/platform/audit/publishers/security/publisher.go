// Package security buffers security audit events and delivers them in batches
// to an audit.Sink without blocking the request path.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "nova/pkg/platform/audit"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
)

// Publisher accepts events on the hot path and flushes them from a single
// background goroutine. A full buffer drops the oldest events.
type Publisher struct {
	queue         *eventQueue
	sink          audit.Sink
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithBufferSize(size int) Option {
	return func(p *Publisher) {
		p.queue = newEventQueue(size)
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// New starts a publisher that delivers to sink. Call Close to flush and stop it.
func New(sink audit.Sink, opts ...Option) *Publisher {
	p := &Publisher{
		queue:         newEventQueue(0),
		sink:          sink,
		logger:        slog.Default(),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Emit enqueues an event. Missing ID, timestamp and severity are filled in.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if p == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = audit.AuditEvent(event.Action).Severity()
	}
	if p.queue.push(event) >= p.batchSize {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Pending reports how many events are waiting to be flushed.
func (p *Publisher) Pending() int {
	return p.queue.size()
}

// Dropped reports how many events were discarded because the buffer overflowed.
func (p *Publisher) Dropped() int64 {
	return p.queue.droppedCount()
}

// Close stops the flush loop and drains whatever is still buffered. Events
// the sink refused stay pending.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	select {
	case <-p.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.flush(ctx)
}

func (p *Publisher) run() {
	defer close(p.stopped)

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		case <-p.wake:
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.flushInterval)
		if err := p.flush(ctx); err != nil {
			p.logger.Warn("failed to deliver security events", "error", err)
		}
		cancel()
	}
}

func (p *Publisher) flush(ctx context.Context) error {
	for {
		batch := p.queue.take(p.batchSize)
		if len(batch) == 0 {
			return nil
		}
		if err := p.sink.Write(ctx, batch); err != nil {
			p.queue.requeue(batch)
			return err
		}
	}
}

// LogSink writes security events to a structured logger. It is the default
// sink when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, events []audit.SecurityEvent) error {
	for _, e := range events {
		s.logger.InfoContext(ctx, "security_event",
			"event_id", e.ID,
			"action", e.Action,
			"subject", e.Subject,
			"endpoint", e.Endpoint,
			"reason", e.Reason,
			"request_id", e.RequestID,
			"actor_id", e.ActorID,
			"severity", string(e.Severity),
			"timestamp", e.Timestamp,
		)
	}
	return nil
}
