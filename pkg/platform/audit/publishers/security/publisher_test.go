package security

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	audit "nova/pkg/platform/audit"
)

type recordingSink struct {
	mu       sync.Mutex
	events   []audit.SecurityEvent
	err      error
	attempts int
}

func (s *recordingSink) Write(_ context.Context, events []audit.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingSink) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *recordingSink) snapshot() []audit.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.SecurityEvent(nil), s.events...)
}

func TestPublisher_CloseDrainsBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	p := New(sink, WithFlushInterval(time.Hour))

	p.Emit(context.Background(), audit.SecurityEvent{Action: string(audit.EventRateLimitExceeded), Subject: "user-1"})
	p.Emit(context.Background(), audit.SecurityEvent{Action: string(audit.EventRateLimitCleared), Subject: "user-1"})

	require.NoError(t, p.Close(context.Background()))

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, audit.SeverityWarning, events[0].Severity)
	assert.Equal(t, audit.SeverityInfo, events[1].Severity)
}

func TestPublisher_FlushesWhenBatchFills(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	p := New(sink, WithBatchSize(2), WithFlushInterval(time.Hour))
	defer func() { _ = p.Close(context.Background()) }()

	p.Emit(context.Background(), audit.SecurityEvent{Action: "a"})
	p.Emit(context.Background(), audit.SecurityEvent{Action: "b"})

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_CloseReportsSinkError(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{err: errors.New("broker down")}
	p := New(sink, WithFlushInterval(time.Hour))
	p.Emit(context.Background(), audit.SecurityEvent{Action: "a"})

	err := p.Close(context.Background())
	require.Error(t, err)
	assert.Empty(t, sink.snapshot())
	assert.Equal(t, 1, p.Pending())
}

func TestPublisher_RedeliversAfterSinkFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{err: errors.New("broker down")}
	p := New(sink, WithFlushInterval(20*time.Millisecond))

	p.Emit(context.Background(), audit.SecurityEvent{Action: "a", Subject: "user-1"})
	p.Emit(context.Background(), audit.SecurityEvent{Action: "b", Subject: "user-1"})

	require.Eventually(t, func() bool {
		return sink.writes() >= 2
	}, time.Second, 5*time.Millisecond)

	sink.setErr(nil)
	require.NoError(t, p.Close(context.Background()))

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Action)
	assert.Equal(t, "b", events[1].Action)
	assert.Zero(t, p.Dropped())
}

func TestPublisher_NilEmitIsNoop(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.Emit(context.Background(), audit.SecurityEvent{Action: "a"})
	})
}
