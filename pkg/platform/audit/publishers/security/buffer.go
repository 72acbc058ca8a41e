package security

import (
	"sync"

	audit "nova/pkg/platform/audit"
)

const defaultBufferSize = 10000

// eventQueue holds events awaiting delivery. Once limit is reached the
// oldest pending event is discarded for every new one.
type eventQueue struct {
	mu      sync.Mutex
	pending []audit.SecurityEvent
	limit   int
	dropped int64
}

func newEventQueue(limit int) *eventQueue {
	if limit <= 0 {
		limit = defaultBufferSize
	}
	return &eventQueue{limit: limit}
}

func (q *eventQueue) push(event audit.SecurityEvent) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if over := len(q.pending) + 1 - q.limit; over > 0 {
		clear(q.pending[:over])
		q.pending = q.pending[over:]
		q.dropped += int64(over)
	}
	q.pending = append(q.pending, event)
	return len(q.pending)
}

// take detaches up to n events from the front of the queue.
func (q *eventQueue) take(n int) []audit.SecurityEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	n = min(n, len(q.pending))
	out := make([]audit.SecurityEvent, n)
	copy(out, q.pending)
	clear(q.pending[:n])
	q.pending = q.pending[n:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return out
}

// requeue puts an undelivered batch back in front of the queue. When that
// overflows the limit the oldest events, which lead the batch, are dropped.
func (q *eventQueue) requeue(batch []audit.SecurityEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if over := len(batch) + len(q.pending) - q.limit; over > 0 {
		over = min(over, len(batch))
		batch = batch[over:]
		q.dropped += int64(over)
	}
	q.pending = append(append(make([]audit.SecurityEvent, 0, len(batch)+len(q.pending)), batch...), q.pending...)
}

func (q *eventQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *eventQueue) droppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
