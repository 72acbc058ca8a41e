package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "nova/pkg/platform/audit"
)

func TestEventQueue(t *testing.T) {
	t.Run("delivers in arrival order", func(t *testing.T) {
		q := newEventQueue(3)
		q.push(audit.SecurityEvent{ID: "a"})
		assert.Equal(t, 2, q.push(audit.SecurityEvent{ID: "b"}))

		got := q.take(10)
		require.Len(t, got, 2)
		assert.Equal(t, []string{"a", "b"}, []string{got[0].ID, got[1].ID})
		assert.Zero(t, q.size())
		assert.Nil(t, q.take(1))
	})

	t.Run("discards the oldest pending event when full", func(t *testing.T) {
		q := newEventQueue(2)
		for _, id := range []string{"a", "b", "c", "d"} {
			q.push(audit.SecurityEvent{ID: id})
		}

		assert.Equal(t, int64(2), q.droppedCount())
		got := q.take(5)
		require.Len(t, got, 2)
		assert.Equal(t, "c", got[0].ID)
		assert.Equal(t, "d", got[1].ID)
	})

	t.Run("partial take leaves the remainder queued", func(t *testing.T) {
		q := newEventQueue(0)
		assert.Equal(t, defaultBufferSize, q.limit)
		for _, id := range []string{"a", "b", "c"} {
			q.push(audit.SecurityEvent{ID: id})
		}

		first := q.take(2)
		require.Len(t, first, 2)
		assert.Equal(t, 1, q.size())
		assert.Equal(t, "c", q.take(2)[0].ID)
	})

	t.Run("requeue restores order ahead of newer events", func(t *testing.T) {
		q := newEventQueue(5)
		q.push(audit.SecurityEvent{ID: "a"})
		q.push(audit.SecurityEvent{ID: "b"})
		batch := q.take(2)
		q.push(audit.SecurityEvent{ID: "c"})

		q.requeue(batch)

		got := q.take(5)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
		assert.Zero(t, q.droppedCount())
	})

	t.Run("requeue past the limit drops the oldest", func(t *testing.T) {
		q := newEventQueue(2)
		q.push(audit.SecurityEvent{ID: "a"})
		q.push(audit.SecurityEvent{ID: "b"})
		batch := q.take(2)
		q.push(audit.SecurityEvent{ID: "c"})

		q.requeue(batch)

		assert.Equal(t, int64(1), q.droppedCount())
		got := q.take(5)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].ID)
		assert.Equal(t, "c", got[1].ID)
	})
}
