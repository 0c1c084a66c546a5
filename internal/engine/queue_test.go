package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFO(t *testing.T) {
	q := newTaskQueue()

	var got []int
	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(func() { got = append(got, i) }))
	}
	assert.Equal(t, 3, q.Len())

	for {
		next, ok := q.TryDequeue()
		if !ok {
			break
		}
		next()
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestTaskQueue_TryDequeue_Empty(t *testing.T) {
	q := newTaskQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestTaskQueue_CloseRejectsAndDrains(t *testing.T) {
	q := newTaskQueue()
	require.True(t, q.Enqueue(func() {}))

	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(func() {}), "closed queue rejects tasks")
	assert.False(t, q.Drained(), "queued task still pending")

	_, ok := q.TryDequeue()
	require.True(t, ok)
	assert.True(t, q.Drained())

	// The wake-up buffered by the first Enqueue is still delivered.
	_, open := <-q.Wait()
	assert.True(t, open, "pending signal survives Close")
	_, open = <-q.Wait()
	assert.False(t, open, "signal channel closes with the queue")
}

func TestTaskQueue_ConcurrentEnqueue(t *testing.T) {
	q := newTaskQueue()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(func() {})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
}
