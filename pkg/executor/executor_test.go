package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryTaskRunsExactlyOnce(t *testing.T) {
	e := New(4)

	const tasks = 500
	var counter atomic.Int64
	var wg sync.WaitGroup

	wg.Add(tasks)
	for i := 0; i < tasks; i++ {
		ok := e.Enqueue(func() {
			counter.Add(1)
			wg.Done()
		})
		require.True(t, ok)
	}

	wg.Wait()
	e.Shutdown()
	assert.Equal(t, int64(tasks), counter.Load())
}

func TestShutdownDrainsQueue(t *testing.T) {
	// One slow worker so the queue is guaranteed to be non-empty when
	// Shutdown is called.
	e := New(1)

	const tasks = 50
	var counter atomic.Int64

	for i := 0; i < tasks; i++ {
		ok := e.Enqueue(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
		require.True(t, ok)
	}

	e.Shutdown()
	assert.Equal(t, int64(tasks), counter.Load(), "tasks enqueued before shutdown must drain")
}

func TestEnqueueAfterShutdownFails(t *testing.T) {
	e := New(2)
	e.Shutdown()

	ok := e.Enqueue(func() { t.Error("task ran after shutdown") })
	assert.False(t, ok)
}

func TestShutdownIsIdempotent(t *testing.T) {
	e := New(2)
	e.Shutdown()
	e.Shutdown()
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	e := New(1)

	e.Enqueue(func() { panic("boom") })

	done := make(chan struct{})
	ok := e.Enqueue(func() { close(done) })
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panicking task")
	}
	e.Shutdown()
}

func TestFIFOOrderWithSingleWorker(t *testing.T) {
	e := New(1)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	const tasks = 100
	wg.Add(tasks)
	for i := 0; i < tasks; i++ {
		i := i
		e.Enqueue(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	wg.Wait()
	e.Shutdown()

	require.Len(t, order, tasks)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}
