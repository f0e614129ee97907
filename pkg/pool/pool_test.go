package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntPool(n int) *Pool[int] {
	handles := make([]int, n)
	for i := range handles {
		handles[i] = i
	}
	return New(handles)
}

func TestAcquireUpToSize(t *testing.T) {
	p := newIntPool(2)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := newIntPool(1)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan int)
	go func() {
		got, err := p.Acquire(ctx)
		if err != nil {
			return
		}
		acquired <- got
	}()

	select {
	case got := <-acquired:
		t.Fatalf("second acquire succeeded before release: %d", got)
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(h)

	select {
	case got := <-acquired:
		assert.Equal(t, h, got)
	case <-time.After(time.Second):
		t.Fatal("second acquire did not wake after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := newIntPool(1)

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentCheckoutNeverExceedsSize(t *testing.T) {
	const size = 4
	const goroutines = 32
	const iterations = 50

	p := newIntPool(size)
	ctx := context.Background()

	var current, peak atomic.Int64
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				h, err := p.Acquire(ctx)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				now := current.Add(1)
				for {
					old := peak.Load()
					if now <= old || peak.CompareAndSwap(old, now) {
						break
					}
				}
				current.Add(-1)
				p.Release(h)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(size))
}

func TestCloseClosesAllHandles(t *testing.T) {
	p := newIntPool(3)

	var closedCount atomic.Int64
	err := p.Close(func(int) error {
		closedCount.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), closedCount.Load())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, p.Close(nil), ErrClosed)
}

func TestAcquireUnblocksOnClose(t *testing.T) {
	p := newIntPool(1)

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close(nil))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire did not observe close")
	}
}
