package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(2)
	ctx := context.Background()
	a, b := &Batch{NumImages: 1}, &Batch{NumImages: 2}
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))
	require.Equal(t, 2, q.Len())
	require.Equal(t, 2, q.Cap())

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Same(t, a, got)
	got, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Same(t, b, got)
}

func TestQueueTimeout(t *testing.T) {
	q := NewQueue(1)
	start := time.Now()
	_, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrQueueTimeout)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueueCloseWakesBlocked(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &Batch{}))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- q.Enqueue(ctx, &Batch{})
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(t, err, ErrQueueClosed)
	}

	require.ErrorIs(t, q.Enqueue(ctx, &Batch{}), ErrQueueClosed)
	_, err := q.Dequeue(ctx, time.Second)
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueContextCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx, time.Second)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestCoordinator(t *testing.T) {
	c := NewCoordinator(context.Background())
	require.False(t, c.ShouldStop())
	require.NoError(t, c.Cause())

	first := errors.New("first")
	c.RequestStop(first)
	c.RequestStop(errors.New("second"))
	require.True(t, c.ShouldStop())
	require.Equal(t, first, c.Cause())
	<-c.Context().Done()

	orderly := NewCoordinator(context.Background())
	orderly.RequestStop(nil)
	require.True(t, orderly.ShouldStop())
	require.NoError(t, orderly.Cause())
}
