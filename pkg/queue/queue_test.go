package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/push-api/pkg/logger"
	"github.com/jwalitptl/push-api/pkg/queue"
)

func newTestQueue() *queue.TaskQueue {
	return queue.NewTaskQueue(logger.NewLogger(nil))
}

func TestEnqueueNilTask(t *testing.T) {
	q := newTestQueue()
	err := q.Enqueue(nil)
	assert.ErrorIs(t, err, queue.ErrNilTask)
}

func TestTasksRunInFIFOOrder(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		err := q.Enqueue(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			finished := len(order) == 5
			mu.Unlock()
			if finished {
				close(done)
			}
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPanickingTaskDoesNotStopLoop(t *testing.T) {
	q := newTestQueue()

	done := make(chan struct{})
	require.NoError(t, q.Enqueue(func(ctx context.Context) {
		panic("boom")
	}))
	require.NoError(t, q.Enqueue(func(ctx context.Context) {
		close(done)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not survive the panicking task")
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	q := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Stop()

	err := q.Enqueue(func(ctx context.Context) {})
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
}

func TestStopIsIdempotent(t *testing.T) {
	q := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Stop()
	q.Stop()
}

func TestInFlightTaskSeesCancellation(t *testing.T) {
	q := newTestQueue()

	started := make(chan struct{})
	observed := make(chan struct{})
	require.NoError(t, q.Enqueue(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(observed)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	cancel()

	select {
	case <-observed:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not observe cancellation")
	}
}
