package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/jwalitptl/push-api/pkg/logger"
)

var (
	ErrNilTask     = errors.New("task cannot be nil")
	ErrQueueClosed = errors.New("queue is closed")
)

// Task is one unit of deferred work. The context it receives is cancelled
// on shutdown; tasks are expected to abort cooperatively and to handle
// their own errors.
type Task func(ctx context.Context)

// TaskQueue is a FIFO work queue with a single consumer goroutine. It
// decouples request handling from long-running dispatch work: Enqueue
// returns immediately, tasks run one at a time in arrival order. The
// queue is owned and started by the composition root, not package state.
type TaskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	notify chan struct{}
	closed bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool

	logger *logger.Logger
}

func NewTaskQueue(logger *logger.Logger) *TaskQueue {
	return &TaskQueue{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Enqueue appends a task and returns immediately. It fails only for a nil
// task or a stopped queue; it never blocks on queue depth.
func (q *TaskQueue) Enqueue(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Start runs the consumer loop until ctx is cancelled or Stop is called.
// A task that panics is recovered and logged; the loop never terminates
// because of an individual task.
func (q *TaskQueue) Start(ctx context.Context) {
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()
	go q.run(ctx)
}

func (q *TaskQueue) run(ctx context.Context) {
	defer close(q.done)

	for {
		task, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			case <-q.notify:
				continue
			}
		}

		q.execute(ctx, task)

		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		default:
		}
	}
}

func (q *TaskQueue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *TaskQueue) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error(nil, "task panicked", "panic", r)
		}
	}()
	task(ctx)
}

// Stop closes the queue for new work and stops the consumer loop after
// the in-flight task returns. Safe to call more than once.
func (q *TaskQueue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		started := q.started
		q.mu.Unlock()
		close(q.stop)
		if started {
			<-q.done
		}
	})
}

// Len reports the number of tasks waiting to run.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
