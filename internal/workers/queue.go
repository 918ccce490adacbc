package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"archived/internal/models"
)

// ErrQueueFull is returned when the bounded task queue cannot accept
// another batch.
var ErrQueueFull = errors.New("task queue is full")

// Queue is a bounded FIFO of batch tasks feeding a fixed worker pool.
// The pool spins up lazily on the first enqueue and is never shrunk.
// Tasks live only in memory; durability comes from the pending catalog
// rows, not from the queue.
type Queue struct {
	tasks   chan models.BatchTask
	workers int
	process func(context.Context, models.BatchTask)

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQueue(size, workers int, process func(context.Context, models.BatchTask)) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		tasks:   make(chan models.BatchTask, size),
		workers: workers,
		process: process,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue adds a task without blocking. The first enqueue starts the
// worker pool.
func (q *Queue) Enqueue(task models.BatchTask) error {
	q.ensureStarted()
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth reports the number of queued tasks.
func (q *Queue) Depth() int {
	return len(q.tasks)
}

func (q *Queue) ensureStarted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	slog.Info("Starting worker pool", "workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			slog.Info("Worker picked up task", "worker", id, "task_id", task.TaskID, "items", len(task.Items))
			q.process(q.ctx, task)
		}
	}
}

// Shutdown stops the pool. Queued tasks are abandoned; their pending
// catalog rows remain for resubmission.
func (q *Queue) Shutdown() {
	q.cancel()
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if started {
		q.wg.Wait()
	}
}
