package provisioning

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Task is one unit of backend work plus its continuations. Exactly one
// of OnSuccess or OnFailure runs after Run returns.
type Task struct {
	// ThrottleKey groups tasks competing for the same backend.
	ThrottleKey string
	Run         func(ctx context.Context) error
	OnSuccess   func(ctx context.Context)
	OnFailure   func(ctx context.Context, err error)
}

var ErrQueueFull = errors.New("provisioning_queue_full")
var errQueueStopped = errors.New("provisioning queue stopped")

// Queue runs backend tasks on a fixed worker pool. Enqueue never blocks:
// a full queue is an error the caller surfaces instead of holding an
// HTTP request hostage.
type Queue struct {
	log      *zap.Logger
	throttle *Throttle

	tasks   chan Task
	workers int

	baseCtx context.Context
	cancel  context.CancelFunc

	workerWG  sync.WaitGroup
	pendingWG sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewQueue(workers, depth int, throttle *Throttle, log *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 256
	}
	return &Queue{
		log:      log.Named("provisioning.queue"),
		throttle: throttle,
		tasks:    make(chan Task, depth),
		workers:  workers,
	}
}

func (q *Queue) Start() {
	q.baseCtx, q.cancel = context.WithCancel(context.Background())
	for i := 0; i < q.workers; i++ {
		q.workerWG.Add(1)
		go q.worker()
	}
	q.log.Info("queue started", zap.Int("workers", q.workers), zap.Int("depth", cap(q.tasks)))
}

// Stop drains the queue: no new tasks are accepted, queued tasks still
// run, in-flight backend calls get their context cancelled.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.tasks)
	q.workerWG.Wait()
	if q.cancel != nil {
		q.cancel()
	}
	q.log.Info("queue stopped")
}

func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return errQueueStopped
	}
	select {
	case q.tasks <- task:
		q.pendingWG.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait blocks until every enqueued task has finished. Test helper.
func (q *Queue) Wait() {
	q.pendingWG.Wait()
}

func (q *Queue) worker() {
	defer q.workerWG.Done()
	for task := range q.tasks {
		q.run(task)
		q.pendingWG.Done()
	}
}

func (q *Queue) run(task Task) {
	ctx := q.baseCtx

	release, err := q.throttle.Acquire(ctx, task.ThrottleKey)
	if err != nil {
		task.OnFailure(ctx, err)
		return
	}
	err = task.Run(ctx)
	release()

	if err != nil {
		task.OnFailure(ctx, err)
		return
	}
	task.OnSuccess(ctx)
}
