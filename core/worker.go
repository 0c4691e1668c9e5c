package core

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"entitycore/metrics"
	"entitycore/util/goroutine"

	"go.uber.org/zap"
)

var poolTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// DefaultStopTimeout bounds how long Stop waits for queued tasks to drain
const DefaultStopTimeout = 30 * time.Second

// WorkerPool runs submitted tasks on a fixed set of goroutines fed by a
// bounded queue. Submit never blocks: a full queue is reported as
// ErrWorkerPoolQueueFull so callers on the write path can drop work instead
// of waiting.
type WorkerPool struct {
	workers     int
	queueSize   int
	taskCh      chan func(context.Context)
	wg          sync.WaitGroup
	logger      *zap.SugaredLogger
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
	mu          sync.RWMutex
	poolType    string
	stopTimeout time.Duration
}

// NewWorkerPool creates a pool bound to parentCtx. Workers start on Start().
// Cancelling parentCtx stops the workers; tasks still queued are discarded.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if poolType == "" {
		poolType = "default"
	}
	if !poolTypePattern.MatchString(poolType) {
		logger.Warnw("Invalid poolType, using default", "poolType", poolType)
		poolType = "default"
	}

	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:     workers,
		queueSize:   queueSize,
		taskCh:      make(chan func(context.Context), queueSize),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		poolType:    poolType,
		stopTimeout: DefaultStopTimeout,
	}
}

// Start begins processing tasks. Calling Start on a running pool is a no-op.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return nil
	}
	if wp.ctx.Err() != nil {
		return ErrWorkerPoolStopped
	}

	wp.running = true
	wp.logger.Infow("Starting worker pool",
		"pool_type", wp.poolType,
		"workers", wp.workers,
		"queue_size", wp.queueSize)

	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	goroutine.Go("worker-pool-"+wp.poolType+"-watch", wp.logger, wp.watchParent)
	return nil
}

// watchParent closes the pool to new work once the context is cancelled and
// hands every task still queued to drain. Workers leave on cancellation, so
// without this those tasks would never run.
func (wp *WorkerPool) watchParent() {
	<-wp.ctx.Done()

	// Submit sends while holding the read lock, so once running is false
	// nothing else can land in the queue.
	wp.mu.Lock()
	wp.running = false
	wp.mu.Unlock()

	if n := wp.drain(); n > 0 {
		wp.logger.Warnw("Worker pool context cancelled with tasks queued",
			"pool_type", wp.poolType,
			"discarded", n)
	}
}

// drain runs every queued task with the cancelled pool context so tasks can
// release what they hold. It returns the number of tasks drained.
func (wp *WorkerPool) drain() int {
	n := 0
	for {
		select {
		case task, ok := <-wp.taskCh:
			if !ok {
				return n
			}
			wp.run(-1, task)
			n++
		default:
			return n
		}
	}
}

// Stop lets workers drain the queue, then waits up to the stop timeout.
// Safe to call more than once.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.running {
		return
	}
	wp.running = false
	wp.logger.Infow("Stopping worker pool", "pool_type", wp.poolType, "workers", wp.workers)

	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "pool_type", wp.poolType)
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(0)
	case <-time.After(wp.stopTimeout):
		wp.logger.Errorw("Worker pool shutdown timed out - goroutines leaked",
			"pool_type", wp.poolType,
			"workers", wp.workers,
			"timeout", wp.stopTimeout)
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(-1)
	}
	wp.cancel()
}

// Submit enqueues task without blocking. A pool whose context is done
// refuses work with ErrWorkerPoolStopped.
func (wp *WorkerPool) Submit(task func(context.Context)) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.ctx.Err() != nil {
		return ErrWorkerPoolStopped
	}
	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// SubmitWithTimeout enqueues task, waiting up to timeout for queue space.
func (wp *WorkerPool) SubmitWithTimeout(task func(context.Context), timeout time.Duration) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.ctx.Err() != nil {
		return ErrWorkerPoolStopped
	}
	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	case <-timer.C:
		return ErrWorkerPoolTimeout
	case <-wp.ctx.Done():
		return ErrWorkerPoolStopped
	}
}

// GetStats returns current worker pool statistics
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Workers:     wp.workers,
		QueueSize:   wp.queueSize,
		Running:     wp.running,
		QueuedTasks: len(wp.taskCh),
		Capacity:    cap(wp.taskCh),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool-"+wp.poolType, wp.logger)

	wp.logger.Debugw("Worker started", "pool_type", wp.poolType, "worker_id", id)

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debugw("Worker stopping due to context cancellation", "worker_id", id)
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				wp.logger.Debugw("Worker stopping due to closed channel", "worker_id", id)
				return
			}
			wp.run(id, task)
		}
	}
}

// run executes one task; a panicking task does not take the worker down.
func (wp *WorkerPool) run(id int, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Task panicked in worker",
				"pool_type", wp.poolType,
				"worker_id", id,
				"panic", r)
		}
	}()
	task(wp.ctx)
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolType).Inc()
	metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
}

// WorkerPoolStats contains statistics about the worker pool
type WorkerPoolStats struct {
	Workers     int  `json:"workers"`
	QueueSize   int  `json:"queue_size"`
	Running     bool `json:"running"`
	QueuedTasks int  `json:"queued_tasks"`
	Capacity    int  `json:"capacity"`
}

// Errors
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
	ErrWorkerPoolTimeout    = errors.New("worker pool task submission timed out")
	ErrWorkerPoolStopped    = errors.New("worker pool has been stopped")
)
