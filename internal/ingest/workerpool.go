package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/models"
)

// PoolState is the lifecycle state of a WorkerPool.
type PoolState int32

const (
	// PoolStopped means the pool has not started or has fully shut down
	PoolStopped PoolState = iota
	// PoolRunning means workers are consuming the task queue
	PoolRunning
	// PoolDraining means no new tasks are accepted; queued and in-flight
	// tasks run to completion
	PoolDraining
)

// Task is one unit of record work executed by a pool worker.
type Task struct {
	PackageID string
	Run       func(ctx context.Context) (models.WriteOutcome, error)
}

// Result is the outcome of one executed task. Every submitted task
// produces exactly one result.
type Result struct {
	PackageID string
	Outcome   models.WriteOutcome
	Err       error
	Duration  time.Duration
}

// PoolStats summarizes pool activity after (or during) a run.
type PoolStats struct {
	TotalTasks int64         `json:"total_tasks"`
	Completed  int64         `json:"completed"`
	Succeeded  int64         `json:"succeeded"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Throughput float64       `json:"tasks_per_second"`
}

// WorkerPool fans record tasks out over a fixed set of workers through
// bounded queues. Submit blocks when the queue is full, applying
// backpressure to the paginator instead of growing without bound.
type WorkerPool struct {
	tasks   chan Task
	results chan Result
	stop    chan struct{}
	wg      sync.WaitGroup
	logger  *zap.Logger

	state      int32
	totalTasks int64
	completed  int64
	succeeded  int64
	failed     int64

	mu        sync.Mutex
	startedAt time.Time
	stoppedAt time.Time
}

// NewWorkerPool creates a pool with bounded task and result queues of
// the given size.
func NewWorkerPool(queueSize int, logger *zap.Logger) *WorkerPool {
	if queueSize < 1 {
		queueSize = 1
	}
	return &WorkerPool{
		tasks:   make(chan Task, queueSize),
		results: make(chan Result, queueSize),
		stop:    make(chan struct{}),
		logger:  logger.With(zap.String("component", "worker_pool")),
	}
}

// Start launches n workers. Starting an already started pool is an error.
func (p *WorkerPool) Start(ctx context.Context, n int) error {
	if n < 1 {
		return errors.New(errors.ErrorTypeConfig, "worker count must be at least 1")
	}
	if !atomic.CompareAndSwapInt32(&p.state, int32(PoolStopped), int32(PoolRunning)) {
		return errors.New(errors.ErrorTypeInternal, "worker pool already started")
	}

	p.mu.Lock()
	p.startedAt = time.Now()
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Debug("worker pool started", zap.Int("workers", n))
	return nil
}

// Submit enqueues one task, blocking while the queue is full. The pool
// expects a single producer: Submit must not race with Drain or Stop,
// which the engine guarantees by submitting from one goroutine and
// shutting the pool down only after the last submission.
func (p *WorkerPool) Submit(ctx context.Context, t Task) error {
	if PoolState(atomic.LoadInt32(&p.state)) != PoolRunning {
		return errors.New(errors.ErrorTypeInternal, "worker pool is not running")
	}
	select {
	case p.tasks <- t:
		atomic.AddInt64(&p.totalTasks, 1)
		return nil
	case <-p.stop:
		return errors.New(errors.ErrorTypeInternal, "worker pool is stopping")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "task submission cancelled")
	}
}

// Results exposes the output queue. The channel is closed by Drain once
// every submitted task has produced its result.
func (p *WorkerPool) Results() <-chan Result {
	return p.results
}

// Drain stops accepting tasks, lets queued and in-flight work finish,
// joins the workers, and closes the result queue.
func (p *WorkerPool) Drain() PoolStats {
	if atomic.CompareAndSwapInt32(&p.state, int32(PoolRunning), int32(PoolDraining)) {
		close(p.tasks)
		p.wg.Wait()
		close(p.results)

		p.mu.Lock()
		p.stoppedAt = time.Now()
		p.mu.Unlock()
		atomic.StoreInt32(&p.state, int32(PoolStopped))
		p.logger.Debug("worker pool drained",
			zap.Int64("completed", atomic.LoadInt64(&p.completed)))
	}
	return p.Stats()
}

// Stop signals workers to finish the tasks already queued and exit
// without waiting on further submissions, then joins them and closes
// the result queue. Drain is the graceful counterpart used when the
// producer has finished; Stop is for cancelled runs.
func (p *WorkerPool) Stop() PoolStats {
	if atomic.CompareAndSwapInt32(&p.state, int32(PoolRunning), int32(PoolDraining)) {
		close(p.stop)
		p.wg.Wait()
		close(p.results)

		p.mu.Lock()
		p.stoppedAt = time.Now()
		p.mu.Unlock()
		atomic.StoreInt32(&p.state, int32(PoolStopped))
		p.logger.Debug("worker pool stopped",
			zap.Int64("completed", atomic.LoadInt64(&p.completed)))
	}
	return p.Stats()
}

// State returns the current lifecycle state.
func (p *WorkerPool) State() PoolState {
	return PoolState(atomic.LoadInt32(&p.state))
}

// Stats returns pool activity counters. Duration is live while the pool
// is running and frozen after Drain.
func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	started, stopped := p.startedAt, p.stoppedAt
	p.mu.Unlock()

	var d time.Duration
	if !started.IsZero() {
		if stopped.IsZero() {
			d = time.Since(started)
		} else {
			d = stopped.Sub(started)
		}
	}

	s := PoolStats{
		TotalTasks: atomic.LoadInt64(&p.totalTasks),
		Completed:  atomic.LoadInt64(&p.completed),
		Succeeded:  atomic.LoadInt64(&p.succeeded),
		Failed:     atomic.LoadInt64(&p.failed),
		Duration:   d,
	}
	if d > 0 {
		s.Throughput = float64(s.Completed) / d.Seconds()
	}
	return s
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(ctx, t)
		case <-p.stop:
			// flush whatever is already queued, then exit
			for {
				select {
				case t, ok := <-p.tasks:
					if !ok {
						return
					}
					p.execute(ctx, t)
				default:
					return
				}
			}
		}
	}
}

func (p *WorkerPool) execute(ctx context.Context, t Task) {
	start := time.Now()
	outcome, err := t.Run(ctx)
	d := time.Since(start)

	atomic.AddInt64(&p.completed, 1)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
	} else {
		atomic.AddInt64(&p.succeeded, 1)
	}

	p.results <- Result{
		PackageID: t.PackageID,
		Outcome:   outcome,
		Err:       err,
		Duration:  d,
	}
}
