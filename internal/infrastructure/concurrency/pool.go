// Package concurrency provides the bounded worker pool that runs indexing
// tasks. The queue is the backpressure mechanism: when it is full, Submit
// blocks, which in turn stalls the transport consumer feeding it.
package concurrency

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"cortex-backend/pkg/observability"
)

// Task is one unit of work. ID is carried through logs only.
type Task struct {
	ID      string
	Execute func(ctx context.Context) error
}

// WorkerPool runs tasks on a fixed set of workers. Workers recover from
// panicking tasks and keep serving.
type WorkerPool struct {
	workers int
	queue   chan Task
	logger  *zap.Logger
	metrics *observability.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWorkerPool builds a pool. Zero workers defaults to NumCPU×4, the
// ingestion concurrency ceiling; zero queueDepth defaults to twice the
// worker count.
func NewWorkerPool(workers, queueDepth int, logger *zap.Logger, metrics *observability.Collector) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU() * 4
	}
	if queueDepth <= 0 {
		queueDepth = workers * 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers: workers,
		queue:   make(chan Task, queueDepth),
		logger:  logger.Named("pool"),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Safe to call more than once.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("queue_depth", cap(p.queue)))
	})
}

// Submit enqueues a task, blocking while the queue is full. It returns the
// caller's context error if the wait is cancelled, or the pool's if the pool
// stopped.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	select {
	case p.queue <- task:
		p.metrics.PoolQueueDepth.Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Workers reports the pool size.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Stop cancels running tasks and waits for the workers to exit, up to the
// given context. Queued tasks that never started are dropped.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.stopOnce.Do(p.cancel)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			p.metrics.PoolQueueDepth.Set(float64(len(p.queue)))
			p.run(id, task)
		}
	}
}

// run executes one task, containing panics so a bad task cannot kill the
// worker.
func (p *WorkerPool) run(workerID int, task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.metrics.PoolTasks.WithLabelValues("panicked").Inc()
			p.logger.Error("task panicked",
				zap.Int("worker", workerID),
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
				zap.Duration("elapsed", time.Since(start)))
		}
	}()

	if err := task.Execute(p.ctx); err != nil {
		p.metrics.PoolTasks.WithLabelValues("failed").Inc()
		p.logger.Warn("task failed",
			zap.Int("worker", workerID),
			zap.String("task_id", task.ID),
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)))
		return
	}
	p.metrics.PoolTasks.WithLabelValues("completed").Inc()
}
