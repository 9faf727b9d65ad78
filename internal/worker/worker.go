package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"mavedb/internal/metrics"

	"go.uber.org/zap"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

type job struct {
	name string
	task Task
}

type WorkerPool struct {
	taskQueue chan job
	wg        sync.WaitGroup
	isClosing atomic.Bool // thread-safe value
	timeout   time.Duration
	log       *zap.Logger
}

// NewWorkerPool starts size workers. Each task runs with the given timeout.
func NewWorkerPool(size int, timeout time.Duration, log *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	wp := &WorkerPool{
		taskQueue: make(chan job, 1000), // Buffer for 1000 pending tasks
		timeout:   timeout,
		log:       log.Named("worker"),
	}

	// Start the workers
	for i := 0; i < size; i++ {
		wp.wg.Add(1) // add to WaitGroup
		go wp.startWorker()
	}

	return wp
}

func (wp *WorkerPool) startWorker() {
	defer wp.wg.Done() // signal when worker finished
	for j := range wp.taskQueue {
		wp.run(j)
	}
}

func (wp *WorkerPool) run(j job) {
	ctx := context.Background()
	if wp.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.Jobs.WithLabelValues(j.name, "panic").Inc()
			wp.log.Error("task panicked", zap.String("task", j.name), zap.Any("panic", r))
		}
	}()

	err := j.task(ctx)
	metrics.JobDuration.WithLabelValues(j.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Jobs.WithLabelValues(j.name, "failed").Inc()
		wp.log.Error("task failed", zap.String("task", j.name), zap.Error(err))
		return
	}
	metrics.Jobs.WithLabelValues(j.name, "success").Inc()
}

// Submit queues t and reports whether it was accepted.
func (wp *WorkerPool) Submit(name string, t Task) bool {
	if wp.isClosing.Load() {
		wp.log.Warn("task submitted during shutdown, dropping", zap.String("task", name))
		return false
	}
	select {
	case wp.taskQueue <- job{name: name, task: t}: // send task to worker pool
		return true
	default:
		wp.log.Warn("task queue full, dropping task", zap.String("task", name))
		return false
	}
}

// Shutdown closes the queue and waits for workers to finish
func (wp *WorkerPool) Shutdown() {
	if wp.isClosing.Swap(true) {
		return
	}
	close(wp.taskQueue) // Stop accepting new tasks
	wp.wg.Wait()        // Wait for all active workers to finish tasks
}
