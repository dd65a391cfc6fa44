// Package background runs fire-and-forget side effects (cache writes, audit
// triggers) detached from the turn that produced them.
package background

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one detached unit of work. The context carries the worker's
// shutdown deadline, not the originating request's.
type Task func(ctx context.Context)

// Worker executes submitted tasks on a bounded pool. Submission never blocks;
// tasks past the queue capacity are dropped and counted.
type Worker struct {
	queue   chan Task
	logger  *slog.Logger
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64
	started atomic.Bool
}

// Config controls the worker pool.
type Config struct {
	// Workers is the number of goroutines draining the queue. Default: 4
	Workers int `yaml:"workers"`

	// QueueSize is the task buffer before submissions are dropped.
	// Default: 256
	QueueSize int `yaml:"queue_size"`

	// DrainTimeout bounds how long Shutdown waits for in-flight tasks.
	// Default: 10s
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    256,
		DrainTimeout: 10 * time.Second,
	}
}

// NewWorker creates and starts the pool.
func NewWorker(config Config, logger *slog.Logger) *Worker {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		queue:  make(chan Task, config.QueueSize),
		logger: logger.With("component", "background"),
		ctx:    ctx,
		cancel: cancel,
	}
	w.started.Store(true)
	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Submit enqueues a task. Returns false if the worker is shut down or the
// queue is full; the task is dropped either way.
func (w *Worker) Submit(task Task) bool {
	if task == nil || !w.started.Load() {
		return false
	}
	select {
	case w.queue <- task:
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn("background queue full, dropping task")
		return false
	}
}

// Dropped returns the number of tasks lost to queue overflow.
func (w *Worker) Dropped() int64 {
	return w.dropped.Load()
}

// Shutdown stops accepting tasks and drains the queue, waiting at most the
// configured drain timeout for in-flight work.
func (w *Worker) Shutdown(drainTimeout time.Duration) {
	if !w.started.CompareAndSwap(true, false) {
		return
	}
	close(w.queue)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	select {
	case <-done:
	case <-time.After(drainTimeout):
		w.logger.Warn("background drain timed out, abandoning remaining tasks")
	}
	w.cancel()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for task := range w.queue {
		w.execute(task)
	}
}

func (w *Worker) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("background task panicked", "panic", r)
		}
	}()
	task(w.ctx)
}
