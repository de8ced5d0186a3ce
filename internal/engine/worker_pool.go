package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/logging"
)

// Task is a detached unit of work. Panics are recovered by the runner.
type Task func(ctx context.Context)

// TaskRunner runs tasks without blocking the caller.
type TaskRunner interface {
	Submit(name string, task Task)
}

// PoolConfig sizes a WorkerPool.
type PoolConfig struct {
	NumWorkers      int           // default: 4
	QueueSize       int           // default: 100
	ShutdownTimeout time.Duration // default: 30s
}

type poolJob struct {
	name string
	task Task
}

// WorkerPool is a bounded TaskRunner: a queue drained by a fixed number of
// workers. When the queue is full the task runs on its own goroutine.
type WorkerPool struct {
	cfg     PoolConfig
	queue   chan poolJob
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	pending sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *zap.Logger
}

// NewWorkerPool starts the workers.
func NewWorkerPool(cfg PoolConfig, logger *zap.Logger) *WorkerPool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		cfg:    cfg,
		queue:  make(chan poolJob, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logging.OrNop(logger),
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		p.workers.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", cfg.NumWorkers), zap.Int("queue_size", cfg.QueueSize))
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.workers.Done()
	for job := range p.queue {
		p.run(id, job)
	}
}

func (p *WorkerPool) run(workerID int, job poolJob) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				zap.String("task", job.name), zap.Int("worker", workerID), zap.Any("panic", r))
		}
	}()
	job.task(p.ctx)
}

// Submit queues task. It never blocks.
func (p *WorkerPool) Submit(name string, task Task) {
	job := poolJob{name: name, task: task}
	p.pending.Add(1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.closed {
		select {
		case p.queue <- job:
			return
		default:
			p.logger.Warn("task queue full, running detached",
				zap.String("task", name), zap.Int("queue_size", p.cfg.QueueSize))
		}
	} else {
		p.logger.Warn("worker pool closed, running detached", zap.String("task", name))
	}
	go p.run(-1, job)
}

// Wait blocks until every submitted task has finished.
func (p *WorkerPool) Wait() {
	p.pending.Wait()
}

// QueueLength returns the number of queued tasks.
func (p *WorkerPool) QueueLength() int {
	return len(p.queue)
}

// Shutdown stops accepting queued work and waits for the workers to drain,
// up to the shutdown timeout or until ctx is done.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already shut down")
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	defer p.cancel()
	select {
	case <-done:
		p.logger.Info("all workers finished gracefully")
		return nil
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("shutdown timeout reached, queued tasks may be dropped", zap.Int("remaining", p.QueueLength()))
		return nil
	case <-ctx.Done():
		p.logger.Warn("context cancelled, queued tasks may be dropped", zap.Int("remaining", p.QueueLength()))
		return ctx.Err()
	}
}

// InlineRunner runs tasks synchronously on the caller's goroutine.
type InlineRunner struct {
	Logger *zap.Logger
}

// Submit runs task immediately.
func (r InlineRunner) Submit(name string, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.OrNop(r.Logger).Error("task panicked", zap.String("task", name), zap.Any("panic", rec))
		}
	}()
	task(context.Background())
}
