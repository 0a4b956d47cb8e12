package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mbellido/agentpay/pkg/ports"
)

// ErrQueueFull is returned by Submit when the job queue has no room.
var ErrQueueFull = fmt.Errorf("job queue is full")

// Job is one unit of work executed by a pool worker.
type Job func(ctx context.Context)

// Pool manages a pool of worker goroutines draining a bounded job queue
type Pool struct {
	size    int
	jobs    chan Job
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool
func NewPool(
	size int,
	queueSize int,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		jobs:    make(chan Job, queueSize),
		metrics: metrics,
		logger:  logger,
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Submit enqueues a job without blocking. Callers must handle ErrQueueFull
// as backpressure.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()

	// Cancel context to signal workers to stop
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Info("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status = WorkerStatusStopped
			w.mu.Unlock()
			w.pool.logger.Info("worker stopped", zap.String("worker_id", w.id))
			return

		case job := <-w.pool.jobs:
			w.execute(ctx, job)
		}
	}
}

// execute runs a single job, tracking busy status
func (w *worker) execute(ctx context.Context, job Job) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.status = WorkerStatusIdle
		w.mu.Unlock()
	}()

	job(ctx)
}
