// Package pool provides a bounded goroutine pool for background engine work.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed   = errors.New("pool is closed")
	ErrPoolFull     = errors.New("pool is full")
	ErrTaskPanic    = errors.New("task panicked")
	ErrDrainTimeout = errors.New("pool drain timeout")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// GoroutinePool runs submitted tasks on at most MaxWorkers goroutines.
// Workers are spawned lazily and exit after IdleTimeout, keeping one alive.
type GoroutinePool struct {
	maxWorkers  int
	taskQueue   chan taskWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32

	// closeMu guards sends on taskQueue against Close.
	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout time.Duration
	logger      *zap.Logger
}

type taskWrapper struct {
	name   string
	task   Task
	ctx    context.Context
	result chan error
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers  int           `json:"max_workers"`
	QueueSize   int           `json:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout"`
}

// DefaultGoroutinePoolConfig returns sensible defaults.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers:  4,
		QueueSize:   64,
		IdleTimeout: 60 * time.Second,
	}
}

// NewGoroutinePool creates a new goroutine pool.
func NewGoroutinePool(config GoroutinePoolConfig, logger *zap.Logger) *GoroutinePool {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultGoroutinePoolConfig()
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = def.MaxWorkers
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	return &GoroutinePool{
		maxWorkers:  config.MaxWorkers,
		taskQueue:   make(chan taskWrapper, config.QueueSize),
		idleTimeout: config.IdleTimeout,
		logger:      logger.With(zap.String("component", "goroutine_pool")),
	}
}

// Submit enqueues a task without waiting for it. It fails with ErrPoolFull
// when the queue is saturated and no worker can be spawned.
func (p *GoroutinePool) Submit(ctx context.Context, name string, task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	wrapper := taskWrapper{name: name, task: task, ctx: ctx}

	select {
	case p.taskQueue <- wrapper:
		p.ensureWorker()
		return nil
	default:
	}

	if p.trySpawnWorker() {
		// 新 worker 会立即开始消费
		select {
		case p.taskQueue <- wrapper:
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
	p.rejected.Add(1)
	return ErrPoolFull
}

// SubmitWait enqueues a task and blocks until it completes or ctx is done.
func (p *GoroutinePool) SubmitWait(ctx context.Context, name string, task Task) error {
	wrapper := taskWrapper{name: name, task: task, ctx: ctx, result: make(chan error, 1)}

	if err := p.enqueueWait(ctx, wrapper); err != nil {
		return err
	}

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *GoroutinePool) enqueueWait(ctx context.Context, wrapper taskWrapper) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	p.ensureWorker()
	select {
	case p.taskQueue <- wrapper:
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

func (p *GoroutinePool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *GoroutinePool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.taskQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.executeTask(wrapper)
			p.activeCount.Add(-1)

			if wrapper.result != nil {
				wrapper.result <- err
			}

			if err != nil {
				p.failed.Add(1)
				p.logger.Debug("task failed", zap.String("task", wrapper.name), zap.Error(err))
			} else {
				p.completed.Add(1)
			}

			timer.Reset(p.idleTimeout)

		case <-timer.C:
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *GoroutinePool) executeTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				zap.String("task", wrapper.name),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()

	if ctxErr := wrapper.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return wrapper.task(wrapper.ctx)
}

// Close stops accepting tasks and waits until queued tasks finish or ctx is done.
func (p *GoroutinePool) Close(ctx context.Context) error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	close(p.taskQueue)
	p.closeMu.Unlock()

	// 队列中仍有任务但没有 worker 时补一个
	if len(p.taskQueue) > 0 && p.workerCount.Load() == 0 {
		p.trySpawnWorker()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
