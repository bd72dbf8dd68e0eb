package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrPoolClosed  = errors.New("pool is closed")
	ErrPoolFull    = errors.New("pool is full")
	ErrTaskPanic   = errors.New("task panicked")
	ErrTaskTimeout = errors.New("task submission timeout")
	ErrAbandoned   = errors.New("tasks still running at close")
)

// Task 一次技能处理器调用
type Task func(ctx context.Context) error

// WorkerPoolConfig 并发与排队上限
type WorkerPoolConfig struct {
	// MaxWorkers 同时运行的任务数
	MaxWorkers int
	// QueueSize 等待执行的任务数上限，超出直接拒绝
	QueueSize int
}

// WorkerPoolStats 池统计
type WorkerPoolStats struct {
	Running   int   `json:"running"`
	Waiting   int   `json:"waiting"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// WorkerPool 用加权信号量限制处理器并发。
// 调用方放弃等待后任务继续占用槽位直到返回，任务应遵守 ctx。
type WorkerPool struct {
	sem       *semaphore.Weighted
	maxQueued int64
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// inflight 与 wg 同步增减，Close 超时时用于报告放弃的任务数
	inflight                               atomic.Int64
	running, waiting                       atomic.Int64
	submitted, completed, failed, rejected atomic.Int64
}

// NewWorkerPool 创建池，MaxWorkers<=0 时为 8
func NewWorkerPool(cfg WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &WorkerPool{
		sem:       semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		maxQueued: int64(cfg.QueueSize),
		logger:    logger.With(zap.String("component", "worker_pool")),
	}
}

// Do 等待空闲槽位后执行 task 并等待结果。
// ctx 先结束时返回 ctx.Err()，排队阶段超时包装为 ErrTaskTimeout。
func (p *WorkerPool) Do(ctx context.Context, task Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.inflight.Add(1)
	p.mu.RUnlock()

	p.submitted.Add(1)
	if err := p.acquire(ctx); err != nil {
		p.done()
		return err
	}

	result := make(chan error, 1)
	go func() {
		defer p.done()
		defer p.sem.Release(1)
		p.running.Add(1)
		err := p.run(ctx, task)
		p.running.Add(-1)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		result <- err
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) acquire(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}
	if p.waiting.Add(1) > p.maxQueued {
		p.waiting.Add(-1)
		p.rejected.Add(1)
		return ErrPoolFull
	}
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err == nil {
		return nil
	}
	p.rejected.Add(1)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTaskTimeout, err)
	}
	return err
}

func (p *WorkerPool) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return task(ctx)
}

func (p *WorkerPool) done() {
	p.inflight.Add(-1)
	p.wg.Done()
}

// Close 拒绝新任务并等待在途任务返回，最多等到 ctx 结束。
// 不遵守 ctx 的处理器会被放弃，返回 ErrAbandoned。可重复调用
func (p *WorkerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		n := p.inflight.Load()
		p.logger.Warn("abandoning tasks still running at close",
			zap.Int64("tasks", n),
			zap.Error(ctx.Err()),
		)
		return fmt.Errorf("%w: %d: %w", ErrAbandoned, n, ctx.Err())
	}
}

// Stats 返回统计快照
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Running:   int(p.running.Load()),
		Waiting:   int(p.waiting.Load()),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
