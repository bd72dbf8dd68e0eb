package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWorkerPool_Do(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 2, QueueSize: 4}, zaptest.NewLogger(t))
	defer func() { _ = p.Close(context.Background()) }()

	require.NoError(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }))

	boom := errors.New("boom")
	assert.ErrorIs(t, p.Do(context.Background(), func(ctx context.Context) error { return boom }), boom)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Zero(t, stats.Running)
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	const maxWorkers = 3
	p := NewWorkerPool(WorkerPoolConfig{MaxWorkers: maxWorkers, QueueSize: 64}, zaptest.NewLogger(t))
	defer func() { _ = p.Close(context.Background()) }()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(ctx context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(maxWorkers))
	assert.Equal(t, int64(20), p.Stats().Completed)
}

func TestWorkerPool_RejectsBeyondQueue(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 1, QueueSize: 0}, zaptest.NewLogger(t))
	defer func() { _ = p.Close(context.Background()) }()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := p.Do(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)
	close(release)
}

func TestWorkerPool_QueueTimeout(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 1, QueueSize: 1}, zaptest.NewLogger(t))
	defer func() { _ = p.Close(context.Background()) }()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrTaskTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestWorkerPool_PanicBecomesError(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 1}, zaptest.NewLogger(t))
	defer func() { _ = p.Close(context.Background()) }()

	err := p.Do(context.Background(), func(ctx context.Context) error { panic("handler exploded") })
	assert.ErrorIs(t, err, ErrTaskPanic)
	assert.Contains(t, err.Error(), "handler exploded")
}

func TestWorkerPool_CallerStopsWaiting(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 1, QueueSize: 1}, zaptest.NewLogger(t))
	defer func() { _ = p.Close(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPool_CloseWaitsForInFlight(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 2, QueueSize: 2}, zaptest.NewLogger(t))

	var finished atomic.Bool
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()
	<-started
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))

	assert.True(t, finished.Load())
	assert.ErrorIs(t, p.Do(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}

func TestWorkerPool_CloseAbandonsHandlerIgnoringContext(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{MaxWorkers: 1}, zaptest.NewLogger(t))

	release := make(chan struct{})
	defer close(release)
	callCtx, cancelCall := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelCall()
	err := p.Do(callCtx, func(context.Context) error {
		<-release
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	closeCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = p.Close(closeCtx)
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, p.Do(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}
