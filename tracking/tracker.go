package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/types"
)

var (
	// ErrClosed Tracker 已关闭
	ErrClosed = errors.New("tracker is closed")
	// ErrInvalidRecord 调用记录不合法
	ErrInvalidRecord = errors.New("invalid execution record")
)

// emergencyFlushTimeout 后台刷写（紧急与定时）的超时
const emergencyFlushTimeout = 10 * time.Second

// Sink 执行记录的持久化目标，inventory.Store 实现了该接口
type Sink interface {
	SaveExecutions(ctx context.Context, records []types.ExecutionRecord) error
}

// TrackRequest 一次调用的结果。Args 与 Output 只参与哈希与置信度提取，不会被保存
type TrackRequest struct {
	SkillID      string
	SkillVersion string
	Args         map[string]any
	Output       map[string]any
	Err          error
	Status       types.ExecutionStatus
	Confidence   *float64
	FallbackUsed bool
	DurationMs   float64
}

// Stats 追踪统计
type Stats struct {
	Tracked       int64 `json:"tracked"`
	Flushed       int64 `json:"flushed"`
	DeadLettered  int64 `json:"dead_lettered"`
	Evicted       int64 `json:"evicted"`
	Redriven      int64 `json:"redriven"`
	Flushes       int64 `json:"flushes"`
	FailedFlushes int64 `json:"failed_flushes"`
	SinkAttempts  int64 `json:"sink_attempts"`
	Buffered      int   `json:"buffered"`
	DeadLetter    int   `json:"dead_letter"`
}

type counters struct {
	tracked, flushed, deadLettered, evicted, redriven atomic.Int64
	flushes, failedFlushes, sinkAttempts             atomic.Int64
}

// =============================================================================
// 📝 执行追踪器
// =============================================================================

// Tracker 执行追踪器
type Tracker struct {
	cfg     config.TrackerConfig
	sink    Sink
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	recent  *ring[types.ExecutionRecord]
	pending []types.ExecutionRecord
	closed  bool

	// flushMu 保证刷写不交错
	flushMu sync.Mutex

	dlMu sync.Mutex
	dead []types.ExecutionRecord

	emergency atomic.Bool
	stats     counters

	wg   sync.WaitGroup
	done chan struct{}
	loop sync.WaitGroup
}

// Option 配置 Tracker
type Option func(*Tracker)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(t *Tracker) { t.metrics = c }
}

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New 创建追踪器。batch 模式且 FlushInterval > 0 时启动后台定时刷写
func New(sink Sink, cfg config.TrackerConfig, opts ...Option) (*Tracker, error) {
	cfg = normalize(cfg)
	switch cfg.PersistenceMode {
	case config.PersistenceOff:
	case config.PersistenceImmediate, config.PersistenceBatch:
		if sink == nil {
			return nil, fmt.Errorf("tracker: sink is required in %s mode", cfg.PersistenceMode)
		}
	default:
		return nil, fmt.Errorf("tracker: unknown persistence mode %q", cfg.PersistenceMode)
	}

	t := &Tracker{
		cfg:    cfg,
		sink:   sink,
		logger: zap.NewNop(),
		now:    time.Now,
		recent: newRing[types.ExecutionRecord](cfg.BufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "execution_tracker"))

	if cfg.PersistenceMode == config.PersistenceBatch && cfg.FlushInterval > 0 {
		t.loop.Add(1)
		go t.flushLoop()
	}

	t.logger.Info("execution tracker started",
		zap.String("mode", cfg.PersistenceMode),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
	)
	return t, nil
}

func normalize(cfg config.TrackerConfig) config.TrackerConfig {
	if cfg.PersistenceMode == "" {
		cfg.PersistenceMode = config.PersistenceBatch
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.DeadLetterLimit <= 0 {
		cfg.DeadLetterLimit = 1000
	}
	return cfg
}

// Mode 返回持久化模式
func (t *Tracker) Mode() string { return t.cfg.PersistenceMode }

// Track 记录一次调用。持久化失败不会返回给调用方，记录会进入死信队列
func (t *Tracker) Track(ctx context.Context, req TrackRequest) (types.ExecutionRecord, error) {
	rec, err := t.buildRecord(req)
	if err != nil {
		return types.ExecutionRecord{}, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return rec, ErrClosed
	}
	t.recent.push(rec)
	t.stats.tracked.Add(1)

	var full, emergency bool
	if t.cfg.PersistenceMode == config.PersistenceBatch {
		t.pending = append(t.pending, rec)
		full = len(t.pending) >= t.cfg.BatchSize
		if !full && rec.Status.IsError() && t.emergency.CompareAndSwap(false, true) {
			emergency = true
			t.wg.Add(1)
		}
	}
	buffered := len(t.pending)
	t.mu.Unlock()

	t.metrics.RecordTrackerRecords("tracked", 1)

	switch t.cfg.PersistenceMode {
	case config.PersistenceImmediate:
		t.flushMu.Lock()
		_ = t.persist(ctx, []types.ExecutionRecord{rec}, t.cfg.MaxAttempts)
		t.flushMu.Unlock()
	case config.PersistenceBatch:
		if full {
			t.flushMu.Lock()
			_ = t.flushPendingLocked(ctx, t.cfg.MaxAttempts)
			t.flushMu.Unlock()
		} else if emergency {
			t.logger.Info("error status triggered emergency flush",
				zap.String("skill_id", rec.SkillID),
				zap.Time("timestamp", rec.Timestamp),
				zap.Int("buffered", buffered),
			)
			go t.emergencyFlush()
		}
	}
	return rec, nil
}

func (t *Tracker) buildRecord(req TrackRequest) (types.ExecutionRecord, error) {
	if req.SkillID == "" {
		return types.ExecutionRecord{}, fmt.Errorf("%w: skill id is required", ErrInvalidRecord)
	}
	if req.DurationMs < 0 {
		return types.ExecutionRecord{}, fmt.Errorf("%w: negative duration", ErrInvalidRecord)
	}

	status := req.Status
	if status == "" {
		status = statusFromError(req.Err)
	}
	if !status.IsValid() {
		return types.ExecutionRecord{}, fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, status)
	}

	confidence := req.Confidence
	if confidence == nil {
		confidence = outputConfidence(req.Output)
	}
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return types.ExecutionRecord{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidRecord, *confidence)
	}

	rec := types.ExecutionRecord{
		ID:           uuid.NewString(),
		SkillID:      req.SkillID,
		SkillVersion: req.SkillVersion,
		Timestamp:    t.now().UTC(),
		Status:       status,
		DurationMs:   req.DurationMs,
		Confidence:   confidence,
		FallbackUsed: req.FallbackUsed,
		ArgsHash:     types.HashArgs(req.Args),
	}
	if req.Err != nil {
		rec.Error = req.Err.Error()
	}
	return rec, nil
}

// statusFromError 取消与超时都记为 timeout
func statusFromError(err error) types.ExecutionStatus {
	switch {
	case err == nil:
		return types.StatusSuccess
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return types.StatusTimeout
	default:
		var typed *types.Error
		if errors.As(err, &typed) && typed.Code == types.ErrTimeout {
			return types.StatusTimeout
		}
		return types.StatusFailure
	}
}

// outputConfidence 从输出中提取 confidence 字段
func outputConfidence(output map[string]any) *float64 {
	switch v := output["confidence"].(type) {
	case float64:
		return types.Float64(v)
	case float32:
		return types.Float64(float64(v))
	case int:
		return types.Float64(float64(v))
	}
	return nil
}

// =============================================================================
// 💾 刷写
// =============================================================================

// Flush 刷写缓冲区并重新投递死信队列中的记录
func (t *Tracker) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	err := t.flushPendingLocked(ctx, t.cfg.MaxAttempts)
	if rerr := t.redriveLocked(ctx); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// FlushPending 只刷写缓冲区，尝试一次，不重投死信。失败的批次进入死信队列
func (t *Tracker) FlushPending(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	return t.flushPendingLocked(ctx, 1)
}

func (t *Tracker) takePending() []types.ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	batch := t.pending
	t.pending = nil
	return batch
}

// flushPendingLocked 调用方持有 flushMu
func (t *Tracker) flushPendingLocked(ctx context.Context, attempts int) error {
	if t.sink == nil {
		return nil
	}
	batch := t.takePending()
	if len(batch) == 0 {
		return nil
	}
	return t.persist(ctx, batch, attempts)
}

// persist 带重试写入一批记录，仍失败时转入死信队列
func (t *Tracker) persist(ctx context.Context, batch []types.ExecutionRecord, attempts int) error {
	t.stats.flushes.Add(1)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialBackoff
	b.MaxInterval = 2 * time.Second

	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		t.stats.sinkAttempts.Add(1)
		return struct{}{}, t.sink.SaveExecutions(ctx, batch)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.logger.Warn("flush failed, retrying",
				zap.Int("records", len(batch)),
				zap.Int("attempt", tries),
				zap.Int("max_attempts", attempts),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		t.stats.failedFlushes.Add(1)
		t.metrics.RecordFlush(false)
		t.deadLetter(batch, err)
		t.syncQueues()
		return fmt.Errorf("flush %d records after %d attempts: %w", len(batch), tries, err)
	}

	t.stats.flushed.Add(int64(len(batch)))
	t.metrics.RecordFlush(true)
	t.metrics.RecordTrackerRecords("flushed", len(batch))
	t.syncQueues()
	t.logger.Debug("flushed execution records", zap.Int("records", len(batch)), zap.Int("attempts", tries))
	return nil
}

func (t *Tracker) emergencyFlush() {
	defer t.wg.Done()
	t.emergency.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), emergencyFlushTimeout)
	defer cancel()

	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	if err := t.flushPendingLocked(ctx, t.cfg.MaxAttempts); err != nil {
		t.logger.Error("emergency flush failed", zap.Error(err))
	}
}

// flushLoop 定时刷写。上一次刷写未结束时跳过本周期
func (t *Tracker) flushLoop() {
	defer t.loop.Done()
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		if !t.flushMu.TryLock() {
			t.logger.Debug("flush still running, skipping cycle")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), emergencyFlushTimeout)
		if err := t.flushPendingLocked(ctx, t.cfg.MaxAttempts); err != nil {
			t.logger.Error("scheduled flush failed", zap.Error(err))
		}
		cancel()
		t.flushMu.Unlock()
	}
}

// =============================================================================
// ☠️ 死信队列
// =============================================================================

// deadLetter 追加到死信队列，超出上限淘汰最旧记录
func (t *Tracker) deadLetter(batch []types.ExecutionRecord, cause error) {
	t.dlMu.Lock()
	t.dead = append(t.dead, batch...)
	evicted := 0
	if over := len(t.dead) - t.cfg.DeadLetterLimit; over > 0 {
		evicted = over
		t.dead = append([]types.ExecutionRecord(nil), t.dead[over:]...)
	}
	size := len(t.dead)
	t.dlMu.Unlock()

	t.stats.deadLettered.Add(int64(len(batch)))
	t.metrics.RecordTrackerRecords("dead_lettered", len(batch))
	t.logger.Warn("records moved to dead letter queue",
		zap.Int("records", len(batch)),
		zap.Int("dead_letter_size", size),
		zap.Error(cause),
	)
	if evicted > 0 {
		t.stats.evicted.Add(int64(evicted))
		t.metrics.RecordTrackerRecords("evicted", evicted)
		t.logger.Error("dead letter queue full, evicted oldest records",
			zap.Int("evicted", evicted),
			zap.Int("limit", t.cfg.DeadLetterLimit),
		)
	}
}

// redriveLocked 重新投递死信，调用方持有 flushMu
func (t *Tracker) redriveLocked(ctx context.Context) error {
	if t.sink == nil {
		return nil
	}
	t.dlMu.Lock()
	batch := t.dead
	t.dead = nil
	t.dlMu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	t.logger.Info("redriving dead letter queue", zap.Int("records", len(batch)))
	for start := 0; start < len(batch); start += t.cfg.BatchSize {
		end := min(start+t.cfg.BatchSize, len(batch))
		chunk := batch[start:end]
		if err := t.persist(ctx, chunk, t.cfg.MaxAttempts); err != nil {
			// 剩余未投递的放回死信队列，顺序保持不变
			if end < len(batch) {
				t.deadLetter(batch[end:], err)
			}
			return err
		}
		t.stats.redriven.Add(int64(len(chunk)))
		t.metrics.RecordTrackerRecords("redriven", len(chunk))
	}
	return nil
}

// DeadLetters 返回死信队列的副本，旧在前
func (t *Tracker) DeadLetters() []types.ExecutionRecord {
	t.dlMu.Lock()
	defer t.dlMu.Unlock()
	return append([]types.ExecutionRecord(nil), t.dead...)
}

func (t *Tracker) syncQueues() {
	if t.metrics == nil {
		return
	}
	t.mu.Lock()
	buffered := len(t.pending)
	t.mu.Unlock()
	t.dlMu.Lock()
	dead := len(t.dead)
	t.dlMu.Unlock()
	t.metrics.SetTrackerQueues(buffered, dead)
}

// =============================================================================
// 📊 查询
// =============================================================================

// Recent 返回环形缓冲区中最近的 n 条记录，新在前；skillID 为空时不过滤
func (t *Tracker) Recent(skillID string, n int) []types.ExecutionRecord {
	t.mu.Lock()
	all := t.recent.latest(0)
	t.mu.Unlock()

	out := make([]types.ExecutionRecord, 0, len(all))
	for _, r := range all {
		if skillID != "" && r.SkillID != skillID {
			continue
		}
		out = append(out, r)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// Stats 返回统计快照
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	buffered := len(t.pending)
	t.mu.Unlock()
	t.dlMu.Lock()
	dead := len(t.dead)
	t.dlMu.Unlock()

	return Stats{
		Tracked:       t.stats.tracked.Load(),
		Flushed:       t.stats.flushed.Load(),
		DeadLettered:  t.stats.deadLettered.Load(),
		Evicted:       t.stats.evicted.Load(),
		Redriven:      t.stats.redriven.Load(),
		Flushes:       t.stats.flushes.Load(),
		FailedFlushes: t.stats.failedFlushes.Load(),
		SinkAttempts:  t.stats.sinkAttempts.Load(),
		Buffered:      buffered,
		DeadLetter:    dead,
	}
}

// =============================================================================
// 🛑 关闭
// =============================================================================

// Close 停止后台刷写并在 ctx 截止前做一次不重试的最终刷写。只生效一次
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	t.loop.Wait()

	waited := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		t.logger.Warn("emergency flush still running at shutdown")
	}

	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	err := t.flushPendingLocked(ctx, 1)
	stats := t.Stats()
	t.logger.Info("execution tracker closed",
		zap.Int64("tracked", stats.Tracked),
		zap.Int64("flushed", stats.Flushed),
		zap.Int("dead_letter", stats.DeadLetter),
	)
	if err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}
