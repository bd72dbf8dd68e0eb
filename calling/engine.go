package calling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/internal/pool"
	"github.com/BaSui01/skillflow/internal/telemetry"
	"github.com/BaSui01/skillflow/rollout"
	"github.com/BaSui01/skillflow/skills"
	"github.com/BaSui01/skillflow/tracking"
	"github.com/BaSui01/skillflow/types"
)

// ErrUnknownStrategy 未知的批量调用策略
var ErrUnknownStrategy = errors.New("unknown call strategy")

// Strategy 批量调用策略
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyAdaptive   Strategy = "adaptive"
)

// Resolver 按 ID 解析技能，skills.Registry 实现了该接口
type Resolver interface {
	Get(id string) (*skills.Skill, bool)
}

// Selector 变体选择，rollout.Manager 实现了该接口
type Selector interface {
	Select(skillID string) rollout.Selection
}

// Recorder 接收每次尝试的执行记录
type Recorder interface {
	Track(ctx context.Context, req tracking.TrackRequest) (types.ExecutionRecord, error)
}

// DecisionRecorder 记录 retry / fallback 决策
type DecisionRecorder interface {
	SaveDecision(ctx context.Context, rec types.IntelligenceRecord) (types.IntelligenceRecord, error)
}

// Request 批量调用中的一项
type Request struct {
	SkillID string         `json:"skill_id"`
	Args    map[string]any `json:"args,omitempty"`
}

// Result 调用结果
type Result struct {
	SkillID    string                `json:"skill_id"`
	Variant    string                `json:"variant"`
	TestID     string                `json:"test_id,omitempty"`
	Status     types.ExecutionStatus `json:"status"`
	Output     map[string]any        `json:"output,omitempty"`
	Error      string                `json:"error,omitempty"`
	Err        error                 `json:"-"`
	Attempts   int                   `json:"attempts"`
	Fallback   bool                  `json:"fallback"`
	DurationMs float64               `json:"duration_ms"`
}

// OK 调用是否成功
func (r Result) OK() bool { return r.Status == types.StatusSuccess || r.Status == types.StatusPartial }

// callOptions 单次调用选项
type callOptions struct {
	timeout  time.Duration
	retry    bool
	fallback bool
}

// CallOption 配置单次调用
type CallOption func(*callOptions)

// WithTimeout 覆盖默认超时
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetry 覆盖是否重试
func WithRetry(retry bool) CallOption {
	return func(o *callOptions) { o.retry = retry }
}

// Engine 技能调用引擎
type Engine struct {
	cfg       config.CallingConfig
	resolver  Resolver
	selector  Selector
	recorder  Recorder
	decisions DecisionRecorder
	pool      *pool.WorkerPool
	metrics   *metrics.Collector
	logger    *zap.Logger

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option 配置 Engine
type Option func(*Engine)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithSelector 设置变体选择
func WithSelector(s Selector) Option {
	return func(e *Engine) { e.selector = s }
}

// WithRecorder 设置执行记录接收方
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithDecisions 设置决策记录
func WithDecisions(d DecisionRecorder) Option {
	return func(e *Engine) { e.decisions = d }
}

// New 创建调用引擎
func New(resolver Resolver, cfg config.CallingConfig, opts ...Option) (*Engine, error) {
	if resolver == nil {
		return nil, errors.New("calling engine: resolver is required")
	}
	def := config.DefaultCallingConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	e := &Engine{
		cfg:      cfg,
		resolver: resolver,
		logger:   zap.NewNop(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "calling_engine"))
	e.pool = pool.NewWorkerPool(pool.WorkerPoolConfig{
		MaxWorkers: cfg.Workers,
		QueueSize:  cfg.QueueSize,
	}, e.logger)
	return e, nil
}

// Call 调用技能。超时返回 status=timeout 的结果；非超时失败在重试后仍失败时返回错误
func (e *Engine) Call(ctx context.Context, skillID string, args map[string]any, opts ...CallOption) (Result, error) {
	o := callOptions{timeout: e.cfg.Timeout, retry: e.cfg.Retry}
	for _, opt := range opts {
		opt(&o)
	}
	return e.call(ctx, skillID, args, o)
}

func (e *Engine) call(ctx context.Context, skillID string, args map[string]any, o callOptions) (Result, error) {
	res := Result{SkillID: skillID, Variant: skillID, Fallback: o.fallback}
	if e.selector != nil {
		sel := e.selector.Select(skillID)
		res.Variant, res.TestID = sel.Variant, sel.TestID
	}

	skill, ok := e.resolver.Get(res.Variant)
	if !ok {
		err := types.NewError(types.ErrSkillNotFound, "skill is not registered").WithSkill(res.Variant)
		return e.fail(res, types.StatusFailure, err), err
	}

	if err := e.wait(ctx, res.Variant); err != nil {
		err = types.NewError(types.ErrRateLimited, "rate limit wait aborted").WithSkill(res.Variant).WithCause(err)
		return e.fail(res, types.StatusFailure, err), err
	}

	start := time.Now()
	out, status, err := e.attempt(ctx, skill, args, o, 1)
	res.Attempts = 1
	if err != nil && status == types.StatusFailure && o.retry && ctx.Err() == nil {
		e.metrics.RecordRetry(res.Variant)
		e.recordDecision(ctx, types.DecisionRetry, res.Variant, err.Error(), "retry once")
		e.logger.Warn("skill call failed, retrying once",
			zap.String("skill_id", res.Variant),
			zap.Error(err),
		)
		out, status, err = e.attempt(ctx, skill, args, o, 2)
		res.Attempts = 2
	}

	res.Output, res.Status = out, status
	res.DurationMs = float64(time.Since(start).Microseconds()) / 1000
	if err == nil {
		return res, nil
	}
	res.Err, res.Error = err, err.Error()
	if status == types.StatusTimeout {
		return res, nil
	}
	return res, err
}

func (e *Engine) fail(res Result, status types.ExecutionStatus, err error) Result {
	res.Status, res.Err, res.Error = status, err, err.Error()
	return res
}

// outcome 处理器返回值
type outcome struct {
	out map[string]any
	err error
}

// attempt 在池中执行一次调用并记录
func (e *Engine) attempt(ctx context.Context, skill *skills.Skill, args map[string]any, o callOptions, n int) (map[string]any, types.ExecutionStatus, error) {
	id := skill.ID()
	ctx, span := telemetry.StartSkillSpan(ctx, "skill.call", id,
		attribute.Int("skill.attempt", n),
		attribute.String("skill.version", skill.Descriptor.Version),
	)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	start := time.Now()
	poolErr := e.pool.Do(callCtx, func(taskCtx context.Context) error {
		out, err := skill.Invoke(taskCtx, args)
		done <- outcome{out: out, err: err}
		return err
	})
	elapsed := time.Since(start)

	var oc outcome
	select {
	case oc = <-done:
	default:
		// 任务未完成：超时、取消或池不可用
		oc.err = poolErr
	}

	status := types.StatusSuccess
	err := oc.err
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, pool.ErrTaskTimeout),
		errors.Is(err, context.Canceled):
		status = types.StatusTimeout
		e.metrics.RecordTimeout(id)
		err = types.NewError(types.ErrTimeout, fmt.Sprintf("call exceeded %s", o.timeout)).WithSkill(id).WithCause(err)
	case errors.Is(err, pool.ErrPoolClosed), errors.Is(err, pool.ErrPoolFull):
		status = types.StatusFailure
		err = types.NewError(types.ErrPoolUnavailable, "worker pool unavailable").WithSkill(id).WithCause(err)
	default:
		status = types.StatusFailure
		var typed *types.Error
		if !errors.As(err, &typed) {
			err = types.NewError(types.ErrHandlerFailed, "handler failed").WithSkill(id).WithCause(err)
		}
	}
	telemetry.EndSpan(span, err, attribute.String("skill.status", string(status)))

	e.track(ctx, skill, args, oc.out, err, status, o.fallback, elapsed)
	return oc.out, status, err
}

func (e *Engine) track(ctx context.Context, skill *skills.Skill, args, out map[string]any, err error, status types.ExecutionStatus, fallback bool, elapsed time.Duration) {
	if e.recorder == nil {
		e.metrics.RecordInvocation(skill.ID(), string(status), elapsed)
		return
	}
	// 调用方取消后仍需记录
	_, terr := e.recorder.Track(context.WithoutCancel(ctx), tracking.TrackRequest{
		SkillID:      skill.ID(),
		SkillVersion: skill.Descriptor.Version,
		Args:         args,
		Output:       out,
		Err:          err,
		Status:       status,
		FallbackUsed: fallback,
		DurationMs:   float64(elapsed.Microseconds()) / 1000,
	})
	if terr != nil {
		e.logger.Warn("execution record rejected", zap.String("skill_id", skill.ID()), zap.Error(terr))
	}
}

// wait 按技能限流
func (e *Engine) wait(ctx context.Context, skillID string) error {
	if e.cfg.RateLimit <= 0 {
		return nil
	}
	e.limitMu.Lock()
	l, ok := e.limiters[skillID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.cfg.RateLimit), e.cfg.RateBurst)
		e.limiters[skillID] = l
	}
	e.limitMu.Unlock()
	return l.Wait(ctx)
}

func (e *Engine) recordDecision(ctx context.Context, kind types.DecisionKind, skillID, rationale, result string) {
	if e.decisions == nil {
		return
	}
	rec := types.IntelligenceRecord{
		SkillID:    skillID,
		Kind:       kind,
		Confidence: 0.5,
		Rationale:  rationale,
		Outcome:    result,
	}
	if _, err := e.decisions.SaveDecision(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("record call decision failed", zap.String("skill_id", skillID), zap.Error(err))
	}
}

// =============================================================================
// 📦 批量调用
// =============================================================================

// CallMultiple 按策略批量调用。单项失败体现在结果中，只有策略非法或 ctx 结束时返回错误
func (e *Engine) CallMultiple(ctx context.Context, calls []Request, strategy Strategy, opts ...CallOption) ([]Result, error) {
	o := callOptions{timeout: e.cfg.Timeout, retry: e.cfg.Retry}
	for _, opt := range opts {
		opt(&o)
	}

	switch strategy {
	case StrategySequential:
		return e.sequential(ctx, calls, o)
	case StrategyParallel:
		return e.parallel(ctx, calls, o)
	case StrategyAdaptive:
		results, err := e.parallel(ctx, calls, o)
		if err != nil {
			return results, err
		}
		return e.rerunFailures(ctx, calls, results, o)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

func (e *Engine) sequential(ctx context.Context, calls []Request, o callOptions) ([]Result, error) {
	results := make([]Result, len(calls))
	for i, c := range calls {
		if err := ctx.Err(); err != nil {
			return results[:i], err
		}
		results[i], _ = e.call(ctx, c.SkillID, c.Args, o)
	}
	return results, nil
}

func (e *Engine) parallel(ctx context.Context, calls []Request, o callOptions) ([]Result, error) {
	results := make([]Result, len(calls))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, c := range calls {
		g.Go(func() error {
			results[i], _ = e.call(ctx, c.SkillID, c.Args, o)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// rerunFailures 将并发阶段失败的调用按顺序重跑一次
func (e *Engine) rerunFailures(ctx context.Context, calls []Request, results []Result, o callOptions) ([]Result, error) {
	fo := o
	fo.fallback = true
	for i, r := range results {
		if r.OK() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		e.recordDecision(ctx, types.DecisionFallback, calls[i].SkillID, r.Error, "sequential rerun")
		rerun, _ := e.call(ctx, calls[i].SkillID, calls[i].Args, fo)
		rerun.Attempts += r.Attempts
		results[i] = rerun
	}
	return results, nil
}

// Stats 返回处理器并发池统计
func (e *Engine) Stats() pool.WorkerPoolStats { return e.pool.Stats() }

// Close 关闭并发池，等待在途调用到 ctx 结束为止
func (e *Engine) Close(ctx context.Context) error { return e.pool.Close(ctx) }
