package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/inventory"
	"github.com/BaSui01/skillflow/types"
)

// ErrInvalidInput 输入不合法
var ErrInvalidInput = errors.New("invalid guard input")

// Verdicts 回归判定来源，inventory.Store 实现了该接口
type Verdicts interface {
	CheckRegression(ctx context.Context, skillID string, current types.LatencyMetrics, threshold float64) (inventory.RegressionReport, error)
}

// CheckResult 单次检查的结果
type CheckResult struct {
	SkillID    string                      `json:"skill_id"`
	Current    types.LatencyMetrics        `json:"current"`
	Samples    int                         `json:"samples"`
	Report     *inventory.RegressionReport `json:"report,omitempty"`
	Severity   Severity                    `json:"severity,omitempty"`
	Alert      *Alert                      `json:"alert,omitempty"`
	Suppressed bool                        `json:"suppressed"`
}

// window 单技能滚动延迟窗口
type window struct {
	samples []float64
	size    int
}

func (w *window) add(v float64) {
	w.samples = append(w.samples, v)
	if len(w.samples) > w.size {
		w.samples = w.samples[len(w.samples)-w.size:]
	}
}

// =============================================================================
// 🛡️ 性能守卫
// =============================================================================

// Guard 性能回归守卫
type Guard struct {
	cfg      config.GuardConfig
	verdicts Verdicts
	sinks    []Sink
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastAlert map[string]time.Time
	history   []Alert

	cleanupInterval time.Duration
	cleanupMu       sync.Mutex
	done            chan struct{}
	loop            sync.WaitGroup
	closeOnce       sync.Once
}

// Option 配置 Guard
type Option func(*Guard)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Guard) { g.metrics = c }
}

// WithSinks 设置告警投递目标，默认只写日志
func WithSinks(sinks ...Sink) Option {
	return func(g *Guard) { g.sinks = sinks }
}

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithCleanupInterval 启动后台去重记录清理
func WithCleanupInterval(interval time.Duration) Option {
	return func(g *Guard) { g.cleanupInterval = interval }
}

// New 创建守卫
func New(verdicts Verdicts, cfg config.GuardConfig, opts ...Option) (*Guard, error) {
	if verdicts == nil {
		return nil, fmt.Errorf("%w: verdict source is required", ErrInvalidInput)
	}
	if cfg.RegressionThreshold <= 0 {
		cfg.RegressionThreshold = inventory.DefaultRegressionThreshold
	}
	if cfg.AlertDedupWindow < 0 {
		return nil, fmt.Errorf("%w: negative dedup window", ErrInvalidInput)
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1
	}
	if cfg.AlertHistory <= 0 {
		cfg.AlertHistory = 100
	}

	g := &Guard{
		cfg:       cfg,
		verdicts:  verdicts,
		logger:    zap.NewNop(),
		now:       time.Now,
		windows:   make(map[string]*window),
		lastAlert: make(map[string]time.Time),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", "performance_guard"))
	if len(g.sinks) == 0 {
		g.sinks = []Sink{NewLogSink(g.logger)}
	}
	if g.cleanupInterval > 0 {
		g.loop.Add(1)
		go g.cleanupLoop(g.cleanupInterval)
	}
	return g, nil
}

// Check 记录一次调用并判定回归。没有基线或样本不足时不判定
func (g *Guard) Check(ctx context.Context, skillID string, durationMs float64, status types.ExecutionStatus, confidence *float64) (CheckResult, error) {
	if skillID == "" {
		return CheckResult{}, fmt.Errorf("%w: skill id is required", ErrInvalidInput)
	}
	if durationMs < 0 {
		return CheckResult{}, fmt.Errorf("%w: negative duration", ErrInvalidInput)
	}

	g.metrics.RecordInvocation(skillID, string(status), time.Duration(durationMs*float64(time.Millisecond)))
	if confidence != nil {
		g.metrics.RecordConfidence(skillID, *confidence)
	}

	g.mu.Lock()
	w, ok := g.windows[skillID]
	if !ok {
		w = &window{size: g.cfg.WindowSize}
		g.windows[skillID] = w
	}
	w.add(durationMs)
	current := inventory.ComputeLatency(w.samples)
	samples := len(w.samples)
	g.mu.Unlock()

	g.metrics.RecordLatency(skillID, current.P50, current.P95, current.P99)

	result := CheckResult{SkillID: skillID, Current: current, Samples: samples}
	if samples < g.cfg.MinSamples {
		return result, nil
	}

	report, err := g.verdicts.CheckRegression(ctx, skillID, current, g.cfg.RegressionThreshold)
	if errors.Is(err, inventory.ErrNoBaseline) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("regression verdict for %s: %w", skillID, err)
	}
	result.Report = &report
	if !report.Regressed() {
		return result, nil
	}

	severity := SeverityFor(report.MaxDegradation())
	result.Severity = severity
	g.metrics.RecordRegression(skillID, string(severity))

	alert, suppressed := g.raise(skillID, severity, report)
	result.Suppressed = suppressed
	g.metrics.RecordAlert(skillID, string(severity), suppressed)
	if suppressed {
		g.logger.Debug("regression alert suppressed",
			zap.String("skill_id", skillID),
			zap.String("severity", string(severity)),
		)
		return result, nil
	}

	result.Alert = &alert
	g.dispatch(ctx, alert)
	return result, nil
}

// raise 在去重窗口内只放行第一条告警
func (g *Guard) raise(skillID string, severity Severity, report inventory.RegressionReport) (Alert, bool) {
	now := g.now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastAlert[skillID]; ok && now.Sub(last) < g.cfg.AlertDedupWindow {
		return Alert{}, true
	}
	g.lastAlert[skillID] = now

	alert := Alert{
		ID:             uuid.NewString(),
		SkillID:        skillID,
		Severity:       severity,
		Message:        alertMessage(report),
		DegradationPct: report.MaxDegradation(),
		Current:        report.Current,
		Baseline:       report.Baseline.Metrics,
		Regressions:    report.Regressions,
		TriggeredAt:    now,
	}
	g.history = append(g.history, alert)
	if over := len(g.history) - g.cfg.AlertHistory; over > 0 {
		g.history = append([]Alert(nil), g.history[over:]...)
	}
	return alert, false
}

func (g *Guard) dispatch(ctx context.Context, alert Alert) {
	for _, sink := range g.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			g.logger.Error("alert delivery failed",
				zap.String("alert_id", alert.ID),
				zap.String("skill_id", alert.SkillID),
				zap.Error(err),
			)
		}
	}
}

// RecentAlerts 返回最近的告警，新在前。limit<=0 返回全部
func (g *Guard) RecentAlerts(limit int) []Alert {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, g.history[i])
	}
	return out
}

// Current 返回技能当前窗口的延迟分布与样本数
func (g *Guard) Current(skillID string) (types.LatencyMetrics, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.windows[skillID]
	if !ok {
		return types.LatencyMetrics{}, 0
	}
	return inventory.ComputeLatency(w.samples), len(w.samples)
}

// Reset 清除技能的滚动窗口与去重状态，通常在新版本上线或回滚后调用
func (g *Guard) Reset(skillID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.windows, skillID)
	delete(g.lastAlert, skillID)
}

// =============================================================================
// 🧹 去重窗口清理
// =============================================================================

// PruneAlertWindows 删除已过期的去重记录，返回删除条数
func (g *Guard) PruneAlertWindows() int {
	now := g.now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, last := range g.lastAlert {
		if now.Sub(last) >= g.cfg.AlertDedupWindow {
			delete(g.lastAlert, id)
			removed++
		}
	}
	return removed
}

func (g *Guard) cleanupLoop(interval time.Duration) {
	defer g.loop.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
		}
		if !g.cleanupMu.TryLock() {
			continue
		}
		if n := g.PruneAlertWindows(); n > 0 {
			g.logger.Debug("pruned expired alert windows", zap.Int("count", n))
		}
		g.cleanupMu.Unlock()
	}
}

// Close 停止后台清理
func (g *Guard) Close() {
	g.closeOnce.Do(func() {
		close(g.done)
		g.loop.Wait()
	})
}
