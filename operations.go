package skillflow

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/calling"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/guard"
	"github.com/BaSui01/skillflow/hotreload"
	"github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/inventory"
	"github.com/BaSui01/skillflow/rollout"
	"github.com/BaSui01/skillflow/signal"
	"github.com/BaSui01/skillflow/tracking"
	"github.com/BaSui01/skillflow/types"
	"github.com/BaSui01/skillflow/versioning"
)

// summaryKeyPrefix Redis 摘要缓存键前缀
const summaryKeyPrefix = "skillflow:summary:"

// readFlushTimeout 查询前刷写缓冲的时限
const readFlushTimeout = 2 * time.Second

// =============================================================================
// 📈 遥测
// =============================================================================

// Tracked 一次追踪的完整结果
type Tracked struct {
	Record types.ExecutionRecord `json:"record"`
	Signal signal.Result         `json:"signal"`
	Check  *guard.CheckResult    `json:"check,omitempty"`
}

// Track 记录一次执行：写入追踪器，标注信号/噪声，过滤后的记录不进入守卫窗口。
// 守卫失败只记日志，不影响调用方
func (e *Engine) Track(ctx context.Context, req tracking.TrackRequest) (types.ExecutionRecord, error) {
	t, err := e.TrackDetailed(ctx, req)
	return t.Record, err
}

// TrackDetailed 同 Track，额外返回分类与守卫结果
func (e *Engine) TrackDetailed(ctx context.Context, req tracking.TrackRequest) (Tracked, error) {
	if e.isClosed() {
		return Tracked{}, ErrShutdown
	}
	return e.trackDetailed(ctx, req)
}

// callRecorder 调用引擎的记录入口。排空阶段仍接收在途调用的结果，直到追踪器关闭
type callRecorder struct{ e *Engine }

func (r callRecorder) Track(ctx context.Context, req tracking.TrackRequest) (types.ExecutionRecord, error) {
	t, err := r.e.trackDetailed(ctx, req)
	return t.Record, err
}

func (e *Engine) trackDetailed(ctx context.Context, req tracking.TrackRequest) (Tracked, error) {
	rec, err := e.tracker.Track(ctx, req)
	if err != nil {
		return Tracked{Record: rec}, err
	}
	e.invalidateSummary(ctx, rec.SkillID)

	out := Tracked{Record: rec}
	out.Signal = e.classifier.Classify(rec, e.baseline(ctx, rec.SkillID))
	e.nsr.Observe(out.Signal)
	if out.Signal.IsNoise && out.Signal.Action == signal.ActionFilter {
		return out, nil
	}

	check, gerr := e.guard.Check(ctx, rec.SkillID, rec.DurationMs, rec.Status, rec.Confidence)
	if gerr != nil {
		e.logger.Warn("performance check failed",
			zap.String("skill_id", rec.SkillID),
			zap.Error(gerr),
		)
		return out, nil
	}
	out.Check = &check
	return out, nil
}

// baseline 返回缓存的最新基线，没有基线时返回 nil
func (e *Engine) baseline(ctx context.Context, skillID string) *types.PerformanceBaseline {
	e.baselineMu.RLock()
	b, ok := e.baselines[skillID]
	e.baselineMu.RUnlock()
	if ok {
		return b
	}

	latest, err := e.store.LatestBaseline(ctx, skillID)
	switch {
	case err == nil:
		b = &latest
	case errors.Is(err, inventory.ErrNoBaseline):
		b = nil
	default:
		// 存储暂时不可用时不缓存，下次再查
		e.logger.Debug("baseline lookup failed", zap.String("skill_id", skillID), zap.Error(err))
		return nil
	}
	e.baselineMu.Lock()
	e.baselines[skillID] = b
	e.baselineMu.Unlock()
	return b
}

// ExecutionHistory 返回执行历史（新在前）。skillID 为空时返回全部技能
func (e *Engine) ExecutionHistory(ctx context.Context, skillID string, limit int) ([]types.ExecutionRecord, error) {
	e.flush(ctx)
	return e.store.ExecutionHistory(ctx, skillID, limit)
}

// SkillPerformance 返回技能性能画像
func (e *Engine) SkillPerformance(ctx context.Context, skillID string) (inventory.Performance, error) {
	e.flush(ctx)
	return e.store.SkillPerformance(ctx, skillID)
}

// SkillSummary 返回技能摘要，启用 Redis 时优先读缓存
func (e *Engine) SkillSummary(ctx context.Context, skillID string) (inventory.Summary, error) {
	key := summaryKeyPrefix + skillID
	if e.cache != nil {
		var cached inventory.Summary
		err := e.cache.GetJSON(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !cache.IsCacheMiss(err) {
			e.logger.Debug("summary cache read failed", zap.String("skill_id", skillID), zap.Error(err))
		}
	}

	e.flush(ctx)
	summary, err := e.store.SkillSummary(ctx, skillID)
	if err != nil {
		return summary, err
	}
	if e.cache != nil {
		if err := e.cache.SetJSON(ctx, key, summary, e.cfg.Redis.SummaryTTL); err != nil {
			e.logger.Debug("summary cache write failed", zap.String("skill_id", skillID), zap.Error(err))
		}
	}
	return summary, nil
}

func (e *Engine) invalidateSummary(ctx context.Context, skillID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, summaryKeyPrefix+skillID); err != nil {
		e.logger.Debug("summary cache invalidate failed", zap.String("skill_id", skillID), zap.Error(err))
	}
}

// Export 按格式（json、jsonl、csv）导出执行记录，返回条数
func (e *Engine) Export(ctx context.Context, w io.Writer, format string, filter inventory.ExportFilter) (int, error) {
	e.flush(ctx)
	return e.store.Export(ctx, w, format, filter)
}

// RecentDecisions 返回技能最近的决策记录
func (e *Engine) RecentDecisions(ctx context.Context, skillID string, limit int) ([]types.IntelligenceRecord, error) {
	return e.store.RecentDecisions(ctx, skillID, limit)
}

// flush 查询前刷新批量缓冲，让读到的数据包含刚追踪的记录。
// 读路径只尝试一次且有时限，不重投死信
func (e *Engine) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, readFlushTimeout)
	defer cancel()
	if err := e.tracker.FlushPending(ctx); err != nil {
		e.logger.Warn("flush before query failed", zap.Error(err))
	}
}

// TrackerStats 追踪器统计
func (e *Engine) TrackerStats() tracking.Stats { return e.tracker.Stats() }

// CacheStats 摘要缓存命中统计，未启用 Redis 时第二个返回值为 false
func (e *Engine) CacheStats() (cache.Stats, bool) {
	if e.cache == nil {
		return cache.Stats{}, false
	}
	return e.cache.Stats(), true
}

// DeadLetters 返回尚未持久化成功的记录
func (e *Engine) DeadLetters() []types.ExecutionRecord { return e.tracker.DeadLetters() }

// Flush 刷写缓冲区并带重试重投死信队列
func (e *Engine) Flush(ctx context.Context) error {
	if e.isClosed() {
		return ErrShutdown
	}
	return e.tracker.Flush(ctx)
}

// NSR 当前噪声信号比快照
func (e *Engine) NSR() signal.Snapshot { return e.nsr.Snapshot() }

// =============================================================================
// 📐 回归
// =============================================================================

// CaptureBaseline 保存一条性能基线，之后的分类与守卫判定以它为准
func (e *Engine) CaptureBaseline(ctx context.Context, skillID string, m types.LatencyMetrics, sampleCount int) (types.PerformanceBaseline, error) {
	b := types.PerformanceBaseline{
		SkillID:     skillID,
		Metrics:     m,
		SampleCount: sampleCount,
		Reason:      "manual",
	}
	if s, ok := e.registry.Get(skillID); ok {
		b.SkillVersion = s.Descriptor.Version
	}
	saved, err := e.store.SaveBaseline(ctx, b)
	if err != nil {
		return saved, err
	}
	e.baselineMu.Lock()
	e.baselines[skillID] = &saved
	e.baselineMu.Unlock()
	e.guard.Reset(skillID)
	return saved, nil
}

// CheckRegression 对比给定指标与最新基线。threshold ≤ 0 时使用配置的阈值
func (e *Engine) CheckRegression(ctx context.Context, skillID string, current types.LatencyMetrics, threshold float64) (inventory.RegressionReport, error) {
	if threshold <= 0 {
		threshold = e.cfg.Guard.RegressionThreshold
	}
	return e.store.CheckRegression(ctx, skillID, current, threshold)
}

// RecentAlerts 返回最近的告警（新在前）
func (e *Engine) RecentAlerts(limit int) []guard.Alert { return e.guard.RecentAlerts(limit) }

// =============================================================================
// 🗂️ 版本
// =============================================================================

// CaptureVersion 为技能当前源码创建版本快照
func (e *Engine) CaptureVersion(ctx context.Context, skillID string) (types.SkillVersion, error) {
	return e.versions.Capture(ctx, skillID)
}

// ListVersions 列出技能版本（新在前）
func (e *Engine) ListVersions(ctx context.Context, skillID string) ([]types.SkillVersion, error) {
	return e.versions.List(ctx, skillID)
}

// Rollback 恢复指定版本的源码并重载
func (e *Engine) Rollback(ctx context.Context, skillID, versionID string) (bool, error) {
	return e.versions.Rollback(ctx, skillID, versionID)
}

// CompareVersions 对比两个版本的性能与源码
func (e *Engine) CompareVersions(ctx context.Context, skillID, fromID, toID string) (versioning.Comparison, error) {
	return e.versions.Compare(ctx, skillID, fromID, toID)
}

// =============================================================================
// 🔄 热加载
// =============================================================================

// ReloadSkill 立即重载一个清单文件
func (e *Engine) ReloadSkill(ctx context.Context, path string) (hotreload.Result, error) {
	return e.reload.Reload(ctx, path)
}

// ReloadResults 最近的重载结果（新在前）
func (e *Engine) ReloadResults(limit int) []hotreload.Result { return e.reload.Results(limit) }

// =============================================================================
// 🧪 A/B 测试
// =============================================================================

// CreateABTest 创建草稿测试
func (e *Engine) CreateABTest(ctx context.Context, skillID, variantA, variantB string, fraction float64) (types.ABTestConfig, error) {
	return e.rollout.Create(ctx, skillID, variantA, variantB, fraction)
}

// StartABTest 开始测试，之后调用按比例路由
func (e *Engine) StartABTest(ctx context.Context, testID string) (types.ABTestConfig, error) {
	return e.rollout.Start(ctx, testID)
}

// UpdateRollout 调整候选流量比例
func (e *Engine) UpdateRollout(ctx context.Context, testID string, fraction float64) (types.ABTestConfig, error) {
	return e.rollout.UpdateRollout(ctx, testID, fraction)
}

// EvaluateABTest 根据两个变体的表现推进、晋升或回退
func (e *Engine) EvaluateABTest(ctx context.Context, testID string) (rollout.Evaluation, error) {
	e.flush(ctx)
	return e.rollout.Evaluate(ctx, testID)
}

// ListABTests 列出测试，status 为空时不过滤
func (e *Engine) ListABTests(ctx context.Context, skillID string, status types.ABTestStatus) ([]types.ABTestConfig, error) {
	return e.rollout.List(ctx, skillID, status)
}

// SelectVariant 返回本次调用应使用的变体
func (e *Engine) SelectVariant(skillID string) rollout.Selection { return e.rollout.Select(skillID) }

// =============================================================================
// 📞 调用
// =============================================================================

// Call 调用技能，结果自动追踪
func (e *Engine) Call(ctx context.Context, skillID string, args map[string]any, opts ...calling.CallOption) (calling.Result, error) {
	if e.isClosed() {
		return calling.Result{SkillID: skillID, Status: types.StatusFailure, Error: ErrShutdown.Error(), Err: ErrShutdown}, ErrShutdown
	}
	return e.calling.Call(ctx, skillID, args, opts...)
}

// CallMultiple 按策略批量调用
func (e *Engine) CallMultiple(ctx context.Context, calls []calling.Request, strategy calling.Strategy, opts ...calling.CallOption) ([]calling.Result, error) {
	if e.isClosed() {
		return nil, ErrShutdown
	}
	return e.calling.CallMultiple(ctx, calls, strategy, opts...)
}

// Ping 检查存储是否可用
func (e *Engine) Ping(ctx context.Context) error {
	if e.isClosed() {
		return ErrShutdown
	}
	return e.store.Ping(ctx)
}

// Config 返回引擎使用的配置
func (e *Engine) Config() *config.Config { return e.cfg }
