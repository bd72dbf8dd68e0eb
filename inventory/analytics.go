package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/BaSui01/skillflow/types"
)

// DefaultRegressionThreshold 默认回归阈值倍数
const DefaultRegressionThreshold = 1.2

// Percentile 返回升序样本的秩分位数 sorted[int(n*p)]，越界时取最后一个
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// ComputeLatency 计算样本的 p50/p95/p99 与均值，不修改入参
func ComputeLatency(durations []float64) types.LatencyMetrics {
	if len(durations) == 0 {
		return types.LatencyMetrics{}
	}
	sorted := append([]float64(nil), durations...)
	sort.Float64s(sorted)
	var sum float64
	for _, d := range sorted {
		sum += d
	}
	return types.LatencyMetrics{
		P50: Percentile(sorted, 0.50),
		P95: Percentile(sorted, 0.95),
		P99: Percentile(sorted, 0.99),
		Avg: sum / float64(len(sorted)),
	}
}

// =============================================================================
// 📊 汇总
// =============================================================================

// Summary 技能执行汇总
type Summary struct {
	SkillID       string               `json:"skill_id"`
	Total         int64                `json:"total_executions"`
	Successes     int64                `json:"successes"`
	SuccessRate   float64              `json:"success_rate"`
	AvgConfidence float64              `json:"avg_confidence"`
	Latency       types.LatencyMetrics `json:"latency"`
}

// Performance 技能性能画像
type Performance struct {
	SkillID      string  `json:"skill_id"`
	Total        int64   `json:"total"`
	SuccessRate  float64 `json:"success_rate"`
	ErrorRate    float64 `json:"error_rate"`
	FallbackRate float64 `json:"fallback_rate"`
	AvgLatency   float64 `json:"avg_latency_ms"`
	P50          float64 `json:"p50_ms"`
	P95          float64 `json:"p95_ms"`
	P99          float64 `json:"p99_ms"`
}

type aggregateRow struct {
	Total         int64
	Successes     int64
	Errors        int64
	Fallbacks     int64
	AvgConfidence *float64
}

func (s *Store) aggregate(ctx context.Context, skillID string) (aggregateRow, []float64, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return aggregateRow{}, nil, err
	}

	var row aggregateRow
	err = db.Model(&executionModel{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS successes,
			COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0) AS errors,
			COALESCE(SUM(CASE WHEN fallback_used THEN 1 ELSE 0 END), 0) AS fallbacks,
			AVG(confidence) AS avg_confidence`,
			types.StatusSuccess, types.StatusFailure, types.StatusTimeout).
		Where("skill_id = ?", skillID).
		Scan(&row).Error
	if err != nil {
		return aggregateRow{}, nil, storeError("aggregate executions", err)
	}

	var durations []float64
	err = db.Model(&executionModel{}).
		Where("skill_id = ?", skillID).
		Order("duration_ms").
		Pluck("duration_ms", &durations).Error
	if err != nil {
		return aggregateRow{}, nil, storeError("load durations", err)
	}
	return row, durations, nil
}

// SkillSummary 返回技能的执行次数、成功率、平均置信度与延迟分位数
func (s *Store) SkillSummary(ctx context.Context, skillID string) (Summary, error) {
	row, durations, err := s.aggregate(ctx, skillID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		SkillID:   skillID,
		Total:     row.Total,
		Successes: row.Successes,
		Latency:   ComputeLatency(durations),
	}
	if row.Total > 0 {
		sum.SuccessRate = float64(row.Successes) / float64(row.Total)
	}
	if row.AvgConfidence != nil {
		sum.AvgConfidence = *row.AvgConfidence
	}
	return sum, nil
}

// SkillPerformance 返回技能的成功率、错误率、回退率与延迟分布
func (s *Store) SkillPerformance(ctx context.Context, skillID string) (Performance, error) {
	row, durations, err := s.aggregate(ctx, skillID)
	if err != nil {
		return Performance{}, err
	}
	lat := ComputeLatency(durations)
	perf := Performance{
		SkillID:    skillID,
		Total:      row.Total,
		AvgLatency: lat.Avg,
		P50:        lat.P50,
		P95:        lat.P95,
		P99:        lat.P99,
	}
	if row.Total > 0 {
		total := float64(row.Total)
		perf.SuccessRate = float64(row.Successes) / total
		perf.ErrorRate = float64(row.Errors) / total
		perf.FallbackRate = float64(row.Fallbacks) / total
	}
	return perf, nil
}

// =============================================================================
// 📉 回归检测
// =============================================================================

// MetricRegression 单项指标的回归
type MetricRegression struct {
	Metric         string  `json:"metric"`
	Baseline       float64 `json:"baseline"`
	Current        float64 `json:"current"`
	DegradationPct float64 `json:"degradation_pct"`
}

// RegressionReport 回归判定
type RegressionReport struct {
	SkillID     string                    `json:"skill_id"`
	Baseline    types.PerformanceBaseline `json:"baseline"`
	Current     types.LatencyMetrics      `json:"current"`
	Threshold   float64                   `json:"threshold"`
	Regressions []MetricRegression        `json:"regressions,omitempty"`
}

// Regressed reports whether any metric regressed.
func (r RegressionReport) Regressed() bool { return len(r.Regressions) > 0 }

// MaxDegradation 返回最大的劣化百分比
func (r RegressionReport) MaxDegradation() float64 {
	var worst float64
	for _, reg := range r.Regressions {
		if reg.DegradationPct > worst {
			worst = reg.DegradationPct
		}
	}
	return worst
}

// CompareToBaseline 对比当前指标与基线。指标严格大于 基线 × threshold 才算回归；
// 基线值不为正的指标无法计算劣化比例，跳过。
func CompareToBaseline(baseline types.PerformanceBaseline, current types.LatencyMetrics, threshold float64) RegressionReport {
	if threshold <= 0 {
		threshold = DefaultRegressionThreshold
	}
	report := RegressionReport{
		SkillID:   baseline.SkillID,
		Baseline:  baseline,
		Current:   current,
		Threshold: threshold,
	}
	pairs := []struct {
		name           string
		base, observed float64
	}{
		{"p50", baseline.Metrics.P50, current.P50},
		{"p95", baseline.Metrics.P95, current.P95},
		{"p99", baseline.Metrics.P99, current.P99},
		{"avg", baseline.Metrics.Avg, current.Avg},
	}
	for _, p := range pairs {
		if p.base <= 0 {
			continue
		}
		if p.observed > p.base*threshold {
			report.Regressions = append(report.Regressions, MetricRegression{
				Metric:         p.name,
				Baseline:       p.base,
				Current:        p.observed,
				DegradationPct: (p.observed - p.base) / p.base * 100,
			})
		}
	}
	return report
}

// CheckRegression 以最近基线判定当前指标是否回归；没有基线时返回 ErrNoBaseline
func (s *Store) CheckRegression(ctx context.Context, skillID string, current types.LatencyMetrics, threshold float64) (RegressionReport, error) {
	if threshold < 0 {
		return RegressionReport{}, fmt.Errorf("%w: threshold must not be negative", ErrInvalidInput)
	}
	baseline, err := s.LatestBaseline(ctx, skillID)
	if err != nil {
		return RegressionReport{}, err
	}
	return CompareToBaseline(baseline, current, threshold), nil
}
