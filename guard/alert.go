package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/inventory"
	"github.com/BaSui01/skillflow/types"
)

// Severity 告警级别
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor 按劣化百分比分级
func SeverityFor(degradationPct float64) Severity {
	switch {
	case degradationPct >= 100:
		return SeverityHigh
	case degradationPct >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Alert 性能回归告警
type Alert struct {
	ID             string                       `json:"id"`
	SkillID        string                       `json:"skill_id"`
	Severity       Severity                     `json:"severity"`
	Message        string                       `json:"message"`
	DegradationPct float64                      `json:"degradation_pct"`
	Current        types.LatencyMetrics         `json:"current"`
	Baseline       types.LatencyMetrics         `json:"baseline"`
	Regressions    []inventory.MetricRegression `json:"regressions"`
	TriggeredAt    time.Time                    `json:"triggered_at"`
}

func alertMessage(report inventory.RegressionReport) string {
	worst := report.Regressions[0]
	for _, r := range report.Regressions[1:] {
		if r.DegradationPct > worst.DegradationPct {
			worst = r
		}
	}
	return fmt.Sprintf("%s regressed: %s %.1fms vs baseline %.1fms (+%.1f%%, threshold x%.2f)",
		report.SkillID, worst.Metric, worst.Current, worst.Baseline, worst.DegradationPct, report.Threshold)
}

// =============================================================================
// 📮 告警投递
// =============================================================================

// Sink 告警投递目标
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// LogSink 把告警写入日志
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志投递
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("component", "alert_log"))}
}

// Send 实现 Sink
func (s *LogSink) Send(_ context.Context, alert Alert) error {
	s.logger.Warn("performance regression",
		zap.String("alert_id", alert.ID),
		zap.String("skill_id", alert.SkillID),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("degradation_pct", alert.DegradationPct),
		zap.Float64("p95_ms", alert.Current.P95),
		zap.Time("timestamp", alert.TriggeredAt),
		zap.String("message", alert.Message),
	)
	return nil
}

// RedisSink 把告警写入 Redis 有界列表（最新在前）
type RedisSink struct {
	cache *cache.Manager
	key   string
	limit int64
}

// NewRedisSink 创建 Redis 投递。limit<=0 不裁剪
func NewRedisSink(m *cache.Manager, key string, limit int64) *RedisSink {
	if key == "" {
		key = "skillflow:alerts"
	}
	return &RedisSink{cache: m, key: key, limit: limit}
}

// Send 实现 Sink
func (s *RedisSink) Send(ctx context.Context, alert Alert) error {
	if err := s.cache.PushJSON(ctx, s.key, alert, s.limit); err != nil {
		return fmt.Errorf("push alert %s: %w", alert.ID, err)
	}
	return nil
}

// Recent 读取最近 n 条告警
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]Alert, error) {
	raw, err := s.cache.Range(ctx, s.key, n)
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(raw))
	for _, item := range raw {
		var a Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
