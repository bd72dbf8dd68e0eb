// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 调用指标
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	callRetries        *prometheus.CounterVec
	callTimeouts       *prometheus.CounterVec

	// 守卫指标
	latencyQuantile *prometheus.GaugeVec
	confidence      *prometheus.GaugeVec
	regressions     *prometheus.CounterVec
	alertsTotal     *prometheus.CounterVec
	alertsDeduped   *prometheus.CounterVec

	// 追踪指标
	trackerRecords   *prometheus.CounterVec
	trackerFlushes   *prometheus.CounterVec
	trackerBuffer    prometheus.Gauge
	trackerDeadQueue prometheus.Gauge

	// 信号指标
	classifications *prometheus.CounterVec
	noiseRatio      prometheus.Gauge

	// 热加载与灰度
	reloadsTotal    *prometheus.CounterVec
	rolloutFraction *prometheus.GaugeVec
	variantSelected *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，reg 为空时注册到默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 调用指标
	c.invocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_invocations_total",
			Help:      "Total number of skill invocations",
		},
		[]string{"skill", "status"},
	)

	c.invocationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "skill_invocation_duration_seconds",
			Help:      "Skill invocation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"skill"},
	)

	c.callRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_call_retries_total",
			Help:      "Total number of skill call retries",
		},
		[]string{"skill"},
	)

	c.callTimeouts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_call_timeouts_total",
			Help:      "Total number of skill calls that hit their deadline",
		},
		[]string{"skill"},
	)

	// 守卫指标
	c.latencyQuantile = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skill_latency_ms",
			Help:      "Rolling skill latency quantiles in milliseconds",
		},
		[]string{"skill", "quantile"},
	)

	c.confidence = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skill_confidence",
			Help:      "Last reported skill confidence score",
		},
		[]string{"skill"},
	)

	c.regressions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_regressions_total",
			Help:      "Total number of regressed invocations",
		},
		[]string{"skill", "severity"},
	)

	c.alertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_alerts_total",
			Help:      "Total number of regression alerts raised",
		},
		[]string{"skill", "severity"},
	)

	c.alertsDeduped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_alerts_suppressed_total",
			Help:      "Total number of alerts suppressed by the dedup window",
		},
		[]string{"skill"},
	)

	// 追踪指标
	c.trackerRecords = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_records_total",
			Help:      "Execution records by outcome",
		},
		[]string{"outcome"}, // tracked, flushed, dead_lettered, evicted, dropped
	)

	c.trackerFlushes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_flush_attempts_total",
			Help:      "Tracker flush attempts by result",
		},
		[]string{"result"},
	)

	c.trackerBuffer = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracker_buffer_size",
		Help:      "Records waiting in the batch buffer",
	})

	c.trackerDeadQueue = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracker_dead_letter_size",
		Help:      "Records held in the dead-letter queue",
	})

	// 信号指标
	c.classifications = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_classifications_total",
			Help:      "Classified records by type",
		},
		[]string{"type", "noise"},
	)

	c.noiseRatio = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "signal_noise_ratio",
		Help:      "Running fraction of classified records judged to be noise",
	})

	// 热加载与灰度
	c.reloadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_reloads_total",
			Help:      "Skill reloads by status",
		},
		[]string{"skill", "status"},
	)

	c.rolloutFraction = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skill_rollout_fraction",
			Help:      "Traffic fraction routed to the candidate variant",
		},
		[]string{"skill"},
	)

	c.variantSelected = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_variant_selections_total",
			Help:      "Variant selections by skill and variant",
		},
		[]string{"skill", "variant"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"database", "operation"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 调用指标记录
// =============================================================================

// RecordInvocation 记录技能调用
func (c *Collector) RecordInvocation(skill, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.invocationsTotal.WithLabelValues(skill, status).Inc()
	c.invocationDuration.WithLabelValues(skill).Observe(duration.Seconds())
}

// RecordRetry 记录调用重试
func (c *Collector) RecordRetry(skill string) {
	if c == nil {
		return
	}
	c.callRetries.WithLabelValues(skill).Inc()
}

// RecordTimeout 记录调用超时
func (c *Collector) RecordTimeout(skill string) {
	if c == nil {
		return
	}
	c.callTimeouts.WithLabelValues(skill).Inc()
}

// =============================================================================
// 🛡️ 守卫指标记录
// =============================================================================

// RecordLatency 记录滚动窗口延迟分位数（毫秒）
func (c *Collector) RecordLatency(skill string, p50, p95, p99 float64) {
	if c == nil {
		return
	}
	c.latencyQuantile.WithLabelValues(skill, "p50").Set(p50)
	c.latencyQuantile.WithLabelValues(skill, "p95").Set(p95)
	c.latencyQuantile.WithLabelValues(skill, "p99").Set(p99)
}

// RecordConfidence 记录置信度
func (c *Collector) RecordConfidence(skill string, confidence float64) {
	if c == nil {
		return
	}
	c.confidence.WithLabelValues(skill).Set(confidence)
}

// RecordRegression 记录一次回归判定
func (c *Collector) RecordRegression(skill, severity string) {
	if c == nil {
		return
	}
	c.regressions.WithLabelValues(skill, severity).Inc()
}

// RecordAlert 记录告警；suppressed 表示被去重窗口吞掉
func (c *Collector) RecordAlert(skill, severity string, suppressed bool) {
	if c == nil {
		return
	}
	if suppressed {
		c.alertsDeduped.WithLabelValues(skill).Inc()
		return
	}
	c.alertsTotal.WithLabelValues(skill, severity).Inc()
}

// =============================================================================
// 📝 追踪指标记录
// =============================================================================

// RecordTrackerRecords 按结果累计记录数
func (c *Collector) RecordTrackerRecords(outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.trackerRecords.WithLabelValues(outcome).Add(float64(n))
}

// RecordFlush 记录一次 flush 尝试
func (c *Collector) RecordFlush(ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	c.trackerFlushes.WithLabelValues(result).Inc()
}

// SetTrackerQueues 更新缓冲区与死信队列长度
func (c *Collector) SetTrackerQueues(buffered, deadLettered int) {
	if c == nil {
		return
	}
	c.trackerBuffer.Set(float64(buffered))
	c.trackerDeadQueue.Set(float64(deadLettered))
}

// =============================================================================
// 📡 信号指标记录
// =============================================================================

// RecordClassification 记录一次信号/噪声分类
func (c *Collector) RecordClassification(signalType string, noise bool, ratio float64) {
	if c == nil {
		return
	}
	label := "false"
	if noise {
		label = "true"
	}
	c.classifications.WithLabelValues(signalType, label).Inc()
	c.noiseRatio.Set(ratio)
}

// =============================================================================
// 🔄 热加载与灰度指标记录
// =============================================================================

// RecordReload 记录重载结果
func (c *Collector) RecordReload(skill, status string) {
	if c == nil {
		return
	}
	c.reloadsTotal.WithLabelValues(skill, status).Inc()
}

// RecordRollout 记录灰度比例
func (c *Collector) RecordRollout(skill string, fraction float64) {
	if c == nil {
		return
	}
	c.rolloutFraction.WithLabelValues(skill).Set(fraction)
}

// RecordVariantSelection 记录变体选择
func (c *Collector) RecordVariantSelection(skill, variant string) {
	if c == nil {
		return
	}
	c.variantSelected.WithLabelValues(skill, variant).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}
