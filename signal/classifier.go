package signal

import (
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/types"
)

// Type 分类标签
type Type string

const (
	TypeTransientError Type = "transient_error"
	TypeTooFast        Type = "too_fast"
	TypeTimeoutSpike   Type = "timeout_spike"
	TypeLowConfidence  Type = "low_confidence"
	TypeSoftRegression Type = "soft_regression"
	TypeRegression     Type = "regression"
	TypeError          Type = "error"
	TypeNormal         Type = "normal"
)

// Action 建议动作
type Action string

const (
	ActionPreserve Action = "preserve"
	ActionFilter   Action = "filter"
	ActionAlert    Action = "alert"
	ActionMonitor  Action = "monitor"
)

// Result 分类结果
type Result struct {
	Type            Type    `json:"type"`
	IsNoise         bool    `json:"is_noise"`
	Confidence      float64 `json:"confidence"`
	NSRContribution float64 `json:"nsr_contribution"`
	Action          Action  `json:"action"`
	Reason          string  `json:"reason"`
}

// Thresholds 分类阈值
type Thresholds struct {
	MinDurationMs  float64 `yaml:"min_duration_ms" json:"min_duration_ms"`
	TimeoutSpikeMs float64 `yaml:"timeout_spike_ms" json:"timeout_spike_ms"`
	MinConfidence  float64 `yaml:"min_confidence" json:"min_confidence"`
	SoftBand       float64 `yaml:"soft_band" json:"soft_band"`
}

// DefaultThresholds 返回默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDurationMs:  1,
		TimeoutSpikeMs: 60_000,
		MinConfidence:  0.1,
		SoftBand:       1.2,
	}
}

// 瞬时错误特征，小写匹配
var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"no such host",
	"network is unreachable",
	"temporarily unavailable",
	"too many requests",
	"rate limit",
	"status 429",
	"status 502",
	"status 503",
	"unexpected eof",
}

// IsTransient 判断错误文本是否为瞬时网络错误
func IsTransient(errText string) bool {
	if errText == "" {
		return false
	}
	msg := strings.ToLower(errText)
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Classifier 启发式分类器，无内部状态，可并发使用
type Classifier struct {
	th     Thresholds
	logger *zap.Logger
}

// NewClassifier 创建分类器。零值阈值取默认值
func NewClassifier(th Thresholds, logger *zap.Logger) *Classifier {
	def := DefaultThresholds()
	if th.MinDurationMs <= 0 {
		th.MinDurationMs = def.MinDurationMs
	}
	if th.TimeoutSpikeMs <= 0 {
		th.TimeoutSpikeMs = def.TimeoutSpikeMs
	}
	if th.MinConfidence <= 0 {
		th.MinConfidence = def.MinConfidence
	}
	if th.SoftBand <= 1 {
		th.SoftBand = def.SoftBand
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{th: th, logger: logger.With(zap.String("component", "signal_classifier"))}
}

func asNoise(t Type, action Action, confidence float64, reason string) Result {
	return Result{Type: t, IsNoise: true, Confidence: confidence, NSRContribution: 1, Action: action, Reason: reason}
}

func asSignal(t Type, action Action, confidence float64, reason string) Result {
	return Result{Type: t, Confidence: confidence, Action: action, Reason: reason}
}

// Classify 标注一条执行记录。baseline 可为空
func (c *Classifier) Classify(rec types.ExecutionRecord, baseline *types.PerformanceBaseline) Result {
	d := rec.DurationMs

	if rec.Status.IsError() && IsTransient(rec.Error) {
		return asNoise(TypeTransientError, ActionFilter, 0.8, "transient network error")
	}
	if d < c.th.MinDurationMs {
		return asNoise(TypeTooFast, ActionFilter, 0.9, "duration below measurable floor")
	}
	if d > c.th.TimeoutSpikeMs {
		return asNoise(TypeTimeoutSpike, ActionFilter, 0.7, "timeout spike")
	}
	if rec.Confidence != nil && *rec.Confidence < c.th.MinConfidence {
		return asNoise(TypeLowConfidence, ActionFilter, 0.6, "confidence too low to trust")
	}

	var p95 float64
	if baseline != nil {
		p95 = baseline.Metrics.P95
	}
	if p95 > 0 && d > p95 && d <= p95*c.th.SoftBand {
		return asNoise(TypeSoftRegression, ActionMonitor, 0.5, "within soft band above baseline p95")
	}

	switch {
	case p95 > 0 && d > p95*c.th.SoftBand:
		c.logger.Debug("latency signal",
			zap.String("skill_id", rec.SkillID),
			zap.Float64("duration_ms", d),
			zap.Float64("baseline_p95_ms", p95),
		)
		return asSignal(TypeRegression, ActionAlert, 0.8, "latency beyond soft band")
	case rec.Status.IsError():
		return asSignal(TypeError, ActionAlert, 0.7, "non-transient failure")
	default:
		return asSignal(TypeNormal, ActionPreserve, 0.9, "normal execution")
	}
}

// ClassifyDecision 标注一条决策记录。置信度过低的决策视为噪声
func (c *Classifier) ClassifyDecision(rec types.IntelligenceRecord) Result {
	if rec.Confidence < c.th.MinConfidence {
		return asNoise(TypeLowConfidence, ActionFilter, 0.6, "decision confidence too low")
	}
	return asSignal(TypeNormal, ActionPreserve, rec.Confidence, "decision")
}
