package types

import "time"

// DecisionKind 决策类型
type DecisionKind string

const (
	DecisionRouting    DecisionKind = "routing"
	DecisionFallback   DecisionKind = "fallback"
	DecisionAdaptation DecisionKind = "adaptation"
	DecisionRetry      DecisionKind = "retry"
)

// IsValid reports whether k is one of the known decision kinds.
func (k DecisionKind) IsValid() bool {
	switch k {
	case DecisionRouting, DecisionFallback, DecisionAdaptation, DecisionRetry:
		return true
	}
	return false
}

// IntelligenceRecord 决策记录。决策少且价值高，因此立即持久化而不走批量。
type IntelligenceRecord struct {
	ID           string       `json:"id"`
	SkillID      string       `json:"skill_id"`
	Kind         DecisionKind `json:"kind"`
	Confidence   float64      `json:"confidence"`
	Rationale    string       `json:"rationale,omitempty"`
	Alternatives []string     `json:"alternatives,omitempty"`
	Outcome      string       `json:"outcome,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// LatencyMetrics 延迟分布（毫秒）
type LatencyMetrics struct {
	P50 float64 `json:"p50" yaml:"p50"`
	P95 float64 `json:"p95" yaml:"p95"`
	P99 float64 `json:"p99" yaml:"p99"`
	Avg float64 `json:"avg" yaml:"avg"`
}

// PerformanceBaseline 性能基线。只追加，比较时总是使用最近一次捕获的基线。
type PerformanceBaseline struct {
	ID           string         `json:"id"`
	SkillID      string         `json:"skill_id"`
	SkillVersion string         `json:"skill_version"`
	Metrics      LatencyMetrics `json:"metrics"`
	SampleCount  int            `json:"sample_count"`
	Reason       string         `json:"reason,omitempty"`
	CapturedAt   time.Time      `json:"captured_at"`
}

// SkillVersion 技能源码与基线的不可变快照，用于对比与回滚。
type SkillVersion struct {
	ID          string               `json:"id"`
	SkillID     string               `json:"skill_id"`
	CreatedAt   time.Time            `json:"created_at"`
	Revision    string               `json:"revision,omitempty"`
	ContentHash string               `json:"content_hash"`
	Source      string               `json:"source"`
	Baseline    *PerformanceBaseline `json:"baseline,omitempty"`
	FilePath    string               `json:"file_path"`
}

// ABTestStatus 灰度实验状态
type ABTestStatus string

const (
	ABTestDraft     ABTestStatus = "draft"
	ABTestRunning   ABTestStatus = "running"
	ABTestCompleted ABTestStatus = "completed"
)

// ABTestConfig 变体灰度配置。Rollout 为候选变体 B 的流量比例 [0,1]。
type ABTestConfig struct {
	ID        string       `json:"id"`
	SkillID   string       `json:"skill_id"`
	VariantA  string       `json:"variant_a"`
	VariantB  string       `json:"variant_b"`
	Rollout   float64      `json:"rollout"`
	Status    ABTestStatus `json:"status"`
	Winner    *string      `json:"winner,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
