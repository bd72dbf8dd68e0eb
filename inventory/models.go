package inventory

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/skillflow/types"
)

// stringList 以 JSON 文本列存储字符串切片
type stringList []string

// Value implements driver.Valuer.
func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *stringList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("stringList: unsupported type %T", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("stringList: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*l = out
	return nil
}

// =============================================================================
// 表模型
// =============================================================================

type skillModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	Description  string
	Version      string
	Category     string
	Tags         stringList
	FilePath     string
	Handler      string
	Requires     stringList
	DependsOn    stringList
	RegisteredAt time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (skillModel) TableName() string { return "skills" }

func skillFromDescriptor(d types.SkillDescriptor, now time.Time) skillModel {
	registered := d.RegisteredAt
	if registered.IsZero() {
		registered = now
	}
	return skillModel{
		ID:           d.ID,
		Name:         d.Name,
		Description:  d.Description,
		Version:      d.Version,
		Category:     d.Category,
		Tags:         d.Tags,
		FilePath:     d.FilePath,
		Handler:      d.Handler,
		Requires:     d.Requires,
		DependsOn:    d.DependsOn,
		RegisteredAt: registered.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

func (m skillModel) descriptor() types.SkillDescriptor {
	return types.SkillDescriptor{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		Version:      m.Version,
		Category:     m.Category,
		Tags:         m.Tags,
		FilePath:     m.FilePath,
		Handler:      m.Handler,
		Requires:     m.Requires,
		DependsOn:    m.DependsOn,
		RegisteredAt: m.RegisteredAt,
	}
}

type executionModel struct {
	ID           string `gorm:"primaryKey"`
	SkillID      string
	SkillVersion string
	Timestamp    time.Time
	Status       string
	DurationMs   float64
	Confidence   *float64
	Error        string
	FallbackUsed bool
	ArgsHash     string
}

func (executionModel) TableName() string { return "skill_executions" }

func executionFromRecord(r types.ExecutionRecord) executionModel {
	return executionModel{
		ID:           r.ID,
		SkillID:      r.SkillID,
		SkillVersion: r.SkillVersion,
		Timestamp:    r.Timestamp.UTC(),
		Status:       string(r.Status),
		DurationMs:   r.DurationMs,
		Confidence:   r.Confidence,
		Error:        r.Error,
		FallbackUsed: r.FallbackUsed,
		ArgsHash:     r.ArgsHash,
	}
}

func (m executionModel) record() types.ExecutionRecord {
	return types.ExecutionRecord{
		ID:           m.ID,
		SkillID:      m.SkillID,
		SkillVersion: m.SkillVersion,
		Timestamp:    m.Timestamp.UTC(),
		Status:       types.ExecutionStatus(m.Status),
		DurationMs:   m.DurationMs,
		Confidence:   m.Confidence,
		Error:        m.Error,
		FallbackUsed: m.FallbackUsed,
		ArgsHash:     m.ArgsHash,
	}
}

type decisionModel struct {
	ID           string `gorm:"primaryKey"`
	SkillID      string
	Kind         string
	Confidence   float64
	Rationale    string
	Alternatives stringList
	Outcome      string
	Timestamp    time.Time
}

func (decisionModel) TableName() string { return "skill_decisions" }

func decisionFromRecord(r types.IntelligenceRecord) decisionModel {
	return decisionModel{
		ID:           r.ID,
		SkillID:      r.SkillID,
		Kind:         string(r.Kind),
		Confidence:   r.Confidence,
		Rationale:    r.Rationale,
		Alternatives: r.Alternatives,
		Outcome:      r.Outcome,
		Timestamp:    r.Timestamp.UTC(),
	}
}

func (m decisionModel) record() types.IntelligenceRecord {
	return types.IntelligenceRecord{
		ID:           m.ID,
		SkillID:      m.SkillID,
		Kind:         types.DecisionKind(m.Kind),
		Confidence:   m.Confidence,
		Rationale:    m.Rationale,
		Alternatives: m.Alternatives,
		Outcome:      m.Outcome,
		Timestamp:    m.Timestamp.UTC(),
	}
}

type baselineModel struct {
	ID           string `gorm:"primaryKey"`
	SkillID      string
	SkillVersion string
	P50          float64 `gorm:"column:p50"`
	P95          float64 `gorm:"column:p95"`
	P99          float64 `gorm:"column:p99"`
	Avg          float64 `gorm:"column:avg"`
	SampleCount  int
	Reason       string
	CapturedAt   time.Time
}

func (baselineModel) TableName() string { return "performance_baselines" }

func baselineFromRecord(b types.PerformanceBaseline) baselineModel {
	return baselineModel{
		ID:           b.ID,
		SkillID:      b.SkillID,
		SkillVersion: b.SkillVersion,
		P50:          b.Metrics.P50,
		P95:          b.Metrics.P95,
		P99:          b.Metrics.P99,
		Avg:          b.Metrics.Avg,
		SampleCount:  b.SampleCount,
		Reason:       b.Reason,
		CapturedAt:   b.CapturedAt.UTC(),
	}
}

func (m baselineModel) record() types.PerformanceBaseline {
	return types.PerformanceBaseline{
		ID:           m.ID,
		SkillID:      m.SkillID,
		SkillVersion: m.SkillVersion,
		Metrics:      types.LatencyMetrics{P50: m.P50, P95: m.P95, P99: m.P99, Avg: m.Avg},
		SampleCount:  m.SampleCount,
		Reason:       m.Reason,
		CapturedAt:   m.CapturedAt.UTC(),
	}
}

type versionModel struct {
	ID          string `gorm:"primaryKey"`
	SkillID     string
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	Revision    string
	ContentHash string
	Source      string
	Baseline    *string
	FilePath    string
}

func (versionModel) TableName() string { return "skill_versions" }

func versionFromRecord(v types.SkillVersion) (versionModel, error) {
	m := versionModel{
		ID:          v.ID,
		SkillID:     v.SkillID,
		CreatedAt:   v.CreatedAt.UTC(),
		Revision:    v.Revision,
		ContentHash: v.ContentHash,
		Source:      v.Source,
		FilePath:    v.FilePath,
	}
	if v.Baseline != nil {
		data, err := json.Marshal(v.Baseline)
		if err != nil {
			return m, fmt.Errorf("marshal baseline snapshot: %w", err)
		}
		s := string(data)
		m.Baseline = &s
	}
	return m, nil
}

func (m versionModel) record() (types.SkillVersion, error) {
	v := types.SkillVersion{
		ID:          m.ID,
		SkillID:     m.SkillID,
		CreatedAt:   m.CreatedAt.UTC(),
		Revision:    m.Revision,
		ContentHash: m.ContentHash,
		Source:      m.Source,
		FilePath:    m.FilePath,
	}
	if m.Baseline != nil && *m.Baseline != "" {
		var b types.PerformanceBaseline
		if err := json.Unmarshal([]byte(*m.Baseline), &b); err != nil {
			return v, fmt.Errorf("unmarshal baseline snapshot: %w", err)
		}
		v.Baseline = &b
	}
	return v, nil
}

type abTestModel struct {
	ID        string `gorm:"primaryKey"`
	SkillID   string
	VariantA  string `gorm:"column:variant_a"`
	VariantB  string `gorm:"column:variant_b"`
	Rollout   float64
	Status    string
	Winner    *string
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (abTestModel) TableName() string { return "ab_tests" }

func abTestFromConfig(c types.ABTestConfig) abTestModel {
	return abTestModel{
		ID:        c.ID,
		SkillID:   c.SkillID,
		VariantA:  c.VariantA,
		VariantB:  c.VariantB,
		Rollout:   c.Rollout,
		Status:    string(c.Status),
		Winner:    c.Winner,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
}

func (m abTestModel) config() types.ABTestConfig {
	return types.ABTestConfig{
		ID:        m.ID,
		SkillID:   m.SkillID,
		VariantA:  m.VariantA,
		VariantB:  m.VariantB,
		Rollout:   m.Rollout,
		Status:    types.ABTestStatus(m.Status),
		Winner:    m.Winner,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}
