package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/BaSui01/skillflow/types"
)

func rec(status types.ExecutionStatus, ms float64, errText string, confidence *float64) types.ExecutionRecord {
	return types.ExecutionRecord{SkillID: "fetch", Status: status, DurationMs: ms, Error: errText, Confidence: confidence}
}

func TestClassify_Rules(t *testing.T) {
	c := NewClassifier(Thresholds{}, nil)
	base := &types.PerformanceBaseline{Metrics: types.LatencyMetrics{P95: 100}}

	tests := []struct {
		name   string
		rec    types.ExecutionRecord
		want   Type
		noise  bool
		action Action
	}{
		{"transient", rec(types.StatusFailure, 50, "dial tcp: connection refused", nil), TypeTransientError, true, ActionFilter},
		{"too fast", rec(types.StatusSuccess, 0.4, "", nil), TypeTooFast, true, ActionFilter},
		{"timeout spike", rec(types.StatusTimeout, 60_001, "", nil), TypeTimeoutSpike, true, ActionFilter},
		{"exactly 60s is not a spike", rec(types.StatusSuccess, 60_000, "", nil), TypeRegression, false, ActionAlert},
		{"low confidence", rec(types.StatusSuccess, 50, "", types.Float64(0.05)), TypeLowConfidence, true, ActionFilter},
		{"soft band", rec(types.StatusSuccess, 110, "", nil), TypeSoftRegression, true, ActionMonitor},
		{"soft band upper edge", rec(types.StatusSuccess, 120, "", nil), TypeSoftRegression, true, ActionMonitor},
		{"at p95 is normal", rec(types.StatusSuccess, 100, "", nil), TypeNormal, false, ActionPreserve},
		{"beyond soft band", rec(types.StatusSuccess, 121, "", nil), TypeRegression, false, ActionAlert},
		{"hard failure", rec(types.StatusFailure, 50, "nil pointer dereference", nil), TypeError, false, ActionAlert},
		{"normal", rec(types.StatusSuccess, 50, "", types.Float64(0.9)), TypeNormal, false, ActionPreserve},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.rec, base)
			assert.Equal(t, tt.want, got.Type)
			assert.Equal(t, tt.noise, got.IsNoise)
			assert.Equal(t, tt.action, got.Action)
			if tt.noise {
				assert.Equal(t, 1.0, got.NSRContribution)
			} else {
				assert.Zero(t, got.NSRContribution)
			}
		})
	}
}

func TestClassify_RuleOrder(t *testing.T) {
	c := NewClassifier(DefaultThresholds(), nil)

	// 瞬时错误优先于过快
	got := c.Classify(rec(types.StatusFailure, 0.1, "connection reset by peer", nil), nil)
	assert.Equal(t, TypeTransientError, got.Type)

	// 过快优先于低置信度
	got = c.Classify(rec(types.StatusSuccess, 0.1, "", types.Float64(0)), nil)
	assert.Equal(t, TypeTooFast, got.Type)

	// 成功状态下的网络错误文本不算瞬时错误
	got = c.Classify(rec(types.StatusSuccess, 10, "connection reset", nil), nil)
	assert.Equal(t, TypeNormal, got.Type)
}

func TestClassify_NoBaseline(t *testing.T) {
	c := NewClassifier(DefaultThresholds(), nil)
	got := c.Classify(rec(types.StatusSuccess, 5000, "", nil), nil)
	assert.Equal(t, TypeNormal, got.Type)
}

func TestClassifyDecision(t *testing.T) {
	c := NewClassifier(DefaultThresholds(), nil)
	assert.True(t, c.ClassifyDecision(types.IntelligenceRecord{Confidence: 0.05}).IsNoise)

	got := c.ClassifyDecision(types.IntelligenceRecord{Confidence: 0.7})
	assert.False(t, got.IsNoise)
	assert.Equal(t, 0.7, got.Confidence)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient("read tcp: i/o timeout"))
	assert.True(t, IsTransient("HTTP status 503 Service Unavailable"))
	assert.True(t, IsTransient("Too Many Requests"))
	assert.False(t, IsTransient(""))
	assert.False(t, IsTransient("invalid argument"))
}

// 软区间内的延迟总是噪声且建议观察，超出后总是告警
func TestClassify_SoftBandProperty(t *testing.T) {
	c := NewClassifier(DefaultThresholds(), nil)
	rapid.Check(t, func(t *rapid.T) {
		p95 := rapid.Float64Range(1, 10_000).Draw(t, "p95")
		d := rapid.Float64Range(1, 50_000).Draw(t, "duration")
		base := &types.PerformanceBaseline{Metrics: types.LatencyMetrics{P95: p95}}

		got := c.Classify(rec(types.StatusSuccess, d, "", nil), base)
		switch {
		case d > p95 && d <= p95*1.2:
			if got.Type != TypeSoftRegression || got.Action != ActionMonitor {
				t.Fatalf("d=%v p95=%v: got %+v", d, p95, got)
			}
		case d > p95*1.2:
			if got.Type != TypeRegression || got.Action != ActionAlert {
				t.Fatalf("d=%v p95=%v: got %+v", d, p95, got)
			}
		default:
			if got.IsNoise {
				t.Fatalf("d=%v p95=%v: unexpected noise %+v", d, p95, got)
			}
		}
	})
}
