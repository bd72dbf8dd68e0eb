package signal

import (
	"sync"

	"github.com/BaSui01/skillflow/internal/metrics"
)

// Snapshot NSR 快照
type Snapshot struct {
	Total  int64          `json:"total"`
	Noise  int64          `json:"noise"`
	Signal int64          `json:"signal"`
	Ratio  float64        `json:"ratio"`
	ByType map[Type]int64 `json:"by_type"`
}

// NSRTracker 维护噪声占比与按类型的分布
type NSRTracker struct {
	mu      sync.Mutex
	total   int64
	noise   int64
	byType  map[Type]int64
	metrics *metrics.Collector
}

// NewNSRTracker 创建追踪器，collector 可为空
func NewNSRTracker(collector *metrics.Collector) *NSRTracker {
	return &NSRTracker{byType: make(map[Type]int64), metrics: collector}
}

// Observe 计入一条分类结果，返回更新后的噪声占比
func (t *NSRTracker) Observe(r Result) float64 {
	t.mu.Lock()
	t.total++
	if r.IsNoise {
		t.noise++
	}
	t.byType[r.Type]++
	ratio := float64(t.noise) / float64(t.total)
	t.mu.Unlock()

	t.metrics.RecordClassification(string(r.Type), r.IsNoise, ratio)
	return ratio
}

// Ratio 返回噪声占比，无样本时为 0
func (t *NSRTracker) Ratio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total == 0 {
		return 0
	}
	return float64(t.noise) / float64(t.total)
}

// Snapshot 返回当前统计
func (t *NSRTracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	byType := make(map[Type]int64, len(t.byType))
	for k, v := range t.byType {
		byType[k] = v
	}
	s := Snapshot{Total: t.total, Noise: t.noise, Signal: t.total - t.noise, ByType: byType}
	if t.total > 0 {
		s.Ratio = float64(t.noise) / float64(t.total)
	}
	return s
}

// Reset 清零
func (t *NSRTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total, t.noise = 0, 0
	t.byType = make(map[Type]int64)
}
