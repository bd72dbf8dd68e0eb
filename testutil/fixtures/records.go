// =============================================================================
// 📦 测试数据工厂 - 执行记录
// =============================================================================
// 提供预定义的执行记录、延迟分布与清单，用于测试
// =============================================================================
package fixtures

import (
	"fmt"
	"time"

	"github.com/BaSui01/skillflow/types"
)

// Epoch 固定的测试起始时间
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// =============================================================================
// 📝 清单
// =============================================================================

// Manifest 返回最小的 YAML 清单
func Manifest(id, version, handler string, dependsOn ...string) string {
	m := fmt.Sprintf("id: %s\nname: %s\nversion: %s\nhandler: %s\n", id, id, version, handler)
	if len(dependsOn) > 0 {
		m += "depends_on: ["
		for i, d := range dependsOn {
			if i > 0 {
				m += ", "
			}
			m += d
		}
		m += "]\n"
	}
	return m
}

// Descriptor 返回已填充必要字段的描述符
func Descriptor(id, version string) types.SkillDescriptor {
	return types.SkillDescriptor{ID: id, Name: id, Version: version, Handler: "echo"}
}

// =============================================================================
// ⚙️ 执行记录
// =============================================================================

// Record 构造一条执行记录，时间戳按 i 递增一秒
func Record(skillID string, i int, status types.ExecutionStatus, durationMs float64) types.ExecutionRecord {
	return types.ExecutionRecord{
		ID:           fmt.Sprintf("%s-%04d", skillID, i),
		SkillID:      skillID,
		SkillVersion: "1.0.0",
		Timestamp:    Epoch.Add(time.Duration(i) * time.Second),
		Status:       status,
		DurationMs:   durationMs,
		ArgsHash:     fmt.Sprintf("hash-%d", i%4),
	}
}

// SuccessRecords 返回 n 条成功记录，耗时依次取自 durations（循环使用）
func SuccessRecords(skillID string, n int, durations ...float64) []types.ExecutionRecord {
	if len(durations) == 0 {
		durations = []float64{10}
	}
	out := make([]types.ExecutionRecord, n)
	for i := range out {
		out[i] = Record(skillID, i, types.StatusSuccess, durations[i%len(durations)])
	}
	return out
}

// MixedRecords 每 failEvery 条插入一条失败记录
func MixedRecords(skillID string, n, failEvery int, durationMs float64) []types.ExecutionRecord {
	out := make([]types.ExecutionRecord, n)
	for i := range out {
		status := types.StatusSuccess
		if failEvery > 0 && (i+1)%failEvery == 0 {
			status = types.StatusFailure
		}
		out[i] = Record(skillID, i, status, durationMs)
		if status == types.StatusFailure {
			out[i].Error = "injected failure"
		}
	}
	return out
}

// =============================================================================
// 📈 延迟分布
// =============================================================================

// Latency 以 p95 为锚构造一组分位数
func Latency(p95 float64) types.LatencyMetrics {
	return types.LatencyMetrics{
		P50: p95 * 0.5,
		P95: p95,
		P99: p95 * 1.2,
		Avg: p95 * 0.6,
	}
}
