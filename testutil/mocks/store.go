// 持久化相关接口的测试模拟实现。
//
// 支持错误注入与调用记录，所有方法并发安全。
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/skillflow/types"
)

// ErrInjected 模拟实现默认注入的错误
var ErrInjected = errors.New("injected failure")

// --- ExecutionSink ---

// ExecutionSink 记录写入的执行记录批次，可切换为失败
type ExecutionSink struct {
	mu      sync.Mutex
	batches [][]types.ExecutionRecord
	down    bool
	failN   int
	calls   int
	err     error
}

// NewExecutionSink 创建新的 ExecutionSink
func NewExecutionSink() *ExecutionSink {
	return &ExecutionSink{err: ErrInjected}
}

// WithError 设置失败时返回的错误
func (s *ExecutionSink) WithError(err error) *ExecutionSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// FailNext 接下来 n 次写入失败
func (s *ExecutionSink) FailNext(n int) *ExecutionSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failN = n
	return s
}

// SetDown 切换为持续失败或恢复
func (s *ExecutionSink) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// SaveExecutions 实现 tracking.Sink
func (s *ExecutionSink) SaveExecutions(_ context.Context, records []types.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.down {
		return s.err
	}
	if s.failN > 0 {
		s.failN--
		return s.err
	}
	s.batches = append(s.batches, append([]types.ExecutionRecord(nil), records...))
	return nil
}

// Count 已成功写入的记录数
func (s *ExecutionSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

// Batches 已成功写入的批次数
func (s *ExecutionSink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Attempts 写入调用次数（含失败）
func (s *ExecutionSink) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Records 按写入顺序展开的全部记录
func (s *ExecutionSink) Records() []types.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.ExecutionRecord
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// --- DecisionRecorder ---

// DecisionRecorder 记录决策，可注入错误
type DecisionRecorder struct {
	mu      sync.Mutex
	records []types.IntelligenceRecord
	err     error
}

// NewDecisionRecorder 创建新的 DecisionRecorder
func NewDecisionRecorder() *DecisionRecorder {
	return &DecisionRecorder{}
}

// WithError 之后的写入都返回 err
func (d *DecisionRecorder) WithError(err error) *DecisionRecorder {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
	return d
}

// SaveDecision 实现 calling / hotreload / rollout 的 DecisionRecorder
func (d *DecisionRecorder) SaveDecision(_ context.Context, rec types.IntelligenceRecord) (types.IntelligenceRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return types.IntelligenceRecord{}, d.err
	}
	d.records = append(d.records, rec)
	return rec, nil
}

// Records 已记录的决策副本
func (d *DecisionRecorder) Records() []types.IntelligenceRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.IntelligenceRecord(nil), d.records...)
}

// Kinds 按记录顺序返回决策类型
func (d *DecisionRecorder) Kinds() []types.DecisionKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.DecisionKind, len(d.records))
	for i, r := range d.records {
		out[i] = r.Kind
	}
	return out
}

// --- Backups ---

// Backups 记录重载前捕获的源码
type Backups struct {
	mu      sync.Mutex
	sources []string
	err     error
}

// NewBackups 创建新的 Backups
func NewBackups() *Backups {
	return &Backups{}
}

// WithError 之后的捕获都返回 err
func (b *Backups) WithError(err error) *Backups {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
	return b
}

// CaptureSource 实现 hotreload.Backups
func (b *Backups) CaptureSource(_ context.Context, skillID, path string, source []byte) (types.SkillVersion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return types.SkillVersion{}, b.err
	}
	b.sources = append(b.sources, string(source))
	return types.SkillVersion{ID: "backup-" + skillID, SkillID: skillID, FilePath: path, Source: string(source)}, nil
}

// Sources 已捕获的源码
func (b *Backups) Sources() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sources...)
}
