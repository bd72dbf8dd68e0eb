package rollout

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/inventory"
	"github.com/BaSui01/skillflow/types"
)

// 灰度相关错误
var (
	ErrInvalidInput  = errors.New("invalid rollout input")
	ErrTestRunning   = errors.New("skill already has a running test")
	ErrTestNotActive = errors.New("test not running")
)

// Store 灰度实验存储，inventory.Store 实现了该接口
type Store interface {
	SaveABTest(ctx context.Context, c types.ABTestConfig) error
	GetABTest(ctx context.Context, id string) (types.ABTestConfig, error)
	ListABTests(ctx context.Context, skillID string, status types.ABTestStatus) ([]types.ABTestConfig, error)
}

// PerformanceSource 变体性能来源
type PerformanceSource interface {
	SkillPerformance(ctx context.Context, skillID string) (inventory.Performance, error)
}

// DecisionRecorder 记录 routing 决策
type DecisionRecorder interface {
	SaveDecision(ctx context.Context, rec types.IntelligenceRecord) (types.IntelligenceRecord, error)
}

// Selection 一次变体选择
type Selection struct {
	SkillID   string `json:"skill_id"`
	Variant   string `json:"variant"`
	TestID    string `json:"test_id,omitempty"`
	Candidate bool   `json:"candidate"`
}

// Action 评估结论
type Action string

const (
	ActionWait     Action = "wait"     // 样本不足
	ActionAdvance  Action = "advance"  // 进入下一阶段
	ActionPromote  Action = "promote"  // 候选变体胜出
	ActionRollback Action = "rollback" // 基线变体胜出
)

// Evaluation 评估结果
type Evaluation struct {
	TestID    string                `json:"test_id"`
	SkillID   string                `json:"skill_id"`
	Action    Action                `json:"action"`
	Reason    string                `json:"reason"`
	From      float64               `json:"from"`
	Rollout   float64               `json:"rollout"`
	Status    types.ABTestStatus    `json:"status"`
	Winner    *string               `json:"winner,omitempty"`
	Baseline  inventory.Performance `json:"baseline"`
	Candidate inventory.Performance `json:"candidate"`
}

// Manager 灰度实验管理器
type Manager struct {
	cfg       config.RolloutConfig
	store     Store
	perf      PerformanceSource
	decisions DecisionRecorder
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
	draw      func() float64

	mu      sync.RWMutex
	running map[string]types.ABTestConfig // skill id -> running test
}

// Option 配置 Manager
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithDecisions 设置决策记录
func WithDecisions(d DecisionRecorder) Option {
	return func(m *Manager) { m.decisions = d }
}

// WithRandom 替换 [0,1) 均匀随机源
func WithRandom(draw func() float64) Option {
	return func(m *Manager) {
		if draw != nil {
			m.draw = draw
		}
	}
}

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建灰度管理器
func NewManager(store Store, perf PerformanceSource, cfg config.RolloutConfig, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	stages, err := normalizeStages(cfg.Stages)
	if err != nil {
		return nil, err
	}
	cfg.Stages = stages
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	if cfg.MaxLatencyRatio <= 0 {
		cfg.MaxLatencyRatio = inventory.DefaultRegressionThreshold
	}

	m := &Manager{
		cfg:     cfg,
		store:   store,
		perf:    perf,
		logger:  zap.NewNop(),
		now:     time.Now,
		draw:    rand.Float64,
		running: make(map[string]types.ABTestConfig),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "rollout"))
	return m, nil
}

func normalizeStages(stages []float64) ([]float64, error) {
	if len(stages) == 0 {
		return []float64{0.1, 0.5, 1.0}, nil
	}
	out := append([]float64(nil), stages...)
	sort.Float64s(out)
	for _, s := range out {
		if s <= 0 || s > 1 {
			return nil, fmt.Errorf("%w: stage %v outside (0, 1]", ErrInvalidInput, s)
		}
	}
	if out[len(out)-1] != 1 {
		out = append(out, 1)
	}
	return out, nil
}

func validRollout(r float64) bool { return r >= 0 && r <= 1 }

// Load 从存储加载运行中的实验
func (m *Manager) Load(ctx context.Context) error {
	tests, err := m.store.ListABTests(ctx, "", types.ABTestRunning)
	if err != nil {
		return fmt.Errorf("load running tests: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tests {
		m.running[t.SkillID] = t
	}
	m.logger.Info("running tests loaded", zap.Int("count", len(tests)))
	return nil
}

// Create 创建草稿实验。variantA 为基线，variantB 为候选
func (m *Manager) Create(ctx context.Context, skillID, variantA, variantB string, rollout float64) (types.ABTestConfig, error) {
	if skillID == "" || variantA == "" || variantB == "" {
		return types.ABTestConfig{}, fmt.Errorf("%w: skill and both variants are required", ErrInvalidInput)
	}
	if variantA == variantB {
		return types.ABTestConfig{}, fmt.Errorf("%w: variants must differ", ErrInvalidInput)
	}
	if !validRollout(rollout) {
		return types.ABTestConfig{}, fmt.Errorf("%w: rollout %v outside [0, 1]", ErrInvalidInput, rollout)
	}
	now := m.now().UTC()
	test := types.ABTestConfig{
		ID:        uuid.NewString(),
		SkillID:   skillID,
		VariantA:  variantA,
		VariantB:  variantB,
		Rollout:   rollout,
		Status:    types.ABTestDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.SaveABTest(ctx, test); err != nil {
		return types.ABTestConfig{}, err
	}
	m.logger.Info("ab test created",
		zap.String("test_id", test.ID),
		zap.String("skill_id", skillID),
		zap.String("variant_a", variantA),
		zap.String("variant_b", variantB),
	)
	return test, nil
}

// Start 启动实验；同一技能同一时刻只能有一个运行中的实验
func (m *Manager) Start(ctx context.Context, testID string) (types.ABTestConfig, error) {
	test, err := m.store.GetABTest(ctx, testID)
	if err != nil {
		return types.ABTestConfig{}, err
	}
	if test.Status == types.ABTestCompleted {
		return types.ABTestConfig{}, fmt.Errorf("%w: %s is completed", ErrTestNotActive, testID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.running[test.SkillID]; ok && cur.ID != test.ID {
		return types.ABTestConfig{}, fmt.Errorf("%w: %s runs %s", ErrTestRunning, test.SkillID, cur.ID)
	}
	test.Status = types.ABTestRunning
	test.UpdatedAt = m.now().UTC()
	if err := m.store.SaveABTest(ctx, test); err != nil {
		return types.ABTestConfig{}, err
	}
	m.running[test.SkillID] = test
	m.metrics.RecordRollout(test.SkillID, test.Rollout)
	m.logger.Info("ab test started", zap.String("test_id", test.ID), zap.Float64("rollout", test.Rollout))
	return test, nil
}

// Select 返回本次调用应使用的变体
func (m *Manager) Select(skillID string) Selection {
	m.mu.RLock()
	test, ok := m.running[skillID]
	m.mu.RUnlock()

	sel := Selection{SkillID: skillID, Variant: skillID}
	if !ok {
		return sel
	}
	sel.TestID = test.ID
	sel.Variant = test.VariantA
	switch {
	case test.Rollout <= 0:
	case test.Rollout >= 1:
		sel.Candidate = true
	default:
		sel.Candidate = m.draw() < test.Rollout
	}
	if sel.Candidate {
		sel.Variant = test.VariantB
	}
	m.metrics.RecordVariantSelection(skillID, sel.Variant)
	return sel
}

// UpdateRollout 调整候选变体流量比例
func (m *Manager) UpdateRollout(ctx context.Context, testID string, rollout float64) (types.ABTestConfig, error) {
	if !validRollout(rollout) {
		return types.ABTestConfig{}, fmt.Errorf("%w: rollout %v outside [0, 1]", ErrInvalidInput, rollout)
	}
	test, err := m.store.GetABTest(ctx, testID)
	if err != nil {
		return types.ABTestConfig{}, err
	}
	if test.Status == types.ABTestCompleted {
		return types.ABTestConfig{}, fmt.Errorf("%w: %s is completed", ErrTestNotActive, testID)
	}
	from := test.Rollout
	test.Rollout = rollout
	if err := m.save(ctx, test); err != nil {
		return types.ABTestConfig{}, err
	}
	m.logger.Info("rollout updated",
		zap.String("test_id", testID),
		zap.String("skill_id", test.SkillID),
		zap.Float64("from", from),
		zap.Float64("to", rollout),
	)
	return test, nil
}

// Complete 结束实验并记录胜出变体
func (m *Manager) Complete(ctx context.Context, testID, winner string) (types.ABTestConfig, error) {
	test, err := m.store.GetABTest(ctx, testID)
	if err != nil {
		return types.ABTestConfig{}, err
	}
	if winner != test.VariantA && winner != test.VariantB {
		return types.ABTestConfig{}, fmt.Errorf("%w: winner %q is not a variant of %s", ErrInvalidInput, winner, testID)
	}
	return test, m.complete(ctx, &test, winner)
}

func (m *Manager) complete(ctx context.Context, test *types.ABTestConfig, winner string) error {
	test.Status = types.ABTestCompleted
	test.Winner = &winner
	if winner == test.VariantA {
		test.Rollout = 0
	} else {
		test.Rollout = 1
	}
	if err := m.save(ctx, *test); err != nil {
		return err
	}
	m.logger.Info("ab test completed",
		zap.String("test_id", test.ID),
		zap.String("skill_id", test.SkillID),
		zap.String("winner", winner),
	)
	return nil
}

// save 持久化并同步运行中缓存
func (m *Manager) save(ctx context.Context, test types.ABTestConfig) error {
	test.UpdatedAt = m.now().UTC()
	if err := m.store.SaveABTest(ctx, test); err != nil {
		return err
	}
	m.mu.Lock()
	if test.Status == types.ABTestRunning {
		m.running[test.SkillID] = test
	} else if cur, ok := m.running[test.SkillID]; ok && cur.ID == test.ID {
		delete(m.running, test.SkillID)
	}
	m.mu.Unlock()
	m.metrics.RecordRollout(test.SkillID, test.Rollout)
	return nil
}

// Evaluate 比较两个变体的性能，推进、晋升或回滚
func (m *Manager) Evaluate(ctx context.Context, testID string) (Evaluation, error) {
	if m.perf == nil {
		return Evaluation{}, fmt.Errorf("%w: no performance source", ErrInvalidInput)
	}
	test, err := m.store.GetABTest(ctx, testID)
	if err != nil {
		return Evaluation{}, err
	}
	if test.Status != types.ABTestRunning {
		return Evaluation{}, fmt.Errorf("%w: %s is %s", ErrTestNotActive, testID, test.Status)
	}

	base, err := m.perf.SkillPerformance(ctx, test.VariantA)
	if err != nil {
		return Evaluation{}, fmt.Errorf("baseline performance: %w", err)
	}
	cand, err := m.perf.SkillPerformance(ctx, test.VariantB)
	if err != nil {
		return Evaluation{}, fmt.Errorf("candidate performance: %w", err)
	}

	ev := Evaluation{
		TestID:    test.ID,
		SkillID:   test.SkillID,
		From:      test.Rollout,
		Rollout:   test.Rollout,
		Status:    test.Status,
		Baseline:  base,
		Candidate: cand,
	}

	need := int64(m.cfg.MinSamples)
	if base.Total < need || cand.Total < need {
		ev.Action = ActionWait
		ev.Reason = fmt.Sprintf("need %d samples per variant, have %d/%d", need, base.Total, cand.Total)
		return ev, nil
	}

	if reason, degraded := m.degraded(base, cand); degraded {
		if err := m.complete(ctx, &test, test.VariantA); err != nil {
			return ev, err
		}
		ev.Action, ev.Reason = ActionRollback, reason
	} else if next, ok := m.nextStage(test.Rollout); ok {
		test.Rollout = next
		if err := m.save(ctx, test); err != nil {
			return ev, err
		}
		ev.Action = ActionAdvance
		ev.Reason = fmt.Sprintf("candidate healthy, rollout %.2f -> %.2f", ev.From, next)
	} else {
		if err := m.complete(ctx, &test, test.VariantB); err != nil {
			return ev, err
		}
		ev.Action, ev.Reason = ActionPromote, "candidate healthy at full traffic"
	}
	ev.Rollout, ev.Status, ev.Winner = test.Rollout, test.Status, test.Winner
	m.recordDecision(ctx, test, ev)
	return ev, nil
}

// degraded 候选变体错误率或 p95 超出限制
func (m *Manager) degraded(base, cand inventory.Performance) (string, bool) {
	if delta := cand.ErrorRate - base.ErrorRate; delta > m.cfg.MaxErrorRateDelta {
		return fmt.Sprintf("error rate %.1f%% vs baseline %.1f%%", cand.ErrorRate*100, base.ErrorRate*100), true
	}
	if base.P95 > 0 && cand.P95 > base.P95*m.cfg.MaxLatencyRatio {
		return fmt.Sprintf("p95 %.1fms vs baseline %.1fms", cand.P95, base.P95), true
	}
	return "", false
}

// nextStage 返回大于当前比例的下一阶段
func (m *Manager) nextStage(current float64) (float64, bool) {
	if current >= 1 {
		return 0, false
	}
	for _, s := range m.cfg.Stages {
		if s > current {
			return s, true
		}
	}
	return 0, false
}

func (m *Manager) recordDecision(ctx context.Context, test types.ABTestConfig, ev Evaluation) {
	if m.decisions == nil {
		return
	}
	rec := types.IntelligenceRecord{
		SkillID:      test.SkillID,
		Kind:         types.DecisionRouting,
		Confidence:   ev.Rollout,
		Rationale:    ev.Reason,
		Alternatives: []string{test.VariantA, test.VariantB},
		Outcome:      string(ev.Action),
	}
	if _, err := m.decisions.SaveDecision(ctx, rec); err != nil {
		m.logger.Warn("record rollout decision failed", zap.String("test_id", test.ID), zap.Error(err))
	}
}

// Get 按 ID 返回实验
func (m *Manager) Get(ctx context.Context, testID string) (types.ABTestConfig, error) {
	return m.store.GetABTest(ctx, testID)
}

// List 列出实验
func (m *Manager) List(ctx context.Context, skillID string, status types.ABTestStatus) ([]types.ABTestConfig, error) {
	return m.store.ListABTests(ctx, skillID, status)
}

// Running 返回技能当前运行中的实验
func (m *Manager) Running(skillID string) (types.ABTestConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.running[skillID]
	return t, ok
}
