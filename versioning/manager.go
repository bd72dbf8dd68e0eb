package versioning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/inventory"
	"github.com/BaSui01/skillflow/skills"
	"github.com/BaSui01/skillflow/types"
)

// gitTimeout 读取 git 修订号的超时
const gitTimeout = 2 * time.Second

// ErrSkillNotFound 技能未注册或没有源码路径
var ErrSkillNotFound = errors.New("skill source not found")

// Store 版本与基线存储，inventory.Store 实现了该接口
type Store interface {
	SaveVersion(ctx context.Context, v types.SkillVersion) error
	GetVersion(ctx context.Context, skillID, versionID string) (types.SkillVersion, error)
	ListVersions(ctx context.Context, skillID string) ([]types.SkillVersion, error)
	LatestBaseline(ctx context.Context, skillID string) (types.PerformanceBaseline, error)
}

// SourceResolver 返回技能清单的路径
type SourceResolver func(skillID string) (string, bool)

// ReloadFunc 回滚写盘后触发重载
type ReloadFunc func(ctx context.Context, skillID, path string) error

// RevisionFunc 返回路径所在仓库的修订号，没有时返回空串
type RevisionFunc func(ctx context.Context, path string) string

// Manager 版本管理器
type Manager struct {
	store    Store
	resolve  SourceResolver
	reload   ReloadFunc
	revision RevisionFunc
	logger   *zap.Logger
	now      func() time.Time
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

// WithReload 设置回滚后的重载回调
func WithReload(fn ReloadFunc) Option {
	return func(m *Manager) { m.reload = fn }
}

// WithRevision 替换修订号读取方式，默认调用 git
func WithRevision(fn RevisionFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.revision = fn
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

// NewManager 创建版本管理器
func NewManager(store Store, resolve SourceResolver, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		resolve:  resolve,
		revision: GitRevision,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "version_manager"))
	return m
}

// SetReload 在构造后设置重载回调（热加载管理器与版本管理器互相引用时使用）
func (m *Manager) SetReload(fn ReloadFunc) { m.reload = fn }

// Capture 对技能当前的磁盘源码做快照
func (m *Manager) Capture(ctx context.Context, skillID string) (types.SkillVersion, error) {
	path, ok := m.resolve(skillID)
	if !ok || path == "" {
		return types.SkillVersion{}, types.NewError(types.ErrSkillNotFound, "no source path for skill").
			WithSkill(skillID).WithCause(ErrSkillNotFound)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.SkillVersion{}, fmt.Errorf("read skill source %s: %w", path, err)
	}
	return m.CaptureSource(ctx, skillID, path, data)
}

// CaptureSource 对给定的源码做快照，热加载用它保存最后一个可用版本
func (m *Manager) CaptureSource(ctx context.Context, skillID, path string, source []byte) (types.SkillVersion, error) {
	now := m.now().UTC()
	v := types.SkillVersion{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		SkillID:     skillID,
		CreatedAt:   now,
		Revision:    m.revision(ctx, path),
		ContentHash: skills.ContentHash(source),
		Source:      string(source),
		FilePath:    path,
	}

	baseline, err := m.store.LatestBaseline(ctx, skillID)
	switch {
	case err == nil:
		v.Baseline = &baseline
	case errors.Is(err, inventory.ErrNoBaseline):
	default:
		return types.SkillVersion{}, fmt.Errorf("load baseline for %s: %w", skillID, err)
	}

	if err := m.store.SaveVersion(ctx, v); err != nil {
		return types.SkillVersion{}, err
	}
	m.logger.Info("skill version captured",
		zap.String("skill_id", skillID),
		zap.String("version_id", v.ID),
		zap.String("content_hash", v.ContentHash),
		zap.String("revision", v.Revision),
	)
	return v, nil
}

// List 返回技能的全部版本，新在前
func (m *Manager) List(ctx context.Context, skillID string) ([]types.SkillVersion, error) {
	return m.store.ListVersions(ctx, skillID)
}

// Get 返回指定版本
func (m *Manager) Get(ctx context.Context, skillID, versionID string) (types.SkillVersion, error) {
	return m.store.GetVersion(ctx, skillID, versionID)
}

// Rollback 把版本源码原样写回磁盘并触发重载。成功返回 true
func (m *Manager) Rollback(ctx context.Context, skillID, versionID string) (bool, error) {
	v, err := m.store.GetVersion(ctx, skillID, versionID)
	if err != nil {
		return false, err
	}
	path := v.FilePath
	if path == "" {
		var ok bool
		if path, ok = m.resolve(skillID); !ok {
			return false, types.NewError(types.ErrSkillNotFound, "no source path for skill").
				WithSkill(skillID).WithCause(ErrSkillNotFound)
		}
	}

	if err := WriteFileAtomic(path, []byte(v.Source)); err != nil {
		return false, fmt.Errorf("restore %s: %w", path, err)
	}
	m.logger.Info("skill source restored",
		zap.String("skill_id", skillID),
		zap.String("version_id", versionID),
		zap.String("path", path),
	)

	if m.reload != nil {
		if err := m.reload(ctx, skillID, path); err != nil {
			return false, fmt.Errorf("reload after rollback: %w", err)
		}
	}
	return true, nil
}

// WriteFileAtomic 先写同目录临时文件再 rename，读者不会看到半写的内容
func WriteFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// GitRevision 返回 path 所在 git 仓库的 HEAD，不在仓库中或没有 git 时返回空串
func GitRevision(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-C", filepath.Dir(path), "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// =============================================================================
// 🔍 版本对比
// =============================================================================

// MetricDelta 单项基线指标的变化
type MetricDelta struct {
	Metric    string  `json:"metric"`
	From      float64 `json:"from"`
	To        float64 `json:"to"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_pct"`
}

// Comparison 两个版本的差异
type Comparison struct {
	SkillID     string        `json:"skill_id"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	SameContent bool          `json:"same_content"`
	Deltas      []MetricDelta `json:"deltas,omitempty"`
	Diff        string        `json:"diff,omitempty"`
}

// Compare 对比两个版本的基线与源码
func (m *Manager) Compare(ctx context.Context, skillID, fromID, toID string) (Comparison, error) {
	from, err := m.store.GetVersion(ctx, skillID, fromID)
	if err != nil {
		return Comparison{}, err
	}
	to, err := m.store.GetVersion(ctx, skillID, toID)
	if err != nil {
		return Comparison{}, err
	}

	c := Comparison{
		SkillID:     skillID,
		From:        fromID,
		To:          toID,
		SameContent: from.ContentHash == to.ContentHash,
	}
	if from.Baseline != nil && to.Baseline != nil {
		c.Deltas = latencyDeltas(from.Baseline.Metrics, to.Baseline.Metrics)
	}
	if !c.SameContent {
		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(from.Source),
			B:        difflib.SplitLines(to.Source),
			FromFile: fromID,
			ToFile:   toID,
			Context:  3,
		})
		if err != nil {
			return Comparison{}, fmt.Errorf("diff versions: %w", err)
		}
		c.Diff = diff
	}
	return c, nil
}

func latencyDeltas(from, to types.LatencyMetrics) []MetricDelta {
	pairs := []struct {
		name     string
		from, to float64
	}{
		{"p50", from.P50, to.P50},
		{"p95", from.P95, to.P95},
		{"p99", from.P99, to.P99},
		{"avg", from.Avg, to.Avg},
	}
	out := make([]MetricDelta, 0, len(pairs))
	for _, p := range pairs {
		d := MetricDelta{Metric: p.name, From: p.from, To: p.to, Change: p.to - p.from}
		if p.from > 0 {
			d.ChangePct = d.Change / p.from * 100
		}
		out = append(out, d)
	}
	return out
}
