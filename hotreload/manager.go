package hotreload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/internal/telemetry"
	"github.com/BaSui01/skillflow/skills"
	"github.com/BaSui01/skillflow/types"
	"github.com/BaSui01/skillflow/versioning"
)

var (
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("reload manager closed")
	// ErrQueueFull 重载队列已满
	ErrQueueFull = errors.New("reload queue full")
	// ErrIdentityChanged 清单中的技能 ID 与已加载版本不一致
	ErrIdentityChanged = errors.New("skill id changed")
)

// Status 重载结果状态
type Status string

const (
	StatusRegistered Status = "registered" // 首次加载并注册
	StatusReloaded   Status = "reloaded"   // 替换成功
	StatusUnchanged  Status = "unchanged"  // 内容与最后可用版本相同
	StatusRollback   Status = "rollback"   // 失败，已恢复最后可用源码
	StatusFailed     Status = "failed"     // 失败且无可恢复版本
)

// Result 单次重载的结果
type Result struct {
	Path          string        `json:"path"`
	SkillID       string        `json:"skill_id,omitempty"`
	Status        Status        `json:"status"`
	Version       string        `json:"version,omitempty"`
	BackupVersion string        `json:"backup_version,omitempty"`
	Error         string        `json:"error,omitempty"`
	Err           error         `json:"-"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// Backups 保存重载前的备份版本，versioning.Manager 实现了该接口
type Backups interface {
	CaptureSource(ctx context.Context, skillID, path string, source []byte) (types.SkillVersion, error)
}

// DecisionRecorder 记录 adaptation 决策，inventory.Store 实现了该接口
type DecisionRecorder interface {
	SaveDecision(ctx context.Context, rec types.IntelligenceRecord) (types.IntelligenceRecord, error)
}

// knownGood 最后一个成功加载的源码
type knownGood struct {
	skillID string
	version string
	source  []byte
	hash    string
}

// Manager 热加载管理器
type Manager struct {
	cfg       config.ReloadConfig
	registry  *skills.Registry
	loader    *skills.Loader
	backups   Backups
	decisions DecisionRecorder
	onSwap    func(skillID string)
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	// 同一时刻最多一个重载
	reloadMu sync.Mutex
	group    singleflight.Group

	mu      sync.Mutex
	known   map[string]knownGood
	results []Result
	pending map[string]struct{}
	closed  bool

	queue     chan string
	watcher   *Watcher
	done      chan struct{}
	worker    sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
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

// WithBackups 设置备份版本存储
func WithBackups(b Backups) Option {
	return func(m *Manager) { m.backups = b }
}

// WithDecisions 设置决策记录
func WithDecisions(d DecisionRecorder) Option {
	return func(m *Manager) { m.decisions = d }
}

// WithOnSwap 句柄替换成功后回调，例如重置性能窗口
func WithOnSwap(fn func(skillID string)) Option {
	return func(m *Manager) { m.onSwap = fn }
}

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建热加载管理器
func NewManager(registry *skills.Registry, loader *skills.Loader, cfg config.ReloadConfig, opts ...Option) (*Manager, error) {
	if registry == nil || loader == nil {
		return nil, errors.New("reload manager: registry and loader are required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}

	m := &Manager{
		cfg:      cfg,
		registry: registry,
		loader:   loader,
		logger:   zap.NewNop(),
		now:      time.Now,
		known:    make(map[string]knownGood),
		pending:  make(map[string]struct{}),
		queue:    make(chan string, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "hot_reload"))
	return m, nil
}

// Remember 把已注册技能的当前源码记为最后可用版本
func (m *Manager) Remember(skill *skills.Skill) error {
	path := skill.Descriptor.FilePath
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("remember %s: %w", skill.ID(), err)
	}
	m.mu.Lock()
	m.known[path] = knownGood{
		skillID: skill.ID(),
		version: skill.Descriptor.Version,
		source:  data,
		hash:    skills.ContentHash(data),
	}
	m.mu.Unlock()
	return nil
}

// Watch 开始监听目录，并启动重载工作协程
func (m *Manager) Watch(ctx context.Context, dirs ...string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.watcher != nil {
		m.mu.Unlock()
		return errors.New("reload manager already watching")
	}
	w, err := NewWatcher(m.onEvent, WithDebounce(m.cfg.Debounce), WithWatcherLogger(m.logger))
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.watcher = w
	m.mu.Unlock()

	for _, dir := range dirs {
		if err := w.AddDir(dir); err != nil {
			return err
		}
	}
	m.Start(ctx)
	return w.Start(ctx)
}

func (m *Manager) onEvent(ev FileEvent) {
	if ev.Op == FileOpRemove {
		// 注册表中的句柄保持不变，直到清单重新出现
		m.logger.Warn("skill manifest removed", zap.String("path", ev.Path))
		return
	}
	if err := m.Enqueue(ev.Path); err != nil {
		m.logger.Error("cannot schedule reload", zap.String("path", ev.Path), zap.Error(err))
	}
}

// Start 启动单工作协程，可重复调用
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.worker.Add(1)
		go m.work(ctx)
	})
}

func (m *Manager) work(ctx context.Context) {
	defer m.worker.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case path := <-m.queue:
			m.mu.Lock()
			delete(m.pending, path)
			m.mu.Unlock()
			// 结果已写入历史，错误已记录
			_, _ = m.Reload(ctx, path)
		}
	}
}

// Enqueue 排队一次重载；同一路径已在队列中时合并
func (m *Manager) Enqueue(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.pending[abs]; ok {
		return nil
	}
	select {
	case m.queue <- abs:
		m.pending[abs] = struct{}{}
		return nil
	default:
		return fmt.Errorf("%w: %d reloads waiting", ErrQueueFull, len(m.queue))
	}
}

// Reload 同步重载一个清单。并发调用同一路径只执行一次，不同路径串行执行
func (m *Manager) Reload(ctx context.Context, path string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{Path: path, Status: StatusFailed, Err: err, Error: err.Error()}, err
	}
	v, _, _ := m.group.Do(abs, func() (any, error) {
		m.reloadMu.Lock()
		defer m.reloadMu.Unlock()
		return m.reload(ctx, abs), nil
	})
	res := v.(Result)
	return res, res.Err
}

func (m *Manager) reload(ctx context.Context, path string) Result {
	start := m.now()
	res := Result{Path: path, StartedAt: start.UTC()}

	m.mu.Lock()
	prev, hasPrev := m.known[path]
	m.mu.Unlock()
	if hasPrev {
		res.SkillID = prev.skillID
	}

	ctx, span := telemetry.StartSkillSpan(ctx, "skill.reload", res.SkillID, attribute.String("skill.path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("read manifest: %w", err)
	} else {
		hash := skills.ContentHash(data)
		if hasPrev && hash == prev.hash {
			res.Status = StatusUnchanged
			res.Version = prev.version
			telemetry.EndSpan(span, nil)
			return m.finish(ctx, res, start)
		}
		if hasPrev && m.backups != nil {
			backup, berr := m.backups.CaptureSource(ctx, prev.skillID, path, prev.source)
			if berr != nil {
				// 内存中仍保留最后可用源码，继续重载
				m.logger.Warn("backup capture failed",
					zap.String("skill_id", prev.skillID),
					zap.Error(berr),
				)
			} else {
				res.BackupVersion = backup.ID
			}
		}
		var status Status
		var skill *skills.Skill
		skill, status, err = m.swap(path, prev, hasPrev)
		if err == nil {
			res.SkillID = skill.ID()
			res.Version = skill.Descriptor.Version
			res.Status = status

			m.mu.Lock()
			m.known[path] = knownGood{skillID: skill.ID(), version: skill.Descriptor.Version, source: data, hash: hash}
			m.mu.Unlock()
			if m.onSwap != nil {
				m.onSwap(skill.ID())
			}
		}
	}

	if err != nil {
		res.Err = m.restore(path, res.SkillID, prev, hasPrev, err)
		res.Error = res.Err.Error()
		if hasPrev && !errors.Is(res.Err, errRestoreFailed) {
			res.Status = StatusRollback
			res.Version = prev.version
		} else {
			res.Status = StatusFailed
		}
	}
	telemetry.EndSpan(span, res.Err)
	return m.finish(ctx, res, start)
}

// swap 构建新句柄并原子替换；失败时注册表保持不变
func (m *Manager) swap(path string, prev knownGood, hasPrev bool) (*skills.Skill, Status, error) {
	m.loader.Invalidate(path)
	if hasPrev {
		m.loader.InvalidateSkill(prev.skillID)
	}
	skill, err := m.loader.Load(path)
	if err != nil {
		return nil, "", err
	}
	if hasPrev && skill.ID() != prev.skillID {
		m.loader.Invalidate(path)
		return nil, "", fmt.Errorf("%w: %s became %s", ErrIdentityChanged, prev.skillID, skill.ID())
	}
	if _, ok := m.registry.Get(skill.ID()); ok {
		if _, err := m.registry.Replace(skill); err != nil {
			m.loader.Invalidate(path)
			return nil, "", err
		}
		return skill, StatusReloaded, nil
	}
	if err := m.registry.Register(skill); err != nil {
		m.loader.Invalidate(path)
		return nil, "", err
	}
	return skill, StatusRegistered, nil
}

var errRestoreFailed = errors.New("restore last known-good source failed")

// restore 把最后可用源码写回磁盘，返回保留原始错误的重载错误
func (m *Manager) restore(path, skillID string, prev knownGood, hasPrev bool, cause error) error {
	reloadErr := types.NewError(types.ErrReloadFailed, "reload failed").WithSkill(skillID).WithCause(cause)
	if !hasPrev {
		return reloadErr
	}
	if err := versioning.WriteFileAtomic(path, prev.source); err != nil {
		m.logger.Error("restore after failed reload failed",
			zap.String("skill_id", skillID),
			zap.String("path", path),
			zap.Error(err),
		)
		return errors.Join(reloadErr, fmt.Errorf("%w: %w", errRestoreFailed, err))
	}
	return reloadErr
}

func (m *Manager) finish(ctx context.Context, res Result, start time.Time) Result {
	res.Duration = m.now().Sub(start)

	m.mu.Lock()
	m.results = append(m.results, res)
	if over := len(m.results) - m.cfg.HistorySize; over > 0 {
		m.results = append([]Result(nil), m.results[over:]...)
	}
	m.mu.Unlock()

	fields := []zap.Field{
		zap.String("skill_id", res.SkillID),
		zap.String("path", res.Path),
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration),
	}
	switch res.Status {
	case StatusUnchanged:
		m.logger.Debug("skill reload skipped", fields...)
		return res
	case StatusRollback, StatusFailed:
		m.logger.Error("skill reload failed", append(fields, zap.Error(res.Err))...)
	default:
		m.logger.Info("skill reloaded", fields...)
	}

	skill := res.SkillID
	if skill == "" {
		skill = "unknown"
	}
	m.metrics.RecordReload(skill, string(res.Status))
	m.recordDecision(ctx, res)
	return res
}

func (m *Manager) recordDecision(ctx context.Context, res Result) {
	if m.decisions == nil || res.SkillID == "" {
		return
	}
	rec := types.IntelligenceRecord{
		SkillID:    res.SkillID,
		Kind:       types.DecisionAdaptation,
		Confidence: 1,
		Rationale:  "manifest changed on disk",
		Outcome:    string(res.Status),
		Timestamp:  res.StartedAt,
	}
	if res.BackupVersion != "" {
		rec.Alternatives = []string{"backup:" + res.BackupVersion}
	}
	if res.Err != nil {
		rec.Confidence = 0
		rec.Rationale = res.Error
	}
	if _, err := m.decisions.SaveDecision(ctx, rec); err != nil {
		m.logger.Warn("record reload decision failed", zap.String("skill_id", res.SkillID), zap.Error(err))
	}
}

// Results 返回最近的重载结果，新在前。limit<=0 返回全部
func (m *Manager) Results(limit int) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.results)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Result, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.results[i])
	}
	return out
}

// Pending 返回排队中的重载数
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close 停止监听与工作协程。排队中未执行的重载被丢弃
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		w := m.watcher
		dropped := len(m.pending)
		m.mu.Unlock()

		if w != nil {
			err = w.Stop()
		}
		close(m.done)
		m.worker.Wait()
		if dropped > 0 {
			m.logger.Warn("pending reloads discarded on close", zap.Int("count", dropped))
		}
	})
	return err
}
