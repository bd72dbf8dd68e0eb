// Package skillflow wires the skill lifecycle and telemetry components into a
// single engine.
//
// Usage:
//
//	import "github.com/BaSui01/skillflow"
//
//	catalog := skills.NewCatalog()
//	catalog.MustRegister("http.get", fetch)
//
//	e, err := skillflow.New(ctx, config.DefaultConfig(), skillflow.WithCatalog(catalog))
//	report, err := e.LoadDirectory(ctx, "skills")
//	res, err := e.Call(ctx, "fetch", map[string]any{"url": u})
//	defer e.Shutdown(ctx)
//
// Every invocation produces an ExecutionRecord that is tracked durably, graded
// by the performance guard and labelled by the signal classifier. Skill
// manifests can be hot-reloaded, versioned, rolled back and A/B tested.
package skillflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/calling"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/guard"
	"github.com/BaSui01/skillflow/hotreload"
	"github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/inventory"
	"github.com/BaSui01/skillflow/rollout"
	"github.com/BaSui01/skillflow/signal"
	"github.com/BaSui01/skillflow/skills"
	"github.com/BaSui01/skillflow/tracking"
	"github.com/BaSui01/skillflow/types"
	"github.com/BaSui01/skillflow/versioning"
)

// ErrShutdown 引擎已关闭
var ErrShutdown = errors.New("engine is shut down")

// Engine 技能生命周期与遥测引擎
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	catalog  *skills.Catalog
	loader   *skills.Loader
	registry *skills.Registry

	store      *inventory.Store
	ownsStore  bool
	cache      *cache.Manager
	ownsCache  bool
	tracker    *tracking.Tracker
	guard      *guard.Guard
	classifier *signal.Classifier
	nsr        *signal.NSRTracker
	versions   *versioning.Manager
	reload     *hotreload.Manager
	rollout    *rollout.Manager
	calling    *calling.Engine

	baselineMu sync.RWMutex
	baselines  map[string]*types.PerformanceBaseline // nil 值表示已确认没有基线

	cleanupStop chan struct{}
	cleanupDone sync.WaitGroup
	shutdown    sync.Once
	closed      chan struct{}
}

// Option 配置 Engine
type Option func(*options)

type options struct {
	logger     *zap.Logger
	catalog    *skills.Catalog
	registerer prometheus.Registerer
	store      *inventory.Store
	cache      *cache.Manager
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCatalog 设置处理器目录
func WithCatalog(c *skills.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithMetricsRegisterer 启用 Prometheus 指标并注册到 reg
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithStore 使用外部存储，Shutdown 不会关闭它
func WithStore(s *inventory.Store) Option {
	return func(o *options) { o.store = s }
}

// WithCache 使用外部 Redis 缓存，Shutdown 不会关闭它
func WithCache(c *cache.Manager) Option {
	return func(o *options) { o.cache = c }
}

// New 创建引擎并打开存储。cfg 为 nil 时使用默认配置
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidConfiguration, "invalid configuration").WithCause(err)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "engine")),
		catalog:     o.catalog,
		baselines:   make(map[string]*types.PerformanceBaseline),
		cleanupStop: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	if e.catalog == nil {
		e.catalog = skills.NewCatalog()
	}
	if o.registerer != nil {
		e.metrics = metrics.NewCollector(cfg.Metrics.Namespace, o.registerer, logger)
	}

	e.loader = skills.NewLoader(e.catalog, logger)
	e.registry = skills.NewRegistry(skills.NewDependencyValidator(logger), logger)

	if err := e.openStorage(ctx, o, logger); err != nil {
		return nil, err
	}
	if err := e.build(ctx, logger); err != nil {
		_ = e.closeStorage()
		return nil, err
	}

	if cfg.Inventory.CleanupInterval > 0 {
		e.cleanupDone.Add(1)
		go e.cleanupLoop(cfg.Inventory.CleanupInterval)
	}

	e.logger.Info("engine started",
		zap.String("persistence_mode", cfg.Tracker.PersistenceMode),
		zap.String("database", e.store.Driver()),
		zap.Bool("redis", e.cache != nil),
	)
	return e, nil
}

func (e *Engine) openStorage(ctx context.Context, o options, logger *zap.Logger) error {
	e.store = o.store
	if e.store == nil {
		store, err := inventory.Open(ctx, e.cfg.Database,
			inventory.WithLogger(logger),
			inventory.WithMetrics(e.metrics),
			inventory.WithWriteAttempts(e.cfg.Inventory.WriteAttempts),
		)
		if err != nil {
			return err
		}
		e.store, e.ownsStore = store, true
	}

	e.cache = o.cache
	if e.cache == nil && e.cfg.Redis.Enabled {
		rc := e.cfg.Redis
		c, err := cache.NewManager(cache.Config{
			Addr:                rc.Addr,
			Password:            rc.Password,
			DB:                  rc.DB,
			DefaultTTL:          rc.SummaryTTL,
			MaxRetries:          3,
			PoolSize:            rc.PoolSize,
			MinIdleConns:        rc.MinIdleConns,
			HealthCheckInterval: 30 * time.Second,
			TLS:                 rc.TLS,
		}, logger)
		if err != nil {
			// Redis 只承载告警副本与摘要缓存，不可用时降级为仅日志
			e.logger.Warn("redis unavailable, continuing without it", zap.Error(err))
		} else {
			e.cache, e.ownsCache = c, true
		}
	}
	return nil
}

func (e *Engine) build(ctx context.Context, logger *zap.Logger) error {
	cfg := e.cfg
	var err error

	e.tracker, err = tracking.New(e.store, cfg.Tracker,
		tracking.WithLogger(logger),
		tracking.WithMetrics(e.metrics),
	)
	if err != nil {
		return err
	}

	sinks := []guard.Sink{guard.NewLogSink(logger)}
	if e.cache != nil {
		sinks = append(sinks, guard.NewRedisSink(e.cache, cfg.Redis.AlertKey, cfg.Redis.AlertLimit))
	}
	e.guard, err = guard.New(e.store, cfg.Guard,
		guard.WithLogger(logger),
		guard.WithMetrics(e.metrics),
		guard.WithSinks(sinks...),
		guard.WithCleanupInterval(cfg.Guard.AlertDedupWindow),
	)
	if err != nil {
		return err
	}

	th := signal.DefaultThresholds()
	th.SoftBand = cfg.Guard.RegressionThreshold
	e.classifier = signal.NewClassifier(th, logger)
	e.nsr = signal.NewNSRTracker(e.metrics)

	// 回滚写回源文件后经热加载生效；reload 在下面创建，闭包调用时才取值
	e.versions = versioning.NewManager(e.store, e.sourcePath,
		versioning.WithLogger(logger),
		versioning.WithReload(func(ctx context.Context, _, path string) error {
			_, err := e.reload.Reload(ctx, path)
			return err
		}),
	)
	e.reload, err = hotreload.NewManager(e.registry, e.loader, cfg.Reload,
		hotreload.WithLogger(logger),
		hotreload.WithMetrics(e.metrics),
		hotreload.WithBackups(e.versions),
		hotreload.WithDecisions(e.store),
		hotreload.WithOnSwap(e.onSwap),
	)
	if err != nil {
		return err
	}

	e.rollout, err = rollout.NewManager(e.store, e.store, cfg.Rollout,
		rollout.WithLogger(logger),
		rollout.WithMetrics(e.metrics),
		rollout.WithDecisions(e.store),
	)
	if err != nil {
		return err
	}
	if err := e.rollout.Load(ctx); err != nil {
		return err
	}

	e.calling, err = calling.New(e.registry, cfg.Calling,
		calling.WithLogger(logger),
		calling.WithMetrics(e.metrics),
		calling.WithSelector(e.rollout),
		calling.WithRecorder(callRecorder{e}),
		calling.WithDecisions(e.store),
	)
	return err
}

// sourcePath 返回已注册技能的清单路径
func (e *Engine) sourcePath(skillID string) (string, bool) {
	s, ok := e.registry.Get(skillID)
	if !ok || s.Descriptor.FilePath == "" {
		return "", false
	}
	return s.Descriptor.FilePath, true
}

// onSwap 热加载替换句柄后：重置性能窗口、持久化元数据、清除缓存
func (e *Engine) onSwap(skillID string) {
	e.guard.Reset(skillID)
	e.invalidateSummary(context.Background(), skillID)
	if s, ok := e.registry.Get(skillID); ok {
		if err := e.store.SaveSkill(context.Background(), s.Descriptor); err != nil {
			e.logger.Warn("persist skill metadata failed", zap.String("skill_id", skillID), zap.Error(err))
		}
	}
}

// =============================================================================
// 📋 注册
// =============================================================================

// RegisterHandler 向处理器目录加入一个处理器，清单通过名称引用它
func (e *Engine) RegisterHandler(name string, h skills.Handler) error {
	return e.catalog.Register(name, h)
}

// RegisterSkill 注册技能。ID 重复或依赖不满足时拒绝，已注册技能不受影响
func (e *Engine) RegisterSkill(ctx context.Context, skill *skills.Skill) error {
	if err := e.registry.Register(skill); err != nil {
		return err
	}
	e.afterRegister(ctx, skill)
	return nil
}

func (e *Engine) afterRegister(ctx context.Context, skill *skills.Skill) {
	if err := e.store.SaveSkill(ctx, skill.Descriptor); err != nil {
		e.logger.Warn("persist skill metadata failed", zap.String("skill_id", skill.ID()), zap.Error(err))
	}
	if err := e.reload.Remember(skill); err != nil {
		e.logger.Warn("cannot remember skill source", zap.String("skill_id", skill.ID()), zap.Error(err))
	}
}

// LoadReport 目录加载结果
type LoadReport struct {
	Loaded []string          `json:"loaded"`
	Failed map[string]string `json:"failed,omitempty"` // 路径或技能 ID -> 原因
}

// LoadDirectory 扫描目录中的清单，按依赖拓扑序注册。单个技能失败不影响其它技能
func (e *Engine) LoadDirectory(ctx context.Context, dir string) (LoadReport, error) {
	report := LoadReport{Loaded: []string{}, Failed: make(map[string]string)}

	found, failures, err := e.loader.Scan(dir)
	if err != nil {
		return report, err
	}
	for path, ferr := range failures {
		report.Failed[path] = ferr.Error()
	}

	byID := make(map[string]*skills.Skill, len(found))
	descs := make([]types.SkillDescriptor, 0, len(found))
	for _, s := range found {
		byID[s.ID()] = s
		descs = append(descs, s.Descriptor)
	}

	order, rejected := e.registry.Validator().PlanLoad(descs)
	for id, rerr := range rejected {
		report.Failed[id] = rerr.Error()
	}
	for _, id := range order {
		s := byID[id]
		if err := e.RegisterSkill(ctx, s); err != nil {
			report.Failed[id] = err.Error()
			continue
		}
		report.Loaded = append(report.Loaded, id)
	}

	e.logger.Info("skill directory loaded",
		zap.String("dir", dir),
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// UnregisterSkill 注销技能，返回是否存在。历史遥测保留
func (e *Engine) UnregisterSkill(ctx context.Context, id string) bool {
	if !e.registry.Unregister(id) {
		return false
	}
	e.loader.InvalidateSkill(id)
	e.guard.Reset(id)
	if err := e.store.DeleteSkill(ctx, id); err != nil {
		e.logger.Warn("delete skill metadata failed", zap.String("skill_id", id), zap.Error(err))
	}
	return true
}

// GetSkill 按 ID 获取技能
func (e *Engine) GetSkill(id string) (*skills.Skill, bool) { return e.registry.Get(id) }

// ListSkills 列出已注册技能
func (e *Engine) ListSkills() []*skills.Skill { return e.registry.List() }

// SkillCount 已注册技能数
func (e *Engine) SkillCount() int { return e.registry.Count() }

// Validate 校验清单能否注册，不修改任何状态。skillID 非空时还要求清单 ID 与之一致
func (e *Engine) Validate(sourcePath, skillID string) skills.ValidationReport {
	report := skills.ValidationReport{SkillID: skillID, Errors: []string{}, Warnings: []string{}}

	path, err := skills.ResolvePath(sourcePath)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	m, _, err := skills.ReadManifest(path)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	if skillID != "" && m.ID != skillID {
		report.Errors = append(report.Errors, fmt.Sprintf("manifest declares %q, expected %q", m.ID, skillID))
	}

	checked := e.registry.Validator().Check(m.Descriptor(path), func(id string) bool {
		_, ok := e.registry.Get(id)
		return ok
	})
	checked.Errors = append(report.Errors, checked.Errors...)
	if _, ok := e.catalog.Lookup(m.Handler); !ok {
		checked.Errors = append(checked.Errors, fmt.Sprintf("%s: %s", skills.ErrHandlerNotFound, m.Handler))
	}
	checked.Valid = len(checked.Errors) == 0
	return checked
}

// =============================================================================
// 🔌 生命周期
// =============================================================================

// Watch 监听配置的技能目录并热加载变更
func (e *Engine) Watch(ctx context.Context) error {
	if !e.cfg.Reload.Enabled {
		return nil
	}
	return e.reload.Watch(ctx, e.cfg.Engine.SkillDirs...)
}

func (e *Engine) cleanupLoop(interval time.Duration) {
	defer e.cleanupDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.cleanupStop:
			return
		case <-ticker.C:
			if _, err := e.Cleanup(context.Background()); err != nil {
				e.logger.Warn("retention cleanup failed", zap.Error(err))
			}
		}
	}
}

// Cleanup 删除超出保留期的执行与决策记录
func (e *Engine) Cleanup(ctx context.Context) (inventory.CleanupResult, error) {
	return e.store.Cleanup(ctx, e.cfg.Inventory.RetentionDays)
}

// Shutdown 有界排空：停止热加载与调用，刷新追踪器，关闭存储。只执行一次
func (e *Engine) Shutdown(ctx context.Context) error {
	err := ErrShutdown
	e.shutdown.Do(func() {
		close(e.closed)
		if timeout := e.cfg.Engine.ShutdownTimeout; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		var errs []error
		close(e.cleanupStop)
		e.cleanupDone.Wait()
		if rerr := e.reload.Close(); rerr != nil {
			errs = append(errs, fmt.Errorf("stop reload: %w", rerr))
		}
		drainCtx, cancelDrain := drainContext(ctx)
		if cerr := e.calling.Close(drainCtx); cerr != nil {
			errs = append(errs, fmt.Errorf("drain calls: %w", cerr))
		}
		cancelDrain()
		e.guard.Close()
		if terr := e.tracker.Close(ctx); terr != nil {
			errs = append(errs, fmt.Errorf("close tracker: %w", terr))
		}
		if cerr := e.closeStorage(); cerr != nil {
			errs = append(errs, cerr)
		}

		stats := e.tracker.Stats()
		e.logger.Info("engine stopped",
			zap.Int64("tracked", stats.Tracked),
			zap.Int64("flushed", stats.Flushed),
			zap.Int("dead_letter", stats.DeadLetter),
		)
		err = errors.Join(errs...)
	})
	return err
}

// drainContext 等待在途调用最多用掉剩余时间的一半，其余留给追踪器最终刷写
func drainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Until(deadline)/2)
}

func (e *Engine) closeStorage() error {
	var errs []error
	if e.ownsCache && e.cache != nil {
		if err := e.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if e.ownsStore && e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}
