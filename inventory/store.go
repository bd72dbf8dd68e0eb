package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/database"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/internal/migration"
	"github.com/BaSui01/skillflow/types"
)

// =============================================================================
// 🗄️ 情报存储
// =============================================================================

// Store 技能情报存储
type Store struct {
	db            *gorm.DB
	pool          *database.Pool
	driver        string
	table         string
	writeAttempts int
	metrics       *metrics.Collector
	logger        *zap.Logger
	now           func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Option 配置 Store
type Option func(*Store)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// WithWriteAttempts 设置写事务在锁冲突时的总尝试次数
func WithWriteAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.writeAttempts = n
		}
	}
}

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open 打开存储并把 schema 迁移到最新版本
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*Store, error) {
	s := &Store{
		driver:        cfg.Driver,
		writeAttempts: 3,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "inventory"))
	if s.driver == "" {
		s.driver = database.DriverSQLite
	}
	if cfg.MigrationsTable == "" {
		cfg.MigrationsTable = "schema_migrations"
	}
	s.table = cfg.MigrationsTable

	poolCfg := cfg.Pool
	if poolCfg.MaxOpenConns == 0 {
		poolCfg = database.DefaultPoolConfig()
	}

	switch s.driver {
	case database.DriverPostgres:
		// PostgreSQL 由迁移器自带连接完成迁移后再打开业务连接
		m, err := migration.NewMigratorFromDatabaseConfig(cfg)
		if err != nil {
			return nil, storeError("create migrator", err)
		}
		upErr := m.Up(ctx)
		_ = m.Close()
		if upErr != nil {
			return nil, storeError("migrate schema", upErr)
		}
		if err := s.connect(cfg.DSN(), poolCfg); err != nil {
			return nil, err
		}

	case database.DriverSQLite:
		if database.IsMemoryPath(cfg.Path) {
			// 共享缓存内存库在最后一个连接关闭时消失，连接不过期
			poolCfg.ConnMaxLifetime = 0
			poolCfg.ConnMaxIdleTime = 0
			poolCfg.MaxIdleConns = poolCfg.MaxOpenConns
		}
		if err := s.connect(cfg.DSN(), poolCfg); err != nil {
			return nil, err
		}
		m, err := migration.NewMigratorWithDB(s.pool.SQLDB(), cfg.MigrationsTable)
		if err != nil {
			_ = s.pool.Close()
			return nil, storeError("create migrator", err)
		}
		upErr := m.Up(ctx)
		_ = m.Close()
		if upErr != nil {
			_ = s.pool.Close()
			return nil, storeError("migrate schema", upErr)
		}

	default:
		return nil, types.NewError(types.ErrInvalidConfiguration,
			fmt.Sprintf("unsupported database driver %q", s.driver))
	}

	s.logger.Info("inventory store opened",
		zap.String("driver", s.driver),
		zap.Bool("in_memory", s.driver == database.DriverSQLite && database.IsMemoryPath(cfg.Path)),
	)
	return s, nil
}

func (s *Store) connect(dsn string, poolCfg database.PoolConfig) error {
	db, err := database.Open(s.driver, dsn, s.logger)
	if err != nil {
		return storeError("open database", err)
	}
	pool, err := database.NewPool(db, poolCfg, s.logger)
	if err != nil {
		return storeError("configure pool", err)
	}
	s.db = db
	s.pool = pool
	return nil
}

// Close 关闭存储
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.metrics != nil {
		s.metrics.RecordDBConnections("inventory", 0, 0)
	}
	return s.pool.Close()
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Driver 返回驱动名
func (s *Store) Driver() string { return s.driver }

// JournalMode 返回 SQLite 的日志模式（PostgreSQL 返回空串）
func (s *Store) JournalMode(ctx context.Context) (string, error) {
	if s.driver != database.DriverSQLite {
		return "", nil
	}
	var mode string
	if err := s.db.WithContext(ctx).Raw("PRAGMA journal_mode").Scan(&mode).Error; err != nil {
		return "", storeError("read journal mode", err)
	}
	return mode, nil
}

// SchemaVersion 返回当前迁移版本
func (s *Store) SchemaVersion(ctx context.Context) (uint, error) {
	var version uint
	err := s.db.WithContext(ctx).Table(s.table).Select("version").Limit(1).Scan(&version).Error
	if err != nil {
		return 0, storeError("read schema version", err)
	}
	return version, nil
}

// reader 返回只读查询句柄
func (s *Store) reader(ctx context.Context) (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db.WithContext(ctx), nil
}

// write 在带重试的事务中执行写操作
func (s *Store) write(ctx context.Context, op string, fn database.TransactionFunc) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	defer s.observe(op, time.Now())
	if err := s.pool.WithTransactionRetry(ctx, s.writeAttempts, fn); err != nil {
		return storeError(op, err)
	}
	return nil
}

func (s *Store) observe(op string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDBQuery("inventory", op, time.Since(start))
	stats := s.pool.Stats()
	s.metrics.RecordDBConnections("inventory", stats.OpenConnections, stats.Idle)
}

func newID() string { return uuid.NewString() }

// =============================================================================
// 📝 技能描述
// =============================================================================

// SaveSkill 保存（或更新）技能描述
func (s *Store) SaveSkill(ctx context.Context, d types.SkillDescriptor) error {
	if d.ID == "" {
		return fmt.Errorf("%w: skill id is required", ErrInvalidInput)
	}
	model := skillFromDescriptor(d, s.now())
	return s.write(ctx, "save_skill", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "version", "category", "tags", "file_path", "handler", "requires", "depends_on", "updated_at"}),
		}).Create(&model).Error
	})
}

// DeleteSkill 删除技能描述；历史执行记录保留
func (s *Store) DeleteSkill(ctx context.Context, id string) error {
	return s.write(ctx, "delete_skill", func(tx *gorm.DB) error {
		return tx.Where("id = ?", id).Delete(&skillModel{}).Error
	})
}

// ListSkills 返回已持久化的技能描述，按 ID 排序
func (s *Store) ListSkills(ctx context.Context) ([]types.SkillDescriptor, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return nil, err
	}
	var models []skillModel
	if err := db.Order("id").Find(&models).Error; err != nil {
		return nil, storeError("list skills", err)
	}
	out := make([]types.SkillDescriptor, len(models))
	for i, m := range models {
		out[i] = m.descriptor()
	}
	return out, nil
}

// =============================================================================
// 🧾 执行与决策记录
// =============================================================================

// SaveExecutions 在一个事务中追加一批执行记录
func (s *Store) SaveExecutions(ctx context.Context, records []types.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]executionModel, len(records))
	for i, r := range records {
		if r.SkillID == "" {
			return fmt.Errorf("%w: execution record without skill id", ErrInvalidInput)
		}
		if r.ID == "" {
			r.ID = newID()
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = s.now()
		}
		models[i] = executionFromRecord(r)
	}
	return s.write(ctx, "save_executions", func(tx *gorm.DB) error {
		return tx.CreateInBatches(models, 50).Error
	})
}

// SaveDecision 立即持久化一条决策记录
func (s *Store) SaveDecision(ctx context.Context, rec types.IntelligenceRecord) (types.IntelligenceRecord, error) {
	if rec.SkillID == "" || !rec.Kind.IsValid() {
		return rec, fmt.Errorf("%w: decision needs skill id and a known kind", ErrInvalidInput)
	}
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	model := decisionFromRecord(rec)
	err := s.write(ctx, "save_decision", func(tx *gorm.DB) error {
		return tx.Create(&model).Error
	})
	return rec, err
}

// ExecutionHistory 返回最近的执行记录（新在前），skillID 为空时返回全部技能
func (s *Store) ExecutionHistory(ctx context.Context, skillID string, limit int) ([]types.ExecutionRecord, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(&executionModel{}).Order("timestamp DESC").Order("id")
	if skillID != "" {
		q = q.Where("skill_id = ?", skillID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []executionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, storeError("execution history", err)
	}
	out := make([]types.ExecutionRecord, len(models))
	for i, m := range models {
		out[i] = m.record()
	}
	return out, nil
}

// RecentDecisions 返回最近的决策记录（新在前）
func (s *Store) RecentDecisions(ctx context.Context, skillID string, limit int) ([]types.IntelligenceRecord, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(&decisionModel{}).Order("timestamp DESC").Order("id")
	if skillID != "" {
		q = q.Where("skill_id = ?", skillID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []decisionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, storeError("recent decisions", err)
	}
	out := make([]types.IntelligenceRecord, len(models))
	for i, m := range models {
		out[i] = m.record()
	}
	return out, nil
}

// CleanupResult 清理结果
type CleanupResult struct {
	Executions int64     `json:"executions"`
	Decisions  int64     `json:"decisions"`
	Cutoff     time.Time `json:"cutoff"`
}

// Cleanup 删除早于 days 天的执行与决策记录；基线与版本永久保留
func (s *Store) Cleanup(ctx context.Context, days int) (CleanupResult, error) {
	if days <= 0 {
		return CleanupResult{}, fmt.Errorf("%w: retention days must be positive, got %d", ErrInvalidInput, days)
	}
	result := CleanupResult{Cutoff: s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)}
	err := s.write(ctx, "cleanup", func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", result.Cutoff).Delete(&executionModel{})
		if res.Error != nil {
			return res.Error
		}
		result.Executions = res.RowsAffected
		res = tx.Where("timestamp < ?", result.Cutoff).Delete(&decisionModel{})
		if res.Error != nil {
			return res.Error
		}
		result.Decisions = res.RowsAffected
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}
	s.logger.Info("inventory cleanup finished",
		zap.Int("retention_days", days),
		zap.Int64("executions_deleted", result.Executions),
		zap.Int64("decisions_deleted", result.Decisions),
	)
	return result, nil
}

// =============================================================================
// 📐 性能基线
// =============================================================================

// SaveBaseline 追加一条性能基线
func (s *Store) SaveBaseline(ctx context.Context, b types.PerformanceBaseline) (types.PerformanceBaseline, error) {
	if b.SkillID == "" {
		return b, fmt.Errorf("%w: baseline without skill id", ErrInvalidInput)
	}
	if b.ID == "" {
		b.ID = newID()
	}
	if b.CapturedAt.IsZero() {
		b.CapturedAt = s.now()
	}
	b.CapturedAt = b.CapturedAt.UTC()
	model := baselineFromRecord(b)
	err := s.write(ctx, "save_baseline", func(tx *gorm.DB) error {
		return tx.Create(&model).Error
	})
	return b, err
}

// LatestBaseline 返回最近捕获的基线；没有时返回 ErrNoBaseline
func (s *Store) LatestBaseline(ctx context.Context, skillID string) (types.PerformanceBaseline, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return types.PerformanceBaseline{}, err
	}
	var models []baselineModel
	err = db.Where("skill_id = ?", skillID).
		Order("captured_at DESC").Order("id DESC").
		Limit(1).Find(&models).Error
	if err != nil {
		return types.PerformanceBaseline{}, storeError("latest baseline", err)
	}
	if len(models) == 0 {
		return types.PerformanceBaseline{}, noBaselineError(skillID)
	}
	return models[0].record(), nil
}

// Baselines 返回技能的全部基线（新在前）
func (s *Store) Baselines(ctx context.Context, skillID string) ([]types.PerformanceBaseline, error) {
	db, err := s.reader(ctx)
	if err != nil {
		return nil, err
	}
	var models []baselineModel
	if err := db.Where("skill_id = ?", skillID).Order("captured_at DESC").Find(&models).Error; err != nil {
		return nil, storeError("list baselines", err)
	}
	out := make([]types.PerformanceBaseline, len(models))
	for i, m := range models {
		out[i] = m.record()
	}
	return out, nil
}
