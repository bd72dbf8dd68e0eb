package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("pool is closed")

// TransactionFunc 事务回调
type TransactionFunc func(tx *gorm.DB) error

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" split_words:"true"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" split_words:"true"`
	// HealthCheckInterval <=0 关闭后台探活
	HealthCheckInterval time.Duration `yaml:"health_check_interval" split_words:"true"`
}

// DefaultPoolConfig SQLite 单写者下够用的默认值
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        4,
		MaxOpenConns:        8,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Validate 校验连接池配置
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns <= 0:
		return errors.New("max_open_conns must be positive")
	case c.MaxIdleConns <= 0:
		return errors.New("max_idle_conns must be positive")
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// =============================================================================
// 🗄️ Pool
// =============================================================================

// Pool 持有技能库的 GORM 连接与底层连接池
type Pool struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewPool 按配置调整连接池并启动探活
func NewPool(db *gorm.DB, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	p := &Pool{
		db:     db,
		sqlDB:  sqlDB,
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go p.probe(cfg.HealthCheckInterval)
	} else {
		close(p.done)
	}
	p.logger.Debug("database pool configured",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return p, nil
}

// DB GORM 实例
func (p *Pool) DB() *gorm.DB { return p.db }

// SQLDB 底层 sql.DB，SQLite 迁移器借用它
func (p *Pool) SQLDB() *sql.DB { return p.sqlDB }

// Stats 连接池统计
func (p *Pool) Stats() sql.DBStats { return p.sqlDB.Stats() }

// Ping 探活
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	return p.sqlDB.PingContext(ctx)
}

// Close 停止探活并关闭连接池，重复调用无副作用
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	<-p.done
	return p.sqlDB.Close()
}

func (p *Pool) probe(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval/2)
		err := p.sqlDB.PingContext(ctx)
		cancel()
		if err != nil {
			p.logger.Warn("database health check failed", zap.Error(err))
			continue
		}
		s := p.sqlDB.Stats()
		p.logger.Debug("database health check passed",
			zap.Int("open", s.OpenConnections),
			zap.Int("in_use", s.InUse),
			zap.Int64("wait_count", s.WaitCount),
		)
	}
}

// =============================================================================
// 🔄 事务
// =============================================================================

// WithTransaction 单次事务
func (p *Pool) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return p.db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 事务遇到锁竞争类错误时指数退避重试，maxAttempts 为总尝试次数
func (p *Pool) WithTransactionRetry(ctx context.Context, maxAttempts int, fn TransactionFunc) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := p.WithTransaction(ctx, fn)
		if err != nil && !IsRetryableError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("write transaction retry",
				zap.Int("attempt", attempts),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil && attempts > 1 {
		return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
	}
	return err
}

// retryableMarkers 无法按类型识别的驱动错误（pgx 文本、网络错误）
var retryableMarkers = []string{
	"deadlock",
	"serialization failure",
	"could not serialize",
	"40001",
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"lock timeout",
	"lock wait timeout",
	"connection reset",
	"connection refused",
	"broken pipe",
}

// IsRetryableError 锁竞争、序列化失败与断连可重试，约束冲突等不可重试
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return strings.Contains(msg, "bad connection")
}
