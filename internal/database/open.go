package database

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// 支持的驱动
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var memorySeq atomic.Int64

// IsMemoryPath reports whether path selects an in-memory SQLite database.
func IsMemoryPath(path string) bool {
	return path == "" || path == ":memory:"
}

// SQLiteDSN 构造 mattn/go-sqlite3 DSN：WAL、busy_timeout、BEGIN IMMEDIATE。
// 内存库每次调用得到独立的共享缓存库，同一连接池内的连接看到同一份数据。
func SQLiteDSN(path string, busyTimeout time.Duration) string {
	if IsMemoryPath(path) {
		return fmt.Sprintf("file:skillflow-mem-%d?mode=memory&cache=shared&_busy_timeout=5000", memorySeq.Add(1))
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout.Milliseconds()))
	q.Set("_txlock", "immediate")
	q.Set("_foreign_keys", "on")
	return "file:" + path + "?" + q.Encode()
}

// Open 按驱动打开 GORM 连接
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3", "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres, "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("database connected", zap.String("driver", dialector.Name()))
	return db, nil
}
