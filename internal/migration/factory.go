package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/skillflow/config"
)

// NewMigratorFromDatabaseConfig 按存储配置创建迁移器。
// SQLite 的 DSN 带有与 inventory 相同的 WAL 和 busy timeout 参数。
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	dialect, err := ParseDialect(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(&Config{
		Dialect:     dialect,
		DatabaseURL: dbCfg.DSN(),
		TableName:   dbCfg.MigrationsTable,
	})
}

// NewMigratorFromURL 用显式驱动名与连接串创建迁移器
func NewMigratorFromURL(driver, dbURL string) (*DefaultMigrator, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{Dialect: dialect, DatabaseURL: dbURL})
}
