// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 提供技能库 Schema 的版本化迁移，支持 SQLite 与
PostgreSQL，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各方言的 SQL 迁移文件。首次打开时建库，
之后旧版本库只做加法式前向迁移（新增表或列，从不破坏已有数据）。
版本号记录在 schema_migrations 表中，单调递增。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Goto/Force/Version/
    Status/Info/Close。
  - DefaultMigrator：Migrator 的默认实现，封装 golang-migrate 实例。
    NewMigratorWithDB 复用调用方的 SQLite 连接池（内存库必需）。
  - Config：迁移配置，包含数据库类型、连接 URL、迁移表名与锁超时。
  - Dialect：数据库方言（postgres/sqlite），ParseDialect 解析驱动名。
  - MigrationStatus / MigrationInfo：迁移状态与摘要信息。
  - CLI：命令行交互层，封装 Migrator 提供格式化输出。

# 迁移版本

  - 000001 init_schema：skills、skill_executions、skill_decisions、performance_baselines
  - 000002 versions_and_ab_tests：skill_versions、ab_tests
  - 000003 execution_skill_version：skill_executions.skill_version 列
*/
package migration
