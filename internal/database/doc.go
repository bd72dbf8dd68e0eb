// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接打开与连接池管理，支持健康检查、
统计信息采集与事务重试。

# 概述

Open 按驱动（sqlite / postgres）构造 GORM 连接。SQLite 以 WAL 模式、
busy_timeout 与 BEGIN IMMEDIATE 打开，允许并发读、单写者。
Pool 封装 database/sql 连接池配置，统一管理连接生命周期，
后台定时探活，Close 时停止，异常时通过 zap 日志输出诊断信息。

# 核心类型

  - Pool：连接池，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、SQLDB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 连接打开：Open / SQLiteDSN，内存库使用共享缓存。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 基于 cenkalti/backoff 指数退避重试
    （SQLITE_BUSY、死锁、序列化失败、断连等场景）。
  - 统计采集：Stats 供 inventory 上报连接数指标。
*/
package database
