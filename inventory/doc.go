// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 inventory 提供技能执行情报的持久化存储，基于 GORM 与
golang-migrate，默认使用 SQLite（WAL），也支持 PostgreSQL。

# 概述

Store 保存技能描述、执行记录、决策记录、性能基线、版本快照与
灰度实验配置。打开时先执行版本化迁移：新库直接建表，旧库只做
加法式前向迁移。执行、决策与基线只追加不修改；写事务在锁冲突
时按退避策略重试。

# 核心能力

  - SkillSummary：总次数、成功率、平均置信度与 p50/p95/p99。
  - CheckRegression：当前指标严格大于 基线 × 阈值 时判定回归，并给出劣化百分比。
  - SkillPerformance：成功率、错误率、回退率与延迟分布。
  - Cleanup：删除保留窗口之外的执行与决策记录。
  - Export：以 json / jsonl / csv 导出执行记录。

# 分位数

Percentile 对升序样本取秩下标 sorted[int(n*p)]（越界时取最后一个），
不做插值。
*/
package inventory
