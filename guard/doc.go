// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 guard 提供逐次调用的性能回归守卫。

# 概述

Guard 为每个技能维护一个滚动延迟窗口。每次 Check 都会更新 Prometheus
指标，计算窗口内的 p50/p95/p99，并请情报存储对照最近基线给出回归判定。
判定为回归时按劣化幅度分级（≥100% high，≥50% medium，其余 low），同一技能
在去重窗口（默认 300s）内最多产生一条告警。

# 告警投递

  - LogSink：写入 zap 日志（默认）
  - RedisSink：写入 Redis 有界列表，供多个进程的运维工具读取

后台定时清理过期的去重记录；上一轮未结束时跳过本轮。
*/
package guard
