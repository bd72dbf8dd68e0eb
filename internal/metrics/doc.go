// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的技能遥测指标采集，覆盖
技能调用、性能守卫、执行追踪、热加载、灰度与数据库六个维度。

# 概述

Collector 统一注册和记录 Prometheus 指标，使用 promauto.With
将指标注册到调用方提供的 Registerer（为空时使用默认注册表）。
所有指标按 namespace 隔离，支持多维度 label 分组。
Collector 的方法对 nil 接收者安全，未启用指标时组件无需判空。

# 主要能力

  - 调用指标：调用总数、耗时直方图、超时与重试计数，按 skill/status 分组。
  - 守卫指标：当前 p50/p95/p99 Gauge、置信度、回归与告警计数（按 severity）。
  - 追踪指标：记录流转（tracked/flushed/dead_lettered/evicted/dropped）、
    flush 尝试结果、缓冲区与死信队列长度。
  - 信号指标：分类计数（按 type/noise）与当前噪声比 NSR。
  - 热加载与灰度：重载结果计数、灰度比例 Gauge、变体选择计数。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
