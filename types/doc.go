// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 skillflow 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 skills、tracking、
inventory、guard、signal、versioning、rollout 与 calling 等模块提供
统一的数据契约，以避免循环依赖。

# 核心类型

  - SkillDescriptor：技能身份与源文件位置（ID 不可变）
  - ExecutionRecord：单次调用结果（只保存参数哈希，不保存原始参数）
  - ExecutionStatus：success / failure / timeout / partial
  - IntelligenceRecord：路由、降级、自适应、重试等决策记录
  - PerformanceBaseline：延迟分布基线（p50/p95/p99/avg）
  - LatencyMetrics：当前延迟指标，用于回归比较
  - SkillVersion：技能源码与基线的不可变快照
  - ABTestConfig：变体灰度配置
  - Error / ErrorCode：结构化错误体系

# 主要能力

  - 参数哈希：HashArgs 对参数做规范化 JSON 后计算 SHA-256
  - Context 传播：WithTraceID / WithSkillID / WithInvocationID
  - 错误工具链：NewError / IsErrorCode / IsRetryable
*/
package types
