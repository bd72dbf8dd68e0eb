// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package signal 把执行记录与决策记录标注为信号或噪声，并维护噪声占比（NSR）。
//
// Classifier 按固定顺序应用启发式规则，命中第一条即返回：
// 瞬时网络错误、低于 1ms 的调用、超过 60s 的超时尖刺、置信度低于 0.1，
// 以及略高于基线 p95 的软区间（p95 < d <= p95×1.2，建议持续观察）。
// 其余记录为信号，超过软区间的延迟与非瞬时错误建议告警。
package signal
