// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 安装 OpenTelemetry 的 TracerProvider 与 MeterProvider，
// 并提供技能调用与热加载共用的 span 辅助函数。
// 未启用时保持全局 noop provider，不连接任何外部服务。
package telemetry
