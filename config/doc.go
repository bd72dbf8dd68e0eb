// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 SkillFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（envconfig，前缀 SKILLFLOW）
// 的顺序叠加，覆盖追踪、存储、守卫、热加载、调用、灰度、日志与遥测。
package config
