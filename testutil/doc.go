// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 skillflow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现相似的
测试基础设施。它只依赖 types 与 skills，因此追踪、热加载、调用等
包的内部测试都可以直接引用。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel
  - 数据工具: MustJSON / MustParseJSON
  - 清单辅助: WriteManifest 在临时目录写入技能清单

# 子包

  - testutil/mocks: ExecutionSink（执行记录持久化，可注入失败）、
    DecisionRecorder、Backups 以及 Flaky / Slow 处理器
  - testutil/fixtures: 执行记录、延迟分布与清单样例
*/
package testutil
