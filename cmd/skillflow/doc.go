// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 skillflow 命令行程序入口。

# 概述

cmd/skillflow 把技能引擎包装为可执行程序：加载技能目录、监听热加载、
暴露运维端点，并提供校验、导出、版本回滚与数据库迁移等一次性命令。
配置按 默认值 → YAML → SKILLFLOW_ 环境变量 的顺序加载。

# 子命令

  - serve：启动引擎与运维 HTTP 端点，收到 SIGINT/SIGTERM 后优雅关闭
  - validate：校验清单与依赖，不注册
  - export：以 json / jsonl / csv 导出执行记录
  - versions：列出技能版本快照
  - rollback：恢复指定版本的清单并触发热加载
  - migrate：up / down / status / version / goto / force
  - version：构建信息（Version、BuildTime、GitCommit 通过 ldflags 注入）

# 运维端点

/metrics、/healthz、/readyz、/version 以及 /api/v1 下的只读查询。
中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、RequestLogger。
*/
package main
