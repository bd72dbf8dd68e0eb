// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package skills 管理技能的注册、依赖校验与加载。

# 概述

技能以清单文件（SKILL.yaml / SKILL.json）描述身份、版本与依赖，
清单中的 handler 字段指向 Catalog 中预先编译注册的处理函数。
Go 无法在运行时重新导入代码，因此"加载"即：解析清单、解析处理器、
构造新的 Skill 句柄，再原子地替换进 Registry。

# 核心类型

  - Skill：描述符 + 处理器 + 源内容哈希
  - Catalog：处理器名称到 Handler 的映射
  - Manifest：技能清单（YAML / JSON）
  - Registry：写时复制快照的技能注册表，读无锁
  - DependencyGraph：技能依赖有向图（DFS 环检测 + Kahn 拓扑序）
  - DependencyValidator：注册前的依赖准入检查
  - Loader：清单解析缓存与目录扫描

# 不变量

  - 同一 ID 重复注册失败，首次注册的处理器保持生效
  - 依赖图在技能进入 Registry 前必须无环；环会拒绝注册并回滚该节点的边
  - 依赖未注册的技能同样被拒绝
*/
package skills
