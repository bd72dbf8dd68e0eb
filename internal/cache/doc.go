// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，服务于技能摘要缓存与
性能告警的 Redis 列表投递。

# 概述

本包封装 go-redis 客户端，为上层组件提供统一的缓存读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 Get/Set/Delete 基础操作、GetJSON/SetJSON 序列化方法，
    以及 PushCapped/PushJSON/Range 有界列表操作。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL
    与健康检查间隔等参数。
  - Stats：命中、未命中与错误计数，暴露在 /api/v1/stats。

# 主要能力

  - 摘要缓存：技能摘要按 TTL 缓存，过期后回源存储重新计算。
  - 告警列表：LPUSH + LTRIM 事务管道，保证列表长度不超过上限。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警，Close 时停止。
  - 错误语义：提供 ErrCacheMiss / ErrClosed 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
