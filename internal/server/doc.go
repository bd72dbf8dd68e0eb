// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 skillflow serve 命令的运维 HTTP 端点。

# 概述

Manager 封装 net/http.Server：非阻塞启动、随 context 结束的
Run、带超时的优雅关闭以及异步错误传播。配置了证书与私钥时，
以 tlsutil 的加固配置监听 TLS。

# 核心类型

  - Manager：持有 http.Server、listener 与错误通道，
    提供 Start/Run/Shutdown/Errors/Addr/IsRunning。
  - Config：监听地址、读写与空闲超时、关闭超时、TLS 证书路径。
*/
package server
