// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package tracking 记录每一次技能调用的结果并持久化到情报存储。

Tracker 先把 ExecutionRecord 放入环形缓冲区（最近 N 条，供查询），再按
持久化模式处理：

  - off：只保留在内存，不落盘
  - immediate：逐条写穿
  - batch（默认）：攒够 BatchSize 条或每隔 FlushInterval 刷写一次

刷写失败时按指数退避重试（默认共 3 次）；仍失败的批次进入有界死信队列，
超出上限时淘汰最旧记录并记录日志与指标。显式调用 Flush 会重新投递死信。
错误状态的记录会触发一次带外紧急刷写。Close 在调用方的截止时间内做一次
不重试的最终刷写。

参数只以哈希形式保存，原始参数与输出从不落盘或写入日志。
*/
package tracking
