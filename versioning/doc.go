// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package versioning 管理技能源码的不可变版本快照。

Capture 读取技能清单的当前内容，连同内容哈希、可选的 git 修订号与最近的
性能基线保存为 SkillVersion。版本 ID 为 ULID，按时间有序。

Rollback 把指定版本的源码原样写回磁盘（先写临时文件再 rename），随后
触发一次重载。Compare 给出两个版本之间的基线延迟变化与统一格式源码差异。
*/
package versioning
