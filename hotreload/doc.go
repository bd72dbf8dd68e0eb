// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 hotreload 监听技能清单变更，并以“构建新句柄、原子替换、失败回滚”的方式
热加载技能。

# 概述

Watcher 基于 fsnotify 递归监听技能目录，只关心清单文件（SKILL.yaml、
SKILL.yml、SKILL.json）的创建与写入事件。每个路径独立去抖（默认 500ms），
连续多次写入只触发一次重载。

Manager 通过单工作协程的队列串行执行重载，同一时刻最多一个重载在进行。
一次重载：

 1. 把最后一个可用版本的源码保存为备份版本
 2. 清除加载器中该技能的缓存
 3. 解析清单、解析处理器、校验依赖，然后原子替换注册表中的句柄
 4. 任一步失败时把备份源码写回磁盘，结果状态为 rollback，并保留原始错误

内容哈希与最后可用版本相同的事件直接跳过，回滚写盘不会引发重载循环。
每次重载都会记录一条 adaptation 决策，并保留最近的重载结果供查询。
*/
package hotreload
