// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 calling 在有界协程池上调用已注册技能，强制超时并在失败时重试一次。

每次调用先经过变体选择（灰度实验）与按技能限流，再在池中执行处理器。
超时返回 status=timeout 的结果而不是错误；非超时失败重试恰好一次，
第二次仍失败才向调用方返回错误。每次尝试都会产生一条执行记录。

CallMultiple 支持三种策略：

  - sequential：按顺序逐个调用
  - parallel：并发调用，并发度受工作协程数限制
  - adaptive：先并发，再把失败的调用按顺序重跑一次（记为降级）
*/
package calling
