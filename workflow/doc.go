// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 实现 TaskFlow 的工作流编排核心。

# 概述

workflow 包含定义注册、实例生命周期、步骤执行、定时调度与重试退避五个
子系统，对外通过 Engine 门面暴露。引擎是单进程内存调度器，持久化通过
SnapshotStore 钩子插入（见 persistence 包）。

# 组件

  - Definition / Step — 不可变的工作流定义与步骤数据模型
  - Instance          — 单次执行的状态机记录（变量、历史、错误）
  - RetryPolicy       — 指数退避 + 抖动的纯函数延迟计算
  - Executor          — 顺序执行步骤，含单步超时与单步重试
  - Scheduler         — 定时触发、全局并发上限、工作流级重试
  - Engine            — 门面：注册、创建、调度、查询、取消

# 执行模型

单个后台调度循环按 Interval 扫描到期条目，按 ScheduleTime 先后顺序
触发，活跃实例数不超过 MaxConcurrent。实例内步骤严格串行；跨实例并行。
取消是协作式的：仅在步骤边界生效，不中断在途的外部调用。

步骤动作通过 StepRunner 接口注入，引擎本身不关心动作语义。
*/
package workflow
