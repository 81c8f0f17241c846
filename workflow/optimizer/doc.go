// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package optimizer 为工作流图提供计划、并行执行与结果缓存能力。

# 概述

optimizer 位于 workflow 之上：Planner 把图分层为有序阶段，ParallelOptimizer
在并发上限与启动速率内执行同一阶段的节点，PlanRunner 将两者与 workflow.Dispatcher
组合，按阶段驱动整张图，并根据条件节点与条件边决定下游是否执行。

# 核心类型

  - Planner / ExecutionPlan / Stage — Kahn 分层与耗时估算
  - ParallelOptimizer / ExecuteOptions — semaphore + errgroup + rate.Limiter 的批量执行
  - ContextCache / Backend / RedisBackend — 本地 LRU+TTL 缓存，可选 Redis 二级存储
  - ResultAggregator / MergeStrategy — sorted_by_score、deduplicate、concat 合并
  - PlanRunner / RunResult — 计划驱动的端到端执行

# 主要能力

  - 并行组识别：依赖全部位于前序组的节点归入同一组，残留环路强制拆出首个节点
  - 失败隔离：默认失败写入 {error}，FailFast 时首个失败取消整批
  - 节点缓存：配置 cacheable: true 的节点按 节点ID + 输入哈希 复用输出
  - 可观测性：每次运行与每个阶段均创建 OTel span，并记录阶段耗时指标
*/
package optimizer
