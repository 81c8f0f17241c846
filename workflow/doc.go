// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供图驱动的控制流执行器。

# 概述

workflow 包定义工作流图（节点 + 边）以及条件、循环、并行三类控制节点的
执行器。普通节点交由宿主实现的 NodeExecutor 执行；控制节点由 Dispatcher
根据声明的类型路由到 ExecutorFactory 创建的执行器，执行器再回调
NodeExecutor 运行循环体与并行分支。所有表达式通过 workflow/expr 沙箱求值。

# 核心接口与类型

  - NodeExecutor / NodeFunc — 宿主提供的节点调用能力
  - Executor               — 控制节点执行器 Execute(ctx, config, inputs)
  - ConditionExecutor      — simple（true/false 分支）与 multi_branch（首个命中）
  - LoopExecutor           — for_each / range / while，支持 break_on 与重试退避
  - ParallelExecutor       — all（收集或 fail_fast）与 first（首个成功者胜出）
  - ExecutorFactory        — 按类型创建执行器，共享同一个表达式求值器
  - Dispatcher             — 按节点声明类型路由，记录节点执行指标
  - Graph / GraphNode / Edge — 图结构，支持 YAML / JSON 读写

# 主要能力

  - 配置解码：节点配置经 mapstructure 弱类型解码，纯数字时长按秒解释
  - 安全违规永不降级：条件与 while 条件中的安全违规总是向上传播
  - 表达式求值失败时：simple 条件走 false 分支，multi_branch 跳过该分支，
    while 循环以 condition_error 结束
  - 并行超时：分支超时记录为 {error: "timeout"}，first 模式无成功者时返回
    {error: "no_result"}
*/
package workflow
