// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package subagent 提供可插拔的子代理注册、生命周期管理与编排。

# 概述

子代理用于执行委派任务。Registry 维护类型到构造函数的映射，每个任务
创建一个新实例；BaseSubAgent 包装具体任务逻辑，负责状态流转、计时、
超时与 panic 捕获；Orchestrator 按类型解析并执行子代理，按会话记录
结果，并通过 eventbus 接收 spawn 事件、发布完成事件。

执行失败从不以 error 返回，而是写入 Success=false 的 Result。

# 核心类型

  - Registry / Constructor        — 类型注册表与统一构造函数
  - SubAgent / BaseSubAgent       — 子代理接口与生命周期包装器
  - TaskRunner / TaskRunnerFunc   — 具体任务逻辑
  - Task / Result / Status        — 任务、结果与状态
  - Orchestrator                  — 编排器
  - SpawnEvent / CompletedEvent   — 事件总线上的请求与完成事件

# 主要能力

  - 状态流转：created → running → completed | failed | cancelled
  - 多种构造函数形式，注册时统一转换
  - spawn 事件在有界协程池中执行
  - 会话结果与执行中实例由互斥锁保护，可并发调用
*/
package subagent
