// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的执行引擎指标采集能力，覆盖
节点、控制流、表达式、缓存与子代理五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，默认注册到全局 Registry，也可通过
NewCollectorWithRegisterer 注入独立 Registry。所有 Record 方法对
nil 接收者安全，组件未注入 Collector 时静默跳过。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 节点指标：执行总数与耗时（node_kind/status），计划阶段耗时。
  - 控制流指标：循环退出原因与迭代次数、并行分支结果、条件分支决策。
  - 表达式指标：按模式统计 ok / security_violation / evaluation_error。
  - 缓存指标：命中、未命中与淘汰（ttl/lru）计数。
  - 子代理指标：执行总数、耗时与在途数量 Gauge。
*/
package metrics
