// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package config 提供 flowcore 执行引擎的配置管理功能。

# 概述

配置按 默认值 → YAML 文件 → 环境变量（前缀 FLOWCORE_）的顺序叠加，
环境变量名由结构体 env 标签逐级拼接而成，例如 FLOWCORE_CACHE_MAX_SIZE。

# 核心类型

  - Config — 顶层配置，含 Engine / Expression / Loop / Parallel / Cache /
    Redis / Planner / SubAgent / Log / Telemetry / Metrics 分节
  - Loader — Builder 模式的加载器，支持自定义验证器

# 主要能力

  - DefaultConfig / DefaultXxxConfig：各分节默认值
  - Validate：对取值范围与后端组合做一致性校验
*/
package config
