// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 flowcore 执行引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、expr、optimizer、
subagent 等上层模块提供统一的错误契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 Code、Message、Retryable、Cause

# 错误分类

  - SECURITY_VIOLATION — 表达式包含被禁止的结构，永不降级
  - EVALUATION_ERROR   — 语法、未定义变量或类型错误，由调用方决定回退
  - BRANCH_FAILED / TIMEOUT / CANCELLED — 并行分支与调度相关
  - SUBAGENT_NOT_FOUND / SUBAGENT_FAILED — 子代理相关，总是写入结果而非抛出

# 主要能力

  - 错误工具链：NewError / Errorf / WithCause / GetErrorCode / HasCode
  - 分类判断：IsSecurityViolation / IsEvaluationError / IsRetryable
*/
package types
