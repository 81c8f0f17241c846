// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package dsl 提供 YAML/JSON 声明式图定义语言，解析为可执行的 workflow.Graph。

# 概述

图定义文件声明变量、节点与后继关系。解析时先做 ${var} 插值，再由 Validator
统一校验：节点唯一性、引用完整性、控制节点配置，以及所有表达式能否通过
沙箱编译。安全违规在加载阶段即被拒绝，而不是等到运行时。

# 核心类型

  - GraphDSL / NodeDef / VariableDef — 定义文件结构
  - Validator — 返回全部问题而非首个问题
  - Parser — Parse / ParseFile / ParseWithVariables

# 主要能力

  - next 声明无条件边，when 为指定后继附加边条件
  - 条件节点的 true_branch / false_branch / branches / default_branch 自动补全为边
  - tasks 声明仅由循环体或并行分支调用、不参与调度的节点
*/
package dsl
