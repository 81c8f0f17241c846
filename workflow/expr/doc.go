// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package expr 提供工作流条件与循环使用的沙箱表达式求值器。

# 概述

表达式在求值前经过三道检查：文本黑名单（import、exec、eval、open
等关键字以及任何双下划线片段）、语法解析、以及 AST 白名单校验。
任何不在白名单中的结构都会产生 SECURITY_VIOLATION 错误，且调用方
不得将其降级为普通求值失败。

# 核心类型

  - Evaluator — 编译并求值表达式，内置按源码文本索引的 LRU 编译缓存
  - Program   — 已解析并通过校验的表达式
  - Scope     — 分层变量：Global < Workflow < Context < Item
  - Mode      — basic 仅允许运算与访问，advanced 额外允许内置函数调用

# 主要能力

  - 比较（支持链式）、逻辑（and/or/not 与 &&/||/!）、成员（in / not in）
  - 算术：+ - * / %，除法总是得到浮点数，除零为求值错误
  - 属性与下标访问，支持负下标
  - 内置函数：int float str bool min max len round sqrt ceil floor abs
  - advanced 模式下与内置函数同名的变量会被移除，防止输入数据劫持函数
*/
package expr
