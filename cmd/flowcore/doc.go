// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 flowcore 命令行工具入口。

# 概述

cmd/flowcore 用于在不接入宿主节点实现的情况下检查和试运行工作流图：
解析 YAML 图定义、输出执行计划、以回显节点执行整张图，以及单独求值
表达式。配置通过 config.Loader 加载（YAML 文件 + FLOWCORE_ 环境变量），
日志使用 zap 并写入 stderr，命令结果以 JSON 写入 stdout。

# 主要能力

  - 子命令：plan、run、eval、version
  - -var key=value 可重复，值按 YAML 标量解析
  - run 命令初始化 OpenTelemetry，并在 SIGINT/SIGTERM 时取消执行
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
