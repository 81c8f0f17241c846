// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package eventbus 提供进程内的发布/订阅事件总线。

# 概述

SimpleBus 以带缓冲的 channel 接收事件，由单个分发 goroutine 按事件类型
查找订阅者，并为每个处理器启动独立 goroutine 执行；处理器 panic 会被
恢复并记录日志。子代理编排器通过它接收 spawn 事件并发布完成事件。

# 核心类型

  - Bus / SimpleBus — 事件总线接口与默认实现
  - Event / Handler — 事件接口与处理器
  - Message         — 携带任意数据的通用事件

# 主要能力

  - 非阻塞发布：缓冲区满时丢弃并计数（Dropped）
  - 订阅 ID 由实例内计数器生成，不依赖进程级全局状态
  - Stop 幂等，停止后的发布被静默忽略
*/
package eventbus
