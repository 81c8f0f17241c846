// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，作为上下文缓存的
共享后端，使多个引擎实例复用节点计算结果。

# 概述

本包封装 go-redis 客户端，为上层业务提供统一的缓存读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭，
所有键统一加上 KeyPrefix 命名空间。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete/DeletePattern/Exists/Expire
    等基础操作，以及 GetJSON/SetJSON 便捷序列化方法。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL、
    键前缀与健康检查间隔等参数，可由 ConfigFrom 从引擎配置组装。

# 主要能力

  - 键值读写：支持字符串与 JSON 两种模式的缓存存取。
  - 模式失效：DeletePattern 通过 SCAN + DEL 按 glob 批量删除。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警，Close 时退出。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
