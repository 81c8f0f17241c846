// =============================================================================
// 📦 flowcore 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:     DefaultEngineConfig(),
		Expression: DefaultExpressionConfig(),
		Loop:       DefaultLoopConfig(),
		Parallel:   DefaultParallelConfig(),
		Cache:      DefaultCacheConfig(),
		Redis:      DefaultRedisConfig(),
		Planner:    DefaultPlannerConfig(),
		SubAgent:   DefaultSubAgentConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// DefaultEngineConfig 返回默认调度配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrency: 10,
		FailFast:       false,
		LaunchRate:     0,
		LaunchBurst:    1,
	}
}

// DefaultExpressionConfig 返回默认表达式配置
func DefaultExpressionConfig() ExpressionConfig {
	return ExpressionConfig{
		DefaultMode: "basic",
		CacheSize:   1000,
	}
}

// DefaultLoopConfig 返回默认循环配置
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 100,
	}
}

// DefaultParallelConfig 返回默认并行配置
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		DefaultTimeout: 0,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize:    1000,
		DefaultTTL: 5 * time.Minute,
		Backend:    "memory",
		KeyPrefix:  "flowcore:ctx:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultPlannerConfig 返回默认计划器配置
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		NodeEstimates: map[string]time.Duration{
			"llm":       2 * time.Second,
			"retrieval": 500 * time.Millisecond,
			"tool":      time.Second,
			"condition": 10 * time.Millisecond,
		},
		DefaultEstimate: time.Second,
	}
}

// DefaultSubAgentConfig 返回默认子代理配置
func DefaultSubAgentConfig() SubAgentConfig {
	return SubAgentConfig{
		DefaultTimeout: 5 * time.Minute,
		PoolWorkers:    4,
		PoolQueueSize:  64,
		StatusHistory:  1024,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "flowcore",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "flowcore",
	}
}
