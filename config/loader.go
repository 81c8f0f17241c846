// =============================================================================
// 📦 flowcore 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("flowcore.yaml").
//	    WithEnvPrefix("FLOWCORE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 flowcore 执行引擎的完整配置结构
type Config struct {
	// Engine 调度相关配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Expression 表达式求值配置
	Expression ExpressionConfig `yaml:"expression" env:"EXPRESSION"`

	// Loop 循环执行器默认值
	Loop LoopConfig `yaml:"loop" env:"LOOP"`

	// Parallel 并行执行器默认值
	Parallel ParallelConfig `yaml:"parallel" env:"PARALLEL"`

	// Cache 上下文缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 缓存后端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Planner 执行计划耗时估算
	Planner PlannerConfig `yaml:"planner" env:"PLANNER"`

	// SubAgent 子代理编排配置
	SubAgent SubAgentConfig `yaml:"subagent" env:"SUBAGENT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// EngineConfig 调度配置
type EngineConfig struct {
	// 单个阶段内最大并发节点数，0 表示不限制
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 阶段内首个失败是否中止整批
	FailFast bool `yaml:"fail_fast" env:"FAIL_FAST"`
	// 节点启动速率（每秒），0 表示不限速
	LaunchRate float64 `yaml:"launch_rate" env:"LAUNCH_RATE"`
	// 启动速率突发值
	LaunchBurst int `yaml:"launch_burst" env:"LAUNCH_BURST"`
}

// ExpressionConfig 表达式配置
type ExpressionConfig struct {
	// 默认模式: basic, advanced
	DefaultMode string `yaml:"default_mode" env:"DEFAULT_MODE"`
	// 编译缓存容量
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
}

// LoopConfig 循环配置
type LoopConfig struct {
	// while 循环默认最大迭代次数
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
}

// ParallelConfig 并行配置
type ParallelConfig struct {
	// 分支默认超时，0 表示不设超时
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
}

// CacheConfig 上下文缓存配置
type CacheConfig struct {
	// 最大条目数
	MaxSize int `yaml:"max_size" env:"MAX_SIZE"`
	// 默认 TTL，0 表示永不过期
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// 后端: memory, redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// PlannerConfig 计划器配置
type PlannerConfig struct {
	// 按节点类型的预估耗时（仅支持 YAML）
	NodeEstimates map[string]time.Duration `yaml:"node_estimates" env:"-"`
	// 未知类型的兜底耗时
	DefaultEstimate time.Duration `yaml:"default_estimate" env:"DEFAULT_ESTIMATE"`
}

// SubAgentConfig 子代理配置
type SubAgentConfig struct {
	// 任务默认超时
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 处理 spawn 事件的协程数
	PoolWorkers int `yaml:"pool_workers" env:"POOL_WORKERS"`
	// spawn 事件队列长度
	PoolQueueSize int `yaml:"pool_queue_size" env:"POOL_QUEUE_SIZE"`
	// 保留的已结束子代理状态条数，超出时淘汰最早的
	StatusHistory int `yaml:"status_history" env:"STATUS_HISTORY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FLOWCORE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Engine.MaxConcurrency < 0 {
		errs = append(errs, "engine.max_concurrency must not be negative")
	}
	if c.Engine.LaunchRate < 0 {
		errs = append(errs, "engine.launch_rate must not be negative")
	}

	switch c.Expression.DefaultMode {
	case "basic", "advanced":
	default:
		errs = append(errs, fmt.Sprintf("expression.default_mode %q must be basic or advanced", c.Expression.DefaultMode))
	}

	if c.Loop.MaxIterations <= 0 {
		errs = append(errs, "loop.max_iterations must be positive")
	}

	if c.Cache.MaxSize <= 0 {
		errs = append(errs, "cache.max_size must be positive")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required when cache.backend is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.backend %q must be memory or redis", c.Cache.Backend))
	}

	if c.Planner.DefaultEstimate <= 0 {
		errs = append(errs, "planner.default_estimate must be positive")
	}

	if c.SubAgent.PoolWorkers <= 0 {
		errs = append(errs, "subagent.pool_workers must be positive")
	}
	if c.SubAgent.StatusHistory <= 0 {
		errs = append(errs, "subagent.status_history must be positive")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
