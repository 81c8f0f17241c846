// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 10, cfg.Engine.MaxConcurrency)
	assert.Equal(t, "basic", cfg.Expression.DefaultMode)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "flowcore.yaml")

	yamlContent := `
engine:
  max_concurrency: 4
  fail_fast: true
  launch_rate: 20

expression:
  default_mode: advanced
  cache_size: 50

loop:
  max_iterations: 25

cache:
  max_size: 10
  default_ttl: 30s
  backend: redis

redis:
  addr: "redis.example.com:6379"
  db: 1

planner:
  node_estimates:
    llm: 3s
    tool: 250ms
  default_estimate: 2s

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.MaxConcurrency)
	assert.True(t, cfg.Engine.FailFast)
	assert.Equal(t, 20.0, cfg.Engine.LaunchRate)

	assert.Equal(t, "advanced", cfg.Expression.DefaultMode)
	assert.Equal(t, 50, cfg.Expression.CacheSize)
	assert.Equal(t, 25, cfg.Loop.MaxIterations)

	assert.Equal(t, 10, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, 3*time.Second, cfg.Planner.NodeEstimates["llm"])
	assert.Equal(t, 250*time.Millisecond, cfg.Planner.NodeEstimates["tool"])
	assert.Equal(t, 2*time.Second, cfg.Planner.DefaultEstimate)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未出现在 YAML 中的分节保留默认值
	assert.Equal(t, DefaultSubAgentConfig(), cfg.SubAgent)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("FLOWCORE_ENGINE_MAX_CONCURRENCY", "3")
	t.Setenv("FLOWCORE_ENGINE_FAIL_FAST", "true")
	t.Setenv("FLOWCORE_EXPRESSION_DEFAULT_MODE", "advanced")
	t.Setenv("FLOWCORE_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("FLOWCORE_TELEMETRY_SAMPLE_RATE", "0.25")
	t.Setenv("FLOWCORE_LOG_OUTPUT_PATHS", "stdout, /tmp/flowcore.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.MaxConcurrency)
	assert.True(t, cfg.Engine.FailFast)
	assert.Equal(t, "advanced", cfg.Expression.DefaultMode)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
	assert.Equal(t, []string{"stdout", "/tmp/flowcore.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "flowcore.yaml")
	yamlContent := `
loop:
  max_iterations: 7
subagent:
  pool_workers: 2
  default_timeout: 10s
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("FLOWCORE_LOOP_MAX_ITERATIONS", "9")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Loop.MaxIterations)
	assert.Equal(t, 2, cfg.SubAgent.PoolWorkers)
	assert.Equal(t, 10*time.Second, cfg.SubAgent.DefaultTimeout)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYENGINE_CACHE_MAX_SIZE", "42")

	cfg, err := NewLoader().WithEnvPrefix("MYENGINE").Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Cache.MaxSize)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("FLOWCORE_CACHE_DEFAULT_TTL", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOWCORE_CACHE_DEFAULT_TTL")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("FLOWCORE_LOOP_MAX_ITERATIONS", "0")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error { return cfg.Validate() }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop.max_iterations")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/flowcore.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Cache, cfg.Cache)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
engine:
  max_concurrency: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestMustLoad_Panics(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("cache: [x"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Engine.MaxConcurrency = -1 },
			wantErr: "engine.max_concurrency",
		},
		{
			name:    "unknown expression mode",
			mutate:  func(c *Config) { c.Expression.DefaultMode = "python" },
			wantErr: "expression.default_mode",
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "cache.backend",
		},
		{
			name: "redis backend without address",
			mutate: func(c *Config) {
				c.Cache.Backend = "redis"
				c.Redis.Addr = ""
			},
			wantErr: "redis.addr",
		},
		{
			name:    "sample rate out of range",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "telemetry.sample_rate",
		},
		{
			name:    "zero pool workers",
			mutate:  func(c *Config) { c.SubAgent.PoolWorkers = 0 },
			wantErr: "subagent.pool_workers",
		},
		{
			name:    "zero status history",
			mutate:  func(c *Config) { c.SubAgent.StatusHistory = 0 },
			wantErr: "subagent.status_history",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
