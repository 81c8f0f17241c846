package flowcore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/subagent"
	"github.com/BaSui01/flowcore/types"
	"github.com/BaSui01/flowcore/workflow"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const squaresGraph = `
version: "1"
name: squares
variables:
  min_items:
    type: int
    default: 1
nodes:
  - id: load
    type: retrieval
    cacheable: true
    next: [square_all]
  - id: square_all
    type: loop
    config:
      type: for_each
      array_input: items
      body_node: square
    next: [report]
    when:
      report: "iteration_count >= ${min_items}"
  - id: report
    type: tool
tasks: [square]
`

type countingNode struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCountingNode() *countingNode {
	return &countingNode{calls: map[string]int{}}
}

func (n *countingNode) Execute(_ context.Context, nodeID string, inputs map[string]any) (map[string]any, error) {
	n.mu.Lock()
	n.calls[nodeID]++
	n.mu.Unlock()
	switch nodeID {
	case "load":
		return map[string]any{"source": "db"}, nil
	case "square":
		v := inputs["item"].(int)
		return map[string]any{"value": v * v}, nil
	}
	return map[string]any{"node": nodeID}, nil
}

func (n *countingNode) count(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[id]
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Metrics.Namespace = "engine"
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, node workflow.NodeExecutor) (*Engine, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	eng, err := New(cfg, node, WithLogger(zap.NewNop()), WithRegisterer(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng, reg
}

func TestEngine_RunParsedGraph(t *testing.T) {
	node := newCountingNode()
	eng, reg := newTestEngine(t, testConfig(), node)

	g, err := eng.ParseGraph([]byte(squaresGraph), nil)
	require.NoError(t, err)

	plan, err := eng.Plan(g)
	require.NoError(t, err)
	assert.Len(t, plan.Stages, 3)
	assert.True(t, plan.HasConditionalBranches)

	inputs := map[string]any{"items": []any{1, 2, 3}}
	for i := 0; i < 2; i++ {
		res, err := eng.Run(context.Background(), g, inputs)
		require.NoError(t, err)

		loop := res.Outputs["square_all"]
		assert.Equal(t, 3, loop["iteration_count"])
		assert.Equal(t, "completed", loop["exit_reason"])
		assert.Equal(t, map[string]any{"value": 9}, loop["final_result"])
		assert.Contains(t, res.Outputs, "report")
		assert.Equal(t, "0 of 3 nodes failed", res.Summary)
	}

	// load 可缓存，第二次运行命中
	assert.Equal(t, 1, node.count("load"))
	assert.Equal(t, 6, node.count("square"))
	assert.Equal(t, int64(1), eng.Cache().Stats().Hits)

	n, err := testutil.GatherAndCount(reg, "engine_node_executions_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

const gatedGraph = `
version: "1"
name: gated
nodes:
  - id: score
    type: tool
    next: [publish]
    when:
      publish: "quality >= threshold and env == \"prod\""
  - id: publish
    type: tool
`

type scoreNode struct{ quality float64 }

func (n scoreNode) Execute(_ context.Context, nodeID string, _ map[string]any) (map[string]any, error) {
	if nodeID == "score" {
		return map[string]any{"quality": n.quality}, nil
	}
	return map[string]any{"node": nodeID}, nil
}

func TestEngine_GlobalVariables(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng, err := New(testConfig(), scoreNode{quality: 0.8},
		WithRegisterer(reg),
		WithGlobalVariables(map[string]any{"threshold": 0.5, "env": "prod"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	g, err := eng.ParseGraph([]byte(gatedGraph), nil)
	require.NoError(t, err)

	res, err := eng.Run(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Outputs, "publish")

	// 运行上下文中的全局变量按键覆盖引擎级全局变量
	ctx := workflow.WithGlobalVars(context.Background(), map[string]any{"threshold": 0.9})
	res, err = eng.Run(ctx, g, nil)
	require.NoError(t, err)
	assert.NotContains(t, res.Outputs, "publish")
	assert.Equal(t, []string{"publish"}, res.Skipped)

	// 工作流变量优先于全局变量
	ctx = workflow.WithWorkflowVars(context.Background(), map[string]any{"env": "staging"})
	res, err = eng.Run(ctx, g, nil)
	require.NoError(t, err)
	assert.NotContains(t, res.Outputs, "publish")
}

func TestEngine_EdgeConditionUsesVariables(t *testing.T) {
	node := newCountingNode()
	eng, _ := newTestEngine(t, testConfig(), node)

	g, err := eng.ParseGraph([]byte(squaresGraph), map[string]any{"min_items": 5})
	require.NoError(t, err)

	res, err := eng.Run(context.Background(), g, map[string]any{"items": []any{1, 2}})
	require.NoError(t, err)
	assert.NotContains(t, res.Outputs, "report")
	assert.Equal(t, []string{"report"}, res.Skipped)
}

func TestEngine_LoadGraph(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), newCountingNode())

	path := filepath.Join(t.TempDir(), "squares.yaml")
	require.NoError(t, os.WriteFile(path, []byte(squaresGraph), 0o600))

	g, err := eng.LoadGraph(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "squares", g.Name)

	_, err = eng.LoadGraph(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestEngine_RejectsUnsafeGraph(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), newCountingNode())
	unsafe := strings.Replace(squaresGraph, "iteration_count >= ${min_items}", "__import__('os')", 1)

	_, err := eng.ParseGraph([]byte(unsafe), nil)
	require.Error(t, err)
	assert.True(t, types.IsSecurityViolation(err))
}

func TestEngine_RedisBackedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Cache.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.HealthCheckInterval = 0

	first := newCountingNode()
	eng, _ := newTestEngine(t, cfg, first)
	g, err := eng.ParseGraph([]byte(squaresGraph), nil)
	require.NoError(t, err)

	inputs := map[string]any{"items": []any{2}}
	_, err = eng.Run(context.Background(), g, inputs)
	require.NoError(t, err)

	var found bool
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "flowcore:ctx:node:load:") {
			found = true
		}
	}
	assert.True(t, found, "cached node output not written to redis: %v", mr.Keys())

	// 另一个引擎共享同一后端
	second := newCountingNode()
	other, _ := newTestEngine(t, cfg, second)
	_, err = other.Run(context.Background(), g, inputs)
	require.NoError(t, err)
	assert.Zero(t, second.count("load"))
}

func TestEngine_RedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := New(cfg, newCountingNode(), WithRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestEngine_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Expression.DefaultMode = "unsafe"

	_, err := New(cfg, newCountingNode())
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig))

	_, err = New(testConfig(), nil)
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig))
}

func TestEngine_SubAgentsViaBus(t *testing.T) {
	eng, reg := newTestEngine(t, testConfig(), newCountingNode())
	orch := eng.Orchestrator()
	require.NoError(t, orch.RegisterType("summarize", subagent.TaskRunnerFunc(
		func(_ context.Context, task subagent.Task, _ map[string]any) (any, error) {
			return "summary of " + task.Payload["doc"].(string), nil
		})))

	orch.StartListening()
	eng.Bus().Publish(&subagent.SpawnEvent{
		AgentType:  "summarize",
		Payload:    map[string]any{"doc": "spec"},
		SessionID:  "s1",
		Timestamp_: time.Now(),
	})

	require.Eventually(t, func() bool {
		return len(orch.GetSessionResults("s1")) == 1
	}, time.Second, 10*time.Millisecond)
	res := orch.GetSessionResults("s1")[0]
	assert.True(t, res.Success)
	assert.Equal(t, "summary of spec", res.Output)

	n, err := testutil.GatherAndCount(reg, "engine_subagent_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEngine_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	eng, err := New(cfg, newCountingNode())
	require.NoError(t, err)
	defer eng.Close(context.Background())

	assert.Nil(t, eng.Metrics())
	g, err := eng.ParseGraph([]byte(squaresGraph), nil)
	require.NoError(t, err)
	_, err = eng.Run(context.Background(), g, map[string]any{"items": []any{1}})
	assert.NoError(t, err)
}
