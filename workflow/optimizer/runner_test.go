package optimizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/internal/ctxkeys"
	"github.com/BaSui01/flowcore/types"
	"github.com/BaSui01/flowcore/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestPlanRunner_FanInRunsStageConcurrently(t *testing.T) {
	node := newStubNode(sleepy(50 * time.Millisecond))
	r := NewPlanRunner(node, RunnerConfig{Logger: zaptest.NewLogger(t)})

	g := chain("fetch_a->merge", "fetch_b->merge")
	res, err := r.Run(context.Background(), g, map[string]any{"query": "q"})
	require.NoError(t, err)

	require.Len(t, res.Stages, 2)
	assert.True(t, res.Stages[0].Parallel)
	assert.Equal(t, []string{"fetch_a", "fetch_b"}, res.Stages[0].Ran)
	// two stages of 50ms; running fetch_a and fetch_b one after another would take 150ms
	assert.Less(t, res.Duration, 140*time.Millisecond)

	in := node.lastInputs("merge")
	assert.Equal(t, "q", in["query"])
	assert.Equal(t, map[string]any{"node": "fetch_a"}, in["fetch_a"])
	assert.Equal(t, map[string]any{"node": "fetch_b"}, in["fetch_b"])

	assert.Len(t, res.Outputs, 3)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "0 of 3 nodes failed", res.Summary)
	assert.NotEmpty(t, res.RunID)
}

func TestPlanRunner_KeepsRunIDFromContext(t *testing.T) {
	var seen string
	node := newStubNode(func(ctx context.Context, nodeID string, _ map[string]any) (map[string]any, error) {
		seen, _ = ctxkeys.RunID(ctx)
		return map[string]any{}, nil
	})
	r := NewPlanRunner(node, RunnerConfig{})

	res, err := r.Run(ctxkeys.WithRunID(context.Background(), "run-42"), chain("only"), nil)
	require.NoError(t, err)
	assert.Equal(t, "run-42", res.RunID)
	assert.Equal(t, "run-42", seen)
}

func TestPlanRunner_PropagatesTraceID(t *testing.T) {
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	var seen string
	node := newStubNode(func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
		seen, _ = ctxkeys.TraceID(ctx)
		return map[string]any{}, nil
	})
	r := NewPlanRunner(node, RunnerConfig{Logger: zaptest.NewLogger(t)})

	res, err := r.Run(context.Background(), chain("only"), nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.TraceID)
	assert.Equal(t, res.TraceID, seen)

	var runSpan sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "flowcore.run" {
			runSpan = s
		}
	}
	require.NotNil(t, runSpan)
	assert.Equal(t, runSpan.SpanContext().TraceID().String(), res.TraceID)
}

func TestPlanRunner_NoopTracerLeavesTraceIDEmpty(t *testing.T) {
	r := NewPlanRunner(newStubNode(nil), RunnerConfig{})
	res, err := r.Run(context.Background(), chain("only"), nil)
	require.NoError(t, err)
	assert.Empty(t, res.TraceID)
}

func TestPlanRunner_ConditionNodeRoutes(t *testing.T) {
	g := &workflow.Graph{
		Nodes: []workflow.GraphNode{
			{ID: "check", Type: "condition", Config: map[string]any{
				"expression":   "x > 1",
				"true_branch":  "big",
				"false_branch": "small",
			}},
			{ID: "big"},
			{ID: "small"},
			{ID: "after_small"},
		},
		Edges: []workflow.Edge{
			{Source: "check", Target: "big"},
			{Source: "check", Target: "small"},
			{Source: "small", Target: "after_small"},
		},
	}
	node := newStubNode(nil)
	r := NewPlanRunner(node, RunnerConfig{Logger: zaptest.NewLogger(t)})

	res, err := r.Run(context.Background(), g, map[string]any{"x": 5})
	require.NoError(t, err)

	assert.Equal(t, 1, node.count("big"))
	assert.Equal(t, 0, node.count("small"))
	assert.Equal(t, 0, node.count("after_small"))
	assert.Equal(t, []string{"small", "after_small"}, res.Skipped)
	assert.Equal(t, "big", res.Outputs["check"]["next_node"])
}

func TestPlanRunner_EdgeConditions(t *testing.T) {
	g := &workflow.Graph{
		Nodes: []workflow.GraphNode{{ID: "score"}, {ID: "accept"}, {ID: "reject"}, {ID: "notify"}},
		Edges: []workflow.Edge{
			{Source: "score", Target: "accept", Condition: "score >= threshold"},
			{Source: "score", Target: "reject", Condition: "score < threshold"},
			{Source: "accept", Target: "notify"},
			{Source: "reject", Target: "notify"},
		},
		Variables: map[string]any{"threshold": 0.5},
	}
	node := newStubNode(func(_ context.Context, nodeID string, _ map[string]any) (map[string]any, error) {
		if nodeID == "score" {
			return map[string]any{"score": 0.8}, nil
		}
		return map[string]any{"node": nodeID}, nil
	})
	r := NewPlanRunner(node, RunnerConfig{})

	res, err := r.Run(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, node.count("accept"))
	assert.Equal(t, 0, node.count("reject"))
	// notify still runs through the accept edge
	assert.Equal(t, 1, node.count("notify"))
	assert.Equal(t, []string{"reject"}, res.Skipped)
}

func TestPlanRunner_EdgeEvaluationErrorSkipsEdge(t *testing.T) {
	g := &workflow.Graph{
		Nodes: []workflow.GraphNode{{ID: "a"}, {ID: "b"}},
		Edges: []workflow.Edge{{Source: "a", Target: "b", Condition: "undefined_var > 1"}},
	}
	node := newStubNode(nil)
	res, err := NewPlanRunner(node, RunnerConfig{}).Run(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.Skipped)
}

func TestPlanRunner_EdgeSecurityViolationAborts(t *testing.T) {
	g := &workflow.Graph{
		Nodes: []workflow.GraphNode{{ID: "a"}, {ID: "b"}},
		Edges: []workflow.Edge{{Source: "a", Target: "b", Condition: "__import__('os')"}},
	}
	node := newStubNode(nil)
	_, err := NewPlanRunner(node, RunnerConfig{}).Run(context.Background(), g, nil)
	require.Error(t, err)
	assert.True(t, types.IsSecurityViolation(err))
	assert.Equal(t, 0, node.count("b"))
}

func TestPlanRunner_FailedNodeSkipsDownstream(t *testing.T) {
	node := newStubNode(func(_ context.Context, nodeID string, _ map[string]any) (map[string]any, error) {
		if nodeID == "a" {
			return nil, errors.New("upstream unavailable")
		}
		return map[string]any{}, nil
	})
	g := chain("a->b", "c")
	res, err := NewPlanRunner(node, RunnerConfig{}).Run(context.Background(), g, nil)
	require.NoError(t, err)

	assert.Contains(t, res.Failed["a"], "upstream unavailable")
	assert.Equal(t, []string{"b"}, res.Skipped)
	assert.Equal(t, "1 of 2 nodes failed", res.Summary)
}

func TestPlanRunner_FailFastAborts(t *testing.T) {
	node := newStubNode(func(_ context.Context, nodeID string, _ map[string]any) (map[string]any, error) {
		return nil, errors.New("nope")
	})
	r := NewPlanRunner(node, RunnerConfig{Execute: ExecuteOptions{FailFast: true}})
	_, err := r.Run(context.Background(), chain("a->b"), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrNodeFailed, types.GetErrorCode(err))
	assert.Equal(t, 0, node.count("b"))
}

func TestPlanRunner_CacheableNodes(t *testing.T) {
	g := &workflow.Graph{
		Nodes: []workflow.GraphNode{
			{ID: "embed", Config: map[string]any{"cacheable": true}},
			{ID: "plain"},
		},
	}
	node := newStubNode(nil)
	c := NewContextCache(config.CacheConfig{MaxSize: 10, DefaultTTL: time.Minute})
	r := NewPlanRunner(node, RunnerConfig{Cache: c})

	for range 3 {
		_, err := r.Run(context.Background(), g, map[string]any{"text": "hello"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, node.count("embed"))
	assert.Equal(t, 3, node.count("plain"))
	assert.Equal(t, int64(2), c.Stats().Hits)

	// different inputs hash to a different key
	_, err := r.Run(context.Background(), g, map[string]any{"text": "bye"})
	require.NoError(t, err)
	assert.Equal(t, 2, node.count("embed"))
}

func TestPlanRunner_InvalidGraph(t *testing.T) {
	g := &workflow.Graph{Nodes: []workflow.GraphNode{{ID: "a"}, {ID: "a"}}}
	_, err := NewPlanRunner(newStubNode(nil), RunnerConfig{}).Run(context.Background(), g, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidGraph, types.GetErrorCode(err))
}

func TestCacheKey(t *testing.T) {
	k1, err := cacheKey("n", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	k2, err := cacheKey("n", map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "node:n:")

	_, err = cacheKey("n", map[string]any{"f": func() {}})
	assert.Error(t, err)
}
