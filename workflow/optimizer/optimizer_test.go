package optimizer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/types"
	"github.com/BaSui01/flowcore/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

func TestIdentifyParallelGroups(t *testing.T) {
	tests := []struct {
		name  string
		graph *workflow.Graph
		want  [][]string
	}{
		{"empty", &workflow.Graph{}, nil},
		{"single", chain("a"), [][]string{{"a"}}},
		{"linear", chain("a->b", "b->c"), [][]string{{"a"}, {"b"}, {"c"}}},
		{"independent", chain("a", "b", "c"), [][]string{{"a", "b", "c"}}},
		{"diamond", chain("A->B", "A->C", "B->D", "C->D"), [][]string{{"A"}, {"B", "C"}, {"D"}}},
		{"fan in", chain("fetch_a->merge", "fetch_b->merge"), [][]string{{"fetch_a", "fetch_b"}, {"merge"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IdentifyParallelGroups(tt.graph))
		})
	}
}

func TestIdentifyParallelGroups_CycleIsBroken(t *testing.T) {
	g := chain("start->a", "a->b", "b->a", "b->end")
	groups := IdentifyParallelGroups(g)

	var flat []string
	for _, grp := range groups {
		flat = append(flat, grp...)
	}
	assert.ElementsMatch(t, []string{"start", "a", "b", "end"}, flat)
	assert.Equal(t, []string{"start"}, groups[0])
	assert.Equal(t, []string{"end"}, groups[len(groups)-1])
}

func TestIdentifyParallelGroups_LayeringProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "nodes")
		g := &workflow.Graph{}
		ids := make([]string, n)
		for i := range ids {
			ids[i] = string(rune('a' + i))
			g.Nodes = append(g.Nodes, workflow.GraphNode{ID: ids[i]})
		}
		// edges only go forward, so the graph is acyclic
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rapid.Bool().Draw(rt, "edge") {
					g.Edges = append(g.Edges, workflow.Edge{Source: ids[i], Target: ids[j]})
				}
			}
		}

		layer := map[string]int{}
		count := 0
		for li, grp := range IdentifyParallelGroups(g) {
			for _, id := range grp {
				_, dup := layer[id]
				if dup {
					rt.Fatalf("node %s placed twice", id)
				}
				layer[id] = li
				count++
			}
		}
		if count != n {
			rt.Fatalf("placed %d of %d nodes", count, n)
		}
		for _, e := range g.Edges {
			if layer[e.Source] >= layer[e.Target] {
				rt.Fatalf("edge %s->%s not respected", e.Source, e.Target)
			}
		}
	})
}

func TestExecuteParallel_CollectsResults(t *testing.T) {
	o := NewParallelOptimizer(zaptest.NewLogger(t))
	out, err := o.ExecuteParallel(context.Background(), []string{"a", "b", "c"}, func(_ context.Context, id string) (map[string]any, error) {
		if id == "b" {
			return nil, errors.New("boom")
		}
		return map[string]any{"id": id}, nil
	}, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"id": "a"}, out["a"])
	assert.Equal(t, map[string]any{"error": "boom"}, out["b"])
	assert.Equal(t, map[string]any{"id": "c"}, out["c"])
}

func TestExecuteParallel_RespectsConcurrencyLimit(t *testing.T) {
	o := NewParallelOptimizer(nil)
	var inFlight, peak atomic.Int32

	ids := []string{"a", "b", "c", "d", "e", "f"}
	_, err := o.ExecuteParallel(context.Background(), ids, func(_ context.Context, id string) (map[string]any, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return map[string]any{}, nil
	}, ExecuteOptions{MaxConcurrency: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
}

func TestExecuteParallel_FailFast(t *testing.T) {
	o := NewParallelOptimizer(nil)
	var cancelled atomic.Bool

	_, err := o.ExecuteParallel(context.Background(), []string{"slow", "bad"}, func(ctx context.Context, id string) (map[string]any, error) {
		if id == "bad" {
			return nil, errors.New("broken")
		}
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return map[string]any{}, nil
		}
	}, ExecuteOptions{FailFast: true})

	require.Error(t, err)
	assert.Equal(t, types.ErrNodeFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "bad")
	assert.True(t, cancelled.Load())
}

func TestExecuteParallel_RecoversPanics(t *testing.T) {
	o := NewParallelOptimizer(nil)
	out, err := o.ExecuteParallel(context.Background(), []string{"p"}, func(context.Context, string) (map[string]any, error) {
		panic("kaboom")
	}, ExecuteOptions{})
	require.NoError(t, err)
	assert.Contains(t, out["p"].(map[string]any)["error"], "panicked")
}

func TestExecuteParallel_LaunchRate(t *testing.T) {
	o := NewParallelOptimizer(nil)
	start := time.Now()
	_, err := o.ExecuteParallel(context.Background(), []string{"a", "b", "c"}, func(context.Context, string) (map[string]any, error) {
		return map[string]any{}, nil
	}, ExecuteOptions{LaunchRate: 20, LaunchBurst: 1})
	require.NoError(t, err)
	// burst 1 at 20/s: the 2nd and 3rd launches wait ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestExecuteParallel_CancelledContext(t *testing.T) {
	o := NewParallelOptimizer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.ExecuteParallel(ctx, []string{"a", "b"}, func(context.Context, string) (map[string]any, error) {
		return map[string]any{}, nil
	}, ExecuteOptions{MaxConcurrency: 1, LaunchRate: 1})
	require.Error(t, err)
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))
}

func TestExecuteOptionsFrom(t *testing.T) {
	opts := ExecuteOptionsFrom(config.EngineConfig{MaxConcurrency: 3, FailFast: true, LaunchRate: 5, LaunchBurst: 2})
	assert.Equal(t, ExecuteOptions{MaxConcurrency: 3, FailFast: true, LaunchRate: 5, LaunchBurst: 2}, opts)
}
