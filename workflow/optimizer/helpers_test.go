package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/flowcore/workflow"
)

// chain builds a graph from "a->b" style edge specs; nodes are declared in first-seen order.
func chain(edges ...string) *workflow.Graph {
	g := &workflow.Graph{Name: "test"}
	seen := map[string]bool{}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			g.Nodes = append(g.Nodes, workflow.GraphNode{ID: id})
		}
	}
	for _, spec := range edges {
		var src, dst string
		for i := 0; i+1 < len(spec); i++ {
			if spec[i] == '-' && spec[i+1] == '>' {
				src, dst = spec[:i], spec[i+2:]
				break
			}
		}
		if src == "" {
			add(spec)
			continue
		}
		add(src)
		add(dst)
		g.Edges = append(g.Edges, workflow.Edge{Source: src, Target: dst})
	}
	return g
}

type stubNode struct {
	mu      sync.Mutex
	calls   map[string]int
	inputs  map[string]map[string]any
	handler func(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error)
}

func newStubNode(handler func(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error)) *stubNode {
	return &stubNode{calls: map[string]int{}, inputs: map[string]map[string]any{}, handler: handler}
}

func (n *stubNode) Execute(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error) {
	n.mu.Lock()
	n.calls[nodeID]++
	n.inputs[nodeID] = inputs
	n.mu.Unlock()
	if n.handler == nil {
		return map[string]any{"node": nodeID}, nil
	}
	return n.handler(ctx, nodeID, inputs)
}

func (n *stubNode) count(nodeID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[nodeID]
}

func (n *stubNode) lastInputs(nodeID string) map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inputs[nodeID]
}

func sleepy(d time.Duration) func(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error) {
	return func(ctx context.Context, nodeID string, _ map[string]any) (map[string]any, error) {
		select {
		case <-time.After(d):
			return map[string]any{"node": nodeID}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
