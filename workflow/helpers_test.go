package workflow

import (
	"context"
	"sync"
	"time"
)

// recordingNode is a NodeExecutor stub that records every call and lets each
// test script per-node behaviour.
type recordingNode struct {
	mu      sync.Mutex
	calls   []nodeCall
	handler func(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error)
}

type nodeCall struct {
	nodeID string
	inputs map[string]any
}

func newRecordingNode(handler func(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error)) *recordingNode {
	return &recordingNode{handler: handler}
}

func (n *recordingNode) Execute(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error) {
	n.mu.Lock()
	n.calls = append(n.calls, nodeCall{nodeID: nodeID, inputs: inputs})
	n.mu.Unlock()
	if n.handler == nil {
		return map[string]any{"node": nodeID}, nil
	}
	return n.handler(ctx, nodeID, inputs)
}

func (n *recordingNode) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *recordingNode) callsTo(nodeID string) []nodeCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []nodeCall
	for _, c := range n.calls {
		if c.nodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// delayedNode returns output after delay unless ctx ends first.
func delayedNode(delay time.Duration, output map[string]any) func(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error) {
	return func(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error) {
		select {
		case <-time.After(delay):
			return output, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
