package workflow

import (
	"context"
	"sort"
)

// NodeExecutor is the single capability the engine needs from its host:
// invoke a named node with an input map and receive an output map.
type NodeExecutor interface {
	Execute(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error)
}

// NodeFunc adapts a function to NodeExecutor.
type NodeFunc func(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error)

// Execute calls f.
func (f NodeFunc) Execute(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error) {
	return f(ctx, nodeID, inputs)
}

// Executor runs one control-flow node kind against its raw configuration.
type Executor interface {
	Execute(ctx context.Context, config map[string]any, inputs map[string]any) (map[string]any, error)
}

// ExecutorKind names a control-flow node kind.
type ExecutorKind string

const (
	// KindCondition selects a branch from expressions
	KindCondition ExecutorKind = "condition"
	// KindLoop runs a body node repeatedly
	KindLoop ExecutorKind = "loop"
	// KindParallel fans out to several nodes
	KindParallel ExecutorKind = "parallel"
)

// copyInputs returns a shallow copy of in with room for extra keys.
func copyInputs(in map[string]any, extra int) map[string]any {
	out := make(map[string]any, len(in)+extra)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
