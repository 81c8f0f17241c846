package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/flowcore/internal/metrics"
	"go.uber.org/zap"
)

// Dispatcher routes node invocations: nodes declared as condition, loop or
// parallel run through the ExecutorFactory with their config, everything else
// goes to the base capability. Nested bodies re-enter the Dispatcher, so a
// loop body may itself be a parallel node.
type Dispatcher struct {
	nodes   map[string]GraphNode
	base    NodeExecutor
	factory *ExecutorFactory
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewDispatcher creates a Dispatcher for the nodes of graph.
func NewDispatcher(graph *Graph, base NodeExecutor, opts ...Option) *Dispatcher {
	o := newOptions(opts)
	d := &Dispatcher{
		nodes:   make(map[string]GraphNode),
		base:    base,
		logger:  o.logger.With(zap.String("component", "dispatcher")),
		metrics: o.metrics,
	}
	if graph != nil {
		for _, n := range graph.Nodes {
			d.nodes[n.ID] = n
		}
	}
	d.factory = NewExecutorFactory(d, append(append([]Option{}, opts...), WithEvaluator(o.evaluator))...)
	return d
}

// Execute implements NodeExecutor.
func (d *Dispatcher) Execute(ctx context.Context, nodeID string, inputs map[string]any) (map[string]any, error) {
	node, declared := d.nodes[nodeID]
	kind := node.Kind()
	if kind == "" {
		kind = "node"
	}

	start := time.Now()
	var (
		out map[string]any
		err error
	)
	if declared && d.factory.Supports(kind) {
		var exec Executor
		exec, err = d.factory.Create(kind)
		if err == nil {
			out, err = exec.Execute(ctx, node.Config, inputs)
		}
	} else {
		out, err = d.base.Execute(ctx, nodeID, inputs)
	}
	duration := time.Since(start)

	if err != nil {
		d.metrics.RecordNodeExecution(string(kind), "error", duration)
		d.logger.Debug("node failed",
			zap.String("node_id", nodeID),
			zap.String("kind", string(kind)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, fmt.Errorf("node %s: %w", nodeID, err)
	}
	d.metrics.RecordNodeExecution(string(kind), "success", duration)
	return out, nil
}

// Factory returns the executor factory used for control-flow nodes.
func (d *Dispatcher) Factory() *ExecutorFactory { return d.factory }
