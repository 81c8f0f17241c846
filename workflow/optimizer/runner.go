package optimizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/internal/ctxkeys"
	"github.com/BaSui01/flowcore/internal/metrics"
	"github.com/BaSui01/flowcore/internal/pool"
	"github.com/BaSui01/flowcore/internal/telemetry"
	"github.com/BaSui01/flowcore/types"
	"github.com/BaSui01/flowcore/workflow"
	"github.com/BaSui01/flowcore/workflow/expr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RunnerConfig wires the collaborators of a PlanRunner. Nil fields get defaults.
type RunnerConfig struct {
	Planner    *Planner
	Optimizer  *ParallelOptimizer
	Cache      *ContextCache
	Aggregator *ResultAggregator
	Evaluator  *expr.Evaluator
	Execute    ExecuteOptions
	// WorkflowOptions configure the control-flow executors used for condition, loop and parallel nodes
	WorkflowOptions []workflow.Option
	Logger          *zap.Logger
	Metrics         *metrics.Collector
}

// StageReport records how one stage ran.
type StageReport struct {
	Nodes    []string      `json:"nodes"`
	Parallel bool          `json:"parallel"`
	Ran      []string      `json:"ran"`
	Duration time.Duration `json:"duration"`
}

// RunResult is the outcome of PlanRunner.Run.
type RunResult struct {
	RunID    string                    `json:"run_id"`
	TraceID  string                    `json:"trace_id,omitempty"`
	Plan     *ExecutionPlan            `json:"plan"`
	Outputs  map[string]map[string]any `json:"outputs"`
	Failed   map[string]string         `json:"failed,omitempty"`
	Skipped  []string                  `json:"skipped,omitempty"`
	Stages   []StageReport             `json:"stages"`
	Summary  string                    `json:"summary"`
	Duration time.Duration             `json:"duration"`
}

// PlanRunner 计划执行器
// 规划图后逐阶段执行，阶段内节点并发运行；条件边和条件节点决定下游是否执行
type PlanRunner struct {
	node       workflow.NodeExecutor
	planner    *Planner
	optimizer  *ParallelOptimizer
	cache      *ContextCache
	aggregator *ResultAggregator
	evaluator  *expr.Evaluator
	execOpts   ExecuteOptions
	wfOpts     []workflow.Option
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// NewPlanRunner 创建计划执行器，node 为宿主提供的节点调用能力
func NewPlanRunner(node workflow.NodeExecutor, cfg RunnerConfig) *PlanRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &PlanRunner{
		node:       node,
		planner:    cfg.Planner,
		optimizer:  cfg.Optimizer,
		cache:      cfg.Cache,
		aggregator: cfg.Aggregator,
		evaluator:  cfg.Evaluator,
		execOpts:   cfg.Execute,
		logger:     logger.With(zap.String("component", "plan_runner")),
		metrics:    cfg.Metrics,
	}
	if r.planner == nil {
		r.planner = NewPlanner(config.DefaultPlannerConfig(), logger)
	}
	if r.optimizer == nil {
		r.optimizer = NewParallelOptimizer(logger)
	}
	if r.aggregator == nil {
		r.aggregator = NewResultAggregator(logger)
	}
	if r.evaluator == nil {
		r.evaluator = expr.New(expr.WithLogger(logger), expr.WithMetrics(cfg.Metrics))
	}
	r.wfOpts = append([]workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithMetrics(cfg.Metrics),
	}, cfg.WorkflowOptions...)
	r.wfOpts = append(r.wfOpts, workflow.WithEvaluator(r.evaluator))
	return r
}

// runState is the mutable bookkeeping of one run.
type runState struct {
	mu      sync.Mutex
	outputs map[string]map[string]any
	failed  map[string]string
	skipped map[string]bool
}

func (s *runState) output(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outputs[id]
	return out, ok
}

// Run plans g and executes it stage by stage.
func (r *PlanRunner) Run(ctx context.Context, g *workflow.Graph, inputs map[string]any) (result *RunResult, err error) {
	start := time.Now()
	plan, err := r.planner.CreatePlan(g)
	if err != nil {
		return nil, err
	}

	runID, ok := ctxkeys.RunID(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = ctxkeys.WithRunID(ctx, runID)
	}
	if workflow.WorkflowVars(ctx) == nil && g.Variables != nil {
		ctx = workflow.WithWorkflowVars(ctx, g.Variables)
	}

	ctx, span := telemetry.StartSpan(ctx, "flowcore.run",
		attribute.String("run_id", runID),
		attribute.Int("stages", len(plan.Stages)),
		attribute.Int("nodes", len(g.Nodes)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = ctxkeys.WithTraceID(ctx, sc.TraceID().String())
	}
	traceID, _ := ctxkeys.TraceID(ctx)

	logger := r.logger.With(zap.String("run_id", runID))
	if traceID != "" {
		logger = logger.With(zap.String("trace_id", traceID))
	}
	logger.Info("run started",
		zap.Int("stages", len(plan.Stages)),
		zap.Duration("estimate", plan.EstimatedDuration),
	)

	dispatcher := workflow.NewDispatcher(g, r.node, r.wfOpts...)
	state := &runState{
		outputs: make(map[string]map[string]any, len(g.Nodes)),
		failed:  make(map[string]string),
		skipped: make(map[string]bool),
	}
	result = &RunResult{RunID: runID, TraceID: traceID, Plan: plan}

	for i, stage := range plan.Stages {
		report, err := r.runStage(ctx, g, stage, i, inputs, dispatcher, state)
		if err != nil {
			logger.Error("run aborted", zap.Int("stage", i), zap.Error(err))
			return nil, err
		}
		result.Stages = append(result.Stages, report)
	}

	result.Outputs = state.outputs
	if len(state.failed) > 0 {
		result.Failed = state.failed
	}
	for _, id := range g.NodeIDs() {
		if state.skipped[id] {
			result.Skipped = append(result.Skipped, id)
		}
	}
	all := make(map[string]any, len(state.outputs)+len(state.failed))
	for id, out := range state.outputs {
		all[id] = out
	}
	for id, msg := range state.failed {
		all[id] = map[string]any{"error": msg}
	}
	result.Summary = r.aggregator.AggregateWithErrors(all).Summary
	result.Duration = time.Since(start)

	logger.Info("run completed",
		zap.Duration("duration", result.Duration),
		zap.Int("skipped", len(result.Skipped)),
		zap.String("summary", result.Summary),
	)
	return result, nil
}

func (r *PlanRunner) runStage(ctx context.Context, g *workflow.Graph, stage Stage, index int, inputs map[string]any, node workflow.NodeExecutor, state *runState) (StageReport, error) {
	stageStart := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "flowcore.stage",
		attribute.Int("stage", index),
		attribute.Bool("parallel", stage.Parallel),
	)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	var runnable []string
	for _, id := range stage.Nodes {
		var take bool
		take, err = r.shouldRun(ctx, g, id, inputs, state)
		if err != nil {
			return StageReport{}, err
		}
		if take {
			runnable = append(runnable, id)
		} else {
			state.mu.Lock()
			state.skipped[id] = true
			state.mu.Unlock()
			r.logger.Debug("node skipped", zap.String("node_id", id))
		}
	}

	invoke := func(ctx context.Context, id string) (map[string]any, error) {
		in := r.nodeInputs(g, id, inputs, state)
		out, err := r.invokeNode(ctx, g, node, id, in)
		if err != nil {
			state.mu.Lock()
			state.failed[id] = err.Error()
			state.mu.Unlock()
			return nil, err
		}
		if out == nil {
			out = map[string]any{}
		}
		state.mu.Lock()
		state.outputs[id] = out
		state.mu.Unlock()
		return out, nil
	}

	_, err = r.optimizer.ExecuteParallel(ctx, runnable, invoke, r.execOpts)
	duration := time.Since(stageStart)
	r.metrics.RecordStage(stage.Parallel, duration)
	if err != nil {
		return StageReport{}, err
	}
	return StageReport{Nodes: stage.Nodes, Parallel: stage.Parallel, Ran: runnable, Duration: duration}, nil
}

// shouldRun reports whether any incoming edge of id is taken. Nodes without
// incoming edges always run.
func (r *PlanRunner) shouldRun(ctx context.Context, g *workflow.Graph, id string, inputs map[string]any, state *runState) (bool, error) {
	incoming := g.Incoming(id)
	if len(incoming) == 0 {
		return true, nil
	}
	for _, e := range incoming {
		taken, err := r.edgeTaken(ctx, g, e, inputs, state)
		if err != nil {
			return false, err
		}
		if taken {
			return true, nil
		}
	}
	return false, nil
}

func (r *PlanRunner) edgeTaken(ctx context.Context, g *workflow.Graph, e workflow.Edge, inputs map[string]any, state *runState) (bool, error) {
	out, ok := state.output(e.Source)
	if !ok {
		return false, nil
	}
	if src, _ := g.Node(e.Source); src.Kind() == workflow.KindCondition {
		if next, _ := out["next_node"].(string); next != e.Target {
			return false, nil
		}
	}
	if e.Condition == "" {
		return true, nil
	}

	scope := make(map[string]any, len(inputs)+len(out))
	for k, v := range inputs {
		scope[k] = v
	}
	for k, v := range out {
		scope[k] = v
	}
	taken, err := r.evaluator.Evaluate(e.Condition, expr.Scope{
		Context:  scope,
		Workflow: workflow.WorkflowVars(ctx),
		Global:   workflow.GlobalVars(ctx),
	})
	if err != nil {
		if types.IsSecurityViolation(err) {
			return false, err
		}
		r.logger.Warn("edge condition failed, edge not taken",
			zap.String("source", e.Source),
			zap.String("target", e.Target),
			zap.Error(err),
		)
		return false, nil
	}
	return taken, nil
}

// nodeInputs merges the run inputs with each predecessor output under the predecessor id.
func (r *PlanRunner) nodeInputs(g *workflow.Graph, id string, inputs map[string]any, state *runState) map[string]any {
	in := make(map[string]any, len(inputs)+2)
	for k, v := range inputs {
		in[k] = v
	}
	for _, e := range g.Incoming(id) {
		if out, ok := state.output(e.Source); ok {
			in[e.Source] = out
		}
	}
	return in
}

func (r *PlanRunner) invokeNode(ctx context.Context, g *workflow.Graph, node workflow.NodeExecutor, id string, in map[string]any) (map[string]any, error) {
	n, _ := g.Node(id)
	cacheable, _ := n.Config["cacheable"].(bool)
	if !cacheable || r.cache == nil {
		return node.Execute(ctx, id, in)
	}

	key, err := cacheKey(id, in)
	if err != nil {
		r.logger.Debug("inputs not hashable, bypassing cache", zap.String("node_id", id), zap.Error(err))
		return node.Execute(ctx, id, in)
	}
	v, err := r.cache.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		return node.Execute(ctx, id, in)
	})
	if err != nil {
		return nil, err
	}
	out, _ := v.(map[string]any)
	return out, nil
}

// cacheKey is node id + sha256 of the JSON-encoded inputs (map keys are sorted by encoding/json).
func cacheKey(nodeID string, inputs map[string]any) (string, error) {
	buf := pool.BufferPool.Get()
	defer pool.BufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(inputs); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return "node:" + nodeID + ":" + hex.EncodeToString(sum[:]), nil
}
