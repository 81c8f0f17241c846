package workflow

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/BaSui01/flowcore/internal/metrics"
	"github.com/BaSui01/flowcore/types"
	"github.com/BaSui01/flowcore/workflow/expr"
	"go.uber.org/zap"
)

// Loop types
const (
	LoopForEach = "for_each"
	LoopRange   = "range"
	LoopWhile   = "while"
)

// ExitReason explains why a loop stopped.
type ExitReason string

const (
	ExitCompleted      ExitReason = "completed"
	ExitBreak          ExitReason = "break"
	ExitConditionFalse ExitReason = "condition_false"
	ExitConditionError ExitReason = "condition_error"
	ExitMaxIterations  ExitReason = "max_iterations"
)

// LoopState is the per-execution bookkeeping of a loop.
type LoopState struct {
	Iterations []any
	ExitReason ExitReason
}

func (s *LoopState) record(result map[string]any) {
	s.Iterations = append(s.Iterations, result)
}

// IterationCount returns the number of completed body invocations.
func (s *LoopState) IterationCount() int { return len(s.Iterations) }

func (s *LoopState) summary() map[string]any {
	var final any
	if n := len(s.Iterations); n > 0 {
		final = s.Iterations[n-1]
	}
	return map[string]any{
		"iterations":      s.Iterations,
		"iteration_count": s.IterationCount(),
		"exit_reason":     string(s.ExitReason),
		"final_result":    final,
	}
}

// LoopExecutor 循环节点执行器
// 支持 for_each / range / while，while 循环支持指数退避重试
type LoopExecutor struct {
	node          NodeExecutor
	evaluator     *expr.Evaluator
	maxIterations int
	logger        *zap.Logger
	metrics       *metrics.Collector
}

// NewLoopExecutor 创建循环执行器，循环体通过 node 调用
func NewLoopExecutor(node NodeExecutor, opts ...Option) *LoopExecutor {
	o := newOptions(opts)
	return &LoopExecutor{
		node:          node,
		evaluator:     o.evaluator,
		maxIterations: o.maxIterations,
		logger:        o.logger.With(zap.String("component", "loop_executor")),
		metrics:       o.metrics,
	}
}

// Execute runs the loop and returns {iterations, iteration_count, exit_reason, final_result}.
// Body errors propagate; condition errors end a while loop with exit_reason condition_error.
func (e *LoopExecutor) Execute(ctx context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	var cfg LoopConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if cfg.BodyNode == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "loop requires body_node")
	}
	if cfg.ItemVariable == "" {
		cfg.ItemVariable = "item"
	}
	if cfg.IndexVariable == "" {
		cfg.IndexVariable = "index"
	}

	state := &LoopState{Iterations: []any{}}
	var (
		extra map[string]any
		err   error
	)
	switch cfg.Type {
	case LoopForEach:
		err = e.forEach(ctx, cfg, inputs, state)
	case LoopRange:
		err = e.rangeLoop(ctx, cfg, inputs, state)
	case LoopWhile:
		extra, err = e.while(ctx, cfg, inputs, state)
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown loop type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	e.metrics.RecordLoopExit(cfg.Type, string(state.ExitReason), state.IterationCount())
	e.logger.Debug("loop completed",
		zap.String("loop_type", cfg.Type),
		zap.Int("iterations", state.IterationCount()),
		zap.String("exit_reason", string(state.ExitReason)),
	)

	out := state.summary()
	for k, v := range extra {
		out[k] = v
	}
	return out, nil
}

func (e *LoopExecutor) forEach(ctx context.Context, cfg LoopConfig, inputs map[string]any, state *LoopState) error {
	items, err := toList(inputs[cfg.ArrayInput])
	if err != nil {
		return types.Errorf(types.ErrInvalidConfig, "array_input %q: %v", cfg.ArrayInput, err)
	}

	for i, item := range items {
		in := copyInputs(inputs, 2)
		in[cfg.ItemVariable] = item
		in[cfg.IndexVariable] = i

		result, err := e.runBody(ctx, cfg.BodyNode, i, in)
		if err != nil {
			return err
		}
		state.record(result)
		if cfg.BreakOn != "" && expr.Truthy(result[cfg.BreakOn]) {
			state.ExitReason = ExitBreak
			return nil
		}
	}
	state.ExitReason = ExitCompleted
	return nil
}

func (e *LoopExecutor) rangeLoop(ctx context.Context, cfg LoopConfig, inputs map[string]any, state *LoopState) error {
	step := 1
	if cfg.Step != nil {
		step = *cfg.Step
	}
	if step == 0 {
		return types.NewError(types.ErrInvalidConfig, "range step must not be zero")
	}

	iteration := 0
	for i := cfg.Start; (step > 0 && i < cfg.End) || (step < 0 && i > cfg.End); i += step {
		in := copyInputs(inputs, 1)
		in[cfg.IndexVariable] = i

		result, err := e.runBody(ctx, cfg.BodyNode, iteration, in)
		if err != nil {
			return err
		}
		state.record(result)
		iteration++
	}
	state.ExitReason = ExitCompleted
	return nil
}

func (e *LoopExecutor) while(ctx context.Context, cfg LoopConfig, inputs map[string]any, state *LoopState) (map[string]any, error) {
	if cfg.Condition == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "while loop requires condition")
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = e.maxIterations
	}
	flag := cfg.Retry.Flag
	if flag == "" {
		flag = "retry"
	}

	running := copyInputs(inputs, 0)
	for iteration := 0; ; iteration++ {
		if iteration >= maxIterations {
			state.ExitReason = ExitMaxIterations
			break
		}

		ok, err := e.evaluator.Evaluate(cfg.Condition, expr.Scope{
			Context:  running,
			Workflow: WorkflowVars(ctx),
			Global:   GlobalVars(ctx),
			Mode:     expr.ParseMode(cfg.Mode),
		})
		if err != nil {
			if types.IsSecurityViolation(err) {
				return nil, err
			}
			e.logger.Warn("while condition failed, stopping loop",
				zap.String("condition", cfg.Condition),
				zap.Int("iteration", iteration),
				zap.Error(err),
			)
			state.ExitReason = ExitConditionError
			break
		}
		if !ok {
			state.ExitReason = ExitConditionFalse
			break
		}

		in := copyInputs(running, 1)
		in[cfg.IndexVariable] = iteration
		result, err := e.runBody(ctx, cfg.BodyNode, iteration, in)
		if err != nil {
			return nil, err
		}
		state.record(result)
		for k, v := range result {
			running[k] = v
		}

		if cfg.Retry.Enabled && expr.Truthy(result[flag]) {
			delay := retryDelay(cfg.Retry, iteration+1)
			e.logger.Debug("retry requested, backing off",
				zap.Int("iteration", iteration+1),
				zap.Duration("delay", delay),
			)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, types.NewError(types.ErrCancelled, "loop cancelled during retry delay").WithCause(err)
			}
		}
	}
	return map[string]any{"state": running}, nil
}

func (e *LoopExecutor) runBody(ctx context.Context, nodeID string, iteration int, in map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrCancelled, "loop cancelled").WithCause(err)
	}
	result, err := e.node.Execute(ctx, nodeID, in)
	if err != nil {
		return nil, fmt.Errorf("loop body %s iteration %d: %w", nodeID, iteration, err)
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// retryDelay returns the backoff before the next condition check. iteration is 1-based.
func retryDelay(cfg RetryConfig, iteration int) time.Duration {
	if !cfg.Exponential {
		return cfg.BaseDelay
	}
	delay := cfg.BaseDelay
	for i := 1; i < iteration; i++ {
		delay *= 2
		if cfg.MaxDelay > 0 && delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toList converts a slice or array of any element type to []any. nil yields an empty list.
func toList(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return x, nil
	case string:
		return nil, fmt.Errorf("expected a list, got string")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
