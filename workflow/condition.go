package workflow

import (
	"context"
	"fmt"

	"github.com/BaSui01/flowcore/internal/metrics"
	"github.com/BaSui01/flowcore/types"
	"github.com/BaSui01/flowcore/workflow/expr"
	"go.uber.org/zap"
)

// Condition types
const (
	ConditionSimple      = "simple"
	ConditionMultiBranch = "multi_branch"
)

// ConditionExecutor 条件节点执行器
// 根据表达式选择分支，求值失败视为不匹配，安全违规始终向上传播
type ConditionExecutor struct {
	evaluator *expr.Evaluator
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewConditionExecutor 创建条件执行器
func NewConditionExecutor(opts ...Option) *ConditionExecutor {
	o := newOptions(opts)
	return &ConditionExecutor{
		evaluator: o.evaluator,
		logger:    o.logger.With(zap.String("component", "condition_executor")),
		metrics:   o.metrics,
	}
}

// Execute returns {branch, next_node, condition_result} and, for a matched
// multi_branch entry, matched_condition.
func (e *ConditionExecutor) Execute(ctx context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	var cfg ConditionConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	scope := expr.Scope{
		Context:  inputs,
		Workflow: WorkflowVars(ctx),
		Global:   GlobalVars(ctx),
		Mode:     expr.ParseMode(cfg.Mode),
	}

	switch cfg.Type {
	case "", ConditionSimple:
		return e.executeSimple(cfg, scope)
	case ConditionMultiBranch:
		return e.executeMultiBranch(cfg, scope)
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown condition type %q", cfg.Type)
	}
}

func (e *ConditionExecutor) executeSimple(cfg ConditionConfig, scope expr.Scope) (map[string]any, error) {
	result, err := e.evaluator.Evaluate(cfg.Expression, scope)
	if err != nil {
		if types.IsSecurityViolation(err) {
			return nil, err
		}
		e.logger.Warn("condition evaluation failed, taking false branch",
			zap.String("expression", cfg.Expression),
			zap.Error(err),
		)
		result = false
	}

	branch, next := "false", cfg.FalseBranch
	if result {
		branch, next = "true", cfg.TrueBranch
	}
	e.metrics.RecordCondition(ConditionSimple, branch)

	return map[string]any{
		"branch":           branch,
		"next_node":        next,
		"condition_result": result,
	}, nil
}

func (e *ConditionExecutor) executeMultiBranch(cfg ConditionConfig, scope expr.Scope) (map[string]any, error) {
	for i, b := range cfg.Branches {
		matched, err := e.evaluator.Evaluate(b.Condition, scope)
		if err != nil {
			if types.IsSecurityViolation(err) {
				return nil, err
			}
			e.logger.Warn("branch condition failed, skipping",
				zap.Int("branch", i),
				zap.String("condition", b.Condition),
				zap.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}

		branch := fmt.Sprintf("branch_%d", i)
		e.metrics.RecordCondition(ConditionMultiBranch, "matched")
		e.logger.Debug("branch matched", zap.String("branch", branch), zap.String("next_node", b.Node))
		return map[string]any{
			"branch":            branch,
			"next_node":         b.Node,
			"condition_result":  true,
			"matched_condition": b.Condition,
		}, nil
	}

	e.metrics.RecordCondition(ConditionMultiBranch, "default")
	return map[string]any{
		"branch":           "default",
		"next_node":        cfg.DefaultBranch,
		"condition_result": false,
	}, nil
}
