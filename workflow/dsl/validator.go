package dsl

import (
	"fmt"
	"strings"

	"github.com/BaSui01/flowcore/workflow"
	"github.com/BaSui01/flowcore/workflow/expr"
)

// Validator DSL 验证器
type Validator struct {
	evaluator   *expr.Evaluator
	defaultMode expr.Mode
}

// NewValidator 创建验证器。defaultMode 用于未声明 mode 的表达式，ModeDefault 视为 basic
func NewValidator(ev *expr.Evaluator, defaultMode expr.Mode) *Validator {
	if ev == nil {
		ev = expr.New()
	}
	if defaultMode == expr.ModeDefault {
		defaultMode = expr.ModeBasic
	}
	return &Validator{evaluator: ev, defaultMode: defaultMode}
}

// Validate 验证图定义，返回全部问题
func (v *Validator) Validate(dsl *GraphDSL) []error {
	var errs []error

	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	}
	if dsl.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(dsl.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("nodes must have at least one node"))
	}

	// 调度节点与任务节点共享 ID 空间
	nodeIDs := make(map[string]bool, len(dsl.Nodes))
	callable := make(map[string]bool, len(dsl.Nodes)+len(dsl.Tasks))
	for _, node := range dsl.Nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("node ID is required"))
			continue
		}
		if callable[node.ID] {
			errs = append(errs, fmt.Errorf("duplicate node ID: %s", node.ID))
		}
		nodeIDs[node.ID] = true
		callable[node.ID] = true
	}
	for _, id := range dsl.Tasks {
		if id == "" {
			errs = append(errs, fmt.Errorf("task ID is required"))
			continue
		}
		if callable[id] {
			errs = append(errs, fmt.Errorf("duplicate node ID: %s", id))
		}
		callable[id] = true
	}

	for i := range dsl.Nodes {
		errs = append(errs, v.validateNode(&dsl.Nodes[i], nodeIDs, callable)...)
	}
	return errs
}

// validateNode 验证单个节点
func (v *Validator) validateNode(node *NodeDef, nodeIDs, callable map[string]bool) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("node %s: "+format, append([]any{node.ID}, args...)...))
	}

	next := make(map[string]bool, len(node.Next))
	for _, id := range node.Next {
		if !nodeIDs[id] {
			fail("next node %q does not exist", id)
		}
		next[id] = true
	}
	for target, cond := range node.When {
		if !next[target] {
			fail("when target %q is not listed in next", target)
		}
		for _, ref := range extractVariableRefs(cond) {
			fail("variable %q is not defined", ref)
		}
		errs = append(errs, v.checkExpression(node.ID, "when."+target, cond, "")...)
	}
	for _, ref := range collectRefs(node.Config) {
		fail("variable %q is not defined", ref)
	}

	switch workflow.ExecutorKind(strings.ToLower(node.Type)) {
	case workflow.KindCondition:
		errs = append(errs, v.validateCondition(node, nodeIDs)...)
	case workflow.KindLoop:
		errs = append(errs, v.validateLoop(node, callable)...)
	case workflow.KindParallel:
		errs = append(errs, v.validateParallel(node, callable)...)
	}
	return errs
}

func (v *Validator) validateCondition(node *NodeDef, nodeIDs map[string]bool) []error {
	cfg, err := workflow.DecodeConditionConfig(node.Config)
	if err != nil {
		return []error{fmt.Errorf("node %s: %w", node.ID, err)}
	}

	var errs []error
	target := func(field, id string) {
		if id != "" && !nodeIDs[id] {
			errs = append(errs, fmt.Errorf("node %s: %s %q does not exist", node.ID, field, id))
		}
	}

	switch cfg.Type {
	case "", workflow.ConditionSimple:
		if strings.TrimSpace(cfg.Expression) == "" {
			errs = append(errs, fmt.Errorf("node %s: condition node requires expression", node.ID))
		}
		if cfg.TrueBranch == "" && cfg.FalseBranch == "" {
			errs = append(errs, fmt.Errorf("node %s: condition node requires true_branch or false_branch", node.ID))
		}
		errs = append(errs, v.checkExpression(node.ID, "expression", cfg.Expression, cfg.Mode)...)
		target("true_branch", cfg.TrueBranch)
		target("false_branch", cfg.FalseBranch)
	case workflow.ConditionMultiBranch:
		if len(cfg.Branches) == 0 {
			errs = append(errs, fmt.Errorf("node %s: multi_branch condition requires branches", node.ID))
		}
		for i, b := range cfg.Branches {
			if strings.TrimSpace(b.Condition) == "" {
				errs = append(errs, fmt.Errorf("node %s: branches[%d] requires condition", node.ID, i))
			}
			errs = append(errs, v.checkExpression(node.ID, fmt.Sprintf("branches[%d]", i), b.Condition, cfg.Mode)...)
			target(fmt.Sprintf("branches[%d].node", i), b.Node)
		}
		target("default_branch", cfg.DefaultBranch)
	default:
		errs = append(errs, fmt.Errorf("node %s: unknown condition type %q", node.ID, cfg.Type))
	}
	return errs
}

func (v *Validator) validateLoop(node *NodeDef, callable map[string]bool) []error {
	cfg, err := workflow.DecodeLoopConfig(node.Config)
	if err != nil {
		return []error{fmt.Errorf("node %s: %w", node.ID, err)}
	}

	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("node %s: "+format, append([]any{node.ID}, args...)...))
	}

	switch {
	case cfg.BodyNode == "":
		fail("loop node requires body_node")
	case cfg.BodyNode == node.ID:
		fail("loop body_node cannot be the loop itself")
	case !callable[cfg.BodyNode]:
		fail("body_node %q does not exist", cfg.BodyNode)
	}

	switch cfg.Type {
	case workflow.LoopForEach:
		if cfg.ArrayInput == "" {
			fail("for_each loop requires array_input")
		}
	case workflow.LoopRange:
		if cfg.Step != nil && *cfg.Step == 0 {
			fail("range step cannot be zero")
		}
	case workflow.LoopWhile:
		if strings.TrimSpace(cfg.Condition) == "" {
			fail("while loop requires condition")
		}
		errs = append(errs, v.checkExpression(node.ID, "condition", cfg.Condition, cfg.Mode)...)
	case "":
		fail("loop type is required")
	default:
		fail("unknown loop type %q", cfg.Type)
	}
	if cfg.MaxIterations < 0 {
		fail("max_iterations cannot be negative")
	}
	errs = append(errs, v.checkExpression(node.ID, "break_on", cfg.BreakOn, cfg.Mode)...)
	return errs
}

func (v *Validator) validateParallel(node *NodeDef, callable map[string]bool) []error {
	cfg, err := workflow.DecodeParallelConfig(node.Config)
	if err != nil {
		return []error{fmt.Errorf("node %s: %w", node.ID, err)}
	}

	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("node %s: "+format, append([]any{node.ID}, args...)...))
	}

	if len(cfg.Branches) == 0 {
		fail("parallel node requires at least one branch")
	}
	keys := make(map[string]bool, len(cfg.Branches))
	for i, b := range cfg.Branches {
		if b.Node == "" {
			fail("branches[%d] requires node", i)
			continue
		}
		if !callable[b.Node] {
			fail("branches[%d] node %q does not exist", i, b.Node)
		}
		key := b.OutputKey
		if key == "" {
			key = b.Node
		}
		if keys[key] {
			fail("duplicate branch output key %q", key)
		}
		keys[key] = true
	}
	switch cfg.WaitFor {
	case "", workflow.WaitForAll, workflow.WaitForFirst:
	default:
		fail("unknown wait_for %q", cfg.WaitFor)
	}
	if cfg.Timeout < 0 {
		fail("timeout cannot be negative")
	}
	return errs
}

// checkExpression compiles src and checks that builtin calls are allowed by mode.
func (v *Validator) checkExpression(nodeID, field, src, mode string) []error {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	p, err := v.evaluator.Compile(src)
	if err != nil {
		return []error{fmt.Errorf("node %s: %s: %w", nodeID, field, err)}
	}
	m := expr.ParseMode(mode)
	if m == expr.ModeDefault {
		m = v.defaultMode
	}
	if p.UsesCalls() && m != expr.ModeAdvanced {
		return []error{fmt.Errorf("node %s: %s: function calls require advanced mode", nodeID, field)}
	}
	return nil
}

// collectRefs returns the ${var} references left in string values of a config.
func collectRefs(v any) []string {
	var refs []string
	switch x := v.(type) {
	case string:
		refs = append(refs, extractVariableRefs(x)...)
	case map[string]any:
		for _, k := range sortedKeys(x) {
			refs = append(refs, collectRefs(x[k])...)
		}
	case []any:
		for _, item := range x {
			refs = append(refs, collectRefs(item)...)
		}
	}
	return refs
}

// extractVariableRefs 提取 ${var} 引用
func extractVariableRefs(s string) []string {
	var refs []string
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			break
		}
		refs = append(refs, s[start+2:start+end])
		s = s[start+end+1:]
	}
	return refs
}
