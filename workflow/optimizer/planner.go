package optimizer

import (
	"strings"
	"time"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/workflow"
	"go.uber.org/zap"
)

// defaultNodeType is used for nodes that declare no type.
const defaultNodeType = "task"

// Stage is one step of an ExecutionPlan. A parallel stage holds at least two
// mutually independent nodes.
type Stage struct {
	Nodes    []string `json:"nodes"`
	Parallel bool     `json:"parallel"`
}

// ExecutionPlan is an ordered list of stages in topological order.
type ExecutionPlan struct {
	Stages                 []Stage           `json:"stages"`
	NodeTypes              map[string]string `json:"node_types"`
	HasConditionalBranches bool              `json:"has_conditional_branches"`
	EstimatedDuration      time.Duration     `json:"estimated_duration"`
}

// ParallelStages counts the stages marked parallel.
func (p *ExecutionPlan) ParallelStages() int {
	n := 0
	for _, s := range p.Stages {
		if s.Parallel {
			n++
		}
	}
	return n
}

// Planner 执行计划器
// 将图转换为有序阶段，并根据节点类型估算耗时
type Planner struct {
	estimates map[string]time.Duration
	fallback  time.Duration
	logger    *zap.Logger
}

// NewPlanner 创建执行计划器
func NewPlanner(cfg config.PlannerConfig, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	estimates := make(map[string]time.Duration, len(cfg.NodeEstimates))
	for k, v := range cfg.NodeEstimates {
		estimates[strings.ToLower(k)] = v
	}
	fallback := cfg.DefaultEstimate
	if fallback <= 0 {
		fallback = time.Second
	}
	return &Planner{
		estimates: estimates,
		fallback:  fallback,
		logger:    logger.With(zap.String("component", "planner")),
	}
}

// CreatePlan validates g and converts it into stages.
func (p *Planner) CreatePlan(g *workflow.Graph) (*ExecutionPlan, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	plan := &ExecutionPlan{NodeTypes: make(map[string]string, len(g.Nodes))}
	for _, n := range g.Nodes {
		nodeType := strings.ToLower(n.Type)
		if nodeType == "" {
			nodeType = defaultNodeType
		}
		plan.NodeTypes[n.ID] = nodeType
		if n.Kind() == workflow.KindCondition {
			plan.HasConditionalBranches = true
		}
	}
	for _, e := range g.Edges {
		if e.Condition != "" {
			plan.HasConditionalBranches = true
		}
	}

	for _, group := range IdentifyParallelGroups(g) {
		plan.Stages = append(plan.Stages, Stage{Nodes: group, Parallel: len(group) > 1})
	}
	plan.EstimatedDuration = p.EstimateTime(plan)

	p.logger.Debug("execution plan created",
		zap.Int("stages", len(plan.Stages)),
		zap.Int("parallel_stages", plan.ParallelStages()),
		zap.Bool("conditional", plan.HasConditionalBranches),
		zap.Duration("estimate", plan.EstimatedDuration),
	)
	return plan, nil
}

// EstimateTime sums stage costs: a parallel stage costs its slowest member,
// a sequential stage the sum of its members.
func (p *Planner) EstimateTime(plan *ExecutionPlan) time.Duration {
	if plan == nil {
		return 0
	}
	var total time.Duration
	for _, s := range plan.Stages {
		var cost time.Duration
		for _, id := range s.Nodes {
			d := p.Estimate(plan.NodeTypes[id])
			if s.Parallel {
				cost = max(cost, d)
			} else {
				cost += d
			}
		}
		total += cost
	}
	return total
}

// Estimate returns the duration estimate for a node type.
func (p *Planner) Estimate(nodeType string) time.Duration {
	if d, ok := p.estimates[strings.ToLower(nodeType)]; ok {
		return d
	}
	return p.fallback
}
