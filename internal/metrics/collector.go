// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 执行引擎指标收集器。
// 所有 Record 方法对 nil 接收者安全，组件可以不注入 Collector。
type Collector struct {
	// 节点指标
	nodeExecutionsTotal   *prometheus.CounterVec
	nodeExecutionDuration *prometheus.HistogramVec
	stageDuration         *prometheus.HistogramVec

	// 控制流指标
	loopExitsTotal      *prometheus.CounterVec
	loopIterations      *prometheus.HistogramVec
	branchOutcomesTotal *prometheus.CounterVec
	conditionsTotal     *prometheus.CounterVec

	// 表达式指标
	expressionsTotal *prometheus.CounterVec

	// 缓存指标
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec

	// 子代理指标
	subagentExecutionsTotal   *prometheus.CounterVec
	subagentExecutionDuration *prometheus.HistogramVec
	subagentInFlight          *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，指标注册到默认 Registry。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建指标收集器，指标注册到指定 Registerer。
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 节点指标
	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions",
		},
		[]string{"node_kind", "status"},
	)

	c.nodeExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"node_kind"},
	)

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_stage_duration_seconds",
			Help:      "Execution plan stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"parallel"},
	)

	// 控制流指标
	c.loopExitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_exits_total",
			Help:      "Total number of finished loops by exit reason",
		},
		[]string{"loop_type", "exit_reason"},
	)

	c.loopIterations = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iterations",
			Help:      "Number of iterations per loop execution",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"loop_type"},
	)

	c.branchOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parallel_branch_outcomes_total",
			Help:      "Total number of parallel branch outcomes",
		},
		[]string{"wait_for", "outcome"},
	)

	c.conditionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "condition_decisions_total",
			Help:      "Total number of condition decisions",
		},
		[]string{"condition_type", "branch"},
	)

	// 表达式指标
	c.expressionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expression_evaluations_total",
			Help:      "Total number of expression evaluations by outcome",
		},
		[]string{"mode", "outcome"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.cacheEvictions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache evictions",
		},
		[]string{"cache_type", "reason"},
	)

	// 子代理指标
	c.subagentExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subagent_executions_total",
			Help:      "Total number of sub-agent executions",
		},
		[]string{"agent_type", "status"},
	)

	c.subagentExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subagent_execution_duration_seconds",
			Help:      "Sub-agent execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"agent_type"},
	)

	c.subagentInFlight = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subagent_in_flight",
			Help:      "Number of sub-agents currently executing",
		},
		[]string{"agent_type"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🧩 节点指标记录
// =============================================================================

// RecordNodeExecution 记录节点执行
func (c *Collector) RecordNodeExecution(nodeKind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.nodeExecutionsTotal.WithLabelValues(nodeKind, status).Inc()
	c.nodeExecutionDuration.WithLabelValues(nodeKind).Observe(duration.Seconds())
}

// RecordStage 记录计划阶段耗时
func (c *Collector) RecordStage(parallel bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(boolLabel(parallel)).Observe(duration.Seconds())
}

// =============================================================================
// 🔀 控制流指标记录
// =============================================================================

// RecordLoopExit 记录循环结束
func (c *Collector) RecordLoopExit(loopType, exitReason string, iterations int) {
	if c == nil {
		return
	}
	c.loopExitsTotal.WithLabelValues(loopType, exitReason).Inc()
	c.loopIterations.WithLabelValues(loopType).Observe(float64(iterations))
}

// RecordBranchOutcome 记录并行分支结果（success / error / timeout / cancelled）
func (c *Collector) RecordBranchOutcome(waitFor, outcome string) {
	if c == nil {
		return
	}
	c.branchOutcomesTotal.WithLabelValues(waitFor, outcome).Inc()
}

// RecordCondition 记录条件分支决策
func (c *Collector) RecordCondition(conditionType, branch string) {
	if c == nil {
		return
	}
	c.conditionsTotal.WithLabelValues(conditionType, branch).Inc()
}

// RecordExpression 记录表达式求值结果（ok / security_violation / evaluation_error）
func (c *Collector) RecordExpression(mode, outcome string) {
	if c == nil {
		return
	}
	c.expressionsTotal.WithLabelValues(mode, outcome).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordCacheEviction 记录缓存淘汰（ttl / lru）
func (c *Collector) RecordCacheEviction(cacheType, reason string) {
	if c == nil {
		return
	}
	c.cacheEvictions.WithLabelValues(cacheType, reason).Inc()
}

// =============================================================================
// 🤖 子代理指标记录
// =============================================================================

// SubAgentStarted 子代理开始执行
func (c *Collector) SubAgentStarted(agentType string) {
	if c == nil {
		return
	}
	c.subagentInFlight.WithLabelValues(agentType).Inc()
}

// SubAgentFinished 子代理执行结束
func (c *Collector) SubAgentFinished(agentType string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.subagentInFlight.WithLabelValues(agentType).Dec()
	c.subagentExecutionsTotal.WithLabelValues(agentType, statusLabel(success)).Inc()
	c.subagentExecutionDuration.WithLabelValues(agentType).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
