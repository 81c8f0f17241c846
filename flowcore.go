// Package flowcore provides a top-level entry point that wires the execution
// engine from a single configuration.
//
// Usage:
//
//	cfg := config.DefaultConfig()
//	eng, err := flowcore.New(cfg, workflow.NodeFunc(callNode), flowcore.WithLogger(logger))
//	if err != nil { ... }
//	defer eng.Close(ctx)
//
//	g, err := eng.LoadGraph("review.yaml", map[string]any{"reviewer": "ada"})
//	res, err := eng.Run(ctx, g, inputs)
//
// Each component stays usable on its own; Engine only builds them with
// consistent logging, metrics and configuration.
package flowcore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/eventbus"
	"github.com/BaSui01/flowcore/internal/cache"
	"github.com/BaSui01/flowcore/internal/metrics"
	"github.com/BaSui01/flowcore/subagent"
	"github.com/BaSui01/flowcore/types"
	"github.com/BaSui01/flowcore/workflow"
	"github.com/BaSui01/flowcore/workflow/dsl"
	"github.com/BaSui01/flowcore/workflow/expr"
	"github.com/BaSui01/flowcore/workflow/optimizer"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Engine created by [New].
type Option func(*engineOptions)

type engineOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	bus        eventbus.Bus
	registry   *subagent.Registry
	globals    map[string]any
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithRegisterer registers metrics on reg instead of the default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *engineOptions) { o.registerer = reg }
}

// WithBus uses an external event bus. Without it the engine owns an in-process bus.
func WithBus(bus eventbus.Bus) Option {
	return func(o *engineOptions) { o.bus = bus }
}

// WithSubAgentRegistry uses a pre-populated sub-agent registry.
func WithSubAgentRegistry(r *subagent.Registry) Option {
	return func(o *engineOptions) { o.registry = r }
}

// WithGlobalVariables sets the global variable layer visible to every
// expression the engine evaluates during Run. Variables attached to the run
// context with workflow.WithGlobalVars take precedence per key.
func WithGlobalVariables(vars map[string]any) Option {
	return func(o *engineOptions) { o.globals = vars }
}

// Engine bundles the planner, runner, expression evaluator, context cache,
// DSL parser and sub-agent orchestrator built from one config.Config.
type Engine struct {
	cfg          *config.Config
	logger       *zap.Logger
	metrics      *metrics.Collector
	evaluator    *expr.Evaluator
	cache        *optimizer.ContextCache
	cacheManager *cache.Manager
	planner      *optimizer.Planner
	runner       *optimizer.PlanRunner
	parser       *dsl.Parser
	bus          eventbus.Bus
	ownsBus      bool
	orchestrator *subagent.Orchestrator
	globals      map[string]any
}

// New validates cfg and builds an Engine. node is the host's capability for
// running plain nodes; a nil cfg means config.DefaultConfig().
func New(cfg *config.Config, node workflow.NodeExecutor, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "invalid engine config").WithCause(err)
	}
	if node == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "node executor is required")
	}

	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{cfg: cfg, logger: logger.With(zap.String("component", "engine")), globals: o.globals}

	if cfg.Metrics.Enabled {
		if o.registerer != nil {
			e.metrics = metrics.NewCollectorWithRegisterer(cfg.Metrics.Namespace, o.registerer, logger)
		} else {
			e.metrics = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		}
	}

	mode := expr.ParseMode(cfg.Expression.DefaultMode)
	e.evaluator = expr.New(
		expr.WithDefaultMode(mode),
		expr.WithCacheSize(cfg.Expression.CacheSize),
		expr.WithLogger(logger),
		expr.WithMetrics(e.metrics),
	)

	cacheOpts := []optimizer.CacheOption{
		optimizer.WithCacheLogger(logger),
		optimizer.WithCacheMetrics(e.metrics),
	}
	if cfg.Cache.Backend == "redis" {
		m, err := cache.NewManager(cache.ConfigFrom(cfg.Redis, cfg.Cache), logger)
		if err != nil {
			return nil, fmt.Errorf("create redis cache backend: %w", err)
		}
		e.cacheManager = m
		cacheOpts = append(cacheOpts, optimizer.WithBackend(optimizer.NewRedisBackend(m)))
	}
	e.cache = optimizer.NewContextCache(cfg.Cache, cacheOpts...)

	e.planner = optimizer.NewPlanner(cfg.Planner, logger)
	e.runner = optimizer.NewPlanRunner(node, optimizer.RunnerConfig{
		Planner:         e.planner,
		Cache:           e.cache,
		Evaluator:       e.evaluator,
		Execute:         optimizer.ExecuteOptionsFrom(cfg.Engine),
		WorkflowOptions: []workflow.Option{workflow.WithConfig(cfg)},
		Logger:          logger,
		Metrics:         e.metrics,
	})
	e.parser = dsl.NewParser(
		dsl.WithEvaluator(e.evaluator),
		dsl.WithDefaultMode(mode),
		dsl.WithLogger(logger),
	)

	e.bus = o.bus
	if e.bus == nil {
		e.bus = eventbus.New(eventbus.WithLogger(logger))
		e.ownsBus = true
	}
	e.orchestrator = subagent.NewOrchestrator(o.registry,
		subagent.WithBus(e.bus),
		subagent.WithConfig(cfg.SubAgent),
		subagent.WithLogger(logger),
		subagent.WithMetrics(e.metrics),
	)

	e.logger.Info("engine initialized",
		zap.String("expression_mode", mode.String()),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	return e, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Evaluator returns the shared expression evaluator.
func (e *Engine) Evaluator() *expr.Evaluator { return e.evaluator }

// Cache returns the context cache used for cacheable nodes.
func (e *Engine) Cache() *optimizer.ContextCache { return e.cache }

// Planner returns the execution planner.
func (e *Engine) Planner() *optimizer.Planner { return e.planner }

// Runner returns the plan runner.
func (e *Engine) Runner() *optimizer.PlanRunner { return e.runner }

// Orchestrator returns the sub-agent orchestrator.
func (e *Engine) Orchestrator() *subagent.Orchestrator { return e.orchestrator }

// Bus returns the event bus the orchestrator listens on.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// Metrics returns the collector, or nil when metrics are disabled.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// ParseGraph parses a YAML graph definition with variable overrides.
func (e *Engine) ParseGraph(data []byte, vars map[string]any) (*workflow.Graph, error) {
	return e.parser.ParseWithVariables(data, vars)
}

// LoadGraph reads and parses a YAML graph file.
func (e *Engine) LoadGraph(path string, vars map[string]any) (*workflow.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	return e.ParseGraph(data, vars)
}

// Plan builds the execution plan for g.
func (e *Engine) Plan(g *workflow.Graph) (*optimizer.ExecutionPlan, error) {
	return e.planner.CreatePlan(g)
}

// Run executes g with the given run inputs.
func (e *Engine) Run(ctx context.Context, g *workflow.Graph, inputs map[string]any) (*optimizer.RunResult, error) {
	if len(e.globals) > 0 {
		ctx = workflow.WithGlobalVars(ctx, mergeVars(e.globals, workflow.GlobalVars(ctx)))
	}
	return e.runner.Run(ctx, g, inputs)
}

// mergeVars copies base and overlays override onto it.
func mergeVars(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Close stops the orchestrator, the owned bus and the Redis backend.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.orchestrator.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close orchestrator: %w", err))
	}
	if e.ownsBus {
		e.bus.Stop()
	}
	if e.cacheManager != nil {
		if err := e.cacheManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache backend: %w", err))
		}
	}
	return errors.Join(errs...)
}
