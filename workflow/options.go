package workflow

import (
	"time"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/internal/metrics"
	"github.com/BaSui01/flowcore/workflow/expr"
	"go.uber.org/zap"
)

type options struct {
	logger         *zap.Logger
	metrics        *metrics.Collector
	evaluator      *expr.Evaluator
	exprMode       expr.Mode
	exprCacheSize  int
	maxIterations  int
	defaultTimeout time.Duration
}

// Option configures the control-flow executors.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithEvaluator shares an expression evaluator (and its compile cache) between executors.
func WithEvaluator(ev *expr.Evaluator) Option {
	return func(o *options) { o.evaluator = ev }
}

// WithMaxIterations sets the while-loop iteration cap used when a node does not set one.
func WithMaxIterations(n int) Option {
	return func(o *options) { o.maxIterations = n }
}

// WithDefaultTimeout sets the parallel timeout used when a node does not set one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.defaultTimeout = d }
}

// WithConfig applies the loop, parallel and expression sections of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		o.maxIterations = cfg.Loop.MaxIterations
		o.defaultTimeout = cfg.Parallel.DefaultTimeout
		o.exprMode = expr.ParseMode(cfg.Expression.DefaultMode)
		o.exprCacheSize = cfg.Expression.CacheSize
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		maxIterations: config.DefaultLoopConfig().MaxIterations,
		exprMode:      expr.ModeBasic,
		exprCacheSize: config.DefaultExpressionConfig().CacheSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.maxIterations <= 0 {
		o.maxIterations = config.DefaultLoopConfig().MaxIterations
	}
	if o.evaluator == nil {
		o.evaluator = expr.New(
			expr.WithDefaultMode(o.exprMode),
			expr.WithCacheSize(o.exprCacheSize),
			expr.WithLogger(o.logger),
			expr.WithMetrics(o.metrics),
		)
	}
	return o
}
