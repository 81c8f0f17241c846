package expr

import (
	"container/list"
	"strings"
	"sync"

	"github.com/BaSui01/flowcore/internal/metrics"
	"github.com/BaSui01/flowcore/types"
	"go.uber.org/zap"
)

// Mode selects which constructs an expression may use.
type Mode int

const (
	// ModeDefault defers to the evaluator's configured default.
	ModeDefault Mode = iota
	// ModeBasic allows literals, variables, operators, indexing and attribute access.
	ModeBasic
	// ModeAdvanced additionally allows calls to the builtin functions.
	ModeAdvanced
)

func (m Mode) String() string {
	switch m {
	case ModeBasic:
		return "basic"
	case ModeAdvanced:
		return "advanced"
	}
	return "default"
}

// ParseMode maps a configuration string to a Mode. Unknown values yield ModeDefault.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return ModeBasic
	case "advanced":
		return ModeAdvanced
	}
	return ModeDefault
}

// Scope holds the variable layers an expression is evaluated against.
// Priority from lowest to highest: Global, Workflow, Context, Item.
type Scope struct {
	Context  map[string]any
	Workflow map[string]any
	Global   map[string]any
	// Item is the current loop or collection element. A map item merges its
	// keys; any other non-nil item is bound as "item".
	Item any
	Mode Mode
}

// merge flattens the layers into a fresh map.
func (s Scope) merge(mode Mode) map[string]any {
	vars := make(map[string]any, len(s.Global)+len(s.Workflow)+len(s.Context)+1)
	for _, layer := range []map[string]any{s.Global, s.Workflow, s.Context} {
		for k, v := range layer {
			vars[k] = v
		}
	}
	if s.Item != nil {
		if m, ok := normalize(s.Item).(map[string]any); ok {
			for k, v := range m {
				vars[k] = v
			}
		} else {
			vars["item"] = s.Item
		}
	}
	if mode == ModeAdvanced {
		for name := range builtins {
			delete(vars, name)
		}
	}
	return vars
}

// Program is a parsed and validated expression.
type Program struct {
	source string
	root   Node
	calls  int
}

// Source returns the expression text the program was compiled from.
func (p *Program) Source() string { return p.source }

// UsesCalls reports whether the program calls builtins and so needs advanced mode.
func (p *Program) UsesCalls() bool { return p != nil && p.calls > 0 }

// Evaluator compiles and evaluates sandboxed expressions. It is safe for concurrent use.
type Evaluator struct {
	defaultMode Mode
	cacheSize   int
	logger      *zap.Logger
	metrics     *metrics.Collector

	mu    sync.Mutex
	cache map[string]*list.Element
	order *list.List
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDefaultMode sets the mode used when a Scope leaves Mode unset.
func WithDefaultMode(m Mode) Option {
	return func(e *Evaluator) {
		if m != ModeDefault {
			e.defaultMode = m
		}
	}
}

// WithCacheSize bounds the compiled-program cache. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(e *Evaluator) { e.cacheSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records evaluation outcomes.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Evaluator) { e.metrics = c }
}

// New creates an Evaluator. The default mode is ModeBasic.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		defaultMode: ModeBasic,
		cacheSize:   1000,
		logger:      zap.NewNop(),
		cache:       make(map[string]*list.Element),
		order:       list.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "expr"))
	return e
}

// Compile parses and validates src. Programs are cached by source text.
func (e *Evaluator) Compile(src string) (*Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return &Program{}, nil
	}
	if p := e.cached(src); p != nil {
		return p, nil
	}

	if err := precheck(src); err != nil {
		return nil, err
	}
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	calls, err := validate(root)
	if err != nil {
		return nil, err
	}

	p := &Program{source: src, root: root, calls: calls}
	e.store(p)
	return p, nil
}

// Evaluate returns the truthiness of src evaluated against scope.
// A blank expression is false.
func (e *Evaluator) Evaluate(src string, scope Scope) (bool, error) {
	v, err := e.EvaluateExpression(src, scope)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// EvaluateExpression returns the raw value of src evaluated against scope.
// A blank expression yields nil.
func (e *Evaluator) EvaluateExpression(src string, scope Scope) (any, error) {
	mode := e.mode(scope.Mode)
	p, err := e.Compile(src)
	if err != nil {
		e.observe(mode, src, err)
		return nil, err
	}
	return e.EvaluateCompiled(p, scope)
}

// EvaluateCompiled evaluates a compiled program against scope.
func (e *Evaluator) EvaluateCompiled(p *Program, scope Scope) (any, error) {
	mode := e.mode(scope.Mode)
	if p == nil || p.root == nil {
		return nil, nil
	}
	if p.calls > 0 && mode != ModeAdvanced {
		err := types.NewError(types.ErrSecurityViolation, "function calls require advanced mode")
		e.observe(mode, p.source, err)
		return nil, err
	}

	ev := &evaluator{vars: scope.merge(mode)}
	v, err := ev.eval(p.root)
	e.observe(mode, p.source, err)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (e *Evaluator) mode(m Mode) Mode {
	if m == ModeDefault {
		return e.defaultMode
	}
	return m
}

func (e *Evaluator) observe(mode Mode, src string, err error) {
	switch {
	case err == nil:
		e.metrics.RecordExpression(mode.String(), "ok")
	case types.IsSecurityViolation(err):
		e.metrics.RecordExpression(mode.String(), "security_violation")
		e.logger.Warn("expression rejected", zap.String("expression", src), zap.Error(err))
	default:
		e.metrics.RecordExpression(mode.String(), "evaluation_error")
		e.logger.Debug("expression evaluation failed", zap.String("expression", src), zap.Error(err))
	}
}

func (e *Evaluator) cached(src string) *Program {
	if e.cacheSize <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.cache[src]; ok {
		e.order.MoveToFront(el)
		return el.Value.(*Program)
	}
	return nil
}

func (e *Evaluator) store(p *Program) {
	if e.cacheSize <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.cache[p.source]; ok {
		e.order.MoveToFront(el)
		return
	}
	e.cache[p.source] = e.order.PushFront(p)
	for e.order.Len() > e.cacheSize {
		oldest := e.order.Back()
		e.order.Remove(oldest)
		delete(e.cache, oldest.Value.(*Program).source)
	}
}

// CacheLen reports how many compiled programs are cached.
func (e *Evaluator) CacheLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Len()
}
