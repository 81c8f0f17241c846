package dsl

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/BaSui01/flowcore/types"
	"github.com/BaSui01/flowcore/workflow"
	"github.com/BaSui01/flowcore/workflow/expr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Parser DSL 解析器
type Parser struct {
	validator *Validator
	logger    *zap.Logger
}

// ParserOption 解析器选项
type ParserOption func(*parserOptions)

type parserOptions struct {
	evaluator   *expr.Evaluator
	defaultMode expr.Mode
	logger      *zap.Logger
}

// WithEvaluator 使用指定的表达式求值器编译表达式
func WithEvaluator(ev *expr.Evaluator) ParserOption {
	return func(o *parserOptions) { o.evaluator = ev }
}

// WithDefaultMode 设置未声明 mode 的表达式所用的模式
func WithDefaultMode(m expr.Mode) ParserOption {
	return func(o *parserOptions) { o.defaultMode = m }
}

// WithLogger 设置日志记录器
func WithLogger(l *zap.Logger) ParserOption {
	return func(o *parserOptions) { o.logger = l }
}

// NewParser 创建 DSL 解析器
func NewParser(opts ...ParserOption) *Parser {
	o := &parserOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Parser{
		validator: NewValidator(o.evaluator, o.defaultMode),
		logger:    o.logger.With(zap.String("component", "dsl_parser")),
	}
}

// ParseFile 从文件解析图定义
func (p *Parser) ParseFile(filename string) (*workflow.Graph, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML（或 JSON）字节解析图定义，变量取默认值
func (p *Parser) Parse(data []byte) (*workflow.Graph, error) {
	return p.ParseWithVariables(data, nil)
}

// ParseWithVariables 解析图定义，vars 覆盖变量默认值
func (p *Parser) ParseWithVariables(data []byte, vars map[string]any) (*workflow.Graph, error) {
	var dsl GraphDSL
	if err := yaml.Unmarshal(data, &dsl); err != nil {
		return nil, types.NewError(types.ErrInvalidGraph, "parse YAML").WithCause(err)
	}

	resolved, err := resolveVariables(dsl.Variables, vars)
	if err != nil {
		return nil, err
	}
	for i := range dsl.Nodes {
		dsl.Nodes[i].Config = interpolateMap(dsl.Nodes[i].Config, resolved)
		for target, cond := range dsl.Nodes[i].When {
			dsl.Nodes[i].When[target] = interpolateExpr(cond, resolved)
		}
	}

	if err := p.validate(&dsl); err != nil {
		return nil, err
	}

	g := buildGraph(&dsl, resolved)
	p.logger.Debug("graph parsed",
		zap.String("name", g.Name),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)),
	)
	return g, nil
}

// validate 验证 DSL；任一问题为安全违规时整体归类为安全违规
func (p *Parser) validate(dsl *GraphDSL) error {
	errs := p.validator.Validate(dsl)
	if len(errs) == 0 {
		return nil
	}
	code := types.ErrInvalidGraph
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
		if types.IsSecurityViolation(e) {
			code = types.ErrSecurityViolation
		}
	}
	return types.NewError(code, "validation errors: "+strings.Join(msgs, "; "))
}

// resolveVariables 合并变量默认值与覆盖值
func resolveVariables(defs map[string]VariableDef, overrides map[string]any) (map[string]any, error) {
	vars := make(map[string]any, len(defs))
	var missing []string
	for _, name := range sortedKeys(defs) {
		def := defs[name]
		if v, ok := overrides[name]; ok {
			vars[name] = v
			continue
		}
		if def.Default != nil {
			vars[name] = def.Default
			continue
		}
		if def.Required {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, types.Errorf(types.ErrInvalidGraph, "required variables not provided: %s", strings.Join(missing, ", "))
	}
	return vars, nil
}

// varRef 匹配 ${var_name} 引用
var varRef = regexp.MustCompile(`\$\{(\w+)\}`)

// expressionFields are config keys whose values are expressions at any depth.
var expressionFields = map[string]bool{"expression": true, "condition": true, "break_on": true}

// interpolate 变量插值（替换 ${var_name}），单次扫描，替换结果不再展开
func interpolate(template string, vars map[string]any) string {
	return substitute(template, vars, func(v any) string { return fmt.Sprintf("%v", v) })
}

// interpolateExpr 在表达式中插值，变量值作为字面量写入，无法改变表达式结构
func interpolateExpr(src string, vars map[string]any) string {
	return substitute(src, vars, exprLiteral)
}

func substitute(s string, vars map[string]any, render func(any) string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return varRef.ReplaceAllStringFunc(s, func(m string) string {
		v, ok := vars[m[2:len(m)-1]]
		if !ok {
			return m
		}
		return render(v)
	})
}

// exprLiteral renders a variable value as expression source.
func exprLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case string:
		return quoteExpr(x)
	case []any:
		items := make([]string, len(x))
		for i, item := range x {
			items[i] = exprLiteral(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return quoteExpr(fmt.Sprint(f))
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return quoteExpr(fmt.Sprintf("%v", v))
}

var exprQuoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)

func quoteExpr(s string) string {
	return `"` + exprQuoter.Replace(s) + `"`
}

// interpolateMap returns a copy of m with every string value interpolated.
// A string that is exactly one ${var} reference takes the variable's value as
// is, except under expression keys, where values become literals.
func interpolateMap(m map[string]any, vars map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if src, ok := v.(string); ok && expressionFields[k] {
			out[k] = interpolateExpr(src, vars)
			continue
		}
		out[k] = interpolateValue(v, vars)
	}
	return out
}

func interpolateValue(v any, vars map[string]any) any {
	switch x := v.(type) {
	case string:
		if m := varRef.FindStringSubmatchIndex(x); m != nil && m[0] == 0 && m[1] == len(x) {
			if val, ok := vars[x[2:len(x)-1]]; ok {
				return val
			}
		}
		return interpolate(x, vars)
	case map[string]any:
		return interpolateMap(x, vars)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = interpolateValue(item, vars)
		}
		return out
	}
	return v
}

// buildGraph 从 DSL 构建图；条件节点的分支目标补全为边
func buildGraph(dsl *GraphDSL, vars map[string]any) *workflow.Graph {
	g := &workflow.Graph{Name: dsl.Name, Variables: vars}
	seen := make(map[[2]string]bool)
	addEdge := func(src, dst, cond string) {
		key := [2]string{src, dst}
		if dst == "" || seen[key] {
			return
		}
		seen[key] = true
		g.Edges = append(g.Edges, workflow.Edge{Source: src, Target: dst, Condition: cond})
	}

	for _, def := range dsl.Nodes {
		cfg := def.Config
		if def.Cacheable {
			if cfg == nil {
				cfg = make(map[string]any, 1)
			}
			cfg["cacheable"] = true
		}
		g.Nodes = append(g.Nodes, workflow.GraphNode{ID: def.ID, Type: def.Type, Config: cfg})

		for _, next := range def.Next {
			addEdge(def.ID, next, def.When[next])
		}
		if workflow.ExecutorKind(strings.ToLower(def.Type)) == workflow.KindCondition {
			// 配置已通过验证
			cc, _ := workflow.DecodeConditionConfig(def.Config)
			addEdge(def.ID, cc.TrueBranch, "")
			addEdge(def.ID, cc.FalseBranch, "")
			for _, b := range cc.Branches {
				addEdge(def.ID, b.Node, "")
			}
			addEdge(def.ID, cc.DefaultBranch, "")
		}
	}
	return g
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
