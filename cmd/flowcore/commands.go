package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowcore"
	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/internal/telemetry"
	"github.com/BaSui01/flowcore/workflow"
	"github.com/BaSui01/flowcore/workflow/expr"
)

// varFlags collects repeated -var key=value pairs. Values are decoded as YAML
// scalars, so "3" becomes an int and "true" a bool.
type varFlags map[string]any

func (v varFlags) String() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v[k]))
	}
	return strings.Join(parts, ",")
}

func (v varFlags) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("invalid variable %q, want key=value", s)
	}
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		value = raw
	}
	v[key] = value
	return nil
}

// graphFlags are shared by plan and run.
type graphFlags struct {
	graph  string
	config  string
	vars    varFlags
	globals varFlags
}

func (g *graphFlags) register(fs *flag.FlagSet) {
	g.vars = varFlags{}
	g.globals = varFlags{}
	fs.StringVar(&g.graph, "graph", "", "Path to graph definition (YAML)")
	fs.StringVar(&g.config, "config", "", "Path to config file")
	fs.Var(g.vars, "var", "Graph variable key=value (repeatable)")
	fs.Var(g.globals, "global", "Global expression variable key=value (repeatable)")
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// echoNode answers every node call with its id and the input keys it received.
func echoNode(logger *zap.Logger) workflow.NodeExecutor {
	return workflow.NodeFunc(func(_ context.Context, nodeID string, inputs map[string]any) (map[string]any, error) {
		keys := make([]string, 0, len(inputs))
		for k := range inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		logger.Debug("echo node called", zap.String("node_id", nodeID), zap.Strings("inputs", keys))
		out := make(map[string]any, len(inputs)+2)
		for k, v := range inputs {
			out[k] = v
		}
		out["node"] = nodeID
		out["input_keys"] = keys
		return out, nil
	})
}

func newEngine(flags graphFlags, metricsEnabled bool) (*flowcore.Engine, *zap.Logger, error) {
	if flags.graph == "" {
		return nil, nil, fmt.Errorf("-graph is required")
	}
	cfg, err := loadConfig(flags.config)
	if err != nil {
		return nil, nil, err
	}
	if !metricsEnabled {
		cfg.Metrics.Enabled = false
	}
	// stdout 输出命令结果
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)
	eng, err := flowcore.New(cfg, echoNode(logger),
		flowcore.WithLogger(logger),
		flowcore.WithGlobalVariables(flags.globals),
	)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return eng, logger, nil
}

// =============================================================================
// 🗺️ plan 命令
// =============================================================================

func runPlan(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	var flags graphFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	eng, logger, err := newEngine(flags, false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer eng.Close(context.Background())

	g, err := eng.LoadGraph(flags.graph, flags.vars)
	if err != nil {
		return err
	}
	plan, err := eng.Plan(g)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{
		"graph":           g.Name,
		"stages":          plan.Stages,
		"parallel_stages": plan.ParallelStages(),
		"conditional":     plan.HasConditionalBranches,
		"estimate":        plan.EstimatedDuration.String(),
	})
}

// =============================================================================
// ▶️ run 命令
// =============================================================================

func runGraph(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var flags graphFlags
	flags.register(fs)
	inputsJSON := fs.String("inputs", "", "Run inputs as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}

	inputs := map[string]any{}
	if *inputsJSON != "" {
		if err := json.Unmarshal([]byte(*inputsJSON), &inputs); err != nil {
			return fmt.Errorf("parse -inputs: %w", err)
		}
	}

	eng, logger, err := newEngine(flags, true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	providers, err := telemetry.Init(eng.Config().Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() {
		if err := eng.Close(context.Background()); err != nil {
			logger.Warn("engine close failed", zap.Error(err))
		}
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	g, err := eng.LoadGraph(flags.graph, flags.vars)
	if err != nil {
		return err
	}
	res, err := eng.Run(ctx, g, inputs)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

// =============================================================================
// 🧮 eval 命令
// =============================================================================

func runEval(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	src := fs.String("expr", "", "Expression to evaluate")
	varsJSON := fs.String("vars", "", "Variables as a JSON object")
	mode := fs.String("mode", "basic", "Expression mode: basic or advanced")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *src == "" {
		return fmt.Errorf("-expr is required")
	}

	vars := map[string]any{}
	if *varsJSON != "" {
		if err := json.Unmarshal([]byte(*varsJSON), &vars); err != nil {
			return fmt.Errorf("parse -vars: %w", err)
		}
	}

	ev := expr.New(expr.WithDefaultMode(expr.ParseMode(*mode)), expr.WithCacheSize(0))
	v, err := ev.EvaluateExpression(*src, expr.Scope{Context: vars})
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"result": v, "truthy": expr.Truthy(v)})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
