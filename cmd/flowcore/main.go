// =============================================================================
// flowcore 命令行入口
// =============================================================================
// 图规划、试运行与表达式求值工具
//
// 使用方法:
//
//	flowcore plan -graph review.yaml -var reviewer=ada    # 输出执行计划
//	flowcore run -graph review.yaml -inputs '{"x": 1}'    # 使用回显节点试运行
//	flowcore eval -expr "score >= 0.7" -vars '{"score": 0.9}'
//	flowcore version                                      # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/flowcore/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	var err error
	switch args[0] {
	case "plan":
		err = runPlan(args[1:], stdout)
	case "run":
		err = runGraph(args[1:], stdout)
	case "eval":
		err = runEval(args[1:], stdout)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "flowcore %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `flowcore - workflow execution engine

Usage:
  flowcore <command> [options]

Commands:
  plan      Parse a graph and print its execution plan
  run       Dry-run a graph with echo nodes
  eval      Evaluate a single expression
  version   Show version information
  help      Show this help message

Options for 'plan' and 'run':
  -graph <path>     Graph definition (YAML)
  -config <path>    Engine configuration file (YAML)
  -var key=value    Graph variable override, repeatable
  -global key=value Global expression variable, repeatable
  -inputs <json>    Run inputs ('run' only)

Options for 'eval':
  -expr <text>      Expression to evaluate
  -vars <json>      Variables visible to the expression
  -mode <mode>      basic or advanced

Examples:
  flowcore plan -graph review.yaml -var reviewer=ada
  flowcore run -graph review.yaml -config flowcore.yaml -inputs '{"items": [1, 2]}'
  flowcore eval -mode advanced -expr "max(a, b) > 3" -vars '{"a": 1, "b": 5}'
  flowcore version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
