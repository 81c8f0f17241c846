package workflow

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/flowcore/types"
	"github.com/mitchellh/mapstructure"
)

// ConditionBranch is one entry of a multi_branch condition.
type ConditionBranch struct {
	Condition string `mapstructure:"condition"`
	Node      string `mapstructure:"node"`
}

// ConditionConfig configures a condition node.
type ConditionConfig struct {
	// Type is simple (default) or multi_branch
	Type          string            `mapstructure:"type"`
	Expression    string            `mapstructure:"expression"`
	TrueBranch    string            `mapstructure:"true_branch"`
	FalseBranch   string            `mapstructure:"false_branch"`
	Branches      []ConditionBranch `mapstructure:"branches"`
	DefaultBranch string            `mapstructure:"default_branch"`
	// Mode is the expression mode: basic or advanced
	Mode string `mapstructure:"mode"`
}

// RetryConfig configures the while-loop retry backoff.
type RetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Exponential bool          `mapstructure:"exponential"`
	// Flag is the body-result key that requests a retry (default "retry")
	Flag string `mapstructure:"flag"`
}

// LoopConfig configures a loop node.
type LoopConfig struct {
	// Type is for_each, range or while
	Type     string `mapstructure:"type"`
	BodyNode string `mapstructure:"body_node"`
	BreakOn  string `mapstructure:"break_on"`

	// for_each
	ArrayInput    string `mapstructure:"array_input"`
	ItemVariable  string `mapstructure:"item_variable"`
	IndexVariable string `mapstructure:"index_variable"`

	// range
	Start int  `mapstructure:"start"`
	End   int  `mapstructure:"end"`
	Step  *int `mapstructure:"step"`

	// while
	Condition     string      `mapstructure:"condition"`
	MaxIterations int         `mapstructure:"max_iterations"`
	Retry         RetryConfig `mapstructure:"retry_config"`
	Mode          string      `mapstructure:"mode"`
}

// ParallelBranch is one fan-out target of a parallel node.
type ParallelBranch struct {
	Node string `mapstructure:"node"`
	// OutputKey names the branch in the result map (default: Node)
	OutputKey string `mapstructure:"output_key"`
	// Inputs are merged over the parallel node's inputs for this branch only
	Inputs map[string]any `mapstructure:"inputs"`
}

// ParallelConfig configures a parallel node.
type ParallelConfig struct {
	Branches []ParallelBranch `mapstructure:"branches"`
	// Timeout applies per branch in "all" mode and to the whole race in "first" mode
	Timeout  time.Duration `mapstructure:"timeout"`
	FailFast bool          `mapstructure:"fail_fast"`
	// WaitFor is all (default) or first
	WaitFor string `mapstructure:"wait_for"`
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads bare numbers (and numeric strings) as seconds.
func secondsToDurationHook(_ reflect.Type, t reflect.Type, data any) (any, error) {
	if t != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
	}
	return data, nil
}

// decodeConfig decodes a raw node config into out. The raw map is not modified.
func decodeConfig(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return types.NewError(types.ErrInvalidConfig, "failed to create config decoder").WithCause(err)
	}
	if err := decoder.Decode(raw); err != nil {
		return types.NewError(types.ErrInvalidConfig, "failed to decode node config").WithCause(err)
	}
	return nil
}

// DecodeConditionConfig decodes a raw condition node config.
func DecodeConditionConfig(raw map[string]any) (ConditionConfig, error) {
	var cfg ConditionConfig
	err := decodeConfig(raw, &cfg)
	return cfg, err
}

// DecodeLoopConfig decodes a raw loop node config.
func DecodeLoopConfig(raw map[string]any) (LoopConfig, error) {
	var cfg LoopConfig
	err := decodeConfig(raw, &cfg)
	return cfg, err
}

// DecodeParallelConfig decodes a raw parallel node config.
func DecodeParallelConfig(raw map[string]any) (ParallelConfig, error) {
	var cfg ParallelConfig
	err := decodeConfig(raw, &cfg)
	return cfg, err
}
