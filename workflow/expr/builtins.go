package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/BaSui01/flowcore/types"
)

type builtinFunc func(args []any) (any, error)

// builtins is the complete set of callable functions in advanced mode.
var builtins = map[string]builtinFunc{
	"int":   builtinInt,
	"float": builtinFloat,
	"str":   builtinStr,
	"bool":  builtinBool,
	"min":   func(args []any) (any, error) { return extremum("min", args, -1) },
	"max":   func(args []any) (any, error) { return extremum("max", args, 1) },
	"len":   builtinLen,
	"round": builtinRound,
	"sqrt":  builtinSqrt,
	"ceil":  func(args []any) (any, error) { return intRounding("ceil", args, math.Ceil) },
	"floor": func(args []any) (any, error) { return intRounding("floor", args, math.Floor) },
	"abs":   builtinAbs,
}

// BuiltinNames returns the names of the functions callable in advanced mode.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	return names
}

func arity(name string, args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return types.Errorf(types.ErrEvaluation, "%s() takes %d argument(s), got %d", name, min, len(args))
		}
		return types.Errorf(types.ErrEvaluation, "%s() takes %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func builtinInt(args []any) (any, error) {
	if err := arity("int", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case int64:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, types.Errorf(types.ErrEvaluation, "cannot convert %v to int", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, types.Errorf(types.ErrEvaluation, "invalid literal for int(): %q", v)
		}
		return i, nil
	}
	return nil, types.Errorf(types.ErrEvaluation, "int() argument must be a number, string or bool, not %s", typeName(args[0]))
}

func builtinFloat(args []any) (any, error) {
	if err := arity("float", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, types.Errorf(types.ErrEvaluation, "could not convert string to float: %q", v)
		}
		return f, nil
	}
	return nil, types.Errorf(types.ErrEvaluation, "float() argument must be a number, string or bool, not %s", typeName(args[0]))
}

func builtinStr(args []any) (any, error) {
	if err := arity("str", args, 1, 1); err != nil {
		return nil, err
	}
	return formatValue(args[0]), nil
}

func builtinBool(args []any) (any, error) {
	if err := arity("bool", args, 1, 1); err != nil {
		return nil, err
	}
	return Truthy(args[0]), nil
}

func builtinLen(args []any) (any, error) {
	if err := arity("len", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case string:
		return int64(len([]rune(v))), nil
	case []any:
		return int64(len(v)), nil
	case map[string]any:
		return int64(len(v)), nil
	}
	return nil, types.Errorf(types.ErrEvaluation, "object of type %s has no len()", typeName(args[0]))
}

// extremum implements min (sign -1) and max (sign 1) over one list or several arguments.
func extremum(name string, args []any, sign int) (any, error) {
	values := args
	if len(args) == 1 {
		list, ok := args[0].([]any)
		if !ok {
			return nil, types.Errorf(types.ErrEvaluation, "%s() argument must be a list, not %s", name, typeName(args[0]))
		}
		values = list
	}
	if len(values) == 0 {
		return nil, types.Errorf(types.ErrEvaluation, "%s() arg is an empty sequence", name)
	}
	best := values[0]
	for _, v := range values[1:] {
		c, err := order(v, best)
		if err != nil {
			return nil, err
		}
		if c*sign > 0 {
			best = v
		}
	}
	return normalize(best), nil
}

func builtinRound(args []any) (any, error) {
	if err := arity("round", args, 1, 2); err != nil {
		return nil, err
	}
	x, ok := toFloat(args[0])
	if !ok {
		return nil, types.Errorf(types.ErrEvaluation, "round() argument must be a number, not %s", typeName(args[0]))
	}
	if len(args) == 1 {
		if i, isInt := args[0].(int64); isInt {
			return i, nil
		}
		return int64(math.RoundToEven(x)), nil
	}
	digits, ok := args[1].(int64)
	if !ok {
		return nil, types.Errorf(types.ErrEvaluation, "round() ndigits must be an int, not %s", typeName(args[1]))
	}
	scale := math.Pow(10, float64(digits))
	return math.RoundToEven(x*scale) / scale, nil
}

func builtinSqrt(args []any) (any, error) {
	if err := arity("sqrt", args, 1, 1); err != nil {
		return nil, err
	}
	x, ok := toFloat(args[0])
	if !ok {
		return nil, types.Errorf(types.ErrEvaluation, "sqrt() argument must be a number, not %s", typeName(args[0]))
	}
	if x < 0 {
		return nil, types.NewError(types.ErrEvaluation, "math domain error")
	}
	return math.Sqrt(x), nil
}

func intRounding(name string, args []any, fn func(float64) float64) (any, error) {
	if err := arity(name, args, 1, 1); err != nil {
		return nil, err
	}
	if i, ok := args[0].(int64); ok {
		return i, nil
	}
	x, ok := toFloat(args[0])
	if !ok {
		return nil, types.Errorf(types.ErrEvaluation, "%s() argument must be a number, not %s", name, typeName(args[0]))
	}
	return int64(fn(x)), nil
}

func builtinAbs(args []any) (any, error) {
	if err := arity("abs", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case int64:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	case float64:
		return math.Abs(v), nil
	}
	return nil, types.Errorf(types.ErrEvaluation, "bad operand type for abs(): %s", typeName(args[0]))
}

// formatValue renders a value the way str() does.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e16 {
			return strconv.FormatFloat(v, 'f', 1, 64)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok {
				parts[i] = strconv.Quote(s)
			} else {
				parts[i] = formatValue(item)
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("%v", v)
}
