package expr

import (
	"math"
	"reflect"
	"strings"

	"github.com/BaSui01/flowcore/types"
)

// evaluator walks a validated tree against a merged variable map.
// Host values are normalised on the way in: integers become int64, floats
// become float64, slices become []any and string-keyed maps become map[string]any.
type evaluator struct {
	vars map[string]any
}

func (e *evaluator) eval(n Node) (any, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil

	case *List:
		out := make([]any, 0, len(n.Items))
		for _, item := range n.Items {
			v, err := e.eval(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *Ident:
		v, ok := e.vars[n.Name]
		if !ok {
			return nil, types.Errorf(types.ErrEvaluation, "undefined variable %q", n.Name)
		}
		return normalize(v), nil

	case *Attr:
		x, err := e.eval(n.X)
		if err != nil {
			return nil, err
		}
		m, ok := x.(map[string]any)
		if !ok {
			return nil, types.Errorf(types.ErrEvaluation, "cannot access attribute %q on %s", n.Name, typeName(x))
		}
		v, ok := m[n.Name]
		if !ok {
			return nil, types.Errorf(types.ErrEvaluation, "missing key %q", n.Name)
		}
		return normalize(v), nil

	case *Index:
		x, err := e.eval(n.X)
		if err != nil {
			return nil, err
		}
		idx, err := e.eval(n.Index)
		if err != nil {
			return nil, err
		}
		return index(x, idx)

	case *Unary:
		x, err := e.eval(n.X)
		if err != nil {
			return nil, err
		}
		return unary(n.Op, x)

	case *Binary:
		left, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return arith(n.Op, left, right)

	case *Logical:
		left, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		lt := Truthy(left)
		if (n.Op == "||" && lt) || (n.Op == "&&" && !lt) {
			return lt, nil
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil

	case *Compare:
		left, err := e.eval(n.Operands[0])
		if err != nil {
			return nil, err
		}
		for i, op := range n.Ops {
			right, err := e.eval(n.Operands[i+1])
			if err != nil {
				return nil, err
			}
			ok, err := compare(op, left, right)
			if err != nil {
				return nil, err
			}
			if !ok {
				return false, nil
			}
			left = right
		}
		return true, nil

	case *Call:
		// validate guarantees Fn is an allow-listed identifier.
		name := n.Fn.(*Ident).Name
		fn := builtins[name]
		args := make([]any, 0, len(n.Args))
		for _, a := range n.Args {
			v, err := e.eval(a)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return fn(args)
	}

	return nil, types.Errorf(types.ErrSecurityViolation, "expression node %T is not allowed", n)
}

// =============================================================================
// 值语义
// =============================================================================

// normalize converts host values into the evaluator's value domain.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64, float64, []any, map[string]any:
		return v
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case float32:
		return float64(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out
	}
	return v
}

// Truthy reports the truth value of v: nil, false, zero numbers, empty
// strings, empty lists and empty maps are false.
func Truthy(v any) bool {
	switch x := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	}
	return reflect.TypeOf(v).String()
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func isNumber(v any) bool {
	_, ok := toFloat(v)
	return ok
}

// equal compares values structurally; values of unrelated types are unequal.
func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if isNumber(a) && isNumber(b) {
		ai, aInt := a.(int64)
		bi, bInt := b.(int64)
		if aInt && bInt {
			return ai == bi
		}
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		return af == bf
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// order returns -1, 0 or 1. Only numbers with numbers and strings with strings are ordered.
func order(a, b any) (int, error) {
	a, b = normalize(a), normalize(b)
	if isNumber(a) && isNumber(b) {
		ai, aInt := a.(int64)
		bi, bInt := b.(int64)
		if aInt && bInt {
			return cmp3(ai < bi, ai > bi), nil
		}
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		return cmp3(af < bf, af > bf), nil
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs), nil
	}
	return 0, types.Errorf(types.ErrEvaluation, "cannot order %s and %s", typeName(a), typeName(b))
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func compare(op string, left, right any) (bool, error) {
	switch op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "in":
		return contains(right, left)
	case "not in":
		ok, err := contains(right, left)
		return !ok, err
	}
	c, err := order(left, right)
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, types.Errorf(types.ErrSecurityViolation, "comparison %q is not allowed", op)
}

func contains(container, needle any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, item := range c {
			if equal(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, types.Errorf(types.ErrEvaluation, "'in <str>' requires str as left operand, not %s", typeName(needle))
		}
		return strings.Contains(c, s), nil
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}
		_, found := c[s]
		return found, nil
	}
	return false, types.Errorf(types.ErrEvaluation, "argument of type %s is not a container", typeName(container))
}

func index(x, idx any) (any, error) {
	switch c := x.(type) {
	case []any:
		i, err := position(idx, len(c))
		if err != nil {
			return nil, err
		}
		return normalize(c[i]), nil
	case string:
		runes := []rune(c)
		i, err := position(idx, len(runes))
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, types.Errorf(types.ErrEvaluation, "map keys must be str, not %s", typeName(idx))
		}
		v, found := c[key]
		if !found {
			return nil, types.Errorf(types.ErrEvaluation, "missing key %q", key)
		}
		return normalize(v), nil
	}
	return nil, types.Errorf(types.ErrEvaluation, "%s is not subscriptable", typeName(x))
}

// position resolves a possibly negative index against length n.
func position(idx any, n int) (int, error) {
	i, ok := idx.(int64)
	if !ok {
		return 0, types.Errorf(types.ErrEvaluation, "indices must be integers, not %s", typeName(idx))
	}
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, types.Errorf(types.ErrEvaluation, "index %d out of range", idx)
	}
	return int(i), nil
}

func unary(op string, x any) (any, error) {
	switch op {
	case "!":
		return !Truthy(x), nil
	case "-":
		switch v := x.(type) {
		case int64:
			if v == math.MinInt64 {
				return nil, errIntOverflow("-", v, 0)
			}
			return -v, nil
		case float64:
			return -v, nil
		}
	case "+":
		if isNumber(x) {
			return x, nil
		}
	}
	return nil, types.Errorf(types.ErrEvaluation, "bad operand type for unary %s: %s", op, typeName(x))
}

func errIntOverflow(op string, left, right int64) error {
	if op == "-" && right == 0 {
		return types.Errorf(types.ErrEvaluation, "integer overflow: -(%d)", left)
	}
	return types.Errorf(types.ErrEvaluation, "integer overflow: %d %s %d", left, op, right)
}

func arith(op string, left, right any) (any, error) {
	if op == "+" {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		if ll, ok := left.([]any); ok {
			if rl, ok := right.([]any); ok {
				out := make([]any, 0, len(ll)+len(rl))
				return append(append(out, ll...), rl...), nil
			}
		}
	}

	if !isNumber(left) || !isNumber(right) {
		return nil, types.Errorf(types.ErrEvaluation, "unsupported operand types for %s: %s and %s", op, typeName(left), typeName(right))
	}

	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	lf, _ := toFloat(left)
	rf, _ := toFloat(right)

	switch op {
	case "+":
		if lInt && rInt {
			sum := li + ri
			if (ri > 0 && sum < li) || (ri < 0 && sum > li) {
				return nil, errIntOverflow(op, li, ri)
			}
			return sum, nil
		}
		return lf + rf, nil
	case "-":
		if lInt && rInt {
			diff := li - ri
			if (ri < 0 && diff < li) || (ri > 0 && diff > li) {
				return nil, errIntOverflow(op, li, ri)
			}
			return diff, nil
		}
		return lf - rf, nil
	case "*":
		if lInt && rInt {
			if li != 0 && ri != 0 {
				if (li == -1 && ri == math.MinInt64) || (ri == -1 && li == math.MinInt64) {
					return nil, errIntOverflow(op, li, ri)
				}
				prod := li * ri
				if prod/ri != li {
					return nil, errIntOverflow(op, li, ri)
				}
				return prod, nil
			}
			return int64(0), nil
		}
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, types.NewError(types.ErrEvaluation, "division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, types.NewError(types.ErrEvaluation, "modulo by zero")
		}
		if lInt && rInt {
			m := li % ri
			if m != 0 && (m < 0) != (ri < 0) {
				m += ri
			}
			return m, nil
		}
		m := math.Mod(lf, rf)
		if m != 0 && (m < 0) != (rf < 0) {
			m += rf
		}
		return m, nil
	}
	return nil, types.Errorf(types.ErrSecurityViolation, "operator %q is not allowed", op)
}
