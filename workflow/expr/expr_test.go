package expr

import (
	"testing"

	"github.com/BaSui01/flowcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Evaluate unit tests
// =============================================================================

func TestEvaluator_Evaluate(t *testing.T) {
	ev := New()

	tests := []struct {
		name     string
		expr     string
		vars     map[string]any
		expected bool
	}{
		// --- Comparison operators ---
		{name: "greater than", expr: `score > 0.8`, vars: map[string]any{"score": 0.9}, expected: true},
		{name: "greater than false", expr: `score > 0.8`, vars: map[string]any{"score": 0.5}, expected: false},
		{name: "equal string", expr: `status == "active"`, vars: map[string]any{"status": "active"}, expected: true},
		{name: "single quoted string", expr: `status == 'active'`, vars: map[string]any{"status": "active"}, expected: true},
		{name: "not equal", expr: `count != 0`, vars: map[string]any{"count": 5}, expected: true},
		{name: "int and float equal", expr: `count == 10.0`, vars: map[string]any{"count": 10}, expected: true},
		{name: "chained comparison", expr: `0 < x <= 10`, vars: map[string]any{"x": 10}, expected: true},
		{name: "chained comparison false", expr: `0 < x <= 10`, vars: map[string]any{"x": 11}, expected: false},

		// --- Logical operators ---
		{name: "and symbols", expr: `a > 1 && b < 5`, vars: map[string]any{"a": 2, "b": 3}, expected: true},
		{name: "and keyword", expr: `a > 1 and b < 5`, vars: map[string]any{"a": 2, "b": 9}, expected: false},
		{name: "or keyword", expr: `a > 10 or b < 5`, vars: map[string]any{"a": 2, "b": 3}, expected: true},
		{name: "not keyword", expr: `not done`, vars: map[string]any{"done": false}, expected: true},
		{name: "bang", expr: `!(a == 1)`, vars: map[string]any{"a": 1}, expected: false},
		{name: "short circuit skips undefined", expr: `false && missing > 1`, expected: false},
		{name: "or short circuit skips undefined", expr: `true || missing`, expected: true},

		// --- Membership ---
		{name: "in list", expr: `"b" in tags`, vars: map[string]any{"tags": []string{"a", "b"}}, expected: true},
		{name: "not in list", expr: `"z" not in tags`, vars: map[string]any{"tags": []any{"a", "b"}}, expected: true},
		{name: "in string", expr: `"err" in message`, vars: map[string]any{"message": "stderr output"}, expected: true},
		{name: "in map keys", expr: `"k" in data`, vars: map[string]any{"data": map[string]any{"k": 1}}, expected: true},
		{name: "in list literal", expr: `status in ["ok", "done"]`, vars: map[string]any{"status": "done"}, expected: true},

		// --- Access ---
		{name: "attribute", expr: `result.score >= 0.5`, vars: map[string]any{"result": map[string]any{"score": 0.7}}, expected: true},
		{name: "index list", expr: `items[0] == "x"`, vars: map[string]any{"items": []any{"x", "y"}}, expected: true},
		{name: "negative index", expr: `items[-1] == "y"`, vars: map[string]any{"items": []any{"x", "y"}}, expected: true},
		{name: "index map", expr: `data["a b"] == 1`, vars: map[string]any{"data": map[string]any{"a b": 1}}, expected: true},
		{name: "nested", expr: `r.items[1].id == 7`, vars: map[string]any{"r": map[string]any{"items": []any{map[string]any{"id": 1}, map[string]any{"id": 7}}}}, expected: true},

		// --- Arithmetic ---
		{name: "arithmetic precedence", expr: `1 + 2 * 3 == 7`, expected: true},
		{name: "division yields float", expr: `7 / 2 == 3.5`, expected: true},
		{name: "modulo", expr: `n % 2 == 0`, vars: map[string]any{"n": 4}, expected: true},
		{name: "negative modulo follows divisor sign", expr: `-7 % 3 == 2`, expected: true},
		{name: "unary minus", expr: `-x < 0`, vars: map[string]any{"x": 3}, expected: true},
		{name: "string concat", expr: `a + b == "foobar"`, vars: map[string]any{"a": "foo", "b": "bar"}, expected: true},

		// --- Truthiness ---
		{name: "empty list falsy", expr: `items`, vars: map[string]any{"items": []any{}}, expected: false},
		{name: "non-empty string truthy", expr: `name`, vars: map[string]any{"name": "x"}, expected: true},
		{name: "zero falsy", expr: `n`, vars: map[string]any{"n": 0}, expected: false},
		{name: "nil falsy", expr: `v`, vars: map[string]any{"v": nil}, expected: false},
		{name: "null literal", expr: `v == null`, vars: map[string]any{"v": nil}, expected: true},
		{name: "unrelated types unequal", expr: `n == "1"`, vars: map[string]any{"n": 1}, expected: false},
		{name: "bool is not number", expr: `flag == 1`, vars: map[string]any{"flag": true}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(tt.expr, Scope{Context: tt.vars})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluator_BlankExpression(t *testing.T) {
	ev := New()

	ok, err := ev.Evaluate("   ", Scope{})
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := ev.EvaluateExpression("", Scope{})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEvaluator_EvaluateExpression(t *testing.T) {
	ev := New(WithDefaultMode(ModeAdvanced))

	tests := []struct {
		expr     string
		vars     map[string]any
		expected any
	}{
		{expr: `1 + 2`, expected: int64(3)},
		{expr: `10 / 4`, expected: 2.5},
		{expr: `price * qty`, vars: map[string]any{"price": 2.5, "qty": 4}, expected: 10.0},
		{expr: `[1, "a", true]`, expected: []any{int64(1), "a", true}},
		{expr: `len(items)`, vars: map[string]any{"items": []int{1, 2, 3}}, expected: int64(3)},
		{expr: `len("héllo")`, expected: int64(5)},
		{expr: `max(scores)`, vars: map[string]any{"scores": []any{1, 9, 4}}, expected: int64(9)},
		{expr: `min(3, 1.5, 2)`, expected: 1.5},
		{expr: `round(2.5)`, expected: int64(2)},
		{expr: `round(3.14159, 2)`, expected: 3.14},
		{expr: `sqrt(16)`, expected: 4.0},
		{expr: `ceil(1.2)`, expected: int64(2)},
		{expr: `floor(-1.2)`, expected: int64(-2)},
		{expr: `abs(-4)`, expected: int64(4)},
		{expr: `int("42") + 1`, expected: int64(43)},
		{expr: `float("0.5")`, expected: 0.5},
		{expr: `str(3) + "x"`, expected: "3x"},
		{expr: `str(2.0)`, expected: "2.0"},
		{expr: `bool([])`, expected: false},
		{expr: `[1] + [2]`, expected: []any{int64(1), int64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ev.EvaluateExpression(tt.expr, Scope{Context: tt.vars})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluator_ContextPrecedence(t *testing.T) {
	ev := New()
	scope := Scope{
		Context:  map[string]any{"x": 1},
		Workflow: map[string]any{"x": 2, "w": "wf"},
		Global:   map[string]any{"x": 3, "g": "global"},
		Item:     map[string]any{"x": 4},
	}

	ok, err := ev.Evaluate("x == 4", scope)
	require.NoError(t, err)
	assert.True(t, ok, "item layer wins")

	scope.Item = nil
	ok, err = ev.Evaluate("x == 1", scope)
	require.NoError(t, err)
	assert.True(t, ok, "context layer wins without item")

	scope.Context = nil
	ok, err = ev.Evaluate(`x == 2 and w == "wf" and g == "global"`, scope)
	require.NoError(t, err)
	assert.True(t, ok, "workflow layer beats global")
}

func TestEvaluator_ScalarItemBinding(t *testing.T) {
	ev := New()
	ok, err := ev.Evaluate(`item == "b"`, Scope{Item: "b", Context: map[string]any{"item": "a"}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_EvaluationErrors(t *testing.T) {
	ev := New(WithDefaultMode(ModeAdvanced))

	tests := []struct {
		name string
		expr string
		vars map[string]any
	}{
		{name: "undefined variable", expr: `missing > 1`},
		{name: "missing key", expr: `r.nope == 1`, vars: map[string]any{"r": map[string]any{}}},
		{name: "attribute on scalar", expr: `n.x`, vars: map[string]any{"n": 1}},
		{name: "index out of range", expr: `items[5]`, vars: map[string]any{"items": []any{1}}},
		{name: "ordering mismatched types", expr: `n > "a"`, vars: map[string]any{"n": 1}},
		{name: "ordering with nil", expr: `v < 1`, vars: map[string]any{"v": nil}},
		{name: "division by zero", expr: `1 / 0`},
		{name: "syntax error", expr: `a ==`},
		{name: "unbalanced paren", expr: `(a == 1`, vars: map[string]any{"a": 1}},
		{name: "unterminated string", expr: `a == "x`},
		{name: "bad character", expr: `a # 1`},
		{name: "empty min", expr: `min([])`},
		{name: "bad int literal", expr: `int("x")`},
		{name: "sqrt negative", expr: `sqrt(-1)`},
		{name: "wrong arity", expr: `len(1, 2)`},
		{name: "power operator", expr: `2 ** 10`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ev.EvaluateExpression(tt.expr, Scope{Context: tt.vars})
			require.Error(t, err)
			assert.True(t, types.IsEvaluationError(err), "want evaluation error, got %v", err)
			assert.False(t, types.IsSecurityViolation(err))
		})
	}
}

func TestEvaluator_CompileCache(t *testing.T) {
	ev := New(WithCacheSize(2))

	p1, err := ev.Compile("a == 1")
	require.NoError(t, err)
	p1Again, err := ev.Compile("  a == 1 ")
	require.NoError(t, err)
	assert.Same(t, p1, p1Again)

	_, err = ev.Compile("b == 2")
	require.NoError(t, err)
	_, err = ev.Compile("c == 3")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.CacheLen())

	// a == 1 was least recently used and evicted
	p1New, err := ev.Compile("a == 1")
	require.NoError(t, err)
	assert.NotSame(t, p1, p1New)

	v, err := ev.EvaluateCompiled(p1New, Scope{Context: map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Equal(t, "a == 1", p1New.Source())
}

func TestEvaluator_CompileErrorsAreNotCached(t *testing.T) {
	ev := New()
	_, err := ev.Compile("import os")
	require.Error(t, err)
	assert.Equal(t, 0, ev.CacheLen())
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeBasic, ParseMode("basic"))
	assert.Equal(t, ModeAdvanced, ParseMode(" Advanced "))
	assert.Equal(t, ModeDefault, ParseMode(""))
	assert.Equal(t, "advanced", ModeAdvanced.String())
}
