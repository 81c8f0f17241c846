package optimizer

import (
	"testing"

	"github.com/BaSui01/flowcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs(items ...map[string]any) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func TestResultAggregator_Merge(t *testing.T) {
	results := map[string]any{
		"retrieve_b": map[string]any{"docs": docs(
			map[string]any{"id": "x", "score": 0.5},
			map[string]any{"id": "y", "score": 0.9},
		)},
		"retrieve_a": map[string]any{"docs": docs(
			map[string]any{"id": "x", "score": 0.7},
		)},
		"broken": "not a map",
	}
	a := NewResultAggregator(nil)

	t.Run("concat keeps node id order", func(t *testing.T) {
		got, err := a.Merge(results, "docs", MergeConcat, 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 0.7, got[0].(map[string]any)["score"])
	})

	t.Run("sorted by score", func(t *testing.T) {
		got, err := a.Merge(results, "docs", MergeSortedByScore, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 0.9, got[0].(map[string]any)["score"])
		assert.Equal(t, 0.7, got[1].(map[string]any)["score"])
	})

	t.Run("deduplicate by id keeps first", func(t *testing.T) {
		got, err := a.Merge(results, "docs", MergeDeduplicate, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "x", got[0].(map[string]any)["id"])
		assert.Equal(t, 0.7, got[0].(map[string]any)["score"])
		assert.Equal(t, "y", got[1].(map[string]any)["id"])
	})

	t.Run("missing field yields empty list", func(t *testing.T) {
		got, err := a.Merge(results, "nope", MergeConcat, 0)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := a.Merge(results, "docs", MergeStrategy("random"), 0)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
	})
}

func TestResultAggregator_DeduplicateScalars(t *testing.T) {
	a := NewResultAggregator(nil)
	got, err := a.Merge(map[string]any{
		"a": map[string]any{"tags": []string{"go", "redis"}},
		"b": map[string]any{"tags": []string{"redis", "otel"}},
	}, "tags", MergeDeduplicate, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"go", "redis", "otel"}, got)
}

func TestResultAggregator_AggregateWithErrors(t *testing.T) {
	a := NewResultAggregator(nil)
	agg := a.AggregateWithErrors(map[string]any{
		"ok":     map[string]any{"value": 1},
		"failed": map[string]any{"error": "timeout"},
		"scalar": 42,
	})
	assert.Len(t, agg.Successes, 2)
	assert.Len(t, agg.Failures, 1)
	assert.Contains(t, agg.Failures, "failed")
	assert.Equal(t, "1 of 3 nodes failed", agg.Summary)

	copied := a.Aggregate(map[string]any{"k": 1})
	assert.Equal(t, map[string]any{"k": 1}, copied)
}
