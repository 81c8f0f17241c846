package optimizer

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/BaSui01/flowcore/types"
	"go.uber.org/zap"
)

// MergeStrategy selects how Merge combines list fields.
type MergeStrategy string

const (
	// MergeSortedByScore orders items by descending "score"
	MergeSortedByScore MergeStrategy = "sorted_by_score"
	// MergeDeduplicate keeps the first item per "id" (or per string form)
	MergeDeduplicate MergeStrategy = "deduplicate"
	// MergeConcat keeps every item in node-id order
	MergeConcat MergeStrategy = "concat"
)

// AggregatedResult partitions node results by outcome.
type AggregatedResult struct {
	Successes map[string]any `json:"successes"`
	Failures  map[string]any `json:"failures"`
	Summary   string         `json:"summary"`
}

// ResultAggregator 结果聚合器
// 合并并行节点的输出，并区分成功与失败
type ResultAggregator struct {
	logger *zap.Logger
}

// NewResultAggregator 创建结果聚合器
func NewResultAggregator(logger *zap.Logger) *ResultAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultAggregator{logger: logger.With(zap.String("component", "result_aggregator"))}
}

// Aggregate returns a copy of results keyed by node id.
func (a *ResultAggregator) Aggregate(results map[string]any) map[string]any {
	out := make(map[string]any, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}

// Merge flattens the list stored under field in every result (in sorted node
// id order) and applies strategy. topK > 0 truncates the merged list.
func (a *ResultAggregator) Merge(results map[string]any, field string, strategy MergeStrategy, topK int) ([]any, error) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var items []any
	for _, id := range ids {
		m, ok := results[id].(map[string]any)
		if !ok {
			continue
		}
		list := listOf(m[field])
		if list == nil && m[field] != nil {
			a.logger.Debug("merge field is not a list, skipping", zap.String("node_id", id), zap.String("field", field))
		}
		items = append(items, list...)
	}

	switch strategy {
	case MergeSortedByScore:
		sort.SliceStable(items, func(i, j int) bool { return score(items[i]) > score(items[j]) })
	case MergeDeduplicate:
		seen := make(map[string]bool, len(items))
		unique := items[:0:0]
		for _, item := range items {
			key := dedupKey(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			unique = append(unique, item)
		}
		items = unique
	case MergeConcat:
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown merge strategy %q", strategy)
	}

	if topK > 0 && len(items) > topK {
		items = items[:topK]
	}
	if items == nil {
		items = []any{}
	}
	return items, nil
}

// AggregateWithErrors splits results on the presence of an "error" key.
func (a *ResultAggregator) AggregateWithErrors(results map[string]any) AggregatedResult {
	agg := AggregatedResult{
		Successes: make(map[string]any),
		Failures:  make(map[string]any),
	}
	for id, r := range results {
		if m, ok := r.(map[string]any); ok {
			if _, failed := m["error"]; failed {
				agg.Failures[id] = r
				continue
			}
		}
		agg.Successes[id] = r
	}
	agg.Summary = fmt.Sprintf("%d of %d nodes failed", len(agg.Failures), len(results))
	return agg
}

func listOf(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	case string:
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func score(item any) float64 {
	m, ok := item.(map[string]any)
	if !ok {
		return 0
	}
	switch s := m["score"].(type) {
	case float64:
		return s
	case float32:
		return float64(s)
	case int:
		return float64(s)
	case int64:
		return float64(s)
	}
	return 0
}

func dedupKey(item any) string {
	if m, ok := item.(map[string]any); ok {
		if id, ok := m["id"]; ok && id != nil {
			return fmt.Sprintf("id:%v", id)
		}
	}
	return fmt.Sprintf("%v", item)
}
