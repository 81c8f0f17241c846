package workflow

import (
	"sort"

	"github.com/BaSui01/flowcore/types"
)

type executorConstructor func(node NodeExecutor, opts []Option) Executor

// executorTable maps every supported kind to its constructor.
var executorTable = map[ExecutorKind]executorConstructor{
	KindCondition: func(_ NodeExecutor, opts []Option) Executor { return NewConditionExecutor(opts...) },
	KindLoop:      func(node NodeExecutor, opts []Option) Executor { return NewLoopExecutor(node, opts...) },
	KindParallel:  func(node NodeExecutor, opts []Option) Executor { return NewParallelExecutor(node, opts...) },
}

// ExecutorFactory 控制流执行器工厂
// 所有执行器共享同一个表达式求值器，以复用编译缓存
type ExecutorFactory struct {
	node NodeExecutor
	opts []Option
}

// NewExecutorFactory 创建执行器工厂，node 为循环体与并行分支的调用能力
func NewExecutorFactory(node NodeExecutor, opts ...Option) *ExecutorFactory {
	o := newOptions(opts)
	shared := append(append([]Option{}, opts...), WithEvaluator(o.evaluator))
	return &ExecutorFactory{node: node, opts: shared}
}

// Create builds the executor for kind.
func (f *ExecutorFactory) Create(kind ExecutorKind) (Executor, error) {
	ctor, ok := executorTable[kind]
	if !ok {
		return nil, types.Errorf(types.ErrUnknownExecutor, "unknown executor kind %q", kind)
	}
	return ctor(f.node, f.opts), nil
}

// Supports reports whether kind has an executor.
func (f *ExecutorFactory) Supports(kind ExecutorKind) bool {
	_, ok := executorTable[kind]
	return ok
}

// Kinds lists the supported kinds in sorted order.
func (f *ExecutorFactory) Kinds() []ExecutorKind {
	kinds := make([]ExecutorKind, 0, len(executorTable))
	for k := range executorTable {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
