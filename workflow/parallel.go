package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/flowcore/internal/metrics"
	"github.com/BaSui01/flowcore/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Parallel wait modes
const (
	WaitForAll   = "all"
	WaitForFirst = "first"
)

// Markers substituted for branch results.
const (
	ErrorMarkerTimeout  = "timeout"
	ErrorMarkerNoResult = "no_result"
)

// branchOutcome is the single write of one branch.
type branchOutcome struct {
	key    string
	output map[string]any
	err    error
}

// ParallelExecutor 并行节点执行器
// wait_for=all 汇总全部分支，wait_for=first 竞速取第一个成功结果并取消其余分支
type ParallelExecutor struct {
	node           NodeExecutor
	defaultTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Collector
}

// NewParallelExecutor 创建并行执行器
func NewParallelExecutor(node NodeExecutor, opts ...Option) *ParallelExecutor {
	o := newOptions(opts)
	return &ParallelExecutor{
		node:           node,
		defaultTimeout: o.defaultTimeout,
		logger:         o.logger.With(zap.String("component", "parallel_executor")),
		metrics:        o.metrics,
	}
}

// Execute fans out to every configured branch.
func (e *ParallelExecutor) Execute(ctx context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	var cfg ParallelConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Branches {
		if cfg.Branches[i].Node == "" {
			return nil, types.Errorf(types.ErrInvalidConfig, "parallel branch %d has no node", i)
		}
		if cfg.Branches[i].OutputKey == "" {
			cfg.Branches[i].OutputKey = cfg.Branches[i].Node
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = e.defaultTimeout
	}

	e.logger.Debug("executing parallel branches",
		zap.Int("branches", len(cfg.Branches)),
		zap.String("wait_for", cfg.WaitFor),
		zap.Bool("fail_fast", cfg.FailFast),
	)

	switch cfg.WaitFor {
	case "", WaitForAll:
		if cfg.FailFast {
			return e.allFailFast(ctx, cfg, inputs)
		}
		return e.allCollect(ctx, cfg, inputs), nil
	case WaitForFirst:
		return e.first(ctx, cfg, inputs), nil
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown wait_for %q", cfg.WaitFor)
	}
}

// allCollect runs every branch and records failures as {error: reason}.
func (e *ParallelExecutor) allCollect(ctx context.Context, cfg ParallelConfig, inputs map[string]any) map[string]any {
	outcomes := make(chan branchOutcome, len(cfg.Branches))
	var wg sync.WaitGroup
	for _, b := range cfg.Branches {
		wg.Add(1)
		go func(b ParallelBranch) {
			defer wg.Done()
			out, err := e.runBranch(ctx, b, inputs, cfg.Timeout)
			outcomes <- branchOutcome{key: b.OutputKey, output: out, err: err}
		}(b)
	}
	wg.Wait()
	close(outcomes)

	results := make(map[string]any, len(cfg.Branches))
	for o := range outcomes {
		if o.err != nil {
			results[o.key] = errorMarker(o.err)
			e.metrics.RecordBranchOutcome(WaitForAll, "error")
			e.logger.Warn("branch failed", zap.String("branch", o.key), zap.Error(o.err))
			continue
		}
		results[o.key] = o.output
		e.metrics.RecordBranchOutcome(WaitForAll, "success")
	}
	return results
}

// allFailFast aborts the join on the first failure and cancels the remaining branches.
func (e *ParallelExecutor) allFailFast(ctx context.Context, cfg ParallelConfig, inputs map[string]any) (map[string]any, error) {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	results := make(map[string]any, len(cfg.Branches))

	for _, b := range cfg.Branches {
		g.Go(func() error {
			out, err := e.runBranch(gctx, b, inputs, cfg.Timeout)
			if err != nil {
				e.metrics.RecordBranchOutcome(WaitForAll, "error")
				return types.Errorf(types.ErrBranchFailed, "branch %s failed", b.OutputKey).WithCause(err)
			}
			e.metrics.RecordBranchOutcome(WaitForAll, "success")
			mu.Lock()
			results[b.OutputKey] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("parallel execution aborted", zap.Error(err))
		return nil, err
	}
	return results, nil
}

// first races the branches; the first success wins and the rest are cancelled.
func (e *ParallelExecutor) first(ctx context.Context, cfg ParallelConfig, inputs map[string]any) map[string]any {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		raceCtx, cancelTimeout = context.WithTimeout(raceCtx, cfg.Timeout)
		defer cancelTimeout()
	}

	outcomes := make(chan branchOutcome, len(cfg.Branches))
	for _, b := range cfg.Branches {
		go func(b ParallelBranch) {
			out, err := e.runBranch(raceCtx, b, inputs, 0)
			outcomes <- branchOutcome{key: b.OutputKey, output: out, err: err}
		}(b)
	}

race:
	for pending := len(cfg.Branches); pending > 0; pending-- {
		select {
		case o := <-outcomes:
			if o.err != nil {
				e.logger.Debug("racing branch failed", zap.String("branch", o.key), zap.Error(o.err))
				continue
			}
			cancel()
			e.metrics.RecordBranchOutcome(WaitForFirst, "winner")
			return map[string]any{"winner": o.output, "winner_branch": o.key}
		case <-raceCtx.Done():
			break race
		}
	}

	e.metrics.RecordBranchOutcome(WaitForFirst, ErrorMarkerNoResult)
	return map[string]any{"error": ErrorMarkerNoResult}
}

// runBranch invokes one branch node, racing it against timeout and ctx.
func (e *ParallelExecutor) runBranch(ctx context.Context, b ParallelBranch, inputs map[string]any, timeout time.Duration) (map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	in := copyInputs(inputs, len(b.Inputs))
	for k, v := range b.Inputs {
		in[k] = v
	}

	done := make(chan branchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- branchOutcome{err: types.Errorf(types.ErrNodeFailed, "node %s panicked: %v", b.Node, r)}
			}
		}()
		out, err := e.node.Execute(ctx, b.Node, in)
		done <- branchOutcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.Errorf(types.ErrTimeout, "branch %s timed out", b.OutputKey).WithCause(ctx.Err())
		}
		return nil, types.Errorf(types.ErrCancelled, "branch %s cancelled", b.OutputKey).WithCause(ctx.Err())
	}
}

// errorMarker maps a branch failure to its {error: reason} entry.
func errorMarker(err error) map[string]any {
	if types.HasCode(err, types.ErrTimeout) {
		return map[string]any{"error": ErrorMarkerTimeout}
	}
	return map[string]any{"error": err.Error()}
}
