package optimizer

import (
	"context"
	"sync"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/types"
	"github.com/BaSui01/flowcore/workflow"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// InvokeFunc runs one node and returns its output.
type InvokeFunc func(ctx context.Context, nodeID string) (map[string]any, error)

// ExecuteOptions controls one ExecuteParallel batch.
type ExecuteOptions struct {
	// MaxConcurrency caps in-flight nodes; <= 0 means one slot per node
	MaxConcurrency int
	// FailFast aborts the batch on the first failure
	FailFast bool
	// LaunchRate limits node launches per second; 0 disables limiting
	LaunchRate float64
	// LaunchBurst is the limiter burst size
	LaunchBurst int
}

// ExecuteOptionsFrom maps the engine configuration to batch options.
func ExecuteOptionsFrom(cfg config.EngineConfig) ExecuteOptions {
	return ExecuteOptions{
		MaxConcurrency: cfg.MaxConcurrency,
		FailFast:       cfg.FailFast,
		LaunchRate:     cfg.LaunchRate,
		LaunchBurst:    cfg.LaunchBurst,
	}
}

// ParallelOptimizer 并行优化器
// 按拓扑分层识别可并行的节点组，并在并发上限内执行一组节点
type ParallelOptimizer struct {
	logger *zap.Logger
}

// NewParallelOptimizer 创建并行优化器
func NewParallelOptimizer(logger *zap.Logger) *ParallelOptimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParallelOptimizer{
		logger: logger.With(zap.String("component", "parallel_optimizer")),
	}
}

// IdentifyParallelGroups layers the graph with Kahn's algorithm. Every group
// holds the nodes whose dependencies are all in earlier groups, in declaration
// order. A residual cycle is broken by forcing its first remaining node into
// a group of its own.
func IdentifyParallelGroups(g *workflow.Graph) [][]string {
	if g == nil || len(g.Nodes) == 0 {
		return nil
	}

	order := g.NodeIDs()
	inDegree := make(map[string]int, len(order))
	adjacency := make(map[string][]string, len(order))
	for _, id := range order {
		inDegree[id] = 0
	}
	for _, e := range g.Edges {
		if _, ok := inDegree[e.Source]; !ok {
			continue
		}
		if _, ok := inDegree[e.Target]; !ok {
			continue
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		inDegree[e.Target]++
	}

	done := make(map[string]bool, len(order))
	var groups [][]string
	for len(done) < len(order) {
		var frontier []string
		for _, id := range order {
			if !done[id] && inDegree[id] == 0 {
				frontier = append(frontier, id)
			}
		}
		if len(frontier) == 0 {
			for _, id := range order {
				if !done[id] {
					frontier = []string{id}
					break
				}
			}
		}

		for _, id := range frontier {
			done[id] = true
			for _, next := range adjacency[id] {
				inDegree[next]--
			}
		}
		groups = append(groups, frontier)
	}
	return groups
}

// IdentifyParallelGroups is the method form of the package function.
func (o *ParallelOptimizer) IdentifyParallelGroups(g *workflow.Graph) [][]string {
	groups := IdentifyParallelGroups(g)
	o.logger.Debug("parallel groups identified", zap.Int("groups", len(groups)))
	return groups
}

// ExecuteParallel runs nodeIDs concurrently within opts.MaxConcurrency.
// Without FailFast every failure is recorded as {error: message} under its
// node id and the returned error is nil unless ctx ends before all nodes
// launched. With FailFast the first failure cancels the batch and is returned.
func (o *ParallelOptimizer) ExecuteParallel(ctx context.Context, nodeIDs []string, invoke InvokeFunc, opts ExecuteOptions) (map[string]any, error) {
	results := make(map[string]any, len(nodeIDs))
	if len(nodeIDs) == 0 {
		return results, nil
	}

	limit := opts.MaxConcurrency
	if limit <= 0 || limit > len(nodeIDs) {
		limit = len(nodeIDs)
	}
	sem := semaphore.NewWeighted(int64(limit))

	var limiter *rate.Limiter
	if opts.LaunchRate > 0 {
		burst := opts.LaunchBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.LaunchRate), burst)
	}

	g := &errgroup.Group{}
	runCtx := ctx
	if opts.FailFast {
		g, runCtx = errgroup.WithContext(ctx)
	}

	var (
		mu        sync.Mutex
		launchErr error
	)
	for _, id := range nodeIDs {
		if limiter != nil {
			if err := limiter.Wait(runCtx); err != nil {
				launchErr = err
				break
			}
		}
		if err := sem.Acquire(runCtx, 1); err != nil {
			launchErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			out, err := safeInvoke(runCtx, invoke, id)
			if err != nil {
				if opts.FailFast {
					return types.Errorf(types.ErrNodeFailed, "node %s failed", id).WithCause(err)
				}
				o.logger.Warn("node failed", zap.String("node_id", id), zap.Error(err))
				mu.Lock()
				results[id] = map[string]any{"error": err.Error()}
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results[id] = out
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if launchErr != nil {
		return results, types.NewError(types.ErrCancelled, "batch cancelled before all nodes launched").WithCause(launchErr)
	}
	return results, nil
}

func safeInvoke(ctx context.Context, invoke InvokeFunc, id string) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrNodeFailed, "node %s panicked: %v", id, r)
		}
	}()
	return invoke(ctx, id)
}
