package subagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var errCancelled = errors.New("sub-agent cancelled")

// BaseSubAgent 生命周期包装器
// CREATED → RUNNING → COMPLETED | FAILED | CANCELLED
type BaseSubAgent struct {
	id        string
	agentType string
	runner    TaskRunner
	logger    *zap.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelCauseFunc
}

// NewBaseSubAgent 创建子代理实例
func NewBaseSubAgent(id, agentType string, runner TaskRunner, logger *zap.Logger) *BaseSubAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseSubAgent{
		id:        id,
		agentType: agentType,
		runner:    runner,
		status:    StatusCreated,
		logger: logger.With(
			zap.String("component", "subagent"),
			zap.String("agent_id", id),
			zap.String("agent_type", agentType),
		),
	}
}

// ID implements SubAgent.
func (a *BaseSubAgent) ID() string { return a.id }

// Type implements SubAgent.
func (a *BaseSubAgent) Type() string { return a.agentType }

// Status implements SubAgent.
func (a *BaseSubAgent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Cancel stops a running execution. Cancelling a finished agent is a no-op.
func (a *BaseSubAgent) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.status {
	case StatusCreated:
		a.status = StatusCancelled
	case StatusRunning:
		a.status = StatusCancelled
		a.cancel(errCancelled)
	}
}

// Execute runs the task. Panics, timeouts and runner errors become a failed Result.
func (a *BaseSubAgent) Execute(ctx context.Context, task Task, execCtx map[string]any) *Result {
	start := time.Now()
	result := &Result{AgentID: a.id, AgentType: a.agentType, TaskID: task.ID, StartedAt: start}

	if task.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, task.Timeout)
		defer cancelTimeout()
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	a.mu.Lock()
	if a.status != StatusCreated {
		status := a.status
		a.mu.Unlock()
		return a.finish(result, nil, fmt.Errorf("sub-agent is %s", status))
	}
	if a.runner == nil {
		a.status = StatusFailed
		a.mu.Unlock()
		return a.finish(result, nil, errors.New("sub-agent has no task runner"))
	}
	a.status = StatusRunning
	a.cancel = cancel
	a.mu.Unlock()

	a.logger.Debug("sub-agent started", zap.String("task_id", task.ID))

	type outcome struct {
		output any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("sub-agent panicked: %v", r)}
			}
		}()
		out, err := a.runner.Run(runCtx, task, execCtx)
		done <- outcome{output: out, err: err}
	}()

	var (
		output any
		err    error
	)
	select {
	case o := <-done:
		output, err = o.output, o.err
	case <-runCtx.Done():
		err = runCtx.Err()
	}
	if err != nil && runCtx.Err() != nil {
		err = context.Cause(runCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("sub-agent timed out after %s", task.Timeout)
		}
	}

	a.mu.Lock()
	switch {
	case a.status == StatusCancelled:
		err = errCancelled
	case err != nil:
		a.status = StatusFailed
	default:
		a.status = StatusCompleted
	}
	a.mu.Unlock()

	return a.finish(result, output, err)
}

func (a *BaseSubAgent) finish(result *Result, output any, err error) *Result {
	result.CompletedAt = time.Now()
	result.ExecutionTime = result.CompletedAt.Sub(result.StartedAt)
	if err != nil {
		result.Error = err.Error()
		a.logger.Debug("sub-agent failed", zap.Duration("duration", result.ExecutionTime), zap.Error(err))
		return result
	}
	result.Success = true
	result.Output = output
	a.logger.Debug("sub-agent completed", zap.Duration("duration", result.ExecutionTime))
	return result
}
