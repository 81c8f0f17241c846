package workflow

import (
	"context"

	"github.com/BaSui01/flowcore/internal/ctxkeys"
)

// WithGlobalVars attaches global variables, the lowest-priority layer every
// expression evaluated under ctx can read.
func WithGlobalVars(ctx context.Context, vars map[string]any) context.Context {
	return ctxkeys.WithGlobalVars(ctx, vars)
}

// GlobalVars returns the global variables attached to ctx. The map must not be modified.
func GlobalVars(ctx context.Context) map[string]any {
	return ctxkeys.GlobalVars(ctx)
}

// WithWorkflowVars attaches workflow-scoped variables. They override globals
// and are overridden by the caller's context map and the loop item.
// PlanRunner sets this layer from Graph.Variables unless ctx already carries one.
func WithWorkflowVars(ctx context.Context, vars map[string]any) context.Context {
	return ctxkeys.WithWorkflowVars(ctx, vars)
}

// WorkflowVars returns the workflow variables attached to ctx. The map must not be modified.
func WorkflowVars(ctx context.Context) map[string]any {
	return ctxkeys.WorkflowVars(ctx)
}
