package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey      contextKey = "trace_id"
	runIDKey        contextKey = "run_id"
	sessionIDKey    contextKey = "session_id"
	workflowVarsKey contextKey = "workflow_vars"
	globalVarsKey   contextKey = "global_vars"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithSessionID 设置子代理会话 ID
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID 获取子代理会话 ID
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithWorkflowVars 设置工作流级变量（表达式求值的第二层上下文）
func WithWorkflowVars(ctx context.Context, vars map[string]any) context.Context {
	return context.WithValue(ctx, workflowVarsKey, vars)
}

// WorkflowVars 获取工作流级变量，调用方不得修改返回的 map
func WorkflowVars(ctx context.Context) map[string]any {
	v, _ := ctx.Value(workflowVarsKey).(map[string]any)
	return v
}

// WithGlobalVars 设置全局变量（表达式求值的最底层上下文）
func WithGlobalVars(ctx context.Context, vars map[string]any) context.Context {
	return context.WithValue(ctx, globalVarsKey, vars)
}

// GlobalVars 获取全局变量，调用方不得修改返回的 map
func GlobalVars(ctx context.Context) map[string]any {
	v, _ := ctx.Value(globalVarsKey).(map[string]any)
	return v
}
