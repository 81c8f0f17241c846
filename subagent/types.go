package subagent

import (
	"context"
	"time"

	"github.com/BaSui01/flowcore/eventbus"
	"github.com/google/uuid"
)

// Status 子代理生命周期状态
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task 子代理任务描述，创建后不再修改
type Task struct {
	ID        string         `json:"id"`
	AgentType string         `json:"agent_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Priority  int            `json:"priority"`
	// Timeout 为 0 时使用编排器默认超时
	Timeout          time.Duration `json:"timeout"`
	CreatedAt        time.Time     `json:"created_at"`
	ParentWorkflowID string        `json:"parent_workflow_id,omitempty"`
}

// NewTask 创建任务
func NewTask(agentType string, payload map[string]any) Task {
	return Task{
		ID:        uuid.NewString(),
		AgentType: agentType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Result 一次执行的结果
type Result struct {
	AgentID       string        `json:"agent_id"`
	AgentType     string        `json:"agent_type"`
	TaskID        string        `json:"task_id,omitempty"`
	Success       bool          `json:"success"`
	Output        any           `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// TaskRunner 子代理的具体任务逻辑
type TaskRunner interface {
	Run(ctx context.Context, task Task, execCtx map[string]any) (any, error)
}

// TaskRunnerFunc 函数适配器
type TaskRunnerFunc func(ctx context.Context, task Task, execCtx map[string]any) (any, error)

// Run implements TaskRunner.
func (f TaskRunnerFunc) Run(ctx context.Context, task Task, execCtx map[string]any) (any, error) {
	return f(ctx, task, execCtx)
}

// SubAgent 一个任务对应一个实例，结果提取后即丢弃
type SubAgent interface {
	ID() string
	Type() string
	Status() Status
	// Execute never returns an error; failures are reported in the Result.
	Execute(ctx context.Context, task Task, execCtx map[string]any) *Result
	Cancel()
}

// SpawnEvent 请求编排器执行一个子代理
type SpawnEvent struct {
	AgentType  string
	Payload    map[string]any
	Context    map[string]any
	SessionID  string
	Timestamp_ time.Time
}

func (e *SpawnEvent) Timestamp() time.Time     { return e.Timestamp_ }
func (e *SpawnEvent) Type() eventbus.EventType { return eventbus.EventSubAgentSpawn }

// CompletedEvent 子代理执行结束
type CompletedEvent struct {
	AgentID    string
	AgentType  string
	SessionID  string
	Success    bool
	Output     any
	Error      string
	Duration   time.Duration
	Timestamp_ time.Time
}

func (e *CompletedEvent) Timestamp() time.Time     { return e.Timestamp_ }
func (e *CompletedEvent) Type() eventbus.EventType { return eventbus.EventSubAgentCompleted }
