package subagent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/flowcore/config"
	"github.com/BaSui01/flowcore/eventbus"
	"github.com/BaSui01/flowcore/internal/ctxkeys"
	"github.com/BaSui01/flowcore/internal/metrics"
	"github.com/BaSui01/flowcore/internal/pool"
	"github.com/BaSui01/flowcore/internal/telemetry"
	"github.com/BaSui01/flowcore/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrchestratorOption 编排器选项
type OrchestratorOption func(*Orchestrator)

// WithBus 设置事件总线，为 nil 时不监听也不发布事件
func WithBus(bus eventbus.Bus) OrchestratorOption {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithLogger 设置日志记录器
func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithConfig 应用子代理配置
func WithConfig(cfg config.SubAgentConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// Orchestrator 子代理编排器
// 按类型创建实例并执行，记录会话结果与执行中实例，并通过事件总线收发事件
type Orchestrator struct {
	registry *Registry
	bus      eventbus.Bus
	logger   *zap.Logger
	metrics  *metrics.Collector
	cfg      config.SubAgentConfig
	pool     *pool.GoroutinePool

	mu       sync.Mutex
	inFlight map[string]SubAgent
	finished map[string]Status
	// 已结束实例的 ID，按结束顺序
	finishedOrder []string
	sessions      map[string][]*Result

	listenMu       sync.Mutex
	subscriptionID string
}

// NewOrchestrator 创建编排器，registry 为 nil 时使用空注册表
func NewOrchestrator(registry *Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		logger:   zap.NewNop(),
		cfg:      config.DefaultSubAgentConfig(),
		inFlight: make(map[string]SubAgent),
		finished: make(map[string]Status),
		sessions: make(map[string][]*Result),
	}
	for _, opt := range opts {
		opt(o)
	}
	if registry == nil {
		registry = NewRegistry(o.logger)
	}
	o.registry = registry
	o.pool = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers: o.cfg.PoolWorkers,
		QueueSize:  o.cfg.PoolQueueSize,
	}, o.logger)
	o.logger = o.logger.With(zap.String("component", "subagent_orchestrator"))
	return o
}

// Registry returns the registry used to resolve sub-agent types.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// RegisterType 注册子代理类型
func (o *Orchestrator) RegisterType(agentType string, ctor any) error {
	return o.registry.Register(agentType, ctor)
}

// Execute 执行一个子代理任务。未知类型与任何执行失败都以 Success=false 的结果返回
func (o *Orchestrator) Execute(ctx context.Context, agentType string, payload, execCtx map[string]any, sessionID string) *Result {
	ctx, span := telemetry.StartSpan(ctx, "flowcore.subagent",
		attribute.String("agent_type", agentType),
		attribute.String("session_id", sessionID),
	)
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = ctxkeys.WithTraceID(ctx, sc.TraceID().String())
	}

	if !o.registry.Has(agentType) {
		spanErr = types.Errorf(types.ErrSubAgentNotFound, "sub-agent type %q is not registered", agentType)
		o.logger.Warn("unknown sub-agent type", zap.String("agent_type", agentType))
		now := time.Now()
		return &Result{AgentType: agentType, Error: spanErr.Error(), StartedAt: now, CompletedAt: now}
	}

	agent := o.registry.CreateInstance(agentType, "", execCtx)
	if agent == nil {
		spanErr = types.Errorf(types.ErrSubAgentFailed, "failed to create sub-agent of type %q", agentType)
		now := time.Now()
		return &Result{AgentType: agentType, Error: spanErr.Error(), StartedAt: now, CompletedAt: now}
	}
	span.SetAttributes(attribute.String("agent_id", agent.ID()))

	task := NewTask(agentType, payload)
	task.Timeout = o.cfg.DefaultTimeout
	if runID, ok := ctxkeys.RunID(ctx); ok {
		task.ParentWorkflowID = runID
	}
	if sessionID != "" {
		ctx = ctxkeys.WithSessionID(ctx, sessionID)
	}

	o.mu.Lock()
	o.inFlight[agent.ID()] = agent
	o.mu.Unlock()
	o.metrics.SubAgentStarted(agentType)

	result := agent.Execute(ctx, task, execCtx)

	o.mu.Lock()
	delete(o.inFlight, agent.ID())
	o.recordFinished(agent.ID(), agent.Status())
	o.sessions[sessionID] = append(o.sessions[sessionID], result)
	o.mu.Unlock()
	o.metrics.SubAgentFinished(agentType, result.Success, result.ExecutionTime)

	if !result.Success {
		spanErr = types.NewError(types.ErrSubAgentFailed, result.Error)
	}
	fields := []zap.Field{
		zap.String("agent_id", result.AgentID),
		zap.String("agent_type", agentType),
		zap.String("session_id", sessionID),
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.ExecutionTime),
	}
	if traceID, ok := ctxkeys.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	o.logger.Info("sub-agent finished", fields...)

	if o.bus != nil {
		o.bus.Publish(&CompletedEvent{
			AgentID:    result.AgentID,
			AgentType:  agentType,
			SessionID:  sessionID,
			Success:    result.Success,
			Output:     result.Output,
			Error:      result.Error,
			Duration:   result.ExecutionTime,
			Timestamp_: time.Now(),
		})
	}
	return result
}

// recordFinished keeps at most cfg.StatusHistory final statuses. Caller holds o.mu.
func (o *Orchestrator) recordFinished(agentID string, status Status) {
	if _, ok := o.finished[agentID]; !ok {
		o.finishedOrder = append(o.finishedOrder, agentID)
	}
	o.finished[agentID] = status
	limit := o.cfg.StatusHistory
	if limit <= 0 {
		limit = config.DefaultSubAgentConfig().StatusHistory
	}
	for len(o.finishedOrder) > limit {
		delete(o.finished, o.finishedOrder[0])
		o.finishedOrder = o.finishedOrder[1:]
	}
}

// GetStatus 查询子代理状态，包括已结束的实例
func (o *Orchestrator) GetStatus(agentID string) (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.inFlight[agentID]; ok {
		return a.Status(), true
	}
	s, ok := o.finished[agentID]
	return s, ok
}

// Cancel 取消执行中的子代理
func (o *Orchestrator) Cancel(agentID string) bool {
	o.mu.Lock()
	a, ok := o.inFlight[agentID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	a.Cancel()
	return true
}

// InFlight 返回执行中的子代理数量
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight)
}

// GetSessionResults 返回会话结果的副本，按完成顺序排列
func (o *Orchestrator) GetSessionResults(sessionID string) []*Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Result(nil), o.sessions[sessionID]...)
}

// ClearSession 清除会话结果及其实例状态，返回清除数量
func (o *Orchestrator) ClearSession(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	results := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	if len(results) == 0 {
		return 0
	}

	cleared := make(map[string]bool, len(results))
	for _, r := range results {
		cleared[r.AgentID] = true
		delete(o.finished, r.AgentID)
	}
	kept := o.finishedOrder[:0]
	for _, id := range o.finishedOrder {
		if !cleared[id] {
			kept = append(kept, id)
		}
	}
	o.finishedOrder = kept
	return len(results)
}

// HandleSpawnEvent 从 spawn 事件提取参数并执行。无法识别的事件返回 nil
func (o *Orchestrator) HandleSpawnEvent(ctx context.Context, event eventbus.Event) *Result {
	switch e := event.(type) {
	case *SpawnEvent:
		return o.Execute(ctx, e.AgentType, e.Payload, e.Context, e.SessionID)
	case *eventbus.Message:
		agentType, _ := e.Data["agent_type"].(string)
		if agentType == "" {
			o.logger.Warn("spawn event without agent_type ignored")
			return nil
		}
		payload, _ := e.Data["payload"].(map[string]any)
		execCtx, _ := e.Data["context"].(map[string]any)
		sessionID, _ := e.Data["session_id"].(string)
		return o.Execute(ctx, agentType, payload, execCtx, sessionID)
	}
	o.logger.Warn("unsupported spawn event ignored", zap.Any("event_type", eventTypeOf(event)))
	return nil
}

// Spawn 在协程池中同步执行 spawn 事件，与总线触发的事件共享并发上限。
// 池已关闭或 ctx 结束时返回错误；无法识别的事件返回 nil 结果
func (o *Orchestrator) Spawn(ctx context.Context, event eventbus.Event) (*Result, error) {
	var result *Result
	err := o.pool.SubmitWait(ctx, "subagent_spawn", func(ctx context.Context) error {
		result = o.HandleSpawnEvent(ctx, event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func eventTypeOf(e eventbus.Event) eventbus.EventType {
	if e == nil {
		return ""
	}
	return e.Type()
}

// StartListening 订阅 spawn 事件，事件在协程池中执行。可重复调用，总线为 nil 时忽略
func (o *Orchestrator) StartListening() {
	if o.bus == nil {
		return
	}
	o.listenMu.Lock()
	defer o.listenMu.Unlock()
	if o.subscriptionID != "" {
		return
	}
	o.subscriptionID = o.bus.Subscribe(eventbus.EventSubAgentSpawn, func(e eventbus.Event) {
		err := o.pool.Submit(context.Background(), "subagent_spawn", func(ctx context.Context) error {
			o.HandleSpawnEvent(ctx, e)
			return nil
		})
		if err != nil {
			o.logger.Warn("spawn event rejected", zap.Error(err))
		}
	})
	o.logger.Debug("listening for spawn events")
}

// StopListening 取消订阅，可重复调用
func (o *Orchestrator) StopListening() {
	if o.bus == nil {
		return
	}
	o.listenMu.Lock()
	defer o.listenMu.Unlock()
	if o.subscriptionID == "" {
		return
	}
	o.bus.Unsubscribe(o.subscriptionID)
	o.subscriptionID = ""
}

// Listening reports whether the orchestrator is subscribed to spawn events.
func (o *Orchestrator) Listening() bool {
	o.listenMu.Lock()
	defer o.listenMu.Unlock()
	return o.subscriptionID != ""
}

// Close 停止监听并等待已提交的 spawn 事件执行完毕
func (o *Orchestrator) Close(ctx context.Context) error {
	o.StopListening()
	if err := o.pool.Close(ctx); err != nil && !errors.Is(err, pool.ErrPoolClosed) {
		return err
	}
	return nil
}
