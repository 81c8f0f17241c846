package subagent

import (
	"sort"
	"sync"

	"github.com/BaSui01/flowcore/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Constructor 统一的子代理构造函数
type Constructor func(id string, config map[string]any) (SubAgent, error)

// Registry 子代理类型注册表
// Register 接受多种构造函数形式，注册时统一转换为 Constructor
type Registry struct {
	mu     sync.RWMutex
	ctors  map[string]Constructor
	logger *zap.Logger
}

// NewRegistry 创建注册表
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		ctors:  make(map[string]Constructor),
		logger: logger.With(zap.String("component", "subagent_registry")),
	}
}

// Register 注册子代理类型。支持的构造形式按优先级：
//
//	Constructor / func(string, map[string]any) (SubAgent, error)
//	func(string, map[string]any) SubAgent
//	func(string) SubAgent
//	func() SubAgent
//	func(map[string]any) TaskRunner
//	TaskRunner（所有实例共享）
func (r *Registry) Register(agentType string, ctor any) error {
	if agentType == "" {
		return types.NewError(types.ErrInvalidConfig, "sub-agent type is required")
	}
	c, err := r.normalize(agentType, ctor)
	if err != nil {
		return err
	}

	r.mu.Lock()
	_, replaced := r.ctors[agentType]
	r.ctors[agentType] = c
	r.mu.Unlock()

	r.logger.Debug("sub-agent type registered", zap.String("agent_type", agentType), zap.Bool("replaced", replaced))
	return nil
}

func (r *Registry) normalize(agentType string, ctor any) (Constructor, error) {
	switch fn := ctor.(type) {
	case nil:
		return nil, types.Errorf(types.ErrInvalidConfig, "nil constructor for sub-agent type %q", agentType)
	case Constructor:
		return fn, nil
	case func(string, map[string]any) (SubAgent, error):
		return fn, nil
	case func(string, map[string]any) SubAgent:
		return func(id string, cfg map[string]any) (SubAgent, error) { return fn(id, cfg), nil }, nil
	case func(string) SubAgent:
		return func(id string, _ map[string]any) (SubAgent, error) { return fn(id), nil }, nil
	case func() SubAgent:
		return func(string, map[string]any) (SubAgent, error) { return fn(), nil }, nil
	case func(map[string]any) TaskRunner:
		return func(id string, cfg map[string]any) (SubAgent, error) {
			return NewBaseSubAgent(id, agentType, fn(cfg), r.logger), nil
		}, nil
	case TaskRunner:
		return func(id string, _ map[string]any) (SubAgent, error) {
			return NewBaseSubAgent(id, agentType, fn, r.logger), nil
		}, nil
	}
	return nil, types.Errorf(types.ErrInvalidConfig, "unsupported constructor %T for sub-agent type %q", ctor, agentType)
}

// Unregister 注销子代理类型
func (r *Registry) Unregister(agentType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ctors[agentType]
	delete(r.ctors, agentType)
	return ok
}

// Has 是否已注册
func (r *Registry) Has(agentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[agentType]
	return ok
}

// Get 获取构造函数
func (r *Registry) Get(agentType string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ctors[agentType]
	return c, ok
}

// CreateInstance 创建实例；类型未知、构造失败或构造结果为 nil 时返回 nil。空 id 自动生成
func (r *Registry) CreateInstance(agentType, id string, config map[string]any) SubAgent {
	c, ok := r.Get(agentType)
	if !ok {
		return nil
	}
	if id == "" {
		id = uuid.NewString()
	}

	inst, err := safeConstruct(c, id, config)
	if err != nil {
		r.logger.Warn("sub-agent construction failed",
			zap.String("agent_type", agentType),
			zap.String("agent_id", id),
			zap.Error(err),
		)
		return nil
	}
	return inst
}

func safeConstruct(c Constructor, id string, config map[string]any) (inst SubAgent, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = types.Errorf(types.ErrSubAgentFailed, "constructor panicked: %v", rec)
		}
	}()
	inst, err = c(id, config)
	if err == nil && inst == nil {
		err = types.NewError(types.ErrSubAgentFailed, "constructor returned nil")
	}
	return inst, err
}

// ListTypes 返回已注册类型（排序）
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
