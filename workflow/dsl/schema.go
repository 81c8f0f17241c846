package dsl

// GraphDSL 图定义顶层结构
type GraphDSL struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// Name 图名称
	Name string `yaml:"name" json:"name"`
	// Description 图描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables 工作流级变量定义，默认值进入表达式的 workflow 层
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Nodes 参与调度的节点
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`

	// Tasks 仅由控制节点调用的节点 ID（循环体、并行分支）
	Tasks []string `yaml:"tasks,omitempty" json:"tasks,omitempty"`

	// Metadata 元数据
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type,omitempty" json:"type,omitempty"` // string, int, float, bool, list, map
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// NodeDef 节点定义
type NodeDef struct {
	ID     string         `yaml:"id" json:"id"`
	Type   string         `yaml:"type,omitempty" json:"type,omitempty"` // condition, loop, parallel，其他类型交给宿主节点执行器
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	// Next 后继节点
	Next []string `yaml:"next,omitempty" json:"next,omitempty"`
	// When 后继节点 -> 边条件表达式
	When map[string]string `yaml:"when,omitempty" json:"when,omitempty"`
	// Cacheable 是否按输入缓存节点输出
	Cacheable bool `yaml:"cacheable,omitempty" json:"cacheable,omitempty"`
}
