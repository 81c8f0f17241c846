package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/flowcore/types"
	"gopkg.in/yaml.v3"
)

// GraphNode is one node of a workflow graph. In YAML or JSON a node may be
// written as a bare id string or as an object.
type GraphNode struct {
	// ID is the unique node identifier
	ID string `json:"id" yaml:"id"`
	// Type is the node kind; condition, loop and parallel are run by the engine
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Config is the kind-specific configuration
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

type graphNodeAlias GraphNode

// UnmarshalJSON accepts either "id" or {"id": ..., "type": ..., "config": ...}.
func (n *GraphNode) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*n = GraphNode{ID: id}
		return nil
	}
	var alias graphNodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*n = GraphNode(alias)
	return nil
}

// UnmarshalYAML accepts either a scalar id or a mapping.
func (n *GraphNode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*n = GraphNode{ID: value.Value}
		return nil
	}
	var alias graphNodeAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*n = GraphNode(alias)
	return nil
}

// Kind returns the node type as an ExecutorKind.
func (n GraphNode) Kind() ExecutorKind {
	return ExecutorKind(strings.ToLower(n.Type))
}

// Edge is a directed dependency between two nodes. A non-empty Condition is
// evaluated against the source node's output to decide whether the edge is taken.
type Edge struct {
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Graph is a workflow definition: nodes, edges and optional workflow variables.
type Graph struct {
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes     []GraphNode    `json:"nodes" yaml:"nodes"`
	Edges     []Edge         `json:"edges,omitempty" yaml:"edges,omitempty"`
	Variables map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// NodeIDs returns node ids in declaration order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (GraphNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return GraphNode{}, false
}

// Incoming returns the edges ending at id, in declaration order.
func (g *Graph) Incoming(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// Outgoing returns the edges starting at id, in declaration order.
func (g *Graph) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks ids are present and unique and that edges reference known nodes.
func (g *Graph) Validate() error {
	if g == nil {
		return types.NewError(types.ErrInvalidGraph, "graph is nil")
	}
	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return types.Errorf(types.ErrInvalidGraph, "node %d has an empty id", i)
		}
		if seen[n.ID] {
			return types.Errorf(types.ErrInvalidGraph, "duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	for i, e := range g.Edges {
		if !seen[e.Source] {
			return types.Errorf(types.ErrInvalidGraph, "edge %d: unknown source node %q", i, e.Source)
		}
		if !seen[e.Target] {
			return types.Errorf(types.ErrInvalidGraph, "edge %d: unknown target node %q", i, e.Target)
		}
	}
	return nil
}

// ToJSON serializes the graph.
func (g *Graph) ToJSON() ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// ToYAML serializes the graph.
func (g *Graph) ToYAML() ([]byte, error) {
	return yaml.Marshal(g)
}

// ParseGraphJSON decodes and validates a JSON graph.
func ParseGraphJSON(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, types.NewError(types.ErrInvalidGraph, "failed to unmarshal JSON graph").WithCause(err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// ParseGraphYAML decodes and validates a YAML graph.
func ParseGraphYAML(data []byte) (*Graph, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, types.NewError(types.ErrInvalidGraph, "failed to unmarshal YAML graph").WithCause(err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadGraph reads a graph file; .json files are decoded as JSON, anything else as YAML.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseGraphJSON(data)
	}
	return ParseGraphYAML(data)
}
