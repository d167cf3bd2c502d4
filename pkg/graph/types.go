package graph

import "github.com/rasto/lcmc-sub001/pkg/crm"

// EdgeType is the constraint kind an edge renders.
type EdgeType string

const (
	EdgeOrder      EdgeType = "order"      // first -> then
	EdgeColocation EdgeType = "colocation" // rsc -> with-rsc
)

// Node represents a vertex: a resource or a constraint placeholder.
type Node struct {
	ID         string            `json:"id"`
	Type       crm.Kind          `json:"type"`
	Label      string            `json:"label"`
	IsNew      bool              `json:"is_new,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Edge represents a directed constraint between two vertices.
type Edge struct {
	ConstraintID string   `json:"constraint_id"`
	FromID       string   `json:"from_id"`
	ToID         string   `json:"to_id"`
	Type         EdgeType `json:"type"`
}

// Graph is a detached copy of the constraint graph.
type Graph struct {
	Nodes map[string]*Node `json:"nodes"`
	Edges []*Edge          `json:"edges"`
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Edges: make([]*Edge, 0),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(n *Node) {
	g.Nodes[n.ID] = n
}

// AddEdge adds an edge to the graph.
func (g *Graph) AddEdge(e *Edge) {
	g.Edges = append(g.Edges, e)
}
