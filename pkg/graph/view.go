package graph

import (
	"sort"
	"sync"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/registry"
)

type edgeKey struct {
	from, to string
	typ      EdgeType
}

type vertexState struct {
	node     *Node
	affirmed bool
}

type edgeState struct {
	edge     *Edge
	affirmed bool
}

// View is the graph the reconciler drives. Every call is idempotent: adding
// a vertex or an edge that is already present only re-affirms it, and the
// Kill methods drop whatever was not re-affirmed since the previous Kill.
type View struct {
	mu       sync.RWMutex
	vertices map[string]*vertexState
	edges    map[edgeKey]*edgeState
}

// NewView creates an empty graph view.
func NewView() *View {
	return &View{
		vertices: make(map[string]*vertexState),
		edges:    make(map[edgeKey]*edgeState),
	}
}

// AddVertex adds or refreshes the vertex for n.
func (v *View) AddVertex(n *registry.Node) {
	v.mu.Lock()
	defer v.mu.Unlock()

	node := vertexFor(n)
	if st, ok := v.vertices[n.ID]; ok {
		st.node = node
		st.affirmed = true
		return
	}
	v.vertices[n.ID] = &vertexState{node: node, affirmed: true}
}

// RemoveVertex drops the vertex for n together with its edges.
func (v *View) RemoveVertex(n *registry.Node) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removeVertexLocked(n.ID)
}

// AddEdge adds or re-affirms a constraint edge.
func (v *View) AddEdge(constraintID string, typ EdgeType, from, to *registry.Node) {
	if from == nil || to == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key := edgeKey{from: from.ID, to: to.ID, typ: typ}
	if st, ok := v.edges[key]; ok {
		st.edge.ConstraintID = constraintID
		st.affirmed = true
		return
	}
	v.edges[key] = &edgeState{
		edge: &Edge{
			ConstraintID: constraintID,
			FromID:       from.ID,
			ToID:         to.ID,
			Type:         typ,
		},
		affirmed: true,
	}
}

// KillRemovedEdges drops edges not re-affirmed since the last call.
func (v *View) KillRemovedEdges() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	killed := 0
	for key, st := range v.edges {
		if !st.affirmed {
			delete(v.edges, key)
			killed++
			continue
		}
		st.affirmed = false
	}
	return killed
}

// KillRemovedVertices drops vertices not re-affirmed since the last call.
// Vertices of locally created, uncommitted nodes are kept.
func (v *View) KillRemovedVertices() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	killed := 0
	for id, st := range v.vertices {
		if !st.affirmed && !st.node.IsNew {
			v.removeVertexLocked(id)
			killed++
			continue
		}
		st.affirmed = false
	}
	return killed
}

// must be called with v.mu held
func (v *View) removeVertexLocked(id string) {
	delete(v.vertices, id)
	for key := range v.edges {
		if key.from == id || key.to == id {
			delete(v.edges, key)
		}
	}
}

// HasEdge reports whether an edge of the given type links from to to.
func (v *View) HasEdge(typ EdgeType, fromID, toID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.edges[edgeKey{from: fromID, to: toID, typ: typ}]
	return ok
}

// Counts returns the number of vertices and edges.
func (v *View) Counts() (vertices, edges int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vertices), len(v.edges)
}

// GetGraph returns a deep copy of the current graph with edges sorted for
// stable output.
func (v *View) GetGraph() *Graph {
	v.mu.RLock()
	defer v.mu.RUnlock()

	g := NewGraph()
	for id, st := range v.vertices {
		n := *st.node
		n.Properties = make(map[string]string, len(st.node.Properties))
		for k, val := range st.node.Properties {
			n.Properties[k] = val
		}
		g.Nodes[id] = &n
	}
	for _, st := range v.edges {
		e := *st.edge
		g.AddEdge(&e)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		a, b := g.Edges[i], g.Edges[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToID != b.ToID {
			return a.ToID < b.ToID
		}
		return a.Type < b.Type
	})
	return g
}

func vertexFor(n *registry.Node) *Node {
	props := make(map[string]string)
	switch n.Kind {
	case crm.KindPrimitive:
		props["agent"] = n.Agent.String()
		props["agent_kind"] = string(n.AgentKind)
	case crm.KindClone:
		if n.MasterSlave {
			props["master_slave"] = "true"
		}
	}
	if n.ParentID != "" {
		props["parent"] = n.ParentID
	}
	if n.IsOrphaned {
		props["orphaned"] = "true"
	}
	return &Node{
		ID:         n.ID,
		Type:       n.Kind,
		Label:      n.ID,
		IsNew:      n.IsNew,
		Properties: props,
	}
}
