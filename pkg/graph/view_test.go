package graph

import (
	"testing"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/registry"
)

func primitive(id string) *registry.Node {
	return registry.NewPrimitive(id, crm.ResourceAgent{Class: "ocf", Provider: "heartbeat", Type: "Dummy"}, crm.AgentGeneric)
}

func TestView_AddVertex(t *testing.T) {
	v := NewView()
	n := primitive("p1")
	n.ParentID = "g1"

	v.AddVertex(n)
	v.AddVertex(n)

	g := v.GetGraph()
	if len(g.Nodes) != 1 {
		t.Fatalf("Expected 1 node, got %d", len(g.Nodes))
	}
	node := g.Nodes["p1"]
	if node.Type != crm.KindPrimitive {
		t.Errorf("Expected node type %s, got %s", crm.KindPrimitive, node.Type)
	}
	if node.Properties["agent"] != "ocf:heartbeat:Dummy" {
		t.Errorf("Expected agent 'ocf:heartbeat:Dummy', got '%s'", node.Properties["agent"])
	}
	if node.Properties["parent"] != "g1" {
		t.Errorf("Expected parent 'g1', got '%s'", node.Properties["parent"])
	}
}

func TestView_AddEdgeIsIdempotent(t *testing.T) {
	v := NewView()
	a, b := primitive("a"), primitive("b")
	v.AddVertex(a)
	v.AddVertex(b)

	v.AddEdge("o1", EdgeOrder, a, b)
	v.AddEdge("o1", EdgeOrder, a, b)
	v.AddEdge("c1", EdgeColocation, a, b)

	_, edges := v.Counts()
	if edges != 2 {
		t.Fatalf("Expected 2 edges, got %d", edges)
	}
	if !v.HasEdge(EdgeOrder, "a", "b") {
		t.Error("Expected order edge a -> b")
	}
	if v.HasEdge(EdgeOrder, "b", "a") {
		t.Error("Did not expect order edge b -> a")
	}
}

func TestView_AddEdgeIgnoresMissingEnds(t *testing.T) {
	v := NewView()
	v.AddEdge("o1", EdgeOrder, primitive("a"), nil)
	v.AddEdge("o1", EdgeOrder, nil, primitive("a"))

	if _, edges := v.Counts(); edges != 0 {
		t.Errorf("Expected 0 edges, got %d", edges)
	}
}

func TestView_KillRemovedEdges(t *testing.T) {
	v := NewView()
	a, b, c := primitive("a"), primitive("b"), primitive("c")

	v.AddEdge("o1", EdgeOrder, a, b)
	v.AddEdge("o2", EdgeOrder, b, c)
	if killed := v.KillRemovedEdges(); killed != 0 {
		t.Fatalf("Expected nothing killed after first pass, got %d", killed)
	}

	// second pass affirms only a -> b
	v.AddEdge("o1", EdgeOrder, a, b)
	if killed := v.KillRemovedEdges(); killed != 1 {
		t.Fatalf("Expected 1 edge killed, got %d", killed)
	}
	if v.HasEdge(EdgeOrder, "b", "c") {
		t.Error("Expected b -> c to be gone")
	}
	if !v.HasEdge(EdgeOrder, "a", "b") {
		t.Error("Expected a -> b to survive")
	}
}

func TestView_KillRemovedVerticesKeepsNew(t *testing.T) {
	v := NewView()
	old := primitive("old")
	local := primitive("local")
	local.IsNew = true

	v.AddVertex(old)
	v.AddVertex(local)
	v.AddEdge("o1", EdgeOrder, old, local)
	v.KillRemovedEdges()
	v.KillRemovedVertices()

	v.KillRemovedEdges()
	killed := v.KillRemovedVertices()
	if killed != 1 {
		t.Fatalf("Expected 1 vertex killed, got %d", killed)
	}
	g := v.GetGraph()
	if _, ok := g.Nodes["local"]; !ok {
		t.Error("Expected uncommitted vertex to survive")
	}
	if _, ok := g.Nodes["old"]; ok {
		t.Error("Expected stale vertex to be gone")
	}
}

func TestView_RemoveVertexDropsEdges(t *testing.T) {
	v := NewView()
	a, b := primitive("a"), primitive("b")
	v.AddVertex(a)
	v.AddVertex(b)
	v.AddEdge("c1", EdgeColocation, a, b)

	v.RemoveVertex(b)

	vertices, edges := v.Counts()
	if vertices != 1 || edges != 0 {
		t.Errorf("Expected 1 vertex and 0 edges, got %d and %d", vertices, edges)
	}
}

func TestView_GetGraphIsDetached(t *testing.T) {
	v := NewView()
	a, b := primitive("a"), primitive("b")
	v.AddVertex(a)
	v.AddVertex(b)
	v.AddEdge("o1", EdgeOrder, b, a)
	v.AddEdge("o2", EdgeOrder, a, b)

	g := v.GetGraph()
	g.Nodes["a"].Properties["agent"] = "changed"
	g.Edges[0].ConstraintID = "changed"

	again := v.GetGraph()
	if again.Nodes["a"].Properties["agent"] == "changed" {
		t.Error("Expected node properties to be copied")
	}
	if again.Edges[0].FromID != "a" || again.Edges[0].ConstraintID != "o2" {
		t.Errorf("Expected sorted, untouched edges, got %+v", again.Edges[0])
	}
}
