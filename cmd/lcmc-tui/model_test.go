package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rasto/lcmc-sub001/pkg/api"
	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/graph"
	"github.com/rasto/lcmc-sub001/pkg/registry"
)

type fakeDaemon struct {
	seq       uint64
	resources int
	polls     int
	err       error
}

func (f *fakeDaemon) Status(ctx context.Context) (api.StatusResponse, error) {
	return api.StatusResponse{StructureSeq: f.seq, ViewSeq: f.seq, Nodes: 3}, f.err
}

func (f *fakeDaemon) Resources(ctx context.Context) (api.ResourcesResponse, error) {
	f.resources++
	return api.ResourcesResponse{
		Seq:          f.seq,
		StructureSeq: f.seq,
		Tree: []registry.TreeEntry{
			{Depth: 0, Node: registry.NodeView{ID: "ip1", Kind: crm.KindPrimitive, Agent: crm.ResourceAgent{Type: "IPaddr2"}}},
			{Depth: 0, Node: registry.NodeView{ID: "g1", Kind: crm.KindGroup}},
			{Depth: 1, Node: registry.NodeView{ID: "d1", Kind: crm.KindPrimitive, Agent: crm.ResourceAgent{Type: "Dummy"}, IsNew: true}},
		},
		Placeholders: []registry.NodeView{{ID: "ph_1", Kind: crm.KindPlaceholder}},
	}, f.err
}

func (f *fakeDaemon) Graph(ctx context.Context) (*graph.Graph, error) {
	g := graph.NewGraph()
	g.Edges = []*graph.Edge{
		{ConstraintID: "col1", FromID: "g1", ToID: "ip1", Type: graph.EdgeColocation},
		{ConstraintID: "ord1", FromID: "ip1", ToID: "g1", Type: graph.EdgeOrder},
	}
	return g, f.err
}

func (f *fakeDaemon) Poll(ctx context.Context, wait bool) (api.PollResponse, error) {
	f.polls++
	return api.PollResponse{Status: "triggered"}, f.err
}

func (f *fakeDaemon) AddPlaceholder(ctx context.Context) (registry.NodeView, error) {
	return registry.NodeView{ID: "ph_2"}, f.err
}

func update(t *testing.T, m model, msg any) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func TestModel_RebuildsOnlyOnStructureChange(t *testing.T) {
	d := &fakeDaemon{seq: 1}
	m := initialModel(d)

	m = update(t, m, m.fetchStatus()())
	if !m.ready || !m.fetching {
		t.Fatalf("Expected first status to request the tree, got %+v", m)
	}
	m = update(t, m, m.fetchTree()())
	if m.rebuilds != 1 || m.structureSeq != 1 || d.resources != 1 {
		t.Fatalf("Expected one rebuild at seq 1, got %d at %d", m.rebuilds, m.structureSeq)
	}

	// same structure: no refetch
	m = update(t, m, m.fetchStatus()())
	if m.fetching {
		t.Error("Expected no tree fetch for an unchanged structure")
	}

	d.seq = 2
	m = update(t, m, m.fetchStatus()())
	if !m.fetching {
		t.Error("Expected a tree fetch after a structure change")
	}
	m = update(t, m, m.fetchTree()())
	if m.rebuilds != 2 || m.structureSeq != 2 {
		t.Errorf("Expected second rebuild at seq 2, got %d at %d", m.rebuilds, m.structureSeq)
	}
}

func TestModel_Errors(t *testing.T) {
	d := &fakeDaemon{seq: 1, err: errors.New("connection refused")}
	m := initialModel(d)

	m = update(t, m, m.fetchStatus()())
	if m.err == nil || m.fetching {
		t.Errorf("Expected offline state, got err=%v fetching=%v", m.err, m.fetching)
	}
	if !strings.Contains(m.View(), "Offline") {
		t.Error("Expected offline footer")
	}

	m = update(t, m, m.triggerPoll()())
	if !strings.Contains(m.notice, "connection refused") {
		t.Errorf("Expected poll error notice, got %q", m.notice)
	}
}

func TestModel_Actions(t *testing.T) {
	d := &fakeDaemon{seq: 1}
	m := initialModel(d)

	m = update(t, m, m.triggerPoll()())
	if d.polls != 1 || !strings.Contains(m.notice, "poll requested") {
		t.Errorf("Expected poll notice, got %q", m.notice)
	}
	m = update(t, m, m.addPlaceholder()())
	if !strings.Contains(m.notice, "added ph_2") {
		t.Errorf("Expected placeholder notice, got %q", m.notice)
	}
}

func TestRenderTree(t *testing.T) {
	d := &fakeDaemon{seq: 1}
	res, _ := d.Resources(context.Background())
	g, _ := d.Graph(context.Background())

	out := renderTree(res, sortedEdges(g))
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[0], "ip1 (IPaddr2)") {
		t.Errorf("Unexpected first line %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "  d1 (Dummy)") || !strings.Contains(lines[2], "new") {
		t.Errorf("Expected indented new member, got %q", lines[2])
	}
	for _, want := range []string{"g1 [group]", "Placeholders", "ph_1", "ip1 -> g1 (ord1)", "g1 ~> ip1 (col1)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in\n%s", want, out)
		}
	}
	if strings.Index(out, "col1") > strings.Index(out, "ord1") {
		t.Error("Expected edges sorted by constraint id")
	}

	if empty := renderTree(api.ResourcesResponse{}, nil); !strings.Contains(empty, "No resources.") {
		t.Errorf("Unexpected empty render %q", empty)
	}
}
