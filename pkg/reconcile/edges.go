package reconcile

import (
	"slices"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/graph"
	"github.com/rasto/lcmc-sub001/pkg/registry"
)

type colocPair struct {
	rsc, with string
}

// syncGraph pushes vertices and edges for the pass into the graph view and
// drops whatever the pass did not re-affirm.
func (p *pass) syncGraph() {
	pairs := p.colocationPairs()
	p.tagDrbdBacking(pairs)

	g := p.e.graph
	if g == nil {
		p.res.Edges = p.countEdges()
		return
	}

	for _, n := range p.removed {
		g.RemoveVertex(n)
	}
	for _, n := range p.reg.Nodes() {
		g.AddVertex(n)
	}

	edges := 0
	emit := func(id string, typ graph.EdgeType, from, to *registry.Node) {
		g.AddEdge(id, typ, from, to)
		edges++
	}

	for _, l := range p.links {
		cid := l.data.ConstraintID
		for _, m := range p.resolve(l.data.RscSet1.IDs) {
			if l.data.IsColocation {
				emit(cid, graph.EdgeColocation, l.ph, m)
			} else {
				emit(cid, graph.EdgeOrder, m, l.ph)
			}
		}
		for _, m := range p.resolve(l.data.RscSet2.IDs) {
			if l.data.IsColocation {
				emit(cid, graph.EdgeColocation, m, l.ph)
			} else {
				emit(cid, graph.EdgeOrder, l.ph, m)
			}
		}
	}

	colocs := p.snap.Colocations()
	for _, rsc := range sortedKeys(colocs) {
		for _, c := range colocs[rsc] {
			from, ok1 := p.reg.Get(c.Rsc)
			to, ok2 := p.reg.Get(c.WithRsc)
			if !ok1 || !ok2 {
				p.dangling(c.ID, c.Rsc, c.WithRsc)
				continue
			}
			emit(c.ID, graph.EdgeColocation, from, to)
		}
	}
	orders := p.snap.Orders()
	for _, rsc := range sortedKeys(orders) {
		for _, o := range orders[rsc] {
			from, ok1 := p.reg.Get(o.Rsc)
			to, ok2 := p.reg.Get(o.RscThen)
			if !ok1 || !ok2 {
				p.dangling(o.ID, o.Rsc, o.RscThen)
				continue
			}
			emit(o.ID, graph.EdgeOrder, from, to)
		}
	}

	p.res.Edges = edges
	killedEdges := g.KillRemovedEdges()
	killedVertices := g.KillRemovedVertices()
	if killedEdges > 0 || killedVertices > 0 {
		p.e.log.Debug().
			Int("edges", killedEdges).
			Int("vertices", killedVertices).
			Msg("graph_pruned")
	}
}

// resolve maps ids onto live nodes, skipping ids that reference nothing.
func (p *pass) resolve(ids []string) []*registry.Node {
	out := make([]*registry.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := p.reg.Get(id); ok {
			out = append(out, n)
			continue
		}
		p.e.log.Debug().Str("id", id).Msg("set_member_dangling")
	}
	return out
}

func (p *pass) dangling(constraintID, from, to string) {
	p.e.log.Debug().
		Str("constraint", constraintID).
		Str("from", from).
		Str("to", to).
		Msg("constraint_dangling")
}

func (p *pass) countEdges() int {
	n := 0
	for _, l := range p.links {
		n += len(p.resolve(l.data.RscSet1.IDs)) + len(p.resolve(l.data.RscSet2.IDs))
	}
	for _, list := range p.snap.Colocations() {
		for _, c := range list {
			if p.has(c.Rsc) && p.has(c.WithRsc) {
				n++
			}
		}
	}
	for _, list := range p.snap.Orders() {
		for _, o := range list {
			if p.has(o.Rsc) && p.has(o.RscThen) {
				n++
			}
		}
	}
	return n
}

func (p *pass) has(id string) bool {
	_, ok := p.reg.Get(id)
	return ok
}

// colocationPairs lists every resource pair that must run together, from
// direct constraints and from colocation sets.
func (p *pass) colocationPairs() []colocPair {
	var pairs []colocPair
	colocs := p.snap.Colocations()
	for _, rsc := range sortedKeys(colocs) {
		for _, c := range colocs[rsc] {
			pairs = append(pairs, colocPair{rsc: c.Rsc, with: c.WithRsc})
		}
	}
	for _, l := range p.links {
		if !l.data.IsColocation {
			continue
		}
		for _, a := range l.data.RscSet1.IDs {
			for _, b := range l.data.RscSet2.IDs {
				pairs = append(pairs, colocPair{rsc: a, with: b})
			}
		}
	}
	return pairs
}

// tagDrbdBacking records on each Filesystem the DRBD primitive it is
// colocated with. Tags are recomputed from scratch every pass.
func (p *pass) tagDrbdBacking(pairs []colocPair) {
	tags := make(map[string]string)
	for _, pr := range pairs {
		if p.isFilesystem(pr.rsc) {
			if d := p.drbdOf(pr.with); d != "" {
				if _, set := tags[pr.rsc]; !set {
					tags[pr.rsc] = d
				}
			}
		}
		if p.isFilesystem(pr.with) {
			if d := p.drbdOf(pr.rsc); d != "" {
				if _, set := tags[pr.with]; !set {
					tags[pr.with] = d
				}
			}
		}
	}
	for _, n := range p.reg.Nodes() {
		if n.Kind != crm.KindPrimitive {
			continue
		}
		n.DrbdBackingID = tags[n.ID]
	}
}

func (p *pass) isFilesystem(id string) bool {
	n, ok := p.reg.Get(id)
	return ok && n.Kind == crm.KindPrimitive && n.AgentKind == crm.AgentFilesystem
}

// drbdOf returns the DRBD primitive behind id, looking through a clone to
// its first member.
func (p *pass) drbdOf(id string) string {
	n, ok := p.reg.Get(id)
	if !ok {
		return ""
	}
	if n.Kind == crm.KindClone && len(n.ChildIDs) > 0 {
		if n, ok = p.reg.Get(n.ChildIDs[0]); !ok {
			return ""
		}
	}
	if n.Kind == crm.KindPrimitive && n.AgentKind.IsDrbd() {
		return n.ID
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
