package reconcile

import (
	"fmt"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/graph"
	"github.com/rasto/lcmc-sub001/pkg/registry"
)

// GraphView receives vertex and edge notifications. It never drives the
// reconciler.
type GraphView interface {
	AddVertex(n *registry.Node)
	RemoveVertex(n *registry.Node)
	AddEdge(constraintID string, typ graph.EdgeType, from, to *registry.Node)
	KillRemovedEdges() int
	KillRemovedVertices() int
}

// Options tune a reconciliation engine.
type Options struct {
	// HideOrphans prunes resources the cluster reports as orphaned, the way
	// the console behaves with advanced mode off.
	HideOrphans bool
	Logger      zerolog.Logger
}

// Result summarizes one reconciliation pass.
type Result struct {
	StructureChanged bool          `json:"structure_changed"`
	LayoutChanged    bool          `json:"layout_changed"`
	Added            []string      `json:"added,omitempty"`
	Removed          []string      `json:"removed,omitempty"`
	Reparented       []string      `json:"reparented,omitempty"`
	ParamsChanged    int           `json:"params_changed"`
	Edges            int           `json:"edges"`
	Placeholders     int           `json:"placeholders"`
	Warnings         []Warning     `json:"warnings,omitempty"`
	Duration         time.Duration `json:"duration"`
	ViewSeq          uint64        `json:"view_seq"`
}

// Engine merges snapshots into a registry. It is not safe for concurrent
// use: passes must be serialized by the caller.
type Engine struct {
	reg         *registry.Registry
	graph       GraphView
	opts        Options
	log         zerolog.Logger
	lastSkipped mapset.Set[string]
}

// NewEngine creates an engine writing into reg and notifying g. g may be nil.
func NewEngine(reg *registry.Registry, g GraphView, opts Options) *Engine {
	return &Engine{
		reg:         reg,
		graph:       g,
		opts:        opts,
		log:         opts.Logger,
		lastSkipped: mapset.NewThreadUnsafeSet[string](),
	}
}

// Registry returns the registry the engine writes into.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// SetHideOrphans toggles orphan pruning for subsequent passes.
func (e *Engine) SetHideOrphans(hide bool) {
	e.opts.HideOrphans = hide
}

// Reconcile runs one pass and reports whether the structure changed.
func (e *Engine) Reconcile(snap crm.Snapshot) bool {
	return e.Pass(snap).StructureChanged
}

// Pass runs one reconciliation pass. It never fails: malformed entries are
// skipped and reported as warnings.
func (e *Engine) Pass(snap crm.Snapshot) Result {
	start := time.Now()
	p := newPass(e, snap)

	p.reconcileResources()
	p.reconcileConstraints()
	p.sweep()
	p.syncGraph()

	e.lastSkipped = p.skipped

	res := p.res
	res.StructureChanged = len(res.Added) > 0 || len(res.Removed) > 0 || len(res.Reparented) > 0
	res.Placeholders = len(e.reg.Placeholders())
	res.ViewSeq = e.reg.Publish(res.StructureChanged).Seq
	res.Duration = time.Since(start)

	e.log.Debug().
		Bool("structure_changed", res.StructureChanged).
		Int("added", len(res.Added)).
		Int("removed", len(res.Removed)).
		Int("reparented", len(res.Reparented)).
		Int("edges", res.Edges).
		Int("warnings", len(res.Warnings)).
		Msg("reconcile_pass")

	return res
}

type pass struct {
	e    *Engine
	reg  *registry.Registry
	snap crm.Snapshot
	res  Result

	containers mapset.Set[string]
	clones     mapset.Set[string]
	owner      map[string]string
	present    mapset.Set[string]
	skipped    mapset.Set[string]
	created    mapset.Set[string]
	removed    []*registry.Node
	links      []link
}

func newPass(e *Engine, snap crm.Snapshot) *pass {
	p := &pass{
		e:          e,
		reg:        e.reg,
		snap:       snap,
		containers: mapset.NewThreadUnsafeSet[string](),
		clones:     mapset.NewThreadUnsafeSet[string](snap.Clones()...),
		owner:      make(map[string]string),
		present:    mapset.NewThreadUnsafeSet[string](),
		skipped:    mapset.NewThreadUnsafeSet[string](),
		created:    mapset.NewThreadUnsafeSet[string](),
	}
	p.containers.Append(snap.Groups()...)
	p.containers.Append(snap.Clones()...)
	for _, id := range p.containers.ToSlice() {
		members, _ := snap.Members(id)
		for _, m := range members {
			if _, taken := p.owner[m]; !taken && m != id {
				p.owner[m] = id
			}
		}
	}
	return p
}

func (p *pass) warn(kind WarningKind, id, format string, args ...any) {
	w := Warning{Kind: kind, ID: id, Message: fmt.Sprintf(format, args...)}
	p.res.Warnings = append(p.res.Warnings, w)
	p.e.log.Warn().Str("kind", string(kind)).Str("id", id).Msg(w.Message)
}

// reconcileResources walks clones, then groups, then ungrouped primitives.
func (p *pass) reconcileResources() {
	for _, id := range p.snap.Clones() {
		if _, owned := p.owner[id]; owned {
			continue
		}
		p.ensureContainer(id, crm.KindClone, "")
	}
	for _, id := range p.snap.Groups() {
		if _, owned := p.owner[id]; owned {
			// produced while processing its owning clone, or flattened
			continue
		}
		if n, ok := p.reg.Get(id); ok && n.ParentID != "" && p.clones.Contains(n.ParentID) && p.present.Contains(id) {
			continue
		}
		p.ensureContainer(id, crm.KindGroup, "")
	}
	for _, id := range p.snap.TopLevel() {
		if p.containers.Contains(id) {
			continue
		}
		if _, owned := p.owner[id]; owned {
			continue
		}
		if p.hiddenOrphan(id) {
			continue
		}
		p.ensurePrimitive(id, "")
	}
	p.rebuildRoots()
}

func (p *pass) hiddenOrphan(id string) bool {
	return p.e.opts.HideOrphans && p.snap.IsOrphaned(id)
}

func (p *pass) ensureContainer(id string, kind crm.Kind, parentID string) *registry.Node {
	if p.present.Contains(id) {
		n, _ := p.reg.Get(id)
		return n
	}
	members, ok := p.snap.Members(id)
	params, pok := p.snap.Params(id)
	if !ok || !pok {
		p.malformed(id, "%s has no member list or meta attributes", kind)
		return nil
	}

	n := p.getOrCreate(id, kind, crm.ResourceAgent{}, crm.AgentUnknown)
	if kind == crm.KindClone {
		n.MasterSlave = p.snap.IsMasterSlave(id)
	}
	p.updateParams(n, params)
	n.IsNew = false
	n.IsOrphaned = p.snap.IsOrphaned(id)
	p.setParent(n, parentID)
	p.present.Add(id)

	p.reconcileMembers(n, members)
	return n
}

func (p *pass) ensurePrimitive(id, parentID string) *registry.Node {
	if p.present.Contains(id) {
		n, _ := p.reg.Get(id)
		return n
	}
	params, ok := p.snap.Params(id)
	if !ok {
		p.malformed(id, "primitive has no parameter map")
		return nil
	}

	ra, known := p.snap.ResourceAgent(id)
	agentKind := crm.AgentUnknown
	if known {
		agentKind = crm.Classify(ra)
	}
	if agentKind == crm.AgentUnknown {
		p.warn(WarnUnknownResourceAgent, id, "could not find resource agent")
		ra = crm.ResourceAgent{}
	}

	n := p.getOrCreate(id, crm.KindPrimitive, ra, agentKind)
	p.updateParams(n, params)
	n.IsNew = false
	n.IsOrphaned = p.snap.IsOrphaned(id)
	p.setParent(n, parentID)
	p.present.Add(id)
	return n
}

// ensureFlattened represents a nested container the cluster manager does not
// support as one opaque resource of unknown type.
func (p *pass) ensureFlattened(id, parentID string) *registry.Node {
	params, _ := p.snap.Params(id)
	n := p.getOrCreate(id, crm.KindPrimitive, crm.ResourceAgent{}, crm.AgentUnknown)
	if params != nil {
		p.updateParams(n, params)
	}
	n.IsNew = false
	n.IsOrphaned = p.snap.IsOrphaned(id)
	p.setParent(n, parentID)
	p.present.Add(id)
	return n
}

func (p *pass) reconcileMembers(container *registry.Node, members []string) {
	old := slices.Clone(container.ChildIDs)
	ordered := make([]string, 0, len(members))

	for _, mid := range members {
		if mid == "" || mid == container.ID || slices.Contains(ordered, mid) {
			continue
		}
		if p.hiddenOrphan(mid) {
			continue
		}

		var n *registry.Node
		switch {
		case p.containers.Contains(mid):
			nestedKind := crm.KindGroup
			if p.clones.Contains(mid) {
				nestedKind = crm.KindClone
			}
			if container.Kind == crm.KindGroup || nestedKind == crm.KindClone {
				p.warn(WarnUnsupportedNesting, mid, "%s in %s %s is not supported, shown as a single resource",
					nestedKind, container.Kind, container.ID)
				n = p.ensureFlattened(mid, container.ID)
			} else {
				n = p.ensureContainer(mid, nestedKind, container.ID)
			}
		default:
			n = p.ensurePrimitive(mid, container.ID)
		}

		if n != nil {
			ordered = append(ordered, mid)
			continue
		}
		if existing, ok := p.reg.Get(mid); ok && p.skipped.Contains(mid) && existing.ParentID == container.ID {
			ordered = append(ordered, mid)
		}
	}

	// locally created members stay after the committed ones
	for _, cid := range old {
		if slices.Contains(ordered, cid) {
			continue
		}
		if n, ok := p.reg.Get(cid); ok && n.IsNew && n.ParentID == container.ID {
			ordered = append(ordered, cid)
		}
	}

	container.ChildIDs = ordered
	if !slices.Equal(old, ordered) {
		p.res.LayoutChanged = true
	}
}

// getOrCreate returns the live node for id, replacing it when its kind or
// resource agent changed.
func (p *pass) getOrCreate(id string, kind crm.Kind, ra crm.ResourceAgent, agentKind crm.AgentKind) *registry.Node {
	if n, ok := p.reg.Get(id); ok {
		if n.Kind == kind && (kind != crm.KindPrimitive || (n.Agent == ra && n.AgentKind == agentKind)) {
			return n
		}
		p.remove(n)
	}

	var n *registry.Node
	if kind == crm.KindPrimitive {
		n = registry.NewPrimitive(id, ra, agentKind)
	} else {
		n = registry.NewContainer(id, kind)
	}
	if err := p.reg.Put(n); err != nil {
		// unreachable: the id was removed above
		p.e.log.Error().Err(err).Str("id", id).Msg("registry_put_failed")
	}
	p.created.Add(id)
	p.res.Added = append(p.res.Added, id)
	return n
}

func (p *pass) updateParams(n *registry.Node, params map[string]string) {
	n.NeedsRender = n.SetParams(params)
	if n.NeedsRender && !p.created.Contains(n.ID) {
		p.res.ParamsChanged++
	}
}

func (p *pass) setParent(n *registry.Node, parentID string) {
	if n.ParentID == parentID {
		return
	}
	if old, ok := p.reg.Get(n.ParentID); ok && n.ParentID != "" {
		old.ChildIDs = slices.DeleteFunc(old.ChildIDs, func(s string) bool { return s == n.ID })
	}
	n.ParentID = parentID
	if !p.created.Contains(n.ID) {
		p.res.Reparented = append(p.res.Reparented, n.ID)
	}
}

func (p *pass) malformed(id, format string, args ...any) {
	p.warn(WarnMalformedSnapshot, id, format, args...)
	p.skipped.Add(id)
	if n, ok := p.reg.Get(id); ok {
		p.protectChildren(n)
	}
}

func (p *pass) protectChildren(n *registry.Node) {
	for _, cid := range n.ChildIDs {
		p.skipped.Add(cid)
		if child, ok := p.reg.Get(cid); ok {
			p.protectChildren(child)
		}
	}
}

// protected reports whether a skipped id keeps its node this pass. A node
// survives the first malformed pass and is removed when the next pass still
// cannot see it.
func (p *pass) protected(id string) bool {
	return p.skipped.Contains(id) && !p.e.lastSkipped.Contains(id)
}

func (p *pass) remove(n *registry.Node) {
	if _, ok := p.reg.Remove(n.ID); !ok {
		return
	}
	p.removed = append(p.removed, n)
	p.res.Removed = append(p.res.Removed, n.ID)
}

func (p *pass) rebuildRoots() {
	old := p.reg.Roots()
	var roots []string
	add := func(id string) {
		if slices.Contains(roots, id) {
			return
		}
		if n, ok := p.reg.Get(id); ok && n.ParentID == "" && n.Kind != crm.KindPlaceholder {
			roots = append(roots, id)
		}
	}
	for _, id := range p.snap.TopLevel() {
		if p.present.Contains(id) || p.skipped.Contains(id) {
			add(id)
		}
	}
	for _, id := range p.snap.Clones() {
		if p.present.Contains(id) {
			add(id)
		}
	}
	for _, id := range p.snap.Groups() {
		if p.present.Contains(id) {
			add(id)
		}
	}
	for _, id := range old {
		if n, ok := p.reg.Get(id); ok && (n.IsNew || p.protected(id)) {
			add(id)
		}
	}
	p.reg.SetRoots(roots)
	if !slices.Equal(old, roots) {
		p.res.LayoutChanged = true
	}
}

// sweep removes resources the snapshot no longer declares.
func (p *pass) sweep() {
	for _, n := range p.reg.Nodes() {
		if p.present.Contains(n.ID) || n.IsNew || p.protected(n.ID) {
			continue
		}
		p.remove(n)
	}
	// uncommitted members of a removed or no longer container parent move
	// to the top level
	for _, n := range p.reg.Nodes() {
		if n.ParentID == "" {
			continue
		}
		if parent, ok := p.reg.Get(n.ParentID); !ok || !parent.Kind.IsContainer() {
			n.ParentID = ""
			p.reg.AppendRoot(n.ID)
			p.res.Reparented = append(p.res.Reparented, n.ID)
		}
	}
}
