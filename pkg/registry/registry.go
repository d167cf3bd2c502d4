package registry

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rasto/lcmc-sub001/pkg/crm"
)

// Registry maps stable external ids to their live nodes.
//
// It has a single writer: the reconciliation pass, or a local action holding
// the cluster-status lock. Readers never touch live nodes; they read the
// copy-on-write View published after each mutation batch.
type Registry struct {
	nodes map[string]*Node
	order []string
	roots []string
	phSeq int
	seq   uint64
	// seq of the last publish that changed the structure
	structSeq uint64
	latest    atomic.Pointer[View]
}

// New creates an empty registry with an empty published view.
func New() *Registry {
	r := &Registry{
		nodes: make(map[string]*Node),
	}
	r.Publish(false)
	return r
}

// Get returns the live node for id.
func (r *Registry) Get(id string) (*Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Put registers n under its id. A live id is never rebound to a different
// object; the caller must Remove the old node first.
func (r *Registry) Put(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("cannot register node without id")
	}
	if cur, ok := r.nodes[n.ID]; ok {
		if cur == n {
			return nil
		}
		return fmt.Errorf("id %q is already bound to a live node", n.ID)
	}
	r.nodes[n.ID] = n
	r.order = append(r.order, n.ID)
	return nil
}

// Remove unregisters id, detaching it from its parent's member list and from
// the top-level order. It returns the removed node.
func (r *Registry) Remove(id string) (*Node, bool) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	delete(r.nodes, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	r.roots = slices.DeleteFunc(r.roots, func(s string) bool { return s == id })
	if n.ParentID != "" {
		if parent, ok := r.nodes[n.ParentID]; ok {
			parent.ChildIDs = slices.DeleteFunc(parent.ChildIDs, func(s string) bool { return s == id })
		}
	}
	if n.SetsInfo != nil {
		n.SetsInfo.Detach(id)
	}
	return n, true
}

// Len returns the number of live nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// IDs returns live ids in registration order.
func (r *Registry) IDs() []string {
	return slices.Clone(r.order)
}

// Nodes returns live nodes in registration order.
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

// Placeholders returns placeholder nodes in creation order.
func (r *Registry) Placeholders() []*Node {
	var out []*Node
	for _, id := range r.order {
		if n := r.nodes[id]; n.Kind == crm.KindPlaceholder {
			out = append(out, n)
		}
	}
	return out
}

// Roots returns the ordered top-level resource ids.
func (r *Registry) Roots() []string {
	return slices.Clone(r.roots)
}

// SetRoots replaces the top-level order.
func (r *Registry) SetRoots(ids []string) {
	r.roots = slices.Clone(ids)
}

// AppendRoot adds id to the end of the top-level order if missing.
func (r *Registry) AppendRoot(id string) {
	if !slices.Contains(r.roots, id) {
		r.roots = append(r.roots, id)
	}
}

// NextPlaceholderID allocates an unused placeholder id.
func (r *Registry) NextPlaceholderID() string {
	for {
		r.phSeq++
		id := fmt.Sprintf("ph_%d", r.phSeq)
		if _, taken := r.nodes[id]; !taken {
			return id
		}
	}
}

// Publish freezes the current state into a new View for readers.
func (r *Registry) Publish(structureChanged bool) *View {
	r.seq++
	if structureChanged {
		r.structSeq = r.seq
	}
	v := &View{
		Seq:              r.seq,
		StructureSeq:     r.structSeq,
		PublishedAt:      time.Now().UTC(),
		StructureChanged: structureChanged,
		Nodes:            make(map[string]NodeView, len(r.nodes)),
		Order:            slices.Clone(r.order),
		Roots:            slices.Clone(r.roots),
	}
	for id, n := range r.nodes {
		v.Nodes[id] = n.View()
	}
	r.latest.Store(v)
	return v
}

// Latest returns the most recently published view. Safe for concurrent use.
func (r *Registry) Latest() *View {
	return r.latest.Load()
}
