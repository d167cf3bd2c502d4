package registry

import (
	"time"

	"github.com/rasto/lcmc-sub001/pkg/crm"
)

// NodeView is a read-only copy of a Node.
type NodeView struct {
	ID             string                    `json:"id"`
	Kind           crm.Kind                  `json:"kind"`
	Agent          crm.ResourceAgent         `json:"agent"`
	AgentKind      crm.AgentKind             `json:"agent_kind,omitempty"`
	Params         map[string]string         `json:"params,omitempty"`
	ParentID       string                    `json:"parent_id,omitempty"`
	ChildIDs       []string                  `json:"child_ids,omitempty"`
	MasterSlave    bool                      `json:"master_slave,omitempty"`
	IsNew          bool                      `json:"is_new,omitempty"`
	IsOrphaned     bool                      `json:"is_orphaned,omitempty"`
	DrbdBackingID  string                    `json:"drbd_backing_id,omitempty"`
	OrderData      *crm.RscSetConnectionData `json:"order_data,omitempty"`
	ColocationData *crm.RscSetConnectionData `json:"colocation_data,omitempty"`
}

// View is an immutable snapshot of the registry, published after each pass.
type View struct {
	Seq              uint64              `json:"seq"`
	StructureSeq     uint64              `json:"structure_seq"`
	PublishedAt      time.Time           `json:"published_at"`
	StructureChanged bool                `json:"structure_changed"`
	Nodes            map[string]NodeView `json:"nodes"`
	Order            []string            `json:"order"`
	Roots            []string            `json:"roots"`
}

// Get returns the node view for id.
func (v *View) Get(id string) (NodeView, bool) {
	n, ok := v.Nodes[id]
	return n, ok
}

// TreeEntry is one row of the resource tree.
type TreeEntry struct {
	Depth int      `json:"depth"`
	Node  NodeView `json:"node"`
}

// Tree lists resources depth first: top-level ids, each followed by its
// members. Placeholders are not part of the tree.
func (v *View) Tree() []TreeEntry {
	var out []TreeEntry
	seen := make(map[string]bool)
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		n, ok := v.Nodes[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, TreeEntry{Depth: depth, Node: n})
		for _, child := range n.ChildIDs {
			walk(child, depth+1)
		}
	}
	for _, id := range v.Roots {
		walk(id, 0)
	}
	return out
}

// Placeholders returns placeholder views in creation order.
func (v *View) Placeholders() []NodeView {
	var out []NodeView
	for _, id := range v.Order {
		if n := v.Nodes[id]; n.Kind == crm.KindPlaceholder {
			out = append(out, n)
		}
	}
	return out
}
