package registry

import (
	"maps"
	"slices"

	"github.com/rasto/lcmc-sub001/pkg/crm"
)

// Node is the one live object representing a cluster resource or a
// constraint placeholder. Its lifetime is owned by the Registry; containers
// only own the order of their members.
type Node struct {
	ID          string
	Kind        crm.Kind
	Agent       crm.ResourceAgent
	AgentKind   crm.AgentKind
	Params      map[string]string
	ParentID    string
	ChildIDs    []string
	MasterSlave bool
	IsNew       bool
	IsOrphaned  bool

	// NeedsRender is set when parameter values changed in the last pass.
	NeedsRender bool

	// DrbdBackingID names the DRBD primitive a Filesystem is colocated with.
	// It is a plain id resolved through the registry, never an owning link.
	DrbdBackingID string

	// Placeholder state.
	OrderData      *crm.RscSetConnectionData
	ColocationData *crm.RscSetConnectionData
	SetsInfo       *ResourceSetInfo
}

// NewPrimitive creates a primitive node for the given agent.
func NewPrimitive(id string, ra crm.ResourceAgent, kind crm.AgentKind) *Node {
	return &Node{
		ID:        id,
		Kind:      crm.KindPrimitive,
		Agent:     ra,
		AgentKind: kind,
		Params:    map[string]string{},
	}
}

// NewContainer creates a group or clone node.
func NewContainer(id string, kind crm.Kind) *Node {
	return &Node{
		ID:     id,
		Kind:   kind,
		Params: map[string]string{},
	}
}

// NewPlaceholder creates an empty constraint placeholder.
func NewPlaceholder(id string) *Node {
	return &Node{
		ID:     id,
		Kind:   crm.KindPlaceholder,
		Params: map[string]string{},
	}
}

// SetParams replaces the parameter map wholesale and reports whether any
// value differed.
func (n *Node) SetParams(p map[string]string) bool {
	if maps.Equal(n.Params, p) {
		return false
	}
	n.Params = maps.Clone(p)
	if n.Params == nil {
		n.Params = map[string]string{}
	}
	return true
}

// ConnectionData returns the placeholder slot for the given constraint kind.
func (n *Node) ConnectionData(colocation bool) *crm.RscSetConnectionData {
	if colocation {
		return n.ColocationData
	}
	return n.OrderData
}

// SetConnectionData stores d in the slot matching its kind.
func (n *Node) SetConnectionData(d crm.RscSetConnectionData) {
	if d.IsColocation {
		n.ColocationData = &d
	} else {
		n.OrderData = &d
	}
}

// ClearConnectionData empties the slot for the given kind.
func (n *Node) ClearConnectionData(colocation bool) {
	if colocation {
		n.ColocationData = nil
	} else {
		n.OrderData = nil
	}
}

// IsEmptyPlaceholder reports whether a placeholder carries no constraint.
func (n *Node) IsEmptyPlaceholder() bool {
	if n.Kind != crm.KindPlaceholder {
		return false
	}
	return (n.OrderData == nil || n.OrderData.IsEmpty()) &&
		(n.ColocationData == nil || n.ColocationData.IsEmpty())
}

// View returns an immutable copy for readers outside the writer flow.
func (n *Node) View() NodeView {
	v := NodeView{
		ID:            n.ID,
		Kind:          n.Kind,
		Agent:         n.Agent,
		AgentKind:     n.AgentKind,
		Params:        maps.Clone(n.Params),
		ParentID:      n.ParentID,
		ChildIDs:      slices.Clone(n.ChildIDs),
		MasterSlave:   n.MasterSlave,
		IsNew:         n.IsNew,
		IsOrphaned:    n.IsOrphaned,
		DrbdBackingID: n.DrbdBackingID,
	}
	if n.OrderData != nil {
		d := *n.OrderData
		v.OrderData = &d
	}
	if n.ColocationData != nil {
		d := *n.ColocationData
		v.ColocationData = &d
	}
	return v
}

// ResourceSetInfo aggregates the set constraints rendered through one or more
// placeholders, keyed by constraint id.
type ResourceSetInfo struct {
	Colocations map[string]string
	Orders      map[string]string
}

// NewResourceSetInfo creates an empty aggregate.
func NewResourceSetInfo() *ResourceSetInfo {
	return &ResourceSetInfo{
		Colocations: make(map[string]string),
		Orders:      make(map[string]string),
	}
}

// Attach records that constraint d is rendered through placeholder phID.
func (s *ResourceSetInfo) Attach(d crm.RscSetConnectionData, phID string) {
	if d.ConstraintID == "" {
		return
	}
	if d.IsColocation {
		s.Colocations[d.ConstraintID] = phID
	} else {
		s.Orders[d.ConstraintID] = phID
	}
}

// Detach forgets every constraint rendered through phID.
func (s *ResourceSetInfo) Detach(phID string) {
	maps.DeleteFunc(s.Colocations, func(_, v string) bool { return v == phID })
	maps.DeleteFunc(s.Orders, func(_, v string) bool { return v == phID })
}
