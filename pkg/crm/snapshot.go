package crm

import (
	"maps"
	"slices"
)

// Snapshot is the decoded cluster state of one poll. Implementations must not
// change while a reconciliation pass reads them.
type Snapshot interface {
	// Groups returns every group id in document order, nested ones included.
	Groups() []string
	// Clones returns every clone and master/slave id in document order.
	Clones() []string
	IsMasterSlave(id string) bool
	// Members returns the ordered member ids of a group or clone.
	Members(id string) ([]string, bool)
	// TopLevel returns the ids not owned by any group or clone, in order.
	TopLevel() []string
	ResourceAgent(id string) (ResourceAgent, bool)
	Params(id string) (map[string]string, bool)
	IsOrphaned(id string) bool
	RscSetConnections() []RscSetConnectionData
	// Colocations is keyed by the dependent resource id.
	Colocations() map[string][]ColocationData
	// Orders is keyed by the resource that starts first.
	Orders() map[string][]OrderData
}

// MemorySnapshot is a Snapshot assembled in memory, either by the CIB decoder
// or directly by tests and static sources.
type MemorySnapshot struct {
	groups      []string
	clones      []string
	masterSlave map[string]bool
	members     map[string][]string
	topLevel    []string
	agents      map[string]ResourceAgent
	params      map[string]map[string]string
	orphans     map[string]bool
	rscSets     []RscSetConnectionData
	colocations map[string][]ColocationData
	orders      map[string][]OrderData
}

var _ Snapshot = (*MemorySnapshot)(nil)

// NewMemorySnapshot creates an empty snapshot.
func NewMemorySnapshot() *MemorySnapshot {
	return &MemorySnapshot{
		masterSlave: make(map[string]bool),
		members:     make(map[string][]string),
		agents:      make(map[string]ResourceAgent),
		params:      make(map[string]map[string]string),
		orphans:     make(map[string]bool),
		colocations: make(map[string][]ColocationData),
		orders:      make(map[string][]OrderData),
	}
}

// AddPrimitive declares a primitive with its agent and parameters. An empty
// agent type leaves the agent unresolved.
func (s *MemorySnapshot) AddPrimitive(id string, ra ResourceAgent, params map[string]string) *MemorySnapshot {
	if ra.Type != "" {
		s.agents[id] = ra
	}
	s.params[id] = cloneParams(params)
	return s
}

// AddGroup declares a group and its ordered members.
func (s *MemorySnapshot) AddGroup(id string, params map[string]string, members ...string) *MemorySnapshot {
	s.groups = appendUnique(s.groups, id)
	s.members[id] = slices.Clone(members)
	s.params[id] = cloneParams(params)
	return s
}

// AddClone declares a clone (or master/slave set) wrapping members.
func (s *MemorySnapshot) AddClone(id string, masterSlave bool, params map[string]string, members ...string) *MemorySnapshot {
	s.clones = appendUnique(s.clones, id)
	s.masterSlave[id] = masterSlave
	s.members[id] = slices.Clone(members)
	s.params[id] = cloneParams(params)
	return s
}

// AddTopLevel appends ids to the top-level resource list.
func (s *MemorySnapshot) AddTopLevel(ids ...string) *MemorySnapshot {
	for _, id := range ids {
		s.topLevel = appendUnique(s.topLevel, id)
	}
	return s
}

// MarkOrphaned flags a resource as instantiated but no longer declared.
func (s *MemorySnapshot) MarkOrphaned(id string) *MemorySnapshot {
	s.orphans[id] = true
	return s
}

// AddRscSetConnection appends a resource-set connection record.
func (s *MemorySnapshot) AddRscSetConnection(d RscSetConnectionData) *MemorySnapshot {
	s.rscSets = append(s.rscSets, d)
	return s
}

// AddColocation adds a direct colocation constraint.
func (s *MemorySnapshot) AddColocation(c ColocationData) *MemorySnapshot {
	s.colocations[c.Rsc] = append(s.colocations[c.Rsc], c)
	return s
}

// AddOrder adds a direct order constraint.
func (s *MemorySnapshot) AddOrder(o OrderData) *MemorySnapshot {
	s.orders[o.Rsc] = append(s.orders[o.Rsc], o)
	return s
}

// DropParams removes the parameter map of id, producing a malformed entry.
func (s *MemorySnapshot) DropParams(id string) *MemorySnapshot {
	delete(s.params, id)
	return s
}

func (s *MemorySnapshot) Groups() []string { return s.groups }
func (s *MemorySnapshot) Clones() []string { return s.clones }

func (s *MemorySnapshot) IsMasterSlave(id string) bool { return s.masterSlave[id] }

func (s *MemorySnapshot) Members(id string) ([]string, bool) {
	m, ok := s.members[id]
	return m, ok
}

func (s *MemorySnapshot) TopLevel() []string { return s.topLevel }

func (s *MemorySnapshot) ResourceAgent(id string) (ResourceAgent, bool) {
	ra, ok := s.agents[id]
	return ra, ok
}

func (s *MemorySnapshot) Params(id string) (map[string]string, bool) {
	p, ok := s.params[id]
	return p, ok
}

func (s *MemorySnapshot) IsOrphaned(id string) bool { return s.orphans[id] }

func (s *MemorySnapshot) RscSetConnections() []RscSetConnectionData { return s.rscSets }

func (s *MemorySnapshot) Colocations() map[string][]ColocationData { return s.colocations }

func (s *MemorySnapshot) Orders() map[string][]OrderData { return s.orders }

func cloneParams(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return maps.Clone(p)
}

func appendUnique(list []string, id string) []string {
	if slices.Contains(list, id) {
		return list
	}
	return append(list, id)
}
