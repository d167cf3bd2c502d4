package reconcile

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/registry"
)

// MatchRule names the priority step that bound a record to its placeholder.
type MatchRule string

const (
	RuleEqual        MatchRule = "equal"
	RuleConstraintID MatchRule = "constraint_id"
	RuleSameSets     MatchRule = "same_sets"
	RuleAdopted      MatchRule = "adopted"
	RuleCreated      MatchRule = "created"
)

type slotKey struct {
	id         string
	colocation bool
}

// link is one resource-set record bound to the placeholder rendering it.
type link struct {
	data crm.RscSetConnectionData
	ph   *registry.Node
	rule MatchRule
}

// matcher binds anonymous resource-set records to placeholders so that a
// record keeps its placeholder from one pass to the next.
type matcher struct {
	reg          *registry.Registry
	placeholders []*registry.Node
	pool         []*registry.Node
	claimed      mapset.Set[slotKey]
	hadData      mapset.Set[string]
	// aggregates created or reused this pass, by kind and constraint id
	infos map[slotKey]*registry.ResourceSetInfo
}

func newMatcher(reg *registry.Registry) *matcher {
	m := &matcher{
		reg:          reg,
		placeholders: reg.Placeholders(),
		claimed:      mapset.NewThreadUnsafeSet[slotKey](),
		hadData:      mapset.NewThreadUnsafeSet[string](),
		infos:        make(map[slotKey]*registry.ResourceSetInfo),
	}
	for _, ph := range m.placeholders {
		if ph.IsEmptyPlaceholder() {
			if ph.IsNew {
				m.pool = append(m.pool, ph)
			}
			continue
		}
		m.hadData.Add(ph.ID)
	}
	return m
}

func (m *matcher) isClaimed(ph *registry.Node, colocation bool) bool {
	return m.claimed.Contains(slotKey{id: ph.ID, colocation: colocation})
}

func hasConstraintID(ph *registry.Node, id string) bool {
	if ph.OrderData != nil && ph.OrderData.ConstraintID == id {
		return true
	}
	return ph.ColocationData != nil && ph.ColocationData.ConstraintID == id
}

// find applies the matching priorities. It returns nil with RuleCreated when
// no existing placeholder qualifies.
func (m *matcher) find(d crm.RscSetConnectionData) (*registry.Node, MatchRule) {
	col := d.IsColocation

	for _, ph := range m.placeholders {
		if m.isClaimed(ph, col) {
			continue
		}
		if stored := ph.ConnectionData(col); stored != nil && (d.Equal(*stored) || d.EqualReversed(*stored)) {
			return ph, RuleEqual
		}
	}

	if d.ConstraintID != "" {
		for _, ph := range m.placeholders {
			if hasConstraintID(ph, d.ConstraintID) && !m.isClaimed(ph, col) {
				return ph, RuleConstraintID
			}
		}
	}

	// an order and a colocation over the same sets share one placeholder
	for _, ph := range m.placeholders {
		if m.isClaimed(ph, col) || ph.ConnectionData(col) != nil {
			continue
		}
		if other := ph.ConnectionData(!col); other != nil && d.SetsEqual(*other) {
			return ph, RuleSameSets
		}
	}

	for len(m.pool) > 0 {
		ph := m.pool[0]
		m.pool = m.pool[1:]
		if ph.IsEmptyPlaceholder() && !m.isClaimed(ph, col) && !m.isClaimed(ph, !col) {
			return ph, RuleAdopted
		}
	}

	return nil, RuleCreated
}

// bind stores d on its placeholder, creating one when needed.
func (m *matcher) bind(d crm.RscSetConnectionData) (link, bool) {
	ph, rule := m.find(d)
	created := false
	if ph == nil {
		ph = registry.NewPlaceholder(m.reg.NextPlaceholderID())
		if err := m.reg.Put(ph); err != nil {
			return link{}, false
		}
		m.placeholders = append(m.placeholders, ph)
		created = true
	}

	if ph.SetsInfo == nil {
		// records of one multi-set constraint share an aggregate
		ph.SetsInfo = m.infos[slotKey{id: d.ConstraintID, colocation: d.IsColocation}]
		if ph.SetsInfo == nil {
			ph.SetsInfo = registry.NewResourceSetInfo()
		}
	}
	if prev := ph.ConnectionData(d.IsColocation); prev != nil && prev.ConstraintID != d.ConstraintID {
		detachSlot(ph, *prev)
	}
	ph.SetConnectionData(d)
	ph.SetsInfo.Attach(d, ph.ID)
	if d.ConstraintID != "" {
		m.infos[slotKey{id: d.ConstraintID, colocation: d.IsColocation}] = ph.SetsInfo
	}
	ph.IsNew = false
	m.claimed.Add(slotKey{id: ph.ID, colocation: d.IsColocation})
	return link{data: d, ph: ph, rule: rule}, created
}

// release clears every slot not claimed this pass. A placeholder that had
// constraints and lost them all goes back to the adoption pool as new.
func (m *matcher) release() []string {
	var emptied []string
	for _, ph := range m.placeholders {
		for _, col := range []bool{false, true} {
			stored := ph.ConnectionData(col)
			if stored == nil || m.isClaimed(ph, col) {
				continue
			}
			detachSlot(ph, *stored)
			ph.ClearConnectionData(col)
		}
		if m.hadData.Contains(ph.ID) && ph.IsEmptyPlaceholder() {
			ph.IsNew = true
			if ph.SetsInfo != nil {
				ph.SetsInfo.Detach(ph.ID)
				ph.SetsInfo = nil
			}
			emptied = append(emptied, ph.ID)
		}
	}
	return emptied
}

func detachSlot(ph *registry.Node, d crm.RscSetConnectionData) {
	if ph.SetsInfo == nil || d.ConstraintID == "" {
		return
	}
	set := ph.SetsInfo.Orders
	if d.IsColocation {
		set = ph.SetsInfo.Colocations
	}
	if set[d.ConstraintID] == ph.ID {
		delete(set, d.ConstraintID)
	}
}

func (p *pass) reconcileConstraints() {
	m := newMatcher(p.reg)
	for _, d := range p.snap.RscSetConnections() {
		if d.IsEmpty() {
			continue
		}
		l, created := m.bind(d)
		if l.ph == nil {
			continue
		}
		if created {
			p.created.Add(l.ph.ID)
			p.res.Added = append(p.res.Added, l.ph.ID)
		}
		p.present.Add(l.ph.ID)
		p.links = append(p.links, l)
		p.e.log.Trace().
			Str("placeholder", l.ph.ID).
			Str("rule", string(l.rule)).
			Str("constraint", d.String()).
			Msg("placeholder_matched")
	}
	for _, id := range m.release() {
		p.e.log.Debug().Str("placeholder", id).Msg("placeholder_emptied")
	}
}
