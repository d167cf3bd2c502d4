package crm

import (
	"fmt"
	"slices"
	"strings"
)

// RscSet is an ordered set of resource ids taking part in a set constraint.
type RscSet struct {
	IDs []string `json:"ids"`
}

// NewRscSet builds a set from ids in the given order.
func NewRscSet(ids ...string) RscSet {
	return RscSet{IDs: slices.Clone(ids)}
}

// IsEmpty reports whether the set holds no ids.
func (s RscSet) IsEmpty() bool {
	return len(s.IDs) == 0
}

// Equal compares two sets element by element.
func (s RscSet) Equal(o RscSet) bool {
	return slices.Equal(s.IDs, o.IDs)
}

func (s RscSet) String() string {
	return "(" + strings.Join(s.IDs, " ") + ")"
}

// RscSetConnectionData describes two resource sets joined by one order or
// colocation constraint. ConstraintID may be empty.
type RscSetConnectionData struct {
	ConstraintID string `json:"constraint_id,omitempty"`
	IsColocation bool   `json:"is_colocation"`
	RscSet1      RscSet `json:"rsc_set1"`
	RscSet2      RscSet `json:"rsc_set2"`
}

// Equal reports whether o joins the same sets, in the same order, with the
// same constraint kind. The constraint id is not compared.
func (d RscSetConnectionData) Equal(o RscSetConnectionData) bool {
	return d.IsColocation == o.IsColocation &&
		d.RscSet1.Equal(o.RscSet1) &&
		d.RscSet2.Equal(o.RscSet2)
}

// EqualReversed reports whether o joins the same sets with the sides swapped.
func (d RscSetConnectionData) EqualReversed(o RscSetConnectionData) bool {
	return d.IsColocation == o.IsColocation &&
		d.RscSet1.Equal(o.RscSet2) &&
		d.RscSet2.Equal(o.RscSet1)
}

// SetsEqual compares set contents only, ignoring kind and constraint id.
// A colocation joins its sets in the opposite direction of an order, so when
// the kinds differ the sides are compared crosswise.
func (d RscSetConnectionData) SetsEqual(o RscSetConnectionData) bool {
	if d.IsColocation != o.IsColocation {
		return d.RscSet1.Equal(o.RscSet2) && d.RscSet2.Equal(o.RscSet1)
	}
	return d.RscSet1.Equal(o.RscSet1) && d.RscSet2.Equal(o.RscSet2)
}

// IsEmpty reports whether both sets are empty.
func (d RscSetConnectionData) IsEmpty() bool {
	return d.RscSet1.IsEmpty() && d.RscSet2.IsEmpty()
}

// Kind returns "colocation" or "order".
func (d RscSetConnectionData) Kind() string {
	if d.IsColocation {
		return "colocation"
	}
	return "order"
}

func (d RscSetConnectionData) String() string {
	return fmt.Sprintf("%s[%s] %s -> %s", d.Kind(), d.ConstraintID, d.RscSet1, d.RscSet2)
}
