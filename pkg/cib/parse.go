// Package cib decodes the Pacemaker cluster information base, as printed by
// "cibadmin --query", into a resource snapshot.
package cib

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/rasto/lcmc-sub001/pkg/crm"
)

// ErrNotCIB is returned when the document has no <cib> root.
var ErrNotCIB = errors.New("document is not a cib")

// Parse reads a CIB document. Resources are taken from configuration, orphans
// from the lrm status section.
func Parse(r io.Reader) (*crm.MemorySnapshot, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse cib: %w", err)
	}
	root := xmlquery.FindOne(doc, "/cib")
	if root == nil {
		return nil, ErrNotCIB
	}

	d := &decoder{
		snap:     crm.NewMemorySnapshot(),
		declared: make(map[string]bool),
	}
	if resources := xmlquery.FindOne(root, "configuration/resources"); resources != nil {
		for _, el := range elements(resources) {
			if id := d.resource(el); id != "" {
				d.snap.AddTopLevel(id)
			}
		}
	}
	if constraints := xmlquery.FindOne(root, "configuration/constraints"); constraints != nil {
		for _, el := range elements(constraints) {
			switch el.Data {
			case "rsc_colocation":
				d.colocation(el)
			case "rsc_order":
				d.order(el)
			}
		}
	}
	d.orphans(root)
	return d.snap, nil
}

// ParseString is Parse for an in-memory document.
func ParseString(s string) (*crm.MemorySnapshot, error) {
	return Parse(strings.NewReader(s))
}

type decoder struct {
	snap     *crm.MemorySnapshot
	declared map[string]bool
}

// resource registers el and its members, returning its id. Elements that are
// not resources yield "".
func (d *decoder) resource(el *xmlquery.Node) string {
	id := el.SelectAttr("id")
	if id == "" {
		return ""
	}
	switch el.Data {
	case "primitive":
		d.declared[id] = true
		ra := crm.ResourceAgent{
			Class:    el.SelectAttr("class"),
			Provider: el.SelectAttr("provider"),
			Type:     el.SelectAttr("type"),
		}
		d.snap.AddPrimitive(id, ra, nvpairs(el, "instance_attributes"))
	case "group":
		d.declared[id] = true
		d.snap.AddGroup(id, nvpairs(el, "meta_attributes"), d.members(el)...)
	case "clone", "master":
		d.declared[id] = true
		meta := nvpairs(el, "meta_attributes")
		ms := el.Data == "master" || strings.EqualFold(meta["promotable"], "true")
		d.snap.AddClone(id, ms, meta, d.members(el)...)
	default:
		return ""
	}
	return id
}

func (d *decoder) members(el *xmlquery.Node) []string {
	var ids []string
	for _, child := range elements(el) {
		if id := d.resource(child); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *decoder) colocation(el *xmlquery.Node) {
	id := el.SelectAttr("id")
	sets := resourceSets(el)
	if len(sets) == 0 {
		rsc, with := el.SelectAttr("rsc"), el.SelectAttr("with-rsc")
		if rsc == "" || with == "" {
			return
		}
		d.snap.AddColocation(crm.ColocationData{ID: id, Rsc: rsc, WithRsc: with, Score: el.SelectAttr("score")})
		return
	}
	d.setConnections(id, true, sets)
}

func (d *decoder) order(el *xmlquery.Node) {
	id := el.SelectAttr("id")
	sets := resourceSets(el)
	if len(sets) == 0 {
		first, then := el.SelectAttr("first"), el.SelectAttr("then")
		if first == "" || then == "" {
			return
		}
		score := el.SelectAttr("score")
		if score == "" {
			score = el.SelectAttr("kind")
		}
		d.snap.AddOrder(crm.OrderData{ID: id, Rsc: first, RscThen: then, Score: score})
		return
	}
	d.setConnections(id, false, sets)
}

// setConnections turns n resource sets into n-1 records joining consecutive
// sets. A lone set is joined with an empty one.
func (d *decoder) setConnections(id string, colocation bool, sets []crm.RscSet) {
	if len(sets) == 1 {
		d.snap.AddRscSetConnection(crm.RscSetConnectionData{
			ConstraintID: id,
			IsColocation: colocation,
			RscSet1:      sets[0],
		})
		return
	}
	for i := 0; i+1 < len(sets); i++ {
		d.snap.AddRscSetConnection(crm.RscSetConnectionData{
			ConstraintID: id,
			IsColocation: colocation,
			RscSet1:      sets[i],
			RscSet2:      sets[i+1],
		})
	}
}

// orphans adds resources the cluster still runs but no longer declares.
func (d *decoder) orphans(root *xmlquery.Node) {
	seen := make(map[string]bool)
	for _, el := range xmlquery.Find(root, "status//lrm_resource") {
		id := el.SelectAttr("id")
		if i := strings.IndexByte(id, ':'); i > 0 {
			// clone instance, e.g. "drbd0:1"
			id = id[:i]
		}
		if id == "" || d.declared[id] || seen[id] {
			continue
		}
		seen[id] = true
		ra := crm.ResourceAgent{
			Class:    el.SelectAttr("class"),
			Provider: el.SelectAttr("provider"),
			Type:     el.SelectAttr("type"),
		}
		d.snap.AddPrimitive(id, ra, nil).AddTopLevel(id).MarkOrphaned(id)
	}
}

func resourceSets(el *xmlquery.Node) []crm.RscSet {
	var sets []crm.RscSet
	for _, set := range xmlquery.Find(el, "resource_set") {
		var ids []string
		for _, ref := range xmlquery.Find(set, "resource_ref") {
			if id := ref.SelectAttr("id"); id != "" {
				ids = append(ids, id)
			}
		}
		sets = append(sets, crm.NewRscSet(ids...))
	}
	return sets
}

// nvpairs collects name/value pairs of the named attribute blocks of el.
func nvpairs(el *xmlquery.Node, block string) map[string]string {
	out := make(map[string]string)
	for _, attrs := range xmlquery.Find(el, block) {
		for _, nv := range xmlquery.Find(attrs, "nvpair") {
			if name := nv.SelectAttr("name"); name != "" {
				out[name] = nv.SelectAttr("value")
			}
		}
	}
	return out
}

func elements(parent *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for n := parent.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			out = append(out, n)
		}
	}
	return out
}
