package school

import (
	"sort"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

// PlannedOp is an adjustment of one parent document: counter increments, array additions and
// removals, or a delete. It is plain data so it can be persisted with a job.
type PlannedOp struct {
	Collection string              `json:"collection"`
	ID         string              `json:"id"`
	Delete     bool                `json:"delete,omitempty"`
	Increments map[string]int      `json:"increments,omitempty"`
	Union      map[string][]string `json:"union,omitempty"`
	Remove     map[string][]string `json:"remove,omitempty"`
	Set        docstore.Data       `json:"set,omitempty"`
}

// Plan accumulates the parent-document adjustments implied by one or more entity writes.
// Opposite increments on the same field cancel out.
type Plan struct {
	ops   map[docKey]*PlannedOp
	order []docKey
}

type docKey struct{ collection, id string }

// CounterDelta is one non-zero counter adjustment of a plan.
type CounterDelta struct {
	Collection string
	ID         string
	Field      string
	Delta      int
}

func NewPlan() *Plan {
	return &Plan{ops: make(map[docKey]*PlannedOp)}
}

func (p *Plan) op(coll, id string) *PlannedOp {
	k := docKey{coll, id}
	op, ok := p.ops[k]
	if !ok {
		op = &PlannedOp{Collection: coll, ID: id}
		p.ops[k] = op
		p.order = append(p.order, k)
	}
	return op
}

// Inc adds n to a counter field; empty ids are ignored.
func (p *Plan) Inc(coll, id, field string, n int) *Plan {
	if id == "" || n == 0 {
		return p
	}
	op := p.op(coll, id)
	if op.Increments == nil {
		op.Increments = make(map[string]int)
	}
	op.Increments[field] += n
	if op.Increments[field] == 0 {
		delete(op.Increments, field)
	}
	return p
}

// Union adds values to an array field; a pending removal of the same value is cancelled instead.
func (p *Plan) Union(coll, id, field string, values ...string) *Plan {
	if id == "" {
		return p
	}
	op := p.op(coll, id)
	for _, v := range values {
		if removeString(op.Remove, field, v) {
			continue
		}
		if op.Union == nil {
			op.Union = make(map[string][]string)
		}
		if !containsString(op.Union[field], v) {
			op.Union[field] = append(op.Union[field], v)
		}
	}
	return p
}

// Remove drops values from an array field; a pending addition of the same value is cancelled instead.
func (p *Plan) Remove(coll, id, field string, values ...string) *Plan {
	if id == "" {
		return p
	}
	op := p.op(coll, id)
	for _, v := range values {
		if removeString(op.Union, field, v) {
			continue
		}
		if op.Remove == nil {
			op.Remove = make(map[string][]string)
		}
		if !containsString(op.Remove[field], v) {
			op.Remove[field] = append(op.Remove[field], v)
		}
	}
	return p
}

// SetFields writes plain values on the document alongside its adjustments.
func (p *Plan) SetFields(coll, id string, data docstore.Data) *Plan {
	if id == "" {
		return p
	}
	op := p.op(coll, id)
	if op.Set == nil {
		op.Set = make(docstore.Data, len(data))
	}
	for k, v := range data {
		op.Set[k] = v
	}
	return p
}

// DeleteDoc deletes the document; earlier adjustments of it are dropped.
func (p *Plan) DeleteDoc(coll, id string) *Plan {
	if id == "" {
		return p
	}
	op := p.op(coll, id)
	*op = PlannedOp{Collection: coll, ID: id, Delete: true}
	return p
}

// Merge adds every adjustment of other to p.
func (p *Plan) Merge(other *Plan) *Plan {
	if other == nil {
		return p
	}
	for _, op := range other.Ops() {
		p.add(op)
	}
	return p
}

func (p *Plan) add(op PlannedOp) {
	if op.Delete {
		p.DeleteDoc(op.Collection, op.ID)
		return
	}
	if existing, ok := p.ops[docKey{op.Collection, op.ID}]; ok && existing.Delete {
		return
	}
	for field, n := range op.Increments {
		p.Inc(op.Collection, op.ID, field, n)
	}
	for field, vals := range op.Union {
		p.Union(op.Collection, op.ID, field, vals...)
	}
	for field, vals := range op.Remove {
		p.Remove(op.Collection, op.ID, field, vals...)
	}
	if len(op.Set) > 0 {
		p.SetFields(op.Collection, op.ID, op.Set)
	}
}

// Ops returns the non-empty adjustments in insertion order.
func (p *Plan) Ops() []PlannedOp {
	out := make([]PlannedOp, 0, len(p.order))
	for _, k := range p.order {
		op := p.ops[k]
		if op.Delete || len(op.Increments) > 0 || len(op.Union) > 0 || len(op.Remove) > 0 || len(op.Set) > 0 {
			out = append(out, *op)
		}
	}
	return out
}

// Len returns the number of documents the plan writes.
func (p *Plan) Len() int {
	return len(p.Ops())
}

func (p *Plan) Empty() bool {
	return p.Len() == 0
}

// Counters returns the non-zero counter adjustments, sorted.
func (p *Plan) Counters() []CounterDelta {
	out := make([]CounterDelta, 0)
	for _, op := range p.Ops() {
		for field, n := range op.Increments {
			out = append(out, CounterDelta{Collection: op.Collection, ID: op.ID, Field: field, Delta: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Field < b.Field
	})
	return out
}

// Delta returns the pending adjustment of a counter.
func (p *Plan) Delta(coll, id, field string) int {
	if op, ok := p.ops[docKey{coll, id}]; ok {
		return op.Increments[field]
	}
	return 0
}

// ApplyTo adds the plan's mutations to b.
func (p *Plan) ApplyTo(b docstore.Batch) {
	ApplyOps(b, p.Ops())
}

// ApplyOps adds the mutations of ops to b. Adjusted documents must exist.
func ApplyOps(b docstore.Batch, ops []PlannedOp) {
	for _, op := range ops {
		if op.Delete {
			b.Delete(op.Collection, op.ID)
			continue
		}
		data := make(docstore.Data, len(op.Increments)+len(op.Union)+len(op.Remove)+len(op.Set)+1)
		for field, v := range op.Set {
			data[field] = v
		}
		for field, n := range op.Increments {
			data[field] = docstore.Increment(n)
		}
		for field, vals := range op.Union {
			data[field] = docstore.ArrayUnion(toInterfaces(vals)...)
		}
		// an array field cannot carry both transforms in one mutation
		var removals docstore.Data
		for field, vals := range op.Remove {
			if _, ok := data[field]; ok {
				if removals == nil {
					removals = make(docstore.Data)
				}
				removals[field] = docstore.ArrayRemove(toInterfaces(vals)...)
				continue
			}
			data[field] = docstore.ArrayRemove(toInterfaces(vals)...)
		}
		data[FieldUpdatedAt] = docstore.ServerTimestamp
		b.Update(op.Collection, op.ID, data)
		if removals != nil {
			b.Update(op.Collection, op.ID, removals)
		}
	}
}

func toInterfaces(vals []string) []interface{} {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func containsString(vals []string, v string) bool {
	for _, s := range vals {
		if s == v {
			return true
		}
	}
	return false
}

// removeString deletes v from m[field] and reports whether it was there.
func removeString(m map[string][]string, field, v string) bool {
	vals, ok := m[field]
	if !ok {
		return false
	}
	for i, s := range vals {
		if s == v {
			m[field] = append(vals[:i:i], vals[i+1:]...)
			if len(m[field]) == 0 {
				delete(m, field)
			}
			return true
		}
	}
	return false
}
