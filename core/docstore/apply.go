package docstore

import (
	"reflect"
	"sort"
	"time"

	"github.com/pkg/errors"
)

type MutationKind string

const (
	MutationSet    MutationKind = "set"
	MutationMerge  MutationKind = "merge"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
	MutationCheck  MutationKind = "check"
)

// Mutation is one write inside a batch.
type Mutation struct {
	Kind       MutationKind
	Collection string
	ID         string
	Data       Data
}

// Apply computes the document that results from m on current (nil when the document is absent).
// A nil result with a nil error means the document is deleted. A check returns current as is.
func Apply(current Data, m Mutation, now time.Time) (Data, error) {
	switch m.Kind {
	case MutationDelete:
		return nil, nil
	case MutationSet:
		return applyFields(Data{}, m.Data, now)
	case MutationMerge:
		return applyFields(clone(current), m.Data, now)
	case MutationUpdate:
		if current == nil {
			return nil, errors.Wrapf(ErrNotFound, "updating %s/%s", m.Collection, m.ID)
		}
		return applyFields(clone(current), m.Data, now)
	case MutationCheck:
		if current == nil {
			return nil, errors.Wrapf(ErrNotFound, "checking %s/%s", m.Collection, m.ID)
		}
		for field, want := range m.Data {
			if !equalValues(current[field], Normalize(want)) {
				return nil, errors.Wrapf(ErrConflict, "%s/%s: %s", m.Collection, m.ID, field)
			}
		}
		return current, nil
	}
	return nil, errors.Errorf("unknown mutation kind %q", m.Kind)
}

func applyFields(doc Data, fields Data, now time.Time) (Data, error) {
	if doc == nil {
		doc = Data{}
	}
	for field, value := range fields {
		switch {
		case IsServerTimestamp(value):
			doc[field] = now.UTC().Format(TimeLayout)
		default:
			if n, ok := IncrementOf(value); ok {
				cur, _ := toFloat(doc[field])
				doc[field] = cur + float64(n)
			} else if vals, ok := ArrayUnionOf(value); ok {
				arr := toArray(doc[field])
				for _, v := range vals {
					v = Normalize(v)
					if !containsValue(arr, v) {
						arr = append(arr, v)
					}
				}
				doc[field] = arr
			} else if vals, ok := ArrayRemoveOf(value); ok {
				arr := toArray(doc[field])
				kept := make([]interface{}, 0, len(arr))
				for _, v := range arr {
					if !containsValue(normalizeAll(vals), v) {
						kept = append(kept, v)
					}
				}
				doc[field] = kept
			} else {
				doc[field] = Normalize(value)
			}
		}
	}
	return doc, nil
}

// Match reports whether doc satisfies every filter.
func Match(doc Data, filters []Filter) bool {
	for _, f := range filters {
		value := doc[f.Field]
		switch f.Op {
		case OpEqual:
			if !equalValues(value, Normalize(f.Value)) {
				return false
			}
		case OpIn:
			if !containsValue(normalizeAll(toArray(Normalize(f.Value))), value) {
				return false
			}
		case OpArrayContains:
			if !containsValue(toArray(value), Normalize(f.Value)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Select runs q against an in-memory collection (ID → document). The result is ordered by ID.
func Select(docs map[string]Data, q Query) []*Snapshot {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := make([]*Snapshot, 0)
	for _, id := range ids {
		doc := docs[id]
		if !Match(doc, q.Filters) {
			continue
		}
		res = append(res, &Snapshot{Collection: q.Collection, ID: id, Data: clone(doc)})
		if q.Limit > 0 && len(res) == q.Limit {
			break
		}
	}
	return res
}

func clone(doc Data) Data {
	if doc == nil {
		return nil
	}
	out := make(Data, len(doc))
	for k, v := range doc {
		if arr, ok := v.([]interface{}); ok {
			cp := make([]interface{}, len(arr))
			copy(cp, arr)
			v = cp
		}
		out[k] = v
	}
	return out
}

// Clone returns a copy of doc that is safe to mutate at the top level.
func Clone(doc Data) Data {
	return clone(doc)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toArray(v interface{}) []interface{} {
	switch arr := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(arr))
		copy(out, arr)
		return out
	case []string:
		out := make([]interface{}, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out
	}
	return make([]interface{}, 0)
}

func normalizeAll(vals []interface{}) []interface{} {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = Normalize(v)
	}
	return out
}

func containsValue(arr []interface{}, v interface{}) bool {
	for _, a := range arr {
		if equalValues(a, v) {
			return true
		}
	}
	return false
}

func equalValues(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}
