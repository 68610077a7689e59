// Package docstore defines the document database the kindergarten network lives in:
// collections of JSON-like documents with point reads, filtered queries, realtime
// subscriptions and atomic multi-document batches.
package docstore

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxBatchSize is the maximum number of mutations a single batch may carry.
const MaxBatchSize = 500

var (
	ErrNotFound      = errors.New("document not found")
	ErrBatchTooLarge = errors.New("batch exceeds the maximum number of mutations")
	ErrEmptyBatch    = errors.New("batch has no mutations")
	ErrConflict      = errors.New("document changed since it was read")
)

type (
	// Data is a document body. Values are JSON-like (string, float64, bool, nil, []interface{},
	// map[string]interface{}) or one of the field transforms of this package.
	Data map[string]interface{}

	// Snapshot is a document read from a collection.
	Snapshot struct {
		Collection string
		ID         string
		Data       Data
	}

	Op string

	Filter struct {
		Field string
		Op    Op
		Value interface{}
	}

	Query struct {
		Collection string
		Filters    []Filter
		Limit      int
	}

	// Subscription is a live query; Stop ends the delivery and waits for the pump to exit.
	Subscription interface {
		Stop() error
	}

	// Store is the document database.
	// Query results are ordered by document ID.
	Store interface {
		Get(ctx context.Context, collection, id string) (*Snapshot, error)
		Query(ctx context.Context, q Query) ([]*Snapshot, error)
		// Batch starts a new atomic batch; nothing is written until Commit.
		Batch() Batch
		// Subscribe calls fn with the full result of q once, then again every time a write
		// touches q's collection, until ctx is done or the Subscription is stopped.
		Subscribe(ctx context.Context, q Query, fn func([]*Snapshot)) (Subscription, error)
		Close() error
	}

	// Batch bundles mutations that commit together or not at all.
	Batch interface {
		// Set overwrites (or creates) the document.
		Set(collection, id string, data Data) Batch
		// Merge creates the document if absent and merges the given fields into it.
		Merge(collection, id string, data Data) Batch
		// Update merges fields into an existing document; Commit fails with ErrNotFound if it is absent.
		Update(collection, id string, data Data) Batch
		Delete(collection, id string) Batch
		// Check makes Commit fail with ErrConflict unless every given field of the document
		// still holds the given value (ErrNotFound if it is absent). It writes nothing.
		Check(collection, id string, want Data) Batch
		Len() int
		Mutations() []Mutation
		Commit(ctx context.Context) error
	}
)

const (
	OpEqual         Op = "=="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

func Where(field string, op Op, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Collection starts a query over every document of a collection.
func Collection(name string) Query {
	return Query{Collection: name}
}

func (q Query) Where(field string, op Op, value interface{}) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Where(field, op, value))
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

func (s *Snapshot) Exists() bool {
	return s != nil && s.Data != nil
}

// DataTo decodes the snapshot into v (a pointer to a struct with json tags).
func (s *Snapshot) DataTo(v interface{}) error {
	return Decode(s.Data, v)
}

// NewID returns a random document ID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// IsNotFound reports whether err was caused by a missing document.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}

// IsConflict reports whether err was caused by a failed Check.
func IsConflict(err error) bool {
	return errors.Cause(err) == ErrConflict
}

// GetAll reads the given documents and returns the ones that exist, keyed by ID.
func GetAll(ctx context.Context, s Store, collection string, ids []string) (map[string]*Snapshot, error) {
	found := make(map[string]*Snapshot, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; ok || id == "" {
			continue
		}
		snap, err := s.Get(ctx, collection, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, errors.Wrapf(err, "getting %s/%s", collection, id)
		}
		found[id] = snap
	}
	return found, nil
}
