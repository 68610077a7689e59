// Package memory provides an in-memory document store used for tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

var _ docstore.Store = (*Store)(nil)

type collection map[string]docstore.Data

// Store keeps every collection in memory. A batch is applied to a copy of the collections it
// touches and swapped in only when every mutation succeeded.
type Store struct {
	mu    sync.RWMutex
	state map[string]collection
	hub   *docstore.Hub
	nowFn func() time.Time

	// instrumentation
	commits   int
	writes    int
	committed [][]docstore.Mutation
	failFn    func([]docstore.Mutation) error
}

func New() *Store {
	return &Store{
		state: make(map[string]collection),
		hub:   docstore.NewHub(),
		nowFn: time.Now,
	}
}

// SetNow overrides the clock used for server timestamps.
func (s *Store) SetNow(fn func() time.Time) {
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// FailWith makes commits fail with the error fn returns (nil lets the commit through).
// Pass nil to clear.
func (s *Store) FailWith(fn func(mutations []docstore.Mutation) error) {
	s.mu.Lock()
	s.failFn = fn
	s.mu.Unlock()
}

func (s *Store) Get(ctx context.Context, coll, id string) (*docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.state[coll][id]
	if !ok {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", coll, id)
	}
	return &docstore.Snapshot{Collection: coll, ID: id, Data: docstore.Clone(doc)}, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return docstore.Select(s.state[q.Collection], q), nil
}

func (s *Store) Batch() docstore.Batch {
	return docstore.NewBatch(s.commit)
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn func([]*docstore.Snapshot)) (docstore.Subscription, error) {
	return s.hub.Subscribe(ctx, s.Query, q, fn, nil), nil
}

func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) commit(ctx context.Context, mutations []docstore.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.failFn != nil {
		if err := s.failFn(mutations); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	now := s.nowFn()
	staged := make(map[string]collection)
	for _, m := range mutations {
		coll, ok := staged[m.Collection]
		if !ok {
			coll = make(collection, len(s.state[m.Collection]))
			for id, doc := range s.state[m.Collection] {
				coll[id] = doc
			}
			staged[m.Collection] = coll
		}
		doc, err := docstore.Apply(coll[m.ID], m, now)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if doc == nil {
			delete(coll, m.ID)
		} else {
			coll[m.ID] = doc
		}
	}
	for name, coll := range staged {
		s.state[name] = coll
	}
	s.commits++
	for _, m := range mutations {
		if m.Kind != docstore.MutationCheck {
			s.writes++
		}
	}
	logged := make([]docstore.Mutation, len(mutations))
	copy(logged, mutations)
	s.committed = append(s.committed, logged)
	s.mu.Unlock()

	s.hub.Notify(docstore.Collections(mutations)...)
	return nil
}

// Commits returns the number of committed batches.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Writes returns the number of committed mutations, checks excluded.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Committed returns the mutations of every committed batch, oldest first.
func (s *Store) Committed() [][]docstore.Mutation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]docstore.Mutation, len(s.committed))
	copy(out, s.committed)
	return out
}

// ResetStats clears the commit counters and log.
func (s *Store) ResetStats() {
	s.mu.Lock()
	s.commits, s.writes, s.committed = 0, 0, nil
	s.mu.Unlock()
}
