package docstore

import (
	"context"

	"github.com/pkg/errors"
)

// CommitFunc writes the mutations of a batch atomically.
type CommitFunc func(ctx context.Context, mutations []Mutation) error

// BufferedBatch collects mutations and hands them to a backend's CommitFunc.
type BufferedBatch struct {
	mutations []Mutation
	commit    CommitFunc
	committed bool
}

var _ Batch = (*BufferedBatch)(nil)

func NewBatch(commit CommitFunc) *BufferedBatch {
	return &BufferedBatch{commit: commit}
}

func (b *BufferedBatch) add(kind MutationKind, collection, id string, data Data) Batch {
	b.mutations = append(b.mutations, Mutation{Kind: kind, Collection: collection, ID: id, Data: data})
	return b
}

func (b *BufferedBatch) Set(collection, id string, data Data) Batch {
	return b.add(MutationSet, collection, id, data)
}

func (b *BufferedBatch) Merge(collection, id string, data Data) Batch {
	return b.add(MutationMerge, collection, id, data)
}

func (b *BufferedBatch) Update(collection, id string, data Data) Batch {
	return b.add(MutationUpdate, collection, id, data)
}

func (b *BufferedBatch) Delete(collection, id string) Batch {
	return b.add(MutationDelete, collection, id, nil)
}

func (b *BufferedBatch) Check(collection, id string, want Data) Batch {
	return b.add(MutationCheck, collection, id, want)
}

func (b *BufferedBatch) Len() int {
	return len(b.mutations)
}

func (b *BufferedBatch) Mutations() []Mutation {
	out := make([]Mutation, len(b.mutations))
	copy(out, b.mutations)
	return out
}

func (b *BufferedBatch) Commit(ctx context.Context) error {
	if b.committed {
		return errors.New("batch already committed")
	}
	switch {
	case len(b.mutations) == 0:
		return ErrEmptyBatch
	case len(b.mutations) > MaxBatchSize:
		return errors.Wrapf(ErrBatchTooLarge, "%d mutations", len(b.mutations))
	}
	for _, m := range b.mutations {
		if m.Collection == "" || m.ID == "" {
			return errors.Errorf("%s mutation without collection or id", m.Kind)
		}
	}
	b.committed = true
	return b.commit(ctx, b.mutations)
}

// Collections returns the distinct collections touched by mutations.
func Collections(mutations []Mutation) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 2)
	for _, m := range mutations {
		if !seen[m.Collection] {
			seen[m.Collection] = true
			out = append(out, m.Collection)
		}
	}
	return out
}
