package school

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/events"
)

// LinkResult reports what a link operation did. Missing lists guardians that no longer exist;
// they are skipped rather than recreated.
type LinkResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Missing []string `json:"missing"`
}

// Written reports whether any guardian document was updated.
func (r LinkResult) Written() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// LinkGuardians adds studentID to the studentIds of every guardian.
func (svc *Service) LinkGuardians(ctx context.Context, studentID string, guardianIDs []string) (LinkResult, error) {
	return svc.patchGuardians(ctx, studentID, dedupe(guardianIDs), nil)
}

// UnlinkGuardians removes studentID from the studentIds of every guardian.
func (svc *Service) UnlinkGuardians(ctx context.Context, studentID string, guardianIDs []string) (LinkResult, error) {
	return svc.patchGuardians(ctx, studentID, nil, dedupe(guardianIDs))
}

// ReplaceGuardians moves the student's guardian set from prev to next, touching only the
// guardians in the set differences. Identical sets read and write nothing.
func (svc *Service) ReplaceGuardians(ctx context.Context, studentID string, prev, next []string) (LinkResult, error) {
	toAdd, toRemove := diffSets(prev, next)
	return svc.patchGuardians(ctx, studentID, toAdd, toRemove)
}

func (svc *Service) patchGuardians(ctx context.Context, studentID string, toAdd, toRemove []string) (LinkResult, error) {
	res := LinkResult{Added: []string{}, Removed: []string{}, Missing: []string{}}
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return res, nil
	}

	existing, err := docstore.GetAll(ctx, svc.store, GuardiansCollection, append(append([]string{}, toAdd...), toRemove...))
	if err != nil {
		return res, errors.Wrap(err, "reading guardians")
	}

	b := svc.store.Batch()
	for _, id := range toAdd {
		if _, ok := existing[id]; !ok {
			res.Missing = append(res.Missing, id)
			continue
		}
		b.Update(GuardiansCollection, id, docstore.Data{
			FieldStudentIDs: docstore.ArrayUnion(studentID),
			FieldUpdatedAt:  docstore.ServerTimestamp,
		})
		res.Added = append(res.Added, id)
	}
	for _, id := range toRemove {
		if _, ok := existing[id]; !ok {
			res.Missing = append(res.Missing, id)
			continue
		}
		b.Update(GuardiansCollection, id, docstore.Data{
			FieldStudentIDs: docstore.ArrayRemove(studentID),
			FieldUpdatedAt:  docstore.ServerTimestamp,
		})
		res.Removed = append(res.Removed, id)
	}

	if len(res.Missing) > 0 {
		svc.logger.Warn("student references missing guardians", map[string]interface{}{
			"studentId":   studentID,
			"guardianIds": res.Missing,
		})
		svc.metrics.GuardiansMissing(len(res.Missing))
		svc.publish(ctx, events.TopicGuardianMissing, map[string]interface{}{
			"studentId":   studentID,
			"guardianIds": res.Missing,
		})
	}
	if b.Len() == 0 {
		return res, nil
	}
	if err := b.Commit(ctx); err != nil {
		return res, errors.Wrap(err, "updating guardian links")
	}
	return res, nil
}

// diffSets returns next − prev and prev − next, each sorted.
func diffSets(prev, next []string) (toAdd, toRemove []string) {
	prevSet := toSet(prev)
	nextSet := toSet(next)
	for id := range nextSet {
		if !prevSet[id] {
			toAdd = append(toAdd, id)
		}
	}
	for id := range prevSet {
		if !nextSet[id] {
			toRemove = append(toRemove, id)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}

// dedupe drops empty and repeated ids, keeping the first occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
