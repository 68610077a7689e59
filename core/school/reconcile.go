package school

import (
	"context"
	"reflect"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/events"
)

// Drift is a stored aggregate that disagreed with its source documents.
type Drift struct {
	Collection string      `json:"collection"`
	ID         string      `json:"id"`
	Field      string      `json:"field"`
	Stored     interface{} `json:"stored"`
	Actual     interface{} `json:"actual"`
}

type ReconcileReport struct {
	KindergartenID string  `json:"kindergartenId"`
	Checked        int     `json:"checked"` // documents whose aggregates were recomputed
	Drifts         []Drift `json:"drifts"`
}

// Reconcile recomputes the aggregates of a kindergarten, its branches and its classes from the
// documents that reference them and overwrites the ones that drifted.
func (svc *Service) Reconcile(ctx context.Context, kindergartenID string) (ReconcileReport, error) {
	k, err := svc.GetKindergarten(ctx, kindergartenID)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{KindergartenID: k.ID, Drifts: []Drift{}}

	students, err := queryAll[Student](ctx, svc.store, docstore.Collection(StudentsCollection).Where("kindergartenId", docstore.OpEqual, k.ID))
	if err != nil {
		return report, err
	}
	teachers, err := queryAll[Teacher](ctx, svc.store, docstore.Collection(TeachersCollection).Where("kindergartenId", docstore.OpEqual, k.ID))
	if err != nil {
		return report, err
	}
	classes, err := queryAll[Class](ctx, svc.store, docstore.Collection(ClassesCollection).Where("kindergartenId", docstore.OpEqual, k.ID))
	if err != nil {
		return report, err
	}
	branches, err := queryAll[Branch](ctx, svc.store, docstore.Collection(BranchesCollection).Where("parentId", docstore.OpEqual, k.ID))
	if err != nil {
		return report, err
	}

	studentsPerBranch := make(map[string]int)
	studentsPerClass := make(map[string][]string)
	for _, s := range students {
		studentsPerBranch[s.BranchID]++
		if s.ClassID != "" {
			studentsPerClass[s.ClassID] = append(studentsPerClass[s.ClassID], s.ID)
		}
	}
	activeTeachers, activePerBranch := 0, make(map[string]int)
	for _, t := range teachers {
		if t.Active {
			activeTeachers++
			activePerBranch[t.BranchID]++
		}
	}
	classesPerBranch := make(map[string]int)
	for _, c := range classes {
		classesPerBranch[c.BranchID()]++
	}

	corrections := make(map[docKey]docstore.Data)
	check := func(coll, id, field string, stored, actual interface{}) {
		if reflect.DeepEqual(stored, actual) {
			return
		}
		report.Drifts = append(report.Drifts, Drift{Collection: coll, ID: id, Field: field, Stored: stored, Actual: actual})
		key := docKey{coll, id}
		if corrections[key] == nil {
			corrections[key] = docstore.Data{}
		}
		corrections[key][field] = actual
	}

	check(KindergartensCollection, k.ID, FieldStudentCount, k.StudentCount, len(students))
	check(KindergartensCollection, k.ID, FieldActiveTeacherCount, k.ActiveTeacherCount, activeTeachers)
	check(KindergartensCollection, k.ID, FieldClassCount, k.ClassCount, len(classes))
	check(KindergartensCollection, k.ID, FieldBranchCount, k.BranchCount, len(branches))
	report.Checked++

	for _, b := range branches {
		check(BranchesCollection, b.ID, FieldStudentCount, b.StudentCount, studentsPerBranch[b.ID])
		check(BranchesCollection, b.ID, FieldActiveTeacherCount, b.ActiveTeacherCount, activePerBranch[b.ID])
		check(BranchesCollection, b.ID, FieldClassCount, b.ClassCount, classesPerBranch[b.ID])
		report.Checked++
	}
	for _, c := range classes {
		ids := studentsPerClass[c.ID]
		sort.Strings(ids)
		stored := append([]string{}, c.StudentIDs...)
		sort.Strings(stored)
		check(ClassesCollection, c.ID, FieldStudentCount, c.StudentCount, len(ids))
		if len(ids) != len(stored) || (len(ids) > 0 && !reflect.DeepEqual(ids, stored)) {
			if ids == nil {
				ids = []string{}
			}
			check(ClassesCollection, c.ID, FieldStudentIDs, stored, ids)
		}
		report.Checked++
	}

	if err := svc.writeCorrections(ctx, corrections); err != nil {
		return report, errors.Wrapf(err, "correcting aggregates of %s", k.ID)
	}
	for _, d := range report.Drifts {
		svc.metrics.CounterDrift(d.Collection, d.Field, 1)
	}
	if len(report.Drifts) > 0 {
		svc.logger.Info("counters reconciled", map[string]interface{}{
			"kindergartenId": k.ID,
			"drifts":         len(report.Drifts),
		})
	}
	svc.publish(ctx, events.TopicCountersReconciled, map[string]interface{}{
		"kindergartenId": k.ID,
		"checked":        report.Checked,
		"drifts":         len(report.Drifts),
	})
	return report, nil
}

func (svc *Service) writeCorrections(ctx context.Context, corrections map[docKey]docstore.Data) error {
	if len(corrections) == 0 {
		return nil
	}
	keys := make([]docKey, 0, len(corrections))
	for k := range corrections {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].collection != keys[j].collection {
			return keys[i].collection < keys[j].collection
		}
		return keys[i].id < keys[j].id
	})

	b := svc.store.Batch()
	for _, k := range keys {
		data := corrections[k]
		data[FieldUpdatedAt] = docstore.ServerTimestamp
		b.Update(k.collection, k.id, data)
		if b.Len() == ChunkSize {
			if err := b.Commit(ctx); err != nil {
				return err
			}
			b = svc.store.Batch()
		}
	}
	if b.Len() > 0 {
		return b.Commit(ctx)
	}
	return nil
}

// ReconcileAll reconciles every kindergarten; it stops at the first failure.
func (svc *Service) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	kindergartens, err := queryAll[Kindergarten](ctx, svc.store, docstore.Collection(KindergartensCollection))
	if err != nil {
		return nil, err
	}
	reports := make([]ReconcileReport, 0, len(kindergartens))
	for _, k := range kindergartens {
		report, err := svc.Reconcile(ctx, k.ID)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// PeriodicReconciler runs ReconcileAll on a fixed interval until stopped.
type PeriodicReconciler struct {
	svc      *Service
	interval time.Duration
	logger   core.Logger
	t        tomb.Tomb
}

func NewPeriodicReconciler(svc *Service, interval time.Duration, logger core.Logger) *PeriodicReconciler {
	return &PeriodicReconciler{svc: svc, interval: interval, logger: logger}
}

func (r *PeriodicReconciler) Start() {
	r.t.Go(func() error {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.t.Dying():
				return nil
			case <-ticker.C:
				ctx := r.t.Context(context.Background())
				if _, err := r.svc.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
					r.logger.Error("periodic reconciliation", err)
				}
			}
		}
	})
}

func (r *PeriodicReconciler) Stop() error {
	r.t.Kill(nil)
	return r.t.Wait()
}
