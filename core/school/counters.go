package school

import (
	"context"

	"github.com/pkg/errors"
)

// StudentDeltas plans the studentCount adjustments implied by a student going from prev to next
// (nil = absent) on its kindergarten, branch and class, and keeps the class studentIds in step.
func StudentDeltas(prev, next *Student) *Plan {
	p := NewPlan()
	if prev != nil {
		p.Inc(KindergartensCollection, prev.KindergartenID, FieldStudentCount, -1)
		p.Inc(BranchesCollection, prev.BranchID, FieldStudentCount, -1)
		p.Inc(ClassesCollection, prev.ClassID, FieldStudentCount, -1)
	}
	if next != nil {
		p.Inc(KindergartensCollection, next.KindergartenID, FieldStudentCount, 1)
		p.Inc(BranchesCollection, next.BranchID, FieldStudentCount, 1)
		p.Inc(ClassesCollection, next.ClassID, FieldStudentCount, 1)
	}

	var prevClass, nextClass, id string
	if prev != nil {
		prevClass, id = prev.ClassID, prev.ID
	}
	if next != nil {
		nextClass, id = next.ClassID, next.ID
	}
	if prevClass != nextClass {
		p.Remove(ClassesCollection, prevClass, FieldStudentIDs, id)
		p.Union(ClassesCollection, nextClass, FieldStudentIDs, id)
	}
	return p
}

// TeacherDeltas plans the activeTeacherCount adjustments implied by a teacher going from prev to
// next. Only active teachers are counted: moving an inactive teacher changes nothing.
func TeacherDeltas(prev, next *Teacher) *Plan {
	p := NewPlan()
	if prev != nil && prev.Active {
		p.Inc(KindergartensCollection, prev.KindergartenID, FieldActiveTeacherCount, -1)
		p.Inc(BranchesCollection, prev.BranchID, FieldActiveTeacherCount, -1)
	}
	if next != nil && next.Active {
		p.Inc(KindergartensCollection, next.KindergartenID, FieldActiveTeacherCount, 1)
		p.Inc(BranchesCollection, next.BranchID, FieldActiveTeacherCount, 1)
	}
	return p
}

// ClassDeltas plans the classCount adjustments implied by a class going from prev to next.
func ClassDeltas(prev, next *Class) *Plan {
	p := NewPlan()
	if prev != nil {
		p.Inc(KindergartensCollection, prev.KindergartenID, FieldClassCount, -1)
		p.Inc(BranchesCollection, prev.BranchID(), FieldClassCount, -1)
	}
	if next != nil {
		p.Inc(KindergartensCollection, next.KindergartenID, FieldClassCount, 1)
		p.Inc(BranchesCollection, next.BranchID(), FieldClassCount, 1)
	}
	return p
}

// BranchDeltas plans the branchCount adjustments implied by a branch going from prev to next.
func BranchDeltas(prev, next *Branch) *Plan {
	p := NewPlan()
	if prev != nil {
		p.Inc(KindergartensCollection, prev.ParentID, FieldBranchCount, -1)
	}
	if next != nil {
		p.Inc(KindergartensCollection, next.ParentID, FieldBranchCount, 1)
	}
	return p
}

// SyncStudent applies StudentDeltas in one atomic batch. Nothing is written when nothing changed.
func (svc *Service) SyncStudent(ctx context.Context, prev, next *Student) error {
	return errors.Wrap(svc.commitPlan(ctx, StudentDeltas(prev, next)), "syncing student counters")
}

// SyncTeacher applies TeacherDeltas in one atomic batch. Nothing is written when nothing changed.
func (svc *Service) SyncTeacher(ctx context.Context, prev, next *Teacher) error {
	return errors.Wrap(svc.commitPlan(ctx, TeacherDeltas(prev, next)), "syncing teacher counters")
}

// SyncClass applies ClassDeltas in one atomic batch. Nothing is written when nothing changed.
func (svc *Service) SyncClass(ctx context.Context, prev, next *Class) error {
	return errors.Wrap(svc.commitPlan(ctx, ClassDeltas(prev, next)), "syncing class counters")
}

func (svc *Service) commitPlan(ctx context.Context, p *Plan) error {
	if p.Empty() {
		return nil
	}
	b := svc.store.Batch()
	p.ApplyTo(b)
	if err := b.Commit(ctx); err != nil {
		return err
	}
	svc.metrics.CounterBatch(p.Len())
	return nil
}
