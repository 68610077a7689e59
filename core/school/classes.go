package school

import (
	"context"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

type (
	NewClass struct {
		Name      string   `json:"name" validate:"required,notblank,max=80"`
		Stage     string   `json:"stage" validate:"max=80"`
		AgeRanges []string `json:"ageRanges" validate:"required,min=1,agerange"`
		// ParentID is the kindergarten or one of its branches.
		ParentID  string `json:"parentId" validate:"required"`
		TeacherID string `json:"teacherId"`
	}

	UpdateClass NewClass

	// ClassUpdate reports an update; JobID is set when the change was propagated to the students.
	ClassUpdate struct {
		Class  Class  `json:"class"`
		JobID  string `json:"jobId,omitempty"`
		Chunks int    `json:"chunks,omitempty"`
	}
)

// resolveParent returns the kindergarten owning parentID, which names the kindergarten itself or one of its branches.
func (svc *Service) resolveParent(ctx context.Context, parentID string) (Kindergarten, error) {
	k, err := svc.GetKindergarten(ctx, parentID)
	if err == nil || !IsNotFound(err) {
		return k, err
	}
	b, err := svc.GetBranch(ctx, parentID)
	if err != nil {
		if IsNotFound(err) {
			return Kindergarten{}, validationErr(err, "parentId")
		}
		return Kindergarten{}, err
	}
	k, err = svc.GetKindergarten(ctx, b.ParentID)
	if IsNotFound(err) {
		return Kindergarten{}, validationErr(err, "parentId")
	}
	return k, err
}

// buildClass validates the class fields against the owning kindergarten and snapshots the teacher name.
func (svc *Service) buildClass(ctx context.Context, c *Class, in NewClass) error {
	k, err := svc.resolveParent(ctx, in.ParentID)
	if err != nil {
		return err
	}
	if c.KindergartenID != "" && c.KindergartenID != k.ID {
		return validationErr(errors.Wrap(ErrParentMismatch, in.ParentID), "parentId")
	}
	ageRanges, err := NormalizeAgeRanges(in.AgeRanges)
	if err != nil {
		return validationErr(err, "ageRanges")
	}
	outside, err := AgeRangesWithin(ageRanges, k.AgeRanges)
	if err != nil {
		return err
	}
	if len(outside) > 0 {
		return validationErr(errors.Wrapf(ErrAgeRangeOutside, "%v", outside), "ageRanges")
	}

	c.Name = core.CleanString(in.Name)
	c.Stage = core.CleanString(in.Stage)
	c.AgeRanges = ageRanges
	c.ParentID = in.ParentID
	c.KindergartenID = k.ID
	c.TeacherID, c.TeacherName = "", ""
	if in.TeacherID != "" {
		t, err := svc.GetTeacher(ctx, in.TeacherID)
		if err != nil {
			if IsNotFound(err) {
				return validationErr(err, "teacherId")
			}
			return err
		}
		if t.KindergartenID != k.ID {
			return validationErr(errors.Wrap(ErrParentMismatch, t.ID), "teacherId")
		}
		c.TeacherID, c.TeacherName = t.ID, t.FullName()
	}
	return nil
}

// CreateClass creates a class and bumps the classCount of its parents in the same batch.
func (svc *Service) CreateClass(ctx context.Context, nc NewClass) (Class, error) {
	if err := svc.validate.Struct(nc); err != nil {
		return Class{}, err
	}
	now := NowFunc().UTC()
	c := Class{ID: docstore.NewID(), StudentIDs: []string{}, CreatedAt: now, UpdatedAt: now}
	if err := svc.buildClass(ctx, &c, nc); err != nil {
		return Class{}, err
	}

	data, err := encode(c, classRefs...)
	if err != nil {
		return Class{}, err
	}
	b := svc.store.Batch().Set(ClassesCollection, c.ID, data)
	ClassDeltas(nil, &c).ApplyTo(b)
	if err := b.Commit(ctx); err != nil {
		return Class{}, errors.Wrap(err, "creating class")
	}
	return c, nil
}

// UpdateClass rewrites a class. Moving it between the kindergarten and its branches adjusts the
// classCount of both parents and moves its students' branch. A name or parent change is copied
// to the class's students in chunks, as a job; the class itself is written with the last chunk.
func (svc *Service) UpdateClass(ctx context.Context, id string, uc UpdateClass) (ClassUpdate, error) {
	if err := svc.validate.Struct(uc); err != nil {
		return ClassUpdate{}, err
	}
	prev, err := svc.GetClass(ctx, id)
	if err != nil {
		return ClassUpdate{}, err
	}
	next := prev
	if err := svc.buildClass(ctx, &next, NewClass(uc)); err != nil {
		return ClassUpdate{}, err
	}
	next.UpdatedAt = NowFunc().UTC()

	final := ClassDeltas(&prev, &next).SetFields(ClassesCollection, next.ID, docstore.Data{
		"name":        next.Name,
		"stage":       next.Stage,
		"ageRanges":   next.AgeRanges,
		"parentId":    next.ParentID,
		"teacherId":   nullable(next.TeacherID),
		"teacherName": nullable(next.TeacherName),
	})

	var (
		steps    []JobStep
		affected int
	)
	if prev.Name != next.Name || prev.ParentID != next.ParentID {
		students, err := queryAll[Student](ctx, svc.store, docstore.Collection(StudentsCollection).
			Where("classId", docstore.OpEqual, prev.ID))
		if err != nil {
			return ClassUpdate{}, err
		}
		affected = len(students)
		if n := len(students); n > 0 && prev.BranchID() != next.BranchID() {
			final.Inc(BranchesCollection, prev.BranchID(), FieldStudentCount, -n)
			final.Inc(BranchesCollection, next.BranchID(), FieldStudentCount, n)
		}
		steps = chunkSteps(StudentsCollection, studentIDsOf(students), map[string]any{
			"className": next.Name,
			"parentId":  next.ParentID,
			"branchId":  nullable(next.BranchID()),
		}, nil, false)
	}

	res := ClassUpdate{Class: next}
	if len(steps) == 0 {
		if err := svc.commitPlan(ctx, final); err != nil {
			return ClassUpdate{}, errors.Wrap(err, "updating class")
		}
		return res, nil
	}

	job := newJob(JobUpdateClass, map[string]interface{}{"classId": next.ID, "students": affected}, steps, final)
	res.JobID, res.Chunks = job.ID, len(job.Steps)
	if err := svc.runJob(ctx, job, true); err != nil {
		return res, err
	}
	return res, nil
}

// ClassFilter narrows ListClasses; empty fields match everything.
type ClassFilter struct {
	KindergartenID string `query:"kindergartenId"`
	ParentID       string `query:"parentId"`
	TeacherID      string `query:"teacherId"`
}

func (svc *Service) ListClasses(ctx context.Context, f ClassFilter) ([]Class, error) {
	q := docstore.Collection(ClassesCollection)
	if f.KindergartenID != "" {
		q = q.Where("kindergartenId", docstore.OpEqual, f.KindergartenID)
	}
	if f.ParentID != "" {
		q = q.Where("parentId", docstore.OpEqual, f.ParentID)
	}
	if f.TeacherID != "" {
		q = q.Where("teacherId", docstore.OpEqual, f.TeacherID)
	}
	return queryAll[Class](ctx, svc.store, q)
}
