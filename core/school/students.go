package school

import (
	"context"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

type (
	NewStudent struct {
		FirstName         string   `json:"firstName" validate:"required,notblank,max=60"`
		LastName          string   `json:"lastName" validate:"required,notblank,max=60"`
		Gender            string   `json:"gender" validate:"omitempty,oneof=male female"`
		BirthDate         string   `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
		KindergartenID    string   `json:"kindergartenId" validate:"required"`
		BranchID          string   `json:"branchId"`
		ClassID           string   `json:"classId"`
		PrimaryGuardianID string   `json:"primaryGuardianId"`
		GuardianIDs       []string `json:"guardianIds"`
		Parents           Parents  `json:"parents"`
		Health            Health   `json:"health"`
		Active            *bool    `json:"active"`
	}

	// UpdateStudent replaces the student. Changing the kindergarten transfers the student.
	UpdateStudent NewStudent

	// StudentWrite reports a student write and the guardian links it maintained.
	StudentWrite struct {
		Student Student    `json:"student"`
		Links   LinkResult `json:"links"`
	}
)

// place resolves the student's kindergarten, branch and class references.
func (svc *Service) place(ctx context.Context, s *Student, kID, branchID, classID string) error {
	k, err := svc.GetKindergarten(ctx, kID)
	if err != nil {
		if IsNotFound(err) {
			return validationErr(err, "kindergartenId")
		}
		return err
	}
	s.KindergartenID = k.ID
	s.BranchID, s.ClassID, s.ClassName, s.ParentID = "", "", "", k.ID

	if classID != "" {
		c, err := svc.GetClass(ctx, classID)
		if err != nil {
			if IsNotFound(err) {
				return validationErr(err, "classId")
			}
			return err
		}
		if c.KindergartenID != k.ID || (branchID != "" && c.BranchID() != branchID) {
			return validationErr(errors.Wrap(ErrParentMismatch, c.ID), "classId")
		}
		placeInClass(s, c)
		return nil
	}
	if branchID != "" {
		b, err := svc.GetBranch(ctx, branchID)
		if err != nil {
			if IsNotFound(err) {
				return validationErr(err, "branchId")
			}
			return err
		}
		if b.ParentID != k.ID {
			return validationErr(errors.Wrap(ErrParentMismatch, b.ID), "branchId")
		}
		s.BranchID, s.ParentID = b.ID, b.ID
	}
	return nil
}

func (svc *Service) buildStudent(ctx context.Context, s *Student, in NewStudent) error {
	if err := svc.validate.Struct(in); err != nil {
		return err
	}
	guardianIDs := dedupe(in.GuardianIDs)
	if in.PrimaryGuardianID != "" && !containsString(guardianIDs, in.PrimaryGuardianID) {
		return validationErr(ErrPrimaryGuardian, "primaryGuardianId")
	}
	if err := svc.place(ctx, s, in.KindergartenID, in.BranchID, in.ClassID); err != nil {
		return err
	}
	s.FirstName = core.CleanString(in.FirstName)
	s.LastName = core.CleanString(in.LastName)
	s.Gender = in.Gender
	s.BirthDate = in.BirthDate
	s.PrimaryGuardianID = in.PrimaryGuardianID
	s.GuardianIDs = guardianIDs
	s.Parents = in.Parents
	s.Health = in.Health
	if s.Health.Allergies == nil {
		s.Health.Allergies = []string{}
	}
	if in.Active != nil {
		s.Active = *in.Active
	}
	return nil
}

// CreateStudent writes the student together with its counter adjustments, then links its guardians.
func (svc *Service) CreateStudent(ctx context.Context, ns NewStudent) (StudentWrite, error) {
	now := NowFunc().UTC()
	s := Student{ID: docstore.NewID(), Active: true, CreatedAt: now, UpdatedAt: now}
	if err := svc.buildStudent(ctx, &s, ns); err != nil {
		return StudentWrite{}, err
	}
	if err := svc.writeStudent(ctx, nil, &s); err != nil {
		return StudentWrite{}, errors.Wrap(err, "creating student")
	}
	links, err := svc.ReplaceGuardians(ctx, s.ID, nil, s.GuardianIDs)
	return StudentWrite{Student: s, Links: links}, err
}

// UpdateStudent rewrites the student, adjusting the counters of its old and new parents in the
// same batch, then patches the guardians whose link changed.
func (svc *Service) UpdateStudent(ctx context.Context, id string, us UpdateStudent) (StudentWrite, error) {
	prev, err := svc.GetStudent(ctx, id)
	if err != nil {
		return StudentWrite{}, err
	}
	next := prev
	if err := svc.buildStudent(ctx, &next, NewStudent(us)); err != nil {
		return StudentWrite{}, err
	}
	next.UpdatedAt = NowFunc().UTC()
	if err := svc.writeStudent(ctx, &prev, &next); err != nil {
		return StudentWrite{}, errors.Wrap(err, "updating student")
	}
	links, err := svc.ReplaceGuardians(ctx, next.ID, prev.GuardianIDs, next.GuardianIDs)
	return StudentWrite{Student: next, Links: links}, err
}

// DeleteStudent deletes the student with its counter adjustments, then unlinks its guardians.
func (svc *Service) DeleteStudent(ctx context.Context, id string) (LinkResult, error) {
	prev, err := svc.GetStudent(ctx, id)
	if err != nil {
		return LinkResult{}, err
	}
	if err := svc.writeStudent(ctx, &prev, nil); err != nil {
		return LinkResult{}, errors.Wrap(err, "deleting student")
	}
	links, err := svc.UnlinkGuardians(ctx, prev.ID, prev.GuardianIDs)
	svc.publishDeleted(ctx, StudentsCollection, prev.ID, "")
	return links, err
}

func (svc *Service) writeStudent(ctx context.Context, prev, next *Student) error {
	b := svc.store.Batch()
	if next != nil {
		data, err := encode(next, studentRefs...)
		if err != nil {
			return err
		}
		b.Set(StudentsCollection, next.ID, data)
	} else {
		b.Delete(StudentsCollection, prev.ID)
	}
	deltas := StudentDeltas(prev, next)
	deltas.ApplyTo(b)
	if err := b.Commit(ctx); err != nil {
		return err
	}
	svc.metrics.CounterBatch(deltas.Len())
	return nil
}

// SetStudentGuardians replaces the guardian set of a student. A primary guardian that is no
// longer a guardian is cleared.
func (svc *Service) SetStudentGuardians(ctx context.Context, id string, guardianIDs []string) (StudentWrite, error) {
	s, err := svc.GetStudent(ctx, id)
	if err != nil {
		return StudentWrite{}, err
	}
	prevIDs := s.GuardianIDs
	s.GuardianIDs = dedupe(guardianIDs)
	if !containsString(s.GuardianIDs, s.PrimaryGuardianID) {
		s.PrimaryGuardianID = ""
	}
	s.UpdatedAt = NowFunc().UTC()

	err = svc.store.Batch().Update(StudentsCollection, s.ID, docstore.Data{
		"guardianIds":       s.GuardianIDs,
		"primaryGuardianId": nullable(s.PrimaryGuardianID),
		FieldUpdatedAt:      s.UpdatedAt,
	}).Commit(ctx)
	if err != nil {
		return StudentWrite{}, errors.Wrap(err, "updating student guardians")
	}
	links, err := svc.ReplaceGuardians(ctx, s.ID, prevIDs, s.GuardianIDs)
	return StudentWrite{Student: s, Links: links}, err
}

// StudentFilter narrows ListStudents; empty fields match everything.
type StudentFilter struct {
	KindergartenID string `query:"kindergartenId"`
	BranchID       string `query:"branchId"`
	ClassID        string `query:"classId"`
	GuardianID     string `query:"guardianId"`
}

func (svc *Service) ListStudents(ctx context.Context, f StudentFilter) ([]Student, error) {
	q := docstore.Collection(StudentsCollection)
	if f.KindergartenID != "" {
		q = q.Where("kindergartenId", docstore.OpEqual, f.KindergartenID)
	}
	if f.BranchID != "" {
		q = q.Where("branchId", docstore.OpEqual, f.BranchID)
	}
	if f.ClassID != "" {
		q = q.Where("classId", docstore.OpEqual, f.ClassID)
	}
	if f.GuardianID != "" {
		q = q.Where("guardianIds", docstore.OpArrayContains, f.GuardianID)
	}
	return queryAll[Student](ctx, svc.store, q)
}
