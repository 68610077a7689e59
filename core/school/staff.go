package school

import (
	"context"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

type (
	NewTeacher struct {
		FirstName      string `json:"firstName" validate:"required,notblank,max=60"`
		LastName       string `json:"lastName" validate:"required,notblank,max=60"`
		Phone          string `json:"phone" validate:"omitempty,phone,max=32"`
		Email          string `json:"email" validate:"omitempty,email"`
		Specialty      string `json:"specialty" validate:"max=120"`
		KindergartenID string `json:"kindergartenId" validate:"required"`
		BranchID       string `json:"branchId"`
		Active         *bool  `json:"active"`
	}

	UpdateTeacher NewTeacher

	NewDriver struct {
		FirstName      string `json:"firstName" validate:"required,notblank,max=60"`
		LastName       string `json:"lastName" validate:"required,notblank,max=60"`
		Phone          string `json:"phone" validate:"omitempty,phone,max=32"`
		Email          string `json:"email" validate:"omitempty,email"`
		LicenseNumber  string `json:"licenseNumber" validate:"max=40"`
		VehiclePlate   string `json:"vehiclePlate" validate:"max=20"`
		KindergartenID string `json:"kindergartenId" validate:"required"`
		BranchID       string `json:"branchId"`
		Active         *bool  `json:"active"`
	}

	UpdateDriver NewDriver
)

// staffPlacement checks that branchID (optional) belongs to kindergarten kID.
func (svc *Service) staffPlacement(ctx context.Context, kID, branchID string) error {
	if _, err := svc.GetKindergarten(ctx, kID); err != nil {
		if IsNotFound(err) {
			return validationErr(err, "kindergartenId")
		}
		return err
	}
	if branchID == "" {
		return nil
	}
	b, err := svc.GetBranch(ctx, branchID)
	if err != nil {
		if IsNotFound(err) {
			return validationErr(err, "branchId")
		}
		return err
	}
	if b.ParentID != kID {
		return validationErr(errors.Wrap(ErrParentMismatch, b.ID), "branchId")
	}
	return nil
}

// membershipDeltas keeps a staff member listed in the membership array (teacherIds or
// driverIds) of its kindergarten and branch. The kindergarten lists its branches' staff too.
func membershipDeltas(field, id, prevK, prevB, nextK, nextB string) *Plan {
	p := NewPlan()
	p.Remove(KindergartensCollection, prevK, field, id)
	p.Remove(BranchesCollection, prevB, field, id)
	p.Union(KindergartensCollection, nextK, field, id)
	p.Union(BranchesCollection, nextB, field, id)
	return p
}

// teacherPlan is the bookkeeping implied by a teacher going from prev to next.
func teacherPlan(prev, next *Teacher) *Plan {
	var id, prevK, prevB, nextK, nextB string
	if prev != nil {
		id, prevK, prevB = prev.ID, prev.KindergartenID, prev.BranchID
	}
	if next != nil {
		id, nextK, nextB = next.ID, next.KindergartenID, next.BranchID
	}
	return TeacherDeltas(prev, next).Merge(membershipDeltas(FieldTeacherIDs, id, prevK, prevB, nextK, nextB))
}

func driverPlan(prev, next *Driver) *Plan {
	var id, prevK, prevB, nextK, nextB string
	if prev != nil {
		id, prevK, prevB = prev.ID, prev.KindergartenID, prev.BranchID
	}
	if next != nil {
		id, nextK, nextB = next.ID, next.KindergartenID, next.BranchID
	}
	return membershipDeltas(FieldDriverIDs, id, prevK, prevB, nextK, nextB)
}

func (svc *Service) CreateTeacher(ctx context.Context, nt NewTeacher) (Teacher, error) {
	if err := svc.validate.Struct(nt); err != nil {
		return Teacher{}, err
	}
	if err := svc.staffPlacement(ctx, nt.KindergartenID, nt.BranchID); err != nil {
		return Teacher{}, err
	}
	publicID, err := svc.AllocatePublicID(ctx, KindTeacher)
	if err != nil {
		return Teacher{}, err
	}
	now := NowFunc().UTC()
	t := Teacher{
		ID:           docstore.NewID(),
		PublicID:     publicID,
		Active:       true,
		Certificates: []Attachment{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.apply(nt)
	if err := svc.writeTeacher(ctx, nil, &t); err != nil {
		return Teacher{}, errors.Wrap(err, "creating teacher")
	}
	return t, nil
}

func (t *Teacher) apply(in NewTeacher) {
	t.FirstName = core.CleanString(in.FirstName)
	t.LastName = core.CleanString(in.LastName)
	t.Phone = in.Phone
	t.Email = core.CleanString(in.Email, true)
	t.Specialty = in.Specialty
	t.KindergartenID = in.KindergartenID
	t.BranchID = in.BranchID
	if in.Active != nil {
		t.Active = *in.Active
	}
}

// UpdateTeacher rewrites the teacher with its counter and membership adjustments in one batch and
// refreshes the teacher name snapshot on its classes.
func (svc *Service) UpdateTeacher(ctx context.Context, id string, ut UpdateTeacher) (Teacher, error) {
	if err := svc.validate.Struct(ut); err != nil {
		return Teacher{}, err
	}
	prev, err := svc.GetTeacher(ctx, id)
	if err != nil {
		return Teacher{}, err
	}
	if err := svc.staffPlacement(ctx, ut.KindergartenID, ut.BranchID); err != nil {
		return Teacher{}, err
	}
	next := prev
	next.apply(NewTeacher(ut))
	next.UpdatedAt = NowFunc().UTC()
	if err := svc.writeTeacher(ctx, &prev, &next); err != nil {
		return Teacher{}, errors.Wrap(err, "updating teacher")
	}

	switch {
	case next.KindergartenID != prev.KindergartenID:
		err = svc.patchTeacherClasses(ctx, next.ID, map[string]any{"teacherId": nil, "teacherName": nil})
	case next.FullName() != prev.FullName():
		err = svc.patchTeacherClasses(ctx, next.ID, map[string]any{"teacherName": next.FullName()})
	}
	return next, err
}

// SetTeacherActive flips the active flag; only the counters of the current parents change.
func (svc *Service) SetTeacherActive(ctx context.Context, id string, active bool) (Teacher, error) {
	prev, err := svc.GetTeacher(ctx, id)
	if err != nil {
		return Teacher{}, err
	}
	if prev.Active == active {
		return prev, nil
	}
	next := prev
	next.Active = active
	next.UpdatedAt = NowFunc().UTC()
	if err := svc.writeTeacher(ctx, &prev, &next); err != nil {
		return Teacher{}, errors.Wrap(err, "updating teacher")
	}
	return next, nil
}

func (svc *Service) DeleteTeacher(ctx context.Context, id string) error {
	prev, err := svc.GetTeacher(ctx, id)
	if err != nil {
		return err
	}
	if err := svc.writeTeacher(ctx, &prev, nil); err != nil {
		return errors.Wrap(err, "deleting teacher")
	}
	if err := svc.patchTeacherClasses(ctx, prev.ID, map[string]any{"teacherId": nil, "teacherName": nil}); err != nil {
		return err
	}
	svc.removeBlobs(ctx, prev.Certificates)
	svc.publishDeleted(ctx, TeachersCollection, prev.ID, "")
	return nil
}

func (svc *Service) writeTeacher(ctx context.Context, prev, next *Teacher) error {
	b := svc.store.Batch()
	if next != nil {
		data, err := encode(next, staffRefs...)
		if err != nil {
			return err
		}
		b.Set(TeachersCollection, next.ID, data)
	} else {
		b.Delete(TeachersCollection, prev.ID)
	}
	p := teacherPlan(prev, next)
	p.ApplyTo(b)
	if err := b.Commit(ctx); err != nil {
		return err
	}
	svc.metrics.CounterBatch(p.Len())
	return nil
}

// patchTeacherClasses writes set on every class taught by teacherID, ChunkSize classes per batch.
func (svc *Service) patchTeacherClasses(ctx context.Context, teacherID string, set map[string]any) error {
	snaps, err := svc.store.Query(ctx, docstore.Collection(ClassesCollection).Where("teacherId", docstore.OpEqual, teacherID))
	if err != nil {
		return errors.Wrap(err, "querying teacher classes")
	}
	for _, step := range chunkSteps(ClassesCollection, snapshotIDs(snaps), set, nil, false) {
		b := svc.store.Batch()
		step.applyTo(b)
		if err := b.Commit(ctx); err != nil {
			return errors.Wrap(err, "updating teacher classes")
		}
	}
	return nil
}

// StaffFilter narrows ListTeachers and ListDrivers; empty fields match everything.
type StaffFilter struct {
	KindergartenID string `query:"kindergartenId"`
	BranchID       string `query:"branchId"`
}

func (f StaffFilter) query(coll string) docstore.Query {
	q := docstore.Collection(coll)
	if f.KindergartenID != "" {
		q = q.Where("kindergartenId", docstore.OpEqual, f.KindergartenID)
	}
	if f.BranchID != "" {
		q = q.Where("branchId", docstore.OpEqual, f.BranchID)
	}
	return q
}

func (svc *Service) ListTeachers(ctx context.Context, f StaffFilter) ([]Teacher, error) {
	return queryAll[Teacher](ctx, svc.store, f.query(TeachersCollection))
}

func (svc *Service) CreateDriver(ctx context.Context, nd NewDriver) (Driver, error) {
	if err := svc.validate.Struct(nd); err != nil {
		return Driver{}, err
	}
	if err := svc.staffPlacement(ctx, nd.KindergartenID, nd.BranchID); err != nil {
		return Driver{}, err
	}
	publicID, err := svc.AllocatePublicID(ctx, KindDriver)
	if err != nil {
		return Driver{}, err
	}
	now := NowFunc().UTC()
	d := Driver{
		ID:        docstore.NewID(),
		PublicID:  publicID,
		Active:    true,
		Licenses:  []Attachment{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.apply(nd)
	if err := svc.writeDriver(ctx, nil, &d); err != nil {
		return Driver{}, errors.Wrap(err, "creating driver")
	}
	return d, nil
}

func (d *Driver) apply(in NewDriver) {
	d.FirstName = core.CleanString(in.FirstName)
	d.LastName = core.CleanString(in.LastName)
	d.Phone = in.Phone
	d.Email = core.CleanString(in.Email, true)
	d.LicenseNumber = core.CleanString(in.LicenseNumber)
	d.VehiclePlate = core.CleanString(in.VehiclePlate)
	d.KindergartenID = in.KindergartenID
	d.BranchID = in.BranchID
	if in.Active != nil {
		d.Active = *in.Active
	}
}

func (svc *Service) UpdateDriver(ctx context.Context, id string, ud UpdateDriver) (Driver, error) {
	if err := svc.validate.Struct(ud); err != nil {
		return Driver{}, err
	}
	prev, err := svc.GetDriver(ctx, id)
	if err != nil {
		return Driver{}, err
	}
	if err := svc.staffPlacement(ctx, ud.KindergartenID, ud.BranchID); err != nil {
		return Driver{}, err
	}
	next := prev
	next.apply(NewDriver(ud))
	next.UpdatedAt = NowFunc().UTC()
	if err := svc.writeDriver(ctx, &prev, &next); err != nil {
		return Driver{}, errors.Wrap(err, "updating driver")
	}
	return next, nil
}

func (svc *Service) DeleteDriver(ctx context.Context, id string) error {
	prev, err := svc.GetDriver(ctx, id)
	if err != nil {
		return err
	}
	if err := svc.writeDriver(ctx, &prev, nil); err != nil {
		return errors.Wrap(err, "deleting driver")
	}
	svc.removeBlobs(ctx, prev.Licenses)
	svc.publishDeleted(ctx, DriversCollection, prev.ID, "")
	return nil
}

func (svc *Service) writeDriver(ctx context.Context, prev, next *Driver) error {
	b := svc.store.Batch()
	if next != nil {
		data, err := encode(next, staffRefs...)
		if err != nil {
			return err
		}
		b.Set(DriversCollection, next.ID, data)
	} else {
		b.Delete(DriversCollection, prev.ID)
	}
	driverPlan(prev, next).ApplyTo(b)
	return b.Commit(ctx)
}

func (svc *Service) ListDrivers(ctx context.Context, f StaffFilter) ([]Driver, error) {
	return queryAll[Driver](ctx, svc.store, f.query(DriversCollection))
}
