package school

import (
	"context"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

type (
	NewBranch struct {
		ParentID string `json:"parentId" validate:"required"`
		Name     string `json:"name" validate:"required,notblank,max=120"`
		Address  string `json:"address" validate:"max=255"`
		Phone    string `json:"phone" validate:"omitempty,phone,max=32"`
		Email    string `json:"email" validate:"omitempty,email"`
		Active   *bool  `json:"active"`
	}

	// UpdateBranch replaces the editable fields; a branch never changes kindergarten.
	UpdateBranch struct {
		Name    string `json:"name" validate:"required,notblank,max=120"`
		Address string `json:"address" validate:"max=255"`
		Phone   string `json:"phone" validate:"omitempty,phone,max=32"`
		Email   string `json:"email" validate:"omitempty,email"`
		Active  *bool  `json:"active"`
	}
)

// CreateBranch creates a branch under its kindergarten and bumps the kindergarten's branchCount
// in the same batch. The branch code is left empty while the kindergarten has none.
func (svc *Service) CreateBranch(ctx context.Context, nb NewBranch) (Branch, error) {
	if err := svc.validate.Struct(nb); err != nil {
		return Branch{}, err
	}
	k, err := svc.GetKindergarten(ctx, nb.ParentID)
	if err != nil {
		if IsNotFound(err) {
			return Branch{}, validationErr(err, "parentId")
		}
		return Branch{}, err
	}
	code, err := svc.branchCode(ctx, k)
	if err != nil {
		return Branch{}, err
	}

	now := NowFunc().UTC()
	b := Branch{
		ID:         docstore.NewID(),
		ParentID:   k.ID,
		Name:       core.CleanString(nb.Name),
		Address:    nb.Address,
		Phone:      nb.Phone,
		Email:      core.CleanString(nb.Email, true),
		TeacherIDs: []string{},
		DriverIDs:  []string{},
		Code:       code,
		Active:     nb.Active == nil || *nb.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	data, err := encode(b)
	if err != nil {
		return Branch{}, err
	}
	batch := svc.store.Batch().Set(BranchesCollection, b.ID, data)
	BranchDeltas(nil, &b).ApplyTo(batch)
	if err := batch.Commit(ctx); err != nil {
		return Branch{}, errors.Wrap(err, "creating branch")
	}
	return b, nil
}

func (svc *Service) branchCode(ctx context.Context, k Kindergarten) (string, error) {
	code, err := svc.AllocateBranchCode(ctx, k)
	if errors.Cause(err) == ErrParentCodeMissing {
		svc.logger.Warn("branch created without a code", map[string]interface{}{"kindergartenId": k.ID})
		return "", nil
	}
	return code, err
}

func (svc *Service) UpdateBranch(ctx context.Context, id string, ub UpdateBranch) (Branch, error) {
	if err := svc.validate.Struct(ub); err != nil {
		return Branch{}, err
	}
	b, err := svc.GetBranch(ctx, id)
	if err != nil {
		return Branch{}, err
	}
	b.Name = core.CleanString(ub.Name)
	b.Address = ub.Address
	b.Phone = ub.Phone
	b.Email = core.CleanString(ub.Email, true)
	if ub.Active != nil {
		b.Active = *ub.Active
	}
	if b.Code == "" {
		k, err := svc.GetKindergarten(ctx, b.ParentID)
		if err != nil {
			return Branch{}, err
		}
		// the branch already counts in branchCount
		k.BranchCount--
		if b.Code, err = svc.branchCode(ctx, k); err != nil {
			return Branch{}, err
		}
	}
	b.UpdatedAt = NowFunc().UTC()

	err = svc.store.Batch().Update(BranchesCollection, b.ID, docstore.Data{
		"name":         b.Name,
		"address":      b.Address,
		"phone":        b.Phone,
		"email":        b.Email,
		"active":       b.Active,
		"code":         b.Code,
		FieldUpdatedAt: b.UpdatedAt,
	}).Commit(ctx)
	if err != nil {
		return Branch{}, errors.Wrap(err, "updating branch")
	}
	return b, nil
}

func (svc *Service) ListBranches(ctx context.Context, kindergartenID string) ([]Branch, error) {
	q := docstore.Collection(BranchesCollection)
	if kindergartenID != "" {
		q = q.Where("parentId", docstore.OpEqual, kindergartenID)
	}
	return queryAll[Branch](ctx, svc.store, q)
}

// DeleteBranch deletes the branch's classes, moves its students and staff to the kindergarten
// level and finally deletes the branch. The kindergarten keeps its students and teachers; it
// loses the branch and its classes from classCount and branchCount.
func (svc *Service) DeleteBranch(ctx context.Context, id string) (DeletionResult, error) {
	b, err := svc.GetBranch(ctx, id)
	if err != nil {
		return DeletionResult{}, err
	}
	classes, err := queryAll[Class](ctx, svc.store, docstore.Collection(ClassesCollection).Where("parentId", docstore.OpEqual, b.ID))
	if err != nil {
		return DeletionResult{}, err
	}
	students, err := queryAll[Student](ctx, svc.store, docstore.Collection(StudentsCollection).Where("branchId", docstore.OpEqual, b.ID))
	if err != nil {
		return DeletionResult{}, err
	}
	teachers, err := svc.store.Query(ctx, docstore.Collection(TeachersCollection).Where("branchId", docstore.OpEqual, b.ID))
	if err != nil {
		return DeletionResult{}, errors.Wrap(err, "querying teachers")
	}
	drivers, err := svc.store.Query(ctx, docstore.Collection(DriversCollection).Where("branchId", docstore.OpEqual, b.ID))
	if err != nil {
		return DeletionResult{}, errors.Wrap(err, "querying drivers")
	}

	classIDs := make([]string, 0, len(classes))
	final := BranchDeltas(&b, nil)
	for i := range classes {
		classIDs = append(classIDs, classes[i].ID)
		final.Merge(ClassDeltas(&classes[i], nil))
	}
	final.DeleteDoc(BranchesCollection, b.ID)

	var steps []JobStep
	steps = append(steps, chunkSteps(StudentsCollection, studentIDsOf(students), map[string]any{
		"branchId": nil, "classId": nil, "className": nil, "parentId": b.ParentID,
	}, nil, false)...)
	staffSet := map[string]any{"branchId": nil}
	steps = append(steps, chunkSteps(TeachersCollection, snapshotIDs(teachers), staffSet, nil, false)...)
	steps = append(steps, chunkSteps(DriversCollection, snapshotIDs(drivers), staffSet, nil, false)...)
	steps = append(steps, chunkSteps(ClassesCollection, classIDs, nil, nil, true)...)

	job := newJob(JobDeleteBranch, map[string]interface{}{"branchId": b.ID, "kindergartenId": b.ParentID}, steps, final)
	res := DeletionResult{
		JobID:  job.ID,
		Chunks: len(job.Steps),
		Affected: map[string]int{
			StudentsCollection: len(students),
			TeachersCollection: len(teachers),
			DriversCollection:  len(drivers),
			ClassesCollection:  len(classes),
		},
	}
	if err := svc.runJob(ctx, job, true); err != nil {
		return res, err
	}
	svc.publishDeleted(ctx, BranchesCollection, b.ID, job.ID)
	return res, nil
}
