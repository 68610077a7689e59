package school

import (
	"context"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/events"
)

type (
	NewKindergarten struct {
		Name         string   `json:"name" validate:"required,notblank,max=120"`
		ProvinceCode string   `json:"provinceCode" validate:"omitempty,alphanum,max=8"`
		Address      string   `json:"address" validate:"max=255"`
		Phone        string   `json:"phone" validate:"omitempty,phone,max=32"`
		Email        string   `json:"email" validate:"omitempty,email"`
		Stages       []string `json:"stages" validate:"dive,notblank"`
		AgeRanges    []string `json:"ageRanges" validate:"omitempty,agerange"`
		Active       *bool    `json:"active"`
	}

	// UpdateKindergarten replaces the editable fields. The code is never changed once allocated;
	// a kindergarten without one gets it as soon as a province code is known.
	UpdateKindergarten NewKindergarten
)

func (svc *Service) CreateKindergarten(ctx context.Context, nk NewKindergarten) (Kindergarten, error) {
	if err := svc.validate.Struct(nk); err != nil {
		return Kindergarten{}, err
	}
	ageRanges, err := NormalizeAgeRanges(nk.AgeRanges)
	if err != nil {
		return Kindergarten{}, validationErr(err, "ageRanges")
	}
	code, err := svc.AllocateKindergartenCode(ctx, nk.ProvinceCode, nk.Name)
	if err != nil {
		return Kindergarten{}, err
	}

	now := NowFunc().UTC()
	k := Kindergarten{
		ID:           docstore.NewID(),
		Name:         core.CleanString(nk.Name),
		ProvinceCode: core.CleanString(nk.ProvinceCode),
		Address:      nk.Address,
		Phone:        nk.Phone,
		Email:        core.CleanString(nk.Email, true),
		Stages:       cleanList(nk.Stages),
		AgeRanges:    ageRanges,
		TeacherIDs:   []string{},
		DriverIDs:    []string{},
		Code:         code,
		Active:       nk.Active == nil || *nk.Active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	data, err := encode(k)
	if err != nil {
		return Kindergarten{}, err
	}
	if err := svc.store.Batch().Set(KindergartensCollection, k.ID, data).Commit(ctx); err != nil {
		return Kindergarten{}, errors.Wrap(err, "creating kindergarten")
	}
	return k, nil
}

func (svc *Service) UpdateKindergarten(ctx context.Context, id string, uk UpdateKindergarten) (Kindergarten, error) {
	if err := svc.validate.Struct(uk); err != nil {
		return Kindergarten{}, err
	}
	k, err := svc.GetKindergarten(ctx, id)
	if err != nil {
		return Kindergarten{}, err
	}
	ageRanges, err := NormalizeAgeRanges(uk.AgeRanges)
	if err != nil {
		return Kindergarten{}, validationErr(err, "ageRanges")
	}

	k.Name = core.CleanString(uk.Name)
	k.ProvinceCode = core.CleanString(uk.ProvinceCode)
	k.Address = uk.Address
	k.Phone = uk.Phone
	k.Email = core.CleanString(uk.Email, true)
	k.Stages = cleanList(uk.Stages)
	k.AgeRanges = ageRanges
	if uk.Active != nil {
		k.Active = *uk.Active
	}
	if k.Code == "" {
		if k.Code, err = svc.AllocateKindergartenCode(ctx, k.ProvinceCode, k.Name); err != nil {
			return Kindergarten{}, err
		}
	}
	k.UpdatedAt = NowFunc().UTC()

	// counters and membership arrays are owned by the bookkeeping; only the editable fields are written
	err = svc.store.Batch().Update(KindergartensCollection, k.ID, docstore.Data{
		"name":         k.Name,
		"provinceCode": k.ProvinceCode,
		"address":      k.Address,
		"phone":        k.Phone,
		"email":        k.Email,
		"stages":       k.Stages,
		"ageRanges":    k.AgeRanges,
		"active":       k.Active,
		"code":         k.Code,
		FieldUpdatedAt: k.UpdatedAt,
	}).Commit(ctx)
	if err != nil {
		return Kindergarten{}, errors.Wrap(err, "updating kindergarten")
	}
	return k, nil
}

func (svc *Service) ListKindergartens(ctx context.Context) ([]Kindergarten, error) {
	return queryAll[Kindergarten](ctx, svc.store, docstore.Collection(KindergartensCollection))
}

// DeletionResult reports a cascading delete run as a job.
type DeletionResult struct {
	JobID    string         `json:"jobId"`
	Chunks   int            `json:"chunks"`
	Affected map[string]int `json:"affected"` // collection → documents detached or deleted
}

// DeleteKindergarten detaches the kindergarten's students and staff, deletes its classes and
// branches, and finally the kindergarten itself.
func (svc *Service) DeleteKindergarten(ctx context.Context, id string) (DeletionResult, error) {
	k, err := svc.GetKindergarten(ctx, id)
	if err != nil {
		return DeletionResult{}, err
	}
	byK := func(coll, field string) ([]string, error) {
		snaps, err := svc.store.Query(ctx, docstore.Collection(coll).Where(field, docstore.OpEqual, k.ID))
		if err != nil {
			return nil, errors.Wrapf(err, "querying %s", coll)
		}
		return snapshotIDs(snaps), nil
	}

	res := DeletionResult{Affected: make(map[string]int)}
	var steps []JobStep
	for _, target := range []struct {
		coll, field string
		set         map[string]any
		del         bool
	}{
		{StudentsCollection, "kindergartenId", map[string]any{
			"kindergartenId": nil, "branchId": nil, "classId": nil, "className": nil, "parentId": nil,
		}, false},
		{TeachersCollection, "kindergartenId", map[string]any{"kindergartenId": nil, "branchId": nil}, false},
		{DriversCollection, "kindergartenId", map[string]any{"kindergartenId": nil, "branchId": nil}, false},
		{ClassesCollection, "kindergartenId", nil, true},
		{BranchesCollection, "parentId", nil, true},
	} {
		ids, err := byK(target.coll, target.field)
		if err != nil {
			return DeletionResult{}, err
		}
		res.Affected[target.coll] = len(ids)
		steps = append(steps, chunkSteps(target.coll, ids, target.set, nil, target.del)...)
	}

	final := NewPlan().DeleteDoc(KindergartensCollection, k.ID)
	job := newJob(JobDeleteKindergarten, map[string]interface{}{"kindergartenId": k.ID}, steps, final)
	res.JobID, res.Chunks = job.ID, len(job.Steps)
	if err := svc.runJob(ctx, job, true); err != nil {
		return res, err
	}
	svc.publishDeleted(ctx, KindergartensCollection, k.ID, job.ID)
	return res, nil
}

func (svc *Service) publishDeleted(ctx context.Context, coll, id, jobID string) {
	payload := map[string]interface{}{"collection": coll, "id": id}
	if jobID != "" {
		payload["jobId"] = jobID
	}
	svc.publish(ctx, events.TopicEntityDeleted, payload)
}

func snapshotIDs(snaps []*docstore.Snapshot) []string {
	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.ID)
	}
	return ids
}

// cleanList returns a cleaned copy of vals, never nil.
func cleanList(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = core.CleanString(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
