package school

import (
	"context"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

type (
	NewGuardian struct {
		FirstName    string `json:"firstName" validate:"required,notblank,max=60"`
		LastName     string `json:"lastName" validate:"required,notblank,max=60"`
		Phone        string `json:"phone" validate:"omitempty,phone,max=32"`
		Email        string `json:"email" validate:"omitempty,email"`
		Relationship string `json:"relationship" validate:"max=40"`
		Address      string `json:"address" validate:"max=255"`
		Active       *bool  `json:"active"`
	}

	// UpdateGuardian replaces the contact fields; the linked students are managed from the student side.
	UpdateGuardian NewGuardian
)

func (g *Guardian) apply(in NewGuardian) {
	g.FirstName = core.CleanString(in.FirstName)
	g.LastName = core.CleanString(in.LastName)
	g.Phone = in.Phone
	g.Email = core.CleanString(in.Email, true)
	g.Relationship = in.Relationship
	g.Address = in.Address
	if in.Active != nil {
		g.Active = *in.Active
	}
}

func (svc *Service) CreateGuardian(ctx context.Context, ng NewGuardian) (Guardian, error) {
	if err := svc.validate.Struct(ng); err != nil {
		return Guardian{}, err
	}
	publicID, err := svc.AllocatePublicID(ctx, KindGuardian)
	if err != nil {
		return Guardian{}, err
	}
	now := NowFunc().UTC()
	g := Guardian{
		ID:         docstore.NewID(),
		PublicID:   publicID,
		Active:     true,
		StudentIDs: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	g.apply(ng)
	data, err := encode(g)
	if err != nil {
		return Guardian{}, err
	}
	if err := svc.store.Batch().Set(GuardiansCollection, g.ID, data).Commit(ctx); err != nil {
		return Guardian{}, errors.Wrap(err, "creating guardian")
	}
	return g, nil
}

func (svc *Service) UpdateGuardian(ctx context.Context, id string, ug UpdateGuardian) (Guardian, error) {
	if err := svc.validate.Struct(ug); err != nil {
		return Guardian{}, err
	}
	g, err := svc.GetGuardian(ctx, id)
	if err != nil {
		return Guardian{}, err
	}
	g.apply(NewGuardian(ug))
	g.UpdatedAt = NowFunc().UTC()
	err = svc.store.Batch().Update(GuardiansCollection, g.ID, docstore.Data{
		"firstName":    g.FirstName,
		"lastName":     g.LastName,
		"phone":        g.Phone,
		"email":        g.Email,
		"relationship": g.Relationship,
		"address":      g.Address,
		"active":       g.Active,
		FieldUpdatedAt: g.UpdatedAt,
	}).Commit(ctx)
	if err != nil {
		return Guardian{}, errors.Wrap(err, "updating guardian")
	}
	return g, nil
}

func (svc *Service) ListGuardians(ctx context.Context) ([]Guardian, error) {
	return queryAll[Guardian](ctx, svc.store, docstore.Collection(GuardiansCollection))
}

// DeleteGuardian removes the guardian from its students' guardianIds, clears it where it was the
// primary guardian and finally deletes it.
func (svc *Service) DeleteGuardian(ctx context.Context, id string) (DeletionResult, error) {
	g, err := svc.GetGuardian(ctx, id)
	if err != nil {
		return DeletionResult{}, err
	}
	linked, err := queryAll[Student](ctx, svc.store, docstore.Collection(StudentsCollection).
		Where("guardianIds", docstore.OpArrayContains, g.ID))
	if err != nil {
		return DeletionResult{}, err
	}
	primary, err := svc.store.Query(ctx, docstore.Collection(StudentsCollection).
		Where("primaryGuardianId", docstore.OpEqual, g.ID))
	if err != nil {
		return DeletionResult{}, errors.Wrap(err, "querying students")
	}

	steps := chunkSteps(StudentsCollection, studentIDsOf(linked), nil, map[string][]string{"guardianIds": {g.ID}}, false)
	steps = append(steps, chunkSteps(StudentsCollection, snapshotIDs(primary), map[string]any{"primaryGuardianId": nil}, nil, false)...)
	job := newJob(JobDeleteGuardian, map[string]interface{}{"guardianId": g.ID}, steps,
		NewPlan().DeleteDoc(GuardiansCollection, g.ID))

	res := DeletionResult{
		JobID:    job.ID,
		Chunks:   len(job.Steps),
		Affected: map[string]int{StudentsCollection: len(linked)},
	}
	if err := svc.runJob(ctx, job, true); err != nil {
		return res, err
	}
	svc.publishDeleted(ctx, GuardiansCollection, g.ID, job.ID)
	return res, nil
}
