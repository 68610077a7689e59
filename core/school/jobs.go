package school

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/events"
)

type (
	JobKind   string
	JobStatus string
)

const (
	JobMoveStudents       JobKind = "moveStudents"
	JobDeleteClass        JobKind = "deleteClass"
	JobUpdateClass        JobKind = "updateClass"
	JobDeleteBranch       JobKind = "deleteBranch"
	JobDeleteKindergarten JobKind = "deleteKindergarten"
	JobDeleteGuardian     JobKind = "deleteGuardian"

	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobStep is one chunk of a workflow: the same change applied to every listed document, plus
// the parent adjustments that ride the chunk.
type JobStep struct {
	Collection string              `json:"collection"`
	IDs        []string            `json:"ids"`
	Set        map[string]any      `json:"set,omitempty"`
	Remove     map[string][]string `json:"remove,omitempty"`
	Delete     bool                `json:"delete,omitempty"`
	Ops        []PlannedOp         `json:"ops,omitempty"`
}

// Job is the persisted progress of a multi-chunk workflow. Cursor counts the committed steps;
// every step commits together with the cursor advance, guarded by the cursor and Runner it
// was read with.
type Job struct {
	ID        string                 `json:"id"`
	Kind      JobKind                `json:"kind"`
	Status    JobStatus              `json:"status"`
	Params    map[string]interface{} `json:"params"`
	Steps     []JobStep              `json:"steps"`
	Cursor    int                    `json:"cursor"`
	Runner    string                 `json:"runner"`
	Error     string                 `json:"error"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

func (j Job) Done() bool { return j.Status == JobCompleted }

// guard is the part of the job document a step batch expects to be unchanged.
func (j Job) guard() docstore.Data {
	return docstore.Data{"cursor": j.Cursor, "runner": j.Runner}
}

// stepOverhead counts the job-document mutations of a step batch: the guard and the cursor advance.
const stepOverhead = 2

// newJob plans a job; the ops of final are applied with the last step.
func newJob(kind JobKind, params map[string]interface{}, steps []JobStep, final *Plan) *Job {
	now := NowFunc().UTC()
	job := &Job{
		ID:        docstore.NewID(),
		Kind:      kind,
		Status:    JobRunning,
		Params:    params,
		Runner:    docstore.NewID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	var ops []PlannedOp
	if final != nil {
		ops = final.Ops()
	}
	job.Steps = packOps(steps, ops)
	return job
}

// packOps attaches ops to the last step. Ops that would push a step batch over MaxBatchSize
// spill into extra steps.
func packOps(steps []JobStep, ops []PlannedOp) []JobStep {
	if len(steps) == 0 {
		steps = append(steps, JobStep{})
	}
	last := &steps[len(steps)-1]
	room := docstore.MaxBatchSize - stepOverhead - len(last.IDs) - opsMutations(last.Ops)
	for _, op := range ops {
		n := opsMutations([]PlannedOp{op})
		if n > room {
			steps = append(steps, JobStep{})
			last = &steps[len(steps)-1]
			room = docstore.MaxBatchSize - stepOverhead
		}
		last.Ops = append(last.Ops, op)
		room -= n
	}
	return steps
}

// chunkSteps splits ids into steps of ChunkSize applying the same change.
func chunkSteps(coll string, ids []string, set map[string]any, remove map[string][]string, del bool) []JobStep {
	steps := make([]JobStep, 0, (len(ids)+ChunkSize-1)/ChunkSize)
	for start := 0; start < len(ids); start += ChunkSize {
		end := start + ChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make([]string, end-start)
		copy(chunk, ids[start:end])
		steps = append(steps, JobStep{Collection: coll, IDs: chunk, Set: set, Remove: remove, Delete: del})
	}
	return steps
}

func opsMutations(ops []PlannedOp) int {
	n := 0
	for _, op := range ops {
		n++
		for field := range op.Remove {
			if _, ok := op.Union[field]; ok {
				n++
				break
			}
		}
	}
	return n
}

func (step JobStep) applyTo(b docstore.Batch) {
	for _, id := range step.IDs {
		if step.Delete {
			b.Delete(step.Collection, id)
			continue
		}
		data := make(docstore.Data, len(step.Set)+len(step.Remove)+1)
		for field, v := range step.Set {
			data[field] = v
		}
		for field, vals := range step.Remove {
			data[field] = docstore.ArrayRemove(toInterfaces(vals)...)
		}
		data[FieldUpdatedAt] = docstore.ServerTimestamp
		b.Update(step.Collection, id, data)
	}
	ApplyOps(b, step.Ops)
}

// runJob commits the remaining steps of job, one batch per step. The first batch of a new job
// also creates the job document; later batches only commit while the stored cursor and runner
// still match job. A failed step marks the job failed and stops. A job taken over by another
// runner stops with ErrJobConflict and is left to its new owner.
func (svc *Service) runJob(ctx context.Context, job *Job, isNew bool) error {
	started := time.Now()
	for job.Cursor < len(job.Steps) {
		step := job.Steps[job.Cursor]
		last := job.Cursor == len(job.Steps)-1

		b := svc.store.Batch()
		step.applyTo(b)

		next := *job
		next.Cursor++
		next.UpdatedAt = NowFunc().UTC()
		next.Error = ""
		if last {
			next.Status = JobCompleted
		} else {
			next.Status = JobRunning
		}
		if isNew {
			data, err := docstore.Encode(next)
			if err != nil {
				return err
			}
			b.Set(JobsCollection, job.ID, data)
		} else {
			b.Check(JobsCollection, job.ID, job.guard())
			b.Update(JobsCollection, job.ID, docstore.Data{
				"cursor":    next.Cursor,
				"status":    string(next.Status),
				"error":     "",
				"updatedAt": next.UpdatedAt,
			})
		}

		if err := b.Commit(ctx); err != nil {
			if docstore.IsConflict(err) {
				svc.logger.Warn("job taken over", errors.Wrapf(err, "%s job %s", job.Kind, job.ID), map[string]interface{}{
					"jobId":  job.ID,
					"cursor": job.Cursor,
				})
				return errors.Wrapf(ErrJobConflict, "%s job %s at step %d/%d", job.Kind, job.ID, job.Cursor+1, len(job.Steps))
			}
			svc.failJob(job, isNew, err)
			svc.metrics.JobFinished(string(job.Kind), JobFailed, time.Since(started))
			return errors.Wrapf(err, "running %s job %s (step %d/%d)", job.Kind, job.ID, job.Cursor+1, len(job.Steps))
		}
		*job = next
		isNew = false
	}
	svc.metrics.JobFinished(string(job.Kind), JobCompleted, time.Since(started))
	return nil
}

// failJob records the failure on the job document (best-effort) and announces it. It runs on
// its own context since the caller's is often the reason the step failed. The cursor is never
// written: a step whose commit reported an error may still have been applied.
func (svc *Service) failJob(job *Job, isNew bool, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), JobBookkeepingTimeout)
	defer cancel()

	job.Status = JobFailed
	job.Error = cause.Error()
	job.UpdatedAt = NowFunc().UTC()

	err := svc.store.Batch().
		Check(JobsCollection, job.ID, docstore.Data{"runner": job.Runner}).
		Update(JobsCollection, job.ID, docstore.Data{
			"status":    string(JobFailed),
			"error":     job.Error,
			"updatedAt": job.UpdatedAt,
		}).
		Commit(ctx)
	if isNew && docstore.IsNotFound(err) {
		var data docstore.Data
		if data, err = docstore.Encode(job); err == nil {
			err = svc.store.Batch().Set(JobsCollection, job.ID, data).Commit(ctx)
		}
	}
	switch {
	case docstore.IsConflict(err):
		svc.logger.Warn("job taken over, failure not recorded", errors.Wrap(cause, job.ID))
		return
	case err != nil:
		svc.logger.Error("recording failed job", errors.Wrap(err, job.ID))
	}

	svc.logger.Error("job failed", errors.Wrapf(cause, "%s job %s", job.Kind, job.ID), map[string]interface{}{
		"jobId":  job.ID,
		"kind":   job.Kind,
		"cursor": job.Cursor,
		"steps":  len(job.Steps),
	})
	svc.publish(ctx, events.TopicJobFailed, map[string]interface{}{
		"jobId":  job.ID,
		"kind":   string(job.Kind),
		"cursor": job.Cursor,
		"error":  job.Error,
	})
}

func (svc *Service) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	err := svc.get(ctx, JobsCollection, id, &job, ErrJobNotFound)
	return job, err
}

// ListJobs returns the jobs with the given status (every job when status is empty).
func (svc *Service) ListJobs(ctx context.Context, status JobStatus) ([]Job, error) {
	q := docstore.Collection(JobsCollection)
	if status != "" {
		q = q.Where("status", docstore.OpEqual, string(status))
	}
	return queryAll[Job](ctx, svc.store, q)
}

// ResumeJob continues a job from its first uncommitted step. Completed jobs are returned as is.
// A running job is only taken over once it has made no progress for StaleJobAfter.
func (svc *Service) ResumeJob(ctx context.Context, id string) (Job, error) {
	job, err := svc.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.Done() {
		return job, nil
	}
	if job.Status == JobRunning && NowFunc().Sub(job.UpdatedAt) < StaleJobAfter {
		return job, errors.Wrapf(ErrJobRunning, "job %s (step %d/%d)", job.ID, job.Cursor+1, len(job.Steps))
	}
	if err := svc.claimJob(ctx, &job); err != nil {
		return job, err
	}
	err = svc.runJob(ctx, &job, false)
	return job, err
}

// claimJob makes the caller the runner of job, provided nobody advanced or claimed it since it was read.
func (svc *Service) claimJob(ctx context.Context, job *Job) error {
	runner := docstore.NewID()
	now := NowFunc().UTC()
	err := svc.store.Batch().
		Check(JobsCollection, job.ID, job.guard()).
		Update(JobsCollection, job.ID, docstore.Data{
			"runner":    runner,
			"status":    string(JobRunning),
			"error":     "",
			"updatedAt": now,
		}).
		Commit(ctx)
	switch {
	case docstore.IsConflict(err):
		return errors.Wrapf(ErrJobConflict, "claiming job %s", job.ID)
	case err != nil:
		return errors.Wrapf(err, "claiming job %s", job.ID)
	}
	job.Runner, job.Status, job.Error, job.UpdatedAt = runner, JobRunning, "", now
	return nil
}
