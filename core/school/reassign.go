package school

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/events"
)

// MoveResult reports a bulk move. NothingToMove is set when every student already sat in the
// destination class; nothing was written then.
type MoveResult struct {
	JobID         string         `json:"jobId,omitempty"`
	ClassID       string         `json:"classId"`
	Moved         int            `json:"moved"`
	Sources       map[string]int `json:"sources"` // source class ID ("" = unassigned) → students leaving it
	Chunks        int            `json:"chunks"`
	NothingToMove bool           `json:"nothingToMove"`
}

// MoveStudents moves students into the destination class. Students are updated in chunks of
// ChunkSize, one batch each; the counter adjustments of every source and of the destination
// ride the last chunk's batch. Progress is persisted as a job, so a failed move can be resumed.
func (svc *Service) MoveStudents(ctx context.Context, studentIDs []string, destClassID string) (MoveResult, error) {
	studentIDs = dedupe(studentIDs)
	if len(studentIDs) == 0 {
		return MoveResult{}, validationErr(ErrNoStudents, "studentIds")
	}
	dest, err := svc.GetClass(ctx, destClassID)
	if err != nil {
		if IsNotFound(err) {
			return MoveResult{}, validationErr(err, "classId")
		}
		return MoveResult{}, err
	}

	found, err := docstore.GetAll(ctx, svc.store, StudentsCollection, studentIDs)
	if err != nil {
		return MoveResult{}, errors.Wrap(err, "reading students")
	}

	var (
		missing, foreign []string
		moving           []Student
	)
	for _, id := range studentIDs {
		snap, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		var s Student
		if err := snap.DataTo(&s); err != nil {
			return MoveResult{}, err
		}
		if s.KindergartenID != dest.KindergartenID {
			foreign = append(foreign, id)
			continue
		}
		if s.ClassID != dest.ID {
			moving = append(moving, s)
		}
	}
	if len(missing) > 0 {
		return MoveResult{}, core.NewValidationError(
			errors.Wrapf(ErrStudentNotFound, "%v", missing),
			core.FieldError{Field: "studentIds", Error: ErrStudentNotFound.Error()},
		)
	}
	if len(foreign) > 0 {
		return MoveResult{}, core.NewValidationError(
			errors.Wrapf(ErrCrossKindergartenMove, "%v", foreign),
			core.FieldError{Field: "studentIds", Error: ErrCrossKindergartenMove.Error()},
		)
	}

	res := MoveResult{ClassID: dest.ID, Sources: make(map[string]int)}
	if len(moving) == 0 {
		res.NothingToMove = true
		return res, nil
	}

	final := NewPlan()
	ids := make([]string, 0, len(moving))
	for i := range moving {
		prev := moving[i]
		next := prev
		placeInClass(&next, dest)
		final.Merge(StudentDeltas(&prev, &next))
		res.Sources[prev.ClassID]++
		ids = append(ids, prev.ID)
	}

	steps := chunkSteps(StudentsCollection, ids, map[string]any{
		"classId":   dest.ID,
		"className": dest.Name,
		"parentId":  dest.ParentID,
		"branchId":  nullable(dest.BranchID()),
	}, nil, false)
	job := newJob(JobMoveStudents, map[string]interface{}{"classId": dest.ID, "students": len(ids)}, steps, final)
	res.JobID = job.ID
	res.Chunks = len(job.Steps)

	if err := svc.runJob(ctx, job, true); err != nil {
		return res, err
	}
	res.Moved = len(ids)

	svc.metrics.StudentsMoved(res.Moved)
	svc.publish(ctx, events.TopicStudentMoved, map[string]interface{}{
		"jobId":          job.ID,
		"classId":        dest.ID,
		"kindergartenId": dest.KindergartenID,
		"studentIds":     ids,
		"sources":        res.Sources,
	})
	return res, nil
}

// placeInClass points s at class c, deriving its branch from the class parent.
func placeInClass(s *Student, c Class) {
	s.ClassID = c.ID
	s.ClassName = c.Name
	s.ParentID = c.ParentID
	s.BranchID = c.BranchID()
	s.KindergartenID = c.KindergartenID
}

// DeleteClassResult reports a class deletion.
type DeleteClassResult struct {
	JobID      string `json:"jobId"`
	Unassigned int    `json:"unassigned"`
	Chunks     int    `json:"chunks"`
}

// DeleteClass unassigns every student of the class in chunks of ChunkSize and, with the last
// chunk, deletes the class and decrements its parents' classCount.
func (svc *Service) DeleteClass(ctx context.Context, classID string) (DeleteClassResult, error) {
	class, err := svc.GetClass(ctx, classID)
	if err != nil {
		return DeleteClassResult{}, err
	}
	job, unassigned, err := svc.planDeleteClass(ctx, class)
	if err != nil {
		return DeleteClassResult{}, err
	}
	res := DeleteClassResult{JobID: job.ID, Unassigned: unassigned, Chunks: len(job.Steps)}
	if err := svc.runJob(ctx, job, true); err != nil {
		return res, err
	}

	svc.publish(ctx, events.TopicClassDeleted, map[string]interface{}{
		"jobId":          job.ID,
		"classId":        class.ID,
		"kindergartenId": class.KindergartenID,
		"unassigned":     unassigned,
	})
	return res, nil
}

func (svc *Service) planDeleteClass(ctx context.Context, class Class) (*Job, int, error) {
	students, err := queryAll[Student](ctx, svc.store, docstore.Collection(StudentsCollection).
		Where("classId", docstore.OpEqual, class.ID))
	if err != nil {
		return nil, 0, err
	}
	ids := studentIDsOf(students)

	steps := chunkSteps(StudentsCollection, ids, map[string]any{
		"classId":   nil,
		"className": nil,
	}, nil, false)
	final := ClassDeltas(&class, nil).DeleteDoc(ClassesCollection, class.ID)
	job := newJob(JobDeleteClass, map[string]interface{}{"classId": class.ID, "students": len(ids)}, steps, final)
	return job, len(ids), nil
}

func studentIDsOf(students []Student) []string {
	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}
