// Package school holds the kindergarten network: entities, the counter bookkeeping that keeps
// parent documents in step with their children, the reassignment workflows, guardian links and
// code allocation.
package school

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/blobstore"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/events"
)

// ChunkSize is the number of documents a workflow updates per batch.
const ChunkSize = 400

var (
	NowFunc = time.Now // mockable

	// StaleJobAfter is how long a running job may go without progress before ResumeJob takes it over.
	StaleJobAfter = 10 * time.Minute

	// JobBookkeepingTimeout bounds the write that records a failed job.
	JobBookkeepingTimeout = 10 * time.Second

	// errors
	ErrKindergartenNotFound  = errors.New("kindergarten not found")
	ErrBranchNotFound        = errors.New("branch not found")
	ErrClassNotFound         = errors.New("class not found")
	ErrStudentNotFound       = errors.New("student not found")
	ErrTeacherNotFound       = errors.New("teacher not found")
	ErrDriverNotFound        = errors.New("driver not found")
	ErrGuardianNotFound      = errors.New("guardian not found")
	ErrJobNotFound           = errors.New("job not found")
	ErrJobRunning            = errors.New("job is still running")
	ErrJobConflict           = errors.New("job was advanced by another runner")
	ErrAttachmentNotFound    = errors.New("attachment not found")
	ErrCrossKindergartenMove = errors.New("cross-kindergarten move")
	ErrNoStudents            = errors.New("no students selected")
	ErrParentCodeMissing     = errors.New("parent kindergarten has no registration code")
	ErrCodeExhausted         = errors.New("could not allocate a unique code")
	ErrParentMismatch        = errors.New("parent does not belong to the kindergarten")
	ErrAgeRangeOutside       = errors.New("age range outside the kindergarten's configured ranges")
	ErrPrimaryGuardian       = errors.New("primary guardian must be one of the student's guardians")
)

// Metrics receives the operational counters of the service.
type Metrics interface {
	JobFinished(kind string, status JobStatus, elapsed time.Duration)
	StudentsMoved(n int)
	GuardiansMissing(n int)
	CounterDrift(collection, field string, n int)
	CounterBatch(docs int)
}

type noopMetrics struct{}

func (noopMetrics) JobFinished(string, JobStatus, time.Duration) {}
func (noopMetrics) StudentsMoved(int)                            {}
func (noopMetrics) GuardiansMissing(int)                         {}
func (noopMetrics) CounterDrift(string, string, int)             {}
func (noopMetrics) CounterBatch(int)                             {}

type Options struct {
	Store    docstore.Store
	Blobs    blobstore.Store
	Bus      events.Bus
	Logger   core.Logger
	Metrics  Metrics
	Validate *validator.Validate
	// Translator receives the translations of the package's validation tags; optional.
	Translator ut.Translator
}

// Service is the entry point to the kindergarten network.
type Service struct {
	store    docstore.Store
	blobs    blobstore.Store
	bus      events.Bus
	logger   core.Logger
	metrics  Metrics
	validate *validator.Validate
}

func NewService(opts Options) *Service {
	svc := &Service{
		store:    opts.Store,
		blobs:    opts.Blobs,
		bus:      opts.Bus,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		validate: opts.Validate,
	}
	if svc.logger == nil {
		svc.logger = core.NopLogger{}
	}
	if svc.bus == nil {
		svc.bus = events.NewLocalBus()
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	translator := opts.Translator
	if svc.validate == nil {
		svc.validate, translator = core.NewValidator()
	}
	RegisterValidators(svc.validate, translator)
	return svc
}

func (svc *Service) Store() docstore.Store { return svc.store }

// publish announces evt; a bus failure is logged, never returned.
func (svc *Service) publish(ctx context.Context, topic string, payload map[string]interface{}) {
	if err := svc.bus.Publish(ctx, events.New(topic, payload)); err != nil {
		svc.logger.Error("publishing event", errors.Wrap(err, topic))
	}
}

func (svc *Service) get(ctx context.Context, coll, id string, v interface{}, notFound error) error {
	if id == "" {
		return notFoundErr(notFound, coll, id)
	}
	snap, err := svc.store.Get(ctx, coll, id)
	if err != nil {
		if docstore.IsNotFound(err) {
			return notFoundErr(notFound, coll, id)
		}
		return errors.Wrapf(err, "getting %s/%s", coll, id)
	}
	return snap.DataTo(v)
}

func notFoundErr(sentinel error, coll, id string) error {
	return errors.Wrapf(sentinel, "%s/%s", coll, id)
}

// IsNotFound reports whether err is one of the not-found errors of this package.
func IsNotFound(err error) bool {
	switch errors.Cause(err) {
	case ErrKindergartenNotFound, ErrBranchNotFound, ErrClassNotFound, ErrStudentNotFound, ErrTeacherNotFound,
		ErrDriverNotFound, ErrGuardianNotFound, ErrJobNotFound, ErrAttachmentNotFound:
		return true
	}
	return false
}

func validationErr(err error, field string) error {
	return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
}

func (svc *Service) GetKindergarten(ctx context.Context, id string) (Kindergarten, error) {
	var k Kindergarten
	err := svc.get(ctx, KindergartensCollection, id, &k, ErrKindergartenNotFound)
	return k, err
}

func (svc *Service) GetBranch(ctx context.Context, id string) (Branch, error) {
	var b Branch
	err := svc.get(ctx, BranchesCollection, id, &b, ErrBranchNotFound)
	return b, err
}

func (svc *Service) GetClass(ctx context.Context, id string) (Class, error) {
	var c Class
	err := svc.get(ctx, ClassesCollection, id, &c, ErrClassNotFound)
	return c, err
}

func (svc *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	var s Student
	err := svc.get(ctx, StudentsCollection, id, &s, ErrStudentNotFound)
	return s, err
}

func (svc *Service) GetTeacher(ctx context.Context, id string) (Teacher, error) {
	var t Teacher
	err := svc.get(ctx, TeachersCollection, id, &t, ErrTeacherNotFound)
	return t, err
}

func (svc *Service) GetDriver(ctx context.Context, id string) (Driver, error) {
	var d Driver
	err := svc.get(ctx, DriversCollection, id, &d, ErrDriverNotFound)
	return d, err
}

func (svc *Service) GetGuardian(ctx context.Context, id string) (Guardian, error) {
	var g Guardian
	err := svc.get(ctx, GuardiansCollection, id, &g, ErrGuardianNotFound)
	return g, err
}

// queryAll runs q and decodes every result into a T.
func queryAll[T any](ctx context.Context, store docstore.Store, q docstore.Query) ([]T, error) {
	snaps, err := store.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", q.Collection)
	}
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		var v T
		if err := snap.DataTo(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
