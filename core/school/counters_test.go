package school_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/school"
	"github.com/azardenmark/dashboard-sub000/testutil"
)

func counter(coll, id, field string, delta int) school.CounterDelta {
	return school.CounterDelta{Collection: coll, ID: id, Field: field, Delta: delta}
}

func TestStudentDeltas(t *testing.T) {
	const (
		K = school.KindergartensCollection
		B = school.BranchesCollection
		C = school.ClassesCollection
		f = school.FieldStudentCount
	)
	inClassA := &school.Student{ID: "s1", KindergartenID: "k1", ClassID: "ca"}
	inClassB := &school.Student{ID: "s1", KindergartenID: "k1", BranchID: "b1", ClassID: "cb"}
	otherK := &school.Student{ID: "s1", KindergartenID: "k2", ClassID: "cx"}
	renamed := &school.Student{ID: "s1", FirstName: "new", KindergartenID: "k1", ClassID: "ca"}

	tests := []struct {
		name       string
		prev, next *school.Student
		want       []school.CounterDelta
	}{
		{name: "create", next: inClassA, want: []school.CounterDelta{
			counter(C, "ca", f, 1), counter(K, "k1", f, 1),
		}},
		{name: "delete", prev: inClassB, want: []school.CounterDelta{
			counter(B, "b1", f, -1), counter(C, "cb", f, -1), counter(K, "k1", f, -1),
		}},
		{name: "move to a branch class", prev: inClassA, next: inClassB, want: []school.CounterDelta{
			counter(B, "b1", f, 1), counter(C, "ca", f, -1), counter(C, "cb", f, 1),
		}},
		{name: "transfer to another kindergarten", prev: inClassA, next: otherK, want: []school.CounterDelta{
			counter(C, "ca", f, -1), counter(C, "cx", f, 1), counter(K, "k1", f, -1), counter(K, "k2", f, 1),
		}},
		{name: "no parent change", prev: inClassA, next: renamed, want: []school.CounterDelta{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, school.StudentDeltas(tt.prev, tt.next).Counters())
		})
	}
}

func TestStudentDeltas_ClassMembership(t *testing.T) {
	p := school.StudentDeltas(
		&school.Student{ID: "s1", KindergartenID: "k1", ClassID: "ca"},
		&school.Student{ID: "s1", KindergartenID: "k1", ClassID: "cb"},
	)
	ops := map[string]school.PlannedOp{}
	for _, op := range p.Ops() {
		ops[op.ID] = op
	}
	assert.Equal(t, []string{"s1"}, ops["ca"].Remove[school.FieldStudentIDs])
	assert.Equal(t, []string{"s1"}, ops["cb"].Union[school.FieldStudentIDs])
	assert.NotContains(t, ops, "k1")
}

func TestTeacherDeltas(t *testing.T) {
	const (
		K = school.KindergartensCollection
		B = school.BranchesCollection
		f = school.FieldActiveTeacherCount
	)
	active := &school.Teacher{ID: "t1", KindergartenID: "k1", BranchID: "b1", Active: true}
	inactive := &school.Teacher{ID: "t1", KindergartenID: "k1", BranchID: "b1"}
	inactiveMoved := &school.Teacher{ID: "t1", KindergartenID: "k1", BranchID: "b2"}
	activeAtK := &school.Teacher{ID: "t1", KindergartenID: "k1", Active: true}

	tests := []struct {
		name       string
		prev, next *school.Teacher
		want       []school.CounterDelta
	}{
		{name: "create active", next: active, want: []school.CounterDelta{counter(B, "b1", f, 1), counter(K, "k1", f, 1)}},
		{name: "create inactive", next: inactive, want: []school.CounterDelta{}},
		{name: "deactivate", prev: active, next: inactive, want: []school.CounterDelta{counter(B, "b1", f, -1), counter(K, "k1", f, -1)}},
		{name: "activate at kindergarten level", prev: &school.Teacher{ID: "t1", KindergartenID: "k1"}, next: activeAtK,
			want: []school.CounterDelta{counter(K, "k1", f, 1)}},
		{name: "move while inactive", prev: inactive, next: inactiveMoved, want: []school.CounterDelta{}},
		{name: "move while active", prev: active, next: &school.Teacher{ID: "t1", KindergartenID: "k1", BranchID: "b2", Active: true},
			want: []school.CounterDelta{counter(B, "b1", f, -1), counter(B, "b2", f, 1)}},
		{name: "delete inactive", prev: inactive, want: []school.CounterDelta{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, school.TeacherDeltas(tt.prev, tt.next).Counters())
		})
	}
}

func TestClassDeltas(t *testing.T) {
	atK := &school.Class{ID: "c1", KindergartenID: "k1", ParentID: "k1"}
	atB := &school.Class{ID: "c1", KindergartenID: "k1", ParentID: "b1"}

	assert.Equal(t, []school.CounterDelta{counter(school.KindergartensCollection, "k1", school.FieldClassCount, 1)},
		school.ClassDeltas(nil, atK).Counters())
	assert.Equal(t, []school.CounterDelta{counter(school.BranchesCollection, "b1", school.FieldClassCount, 1)},
		school.ClassDeltas(atK, atB).Counters())
	assert.True(t, school.ClassDeltas(atB, atB).Empty())
}

func TestSyncTeacher_ActiveFlip(t *testing.T) {
	ctx := context.Background()
	sc := testutil.NewSchool(t)
	sc.Kindergarten(t, "k1", "DAM-ABC", 0, 0, 1)
	sc.Branch(t, "b1", "k1", 0, 0)
	sc.Store.ResetStats()

	prev := &school.Teacher{ID: "t1", KindergartenID: "k1", BranchID: "b1"}
	next := &school.Teacher{ID: "t1", KindergartenID: "k1", BranchID: "b1", Active: true}
	require.NoError(t, sc.Svc.SyncTeacher(ctx, prev, next))

	assert.Equal(t, 1, sc.Store.Commits())
	assert.Equal(t, 1, sc.Count(t, school.KindergartensCollection, "k1", school.FieldActiveTeacherCount))
	assert.Equal(t, 1, sc.Count(t, school.BranchesCollection, "b1", school.FieldActiveTeacherCount))

	t.Run("no change issues no batch", func(t *testing.T) {
		sc.Store.ResetStats()
		require.NoError(t, sc.Svc.SyncTeacher(ctx, next, next))
		assert.Zero(t, sc.Store.Commits())
	})
}

func TestSyncStudent_StoreFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	sc := testutil.NewSchool(t)
	sc.Kindergarten(t, "k1", "", 1, 2, 0)
	sc.Class(t, "ca", "k1", "k1", "s1")
	sc.Class(t, "cb", "k1", "k1")

	boom := errors.New("unavailable")
	sc.Store.FailWith(func([]docstore.Mutation) error { return boom })
	err := sc.Svc.SyncStudent(ctx,
		&school.Student{ID: "s1", KindergartenID: "k1", ClassID: "ca"},
		&school.Student{ID: "s1", KindergartenID: "k1", ClassID: "cb"})
	require.Error(t, err)
	assert.Equal(t, boom, errors.Cause(err))
	assert.Equal(t, 1, sc.Count(t, school.ClassesCollection, "ca", school.FieldStudentCount))
	assert.Equal(t, 0, sc.Count(t, school.ClassesCollection, "cb", school.FieldStudentCount))
}

// P1: the class counters of a kindergarten always add up to its assigned students.
func TestStudentCounters_Conservation(t *testing.T) {
	ctx := context.Background()
	sc := testutil.NewSchool(t)
	k, err := sc.Svc.CreateKindergarten(ctx, school.NewKindergarten{Name: "Al Amal", ProvinceCode: "DAM"})
	require.NoError(t, err)
	b, err := sc.Svc.CreateBranch(ctx, school.NewBranch{ParentID: k.ID, Name: "North"})
	require.NoError(t, err)
	ca, err := sc.Svc.CreateClass(ctx, school.NewClass{Name: "Lions", AgeRanges: []string{"3-4"}, ParentID: k.ID})
	require.NoError(t, err)
	cb, err := sc.Svc.CreateClass(ctx, school.NewClass{Name: "Tigers", AgeRanges: []string{"4-5"}, ParentID: b.ID})
	require.NoError(t, err)

	newStudent := func(name, classID string) school.NewStudent {
		return school.NewStudent{FirstName: name, LastName: "X", KindergartenID: k.ID, ClassID: classID}
	}
	var ids []string
	for i, classID := range []string{ca.ID, ca.ID, cb.ID, "", cb.ID} {
		w, err := sc.Svc.CreateStudent(ctx, newStudent(string(rune('A'+i)), classID))
		require.NoError(t, err)
		ids = append(ids, w.Student.ID)
	}
	_, err = sc.Svc.UpdateStudent(ctx, ids[0], school.UpdateStudent(newStudent("A", cb.ID)))
	require.NoError(t, err)
	_, err = sc.Svc.UpdateStudent(ctx, ids[3], school.UpdateStudent(newStudent("D", ca.ID)))
	require.NoError(t, err)
	_, err = sc.Svc.DeleteStudent(ctx, ids[2])
	require.NoError(t, err)
	_, err = sc.Svc.MoveStudents(ctx, []string{ids[1], ids[4]}, cb.ID)
	require.NoError(t, err)

	students, err := sc.Svc.ListStudents(ctx, school.StudentFilter{KindergartenID: k.ID})
	require.NoError(t, err)
	assigned := 0
	for _, s := range students {
		if s.ClassID != "" {
			assigned++
		}
	}
	sum := sc.Count(t, school.ClassesCollection, ca.ID, school.FieldStudentCount) +
		sc.Count(t, school.ClassesCollection, cb.ID, school.FieldStudentCount)
	assert.Equal(t, assigned, sum)
	assert.Equal(t, 4, sc.Count(t, school.KindergartensCollection, k.ID, school.FieldStudentCount))
	assert.Equal(t, 3, sc.Count(t, school.BranchesCollection, b.ID, school.FieldStudentCount))

	report, err := sc.Svc.Reconcile(ctx, k.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}
