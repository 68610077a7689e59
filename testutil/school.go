package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
	"github.com/azardenmark/dashboard-sub000/core/events"
	"github.com/azardenmark/dashboard-sub000/core/school"
	logsvc "github.com/azardenmark/dashboard-sub000/services/logger"
	blobmem "github.com/azardenmark/dashboard-sub000/storage/blob/memory"
	"github.com/azardenmark/dashboard-sub000/storage/docstore/memory"
)

// School bundles a school.Service over in-memory backends with everything it published.
type School struct {
	Svc    *school.Service
	Store  *memory.Store
	Blobs  *blobmem.Store
	Bus    *events.LocalBus
	Events *events.Recorder
}

// NewLogger returns a logger writing to the test log.
func NewLogger(t *testing.T) *logsvc.ZeroLogger {
	return logsvc.NewZeroLogger(zerolog.New(zerolog.NewTestWriter(t)))
}

func NewSchool(t *testing.T) *School {
	t.Helper()
	sc := &School{
		Store:  memory.New(),
		Blobs:  blobmem.New("http://blobs.test"),
		Bus:    events.NewLocalBus(),
		Events: &events.Recorder{},
	}
	if _, err := sc.Bus.Subscribe(events.AllTopics, sc.Events.Handle); err != nil {
		t.Fatalf("subscribing recorder: %v", err)
	}
	sc.Svc = school.NewService(school.Options{
		Store:  sc.Store,
		Blobs:  sc.Blobs,
		Bus:    sc.Bus,
		Logger: NewLogger(t),
	})
	t.Cleanup(func() { _ = sc.Store.Close() })
	return sc
}

// Put writes v (a school entity) as collection/id, bypassing the bookkeeping.
func (sc *School) Put(t *testing.T, coll, id string, v interface{}) {
	t.Helper()
	data, err := docstore.Encode(v)
	if err != nil {
		t.Fatalf("encoding %s/%s: %v", coll, id, err)
	}
	if err := sc.Store.Batch().Set(coll, id, data).Commit(context.Background()); err != nil {
		t.Fatalf("putting %s/%s: %v", coll, id, err)
	}
}

// Kindergarten stores a kindergarten with the given counters.
func (sc *School) Kindergarten(t *testing.T, id, code string, studentCount, classCount, branchCount int) school.Kindergarten {
	now := time.Now().UTC()
	k := school.Kindergarten{
		ID:           id,
		Name:         "Kindergarten " + id,
		Code:         code,
		Stages:       []string{},
		AgeRanges:    []string{},
		TeacherIDs:   []string{},
		DriverIDs:    []string{},
		StudentCount: studentCount,
		ClassCount:   classCount,
		BranchCount:  branchCount,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sc.Put(t, school.KindergartensCollection, id, k)
	return k
}

func (sc *School) Branch(t *testing.T, id, parentID string, studentCount, classCount int) school.Branch {
	now := time.Now().UTC()
	b := school.Branch{
		ID:           id,
		ParentID:     parentID,
		Name:         "Branch " + id,
		TeacherIDs:   []string{},
		DriverIDs:    []string{},
		StudentCount: studentCount,
		ClassCount:   classCount,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sc.Put(t, school.BranchesCollection, id, b)
	return b
}

// Class stores a class holding studentIDs (the count follows the slice).
func (sc *School) Class(t *testing.T, id, kindergartenID, parentID string, studentIDs ...string) school.Class {
	now := time.Now().UTC()
	if studentIDs == nil {
		studentIDs = []string{}
	}
	c := school.Class{
		ID:             id,
		Name:           "Class " + id,
		AgeRanges:      []string{"3-4"},
		ParentID:       parentID,
		KindergartenID: kindergartenID,
		StudentIDs:     studentIDs,
		StudentCount:   len(studentIDs),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	sc.Put(t, school.ClassesCollection, id, c)
	return c
}

// Student stores a student placed in class c, or directly under kindergartenID when c is nil.
func (sc *School) Student(t *testing.T, id, kindergartenID string, c *school.Class, guardianIDs ...string) school.Student {
	now := time.Now().UTC()
	if guardianIDs == nil {
		guardianIDs = []string{}
	}
	s := school.Student{
		ID:             id,
		FirstName:      "Student",
		LastName:       id,
		KindergartenID: kindergartenID,
		ParentID:       kindergartenID,
		GuardianIDs:    guardianIDs,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if c != nil {
		s.ClassID, s.ClassName, s.ParentID, s.BranchID = c.ID, c.Name, c.ParentID, c.BranchID()
	}
	sc.Put(t, school.StudentsCollection, id, s)
	return s
}

func (sc *School) Guardian(t *testing.T, id string, studentIDs ...string) school.Guardian {
	now := time.Now().UTC()
	if studentIDs == nil {
		studentIDs = []string{}
	}
	g := school.Guardian{
		ID:         id,
		FirstName:  "Guardian",
		LastName:   id,
		StudentIDs: studentIDs,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	sc.Put(t, school.GuardiansCollection, id, g)
	return g
}

// Doc reads collection/id as raw document data.
func (sc *School) Doc(t *testing.T, coll, id string) docstore.Data {
	t.Helper()
	snap, err := sc.Store.Get(context.Background(), coll, id)
	if err != nil {
		t.Fatalf("getting %s/%s: %v", coll, id, err)
	}
	return snap.Data
}

// Count reads an integer field of collection/id.
func (sc *School) Count(t *testing.T, coll, id, field string) int {
	t.Helper()
	n, _ := sc.Doc(t, coll, id)[field].(float64)
	return int(n)
}

// Exists reports whether collection/id is stored.
func (sc *School) Exists(t *testing.T, coll, id string) bool {
	t.Helper()
	_, err := sc.Store.Get(context.Background(), coll, id)
	if err != nil && !docstore.IsNotFound(err) {
		t.Fatalf("getting %s/%s: %v", coll, id, err)
	}
	return err == nil
}
