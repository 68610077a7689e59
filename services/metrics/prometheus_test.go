package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core/school"
)

func TestPrometheus(t *testing.T) {
	m := NewPrometheus()

	m.JobFinished(string(school.JobMoveStudents), school.JobCompleted, 120*time.Millisecond)
	m.JobFinished(string(school.JobMoveStudents), school.JobCompleted, 80*time.Millisecond)
	m.JobFinished(string(school.JobDeleteClass), school.JobFailed, time.Second)
	m.StudentsMoved(7)
	m.StudentsMoved(0)
	m.GuardiansMissing(2)
	m.CounterDrift("classes", "studentCount", 1)
	m.CounterDrift("classes", "studentCount", 1)
	m.CounterDrift("branches", "classCount", 0)
	m.CounterBatch(3)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"moves completed", testutil.ToFloat64(m.jobs.WithLabelValues("moveStudents", "completed")), 2},
		{"deletes failed", testutil.ToFloat64(m.jobs.WithLabelValues("deleteClass", "failed")), 1},
		{"students moved", testutil.ToFloat64(m.studentsMoved), 7},
		{"guardians missing", testutil.ToFloat64(m.guardiansMissing), 2},
		{"class drift", testutil.ToFloat64(m.counterDrift.WithLabelValues("classes", "studentCount")), 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.got)
		})
	}
	assert.Equal(t, 1, testutil.CollectAndCount(m.counterDrift), "zero drift must not create a series")
}

func TestPrometheus_Handler(t *testing.T) {
	m := NewPrometheus()
	m.StudentsMoved(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rawdati_students_moved_total 3")
	assert.Contains(t, string(body), "go_goroutines")
}
