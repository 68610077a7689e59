package sqldoc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "docs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", nil)
	assert.EqualError(t, err, `unsupported driver "oracle"`)
}

func TestStore_BatchTransforms(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	now := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return now })

	require.NoError(t, s.Batch().
		Set("classes", "c1", docstore.Data{"name": "Lions", "studentCount": 2, "studentIds": []string{"s1", "s2"}}).
		Commit(ctx))
	require.NoError(t, s.Batch().
		Update("classes", "c1", docstore.Data{
			"studentCount": docstore.Increment(-1),
			"studentIds":   docstore.ArrayRemove("s1"),
			"updatedAt":    docstore.ServerTimestamp,
		}).
		Merge("classes", "c2", docstore.Data{"studentCount": docstore.Increment(1), "studentIds": docstore.ArrayUnion("s1")}).
		Merge("classes", "c2", docstore.Data{"studentIds": docstore.ArrayUnion("s1", "s3")}).
		Commit(ctx))

	c1, err := s.Get(ctx, "classes", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), c1.Data["studentCount"])
	assert.Equal(t, []interface{}{"s2"}, c1.Data["studentIds"])
	assert.Equal(t, now.Format(docstore.TimeLayout), c1.Data["updatedAt"])
	assert.Equal(t, "Lions", c1.Data["name"])

	c2, err := s.Get(ctx, "classes", "c2")
	require.NoError(t, err)
	assert.Equal(t, float64(1), c2.Data["studentCount"])
	assert.Equal(t, []interface{}{"s1", "s3"}, c2.Data["studentIds"])
}

func TestStore_BatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	require.NoError(t, s.Batch().Set("kindergartens", "k1", docstore.Data{"studentCount": 5}).Commit(ctx))

	err := s.Batch().
		Update("kindergartens", "k1", docstore.Data{"studentCount": docstore.Increment(1)}).
		Update("kindergartens", "missing", docstore.Data{"studentCount": docstore.Increment(1)}).
		Commit(ctx)
	require.Error(t, err)
	assert.True(t, docstore.IsNotFound(err))

	k1, err := s.Get(ctx, "kindergartens", "k1")
	require.NoError(t, err)
	assert.Equal(t, float64(5), k1.Data["studentCount"])

	require.NoError(t, s.Batch().Delete("kindergartens", "k1").Commit(ctx))
	_, err = s.Get(ctx, "kindergartens", "k1")
	assert.True(t, docstore.IsNotFound(err))

	assert.Equal(t, docstore.ErrEmptyBatch, errors.Cause(s.Batch().Commit(ctx)))
}

func TestStore_BatchCheck(t *testing.T) {
	tests := []struct {
		name       string
		want       docstore.Data
		wantErr    bool
		wantCursor float64
		wantCount  float64
	}{
		{name: "current cursor", want: docstore.Data{"cursor": 2}, wantCursor: 3, wantCount: 3},
		{name: "stale cursor", want: docstore.Data{"cursor": 1}, wantErr: true, wantCursor: 2, wantCount: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := openSQLite(t)
			require.NoError(t, s.Batch().
				Set("jobs", "j1", docstore.Data{"cursor": 2}).
				Set("classes", "c1", docstore.Data{"studentCount": 4}).
				Commit(ctx))

			err := s.Batch().
				Check("jobs", "j1", tt.want).
				Update("jobs", "j1", docstore.Data{"cursor": docstore.Increment(1)}).
				Update("classes", "c1", docstore.Data{"studentCount": docstore.Increment(-1)}).
				Commit(ctx)
			if tt.wantErr {
				assert.True(t, docstore.IsConflict(err))
			} else {
				require.NoError(t, err)
			}

			j1, err := s.Get(ctx, "jobs", "j1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantCursor, j1.Data["cursor"])
			c1, err := s.Get(ctx, "classes", "c1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, c1.Data["studentCount"])
		})
	}
}

func TestStore_Query(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	require.NoError(t, s.Batch().
		Set("students", "s1", docstore.Data{"classId": "c1", "guardianIds": []string{"g1"}}).
		Set("students", "s2", docstore.Data{"classId": "c2", "guardianIds": []string{"g1", "g2"}}).
		Set("students", "s3", docstore.Data{"classId": nil}).
		Set("classes", "c1", docstore.Data{"name": "Lions"}).
		Commit(ctx))

	tests := []struct {
		name  string
		query docstore.Query
		want  []string
	}{
		{"all", docstore.Collection("students"), []string{"s1", "s2", "s3"}},
		{"equal", docstore.Collection("students").Where("classId", docstore.OpEqual, "c1"), []string{"s1"}},
		{"equal null", docstore.Collection("students").Where("classId", docstore.OpEqual, nil), []string{"s3"}},
		{"in", docstore.Collection("students").Where("classId", docstore.OpIn, []string{"c1", "c2"}), []string{"s1", "s2"}},
		{"array contains", docstore.Collection("students").Where("guardianIds", docstore.OpArrayContains, "g2"), []string{"s2"}},
		{"limit", docstore.Collection("students").WithLimit(2), []string{"s1", "s2"}},
		{"empty collection", docstore.Collection("drivers"), []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snaps, err := s.Query(ctx, tc.query)
			require.NoError(t, err)
			ids := make([]string, 0, len(snaps))
			for _, snap := range snaps {
				ids = append(ids, snap.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	received := make(chan int, 10)
	sub, err := s.Subscribe(ctx, docstore.Collection("classes"), func(snaps []*docstore.Snapshot) {
		received <- len(snaps)
	})
	require.NoError(t, err)
	defer sub.Stop()

	next := func() int {
		select {
		case n := <-received:
			return n
		case <-time.After(2 * time.Second):
			t.Fatal("no delivery")
			return -1
		}
	}
	assert.Equal(t, 0, next())
	require.NoError(t, s.Batch().Set("classes", "c1", docstore.Data{"name": "Lions"}).Commit(ctx))
	assert.Equal(t, 1, next())
}
