package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

func TestUpdateDoc(t *testing.T) {
	now := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		fields docstore.Data
		want   bson.M
	}{
		{
			name:   "plain fields",
			fields: docstore.Data{"name": "Lions", "studentIds": []string{"s1"}, "teacherId": nil},
			want:   bson.M{"$set": bson.M{"name": "Lions", "studentIds": []interface{}{"s1"}, "teacherId": nil}},
		},
		{
			name:   "increment",
			fields: docstore.Data{"studentCount": docstore.Increment(-2)},
			want:   bson.M{"$inc": bson.M{"studentCount": float64(-2)}},
		},
		{
			name: "array transforms and timestamp",
			fields: docstore.Data{
				"studentIds":  docstore.ArrayUnion("s1", "s2"),
				"guardianIds": docstore.ArrayRemove("g1"),
				"updatedAt":   docstore.ServerTimestamp,
			},
			want: bson.M{
				"$addToSet": bson.M{"studentIds": bson.M{"$each": []interface{}{"s1", "s2"}}},
				"$pull":     bson.M{"guardianIds": bson.M{"$in": []interface{}{"g1"}}},
				"$set":      bson.M{"updatedAt": "2024-09-01T08:00:00Z"},
			},
		},
		{
			name:   "empty",
			fields: docstore.Data{},
			want:   bson.M{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, updateDoc(tc.fields, now))
		})
	}
}

func TestFilterDoc(t *testing.T) {
	tests := []struct {
		name    string
		filters []docstore.Filter
		want    bson.M
	}{
		{"none", nil, bson.M{}},
		{
			"equal",
			[]docstore.Filter{docstore.Where("classId", docstore.OpEqual, "c1")},
			bson.M{"classId": "c1"},
		},
		{
			"in",
			[]docstore.Filter{docstore.Where("classId", docstore.OpIn, []string{"c1", "c2"})},
			bson.M{"classId": bson.M{"$in": []interface{}{"c1", "c2"}}},
		},
		{
			"array contains and null",
			[]docstore.Filter{
				docstore.Where("guardianIds", docstore.OpArrayContains, "g1"),
				docstore.Where("classId", docstore.OpEqual, nil),
			},
			bson.M{"$and": []bson.M{{"guardianIds": "g1"}, {"classId": nil}}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, filterDoc(tc.filters))
		})
	}
}

func TestSnapshot_NormalizesBSON(t *testing.T) {
	at := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	raw := bson.M{
		"_id":          "c1",
		"studentCount": int32(3),
		"total":        int64(7),
		"createdAt":    primitive.NewDateTimeFromTime(at),
		"studentIds":   bson.A{"s1", "s2"},
		"teacher":      bson.D{{Key: "name", Value: "Amina"}},
		"teacherId":    nil,
	}
	snap := snapshot("classes", raw)
	assert.Equal(t, "c1", snap.ID)
	assert.Equal(t, docstore.Data{
		"studentCount": float64(3),
		"total":        float64(7),
		"createdAt":    "2024-09-01T08:00:00Z",
		"studentIds":   []interface{}{"s1", "s2"},
		"teacher":      map[string]interface{}{"name": "Amina"},
		"teacherId":    nil,
	}, snap.Data)
}

// TestStore_Replica runs against a real replica set when MONGO_TEST_URI is set.
func TestStore_Replica(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Options{URI: uri, Database: "rawdati_test_" + docstore.NewID()})
	require.NoError(t, err)
	defer func() {
		_ = s.db.Drop(ctx)
		_ = s.Close()
	}()

	require.NoError(t, s.Batch().
		Set("classes", "c1", docstore.Data{"name": "Lions", "studentCount": 1, "studentIds": []string{"s1"}}).
		Commit(ctx))
	require.NoError(t, s.Batch().
		Update("classes", "c1", docstore.Data{"studentCount": docstore.Increment(1), "studentIds": docstore.ArrayUnion("s2")}).
		Merge("kindergartens", "k1", docstore.Data{"studentCount": docstore.Increment(1)}).
		Commit(ctx))

	c1, err := s.Get(ctx, "classes", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), c1.Data["studentCount"])
	assert.Equal(t, []interface{}{"s1", "s2"}, c1.Data["studentIds"])

	err = s.Batch().
		Update("kindergartens", "k1", docstore.Data{"studentCount": docstore.Increment(1)}).
		Update("kindergartens", "missing", docstore.Data{"studentCount": docstore.Increment(1)}).
		Commit(ctx)
	assert.True(t, docstore.IsNotFound(err))
	k1, err := s.Get(ctx, "kindergartens", "k1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), k1.Data["studentCount"])

	err = s.Batch().
		Check("classes", "c1", docstore.Data{"studentCount": 1}).
		Update("classes", "c1", docstore.Data{"studentCount": docstore.Increment(1)}).
		Commit(ctx)
	assert.True(t, docstore.IsConflict(err))
	require.NoError(t, s.Batch().
		Check("classes", "c1", docstore.Data{"studentCount": 2, "name": "Lions"}).
		Update("classes", "c1", docstore.Data{"studentCount": docstore.Increment(1)}).
		Commit(ctx))
	c1, err = s.Get(ctx, "classes", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(3), c1.Data["studentCount"])
}
