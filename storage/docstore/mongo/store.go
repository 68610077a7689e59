// Package mongo stores every collection of the kindergarten network in a MongoDB collection of the
// same name, keyed by _id. Batches run inside a multi-document transaction, so the server must be
// a replica set.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/tomb.v2"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

var _ docstore.Store = (*Store)(nil)

type Options struct {
	URI      string
	Database string
	// Watch turns on a change stream so that live queries see writes made by other processes.
	Watch  bool
	Logger core.Logger
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	hub    *docstore.Hub
	logger core.Logger
	nowFn  func() time.Time
	t      *tomb.Tomb
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "pinging mongo")
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	s := &Store{
		client: client,
		db:     client.Database(opts.Database),
		hub:    docstore.NewHub(),
		logger: logger,
		nowFn:  time.Now,
	}
	if opts.Watch {
		s.t = new(tomb.Tomb)
		s.t.Go(s.watch)
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, coll, id string) (*docstore.Snapshot, error) {
	var raw bson.M
	err := s.db.Collection(coll).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Cause(err) == mongo.ErrNoDocuments {
			return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", coll, id)
		}
		return nil, errors.Wrapf(err, "getting %s/%s", coll, id)
	}
	return snapshot(coll, raw), nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}
	cur, err := s.db.Collection(q.Collection).Find(ctx, filterDoc(q.Filters), findOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", q.Collection)
	}
	defer cur.Close(ctx)

	snaps := make([]*docstore.Snapshot, 0)
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, errors.Wrapf(err, "decoding %s", q.Collection)
		}
		snaps = append(snaps, snapshot(q.Collection, raw))
	}
	return snaps, errors.Wrapf(cur.Err(), "iterating %s", q.Collection)
}

func (s *Store) Batch() docstore.Batch {
	return docstore.NewBatch(s.commit)
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn func([]*docstore.Snapshot)) (docstore.Subscription, error) {
	return s.hub.Subscribe(ctx, s.Query, q, fn, func(q docstore.Query, err error) {
		s.logger.Error("refreshing live query", errors.Wrap(err, q.Collection))
	}), nil
}

func (s *Store) Close() error {
	if s.t != nil {
		s.t.Kill(nil)
		_ = s.t.Wait()
	}
	s.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Wrap(s.client.Disconnect(ctx), "disconnecting from mongo")
}

func (s *Store) commit(ctx context.Context, mutations []docstore.Mutation) error {
	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "starting session")
	}
	defer session.EndSession(ctx)

	now := s.nowFn()
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, m := range mutations {
			if err := s.write(sc, m, now); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if s.t == nil {
		s.hub.Notify(docstore.Collections(mutations)...)
	}
	return nil
}

func (s *Store) write(ctx context.Context, m docstore.Mutation, now time.Time) error {
	coll := s.db.Collection(m.Collection)
	byID := bson.M{"_id": m.ID}
	switch m.Kind {
	case docstore.MutationDelete:
		_, err := coll.DeleteOne(ctx, byID)
		return errors.Wrapf(err, "deleting %s/%s", m.Collection, m.ID)

	case docstore.MutationSet:
		doc, err := docstore.Apply(nil, m, now)
		if err != nil {
			return err
		}
		_, err = coll.ReplaceOne(ctx, byID, bson.M(doc), options.Replace().SetUpsert(true))
		return errors.Wrapf(err, "setting %s/%s", m.Collection, m.ID)

	case docstore.MutationMerge, docstore.MutationUpdate:
		update := updateDoc(m.Data, now)
		if len(update) == 0 {
			update = bson.M{"$setOnInsert": bson.M{"_id": m.ID}}
		}
		upsert := m.Kind == docstore.MutationMerge
		res, err := coll.UpdateOne(ctx, byID, update, options.Update().SetUpsert(upsert))
		if err != nil {
			return errors.Wrapf(err, "updating %s/%s", m.Collection, m.ID)
		}
		if !upsert && res.MatchedCount == 0 {
			return errors.Wrapf(docstore.ErrNotFound, "updating %s/%s", m.Collection, m.ID)
		}
		return nil

	case docstore.MutationCheck:
		// a concurrent write to the checked document aborts the transaction with a write conflict
		// as long as the batch also writes it
		var raw bson.M
		if err := coll.FindOne(ctx, byID).Decode(&raw); err != nil {
			if errors.Cause(err) == mongo.ErrNoDocuments {
				return errors.Wrapf(docstore.ErrNotFound, "checking %s/%s", m.Collection, m.ID)
			}
			return errors.Wrapf(err, "checking %s/%s", m.Collection, m.ID)
		}
		_, err := docstore.Apply(snapshot(m.Collection, raw).Data, m, now)
		return err
	}
	return errors.Errorf("unknown mutation kind %q", m.Kind)
}

// watch feeds the hub from a database-wide change stream until the Store is closed.
func (s *Store) watch() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.t.Dying()
		cancel()
	}()
	pipeline := mongo.Pipeline{{{Key: "$project", Value: bson.M{"ns": 1}}}}
	stream, err := s.db.Watch(ctx, pipeline)
	if err != nil {
		s.logger.Error("opening change stream", err)
		return err
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var event struct {
			NS struct {
				Coll string `bson:"coll"`
			} `bson:"ns"`
		}
		if err := stream.Decode(&event); err != nil {
			s.logger.Warn("decoding change event", err)
			continue
		}
		if event.NS.Coll != "" {
			s.hub.Notify(event.NS.Coll)
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		s.logger.Error("change stream", err)
		return err
	}
	return nil
}

// updateDoc translates merge fields into update operators.
func updateDoc(fields docstore.Data, now time.Time) bson.M {
	set := bson.M{}
	inc := bson.M{}
	addToSet := bson.M{}
	pull := bson.M{}
	for field, value := range fields {
		if docstore.IsServerTimestamp(value) {
			set[field] = now.UTC().Format(docstore.TimeLayout)
		} else if n, ok := docstore.IncrementOf(value); ok {
			inc[field] = float64(n)
		} else if vals, ok := docstore.ArrayUnionOf(value); ok {
			addToSet[field] = bson.M{"$each": normalized(vals)}
		} else if vals, ok := docstore.ArrayRemoveOf(value); ok {
			pull[field] = bson.M{"$in": normalized(vals)}
		} else {
			set[field] = docstore.Normalize(value)
		}
	}
	update := bson.M{}
	for op, fields := range map[string]bson.M{"$set": set, "$inc": inc, "$addToSet": addToSet, "$pull": pull} {
		if len(fields) > 0 {
			update[op] = fields
		}
	}
	return update
}

func filterDoc(filters []docstore.Filter) bson.M {
	filter := bson.M{}
	conds := make([]bson.M, 0, len(filters))
	for _, f := range filters {
		var cond bson.M
		switch f.Op {
		case docstore.OpIn:
			vals, _ := docstore.Normalize(f.Value).([]interface{})
			if vals == nil {
				vals = []interface{}{}
			}
			cond = bson.M{f.Field: bson.M{"$in": vals}}
		default: // equality also matches array elements, which is array-contains
			cond = bson.M{f.Field: docstore.Normalize(f.Value)}
		}
		conds = append(conds, cond)
	}
	switch len(conds) {
	case 0:
	case 1:
		filter = conds[0]
	default:
		filter["$and"] = conds
	}
	return filter
}

func normalized(vals []interface{}) []interface{} {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = docstore.Normalize(v)
	}
	return out
}

func snapshot(coll string, raw bson.M) *docstore.Snapshot {
	id, _ := raw["_id"].(string)
	delete(raw, "_id")
	data, _ := fromBSON(raw).(map[string]interface{})
	return &docstore.Snapshot{Collection: coll, ID: id, Data: docstore.Data(data)}
}

// fromBSON converts decoded BSON values to the JSON-like values documents carry.
func fromBSON(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(val))
		for k, x := range val {
			out[k] = fromBSON(x)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(val))
		for i, x := range val {
			out[i] = fromBSON(x)
		}
		return out
	case []interface{}:
		return fromBSON(bson.A(val))
	case map[string]interface{}:
		return fromBSON(bson.M(val))
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case primitive.DateTime:
		return val.Time().UTC().Format(docstore.TimeLayout)
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Null, primitive.Undefined:
		return nil
	}
	return v
}
