// Package sqldoc stores documents as JSON rows of a single table in Postgres (through pgx) or
// SQLite (through modernc). A batch is one SQL transaction: every touched row is read, the
// mutations are applied in Go, and the results are written back.
package sqldoc

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

var _ docstore.Store = (*Store)(nil)

var schema = map[string]string{
	DriverPostgres: `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		body       JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	DriverSQLite: `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		body       TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
}

type Store struct {
	db     *sqlx.DB
	driver string
	hub    *docstore.Hub
	logger core.Logger
	nowFn  func() time.Time
}

// Open connects with driver (DriverPostgres or DriverSQLite) and creates the documents table.
func Open(ctx context.Context, driver, dsn string, logger core.Logger) (*Store, error) {
	ddl, ok := schema[driver]
	if !ok {
		return nil, errors.Errorf("unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening document database")
	}
	if driver == DriverSQLite {
		// a single connection serializes the transactions of the file (or :memory:) database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pinging document database")
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating documents table")
	}
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Store{db: db, driver: driver, hub: docstore.NewHub(), logger: logger, nowFn: time.Now}, nil
}

// SetNow overrides the clock used for server timestamps.
func (s *Store) SetNow(fn func() time.Time) { s.nowFn = fn }

// DB exposes the underlying connection pool.
func (s *Store) DB() *sqlx.DB { return s.db }

type row struct {
	ID   string `db:"id"`
	Body string `db:"body"`
}

func (s *Store) Get(ctx context.Context, coll, id string) (*docstore.Snapshot, error) {
	var r row
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT id, body FROM documents WHERE collection = ? AND id = ?`), coll, id)
	if err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", coll, id)
		}
		return nil, errors.Wrapf(err, "getting %s/%s", coll, id)
	}
	data, err := docstore.Unmarshal([]byte(r.Body))
	if err != nil {
		return nil, err
	}
	return &docstore.Snapshot{Collection: coll, ID: r.ID, Data: data}, nil
}

// Query loads the collection and filters it in Go; the documents table carries no per-field indexes.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT id, body FROM documents WHERE collection = ? ORDER BY id`), q.Collection)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", q.Collection)
	}
	docs := make(map[string]docstore.Data, len(rows))
	for _, r := range rows {
		data, err := docstore.Unmarshal([]byte(r.Body))
		if err != nil {
			return nil, errors.Wrapf(err, "%s/%s", q.Collection, r.ID)
		}
		docs[r.ID] = data
	}
	return docstore.Select(docs, q), nil
}

func (s *Store) Batch() docstore.Batch {
	return docstore.NewBatch(s.commit)
}

// Subscribe delivers the writes committed through this Store only.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn func([]*docstore.Snapshot)) (docstore.Subscription, error) {
	return s.hub.Subscribe(ctx, s.Query, q, fn, func(q docstore.Query, err error) {
		s.logger.Error("refreshing live query", errors.Wrap(err, q.Collection))
	}), nil
}

func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

type docKey struct{ coll, id string }

func (s *Store) commit(ctx context.Context, mutations []docstore.Mutation) (retErr error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning batch")
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.nowFn()
	docs := make(map[docKey]docstore.Data)
	loaded := make(map[docKey]bool)
	written := make(map[docKey]bool)
	for _, m := range mutations {
		k := docKey{m.Collection, m.ID}
		if !loaded[k] {
			current, err := s.load(ctx, tx, k)
			if err != nil {
				return err
			}
			docs[k], loaded[k] = current, true
		}
		next, err := docstore.Apply(docs[k], m, now)
		if err != nil {
			return err
		}
		docs[k] = next
		if m.Kind != docstore.MutationCheck {
			written[k] = true
		}
	}

	keys := make([]docKey, 0, len(written))
	for k := range written {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].coll != keys[j].coll {
			return keys[i].coll < keys[j].coll
		}
		return keys[i].id < keys[j].id
	})
	for _, k := range keys {
		if err := s.store(ctx, tx, k, docs[k], now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing batch")
	}
	s.hub.Notify(docstore.Collections(mutations)...)
	return nil
}

func (s *Store) load(ctx context.Context, tx *sqlx.Tx, k docKey) (docstore.Data, error) {
	query := `SELECT id, body FROM documents WHERE collection = ? AND id = ?`
	if s.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	var r row
	err := tx.GetContext(ctx, &r, tx.Rebind(query), k.coll, k.id)
	switch {
	case errors.Cause(err) == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, errors.Wrapf(err, "loading %s/%s", k.coll, k.id)
	}
	return docstore.Unmarshal([]byte(r.Body))
}

func (s *Store) store(ctx context.Context, tx *sqlx.Tx, k docKey, data docstore.Data, now time.Time) error {
	if data == nil {
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`), k.coll, k.id)
		return errors.Wrapf(err, "deleting %s/%s", k.coll, k.id)
	}
	body, err := docstore.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "encoding %s/%s", k.coll, k.id)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(strings.TrimSpace(`
		INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`)),
		k.coll, k.id, string(body), now.UTC())
	return errors.Wrapf(err, "writing %s/%s", k.coll, k.id)
}
