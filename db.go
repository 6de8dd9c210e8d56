// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package relstore is an embedded relational store. A DB keeps every row
// of its tables in memory, indexed as the schema says, runs queries built
// with its query builders through a scope-aware task runner, and writes
// committed changes through to a pluggable back store.
package relstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/backstore/memory"
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/observer"
	"github.com/molecula/relstore/planner"
	"github.com/molecula/relstore/proc"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
	"github.com/molecula/relstore/tracing"
	"golang.org/x/sync/errgroup"
)

// DB is an open database.
type DB struct {
	schema *schema.Database
	env    *proc.Env
	runner *proc.Runner
	store  backstore.BackStore
	logger logger.Logger

	mu     sync.Mutex
	closed bool
}

type dbOptions struct {
	store             backstore.BackStore
	logger            logger.Logger
	indexKind         index.Kind
	slowTaskThreshold time.Duration
}

// DBOption is a functional option type for Open.
type DBOption func(o *dbOptions) error

// OptDBStore sets the back store. The DB closes it on Close. Without this
// option rows live in a fresh memory store.
func OptDBStore(s backstore.BackStore) DBOption {
	return func(o *dbOptions) error {
		o.store = s
		return nil
	}
}

func OptDBLogger(l logger.Logger) DBOption {
	return func(o *dbOptions) error {
		o.logger = l
		return nil
	}
}

// OptDBIndexKind selects the tree behind every index.
func OptDBIndexKind(kind index.Kind) DBOption {
	return func(o *dbOptions) error {
		switch kind {
		case index.KindAATree, index.KindBTree:
		default:
			return errors.Newf(errors.ErrUnsupportedOperation, "unknown index kind %q", kind)
		}
		o.indexKind = kind
		return nil
	}
}

// OptDBSlowTaskThreshold logs the profile of every task running longer
// than d. Zero disables profiling.
func OptDBSlowTaskThreshold(d time.Duration) DBOption {
	return func(o *dbOptions) error {
		o.slowTaskThreshold = d
		return nil
	}
}

// Open prepares the store for db, loads every table into memory and
// returns the database ready for queries.
func Open(ctx context.Context, db *schema.Database, opts ...DBOption) (*DB, error) {
	o := &dbOptions{logger: logger.NopLogger, indexKind: index.KindAATree}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	if o.store == nil {
		o.store = memory.New(o.logger)
	}

	span, ctx := tracing.StartSpanFromContext(ctx, "relstore.Open")
	defer span.Finish()

	if err := o.store.Init(ctx, db); err != nil {
		return nil, errors.Wrap(err, "initializing store")
	}
	env, err := cache.NewEnv(db, o.indexKind)
	if err != nil {
		return nil, errors.Wrap(err, "creating indices")
	}

	start := time.Now()
	if err := load(ctx, o.store, env); err != nil {
		o.store.Close()
		return nil, errors.Wrap(err, "loading tables")
	}
	o.logger.Infof("opened %s: %d tables loaded in %s", db.Name(), len(db.Tables()), time.Since(start))

	penv := &proc.Env{
		Cache:     env,
		Store:     o.store,
		Planner:   planner.NewPlanner(env, o.logger),
		Observers: observer.NewRegistry(o.logger),
		Logger:    o.logger,
	}
	d := &DB{
		schema: db,
		env:    penv,
		runner: proc.NewRunner(penv, proc.OptRunnerSlowTaskThreshold(o.slowTaskThreshold)),
		store:  o.store,
		logger: o.logger,
	}
	o.store.Subscribe(func(diffs []*cache.TableDiff) {
		d.runner.Go(proc.NewExternalChangeTask(penv, diffs))
	})
	return d, nil
}

// load reads every table into the cache and fills its indices. Each table
// is loaded in its own read transaction.
func load(ctx context.Context, store backstore.BackStore, env *cache.Env) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range env.DB.Tables() {
		t := t
		eg.Go(func() error {
			if err := loadTable(ctx, store, env, t); err != nil {
				return errors.Wrapf(err, "table %s", t.Name())
			}
			return nil
		})
	}
	return eg.Wait()
}

func loadTable(ctx context.Context, store backstore.BackStore, env *cache.Env, t *schema.Table) error {
	tx, err := store.CreateTx(backstore.ReadOnly, []*schema.Table{t}, nil)
	if err != nil {
		return err
	}
	defer tx.Abort()

	tbl, err := tx.Table(t.Name(), t.DeserializeRow, backstore.DataTable)
	if err != nil {
		return err
	}
	rows, err := tbl.Get(ctx, nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var maxID schema.RowID
	for _, r := range rows {
		if r.ID() > maxID {
			maxID = r.ID()
		}
	}
	env.DB.Allocator().Reserve(maxID)
	env.Cache.Set(t.Name(), rows...)

	if !t.PersistentIndex() {
		return cache.PopulateTableIndices(env, t, rows)
	}
	if err := backstore.LoadIndex(ctx, tx, env.RowIDIndex(t)); err != nil {
		return err
	}
	for _, is := range t.Indices() {
		if err := backstore.LoadIndex(ctx, tx, env.Index(is)); err != nil {
			return err
		}
	}
	return nil
}

// Schema returns the schema the database was opened with.
func (db *DB) Schema() *schema.Database { return db.schema }

// RunnerStats returns the number of queued and running tasks.
func (db *DB) RunnerStats() proc.RunnerStats { return db.runner.Stats() }

// TableStats is the row count of one table.
type TableStats struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
}

// TableStats returns the row count of every table, read from the row id
// indices under a read lease.
func (db *DB) TableStats(ctx context.Context) ([]TableStats, error) {
	tables := db.schema.Tables()
	out := make([]TableStats, len(tables))
	err := db.read(ctx, tables, func() error {
		for i, t := range tables {
			out[i] = TableStats{Name: t.Name(), Rows: db.env.Cache.RowIDIndex(t).Stats().TotalRows}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops the runner and closes the back store. Transactions still
// holding a scope are not waited for.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if err := db.runner.Close(); err != nil {
		return errors.Wrap(err, "closing runner")
	}
	return errors.Wrap(db.store.Close(), "closing store")
}

func (db *DB) run(ctx context.Context, queries ...query.Context) (*proc.QueryTask, []*relation.Relation, error) {
	task := proc.NewQueryTask(db.env, queries...)
	results, err := db.runner.Run(ctx, task)
	return task, results, err
}

// read runs fn while holding a read lease over scope.
func (db *DB) read(ctx context.Context, scope []*schema.Table, fn func() error) error {
	_, err := db.runner.Run(ctx, &readTask{id: uuid.New(), scope: scope, fn: fn})
	return err
}

type readTask struct {
	id    uuid.UUID
	scope []*schema.Table
	fn    func() error
}

func (t *readTask) ID() uuid.UUID          { return t.id }
func (t *readTask) Type() backstore.TxType { return backstore.ReadOnly }
func (t *readTask) Scope() []*schema.Table { return t.scope }
func (t *readTask) Priority() proc.Priority {
	return proc.UserQueryPriority
}

func (t *readTask) Exec(ctx context.Context) ([]*relation.Relation, error) {
	return nil, t.fn()
}
