// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package proc

import (
	"context"

	"github.com/google/uuid"
	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/planner"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
	"github.com/molecula/relstore/tracing"
)

// QueryTask runs one or more queries that commit together. It is read-only
// when every query is a SELECT.
type QueryTask struct {
	env     *Env
	id      uuid.UUID
	queries []query.Context
	scope   []*schema.Table
	typ     backstore.TxType

	stats   *backstore.TxStats
	changed []string
}

// NewQueryTask returns a task running queries in order. Every query must
// be bound.
func NewQueryTask(env *Env, queries ...query.Context) *QueryTask {
	typ := backstore.ReadOnly
	for _, q := range queries {
		if !query.IsReadOnly(q) {
			typ = backstore.ReadWrite
		}
	}
	return &QueryTask{
		env:     env,
		id:      uuid.New(),
		queries: queries,
		scope:   query.ScopeOf(queries...),
		typ:     typ,
	}
}

func (t *QueryTask) ID() uuid.UUID           { return t.id }
func (t *QueryTask) Type() backstore.TxType  { return t.typ }
func (t *QueryTask) Scope() []*schema.Table  { return t.scope }
func (t *QueryTask) Priority() Priority      { return UserQueryPriority }
func (t *QueryTask) changedTables() []string { return t.changed }

// Stats returns the statistics of the commit, or nil before it.
func (t *QueryTask) Stats() *backstore.TxStats { return t.stats }

// Exec runs every query against one journal, checks the deferred
// constraints and commits. On failure every change is rolled back.
func (t *QueryTask) Exec(ctx context.Context) (results []*relation.Relation, err error) {
	var j *cache.Journal
	if t.typ == backstore.ReadWrite {
		j = cache.NewJournal(t.env.Cache, t.scope)
	}
	tx, err := t.env.Store.CreateTx(t.typ, t.scope, j)
	if err != nil {
		return nil, errors.Wrap(err, "creating store transaction")
	}
	defer func() {
		if err == nil {
			return
		}
		tx.Abort()
		if j != nil {
			if rerr := j.Rollback(); rerr != nil {
				t.env.logger().Errorf("rolling back task %s: %v", t.id, rerr)
			}
		}
		t.stats = &backstore.TxStats{}
	}()

	ec := &planner.ExecContext{Env: t.env.Cache, Journal: j}
	results = make([]*relation.Relation, 0, len(t.queries))
	for _, q := range t.queries {
		rel, qerr := execQuery(ctx, t.env.Planner, ec, q)
		if qerr != nil {
			return nil, qerr
		}
		results = append(results, rel)
	}
	if j == nil {
		t.stats, err = commitReadOnly(ctx, tx)
		return results, err
	}
	if err = commitJournal(ctx, tx, j); err != nil {
		return nil, err
	}
	t.stats = tx.Stats()
	t.changed = tableNames(j.Diff())
	return results, nil
}

func execQuery(ctx context.Context, p *planner.Planner, ec *planner.ExecContext, q query.Context) (*relation.Relation, error) {
	if !q.IsBound() {
		return nil, errors.Newf(errors.ErrBinding, "%s query has unbound parameters", q.Kind())
	}
	plan, err := p.Plan(q)
	if err != nil {
		return nil, err
	}
	return plan.Exec(ctx, ec)
}

func commitReadOnly(ctx context.Context, tx backstore.Tx) (*backstore.TxStats, error) {
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "closing read-only transaction")
	}
	return tx.Stats(), nil
}

// commitJournal validates the deferred constraints of j and writes it
// through tx. The journal is finished once the store has it.
func commitJournal(ctx context.Context, tx backstore.Tx, j *cache.Journal) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "proc.Commit")
	defer span.Finish()

	if err := j.CheckDeferredConstraints(); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "committing")
	}
	j.Finish()
	recordCommit(tx.Stats())
	return nil
}
