// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package proc

import (
	"context"

	"github.com/google/uuid"
	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/planner"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// ObserverQueryTask re-evaluates observed queries and hands their results
// to the observer registry.
type ObserverQueryTask struct {
	env     *Env
	id      uuid.UUID
	queries []query.Context
	scope   []*schema.Table
}

// NewObserverQueryTask returns a task re-evaluating queries.
func NewObserverQueryTask(env *Env, queries []query.Context) *ObserverQueryTask {
	return &ObserverQueryTask{env: env, id: uuid.New(), queries: queries, scope: query.ScopeOf(queries...)}
}

func (t *ObserverQueryTask) ID() uuid.UUID          { return t.id }
func (t *ObserverQueryTask) Type() backstore.TxType { return backstore.ReadOnly }
func (t *ObserverQueryTask) Scope() []*schema.Table { return t.scope }
func (t *ObserverQueryTask) Priority() Priority     { return ObserverQueryPriority }

// Exec runs every query still observed. Callbacks are invoked from here.
func (t *ObserverQueryTask) Exec(ctx context.Context) ([]*relation.Relation, error) {
	ec := &planner.ExecContext{Env: t.env.Cache}
	results := make([]*relation.Relation, 0, len(t.queries))
	for _, q := range t.queries {
		if t.env.Observers != nil && !t.env.Observers.IsObserved(q) {
			continue
		}
		rel, err := execQuery(ctx, t.env.Planner, ec, q)
		if err != nil {
			return nil, err
		}
		results = append(results, rel)
		if t.env.Observers != nil {
			t.env.Observers.Update(q, rel)
		}
	}
	return results, nil
}

// ExternalChangeTask applies changes committed to the store through another
// handle to the in-memory indices and cache.
type ExternalChangeTask struct {
	env   *Env
	id    uuid.UUID
	diffs []*cache.TableDiff
	scope []*schema.Table
}

// NewExternalChangeTask returns a task applying diffs. Diffs of unknown
// tables are dropped.
func NewExternalChangeTask(env *Env, diffs []*cache.TableDiff) *ExternalChangeTask {
	db := env.Cache.DB
	t := &ExternalChangeTask{env: env, id: uuid.New()}
	for _, d := range diffs {
		table := db.Table(d.Table())
		if table == nil {
			env.logger().Warnf("external change to unknown table %s", d.Table())
			continue
		}
		t.diffs = append(t.diffs, d)
		t.scope = append(t.scope, table)
	}
	return t
}

func (t *ExternalChangeTask) ID() uuid.UUID           { return t.id }
func (t *ExternalChangeTask) Type() backstore.TxType  { return backstore.ReadWrite }
func (t *ExternalChangeTask) Scope() []*schema.Table  { return t.scope }
func (t *ExternalChangeTask) Priority() Priority      { return ExternalChangePriority }
func (t *ExternalChangeTask) changedTables() []string { return tableNames(t.diffs) }

// Exec applies the diffs. Row ids seen in them are reserved so local
// inserts never reuse them.
func (t *ExternalChangeTask) Exec(ctx context.Context) ([]*relation.Relation, error) {
	var maxID schema.RowID
	for _, d := range t.diffs {
		for _, m := range d.AsModifications() {
			if id := m.ID(); id > maxID {
				maxID = id
			}
		}
	}
	t.env.Cache.DB.Allocator().Reserve(maxID)
	if err := cache.NewInMemoryUpdater(t.env.Cache).ApplyDiffs(t.diffs); err != nil {
		return nil, err
	}
	t.env.logger().Debugf("applied external change to %v", tableNames(t.diffs))
	return nil, nil
}
