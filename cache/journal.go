// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"sort"

	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
)

// Journal stages the changes of one transaction. Every change is applied
// to the live indices and cache immediately and recorded in a per table
// diff, so the transaction reads its own writes and can be rolled back.
type Journal struct {
	env     *Env
	scope   map[string]*schema.Table
	checker *ConstraintChecker
	updater *InMemoryUpdater
	diffs   map[string]*TableDiff

	finished bool
}

// NewJournal returns a journal allowed to change the tables in scope.
func NewJournal(env *Env, scope []*schema.Table) *Journal {
	j := &Journal{
		env:     env,
		scope:   make(map[string]*schema.Table, len(scope)),
		checker: NewConstraintChecker(env),
		updater: NewInMemoryUpdater(env),
		diffs:   make(map[string]*TableDiff),
	}
	for _, t := range scope {
		j.scope[t.Name()] = t
	}
	return j
}

// Env returns the state the journal changes.
func (j *Journal) Env() *Env { return j.env }

// Scope returns the names of the tables in scope, sorted.
func (j *Journal) Scope() []string {
	out := make([]string, 0, len(j.scope))
	for n := range j.scope {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (j *Journal) checkWritable(tables ...string) error {
	if j.finished {
		return errors.New(errors.ErrInvalidTransactionState, "journal already committed or rolled back")
	}
	for _, t := range tables {
		if _, ok := j.scope[t]; !ok {
			return errors.Newf(errors.ErrScope, "table %s is outside the transaction scope", t)
		}
	}
	return nil
}

func (j *Journal) diff(table string) *TableDiff {
	d, ok := j.diffs[table]
	if !ok {
		d = NewTableDiff(table)
		j.diffs[table] = d
	}
	return d
}

// modifyRow applies m to the indices, the cache and the diff of t.
func (j *Journal) modifyRow(t *schema.Table, m Modification) error {
	if err := j.updater.UpdateTableIndicesForRow(t, m); err != nil {
		return errors.WithMessagef(err, "updating indices of %s", t.Name())
	}
	j.updater.UpdateCache(t, m)
	j.diff(t.Name()).Apply(m)
	return nil
}

func (j *Journal) modifyRows(t *schema.Table, mods []Modification) error {
	for _, m := range mods {
		if err := j.modifyRow(t, m); err != nil {
			return err
		}
	}
	return nil
}

// assignAutoIncrement gives rows without a key the next auto increment
// value of t.
func (j *Journal) assignAutoIncrement(t *schema.Table, rows []*schema.Row) {
	pk := t.PrimaryKey()
	if pk == nil || !pk.IsAutoIncrement() {
		return
	}
	col := pk.Columns[0].Column.Name()
	next := int64(1)
	if max, ok := index.ToRowID(j.env.Index(pk).Stats().MaxKeyEncountered); ok {
		next = max + 1
	}
	for _, r := range rows {
		v, _ := index.ToRowID(r.Payload()[col])
		if r.Payload()[col] == nil || v == 0 {
			r.Payload()[col] = next
			next++
		}
	}
}

// Insert adds rows to t.
func (j *Journal) Insert(t *schema.Table, rows []*schema.Row) error {
	if err := j.checkWritable(t.Name()); err != nil {
		return err
	}
	j.assignAutoIncrement(t, rows)
	if err := j.checker.CheckNotNullable(t, rows); err != nil {
		return err
	}
	if err := j.checker.CheckForeignKeysForInsert(t, rows, schema.Immediate); err != nil {
		return err
	}
	for _, r := range rows {
		if err := j.modifyRow(t, Modification{After: r}); err != nil {
			return err
		}
	}
	return nil
}

// InsertOrReplace adds rows to t. A row sharing the primary key of an
// existing row replaces it and takes over its id.
func (j *Journal) InsertOrReplace(t *schema.Table, rows []*schema.Row) error {
	if err := j.checkWritable(t.Name()); err != nil {
		return err
	}
	j.assignAutoIncrement(t, rows)
	if err := j.checker.CheckNotNullable(t, rows); err != nil {
		return err
	}
	for _, r := range rows {
		id, ok := j.checker.FindExistingRowIDInPKIndex(t, r)
		if !ok {
			if err := j.checker.CheckForeignKeysForInsert(t, []*schema.Row{r}, schema.Immediate); err != nil {
				return err
			}
			if err := j.modifyRow(t, Modification{After: r}); err != nil {
				return err
			}
			continue
		}
		r.AssignRowID(id)
		m := Modification{Before: j.env.Cache.Get(id), After: r}
		if err := j.checker.CheckForeignKeysForUpdate(t, []Modification{m}, schema.Immediate); err != nil {
			return err
		}
		if err := j.modifyRow(t, m); err != nil {
			return err
		}
	}
	return nil
}

// Update replaces rows of t by id. Key changes cascade to CASCADE children.
func (j *Journal) Update(t *schema.Table, rows []*schema.Row) error {
	if err := j.checkWritable(t.Name()); err != nil {
		return err
	}
	if err := j.checker.CheckNotNullable(t, rows); err != nil {
		return err
	}
	mods := make([]Modification, 0, len(rows))
	for _, r := range rows {
		before := j.env.Cache.Get(r.ID())
		if before == nil {
			return errors.Newf(errors.ErrNotFound, "row %d of %s", r.ID(), t.Name())
		}
		mods = append(mods, Modification{Before: before, After: r})
	}
	if err := j.checker.CheckForeignKeysForUpdate(t, mods, schema.Immediate); err != nil {
		return err
	}
	cascade := j.checker.DetectCascadeUpdates(t, mods)
	order := j.env.DB.Info().TopologicalOrder(keysOf(cascade))
	if err := j.checkWritable(order...); err != nil {
		return err
	}
	for _, name := range order {
		if err := j.checker.checkReferringKeys(j.env.DB.Table(name), cascade[name], schema.Immediate, nil); err != nil {
			return errors.WithMessagef(err, "cascading update to %s", name)
		}
	}
	if err := j.modifyRows(t, mods); err != nil {
		return err
	}
	for _, name := range order {
		if err := j.modifyRows(j.env.DB.Table(name), cascade[name]); err != nil {
			return errors.WithMessagef(err, "cascading update to %s", name)
		}
	}
	return nil
}

func keysOf(m map[string][]Modification) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Remove deletes rows from t together with the rows reached through
// CASCADE foreign keys. Every RESTRICT check runs before anything is
// removed, so a violation leaves every table unchanged.
func (j *Journal) Remove(t *schema.Table, rows []*schema.Row) error {
	if err := j.checkWritable(t.Name()); err != nil {
		return err
	}
	cascade := j.checker.DetectCascadeDeletion(t, rows)
	if err := j.checkWritable(cascade.TableOrder...); err != nil {
		return err
	}
	exempt := make(map[schema.RowID]bool)
	for _, r := range rows {
		exempt[r.ID()] = true
	}
	for _, ids := range cascade.RowIDs {
		for _, id := range ids {
			exempt[id] = true
		}
	}
	if err := j.checker.checkReferringKeys(t, deletions(rows), schema.Immediate, exempt); err != nil {
		return err
	}
	children := make(map[string][]*schema.Row, len(cascade.TableOrder))
	for _, name := range cascade.TableOrder {
		children[name] = j.env.Cache.GetMany(cascade.RowIDs[name])
		err := j.checker.checkReferringKeys(j.env.DB.Table(name), deletions(children[name]), schema.Immediate, exempt)
		if err != nil {
			return errors.WithMessagef(err, "cascading delete to %s", name)
		}
	}
	if err := j.modifyRows(t, deletions(rows)); err != nil {
		return err
	}
	for _, name := range cascade.TableOrder {
		if err := j.modifyRows(j.env.DB.Table(name), deletions(children[name])); err != nil {
			return errors.WithMessagef(err, "cascading delete to %s", name)
		}
	}
	return nil
}

// CheckDeferredConstraints validates every DEFERRABLE foreign key touched
// by the journal. It runs once, before commit.
func (j *Journal) CheckDeferredConstraints() error {
	for _, name := range j.tablesChanged() {
		t := j.env.DB.Table(name)
		d := j.diffs[name]
		if err := j.checker.CheckForeignKeysForInsert(t, d.Added(), schema.Deferrable); err != nil {
			return err
		}
		if err := j.checker.CheckForeignKeysForUpdate(t, d.Modified(), schema.Deferrable); err != nil {
			return err
		}
		if err := j.checker.CheckForeignKeysForDelete(t, d.Deleted(), schema.Deferrable); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) tablesChanged() []string {
	var out []string
	for name, d := range j.diffs {
		if !d.IsEmpty() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Diff returns the non-empty table diffs, sorted by table name.
func (j *Journal) Diff() []*TableDiff {
	names := j.tablesChanged()
	out := make([]*TableDiff, len(names))
	for i, n := range names {
		out[i] = j.diffs[n]
	}
	return out
}

// IndexDiff returns the indices of changed tables whose indices are
// persisted.
func (j *Journal) IndexDiff() []index.Index {
	var out []index.Index
	for _, name := range j.tablesChanged() {
		t := j.env.DB.Table(name)
		if !t.PersistentIndex() {
			continue
		}
		out = append(out, j.env.RowIDIndex(t))
		for _, is := range t.Indices() {
			out = append(out, j.env.Index(is))
		}
	}
	return out
}

// Finish marks the journal as committed. Later changes are rejected.
func (j *Journal) Finish() {
	j.finished = true
}

// Rollback undoes every change recorded by the journal.
func (j *Journal) Rollback() error {
	if j.finished {
		return errors.New(errors.ErrInvalidTransactionState, "journal already committed or rolled back")
	}
	j.finished = true
	diffs := j.Diff()
	reversed := make([]*TableDiff, len(diffs))
	for i, d := range diffs {
		reversed[i] = d.Reverse()
	}
	return j.updater.ApplyDiffs(reversed)
}
