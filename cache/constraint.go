// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
)

// ConstraintChecker validates not-null and foreign key constraints against
// the live indices. Uniqueness is enforced by the indices themselves.
type ConstraintChecker struct {
	env *Env
}

// NewConstraintChecker returns a checker for env.
func NewConstraintChecker(env *Env) *ConstraintChecker {
	return &ConstraintChecker{env: env}
}

// CheckNotNullable fails if any row holds a null in a column of t that is
// not nullable.
func (c *ConstraintChecker) CheckNotNullable(t *schema.Table, rows []*schema.Row) error {
	for _, r := range rows {
		for _, col := range t.Columns() {
			if col.IsNullable() {
				continue
			}
			if r.Payload()[col.Name()] == nil {
				return errors.NewConstraintError(errors.NotNull, t.Name(), col.Name(), nil)
			}
		}
	}
	return nil
}

// FindExistingRowIDInPKIndex returns the id of the row of t that shares
// row's primary key.
func (c *ConstraintChecker) FindExistingRowIDInPKIndex(t *schema.Table, row *schema.Row) (schema.RowID, bool) {
	pk := t.PrimaryKey()
	if pk == nil {
		return 0, false
	}
	ids := c.env.Index(pk).Get(row.KeyOfIndex(pk))
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

func fkKey(t *schema.Table, column string, r *schema.Row) index.Key {
	return schema.NormalizeKey(t.Col(column).Type(), r.Payload()[column])
}

func matchTiming(fk *schema.ForeignKey, timing schema.ConstraintTiming) bool {
	return fk.Timing == timing
}

func violation(fk *schema.ForeignKey, kind errors.ConstraintKind, table string, key index.Key, timing schema.ConstraintTiming) error {
	err := errors.NewConstraintError(kind, table, fk.Name, key)
	var ce *errors.ConstraintError
	if errors.As(err, &ce) {
		ce.Deferred = timing == schema.Deferrable
	}
	return err
}

// checkReferredKeys fails if a foreign key value of a row of t has no
// parent row.
func (c *ConstraintChecker) checkReferredKeys(t *schema.Table, rows []*schema.Row, timing schema.ConstraintTiming) error {
	for _, fk := range t.ForeignKeys() {
		if !matchTiming(fk, timing) {
			continue
		}
		parent := c.env.Indices.Get(fk.ParentIndex)
		for _, r := range rows {
			key := fkKey(t, fk.ChildColumn, r)
			if key == nil {
				continue
			}
			if !parent.ContainsKey(key) {
				return violation(fk, errors.ForeignKey, t.Name(), key, timing)
			}
		}
	}
	return nil
}

// checkReferringKeys fails if rows of a RESTRICT child still reference a
// parent key that the modifications remove. Child rows listed in exempt are
// about to be removed too and do not count.
func (c *ConstraintChecker) checkReferringKeys(t *schema.Table, mods []Modification, timing schema.ConstraintTiming, exempt map[schema.RowID]bool) error {
	for _, fk := range c.env.DB.Info().ReferencingForeignKeys(t.Name(), schema.Restrict) {
		if !matchTiming(fk, timing) {
			continue
		}
		child := c.env.Indices.Get(fk.ChildIndex)
		parent := c.env.Indices.Get(fk.ParentIndex)
		for _, m := range mods {
			if m.Before == nil {
				continue
			}
			key := fkKey(t, fk.ParentColumn, m.Before)
			if key == nil {
				continue
			}
			if m.After != nil && index.KeysEqual(key, fkKey(t, fk.ParentColumn, m.After)) {
				continue
			}
			// A deferred check runs after the change: a key that was
			// reinstated by a later statement is still referable.
			if timing == schema.Deferrable && parent.ContainsKey(key) {
				continue
			}
			for _, id := range child.Get(key) {
				if !exempt[id] {
					return violation(fk, errors.Restrict, t.Name(), key, timing)
				}
			}
		}
	}
	return nil
}

// CheckForeignKeysForInsert checks the foreign keys of t with the given
// timing for inserted rows.
func (c *ConstraintChecker) CheckForeignKeysForInsert(t *schema.Table, rows []*schema.Row, timing schema.ConstraintTiming) error {
	return c.checkReferredKeys(t, rows, timing)
}

// CheckForeignKeysForUpdate checks that updated rows still reference
// existing parents and that no RESTRICT child loses its parent.
func (c *ConstraintChecker) CheckForeignKeysForUpdate(t *schema.Table, mods []Modification, timing schema.ConstraintTiming) error {
	after := make([]*schema.Row, 0, len(mods))
	for _, m := range mods {
		after = append(after, m.After)
	}
	if err := c.checkReferredKeys(t, after, timing); err != nil {
		return errors.WithMessagef(err, "updating %s", t.Name())
	}
	return c.checkReferringKeys(t, mods, timing, nil)
}

// CheckForeignKeysForDelete checks that no RESTRICT child references a
// deleted row.
func (c *ConstraintChecker) CheckForeignKeysForDelete(t *schema.Table, rows []*schema.Row, timing schema.ConstraintTiming) error {
	return c.checkReferringKeys(t, deletions(rows), timing, nil)
}

func deletions(rows []*schema.Row) []Modification {
	mods := make([]Modification, len(rows))
	for i, r := range rows {
		mods[i] = Modification{Before: r}
	}
	return mods
}

// CascadeDeletion lists the rows a delete reaches through CASCADE foreign
// keys, per table, with tables ordered parents first.
type CascadeDeletion struct {
	TableOrder []string
	RowIDs     map[string][]schema.RowID
}

// DetectCascadeDeletion follows CASCADE foreign keys from the rows deleted
// from t.
func (c *ConstraintChecker) DetectCascadeDeletion(t *schema.Table, rows []*schema.Row) *CascadeDeletion {
	info := c.env.DB.Info()
	out := &CascadeDeletion{RowIDs: make(map[string][]schema.RowID)}
	seen := make(map[schema.RowID]bool)
	type item struct {
		table *schema.Table
		rows  []*schema.Row
	}
	queue := []item{{table: t, rows: rows}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, fk := range info.ReferencingForeignKeys(cur.table.Name(), schema.Cascade) {
			child := c.env.DB.Table(fk.ChildTable)
			childIdx := c.env.Indices.Get(fk.ChildIndex)
			var found []schema.RowID
			for _, r := range cur.rows {
				key := fkKey(cur.table, fk.ParentColumn, r)
				if key == nil {
					continue
				}
				for _, id := range childIdx.Get(key) {
					if !seen[id] {
						seen[id] = true
						found = append(found, id)
					}
				}
			}
			if len(found) == 0 {
				continue
			}
			out.RowIDs[child.Name()] = append(out.RowIDs[child.Name()], found...)
			queue = append(queue, item{table: child, rows: c.env.Cache.GetMany(found)})
		}
	}
	names := make([]string, 0, len(out.RowIDs))
	for n := range out.RowIDs {
		names = append(names, n)
	}
	out.TableOrder = info.TopologicalOrder(names)
	return out
}

// DetectCascadeUpdates follows CASCADE foreign keys from modifications of
// t whose parent key changed, and returns the resulting modifications of
// child rows per table. Child modifications cascade further.
func (c *ConstraintChecker) DetectCascadeUpdates(t *schema.Table, mods []Modification) map[string][]Modification {
	info := c.env.DB.Info()
	out := make(map[string][]Modification)
	pending := make(map[schema.RowID]*schema.Row)
	type item struct {
		table *schema.Table
		mods  []Modification
	}
	queue := []item{{table: t, mods: mods}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, fk := range info.ReferencingForeignKeys(cur.table.Name(), schema.Cascade) {
			child := c.env.DB.Table(fk.ChildTable)
			childIdx := c.env.Indices.Get(fk.ChildIndex)
			var childMods []Modification
			for _, m := range cur.mods {
				oldKey := fkKey(cur.table, fk.ParentColumn, m.Before)
				newVal := m.After.Payload()[fk.ParentColumn]
				if oldKey == nil || index.KeysEqual(oldKey, fkKey(cur.table, fk.ParentColumn, m.After)) {
					continue
				}
				for _, id := range childIdx.Get(oldKey) {
					before := c.env.Cache.Get(id)
					if before == nil {
						continue
					}
					base := before
					if p, ok := pending[id]; ok {
						base = p
					}
					after := base.Copy()
					after.Payload()[fk.ChildColumn] = newVal
					pending[id] = after
					childMods = append(childMods, Modification{Before: before, After: after})
				}
			}
			if len(childMods) == 0 {
				continue
			}
			out[child.Name()] = append(out[child.Name()], childMods...)
			queue = append(queue, item{table: child, mods: childMods})
		}
	}
	// A row reached through several paths keeps only its final version.
	for name, list := range out {
		final := make([]Modification, 0, len(list))
		seen := make(map[schema.RowID]bool)
		for i := len(list) - 1; i >= 0; i-- {
			id := list[i].ID()
			if seen[id] {
				continue
			}
			seen[id] = true
			final = append(final, Modification{Before: list[i].Before, After: pending[id]})
		}
		for i, j := 0, len(final)-1; i < j; i, j = i+1, j-1 {
			final[i], final[j] = final[j], final[i]
		}
		out[name] = final
	}
	return out
}
