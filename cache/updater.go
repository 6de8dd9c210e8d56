// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
)

// InMemoryUpdater applies modifications to the indices and the cache of an
// Env.
type InMemoryUpdater struct {
	env *Env
}

// NewInMemoryUpdater returns an updater for env.
func NewInMemoryUpdater(env *Env) *InMemoryUpdater {
	return &InMemoryUpdater{env: env}
}

type tableIndex struct {
	schema *schema.IndexSchema // nil for the row id index
	index  index.Index
}

func (t tableIndex) key(r *schema.Row) index.Key {
	if t.schema == nil {
		return r.ID()
	}
	return r.KeyOfIndex(t.schema)
}

func (u *InMemoryUpdater) tableIndices(t *schema.Table) []tableIndex {
	out := []tableIndex{{index: u.env.RowIDIndex(t)}}
	for _, is := range t.Indices() {
		out = append(out, tableIndex{schema: is, index: u.env.Index(is)})
	}
	return out
}

// UpdateTableIndicesForRow applies m to every index of t. If an index
// rejects the change, indices already updated are restored and the error
// is returned, leaving every index as it was.
func (u *InMemoryUpdater) UpdateTableIndicesForRow(t *schema.Table, m Modification) error {
	indices := u.tableIndices(t)
	for i, ti := range indices {
		if err := updateIndexForRow(ti, m); err != nil {
			for _, done := range indices[:i] {
				// Reverting a change that was just applied cannot collide.
				_ = updateIndexForRow(done, m.Reverse())
			}
			return err
		}
	}
	return nil
}

// updateIndexForRow removes the before key and adds the after key. A failed
// add puts the before key back.
func updateIndexForRow(ti tableIndex, m Modification) error {
	var before, after index.Key
	if m.Before != nil {
		before = ti.key(m.Before)
	}
	if m.After != nil {
		after = ti.key(m.After)
	}
	if m.Before != nil && m.After != nil && m.Before.ID() == m.After.ID() && index.KeysEqual(before, after) {
		return nil
	}
	if m.Before != nil {
		ti.index.Remove(before, m.Before.ID())
	}
	if m.After != nil {
		if err := ti.index.Add(after, m.After.ID()); err != nil {
			if m.Before != nil {
				_ = ti.index.Add(before, m.Before.ID())
			}
			return err
		}
	}
	return nil
}

// UpdateCache applies m to the cache.
func (u *InMemoryUpdater) UpdateCache(t *schema.Table, m Modification) {
	if m.After == nil {
		u.env.Cache.Remove(t.Name(), m.Before.ID())
		return
	}
	u.env.Cache.Set(t.Name(), m.After)
}

// ApplyDiffs applies whole table diffs to the indices and the cache. Keys
// are removed from every index before any is added, so diffs that swap
// unique keys between rows apply cleanly.
func (u *InMemoryUpdater) ApplyDiffs(diffs []*TableDiff) error {
	type change struct {
		table *schema.Table
		m     Modification
	}
	var changes []change
	for _, d := range diffs {
		t := u.env.DB.Table(d.Table())
		if t == nil {
			return errors.Newf(errors.ErrNotFound, "table %s", d.Table())
		}
		for _, m := range d.AsModifications() {
			changes = append(changes, change{table: t, m: m})
		}
	}
	for _, c := range changes {
		if c.m.Before == nil {
			continue
		}
		for _, ti := range u.tableIndices(c.table) {
			ti.index.Remove(ti.key(c.m.Before), c.m.Before.ID())
		}
	}
	var firstErr error
	for _, c := range changes {
		if c.m.After != nil {
			for _, ti := range u.tableIndices(c.table) {
				if err := ti.index.Add(ti.key(c.m.After), c.m.After.ID()); err != nil && firstErr == nil {
					firstErr = errors.Wrapf(err, "applying diff to %s", c.table.Name())
				}
			}
		}
		u.UpdateCache(c.table, c.m)
	}
	return firstErr
}
