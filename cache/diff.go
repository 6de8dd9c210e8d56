// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/molecula/relstore/schema"
)

// Modification is a row before and after a change. Before is nil for an
// insertion and After is nil for a deletion.
type Modification struct {
	Before *schema.Row
	After  *schema.Row
}

// ID returns the id of the modified row.
func (m Modification) ID() schema.RowID {
	if m.Before != nil {
		return m.Before.ID()
	}
	return m.After.ID()
}

// Reverse returns the modification undoing m.
func (m Modification) Reverse() Modification {
	return Modification{Before: m.After, After: m.Before}
}

// TableDiff is the net change to one table. A row id is in at most one of
// the added, modified and deleted sets.
type TableDiff struct {
	table    string
	added    map[schema.RowID]*schema.Row
	modified map[schema.RowID]Modification
	deleted  map[schema.RowID]*schema.Row
}

// NewTableDiff returns an empty diff for table.
func NewTableDiff(table string) *TableDiff {
	return &TableDiff{
		table:    table,
		added:    make(map[schema.RowID]*schema.Row),
		modified: make(map[schema.RowID]Modification),
		deleted:  make(map[schema.RowID]*schema.Row),
	}
}

func (d *TableDiff) Table() string { return d.table }

// Add records an insertion. Deleting and then inserting the same id is a
// modification.
func (d *TableDiff) Add(row *schema.Row) {
	id := row.ID()
	if before, ok := d.deleted[id]; ok {
		delete(d.deleted, id)
		d.modified[id] = Modification{Before: before, After: row}
		return
	}
	d.added[id] = row
}

// Modify records an update.
func (d *TableDiff) Modify(m Modification) {
	id := m.ID()
	if _, ok := d.added[id]; ok {
		d.added[id] = m.After
		return
	}
	if prev, ok := d.modified[id]; ok {
		d.modified[id] = Modification{Before: prev.Before, After: m.After}
		return
	}
	d.modified[id] = m
}

// Delete records a deletion. Inserting and then deleting the same id
// cancels out.
func (d *TableDiff) Delete(row *schema.Row) {
	id := row.ID()
	if _, ok := d.added[id]; ok {
		delete(d.added, id)
		return
	}
	if prev, ok := d.modified[id]; ok {
		delete(d.modified, id)
		d.deleted[id] = prev.Before
		return
	}
	d.deleted[id] = row
}

// Apply records m as an insertion, a modification or a deletion.
func (d *TableDiff) Apply(m Modification) {
	switch {
	case m.Before == nil:
		d.Add(m.After)
	case m.After == nil:
		d.Delete(m.Before)
	default:
		d.Modify(m)
	}
}

// Merge folds other, a later diff of the same table, into d.
func (d *TableDiff) Merge(other *TableDiff) {
	for _, m := range other.AsModifications() {
		d.Apply(m)
	}
}

func sortedIDs[V any](m map[schema.RowID]V) []schema.RowID {
	ids := maps.Keys(m)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Added returns the inserted rows in ascending id order.
func (d *TableDiff) Added() []*schema.Row {
	out := make([]*schema.Row, 0, len(d.added))
	for _, id := range sortedIDs(d.added) {
		out = append(out, d.added[id])
	}
	return out
}

// Modified returns the modifications in ascending id order.
func (d *TableDiff) Modified() []Modification {
	out := make([]Modification, 0, len(d.modified))
	for _, id := range sortedIDs(d.modified) {
		out = append(out, d.modified[id])
	}
	return out
}

// Deleted returns the deleted rows, as they were before the deletion, in
// ascending id order.
func (d *TableDiff) Deleted() []*schema.Row {
	out := make([]*schema.Row, 0, len(d.deleted))
	for _, id := range sortedIDs(d.deleted) {
		out = append(out, d.deleted[id])
	}
	return out
}

// AsModifications returns every change as a Modification: insertions, then
// updates, then deletions.
func (d *TableDiff) AsModifications() []Modification {
	var out []Modification
	for _, r := range d.Added() {
		out = append(out, Modification{After: r})
	}
	out = append(out, d.Modified()...)
	for _, r := range d.Deleted() {
		out = append(out, Modification{Before: r})
	}
	return out
}

// Reverse returns the diff undoing d.
func (d *TableDiff) Reverse() *TableDiff {
	r := NewTableDiff(d.table)
	for id, row := range d.added {
		r.deleted[id] = row
	}
	for id, m := range d.modified {
		r.modified[id] = m.Reverse()
	}
	for id, row := range d.deleted {
		r.added[id] = row
	}
	return r
}

func (d *TableDiff) IsEmpty() bool {
	return len(d.added) == 0 && len(d.modified) == 0 && len(d.deleted) == 0
}

// Counts returns the number of inserted, updated and deleted rows.
func (d *TableDiff) Counts() (added, modified, deleted int) {
	return len(d.added), len(d.modified), len(d.deleted)
}

func (d *TableDiff) String() string {
	return fmt.Sprintf("%s: added %v, modified %v, deleted %v",
		d.table, sortedIDs(d.added), sortedIDs(d.modified), sortedIDs(d.deleted))
}
