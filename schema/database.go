// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package schema describes databases: tables, columns, indices and foreign
// keys, together with the rows stored in them.
package schema

import (
	"sort"
)

// Database is an immutable set of tables sharing one row id allocator.
type Database struct {
	name   string
	tables []*Table
	byName map[string]*Table
	alloc  *Allocator
	info   *Info
}

func (d *Database) Name() string          { return d.name }
func (d *Database) Tables() []*Table      { return d.tables }
func (d *Database) Allocator() *Allocator { return d.alloc }
func (d *Database) Info() *Info           { return d.info }

// Table returns the table with the given name, or nil.
func (d *Database) Table(name string) *Table {
	return d.byName[name]
}

// Info answers questions about the relationships between tables.
type Info struct {
	db *Database
	// referencing maps a parent table to the foreign keys pointing at it.
	referencing map[string][]*ForeignKey
}

func newInfo(db *Database) *Info {
	info := &Info{db: db, referencing: make(map[string][]*ForeignKey)}
	for _, t := range db.tables {
		for _, fk := range t.fks {
			info.referencing[fk.ParentTable] = append(info.referencing[fk.ParentTable], fk)
		}
	}
	return info
}

// ReferencingForeignKeys returns the foreign keys whose parent is table,
// restricted to the given actions when any are passed.
func (i *Info) ReferencingForeignKeys(table string, actions ...ConstraintAction) []*ForeignKey {
	fks := i.referencing[table]
	if len(actions) == 0 {
		return fks
	}
	var out []*ForeignKey
	for _, fk := range fks {
		for _, a := range actions {
			if fk.Action == a {
				out = append(out, fk)
				break
			}
		}
	}
	return out
}

// ParentTables returns the tables that table references.
func (i *Info) ParentTables(table string) []*Table {
	t := i.db.Table(table)
	if t == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []*Table
	for _, fk := range t.fks {
		if !seen[fk.ParentTable] {
			seen[fk.ParentTable] = true
			out = append(out, i.db.Table(fk.ParentTable))
		}
	}
	return out
}

// ChildTables returns the tables referencing table directly.
func (i *Info) ChildTables(table string, actions ...ConstraintAction) []*Table {
	seen := make(map[string]bool)
	var out []*Table
	for _, fk := range i.ReferencingForeignKeys(table, actions...) {
		if !seen[fk.ChildTable] {
			seen[fk.ChildTable] = true
			out = append(out, i.db.Table(fk.ChildTable))
		}
	}
	return out
}

// DescendantTables returns every table reachable from table by following
// foreign keys downwards, in breadth-first order, table excluded.
func (i *Info) DescendantTables(table string, actions ...ConstraintAction) []*Table {
	seen := map[string]bool{table: true}
	var out []*Table
	queue := []string{table}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range i.ChildTables(cur, actions...) {
			if seen[c.name] {
				continue
			}
			seen[c.name] = true
			out = append(out, c)
			queue = append(queue, c.name)
		}
	}
	return out
}

// AncestorTables returns every table reachable from table by following
// foreign keys upwards, table excluded.
func (i *Info) AncestorTables(table string) []*Table {
	seen := map[string]bool{table: true}
	var out []*Table
	queue := []string{table}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range i.ParentTables(cur) {
			if seen[p.name] {
				continue
			}
			seen[p.name] = true
			out = append(out, p)
			queue = append(queue, p.name)
		}
	}
	return out
}

// WriteScope returns the tables a write to table may touch: table itself,
// its ancestors (checked by foreign keys) and its descendants (affected by
// cascades and restrict checks). Names are sorted.
func (i *Info) WriteScope(table string) []string {
	names := map[string]bool{table: true}
	for _, t := range i.AncestorTables(table) {
		names[t.name] = true
	}
	for _, t := range i.DescendantTables(table) {
		names[t.name] = true
		for _, p := range i.ParentTables(t.name) {
			names[p.name] = true
		}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder returns names sorted so that every parent precedes its
// children. Names absent from the database are dropped.
func (i *Info) TopologicalOrder(names []string) []string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []string
	visited := make(map[string]bool)
	var visit func(n string)
	visit = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, p := range i.ParentTables(n) {
			visit(p.name)
		}
		if want[n] {
			out = append(out, n)
		}
	}
	for _, t := range i.db.tables {
		visit(t.name)
	}
	return out
}
