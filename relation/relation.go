// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package relation holds the in-memory tuples produced while executing a
// plan, together with the predicates, evaluators and aggregators applied to
// them.
package relation

import (
	"sync/atomic"

	"github.com/molecula/relstore/schema"
)

var entryIDs int64

// Entry is one tuple of a Relation. Entries of a relation spanning several
// tables are prefixed: their payload nests one Payload per table under the
// table's effective name.
type Entry struct {
	id       int64
	Row      *schema.Row
	prefixed bool
}

// NewEntry wraps row.
func NewEntry(row *schema.Row, prefixed bool) *Entry {
	return &Entry{id: atomic.AddInt64(&entryIDs, 1), Row: row, prefixed: prefixed}
}

// ID identifies the entry itself, independent of its row.
func (e *Entry) ID() int64 { return e.id }

func (e *Entry) IsPrefixApplied() bool { return e.prefixed }

// GetField returns the value of col. An aliased value set by SetField takes
// precedence.
func (e *Entry) GetField(col Column) interface{} {
	p := e.Row.Payload()
	if a := col.Alias(); a != "" {
		if v, ok := p[a]; ok {
			return v
		}
	}
	if e.prefixed && col.TableName() != "" {
		nested, _ := p[col.TableName()].(schema.Payload)
		return nested[col.Name()]
	}
	return p[col.Name()]
}

// SetField stores v for col, under its alias if it has one.
func (e *Entry) SetField(col Column, v interface{}) {
	p := e.Row.Payload()
	if a := col.Alias(); a != "" {
		p[a] = v
		return
	}
	if e.prefixed && col.TableName() != "" {
		nested, ok := p[col.TableName()].(schema.Payload)
		if !ok {
			nested = schema.Payload{}
			p[col.TableName()] = nested
		}
		nested[col.Name()] = v
		return
	}
	p[col.Name()] = v
}

// CombineEntries joins two entries into a prefixed entry.
func CombineEntries(left *Entry, leftTables []string, right *Entry, rightTables []string) *Entry {
	p := schema.Payload{}
	merge := func(e *Entry, tables []string) {
		if e.prefixed {
			for k, v := range e.Row.Payload() {
				p[k] = v
			}
			return
		}
		p[tables[0]] = e.Row.Payload()
	}
	merge(left, leftTables)
	merge(right, rightTables)
	return NewEntry(schema.NewRow(schema.DummyID, p), true)
}

// Relation is an ordered sequence of entries over a set of tables, plus the
// aggregates computed over it.
type Relation struct {
	Entries      []*Entry
	tables       []string
	aggregations map[string]interface{}
}

// New returns a relation over tables.
func New(entries []*Entry, tables []string) *Relation {
	return &Relation{Entries: entries, tables: tables}
}

// Empty returns a relation without entries or tables.
func Empty() *Relation {
	return &Relation{}
}

// FromRows wraps rows of a single table, or of several tables when the rows
// carry prefixed payloads.
func FromRows(rows []*schema.Row, tables []string) *Relation {
	prefixed := len(tables) > 1
	entries := make([]*Entry, len(rows))
	for i, r := range rows {
		entries[i] = NewEntry(r, prefixed)
	}
	return New(entries, tables)
}

func (r *Relation) Tables() []string { return r.tables }

func (r *Relation) IsPrefixApplied() bool { return len(r.tables) > 1 }

// Len returns the number of entries.
func (r *Relation) Len() int { return len(r.Entries) }

// IsCompatible reports whether r and o span the same tables.
func (r *Relation) IsCompatible(o *Relation) bool {
	if len(r.tables) != len(o.tables) {
		return false
	}
	seen := make(map[string]bool, len(r.tables))
	for _, t := range r.tables {
		seen[t] = true
	}
	for _, t := range o.tables {
		if !seen[t] {
			return false
		}
	}
	return true
}

// Payloads returns the payload of each entry.
func (r *Relation) Payloads() []schema.Payload {
	out := make([]schema.Payload, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Row.Payload()
	}
	return out
}

// RowIDs returns the row id of each entry.
func (r *Relation) RowIDs() []schema.RowID {
	out := make([]schema.RowID, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Row.ID()
	}
	return out
}

// SetAggregationResult records the value of an aggregated column.
func (r *Relation) SetAggregationResult(col Column, v interface{}) {
	if r.aggregations == nil {
		r.aggregations = make(map[string]interface{})
	}
	r.aggregations[col.NormalizedName()] = v
}

// AggregationResult returns the recorded value of an aggregated column.
func (r *Relation) AggregationResult(col Column) (interface{}, bool) {
	v, ok := r.aggregations[col.NormalizedName()]
	return v, ok
}

func (r *Relation) HasAggregationResult(col Column) bool {
	_, ok := r.aggregations[col.NormalizedName()]
	return ok
}

// entryKey identifies an entry for set operations: its row id for single
// table entries, its own id for joined entries.
func entryKey(e *Entry) int64 {
	if e.prefixed {
		return e.id
	}
	return e.Row.ID()
}

// Union returns the entries present in any of rs, first occurrence first.
// The relations must be compatible.
func Union(rs []*Relation) *Relation {
	if len(rs) == 0 {
		return Empty()
	}
	seen := make(map[int64]bool)
	var entries []*Entry
	for _, r := range rs {
		for _, e := range r.Entries {
			k := entryKey(e)
			if seen[k] {
				continue
			}
			seen[k] = true
			entries = append(entries, e)
		}
	}
	return New(entries, rs[0].tables)
}

// Intersect returns the entries of rs[0] present in every other relation.
func Intersect(rs []*Relation) *Relation {
	if len(rs) == 0 {
		return Empty()
	}
	out := rs[0]
	for _, r := range rs[1:] {
		keep := make(map[int64]bool, len(r.Entries))
		for _, e := range r.Entries {
			keep[entryKey(e)] = true
		}
		var entries []*Entry
		for _, e := range out.Entries {
			if keep[entryKey(e)] {
				entries = append(entries, e)
			}
		}
		out = New(entries, out.tables)
	}
	return out
}
