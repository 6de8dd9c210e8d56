// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package schema

import (
	"github.com/molecula/relstore/index"
)

// Column is a table column. Columns obtained from an aliased table report
// the alias as their table name.
type Column struct {
	name     string
	typ      Type
	nullable bool
	unique   bool
	table    *Table
	alias    string
}

func (c *Column) Name() string     { return c.name }
func (c *Column) Type() Type       { return c.typ }
func (c *Column) IsNullable() bool { return c.nullable }
func (c *Column) IsUnique() bool   { return c.unique }
func (c *Column) Table() *Table    { return c.table }
func (c *Column) Alias() string    { return c.alias }

// TableName returns the effective name of the column's table.
func (c *Column) TableName() string { return c.table.EffectiveName() }

// NormalizedName returns "<table>.<column>" using the table alias if any.
func (c *Column) NormalizedName() string {
	return c.table.EffectiveName() + "." + c.name
}

func (c *Column) String() string { return c.NormalizedName() }

// As returns a copy of c that projects under alias.
func (c *Column) As(alias string) *Column {
	cp := *c
	cp.alias = alias
	return &cp
}

// Indices returns every index of the column's table that covers c.
func (c *Column) Indices() []*IndexSchema {
	var out []*IndexSchema
	for _, idx := range c.table.indices {
		for _, ic := range idx.Columns {
			if ic.Column.name == c.name {
				out = append(out, idx)
				break
			}
		}
	}
	return out
}

// Index returns the first index whose only column is c, or nil.
func (c *Column) Index() *IndexSchema {
	for _, idx := range c.table.indices {
		if len(idx.Columns) == 1 && idx.Columns[0].Column.name == c.name {
			return idx
		}
	}
	return nil
}

// Same reports whether c and o name the same column of the same (possibly
// aliased) table.
func (c *Column) Same(o *Column) bool {
	return o != nil && c.name == o.name && c.table.EffectiveName() == o.table.EffectiveName()
}

// IndexedColumn is one column of an index.
type IndexedColumn struct {
	Column        *Column
	Order         index.Order
	AutoIncrement bool
}

// IndexSchema describes an index over one or more columns of a table.
type IndexSchema struct {
	Name       string
	Table      string
	Columns    []IndexedColumn
	Unique     bool
	PrimaryKey bool
}

// NormalizedName returns "<table>.<index>".
func (i *IndexSchema) NormalizedName() string {
	return i.Table + "." + i.Name
}

// Orders returns the per-column sort orders.
func (i *IndexSchema) Orders() []index.Order {
	out := make([]index.Order, len(i.Columns))
	for j := range i.Columns {
		out[j] = i.Columns[j].Order
	}
	return out
}

// HasNullableColumn reports whether any indexed column accepts nulls.
func (i *IndexSchema) HasNullableColumn() bool {
	for _, ic := range i.Columns {
		if ic.Column.nullable {
			return true
		}
	}
	return false
}

// IsAutoIncrement reports whether the index is an auto-increment key.
func (i *IndexSchema) IsAutoIncrement() bool {
	return len(i.Columns) == 1 && i.Columns[0].AutoIncrement
}

// ConstraintAction is what happens to children when a parent row changes.
type ConstraintAction int

const (
	Restrict ConstraintAction = iota
	Cascade
)

func (a ConstraintAction) String() string {
	if a == Cascade {
		return "cascade"
	}
	return "restrict"
}

// ConstraintTiming is when a foreign key is checked.
type ConstraintTiming int

const (
	Immediate ConstraintTiming = iota
	Deferrable
)

// ForeignKey links a child column to a uniquely indexed parent column.
type ForeignKey struct {
	Name         string
	ChildTable   string
	ChildColumn  string
	ChildIndex   string
	ParentTable  string
	ParentColumn string
	ParentIndex  string
	Action       ConstraintAction
	Timing       ConstraintTiming
}

// NormalizedName returns "<child table>.<name>".
func (fk *ForeignKey) NormalizedName() string {
	return fk.ChildTable + "." + fk.Name
}

// Table describes a table. It is immutable once built.
type Table struct {
	name            string
	alias           string
	columns         []*Column
	byName          map[string]*Column
	indices         []*IndexSchema
	pk              *IndexSchema
	fks             []*ForeignKey
	persistentIndex bool
	alloc           *Allocator
	db              *Database
}

func (t *Table) Name() string { return t.name }

// Database returns the database t belongs to.
func (t *Table) Database() *Database { return t.db }

// EffectiveName returns the alias if the table is aliased, else the name.
func (t *Table) EffectiveName() string {
	if t.alias != "" {
		return t.alias
	}
	return t.name
}

func (t *Table) Alias() string                { return t.alias }
func (t *Table) Columns() []*Column           { return t.columns }
func (t *Table) Indices() []*IndexSchema      { return t.indices }
func (t *Table) PrimaryKey() *IndexSchema     { return t.pk }
func (t *Table) ForeignKeys() []*ForeignKey   { return t.fks }
func (t *Table) PersistentIndex() bool        { return t.persistentIndex }
func (t *Table) RowIDIndexName() string       { return t.name + ".#" }
func (t *Table) Col(name string) *Column      { return t.byName[name] }
func (t *Table) String() string               { return t.EffectiveName() }
func (t *Table) Index(name string) *IndexSchema {
	for _, idx := range t.indices {
		if idx.Name == name {
			return idx
		}
	}
	return nil
}

// As returns a view of t under alias. The view shares indices with t.
func (t *Table) As(alias string) *Table {
	cp := *t
	cp.alias = alias
	cp.columns = make([]*Column, len(t.columns))
	cp.byName = make(map[string]*Column, len(t.columns))
	for i, c := range t.columns {
		nc := *c
		nc.table = &cp
		nc.alias = ""
		cp.columns[i] = &nc
		cp.byName[nc.name] = &nc
	}
	return &cp
}

// CreateRow returns a new row with a fresh id. Values are coerced to the
// column types and missing columns are set to nil.
func (t *Table) CreateRow(p Payload) *Row {
	return NewRow(t.alloc.Next(), t.normalize(p))
}

// DeserializeRow rebuilds a stored row, keeping its id.
func (t *Table) DeserializeRow(id RowID, p Payload) *Row {
	return NewRow(id, t.normalize(p))
}

// NullRow returns a dummy row with every column set to nil, used to pad
// outer joins.
func (t *Table) NullRow() *Row {
	p := make(Payload, len(t.columns))
	for _, c := range t.columns {
		p[c.name] = nil
	}
	return NewRow(DummyID, p)
}

func (t *Table) normalize(p Payload) Payload {
	out := make(Payload, len(t.columns))
	for _, c := range t.columns {
		out[c.name] = ConvertValue(c.typ, p[c.name])
	}
	return out
}
