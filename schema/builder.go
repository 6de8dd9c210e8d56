// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package schema

import (
	"strings"

	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
)

// IndexedCol names a column of an index under construction.
type IndexedCol struct {
	Name  string
	Order index.Order
}

// Asc and Desc are shorthands for building IndexedCol values.
func Asc(name string) IndexedCol  { return IndexedCol{Name: name, Order: index.Asc} }
func Desc(name string) IndexedCol { return IndexedCol{Name: name, Order: index.Desc} }

// FKSpec describes a foreign key under construction. Ref has the form
// "<parent table>.<parent column>".
type FKSpec struct {
	Local  string
	Ref    string
	Action ConstraintAction
	Timing ConstraintTiming
}

// Builder assembles a Database. Errors are collected and reported by Build.
type Builder struct {
	name   string
	tables []*TableBuilder
}

// NewBuilder returns a builder for a database named name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// CreateTable starts the definition of a table.
func (b *Builder) CreateTable(name string) *TableBuilder {
	tb := &TableBuilder{name: name, nullable: map[string]bool{}}
	b.tables = append(b.tables, tb)
	return tb
}

type columnSpec struct {
	name string
	typ  Type
}

type indexSpec struct {
	name    string
	cols    []IndexedCol
	unique  bool
	pk      bool
	autoInc bool
}

type fkSpec struct {
	name string
	FKSpec
}

// TableBuilder defines one table.
type TableBuilder struct {
	name       string
	cols       []columnSpec
	nullable   map[string]bool
	indices    []indexSpec
	fks        []fkSpec
	persistent bool
}

func (tb *TableBuilder) AddColumn(name string, t Type) *TableBuilder {
	tb.cols = append(tb.cols, columnSpec{name: name, typ: t})
	return tb
}

// AddPrimaryKey declares the primary key. Auto increment is only valid on a
// single integer column.
func (tb *TableBuilder) AddPrimaryKey(cols []IndexedCol, autoIncrement bool) *TableBuilder {
	tb.indices = append(tb.indices, indexSpec{name: "pk", cols: cols, unique: true, pk: true, autoInc: autoIncrement})
	return tb
}

func (tb *TableBuilder) AddNullable(cols ...string) *TableBuilder {
	for _, c := range cols {
		tb.nullable[c] = true
	}
	return tb
}

// AddUnique declares a unique index named name over cols.
func (tb *TableBuilder) AddUnique(name string, cols ...string) *TableBuilder {
	ics := make([]IndexedCol, len(cols))
	for i, c := range cols {
		ics[i] = Asc(c)
	}
	return tb.AddIndex(name, true, ics...)
}

func (tb *TableBuilder) AddIndex(name string, unique bool, cols ...IndexedCol) *TableBuilder {
	tb.indices = append(tb.indices, indexSpec{name: name, cols: cols, unique: unique})
	return tb
}

func (tb *TableBuilder) AddForeignKey(name string, spec FKSpec) *TableBuilder {
	tb.fks = append(tb.fks, fkSpec{name: name, FKSpec: spec})
	return tb
}

// PersistentIndex makes the table's indices persisted in the backing store
// instead of rebuilt from rows on startup.
func (tb *TableBuilder) PersistentIndex(v bool) *TableBuilder {
	tb.persistent = v
	return tb
}

// Build validates the definitions and returns the database.
func (b *Builder) Build() (*Database, error) {
	db := &Database{
		name:   b.name,
		byName: make(map[string]*Table),
		alloc:  NewAllocator(),
	}
	for _, tb := range b.tables {
		if _, ok := db.byName[tb.name]; ok {
			return nil, errors.Newf(errors.ErrSyntax, "duplicate table %s", tb.name)
		}
		t, err := tb.build(db.alloc)
		if err != nil {
			return nil, errors.Wrapf(err, "table %s", tb.name)
		}
		t.db = db
		db.tables = append(db.tables, t)
		db.byName[t.name] = t
	}
	for _, tb := range b.tables {
		if err := tb.buildForeignKeys(db); err != nil {
			return nil, errors.Wrapf(err, "table %s", tb.name)
		}
	}
	db.info = newInfo(db)
	return db, nil
}

func (tb *TableBuilder) build(alloc *Allocator) (*Table, error) {
	if tb.name == "" || strings.ContainsAny(tb.name, ".#") {
		return nil, errors.Newf(errors.ErrSyntax, "invalid table name %q", tb.name)
	}
	t := &Table{
		name:            tb.name,
		byName:          make(map[string]*Column),
		persistentIndex: tb.persistent,
		alloc:           alloc,
	}
	for _, cs := range tb.cols {
		if _, ok := t.byName[cs.name]; ok {
			return nil, errors.Newf(errors.ErrSyntax, "duplicate column %s", cs.name)
		}
		c := &Column{name: cs.name, typ: cs.typ, nullable: tb.nullable[cs.name], table: t}
		t.columns = append(t.columns, c)
		t.byName[c.name] = c
	}
	for n := range tb.nullable {
		if t.byName[n] == nil {
			return nil, errors.Newf(errors.ErrSyntax, "nullable column %s does not exist", n)
		}
	}

	// The primary key goes first so that lookups prefer it.
	specs := make([]indexSpec, 0, len(tb.indices))
	for _, s := range tb.indices {
		if s.pk {
			if len(specs) > 0 && specs[0].pk {
				return nil, errors.New(errors.ErrSyntax, "primary key declared twice")
			}
			specs = append([]indexSpec{s}, specs...)
			continue
		}
		specs = append(specs, s)
	}
	for _, s := range specs {
		if _, err := t.addIndex(s); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) addIndex(s indexSpec) (*IndexSchema, error) {
	if s.name == "" || len(s.cols) == 0 {
		return nil, errors.Newf(errors.ErrSyntax, "index %q needs a name and columns", s.name)
	}
	if t.Index(s.name) != nil {
		return nil, errors.Newf(errors.ErrSyntax, "duplicate index %s", s.name)
	}
	idx := &IndexSchema{Name: s.name, Table: t.name, Unique: s.unique, PrimaryKey: s.pk}
	for _, ic := range s.cols {
		c := t.byName[ic.Name]
		if c == nil {
			return nil, errors.Newf(errors.ErrSyntax, "index %s: unknown column %s", s.name, ic.Name)
		}
		if !c.typ.Indexable() {
			return nil, errors.Newf(errors.ErrSyntax, "index %s: column %s of type %s cannot be indexed", s.name, c.name, c.typ)
		}
		idx.Columns = append(idx.Columns, IndexedColumn{Column: c, Order: ic.Order})
	}
	if s.autoInc {
		if len(idx.Columns) != 1 || idx.Columns[0].Column.typ != Integer {
			return nil, errors.New(errors.ErrSyntax, "auto increment needs a single integer column")
		}
		idx.Columns[0].AutoIncrement = true
	}
	if s.pk {
		for _, ic := range idx.Columns {
			if ic.Column.nullable {
				return nil, errors.Newf(errors.ErrSyntax, "primary key column %s cannot be nullable", ic.Column.name)
			}
		}
		t.pk = idx
	}
	if s.unique && len(idx.Columns) == 1 {
		idx.Columns[0].Column.unique = true
	}
	t.indices = append(t.indices, idx)
	return idx, nil
}

func (tb *TableBuilder) buildForeignKeys(db *Database) error {
	t := db.byName[tb.name]
	for _, s := range tb.fks {
		parts := strings.Split(s.Ref, ".")
		if len(parts) != 2 {
			return errors.Newf(errors.ErrSyntax, "foreign key %s: bad reference %q", s.name, s.Ref)
		}
		child := t.byName[s.Local]
		if child == nil {
			return errors.Newf(errors.ErrSyntax, "foreign key %s: unknown column %s", s.name, s.Local)
		}
		parent := db.byName[parts[0]]
		if parent == nil {
			return errors.Newf(errors.ErrSyntax, "foreign key %s: unknown table %s", s.name, parts[0])
		}
		pc := parent.byName[parts[1]]
		if pc == nil {
			return errors.Newf(errors.ErrSyntax, "foreign key %s: unknown column %s", s.name, s.Ref)
		}
		if pc.typ != child.typ {
			return errors.Newf(errors.ErrSyntax, "foreign key %s: type mismatch between %s and %s", s.name, s.Local, s.Ref)
		}
		pidx := uniqueIndexOf(pc)
		if pidx == nil {
			return errors.Newf(errors.ErrSyntax, "foreign key %s: %s is not uniquely indexed", s.name, s.Ref)
		}
		if s.Action == Cascade && s.Timing == Deferrable {
			return errors.Newf(errors.ErrSyntax, "foreign key %s: cascading constraints must be immediate", s.name)
		}
		cidx := child.Index()
		if cidx == nil {
			var err error
			cidx, err = t.addIndex(indexSpec{name: s.name, cols: []IndexedCol{Asc(child.name)}, unique: child.unique})
			if err != nil {
				return err
			}
		}
		t.fks = append(t.fks, &ForeignKey{
			Name:         s.name,
			ChildTable:   t.name,
			ChildColumn:  child.name,
			ChildIndex:   cidx.NormalizedName(),
			ParentTable:  parent.name,
			ParentColumn: pc.name,
			ParentIndex:  pidx.NormalizedName(),
			Action:       s.Action,
			Timing:       s.Timing,
		})
	}
	return nil
}

func uniqueIndexOf(c *Column) *IndexSchema {
	for _, idx := range c.table.indices {
		if idx.Unique && len(idx.Columns) == 1 && idx.Columns[0].Column.name == c.name {
			return idx
		}
	}
	return nil
}
