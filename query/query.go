// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package query holds the query contexts built by the public builders and
// consumed by the planner: what a query reads, writes and returns, with
// parameters still unresolved until Bind.
package query

import (
	"sort"

	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// Kind is the statement type of a query.
type Kind int

const (
	Select Kind = iota
	Insert
	InsertOrReplace
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Select:
		return "select"
	case Insert:
		return "insert"
	case InsertOrReplace:
		return "insert_or_replace"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// Context is a query ready to be planned.
type Context interface {
	Kind() Kind
	// Scope returns the base tables the query reads or writes.
	Scope() []*schema.Table
	// Bind returns a copy of the query with every parameter resolved.
	Bind(values []interface{}) (Context, error)
	// IsBound reports whether every parameter has a value.
	IsBound() bool
}

// IsReadOnly reports whether q only reads.
func IsReadOnly(q Context) bool {
	return q.Kind() == Select
}

// Count is a LIMIT or SKIP value, given directly or as a parameter.
type Count struct {
	Value int
	Param *relation.Param
}

func (c *Count) resolve(values []interface{}) (*Count, error) {
	if c == nil || c.Param == nil {
		return c, nil
	}
	i := int(*c.Param)
	if i < 0 || i >= len(values) {
		return nil, errors.Newf(errors.ErrBinding, "parameter %s is not bound", *c.Param)
	}
	n, ok := index.ToRowID(values[i])
	if !ok || n < 0 {
		return nil, errors.Newf(errors.ErrBinding, "parameter %s: %v is not a valid count", *c.Param, values[i])
	}
	return &Count{Value: int(n)}, nil
}

// OrderBy is one sort key of a SELECT.
type OrderBy struct {
	Column relation.Column
	Order  index.Order
}

// Join is an explicit join of a SELECT.
type Join struct {
	Table *schema.Table
	On    *relation.JoinPredicate
	Outer bool
}

// SelectContext is a SELECT.
type SelectContext struct {
	// Columns are the projected columns. Empty means every column.
	Columns []relation.Column
	// From lists the source tables in the order given, joined ones included.
	From    []*schema.Table
	Joins   []Join
	Where   relation.Predicate
	GroupBy []relation.Column
	OrderBy []OrderBy
	Limit   *Count
	Skip    *Count
}

func (q *SelectContext) Kind() Kind { return Select }

func (q *SelectContext) Scope() []*schema.Table {
	return baseTables(q.From)
}

// HasOuterJoin reports whether any join is a left outer join.
func (q *SelectContext) HasOuterJoin() bool {
	for _, j := range q.Joins {
		if j.Outer {
			return true
		}
	}
	return false
}

// AggregatedColumns returns the projected aggregate columns.
func (q *SelectContext) AggregatedColumns() []*relation.AggregatedColumn {
	var out []*relation.AggregatedColumn
	for _, c := range q.Columns {
		if a, ok := c.(*relation.AggregatedColumn); ok {
			out = append(out, a)
		}
	}
	return out
}

func (q *SelectContext) IsBound() bool {
	if q.Where != nil && !relation.IsBound(q.Where) {
		return false
	}
	return (q.Limit == nil || q.Limit.Param == nil) && (q.Skip == nil || q.Skip.Param == nil)
}

func (q *SelectContext) Bind(values []interface{}) (Context, error) {
	cp := *q
	if q.Where != nil {
		cp.Where = q.Where.Copy()
		if err := cp.Where.Bind(values); err != nil {
			return nil, err
		}
	}
	var err error
	if cp.Limit, err = q.Limit.resolve(values); err != nil {
		return nil, err
	}
	if cp.Skip, err = q.Skip.resolve(values); err != nil {
		return nil, err
	}
	return &cp, nil
}

// InsertContext is an INSERT or an INSERT OR REPLACE.
type InsertContext struct {
	Into    *schema.Table
	Values  []*schema.Row
	Param   *relation.Param // rows given when binding
	Replace bool
}

func (q *InsertContext) Kind() Kind {
	if q.Replace {
		return InsertOrReplace
	}
	return Insert
}

func (q *InsertContext) Scope() []*schema.Table {
	return writeScope(q.Into)
}

func (q *InsertContext) IsBound() bool { return q.Param == nil }

func (q *InsertContext) Bind(values []interface{}) (Context, error) {
	cp := *q
	if q.Param == nil {
		return &cp, nil
	}
	i := int(*q.Param)
	if i < 0 || i >= len(values) {
		return nil, errors.Newf(errors.ErrBinding, "parameter %s is not bound", *q.Param)
	}
	rows, ok := values[i].([]*schema.Row)
	if !ok {
		return nil, errors.Newf(errors.ErrBinding, "parameter %s must be a row list, got %T", *q.Param, values[i])
	}
	cp.Values = rows
	cp.Param = nil
	return &cp, nil
}

// Assignment is one SET clause of an UPDATE. Value may be a Param.
type Assignment struct {
	Column *schema.Column
	Value  interface{}
}

// UpdateContext is an UPDATE.
type UpdateContext struct {
	Table *schema.Table
	Set   []Assignment
	Where relation.Predicate
}

func (q *UpdateContext) Kind() Kind { return Update }

func (q *UpdateContext) Scope() []*schema.Table {
	return writeScope(q.Table)
}

func (q *UpdateContext) IsBound() bool {
	for _, a := range q.Set {
		if _, ok := a.Value.(relation.Param); ok {
			return false
		}
	}
	return q.Where == nil || relation.IsBound(q.Where)
}

func (q *UpdateContext) Bind(values []interface{}) (Context, error) {
	cp := *q
	cp.Set = make([]Assignment, len(q.Set))
	for i, a := range q.Set {
		if p, ok := a.Value.(relation.Param); ok {
			if int(p) < 0 || int(p) >= len(values) {
				return nil, errors.Newf(errors.ErrBinding, "parameter %s is not bound", p)
			}
			a.Value = values[p]
		}
		cp.Set[i] = a
	}
	if q.Where != nil {
		cp.Where = q.Where.Copy()
		if err := cp.Where.Bind(values); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}

// DeleteContext is a DELETE.
type DeleteContext struct {
	From  *schema.Table
	Where relation.Predicate
}

func (q *DeleteContext) Kind() Kind { return Delete }

func (q *DeleteContext) Scope() []*schema.Table {
	return writeScope(q.From)
}

func (q *DeleteContext) IsBound() bool {
	return q.Where == nil || relation.IsBound(q.Where)
}

func (q *DeleteContext) Bind(values []interface{}) (Context, error) {
	cp := *q
	if q.Where != nil {
		cp.Where = q.Where.Copy()
		if err := cp.Where.Bind(values); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}

// baseTables returns the distinct base tables behind tables, aliases
// resolved, sorted by name.
func baseTables(tables []*schema.Table) []*schema.Table {
	seen := make(map[string]*schema.Table)
	for _, t := range tables {
		if _, ok := seen[t.Name()]; !ok {
			seen[t.Name()] = t.Database().Table(t.Name())
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*schema.Table, len(names))
	for i, n := range names {
		out[i] = seen[n]
	}
	return out
}

// writeScope returns every table a write to t may read or change through
// foreign keys.
func writeScope(t *schema.Table) []*schema.Table {
	db := t.Database()
	names := db.Info().WriteScope(t.Name())
	out := make([]*schema.Table, 0, len(names))
	for _, n := range names {
		out = append(out, db.Table(n))
	}
	return out
}

// ScopeOf returns the union of the scopes of queries, sorted by name.
func ScopeOf(queries ...Context) []*schema.Table {
	var all []*schema.Table
	for _, q := range queries {
		all = append(all, q.Scope()...)
	}
	return baseTables(all)
}
