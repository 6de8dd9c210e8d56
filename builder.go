// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relstore

import (
	"context"

	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// Query is a query built by one of the DB builders.
type Query interface {
	// Context returns the query with its bound values applied, or the
	// first error met while building it.
	Context() (query.Context, error)
}

// builder holds what every query builder shares. Misuse such as calling
// From twice is remembered and reported when the query is used.
type builder struct {
	db       *DB
	err      error
	bindings []interface{}
	built    query.Context
}

func (b *builder) fail(format string, args ...interface{}) {
	if b.err == nil {
		b.err = errors.Newf(errors.ErrSyntax, format, args...)
	}
}

func (b *builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *builder) context(raw func() (query.Context, error)) (query.Context, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.built != nil {
		return b.built, nil
	}
	q, err := raw()
	if err != nil {
		return nil, err
	}
	if b.bindings != nil {
		if q, err = q.Bind(b.bindings); err != nil {
			return nil, err
		}
	}
	b.built = q
	return q, nil
}

func (b *builder) exec(ctx context.Context, q Query) ([]schema.Payload, error) {
	qc, err := q.Context()
	if err != nil {
		return nil, err
	}
	_, results, err := b.db.run(ctx, qc)
	if err != nil {
		return nil, err
	}
	return results[0].Payloads(), nil
}

func (b *builder) explain(q Query) (string, error) {
	qc, err := q.Context()
	if err != nil {
		return "", err
	}
	var out string
	err = b.db.read(context.Background(), qc.Scope(), func() error {
		plan, err := b.db.env.Planner.Plan(qc)
		if err != nil {
			return err
		}
		out = plan.Explain()
		return nil
	})
	return out, err
}

// SelectBuilder builds a SELECT.
type SelectBuilder struct {
	builder
	q        query.SelectContext
	hasWhere bool
}

// Select starts a SELECT of cols, or of every column when none are given.
func (db *DB) Select(cols ...relation.Column) *SelectBuilder {
	return &SelectBuilder{builder: builder{db: db}, q: query.SelectContext{Columns: cols}}
}

// From sets the source tables. It may be called once.
func (s *SelectBuilder) From(tables ...*schema.Table) *SelectBuilder {
	s.built = nil
	if len(s.q.From) > 0 {
		s.fail("from() already called")
		return s
	}
	if len(tables) == 0 {
		s.fail("from() without tables")
		return s
	}
	s.q.From = append(s.q.From, tables...)
	return s
}

func (s *SelectBuilder) join(t *schema.Table, on Predicate, outer bool) *SelectBuilder {
	s.built = nil
	if len(s.q.From) == 0 {
		s.fail("join on %s before from()", t.EffectiveName())
		return s
	}
	p, err := on.Build()
	if err != nil {
		s.setErr(err)
		return s
	}
	jp, ok := p.(*relation.JoinPredicate)
	if !ok {
		s.fail("join on %s needs a join predicate, got %v", t.EffectiveName(), p)
		return s
	}
	s.q.From = append(s.q.From, t)
	s.q.Joins = append(s.q.Joins, query.Join{Table: t, On: jp, Outer: outer})
	return s
}

// InnerJoin adds t, joined on a predicate relating it to the tables
// already present.
func (s *SelectBuilder) InnerJoin(t *schema.Table, on Predicate) *SelectBuilder {
	return s.join(t, on, false)
}

// LeftOuterJoin adds t so that rows on the left without a match are kept,
// with nulls for the columns of t.
func (s *SelectBuilder) LeftOuterJoin(t *schema.Table, on Predicate) *SelectBuilder {
	return s.join(t, on, true)
}

func (s *SelectBuilder) Where(p Predicate) *SelectBuilder {
	s.built = nil
	if s.hasWhere {
		s.fail("where() already called")
		return s
	}
	s.hasWhere = true
	pred, err := p.Build()
	if err != nil {
		s.setErr(err)
		return s
	}
	s.q.Where = pred
	return s
}

// OrderBy adds a sort key. Later keys break ties of earlier ones.
func (s *SelectBuilder) OrderBy(col relation.Column, order index.Order) *SelectBuilder {
	s.built = nil
	s.q.OrderBy = append(s.q.OrderBy, query.OrderBy{Column: col, Order: order})
	return s
}

func (s *SelectBuilder) GroupBy(cols ...relation.Column) *SelectBuilder {
	s.built = nil
	if len(s.q.GroupBy) > 0 {
		s.fail("groupBy() already called")
		return s
	}
	s.q.GroupBy = cols
	return s
}

func count(n interface{}) (*query.Count, error) {
	switch v := n.(type) {
	case int:
		if v < 0 {
			return nil, errors.Newf(errors.ErrSyntax, "negative count %d", v)
		}
		return &query.Count{Value: v}, nil
	case relation.Param:
		return &query.Count{Param: &v}, nil
	}
	return nil, errors.Newf(errors.ErrSyntax, "count must be an int or a parameter, got %T", n)
}

// Limit caps the number of rows returned. n is an int or a relation.Param.
func (s *SelectBuilder) Limit(n interface{}) *SelectBuilder {
	s.built = nil
	if s.q.Limit != nil {
		s.fail("limit() already called")
		return s
	}
	c, err := count(n)
	if err != nil {
		s.setErr(err)
		return s
	}
	s.q.Limit = c
	return s
}

// Skip drops the first n rows. n is an int or a relation.Param.
func (s *SelectBuilder) Skip(n interface{}) *SelectBuilder {
	s.built = nil
	if s.q.Skip != nil {
		s.fail("skip() already called")
		return s
	}
	c, err := count(n)
	if err != nil {
		s.setErr(err)
		return s
	}
	s.q.Skip = c
	return s
}

// Bind supplies the values of the query's parameters, replacing earlier
// ones.
func (s *SelectBuilder) Bind(values ...interface{}) *SelectBuilder {
	s.built = nil
	s.bindings = values
	return s
}

func (s *SelectBuilder) Context() (query.Context, error) {
	return s.context(func() (query.Context, error) {
		if len(s.q.From) == 0 {
			return nil, errors.New(errors.ErrSyntax, "from() not called")
		}
		cp := s.q
		return &cp, nil
	})
}

// Exec runs the query and returns its rows.
func (s *SelectBuilder) Exec(ctx context.Context) ([]schema.Payload, error) {
	return s.exec(ctx, s)
}

// Explain returns the plan the query would run.
func (s *SelectBuilder) Explain() (string, error) { return s.explain(s) }

// InsertBuilder builds an INSERT or INSERT OR REPLACE.
type InsertBuilder struct {
	builder
	q         query.InsertContext
	hasValues bool
}

// Insert starts an INSERT. A row whose primary key is taken is rejected.
func (db *DB) Insert() *InsertBuilder {
	return &InsertBuilder{builder: builder{db: db}}
}

// InsertOrReplace starts an INSERT OR REPLACE. A row whose primary key is
// taken replaces the row holding it.
func (db *DB) InsertOrReplace() *InsertBuilder {
	return &InsertBuilder{builder: builder{db: db}, q: query.InsertContext{Replace: true}}
}

func (i *InsertBuilder) Into(t *schema.Table) *InsertBuilder {
	i.built = nil
	if i.q.Into != nil {
		i.fail("into() already called")
		return i
	}
	i.q.Into = t
	return i
}

// Values sets the rows to insert, created with Table.CreateRow.
func (i *InsertBuilder) Values(rows ...*schema.Row) *InsertBuilder {
	i.built = nil
	if i.hasValues {
		i.fail("values() already called")
		return i
	}
	i.hasValues = true
	i.q.Values = rows
	return i
}

// ValuesParam defers the rows to a parameter holding a []*schema.Row.
func (i *InsertBuilder) ValuesParam(p relation.Param) *InsertBuilder {
	i.built = nil
	if i.hasValues {
		i.fail("values() already called")
		return i
	}
	i.hasValues = true
	i.q.Param = &p
	return i
}

func (i *InsertBuilder) Bind(values ...interface{}) *InsertBuilder {
	i.built = nil
	i.bindings = values
	return i
}

func (i *InsertBuilder) Context() (query.Context, error) {
	return i.context(func() (query.Context, error) {
		if i.q.Into == nil {
			return nil, errors.New(errors.ErrSyntax, "into() not called")
		}
		if !i.hasValues {
			return nil, errors.New(errors.ErrSyntax, "values() not called")
		}
		cp := i.q
		return &cp, nil
	})
}

func (i *InsertBuilder) Exec(ctx context.Context) ([]schema.Payload, error) {
	return i.exec(ctx, i)
}

func (i *InsertBuilder) Explain() (string, error) { return i.explain(i) }

// UpdateBuilder builds an UPDATE.
type UpdateBuilder struct {
	builder
	q        query.UpdateContext
	hasWhere bool
}

// Update starts an UPDATE of t.
func (db *DB) Update(t *schema.Table) *UpdateBuilder {
	return &UpdateBuilder{builder: builder{db: db}, q: query.UpdateContext{Table: t}}
}

// Set assigns v, a value or a relation.Param, to col.
func (u *UpdateBuilder) Set(col *schema.Column, v interface{}) *UpdateBuilder {
	u.built = nil
	u.q.Set = append(u.q.Set, query.Assignment{Column: col, Value: v})
	return u
}

func (u *UpdateBuilder) Where(p Predicate) *UpdateBuilder {
	u.built = nil
	if u.hasWhere {
		u.fail("where() already called")
		return u
	}
	u.hasWhere = true
	pred, err := p.Build()
	if err != nil {
		u.setErr(err)
		return u
	}
	u.q.Where = pred
	return u
}

func (u *UpdateBuilder) Bind(values ...interface{}) *UpdateBuilder {
	u.built = nil
	u.bindings = values
	return u
}

func (u *UpdateBuilder) Context() (query.Context, error) {
	return u.context(func() (query.Context, error) {
		if len(u.q.Set) == 0 {
			return nil, errors.New(errors.ErrSyntax, "set() not called")
		}
		cp := u.q
		return &cp, nil
	})
}

func (u *UpdateBuilder) Exec(ctx context.Context) ([]schema.Payload, error) {
	return u.exec(ctx, u)
}

func (u *UpdateBuilder) Explain() (string, error) { return u.explain(u) }

// DeleteBuilder builds a DELETE.
type DeleteBuilder struct {
	builder
	q        query.DeleteContext
	hasWhere bool
}

// Delete starts a DELETE. Without Where every row of the table goes.
func (db *DB) Delete() *DeleteBuilder {
	return &DeleteBuilder{builder: builder{db: db}}
}

func (d *DeleteBuilder) From(t *schema.Table) *DeleteBuilder {
	d.built = nil
	if d.q.From != nil {
		d.fail("from() already called")
		return d
	}
	d.q.From = t
	return d
}

func (d *DeleteBuilder) Where(p Predicate) *DeleteBuilder {
	d.built = nil
	if d.hasWhere {
		d.fail("where() already called")
		return d
	}
	d.hasWhere = true
	pred, err := p.Build()
	if err != nil {
		d.setErr(err)
		return d
	}
	d.q.Where = pred
	return d
}

func (d *DeleteBuilder) Bind(values ...interface{}) *DeleteBuilder {
	d.built = nil
	d.bindings = values
	return d
}

func (d *DeleteBuilder) Context() (query.Context, error) {
	return d.context(func() (query.Context, error) {
		if d.q.From == nil {
			return nil, errors.New(errors.ErrSyntax, "from() not called")
		}
		cp := d.q
		return &cp, nil
	})
}

func (d *DeleteBuilder) Exec(ctx context.Context) ([]schema.Payload, error) {
	return d.exec(ctx, d)
}

func (d *DeleteBuilder) Explain() (string, error) { return d.explain(d) }
