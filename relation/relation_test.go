// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relation_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *schema.Database {
	t.Helper()
	b := schema.NewBuilder("test")
	b.CreateTable("emp").
		AddColumn("id", schema.Integer).
		AddColumn("name", schema.String).
		AddColumn("salary", schema.Number).
		AddColumn("dept", schema.String).
		AddColumn("hired", schema.DateTime).
		AddNullable("dept", "hired").
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false)
	b.CreateTable("dept").
		AddColumn("id", schema.String).
		AddColumn("title", schema.String).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false)
	db, err := b.Build()
	require.NoError(t, err)
	return db
}

func empRelation(db *schema.Database) *relation.Relation {
	emp := db.Table("emp")
	rows := []*schema.Row{
		emp.CreateRow(schema.Payload{"id": 1, "name": "ann", "salary": 100.0, "dept": "eng", "hired": time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}),
		emp.CreateRow(schema.Payload{"id": 2, "name": "bob", "salary": 200.0, "dept": "eng", "hired": time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}),
		emp.CreateRow(schema.Payload{"id": 3, "name": "cid", "salary": 300.0, "dept": "ops"}),
		emp.CreateRow(schema.Payload{"id": 4, "name": "dan", "salary": 400.0}),
	}
	return relation.FromRows(rows, []string{"emp"})
}

func ids(r *relation.Relation, col relation.Column) []interface{} {
	var out []interface{}
	for _, e := range r.Entries {
		out = append(out, e.GetField(col))
	}
	return out
}

func mustValue(t *testing.T, col relation.Column, op relation.Operator, v interface{}) *relation.ValuePredicate {
	t.Helper()
	p, err := relation.NewValuePredicate(col, op, v)
	require.NoError(t, err)
	return p
}

func TestValuePredicate(t *testing.T) {
	db := testDB(t)
	emp := db.Table("emp")
	id := emp.Col("id")
	rel := empRelation(db)

	tests := []struct {
		name string
		pred relation.Predicate
		exp  []interface{}
	}{
		{"eq", mustValue(t, emp.Col("name"), relation.EQ, "bob"), []interface{}{int64(2)}},
		{"neq", mustValue(t, emp.Col("dept"), relation.NEQ, "eng"), []interface{}{int64(3), int64(4)}},
		{"lt", mustValue(t, emp.Col("salary"), relation.LT, 300), []interface{}{int64(1), int64(2)}},
		{"gte", mustValue(t, id, relation.GTE, 3), []interface{}{int64(3), int64(4)}},
		{"between", mustValue(t, id, relation.BETWEEN, []interface{}{2, 3}), []interface{}{int64(2), int64(3)}},
		{"in", mustValue(t, id, relation.IN, []interface{}{1, 4, 9}), []interface{}{int64(1), int64(4)}},
		{"match", mustValue(t, emp.Col("name"), relation.MATCH, "^[ab]"), []interface{}{int64(1), int64(2)}},
		{"eq null", mustValue(t, emp.Col("dept"), relation.EQ, nil), []interface{}{int64(4)}},
		{"null not greater", mustValue(t, emp.Col("hired"), relation.GT, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)), []interface{}{int64(1), int64(2)}},
		{"and", relation.NewCombinedPredicate(relation.And,
			mustValue(t, id, relation.GT, 1),
			mustValue(t, emp.Col("dept"), relation.EQ, "eng")), []interface{}{int64(2)}},
		{"or", relation.NewCombinedPredicate(relation.Or,
			mustValue(t, id, relation.EQ, 1),
			mustValue(t, id, relation.EQ, 4)), []interface{}{int64(1), int64(4)}},
		{"not and", relation.Not(relation.NewCombinedPredicate(relation.And,
			mustValue(t, id, relation.GT, 1),
			mustValue(t, id, relation.LT, 4))), []interface{}{int64(1), int64(4)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := ids(test.pred.Eval(rel), id)
			if diff := cmp.Diff(test.exp, got); diff != "" {
				t.Fatalf("unexpected ids (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnsupportedOperator(t *testing.T) {
	db := testDB(t)
	_, err := relation.NewValuePredicate(db.Table("emp").Col("id"), relation.MATCH, "x")
	assert.True(t, errors.Is(err, errors.ErrUnsupportedOperation))
}

func TestKeyRange(t *testing.T) {
	db := testDB(t)
	emp := db.Table("emp")
	id := emp.Col("id")

	p := mustValue(t, id, relation.IN, []interface{}{3, 1, 2})
	require.True(t, p.IsKeyRangeCompatible())
	assert.Equal(t, "[[1, 1] [2, 2] [3, 3]]", rangesString(p.ToKeyRange()))

	p = mustValue(t, id, relation.EQ, 5)
	p.Negate()
	require.True(t, p.IsKeyRangeCompatible())
	assert.Equal(t, "[[unbound, 5) (5, unbound]]", rangesString(p.ToKeyRange()))

	nullable := mustValue(t, emp.Col("dept"), relation.EQ, "eng")
	nullable.Negate()
	assert.False(t, nullable.IsKeyRangeCompatible())
	assert.False(t, mustValue(t, id, relation.NEQ, 1).IsKeyRangeCompatible())
	assert.False(t, mustValue(t, id, relation.EQ, nil).IsKeyRangeCompatible())

	or := relation.NewCombinedPredicate(relation.Or, mustValue(t, id, relation.LT, 2), mustValue(t, id, relation.GT, 8))
	col, ok := or.KeyRangeColumn()
	require.True(t, ok)
	assert.Equal(t, "emp.id", col.NormalizedName())
	assert.Equal(t, "[[unbound, 2) (8, unbound]]", rangesString(or.ToKeyRange()))
}

func rangesString(rs []index.SingleKeyRange) string {
	s := "["
	for i, r := range rs {
		if i > 0 {
			s += " "
		}
		s += r.String()
	}
	return s + "]"
}

func TestBind(t *testing.T) {
	db := testDB(t)
	id := db.Table("emp").Col("id")
	p := mustValue(t, id, relation.BETWEEN, []interface{}{relation.Param(0), relation.Param(1)})
	assert.False(t, relation.IsBound(p))
	assert.Equal(t, "value_pred(emp.id between [?0, ?1])", p.String())

	err := p.Bind([]interface{}{1})
	assert.True(t, errors.Is(err, errors.ErrBinding))

	require.NoError(t, p.Bind([]interface{}{2, 3}))
	assert.True(t, relation.IsBound(p))
	assert.Equal(t, []interface{}{int64(2), int64(3)}, ids(p.Eval(empRelation(db)), id))
}

func TestJoins(t *testing.T) {
	db := testDB(t)
	emp, dept := db.Table("emp"), db.Table("dept")
	left := empRelation(db)
	right := relation.FromRows([]*schema.Row{
		dept.CreateRow(schema.Payload{"id": "eng", "title": "Engineering"}),
		dept.CreateRow(schema.Payload{"id": "ops", "title": "Operations"}),
	}, []string{"dept"})

	jp, err := relation.NewJoinPredicate(dept.Col("id"), relation.EQ, emp.Col("dept"))
	require.NoError(t, err)
	assert.Equal(t, "join_pred(dept.id eq emp.dept)", jp.String())

	titles := func(r *relation.Relation) []interface{} { return ids(r, dept.Col("title")) }

	hash := jp.HashJoin(left, right, false)
	assert.Equal(t, []interface{}{"Engineering", "Engineering", "Operations"}, titles(hash))
	assert.Equal(t, []string{"emp", "dept"}, hash.Tables())

	loop := jp.NestedLoopJoin(left, right, false)
	assert.Equal(t, titles(hash), titles(loop))

	outer := jp.HashJoin(left, right, true)
	assert.Equal(t, []interface{}{"Engineering", "Engineering", "Operations", nil}, titles(outer))
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3), int64(4)}, ids(outer, emp.Col("id")))

	lookup := func(k index.Key) []*schema.Row {
		var out []*schema.Row
		for _, e := range right.Entries {
			if e.Row.Payload()["id"] == k {
				out = append(out, e.Row)
			}
		}
		return out
	}
	inl := jp.IndexNestedLoopJoin(left, "dept", lookup, true)
	assert.Equal(t, titles(outer), titles(inl))

	cross := relation.CrossProduct(left, right)
	assert.Equal(t, 8, cross.Len())
	assert.True(t, cross.IsPrefixApplied())
	assert.Len(t, jp.Eval(cross).Entries, 3)
}

func TestAggregations(t *testing.T) {
	db := testDB(t)
	emp := db.Table("emp")
	rel := empRelation(db)

	agg := func(a relation.Aggregator, col relation.Column) interface{} {
		return relation.EvalAggregation(rel, relation.Aggregate(a, col))
	}
	assert.Equal(t, int64(4), agg(relation.Count, relation.Star))
	assert.Equal(t, int64(3), agg(relation.Count, emp.Col("dept")))
	assert.Equal(t, 1000.0, agg(relation.Sum, emp.Col("salary")))
	assert.Equal(t, int64(10), agg(relation.Sum, emp.Col("id")))
	assert.Equal(t, 250.0, agg(relation.Avg, emp.Col("salary")))
	assert.Equal(t, "ann", agg(relation.Min, emp.Col("name")))
	assert.Equal(t, 400.0, agg(relation.Max, emp.Col("salary")))
	assert.InDelta(t, 111.803, agg(relation.StdDev, emp.Col("salary")), 0.001)
	assert.InDelta(t, 221.336, agg(relation.GeoMean, emp.Col("salary")), 0.001)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), agg(relation.Max, emp.Col("hired")))

	d, ok := agg(relation.Distinct, emp.Col("dept")).(*relation.Relation)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"eng", "ops", nil}, ids(d, emp.Col("dept")))

	nested := relation.Aggregate(relation.Count, relation.Aggregate(relation.Distinct, emp.Col("dept")))
	assert.Equal(t, "COUNT(DISTINCT(emp.dept))", nested.NormalizedName())
	assert.Equal(t, int64(2), relation.EvalAggregation(rel, nested))

	assert.Nil(t, relation.EvalAggregation(relation.Empty(), relation.Aggregate(relation.Avg, emp.Col("salary"))))
}

func TestEntryFields(t *testing.T) {
	db := testDB(t)
	emp := db.Table("emp")
	e := relation.NewEntry(schema.NewRow(schema.DummyID, nil), true)
	e.SetField(emp.Col("name"), "x")
	e.SetField(emp.Col("id").As("ident"), 9)

	assert.Equal(t, schema.Payload{"emp": schema.Payload{"name": "x"}, "ident": 9}, e.Row.Payload())
	assert.Equal(t, "x", e.GetField(emp.Col("name")))
	assert.Equal(t, 9, e.GetField(emp.Col("id").As("ident")))

	a := relation.FromRows([]*schema.Row{schema.NewRow(1, nil), schema.NewRow(2, nil)}, []string{"emp"})
	b := relation.FromRows([]*schema.Row{schema.NewRow(2, nil), schema.NewRow(3, nil)}, []string{"emp"})
	assert.Equal(t, []schema.RowID{1, 2, 3}, relation.Union([]*relation.Relation{a, b}).RowIDs())
	assert.Equal(t, []schema.RowID{2}, relation.Intersect([]*relation.Relation{a, b}).RowIDs())
}
