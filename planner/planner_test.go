// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/planner"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDB struct {
	*schema.Database
	env *cache.Env
}

// newTestDB returns t1(f1 pk, f2 desc index), dept(id pk, name),
// emp(id pk, name, deptId indexed, salary, title nullable) and pts(id pk,
// a, b) with a composite (a asc, b desc) index, loaded.
func newTestDB(t *testing.T) *testDB {
	t.Helper()
	b := schema.NewBuilder("plan")
	b.CreateTable("t1").
		AddColumn("f1", schema.Integer).
		AddColumn("f2", schema.Integer).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("f1")}, false).
		AddIndex("idx_f2", false, schema.Desc("f2"))
	b.CreateTable("dept").
		AddColumn("id", schema.Integer).
		AddColumn("name", schema.String).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false)
	b.CreateTable("emp").
		AddColumn("id", schema.Integer).
		AddColumn("name", schema.String).
		AddColumn("deptId", schema.Integer).
		AddColumn("salary", schema.Number).
		AddColumn("title", schema.String).
		AddNullable("title").
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false).
		AddIndex("idx_dept", false, schema.Asc("deptId"))
	b.CreateTable("pts").
		AddColumn("id", schema.Integer).
		AddColumn("a", schema.Integer).
		AddColumn("b", schema.Integer).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false).
		AddIndex("idx_ab", true, schema.Asc("a"), schema.Desc("b"))
	db, err := b.Build()
	require.NoError(t, err)
	env, err := cache.NewEnv(db, index.KindAATree)
	require.NoError(t, err)

	j := cache.NewJournal(env, db.Tables())
	insert := func(table string, payloads ...schema.Payload) {
		tbl := db.Table(table)
		rows := make([]*schema.Row, len(payloads))
		for i, p := range payloads {
			rows[i] = tbl.CreateRow(p)
		}
		require.NoError(t, j.Insert(tbl, rows))
	}
	insert("t1",
		schema.Payload{"f1": 1, "f2": 2},
		schema.Payload{"f1": 2, "f2": 4},
		schema.Payload{"f1": 3, "f2": 8},
		schema.Payload{"f1": 4, "f2": 16},
	)
	insert("dept",
		schema.Payload{"id": 1, "name": "eng"},
		schema.Payload{"id": 2, "name": "ops"},
		schema.Payload{"id": 3, "name": "empty"},
	)
	insert("emp",
		schema.Payload{"id": 1, "name": "ann", "deptId": 1, "salary": 100, "title": "lead"},
		schema.Payload{"id": 2, "name": "bob", "deptId": 1, "salary": 80},
		schema.Payload{"id": 3, "name": "cid", "deptId": 2, "salary": 90, "title": "ic"},
		schema.Payload{"id": 4, "name": "dan", "deptId": 2, "salary": 70, "title": "ic"},
		schema.Payload{"id": 5, "name": "eve", "deptId": 9, "salary": 60},
	)
	insert("pts",
		schema.Payload{"id": 1, "a": 1, "b": 3},
		schema.Payload{"id": 2, "a": 1, "b": 7},
		schema.Payload{"id": 3, "a": 2, "b": 1},
		schema.Payload{"id": 4, "a": 2, "b": 5},
		schema.Payload{"id": 5, "a": 2, "b": 9},
		schema.Payload{"id": 6, "a": 3, "b": 2},
		schema.Payload{"id": 7, "a": 3, "b": 6},
	)
	j.Finish()
	return &testDB{Database: db, env: env}
}

func (db *testDB) col(table, column string) *schema.Column {
	return db.Table(table).Col(column)
}

func value(t *testing.T, col relation.Column, op relation.Operator, v interface{}) *relation.ValuePredicate {
	t.Helper()
	p, err := relation.NewValuePredicate(col, op, v)
	require.NoError(t, err)
	return p
}

func join(t *testing.T, left relation.Column, right relation.Column) *relation.JoinPredicate {
	t.Helper()
	p, err := relation.NewJoinPredicate(left, relation.EQ, right)
	require.NoError(t, err)
	return p
}

func and(ps ...relation.Predicate) relation.Predicate {
	return relation.NewCombinedPredicate(relation.And, ps...)
}

func or(ps ...relation.Predicate) relation.Predicate {
	return relation.NewCombinedPredicate(relation.Or, ps...)
}

func (db *testDB) plan(t *testing.T, q query.Context, optimize bool) *planner.Plan {
	t.Helper()
	p := planner.NewPlanner(db.env, logger.NewLogfLogger(t))
	var plan *planner.Plan
	var err error
	if optimize {
		plan, err = p.Plan(q)
	} else {
		plan, err = p.PlanUnoptimized(q)
	}
	require.NoError(t, err)
	return plan
}

func (db *testDB) exec(t *testing.T, q query.Context, optimize bool) []schema.Payload {
	t.Helper()
	ec := &planner.ExecContext{Env: db.env}
	var j *cache.Journal
	if !query.IsReadOnly(q) {
		j = cache.NewJournal(db.env, q.Scope())
		ec.Journal = j
	}
	rel, err := db.plan(t, q, optimize).Exec(context.Background(), ec)
	require.NoError(t, err)
	if j != nil {
		j.Finish()
	}
	return rel.Payloads()
}

// flat renders the values of cols in every payload, space separated.
func flat(payloads []schema.Payload, cols ...string) string {
	var parts []string
	for _, p := range payloads {
		for _, c := range cols {
			parts = append(parts, fmt.Sprint(p[c]))
		}
	}
	return strings.Join(parts, " ")
}

func TestPlan_OrderedScenario(t *testing.T) {
	db := newTestDB(t)
	t1 := db.Table("t1")
	sel := &query.SelectContext{
		From:    []*schema.Table{t1},
		OrderBy: []query.OrderBy{{Column: t1.Col("f1"), Order: index.Asc}},
	}
	assert.Equal(t, "1 2 2 4 3 8 4 16", flat(db.exec(t, sel, true), "f1", "f2"))

	del := &query.DeleteContext{From: t1, Where: value(t, t1.Col("f1"), relation.EQ, 3)}
	db.exec(t, del, true)
	assert.Equal(t, "1 2 2 4 4 16", flat(db.exec(t, sel, true), "f1", "f2"))
	assert.Equal(t, "1 2 2 4 4 16", flat(db.exec(t, sel, false), "f1", "f2"))
}

func TestPlan_Explain(t *testing.T) {
	db := newTestDB(t)
	t1, emp, dept, pts := db.Table("t1"), db.Table("emp"), db.Table("dept"), db.Table("pts")

	tests := []struct {
		name string
		q    query.Context
		want string
	}{
		{
			name: "FullScan",
			q:    &query.SelectContext{From: []*schema.Table{t1}},
			want: "project()\n" +
				"-table_access(t1)\n",
		},
		{
			name: "IndexRangeScan",
			q: &query.SelectContext{
				From:  []*schema.Table{t1},
				Where: value(t, t1.Col("f1"), relation.EQ, 2),
			},
			want: "project()\n" +
				"-table_access_by_row_id(t1)\n" +
				"--index_range_scan(t1.pk, [2, 2], natural)\n",
		},
		{
			name: "UncoveredSelectStays",
			q: &query.SelectContext{
				From:  []*schema.Table{emp},
				Where: and(value(t, emp.Col("deptId"), relation.EQ, 1), value(t, emp.Col("name"), relation.EQ, "bob")),
			},
			want: "project()\n" +
				"-select(value_pred(emp.name eq bob))\n" +
				"--table_access_by_row_id(emp)\n" +
				"---index_range_scan(emp.idx_dept, [1, 1], natural)\n",
		},
		{
			name: "OrderByIndexNatural",
			q: &query.SelectContext{
				From:    []*schema.Table{t1},
				OrderBy: []query.OrderBy{{Column: t1.Col("f2"), Order: index.Desc}},
			},
			want: "project()\n" +
				"-table_access_by_row_id(t1)\n" +
				"--index_range_scan(t1.idx_f2, all, natural)\n",
		},
		{
			name: "OrderByIndexReverse",
			q: &query.SelectContext{
				From:    []*schema.Table{t1},
				OrderBy: []query.OrderBy{{Column: t1.Col("f2"), Order: index.Asc}},
			},
			want: "project()\n" +
				"-table_access_by_row_id(t1)\n" +
				"--index_range_scan(t1.idx_f2, all, reverse)\n",
		},
		{
			name: "LimitSkipByIndex",
			q: &query.SelectContext{
				Columns: []relation.Column{t1.Col("f1")},
				From:    []*schema.Table{t1},
				Where:   value(t, t1.Col("f1"), relation.GT, 1),
				Limit:   &query.Count{Value: 2},
				Skip:    &query.Count{Value: 1},
			},
			want: "project(t1.f1)\n" +
				"-table_access_by_row_id(t1)\n" +
				"--index_range_scan(t1.pk, (1, unbound], natural, limit:2, skip:1)\n",
		},
		{
			name: "GetRowCount",
			q: &query.SelectContext{
				Columns: []relation.Column{relation.Aggregate(relation.Count, relation.Star)},
				From:    []*schema.Table{t1},
			},
			want: "project(COUNT(*))\n" +
				"-aggregation(COUNT(*))\n" +
				"--get_row_count(t1)\n",
		},
		{
			name: "CountWithColumn",
			q: &query.SelectContext{
				Columns: []relation.Column{emp.Col("name"), relation.Aggregate(relation.Count, relation.Star)},
				From:    []*schema.Table{emp},
			},
			want: "project(emp.name, COUNT(*))\n" +
				"-aggregation(COUNT(*))\n" +
				"--table_access(emp)\n",
		},
		{
			name: "CompositeRange",
			q: &query.SelectContext{
				From:  []*schema.Table{pts},
				Where: and(value(t, pts.Col("a"), relation.GTE, 2), value(t, pts.Col("b"), relation.LT, 6)),
			},
			want: "project()\n" +
				"-table_access_by_row_id(pts)\n" +
				"--index_range_scan(pts.idx_ab, [[2, unbound], [unbound, 6)], natural)\n",
		},
		{
			name: "IndexJoinRight",
			q: &query.SelectContext{
				From:  []*schema.Table{emp, dept},
				Joins: []query.Join{{Table: dept, On: join(t, emp.Col("deptId"), dept.Col("id"))}},
			},
			want: "project()\n" +
				"-join(type: inner, impl: index_nested_loop, join_pred(emp.deptId eq dept.id))\n" +
				"--table_access(emp)\n" +
				"--no_op_step(dept)\n",
		},
		{
			name: "IndexJoinLeft",
			q: &query.SelectContext{
				From:  []*schema.Table{emp, dept},
				Where: and(join(t, emp.Col("deptId"), dept.Col("id")), value(t, dept.Col("name"), relation.EQ, "eng")),
			},
			want: "project()\n" +
				"-join(type: inner, impl: index_nested_loop, join_pred(dept.id eq emp.deptId))\n" +
				"--select(value_pred(dept.name eq eng))\n" +
				"---table_access(dept)\n" +
				"--no_op_step(emp)\n",
		},
		{
			name: "OuterJoin",
			q: &query.SelectContext{
				From:  []*schema.Table{emp, dept},
				Joins: []query.Join{{Table: dept, On: join(t, emp.Col("deptId"), dept.Col("id")), Outer: true}},
			},
			want: "project()\n" +
				"-join(type: outer, impl: hash, join_pred(emp.deptId eq dept.id))\n" +
				"--table_access(emp)\n" +
				"--table_access(dept)\n",
		},
		{
			name: "MultiColumnOr",
			q: &query.SelectContext{
				From:  []*schema.Table{emp},
				Where: or(value(t, emp.Col("id"), relation.EQ, 1), value(t, emp.Col("deptId"), relation.EQ, 2)),
			},
			want: "project()\n" +
				"-table_access_by_row_id(emp)\n" +
				"--multi_index_range_scan()\n" +
				"---index_range_scan(emp.pk, [1, 1], natural)\n" +
				"---index_range_scan(emp.idx_dept, [2, 2], natural)\n",
		},
		{
			name: "Delete",
			q: &query.DeleteContext{
				From:  t1,
				Where: value(t, t1.Col("f2"), relation.LT, 8),
			},
			want: "delete(t1)\n" +
				"-table_access_by_row_id(t1)\n" +
				"--index_range_scan(t1.idx_f2, [unbound, 8), natural)\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, db.plan(t, tt.q, true).Explain()); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

// TestPlan_Transparent checks that every rewrite keeps the result of the
// unoptimized plan.
func TestPlan_Transparent(t *testing.T) {
	db := newTestDB(t)
	t1, emp, dept, pts := db.Table("t1"), db.Table("emp"), db.Table("dept"), db.Table("pts")
	e1, e2 := emp.As("e1"), emp.As("e2")
	count := relation.Aggregate(relation.Count, relation.Star)

	tests := []struct {
		name    string
		q       *query.SelectContext
		ordered bool
	}{
		{"PointLookup", &query.SelectContext{From: []*schema.Table{t1}, Where: value(t, t1.Col("f1"), relation.EQ, 2)}, false},
		{"Ranges", &query.SelectContext{
			From:  []*schema.Table{t1},
			Where: and(value(t, t1.Col("f1"), relation.GT, 1), value(t, t1.Col("f2"), relation.LT, 16)),
		}, false},
		{"In", &query.SelectContext{From: []*schema.Table{t1}, Where: value(t, t1.Col("f1"), relation.IN, []interface{}{3, 1})}, false},
		{"NotIn", &query.SelectContext{
			From:  []*schema.Table{t1},
			Where: relation.Not(value(t, t1.Col("f1"), relation.IN, []interface{}{3, 1})),
		}, false},
		{"SingleColumnOr", &query.SelectContext{
			From:  []*schema.Table{t1},
			Where: or(value(t, t1.Col("f2"), relation.LTE, 2), value(t, t1.Col("f2"), relation.GTE, 16)),
		}, false},
		{"OrderByAsc", &query.SelectContext{
			From:    []*schema.Table{t1},
			OrderBy: []query.OrderBy{{Column: t1.Col("f2"), Order: index.Asc}},
		}, true},
		{"OrderLimitSkip", &query.SelectContext{
			From:    []*schema.Table{t1},
			OrderBy: []query.OrderBy{{Column: t1.Col("f1"), Order: index.Desc}},
			Limit:   &query.Count{Value: 2},
			Skip:    &query.Count{Value: 1},
		}, true},
		{"Count", &query.SelectContext{Columns: []relation.Column{count}, From: []*schema.Table{emp}}, false},
		{"CountWithColumn", &query.SelectContext{Columns: []relation.Column{emp.Col("name"), count}, From: []*schema.Table{emp}}, false},
		{"CountAliased", &query.SelectContext{Columns: []relation.Column{count.As("n")}, From: []*schema.Table{t1}}, false},
		{"CompositeRange", &query.SelectContext{
			From:  []*schema.Table{pts},
			Where: and(value(t, pts.Col("a"), relation.GTE, 2), value(t, pts.Col("b"), relation.LT, 6)),
		}, false},
		{"CompositePrefix", &query.SelectContext{From: []*schema.Table{pts}, Where: value(t, pts.Col("a"), relation.EQ, 2)}, false},
		{"CompositeInnerRange", &query.SelectContext{
			From:  []*schema.Table{pts},
			Where: and(value(t, pts.Col("a"), relation.IN, []interface{}{1, 3}), value(t, pts.Col("b"), relation.GT, 2)),
		}, false},
		{"CompositeOrderNatural", &query.SelectContext{
			From: []*schema.Table{pts},
			OrderBy: []query.OrderBy{
				{Column: pts.Col("a"), Order: index.Asc},
				{Column: pts.Col("b"), Order: index.Desc},
			},
		}, true},
		{"CompositeOrderReverseLimit", &query.SelectContext{
			From:  []*schema.Table{pts},
			Where: value(t, pts.Col("a"), relation.LTE, 2),
			OrderBy: []query.OrderBy{
				{Column: pts.Col("a"), Order: index.Desc},
				{Column: pts.Col("b"), Order: index.Asc},
			},
			Limit: &query.Count{Value: 3},
			Skip:  &query.Count{Value: 1},
		}, true},
		{"InnerJoin", &query.SelectContext{
			From:  []*schema.Table{emp, dept},
			Joins: []query.Join{{Table: dept, On: join(t, emp.Col("deptId"), dept.Col("id"))}},
		}, false},
		{"OuterJoin", &query.SelectContext{
			From:  []*schema.Table{emp, dept},
			Joins: []query.Join{{Table: dept, On: join(t, emp.Col("deptId"), dept.Col("id")), Outer: true}},
		}, false},
		{"JoinWithFilters", &query.SelectContext{
			Columns: []relation.Column{emp.Col("name"), dept.Col("name")},
			From:    []*schema.Table{emp, dept},
			Where: and(
				join(t, emp.Col("deptId"), dept.Col("id")),
				value(t, dept.Col("name"), relation.EQ, "ops"),
				value(t, emp.Col("salary"), relation.GT, 75),
			),
		}, false},
		{"MultiColumnOr", &query.SelectContext{
			From:  []*schema.Table{emp},
			Where: or(value(t, emp.Col("id"), relation.EQ, 1), value(t, emp.Col("deptId"), relation.EQ, 2)),
		}, false},
		{"SelfJoin", &query.SelectContext{
			Columns: []relation.Column{e1.Col("name"), e2.Col("name")},
			From:    []*schema.Table{e1, e2},
			Where:   and(join(t, e1.Col("deptId"), e2.Col("deptId")), value(t, e1.Col("id"), relation.EQ, 1)),
		}, false},
		{"GroupBy", &query.SelectContext{
			Columns: []relation.Column{emp.Col("deptId"), count, relation.Aggregate(relation.Sum, emp.Col("salary"))},
			From:    []*schema.Table{emp},
			GroupBy: []relation.Column{emp.Col("deptId")},
			OrderBy: []query.OrderBy{{Column: emp.Col("deptId"), Order: index.Asc}},
		}, true},
		{"CountDistinct", &query.SelectContext{
			Columns: []relation.Column{relation.Aggregate(relation.Count, relation.Aggregate(relation.Distinct, emp.Col("deptId")))},
			From:    []*schema.Table{emp},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := render(db.exec(t, tt.q, false), tt.ordered)
			got := render(db.exec(t, tt.q, true), tt.ordered)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatal(diff)
			}
			require.NotEmpty(t, want)
		})
	}
}

func render(payloads []schema.Payload, ordered bool) []string {
	out := make([]string, len(payloads))
	for i, p := range payloads {
		out[i] = fmt.Sprint(map[string]interface{}(p))
	}
	if !ordered {
		sort.Strings(out)
	}
	return out
}

func TestPlan_Aggregates(t *testing.T) {
	db := newTestDB(t)
	emp := db.Table("emp")
	deptID := emp.Col("deptId")
	count := relation.Aggregate(relation.Count, relation.Star)
	sum := relation.Aggregate(relation.Sum, emp.Col("salary"))

	t.Run("GroupBy", func(t *testing.T) {
		got := db.exec(t, &query.SelectContext{
			Columns: []relation.Column{deptID, count, sum},
			From:    []*schema.Table{emp},
			GroupBy: []relation.Column{deptID},
			OrderBy: []query.OrderBy{{Column: sum, Order: index.Desc}},
		}, true)
		want := []schema.Payload{
			{"deptId": int64(1), "COUNT(*)": int64(2), "SUM(salary)": float64(180)},
			{"deptId": int64(2), "COUNT(*)": int64(2), "SUM(salary)": float64(160)},
			{"deptId": int64(9), "COUNT(*)": int64(1), "SUM(salary)": float64(60)},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Distinct", func(t *testing.T) {
		distinct := relation.Aggregate(relation.Distinct, deptID)
		got := db.exec(t, &query.SelectContext{
			Columns: []relation.Column{distinct},
			From:    []*schema.Table{emp},
			OrderBy: []query.OrderBy{{Column: distinct, Order: index.Desc}},
		}, true)
		assert.Equal(t, "9 2 1", flat(got, "DISTINCT(deptId)"))
	})

	t.Run("AggregateOfEmpty", func(t *testing.T) {
		got := db.exec(t, &query.SelectContext{
			Columns: []relation.Column{count, relation.Aggregate(relation.Max, emp.Col("salary")).As("top")},
			From:    []*schema.Table{emp},
			Where:   value(t, emp.Col("deptId"), relation.EQ, 42),
		}, true)
		want := []schema.Payload{{"COUNT(*)": int64(0), "top": nil}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ProjectionCopiesRows", func(t *testing.T) {
		got := db.exec(t, &query.SelectContext{From: []*schema.Table{emp}, Where: value(t, emp.Col("id"), relation.EQ, 1)}, true)
		require.Len(t, got, 1)
		got[0]["name"] = "changed"
		again := db.exec(t, &query.SelectContext{From: []*schema.Table{emp}, Where: value(t, emp.Col("id"), relation.EQ, 1)}, true)
		assert.Equal(t, "ann", again[0]["name"])
	})

	t.Run("NullsSortFirst", func(t *testing.T) {
		got := db.exec(t, &query.SelectContext{
			Columns: []relation.Column{emp.Col("title")},
			From:    []*schema.Table{emp},
			OrderBy: []query.OrderBy{
				{Column: emp.Col("title"), Order: index.Asc},
				{Column: emp.Col("id"), Order: index.Desc},
			},
		}, true)
		assert.Equal(t, "<nil> <nil> ic ic lead", flat(got, "title"))
	})
}

func TestPlan_Writes(t *testing.T) {
	db := newTestDB(t)
	emp := db.Table("emp")

	upd := &query.UpdateContext{
		Table: emp,
		Set:   []query.Assignment{{Column: emp.Col("salary"), Value: 1}},
		Where: value(t, emp.Col("deptId"), relation.EQ, 2),
	}
	assert.Equal(t, "update(emp)\n-table_access_by_row_id(emp)\n--index_range_scan(emp.idx_dept, [2, 2], natural)\n", db.plan(t, upd, true).Explain())
	db.exec(t, upd, true)

	got := db.exec(t, &query.SelectContext{
		Columns: []relation.Column{emp.Col("salary")},
		From:    []*schema.Table{emp},
		OrderBy: []query.OrderBy{{Column: emp.Col("id"), Order: index.Asc}},
	}, true)
	assert.Equal(t, "100 80 1 1 60", flat(got, "salary"))

	ins := &query.InsertContext{Into: emp, Values: []*schema.Row{emp.CreateRow(schema.Payload{"id": 6, "name": "fay", "deptId": 1, "salary": 50})}}
	assert.Equal(t, "insert(emp)\n", db.plan(t, ins, true).Explain())
	rows := db.exec(t, ins, true)
	require.Len(t, rows, 1)
	assert.Equal(t, 6, db.env.Cache.Count("emp"))

	t.Run("ReadOnlyContext", func(t *testing.T) {
		_, err := db.plan(t, ins, true).Exec(context.Background(), &planner.ExecContext{Env: db.env})
		assert.True(t, errors.Is(err, errors.ErrInvalidTransactionState), "got %v", err)
	})
}

func TestPlan_Unbound(t *testing.T) {
	db := newTestDB(t)
	t1 := db.Table("t1")
	q := &query.SelectContext{From: []*schema.Table{t1}, Where: value(t, t1.Col("f1"), relation.EQ, relation.Param(0))}
	_, err := planner.NewPlanner(db.env, nil).Plan(q)
	assert.True(t, errors.Is(err, errors.ErrBinding), "got %v", err)

	bound, err := q.Bind([]interface{}{4})
	require.NoError(t, err)
	assert.Equal(t, "4 16", flat(db.exec(t, bound, true), "f1", "f2"))
}
