// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
	"github.com/stretchr/testify/require"
)

func logicalTestDB(t *testing.T) *schema.Database {
	t.Helper()
	b := schema.NewBuilder("logical")
	b.CreateTable("t1").
		AddColumn("f1", schema.Integer).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("f1")}, false)
	b.CreateTable("dept").
		AddColumn("id", schema.Integer).
		AddColumn("name", schema.String).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false)
	b.CreateTable("emp").
		AddColumn("id", schema.Integer).
		AddColumn("deptId", schema.Integer).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false)
	db, err := b.Build()
	require.NoError(t, err)
	return db
}

func TestOptimizeLogical(t *testing.T) {
	db := logicalTestDB(t)
	emp, dept, t1 := db.Table("emp"), db.Table("dept"), db.Table("t1")

	jp, err := relation.NewJoinPredicate(emp.Col("deptId"), relation.EQ, dept.Col("id"))
	require.NoError(t, err)
	f1, err := relation.NewValuePredicate(t1.Col("f1"), relation.EQ, 1)
	require.NoError(t, err)
	name, err := relation.NewValuePredicate(dept.Col("name"), relation.EQ, "eng")
	require.NoError(t, err)

	q := &query.SelectContext{
		From:  []*schema.Table{emp, dept, t1},
		Where: relation.NewCombinedPredicate(relation.And, jp, f1, name),
	}
	n, err := GenerateLogicalPlan(q)
	require.NoError(t, err)

	t.Run("Generated", func(t *testing.T) {
		want := "project()\n" +
			"-select(combined_pred_and(join_pred(emp.deptId eq dept.id), value_pred(t1.f1 eq 1), value_pred(dept.name eq eng)))\n" +
			"--cross_product\n" +
			"---table_access(emp)\n" +
			"---table_access(dept)\n" +
			"---table_access(t1)\n"
		if diff := cmp.Diff(want, ExplainLogical(n)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Optimized", func(t *testing.T) {
		out, err := optimizeLogical(n)
		require.NoError(t, err)
		want := "project()\n" +
			"-cross_product\n" +
			"--join(type: inner, join_pred(emp.deptId eq dept.id))\n" +
			"---table_access(emp)\n" +
			"---select(value_pred(dept.name eq eng))\n" +
			"----table_access(dept)\n" +
			"--select(value_pred(t1.f1 eq 1))\n" +
			"---table_access(t1)\n"
		if diff := cmp.Diff(want, ExplainLogical(out)); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestPushDownOuterJoin(t *testing.T) {
	db := logicalTestDB(t)
	emp, dept := db.Table("emp"), db.Table("dept")

	jp, err := relation.NewJoinPredicate(emp.Col("deptId"), relation.EQ, dept.Col("id"))
	require.NoError(t, err)
	name, err := relation.NewValuePredicate(dept.Col("name"), relation.EQ, "eng")
	require.NoError(t, err)
	id, err := relation.NewValuePredicate(emp.Col("id"), relation.GT, 2)
	require.NoError(t, err)

	q := &query.SelectContext{
		From:  []*schema.Table{emp, dept},
		Joins: []query.Join{{Table: dept, On: jp, Outer: true}},
		Where: relation.NewCombinedPredicate(relation.And, name, id),
	}
	n, err := GenerateLogicalPlan(q)
	require.NoError(t, err)
	out, err := optimizeLogical(n)
	require.NoError(t, err)

	// The filter on the padded side stays above the join.
	want := "project()\n" +
		"-select(value_pred(dept.name eq eng))\n" +
		"--join(type: outer, join_pred(emp.deptId eq dept.id))\n" +
		"---select(value_pred(emp.id gt 2))\n" +
		"----table_access(emp)\n" +
		"---table_access(dept)\n"
	if diff := cmp.Diff(want, ExplainLogical(out)); diff != "" {
		t.Fatal(diff)
	}
}
