// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cache_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pk(col string) []schema.IndexedCol { return []schema.IndexedCol{schema.Asc(col)} }

// newTestEnv builds TableA <- TableB <- TableB1 with CASCADE keys, TableB2
// referencing TableB with RESTRICT, and TableC referencing TableA with a
// deferrable key.
func newTestEnv(t *testing.T) *cache.Env {
	t.Helper()
	b := schema.NewBuilder("cascade")
	b.CreateTable("TableA").
		AddColumn("id", schema.String).
		AddColumn("name", schema.String).
		AddPrimaryKey(pk("id"), false).
		AddUnique("uq_name", "name")
	b.CreateTable("TableB").
		AddColumn("id", schema.String).
		AddColumn("foreignId", schema.String).
		AddPrimaryKey(pk("id"), false).
		AddForeignKey("fk_A", schema.FKSpec{Local: "foreignId", Ref: "TableA.id", Action: schema.Cascade})
	b.CreateTable("TableB1").
		AddColumn("id", schema.String).
		AddColumn("foreignId", schema.String).
		AddPrimaryKey(pk("id"), false).
		AddForeignKey("fk_B", schema.FKSpec{Local: "foreignId", Ref: "TableB.id", Action: schema.Cascade})
	b.CreateTable("TableB2").
		AddColumn("id", schema.String).
		AddColumn("foreignId", schema.String).
		AddPrimaryKey(pk("id"), false).
		AddForeignKey("fk_B", schema.FKSpec{Local: "foreignId", Ref: "TableB.id", Action: schema.Restrict})
	b.CreateTable("TableC").
		AddColumn("id", schema.Integer).
		AddColumn("aId", schema.String).
		AddNullable("aId").
		AddPrimaryKey(pk("id"), true).
		AddForeignKey("fk_A", schema.FKSpec{Local: "aId", Ref: "TableA.id", Timing: schema.Deferrable})
	db, err := b.Build()
	require.NoError(t, err)
	env, err := cache.NewEnv(db, index.KindAATree)
	require.NoError(t, err)
	return env
}

func newJournal(env *cache.Env) *cache.Journal {
	return cache.NewJournal(env, env.DB.Tables())
}

func row(env *cache.Env, table string, p schema.Payload) *schema.Row {
	return env.DB.Table(table).CreateRow(p)
}

func seed(t *testing.T, env *cache.Env) {
	t.Helper()
	j := newJournal(env)
	require.NoError(t, j.Insert(env.DB.Table("TableA"), []*schema.Row{
		row(env, "TableA", schema.Payload{"id": "a1", "name": "one"}),
		row(env, "TableA", schema.Payload{"id": "a2", "name": "two"}),
	}))
	require.NoError(t, j.Insert(env.DB.Table("TableB"), []*schema.Row{
		row(env, "TableB", schema.Payload{"id": "b1", "foreignId": "a1"}),
		row(env, "TableB", schema.Payload{"id": "b2", "foreignId": "a2"}),
	}))
	require.NoError(t, j.Insert(env.DB.Table("TableB1"), []*schema.Row{
		row(env, "TableB1", schema.Payload{"id": "b11", "foreignId": "b1"}),
		row(env, "TableB1", schema.Payload{"id": "b12", "foreignId": "b2"}),
	}))
	j.Finish()
}

func counts(t *testing.T, env *cache.Env) map[string]int {
	t.Helper()
	out := make(map[string]int)
	for _, tbl := range env.DB.Tables() {
		out[tbl.Name()] = env.Cache.Count(tbl.Name())
		assert.Equal(t, out[tbl.Name()], env.RowIDIndex(tbl).Stats().TotalRows, "row id index of %s", tbl.Name())
	}
	return out
}

func TestTableDiff(t *testing.T) {
	r := func(id schema.RowID, v int) *schema.Row { return schema.NewRow(id, schema.Payload{"v": v}) }

	t.Run("InsertThenDeleteCancels", func(t *testing.T) {
		d := cache.NewTableDiff("t")
		d.Add(r(1, 1))
		d.Delete(r(1, 1))
		assert.True(t, d.IsEmpty())
	})
	t.Run("DeleteThenInsertModifies", func(t *testing.T) {
		d := cache.NewTableDiff("t")
		d.Delete(r(1, 1))
		d.Add(r(1, 2))
		require.Len(t, d.Modified(), 1)
		assert.Equal(t, 1, d.Modified()[0].Before.Payload()["v"])
		assert.Equal(t, 2, d.Modified()[0].After.Payload()["v"])
	})
	t.Run("ModifyKeepsOriginal", func(t *testing.T) {
		d := cache.NewTableDiff("t")
		d.Modify(cache.Modification{Before: r(1, 1), After: r(1, 2)})
		d.Modify(cache.Modification{Before: r(1, 2), After: r(1, 3)})
		d.Delete(r(1, 3))
		assert.Empty(t, d.Modified())
		require.Len(t, d.Deleted(), 1)
		assert.Equal(t, 1, d.Deleted()[0].Payload()["v"])
	})
	t.Run("MergeAndReverse", func(t *testing.T) {
		d := cache.NewTableDiff("t")
		d.Add(r(2, 1))
		d.Delete(r(3, 1))
		later := cache.NewTableDiff("t")
		later.Modify(cache.Modification{Before: r(2, 1), After: r(2, 5)})
		later.Add(r(4, 1))
		d.Merge(later)
		added, modified, deleted := d.Counts()
		assert.Equal(t, []int{2, 0, 1}, []int{added, modified, deleted})
		assert.Equal(t, 5, d.Added()[0].Payload()["v"])

		rev := d.Reverse()
		assert.Equal(t, "t: added [3], modified [], deleted [2 4]", rev.String())
	})
}

func TestInsertConstraints(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	before := counts(t, env)

	tests := []struct {
		name  string
		table string
		rows  []schema.Payload
		kind  errors.ConstraintKind
	}{
		{"NotNull", "TableA", []schema.Payload{{"id": nil, "name": "x"}}, errors.NotNull},
		{"UniquePK", "TableA", []schema.Payload{{"id": "a1", "name": "x"}}, errors.Unique},
		{"UniqueSecondary", "TableA", []schema.Payload{{"id": "a3", "name": "one"}}, errors.Unique},
		{"SecondRowFails", "TableA", []schema.Payload{{"id": "a3", "name": "three"}, {"id": "a4", "name": "three"}}, errors.Unique},
		{"MissingParent", "TableB", []schema.Payload{{"id": "b9", "foreignId": "zz"}}, errors.ForeignKey},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			j := newJournal(env)
			var rows []*schema.Row
			for _, p := range test.rows {
				rows = append(rows, row(env, test.table, p))
			}
			err := j.Insert(env.DB.Table(test.table), rows)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConstraintViolation))
			var ce *errors.ConstraintError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, test.kind, ce.Kind)

			require.NoError(t, j.Rollback())
			if diff := cmp.Diff(before, counts(t, env)); diff != "" {
				t.Fatalf("state changed (-before +after):\n%s", diff)
			}
		})
	}
}

func TestFailedRowLeavesIndicesConsistent(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	a := env.DB.Table("TableA")

	// "two" collides in uq_name after the row id and pk indices were
	// already updated for the new row.
	j := newJournal(env)
	err := j.Insert(a, []*schema.Row{row(env, "TableA", schema.Payload{"id": "a9", "name": "two"})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConstraintViolation))
	assert.Contains(t, err.Error(), "updating indices of TableA: ")
	assert.False(t, env.Index(a.PrimaryKey()).ContainsKey("a9"))
	assert.Equal(t, 2, env.RowIDIndex(a).Stats().TotalRows)
	assert.Empty(t, j.Diff())
}

func TestCascadeDelete(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	a := env.DB.Table("TableA")

	j := newJournal(env)
	rows := env.Cache.GetMany(env.Index(a.PrimaryKey()).Get("a1"))
	require.NoError(t, j.Remove(a, rows))
	assert.Equal(t, map[string]int{"TableA": 1, "TableB": 1, "TableB1": 1, "TableB2": 0, "TableC": 0}, counts(t, env))
	assert.False(t, env.Index(env.DB.Table("TableB1").PrimaryKey()).ContainsKey("b11"))

	require.NoError(t, j.Rollback())
	assert.Equal(t, map[string]int{"TableA": 2, "TableB": 2, "TableB1": 2, "TableB2": 0, "TableC": 0}, counts(t, env))
	assert.True(t, env.Index(env.DB.Table("TableB1").PrimaryKey()).ContainsKey("b11"))
}

func TestCascadeDeleteRestricted(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	j := newJournal(env)
	require.NoError(t, j.Insert(env.DB.Table("TableB2"), []*schema.Row{
		row(env, "TableB2", schema.Payload{"id": "b21", "foreignId": "b1"}),
	}))
	j.Finish()
	before := counts(t, env)

	a := env.DB.Table("TableA")
	j = newJournal(env)
	err := j.Remove(a, env.Cache.GetMany(env.Index(a.PrimaryKey()).Get("a1")))
	var ce *errors.ConstraintError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, errors.Restrict, ce.Kind)
	assert.Contains(t, err.Error(), "cascading delete to TableB: ")
	assert.Equal(t, before, counts(t, env), "no row is removed anywhere")
	assert.Empty(t, j.Diff())
}

func TestCascadeUpdate(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	a, b := env.DB.Table("TableA"), env.DB.Table("TableB")

	j := newJournal(env)
	old := env.Cache.Get(env.Index(a.PrimaryKey()).Get("a1")[0])
	updated := old.Copy()
	updated.Payload()["id"] = "a1x"
	require.NoError(t, j.Update(a, []*schema.Row{updated}))

	bIDs := env.Index(b.Col("foreignId").Index()).Get("a1x")
	require.Len(t, bIDs, 1)
	assert.Equal(t, "b1", env.Cache.Get(bIDs[0]).Payload()["id"])
	assert.Empty(t, env.Index(b.Col("foreignId").Index()).Get("a1"))
	require.Len(t, j.Diff(), 2)

	// Changing a key that a RESTRICT child references fails.
	require.NoError(t, j.Insert(env.DB.Table("TableB2"), []*schema.Row{
		row(env, "TableB2", schema.Payload{"id": "b21", "foreignId": "b2"}),
	}))
	b2 := env.Cache.Get(env.Index(b.PrimaryKey()).Get("b2")[0]).Copy()
	b2.Payload()["id"] = "b2x"
	err := j.Update(b, []*schema.Row{b2})
	assert.True(t, errors.Is(err, errors.ErrConstraintViolation))

	require.NoError(t, j.Rollback())
	assert.Equal(t, []schema.RowID{old.ID()}, env.Index(a.PrimaryKey()).Get("a1"))
	assert.Len(t, env.Index(b.Col("foreignId").Index()).Get("a1"), 1)
}

func TestInsertOrReplace(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	a := env.DB.Table("TableA")
	oldID := env.Index(a.PrimaryKey()).Get("a1")[0]

	j := newJournal(env)
	require.NoError(t, j.InsertOrReplace(a, []*schema.Row{
		row(env, "TableA", schema.Payload{"id": "a1", "name": "uno"}),
		row(env, "TableA", schema.Payload{"id": "a3", "name": "tres"}),
	}))
	assert.Equal(t, "uno", env.Cache.Get(oldID).Payload()["name"])
	assert.Equal(t, 3, env.Cache.Count("TableA"))

	d := j.Diff()
	require.Len(t, d, 1)
	added, modified, deleted := d[0].Counts()
	assert.Equal(t, []int{1, 1, 0}, []int{added, modified, deleted})
}

func TestAutoIncrement(t *testing.T) {
	env := newTestEnv(t)
	c := env.DB.Table("TableC")
	j := newJournal(env)
	rows := []*schema.Row{
		row(env, "TableC", schema.Payload{}),
		row(env, "TableC", schema.Payload{"id": 10}),
		row(env, "TableC", schema.Payload{"id": 0}),
	}
	require.NoError(t, j.Insert(c, rows[:2]))
	require.NoError(t, j.Insert(c, rows[2:]))
	var got []interface{}
	for _, r := range rows {
		got = append(got, r.Payload()["id"])
	}
	assert.Equal(t, []interface{}{int64(1), int64(10), int64(11)}, got)
}

func TestDeferredConstraints(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	c, a := env.DB.Table("TableC"), env.DB.Table("TableA")

	j := newJournal(env)
	// The parent does not exist yet; the check waits for commit.
	require.NoError(t, j.Insert(c, []*schema.Row{row(env, "TableC", schema.Payload{"aId": "a5"})}))
	err := j.CheckDeferredConstraints()
	var ce *errors.ConstraintError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Deferred)
	assert.Equal(t, errors.ForeignKey, ce.Kind)

	require.NoError(t, j.Insert(a, []*schema.Row{row(env, "TableA", schema.Payload{"id": "a5", "name": "five"})}))
	assert.NoError(t, j.CheckDeferredConstraints())
}

func TestScope(t *testing.T) {
	env := newTestEnv(t)
	j := cache.NewJournal(env, []*schema.Table{env.DB.Table("TableA")})
	err := j.Insert(env.DB.Table("TableB"), []*schema.Row{row(env, "TableB", schema.Payload{"id": "b", "foreignId": "a"})})
	assert.True(t, errors.Is(err, errors.ErrScope))

	require.NoError(t, j.Rollback())
	err = j.Rollback()
	assert.True(t, errors.Is(err, errors.ErrInvalidTransactionState))
}

func TestApplyDiffsSwapsUniqueKeys(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	a := env.DB.Table("TableA")
	r1 := env.Cache.Get(env.Index(a.PrimaryKey()).Get("a1")[0])
	r2 := env.Cache.Get(env.Index(a.PrimaryKey()).Get("a2")[0])

	swap1, swap2 := r1.Copy(), r2.Copy()
	swap1.Payload()["name"], swap2.Payload()["name"] = "two", "one"
	d := cache.NewTableDiff("TableA")
	d.Modify(cache.Modification{Before: r1, After: swap1})
	d.Modify(cache.Modification{Before: r2, After: swap2})

	require.NoError(t, cache.NewInMemoryUpdater(env).ApplyDiffs([]*cache.TableDiff{d}))
	assert.Equal(t, []schema.RowID{r1.ID()}, env.Index(a.Index("uq_name")).Get("two"))
}
