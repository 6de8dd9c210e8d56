// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/molecula/relstore"
	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/observer"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_Exec(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	t1 := db.table("t1")

	tx := db.CreateTransaction()
	results, err := tx.Exec(ctx,
		db.Insert().Into(t1).Values(
			t1.CreateRow(schema.Payload{"f1": 1, "f2": 2}),
			t1.CreateRow(schema.Payload{"f1": 2, "f2": 4}),
		),
		db.Update(t1).Set(t1.Col("f2"), 5).Where(relstore.Eq(t1.Col("f1"), 2)),
		db.Select().From(t1).Where(relstore.Eq(t1.Col("f1"), 2)),
	)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "5", flat(results[2], "f2"))
	assert.Equal(t, relstore.TxFinalized, tx.State())
	assert.Equal(t, &backstore.TxStats{Success: true, InsertedRows: 2, ChangedTables: 1}, tx.Stats())

	_, err = tx.Exec(ctx, db.Select().From(t1))
	assert.True(t, errors.Is(err, errors.ErrInvalidTransactionState))
}

func TestTransaction_ExecFailure(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	t1 := db.table("t1")

	tx := db.CreateTransaction()
	_, err := tx.Exec(ctx,
		db.Insert().Into(t1).Values(t1.CreateRow(schema.Payload{"f1": 1, "f2": 2})),
		db.Insert().Into(t1).Values(t1.CreateRow(schema.Payload{"f1": 1, "f2": 3})),
	)
	assert.True(t, errors.Is(err, errors.ErrConstraintViolation), "got %v", err)
	assert.Equal(t, &backstore.TxStats{}, tx.Stats())
	assert.Equal(t, 0, db.count(t, "t1"))
}

func TestTransaction_Explicit(t *testing.T) {
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		db := newTestDB(t)
		a, b := db.table("TableA"), db.table("TableB")
		tx := db.CreateTransaction()
		assert.Nil(t, tx.Stats())
		require.NoError(t, tx.Begin(ctx, a, b, db.table("TableB1"), db.table("TableB2")))
		assert.Equal(t, relstore.TxAcquiredScope, tx.State())

		_, err := tx.Attach(ctx, db.Insert().Into(a).Values(a.CreateRow(schema.Payload{"id": 1})))
		require.NoError(t, err)
		_, err = tx.Attach(ctx, db.Insert().Into(b).Values(b.CreateRow(schema.Payload{"id": 10, "foreignId": 1})))
		require.NoError(t, err)
		rows, err := tx.Attach(ctx, db.Select().From(b))
		require.NoError(t, err)
		assert.Len(t, rows, 1)

		require.NoError(t, tx.Commit(ctx))
		assert.Equal(t, &backstore.TxStats{Success: true, InsertedRows: 2, ChangedTables: 2}, tx.Stats())
		assert.Equal(t, 1, db.count(t, "TableB"))
	})

	t.Run("Rollback", func(t *testing.T) {
		db := newTestDB(t)
		t1 := db.table("t1")
		tx := db.CreateTransaction()
		require.NoError(t, tx.Begin(ctx, t1))
		_, err := tx.Attach(ctx, db.Insert().Into(t1).Values(t1.CreateRow(schema.Payload{"f1": 1, "f2": 2})))
		require.NoError(t, err)
		require.NoError(t, tx.Rollback(ctx))
		assert.Equal(t, relstore.TxFinalized, tx.State())
		assert.Equal(t, 0, db.count(t, "t1"))
	})

	t.Run("FailedAttach", func(t *testing.T) {
		db := newTestDB(t)
		t1 := db.table("t1")
		tx := db.CreateTransaction()
		require.NoError(t, tx.Begin(ctx, t1))
		_, err := tx.Attach(ctx, db.Insert().Into(t1).Values(t1.CreateRow(schema.Payload{"f1": 1, "f2": 2})))
		require.NoError(t, err)
		_, err = tx.Attach(ctx, db.Select().From(db.table("emp")))
		assert.True(t, errors.Is(err, errors.ErrScope), "got %v", err)

		assert.Equal(t, relstore.TxFinalized, tx.State())
		assert.Equal(t, 0, db.count(t, "t1"))
		assert.True(t, errors.Is(tx.Commit(ctx), errors.ErrInvalidTransactionState))
	})

	t.Run("InvalidTransitions", func(t *testing.T) {
		db := newTestDB(t)
		t1 := db.table("t1")
		tx := db.CreateTransaction()
		_, err := tx.Attach(ctx, db.Select().From(t1))
		assert.True(t, errors.Is(err, errors.ErrInvalidTransactionState))
		assert.True(t, errors.Is(tx.Commit(ctx), errors.ErrInvalidTransactionState))
		assert.True(t, errors.Is(tx.Rollback(ctx), errors.ErrInvalidTransactionState))

		require.NoError(t, tx.Begin(ctx, t1))
		assert.True(t, errors.Is(tx.Begin(ctx, t1), errors.ErrInvalidTransactionState))
		_, err = tx.Exec(ctx, db.Select().From(t1))
		assert.True(t, errors.Is(err, errors.ErrInvalidTransactionState))
		require.NoError(t, tx.Commit(ctx))
	})

	t.Run("HoldsScope", func(t *testing.T) {
		db := newTestDB(t)
		t1 := db.table("t1")
		tx := db.CreateTransaction()
		require.NoError(t, tx.Begin(ctx, t1))

		done := make(chan int, 1)
		go func() {
			rows, err := db.Select().From(t1).Exec(ctx)
			assert.NoError(t, err)
			done <- len(rows)
		}()
		require.Eventually(t, func() bool { return db.RunnerStats().Queued == 1 }, 5*time.Second, time.Millisecond)

		_, err := tx.Attach(ctx, db.Insert().Into(t1).Values(t1.CreateRow(schema.Payload{"f1": 1, "f2": 2})))
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
		select {
		case n := <-done:
			assert.Equal(t, 1, n)
		case <-time.After(5 * time.Second):
			t.Fatal("select did not run after commit")
		}
	})
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	db.fillT1(t)
	t1 := db.table("t1")

	changes := make(chan []observer.ChangeRecord, 8)
	next := func() []observer.ChangeRecord {
		t.Helper()
		select {
		case records := <-changes:
			return records
		case <-time.After(5 * time.Second):
			t.Fatal("observer was not called")
		}
		return nil
	}

	q := db.Select().From(t1).Where(relstore.Gt(t1.Col("f2"), 4)).OrderBy(t1.Col("f1"), index.Asc)
	h, err := db.Observe(q, func(records []observer.ChangeRecord) { changes <- records })
	require.NoError(t, err)

	records := next()
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].AddedCount)
	assert.Equal(t, 0, records[0].Index)

	_, err = db.Insert().Into(t1).Values(t1.CreateRow(schema.Payload{"f1": 0, "f2": 100})).Exec(ctx)
	require.NoError(t, err)
	records = next()
	require.Len(t, records, 1)
	assert.Equal(t, observer.ChangeRecord{
		AddedCount: 1,
		Index:      0,
		Removed:    []schema.Payload{},
		Object: []schema.Payload{
			{"f1": int64(0), "f2": int64(100)},
			{"f1": int64(3), "f2": int64(8)},
			{"f1": int64(4), "f2": int64(16)},
		},
		Type: observer.SpliceType,
	}, records[0])

	// A change outside the result leaves observers alone.
	_, err = db.Delete().From(t1).Where(relstore.Eq(t1.Col("f1"), 1)).Exec(ctx)
	require.NoError(t, err)

	_, err = db.Delete().From(t1).Where(relstore.Eq(t1.Col("f1"), 3)).Exec(ctx)
	require.NoError(t, err)
	records = next()
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Index)
	assert.Equal(t, []schema.Payload{{"f1": int64(3), "f2": int64(8)}}, records[0].Removed)

	assert.True(t, db.Unobserve(q, h))
	assert.False(t, db.Unobserve(q, h))
	_, err = db.Delete().From(t1).Exec(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	_, err = db.Observe(db.Select().From(t1).Where(relstore.Eq(t1.Col("f1"), relation.Param(0))), func([]observer.ChangeRecord) {})
	assert.True(t, errors.Is(err, errors.ErrBinding), "got %v", err)
}
