// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package backstore defines the persistent store a database commits to, and
// the merge of a transaction journal into it. Concrete stores live in the
// memory and bolt subpackages.
package backstore

import (
	"context"

	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
	"github.com/molecula/relstore/tracing"
)

// TxType is the access mode of a store transaction.
type TxType int

const (
	ReadOnly TxType = iota
	ReadWrite
)

func (t TxType) String() string {
	if t == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// TableType tells a store whether a table holds rows or a persisted index.
type TableType int

const (
	DataTable TableType = iota
	IndexTable
)

// DeserializeFn rebuilds a row read from a store.
type DeserializeFn func(id schema.RowID, p schema.Payload) *schema.Row

// RawRow keeps the stored payload as is. Index tables are read with it.
func RawRow(id schema.RowID, p schema.Payload) *schema.Row {
	return schema.NewRow(id, p)
}

// ChangeHandler receives the diffs committed to a store by another handle.
type ChangeHandler func(diffs []*cache.TableDiff)

// BackStore is the persistent store of a database.
type BackStore interface {
	// Init prepares the store for every table of db.
	Init(ctx context.Context, db *schema.Database) error
	// CreateTx opens a transaction over scope. A read-write transaction
	// is given the journal it will merge on commit.
	CreateTx(typ TxType, scope []*schema.Table, j *cache.Journal) (Tx, error)
	// Subscribe registers fn for changes made through other handles.
	Subscribe(fn ChangeHandler)
	Close() error
}

// Tx is a store transaction.
type Tx interface {
	Table(name string, fn DeserializeFn, typ TableType) (Table, error)
	// Commit writes the journal, if any, and makes the transaction durable.
	Commit(ctx context.Context) error
	// Abort discards the transaction. It is safe after Commit.
	Abort()
	Stats() *TxStats
}

// Table is a table inside a store transaction. An empty id list means every
// row of the table.
type Table interface {
	Get(ctx context.Context, ids []schema.RowID) ([]*schema.Row, error)
	Put(ctx context.Context, rows []*schema.Row) error
	Remove(ctx context.Context, ids []schema.RowID) error
}

// TxStats summarizes a committed transaction.
type TxStats struct {
	Success       bool
	InsertedRows  int
	UpdatedRows   int
	DeletedRows   int
	ChangedTables int
}

// MergeJournal writes every table diff of j through tx, then rewrites the
// persisted indices of the changed tables. It fills stats as it goes.
func MergeJournal(ctx context.Context, tx Tx, j *cache.Journal, stats *TxStats) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "backstore.MergeJournal")
	defer span.Finish()

	db := j.Env().DB
	for _, d := range j.Diff() {
		t := db.Table(d.Table())
		if t == nil {
			return errors.Newf(errors.ErrNotFound, "table %s", d.Table())
		}
		tbl, err := tx.Table(t.Name(), t.DeserializeRow, DataTable)
		if err != nil {
			return errors.Wrapf(err, "opening %s", t.Name())
		}
		added, modified, deleted := d.Counts()
		if added+modified > 0 {
			rows := d.Added()
			for _, m := range d.Modified() {
				rows = append(rows, m.After)
			}
			if err := tbl.Put(ctx, rows); err != nil {
				return errors.Wrapf(err, "writing %s", t.Name())
			}
		}
		if deleted > 0 {
			ids := make([]schema.RowID, 0, deleted)
			for _, r := range d.Deleted() {
				ids = append(ids, r.ID())
			}
			if err := tbl.Remove(ctx, ids); err != nil {
				return errors.Wrapf(err, "removing from %s", t.Name())
			}
		}
		stats.InsertedRows += added
		stats.UpdatedRows += modified
		stats.DeletedRows += deleted
		stats.ChangedTables++
	}
	span.LogKV("tables", stats.ChangedTables)

	for _, idx := range j.IndexDiff() {
		if err := writeIndex(ctx, tx, idx); err != nil {
			return errors.Wrapf(err, "persisting index %s", idx.Name())
		}
	}
	return nil
}

func writeIndex(ctx context.Context, tx Tx, idx index.Index) error {
	tbl, err := tx.Table(idx.Name(), RawRow, IndexTable)
	if err != nil {
		return err
	}
	if err := tbl.Remove(ctx, nil); err != nil {
		return err
	}
	serialized := idx.Serialize()
	rows := make([]*schema.Row, len(serialized))
	for i, sr := range serialized {
		rows[i] = schema.NewRow(sr.ID, schema.Payload(sr.Payload))
	}
	return tbl.Put(ctx, rows)
}

// LoadIndex reads the persisted rows of idx and loads them into it.
func LoadIndex(ctx context.Context, tx Tx, idx index.Index) error {
	tbl, err := tx.Table(idx.Name(), RawRow, IndexTable)
	if err != nil {
		return err
	}
	rows, err := tbl.Get(ctx, nil)
	if err != nil {
		return err
	}
	serialized := make([]*index.SerializedRow, len(rows))
	for i, r := range rows {
		serialized[i] = &index.SerializedRow{ID: r.ID(), Payload: r.Payload()}
	}
	return index.Deserialize(idx, serialized)
}

// CopyDiffs returns diffs holding copies of the rows of diffs, for handing
// committed changes to another handle's cache.
func CopyDiffs(diffs []*cache.TableDiff) []*cache.TableDiff {
	out := make([]*cache.TableDiff, len(diffs))
	for i, d := range diffs {
		cp := cache.NewTableDiff(d.Table())
		for _, m := range d.AsModifications() {
			if m.Before != nil {
				m.Before = m.Before.Copy()
			}
			if m.After != nil {
				m.After = m.After.Copy()
			}
			cp.Apply(m)
		}
		out[i] = cp
	}
	return out
}
