// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package memory is a BackStore holding every table in persistent sorted
// maps. Read transactions see the snapshot taken when they started; write
// transactions build new versions that replace the shared ones on commit.
package memory

import (
	"context"
	"sync"

	"github.com/benbjohnson/immutable"

	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/schema"
)

type rowMap = immutable.SortedMap[schema.RowID, *schema.Row]

func newRowMap() *rowMap {
	return immutable.NewSortedMap[schema.RowID, *schema.Row](nil)
}

// data is the state shared by every handle connected to the same store.
type data struct {
	mu      sync.Mutex
	tables  map[string]*rowMap
	handles []*Store
}

// Ensure type implements interface.
var _ backstore.BackStore = (*Store)(nil)

// Store is one handle on an in-memory store.
type Store struct {
	data   *data
	logger logger.Logger

	mu          sync.RWMutex
	subscribers []backstore.ChangeHandler
	closed      bool
}

// New returns a handle on a new, empty store.
func New(log logger.Logger) *Store {
	if log == nil {
		log = logger.NopLogger
	}
	d := &data{tables: make(map[string]*rowMap)}
	s := &Store{data: d, logger: log}
	d.handles = append(d.handles, s)
	return s
}

// Connect returns another handle on the data of s. Commits made through
// one handle are reported to the subscribers of the others.
func (s *Store) Connect() *Store {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	h := &Store{data: s.data, logger: s.logger}
	s.data.handles = append(s.data.handles, h)
	return h
}

// Init creates an empty table for every table of db that has none yet.
func (s *Store) Init(ctx context.Context, db *schema.Database) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for _, t := range db.Tables() {
		if _, ok := s.data.tables[t.Name()]; !ok {
			s.data.tables[t.Name()] = newRowMap()
		}
	}
	return nil
}

func (s *Store) CreateTx(typ backstore.TxType, scope []*schema.Table, j *cache.Journal) (backstore.Tx, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, errors.New(errors.ErrClosed, "memory store is closed")
	}
	if typ == backstore.ReadWrite && j == nil {
		return nil, errors.New(errors.ErrInvalidTransactionState, "read-write transaction without a journal")
	}

	s.data.mu.Lock()
	snapshot := make(map[string]*rowMap, len(s.data.tables))
	for name, m := range s.data.tables {
		snapshot[name] = m
	}
	s.data.mu.Unlock()

	return &tx{
		store:    s,
		typ:      typ,
		journal:  j,
		snapshot: snapshot,
		written:  make(map[string]*rowMap),
		stats:    &backstore.TxStats{},
	}, nil
}

func (s *Store) Subscribe(fn backstore.ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Close detaches the handle. The data stays available to other handles.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.subscribers = nil
	s.mu.Unlock()

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for i, h := range s.data.handles {
		if h == s {
			s.data.handles = append(s.data.handles[:i], s.data.handles[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) notify(diffs []*cache.TableDiff) {
	s.mu.RLock()
	subs := append([]backstore.ChangeHandler(nil), s.subscribers...)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(backstore.CopyDiffs(diffs))
	}
}

type tx struct {
	store    *Store
	typ      backstore.TxType
	journal  *cache.Journal
	snapshot map[string]*rowMap
	written  map[string]*rowMap
	stats    *backstore.TxStats
	done     bool
}

func (t *tx) Table(name string, fn backstore.DeserializeFn, typ backstore.TableType) (backstore.Table, error) {
	if t.done {
		return nil, errors.New(errors.ErrInvalidTransactionState, "transaction already finished")
	}
	return &table{tx: t, name: name, fn: fn}, nil
}

func (t *tx) rows(name string) *rowMap {
	if m, ok := t.written[name]; ok {
		return m
	}
	if m, ok := t.snapshot[name]; ok {
		return m
	}
	return newRowMap()
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New(errors.ErrInvalidTransactionState, "transaction already finished")
	}
	t.done = true
	if t.typ == backstore.ReadOnly {
		t.stats.Success = true
		return nil
	}
	if err := backstore.MergeJournal(ctx, t, t.journal, t.stats); err != nil {
		return err
	}

	d := t.store.data
	d.mu.Lock()
	for name, m := range t.written {
		d.tables[name] = m
	}
	others := make([]*Store, 0, len(d.handles))
	for _, h := range d.handles {
		if h != t.store {
			others = append(others, h)
		}
	}
	d.mu.Unlock()

	t.stats.Success = true
	if diffs := t.journal.Diff(); len(diffs) > 0 {
		for _, h := range others {
			h.notify(diffs)
		}
	}
	return nil
}

func (t *tx) Abort() {
	t.done = true
	t.written = nil
}

func (t *tx) Stats() *backstore.TxStats { return t.stats }

type table struct {
	tx   *tx
	name string
	fn   backstore.DeserializeFn
}

func (tb *table) Get(ctx context.Context, ids []schema.RowID) ([]*schema.Row, error) {
	m := tb.tx.rows(tb.name)
	if len(ids) == 0 {
		out := make([]*schema.Row, 0, m.Len())
		itr := m.Iterator()
		for !itr.Done() {
			_, r, _ := itr.Next()
			out = append(out, tb.fn(r.ID(), r.Payload().Copy()))
		}
		return out, nil
	}
	out := make([]*schema.Row, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.Get(id); ok {
			out = append(out, tb.fn(r.ID(), r.Payload().Copy()))
		}
	}
	return out, nil
}

func (tb *table) writable() error {
	if tb.tx.typ != backstore.ReadWrite {
		return errors.Newf(errors.ErrInvalidTransactionState, "write to %s in a read-only transaction", tb.name)
	}
	return nil
}

func (tb *table) Put(ctx context.Context, rows []*schema.Row) error {
	if err := tb.writable(); err != nil {
		return err
	}
	m := tb.tx.rows(tb.name)
	for _, r := range rows {
		m = m.Set(r.ID(), r.Copy())
	}
	tb.tx.written[tb.name] = m
	return nil
}

func (tb *table) Remove(ctx context.Context, ids []schema.RowID) error {
	if err := tb.writable(); err != nil {
		return err
	}
	if len(ids) == 0 {
		tb.tx.written[tb.name] = newRowMap()
		return nil
	}
	m := tb.tx.rows(tb.name)
	for _, id := range ids {
		m = m.Delete(id)
	}
	tb.tx.written[tb.name] = m
	return nil
}
