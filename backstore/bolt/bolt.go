// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package bolt is a durable BackStore on a single bbolt file. Every table
// is a bucket keyed by row id; persisted indices live in "idx:" buckets.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/schema"
)

const indexBucketPrefix = "idx:"

// Ensure type implements interface.
var _ backstore.BackStore = (*Store)(nil)

// Store is a bbolt backed store.
type Store struct {
	mu          sync.RWMutex
	db          *bolt.DB
	subscribers []backstore.ChangeHandler

	logger logger.Logger

	// File path to database file.
	Path string
	// Disable fsync on commit.
	NoSync bool
}

// New returns a store for the file at path. The file is opened by Init.
func New(path string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NopLogger
	}
	return &Store{Path: path, logger: log}
}

// Init opens the file and creates a bucket for every table of db.
func (s *Store) Init(ctx context.Context, db *schema.Database) (err error) {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0750); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(s.Path))
	}
	bdb, err := bolt.Open(s.Path, 0600, &bolt.Options{Timeout: 1 * time.Second, NoSync: s.NoSync})
	if err != nil {
		return errors.Wrapf(err, "open file: %s", s.Path)
	}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, t := range db.Tables() {
			if _, err := tx.CreateBucketIfNotExists([]byte(t.Name())); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		bdb.Close()
		return errors.Wrap(err, "initializing buckets")
	}

	s.mu.Lock()
	s.db = bdb
	s.mu.Unlock()
	s.logger.Debugf("opened bolt store %s with %d tables", s.Path, len(db.Tables()))
	return nil
}

func (s *Store) CreateTx(typ backstore.TxType, scope []*schema.Table, j *cache.Journal) (backstore.Tx, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return nil, errors.New(errors.ErrClosed, "bolt store is not open")
	}
	if typ == backstore.ReadWrite && j == nil {
		return nil, errors.New(errors.ErrInvalidTransactionState, "read-write transaction without a journal")
	}
	btx, err := db.Begin(typ == backstore.ReadWrite)
	if err != nil {
		return nil, errors.Wrap(err, "beginning bolt transaction")
	}
	return &tx{tx: btx, typ: typ, journal: j, stats: &backstore.TxStats{}}, nil
}

// Subscribe registers fn. A bolt file has a single writer, so no external
// changes are ever reported.
func (s *Store) Subscribe(fn backstore.ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type tx struct {
	tx      *bolt.Tx
	typ     backstore.TxType
	journal *cache.Journal
	stats   *backstore.TxStats
	done    bool
}

func bucketName(name string, typ backstore.TableType) []byte {
	if typ == backstore.IndexTable {
		return []byte(indexBucketPrefix + name)
	}
	return []byte(name)
}

func (t *tx) Table(name string, fn backstore.DeserializeFn, typ backstore.TableType) (backstore.Table, error) {
	if t.done {
		return nil, errors.New(errors.ErrInvalidTransactionState, "transaction already finished")
	}
	return &table{tx: t, bucket: bucketName(name, typ), fn: fn}, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New(errors.ErrInvalidTransactionState, "transaction already finished")
	}
	if t.typ == backstore.ReadOnly {
		t.done = true
		t.stats.Success = true
		return t.tx.Rollback()
	}
	if err := backstore.MergeJournal(ctx, t, t.journal, t.stats); err != nil {
		t.Abort()
		return err
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return errors.Wrap(err, "committing bolt transaction")
	}
	t.stats.Success = true
	return nil
}

func (t *tx) Abort() {
	if t.done {
		return
	}
	t.done = true
	_ = t.tx.Rollback()
}

func (t *tx) Stats() *backstore.TxStats { return t.stats }

type table struct {
	tx     *tx
	bucket []byte
	fn     backstore.DeserializeFn
}

// encodeID maps ids to keys whose byte order is the numeric order,
// negative ids included.
func encodeID(id schema.RowID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id)^(1<<63))
	return b
}

func decodeID(b []byte) schema.RowID {
	return schema.RowID(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func (tb *table) decode(k, v []byte) (*schema.Row, error) {
	var p schema.Payload
	if err := json.Unmarshal(v, &p); err != nil {
		return nil, errors.Wrapf(errors.New(errors.ErrDataCorruption, err.Error()), "decoding row %d of %s", decodeID(k), tb.bucket)
	}
	return tb.fn(decodeID(k), p), nil
}

func (tb *table) Get(ctx context.Context, ids []schema.RowID) ([]*schema.Row, error) {
	b := tb.tx.tx.Bucket(tb.bucket)
	if b == nil {
		return nil, nil
	}
	var out []*schema.Row
	if len(ids) == 0 {
		err := b.ForEach(func(k, v []byte) error {
			r, err := tb.decode(k, v)
			if err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
		return out, err
	}
	for _, id := range ids {
		k := encodeID(id)
		v := b.Get(k)
		if v == nil {
			continue
		}
		r, err := tb.decode(k, v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (tb *table) writableBucket() (*bolt.Bucket, error) {
	if tb.tx.typ != backstore.ReadWrite {
		return nil, errors.Newf(errors.ErrInvalidTransactionState, "write to %s in a read-only transaction", tb.bucket)
	}
	b, err := tb.tx.tx.CreateBucketIfNotExists(tb.bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "bucket %s", tb.bucket)
	}
	return b, nil
}

func (tb *table) Put(ctx context.Context, rows []*schema.Row) error {
	b, err := tb.writableBucket()
	if err != nil {
		return err
	}
	for _, r := range rows {
		v, err := json.Marshal(r.Payload())
		if err != nil {
			return errors.Wrapf(err, "encoding row %d", r.ID())
		}
		if err := b.Put(encodeID(r.ID()), v); err != nil {
			return errors.Wrapf(err, "putting row %d", r.ID())
		}
	}
	return nil
}

func (tb *table) Remove(ctx context.Context, ids []schema.RowID) error {
	if _, err := tb.writableBucket(); err != nil {
		return err
	}
	if len(ids) == 0 {
		if err := tb.tx.tx.DeleteBucket(tb.bucket); err != nil {
			return errors.Wrapf(err, "clearing %s", tb.bucket)
		}
		_, err := tb.tx.tx.CreateBucket(tb.bucket)
		return err
	}
	b := tb.tx.tx.Bucket(tb.bucket)
	for _, id := range ids {
		if err := b.Delete(encodeID(id)); err != nil {
			return errors.Wrapf(err, "deleting row %d", id)
		}
	}
	return nil
}
