// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package cache holds the committed rows and indices of a database in
// memory, and the per transaction journal staging changes to them.
package cache

import (
	"sort"
	"sync"

	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
)

// Cache maps row ids to rows, grouped by table.
type Cache struct {
	mu     sync.RWMutex
	rows   map[schema.RowID]*schema.Row
	tables map[string]map[schema.RowID]struct{}
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		rows:   make(map[schema.RowID]*schema.Row),
		tables: make(map[string]map[schema.RowID]struct{}),
	}
}

// Set stores rows for table, replacing rows with the same id.
func (c *Cache) Set(table string, rows ...*schema.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.tables[table]
	if !ok {
		ids = make(map[schema.RowID]struct{})
		c.tables[table] = ids
	}
	for _, r := range rows {
		c.rows[r.ID()] = r
		ids[r.ID()] = struct{}{}
	}
}

// Get returns the row with the given id, or nil.
func (c *Cache) Get(id schema.RowID) *schema.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rows[id]
}

// GetMany returns the rows with the given ids. Missing rows are skipped.
func (c *Cache) GetMany(ids []schema.RowID) []*schema.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*schema.Row, 0, len(ids))
	for _, id := range ids {
		if r, ok := c.rows[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Remove drops the rows with the given ids from table.
func (c *Cache) Remove(table string, ids ...schema.RowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.rows, id)
		delete(c.tables[table], id)
	}
}

// TableRowIDs returns the ids of the rows of table in ascending order.
func (c *Cache) TableRowIDs(table string) []schema.RowID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]schema.RowID, 0, len(c.tables[table]))
	for id := range c.tables[table] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of rows of table, or of every table when table
// is empty.
func (c *Cache) Count(table string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if table == "" {
		return len(c.rows)
	}
	return len(c.tables[table])
}

// Clear drops every row.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = make(map[schema.RowID]*schema.Row)
	c.tables = make(map[string]map[schema.RowID]struct{})
}

// Env is the shared in-memory state of one database: the schema, the row
// cache and the index store. It is passed explicitly to every component
// that reads or changes that state.
type Env struct {
	DB        *schema.Database
	Cache     *Cache
	Indices   *index.Store
	IndexKind index.Kind
}

// NewEnv returns an Env with an empty cache and an index for every table
// index of db.
func NewEnv(db *schema.Database, kind index.Kind) (*Env, error) {
	env := &Env{DB: db, Cache: New(), Indices: index.NewStore(), IndexKind: kind}
	for _, t := range db.Tables() {
		if err := CreateTableIndices(env.Indices, t, kind); err != nil {
			return nil, errors.Wrapf(err, "creating indices of %s", t.Name())
		}
	}
	return env, nil
}

// Index returns the index for an index schema.
func (e *Env) Index(idx *schema.IndexSchema) index.Index {
	return e.Indices.Get(idx.NormalizedName())
}

// RowIDIndex returns the row id index of t.
func (e *Env) RowIDIndex(t *schema.Table) index.Index {
	return e.Indices.Get(t.RowIDIndexName())
}
