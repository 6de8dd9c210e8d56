// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package schema

import (
	"sync/atomic"

	"github.com/molecula/relstore/index"
)

// RowID identifies a row.
type RowID = index.RowID

// DummyID is the id of synthetic rows, such as join results and aggregate
// rows, that are never persisted.
const DummyID RowID = -1

// Payload maps column names to values. Rows produced by joins nest one
// Payload per table under the table's effective name.
type Payload map[string]interface{}

// Copy returns a copy of p. Nested table payloads are copied too.
func (p Payload) Copy() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if nested, ok := v.(Payload); ok {
			v = nested.Copy()
		}
		out[k] = v
	}
	return out
}

// Row is a record with a fixed id and a mutable payload.
type Row struct {
	id      RowID
	payload Payload
}

// NewRow returns a row with the given id and payload.
func NewRow(id RowID, payload Payload) *Row {
	if payload == nil {
		payload = Payload{}
	}
	return &Row{id: id, payload: payload}
}

func (r *Row) ID() RowID        { return r.id }
func (r *Row) Payload() Payload { return r.payload }

// AssignRowID replaces the id, used when insert-or-replace takes over the
// id of the row it replaces.
func (r *Row) AssignRowID(id RowID) {
	r.id = id
}

// Copy returns a row with the same id and a copied payload.
func (r *Row) Copy() *Row {
	return &Row{id: r.id, payload: r.payload.Copy()}
}

// KeyOfIndex returns the key of r in idx, normalized for comparison.
func (r *Row) KeyOfIndex(idx *IndexSchema) index.Key {
	if len(idx.Columns) == 1 {
		c := idx.Columns[0].Column
		return NormalizeKey(c.Type(), r.payload[c.Name()])
	}
	key := make([]interface{}, len(idx.Columns))
	for i, ic := range idx.Columns {
		key[i] = NormalizeKey(ic.Column.Type(), r.payload[ic.Column.Name()])
	}
	return key
}

// Allocator hands out row ids. It is shared by every table of a database so
// that ids are unique per backing store.
type Allocator struct {
	next int64
}

// NewAllocator returns an allocator whose first id is 1.
func NewAllocator() *Allocator {
	return &Allocator{next: 1}
}

// Next returns a fresh id.
func (a *Allocator) Next() RowID {
	return atomic.AddInt64(&a.next, 1) - 1
}

// Reserve makes sure no id up to and including maxSeen is handed out again.
func (a *Allocator) Reserve(maxSeen RowID) {
	for {
		cur := atomic.LoadInt64(&a.next)
		if cur > maxSeen {
			return
		}
		if atomic.CompareAndSwapInt64(&a.next, cur, maxSeen+1) {
			return
		}
	}
}
