// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"github.com/google/btree"
)

// RowIDIndex is the per-table index whose key is the row id itself. Every
// table has one; it drives full table scans and row counts.
type RowIDIndex struct {
	name  string
	ids   *btree.BTreeG[RowID]
	cmp   Comparator
	stats *Stats
}

var _ Index = (*RowIDIndex)(nil)

// NewRowIDIndex returns an empty row id index.
func NewRowIDIndex(name string) *RowIDIndex {
	return &RowIDIndex{
		name:  name,
		ids:   btree.NewOrderedG[RowID](btreeDegree),
		cmp:   NewComparator(Asc),
		stats: &Stats{},
	}
}

func (x *RowIDIndex) Name() string           { return x.name }
func (x *RowIDIndex) IsUnique() bool         { return true }
func (x *RowIDIndex) Comparator() Comparator { return x.cmp }
func (x *RowIDIndex) Stats() *Stats          { return x.stats }

// Add records id. The key is ignored since it always equals the id.
func (x *RowIDIndex) Add(key Key, id RowID) error {
	if _, found := x.ids.ReplaceOrInsert(id); !found {
		x.stats.add(id, 1)
	}
	return nil
}

func (x *RowIDIndex) Set(key Key, id RowID) error {
	return x.Add(key, id)
}

func (x *RowIDIndex) Remove(key Key, ids ...RowID) {
	if len(ids) == 0 {
		id, ok := ToRowID(key)
		if !ok {
			return
		}
		ids = []RowID{id}
	}
	for _, id := range ids {
		if _, ok := x.ids.Delete(id); ok {
			x.stats.remove(1)
		}
	}
}

func (x *RowIDIndex) Get(key Key) []RowID {
	id, ok := ToRowID(key)
	if !ok || !x.ids.Has(id) {
		return nil
	}
	return []RowID{id}
}

func (x *RowIDIndex) ContainsKey(key Key) bool {
	return len(x.Get(key)) > 0
}

func (x *RowIDIndex) Min() (Key, []RowID, bool) {
	id, ok := x.ids.Min()
	if !ok {
		return nil, nil, false
	}
	return id, []RowID{id}, true
}

func (x *RowIDIndex) Max() (Key, []RowID, bool) {
	id, ok := x.ids.Max()
	if !ok {
		return nil, nil, false
	}
	return id, []RowID{id}, true
}

func (x *RowIDIndex) Clear() {
	x.ids.Clear(false)
	x.stats.clear()
}

func (x *RowIDIndex) Cost(ranges ...KeyRange) int {
	if len(ranges) == 0 {
		return x.ids.Len()
	}
	n := 0
	for _, r := range ranges {
		x.walk(r[0], false, func(RowID) bool {
			n++
			return true
		})
	}
	return n
}

func (x *RowIDIndex) GetRange(ranges []KeyRange, reverse bool, limit, skip int) []RowID {
	w := newWindow(limit, skip)
	one := make([]RowID, 1)
	push := func(id RowID) bool {
		one[0] = id
		return w.push(one, false)
	}
	if len(ranges) == 0 {
		if reverse {
			x.ids.Descend(push)
		} else {
			x.ids.Ascend(push)
		}
		return w.out
	}

	single := make([]SingleKeyRange, 0, len(ranges))
	for _, r := range ranges {
		single = append(single, r[0])
	}
	merged := Normalize(single)
	if reverse {
		for i := len(merged) - 1; i >= 0; i-- {
			if !x.walk(merged[i], true, push) {
				break
			}
		}
		return w.out
	}
	for _, r := range merged {
		if !x.walk(r, false, push) {
			break
		}
	}
	return w.out
}

// walk visits the ids inside r and reports whether fn asked for more.
func (x *RowIDIndex) walk(r SingleKeyRange, reverse bool, fn func(RowID) bool) bool {
	more := true
	visit := func(id RowID) bool {
		if !r.Contains(id) {
			// Only the excluded bound itself can fall outside.
			return true
		}
		more = fn(id)
		return more
	}
	from, hasFrom := ToRowID(r.From)
	to, hasTo := ToRowID(r.To)
	switch {
	case reverse && hasTo:
		x.ids.DescendLessOrEqual(to, func(id RowID) bool {
			if hasFrom && id < from {
				return false
			}
			return visit(id)
		})
	case reverse:
		x.ids.Descend(func(id RowID) bool {
			if hasFrom && id < from {
				return false
			}
			return visit(id)
		})
	case hasFrom:
		x.ids.AscendGreaterOrEqual(from, func(id RowID) bool {
			if hasTo && id > to {
				return false
			}
			return visit(id)
		})
	default:
		x.ids.Ascend(func(id RowID) bool {
			if hasTo && id > to {
				return false
			}
			return visit(id)
		})
	}
	return more
}

func (x *RowIDIndex) Serialize() []*SerializedRow {
	rows := []*SerializedRow{newMetaRow("rowid", true, nil)}
	x.ids.Ascend(func(id RowID) bool {
		rows = append(rows, &SerializedRow{
			ID:      id,
			Payload: map[string]interface{}{keyField: id, idsField: []RowID{id}},
		})
		return true
	})
	return rows
}
