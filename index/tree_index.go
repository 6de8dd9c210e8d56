// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"sort"

	"github.com/molecula/relstore/errors"
)

// treeIndex is the general ordered index. It keeps its keys in a tree
// backend ordered by the index comparator.
type treeIndex struct {
	name   string
	kind   Kind
	unique bool
	cmp    Comparator
	tree   tree
	stats  *Stats
}

var _ Index = (*treeIndex)(nil)

func (x *treeIndex) Name() string           { return x.name }
func (x *treeIndex) IsUnique() bool         { return x.unique }
func (x *treeIndex) Comparator() Comparator { return x.cmp }
func (x *treeIndex) Stats() *Stats          { return x.stats }

func (x *treeIndex) Add(key Key, id RowID) error {
	ids, ok := x.tree.get(key)
	if !ok {
		x.tree.set(key, []RowID{id})
		x.stats.add(key, 1)
		return nil
	}
	if x.unique {
		if ids[0] == id {
			return nil
		}
		return errors.NewConstraintError(errors.Unique, tableOf(x.name), x.name, key)
	}
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return nil
	}
	next := make([]RowID, 0, len(ids)+1)
	next = append(next, ids[:i]...)
	next = append(next, id)
	next = append(next, ids[i:]...)
	x.tree.set(key, next)
	x.stats.add(key, 1)
	return nil
}

func (x *treeIndex) Set(key Key, id RowID) error {
	if ids, ok := x.tree.get(key); ok {
		x.stats.remove(len(ids))
	}
	x.tree.set(key, []RowID{id})
	x.stats.add(key, 1)
	return nil
}

func (x *treeIndex) Remove(key Key, ids ...RowID) {
	cur, ok := x.tree.get(key)
	if !ok {
		return
	}
	if len(ids) == 0 {
		x.tree.del(key)
		x.stats.remove(len(cur))
		return
	}
	next := make([]RowID, 0, len(cur))
	for _, id := range cur {
		if !containsID(ids, id) {
			next = append(next, id)
		}
	}
	if len(next) == len(cur) {
		return
	}
	x.stats.remove(len(cur) - len(next))
	if len(next) == 0 {
		x.tree.del(key)
		return
	}
	x.tree.set(key, next)
}

func (x *treeIndex) Get(key Key) []RowID {
	ids, ok := x.tree.get(key)
	if !ok {
		return nil
	}
	return append([]RowID(nil), ids...)
}

func (x *treeIndex) ContainsKey(key Key) bool {
	_, ok := x.tree.get(key)
	return ok
}

func (x *treeIndex) Min() (Key, []RowID, bool) {
	k, ids, ok := x.tree.min()
	return k, append([]RowID(nil), ids...), ok
}

func (x *treeIndex) Max() (Key, []RowID, bool) {
	k, ids, ok := x.tree.max()
	return k, append([]RowID(nil), ids...), ok
}

func (x *treeIndex) Clear() {
	x.tree.clear()
	x.stats.clear()
}

func (x *treeIndex) Cost(ranges ...KeyRange) int {
	if len(ranges) == 0 {
		return x.stats.TotalRows
	}
	n := 0
	for _, r := range x.scanRanges(ranges) {
		if r.IsAll() {
			return x.stats.TotalRows
		}
		start, end := x.cmp.Bounds(r)
		n += x.tree.count(start, end)
	}
	return n
}

func (x *treeIndex) GetRange(ranges []KeyRange, reverse bool, limit, skip int) []RowID {
	w := newWindow(limit, skip)
	visit := func(k Key, ids []RowID) bool {
		return w.push(ids, reverse)
	}

	if len(ranges) == 0 {
		if reverse {
			x.tree.descend(nil, visit)
		} else {
			x.tree.ascend(nil, visit)
		}
		return w.out
	}

	scans := x.scanRanges(ranges)
	if len(scans) > 1 && len(x.cmp.Orders()) > 1 {
		// Boxes over several columns can interleave in index order, so a
		// single sweep over their hull keeps the output ordered.
		x.sweep(scans, reverse, visit)
		return w.out
	}
	if reverse {
		for i := len(scans) - 1; i >= 0; i-- {
			if !x.scan(scans[i], true, visit) {
				break
			}
		}
		return w.out
	}
	for _, r := range scans {
		if !x.scan(r, false, visit) {
			break
		}
	}
	return w.out
}

// scanRanges returns the ranges sorted in index order. Single column ranges
// are merged first so that no id is returned twice.
func (x *treeIndex) scanRanges(ranges []KeyRange) []KeyRange {
	if len(x.cmp.Orders()) == 1 {
		single := make([]SingleKeyRange, 0, len(ranges))
		for _, r := range ranges {
			single = append(single, r[0])
		}
		merged := Normalize(single)
		out := make([]KeyRange, len(merged))
		for i := range merged {
			out[i] = KeyRange{merged[i]}
		}
		if x.cmp.Orders()[0] == Desc {
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
		}
		return out
	}
	out := append([]KeyRange(nil), ranges...)
	sort.SliceStable(out, func(i, j int) bool {
		si, _ := x.cmp.Bounds(out[i])
		sj, _ := x.cmp.Bounds(out[j])
		return x.cmp.Compare(si, sj) < 0
	})
	return out
}

func (x *treeIndex) scan(r KeyRange, reverse bool, visit func(Key, []RowID) bool) bool {
	start, end := x.cmp.Bounds(r)
	more := true
	if reverse {
		x.tree.descend(end, func(k Key, ids []RowID) bool {
			if x.cmp.Compare(k, start) < 0 {
				return false
			}
			if x.cmp.IsInRange(k, r) {
				more = visit(k, ids)
			}
			return more
		})
		return more
	}
	x.tree.ascend(start, func(k Key, ids []RowID) bool {
		if x.cmp.Compare(k, end) > 0 {
			return false
		}
		if x.cmp.IsInRange(k, r) {
			more = visit(k, ids)
		}
		return more
	})
	return more
}

func (x *treeIndex) sweep(ranges []KeyRange, reverse bool, visit func(Key, []RowID) bool) {
	start, _ := x.cmp.Bounds(ranges[0])
	_, end := x.cmp.Bounds(ranges[0])
	for _, r := range ranges[1:] {
		s, e := x.cmp.Bounds(r)
		if x.cmp.Compare(s, start) < 0 {
			start = s
		}
		if x.cmp.Compare(e, end) > 0 {
			end = e
		}
	}
	inAny := func(k Key) bool {
		for _, r := range ranges {
			if x.cmp.IsInRange(k, r) {
				return true
			}
		}
		return false
	}
	if reverse {
		x.tree.descend(end, func(k Key, ids []RowID) bool {
			if x.cmp.Compare(k, start) < 0 {
				return false
			}
			return !inAny(k) || visit(k, ids)
		})
		return
	}
	x.tree.ascend(start, func(k Key, ids []RowID) bool {
		if x.cmp.Compare(k, end) > 0 {
			return false
		}
		return !inAny(k) || visit(k, ids)
	})
}

func (x *treeIndex) Serialize() []*SerializedRow {
	rows := []*SerializedRow{newMetaRow(x.kind, x.unique, nil)}
	x.tree.ascend(nil, func(k Key, ids []RowID) bool {
		rows = append(rows, &SerializedRow{
			ID:      RowID(len(rows) - 1),
			Payload: map[string]interface{}{keyField: k, idsField: append([]RowID(nil), ids...)},
		})
		return true
	})
	return rows
}

// window applies skip and limit to a stream of id lists.
type window struct {
	limit, skip int
	out         []RowID
}

func newWindow(limit, skip int) *window {
	return &window{limit: limit, skip: skip}
}

// push appends ids and reports whether more are wanted.
func (w *window) push(ids []RowID, reverse bool) bool {
	n := len(ids)
	for i := 0; i < n; i++ {
		id := ids[i]
		if reverse {
			id = ids[n-1-i]
		}
		if w.skip > 0 {
			w.skip--
			continue
		}
		w.out = append(w.out, id)
		if w.limit > 0 && len(w.out) >= w.limit {
			return false
		}
	}
	return true
}

func containsID(ids []RowID, id RowID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
