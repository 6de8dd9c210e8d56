// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"github.com/google/btree"
)

const btreeDegree = 32

type btreeItem struct {
	key Key
	ids []RowID
}

// bTree adapts google/btree to the tree interface.
type bTree struct {
	t   *btree.BTreeG[*btreeItem]
	cmp func(a, b Key) int
}

func newBTree(cmp func(a, b Key) int) *bTree {
	return &bTree{
		t: btree.NewG(btreeDegree, func(a, b *btreeItem) bool {
			return cmp(a.key, b.key) < 0
		}),
		cmp: cmp,
	}
}

func (b *bTree) get(k Key) ([]RowID, bool) {
	item, ok := b.t.Get(&btreeItem{key: k})
	if !ok {
		return nil, false
	}
	return item.ids, true
}

func (b *bTree) set(k Key, ids []RowID) {
	b.t.ReplaceOrInsert(&btreeItem{key: k, ids: ids})
}

func (b *bTree) del(k Key) bool {
	_, ok := b.t.Delete(&btreeItem{key: k})
	return ok
}

func (b *bTree) len() int { return b.t.Len() }

func (b *bTree) min() (Key, []RowID, bool) {
	item, ok := b.t.Min()
	if !ok {
		return nil, nil, false
	}
	return item.key, item.ids, true
}

func (b *bTree) max() (Key, []RowID, bool) {
	item, ok := b.t.Max()
	if !ok {
		return nil, nil, false
	}
	return item.key, item.ids, true
}

func (b *bTree) ascend(start Key, fn func(Key, []RowID) bool) {
	visit := func(item *btreeItem) bool { return fn(item.key, item.ids) }
	if start == nil {
		b.t.Ascend(visit)
		return
	}
	b.t.AscendGreaterOrEqual(&btreeItem{key: start}, visit)
}

func (b *bTree) descend(start Key, fn func(Key, []RowID) bool) {
	visit := func(item *btreeItem) bool { return fn(item.key, item.ids) }
	if start == nil {
		b.t.Descend(visit)
		return
	}
	b.t.DescendLessOrEqual(&btreeItem{key: start}, visit)
}

// count walks the range; google/btree keeps no subtree sizes.
func (b *bTree) count(start, end Key) int {
	n := 0
	b.t.AscendGreaterOrEqual(&btreeItem{key: start}, func(item *btreeItem) bool {
		if b.cmp(item.key, end) > 0 {
			return false
		}
		n += len(item.ids)
		return true
	})
	return n
}

func (b *bTree) clear() {
	b.t.Clear(false)
}
