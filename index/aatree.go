// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

// tree is an ordered map from keys to row id lists. Implementations order
// keys with the comparator function they were built with.
type tree interface {
	get(k Key) ([]RowID, bool)
	set(k Key, ids []RowID)
	del(k Key) bool
	len() int
	min() (Key, []RowID, bool)
	max() (Key, []RowID, bool)
	// ascend visits keys >= start in order, or all keys when start is nil.
	ascend(start Key, fn func(k Key, ids []RowID) bool)
	// descend visits keys <= start in reverse order, or all keys when
	// start is nil.
	descend(start Key, fn func(k Key, ids []RowID) bool)
	// count returns the number of ids stored under keys in [start, end].
	count(start, end Key) int
	clear()
}

// aaTree is an AA-tree: a binary search tree where every node carries a
// level, a left child is always one level below its parent, and a right
// child is at most on the parent's level but never twice in a row. Every
// node also tracks the number of ids in its subtree so that range counts
// cost one descent per bound.
type aaTree struct {
	root *aaNode
	cmp  func(a, b Key) int
	n    int
}

type aaNode struct {
	key         Key
	ids         []RowID
	level       int
	size        int
	left, right *aaNode
}

func newAATree(cmp func(a, b Key) int) *aaTree {
	return &aaTree{cmp: cmp}
}

func size(n *aaNode) int {
	if n == nil {
		return 0
	}
	return n.size
}

func level(n *aaNode) int {
	if n == nil {
		return 0
	}
	return n.level
}

func (n *aaNode) update() {
	n.size = len(n.ids) + size(n.left) + size(n.right)
}

// skew removes a left horizontal link by rotating right.
func skew(n *aaNode) *aaNode {
	if n == nil || n.left == nil || n.left.level != n.level {
		return n
	}
	l := n.left
	n.left = l.right
	l.right = n
	n.update()
	l.update()
	return l
}

// split removes two consecutive right horizontal links by rotating left and
// promoting the middle node.
func split(n *aaNode) *aaNode {
	if n == nil || n.right == nil || n.right.right == nil || n.right.right.level != n.level {
		return n
	}
	r := n.right
	n.right = r.left
	r.left = n
	r.level++
	n.update()
	r.update()
	return r
}

func (t *aaTree) get(k Key) ([]RowID, bool) {
	n := t.root
	for n != nil {
		c := t.cmp(k, n.key)
		switch {
		case c < 0:
			n = n.left
		case c > 0:
			n = n.right
		default:
			return n.ids, true
		}
	}
	return nil, false
}

func (t *aaTree) set(k Key, ids []RowID) {
	t.root = t.insert(t.root, k, ids)
}

func (t *aaTree) insert(n *aaNode, k Key, ids []RowID) *aaNode {
	if n == nil {
		t.n++
		return &aaNode{key: k, ids: ids, level: 1, size: len(ids)}
	}
	c := t.cmp(k, n.key)
	switch {
	case c < 0:
		n.left = t.insert(n.left, k, ids)
	case c > 0:
		n.right = t.insert(n.right, k, ids)
	default:
		n.ids = ids
	}
	n.update()
	n = skew(n)
	n = split(n)
	return n
}

func (t *aaTree) del(k Key) bool {
	before := t.n
	t.root = t.remove(t.root, k)
	return t.n < before
}

func (t *aaTree) remove(n *aaNode, k Key) *aaNode {
	if n == nil {
		return nil
	}
	c := t.cmp(k, n.key)
	switch {
	case c < 0:
		n.left = t.remove(n.left, k)
	case c > 0:
		n.right = t.remove(n.right, k)
	default:
		if n.left == nil && n.right == nil {
			t.n--
			return nil
		}
		// Replace the node's content with its in-order neighbour and
		// remove that neighbour from the subtree it lives in.
		if n.left == nil {
			s := n.right
			for s.left != nil {
				s = s.left
			}
			n.key, n.ids = s.key, s.ids
			n.right = t.remove(n.right, s.key)
		} else {
			p := n.left
			for p.right != nil {
				p = p.right
			}
			n.key, n.ids = p.key, p.ids
			n.left = t.remove(n.left, p.key)
		}
	}

	n.update()
	if want := min(level(n.left), level(n.right)) + 1; want < n.level {
		n.level = want
		if n.right != nil && want < n.right.level {
			n.right.level = want
		}
	}
	n = skew(n)
	n.right = skew(n.right)
	if n.right != nil {
		n.right.right = skew(n.right.right)
	}
	n = split(n)
	n.right = split(n.right)
	return n
}

func (t *aaTree) len() int { return t.n }

func (t *aaTree) min() (Key, []RowID, bool) {
	n := t.root
	if n == nil {
		return nil, nil, false
	}
	for n.left != nil {
		n = n.left
	}
	return n.key, n.ids, true
}

func (t *aaTree) max() (Key, []RowID, bool) {
	n := t.root
	if n == nil {
		return nil, nil, false
	}
	for n.right != nil {
		n = n.right
	}
	return n.key, n.ids, true
}

func (t *aaTree) ascend(start Key, fn func(Key, []RowID) bool) {
	t.ascendFrom(t.root, start, fn)
}

func (t *aaTree) ascendFrom(n *aaNode, start Key, fn func(Key, []RowID) bool) bool {
	if n == nil {
		return true
	}
	if start == nil || t.cmp(n.key, start) >= 0 {
		if !t.ascendFrom(n.left, start, fn) {
			return false
		}
		if !fn(n.key, n.ids) {
			return false
		}
	}
	return t.ascendFrom(n.right, start, fn)
}

func (t *aaTree) descend(start Key, fn func(Key, []RowID) bool) {
	t.descendFrom(t.root, start, fn)
}

func (t *aaTree) descendFrom(n *aaNode, start Key, fn func(Key, []RowID) bool) bool {
	if n == nil {
		return true
	}
	if start == nil || t.cmp(n.key, start) <= 0 {
		if !t.descendFrom(n.right, start, fn) {
			return false
		}
		if !fn(n.key, n.ids) {
			return false
		}
	}
	return t.descendFrom(n.left, start, fn)
}

// rank returns the number of ids under keys before k, or up to and
// including k when inclusive is set.
func (t *aaTree) rank(k Key, inclusive bool) int {
	r := 0
	n := t.root
	for n != nil {
		c := t.cmp(n.key, k)
		if c < 0 || (c == 0 && inclusive) {
			r += size(n.left) + len(n.ids)
			n = n.right
		} else {
			n = n.left
		}
	}
	return r
}

func (t *aaTree) count(start, end Key) int {
	if t.cmp(start, end) > 0 {
		return 0
	}
	return t.rank(end, true) - t.rank(start, false)
}

func (t *aaTree) clear() {
	t.root = nil
	t.n = 0
}

// valid reports whether the AA invariants hold for every node. Tests use
// it after random operation sequences.
func (t *aaTree) valid() bool {
	var check func(n *aaNode) bool
	check = func(n *aaNode) bool {
		if n == nil {
			return true
		}
		if n.left == nil && n.right == nil && n.level != 1 {
			return false
		}
		if level(n.left) != n.level-1 {
			return false
		}
		if level(n.right) != n.level && level(n.right) != n.level-1 {
			return false
		}
		if n.right != nil && level(n.right.right) == n.level {
			return false
		}
		if n.size != len(n.ids)+size(n.left)+size(n.right) {
			return false
		}
		return check(n.left) && check(n.right)
	}
	return check(t.root)
}
