// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

// Comparator defines the order of keys inside an index and how ranges map
// onto that order.
type Comparator interface {
	// Compare orders two keys in index order.
	Compare(a, b Key) int
	// IsInRange reports whether k falls inside r.
	IsInRange(k Key, r KeyRange) bool
	// Bounds returns the first and last keys, in index order, a scan of r
	// has to visit.
	Bounds(r KeyRange) (start, end Key)
	// AllRange returns a KeyRange without bounds of the right dimension.
	AllRange() KeyRange
	// Orders returns the per-column orders.
	Orders() []Order
}

// NewComparator returns a comparator for an index over len(orders) columns.
func NewComparator(orders ...Order) Comparator {
	if len(orders) <= 1 {
		o := Asc
		if len(orders) == 1 {
			o = orders[0]
		}
		return &SimpleComparator{order: o}
	}
	return &MultiKeyComparator{orders: append([]Order(nil), orders...)}
}

// SimpleComparator orders scalar keys in one direction.
type SimpleComparator struct {
	order Order
}

func (c *SimpleComparator) Compare(a, b Key) int {
	return directed(c.order, CompareKeys(a, b))
}

func (c *SimpleComparator) IsInRange(k Key, r KeyRange) bool {
	return r[0].Contains(k)
}

func (c *SimpleComparator) Bounds(r KeyRange) (start, end Key) {
	return dimensionBounds(c.order, r[0])
}

func (c *SimpleComparator) AllRange() KeyRange {
	return KeyRange{All()}
}

func (c *SimpleComparator) Orders() []Order {
	return []Order{c.order}
}

// MultiKeyComparator orders tuple keys lexicographically, each column in its
// own direction.
type MultiKeyComparator struct {
	orders []Order
}

func (c *MultiKeyComparator) Compare(a, b Key) int {
	x, _ := a.([]interface{})
	y, _ := b.([]interface{})
	for i, o := range c.orders {
		var xv, yv Key
		if i < len(x) {
			xv = x[i]
		}
		if i < len(y) {
			yv = y[i]
		}
		if r := directed(o, CompareKeys(xv, yv)); r != 0 {
			return r
		}
	}
	return 0
}

func (c *MultiKeyComparator) IsInRange(k Key, r KeyRange) bool {
	t, ok := k.([]interface{})
	if !ok || len(t) < len(r) {
		return false
	}
	for i := range r {
		if !r[i].Contains(t[i]) {
			return false
		}
	}
	return true
}

func (c *MultiKeyComparator) Bounds(r KeyRange) (start, end Key) {
	s := make([]interface{}, len(c.orders))
	e := make([]interface{}, len(c.orders))
	for i, o := range c.orders {
		dim := All()
		if i < len(r) {
			dim = r[i]
		}
		s[i], e[i] = dimensionBounds(o, dim)
	}
	return s, e
}

func (c *MultiKeyComparator) AllRange() KeyRange {
	r := make(KeyRange, len(c.orders))
	for i := range r {
		r[i] = All()
	}
	return r
}

func (c *MultiKeyComparator) Orders() []Order {
	return append([]Order(nil), c.orders...)
}

func directed(o Order, c int) int {
	if o == Desc {
		return -c
	}
	return c
}

// dimensionBounds returns the scan start and end for one column. Open sides
// become sentinels that sort outside every real key.
func dimensionBounds(o Order, r SingleKeyRange) (start, end Key) {
	from, to := r.From, r.To
	if IsUnbound(from) {
		from = lowest
	}
	if IsUnbound(to) {
		to = highest
	}
	if o == Desc {
		return to, from
	}
	return from, to
}
