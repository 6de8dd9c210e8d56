// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"sort"
	"strings"
)

type unbound struct{}

// Unbound marks the open side of a SingleKeyRange.
var Unbound Key = unbound{}

// IsUnbound reports whether k is the Unbound sentinel.
func IsUnbound(k Key) bool {
	_, ok := k.(unbound)
	return ok
}

// SingleKeyRange is a range over the values of one column, expressed in
// ascending value order regardless of the column's index order.
type SingleKeyRange struct {
	From        Key
	To          Key
	ExcludeFrom bool
	ExcludeTo   bool
}

// KeyRange holds one SingleKeyRange per indexed column.
type KeyRange []SingleKeyRange

// All returns a range without bounds.
func All() SingleKeyRange {
	return SingleKeyRange{From: Unbound, To: Unbound}
}

// Only returns the range containing exactly k.
func Only(k Key) SingleKeyRange {
	return SingleKeyRange{From: k, To: k}
}

// LowerBound returns the range of values above k.
func LowerBound(k Key, exclude bool) SingleKeyRange {
	return SingleKeyRange{From: k, To: Unbound, ExcludeFrom: exclude}
}

// UpperBound returns the range of values below k.
func UpperBound(k Key, exclude bool) SingleKeyRange {
	return SingleKeyRange{From: Unbound, To: k, ExcludeTo: exclude}
}

// Between returns the closed range [from, to].
func Between(from, to Key) SingleKeyRange {
	return SingleKeyRange{From: from, To: to}
}

// Range wraps single-column ranges into KeyRanges of one dimension.
func Range(rs ...SingleKeyRange) []KeyRange {
	out := make([]KeyRange, len(rs))
	for i := range rs {
		out[i] = KeyRange{rs[i]}
	}
	return out
}

func (r SingleKeyRange) IsAll() bool {
	return IsUnbound(r.From) && IsUnbound(r.To)
}

func (r SingleKeyRange) IsOnly() bool {
	return !IsUnbound(r.From) && !IsUnbound(r.To) && !r.ExcludeFrom && !r.ExcludeTo && KeysEqual(r.From, r.To)
}

// Contains reports whether k falls inside r. A null is only inside the
// unbounded range.
func (r SingleKeyRange) Contains(k Key) bool {
	if k == nil {
		return r.IsAll()
	}
	if !IsUnbound(r.From) {
		c := CompareKeys(k, r.From)
		if c < 0 || (c == 0 && r.ExcludeFrom) {
			return false
		}
	}
	if !IsUnbound(r.To) {
		c := CompareKeys(k, r.To)
		if c > 0 || (c == 0 && r.ExcludeTo) {
			return false
		}
	}
	return true
}

// Complement returns the ranges covering every value outside r.
func (r SingleKeyRange) Complement() []SingleKeyRange {
	if r.IsAll() {
		return nil
	}
	var out []SingleKeyRange
	if !IsUnbound(r.From) {
		out = append(out, SingleKeyRange{From: Unbound, To: r.From, ExcludeTo: !r.ExcludeFrom})
	}
	if !IsUnbound(r.To) {
		out = append(out, SingleKeyRange{From: r.To, To: Unbound, ExcludeFrom: !r.ExcludeTo})
	}
	return out
}

// Reverse swaps the bounds of r.
func (r SingleKeyRange) Reverse() SingleKeyRange {
	return SingleKeyRange{From: r.To, To: r.From, ExcludeFrom: r.ExcludeTo, ExcludeTo: r.ExcludeFrom}
}

// Overlaps reports whether r and o share at least one value.
func (r SingleKeyRange) Overlaps(o SingleKeyRange) bool {
	return lowerBelowUpper(r, o, false) && lowerBelowUpper(o, r, false)
}

func (r SingleKeyRange) Equals(o SingleKeyRange) bool {
	return compareLower(r, o) == 0 && compareUpper(r, o) == 0
}

func (r SingleKeyRange) String() string {
	var sb strings.Builder
	if r.ExcludeFrom {
		sb.WriteByte('(')
	} else {
		sb.WriteByte('[')
	}
	sb.WriteString(FormatKey(r.From))
	sb.WriteString(", ")
	sb.WriteString(FormatKey(r.To))
	if r.ExcludeTo {
		sb.WriteByte(')')
	} else {
		sb.WriteByte(']')
	}
	return sb.String()
}

func (r KeyRange) String() string {
	if len(r) == 1 {
		return r[0].String()
	}
	parts := make([]string, len(r))
	for i := range r {
		parts[i] = r[i].String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// IsAll reports whether every dimension of r is unbounded.
func (r KeyRange) IsAll() bool {
	for i := range r {
		if !r[i].IsAll() {
			return false
		}
	}
	return true
}

// compareLower orders the lower bounds of two ranges. An unbound lower
// bound is the smallest and an inclusive bound precedes an exclusive one on
// the same key.
func compareLower(a, b SingleKeyRange) int {
	au, bu := IsUnbound(a.From), IsUnbound(b.From)
	switch {
	case au && bu:
		return 0
	case au:
		return -1
	case bu:
		return 1
	}
	if c := CompareKeys(a.From, b.From); c != 0 {
		return c
	}
	switch {
	case a.ExcludeFrom == b.ExcludeFrom:
		return 0
	case a.ExcludeFrom:
		return 1
	default:
		return -1
	}
}

// compareUpper orders the upper bounds of two ranges. An unbound upper
// bound is the largest and an exclusive bound precedes an inclusive one.
func compareUpper(a, b SingleKeyRange) int {
	au, bu := IsUnbound(a.To), IsUnbound(b.To)
	switch {
	case au && bu:
		return 0
	case au:
		return 1
	case bu:
		return -1
	}
	if c := CompareKeys(a.To, b.To); c != 0 {
		return c
	}
	switch {
	case a.ExcludeTo == b.ExcludeTo:
		return 0
	case a.ExcludeTo:
		return -1
	default:
		return 1
	}
}

// lowerBelowUpper reports whether the lower bound of l does not pass the
// upper bound of u. With touching set, ranges that meet at a single key
// where only one side excludes it also qualify, so they can be merged.
func lowerBelowUpper(l, u SingleKeyRange, touching bool) bool {
	if IsUnbound(l.From) || IsUnbound(u.To) {
		return true
	}
	c := CompareKeys(l.From, u.To)
	switch {
	case c < 0:
		return true
	case c > 0:
		return false
	case touching:
		return !(l.ExcludeFrom && u.ExcludeTo)
	}
	return !l.ExcludeFrom && !u.ExcludeTo
}

// Intersect returns the range shared by a and b. The bool is false when
// they do not overlap.
func Intersect(a, b SingleKeyRange) (SingleKeyRange, bool) {
	var out SingleKeyRange
	if compareLower(a, b) >= 0 {
		out.From, out.ExcludeFrom = a.From, a.ExcludeFrom
	} else {
		out.From, out.ExcludeFrom = b.From, b.ExcludeFrom
	}
	if compareUpper(a, b) <= 0 {
		out.To, out.ExcludeTo = a.To, a.ExcludeTo
	} else {
		out.To, out.ExcludeTo = b.To, b.ExcludeTo
	}
	if !lowerBelowUpper(out, out, false) {
		return SingleKeyRange{}, false
	}
	return out, true
}

// BoundingRange returns the smallest range containing both a and b.
func BoundingRange(a, b SingleKeyRange) SingleKeyRange {
	var out SingleKeyRange
	if compareLower(a, b) <= 0 {
		out.From, out.ExcludeFrom = a.From, a.ExcludeFrom
	} else {
		out.From, out.ExcludeFrom = b.From, b.ExcludeFrom
	}
	if compareUpper(a, b) >= 0 {
		out.To, out.ExcludeTo = a.To, a.ExcludeTo
	} else {
		out.To, out.ExcludeTo = b.To, b.ExcludeTo
	}
	return out
}

// Normalize sorts ranges by lower bound and merges the ones that overlap or
// touch. The result is a set of disjoint ranges in ascending order.
func Normalize(rs []SingleKeyRange) []SingleKeyRange {
	if len(rs) == 0 {
		return nil
	}
	sorted := make([]SingleKeyRange, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareLower(sorted[i], sorted[j]) < 0
	})

	out := make([]SingleKeyRange, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if lowerBelowUpper(next, cur, true) {
			cur = BoundingRange(cur, next)
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

// IntersectSets returns the ranges contained in both sets.
func IntersectSets(a, b []SingleKeyRange) []SingleKeyRange {
	var out []SingleKeyRange
	for _, x := range a {
		for _, y := range b {
			if r, ok := Intersect(x, y); ok {
				out = append(out, r)
			}
		}
	}
	return Normalize(out)
}

// ComplementSet returns the ranges covering every value outside the union
// of rs. The complement of an empty set is everything.
func ComplementSet(rs []SingleKeyRange) []SingleKeyRange {
	out := []SingleKeyRange{All()}
	for _, r := range rs {
		out = IntersectSets(out, r.Complement())
	}
	return out
}
