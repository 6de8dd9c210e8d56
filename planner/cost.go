// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// rangePredicate is a predicate a key range can answer, on one column.
type rangePredicate struct {
	pred   relation.Predicate
	column string
	ranges []index.SingleKeyRange
}

// asRangePredicate reports whether p can be answered by an index range on
// a column of t.
func asRangePredicate(t *schema.Table, p relation.Predicate) (rangePredicate, bool) {
	switch p := p.(type) {
	case *relation.ValuePredicate:
		if !p.IsKeyRangeCompatible() {
			return rangePredicate{}, false
		}
		col := p.Column.(*schema.Column)
		if col.TableName() != t.EffectiveName() {
			return rangePredicate{}, false
		}
		return rangePredicate{p, col.Name(), p.ToKeyRange()}, true
	case *relation.CombinedPredicate:
		col, ok := p.KeyRangeColumn()
		if !ok || col.TableName() != t.EffectiveName() {
			return rangePredicate{}, false
		}
		return rangePredicate{p, col.Name(), p.ToKeyRange()}, true
	}
	return rangePredicate{}, false
}

// indexRangeCandidate is one index able to answer some of the predicates.
type indexRangeCandidate struct {
	index   *schema.IndexSchema
	ranges  []index.KeyRange
	covered map[relation.Predicate]bool
	cost    int
}

// newIndexRangeCandidate covers the longest prefix of the index columns
// that preds constrain. Uncovered trailing columns are left unbounded.
func newIndexRangeCandidate(env *cache.Env, is *schema.IndexSchema, preds []rangePredicate) (*indexRangeCandidate, bool) {
	if len(is.Columns) > 1 && is.HasNullableColumn() {
		return nil, false
	}
	c := &indexRangeCandidate{index: is, covered: make(map[relation.Predicate]bool)}
	dims := make([][]index.SingleKeyRange, len(is.Columns))
	prefix := 0
	for i, ic := range is.Columns {
		var set []index.SingleKeyRange
		found := false
		for _, rp := range preds {
			if rp.column != ic.Column.Name() {
				continue
			}
			if !found {
				set, found = rp.ranges, true
			} else {
				set = index.IntersectSets(set, rp.ranges)
			}
			c.covered[rp.pred] = true
		}
		if !found {
			break
		}
		if len(set) == 0 {
			// Unsatisfiable; a full scan returns nothing just as well.
			return nil, false
		}
		dims[i] = set
		prefix++
	}
	if prefix == 0 {
		return nil, false
	}
	for i := prefix; i < len(dims); i++ {
		dims[i] = []index.SingleKeyRange{index.All()}
	}
	c.ranges = cartesian(dims)
	c.cost = env.Index(is).Cost(c.ranges...)
	return c, true
}

// cartesian returns every combination of one range per dimension.
func cartesian(dims [][]index.SingleKeyRange) []index.KeyRange {
	out := []index.KeyRange{{}}
	for _, dim := range dims {
		next := make([]index.KeyRange, 0, len(out)*len(dim))
		for _, prefix := range out {
			for _, r := range dim {
				kr := make(index.KeyRange, len(prefix), len(prefix)+1)
				copy(kr, prefix)
				next = append(next, append(kr, r))
			}
		}
		out = next
	}
	return out
}

// chooseIndexRange returns the cheapest index of t for preds, or nil when
// no index applies. Ties go to the index declared first.
func chooseIndexRange(env *cache.Env, t *schema.Table, preds []relation.Predicate) *indexRangeCandidate {
	var rps []rangePredicate
	for _, p := range preds {
		if rp, ok := asRangePredicate(t, p); ok {
			rps = append(rps, rp)
		}
	}
	if len(rps) == 0 {
		return nil
	}
	var best *indexRangeCandidate
	for _, is := range t.Indices() {
		c, ok := newIndexRangeCandidate(env, is, rps)
		if !ok {
			continue
		}
		if best == nil || c.cost < best.cost {
			best = c
		}
	}
	return best
}
