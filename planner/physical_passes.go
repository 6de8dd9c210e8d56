// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// physicalPass rewrites a physical plan without changing its result set.
type physicalPass func(env *cache.Env, root Step) (Step, error)

// physicalPasses run in order on every plan.
var physicalPasses = []physicalPass{
	indexJoins,
	indexRangeScans,
	multiColumnOr,
	orderByIndex,
	limitSkipByIndex,
	getRowCount,
}

func optimizePhysical(env *cache.Env, s Step) (Step, error) {
	var err error
	for i, pass := range physicalPasses {
		if s, err = pass(env, s); err != nil {
			return nil, errors.Wrapf(err, "physical pass %d", i)
		}
	}
	return s, nil
}

// joinColumn returns the column of pred read from t.
func joinColumn(pred *relation.JoinPredicate, t *schema.Table) (*schema.Column, bool) {
	for _, c := range []relation.Column{pred.Left, pred.Right} {
		if sc, ok := c.(*schema.Column); ok && sc.TableName() == t.EffectiveName() {
			return sc, true
		}
	}
	return nil, false
}

// indexJoins turns an inner equi-join with a plain table scan on one side
// into index lookups on that side. The right side is tried first.
func indexJoins(env *cache.Env, root Step) (Step, error) {
	s, _, err := TransformPlanOp(root, func(s Step) (Step, bool, error) {
		j, ok := s.(*JoinStep)
		if !ok || j.Outer || !j.Pred.IsEquiJoin() {
			return s, true, nil
		}
		children := j.Children()
		for _, side := range []int{1, 0} {
			ta, ok := children[side].(*TableAccessFullStep)
			if !ok {
				continue
			}
			col, ok := joinColumn(j.Pred, ta.Table)
			if !ok || col.Index() == nil {
				continue
			}
			other := children[1-side]
			pred := j.Pred
			if side == 0 {
				// The indexed side must be on the right.
				pred = pred.Reverse()
			}
			noop := &NoOpStep{Table: ta.Table}
			return &JoinStep{stepBase{[]Step{other, noop}}, pred, false, IndexNestedLoopJoin, col}, false, nil
		}
		return s, true, nil
	})
	return s, err
}

// selectChain returns the selects from s down to the first other step.
func selectChain(s Step) ([]*SelectStep, Step) {
	var chain []*SelectStep
	for {
		sel, ok := s.(*SelectStep)
		if !ok {
			return chain, s
		}
		chain = append(chain, sel)
		s = sel.Children()[0]
	}
}

// rebuildChain stacks the selects of chain not in drop over leaf, keeping
// their order.
func rebuildChain(chain []*SelectStep, drop map[relation.Predicate]bool, leaf Step) (Step, error) {
	out := leaf
	for i := len(chain) - 1; i >= 0; i-- {
		if drop[chain[i].Pred] {
			continue
		}
		var err error
		if out, err = chain[i].WithChildren(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func byRowID(t *schema.Table, child Step) Step {
	return &TableAccessByRowIDStep{stepBase{[]Step{child}}, t}
}

// indexRangeScans replaces a full scan under a chain of selects with a
// scan of the cheapest index answering some of them. The selects answered
// by the index are removed.
func indexRangeScans(env *cache.Env, root Step) (Step, error) {
	s, _, err := TransformPlanOpDown(root, func(s Step) (Step, bool, error) {
		chain, leaf := selectChain(s)
		ta, ok := leaf.(*TableAccessFullStep)
		if len(chain) == 0 || !ok {
			return s, true, nil
		}
		preds := make([]relation.Predicate, len(chain))
		for i, sel := range chain {
			preds[i] = sel.Pred
		}
		c := chooseIndexRange(env, ta.Table, preds)
		if c == nil {
			return s, true, nil
		}
		scan := &IndexRangeScanStep{Table: ta.Table, Index: c.index, Ranges: c.ranges}
		out, err := rebuildChain(chain, c.covered, byRowID(ta.Table, scan))
		if err != nil {
			return s, true, err
		}
		return out, false, nil
	})
	return s, err
}

// multiColumnOr answers an OR over several indexed columns of one table
// with the union of one index scan per branch.
func multiColumnOr(env *cache.Env, root Step) (Step, error) {
	s, _, err := TransformPlanOpDown(root, func(s Step) (Step, bool, error) {
		chain, leaf := selectChain(s)
		ta, ok := leaf.(*TableAccessFullStep)
		if len(chain) == 0 || !ok {
			return s, true, nil
		}
		for _, sel := range chain {
			scans, ok := orScans(ta.Table, sel.Pred)
			if !ok {
				continue
			}
			multi := &MultiIndexRangeScanStep{stepBase{scans}}
			drop := map[relation.Predicate]bool{sel.Pred: true}
			out, err := rebuildChain(chain, drop, byRowID(ta.Table, multi))
			if err != nil {
				return s, true, err
			}
			return out, false, nil
		}
		return s, true, nil
	})
	return s, err
}

// orScans returns one index scan per branch of an OR predicate, or false
// when some branch has no index.
func orScans(t *schema.Table, p relation.Predicate) ([]Step, bool) {
	or, ok := p.(*relation.CombinedPredicate)
	if !ok || or.Op != relation.Or {
		return nil, false
	}
	scans := make([]Step, 0, len(or.Children))
	for _, child := range or.Children {
		rp, ok := asRangePredicate(t, child)
		if !ok {
			return nil, false
		}
		is := t.Col(rp.column).Index()
		if is == nil {
			return nil, false
		}
		scans = append(scans, &IndexRangeScanStep{Table: t, Index: is, Ranges: index.Range(rp.ranges...)})
	}
	return scans, true
}

// orderIndex returns the index of t whose columns are exactly those of
// obs, and whether it must be read in reverse.
func orderIndex(t *schema.Table, obs []query.OrderBy) (*schema.IndexSchema, bool, bool) {
	for _, is := range t.Indices() {
		if reverse, ok := matchesOrder(t, is, obs); ok {
			return is, reverse, true
		}
	}
	return nil, false, false
}

func matchesOrder(t *schema.Table, is *schema.IndexSchema, obs []query.OrderBy) (reverse, ok bool) {
	if len(is.Columns) != len(obs) || is.HasNullableColumn() {
		return false, false
	}
	same, flipped := true, true
	for i, ob := range obs {
		sc, isCol := ob.Column.(*schema.Column)
		if !isCol || sc.TableName() != t.EffectiveName() || sc.Name() != is.Columns[i].Column.Name() {
			return false, false
		}
		if ob.Order != is.Columns[i].Order {
			same = false
		} else {
			flipped = false
		}
	}
	switch {
	case same:
		return false, true
	case flipped:
		return true, true
	}
	return false, false
}

// orderByIndex drops a sort that an index scan can deliver in order.
func orderByIndex(env *cache.Env, root Step) (Step, error) {
	s, _, err := TransformPlanOpDown(root, func(s Step) (Step, bool, error) {
		ob, ok := s.(*OrderByStep)
		if !ok {
			return s, true, nil
		}
		chain, leaf := selectChain(ob.Children()[0])
		switch leaf := leaf.(type) {
		case *TableAccessFullStep:
			is, reverse, ok := orderIndex(leaf.Table, ob.OrderBy)
			if !ok {
				return s, true, nil
			}
			scan := &IndexRangeScanStep{Table: leaf.Table, Index: is, Reverse: reverse}
			out, err := rebuildChain(chain, nil, byRowID(leaf.Table, scan))
			if err != nil {
				return s, true, err
			}
			return out, false, nil
		case *TableAccessByRowIDStep:
			scan, ok := leaf.Children()[0].(*IndexRangeScanStep)
			if !ok || scan.Reverse || scan.Limit > 0 || scan.Skip > 0 {
				return s, true, nil
			}
			reverse, ok := matchesOrder(leaf.Table, scan.Index, ob.OrderBy)
			if !ok {
				return s, true, nil
			}
			cp := *scan
			cp.Reverse = reverse
			out, err := rebuildChain(chain, nil, byRowID(leaf.Table, &cp))
			if err != nil {
				return s, true, err
			}
			return out, false, nil
		}
		return s, true, nil
	})
	return s, err
}

// limitSkipByIndex moves LIMIT and SKIP into an index scan when only a
// plain projection separates them from it.
func limitSkipByIndex(env *cache.Env, root Step) (Step, error) {
	s, _, err := TransformPlanOpDown(root, func(s Step) (Step, bool, error) {
		limit, skip := 0, 0
		cur := s
		if l, ok := cur.(*LimitStep); ok {
			if l.Limit == 0 {
				return s, true, nil
			}
			limit = l.Limit
			cur = l.Children()[0]
		}
		if sk, ok := cur.(*SkipStep); ok {
			skip = sk.Skip
			cur = sk.Children()[0]
		}
		if cur == s {
			return s, true, nil
		}
		proj, ok := cur.(*ProjectStep)
		if !ok || proj.hasAggregated() || len(proj.GroupBy) > 0 {
			return s, true, nil
		}
		rid, ok := proj.Children()[0].(*TableAccessByRowIDStep)
		if !ok {
			return s, true, nil
		}
		scan, ok := rid.Children()[0].(*IndexRangeScanStep)
		if !ok || scan.Limit > 0 || scan.Skip > 0 {
			return s, true, nil
		}
		cp := *scan
		cp.Limit, cp.Skip = limit, skip
		out, err := proj.WithChildren(byRowID(rid.Table, &cp))
		if err != nil {
			return s, true, err
		}
		return out, false, nil
	})
	return s, err
}

// getRowCount answers a bare COUNT(*) over a table from its row id index.
// The projection must hold that aggregate alone: plain columns need the
// rows the full scan would have produced.
func getRowCount(env *cache.Env, root Step) (Step, error) {
	s, _, err := TransformPlanOp(root, func(s Step) (Step, bool, error) {
		proj, ok := s.(*ProjectStep)
		if !ok || len(proj.GroupBy) > 0 || len(proj.Columns) != 1 || !isCountStar(proj.Columns[0]) {
			return s, true, nil
		}
		agg, ok := proj.Children()[0].(*AggregationStep)
		if !ok || len(agg.Columns) != 1 || !isCountStar(agg.Columns[0]) {
			return s, true, nil
		}
		ta, ok := agg.Children()[0].(*TableAccessFullStep)
		if !ok {
			return s, true, nil
		}
		counted, err := agg.WithChildren(&GetRowCountStep{Table: ta.Table})
		if err != nil {
			return s, true, err
		}
		out, err := proj.WithChildren(counted)
		if err != nil {
			return s, true, err
		}
		return out, false, nil
	})
	return s, err
}

func isCountStar(c relation.Column) bool {
	ac, ok := c.(*relation.AggregatedColumn)
	return ok && ac.Agg == relation.Count && ac.Child == relation.Star
}
