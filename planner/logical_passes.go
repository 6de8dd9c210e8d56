// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"github.com/molecula/relstore/relation"
)

// logicalPass rewrites a logical plan without changing its result.
type logicalPass func(LogicalNode) (LogicalNode, error)

// logicalPasses run in order on every SELECT plan.
var logicalPasses = []logicalPass{
	splitAndPredicates,
	binarizeCrossProducts,
	pushDownSelections,
	implicitJoins,
}

func optimizeLogical(n LogicalNode) (LogicalNode, error) {
	var err error
	for _, pass := range logicalPasses {
		if n, err = pass(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// splitAndPredicates turns select(a AND b AND c) into a chain of three
// selects so each conjunct can move on its own.
func splitAndPredicates(root LogicalNode) (LogicalNode, error) {
	n, _, err := TransformPlanOp(root, func(n LogicalNode) (LogicalNode, bool, error) {
		sel, ok := n.(*SelectNode)
		if !ok {
			return n, true, nil
		}
		conjuncts := flattenAnd(sel.Pred)
		if len(conjuncts) == 1 {
			return n, true, nil
		}
		out := sel.Children()[0]
		for i := len(conjuncts) - 1; i >= 0; i-- {
			out = &SelectNode{logicalBase{[]LogicalNode{out}}, conjuncts[i]}
		}
		return out, false, nil
	})
	return n, err
}

func flattenAnd(p relation.Predicate) []relation.Predicate {
	c, ok := p.(*relation.CombinedPredicate)
	if !ok || c.Op != relation.And {
		return []relation.Predicate{p}
	}
	var out []relation.Predicate
	for _, child := range c.Children {
		out = append(out, flattenAnd(child)...)
	}
	return out
}

// binarizeCrossProducts rewrites n-ary cross products into a left deep
// chain of binary ones.
func binarizeCrossProducts(root LogicalNode) (LogicalNode, error) {
	n, _, err := TransformPlanOp(root, func(n LogicalNode) (LogicalNode, bool, error) {
		cp, ok := n.(*CrossProductNode)
		if !ok || len(cp.Children()) <= 2 {
			return n, true, nil
		}
		children := cp.Children()
		var out LogicalNode = &CrossProductNode{logicalBase{[]LogicalNode{children[0], children[1]}}}
		for _, c := range children[2:] {
			out = &CrossProductNode{logicalBase{[]LogicalNode{out, c}}}
		}
		return out, false, nil
	})
	return n, err
}

// pushDownSelections moves every select as close to the tables it reads as
// possible. A select never moves into the right side of an outer join,
// where it would filter before the padding instead of after it.
func pushDownSelections(root LogicalNode) (LogicalNode, error) {
	n, _, err := TransformPlanOpDown(root, func(n LogicalNode) (LogicalNode, bool, error) {
		// The node moved into place is the next select of the chain, so
		// keep going until one stays.
		same := true
		for {
			sel, ok := n.(*SelectNode)
			if !ok {
				break
			}
			placed, ok, err := place(sel.Children()[0], sel.Pred)
			if err != nil {
				return n, true, err
			}
			if !ok {
				break
			}
			n, same = placed, false
		}
		return n, same, nil
	})
	return n, err
}

// place returns n with a select on pred inserted below it, as deep as the
// tables of pred allow. It reports false when pred cannot go below n.
func place(n LogicalNode, pred relation.Predicate) (LogicalNode, bool, error) {
	tables := pred.Tables()
	if len(tables) == 0 {
		return nil, false, nil
	}
	switch n := n.(type) {
	case *SelectNode:
		c, ok, err := place(n.Children()[0], pred)
		if err != nil || !ok {
			return nil, false, err
		}
		out, err := n.WithChildren(c)
		return out, err == nil, err
	case *CrossProductNode, *JoinNode:
		outer := false
		if j, ok := n.(*JoinNode); ok {
			outer = j.Outer
		}
		children := n.Children()
		for i, child := range children {
			if outer && i == 1 {
				break
			}
			if !covers(tablesOf(child), tables) {
				continue
			}
			c, ok, err := place(child, pred)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				c = &SelectNode{logicalBase{[]LogicalNode{child}}, pred}
			}
			next := append([]LogicalNode(nil), children...)
			next[i] = c
			out, err := n.WithChildren(next...)
			return out, err == nil, err
		}
	}
	return nil, false, nil
}

func covers(have map[string]bool, want []string) bool {
	for _, t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

// implicitJoins turns a select on a join predicate directly over a binary
// cross product into an inner join.
func implicitJoins(root LogicalNode) (LogicalNode, error) {
	n, _, err := TransformPlanOp(root, func(n LogicalNode) (LogicalNode, bool, error) {
		sel, ok := n.(*SelectNode)
		if !ok {
			return n, true, nil
		}
		jp, ok := sel.Pred.(*relation.JoinPredicate)
		if !ok {
			return n, true, nil
		}
		cp, ok := sel.Children()[0].(*CrossProductNode)
		if !ok || len(cp.Children()) != 2 {
			return n, true, nil
		}
		return &JoinNode{logicalBase{cp.Children()}, jp, false}, false, nil
	})
	return n, err
}
