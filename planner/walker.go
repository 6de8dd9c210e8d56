// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

// planNode is implemented by LogicalNode and Step.
type planNode[N any] interface {
	Children() []N
	WithChildren(children ...N) (N, error)
}

// PlanVisitor visits nodes in the plan.
type PlanVisitor[N planNode[N]] interface {
	// Visit is invoked for each node during PlanWalk. If the resulting
	// PlanVisitor is not nil, PlanWalk visits each of the children of the
	// node with that visitor.
	Visit(n N) PlanVisitor[N]
}

// PlanWalk traverses the plan depth-first. It starts by calling v.Visit on
// n. If the result is not nil, PlanWalk is invoked recursively with the
// returned visitor for each of the children of n.
func PlanWalk[N planNode[N]](v PlanVisitor[N], n N) {
	if v = v.Visit(n); v == nil {
		return
	}
	for _, child := range n.Children() {
		PlanWalk(v, child)
	}
}

type planInspector[N planNode[N]] func(N) bool

func (f planInspector[N]) Visit(n N) PlanVisitor[N] {
	if f(n) {
		return f
	}
	return nil
}

// InspectPlan traverses the plan depth-first; if f(n) returns true,
// InspectPlan invokes f recursively for each of the children of n.
func InspectPlan[N planNode[N]](n N, f func(N) bool) {
	PlanWalk[N](planInspector[N](f), n)
}

// PlanOpFunc is a function that given a node returns either a transformed
// node or the original one. The bool is true when the node is unchanged.
type PlanOpFunc[N planNode[N]] func(n N) (N, bool, error)

// TransformPlanOp applies f to the plan from the bottom up.
func TransformPlanOp[N planNode[N]](n N, f PlanOpFunc[N]) (N, bool, error) {
	children := n.Children()
	if len(children) == 0 {
		return f(n)
	}

	var newChildren []N
	for i := range children {
		child, same, err := TransformPlanOp(children[i], f)
		if err != nil {
			return n, true, err
		}
		if !same {
			if newChildren == nil {
				newChildren = make([]N, len(children))
				copy(newChildren, children)
			}
			newChildren[i] = child
		}
	}

	var err error
	sameC := true
	if len(newChildren) > 0 {
		sameC = false
		n, err = n.WithChildren(newChildren...)
		if err != nil {
			return n, true, err
		}
	}

	n, sameN, err := f(n)
	if err != nil {
		return n, true, err
	}
	return n, sameC && sameN, nil
}

// TransformPlanOpDown applies f to the plan from the top down: a node is
// transformed before its children, and the children of the transformed
// node are visited next.
func TransformPlanOpDown[N planNode[N]](n N, f PlanOpFunc[N]) (N, bool, error) {
	n, sameN, err := f(n)
	if err != nil {
		return n, true, err
	}

	children := n.Children()
	var newChildren []N
	for i := range children {
		child, same, err := TransformPlanOpDown(children[i], f)
		if err != nil {
			return n, true, err
		}
		if !same {
			if newChildren == nil {
				newChildren = make([]N, len(children))
				copy(newChildren, children)
			}
			newChildren[i] = child
		}
	}
	if len(newChildren) == 0 {
		return n, sameN, nil
	}
	n, err = n.WithChildren(newChildren...)
	if err != nil {
		return n, true, err
	}
	return n, false, nil
}
