// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"github.com/molecula/relstore/errors"
)

// toPhysical maps every logical node to the step carrying the same
// parameters.
func toPhysical(n LogicalNode) (Step, error) {
	children := make([]Step, len(n.Children()))
	for i, c := range n.Children() {
		s, err := toPhysical(c)
		if err != nil {
			return nil, err
		}
		children[i] = s
	}
	base := stepBase{children}

	switch n := n.(type) {
	case *TableAccessNode:
		return &TableAccessFullStep{base, n.Table}, nil
	case *CrossProductNode:
		if len(children) != 2 {
			return nil, errors.Newf(errors.ErrUnsupportedOperation, "cross_product with %d children", len(children))
		}
		return &CrossProductStep{base}, nil
	case *JoinNode:
		return newJoinStep(n.Pred, n.Outer, children), nil
	case *SelectNode:
		return &SelectStep{base, n.Pred}, nil
	case *GroupByNode:
		return &GroupByStep{base, n.Columns}, nil
	case *AggregationNode:
		return &AggregationStep{base, n.Columns}, nil
	case *OrderByNode:
		return &OrderByStep{base, n.OrderBy}, nil
	case *SkipNode:
		return &SkipStep{base, n.Skip}, nil
	case *LimitNode:
		return &LimitStep{base, n.Limit}, nil
	case *ProjectNode:
		return &ProjectStep{base, n.Columns, n.GroupBy}, nil
	case *InsertNode:
		return &InsertStep{base, n.Table, n.Rows, n.Replace}, nil
	case *UpdateNode:
		return &UpdateStep{base, n.Table, n.Set}, nil
	case *DeleteNode:
		return &DeleteStep{base, n.Table}, nil
	}
	return nil, errors.Newf(errors.ErrUnsupportedOperation, "no step for logical node %T", n)
}
