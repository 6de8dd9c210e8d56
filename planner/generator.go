// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// GenerateLogicalPlan builds the naive logical plan of a bound query.
func GenerateLogicalPlan(q query.Context) (LogicalNode, error) {
	if !q.IsBound() {
		return nil, errors.New(errors.ErrBinding, "query has unbound parameters")
	}
	switch q := q.(type) {
	case *query.SelectContext:
		return generateSelect(q)
	case *query.InsertContext:
		if len(q.Values) == 0 {
			return nil, errors.Newf(errors.ErrSyntax, "insert into %s without values", q.Into.Name())
		}
		return &InsertNode{Table: q.Into, Rows: q.Values, Replace: q.Replace}, nil
	case *query.UpdateContext:
		if len(q.Set) == 0 {
			return nil, errors.Newf(errors.ErrSyntax, "update of %s without assignments", q.Table.Name())
		}
		return &UpdateNode{logicalBase{[]LogicalNode{filteredScan(q.Table, q.Where)}}, q.Table, q.Set}, nil
	case *query.DeleteContext:
		return &DeleteNode{logicalBase{[]LogicalNode{filteredScan(q.From, q.Where)}}, q.From}, nil
	}
	return nil, errors.Newf(errors.ErrUnsupportedOperation, "unknown query type %T", q)
}

func filteredScan(t *schema.Table, where relation.Predicate) LogicalNode {
	var n LogicalNode = &TableAccessNode{Table: t}
	if where != nil {
		n = &SelectNode{logicalBase{[]LogicalNode{n}}, where}
	}
	return n
}

func wrap(child LogicalNode, parent LogicalNode) LogicalNode {
	n, _ := parent.WithChildren(child)
	return n
}

// generateSelect nests, root first: limit, skip, project, order by,
// aggregation, group by, select, cross product or joins, table access.
func generateSelect(q *query.SelectContext) (LogicalNode, error) {
	if len(q.From) == 0 {
		return nil, errors.New(errors.ErrSyntax, "select without a table")
	}

	var n LogicalNode
	if q.HasOuterJoin() {
		n = joinChain(q)
	} else {
		leaves := make([]LogicalNode, len(q.From))
		for i, t := range q.From {
			leaves[i] = &TableAccessNode{Table: t}
		}
		n = leaves[0]
		if len(leaves) > 1 {
			n = &CrossProductNode{logicalBase{leaves}}
		}
	}

	if where := selectWhere(q); where != nil {
		n = wrap(n, &SelectNode{Pred: where})
	}
	if len(q.GroupBy) > 0 {
		n = wrap(n, &GroupByNode{Columns: q.GroupBy})
	}
	if aggs := aggregatedColumns(q); len(aggs) > 0 {
		n = wrap(n, &AggregationNode{Columns: aggs})
	}
	if len(q.OrderBy) > 0 {
		n = wrap(n, &OrderByNode{OrderBy: q.OrderBy})
	}
	n = wrap(n, &ProjectNode{Columns: q.Columns, GroupBy: q.GroupBy})
	if q.Skip != nil && q.Skip.Value > 0 {
		n = wrap(n, &SkipNode{Skip: q.Skip.Value})
	}
	if q.Limit != nil {
		n = wrap(n, &LimitNode{Limit: q.Limit.Value})
	}
	return n, nil
}

// selectWhere returns the WHERE predicate with the inner joins folded in.
// With an outer join present the joins are nodes of their own instead.
func selectWhere(q *query.SelectContext) relation.Predicate {
	preds := make([]relation.Predicate, 0, len(q.Joins)+1)
	if q.Where != nil {
		preds = append(preds, q.Where)
	}
	if !q.HasOuterJoin() {
		for _, j := range q.Joins {
			preds = append(preds, j.On)
		}
	}
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return relation.NewCombinedPredicate(relation.And, preds...)
}

// joinChain builds a left deep chain of joins over the tables of q. Tables
// without a join clause enter through a cross product.
func joinChain(q *query.SelectContext) LogicalNode {
	on := make(map[string]query.Join, len(q.Joins))
	for _, j := range q.Joins {
		on[j.Table.EffectiveName()] = j
	}
	var n LogicalNode = &TableAccessNode{Table: q.From[0]}
	for _, t := range q.From[1:] {
		right := &TableAccessNode{Table: t}
		j, ok := on[t.EffectiveName()]
		if !ok {
			n = &CrossProductNode{logicalBase{[]LogicalNode{n, right}}}
			continue
		}
		n = &JoinNode{logicalBase{[]LogicalNode{n, right}}, j.On, j.Outer}
	}
	return n
}

// aggregatedColumns returns the aggregates projected or sorted on, each
// once.
func aggregatedColumns(q *query.SelectContext) []*relation.AggregatedColumn {
	var out []*relation.AggregatedColumn
	seen := make(map[string]bool)
	add := func(c relation.Column) {
		a, ok := c.(*relation.AggregatedColumn)
		if !ok || seen[a.NormalizedName()] {
			return
		}
		seen[a.NormalizedName()] = true
		out = append(out, a)
	}
	for _, c := range q.Columns {
		add(c)
	}
	for _, ob := range q.OrderBy {
		add(ob.Column)
	}
	return out
}
