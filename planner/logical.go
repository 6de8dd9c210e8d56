// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"fmt"
	"strings"

	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// LogicalNode is a node of a logical plan. The node types form a closed
// set; every pass and the physical plan factory switch over them.
type LogicalNode interface {
	Children() []LogicalNode
	// WithChildren returns a copy of the node over children.
	WithChildren(children ...LogicalNode) (LogicalNode, error)
	String() string

	logicalNode()
}

// logicalBase holds the children of a node.
type logicalBase struct {
	children []LogicalNode
}

func (b *logicalBase) Children() []LogicalNode { return b.children }
func (b *logicalBase) logicalNode()            {}

func childCount(name string, n int, children []LogicalNode) error {
	if len(children) != n {
		return errors.Newf(errors.ErrUnsupportedOperation, "%s takes %d children, got %d", name, n, len(children))
	}
	return nil
}

// TableAccessNode reads every row of a table.
type TableAccessNode struct {
	logicalBase
	Table *schema.Table
}

func (n *TableAccessNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("table_access", 0, children); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *TableAccessNode) String() string {
	return fmt.Sprintf("table_access(%s)", tableString(n.Table))
}

func tableString(t *schema.Table) string {
	if t.Alias() != "" {
		return t.Name() + " as " + t.Alias()
	}
	return t.Name()
}

// CrossProductNode combines every entry of its children. It has two or
// more children until the cross product pass makes it binary.
type CrossProductNode struct {
	logicalBase
}

func (n *CrossProductNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if len(children) < 2 {
		return nil, errors.Newf(errors.ErrUnsupportedOperation, "cross_product takes at least 2 children, got %d", len(children))
	}
	return &CrossProductNode{logicalBase{children}}, nil
}

func (n *CrossProductNode) String() string { return "cross_product" }

// JoinNode joins its two children on a join predicate.
type JoinNode struct {
	logicalBase
	Pred  *relation.JoinPredicate
	Outer bool
}

func (n *JoinNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("join", 2, children); err != nil {
		return nil, err
	}
	return &JoinNode{logicalBase{children}, n.Pred, n.Outer}, nil
}

func (n *JoinNode) String() string {
	return fmt.Sprintf("join(type: %s, %s)", joinType(n.Outer), n.Pred)
}

func joinType(outer bool) string {
	if outer {
		return "outer"
	}
	return "inner"
}

// SelectNode filters its child.
type SelectNode struct {
	logicalBase
	Pred relation.Predicate
}

func (n *SelectNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("select", 1, children); err != nil {
		return nil, err
	}
	return &SelectNode{logicalBase{children}, n.Pred}, nil
}

func (n *SelectNode) String() string { return fmt.Sprintf("select(%s)", n.Pred) }

// GroupByNode splits its child into one relation per group.
type GroupByNode struct {
	logicalBase
	Columns []relation.Column
}

func (n *GroupByNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("group_by", 1, children); err != nil {
		return nil, err
	}
	return &GroupByNode{logicalBase{children}, n.Columns}, nil
}

func (n *GroupByNode) String() string { return fmt.Sprintf("group_by(%s)", columnList(n.Columns)) }

// AggregationNode computes aggregates over each relation of its child.
type AggregationNode struct {
	logicalBase
	Columns []*relation.AggregatedColumn
}

func (n *AggregationNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("aggregation", 1, children); err != nil {
		return nil, err
	}
	return &AggregationNode{logicalBase{children}, n.Columns}, nil
}

func (n *AggregationNode) String() string {
	cols := make([]relation.Column, len(n.Columns))
	for i, c := range n.Columns {
		cols[i] = c
	}
	return fmt.Sprintf("aggregation(%s)", columnList(cols))
}

// OrderByNode sorts its child.
type OrderByNode struct {
	logicalBase
	OrderBy []query.OrderBy
}

func (n *OrderByNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("order_by", 1, children); err != nil {
		return nil, err
	}
	return &OrderByNode{logicalBase{children}, n.OrderBy}, nil
}

func (n *OrderByNode) String() string { return fmt.Sprintf("order_by(%s)", orderByList(n.OrderBy)) }

func orderByList(obs []query.OrderBy) string {
	parts := make([]string, len(obs))
	for i, ob := range obs {
		parts[i] = fmt.Sprintf("%s %s", ob.Column.NormalizedName(), ob.Order)
	}
	return strings.Join(parts, ", ")
}

// SkipNode drops leading entries.
type SkipNode struct {
	logicalBase
	Skip int
}

func (n *SkipNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("skip", 1, children); err != nil {
		return nil, err
	}
	return &SkipNode{logicalBase{children}, n.Skip}, nil
}

func (n *SkipNode) String() string { return fmt.Sprintf("skip(%d)", n.Skip) }

// LimitNode keeps leading entries.
type LimitNode struct {
	logicalBase
	Limit int
}

func (n *LimitNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("limit", 1, children); err != nil {
		return nil, err
	}
	return &LimitNode{logicalBase{children}, n.Limit}, nil
}

func (n *LimitNode) String() string { return fmt.Sprintf("limit(%d)", n.Limit) }

// ProjectNode shapes the result entries.
type ProjectNode struct {
	logicalBase
	Columns []relation.Column
	GroupBy []relation.Column
}

func (n *ProjectNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("project", 1, children); err != nil {
		return nil, err
	}
	return &ProjectNode{logicalBase{children}, n.Columns, n.GroupBy}, nil
}

func (n *ProjectNode) String() string { return projectString(n.Columns, n.GroupBy) }

func projectString(cols, groupBy []relation.Column) string {
	s := "project(" + columnList(cols)
	if len(groupBy) > 0 {
		s += ", groupBy(" + columnList(groupBy) + ")"
	}
	return s + ")"
}

func columnList(cols []relation.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.NormalizedName()
		if a := c.Alias(); a != "" {
			parts[i] += " as " + a
		}
	}
	return strings.Join(parts, ", ")
}

// InsertNode inserts rows into a table. With Replace set, rows sharing a
// primary key replace the existing ones.
type InsertNode struct {
	logicalBase
	Table   *schema.Table
	Rows    []*schema.Row
	Replace bool
}

func (n *InsertNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("insert", 0, children); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *InsertNode) String() string {
	if n.Replace {
		return fmt.Sprintf("insert_replace(%s)", n.Table.Name())
	}
	return fmt.Sprintf("insert(%s)", n.Table.Name())
}

// UpdateNode applies assignments to the rows of its child.
type UpdateNode struct {
	logicalBase
	Table *schema.Table
	Set   []query.Assignment
}

func (n *UpdateNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("update", 1, children); err != nil {
		return nil, err
	}
	return &UpdateNode{logicalBase{children}, n.Table, n.Set}, nil
}

func (n *UpdateNode) String() string { return fmt.Sprintf("update(%s)", n.Table.Name()) }

// DeleteNode removes the rows of its child.
type DeleteNode struct {
	logicalBase
	Table *schema.Table
}

func (n *DeleteNode) WithChildren(children ...LogicalNode) (LogicalNode, error) {
	if err := childCount("delete", 1, children); err != nil {
		return nil, err
	}
	return &DeleteNode{logicalBase{children}, n.Table}, nil
}

func (n *DeleteNode) String() string { return fmt.Sprintf("delete(%s)", n.Table.Name()) }

// tablesOf returns the effective names of the tables read under n.
func tablesOf(n LogicalNode) map[string]bool {
	out := make(map[string]bool)
	InspectPlan(n, func(c LogicalNode) bool {
		if ta, ok := c.(*TableAccessNode); ok {
			out[ta.Table.EffectiveName()] = true
		}
		return true
	})
	return out
}
