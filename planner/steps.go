// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
	"golang.org/x/sync/errgroup"
)

// ExecMode tells how a step obtains its input relations.
type ExecMode int

const (
	// NoChild steps produce relations from indices and the cache.
	NoChild ExecMode = iota
	// FirstChild steps transform the relations of their only child.
	FirstChild
	// AllChildren steps combine the first relation of every child. The
	// children run concurrently.
	AllChildren
)

// ExecContext is what steps execute against. Journal is nil for read only
// plans.
type ExecContext struct {
	Env     *cache.Env
	Journal *cache.Journal
}

// Step is a node of a physical plan.
type Step interface {
	Children() []Step
	// WithChildren returns a copy of the step over children.
	WithChildren(children ...Step) (Step, error)
	Mode() ExecMode
	String() string

	execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error)
}

type stepBase struct {
	children []Step
}

func (b *stepBase) Children() []Step { return b.children }

func stepChildren(name string, n int, children []Step) error {
	if len(children) != n {
		return errors.Newf(errors.ErrUnsupportedOperation, "%s takes %d children, got %d", name, n, len(children))
	}
	return nil
}

func one(r *relation.Relation) []*relation.Relation { return []*relation.Relation{r} }

// execStep runs s and everything below it.
func execStep(ctx context.Context, s Step, ec *ExecContext) ([]*relation.Relation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch s.Mode() {
	case NoChild:
		return s.execInternal(ctx, ec, nil)
	case FirstChild:
		rels, err := execStep(ctx, s.Children()[0], ec)
		if err != nil {
			return nil, err
		}
		return s.execInternal(ctx, ec, rels)
	}

	children := s.Children()
	rels := make([]*relation.Relation, len(children))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range children {
		i, c := i, c
		g.Go(func() error {
			out, err := execStep(gctx, c, ec)
			if err != nil {
				return err
			}
			if len(out) == 0 {
				rels[i] = relation.Empty()
			} else {
				rels[i] = out[0]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s.execInternal(ctx, ec, rels)
}

// TableAccessFullStep reads every row of a table.
type TableAccessFullStep struct {
	stepBase
	Table *schema.Table
}

func (s *TableAccessFullStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("table_access", 0, children); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TableAccessFullStep) Mode() ExecMode { return NoChild }
func (s *TableAccessFullStep) String() string {
	return fmt.Sprintf("table_access(%s)", tableString(s.Table))
}

func (s *TableAccessFullStep) execInternal(ctx context.Context, ec *ExecContext, _ []*relation.Relation) ([]*relation.Relation, error) {
	ids := ec.Env.RowIDIndex(s.Table).GetRange(nil, false, 0, 0)
	rows := ec.Env.Cache.GetMany(ids)
	return one(relation.FromRows(rows, []string{s.Table.EffectiveName()})), nil
}

// TableAccessByRowIDStep replaces the id only rows of its child with the
// cached rows.
type TableAccessByRowIDStep struct {
	stepBase
	Table *schema.Table
}

func (s *TableAccessByRowIDStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("table_access_by_row_id", 1, children); err != nil {
		return nil, err
	}
	return &TableAccessByRowIDStep{stepBase{children}, s.Table}, nil
}

func (s *TableAccessByRowIDStep) Mode() ExecMode { return FirstChild }
func (s *TableAccessByRowIDStep) String() string {
	return fmt.Sprintf("table_access_by_row_id(%s)", tableString(s.Table))
}

func (s *TableAccessByRowIDStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	rows := ec.Env.Cache.GetMany(rels[0].RowIDs())
	return one(relation.FromRows(rows, []string{s.Table.EffectiveName()})), nil
}

// IndexRangeScanStep reads the row ids inside key ranges of an index. Its
// entries carry ids only.
type IndexRangeScanStep struct {
	stepBase
	Table *schema.Table
	Index *schema.IndexSchema
	// Ranges holds one KeyRange per union member. Empty means the whole
	// index.
	Ranges  []index.KeyRange
	Reverse bool
	Limit   int
	Skip    int
}

func (s *IndexRangeScanStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("index_range_scan", 0, children); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *IndexRangeScanStep) Mode() ExecMode { return NoChild }

func (s *IndexRangeScanStep) String() string {
	ranges := "all"
	if len(s.Ranges) > 0 {
		parts := make([]string, len(s.Ranges))
		for i, r := range s.Ranges {
			parts[i] = r.String()
		}
		ranges = strings.Join(parts, ", ")
	}
	dir := "natural"
	if s.Reverse {
		dir = "reverse"
	}
	out := fmt.Sprintf("index_range_scan(%s, %s, %s", s.Index.NormalizedName(), ranges, dir)
	if s.Limit > 0 {
		out += fmt.Sprintf(", limit:%d", s.Limit)
	}
	if s.Skip > 0 {
		out += fmt.Sprintf(", skip:%d", s.Skip)
	}
	return out + ")"
}

func (s *IndexRangeScanStep) execInternal(ctx context.Context, ec *ExecContext, _ []*relation.Relation) ([]*relation.Relation, error) {
	ids := ec.Env.Index(s.Index).GetRange(s.Ranges, s.Reverse, s.Limit, s.Skip)
	rows := make([]*schema.Row, len(ids))
	for i, id := range ids {
		rows[i] = schema.NewRow(id, nil)
	}
	return one(relation.FromRows(rows, []string{s.Table.EffectiveName()})), nil
}

// MultiIndexRangeScanStep unions the ids found by its index range scan
// children. The order of the result is unspecified.
type MultiIndexRangeScanStep struct {
	stepBase
}

func (s *MultiIndexRangeScanStep) WithChildren(children ...Step) (Step, error) {
	return &MultiIndexRangeScanStep{stepBase{children}}, nil
}

func (s *MultiIndexRangeScanStep) Mode() ExecMode { return AllChildren }
func (s *MultiIndexRangeScanStep) String() string { return "multi_index_range_scan()" }

func (s *MultiIndexRangeScanStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	return one(relation.Union(rels)), nil
}

// SelectStep filters every relation of its child.
type SelectStep struct {
	stepBase
	Pred relation.Predicate
}

func (s *SelectStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("select", 1, children); err != nil {
		return nil, err
	}
	return &SelectStep{stepBase{children}, s.Pred}, nil
}

func (s *SelectStep) Mode() ExecMode { return FirstChild }
func (s *SelectStep) String() string { return fmt.Sprintf("select(%s)", s.Pred) }

func (s *SelectStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	out := make([]*relation.Relation, len(rels))
	for i, r := range rels {
		out[i] = s.Pred.Eval(r)
	}
	return out, nil
}

// CrossProductStep combines every entry of its two children.
type CrossProductStep struct {
	stepBase
}

func (s *CrossProductStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("cross_product", 2, children); err != nil {
		return nil, err
	}
	return &CrossProductStep{stepBase{children}}, nil
}

func (s *CrossProductStep) Mode() ExecMode { return AllChildren }
func (s *CrossProductStep) String() string { return "cross_product" }

func (s *CrossProductStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	return one(relation.CrossProduct(rels[0], rels[1])), nil
}

// JoinImpl is the algorithm a JoinStep runs.
type JoinImpl string

const (
	HashJoin            JoinImpl = "hash"
	NestedLoopJoin      JoinImpl = "nested_loop"
	IndexNestedLoopJoin JoinImpl = "index_nested_loop"
)

// JoinStep joins its two children. With IndexNestedLoopJoin the right
// child is a NoOpStep and rows of IndexColumn's table are looked up through
// the column's index instead.
type JoinStep struct {
	stepBase
	Pred        *relation.JoinPredicate
	Outer       bool
	Impl        JoinImpl
	IndexColumn *schema.Column
}

func newJoinStep(pred *relation.JoinPredicate, outer bool, children []Step) *JoinStep {
	impl := NestedLoopJoin
	if pred.IsEquiJoin() {
		impl = HashJoin
	}
	return &JoinStep{stepBase{children}, pred, outer, impl, nil}
}

func (s *JoinStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("join", 2, children); err != nil {
		return nil, err
	}
	return &JoinStep{stepBase{children}, s.Pred, s.Outer, s.Impl, s.IndexColumn}, nil
}

func (s *JoinStep) Mode() ExecMode { return AllChildren }
func (s *JoinStep) String() string {
	return fmt.Sprintf("join(type: %s, impl: %s, %s)", joinType(s.Outer), s.Impl, s.Pred)
}

func (s *JoinStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	left, right := rels[0], rels[1]
	switch s.Impl {
	case HashJoin:
		return one(s.Pred.HashJoin(left, right, s.Outer)), nil
	case IndexNestedLoopJoin:
		idx := ec.Env.Index(s.IndexColumn.Index())
		lookup := func(k index.Key) []*schema.Row {
			return ec.Env.Cache.GetMany(idx.Get(k))
		}
		return one(s.Pred.IndexNestedLoopJoin(left, s.IndexColumn.TableName(), lookup, s.Outer)), nil
	}
	return one(s.Pred.NestedLoopJoin(left, right, s.Outer)), nil
}

// NoOpStep stands in for a table whose rows another step looks up itself.
type NoOpStep struct {
	stepBase
	Table *schema.Table
}

func (s *NoOpStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("no_op_step", 0, children); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *NoOpStep) Mode() ExecMode { return NoChild }
func (s *NoOpStep) String() string { return fmt.Sprintf("no_op_step(%s)", tableString(s.Table)) }

func (s *NoOpStep) execInternal(ctx context.Context, ec *ExecContext, _ []*relation.Relation) ([]*relation.Relation, error) {
	return one(relation.New(nil, []string{s.Table.EffectiveName()})), nil
}

// GroupByStep splits its child into one relation per distinct combination
// of the group columns, in order of first appearance.
type GroupByStep struct {
	stepBase
	Columns []relation.Column
}

func (s *GroupByStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("group_by", 1, children); err != nil {
		return nil, err
	}
	return &GroupByStep{stepBase{children}, s.Columns}, nil
}

func (s *GroupByStep) Mode() ExecMode { return FirstChild }
func (s *GroupByStep) String() string { return fmt.Sprintf("group_by(%s)", columnList(s.Columns)) }

func (s *GroupByStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	in := rels[0]
	groups := make(map[string][]*relation.Entry)
	var keys []string
	for _, e := range in.Entries {
		k := groupKey(s.Columns, e)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e)
	}
	out := make([]*relation.Relation, len(keys))
	for i, k := range keys {
		out[i] = relation.New(groups[k], in.Tables())
	}
	return out, nil
}

func groupKey(cols []relation.Column, e *relation.Entry) string {
	key := make([]interface{}, len(cols))
	for i, c := range cols {
		key[i] = schema.NormalizeKey(c.Type(), e.GetField(c))
	}
	return index.FormatKey(key)
}

// AggregationStep computes aggregates over every relation of its child.
// Results already present, such as a row count taken from an index, are
// kept.
type AggregationStep struct {
	stepBase
	Columns []*relation.AggregatedColumn
}

func (s *AggregationStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("aggregation", 1, children); err != nil {
		return nil, err
	}
	return &AggregationStep{stepBase{children}, s.Columns}, nil
}

func (s *AggregationStep) Mode() ExecMode { return FirstChild }
func (s *AggregationStep) String() string {
	cols := make([]relation.Column, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c
	}
	return fmt.Sprintf("aggregation(%s)", columnList(cols))
}

func (s *AggregationStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	for _, r := range rels {
		for _, c := range s.Columns {
			if r.HasAggregationResult(c) {
				continue
			}
			r.SetAggregationResult(c, relation.EvalAggregation(r, c))
		}
	}
	return rels, nil
}

// ProjectStep shapes the result. Rows are always copied, so callers never
// hold cached rows.
type ProjectStep struct {
	stepBase
	Columns []relation.Column
	GroupBy []relation.Column
}

func (s *ProjectStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("project", 1, children); err != nil {
		return nil, err
	}
	return &ProjectStep{stepBase{children}, s.Columns, s.GroupBy}, nil
}

func (s *ProjectStep) Mode() ExecMode { return FirstChild }
func (s *ProjectStep) String() string { return projectString(s.Columns, s.GroupBy) }

func (s *ProjectStep) hasAggregated() bool {
	for _, c := range s.Columns {
		if relation.IsAggregated(c) {
			return true
		}
	}
	return false
}

func (s *ProjectStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	switch len(rels) {
	case 0:
		return one(relation.Empty()), nil
	case 1:
		return one(s.projectOne(rels[0])), nil
	}
	// One entry per group.
	entries := make([]*relation.Entry, len(rels))
	for i, r := range rels {
		entries[i] = s.aggregateEntry(r)
	}
	return one(relation.New(entries, rels[0].Tables())), nil
}

func (s *ProjectStep) projectOne(r *relation.Relation) *relation.Relation {
	if len(s.Columns) == 0 {
		entries := make([]*relation.Entry, len(r.Entries))
		for i, e := range r.Entries {
			entries[i] = relation.NewEntry(e.Row.Copy(), e.IsPrefixApplied())
		}
		return relation.New(entries, r.Tables())
	}
	if len(s.Columns) == 1 && relation.IsDistinct(s.Columns[0]) {
		return s.flattenDistinct(r, s.Columns[0].(*relation.AggregatedColumn))
	}
	if s.hasAggregated() {
		return relation.New([]*relation.Entry{s.aggregateEntry(r)}, r.Tables())
	}
	entries := make([]*relation.Entry, len(r.Entries))
	for i, e := range r.Entries {
		out := relation.NewEntry(schema.NewRow(schema.DummyID, schema.Payload{}), r.IsPrefixApplied())
		for _, c := range s.Columns {
			out.SetField(c, e.GetField(c))
		}
		entries[i] = out
	}
	return relation.New(entries, r.Tables())
}

// flattenDistinct returns one entry per distinct value of col.
func (s *ProjectStep) flattenDistinct(r *relation.Relation, col *relation.AggregatedColumn) *relation.Relation {
	v, _ := r.AggregationResult(col)
	distinct, ok := v.(*relation.Relation)
	if !ok {
		return relation.New(nil, r.Tables())
	}
	entries := make([]*relation.Entry, len(distinct.Entries))
	for i, e := range distinct.Entries {
		out := relation.NewEntry(schema.NewRow(schema.DummyID, schema.Payload{}), r.IsPrefixApplied())
		out.SetField(col, e.GetField(col.Child))
		entries[i] = out
	}
	return relation.New(entries, r.Tables())
}

// aggregateEntry builds the single entry standing for r: aggregated columns
// take their results, plain columns the value of the first entry.
func (s *ProjectStep) aggregateEntry(r *relation.Relation) *relation.Entry {
	out := relation.NewEntry(schema.NewRow(schema.DummyID, schema.Payload{}), r.IsPrefixApplied())
	var first *relation.Entry
	if len(r.Entries) > 0 {
		first = r.Entries[0]
	}
	for _, c := range s.Columns {
		if relation.IsAggregated(c) {
			v, _ := r.AggregationResult(c)
			if _, ok := v.(*relation.Relation); ok {
				// A DISTINCT among other columns has no single value.
				v = nil
			}
			out.SetField(c, v)
			continue
		}
		var v interface{}
		if first != nil {
			v = first.GetField(c)
		}
		out.SetField(c, v)
	}
	return out
}

// OrderByStep sorts entries, or groups when its child produced several
// relations. Ties on one column fall through to the next.
type OrderByStep struct {
	stepBase
	OrderBy []query.OrderBy
}

func (s *OrderByStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("order_by", 1, children); err != nil {
		return nil, err
	}
	return &OrderByStep{stepBase{children}, s.OrderBy}, nil
}

func (s *OrderByStep) Mode() ExecMode { return FirstChild }
func (s *OrderByStep) String() string { return fmt.Sprintf("order_by(%s)", orderByList(s.OrderBy)) }

// compareValues orders two field values of col ascending, nulls first.
func compareValues(col relation.Column, a, b interface{}) int {
	return index.CompareKeys(schema.NormalizeKey(col.Type(), a), schema.NormalizeKey(col.Type(), b))
}

func compareBy(obs []query.OrderBy, field func(i int, col relation.Column) interface{}) func(i, j int) bool {
	return func(i, j int) bool {
		for _, ob := range obs {
			c := compareValues(ob.Column, field(i, ob.Column), field(j, ob.Column))
			if c == 0 {
				continue
			}
			if ob.Order == index.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	}
}

func (s *OrderByStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	if len(rels) == 1 {
		s.sortEntries(rels[0])
		return rels, nil
	}
	sort.SliceStable(rels, compareBy(s.OrderBy, func(i int, col relation.Column) interface{} {
		if relation.IsAggregated(col) {
			v, _ := rels[i].AggregationResult(col)
			return v
		}
		if len(rels[i].Entries) == 0 {
			return nil
		}
		return rels[i].Entries[0].GetField(col)
	}))
	return rels, nil
}

// sortEntries sorts r in place. Sorting on a DISTINCT column sorts its
// result relation instead, on the column the DISTINCT reads.
func (s *OrderByStep) sortEntries(r *relation.Relation) {
	target := r
	obs := s.OrderBy
	for i, ob := range s.OrderBy {
		ac, ok := ob.Column.(*relation.AggregatedColumn)
		if !ok || ac.Agg != relation.Distinct {
			continue
		}
		v, _ := r.AggregationResult(ac)
		distinct, ok := v.(*relation.Relation)
		if !ok {
			continue
		}
		target = distinct
		obs = append([]query.OrderBy(nil), s.OrderBy...)
		obs[i].Column = ac.Child
		break
	}
	entries := target.Entries
	sort.SliceStable(entries, compareBy(obs, func(i int, col relation.Column) interface{} {
		return entries[i].GetField(col)
	}))
}

// LimitStep keeps the first Limit entries.
type LimitStep struct {
	stepBase
	Limit int
}

func (s *LimitStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("limit", 1, children); err != nil {
		return nil, err
	}
	return &LimitStep{stepBase{children}, s.Limit}, nil
}

func (s *LimitStep) Mode() ExecMode { return FirstChild }
func (s *LimitStep) String() string { return fmt.Sprintf("limit(%d)", s.Limit) }

func (s *LimitStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	r := rels[0]
	if s.Limit < len(r.Entries) {
		r = relation.New(r.Entries[:s.Limit], r.Tables())
	}
	return one(r), nil
}

// SkipStep drops the first Skip entries.
type SkipStep struct {
	stepBase
	Skip int
}

func (s *SkipStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("skip", 1, children); err != nil {
		return nil, err
	}
	return &SkipStep{stepBase{children}, s.Skip}, nil
}

func (s *SkipStep) Mode() ExecMode { return FirstChild }
func (s *SkipStep) String() string { return fmt.Sprintf("skip(%d)", s.Skip) }

func (s *SkipStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	r := rels[0]
	if s.Skip >= len(r.Entries) {
		return one(relation.New(nil, r.Tables())), nil
	}
	return one(relation.New(r.Entries[s.Skip:], r.Tables())), nil
}

// GetRowCountStep answers COUNT(*) from the row id index of a table. Its
// relation has no entries, only the aggregation result.
type GetRowCountStep struct {
	stepBase
	Table *schema.Table
}

func (s *GetRowCountStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("get_row_count", 0, children); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GetRowCountStep) Mode() ExecMode { return NoChild }
func (s *GetRowCountStep) String() string {
	return fmt.Sprintf("get_row_count(%s)", tableString(s.Table))
}

func (s *GetRowCountStep) execInternal(ctx context.Context, ec *ExecContext, _ []*relation.Relation) ([]*relation.Relation, error) {
	r := relation.New(nil, []string{s.Table.EffectiveName()})
	r.SetAggregationResult(relation.Aggregate(relation.Count, relation.Star), int64(ec.Env.RowIDIndex(s.Table).Stats().TotalRows))
	return one(r), nil
}
