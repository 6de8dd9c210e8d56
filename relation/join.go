// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relation

import (
	"fmt"
	"math"
	"reflect"

	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
)

// JoinPredicate compares a column of one relation with a column of another.
type JoinPredicate struct {
	Left  Column
	Right Column
	Op    Operator

	complement bool
	eval       EvalFunc
}

// NewJoinPredicate returns left op right.
func NewJoinPredicate(left Column, op Operator, right Column) (*JoinPredicate, error) {
	fn, err := defaultRegistry.Evaluator(left.Type(), op)
	if err != nil {
		return nil, err
	}
	return &JoinPredicate{Left: left, Right: right, Op: op, eval: fn}, nil
}

func (p *JoinPredicate) predicate() {}

func (p *JoinPredicate) Matches(e *Entry) bool {
	return p.eval(e.GetField(p.Left), e.GetField(p.Right)) != p.complement
}

func (p *JoinPredicate) Eval(r *Relation) *Relation { return filter(p, r) }

func (p *JoinPredicate) Negate() { p.complement = !p.complement }

func (p *JoinPredicate) Copy() Predicate {
	cp := *p
	return &cp
}

func (p *JoinPredicate) Columns() []Column               { return []Column{p.Left, p.Right} }
func (p *JoinPredicate) Tables() []string                { return tablesOf(p.Columns()) }
func (p *JoinPredicate) Bind(values []interface{}) error { return nil }
func (p *JoinPredicate) IsComplement() bool              { return p.complement }

// Reverse returns the predicate with its sides swapped.
func (p *JoinPredicate) Reverse() *JoinPredicate {
	return &JoinPredicate{
		Left:       p.Right,
		Right:      p.Left,
		Op:         p.Op.Reverse(),
		complement: p.complement,
		eval:       p.eval,
	}
}

// IsEquiJoin reports whether the predicate can be evaluated by hashing.
func (p *JoinPredicate) IsEquiJoin() bool {
	return p.Op == EQ && !p.complement
}

func (p *JoinPredicate) String() string {
	op := string(p.Op)
	if p.complement {
		op = "not " + op
	}
	return fmt.Sprintf("join_pred(%s %s %s)", p.Left.NormalizedName(), op, p.Right.NormalizedName())
}

// orient returns p with Left reading from a relation over leftTables.
func (p *JoinPredicate) orient(leftTables []string) *JoinPredicate {
	for _, t := range leftTables {
		if t == p.Left.TableName() {
			return p
		}
	}
	return p.Reverse()
}

// padEntry returns the entry standing in for a missing right side of an
// outer join.
func padEntry(right *Relation, col Column) *Entry {
	if right.IsPrefixApplied() {
		p := schema.Payload{}
		for _, t := range right.tables {
			p[t] = schema.Payload{}
		}
		if sc, ok := col.(*schema.Column); ok {
			p[sc.TableName()] = sc.Table().NullRow().Payload()
		}
		return NewEntry(schema.NewRow(schema.DummyID, p), true)
	}
	if sc, ok := col.(*schema.Column); ok {
		return NewEntry(sc.Table().NullRow(), false)
	}
	return NewEntry(schema.NewRow(schema.DummyID, nil), false)
}

func joinedTables(left, right *Relation) []string {
	out := make([]string, 0, len(left.tables)+len(right.tables))
	out = append(out, left.tables...)
	return append(out, right.tables...)
}

// HashJoin evaluates an equi-join. Null keys never match. With outer set,
// left entries without a match are padded with nulls.
func (p *JoinPredicate) HashJoin(left, right *Relation, outer bool) *Relation {
	jp := p.orient(left.tables)
	buckets := make(map[interface{}][]*Entry)
	for _, e := range right.Entries {
		v := e.GetField(jp.Right)
		if v == nil {
			continue
		}
		k := hashKey(jp.Right.Type(), v)
		buckets[k] = append(buckets[k], e)
	}
	var entries []*Entry
	for _, le := range left.Entries {
		var matches []*Entry
		if v := le.GetField(jp.Left); v != nil {
			matches = buckets[hashKey(jp.Left.Type(), v)]
		}
		for _, re := range matches {
			entries = append(entries, CombineEntries(le, left.tables, re, right.tables))
		}
		if len(matches) == 0 && outer {
			entries = append(entries, CombineEntries(le, left.tables, padEntry(right, jp.Right), right.tables))
		}
	}
	return New(entries, joinedTables(left, right))
}

// NestedLoopJoin evaluates any join predicate by comparing every pair.
func (p *JoinPredicate) NestedLoopJoin(left, right *Relation, outer bool) *Relation {
	jp := p.orient(left.tables)
	var entries []*Entry
	for _, le := range left.Entries {
		lv := le.GetField(jp.Left)
		matched := false
		for _, re := range right.Entries {
			if jp.eval(lv, re.GetField(jp.Right)) != jp.complement {
				matched = true
				entries = append(entries, CombineEntries(le, left.tables, re, right.tables))
			}
		}
		if !matched && outer {
			entries = append(entries, CombineEntries(le, left.tables, padEntry(right, jp.Right), right.tables))
		}
	}
	return New(entries, joinedTables(left, right))
}

// IndexNestedLoopJoin joins left against the rows of a table found through
// an index on the right column. lookup returns the rows whose key equals its
// argument; rightTable is the effective name of the looked up table.
func (p *JoinPredicate) IndexNestedLoopJoin(left *Relation, rightTable string, lookup func(key index.Key) []*schema.Row, outer bool) *Relation {
	jp := p.orient(left.tables)
	rightTables := []string{rightTable}
	empty := New(nil, rightTables)
	var entries []*Entry
	for _, le := range left.Entries {
		var rows []*schema.Row
		if v := le.GetField(jp.Left); v != nil {
			rows = lookup(schema.NormalizeKey(jp.Right.Type(), v))
		}
		for _, r := range rows {
			entries = append(entries, CombineEntries(le, left.tables, NewEntry(r, false), rightTables))
		}
		if len(rows) == 0 && outer {
			entries = append(entries, CombineEntries(le, left.tables, padEntry(empty, jp.Right), rightTables))
		}
	}
	return New(entries, append(append([]string(nil), left.tables...), rightTable))
}

// CrossProduct returns every combination of entries of left and right.
func CrossProduct(left, right *Relation) *Relation {
	entries := make([]*Entry, 0, len(left.Entries)*len(right.Entries))
	for _, le := range left.Entries {
		for _, re := range right.Entries {
			entries = append(entries, CombineEntries(le, left.tables, re, right.tables))
		}
	}
	return New(entries, joinedTables(left, right))
}

// hashKey returns a comparable key such that values equal under the EQ
// evaluator share it.
func hashKey(t schema.Type, v interface{}) interface{} {
	k := schema.NormalizeKey(t, v)
	switch x := k.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
			return int64(x)
		}
	case int:
		return int64(x)
	case []byte:
		return "b:" + string(x)
	case []interface{}:
		return index.FormatKey(x)
	}
	if k != nil && !reflect.TypeOf(k).Comparable() {
		return fmt.Sprintf("%T:%v", k, k)
	}
	return k
}
