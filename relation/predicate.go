// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relation

import (
	"fmt"
	"strings"

	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
)

// Param is a placeholder for a value supplied when a query is bound.
type Param int

func (p Param) String() string { return fmt.Sprintf("?%d", int(p)) }

// Predicate is a node of a predicate tree: a *ValuePredicate, a
// *JoinPredicate or a *CombinedPredicate.
type Predicate interface {
	// Eval returns the entries of r that satisfy the predicate.
	Eval(r *Relation) *Relation
	// Matches evaluates the predicate against one entry.
	Matches(e *Entry) bool
	// Negate negates the predicate in place.
	Negate()
	// Copy returns a deep copy.
	Copy() Predicate
	// Columns returns the columns referenced by the tree.
	Columns() []Column
	// Tables returns the effective names of the referenced tables.
	Tables() []string
	// Bind resolves parameters against values.
	Bind(values []interface{}) error
	String() string

	predicate()
}

func filter(p Predicate, r *Relation) *Relation {
	var entries []*Entry
	for _, e := range r.Entries {
		if p.Matches(e) {
			entries = append(entries, e)
		}
	}
	return New(entries, r.tables)
}

func tablesOf(cols []Column) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range cols {
		t := c.TableName()
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ValuePredicate compares a column against a value.
type ValuePredicate struct {
	Column Column
	Op     Operator
	// Value is the operand as given, possibly holding Params. BETWEEN takes
	// a two element []interface{} and IN any []interface{}.
	Value interface{}

	resolved   interface{}
	bound      bool
	complement bool
	eval       EvalFunc
}

// NewValuePredicate returns col op value. The operator must be supported by
// the column type.
func NewValuePredicate(col Column, op Operator, value interface{}) (*ValuePredicate, error) {
	fn, err := defaultRegistry.Evaluator(col.Type(), op)
	if err != nil {
		return nil, err
	}
	p := &ValuePredicate{Column: col, Op: op, Value: value, eval: fn}
	if !hasParam(value) {
		p.resolved = convertOperand(col.Type(), value)
		p.bound = true
	}
	return p, nil
}

func hasParam(v interface{}) bool {
	switch x := v.(type) {
	case Param:
		return true
	case []interface{}:
		for _, e := range x {
			if hasParam(e) {
				return true
			}
		}
	}
	return false
}

func convertOperand(t schema.Type, v interface{}) interface{} {
	if list, ok := v.([]interface{}); ok {
		out := make([]interface{}, len(list))
		for i := range list {
			out[i] = schema.ConvertValue(t, list[i])
		}
		return out
	}
	return schema.ConvertValue(t, v)
}

func resolveParams(v interface{}, values []interface{}) (interface{}, error) {
	switch x := v.(type) {
	case Param:
		if int(x) < 0 || int(x) >= len(values) {
			return nil, errors.Newf(errors.ErrBinding, "parameter %s is not bound", x)
		}
		return values[x], nil
	case []interface{}:
		out := make([]interface{}, len(x))
		for i := range x {
			r, err := resolveParams(x[i], values)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

func (p *ValuePredicate) predicate() {}

// Operand returns the resolved operand.
func (p *ValuePredicate) Operand() interface{} { return p.resolved }

// IsBound reports whether every parameter of the operand has a value.
func (p *ValuePredicate) IsBound() bool { return p.bound }

func (p *ValuePredicate) IsComplement() bool { return p.complement }

func (p *ValuePredicate) Bind(values []interface{}) error {
	if !hasParam(p.Value) {
		return nil
	}
	v, err := resolveParams(p.Value, values)
	if err != nil {
		return err
	}
	p.resolved = convertOperand(p.Column.Type(), v)
	p.bound = true
	return nil
}

func (p *ValuePredicate) Matches(e *Entry) bool {
	return p.eval(e.GetField(p.Column), p.resolved) != p.complement
}

func (p *ValuePredicate) Eval(r *Relation) *Relation { return filter(p, r) }

func (p *ValuePredicate) Negate() { p.complement = !p.complement }

func (p *ValuePredicate) Copy() Predicate {
	cp := *p
	return &cp
}

func (p *ValuePredicate) Columns() []Column { return []Column{p.Column} }
func (p *ValuePredicate) Tables() []string  { return tablesOf(p.Columns()) }

// IsKeyRangeCompatible reports whether the predicate can be answered by an
// index range lookup on its column.
func (p *ValuePredicate) IsKeyRangeCompatible() bool {
	if !p.bound || p.resolved == nil {
		return false
	}
	switch p.Op {
	case EQ, LT, LTE, GT, GTE:
	case BETWEEN, IN:
		list, ok := p.resolved.([]interface{})
		if !ok || (p.Op == BETWEEN && len(list) != 2) {
			return false
		}
		for _, v := range list {
			if v == nil {
				return false
			}
		}
	default:
		return false
	}
	if col, ok := p.Column.(*schema.Column); ok {
		// A complement matches nulls, which no key range can cover.
		if p.complement && col.IsNullable() {
			return false
		}
		return col.Type().Indexable()
	}
	return false
}

// ToKeyRange returns the ranges of key values satisfying the predicate, in
// ascending value order.
func (p *ValuePredicate) ToKeyRange() []index.SingleKeyRange {
	key := func(v interface{}) index.Key { return schema.NormalizeKey(p.Column.Type(), v) }
	var rs []index.SingleKeyRange
	switch p.Op {
	case EQ:
		rs = []index.SingleKeyRange{index.Only(key(p.resolved))}
	case LT:
		rs = []index.SingleKeyRange{index.UpperBound(key(p.resolved), true)}
	case LTE:
		rs = []index.SingleKeyRange{index.UpperBound(key(p.resolved), false)}
	case GT:
		rs = []index.SingleKeyRange{index.LowerBound(key(p.resolved), true)}
	case GTE:
		rs = []index.SingleKeyRange{index.LowerBound(key(p.resolved), false)}
	case BETWEEN:
		b := p.resolved.([]interface{})
		rs = []index.SingleKeyRange{index.Between(key(b[0]), key(b[1]))}
	case IN:
		for _, v := range p.resolved.([]interface{}) {
			rs = append(rs, index.Only(key(v)))
		}
	}
	rs = index.Normalize(rs)
	if p.complement {
		return index.ComplementSet(rs)
	}
	return rs
}

func (p *ValuePredicate) String() string {
	op := string(p.Op)
	if p.complement {
		op = "not " + op
	}
	v := p.resolved
	if !p.bound {
		v = p.Value
	}
	return fmt.Sprintf("value_pred(%s %s %s)", p.Column.NormalizedName(), op, formatValue(v))
}

// LogicalOp combines the children of a CombinedPredicate.
type LogicalOp string

const (
	And LogicalOp = "and"
	Or  LogicalOp = "or"
)

// CombinedPredicate is an AND or OR over child predicates.
type CombinedPredicate struct {
	Op       LogicalOp
	Children []Predicate
}

// NewCombinedPredicate returns op over children.
func NewCombinedPredicate(op LogicalOp, children ...Predicate) *CombinedPredicate {
	return &CombinedPredicate{Op: op, Children: children}
}

func (p *CombinedPredicate) predicate() {}

func (p *CombinedPredicate) Matches(e *Entry) bool {
	if p.Op == And {
		for _, c := range p.Children {
			if !c.Matches(e) {
				return false
			}
		}
		return true
	}
	for _, c := range p.Children {
		if c.Matches(e) {
			return true
		}
	}
	return false
}

func (p *CombinedPredicate) Eval(r *Relation) *Relation { return filter(p, r) }

// Negate applies De Morgan's laws: the operator flips and every child is
// negated.
func (p *CombinedPredicate) Negate() {
	if p.Op == And {
		p.Op = Or
	} else {
		p.Op = And
	}
	for _, c := range p.Children {
		c.Negate()
	}
}

// Not returns the negation of p.
func Not(p Predicate) Predicate {
	cp := p.Copy()
	cp.Negate()
	return cp
}

func (p *CombinedPredicate) Copy() Predicate {
	cp := &CombinedPredicate{Op: p.Op, Children: make([]Predicate, len(p.Children))}
	for i, c := range p.Children {
		cp.Children[i] = c.Copy()
	}
	return cp
}

func (p *CombinedPredicate) Columns() []Column {
	var out []Column
	for _, c := range p.Children {
		out = append(out, c.Columns()...)
	}
	return out
}

func (p *CombinedPredicate) Tables() []string { return tablesOf(p.Columns()) }

func (p *CombinedPredicate) Bind(values []interface{}) error {
	for _, c := range p.Children {
		if err := c.Bind(values); err != nil {
			return err
		}
	}
	return nil
}

// KeyRangeColumn returns the single column of an OR tree whose leaves are
// all key range compatible value predicates on that column.
func (p *CombinedPredicate) KeyRangeColumn() (*schema.Column, bool) {
	if p.Op != Or {
		return nil, false
	}
	var col *schema.Column
	for _, c := range p.Children {
		vp, ok := c.(*ValuePredicate)
		if !ok || !vp.IsKeyRangeCompatible() {
			return nil, false
		}
		sc := vp.Column.(*schema.Column)
		if col == nil {
			col = sc
		} else if !col.Same(sc) {
			return nil, false
		}
	}
	return col, col != nil
}

// ToKeyRange returns the union of the children's ranges. It is only valid
// when KeyRangeColumn succeeds.
func (p *CombinedPredicate) ToKeyRange() []index.SingleKeyRange {
	var rs []index.SingleKeyRange
	for _, c := range p.Children {
		rs = append(rs, c.(*ValuePredicate).ToKeyRange()...)
	}
	return index.Normalize(rs)
}

func (p *CombinedPredicate) String() string {
	parts := make([]string, len(p.Children))
	for i, c := range p.Children {
		parts[i] = c.String()
	}
	return fmt.Sprintf("combined_pred_%s(%s)", p.Op, strings.Join(parts, ", "))
}

// Walk calls fn for p and every predicate below it, parents first.
func Walk(p Predicate, fn func(Predicate)) {
	fn(p)
	if c, ok := p.(*CombinedPredicate); ok {
		for _, child := range c.Children {
			Walk(child, fn)
		}
	}
}

// IsBound reports whether every value predicate below p is bound.
func IsBound(p Predicate) bool {
	bound := true
	Walk(p, func(x Predicate) {
		if vp, ok := x.(*ValuePredicate); ok && !vp.IsBound() {
			bound = false
		}
	})
	return bound
}
