// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relstore

import (
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/relation"
)

// Predicate is a condition under construction. An invalid condition, such
// as MATCH on an integer column, is reported by the query using it.
type Predicate struct {
	p   relation.Predicate
	err error
}

func valuePred(col relation.Column, op relation.Operator, v interface{}) Predicate {
	p, err := relation.NewValuePredicate(col, op, v)
	if err != nil {
		return Predicate{err: err}
	}
	return Predicate{p: p}
}

// Eq and the other comparisons compare col against a value or a
// relation.Param bound later.
func Eq(col relation.Column, v interface{}) Predicate  { return valuePred(col, relation.EQ, v) }
func Neq(col relation.Column, v interface{}) Predicate { return valuePred(col, relation.NEQ, v) }
func Lt(col relation.Column, v interface{}) Predicate  { return valuePred(col, relation.LT, v) }
func Lte(col relation.Column, v interface{}) Predicate { return valuePred(col, relation.LTE, v) }
func Gt(col relation.Column, v interface{}) Predicate  { return valuePred(col, relation.GT, v) }
func Gte(col relation.Column, v interface{}) Predicate { return valuePred(col, relation.GTE, v) }

// Between matches lo <= col <= hi.
func Between(col relation.Column, lo, hi interface{}) Predicate {
	return valuePred(col, relation.BETWEEN, []interface{}{lo, hi})
}

func In(col relation.Column, values ...interface{}) Predicate {
	return valuePred(col, relation.IN, values)
}

// Match matches string columns against a regular expression.
func Match(col relation.Column, pattern interface{}) Predicate {
	return valuePred(col, relation.MATCH, pattern)
}

// JoinOn relates a column of one table to a column of another.
func JoinOn(left relation.Column, op relation.Operator, right relation.Column) Predicate {
	p, err := relation.NewJoinPredicate(left, op, right)
	if err != nil {
		return Predicate{err: err}
	}
	return Predicate{p: p}
}

func combine(op relation.LogicalOp, preds []Predicate) Predicate {
	if len(preds) == 0 {
		return Predicate{err: errors.Newf(errors.ErrSyntax, "%s of no predicates", op)}
	}
	children := make([]relation.Predicate, len(preds))
	for i, p := range preds {
		if p.err != nil {
			return p
		}
		children[i] = p.p
	}
	return Predicate{p: relation.NewCombinedPredicate(op, children...)}
}

func And(preds ...Predicate) Predicate { return combine(relation.And, preds) }
func Or(preds ...Predicate) Predicate  { return combine(relation.Or, preds) }

// Not negates p.
func Not(p Predicate) Predicate {
	if p.err != nil {
		return p
	}
	return Predicate{p: relation.Not(p.p)}
}

// Build returns the relation predicate, or the error met while building it.
func (p Predicate) Build() (relation.Predicate, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.p == nil {
		return nil, errors.New(errors.ErrSyntax, "empty predicate")
	}
	return p.p, nil
}

// Aggregates.
func Count(col relation.Column) *relation.AggregatedColumn {
	return relation.Aggregate(relation.Count, col)
}
func Sum(col relation.Column) *relation.AggregatedColumn {
	return relation.Aggregate(relation.Sum, col)
}
func Avg(col relation.Column) *relation.AggregatedColumn {
	return relation.Aggregate(relation.Avg, col)
}
func Min(col relation.Column) *relation.AggregatedColumn {
	return relation.Aggregate(relation.Min, col)
}
func Max(col relation.Column) *relation.AggregatedColumn {
	return relation.Aggregate(relation.Max, col)
}
func StdDev(col relation.Column) *relation.AggregatedColumn {
	return relation.Aggregate(relation.StdDev, col)
}
func GeoMean(col relation.Column) *relation.AggregatedColumn {
	return relation.Aggregate(relation.GeoMean, col)
}
func Distinct(col relation.Column) *relation.AggregatedColumn {
	return relation.Aggregate(relation.Distinct, col)
}

// Star is "*", as in COUNT(*).
var Star = relation.Star
