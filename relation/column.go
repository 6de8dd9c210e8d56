// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relation

import (
	"fmt"

	"github.com/molecula/relstore/schema"
)

// Column is anything an entry field can be read through: a schema column,
// an aggregated column or Star.
type Column interface {
	Name() string
	NormalizedName() string
	// TableName is the effective name of the source table, empty when the
	// column does not belong to a table.
	TableName() string
	Alias() string
	Type() schema.Type
}

var _ Column = (*schema.Column)(nil)

// Aggregator is an aggregate function.
type Aggregator string

const (
	Count    Aggregator = "COUNT"
	Sum      Aggregator = "SUM"
	Avg      Aggregator = "AVG"
	Min      Aggregator = "MIN"
	Max      Aggregator = "MAX"
	StdDev   Aggregator = "STDDEV"
	GeoMean  Aggregator = "GEOMEAN"
	Distinct Aggregator = "DISTINCT"
)

type star struct{}

// Star is the "*" column, used as COUNT(*).
var Star Column = star{}

func (star) Name() string           { return "*" }
func (star) NormalizedName() string { return "*" }
func (star) TableName() string      { return "" }
func (star) Alias() string          { return "" }
func (star) Type() schema.Type      { return schema.Integer }

// AggregatedColumn applies an aggregator to a child column, possibly another
// aggregated column as in COUNT(DISTINCT(x)).
type AggregatedColumn struct {
	Child Column
	Agg   Aggregator
	alias string
}

// Aggregate returns agg applied to col.
func Aggregate(agg Aggregator, col Column) *AggregatedColumn {
	return &AggregatedColumn{Child: col, Agg: agg}
}

func (c *AggregatedColumn) Name() string {
	return fmt.Sprintf("%s(%s)", c.Agg, c.Child.Name())
}

func (c *AggregatedColumn) NormalizedName() string {
	return fmt.Sprintf("%s(%s)", c.Agg, c.Child.NormalizedName())
}

func (c *AggregatedColumn) TableName() string { return c.Child.TableName() }
func (c *AggregatedColumn) Alias() string     { return c.alias }

func (c *AggregatedColumn) Type() schema.Type {
	switch c.Agg {
	case Count:
		return schema.Integer
	case Avg, StdDev, GeoMean:
		return schema.Number
	}
	return c.Child.Type()
}

// As returns a copy of c projected under alias.
func (c *AggregatedColumn) As(alias string) *AggregatedColumn {
	cp := *c
	cp.alias = alias
	return &cp
}

// Chain returns the aggregators from the outermost in, and the base column.
func (c *AggregatedColumn) Chain() ([]Aggregator, Column) {
	aggs := []Aggregator{c.Agg}
	child := c.Child
	for {
		ac, ok := child.(*AggregatedColumn)
		if !ok {
			return aggs, child
		}
		aggs = append(aggs, ac.Agg)
		child = ac.Child
	}
}

func (c *AggregatedColumn) String() string { return c.NormalizedName() }

// IsAggregated reports whether col is an aggregated column.
func IsAggregated(col Column) bool {
	_, ok := col.(*AggregatedColumn)
	return ok
}

// IsDistinct reports whether col is a DISTINCT aggregate.
func IsDistinct(col Column) bool {
	ac, ok := col.(*AggregatedColumn)
	return ok && ac.Agg == Distinct
}

// SameColumn reports whether a and b refer to the same field.
func SameColumn(a, b Column) bool {
	return a.NormalizedName() == b.NormalizedName()
}
