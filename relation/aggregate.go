// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relation

import (
	"math"

	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
)

// EvalAggregation computes col over r. Nested aggregators run innermost
// first; a DISTINCT step feeds its result relation to the next one. The
// result is a scalar, or a *Relation for an outermost DISTINCT.
func EvalAggregation(r *Relation, col *AggregatedColumn) interface{} {
	aggs, base := col.Chain()
	cur := r
	var result interface{}
	for i := len(aggs) - 1; i >= 0; i-- {
		result = aggregate(aggs[i], cur, base)
		if rel, ok := result.(*Relation); ok {
			cur = rel
		}
	}
	return result
}

func aggregate(agg Aggregator, r *Relation, col Column) interface{} {
	switch agg {
	case Count:
		return count(r, col)
	case Sum:
		return sum(r, col)
	case Avg:
		n := count(r, col)
		if n == 0 {
			return nil
		}
		return toFloat(sum(r, col)) / float64(n)
	case Min:
		return extreme(r, col, -1)
	case Max:
		return extreme(r, col, 1)
	case StdDev:
		return stddev(r, col)
	case GeoMean:
		return geomean(r, col)
	case Distinct:
		return distinct(r, col)
	}
	return nil
}

func values(r *Relation, col Column) []interface{} {
	var out []interface{}
	for _, e := range r.Entries {
		if v := e.GetField(col); v != nil {
			out = append(out, v)
		}
	}
	return out
}

func count(r *Relation, col Column) int64 {
	if col == Star {
		return int64(len(r.Entries))
	}
	return int64(len(values(r, col)))
}

func sum(r *Relation, col Column) interface{} {
	vs := values(r, col)
	if col.Type() == schema.Integer {
		var n int64
		for _, v := range vs {
			if i, ok := v.(int64); ok {
				n += i
			} else {
				n += int64(toFloat(v))
			}
		}
		return n
	}
	var f float64
	for _, v := range vs {
		f += toFloat(v)
	}
	return f
}

func extreme(r *Relation, col Column, dir int) interface{} {
	var best interface{}
	var bestKey index.Key
	for _, v := range values(r, col) {
		k := schema.NormalizeKey(col.Type(), v)
		if best == nil || index.CompareKeys(k, bestKey)*dir > 0 {
			best, bestKey = v, k
		}
	}
	return best
}

func stddev(r *Relation, col Column) interface{} {
	vs := values(r, col)
	if len(vs) == 0 {
		return nil
	}
	var mean float64
	for _, v := range vs {
		mean += toFloat(v)
	}
	mean /= float64(len(vs))
	var sq float64
	for _, v := range vs {
		d := toFloat(v) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vs)))
}

func geomean(r *Relation, col Column) interface{} {
	vs := values(r, col)
	if len(vs) == 0 {
		return nil
	}
	var logs float64
	for _, v := range vs {
		f := toFloat(v)
		if f == 0 {
			return float64(0)
		}
		logs += math.Log(f)
	}
	return math.Exp(logs / float64(len(vs)))
}

// distinct keeps the first entry for every distinct value of col, nulls
// included.
func distinct(r *Relation, col Column) *Relation {
	seen := make(map[interface{}]bool)
	var entries []*Entry
	for _, e := range r.Entries {
		k := hashKey(col.Type(), e.GetField(col))
		if seen[k] {
			continue
		}
		seen[k] = true
		entries = append(entries, e)
	}
	return New(entries, r.tables)
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	case int:
		return float64(x)
	case bool:
		if x {
			return 1
		}
	}
	return 0
}
