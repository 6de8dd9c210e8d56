// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relation

import (
	"bytes"
	"fmt"
	"reflect"
	"regexp"

	lru "github.com/hashicorp/golang-lru"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
)

// Operator is a comparison operator.
type Operator string

const (
	EQ      Operator = "eq"
	NEQ     Operator = "neq"
	LT      Operator = "lt"
	LTE     Operator = "lte"
	GT      Operator = "gt"
	GTE     Operator = "gte"
	BETWEEN Operator = "between"
	IN      Operator = "in"
	MATCH   Operator = "match"
)

// Reverse returns the operator with its operands swapped.
func (o Operator) Reverse() Operator {
	switch o {
	case LT:
		return GT
	case LTE:
		return GTE
	case GT:
		return LT
	case GTE:
		return LTE
	}
	return o
}

// EvalFunc compares a field value against an operand.
type EvalFunc func(lhs, rhs interface{}) bool

// EvalRegistry maps a column type and an operator to an EvalFunc.
type EvalRegistry struct {
	fns     map[schema.Type]map[Operator]EvalFunc
	regexps *lru.Cache
}

const regexpCacheSize = 256

// NewEvalRegistry returns a registry holding the built-in evaluators.
func NewEvalRegistry() *EvalRegistry {
	cache, err := lru.New(regexpCacheSize)
	if err != nil {
		panic(err)
	}
	r := &EvalRegistry{fns: make(map[schema.Type]map[Operator]EvalFunc), regexps: cache}
	for _, t := range []schema.Type{schema.Integer, schema.Number, schema.String, schema.DateTime, schema.Boolean} {
		r.registerOrdered(t)
	}
	r.Register(schema.String, MATCH, r.match)
	for _, t := range []schema.Type{schema.Bytes, schema.Object} {
		t := t
		r.Register(t, EQ, func(a, b interface{}) bool { return deepEqual(t, a, b) })
		r.Register(t, NEQ, func(a, b interface{}) bool { return !deepEqual(t, a, b) })
	}
	return r
}

// Register installs fn for (t, op), replacing any previous one.
func (r *EvalRegistry) Register(t schema.Type, op Operator, fn EvalFunc) {
	m, ok := r.fns[t]
	if !ok {
		m = make(map[Operator]EvalFunc)
		r.fns[t] = m
	}
	m[op] = fn
}

// Evaluator returns the function registered for (t, op).
func (r *EvalRegistry) Evaluator(t schema.Type, op Operator) (EvalFunc, error) {
	if fn, ok := r.fns[t][op]; ok {
		return fn, nil
	}
	return nil, errors.Newf(errors.ErrUnsupportedOperation, "operator %s is not supported on %s columns", op, t)
}

func (r *EvalRegistry) registerOrdered(t schema.Type) {
	cmp := func(a, b interface{}) (int, bool) {
		if a == nil || b == nil {
			return 0, false
		}
		return index.CompareKeys(schema.NormalizeKey(t, a), schema.NormalizeKey(t, b)), true
	}
	r.Register(t, EQ, func(a, b interface{}) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		c, _ := cmp(a, b)
		return c == 0
	})
	r.Register(t, NEQ, func(a, b interface{}) bool {
		if a == nil || b == nil {
			return !(a == nil && b == nil)
		}
		c, _ := cmp(a, b)
		return c != 0
	})
	r.Register(t, LT, func(a, b interface{}) bool { c, ok := cmp(a, b); return ok && c < 0 })
	r.Register(t, LTE, func(a, b interface{}) bool { c, ok := cmp(a, b); return ok && c <= 0 })
	r.Register(t, GT, func(a, b interface{}) bool { c, ok := cmp(a, b); return ok && c > 0 })
	r.Register(t, GTE, func(a, b interface{}) bool { c, ok := cmp(a, b); return ok && c >= 0 })
	r.Register(t, BETWEEN, func(a, b interface{}) bool {
		bounds, ok := b.([]interface{})
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, ok1 := cmp(a, bounds[0])
		hi, ok2 := cmp(a, bounds[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0
	})
	r.Register(t, IN, func(a, b interface{}) bool {
		set, ok := b.([]interface{})
		if !ok || a == nil {
			return false
		}
		for _, v := range set {
			if c, ok := cmp(a, v); ok && c == 0 {
				return true
			}
		}
		return false
	})
}

func (r *EvalRegistry) match(a, b interface{}) bool {
	s, ok := a.(string)
	if !ok || b == nil {
		return false
	}
	var re *regexp.Regexp
	switch p := b.(type) {
	case *regexp.Regexp:
		re = p
	case string:
		if v, ok := r.regexps.Get(p); ok {
			re = v.(*regexp.Regexp)
		} else {
			compiled, err := regexp.Compile(p)
			if err != nil {
				return false
			}
			r.regexps.Add(p, compiled)
			re = compiled
		}
	default:
		return false
	}
	return re.MatchString(s)
}

func deepEqual(t schema.Type, a, b interface{}) bool {
	if t == schema.Bytes {
		ab, ok1 := a.([]byte)
		bb, ok2 := b.([]byte)
		if ok1 && ok2 {
			return bytes.Equal(ab, bb)
		}
	}
	return reflect.DeepEqual(a, b)
}

var defaultRegistry = NewEvalRegistry()

// DefaultRegistry returns the registry predicates use unless told otherwise.
func DefaultRegistry() *EvalRegistry { return defaultRegistry }

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(formatValue(e))
		}
		buf.WriteByte(']')
		return buf.String()
	case *regexp.Regexp:
		return x.String()
	}
	return fmt.Sprint(v)
}
