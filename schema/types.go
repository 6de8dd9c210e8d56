// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package schema

import (
	"encoding/base64"
	"math"
	"time"

	"github.com/molecula/relstore/index"
)

// Type is a column data type.
type Type int

const (
	Integer Type = iota
	Number
	String
	Boolean
	DateTime
	Bytes
	Object
)

func (t Type) String() string {
	switch t {
	case Integer:
		return "integer"
	case Number:
		return "number"
	case String:
		return "string"
	case Boolean:
		return "boolean"
	case DateTime:
		return "datetime"
	case Bytes:
		return "bytes"
	case Object:
		return "object"
	}
	return "unknown"
}

// Indexable reports whether values of t can be used as index keys.
func (t Type) Indexable() bool {
	return t != Bytes && t != Object
}

// NormalizeKey converts a payload value of type t into its index key form:
// booleans become 0/1, date times become Unix milliseconds and integers
// become int64. A nil value stays nil.
func NormalizeKey(t Type, v interface{}) index.Key {
	if v == nil {
		return nil
	}
	switch t {
	case Integer, Number:
		return numeric(t, v)
	case Boolean:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1)
			}
			return int64(0)
		}
	case DateTime:
		switch x := v.(type) {
		case time.Time:
			return x.UnixMilli()
		case *time.Time:
			if x == nil {
				return nil
			}
			return x.UnixMilli()
		}
		return numeric(Integer, v)
	}
	return v
}

// ConvertValue coerces a value supplied by a caller, or decoded from a
// store, to the canonical Go type of t: int64, float64, string, bool,
// time.Time or []byte. Values that cannot be coerced are returned as is.
func ConvertValue(t Type, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case Integer, Number:
		return numeric(t, v)
	case DateTime:
		switch x := v.(type) {
		case time.Time:
			return x
		case string:
			if ts, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return ts
			}
		case float64:
			return time.UnixMilli(int64(x)).UTC()
		case int64:
			return time.UnixMilli(x).UTC()
		}
	case Bytes:
		if s, ok := v.(string); ok {
			if b, err := base64.StdEncoding.DecodeString(s); err == nil {
				return b
			}
		}
	}
	return v
}

func numeric(t Type, v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return asType(t, int64(x))
	case int8:
		return asType(t, int64(x))
	case int16:
		return asType(t, int64(x))
	case int32:
		return asType(t, int64(x))
	case int64:
		return asType(t, x)
	case uint:
		return asType(t, int64(x))
	case uint8:
		return asType(t, int64(x))
	case uint16:
		return asType(t, int64(x))
	case uint32:
		return asType(t, int64(x))
	case uint64:
		return asType(t, int64(x))
	case float32:
		return numericFloat(t, float64(x))
	case float64:
		return numericFloat(t, x)
	}
	return v
}

func asType(t Type, i int64) interface{} {
	if t == Number {
		return float64(i)
	}
	return i
}

func numericFloat(t Type, f float64) interface{} {
	if t == Integer && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return int64(f)
	}
	return f
}
