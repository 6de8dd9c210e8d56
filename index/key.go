// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strings"
	"time"
)

// RowID identifies a row within a backing store.
type RowID = int64

// Key is an index key. Single-column indices use scalar keys (int64,
// float64, string). Multi-column indices use []interface{} tuples. A nil
// key is a null.
type Key = interface{}

// Order is the sort direction of an indexed column.
type Order int

const (
	Asc Order = iota
	Desc
)

func (o Order) String() string {
	if o == Desc {
		return "DESC"
	}
	return "ASC"
}

// Reverse returns the opposite direction.
func (o Order) Reverse() Order {
	if o == Desc {
		return Asc
	}
	return Desc
}

// bound is a sentinel key that sorts before (lowest) or after (highest) every
// other key. It is used to build scan start and end keys for open ranges.
type bound int

const (
	lowest  bound = -1
	highest bound = 1
)

// CompareKeys orders two keys ascending and returns -1, 0 or 1. Nulls sort
// before every non-null value. Integer and floating point values compare
// numerically with each other, so a key that went through JSON still finds
// its peers.
func CompareKeys(a, b Key) int {
	if ab, ok := a.(bound); ok {
		if bb, ok := b.(bound); ok {
			return cmp.Compare(ab, bb)
		}
		return int(ab)
	}
	if bb, ok := b.(bound); ok {
		return -int(bb)
	}

	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	switch x := a.(type) {
	case []interface{}:
		if y, ok := b.([]interface{}); ok {
			return compareTuples(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	}

	if x, ok := toInt64(a); ok {
		if y, ok := toInt64(b); ok {
			return cmp.Compare(x, y)
		}
	}
	if x, ok := toUint64(a); ok {
		if y, ok := toUint64(b); ok {
			return cmp.Compare(x, y)
		}
	}
	if x, ok := toFloat64(a); ok {
		if y, ok := toFloat64(b); ok {
			return cmp.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareTuples(x, y []interface{}) int {
	for i := 0; i < len(x) && i < len(y); i++ {
		if c := CompareKeys(x[i], y[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(x), len(y))
}

// KeysEqual reports whether two keys compare equal.
func KeysEqual(a, b Key) bool {
	return CompareKeys(a, b) == 0
}

// toInt64 converts signed and unsigned integers. Unsigned values above
// math.MaxInt64 are rejected; toUint64 covers them.
func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

// toUint64 converts unsigned integers and non-negative signed ones.
func toUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case uint:
		return uint64(x), true
	case uint64:
		return x, true
	}
	if i, ok := toInt64(v); ok && i >= 0 {
		return uint64(i), true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	switch x := v.(type) {
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// ToRowID converts a decoded numeric value to a RowID.
func ToRowID(v interface{}) (RowID, bool) {
	if i, ok := toInt64(v); ok {
		return i, true
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f), true
	}
	return 0, false
}

// FormatKey renders k the way explain output shows it.
func FormatKey(k Key) string {
	switch x := k.(type) {
	case unbound:
		return "unbound"
	case string:
		return x
	case []interface{}:
		parts := make([]string, len(x))
		for i := range x {
			parts[i] = FormatKey(x[i])
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case nil:
		return "null"
	}
	return fmt.Sprint(k)
}
