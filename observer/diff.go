// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package observer tracks live queries. Every time an observed query is
// re-evaluated its new result is diffed against the previous one, and the
// callbacks receive the difference as array splices.
package observer

import (
	"reflect"

	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// SpliceType is the only change record type.
const SpliceType = "splice"

// ChangeRecord describes one splice of the observed result: at Index,
// Removed was taken out and AddedCount payloads of Object were put in.
// Object is the whole result after every record of the batch.
type ChangeRecord struct {
	AddedCount int              `json:"addedCount"`
	Index      int              `json:"index"`
	Removed    []schema.Payload `json:"removed"`
	Object     []schema.Payload `json:"object"`
	Type       string           `json:"type"`
}

// DiffCalculator holds the last result of one query.
type DiffCalculator struct {
	last []schema.Payload
}

// NewDiffCalculator returns a calculator whose last result is empty.
func NewDiffCalculator() *DiffCalculator {
	return &DiffCalculator{}
}

// Last returns the payloads of the last result.
func (c *DiffCalculator) Last() []schema.Payload {
	return c.last
}

// Apply records rel as the current result and returns the splices turning
// the previous result into it, in the order they must be applied. It
// returns nil when nothing changed.
func (c *DiffCalculator) Apply(rel *relation.Relation) []ChangeRecord {
	next := make([]schema.Payload, 0, rel.Len())
	for _, p := range rel.Payloads() {
		next = append(next, p.Copy())
	}
	records := splices(c.last, next)
	c.last = next
	return records
}

// splices walks the longest common subsequence of prev and next. Each gap
// between two kept payloads becomes one splice.
func splices(prev, next []schema.Payload) []ChangeRecord {
	var out []ChangeRecord
	var i, j, pos int
	emit := func(toI, toJ int) {
		removed, added := prev[i:toI], toJ-j
		if len(removed) == 0 && added == 0 {
			return
		}
		out = append(out, ChangeRecord{
			AddedCount: added,
			Index:      pos,
			Removed:    append(make([]schema.Payload, 0, len(removed)), removed...),
			Object:     next,
			Type:       SpliceType,
		})
		pos += added
	}
	for _, m := range lcs(prev, next) {
		emit(m[0], m[1])
		i, j = m[0]+1, m[1]+1
		pos++
	}
	emit(len(prev), len(next))
	return out
}

// lcs returns the index pairs of a longest common subsequence of a and b.
func lcs(a, b []schema.Payload) [][2]int {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return nil
	}
	// table[x][y] is the LCS length of a[x:] and b[y:].
	table := make([][]int, n+1)
	for x := range table {
		table[x] = make([]int, m+1)
	}
	for x := n - 1; x >= 0; x-- {
		for y := m - 1; y >= 0; y-- {
			switch {
			case equal(a[x], b[y]):
				table[x][y] = table[x+1][y+1] + 1
			case table[x+1][y] >= table[x][y+1]:
				table[x][y] = table[x+1][y]
			default:
				table[x][y] = table[x][y+1]
			}
		}
	}
	var out [][2]int
	for x, y := 0, 0; x < n && y < m; {
		switch {
		case equal(a[x], b[y]):
			out = append(out, [2]int{x, y})
			x++
			y++
		case table[x+1][y] >= table[x][y+1]:
			x++
		default:
			y++
		}
	}
	return out
}

func equal(a, b schema.Payload) bool {
	return reflect.DeepEqual(a, b)
}
