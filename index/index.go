// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package index implements the ordered key to row id structures used by
// tables: an AA-tree and a B-tree backed ordered index, a row id index and a
// nullable wrapper, all behind the Index interface.
package index

import (
	"strings"

	"github.com/molecula/relstore/errors"
)

// Index maps keys to row ids.
type Index interface {
	// Name returns the normalized name, "<table>.<index>".
	Name() string

	// Add maps key to id. A unique index rejects a key already mapped to a
	// different id with a constraint error and is left unchanged.
	Add(key Key, id RowID) error
	// Set replaces every id mapped to key with id.
	Set(key Key, id RowID) error
	// Remove drops the given ids from key, or the whole key when no ids
	// are given.
	Remove(key Key, ids ...RowID)
	// Get returns the ids mapped to key in ascending order.
	Get(key Key) []RowID
	// GetRange returns the ids of every key inside the union of ranges, or
	// of every key when ranges is empty, in index order or its reverse. A
	// positive limit caps the result; skip drops leading ids.
	GetRange(ranges []KeyRange, reverse bool, limit, skip int) []RowID
	// Cost estimates how many ids GetRange would return for ranges.
	Cost(ranges ...KeyRange) int
	ContainsKey(key Key) bool
	// Min and Max return the first and last key in index order.
	Min() (Key, []RowID, bool)
	Max() (Key, []RowID, bool)
	Clear()

	IsUnique() bool
	Comparator() Comparator
	Stats() *Stats
	Serialize() []*SerializedRow
}

// Kind selects the ordered structure behind an index.
type Kind string

const (
	KindAATree Kind = "aatree"
	KindBTree  Kind = "btree"
)

// New returns an empty ordered index of the given kind.
func New(kind Kind, name string, cmp Comparator, unique bool) (Index, error) {
	var t tree
	switch kind {
	case KindAATree, "":
		t = newAATree(cmp.Compare)
	case KindBTree:
		t = newBTree(cmp.Compare)
	default:
		return nil, errors.Newf(errors.ErrUnsupportedOperation, "unknown index kind %q", kind)
	}
	return &treeIndex{
		name:   name,
		kind:   kind,
		unique: unique,
		cmp:    cmp,
		tree:   t,
		stats:  &Stats{},
	}, nil
}

// Stats holds the statistics maintained while an index is modified.
type Stats struct {
	TotalRows         int
	MaxKeyEncountered Key
}

func (s *Stats) add(key Key, n int) {
	s.TotalRows += n
	if key != nil && (s.MaxKeyEncountered == nil || CompareKeys(key, s.MaxKeyEncountered) > 0) {
		s.MaxKeyEncountered = key
	}
}

func (s *Stats) remove(n int) {
	s.TotalRows -= n
}

func (s *Stats) clear() {
	s.TotalRows = 0
}

// tableOf returns the table part of a normalized index name.
func tableOf(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
