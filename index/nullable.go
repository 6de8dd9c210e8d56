// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"sort"
)

// NullableIndex wraps an ordered index for a nullable column. Non-null keys
// go to the wrapped index; null keys are kept in a separate set that only
// shows up in unrestricted scans, ahead of every other key.
type NullableIndex struct {
	index Index
	nulls map[RowID]struct{}
}

var _ Index = (*NullableIndex)(nil)

// NewNullableIndex wraps idx.
func NewNullableIndex(idx Index) *NullableIndex {
	return &NullableIndex{
		index: idx,
		nulls: make(map[RowID]struct{}),
	}
}

func (x *NullableIndex) Name() string           { return x.index.Name() }
func (x *NullableIndex) IsUnique() bool         { return x.index.IsUnique() }
func (x *NullableIndex) Comparator() Comparator { return x.index.Comparator() }

// Stats covers both null and non-null keys. It never writes to x, so
// concurrent readers may call it.
func (x *NullableIndex) Stats() *Stats {
	inner := x.index.Stats()
	return &Stats{
		TotalRows:         inner.TotalRows + len(x.nulls),
		MaxKeyEncountered: inner.MaxKeyEncountered,
	}
}

func (x *NullableIndex) Add(key Key, id RowID) error {
	if key == nil {
		x.nulls[id] = struct{}{}
		return nil
	}
	return x.index.Add(key, id)
}

func (x *NullableIndex) Set(key Key, id RowID) error {
	if key == nil {
		x.nulls = map[RowID]struct{}{id: {}}
		return nil
	}
	return x.index.Set(key, id)
}

func (x *NullableIndex) Remove(key Key, ids ...RowID) {
	if key != nil {
		x.index.Remove(key, ids...)
		return
	}
	if len(ids) == 0 {
		x.nulls = make(map[RowID]struct{})
		return
	}
	for _, id := range ids {
		delete(x.nulls, id)
	}
}

func (x *NullableIndex) Get(key Key) []RowID {
	if key == nil {
		return x.nullIDs()
	}
	return x.index.Get(key)
}

func (x *NullableIndex) ContainsKey(key Key) bool {
	if key == nil {
		return len(x.nulls) > 0
	}
	return x.index.ContainsKey(key)
}

func (x *NullableIndex) Min() (Key, []RowID, bool) { return x.index.Min() }
func (x *NullableIndex) Max() (Key, []RowID, bool) { return x.index.Max() }

func (x *NullableIndex) Clear() {
	x.index.Clear()
	x.nulls = make(map[RowID]struct{})
}

func (x *NullableIndex) Cost(ranges ...KeyRange) int {
	if len(ranges) == 0 {
		return x.index.Cost() + len(x.nulls)
	}
	return x.index.Cost(ranges...)
}

func (x *NullableIndex) GetRange(ranges []KeyRange, reverse bool, limit, skip int) []RowID {
	if !unrestricted(ranges) {
		return x.index.GetRange(ranges, reverse, limit, skip)
	}
	if len(x.nulls) == 0 {
		return x.index.GetRange(nil, reverse, limit, skip)
	}

	nulls := x.nullIDs()
	rest := x.index.GetRange(nil, reverse, 0, 0)
	w := newWindow(limit, skip)
	if reverse {
		if w.push(rest, false) {
			w.push(nulls, true)
		}
		return w.out
	}
	if w.push(nulls, false) {
		w.push(rest, false)
	}
	return w.out
}

func (x *NullableIndex) Serialize() []*SerializedRow {
	inner := x.index.Serialize()
	meta := *inner[0]
	meta.Payload = copyPayload(meta.Payload)
	meta.Payload[nullsField] = x.nullIDs()
	return append([]*SerializedRow{&meta}, inner[1:]...)
}

func (x *NullableIndex) nullIDs() []RowID {
	if len(x.nulls) == 0 {
		return nil
	}
	ids := make([]RowID, 0, len(x.nulls))
	for id := range x.nulls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func unrestricted(ranges []KeyRange) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if r.IsAll() {
			return true
		}
	}
	return false
}
