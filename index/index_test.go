// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/molecula/relstore/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var kinds = []Kind{KindAATree, KindBTree}

func mustNew(t *testing.T, kind Kind, unique bool, orders ...Order) Index {
	t.Helper()
	idx, err := New(kind, "t.idx", NewComparator(orders...), unique)
	require.NoError(t, err)
	return idx
}

func TestIndex_RandomOperations(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			idx := mustNew(t, kind, false, Asc)
			model := map[int64][]RowID{}
			rnd := rand.New(rand.NewSource(42))

			for step := 0; step < 2000; step++ {
				key := int64(rnd.Intn(60))
				id := RowID(rnd.Intn(200))
				switch rnd.Intn(4) {
				case 0, 1:
					require.NoError(t, idx.Add(key, id))
					if !containsID(model[key], id) {
						model[key] = append(model[key], id)
						sort.Slice(model[key], func(i, j int) bool { return model[key][i] < model[key][j] })
					}
				case 2:
					idx.Remove(key, id)
					var next []RowID
					for _, x := range model[key] {
						if x != id {
							next = append(next, x)
						}
					}
					if len(next) == 0 {
						delete(model, key)
					} else {
						model[key] = next
					}
				case 3:
					require.NoError(t, idx.Set(key, id))
					model[key] = []RowID{id}
				}
				if aa, ok := idx.(*treeIndex).tree.(*aaTree); ok && step%100 == 0 {
					require.True(t, aa.valid(), "AA invariants broken at step %d", step)
				}
			}

			keys := make([]int64, 0, len(model))
			total := 0
			for k := range model {
				keys = append(keys, k)
				total += len(model[k])
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
			var want []RowID
			for _, k := range keys {
				want = append(want, model[k]...)
			}

			assert.Equal(t, want, idx.GetRange(nil, false, 0, 0))
			assert.Equal(t, total, idx.Stats().TotalRows)
			assert.Equal(t, total, idx.Cost())

			minKey, minIDs, ok := idx.Min()
			require.True(t, ok)
			assert.Equal(t, keys[0], minKey)
			assert.Equal(t, model[keys[0]], minIDs)
			maxKey, _, _ := idx.Max()
			assert.Equal(t, keys[len(keys)-1], maxKey)
		})
	}
}

func TestIndex_Unique(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			idx := mustNew(t, kind, true, Asc)
			require.NoError(t, idx.Add(int64(1), 10))
			require.NoError(t, idx.Add(int64(1), 10))

			err := idx.Add(int64(1), 11)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConstraintViolation))
			var ce *errors.ConstraintError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, errors.Unique, ce.Kind)
			assert.Equal(t, "t", ce.Table)

			assert.Equal(t, []RowID{10}, idx.Get(int64(1)))
			assert.Equal(t, 1, idx.Stats().TotalRows)
		})
	}
}

func TestIndex_Empty(t *testing.T) {
	for _, kind := range kinds {
		idx := mustNew(t, kind, false)
		_, _, ok := idx.Min()
		assert.False(t, ok)
		_, _, ok = idx.Max()
		assert.False(t, ok)
		assert.Empty(t, idx.GetRange(nil, false, 0, 0))
		assert.Empty(t, idx.Get(int64(3)))
	}
}

func fill(t *testing.T, idx Index, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, idx.Add(int64(i), RowID(i+100)))
	}
}

func TestIndex_GetRange(t *testing.T) {
	tests := []struct {
		name    string
		ranges  []KeyRange
		reverse bool
		limit   int
		skip    int
		exp     []RowID
	}{
		{name: "only", ranges: Range(Only(int64(3))), exp: []RowID{103}},
		{name: "closed", ranges: Range(Between(int64(2), int64(4))), exp: []RowID{102, 103, 104}},
		{name: "open", ranges: Range(SingleKeyRange{From: int64(2), To: int64(4), ExcludeFrom: true, ExcludeTo: true}), exp: []RowID{103}},
		{name: "lower", ranges: Range(LowerBound(int64(7), false)), exp: []RowID{107, 108, 109}},
		{name: "upper", ranges: Range(UpperBound(int64(2), true)), exp: []RowID{100, 101}},
		{name: "union", ranges: Range(Only(int64(8)), Only(int64(1)), Between(int64(1), int64(2))), exp: []RowID{101, 102, 108}},
		{name: "reverse", ranges: Range(Between(int64(2), int64(4)), Only(int64(9))), reverse: true, exp: []RowID{109, 104, 103, 102}},
		{name: "limit", ranges: Range(LowerBound(int64(5), false)), limit: 2, exp: []RowID{105, 106}},
		{name: "skip", ranges: Range(LowerBound(int64(5), false)), skip: 3, exp: []RowID{108, 109}},
		{name: "reverse-window", reverse: true, limit: 2, skip: 1, exp: []RowID{108, 107}},
		{name: "float-bounds", ranges: Range(Between(1.5, 3.5)), exp: []RowID{102, 103}},
		{name: "empty", ranges: Range(Between(int64(20), int64(30))), exp: nil},
	}
	for _, kind := range kinds {
		idx := mustNew(t, kind, true, Asc)
		fill(t, idx, 10)
		for _, test := range tests {
			t.Run(fmt.Sprintf("%s/%s", kind, test.name), func(t *testing.T) {
				got := idx.GetRange(test.ranges, test.reverse, test.limit, test.skip)
				if diff := cmp.Diff(test.exp, got); diff != "" {
					t.Fatalf("unexpected ids (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestIndex_Descending(t *testing.T) {
	for _, kind := range kinds {
		idx := mustNew(t, kind, true, Desc)
		fill(t, idx, 6)
		assert.Equal(t, []RowID{105, 104, 103, 102, 101, 100}, idx.GetRange(nil, false, 0, 0))
		assert.Equal(t, []RowID{104, 103, 101}, idx.GetRange(Range(Between(int64(3), int64(4)), Only(int64(1))), false, 0, 0))
		assert.Equal(t, []RowID{101, 103, 104}, idx.GetRange(Range(Between(int64(3), int64(4)), Only(int64(1))), true, 0, 0))
		k, _, _ := idx.Min()
		assert.Equal(t, int64(5), k)
	}
}

func TestIndex_MultiKey(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			idx := mustNew(t, kind, true, Asc, Desc)
			id := RowID(0)
			for a := int64(0); a < 3; a++ {
				for _, b := range []string{"x", "y", "z"} {
					require.NoError(t, idx.Add([]interface{}{a, b}, id))
					id++
				}
			}
			// Second column descends within each first column value.
			assert.Equal(t, []RowID{2, 1, 0, 5, 4, 3, 8, 7, 6}, idx.GetRange(nil, false, 0, 0))

			r := KeyRange{Between(int64(1), int64(2)), Only("y")}
			assert.Equal(t, []RowID{4, 7}, idx.GetRange([]KeyRange{r}, false, 0, 0))

			prefix := KeyRange{Only(int64(1)), All()}
			assert.Equal(t, []RowID{5, 4, 3}, idx.GetRange([]KeyRange{prefix}, false, 0, 0))
			assert.Equal(t, 3, idx.Cost(prefix))

			boxes := []KeyRange{
				{Between(int64(0), int64(1)), Only("z")},
				{Between(int64(0), int64(1)), Only("x")},
			}
			assert.Equal(t, []RowID{2, 0, 5, 3}, idx.GetRange(boxes, false, 0, 0))
			assert.Equal(t, []RowID{3, 5}, idx.GetRange(boxes, true, 2, 0))
		})
	}
}

func TestIndex_Cost(t *testing.T) {
	for _, kind := range kinds {
		idx := mustNew(t, kind, false, Asc)
		fill(t, idx, 100)
		require.NoError(t, idx.Add(int64(10), 5000))
		assert.Equal(t, 101, idx.Cost())
		assert.Equal(t, 12, idx.Cost(Range(Between(int64(0), int64(10)))...))
		assert.Equal(t, 1, idx.Cost(Range(Only(int64(50)))...))
		assert.Equal(t, 101, idx.Cost(KeyRange{All()}))
	}
}

func TestNullableIndex(t *testing.T) {
	inner := mustNew(t, KindAATree, true, Asc)
	idx := NewNullableIndex(inner)
	require.NoError(t, idx.Add(int64(2), 1))
	require.NoError(t, idx.Add(nil, 2))
	require.NoError(t, idx.Add(nil, 3))
	require.NoError(t, idx.Add(int64(1), 4))

	assert.Equal(t, []RowID{2, 3}, idx.Get(nil))
	assert.Equal(t, []RowID{2, 3, 4, 1}, idx.GetRange(nil, false, 0, 0))
	assert.Equal(t, []RowID{1, 4, 3, 2}, idx.GetRange(nil, true, 0, 0))
	assert.Equal(t, []RowID{3, 4}, idx.GetRange(nil, false, 2, 1))
	assert.Equal(t, []RowID{4, 1}, idx.GetRange(Range(LowerBound(int64(0), false)), false, 0, 0))
	assert.Equal(t, 4, idx.Stats().TotalRows)
	assert.Equal(t, 4, idx.Cost())

	k, _, _ := idx.Min()
	assert.Equal(t, int64(1), k)

	idx.Remove(nil, 2)
	assert.Equal(t, []RowID{3}, idx.Get(nil))
	assert.True(t, idx.ContainsKey(nil))
	idx.Remove(nil)
	assert.False(t, idx.ContainsKey(nil))
}

func TestNullableIndex_ConcurrentStats(t *testing.T) {
	idx := NewNullableIndex(mustNew(t, KindBTree, false, Asc))
	require.NoError(t, idx.Add(int64(7), 1))
	require.NoError(t, idx.Add(nil, 2))

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 100; j++ {
				if s := idx.Stats(); s.TotalRows != 2 {
					return fmt.Errorf("total rows %d", s.TotalRows)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.NotSame(t, idx.Stats(), idx.Stats())
}

func TestCompareKeys(t *testing.T) {
	const big = uint64(1<<63 + 5)
	tests := []struct {
		name string
		a, b Key
		want int
	}{
		{"IntFloat", int64(2), float64(2), 0},
		{"NullFirst", nil, int64(-9), -1},
		{"UintBeyondInt64", big, int64(1), 1},
		{"Int64BelowUint", int64(1<<62), big, -1},
		{"NegativeBelowUint", int64(-1), big, -1},
		{"Uints", big, big + 1, -1},
		{"SmallUint", uint64(3), int64(3), 0},
		{"UintTuple", []interface{}{big, "a"}, []interface{}{uint64(2), "a"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareKeys(tt.a, tt.b))
			assert.Equal(t, -tt.want, CompareKeys(tt.b, tt.a))
		})
	}

	idx := mustNew(t, KindAATree, false, Asc)
	require.NoError(t, idx.Add(big, 1))
	require.NoError(t, idx.Add(uint64(10), 2))
	require.NoError(t, idx.Add(int64(-4), 3))
	assert.Equal(t, []RowID{3, 2, 1}, idx.GetRange(nil, false, 0, 0))
}

func TestRowIDIndex(t *testing.T) {
	idx := NewRowIDIndex("t.#")
	for _, id := range []RowID{5, 1, 3, 9} {
		require.NoError(t, idx.Add(id, id))
	}
	assert.Equal(t, []RowID{1, 3, 5, 9}, idx.GetRange(nil, false, 0, 0))
	assert.Equal(t, []RowID{5, 3}, idx.GetRange(Range(SingleKeyRange{From: int64(1), To: int64(5), ExcludeFrom: true}), true, 0, 0))
	assert.Equal(t, []RowID{3}, idx.Get(int64(3)))
	assert.Equal(t, 2, idx.Cost(Range(Between(int64(2), int64(6)))...))
	idx.Remove(int64(3))
	assert.Equal(t, 3, idx.Stats().TotalRows)
	assert.Nil(t, idx.Get(int64(3)))
}

func TestSerialize(t *testing.T) {
	t.Run("RoundTripJSON", func(t *testing.T) {
		for _, kind := range kinds {
			src := NewNullableIndex(mustNew(t, kind, false, Asc))
			require.NoError(t, src.Add(int64(1), 1))
			require.NoError(t, src.Add(int64(1), 2))
			require.NoError(t, src.Add(nil, 3))
			require.NoError(t, src.Add(int64(7), 4))

			b, err := json.Marshal(src.Serialize())
			require.NoError(t, err)
			var rows []*SerializedRow
			require.NoError(t, json.Unmarshal(b, &rows))

			dst := NewNullableIndex(mustNew(t, kind, false, Asc))
			require.NoError(t, Deserialize(dst, rows))
			assert.Equal(t, src.GetRange(nil, false, 0, 0), dst.GetRange(nil, false, 0, 0))
			assert.Equal(t, []RowID{1, 2}, dst.Get(int64(1)))
			assert.Equal(t, []RowID{3}, dst.Get(nil))
		}
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		src := mustNew(t, KindAATree, true, Asc)
		fill(t, src, 3)
		rows := src.Serialize()[1:]

		err := Deserialize(mustNew(t, KindAATree, true, Asc), rows)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrDataCorruption))
	})
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New("skiplist", "t.idx", NewComparator(Asc), false)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedOperation))
}
