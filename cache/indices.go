// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
)

// NewIndex returns an empty index for idx. A single nullable column gets a
// nullable wrapper.
func NewIndex(kind index.Kind, idx *schema.IndexSchema) (index.Index, error) {
	x, err := index.New(kind, idx.NormalizedName(), index.NewComparator(idx.Orders()...), idx.Unique)
	if err != nil {
		return nil, errors.Wrapf(err, "index %s", idx.NormalizedName())
	}
	if len(idx.Columns) == 1 && idx.Columns[0].Column.IsNullable() {
		return index.NewNullableIndex(x), nil
	}
	return x, nil
}

// CreateTableIndices registers empty indices for t: the row id index first,
// then one per index schema.
func CreateTableIndices(store *index.Store, t *schema.Table, kind index.Kind) error {
	store.Set(t.Name(), index.NewRowIDIndex(t.RowIDIndexName()))
	for _, is := range t.Indices() {
		x, err := NewIndex(kind, is)
		if err != nil {
			return errors.Wrapf(err, "creating index %s", is.NormalizedName())
		}
		store.Set(t.Name(), x)
	}
	return nil
}

// PopulateTableIndices adds rows to every index of t.
func PopulateTableIndices(env *Env, t *schema.Table, rows []*schema.Row) error {
	rowIDs := env.RowIDIndex(t)
	for _, r := range rows {
		if err := rowIDs.Add(r.ID(), r.ID()); err != nil {
			return errors.Wrapf(err, "rebuilding row ids of %s", t.Name())
		}
	}
	for _, is := range t.Indices() {
		x := env.Index(is)
		for _, r := range rows {
			if err := x.Add(r.KeyOfIndex(is), r.ID()); err != nil {
				return errors.Wrapf(err, "rebuilding %s", is.NormalizedName())
			}
		}
	}
	return nil
}
