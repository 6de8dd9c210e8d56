// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"github.com/molecula/relstore/errors"
)

// MetaRowID is the id of the metadata row leading every serialized index.
const MetaRowID RowID = -2

const (
	kindField   = "kind"
	uniqueField = "unique"
	nullsField  = "nulls"
	keyField    = "k"
	idsField    = "v"
)

// SerializedRow is one row of a persisted index. The first row of a
// serialized index is always the metadata row; the others hold one key and
// its ids each.
type SerializedRow struct {
	ID      RowID                  `json:"id"`
	Payload map[string]interface{} `json:"value"`
}

func newMetaRow(kind Kind, unique bool, nulls []RowID) *SerializedRow {
	p := map[string]interface{}{
		kindField:   string(kind),
		uniqueField: unique,
	}
	if nulls != nil {
		p[nullsField] = nulls
	}
	return &SerializedRow{ID: MetaRowID, Payload: p}
}

// Deserialize loads rows produced by Serialize into the empty index idx.
// Rows may have gone through an encoding that turned integers into floats
// and tuples into generic slices. A missing metadata row means the stored
// index is corrupt.
func Deserialize(idx Index, rows []*SerializedRow) error {
	var meta *SerializedRow
	for _, row := range rows {
		if row.ID == MetaRowID {
			meta = row
			break
		}
	}
	if meta == nil {
		return errors.Newf(errors.ErrDataCorruption, "index %s: metadata row missing", idx.Name())
	}

	idx.Clear()
	if raw, ok := meta.Payload[nullsField]; ok && raw != nil {
		nulls, err := toRowIDs(raw)
		if err != nil {
			return errors.Wrapf(err, "index %s: null ids", idx.Name())
		}
		for _, id := range nulls {
			if err := idx.Add(nil, id); err != nil {
				return err
			}
		}
	}

	for _, row := range rows {
		if row.ID == MetaRowID {
			continue
		}
		key, ok := row.Payload[keyField]
		if !ok {
			return errors.Newf(errors.ErrDataCorruption, "index %s: row %d has no key", idx.Name(), row.ID)
		}
		ids, err := toRowIDs(row.Payload[idsField])
		if err != nil {
			return errors.Wrapf(err, "index %s: row %d", idx.Name(), row.ID)
		}
		for _, id := range ids {
			if err := idx.Add(key, id); err != nil {
				return errors.Wrapf(err, "index %s: row %d", idx.Name(), row.ID)
			}
		}
	}
	return nil
}

func toRowIDs(v interface{}) ([]RowID, error) {
	switch x := v.(type) {
	case []RowID:
		return x, nil
	case []interface{}:
		out := make([]RowID, len(x))
		for i := range x {
			id, ok := ToRowID(x[i])
			if !ok {
				return nil, errors.Newf(errors.ErrDataCorruption, "invalid row id %v", x[i])
			}
			out[i] = id
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, errors.Newf(errors.ErrDataCorruption, "invalid row id list %T", v)
}

func copyPayload(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}
