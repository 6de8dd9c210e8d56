// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"context"
	"fmt"

	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

func journalOf(ec *ExecContext, step string) (*cache.Journal, error) {
	if ec.Journal == nil {
		return nil, errors.Newf(errors.ErrInvalidTransactionState, "%s needs a read-write transaction", step)
	}
	return ec.Journal, nil
}

// InsertStep inserts rows into a table. The result holds the inserted
// rows, ids and auto increment keys assigned.
type InsertStep struct {
	stepBase
	Table   *schema.Table
	Rows    []*schema.Row
	Replace bool
}

func (s *InsertStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("insert", 0, children); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *InsertStep) Mode() ExecMode { return NoChild }

func (s *InsertStep) String() string {
	if s.Replace {
		return fmt.Sprintf("insert_replace(%s)", s.Table.Name())
	}
	return fmt.Sprintf("insert(%s)", s.Table.Name())
}

func (s *InsertStep) execInternal(ctx context.Context, ec *ExecContext, _ []*relation.Relation) ([]*relation.Relation, error) {
	j, err := journalOf(ec, s.String())
	if err != nil {
		return nil, err
	}
	rows := make([]*schema.Row, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = r.Copy()
	}
	if s.Replace {
		err = j.InsertOrReplace(s.Table, rows)
	} else {
		err = j.Insert(s.Table, rows)
	}
	if err != nil {
		return nil, err
	}
	return one(relation.FromRows(rows, []string{s.Table.Name()})), nil
}

// UpdateStep applies assignments to every row of its child.
type UpdateStep struct {
	stepBase
	Table *schema.Table
	Set   []query.Assignment
}

func (s *UpdateStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("update", 1, children); err != nil {
		return nil, err
	}
	return &UpdateStep{stepBase{children}, s.Table, s.Set}, nil
}

func (s *UpdateStep) Mode() ExecMode { return FirstChild }
func (s *UpdateStep) String() string { return fmt.Sprintf("update(%s)", s.Table.Name()) }

func (s *UpdateStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	j, err := journalOf(ec, s.String())
	if err != nil {
		return nil, err
	}
	in := rels[0]
	rows := make([]*schema.Row, len(in.Entries))
	for i, e := range in.Entries {
		r := e.Row.Copy()
		for _, a := range s.Set {
			r.Payload()[a.Column.Name()] = schema.ConvertValue(a.Column.Type(), a.Value)
		}
		rows[i] = r
	}
	if err := j.Update(s.Table, rows); err != nil {
		return nil, err
	}
	return one(relation.FromRows(rows, []string{s.Table.Name()})), nil
}

// DeleteStep removes every row of its child.
type DeleteStep struct {
	stepBase
	Table *schema.Table
}

func (s *DeleteStep) WithChildren(children ...Step) (Step, error) {
	if err := stepChildren("delete", 1, children); err != nil {
		return nil, err
	}
	return &DeleteStep{stepBase{children}, s.Table}, nil
}

func (s *DeleteStep) Mode() ExecMode { return FirstChild }
func (s *DeleteStep) String() string { return fmt.Sprintf("delete(%s)", s.Table.Name()) }

func (s *DeleteStep) execInternal(ctx context.Context, ec *ExecContext, rels []*relation.Relation) ([]*relation.Relation, error) {
	j, err := journalOf(ec, s.String())
	if err != nil {
		return nil, err
	}
	in := rels[0]
	rows := make([]*schema.Row, len(in.Entries))
	for i, e := range in.Entries {
		rows[i] = e.Row
	}
	if err := j.Remove(s.Table, rows); err != nil {
		return nil, err
	}
	return one(relation.New(nil, []string{s.Table.Name()})), nil
}
