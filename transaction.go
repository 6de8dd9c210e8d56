// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relstore

import (
	"context"
	"sync"

	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/proc"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/schema"
)

// TxState is the state of a Transaction.
type TxState int

const (
	TxCreated TxState = iota
	TxAcquiringScope
	TxAcquiredScope
	TxExecutingQuery
	TxExecutingAndCommitting
	TxCommitting
	TxRollingBack
	TxFinalized
)

func (s TxState) String() string {
	switch s {
	case TxCreated:
		return "created"
	case TxAcquiringScope:
		return "acquiring_scope"
	case TxAcquiredScope:
		return "acquired_scope"
	case TxExecutingQuery:
		return "executing_query"
	case TxExecutingAndCommitting:
		return "executing_and_committing"
	case TxCommitting:
		return "committing"
	case TxRollingBack:
		return "rolling_back"
	case TxFinalized:
		return "finalized"
	}
	return "unknown"
}

var txTransitions = map[TxState][]TxState{
	TxCreated:                {TxAcquiringScope, TxExecutingAndCommitting},
	TxAcquiringScope:         {TxAcquiredScope, TxFinalized},
	TxAcquiredScope:          {TxExecutingQuery, TxCommitting, TxRollingBack},
	TxExecutingQuery:         {TxAcquiredScope, TxFinalized},
	TxExecutingAndCommitting: {TxFinalized},
	TxCommitting:             {TxFinalized},
	TxRollingBack:            {TxFinalized},
}

// Transaction groups queries that commit or roll back together. It is
// used either implicitly, with Exec, or explicitly, with Begin, Attach and
// then Commit or Rollback. A Transaction is used once.
type Transaction struct {
	db *DB

	mu    sync.Mutex
	state TxState
	task  *proc.TransactionTask
	stats *backstore.TxStats
}

// CreateTransaction returns a new transaction.
func (db *DB) CreateTransaction() *Transaction {
	return &Transaction{db: db}
}

func (tx *Transaction) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *Transaction) transition(to TxState) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, s := range txTransitions[tx.state] {
		if s == to {
			tx.state = to
			return nil
		}
	}
	return errors.Newf(errors.ErrInvalidTransactionState, "invalid transaction state transition: %s to %s", tx.state, to)
}

// finalize records stats and ends the transaction.
func (tx *Transaction) finalize(stats *backstore.TxStats) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if stats == nil {
		stats = &backstore.TxStats{}
	}
	tx.stats = stats
	tx.state = TxFinalized
}

// Exec runs queries in one implicit transaction and returns their results
// in order. Either all of their changes commit or none do.
func (tx *Transaction) Exec(ctx context.Context, queries ...Query) ([][]schema.Payload, error) {
	if err := tx.transition(TxExecutingAndCommitting); err != nil {
		return nil, err
	}
	contexts := make([]query.Context, len(queries))
	for i, q := range queries {
		qc, err := q.Context()
		if err != nil {
			tx.finalize(nil)
			return nil, err
		}
		contexts[i] = qc
	}
	task, results, err := tx.db.run(ctx, contexts...)
	tx.finalize(task.Stats())
	if err != nil {
		return nil, err
	}
	out := make([][]schema.Payload, len(results))
	for i, r := range results {
		out[i] = r.Payloads()
	}
	return out, nil
}

// Begin waits until scope can be held exclusively and holds it until
// Commit or Rollback. Attached queries may only touch tables in scope.
func (tx *Transaction) Begin(ctx context.Context, scope ...*schema.Table) error {
	if err := tx.transition(TxAcquiringScope); err != nil {
		return err
	}
	task := tx.db.runner.NewTransaction(scope)
	if err := task.AcquireScope(ctx); err != nil {
		tx.finalize(nil)
		return err
	}
	tx.mu.Lock()
	tx.task = task
	tx.mu.Unlock()
	return tx.transition(TxAcquiredScope)
}

// Attach runs q inside the transaction and returns its rows. Its changes
// are visible to later attached queries and reach the store on Commit. A
// failing query rolls the whole transaction back.
func (tx *Transaction) Attach(ctx context.Context, q Query) ([]schema.Payload, error) {
	if err := tx.transition(TxExecutingQuery); err != nil {
		return nil, err
	}
	qc, err := q.Context()
	if err == nil {
		rel, aerr := tx.task.Attach(ctx, qc)
		if aerr == nil {
			return rel.Payloads(), tx.transition(TxAcquiredScope)
		}
		err = aerr
	}
	if tx.task.Active() {
		if rerr := tx.task.Rollback(); rerr != nil {
			tx.db.logger.Errorf("rolling back transaction %s: %v", tx.task.ID(), rerr)
		}
	}
	tx.finalize(nil)
	return nil, err
}

// Commit writes the attached changes to the store and releases the scope.
func (tx *Transaction) Commit(ctx context.Context) error {
	if err := tx.transition(TxCommitting); err != nil {
		return err
	}
	err := tx.task.Commit(ctx)
	tx.finalize(tx.task.Stats())
	return err
}

// Rollback discards the attached changes and releases the scope.
func (tx *Transaction) Rollback(ctx context.Context) error {
	if err := tx.transition(TxRollingBack); err != nil {
		return err
	}
	err := tx.task.Rollback()
	tx.finalize(nil)
	return err
}

// Stats returns what the transaction changed. It is nil until the
// transaction is finalized.
func (tx *Transaction) Stats() *backstore.TxStats {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.stats
}
