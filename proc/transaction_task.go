// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package proc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/planner"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// TransactionTask is an explicit transaction. It holds its scope from
// AcquireScope until Commit or Rollback; queries attached in between run
// at once against its journal and reach the store only on Commit.
type TransactionTask struct {
	runner *Runner
	id     uuid.UUID
	scope  []*schema.Table

	mu      sync.Mutex
	lease   *Lease
	journal *cache.Journal
	tx      backstore.Tx
	stats   *backstore.TxStats
}

// NewTransaction returns a read-write transaction over scope. Only the
// base tables of scope matter; aliases are resolved.
func (r *Runner) NewTransaction(scope []*schema.Table) *TransactionTask {
	var tables []*schema.Table
	for _, t := range scope {
		tables = append(tables, t.Database().Table(t.Name()))
	}
	return &TransactionTask{runner: r, id: uuid.New(), scope: tables}
}

func (t *TransactionTask) ID() uuid.UUID          { return t.id }
func (t *TransactionTask) Type() backstore.TxType { return backstore.ReadWrite }
func (t *TransactionTask) Scope() []*schema.Table { return t.scope }
func (t *TransactionTask) Priority() Priority     { return TransactionPriority }

// Stats returns the statistics of the commit, or nil before it.
func (t *TransactionTask) Stats() *backstore.TxStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// AcquireScope waits for the scope and opens the journal and the store
// transaction.
func (t *TransactionTask) AcquireScope(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lease != nil || t.stats != nil {
		return errors.New(errors.ErrInvalidTransactionState, "transaction scope already acquired")
	}
	lease, err := t.runner.Acquire(ctx, t)
	if err != nil {
		return err
	}
	j := cache.NewJournal(t.runner.env.Cache, t.scope)
	tx, err := t.runner.env.Store.CreateTx(backstore.ReadWrite, t.scope, j)
	if err != nil {
		lease.Release()
		return errors.Wrap(err, "creating store transaction")
	}
	t.lease, t.journal, t.tx = lease, j, tx
	return nil
}

// Attach runs q inside the transaction. Every table q touches must be in
// scope. A failing query rolls the whole transaction back.
func (t *TransactionTask) Attach(ctx context.Context, q query.Context) (*relation.Relation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lease == nil {
		return nil, errors.New(errors.ErrInvalidTransactionState, "transaction is not active")
	}
	if err := t.checkScope(q); err != nil {
		return nil, err
	}
	ec := &planner.ExecContext{Env: t.runner.env.Cache, Journal: t.journal}
	rel, err := execQuery(ctx, t.runner.env.Planner, ec, q)
	if err != nil {
		t.rollbackLocked()
		return nil, err
	}
	return rel, nil
}

func (t *TransactionTask) checkScope(q query.Context) error {
	for _, qt := range q.Scope() {
		if !overlaps([]*schema.Table{qt}, t.scope) {
			return errors.Newf(errors.ErrScope, "table %s is outside the transaction scope", qt.Name())
		}
	}
	return nil
}

// Commit flushes the journal to the store, releases the scope and
// schedules the observers of the changed tables.
func (t *TransactionTask) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lease == nil {
		return errors.New(errors.ErrInvalidTransactionState, "transaction is not active")
	}
	if err := commitJournal(ctx, t.tx, t.journal); err != nil {
		t.rollbackLocked()
		return err
	}
	t.stats = t.tx.Stats()
	changed := tableNames(t.journal.Diff())
	t.finishLocked(nil)
	t.runner.ScheduleObservers(changed)
	return nil
}

// Rollback discards the journal and releases the scope.
func (t *TransactionTask) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lease == nil {
		return errors.New(errors.ErrInvalidTransactionState, "transaction is not active")
	}
	return t.rollbackLocked()
}

func (t *TransactionTask) rollbackLocked() error {
	t.tx.Abort()
	err := t.journal.Rollback()
	t.stats = &backstore.TxStats{}
	t.finishLocked(errors.New(errors.ErrInvalidTransactionState, "rolled back"))
	return err
}

func (t *TransactionTask) finishLocked(err error) {
	t.runner.record(t, t.lease.Since(), err)
	t.lease.Release()
	t.lease = nil
	t.journal = nil
	t.tx = nil
}

// Active reports whether the transaction holds its scope.
func (t *TransactionTask) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lease != nil
}

// Since returns how long the transaction has held its scope.
func (t *TransactionTask) Since() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lease == nil {
		return 0
	}
	return t.lease.Since()
}
