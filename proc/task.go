// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package proc schedules the work done against a database. Every query,
// transaction and change notification runs as a Task with a table scope;
// the Runner admits a task only once no running task holds a conflicting
// scope, so a read-write task never runs beside another task on the same
// tables.
package proc

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/observer"
	"github.com/molecula/relstore/planner"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// Priority orders queued tasks. Lower values are admitted first; tasks of
// equal priority keep their submission order.
type Priority int

const (
	TransactionPriority Priority = iota
	ExternalChangePriority
	ObserverQueryPriority
	UserQueryPriority
)

func (p Priority) String() string {
	switch p {
	case TransactionPriority:
		return "transaction"
	case ExternalChangePriority:
		return "external_change"
	case ObserverQueryPriority:
		return "observer_query"
	case UserQueryPriority:
		return "user_query"
	}
	return "unknown"
}

// Task is a unit of scheduling.
type Task interface {
	ID() uuid.UUID
	Type() backstore.TxType
	// Scope returns the base tables the task reads or writes.
	Scope() []*schema.Table
	Priority() Priority
}

// ExecTask is a task the Runner executes in one go.
type ExecTask interface {
	Task
	Exec(ctx context.Context) ([]*relation.Relation, error)
}

// committer is implemented by tasks that change tables. Once such a task
// succeeds, observed queries over the changed tables are re-evaluated.
type committer interface {
	changedTables() []string
}

// Env is the state tasks run against.
type Env struct {
	Cache     *cache.Env
	Store     backstore.BackStore
	Planner   *planner.Planner
	Observers *observer.Registry
	Logger    logger.Logger
}

func (e *Env) logger() logger.Logger {
	if e.Logger == nil {
		return logger.NopLogger
	}
	return e.Logger
}

// overlaps reports whether two scopes share a table.
func overlaps(a, b []*schema.Table) bool {
	names := make(map[string]bool, len(a))
	for _, t := range a {
		names[t.Name()] = true
	}
	for _, t := range b {
		if names[t.Name()] {
			return true
		}
	}
	return false
}

// conflicts reports whether a and b may not run at the same time.
func conflicts(a, b Task) bool {
	if a.Type() == backstore.ReadOnly && b.Type() == backstore.ReadOnly {
		return false
	}
	return overlaps(a.Scope(), b.Scope())
}

func tableNames(diffs []*cache.TableDiff) []string {
	out := make([]string, len(diffs))
	for i, d := range diffs {
		out[i] = d.Table()
	}
	sort.Strings(out)
	return out
}

// recordCommit counts the rows a commit wrote.
func recordCommit(stats *backstore.TxStats) {
	if stats == nil {
		return
	}
	CommittedRowsTotal.WithLabelValues("insert").Add(float64(stats.InsertedRows))
	CommittedRowsTotal.WithLabelValues("update").Add(float64(stats.UpdatedRows))
	CommittedRowsTotal.WithLabelValues("delete").Add(float64(stats.DeletedRows))
}
