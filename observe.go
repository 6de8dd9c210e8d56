// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package relstore

import (
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/observer"
	"github.com/molecula/relstore/proc"
	"github.com/molecula/relstore/query"
)

// Observe calls cb with the changes to the result of q every time a
// commit alters it. The first observer of a query triggers an evaluation
// in the background, reported to cb as a splice from the empty result.
// Observers are keyed by q as built; changing q afterwards makes a new
// query.
func (db *DB) Observe(q *SelectBuilder, cb observer.Callback) (observer.Handle, error) {
	qc, err := q.Context()
	if err != nil {
		return 0, err
	}
	if !qc.IsBound() {
		return 0, errors.New(errors.ErrBinding, "observed query has unbound parameters")
	}
	h, first := db.env.Observers.Add(qc, cb)
	if first {
		db.runner.Go(proc.NewObserverQueryTask(db.env, []query.Context{qc}))
	}
	return h, nil
}

// Unobserve removes the observer h of q. It reports whether h was found.
func (db *DB) Unobserve(q *SelectBuilder, h observer.Handle) bool {
	qc, err := q.Context()
	if err != nil {
		return false
	}
	return db.env.Observers.Remove(qc, h)
}
