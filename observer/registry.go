// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package observer

import (
	"sort"
	"sync"

	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
)

// Callback receives the change records of one re-evaluation.
type Callback func(records []ChangeRecord)

// Handle identifies one callback registered with Add.
type Handle uint64

type entry struct {
	query     query.Context
	calc      *DiffCalculator
	callbacks map[Handle]Callback
	order     []Handle
	seq       Handle
}

// Registry maps observed queries to their diff calculator and callbacks.
// Queries are keyed by identity: observing the same query value twice
// shares one calculator.
type Registry struct {
	mu      sync.Mutex
	entries map[query.Context]*entry
	next    Handle
	logger  logger.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NopLogger
	}
	return &Registry{entries: make(map[query.Context]*entry), logger: log}
}

// Add registers cb for q. It reports whether q was not observed before and
// therefore needs a first evaluation.
func (r *Registry) Add(q query.Context, cb Callback) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	e, ok := r.entries[q]
	if !ok {
		e = &entry{query: q, calc: NewDiffCalculator(), callbacks: make(map[Handle]Callback), seq: h}
		r.entries[q] = e
	}
	e.callbacks[h] = cb
	e.order = append(e.order, h)
	return h, !ok
}

// Remove unregisters the callback h of q. Without callbacks left the query
// stops being observed. It reports whether h was registered.
func (r *Registry) Remove(q query.Context, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[q]
	if !ok {
		return false
	}
	if _, ok := e.callbacks[h]; !ok {
		return false
	}
	delete(e.callbacks, h)
	for i, o := range e.order {
		if o == h {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	if len(e.callbacks) == 0 {
		delete(r.entries, q)
	}
	return true
}

// RemoveAll stops observing q.
func (r *Registry) RemoveAll(q query.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, q)
}

// IsObserved reports whether q has callbacks.
func (r *Registry) IsObserved(q query.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[q]
	return ok
}

// Len returns the number of observed queries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// QueriesFor returns the observed queries reading any of tables, oldest
// first.
func (r *Registry) QueriesFor(tables []string) []query.Context {
	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[t] = true
	}
	r.mu.Lock()
	var matched []*entry
	for q, e := range r.entries {
		for _, t := range q.Scope() {
			if want[t.Name()] {
				matched = append(matched, e)
				break
			}
		}
	}
	r.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]query.Context, len(matched))
	for i, e := range matched {
		out[i] = e.query
	}
	return out
}

// Update records rel as the new result of q and hands the change records
// to every callback of q. Callbacks run outside the registry lock, in the
// order they were added.
func (r *Registry) Update(q query.Context, rel *relation.Relation) []ChangeRecord {
	r.mu.Lock()
	e, ok := r.entries[q]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	records := e.calc.Apply(rel)
	cbs := make([]Callback, 0, len(e.order))
	for _, h := range e.order {
		cbs = append(cbs, e.callbacks[h])
	}
	r.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	r.logger.Debugf("observed %s query changed: %d splices", q.Kind(), len(records))
	for _, cb := range cbs {
		cb(records)
	}
	return records
}

// Current returns the last result of q.
func (r *Registry) Current(q query.Context) []schema.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[q]; ok {
		return e.calc.Last()
	}
	return nil
}
