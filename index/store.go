// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import "sync"

// Store owns every in-memory index of a database, keyed by normalized name.
type Store struct {
	mu      sync.RWMutex
	indices map[string]Index
	byTable map[string][]Index
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		indices: make(map[string]Index),
		byTable: make(map[string][]Index),
	}
}

// Get returns the index with the given name, or nil.
func (s *Store) Get(name string) Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indices[name]
}

// Set registers idx for table, replacing an index of the same name.
func (s *Store) Set(table string, idx Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[idx.Name()] = idx
	list := s.byTable[table]
	for i := range list {
		if list[i].Name() == idx.Name() {
			list[i] = idx
			return
		}
	}
	s.byTable[table] = append(list, idx)
}

// TableIndices returns the indices of table in registration order.
func (s *Store) TableIndices(table string) []Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Index(nil), s.byTable[table]...)
}
