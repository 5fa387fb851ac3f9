// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package state implements the transactional store that holds every entity
// of the DAQ control plane. It is the single source of shared mutable state:
// tasks and request handlers read committed snapshots and write through
// short transactions, never caching entity state in memory.
package state

import (
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	memdb "github.com/hashicorp/go-memdb"
)

// IndexEntry tracks the last modify index of one table.
type IndexEntry struct {
	Key   string
	Value uint64
}

// StateStore wraps a go-memdb database. All mutations hand out monotonically
// increasing ids and modify indexes from process-local counters; readers see
// the committed snapshot taken when their transaction began.
type StateStore struct {
	logger hclog.Logger
	db     *memdb.MemDB

	nextID    atomic.Uint64
	lastIndex atomic.Uint64
}

// NewStateStore creates an empty store.
func NewStateStore(logger hclog.Logger) (*StateStore, error) {
	db, err := memdb.NewMemDB(stateStoreSchema())
	if err != nil {
		return nil, fmt.Errorf("state store setup failed: %v", err)
	}
	return &StateStore{
		logger: logger.Named("state_store"),
		db:     db,
	}, nil
}

// assignID hands out the next primary key if the record does not carry one.
func (s *StateStore) assignID(id uint64) uint64 {
	if id != 0 {
		return id
	}
	return s.nextID.Add(1)
}

// writeIndex returns the modify index for a new write transaction.
func (s *StateStore) writeIndex() uint64 {
	return s.lastIndex.Add(1)
}

// Index returns the last modify index of the named table.
func (s *StateStore) Index(table string) (uint64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableIndex, indexID, table)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	return raw.(*IndexEntry).Value, nil
}

// bumpIndex records a table's new modify index inside an open write txn.
func bumpIndex(txn *memdb.Txn, table string, index uint64) error {
	if err := txn.Insert(tableIndex, &IndexEntry{Key: table, Value: index}); err != nil {
		return fmt.Errorf("index update failed: %v", err)
	}
	return nil
}

// firstByUint fetches the first row of table whose idx equals id, or nil.
func firstByUint(txn *memdb.Txn, table, idx string, id uint64) (interface{}, error) {
	raw, err := txn.First(table, idx, id)
	if err != nil {
		return nil, fmt.Errorf("%s lookup failed: %v", table, err)
	}
	return raw, nil
}
