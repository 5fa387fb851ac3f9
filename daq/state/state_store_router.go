// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/attpc/daqctl/daq/structs"
)

// UpsertDataRouter inserts or replaces a data router record.
func (s *StateStore) UpsertDataRouter(router *structs.DataRouter) error {
	if router.Type != "" && !structs.ValidRouterType(router.Type) {
		return fmt.Errorf("invalid data router type %q", router.Type)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	index := s.writeIndex()
	router = router.Copy()
	router.ID = s.assignID(router.ID)
	if router.Type == "" {
		router.Type = structs.RouterTypeTCP
	}

	existingRaw, err := firstByUint(txn, TableDataRouters, indexID, router.ID)
	if err != nil {
		return err
	}
	if existingRaw != nil {
		router.CreateIndex = existingRaw.(*structs.DataRouter).CreateIndex
	} else {
		router.CreateIndex = index
	}
	router.ModifyIndex = index

	if err := txn.Insert(TableDataRouters, router); err != nil {
		return fmt.Errorf("data router insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableDataRouters, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// DataRouterByID looks up a data router by primary key.
func (s *StateStore) DataRouterByID(ws memdb.WatchSet, id uint64) (*structs.DataRouter, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableDataRouters, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("data router lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.DataRouter), nil
}

// DataRouterByName looks up a data router by its unique name.
func (s *StateStore) DataRouterByName(ws memdb.WatchSet, name string) (*structs.DataRouter, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableDataRouters, indexName, name)
	if err != nil {
		return nil, fmt.Errorf("data router lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.DataRouter), nil
}

// DataRouters returns an iterator over every data router.
func (s *StateStore) DataRouters(ws memdb.WatchSet) (memdb.ResultIterator, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableDataRouters, indexID)
	if err != nil {
		return nil, fmt.Errorf("data router listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())
	return iter, nil
}

// DataRouterList collects every data router into a slice ordered by key.
func (s *StateStore) DataRouterList(ws memdb.WatchSet) ([]*structs.DataRouter, error) {
	iter, err := s.DataRouters(ws)
	if err != nil {
		return nil, err
	}
	var out []*structs.DataRouter
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.DataRouter))
	}
	return out, nil
}

// SetDataRouterStatus records the result of the periodic router check: the
// process liveness and whether the staging directory is free of .graw files.
func (s *StateStore) SetDataRouterStatus(id uint64, online, clean bool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := firstByUint(txn, TableDataRouters, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()
	router := raw.(*structs.DataRouter).Copy()
	router.IsOnline = online
	router.StagingDirectoryIsClean = clean
	router.ModifyIndex = index

	if err := txn.Insert(TableDataRouters, router); err != nil {
		return fmt.Errorf("data router update failed: %v", err)
	}
	if err := bumpIndex(txn, TableDataRouters, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// DeleteDataRouter removes a router and nulls the weak reference on any data
// source pointing at it.
func (s *StateStore) DeleteDataRouter(id uint64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	index := s.writeIndex()
	if err := s.deleteDataRouterTxn(txn, index, id); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

func (s *StateStore) deleteDataRouterTxn(txn *memdb.Txn, index uint64, id uint64) error {
	raw, err := firstByUint(txn, TableDataRouters, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	srcIter, err := txn.Get(TableDataSources, indexRouter, id)
	if err != nil {
		return fmt.Errorf("data source lookup failed: %v", err)
	}
	var orphaned []*structs.DataSource
	for rawSrc := srcIter.Next(); rawSrc != nil; rawSrc = srcIter.Next() {
		src := rawSrc.(*structs.DataSource).Copy()
		src.DataRouterID = 0
		src.ModifyIndex = index
		orphaned = append(orphaned, src)
	}
	for _, src := range orphaned {
		if err := txn.Insert(TableDataSources, src); err != nil {
			return fmt.Errorf("data source update failed: %v", err)
		}
	}

	if err := txn.Delete(TableDataRouters, raw); err != nil {
		return fmt.Errorf("data router delete failed: %v", err)
	}
	return bumpIndex(txn, TableDataRouters, index)
}
