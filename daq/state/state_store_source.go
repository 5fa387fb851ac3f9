// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/attpc/daqctl/daq/structs"
)

// UpsertDataSource inserts or replaces a data source. A router serves at
// most one source, so a non-zero DataRouterID already claimed by a different
// source is rejected.
func (s *StateStore) UpsertDataSource(src *structs.DataSource) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	index := s.writeIndex()
	src = src.Copy()
	src.ID = s.assignID(src.ID)

	if src.DataRouterID != 0 {
		claimRaw, err := txn.First(TableDataSources, indexRouter, src.DataRouterID)
		if err != nil {
			return fmt.Errorf("data source lookup failed: %v", err)
		}
		if claimRaw != nil {
			if claim := claimRaw.(*structs.DataSource); claim.ID != src.ID {
				return fmt.Errorf("data router %d already serves source %q", src.DataRouterID, claim.Name)
			}
		}
	}

	existingRaw, err := firstByUint(txn, TableDataSources, indexID, src.ID)
	if err != nil {
		return err
	}
	if existingRaw != nil {
		src.CreateIndex = existingRaw.(*structs.DataSource).CreateIndex
	} else {
		src.CreateIndex = index
	}
	src.ModifyIndex = index

	if err := txn.Insert(TableDataSources, src); err != nil {
		return fmt.Errorf("data source insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableDataSources, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// DataSourceByID looks up a data source by primary key.
func (s *StateStore) DataSourceByID(ws memdb.WatchSet, id uint64) (*structs.DataSource, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableDataSources, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("data source lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.DataSource), nil
}

// DataSourceByName looks up a data source by its unique name.
func (s *StateStore) DataSourceByName(ws memdb.WatchSet, name string) (*structs.DataSource, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableDataSources, indexName, name)
	if err != nil {
		return nil, fmt.Errorf("data source lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.DataSource), nil
}

// DataSources returns an iterator over every data source.
func (s *StateStore) DataSources(ws memdb.WatchSet) (memdb.ResultIterator, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableDataSources, indexID)
	if err != nil {
		return nil, fmt.Errorf("data source listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())
	return iter, nil
}

// DataSourcesByECCServer lists the sources a given ECC server drives. The
// DataLinkSet payload of every transition call is built from this set.
func (s *StateStore) DataSourcesByECCServer(ws memdb.WatchSet, eccID uint64) ([]*structs.DataSource, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableDataSources, indexEccServer, eccID)
	if err != nil {
		return nil, fmt.Errorf("data source listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.DataSource
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.DataSource))
	}
	return out, nil
}

// DeleteDataSource removes a data source. Its server and router survive.
func (s *StateStore) DeleteDataSource(id uint64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := firstByUint(txn, TableDataSources, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()
	if err := txn.Delete(TableDataSources, raw); err != nil {
		return fmt.Errorf("data source delete failed: %v", err)
	}
	if err := bumpIndex(txn, TableDataSources, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}
