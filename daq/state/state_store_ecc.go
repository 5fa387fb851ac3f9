// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/attpc/daqctl/daq/structs"
)

// UpsertECCServer inserts or replaces an ECC server record. A zero ID means
// a new record; the store assigns the key.
func (s *StateStore) UpsertECCServer(ecc *structs.ECCServer) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	index := s.writeIndex()
	ecc = ecc.Copy()
	ecc.ID = s.assignID(ecc.ID)

	existingRaw, err := firstByUint(txn, TableECCServers, indexID, ecc.ID)
	if err != nil {
		return err
	}
	if existingRaw != nil {
		ecc.CreateIndex = existingRaw.(*structs.ECCServer).CreateIndex
	} else {
		ecc.CreateIndex = index
	}
	ecc.ModifyIndex = index

	if err := txn.Insert(TableECCServers, ecc); err != nil {
		return fmt.Errorf("ECC server insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableECCServers, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// ECCServerByID looks up an ECC server by primary key.
func (s *StateStore) ECCServerByID(ws memdb.WatchSet, id uint64) (*structs.ECCServer, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableECCServers, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("ECC server lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.ECCServer), nil
}

// ECCServerByName looks up an ECC server by its unique name.
func (s *StateStore) ECCServerByName(ws memdb.WatchSet, name string) (*structs.ECCServer, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableECCServers, indexName, name)
	if err != nil {
		return nil, fmt.Errorf("ECC server lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.ECCServer), nil
}

// ECCServers returns an iterator over every ECC server.
func (s *StateStore) ECCServers(ws memdb.WatchSet) (memdb.ResultIterator, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableECCServers, indexID)
	if err != nil {
		return nil, fmt.Errorf("ECC server listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())
	return iter, nil
}

// ECCServerList collects every ECC server into a slice ordered by key.
func (s *StateStore) ECCServerList(ws memdb.WatchSet) ([]*structs.ECCServer, error) {
	iter, err := s.ECCServers(ws)
	if err != nil {
		return nil, err
	}
	var out []*structs.ECCServer
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.ECCServer))
	}
	return out, nil
}

// UpdateECCServerState records the state and transition flag reported by a
// GetState reply. This is the only writer of the State field.
func (s *StateStore) UpdateECCServerState(id uint64, state structs.EccState, transitioning bool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := firstByUint(txn, TableECCServers, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()
	ecc := raw.(*structs.ECCServer).Copy()
	ecc.State = state
	ecc.IsTransitioning = transitioning
	ecc.ModifyIndex = index

	if err := txn.Insert(TableECCServers, ecc); err != nil {
		return fmt.Errorf("ECC server update failed: %v", err)
	}
	if err := bumpIndex(txn, TableECCServers, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// SetECCServerTransitioning flips the advisory in-flight flag. It is set
// when a change-state task is submitted and cleared by the error path or by
// the next quiescent refresh.
func (s *StateStore) SetECCServerTransitioning(id uint64, transitioning bool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := firstByUint(txn, TableECCServers, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()
	ecc := raw.(*structs.ECCServer).Copy()
	ecc.IsTransitioning = transitioning
	ecc.ModifyIndex = index

	if err := txn.Insert(TableECCServers, ecc); err != nil {
		return fmt.Errorf("ECC server update failed: %v", err)
	}
	if err := bumpIndex(txn, TableECCServers, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// SetECCServerOnline records the result of the periodic process check.
func (s *StateStore) SetECCServerOnline(id uint64, online bool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := firstByUint(txn, TableECCServers, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()
	ecc := raw.(*structs.ECCServer).Copy()
	ecc.IsOnline = online
	ecc.ModifyIndex = index

	if err := txn.Insert(TableECCServers, ecc); err != nil {
		return fmt.Errorf("ECC server update failed: %v", err)
	}
	if err := bumpIndex(txn, TableECCServers, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// SelectConfig points a server at one of its own config sets. A zero
// configID clears the selection.
func (s *StateStore) SelectConfig(eccID, configID uint64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := firstByUint(txn, TableECCServers, indexID, eccID)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	if configID != 0 {
		cfgRaw, err := firstByUint(txn, TableConfigIDs, indexID, configID)
		if err != nil {
			return err
		}
		if cfgRaw == nil {
			return structs.ErrMissingEntity
		}
		if cfg := cfgRaw.(*structs.ConfigID); cfg.EccServerID != eccID {
			return fmt.Errorf("config %q does not belong to ECC server %d", cfg, eccID)
		}
	}

	index := s.writeIndex()
	ecc := raw.(*structs.ECCServer).Copy()
	ecc.SelectedConfigID = configID
	ecc.ModifyIndex = index

	if err := txn.Insert(TableECCServers, ecc); err != nil {
		return fmt.Errorf("ECC server update failed: %v", err)
	}
	if err := bumpIndex(txn, TableECCServers, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// DeleteECCServer removes a server, cascades to its config sets, and nulls
// the weak reference on any data source pointing at it.
func (s *StateStore) DeleteECCServer(id uint64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	index := s.writeIndex()
	if err := s.deleteECCServerTxn(txn, index, id); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

func (s *StateStore) deleteECCServerTxn(txn *memdb.Txn, index uint64, id uint64) error {
	raw, err := firstByUint(txn, TableECCServers, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	// Config sets are owned by the server.
	if _, err := txn.DeleteAll(TableConfigIDs, indexEccServer, id); err != nil {
		return fmt.Errorf("config cascade failed: %v", err)
	}

	// Sources hold weak references; null them, do not cascade.
	srcIter, err := txn.Get(TableDataSources, indexEccServer, id)
	if err != nil {
		return fmt.Errorf("data source lookup failed: %v", err)
	}
	var orphaned []*structs.DataSource
	for rawSrc := srcIter.Next(); rawSrc != nil; rawSrc = srcIter.Next() {
		src := rawSrc.(*structs.DataSource).Copy()
		src.EccServerID = 0
		src.ModifyIndex = index
		orphaned = append(orphaned, src)
	}
	for _, src := range orphaned {
		if err := txn.Insert(TableDataSources, src); err != nil {
			return fmt.Errorf("data source update failed: %v", err)
		}
	}

	if err := txn.Delete(TableECCServers, raw); err != nil {
		return fmt.Errorf("ECC server delete failed: %v", err)
	}
	return bumpIndex(txn, TableECCServers, index)
}
