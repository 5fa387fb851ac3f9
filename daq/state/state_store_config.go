// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/attpc/daqctl/daq/structs"
)

// RefreshConfigIDs reconciles the stored config sets of one ECC server with
// the triples returned by a GetConfigIDs call. Triples already present keep
// their primary key and get a fresh LastFetched stamp; new triples are
// inserted; rows not re-fetched are swept. The stable primary key matters
// because the server's SelectedConfigID points at it.
func (s *StateStore) RefreshConfigIDs(eccID uint64, fetched []*structs.ConfigID, fetchTime time.Time) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	eccRaw, err := firstByUint(txn, TableECCServers, indexID, eccID)
	if err != nil {
		return err
	}
	if eccRaw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()

	existing := map[string]*structs.ConfigID{}
	iter, err := txn.Get(TableConfigIDs, indexEccServer, eccID)
	if err != nil {
		return fmt.Errorf("config listing failed: %v", err)
	}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		cfg := raw.(*structs.ConfigID)
		existing[cfg.String()] = cfg
	}

	// Upsert phase: refresh the stamp on known triples, insert the rest.
	for _, cfg := range fetched {
		up := cfg.Copy()
		up.EccServerID = eccID
		up.LastFetched = fetchTime
		up.ModifyIndex = index

		if prior, ok := existing[up.String()]; ok {
			up.ID = prior.ID
			up.CreateIndex = prior.CreateIndex
		} else {
			up.ID = s.assignID(0)
			up.CreateIndex = index
		}
		if err := txn.Insert(TableConfigIDs, up); err != nil {
			return fmt.Errorf("config insert failed: %v", err)
		}
	}

	// Sweep phase: anything not stamped this round is gone from the remote.
	var swept []*structs.ConfigID
	for _, cfg := range existing {
		if cfg.LastFetched.Before(fetchTime) {
			refetched := false
			for _, f := range fetched {
				if cfg.SameTriple(f) {
					refetched = true
					break
				}
			}
			if !refetched {
				swept = append(swept, cfg)
			}
		}
	}
	for _, cfg := range swept {
		if err := txn.Delete(TableConfigIDs, cfg); err != nil {
			return fmt.Errorf("config sweep failed: %v", err)
		}
	}

	// The selection is a weak reference; clear it if its target was swept.
	ecc := eccRaw.(*structs.ECCServer)
	if ecc.SelectedConfigID != 0 {
		sel, err := firstByUint(txn, TableConfigIDs, indexID, ecc.SelectedConfigID)
		if err != nil {
			return err
		}
		if sel == nil {
			cleared := ecc.Copy()
			cleared.SelectedConfigID = 0
			cleared.ModifyIndex = index
			if err := txn.Insert(TableECCServers, cleared); err != nil {
				return fmt.Errorf("ECC server update failed: %v", err)
			}
			if err := bumpIndex(txn, TableECCServers, index); err != nil {
				return err
			}
		}
	}

	if err := bumpIndex(txn, TableConfigIDs, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// ConfigIDByID looks up a config set by primary key.
func (s *StateStore) ConfigIDByID(ws memdb.WatchSet, id uint64) (*structs.ConfigID, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableConfigIDs, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("config lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.ConfigID), nil
}

// ConfigIDsByECCServer lists the config sets known for one server.
func (s *StateStore) ConfigIDsByECCServer(ws memdb.WatchSet, eccID uint64) ([]*structs.ConfigID, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableConfigIDs, indexEccServer, eccID)
	if err != nil {
		return nil, fmt.Errorf("config listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.ConfigID
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.ConfigID))
	}
	return out, nil
}
