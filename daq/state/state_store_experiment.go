// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/attpc/daqctl/daq/structs"
)

// UpsertExperiment inserts or replaces an experiment record.
func (s *StateStore) UpsertExperiment(exp *structs.Experiment) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	index := s.writeIndex()
	exp = exp.Copy()
	exp.ID = s.assignID(exp.ID)
	if exp.TargetRunDuration == 0 {
		exp.TargetRunDuration = structs.DefaultTargetRunDuration
	}

	existingRaw, err := firstByUint(txn, TableExperiments, indexID, exp.ID)
	if err != nil {
		return err
	}
	if existingRaw != nil {
		exp.CreateIndex = existingRaw.(*structs.Experiment).CreateIndex
	} else {
		exp.CreateIndex = index
	}
	exp.ModifyIndex = index

	if err := txn.Insert(TableExperiments, exp); err != nil {
		return fmt.Errorf("experiment insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableExperiments, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// ExperimentByID looks up an experiment by primary key.
func (s *StateStore) ExperimentByID(ws memdb.WatchSet, id uint64) (*structs.Experiment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableExperiments, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("experiment lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Experiment), nil
}

// ExperimentByName looks up an experiment by its unique name.
func (s *StateStore) ExperimentByName(ws memdb.WatchSet, name string) (*structs.Experiment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableExperiments, indexName, name)
	if err != nil {
		return nil, fmt.Errorf("experiment lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Experiment), nil
}

// Experiments returns an iterator over every experiment.
func (s *StateStore) Experiments(ws memdb.WatchSet) (memdb.ResultIterator, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableExperiments, indexID)
	if err != nil {
		return nil, fmt.Errorf("experiment listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())
	return iter, nil
}

// DeleteExperiment removes an experiment and cascades to its ECC servers
// (and their configs), data routers, runs, observables, and measurements.
func (s *StateStore) DeleteExperiment(id uint64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := firstByUint(txn, TableExperiments, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()

	if err := s.deleteExperimentEntitiesTxn(txn, index, id); err != nil {
		return err
	}

	// Runs and their measurements.
	runIter, err := txn.Get(TableRuns, indexExperiment, id)
	if err != nil {
		return fmt.Errorf("run listing failed: %v", err)
	}
	var runs []*structs.RunMetadata
	for rawRun := runIter.Next(); rawRun != nil; rawRun = runIter.Next() {
		runs = append(runs, rawRun.(*structs.RunMetadata))
	}
	for _, run := range runs {
		if _, err := txn.DeleteAll(TableMeasurement, indexRun, run.ID); err != nil {
			return fmt.Errorf("measurement cascade failed: %v", err)
		}
		if err := txn.Delete(TableRuns, run); err != nil {
			return fmt.Errorf("run cascade failed: %v", err)
		}
	}

	if _, err := txn.DeleteAll(TableObservables, indexExperiment, id); err != nil {
		return fmt.Errorf("observable cascade failed: %v", err)
	}

	if err := txn.Delete(TableExperiments, raw); err != nil {
		return fmt.Errorf("experiment delete failed: %v", err)
	}
	if err := bumpIndex(txn, TableExperiments, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// deleteExperimentEntitiesTxn removes the ECC servers and data routers of an
// experiment inside an open transaction. Shared by DeleteExperiment and the
// easy-setup replace.
func (s *StateStore) deleteExperimentEntitiesTxn(txn *memdb.Txn, index uint64, expID uint64) error {
	eccIter, err := txn.Get(TableECCServers, indexExperiment, expID)
	if err != nil {
		return fmt.Errorf("ECC server listing failed: %v", err)
	}
	var eccIDs []uint64
	for raw := eccIter.Next(); raw != nil; raw = eccIter.Next() {
		eccIDs = append(eccIDs, raw.(*structs.ECCServer).ID)
	}
	for _, eccID := range eccIDs {
		if err := s.deleteECCServerTxn(txn, index, eccID); err != nil {
			return err
		}
	}

	routerIter, err := txn.Get(TableDataRouters, indexExperiment, expID)
	if err != nil {
		return fmt.Errorf("data router listing failed: %v", err)
	}
	var routerIDs []uint64
	for raw := routerIter.Next(); raw != nil; raw = routerIter.Next() {
		routerIDs = append(routerIDs, raw.(*structs.DataRouter).ID)
	}
	for _, routerID := range routerIDs {
		if err := s.deleteDataRouterTxn(txn, index, routerID); err != nil {
			return err
		}
	}
	return nil
}

// EasySetup atomically replaces the sources, servers, and routers of an
// experiment with a fresh fleet: one ECC server and router pair per CoBo,
// plus an optional MuTAnT pair. Either everything is replaced or nothing is.
func (s *StateStore) EasySetup(expID uint64, coboCount int, coboBaseAddr, routerBaseAddr string, withMutant bool, mutantAddr string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	expRaw, err := firstByUint(txn, TableExperiments, indexID, expID)
	if err != nil {
		return err
	}
	if expRaw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()

	// Drop the old fleet. Orphaned sources are removed outright: the easy
	// setup owns the whole topology.
	if err := s.deleteExperimentEntitiesTxn(txn, index, expID); err != nil {
		return err
	}
	srcIter, err := txn.Get(TableDataSources, indexID)
	if err != nil {
		return fmt.Errorf("data source listing failed: %v", err)
	}
	var oldSources []*structs.DataSource
	for raw := srcIter.Next(); raw != nil; raw = srcIter.Next() {
		oldSources = append(oldSources, raw.(*structs.DataSource))
	}
	for _, src := range oldSources {
		if err := txn.Delete(TableDataSources, src); err != nil {
			return fmt.Errorf("data source cascade failed: %v", err)
		}
	}

	type pair struct {
		sourceName string
		eccAddr    string
		routerAddr string
		routerType string
	}
	var pairs []pair
	for i := 0; i < coboCount; i++ {
		pairs = append(pairs, pair{
			sourceName: fmt.Sprintf("CoBo[%d]", i),
			eccAddr:    fmt.Sprintf("%s%d", coboBaseAddr, i),
			routerAddr: fmt.Sprintf("%s%d", routerBaseAddr, i),
			routerType: structs.RouterTypeTCP,
		})
	}
	if withMutant {
		pairs = append(pairs, pair{
			sourceName: "Mutant[master]",
			eccAddr:    mutantAddr,
			routerAddr: mutantAddr,
			routerType: structs.RouterTypeFDT,
		})
	}

	for _, p := range pairs {
		ecc := &structs.ECCServer{
			ID:           s.assignID(0),
			Name:         "ECC for " + p.sourceName,
			Addr:         p.eccAddr,
			Port:         structs.DefaultEccPort,
			State:        structs.StateIdle,
			ExperimentID: expID,
			CreateIndex:  index,
			ModifyIndex:  index,
		}
		router := &structs.DataRouter{
			ID:           s.assignID(0),
			Name:         "Router for " + p.sourceName,
			Addr:         p.routerAddr,
			Port:         structs.DefaultDataRouterPort,
			Type:         p.routerType,
			ExperimentID: expID,
			CreateIndex:  index,
			ModifyIndex:  index,
		}
		src := &structs.DataSource{
			ID:           s.assignID(0),
			Name:         p.sourceName,
			EccServerID:  ecc.ID,
			DataRouterID: router.ID,
			CreateIndex:  index,
			ModifyIndex:  index,
		}
		if err := txn.Insert(TableECCServers, ecc); err != nil {
			return fmt.Errorf("ECC server insert failed: %v", err)
		}
		if err := txn.Insert(TableDataRouters, router); err != nil {
			return fmt.Errorf("data router insert failed: %v", err)
		}
		if err := txn.Insert(TableDataSources, src); err != nil {
			return fmt.Errorf("data source insert failed: %v", err)
		}
	}

	for _, table := range []string{TableECCServers, TableDataRouters, TableDataSources} {
		if err := bumpIndex(txn, table, index); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}
