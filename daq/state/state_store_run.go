// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/attpc/daqctl/daq/structs"
	"github.com/attpc/daqctl/helper/pointer"
)

// latestRunTxn returns the run with the highest run number in an experiment,
// or nil if the experiment has no runs.
func latestRunTxn(txn *memdb.Txn, expID uint64) (*structs.RunMetadata, error) {
	iter, err := txn.Get(TableRuns, indexExperiment, expID)
	if err != nil {
		return nil, fmt.Errorf("run listing failed: %v", err)
	}
	var latest *structs.RunMetadata
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		run := raw.(*structs.RunMetadata)
		if latest == nil || run.RunNumber > latest.RunNumber {
			latest = run
		}
	}
	return latest, nil
}

// LatestRun returns the current run if one is open, or the most recent
// completed run, or nil if the experiment has never run.
func (s *StateStore) LatestRun(ws memdb.WatchSet, expID uint64) (*structs.RunMetadata, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableRuns, indexExperiment, expID)
	if err != nil {
		return nil, fmt.Errorf("run listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var latest *structs.RunMetadata
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		run := raw.(*structs.RunMetadata)
		if latest == nil || run.RunNumber > latest.RunNumber {
			latest = run
		}
	}
	return latest, nil
}

// NextRunNumber is the number the next run will receive: the latest run
// number plus one, or zero for an experiment that has never run.
func (s *StateStore) NextRunNumber(expID uint64) (int, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	latest, err := latestRunTxn(txn, expID)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}
	return latest.RunNumber + 1, nil
}

// IsRunning reports whether the experiment has an open run.
func (s *StateStore) IsRunning(expID uint64) (bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	latest, err := latestRunTxn(txn, expID)
	if err != nil {
		return false, err
	}
	return latest != nil && latest.StopTime == nil, nil
}

// StartRun opens a new run with the next run number and the given start
// time. configName snapshots the configuration in use so later edits to the
// fleet do not rewrite history. Fails if a run is already open.
func (s *StateStore) StartRun(expID uint64, now time.Time, configName string) (*structs.RunMetadata, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	expRaw, err := firstByUint(txn, TableExperiments, indexID, expID)
	if err != nil {
		return nil, err
	}
	if expRaw == nil {
		return nil, structs.ErrMissingEntity
	}

	latest, err := latestRunTxn(txn, expID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.StopTime == nil {
		return nil, structs.ErrAlreadyRunning
	}

	number := 0
	if latest != nil {
		number = latest.RunNumber + 1
	}

	index := s.writeIndex()
	run := &structs.RunMetadata{
		ID:           s.assignID(0),
		ExperimentID: expID,
		RunNumber:    number,
		StartTime:    now,
		ConfigName:   configName,
		CreateIndex:  index,
		ModifyIndex:  index,
	}

	if err := txn.Insert(TableRuns, run); err != nil {
		return nil, fmt.Errorf("run insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableRuns, index); err != nil {
		return nil, err
	}

	txn.Commit()
	return run, nil
}

// StopRun closes the open run at the given time and returns it. Fails if no
// run is open.
func (s *StateStore) StopRun(expID uint64, now time.Time) (*structs.RunMetadata, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	latest, err := latestRunTxn(txn, expID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.StopTime != nil {
		return nil, structs.ErrNotRunning
	}

	index := s.writeIndex()
	run := latest.Copy()
	run.StopTime = pointer.Of(now)
	run.ModifyIndex = index

	if err := txn.Insert(TableRuns, run); err != nil {
		return nil, fmt.Errorf("run update failed: %v", err)
	}
	if err := bumpIndex(txn, TableRuns, index); err != nil {
		return nil, err
	}

	txn.Commit()
	return run, nil
}

// UpdateRunMetadata replaces the operator-editable annotations of a run.
// Run number, boundaries, and ownership are not editable this way.
func (s *StateStore) UpdateRunMetadata(runID uint64, title, configName, runClass string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := firstByUint(txn, TableRuns, indexID, runID)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()
	run := raw.(*structs.RunMetadata).Copy()
	run.Title = title
	run.ConfigName = configName
	run.RunClass = runClass
	run.ModifyIndex = index

	if err := txn.Insert(TableRuns, run); err != nil {
		return fmt.Errorf("run update failed: %v", err)
	}
	if err := bumpIndex(txn, TableRuns, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// RunByNumber looks up one run of an experiment by run number.
func (s *StateStore) RunByNumber(ws memdb.WatchSet, expID uint64, number int) (*structs.RunMetadata, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableRuns, indexRun, expID, number)
	if err != nil {
		return nil, fmt.Errorf("run lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.RunMetadata), nil
}

// RunsByExperiment lists every run of an experiment.
func (s *StateStore) RunsByExperiment(ws memdb.WatchSet, expID uint64) ([]*structs.RunMetadata, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableRuns, indexExperiment, expID)
	if err != nil {
		return nil, fmt.Errorf("run listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.RunMetadata
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.RunMetadata))
	}
	return out, nil
}
