// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"
	"sort"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/attpc/daqctl/daq/structs"
)

// UpsertObservable inserts or replaces an observable definition.
func (s *StateStore) UpsertObservable(obs *structs.Observable) error {
	if !structs.ValidObservableType(obs.ValueType) {
		return fmt.Errorf("invalid observable value type %q", obs.ValueType)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	index := s.writeIndex()
	obs = obs.Copy()
	obs.ID = s.assignID(obs.ID)

	existingRaw, err := firstByUint(txn, TableObservables, indexID, obs.ID)
	if err != nil {
		return err
	}
	if existingRaw != nil {
		obs.CreateIndex = existingRaw.(*structs.Observable).CreateIndex
	} else {
		obs.CreateIndex = index
	}
	obs.ModifyIndex = index

	if err := txn.Insert(TableObservables, obs); err != nil {
		return fmt.Errorf("observable insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableObservables, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// ObservableByID looks up an observable by primary key.
func (s *StateStore) ObservableByID(ws memdb.WatchSet, id uint64) (*structs.Observable, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableObservables, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("observable lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Observable), nil
}

// ObservablesByExperiment lists the observables of an experiment in display
// order.
func (s *StateStore) ObservablesByExperiment(ws memdb.WatchSet, expID uint64) ([]*structs.Observable, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableObservables, indexExperiment, expID)
	if err != nil {
		return nil, fmt.Errorf("observable listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.Observable
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Observable))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// DeleteObservable removes an observable and its measurements.
func (s *StateStore) DeleteObservable(id uint64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := firstByUint(txn, TableObservables, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()

	iter, err := txn.Get(TableMeasurement, indexObservable, id)
	if err != nil {
		return fmt.Errorf("measurement listing failed: %v", err)
	}
	var doomed []*structs.Measurement
	for rawM := iter.Next(); rawM != nil; rawM = iter.Next() {
		doomed = append(doomed, rawM.(*structs.Measurement))
	}
	for _, m := range doomed {
		if err := txn.Delete(TableMeasurement, m); err != nil {
			return fmt.Errorf("measurement cascade failed: %v", err)
		}
	}

	if err := txn.Delete(TableObservables, raw); err != nil {
		return fmt.Errorf("observable delete failed: %v", err)
	}
	if err := bumpIndex(txn, TableObservables, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// SetMeasurement records the value of an observable on a run, replacing any
// prior value for the same pair.
func (s *StateStore) SetMeasurement(obsID, runID uint64, value string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	obsRaw, err := firstByUint(txn, TableObservables, indexID, obsID)
	if err != nil {
		return err
	}
	runRaw, err := firstByUint(txn, TableRuns, indexID, runID)
	if err != nil {
		return err
	}
	if obsRaw == nil || runRaw == nil {
		return structs.ErrMissingEntity
	}

	index := s.writeIndex()
	m := &structs.Measurement{
		ObservableID: obsID,
		RunID:        runID,
		Value:        value,
		ModifyIndex:  index,
	}

	priorRaw, err := txn.First(TableMeasurement, indexObsRun, obsID, runID)
	if err != nil {
		return fmt.Errorf("measurement lookup failed: %v", err)
	}
	if priorRaw != nil {
		prior := priorRaw.(*structs.Measurement)
		m.ID = prior.ID
		m.CreateIndex = prior.CreateIndex
	} else {
		m.ID = s.assignID(0)
		m.CreateIndex = index
	}

	if err := txn.Insert(TableMeasurement, m); err != nil {
		return fmt.Errorf("measurement insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableMeasurement, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// MeasurementFor returns the value of one observable on one run, or nil.
func (s *StateStore) MeasurementFor(ws memdb.WatchSet, obsID, runID uint64) (*structs.Measurement, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, raw, err := txn.FirstWatch(TableMeasurement, indexObsRun, obsID, runID)
	if err != nil {
		return nil, fmt.Errorf("measurement lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Measurement), nil
}

// MeasurementsByRun lists every measurement recorded on a run.
func (s *StateStore) MeasurementsByRun(ws memdb.WatchSet, runID uint64) ([]*structs.Measurement, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableMeasurement, indexRun, runID)
	if err != nil {
		return nil, fmt.Errorf("measurement listing failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.Measurement
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Measurement))
	}
	return out, nil
}
