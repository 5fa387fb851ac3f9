// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"testing"
	"time"

	"github.com/attpc/daqctl/ci"
	"github.com/shoenig/test/must"
)

func TestEccState_Names(t *testing.T) {
	ci.Parallel(t)

	must.Eq(t, "Idle", StateIdle.String())
	must.Eq(t, "Described", StateDescribed.String())
	must.Eq(t, "Prepared", StatePrepared.String())
	must.Eq(t, "Ready", StateReady.String())
	must.Eq(t, "Running", StateRunning.String())
	must.Eq(t, "EccState(-1)", StateReset.String())
}

func TestEccState_Valid(t *testing.T) {
	ci.Parallel(t)

	for _, s := range EccStates {
		must.True(t, s.Valid())
	}
	must.False(t, StateReset.Valid())
	must.False(t, EccState(0).Valid())
	must.False(t, EccState(6).Valid())
}

func TestDataSource_LegacyRouterName(t *testing.T) {
	ci.Parallel(t)

	src := &DataSource{Name: "CoBo[3]"}
	must.Eq(t, "CoBo[3]_dataRouter", src.LegacyRouterName())
}

func TestRunMetadata_Duration(t *testing.T) {
	ci.Parallel(t)

	start := time.Date(2017, 2, 27, 15, 14, 0, 0, time.UTC)
	run := &RunMetadata{RunNumber: 4, StartTime: start}

	// Still running, measured against now.
	now := start.Add(90 * time.Minute)
	must.Eq(t, 90*time.Minute, run.Duration(now))
	must.Eq(t, "01:30:00", run.DurationString(now))

	// Stopped, measured against the stop time regardless of now.
	stop := start.Add(2*time.Hour + 5*time.Minute + 9*time.Second)
	run.StopTime = &stop
	must.Eq(t, 2*time.Hour+5*time.Minute+9*time.Second, run.Duration(now))
	must.Eq(t, "02:05:09", run.DurationString(now))
}

func TestRunMetadata_Copy(t *testing.T) {
	ci.Parallel(t)

	stop := time.Now()
	run := &RunMetadata{RunNumber: 7, StopTime: &stop}
	dup := run.Copy()

	must.Eq(t, run.RunNumber, dup.RunNumber)
	must.NotNil(t, dup.StopTime)

	// The copy must not share the stop pointer.
	later := stop.Add(time.Hour)
	*dup.StopTime = later
	must.Eq(t, stop, *run.StopTime)
}

func TestValidRouterType(t *testing.T) {
	ci.Parallel(t)

	for _, rt := range RouterTypes {
		must.True(t, ValidRouterType(rt))
	}
	must.False(t, ValidRouterType("UDP"))
	must.False(t, ValidRouterType(""))
}
