// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ecc

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/attpc/daqctl/ci"
	"github.com/attpc/daqctl/daq/structs"
)

func TestComputeTransition_AdjacentPairs(t *testing.T) {
	ci.Parallel(t)

	expected := map[statePair]TransitionOp{
		{structs.StateIdle, structs.StateDescribed}:     OpDescribe,
		{structs.StateDescribed, structs.StateIdle}:     OpUndo,
		{structs.StateDescribed, structs.StatePrepared}: OpPrepare,
		{structs.StatePrepared, structs.StateDescribed}: OpUndo,
		{structs.StatePrepared, structs.StateReady}:     OpConfigure,
		{structs.StateReady, structs.StatePrepared}:     OpBreakup,
		{structs.StateReady, structs.StateRunning}:      OpStart,
		{structs.StateRunning, structs.StateReady}:      OpStop,
	}

	// Exhaustive over every (from, to) pair: adjacent pairs map to exactly
	// one operation, everything else fails with a specific error.
	for _, from := range structs.EccStates {
		for _, to := range structs.EccStates {
			op, err := ComputeTransition(from, to)

			switch {
			case from == to:
				must.ErrorIs(t, err, structs.ErrNoTransitionNeeded)
			case from-to == 1 || to-from == 1:
				must.NoError(t, err)
				must.Eq(t, expected[statePair{from, to}], op)
			default:
				must.ErrorIs(t, err, structs.ErrNonAdjacentStates)
			}
		}
	}
}

func TestComputeTransition_ResetNotResolvedHere(t *testing.T) {
	ci.Parallel(t)

	// The reset pseudo-target is resolved by the fleet controller; raw
	// reset requests reaching this level are non-adjacent.
	_, err := ComputeTransition(structs.StateReady, structs.StateReset)
	must.ErrorIs(t, err, structs.ErrNonAdjacentStates)
}
