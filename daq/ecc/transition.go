// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package ecc drives the remote ECC servers through their five-state
// configuration machine over SOAP and reconciles the results into the state
// store.
//
// The machine is linear:
//
//	IDLE <-> DESCRIBED <-> PREPARED <-> READY <-> RUNNING
//
// Forward steps are Describe, Prepare, Configure, and Start. Backward steps
// are Undo, Undo, Breakup, and Stop. Every transition moves exactly one
// step.
package ecc

import (
	"github.com/attpc/daqctl/daq/structs"
)

// TransitionOp names one of the SOAP transition operations.
type TransitionOp string

const (
	OpDescribe  TransitionOp = "Describe"
	OpPrepare   TransitionOp = "Prepare"
	OpConfigure TransitionOp = "Configure"
	OpStart     TransitionOp = "Start"
	OpUndo      TransitionOp = "Undo"
	OpBreakup   TransitionOp = "Breakup"
	OpStop      TransitionOp = "Stop"
)

type statePair struct {
	from, to structs.EccState
}

var transitions = map[statePair]TransitionOp{
	{structs.StateIdle, structs.StateDescribed}: OpDescribe,
	{structs.StateDescribed, structs.StateIdle}: OpUndo,

	{structs.StateDescribed, structs.StatePrepared}: OpPrepare,
	{structs.StatePrepared, structs.StateDescribed}: OpUndo,

	{structs.StatePrepared, structs.StateReady}: OpConfigure,
	{structs.StateReady, structs.StatePrepared}: OpBreakup,

	{structs.StateReady, structs.StateRunning}: OpStart,
	{structs.StateRunning, structs.StateReady}: OpStop,
}

// ComputeTransition returns the single SOAP operation that moves an ECC
// server from current to target. The fleet controller resolves the reset
// pseudo-target before calling this.
func ComputeTransition(current, target structs.EccState) (TransitionOp, error) {
	if current == target {
		return "", structs.ErrNoTransitionNeeded
	}
	op, ok := transitions[statePair{current, target}]
	if !ok {
		return "", structs.ErrNonAdjacentStates
	}
	return op, nil
}
