// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTransitionNeeded is returned when the requested target state
	// equals the current state.
	ErrNoTransitionNeeded = errors.New("no transition needed")

	// ErrNonAdjacentStates is returned when the requested transition would
	// skip over an intermediate state.
	ErrNonAdjacentStates = errors.New("can only transition one step at a time")

	// ErrNoSelectedConfig blocks a state change on a server with no config
	// set chosen.
	ErrNoSelectedConfig = errors.New("ECC server has no config associated with it")

	// ErrNoDataRouter blocks a state change when a data source of the
	// server has no router to sink its stream.
	ErrNoDataRouter = errors.New("data source has no data router associated with it")

	// ErrAlreadyRunning is returned by StartRun while a run is open.
	ErrAlreadyRunning = errors.New("stop the current run before starting a new one")

	// ErrNotRunning is returned by StopRun with no run open.
	ErrNotRunning = errors.New("no run is in progress")

	// ErrInconsistentFleet rejects a fleet-wide reset while the servers
	// disagree on their state.
	ErrInconsistentFleet = errors.New("cannot reset while overall state is inconsistent")

	// ErrRoutersNotReady rejects a run start while any data router still
	// has .graw files in its staging directory.
	ErrRoutersNotReady = errors.New("data routers are not ready")

	// ErrMissingEntity is returned on a primary-key lookup miss.
	ErrMissingEntity = errors.New("entity not found")

	// ErrRouterNotRunning is returned when lsof finds no dataRouter
	// process on the remote host.
	ErrRouterNotRunning = errors.New("dataRouter process is not running")
)

// RemoteError carries the ErrorMessage of an ECC reply with a non-zero
// ErrorCode. The remote message is shown to the operator verbatim.
type RemoteError struct {
	Op      string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ecc %s failed (code %d): %s", e.Op, e.Code, e.Message)
}

// IsRemoteError reports whether err wraps a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// MalformedXMLError reports a payload that could not be parsed as the
// expected document.
type MalformedXMLError struct {
	Want string
	Err  error
}

func (e *MalformedXMLError) Error() string {
	return fmt.Sprintf("malformed %s document: %v", e.Want, e.Err)
}

func (e *MalformedXMLError) Unwrap() error { return e.Err }

// UnknownConfigTypeError reports a SubConfigId element whose type attribute
// is not describe, prepare, or configure.
type UnknownConfigTypeError struct {
	Type string
}

func (e *UnknownConfigTypeError) Error() string {
	return fmt.Sprintf("unknown or missing config type: %q", e.Type)
}

// WrongProcessError reports that lsof matched a process other than
// dataRouter when locating the staging directory.
type WrongProcessError struct {
	Command string
}

func (e *WrongProcessError) Error() string {
	return fmt.Sprintf("lsof didn't find dataRouter; process name found was %q", e.Command)
}
