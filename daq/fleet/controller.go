// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package fleet coordinates state changes across every ECC server of an
// experiment and keeps the run bookkeeping in step with them.
package fleet

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/attpc/daqctl/daq/dispatch"
	"github.com/attpc/daqctl/daq/state"
	"github.com/attpc/daqctl/daq/structs"
	"github.com/attpc/daqctl/daq/tasks"
)

// Controller fans fleet-wide requests out to per-server tasks. It never
// talks to a remote system itself; all remote work goes through the
// dispatcher.
type Controller struct {
	logger     hclog.Logger
	store      *state.StateStore
	disp       *dispatch.Dispatcher
	timeSource func() time.Time
}

func NewController(logger hclog.Logger, store *state.StateStore, disp *dispatch.Dispatcher) *Controller {
	return &Controller{
		logger:     logger.Named("fleet"),
		store:      store,
		disp:       disp,
		timeSource: time.Now,
	}
}

// OverallState reduces the fleet to one state. consistent is false when the
// servers disagree; the returned state is then the first server's, useful
// only for display.
func OverallState(servers []*structs.ECCServer) (overall structs.EccState, consistent bool) {
	if len(servers) == 0 {
		return structs.StateIdle, true
	}
	overall = servers[0].State
	for _, s := range servers[1:] {
		if s.State != overall {
			return overall, false
		}
	}
	return overall, true
}

// ChangeStateAll asks every ECC server to step toward target and performs
// the run bookkeeping tied to the transition. Individual server failures
// surface later through the refresh cycle; only precondition violations
// fail the whole request.
func (c *Controller) ChangeStateAll(expID uint64, target structs.EccState) error {
	servers, err := c.store.ECCServerList(nil)
	if err != nil {
		return err
	}

	overall, consistent := OverallState(servers)

	// The reset pseudo-target backs the whole fleet off one step. With the
	// fleet split across states there is no one step to take.
	if target == structs.StateReset {
		if !consistent {
			return structs.ErrInconsistentFleet
		}
		target = overall - 1
		if target < structs.StateIdle {
			target = structs.StateIdle
		}
	}

	if target == structs.StateRunning {
		if err := c.routersReady(); err != nil {
			return err
		}
	}

	running, err := c.store.IsRunning(expID)
	if err != nil {
		return err
	}

	for _, s := range servers {
		if err := c.store.SetECCServerTransitioning(s.ID, true); err != nil {
			return err
		}
		err := c.disp.Submit(tasks.TaskChangeState, dispatch.Payload{ID: s.ID, Target: target})
		if err != nil {
			// The server stays flagged; the next refresh clears it.
			c.logger.Error("failed to submit state change", "ecc_server", s.Name, "error", err)
		}
	}

	if target == structs.StateRunning && !running {
		return c.startRun(expID, servers)
	}
	// Any step down to READY closes an open run, even when the fleet never
	// uniformly reached RUNNING; otherwise a partial transition would leave
	// the run open forever.
	if target == structs.StateReady && running {
		return c.stopRun(expID)
	}
	return nil
}

// routersReady rejects a run start while any data router still has files
// from the previous run in its staging directory.
func (c *Controller) routersReady() error {
	routers, err := c.store.DataRouterList(nil)
	if err != nil {
		return err
	}
	for _, r := range routers {
		if !r.StagingDirectoryIsClean {
			c.logger.Warn("data router staging directory not clean", "data_router", r.Name)
			return structs.ErrRoutersNotReady
		}
	}
	return nil
}

// startRun opens run metadata, recording the config the fleet is running
// with so the run remains attributable after configs change.
func (c *Controller) startRun(expID uint64, servers []*structs.ECCServer) error {
	configName := ""
	for _, s := range servers {
		if s.SelectedConfigID == 0 {
			continue
		}
		cfg, err := c.store.ConfigIDByID(nil, s.SelectedConfigID)
		if err != nil {
			return err
		}
		if cfg != nil {
			configName = cfg.String()
			break
		}
	}

	run, err := c.store.StartRun(expID, c.timeSource(), configName)
	if err != nil {
		return err
	}
	c.logger.Info("run started", "run", run.RunNumber, "config", configName)
	return nil
}

// stopRun closes the open run and fans out file organization to every data
// router so the .graw files land in per-run directories.
func (c *Controller) stopRun(expID uint64) error {
	exp, err := c.store.ExperimentByID(nil, expID)
	if err != nil {
		return err
	}
	if exp == nil {
		return structs.ErrMissingEntity
	}

	run, err := c.store.StopRun(expID, c.timeSource())
	if err != nil {
		return err
	}
	c.logger.Info("run stopped", "run", run.RunNumber, "duration", run.DurationString(c.timeSource()))

	routers, err := c.store.DataRouterList(nil)
	if err != nil {
		return err
	}
	for _, r := range routers {
		err := c.disp.Submit(tasks.TaskOrganizeFiles, dispatch.Payload{
			ID:         r.ID,
			Experiment: exp.Name,
			RunNumber:  run.RunNumber,
		})
		if err != nil {
			c.logger.Error("failed to submit file organization", "data_router", r.Name, "error", err)
		}
	}

	// Snapshot the config files the run was taken with.
	servers, err := c.store.ECCServerList(nil)
	if err != nil {
		return err
	}
	for _, s := range servers {
		err := c.disp.Submit(tasks.TaskBackupConfig, dispatch.Payload{
			ID:         s.ID,
			Experiment: exp.Name,
			RunNumber:  run.RunNumber,
		})
		if err != nil {
			c.logger.Error("failed to submit config backup", "ecc_server", s.Name, "error", err)
		}
	}
	return nil
}
