// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package agent assembles the long-running daqctl process: the state store,
// the ECC manager, the task dispatcher, and the periodic poller.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/attpc/daqctl/daq/dispatch"
	"github.com/attpc/daqctl/daq/ecc"
	"github.com/attpc/daqctl/daq/fleet"
	"github.com/attpc/daqctl/daq/poller"
	"github.com/attpc/daqctl/daq/remote"
	"github.com/attpc/daqctl/daq/state"
	"github.com/attpc/daqctl/daq/structs"
	"github.com/attpc/daqctl/daq/tasks"
)

// Agent owns the component graph. Build with NewAgent, start with Start,
// and tear down with Shutdown.
type Agent struct {
	logger hclog.Logger
	config *Config

	store      *state.StateStore
	manager    *ecc.Manager
	dispatcher *dispatch.Dispatcher
	poller     *poller.Poller
	fleet      *fleet.Controller

	cancel   context.CancelFunc
	pollerWg sync.WaitGroup

	shutdown     bool
	shutdownLock sync.Mutex
}

// NewAgent wires the components together but starts nothing.
func NewAgent(config *Config, logger hclog.Logger) (*Agent, error) {
	store, err := state.NewStateStore(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build state store: %w", err)
	}

	manager := ecc.NewManager(logger, store, ecc.NewSOAPClient)
	dispatcher := dispatch.NewDispatcher(logger, config.Workers, config.QueueDepth)

	workerFactory := func(host string) (tasks.RemoteWorker, error) {
		return remote.NewWorkerInterface(logger, host)
	}
	if err := tasks.Register(dispatcher, logger, store, manager, workerFactory); err != nil {
		return nil, err
	}

	pol, err := poller.NewPoller(logger, dispatcher, config.RefreshSchedule, config.CheckSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid poll schedule: %w", err)
	}

	a := &Agent{
		logger:     logger,
		config:     config,
		store:      store,
		manager:    manager,
		dispatcher: dispatcher,
		poller:     pol,
		fleet:      fleet.NewController(logger, store, dispatcher),
	}

	if err := a.ensureExperiment(); err != nil {
		return nil, err
	}
	return a, nil
}

// ensureExperiment creates the configured experiment on first start so the
// run bookkeeping has something to hang off.
func (a *Agent) ensureExperiment() error {
	if a.config.Experiment == "" {
		return nil
	}
	exp, err := a.store.ExperimentByName(nil, a.config.Experiment)
	if err != nil {
		return err
	}
	if exp != nil {
		return nil
	}
	a.logger.Info("creating experiment", "experiment", a.config.Experiment)
	return a.store.UpsertExperiment(&structs.Experiment{
		Name:              a.config.Experiment,
		TargetRunDuration: structs.DefaultTargetRunDuration,
	})
}

// Start launches the worker pool and the poll loop.
func (a *Agent) Start() {
	a.dispatcher.Start()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.pollerWg.Add(1)
	go func() {
		defer a.pollerWg.Done()
		a.poller.Run(ctx)
	}()
}

// Fleet exposes the fleet controller for command handlers.
func (a *Agent) Fleet() *fleet.Controller { return a.fleet }

// Store exposes the state store for command handlers.
func (a *Agent) Store() *state.StateStore { return a.store }

// Shutdown stops the poll loop and drains the worker pool. Idempotent.
func (a *Agent) Shutdown() {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return
	}
	a.shutdown = true

	a.logger.Info("requesting shutdown")
	if a.cancel != nil {
		a.cancel()
		a.pollerWg.Wait()
	}
	a.dispatcher.Shutdown()
	a.logger.Info("shutdown complete")
}
