// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package tasks defines the background task catalog: the per-entity
// operations and the fleet-wide sweeps that fan out to them. Tasks receive
// entity primary keys and re-read the entity inside the task, so a stale
// submission can never act on stale field values.
package tasks

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/attpc/daqctl/daq/dispatch"
	"github.com/attpc/daqctl/daq/ecc"
	"github.com/attpc/daqctl/daq/state"
	"github.com/attpc/daqctl/daq/structs"
)

// Task names. Submitters reference tasks by these.
const (
	TaskRefreshState   = "eccserver_refresh_state"
	TaskRefreshAll     = "eccserver_refresh_all"
	TaskChangeState    = "eccserver_change_state"
	TaskCheckEcc       = "check_ecc_server_online"
	TaskCheckEccAll    = "check_ecc_server_online_all"
	TaskCheckRouter    = "check_data_router_status"
	TaskCheckRouterAll = "check_data_router_status_all"
	TaskOrganizeFiles  = "organize_files"
	TaskOrganizeAll    = "organize_files_all"
	TaskBackupConfig   = "backup_config_files"
)

// RemoteWorker is the slice of the SSH worker interface the tasks need.
type RemoteWorker interface {
	CheckEccServerStatus() (bool, error)
	CheckDataRouterStatus() (bool, error)
	WorkingDirIsClean() (bool, error)
	OrganizeFiles(experimentName string, runNumber int) error
	BackupConfigFiles(experimentName string, runNumber int, paths []string, destRoot string) error
	Close() error
}

// WorkerFactory opens a RemoteWorker for a host. Production wires
// remote.NewWorkerInterface; tests inject fakes.
type WorkerFactory func(host string) (RemoteWorker, error)

// Tasks holds the collaborators the task bodies close over.
type Tasks struct {
	logger    hclog.Logger
	store     *state.StateStore
	manager   *ecc.Manager
	newWorker WorkerFactory
}

// Register builds the task catalog and registers every task with the
// dispatcher. Call once before the dispatcher starts.
func Register(d *dispatch.Dispatcher, logger hclog.Logger, store *state.StateStore, manager *ecc.Manager, newWorker WorkerFactory) error {
	t := &Tasks{
		logger:    logger.Named("tasks"),
		store:     store,
		manager:   manager,
		newWorker: newWorker,
	}

	specs := []*dispatch.TaskSpec{
		{Name: TaskRefreshState, SoftLimit: 5 * time.Second, HardLimit: 10 * time.Second, Fn: t.refreshState},
		{Name: TaskRefreshAll, SoftLimit: 8 * time.Second, HardLimit: 10 * time.Second, Singleton: true, Fn: t.refreshAll},
		{Name: TaskChangeState, SoftLimit: 45 * time.Second, HardLimit: 60 * time.Second, Fn: t.changeState},
		{Name: TaskCheckEcc, SoftLimit: 10 * time.Second, HardLimit: 40 * time.Second, Fn: t.checkEccServer},
		{Name: TaskCheckEccAll, SoftLimit: 60 * time.Second, HardLimit: 80 * time.Second, Singleton: true, Fn: t.checkEccServerAll},
		{Name: TaskCheckRouter, SoftLimit: 10 * time.Second, HardLimit: 40 * time.Second, Fn: t.checkDataRouter},
		{Name: TaskCheckRouterAll, SoftLimit: 60 * time.Second, HardLimit: 80 * time.Second, Singleton: true, Fn: t.checkDataRouterAll},
		{Name: TaskOrganizeFiles, SoftLimit: 30 * time.Second, HardLimit: 40 * time.Second, Fn: t.organizeFiles},
		{Name: TaskOrganizeAll, SoftLimit: 30 * time.Second, HardLimit: 40 * time.Second, Singleton: true, Fn: t.organizeFilesAll},
		{Name: TaskBackupConfig, SoftLimit: 30 * time.Second, HardLimit: 40 * time.Second, Fn: t.backupConfig},
	}
	for _, spec := range specs {
		if err := d.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// dismissMissing swallows lookup misses. An entity deleted between
// submission and execution is routine, not a task failure.
func (t *Tasks) dismissMissing(task string, id uint64, err error) error {
	if err == structs.ErrMissingEntity {
		t.logger.Error("entity no longer exists, dropping task", "task", task, "id", id)
		return nil
	}
	return err
}

func (t *Tasks) refreshState(ctx context.Context, _ *dispatch.Dispatcher, p dispatch.Payload) error {
	if err := t.manager.RefreshState(ctx, p.ID); err != nil {
		return t.dismissMissing(TaskRefreshState, p.ID, err)
	}

	// First contact with a server also pulls its config list so the
	// operator has something to select.
	configs, err := t.store.ConfigIDsByECCServer(nil, p.ID)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return t.manager.RefreshConfigs(ctx, p.ID)
	}
	return nil
}

func (t *Tasks) refreshAll(_ context.Context, d *dispatch.Dispatcher, _ dispatch.Payload) error {
	servers, err := t.store.ECCServerList(nil)
	if err != nil {
		return err
	}
	var mErr multierror.Error
	for _, s := range servers {
		if err := d.Submit(TaskRefreshState, dispatch.Payload{ID: s.ID}); err != nil {
			mErr.Errors = append(mErr.Errors, err)
		}
	}
	return mErr.ErrorOrNil()
}

func (t *Tasks) changeState(ctx context.Context, _ *dispatch.Dispatcher, p dispatch.Payload) error {
	if err := t.manager.ChangeState(ctx, p.ID, p.Target); err != nil {
		return t.dismissMissing(TaskChangeState, p.ID, err)
	}
	return nil
}

func (t *Tasks) checkEccServer(_ context.Context, _ *dispatch.Dispatcher, p dispatch.Payload) error {
	eccServer, err := t.store.ECCServerByID(nil, p.ID)
	if err != nil {
		return err
	}
	if eccServer == nil {
		return t.dismissMissing(TaskCheckEcc, p.ID, structs.ErrMissingEntity)
	}

	worker, err := t.newWorker(eccServer.Addr)
	if err != nil {
		// Unreachable host means the server is not online.
		t.logger.Warn("could not reach ECC server host", "host", eccServer.Addr, "error", err)
		return t.store.SetECCServerOnline(p.ID, false)
	}
	defer worker.Close()

	online, err := worker.CheckEccServerStatus()
	if err != nil {
		return err
	}
	return t.store.SetECCServerOnline(p.ID, online)
}

func (t *Tasks) checkEccServerAll(_ context.Context, d *dispatch.Dispatcher, _ dispatch.Payload) error {
	servers, err := t.store.ECCServerList(nil)
	if err != nil {
		return err
	}
	var mErr multierror.Error
	for _, s := range servers {
		if err := d.Submit(TaskCheckEcc, dispatch.Payload{ID: s.ID}); err != nil {
			mErr.Errors = append(mErr.Errors, err)
		}
	}
	return mErr.ErrorOrNil()
}

func (t *Tasks) checkDataRouter(_ context.Context, _ *dispatch.Dispatcher, p dispatch.Payload) error {
	router, err := t.store.DataRouterByID(nil, p.ID)
	if err != nil {
		return err
	}
	if router == nil {
		return t.dismissMissing(TaskCheckRouter, p.ID, structs.ErrMissingEntity)
	}

	worker, err := t.newWorker(router.Addr)
	if err != nil {
		t.logger.Warn("could not reach data router host", "host", router.Addr, "error", err)
		return t.store.SetDataRouterStatus(p.ID, false, false)
	}
	defer worker.Close()

	online, err := worker.CheckDataRouterStatus()
	if err != nil {
		return err
	}

	clean := false
	if online {
		clean, err = worker.WorkingDirIsClean()
		if err != nil {
			return err
		}
	}
	return t.store.SetDataRouterStatus(p.ID, online, clean)
}

func (t *Tasks) checkDataRouterAll(_ context.Context, d *dispatch.Dispatcher, _ dispatch.Payload) error {
	routers, err := t.store.DataRouterList(nil)
	if err != nil {
		return err
	}
	var mErr multierror.Error
	for _, r := range routers {
		if err := d.Submit(TaskCheckRouter, dispatch.Payload{ID: r.ID}); err != nil {
			mErr.Errors = append(mErr.Errors, err)
		}
	}
	return mErr.ErrorOrNil()
}

func (t *Tasks) organizeFiles(_ context.Context, _ *dispatch.Dispatcher, p dispatch.Payload) error {
	router, err := t.store.DataRouterByID(nil, p.ID)
	if err != nil {
		return err
	}
	if router == nil {
		return t.dismissMissing(TaskOrganizeFiles, p.ID, structs.ErrMissingEntity)
	}

	worker, err := t.newWorker(router.Addr)
	if err != nil {
		return err
	}
	defer worker.Close()

	if err := worker.OrganizeFiles(p.Experiment, p.RunNumber); err != nil {
		return err
	}
	return t.store.SetDataRouterStatus(p.ID, router.IsOnline, true)
}

// backupConfig snapshots the config files the run was taken with into the
// run directory on the ECC server's host. Servers without backup paths or a
// selected config are skipped.
func (t *Tasks) backupConfig(_ context.Context, _ *dispatch.Dispatcher, p dispatch.Payload) error {
	eccServer, err := t.store.ECCServerByID(nil, p.ID)
	if err != nil {
		return err
	}
	if eccServer == nil {
		return t.dismissMissing(TaskBackupConfig, p.ID, structs.ErrMissingEntity)
	}
	if eccServer.ConfigRoot == "" || eccServer.ConfigBackupRoot == "" || eccServer.SelectedConfigID == 0 {
		t.logger.Debug("config backup not configured, skipping", "ecc_server", eccServer.Name)
		return nil
	}

	cfg, err := t.store.ConfigIDByID(nil, eccServer.SelectedConfigID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}

	worker, err := t.newWorker(eccServer.Addr)
	if err != nil {
		return err
	}
	defer worker.Close()

	return worker.BackupConfigFiles(p.Experiment, p.RunNumber,
		cfg.FilePaths(eccServer.ConfigRoot), eccServer.ConfigBackupRoot)
}

func (t *Tasks) organizeFilesAll(_ context.Context, d *dispatch.Dispatcher, p dispatch.Payload) error {
	routers, err := t.store.DataRouterList(nil)
	if err != nil {
		return err
	}
	var mErr multierror.Error
	for _, r := range routers {
		err := d.Submit(TaskOrganizeFiles, dispatch.Payload{
			ID:         r.ID,
			Experiment: p.Experiment,
			RunNumber:  p.RunNumber,
		})
		if err != nil {
			mErr.Errors = append(mErr.Errors, err)
		}
	}
	return mErr.ErrorOrNil()
}
