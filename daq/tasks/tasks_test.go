// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"

	"github.com/attpc/daqctl/ci"
	"github.com/attpc/daqctl/daq/dispatch"
	"github.com/attpc/daqctl/daq/ecc"
	"github.com/attpc/daqctl/daq/mock"
	"github.com/attpc/daqctl/daq/state"
	"github.com/attpc/daqctl/daq/structs"
	"github.com/attpc/daqctl/helper/testlog"
)

// stubClient answers every ECC call with canned replies.
type stubClient struct {
	stateReply  *ecc.Reply
	configReply *ecc.Reply
}

func (c *stubClient) GetState(context.Context) (*ecc.Reply, error) {
	return c.stateReply, nil
}

func (c *stubClient) GetConfigIDs(context.Context) (*ecc.Reply, error) {
	return c.configReply, nil
}

func (c *stubClient) Transition(context.Context, ecc.TransitionOp, string, string) (*ecc.Reply, error) {
	return &ecc.Reply{}, nil
}

// stubWorker is an in-memory RemoteWorker tracking which hosts were asked.
type stubWorker struct {
	eccUp     bool
	routerUp  bool
	clean     bool
	mu        sync.Mutex
	organized []string
	backups   []string
}

func (w *stubWorker) CheckEccServerStatus() (bool, error)  { return w.eccUp, nil }
func (w *stubWorker) CheckDataRouterStatus() (bool, error) { return w.routerUp, nil }
func (w *stubWorker) WorkingDirIsClean() (bool, error)     { return w.clean, nil }
func (w *stubWorker) Close() error                         { return nil }

func (w *stubWorker) OrganizeFiles(experimentName string, runNumber int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.organized = append(w.organized, experimentName)
	return nil
}

func (w *stubWorker) BackupConfigFiles(experimentName string, runNumber int, paths []string, destRoot string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.backups = append(w.backups, paths...)
	return nil
}

type fixture struct {
	store  *state.StateStore
	disp   *dispatch.Dispatcher
	worker *stubWorker

	mu    sync.Mutex
	hosts []string
}

func (f *fixture) factory(host string) (RemoteWorker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = append(f.hosts, host)
	return f.worker, nil
}

func setup(t *testing.T, client ecc.Client) *fixture {
	logger := testlog.HCLogger(t)
	f := &fixture{
		store:  state.TestStateStore(t),
		worker: &stubWorker{},
	}

	manager := ecc.NewManager(logger, f.store, func(string) ecc.Client { return client })
	f.disp = dispatch.NewDispatcher(logger, dispatch.MinWorkers, 0)
	must.NoError(t, Register(f.disp, logger, f.store, manager, f.factory))
	f.disp.Start()
	t.Cleanup(f.disp.Shutdown)
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(cond),
		wait.Timeout(3*time.Second),
		wait.Gap(10*time.Millisecond),
	))
}

func TestTasks_RefreshState(t *testing.T) {
	ci.Parallel(t)

	doc := `<ConfigIdList><ConfigId>` +
		`<SubConfigId type="describe">d</SubConfigId>` +
		`<SubConfigId type="prepare">p</SubConfigId>` +
		`<SubConfigId type="configure">c</SubConfigId>` +
		`</ConfigId></ConfigIdList>`
	f := setup(t, &stubClient{
		stateReply:  &ecc.Reply{State: int(structs.StateDescribed)},
		configReply: &ecc.Reply{Text: doc},
	})

	eccServer := mock.ECCServer()
	must.NoError(t, f.store.UpsertECCServer(eccServer))
	eccServer, _ = f.store.ECCServerByName(nil, eccServer.Name)

	must.NoError(t, f.disp.Submit(TaskRefreshState, dispatch.Payload{ID: eccServer.ID}))

	// The state lands, and the empty config list triggers a fetch.
	waitFor(t, func() bool {
		out, err := f.store.ECCServerByID(nil, eccServer.ID)
		if err != nil || out == nil {
			return false
		}
		configs, err := f.store.ConfigIDsByECCServer(nil, eccServer.ID)
		return err == nil && out.State == structs.StateDescribed && len(configs) == 1
	})
}

func TestTasks_RefreshAll_FansOut(t *testing.T) {
	ci.Parallel(t)

	f := setup(t, &stubClient{stateReply: &ecc.Reply{State: int(structs.StateReady)}, configReply: &ecc.Reply{Text: "<ConfigIdList></ConfigIdList>"}})

	for i := 0; i < 3; i++ {
		must.NoError(t, f.store.UpsertECCServer(mock.ECCServer()))
	}

	must.NoError(t, f.disp.Submit(TaskRefreshAll, dispatch.Payload{}))

	waitFor(t, func() bool {
		servers, err := f.store.ECCServerList(nil)
		if err != nil {
			return false
		}
		for _, s := range servers {
			if s.State != structs.StateReady {
				return false
			}
		}
		return len(servers) == 3
	})
}

func TestTasks_CheckEccServerOnline(t *testing.T) {
	ci.Parallel(t)

	f := setup(t, &stubClient{})
	f.worker.eccUp = true

	eccServer := mock.ECCServer()
	must.NoError(t, f.store.UpsertECCServer(eccServer))
	eccServer, _ = f.store.ECCServerByName(nil, eccServer.Name)
	must.False(t, eccServer.IsOnline)

	must.NoError(t, f.disp.Submit(TaskCheckEcc, dispatch.Payload{ID: eccServer.ID}))

	waitFor(t, func() bool {
		out, _ := f.store.ECCServerByID(nil, eccServer.ID)
		return out != nil && out.IsOnline
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	must.Eq(t, []string{eccServer.Addr}, f.hosts)
}

func TestTasks_CheckDataRouterStatus(t *testing.T) {
	ci.Parallel(t)

	f := setup(t, &stubClient{})
	f.worker.routerUp = true
	f.worker.clean = true

	router := mock.DataRouter()
	router.IsOnline = false
	router.StagingDirectoryIsClean = false
	must.NoError(t, f.store.UpsertDataRouter(router))
	router, _ = f.store.DataRouterByName(nil, router.Name)

	must.NoError(t, f.disp.Submit(TaskCheckRouter, dispatch.Payload{ID: router.ID}))

	waitFor(t, func() bool {
		out, _ := f.store.DataRouterByID(nil, router.ID)
		return out != nil && out.IsOnline && out.StagingDirectoryIsClean
	})
}

func TestTasks_OrganizeAll_FansOut(t *testing.T) {
	ci.Parallel(t)

	f := setup(t, &stubClient{})

	for i := 0; i < 4; i++ {
		must.NoError(t, f.store.UpsertDataRouter(mock.DataRouter()))
	}

	must.NoError(t, f.disp.Submit(TaskOrganizeAll, dispatch.Payload{Experiment: "e17504", RunNumber: 9}))

	waitFor(t, func() bool {
		f.worker.mu.Lock()
		defer f.worker.mu.Unlock()
		return len(f.worker.organized) == 4
	})

	// Every router was organized and marked clean.
	routers, err := f.store.DataRouterList(nil)
	must.NoError(t, err)
	for _, r := range routers {
		must.True(t, r.StagingDirectoryIsClean)
	}
	f.worker.mu.Lock()
	defer f.worker.mu.Unlock()
	for _, exp := range f.worker.organized {
		must.Eq(t, "e17504", exp)
	}
}

func TestTasks_BackupConfig(t *testing.T) {
	ci.Parallel(t)

	f := setup(t, &stubClient{})

	eccServer := mock.ECCServer()
	eccServer.ConfigRoot = "/configs"
	eccServer.ConfigBackupRoot = "/backup"
	must.NoError(t, f.store.UpsertECCServer(eccServer))
	eccServer, _ = f.store.ECCServerByName(nil, eccServer.Name)

	cfg := &structs.ConfigID{Describe: "d", Prepare: "p", Configure: "c"}
	must.NoError(t, f.store.RefreshConfigIDs(eccServer.ID, []*structs.ConfigID{cfg}, time.Now()))
	configs, err := f.store.ConfigIDsByECCServer(nil, eccServer.ID)
	must.NoError(t, err)
	must.NoError(t, f.store.SelectConfig(eccServer.ID, configs[0].ID))

	must.NoError(t, f.disp.Submit(TaskBackupConfig, dispatch.Payload{
		ID: eccServer.ID, Experiment: "e17504", RunNumber: 3,
	}))

	waitFor(t, func() bool {
		f.worker.mu.Lock()
		defer f.worker.mu.Unlock()
		return len(f.worker.backups) == 3
	})
	f.worker.mu.Lock()
	defer f.worker.mu.Unlock()
	must.SliceContains(t, f.worker.backups, "/configs/describe-d.xcfg")
	must.SliceContains(t, f.worker.backups, "/configs/prepare-p.xcfg")
	must.SliceContains(t, f.worker.backups, "/configs/configure-c.xcfg")
}

func TestTasks_BackupConfig_NotConfigured(t *testing.T) {
	ci.Parallel(t)

	f := setup(t, &stubClient{})

	eccServer := mock.ECCServer()
	must.NoError(t, f.store.UpsertECCServer(eccServer))
	eccServer, _ = f.store.ECCServerByName(nil, eccServer.Name)

	must.NoError(t, f.disp.Submit(TaskBackupConfig, dispatch.Payload{ID: eccServer.ID}))

	time.Sleep(100 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	must.SliceEmpty(t, f.hosts)
}

func TestTasks_MissingEntityIsDismissed(t *testing.T) {
	ci.Parallel(t)

	f := setup(t, &stubClient{})

	must.NoError(t, f.disp.Submit(TaskChangeState, dispatch.Payload{ID: 424242, Target: structs.StateDescribed}))
	must.NoError(t, f.disp.Submit(TaskCheckEcc, dispatch.Payload{ID: 424242}))
	must.NoError(t, f.disp.Submit(TaskOrganizeFiles, dispatch.Payload{ID: 424242}))

	// Nothing to assert from the store; the point is no panic and no
	// worker contact for entities that do not exist.
	time.Sleep(100 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	must.SliceEmpty(t, f.hosts)
}
