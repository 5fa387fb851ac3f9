// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ecc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/attpc/daqctl/ci"
	"github.com/attpc/daqctl/daq/mock"
	"github.com/attpc/daqctl/daq/state"
	"github.com/attpc/daqctl/daq/structs"
	"github.com/attpc/daqctl/helper/testlog"
)

type transitionCall struct {
	op        TransitionOp
	configXML string
	linksXML  string
}

// fakeClient returns canned replies and records every transition call.
type fakeClient struct {
	stateReply  *Reply
	configReply *Reply
	transReply  *Reply
	err         error

	urls  []string
	calls []transitionCall
}

func (f *fakeClient) factory(url string) Client {
	f.urls = append(f.urls, url)
	return f
}

func (f *fakeClient) GetState(context.Context) (*Reply, error) {
	return f.stateReply, f.err
}

func (f *fakeClient) GetConfigIDs(context.Context) (*Reply, error) {
	return f.configReply, f.err
}

func (f *fakeClient) Transition(_ context.Context, op TransitionOp, configXML, linksXML string) (*Reply, error) {
	f.calls = append(f.calls, transitionCall{op: op, configXML: configXML, linksXML: linksXML})
	return f.transReply, f.err
}

// testManager wires a manager, a store, and a fake client together.
func testManager(t *testing.T, fake *fakeClient) (*Manager, *state.StateStore) {
	store := state.TestStateStore(t)
	m := NewManager(testlog.HCLogger(t), store, fake.factory)
	return m, store
}

// seedServer stores an idle ECC server with one selected config and one
// data source pointed at the given router.
func seedServer(t *testing.T, store *state.StateStore, router *structs.DataRouter) *structs.ECCServer {
	eccServer := mock.ECCServer()
	must.NoError(t, store.UpsertECCServer(eccServer))
	eccServer, err := store.ECCServerByName(nil, eccServer.Name)
	must.NoError(t, err)

	must.NoError(t, store.UpsertDataRouter(router))
	router, err = store.DataRouterByName(nil, router.Name)
	must.NoError(t, err)

	cfg := &structs.ConfigID{Describe: "d", Prepare: "p", Configure: "c"}
	must.NoError(t, store.RefreshConfigIDs(eccServer.ID, []*structs.ConfigID{cfg}, time.Now()))
	configs, err := store.ConfigIDsByECCServer(nil, eccServer.ID)
	must.NoError(t, err)
	must.Len(t, 1, configs)
	must.NoError(t, store.SelectConfig(eccServer.ID, configs[0].ID))

	src := &structs.DataSource{Name: "CoBo[0]", EccServerID: eccServer.ID, DataRouterID: router.ID}
	must.NoError(t, store.UpsertDataSource(src))

	eccServer, err = store.ECCServerByID(nil, eccServer.ID)
	must.NoError(t, err)
	return eccServer
}

func TestManager_RefreshState(t *testing.T) {
	ci.Parallel(t)

	// Grid over every state and both transition interpretations.
	for _, s := range structs.EccStates {
		for _, transition := range []int{0, 1} {
			fake := &fakeClient{stateReply: &Reply{State: int(s), Transition: transition}}
			m, store := testManager(t, fake)

			eccServer := mock.ECCServer()
			must.NoError(t, store.UpsertECCServer(eccServer))
			eccServer, _ = store.ECCServerByName(nil, eccServer.Name)

			must.NoError(t, m.RefreshState(context.Background(), eccServer.ID))

			out, err := store.ECCServerByID(nil, eccServer.ID)
			must.NoError(t, err)
			must.Eq(t, s, out.State)
			must.Eq(t, transition != 0, out.IsTransitioning)
		}
	}
}

func TestManager_RefreshState_RemoteError(t *testing.T) {
	ci.Parallel(t)

	fake := &fakeClient{stateReply: &Reply{ErrorCode: 42, ErrorMessage: "CoBo on fire"}}
	m, store := testManager(t, fake)

	eccServer := mock.ECCServer()
	must.NoError(t, store.UpsertECCServer(eccServer))
	eccServer, _ = store.ECCServerByName(nil, eccServer.Name)

	err := m.RefreshState(context.Background(), eccServer.ID)
	must.Error(t, err)

	var remote *structs.RemoteError
	must.True(t, errors.As(err, &remote))
	must.Eq(t, "CoBo on fire", remote.Message)

	// Nothing was written.
	out, _ := store.ECCServerByID(nil, eccServer.ID)
	must.Eq(t, structs.StateIdle, out.State)
}

func TestManager_RefreshState_TransportError(t *testing.T) {
	ci.Parallel(t)

	fake := &fakeClient{err: errors.New("connection refused")}
	m, store := testManager(t, fake)

	eccServer := mock.ECCServer()
	must.NoError(t, store.UpsertECCServer(eccServer))
	eccServer, _ = store.ECCServerByName(nil, eccServer.Name)

	err := m.RefreshState(context.Background(), eccServer.ID)
	must.Error(t, err)
	must.False(t, structs.IsRemoteError(err))
}

func TestManager_RefreshState_MissingEntity(t *testing.T) {
	ci.Parallel(t)

	m, _ := testManager(t, &fakeClient{})
	err := m.RefreshState(context.Background(), 424242)
	must.ErrorIs(t, err, structs.ErrMissingEntity)
}

func TestManager_RefreshConfigs(t *testing.T) {
	ci.Parallel(t)

	doc := `<ConfigIdList>` +
		`<ConfigId>` +
		`<SubConfigId type="describe">A</SubConfigId>` +
		`<SubConfigId type="prepare">B</SubConfigId>` +
		`<SubConfigId type="configure">C</SubConfigId>` +
		`</ConfigId>` +
		`</ConfigIdList>`

	fake := &fakeClient{configReply: &Reply{Text: doc}}
	m, store := testManager(t, fake)

	eccServer := mock.ECCServer()
	must.NoError(t, store.UpsertECCServer(eccServer))
	eccServer, _ = store.ECCServerByName(nil, eccServer.Name)

	// Preload with A/B/C and A/C/B; the refresh only returns A/B/C, so
	// A/C/B must be swept.
	seedTime := time.Now().Add(-time.Minute)
	must.NoError(t, store.RefreshConfigIDs(eccServer.ID, []*structs.ConfigID{
		{Describe: "A", Prepare: "B", Configure: "C"},
		{Describe: "A", Prepare: "C", Configure: "B"},
	}, seedTime))

	must.NoError(t, m.RefreshConfigs(context.Background(), eccServer.ID))

	configs, err := store.ConfigIDsByECCServer(nil, eccServer.ID)
	must.NoError(t, err)
	must.Len(t, 1, configs)
	must.Eq(t, "A/B/C", configs[0].String())

	// Repeat: still exactly one row.
	must.NoError(t, m.RefreshConfigs(context.Background(), eccServer.ID))
	configs, err = store.ConfigIDsByECCServer(nil, eccServer.ID)
	must.NoError(t, err)
	must.Len(t, 1, configs)
}

func TestManager_ChangeState_Describe(t *testing.T) {
	ci.Parallel(t)

	fake := &fakeClient{transReply: &Reply{}}
	m, store := testManager(t, fake)

	router := mock.DataRouter()
	router.Name = "dr0"
	router.Addr = "10.0.0.1"
	router.Port = 46005
	router.Type = structs.RouterTypeTCP
	eccServer := seedServer(t, store, router)

	must.NoError(t, m.ChangeState(context.Background(), eccServer.ID, structs.StateDescribed))

	// Exactly one Describe with both payloads.
	must.Len(t, 1, fake.calls)
	call := fake.calls[0]
	must.Eq(t, OpDescribe, call.op)

	cfg, err := structs.ParseConfigID(call.configXML)
	must.NoError(t, err)
	must.Eq(t, "d/p/c", cfg.String())

	must.StrContains(t, call.linksXML, `<DataSender id="CoBo[0]">`)
	must.StrContains(t, call.linksXML, `<DataRouter name="dr0" ipAddress="10.0.0.1" port="46005" type="TCP">`)
	must.Eq(t, 1, strings.Count(call.linksXML, "<DataLink>"))

	// The flag is set but the state is left for the next refresh.
	out, err := store.ECCServerByID(nil, eccServer.ID)
	must.NoError(t, err)
	must.True(t, out.IsTransitioning)
	must.Eq(t, structs.StateIdle, out.State)
}

func TestManager_ChangeState_NoConfig(t *testing.T) {
	ci.Parallel(t)

	fake := &fakeClient{transReply: &Reply{}}
	m, store := testManager(t, fake)

	eccServer := mock.ECCServer()
	must.NoError(t, store.UpsertECCServer(eccServer))
	eccServer, _ = store.ECCServerByName(nil, eccServer.Name)

	err := m.ChangeState(context.Background(), eccServer.ID, structs.StateDescribed)
	must.ErrorIs(t, err, structs.ErrNoSelectedConfig)
	must.Len(t, 0, fake.calls)
}

func TestManager_ChangeState_RemoteErrorClearsFlag(t *testing.T) {
	ci.Parallel(t)

	fake := &fakeClient{transReply: &Reply{ErrorCode: 1, ErrorMessage: "bad config"}}
	m, store := testManager(t, fake)

	eccServer := seedServer(t, store, mock.DataRouter())
	must.NoError(t, store.SetECCServerTransitioning(eccServer.ID, true))

	err := m.ChangeState(context.Background(), eccServer.ID, structs.StateDescribed)
	must.Error(t, err)
	must.True(t, structs.IsRemoteError(err))

	out, _ := store.ECCServerByID(nil, eccServer.ID)
	must.False(t, out.IsTransitioning)
}

func TestManager_ChangeState_NonAdjacent(t *testing.T) {
	ci.Parallel(t)

	fake := &fakeClient{transReply: &Reply{}}
	m, store := testManager(t, fake)

	eccServer := seedServer(t, store, mock.DataRouter())

	err := m.ChangeState(context.Background(), eccServer.ID, structs.StateRunning)
	must.ErrorIs(t, err, structs.ErrNonAdjacentStates)
	must.Len(t, 0, fake.calls)

	err = m.ChangeState(context.Background(), eccServer.ID, structs.StateIdle)
	must.ErrorIs(t, err, structs.ErrNoTransitionNeeded)
}
