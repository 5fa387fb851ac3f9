// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ecc

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/attpc/daqctl/daq/state"
	"github.com/attpc/daqctl/daq/structs"
)

// Manager executes the per-server operations against remote ECC servers and
// reconciles the results into the state store. It holds no entity state of
// its own; every call reads and writes through the store.
type Manager struct {
	logger     hclog.Logger
	store      *state.StateStore
	newClient  ClientFactory
	timeSource func() time.Time
}

// NewManager builds a manager. newClient is typically NewSOAPClient; tests
// inject a fake.
func NewManager(logger hclog.Logger, store *state.StateStore, newClient ClientFactory) *Manager {
	return &Manager{
		logger:     logger.Named("ecc"),
		store:      store,
		newClient:  newClient,
		timeSource: time.Now,
	}
}

// RefreshState asks one server for its machine state and writes the reply's
// State and Transition fields to the store. Idempotent; safe to re-run at
// any time.
func (m *Manager) RefreshState(ctx context.Context, eccID uint64) error {
	eccServer, err := m.store.ECCServerByID(nil, eccID)
	if err != nil {
		return err
	}
	if eccServer == nil {
		return structs.ErrMissingEntity
	}

	reply, err := m.newClient(eccServer.URL()).GetState(ctx)
	if err != nil {
		return err
	}
	if reply.ErrorCode != 0 {
		return &structs.RemoteError{Op: "GetState", Code: reply.ErrorCode, Message: reply.ErrorMessage}
	}

	reported := structs.EccState(reply.State)
	if !reported.Valid() {
		return fmt.Errorf("ECC server %q reported unknown state %d", eccServer.Name, reply.State)
	}

	return m.store.UpdateECCServerState(eccID, reported, reply.InTransition())
}

// RefreshConfigs asks one server for its configuration list and reconciles
// the stored config sets with it. Rows for triples the server no longer
// reports are swept; unchanged triples keep their primary key so the
// server's selection does not dangle.
func (m *Manager) RefreshConfigs(ctx context.Context, eccID uint64) error {
	eccServer, err := m.store.ECCServerByID(nil, eccID)
	if err != nil {
		return err
	}
	if eccServer == nil {
		return structs.ErrMissingEntity
	}

	reply, err := m.newClient(eccServer.URL()).GetConfigIDs(ctx)
	if err != nil {
		return err
	}
	if reply.ErrorCode != 0 {
		return &structs.RemoteError{Op: "GetConfigIDs", Code: reply.ErrorCode, Message: reply.ErrorMessage}
	}

	fetchTime := m.timeSource()
	configs, err := structs.ParseConfigIDList(reply.Text)
	if err != nil {
		return err
	}

	return m.store.RefreshConfigIDs(eccID, configs, fetchTime)
}

// ChangeState moves one server a single step toward target. On success only
// the advisory IsTransitioning flag is written; the State field is left for
// the next RefreshState to reconcile, since the remote machine completes the
// transition asynchronously.
func (m *Manager) ChangeState(ctx context.Context, eccID uint64, target structs.EccState) error {
	eccServer, err := m.store.ECCServerByID(nil, eccID)
	if err != nil {
		return err
	}
	if eccServer == nil {
		return structs.ErrMissingEntity
	}

	configXML, err := m.selectedConfigXML(eccServer)
	if err != nil {
		return err
	}
	dataLinkXML, err := m.dataLinkSetXML(eccServer)
	if err != nil {
		return err
	}

	op, err := ComputeTransition(eccServer.State, target)
	if err != nil {
		return err
	}

	m.logger.Debug("requesting transition", "ecc_server", eccServer.Name,
		"op", string(op), "from", eccServer.State.String(), "to", target.String())

	reply, err := m.newClient(eccServer.URL()).Transition(ctx, op, configXML, dataLinkXML)
	if err != nil {
		return err
	}
	if reply.ErrorCode != 0 {
		if storeErr := m.store.SetECCServerTransitioning(eccID, false); storeErr != nil {
			m.logger.Error("failed to clear transition flag", "ecc_server", eccServer.Name, "error", storeErr)
		}
		return &structs.RemoteError{Op: string(op), Code: reply.ErrorCode, Message: reply.ErrorMessage}
	}

	return m.store.SetECCServerTransitioning(eccID, true)
}

// selectedConfigXML serializes the server's selected config set.
func (m *Manager) selectedConfigXML(eccServer *structs.ECCServer) (string, error) {
	if eccServer.SelectedConfigID == 0 {
		return "", structs.ErrNoSelectedConfig
	}
	cfg, err := m.store.ConfigIDByID(nil, eccServer.SelectedConfigID)
	if err != nil {
		return "", err
	}
	if cfg == nil {
		return "", structs.ErrNoSelectedConfig
	}
	return cfg.XML()
}

// dataLinkSetXML builds the DataLinkSet payload from every data source the
// server drives.
func (m *Manager) dataLinkSetXML(eccServer *structs.ECCServer) (string, error) {
	sources, err := m.store.DataSourcesByECCServer(nil, eccServer.ID)
	if err != nil {
		return "", err
	}

	links := make([]structs.DataLink, 0, len(sources))
	for _, src := range sources {
		if src.DataRouterID == 0 {
			return "", structs.ErrNoDataRouter
		}
		router, err := m.store.DataRouterByID(nil, src.DataRouterID)
		if err != nil {
			return "", err
		}
		if router == nil {
			return "", structs.ErrNoDataRouter
		}
		links = append(links, structs.DataLink{
			SenderID:   src.Name,
			RouterName: router.Name,
			RouterIP:   router.Addr,
			RouterPort: router.Port,
			RouterType: router.Type,
		})
	}
	return structs.DataLinkSetXML(links)
}
