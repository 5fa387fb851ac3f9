// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package mock provides prefilled entities for tests.
package mock

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/attpc/daqctl/daq/structs"
)

var seq atomic.Uint64

func next() uint64 { return seq.Add(1) }

// Experiment returns a minimal experiment.
func Experiment() *structs.Experiment {
	n := next()
	return &structs.Experiment{
		Name:              fmt.Sprintf("e%05d", n),
		TargetRunDuration: structs.DefaultTargetRunDuration,
		Owner:             "operator",
	}
}

// ECCServer returns an idle ECC server with a unique name.
func ECCServer() *structs.ECCServer {
	n := next()
	return &structs.ECCServer{
		Name:  fmt.Sprintf("ecc%d", n),
		Addr:  fmt.Sprintf("10.0.1.%d", n%250+1),
		Port:  structs.DefaultEccPort,
		State: structs.StateIdle,
	}
}

// DataRouter returns an online TCP data router with a clean staging
// directory and a unique name.
func DataRouter() *structs.DataRouter {
	n := next()
	return &structs.DataRouter{
		Name:                    fmt.Sprintf("dr%d", n),
		Addr:                    fmt.Sprintf("10.0.2.%d", n%250+1),
		Port:                    structs.DefaultDataRouterPort,
		Type:                    structs.RouterTypeTCP,
		IsOnline:                true,
		StagingDirectoryIsClean: true,
	}
}

// DataSource pairs a server and a router under a CoBo-style name.
func DataSource(ecc *structs.ECCServer, router *structs.DataRouter) *structs.DataSource {
	n := next()
	src := &structs.DataSource{
		Name: fmt.Sprintf("CoBo[%d]", n),
	}
	if ecc != nil {
		src.EccServerID = ecc.ID
	}
	if router != nil {
		src.DataRouterID = router.ID
	}
	return src
}

// ConfigID returns a config triple stamped now.
func ConfigID() *structs.ConfigID {
	n := next()
	return &structs.ConfigID{
		Describe:    fmt.Sprintf("describe%d", n),
		Prepare:     fmt.Sprintf("prepare%d", n),
		Configure:   fmt.Sprintf("configure%d", n),
		LastFetched: time.Now(),
	}
}

// Observable returns a float observable.
func Observable(expID uint64) *structs.Observable {
	n := next()
	return &structs.Observable{
		ExperimentID: expID,
		Name:         fmt.Sprintf("obs%d", n),
		ValueType:    structs.ObservableFloat,
		Units:        "torr",
		Order:        int(n),
	}
}
