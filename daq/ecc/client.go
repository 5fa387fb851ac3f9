// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ecc

import (
	"context"
)

// Reply is the common shape of every ECC SOAP response. ErrorCode zero
// means success. GetState replies additionally carry State and Transition;
// GetConfigIDs replies carry the ConfigIdList document in Text.
type Reply struct {
	ErrorCode    int
	ErrorMessage string
	State        int
	Transition   int
	Text         string
}

// InTransition interprets the Transition field: any non-zero value means
// the remote machine is between states.
func (r *Reply) InTransition() bool {
	return r.Transition != 0
}

// Client is the nine-operation SOAP surface of one ECC server. The concrete
// implementation speaks SOAP over HTTP; tests substitute a fake returning
// canned replies.
type Client interface {
	// GetState reports the current machine state.
	GetState(ctx context.Context) (*Reply, error)

	// GetConfigIDs lists the configuration sets the server knows.
	GetConfigIDs(ctx context.Context) (*Reply, error)

	// Transition invokes one of the seven transition operations. Per the
	// wire contract every transition carries both payloads, even the
	// operations that conceptually need neither.
	Transition(ctx context.Context, op TransitionOp, configXML, dataLinkXML string) (*Reply, error)
}

// ClientFactory builds a Client bound to one endpoint URL.
type ClientFactory func(url string) Client
