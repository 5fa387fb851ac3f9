// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"testing"

	"github.com/attpc/daqctl/helper/testlog"
)

// TestStateStore returns a fresh empty store for tests.
func TestStateStore(t testing.TB) *StateStore {
	store, err := NewStateStore(testlog.HCLogger(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if store == nil {
		t.Fatalf("missing state store")
	}
	return store
}
