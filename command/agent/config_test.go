// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attpc/daqctl/ci"
)

func TestConfig_LoadConfig(t *testing.T) {
	ci.Parallel(t)

	path := filepath.Join(t.TempDir(), "agent.hcl")
	content := `
log_level = "DEBUG"
experiment = "e17504"
workers = 12
queue_depth = 512
refresh_schedule = "*/5 * * * * * *"
check_schedule = "*/30 * * * * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "DEBUG", config.LogLevel)
	require.Equal(t, "e17504", config.Experiment)
	require.Equal(t, 12, config.Workers)
	require.Equal(t, 512, config.QueueDepth)
	require.Equal(t, "*/5 * * * * * *", config.RefreshSchedule)
	require.Equal(t, "*/30 * * * * * *", config.CheckSchedule)
}

func TestConfig_LoadConfig_Invalid(t *testing.T) {
	ci.Parallel(t)

	path := filepath.Join(t.TempDir(), "agent.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`log_level = [`), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestConfig_Merge(t *testing.T) {
	ci.Parallel(t)

	base := DefaultConfig()
	overlay := &Config{
		LogLevel:   "WARN",
		Experiment: "e20009",
		Workers:    16,
	}

	merged := base.Merge(overlay)
	require.Equal(t, "WARN", merged.LogLevel)
	require.Equal(t, "e20009", merged.Experiment)
	require.Equal(t, 16, merged.Workers)

	// Unset overlay fields keep the defaults.
	require.Equal(t, base.QueueDepth, merged.QueueDepth)
	require.Equal(t, base.RefreshSchedule, merged.RefreshSchedule)
	require.Equal(t, base.CheckSchedule, merged.CheckSchedule)

	// Merge does not mutate its receiver.
	require.Equal(t, "INFO", base.LogLevel)
}
