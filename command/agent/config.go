// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl"

	"github.com/attpc/daqctl/daq/poller"
)

// Config is the configuration of the daqctl agent, read from an HCL file
// and merged over the defaults.
type Config struct {
	// LogLevel is the level of the logs to put out.
	LogLevel string `hcl:"log_level"`

	// Experiment names the active experiment. It is created on first start
	// if it does not exist yet.
	Experiment string `hcl:"experiment"`

	// Workers sizes the task worker pool.
	Workers int `hcl:"workers"`

	// QueueDepth bounds the task submission queue.
	QueueDepth int `hcl:"queue_depth"`

	// RefreshSchedule is the cron line for the ECC state and config sweep.
	RefreshSchedule string `hcl:"refresh_schedule"`

	// CheckSchedule is the cron line for the SSH liveness sweeps.
	CheckSchedule string `hcl:"check_schedule"`
}

// DefaultConfig returns the baseline the file config merges over.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "INFO",
		Workers:         8,
		QueueDepth:      256,
		RefreshSchedule: poller.DefaultRefreshSchedule,
		CheckSchedule:   poller.DefaultCheckSchedule,
	}
}

// LoadConfig reads one HCL config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := hcl.Decode(&config, string(raw)); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &config, nil
}

// Merge returns a new config with b's set fields layered over c's.
func (c *Config) Merge(b *Config) *Config {
	result := *c

	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.Experiment != "" {
		result.Experiment = b.Experiment
	}
	if b.Workers != 0 {
		result.Workers = b.Workers
	}
	if b.QueueDepth != 0 {
		result.QueueDepth = b.QueueDepth
	}
	if b.RefreshSchedule != "" {
		result.RefreshSchedule = b.RefreshSchedule
	}
	if b.CheckSchedule != "" {
		result.CheckSchedule = b.CheckSchedule
	}

	return &result
}
