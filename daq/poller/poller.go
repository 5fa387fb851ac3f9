// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package poller submits the fleet-wide sweep tasks on cron schedules. The
// sweeps are singletons, so an overdue tick simply collapses into the run
// already in flight.
package poller

import (
	"context"
	"time"

	"github.com/hashicorp/cronexpr"
	"github.com/hashicorp/go-hclog"

	"github.com/attpc/daqctl/daq/dispatch"
	"github.com/attpc/daqctl/daq/tasks"
)

const (
	// DefaultRefreshSchedule polls every ECC server's state and configs
	// every fifteen seconds. Seven fields: the leading one is seconds.
	DefaultRefreshSchedule = "*/15 * * * * * *"

	// DefaultCheckSchedule runs the SSH liveness checks every two minutes.
	// These are slower and touch every worker node, so they run less often.
	DefaultCheckSchedule = "0 */2 * * * * *"
)

type schedule struct {
	task string
	expr *cronexpr.Expression
	next time.Time
}

// Poller drives the recurring sweeps. Build with NewPoller and call Run on
// its own goroutine.
type Poller struct {
	logger    hclog.Logger
	disp      *dispatch.Dispatcher
	schedules []*schedule
}

// NewPoller parses the two schedules and binds them to the sweep tasks.
// Schedules use the seven-field seconds-resolution cron form, e.g.
// "*/15 * * * * * *".
func NewPoller(logger hclog.Logger, disp *dispatch.Dispatcher, refreshSchedule, checkSchedule string) (*Poller, error) {
	if refreshSchedule == "" {
		refreshSchedule = DefaultRefreshSchedule
	}
	if checkSchedule == "" {
		checkSchedule = DefaultCheckSchedule
	}

	refresh, err := cronexpr.Parse(refreshSchedule)
	if err != nil {
		return nil, err
	}
	check, err := cronexpr.Parse(checkSchedule)
	if err != nil {
		return nil, err
	}

	return &Poller{
		logger: logger.Named("poller"),
		disp:   disp,
		schedules: []*schedule{
			{task: tasks.TaskRefreshAll, expr: refresh},
			{task: tasks.TaskCheckEccAll, expr: check},
			{task: tasks.TaskCheckRouterAll, expr: check},
		},
	}, nil
}

// Run submits due sweeps until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	now := time.Now()
	for _, s := range p.schedules {
		s.next = s.expr.Next(now)
	}

	for {
		soonest := p.schedules[0].next
		for _, s := range p.schedules[1:] {
			if s.next.Before(soonest) {
				soonest = s.next
			}
		}

		timer := time.NewTimer(time.Until(soonest))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case now = <-timer.C:
		}

		for _, s := range p.schedules {
			if s.next.After(now) {
				continue
			}
			if err := p.disp.Submit(s.task, dispatch.Payload{}); err != nil {
				p.logger.Error("failed to submit sweep", "task", s.task, "error", err)
			}
			s.next = s.expr.Next(now)
		}
	}
}
