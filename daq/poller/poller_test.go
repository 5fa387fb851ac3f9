// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"

	"github.com/attpc/daqctl/ci"
	"github.com/attpc/daqctl/daq/dispatch"
	"github.com/attpc/daqctl/daq/tasks"
	"github.com/attpc/daqctl/helper/testlog"
)

// countingDispatcher registers the three sweep names with counters so the
// poller has real tasks to hit.
func countingDispatcher(t *testing.T) (*dispatch.Dispatcher, map[string]*atomic.Int64) {
	d := dispatch.NewDispatcher(testlog.HCLogger(t), dispatch.MinWorkers, 0)
	counts := map[string]*atomic.Int64{
		tasks.TaskRefreshAll:     {},
		tasks.TaskCheckEccAll:    {},
		tasks.TaskCheckRouterAll: {},
	}
	for name, n := range counts {
		n := n
		must.NoError(t, d.Register(&dispatch.TaskSpec{
			Name:      name,
			SoftLimit: time.Second,
			HardLimit: 2 * time.Second,
			Fn: func(context.Context, *dispatch.Dispatcher, dispatch.Payload) error {
				n.Add(1)
				return nil
			},
		}))
	}
	d.Start()
	t.Cleanup(d.Shutdown)
	return d, counts
}

func TestPoller_SubmitsSweeps(t *testing.T) {
	ci.Parallel(t)

	d, counts := countingDispatcher(t)

	// Every-second schedules keep the test quick.
	p, err := NewPoller(testlog.HCLogger(t), d, "* * * * * * *", "* * * * * * *")
	must.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool {
			for _, n := range counts {
				if n.Load() < 2 {
					return false
				}
			}
			return true
		}),
		wait.Timeout(10*time.Second),
		wait.Gap(50*time.Millisecond),
	))
}

func TestPoller_DefaultSchedules(t *testing.T) {
	ci.Parallel(t)

	d, _ := countingDispatcher(t)
	p, err := NewPoller(testlog.HCLogger(t), d, "", "")
	must.NoError(t, err)
	must.Len(t, 3, p.schedules)

	// The refresh sweep fires at seconds resolution, the SSH checks once
	// every two minutes. A minutes-resolution misparse would push these out
	// by a factor of sixty.
	now := time.Date(2017, 2, 27, 15, 14, 1, 0, time.UTC)
	refresh := p.schedules[0].expr
	must.Eq(t, now.Add(14*time.Second), refresh.Next(now))
	must.Eq(t, 15*time.Second, refresh.Next(refresh.Next(now)).Sub(refresh.Next(now)))

	check := p.schedules[1].expr
	first := check.Next(now)
	must.Eq(t, time.Date(2017, 2, 27, 15, 16, 0, 0, time.UTC), first)
	must.Eq(t, 2*time.Minute, check.Next(first).Sub(first))
}

func TestPoller_BadSchedule(t *testing.T) {
	ci.Parallel(t)

	d, _ := countingDispatcher(t)
	_, err := NewPoller(testlog.HCLogger(t), d, "not a cron line", "")
	must.Error(t, err)
}
