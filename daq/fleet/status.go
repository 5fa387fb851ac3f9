// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package fleet

// ECCServerStatus is one row of the fleet report.
type ECCServerStatus struct {
	Name           string
	State          string
	Transitioning  bool
	Online         bool
	SelectedConfig string
}

// DataRouterStatus is one row of the router report.
type DataRouterStatus struct {
	Name   string
	Online bool
	Clean  bool
}

// RunStatus summarizes the open run, if any.
type RunStatus struct {
	Number   int
	Title    string
	Config   string
	Duration string
}

// Report is a point-in-time snapshot of the whole system, shaped for
// display rather than for decisions; decisions re-read the store.
type Report struct {
	OverallState  string
	Consistent    bool
	Transitioning bool
	Running       bool
	CurrentRun    *RunStatus
	ECCServers    []ECCServerStatus
	DataRouters   []DataRouterStatus
}

// Status assembles the report for one experiment.
func (c *Controller) Status(expID uint64) (*Report, error) {
	servers, err := c.store.ECCServerList(nil)
	if err != nil {
		return nil, err
	}
	routers, err := c.store.DataRouterList(nil)
	if err != nil {
		return nil, err
	}

	overall, consistent := OverallState(servers)
	report := &Report{
		OverallState: overall.String(),
		Consistent:   consistent,
	}
	if !consistent {
		report.OverallState = "Mixed"
	}

	for _, s := range servers {
		if s.IsTransitioning {
			report.Transitioning = true
		}
		row := ECCServerStatus{
			Name:          s.Name,
			State:         s.State.String(),
			Transitioning: s.IsTransitioning,
			Online:        s.IsOnline,
		}
		if s.SelectedConfigID != 0 {
			cfg, err := c.store.ConfigIDByID(nil, s.SelectedConfigID)
			if err != nil {
				return nil, err
			}
			if cfg != nil {
				row.SelectedConfig = cfg.String()
			}
		}
		report.ECCServers = append(report.ECCServers, row)
	}

	for _, r := range routers {
		report.DataRouters = append(report.DataRouters, DataRouterStatus{
			Name:   r.Name,
			Online: r.IsOnline,
			Clean:  r.StagingDirectoryIsClean,
		})
	}

	running, err := c.store.IsRunning(expID)
	if err != nil {
		return nil, err
	}
	report.Running = running
	if running {
		run, err := c.store.LatestRun(nil, expID)
		if err != nil {
			return nil, err
		}
		if run != nil {
			report.CurrentRun = &RunStatus{
				Number:   run.RunNumber,
				Title:    run.Title,
				Config:   run.ConfigName,
				Duration: run.DurationString(c.timeSource()),
			}
		}
	}
	return report, nil
}
