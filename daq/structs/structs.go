// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package structs defines the entities shared by every layer of the DAQ
// control plane: ECC servers, data routers, data sources, configuration
// sets, experiments, run metadata, and observables. The state store owns
// every record; the other packages treat values returned from the store as
// immutable and copy before modifying.
package structs

import (
	"fmt"
	"time"
)

// EccState is one state of the ECC server state machine. The numeric values
// are fixed by the ECC SOAP protocol and must not be renumbered.
type EccState int

const (
	StateIdle      EccState = 1
	StateDescribed EccState = 2
	StatePrepared  EccState = 3
	StateReady     EccState = 4
	StateRunning   EccState = 5

	// StateReset is a pseudo-target used by fleet-wide reset requests. It is
	// never a real machine state; the fleet controller resolves it to one
	// step back from the overall state, floored at StateIdle.
	StateReset EccState = -1
)

// EccStates lists the real machine states in machine order.
var EccStates = []EccState{
	StateIdle,
	StateDescribed,
	StatePrepared,
	StateReady,
	StateRunning,
}

var stateNames = map[EccState]string{
	StateIdle:      "Idle",
	StateDescribed: "Described",
	StatePrepared:  "Prepared",
	StateReady:     "Ready",
	StateRunning:   "Running",
}

func (s EccState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("EccState(%d)", int(s))
}

// Valid reports whether s is a real machine state, as opposed to the reset
// pseudo-target or garbage from the wire.
func (s EccState) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Connection types accepted by the dataRouter process. The type is printed
// by the process at startup and must match what the CoBo is told to send.
const (
	RouterTypeICE  = "ICE"
	RouterTypeZBUF = "ZBUF"
	RouterTypeTCP  = "TCP"
	RouterTypeFDT  = "FDT"
)

// RouterTypes lists the valid data router connection types.
var RouterTypes = []string{RouterTypeICE, RouterTypeZBUF, RouterTypeTCP, RouterTypeFDT}

// ValidRouterType reports whether t is a known connection type.
func ValidRouterType(t string) bool {
	for _, known := range RouterTypes {
		if t == known {
			return true
		}
	}
	return false
}

const (
	// DefaultEccPort is the TCP port getEccSoapServer listens on.
	DefaultEccPort = 8083

	// DefaultDataRouterPort is the TCP port dataRouter listens on.
	DefaultDataRouterPort = 46005
)

// ECCServer represents one remote ECC SOAP endpoint. One server may drive
// several CoBos; each of those is a DataSource referencing this server.
type ECCServer struct {
	ID uint64

	// Name uniquely identifies the server within an experiment.
	Name string

	// Addr and Port locate the SOAP endpoint.
	Addr string
	Port int

	// SelectedConfigID points at the ConfigID this server will be told to
	// load. Zero means no config has been selected yet, which blocks any
	// state transition.
	SelectedConfigID uint64

	// LogPath is the path of the server's log file on the remote host.
	LogPath string

	// ConfigRoot is the directory on the remote host holding the .xcfg
	// config files. ConfigBackupRoot is where end-of-run backups of the
	// selected config are copied. Empty paths disable the backup.
	ConfigRoot       string
	ConfigBackupRoot string

	// State is the last state reported by the remote, not a live value.
	// It is written only by refresh tasks.
	State EccState

	// IsTransitioning is set when a change-state task is submitted and
	// cleared when a refresh observes a quiescent remote.
	IsTransitioning bool

	// IsOnline is maintained by the periodic process-liveness check.
	IsOnline bool

	ExperimentID uint64

	CreateIndex uint64
	ModifyIndex uint64
}

// URL returns the SOAP endpoint URL for this server.
func (e *ECCServer) URL() string {
	return fmt.Sprintf("http://%s:%d/", e.Addr, e.Port)
}

func (e *ECCServer) Copy() *ECCServer {
	if e == nil {
		return nil
	}
	ne := *e
	return &ne
}

// DataRouter represents one remote dataRouter process, the receiver that
// writes .graw files for a single data source.
type DataRouter struct {
	ID uint64

	Name string
	Addr string
	Port int

	// Type is one of the RouterType constants.
	Type string

	// LogPath is the path of the router's log file on the remote host.
	LogPath string

	// IsOnline is maintained by the periodic process-liveness check.
	IsOnline bool

	// StagingDirectoryIsClean is true iff no leftover .graw files sit in
	// the router's working directory. A run may not start while any router
	// is dirty.
	StagingDirectoryIsClean bool

	ExperimentID uint64

	CreateIndex uint64
	ModifyIndex uint64
}

func (d *DataRouter) Copy() *DataRouter {
	if d == nil {
		return nil
	}
	nd := *d
	return &nd
}

// DataSource pairs one ECC server with one data router under a logical name
// like "CoBo[0]" or "Mutant[master]". The name must match the corresponding
// entry in the config files or the Configure transition will fail remotely.
//
// The references are weak: deleting the server or router nulls the field but
// does not delete the source.
type DataSource struct {
	ID uint64

	Name string

	EccServerID  uint64
	DataRouterID uint64

	CreateIndex uint64
	ModifyIndex uint64
}

// LegacyRouterName is the display name the original control software used
// for a source's router. It still appears in operator logs.
func (s *DataSource) LegacyRouterName() string {
	return s.Name + "_dataRouter"
}

func (s *DataSource) Copy() *DataSource {
	if s == nil {
		return nil
	}
	ns := *s
	return &ns
}

// ConfigID names one configuration file set as seen by a remote ECC server:
// the triple of file-name stems used by the describe, prepare, and configure
// steps. No configuration content is stored here; the triple is only used to
// tell the ECC server which files to load.
type ConfigID struct {
	ID uint64

	Describe  string
	Prepare   string
	Configure string

	EccServerID uint64

	// LastFetched is when this triple was last seen in a GetConfigIDs
	// reply. Refresh deletes rows whose LastFetched predates the sweep.
	LastFetched time.Time

	CreateIndex uint64
	ModifyIndex uint64
}

func (c *ConfigID) String() string {
	return c.Describe + "/" + c.Prepare + "/" + c.Configure
}

// FilePaths returns the paths of the three config files under root, named
// the way the ECC server resolves them: <step>-<stem>.xcfg.
func (c *ConfigID) FilePaths(root string) []string {
	return []string{
		root + "/describe-" + c.Describe + ".xcfg",
		root + "/prepare-" + c.Prepare + ".xcfg",
		root + "/configure-" + c.Configure + ".xcfg",
	}
}

// SameTriple reports whether two configs name the same file set.
func (c *ConfigID) SameTriple(o *ConfigID) bool {
	return c.Describe == o.Describe &&
		c.Prepare == o.Prepare &&
		c.Configure == o.Configure
}

func (c *ConfigID) Copy() *ConfigID {
	if c == nil {
		return nil
	}
	nc := *c
	return &nc
}

// Experiment groups the servers, routers, runs, and observables of one
// physics experiment and tracks its run numbering.
type Experiment struct {
	ID uint64

	Name string

	// TargetRunDuration is the expected length of a run in seconds. The UI
	// uses it to warn the operator; the core does not enforce it.
	TargetRunDuration int

	// Owner identifies the operator account the experiment belongs to.
	Owner string

	CreateIndex uint64
	ModifyIndex uint64
}

func (e *Experiment) Copy() *Experiment {
	if e == nil {
		return nil
	}
	ne := *e
	return &ne
}

// DefaultTargetRunDuration is one hour, matching the typical AT-TPC shift
// cadence.
const DefaultTargetRunDuration = 3600

// RunMetadata describes one data run: its number, boundaries, and the
// operator-supplied annotations captured at the run boundary.
type RunMetadata struct {
	ID uint64

	ExperimentID uint64

	// RunNumber is assigned at run start as previous maximum plus one and
	// is unique within the experiment.
	RunNumber int

	StartTime time.Time

	// StopTime is nil while the run is in progress.
	StopTime *time.Time

	Title string

	// ConfigName snapshots the config set in use when the run started.
	ConfigName string

	RunClass string

	CreateIndex uint64
	ModifyIndex uint64
}

func (r *RunMetadata) Copy() *RunMetadata {
	if r == nil {
		return nil
	}
	nr := *r
	if r.StopTime != nil {
		t := *r.StopTime
		nr.StopTime = &t
	}
	return &nr
}

// Duration returns the length of the run, measured against now if the run
// has not stopped.
func (r *RunMetadata) Duration(now time.Time) time.Duration {
	if r.StopTime != nil {
		return r.StopTime.Sub(r.StartTime)
	}
	return now.Sub(r.StartTime)
}

// DurationString formats the run duration as HH:MM:SS for display.
func (r *RunMetadata) DurationString(now time.Time) string {
	d := r.Duration(now)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Observable value types.
const (
	ObservableInteger = "INTEGER"
	ObservableFloat   = "FLOAT"
	ObservableString  = "STRING"
)

// ValidObservableType reports whether t is a known observable value type.
func ValidObservableType(t string) bool {
	switch t {
	case ObservableInteger, ObservableFloat, ObservableString:
		return true
	}
	return false
}

// Observable is a typed column the operator fills in for each run, for
// example a gas pressure or a beam energy.
type Observable struct {
	ID uint64

	ExperimentID uint64

	Name      string
	ValueType string
	Units     string
	Comment   string

	// Order controls display ordering on the run sheet.
	Order int

	CreateIndex uint64
	ModifyIndex uint64
}

func (o *Observable) Copy() *Observable {
	if o == nil {
		return nil
	}
	no := *o
	return &no
}

// Measurement is the value of one Observable on one run. At most one
// measurement exists per (observable, run) pair.
type Measurement struct {
	ID uint64

	ObservableID uint64
	RunID        uint64

	Value string

	CreateIndex uint64
	ModifyIndex uint64
}

func (m *Measurement) Copy() *Measurement {
	if m == nil {
		return nil
	}
	nm := *m
	return &nm
}
