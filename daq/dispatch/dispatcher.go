// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package dispatch runs named background tasks on a bounded worker pool.
// Tasks carry soft and hard time limits: at the soft limit the task's
// context is canceled and a warning is logged; at the hard limit the worker
// abandons the task goroutine and recycles so a wedged SSH session cannot
// starve the pool.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-uuid"

	"github.com/attpc/daqctl/daq/structs"
)

const (
	// MinWorkers is the floor on pool size. The fleet fans out one task per
	// ECC server, so a tiny pool would serialize what should be concurrent.
	MinWorkers = 4

	// DefaultQueueDepth bounds the submission queue. Submissions beyond it
	// are dropped with a warning; the periodic poller will resubmit.
	DefaultQueueDepth = 256
)

// Payload carries the arguments of one task invocation. Fields are used or
// ignored per task; entities are referenced by primary key and re-read from
// the store inside the task, never passed by value.
type Payload struct {
	ID         uint64
	Target     structs.EccState
	Experiment string
	RunNumber  int
}

// TaskFunc is the body of a task. The context is canceled at the soft time
// limit; well-behaved bodies return shortly after. The dispatcher is passed
// in so fan-out tasks can submit their children.
type TaskFunc func(ctx context.Context, d *Dispatcher, p Payload) error

// TaskSpec describes one registered task.
type TaskSpec struct {
	Name string

	// SoftLimit cancels the context; HardLimit abandons the goroutine.
	// HardLimit must be greater than SoftLimit.
	SoftLimit time.Duration
	HardLimit time.Duration

	// Singleton suppresses a submission while a previous invocation of the
	// same task is still queued or running. Used by the fleet-wide sweeps,
	// which are periodic anyway.
	Singleton bool

	Fn TaskFunc
}

type invocation struct {
	id      string
	spec    *TaskSpec
	payload Payload
}

// Dispatcher owns the worker pool and the task registry. Register every
// task before calling Start.
type Dispatcher struct {
	logger  hclog.Logger
	workers int

	specs map[string]*TaskSpec

	queue  chan *invocation
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewDispatcher builds a stopped dispatcher. workers is clamped to
// MinWorkers; queueDepth of zero gets DefaultQueueDepth.
func NewDispatcher(logger hclog.Logger, workers, queueDepth int) *Dispatcher {
	if workers < MinWorkers {
		workers = MinWorkers
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Dispatcher{
		logger:   logger.Named("dispatch"),
		workers:  workers,
		specs:    make(map[string]*TaskSpec),
		queue:    make(chan *invocation, queueDepth),
		stopCh:   make(chan struct{}),
		inFlight: make(map[string]bool),
	}
}

// Register adds a task. Must be called before Start.
func (d *Dispatcher) Register(spec *TaskSpec) error {
	if spec.Name == "" || spec.Fn == nil {
		return fmt.Errorf("task spec needs a name and a body")
	}
	if spec.HardLimit <= spec.SoftLimit {
		return fmt.Errorf("task %s: hard limit %s must exceed soft limit %s",
			spec.Name, spec.HardLimit, spec.SoftLimit)
	}
	if _, ok := d.specs[spec.Name]; ok {
		return fmt.Errorf("task %s registered twice", spec.Name)
	}
	d.specs[spec.Name] = spec
	return nil
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Shutdown stops the workers after they finish their current invocations.
// Queued invocations are discarded. Abandoned goroutines past their hard
// limit are not waited for.
func (d *Dispatcher) Shutdown() {
	close(d.stopCh)
	d.wg.Wait()
}

// Submit enqueues one invocation of the named task. Never blocks: a full
// queue drops the submission with a warning, and singleton tasks already in
// flight are suppressed silently.
func (d *Dispatcher) Submit(name string, payload Payload) error {
	spec, ok := d.specs[name]
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}

	if spec.Singleton && !d.claim(name) {
		d.logger.Debug("suppressed singleton task already in flight", "task", name)
		metrics.IncrCounter([]string{"dispatch", "suppressed"}, 1)
		return nil
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		id = "unknown"
	}

	select {
	case d.queue <- &invocation{id: id, spec: spec, payload: payload}:
		metrics.IncrCounter([]string{"dispatch", "submitted"}, 1)
		return nil
	default:
		if spec.Singleton {
			d.release(name)
		}
		d.logger.Warn("task queue full, dropping submission", "task", name)
		metrics.IncrCounter([]string{"dispatch", "dropped"}, 1)
		return nil
	}
}

// claim marks a singleton task in flight; reports false if it already was.
func (d *Dispatcher) claim(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[name] {
		return false
	}
	d.inFlight[name] = true
	return true
}

func (d *Dispatcher) release(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, name)
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case inv := <-d.queue:
			d.run(n, inv)
		}
	}
}

// run executes one invocation, enforcing both time limits. Returning from
// here with the task goroutine still live is the hard-limit abandonment;
// the worker recycles and the leaked goroutine finishes or leaks on its
// own.
func (d *Dispatcher) run(worker int, inv *invocation) {
	if inv.spec.Singleton {
		defer d.release(inv.spec.Name)
	}

	logger := d.logger.With("task", inv.spec.Name, "invocation", inv.id, "worker", worker)
	start := time.Now()
	defer metrics.MeasureSince([]string{"dispatch", "task", inv.spec.Name}, start)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panic: %v", r)
			}
		}()
		done <- inv.spec.Fn(ctx, d, inv.payload)
	}()

	soft := time.NewTimer(inv.spec.SoftLimit)
	defer soft.Stop()

	select {
	case err := <-done:
		d.finish(logger, err)
		return
	case <-soft.C:
	}

	// Soft limit hit: cancel and give the body until the hard limit to
	// come back.
	cancel()
	logger.Warn("task exceeded soft time limit, canceling",
		"soft_limit", inv.spec.SoftLimit)
	metrics.IncrCounter([]string{"dispatch", "soft_timeout"}, 1)

	hard := time.NewTimer(inv.spec.HardLimit - inv.spec.SoftLimit)
	defer hard.Stop()

	select {
	case err := <-done:
		d.finish(logger, err)
	case <-hard.C:
		logger.Error("task exceeded hard time limit, abandoning",
			"hard_limit", inv.spec.HardLimit)
		metrics.IncrCounter([]string{"dispatch", "hard_timeout"}, 1)
	}
}

func (d *Dispatcher) finish(logger hclog.Logger, err error) {
	if err != nil {
		logger.Error("task failed", "error", err)
		metrics.IncrCounter([]string{"dispatch", "failed"}, 1)
		return
	}
	logger.Trace("task complete")
}
