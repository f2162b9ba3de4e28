// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package scheduler implements the matching engine: a rotating,
// non-starving loop that assigns idle devices to tests under the
// allocation store's exclusivity invariants.
package scheduler

import (
	"context"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/devicelab/core/allocstore"
	"github.com/devicelab/core/corerr"
	"github.com/devicelab/core/structs"
)

// Bus is the allocation-event subscriber bus the scheduler publishes to
// after every successful placement. If a subscriber rejects the event, it
// must call Unallocate itself to keep invariants intact; the scheduler
// does not retry rejected events.
type Bus interface {
	PublishAllocation(AllocationEvent)
}

// AllocationEvent is published after Add succeeds on the allocation
// store, in the order Add happened.
type AllocationEvent struct {
	Allocation *structs.Allocation
}

// jobEntry is the scheduler's internal view of a Job: the job plus its
// tests in submission order, which is what rotation walks.
type jobEntry struct {
	job   *structs.Job
	tests []structs.Test
}

// Config bundles the scheduler's tunables, all defaulted so a zero-value
// Config still produces a working scheduler.
type Config struct {
	// ShuffleLabs selects the global-shuffle placement strategy over the
	// default deterministic lab-first order.
	ShuffleLabs bool
	// IdlePassInterval is slept after a full pass that placed nothing.
	IdlePassInterval time.Duration
	// JobYieldInterval is slept between jobs within a pass.
	JobYieldInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.IdlePassInterval <= 0 {
		out.IdlePassInterval = 50 * time.Millisecond
	}
	if out.JobYieldInterval <= 0 {
		out.JobYieldInterval = 10 * time.Millisecond
	}
	return out
}

// Scheduler is the single control loop plus the mutation API. All fields
// below mu are guarded by it: a single coarse mutex covers any mutation
// touching allocations.
type Scheduler struct {
	cfg    Config
	store  *allocstore.Store
	bus    Bus
	logger hclog.Logger
	rng    shuffler

	mu           sync.Mutex
	jobs         []*jobEntry
	jobByID      map[string]*jobEntry
	labs         map[string]*labEntry // keyed by Lab.IP
	adhocMatcher AdhocMatcher
}

// SetAdhocMatcher overrides the ad-hoc testbed matcher; tests and
// deployments that need a smarter multi-device packing strategy than the
// built-in greedy matcher plug it in here.
func (s *Scheduler) SetAdhocMatcher(m AdhocMatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adhocMatcher = m
}

// Devices returns a snapshot of every device currently known to the
// scheduler across all labs, for consumers outside the control loop
// (the monitor's lab puller).
func (s *Scheduler) Devices() []structs.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []structs.Device
	for _, le := range s.labs {
		for _, d := range le.devices {
			out = append(out, *d)
		}
	}
	return out
}

// JobExists reports whether jobID is still registered. An external test
// executor calls RemoveJob once a job's tests have all run to
// completion; callers that submitted the job poll this to learn when
// that has happened.
func (s *Scheduler) JobExists(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobByID[jobID]
	return ok
}

// Labs returns a snapshot of every lab currently known to the scheduler.
func (s *Scheduler) Labs() []structs.Lab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]structs.Lab, 0, len(s.labs))
	for _, le := range s.labs {
		out = append(out, le.lab)
	}
	return out
}

// labEntry is a lab plus its devices, keyed by Device.UniversalID.
type labEntry struct {
	lab     structs.Lab
	devices map[string]*structs.Device
}

func New(store *allocstore.Store, bus Bus, cfg Config, logger hclog.Logger) *Scheduler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		store:   store,
		bus:     bus,
		logger:  logger.Named("scheduler"),
		jobByID: make(map[string]*jobEntry),
		labs:    make(map[string]*labEntry),
	}
}

// Run executes the rotating control loop until ctx is cancelled. It never
// returns a non-nil error for scheduling failures: those are caught and
// logged per pass; only ctx.Err() is returned on exit.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		placedAny, err := s.pass(ctx)
		if err != nil {
			s.logger.Error("scheduling pass returned errors", "error", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !placedAny {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.IdlePassInterval):
			}
		}
	}
}

// pass performs one rotation over every known job, attempting to place
// exactly the first unallocated test of each job.
func (s *Scheduler) pass(ctx context.Context) (placedAny bool, err error) {
	var result *multierror.Error

	s.mu.Lock()
	jobs := make([]*jobEntry, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for i, je := range jobs {
		if ctx.Err() != nil {
			return placedAny, result.ErrorOrNil()
		}

		placed, placeErr := s.placeFirstUnallocatedTest(je)
		if placeErr != nil {
			result = multierror.Append(result, placeErr)
			s.logger.Warn("placement attempt failed, continuing", "job_id", je.job.JobID, "error", placeErr)
		}
		if placed {
			placedAny = true
			metrics.IncrCounter([]string{"scheduler", "allocated"}, 1)
		}

		if i < len(jobs)-1 {
			select {
			case <-ctx.Done():
				return placedAny, result.ErrorOrNil()
			case <-time.After(s.cfg.JobYieldInterval):
			}
		}
	}

	metrics.IncrCounter([]string{"scheduler", "pass"}, 1)
	if !placedAny && len(jobs) > 0 {
		metrics.IncrCounter([]string{"scheduler", "starved"}, 1)
	}
	return placedAny, result.ErrorOrNil()
}

// placeFirstUnallocatedTest finds the first test of je not already in the
// allocation store and attempts to place it. It never starves the rest of
// the rotation: whether or not placement succeeds, the caller moves on.
func (s *Scheduler) placeFirstUnallocatedTest(je *jobEntry) (placed bool, err error) {
	s.mu.Lock()
	var target *structs.Test
	for i := range je.tests {
		loc := structs.Locator{JobID: je.job.JobID, TestID: je.tests[i].TestID}
		if !s.store.HasTest(loc) {
			target = &je.tests[i]
			break
		}
	}
	job := je.job
	s.mu.Unlock()

	if target == nil {
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = corerr.New(corerr.Internal, "panic during placement attempt")
		}
	}()

	if len(job.SubDeviceSpecs) > 1 {
		return s.placeAdhoc(job, *target)
	}
	return s.placeSingleDevice(job, *target)
}
