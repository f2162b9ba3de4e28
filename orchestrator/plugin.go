// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/devicelab/core/planner"
	"github.com/devicelab/core/scheduler"
	"github.com/devicelab/core/session"
	"github.com/devicelab/core/structs"
)

// jobWatchInterval is how often the plugin polls the scheduler to learn
// whether an external test executor has finished a job and torn it down
// via Scheduler.RemoveJob. Test execution itself runs outside this
// process; this is the one place that boundary shows up in control flow.
const jobWatchInterval = 2 * time.Second

// ExecutionPlugin is the session.Plugin that turns a submitted run
// command into scheduled Jobs (via the planner) and keeps the session's
// STARTED dispatch blocked until every one of them has run to
// completion or the session is aborted.
type ExecutionPlugin struct {
	scheduler *scheduler.Scheduler
	planner   *planner.Planner
	modules   planner.ModuleSource
	logger    hclog.Logger
}

func New(sched *scheduler.Scheduler, plan *planner.Planner, modules planner.ModuleSource, logger hclog.Logger) *ExecutionPlugin {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ExecutionPlugin{scheduler: sched, planner: plan, modules: modules, logger: logger.Named("orchestrator")}
}

// OnEvent implements session.Plugin. It only acts on EventStarted;
// session.Manager registers it for exactly that type.
func (p *ExecutionPlugin) OnEvent(ctx context.Context, e session.Event) error {
	if e.Type != session.EventStarted {
		return nil
	}

	info := e.Session.Config.RequestInfo
	available := p.scheduler.Devices()

	jobs, err := p.planner.Plan(e.Session.SessionID, info, available, p.modules)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		p.logger.Warn("plan produced no jobs", "session_id", e.Session.SessionID)
		return nil
	}

	for _, job := range jobs {
		if err := p.scheduler.AddJob(job); err != nil {
			return err
		}
	}
	p.logger.Info("submitted jobs", "session_id", e.Session.SessionID, "count", len(jobs))

	return p.waitForCompletion(ctx, jobs)
}

// waitForCompletion blocks until every job has been removed from the
// scheduler (an external executor completed its tests) or ctx is
// cancelled (session aborted).
func (p *ExecutionPlugin) waitForCompletion(ctx context.Context, jobs []*structs.Job) error {
	ticker := time.NewTicker(jobWatchInterval)
	defer ticker.Stop()

	for {
		if p.allDone(jobs) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *ExecutionPlugin) allDone(jobs []*structs.Job) bool {
	for _, job := range jobs {
		if p.scheduler.JobExists(job.JobID) {
			return false
		}
	}
	return true
}
