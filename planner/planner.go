// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package planner translates a SessionRequestInfo run command into the
// zero-or-more Job configs a session submits to the scheduler.
package planner

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/devicelab/core/corerr"
	"github.com/devicelab/core/structs"
)

// Default timeouts: TF jobs get more slack than non-TF jobs because
// tradefed invocations cover far larger module sets.
const (
	defaultTradefedJobTimeout    = 15 * 24 * time.Hour
	defaultTradefedStartTimeout  = 14 * 24 * time.Hour
	defaultNonTradefedJobTimeout = 5 * 24 * time.Hour
	defaultNonTradefedStart      = 4 * 24 * time.Hour
)

// ModuleSource is the collaborator the planner asks for the module
// universe and, for every candidate module without a test-include set,
// for all tests in that module.
type ModuleSource interface {
	LocalModules() []string
	AllTestsInModule(module string) ([]string, error)
}

// StaticMCTSModules is the always-available MCTS module list the local
// TF module set is unioned with before filtering. Real deployments
// override this via Config.
var StaticMCTSModules = []string{
	"CtsMctsTestCases",
	"MctsMediaTestCases",
	"MctsBluetoothTestCases",
}

// Config bundles planner-wide knobs.
type Config struct {
	StaticMCTSModules []string
	XTSRoot           string
	GenRoot           string
}

func (c Config) withDefaults() Config {
	if c.StaticMCTSModules == nil {
		c.StaticMCTSModules = StaticMCTSModules
	}
	return c
}

// Planner is stateless beyond its Config; one instance can plan
// concurrent sessions.
type Planner struct {
	cfg Config
}

func New(cfg Config) *Planner {
	cfg = cfg.withDefaults()
	return &Planner{cfg: cfg}
}

// Plan takes the request info, the devices currently known to the lab,
// and a module source, and produces the Jobs a session should submit.
// Returns an empty slice, never nil, when nothing matches.
func (p *Planner) Plan(sessionID string, info structs.SessionRequestInfo, available []structs.Device, modules ModuleSource) ([]*structs.Job, error) {
	timeouts := computeTimeouts(info)

	if info.TestName == "" && !isNonTradefedRequest(info) {
		return p.planTradefed(sessionID, info, available, timeouts)
	}
	return p.planNonTradefed(sessionID, info, timeouts, modules)
}

// isNonTradefedRequest is a placeholder seam: in this core, exec mode is
// decided by the request carrying filters. A request with any module- or
// test-level filter configured is treated as a non-tradefed plan.
func isNonTradefedRequest(info structs.SessionRequestInfo) bool {
	return len(info.ModuleIncludeFilters) > 0 || len(info.ModuleExcludeFilters) > 0 ||
		len(info.TestIncludeFilters) > 0 || len(info.TestExcludeFilters) > 0
}

// computeTimeouts derives job/start/test timeouts:
//
//	job timeout   = explicit value or default (TF 15d, non-TF 5d)
//	start timeout = explicit value or default (TF 14d, non-TF 4d)
//	test timeout  = max(jobTimeout-1m, jobTimeout/2) when jobTimeout >= 2m,
//	                else jobTimeout/2
func computeTimeouts(info structs.SessionRequestInfo) structs.JobTimeouts {
	tradefed := info.TestName == "" && !isNonTradefedRequest(info)

	job := info.JobTimeout
	if job <= 0 {
		if tradefed {
			job = defaultTradefedJobTimeout
		} else {
			job = defaultNonTradefedJobTimeout
		}
	}
	start := info.StartTimeout
	if start <= 0 {
		if tradefed {
			start = defaultTradefedStartTimeout
		} else {
			start = defaultNonTradefedStart
		}
	}

	var test time.Duration
	if job >= 2*time.Minute {
		test = job - time.Minute
		if half := job / 2; half > test {
			test = half
		}
	} else {
		test = job / 2
	}

	return structs.JobTimeouts{Job: job, Test: test, Start: start}
}

// genDir builds an isolated job_gen_<urlenc name>_<uuid> directory path.
func genDir(root, name string) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", corerr.Wrap(corerr.Internal, "generate job gen dir id", err)
	}
	return fmt.Sprintf("%s/job_gen_%s_%s", strings.TrimRight(root, "/"), url.QueryEscape(name), id), nil
}

// moduleJobName builds "xts-mobly-aosp-package-job-<module>" with
// spaces replaced by underscores.
func moduleJobName(module string) string {
	return "xts-mobly-aosp-package-job-" + strings.ReplaceAll(module, " ", "_")
}

// testcasesDir returns "<xtsRoot>/android-<type>/testcases", the
// directory modules are read from.
func testcasesDir(xtsRoot, execType string) string {
	return fmt.Sprintf("%s/android-%s/testcases", strings.TrimRight(xtsRoot, "/"), execType)
}

// NonTradefedTestcasesDir exports testcasesDir for the non-tradefed exec
// type, for collaborators (a ModuleSource implementation) that need to
// agree with the planner on where modules live without duplicating the
// path convention.
func NonTradefedTestcasesDir(xtsRoot string) string {
	return testcasesDir(xtsRoot, nonTradefedExecType)
}
