// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package planner

import (
	"regexp"
	"sort"

	"github.com/hashicorp/go-set/v3"
	"github.com/hashicorp/go-uuid"

	"github.com/devicelab/core/corerr"
	"github.com/devicelab/core/structs"
)

// nonTradefedExecType names the testcases subdirectory non-tradefed jobs
// read from: "<xtsRoot>/android-<type>/testcases".
const nonTradefedExecType = "mobly"

// planNonTradefed builds the non-tradefed half of a plan: one Job per
// matched, filtered module.
func (p *Planner) planNonTradefed(sessionID string, info structs.SessionRequestInfo, timeouts structs.JobTimeouts, modules ModuleSource) ([]*structs.Job, error) {
	candidates, err := p.candidateModules(info, modules)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	targets := names
	if info.TestName != "" {
		matched, err := matchModuleName(info.TestName, names)
		if err != nil {
			return nil, err
		}
		targets = []string{matched}
	}

	jobs := make([]*structs.Job, 0, len(targets))
	for _, module := range targets {
		jobID, err := uuid.GenerateUUID()
		if err != nil {
			return nil, corerr.Wrap(corerr.Internal, "generate job id", err)
		}
		gd, err := genDir(p.cfg.GenRoot, moduleJobName(module))
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, &structs.Job{
			JobID:     jobID,
			SessionID: sessionID,
			ExecMode:  structs.ExecModeNonTradefed,
			Params: map[string]string{
				"module":        module,
				"testcases_dir": testcasesDir(p.cfg.XTSRoot, nonTradefedExecType),
			},
			Timeouts: timeouts,
			GenDir:   gd,
		})
	}
	return jobs, nil
}

// candidateModules starts from the union of local TF modules and the
// static MCTS list, applies module-level veto/admit filters, then
// resolves a per-module include-test set.
func (p *Planner) candidateModules(info structs.SessionRequestInfo, modules ModuleSource) (map[string][]string, error) {
	union := unionModules(modules.LocalModules(), p.cfg.StaticMCTSModules)

	moduleIncludes := set.From(info.ModuleIncludeFilters)
	moduleExcludes := set.From(info.ModuleExcludeFilters)

	result := make(map[string][]string)
	for _, module := range union {
		if wholeModuleVetoed(module, moduleExcludes, info) {
			continue
		}
		if moduleIncludes.Size() > 0 && !moduleIncludes.Contains(module) {
			continue
		}

		tests, hasIncludeSet := info.TestIncludeFilters[module]
		if !hasIncludeSet {
			all, err := modules.AllTestsInModule(module)
			if err != nil {
				return nil, corerr.Wrap(corerr.ResolveFileError, "list tests for module "+module, err)
			}
			tests = all
		}

		if excludes := info.TestExcludeFilters[module]; len(excludes) > 0 {
			tests = subtractStrings(tests, excludes)
		}

		result[module] = tests
	}
	return result, nil
}

// wholeModuleVetoed implements "exclude filters without test names veto a
// module": a module named in ModuleExcludeFilters with no corresponding
// test-level filter entry is dropped outright rather than narrowed.
func wholeModuleVetoed(module string, moduleExcludes *set.Set[string], info structs.SessionRequestInfo) bool {
	if !moduleExcludes.Contains(module) {
		return false
	}
	_, hasTestInclude := info.TestIncludeFilters[module]
	_, hasTestExclude := info.TestExcludeFilters[module]
	return !hasTestInclude && !hasTestExclude
}

// unionModules implements the "union of local TF modules and the static
// MCTS list" half of module filtering via go-set's Set.Union.
func unionModules(a, b []string) []string {
	out := set.From(a).Union(set.From(b)).Slice()
	sort.Strings(out)
	return out
}

// subtractStrings implements per-module test-exclude filtering via
// go-set's Set.Difference.
func subtractStrings(all, exclude []string) []string {
	return set.From(all).Difference(set.From(exclude)).Slice()
}

// matchModuleName tries an exact match first, else a regex pattern over
// the full module set; multiple matches raise MultipleMatches.
func matchModuleName(pattern string, all []string) (string, error) {
	if set.From(all).Contains(pattern) {
		return pattern, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", corerr.Wrap(corerr.InvalidArgument, "compile module pattern", err)
	}

	var matches []string
	for _, m := range all {
		if re.MatchString(m) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		return "", corerr.New(corerr.NotFound, "no module matches "+pattern)
	case 1:
		return matches[0], nil
	default:
		return "", corerr.New(corerr.MultipleMatches, "multiple modules match "+pattern)
	}
}
