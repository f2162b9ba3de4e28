// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package orchestrator wires the planner and scheduler behind a
// session.Plugin: turning a submitted run command into scheduled Jobs and
// watching the scheduler until an external test executor has torn every
// one of them back down.
package orchestrator

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesystemModuleSource implements planner.ModuleSource by scanning
// TestcasesDir, an xTS "<xtsRoot>/android-<type>/testcases" directory, for
// module config files; cmd/devicelabd points it at
// planner.NonTradefedTestcasesDir.
type FilesystemModuleSource struct {
	TestcasesDir string
}

func (f FilesystemModuleSource) LocalModules() []string {
	entries, err := os.ReadDir(f.TestcasesDir)
	if err != nil {
		return nil
	}
	var modules []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".config" {
			modules = append(modules, strings.TrimSuffix(name, ext))
		}
	}
	sort.Strings(modules)
	return modules
}

// AllTestsInModule returns the named tests in a module's optional
// "<module>.tests" sidecar file, one test name per line. A module
// without a sidecar has no enumerated subset, which callers treat as "no
// test-level narrowing" rather than an error.
func (f FilesystemModuleSource) AllTestsInModule(module string) ([]string, error) {
	path := filepath.Join(f.TestcasesDir, module+".tests")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tests []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			tests = append(tests, line)
		}
	}
	return tests, nil
}
