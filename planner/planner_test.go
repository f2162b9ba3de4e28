// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devicelab/core/structs"
)

type fakeModules struct {
	local   []string
	testsOf map[string][]string
}

func (f fakeModules) LocalModules() []string { return f.local }

func (f fakeModules) AllTestsInModule(module string) ([]string, error) {
	return f.testsOf[module], nil
}

func TestPlanner_TimeoutDefaults(t *testing.T) {
	tf := computeTimeouts(structs.SessionRequestInfo{})
	require.Equal(t, defaultTradefedJobTimeout, tf.Job)
	require.Equal(t, defaultTradefedStartTimeout, tf.Start)
	require.Equal(t, tf.Job-time.Minute, tf.Test)

	nonTF := computeTimeouts(structs.SessionRequestInfo{ModuleIncludeFilters: []string{"x"}})
	require.Equal(t, defaultNonTradefedJobTimeout, nonTF.Job)
	require.Equal(t, defaultNonTradefedJobTimeout-time.Minute, nonTF.Test)
}

func TestPlanner_TimeoutBelowTwoMinutesHalves(t *testing.T) {
	info := structs.SessionRequestInfo{JobTimeout: 90 * time.Second}
	got := computeTimeouts(info)
	require.Equal(t, 45*time.Second, got.Test)
}

func TestPlanner_TradefedCollapsesWhenModuleSharded(t *testing.T) {
	p := New(Config{GenRoot: "/gen"})
	info := structs.SessionRequestInfo{ModuleSharding: true, ShardCount: 4}
	devices := []structs.Device{{DeviceID: "d1"}, {DeviceID: "d2"}}

	jobs, err := p.Plan("s1", info, devices, fakeModules{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Len(t, jobs[0].SubDeviceSpecs, 1)
	require.Equal(t, structs.ExecModeTradefed, jobs[0].ExecMode)
}

func TestPlanner_TradefedExpandsToShardCountBoundedByAvailable(t *testing.T) {
	p := New(Config{GenRoot: "/gen"})
	info := structs.SessionRequestInfo{ShardCount: 5, Selection: structs.DeviceSelection{ProductTypes: []string{"A"}}}
	devices := []structs.Device{
		{DeviceID: "d1", Types: []string{"A"}},
		{DeviceID: "d2", Types: []string{"A"}},
	}

	jobs, err := p.Plan("s1", info, devices, fakeModules{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Len(t, jobs[0].SubDeviceSpecs, 2) // bounded by matched devices, not shardCount
}

func TestPlanner_NonTradefedOneJobPerModule(t *testing.T) {
	p := New(Config{GenRoot: "/gen", XTSRoot: "/xts", StaticMCTSModules: []string{"MctsA"}})
	info := structs.SessionRequestInfo{ModuleIncludeFilters: []string{"CtsFoo", "MctsA"}}
	modules := fakeModules{local: []string{"CtsFoo", "CtsBar"}}

	jobs, err := p.Plan("s1", info, nil, modules)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, structs.ExecModeNonTradefed, j.ExecMode)
		require.Contains(t, j.GenDir, "/gen/job_gen_")
	}
}

func TestPlanner_NonTradefedModuleVetoWithoutTestNames(t *testing.T) {
	modules := fakeModules{local: []string{"CtsFoo", "CtsBar"}}
	info := structs.SessionRequestInfo{ModuleExcludeFilters: []string{"CtsBar"}}

	p := New(Config{GenRoot: "/gen", StaticMCTSModules: []string{}})
	jobs, err := p.Plan("s1", info, nil, modules)
	require.NoError(t, err)

	var names []string
	for _, j := range jobs {
		names = append(names, j.Params["module"])
	}
	require.NotContains(t, names, "CtsBar")
	require.Contains(t, names, "CtsFoo")
}

func TestPlanner_ModuleNameMatchingExactThenRegex(t *testing.T) {
	all := []string{"CtsFooTestCases", "CtsBarTestCases"}

	exact, err := matchModuleName("CtsFooTestCases", all)
	require.NoError(t, err)
	require.Equal(t, "CtsFooTestCases", exact)

	regexMatch, err := matchModuleName("CtsBar.*", all)
	require.NoError(t, err)
	require.Equal(t, "CtsBarTestCases", regexMatch)

	_, err = matchModuleName("Cts.*TestCases", all)
	require.Error(t, err)
}
