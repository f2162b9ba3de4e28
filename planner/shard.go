// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package planner

import (
	"github.com/hashicorp/go-uuid"

	"github.com/devicelab/core/corerr"
	"github.com/devicelab/core/structs"
)

// planTradefed builds the tradefed half of a plan: one Job carrying
// either a single collapsed multi-match sub-device spec, or up to
// shardCount copies of the request's selection.
func (p *Planner) planTradefed(sessionID string, info structs.SessionRequestInfo, available []structs.Device, timeouts structs.JobTimeouts) ([]*structs.Job, error) {
	shardCount := info.ShardCount
	if shardCount < 1 {
		shardCount = 1
	}

	var matched int
	for i := range available {
		if info.Selection.Matches(&available[i]) {
			matched++
		}
	}

	var specs []structs.SubDeviceSpec
	if collapseToSingleSpec(info) {
		specs = []structs.SubDeviceSpec{{Selection: info.Selection}}
	} else {
		n := shardCount
		if matched < n {
			n = matched
		}
		if n < 1 {
			n = 1
		}
		specs = make([]structs.SubDeviceSpec, n)
		for i := range specs {
			specs[i] = structs.SubDeviceSpec{Selection: info.Selection}
		}
	}

	jobID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, corerr.Wrap(corerr.Internal, "generate job id", err)
	}
	gd, err := genDir(p.cfg.GenRoot, "tradefed")
	if err != nil {
		return nil, err
	}

	job := &structs.Job{
		JobID:          jobID,
		SessionID:      sessionID,
		ExecMode:       structs.ExecModeTradefed,
		SubDeviceSpecs: specs,
		Timeouts:       timeouts,
		GenDir:         gd,
	}
	return []*structs.Job{job}, nil
}

// collapseToSingleSpec reports whether selection collapses to one
// multi-matching dimension: module-sharding enabled, test_name empty,
// and plan not "retry".
func collapseToSingleSpec(info structs.SessionRequestInfo) bool {
	return info.ModuleSharding && info.TestName == "" && info.Plan != "retry"
}
