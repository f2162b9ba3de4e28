// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"time"

	"github.com/devicelab/core/structs"
)

// commitPlacement double-checks a candidate placement before calling
// Store.Add: it re-verifies job existence, test existence, matching lab,
// and each device's continued existence and idleness. Any failed check
// abandons the attempt with no side effect, protecting against races with
// removeJob/removeDevice/upsertDevice that may have run between the scan
// above and this call.
func (s *Scheduler) commitPlacement(job *structs.Job, test structs.Test, labIP string, devices []structs.Device) (bool, error) {
	s.mu.Lock()

	je, ok := s.jobByID[job.JobID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	if !jobHasTest(je, test.TestID) {
		s.mu.Unlock()
		return false, nil
	}
	entry, ok := s.labs[labIP]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}

	fresh := make([]structs.Device, 0, len(devices))
	for _, d := range devices {
		live, ok := entry.devices[d.UniversalID]
		if !ok || live.Status != structs.DeviceIdle || live.LabIP != labIP {
			s.mu.Unlock()
			return false, nil
		}
		if s.store.HasDevice(live.UniversalID) {
			s.mu.Unlock()
			return false, nil
		}
		fresh = append(fresh, *live)
	}
	s.mu.Unlock()

	alloc := &structs.Allocation{
		TestLocator: structs.Locator{JobID: job.JobID, TestID: test.TestID},
		Devices:     fresh,
		CreatedAt:   time.Now(),
	}

	if !s.store.Add(alloc) {
		// Lost a race to another placement attempt (or a concurrent
		// mutation) between the double-check above and here. Not fatal,
		// not logged as an error: the loop simply tries again next pass.
		return false, nil
	}

	if s.bus != nil {
		s.bus.PublishAllocation(AllocationEvent{Allocation: alloc})
	}
	return true, nil
}

func jobHasTest(je *jobEntry, testID string) bool {
	for _, t := range je.tests {
		if t.TestID == testID {
			return true
		}
	}
	return false
}
