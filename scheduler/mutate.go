// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"github.com/devicelab/core/corerr"
	"github.com/devicelab/core/structs"
)

// AddJob registers job for scheduling. A duplicate job id fails with
// corerr.Duplicated.
func (s *Scheduler) AddJob(job *structs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobByID[job.JobID]; ok {
		return corerr.New(corerr.Duplicated, "job already registered: "+job.JobID)
	}
	je := &jobEntry{job: job}
	s.jobByID[job.JobID] = je
	s.jobs = append(s.jobs, je)
	return nil
}

// AddTest registers test under its job. A duplicate test id within the
// job fails with corerr.Duplicated.
func (s *Scheduler) AddTest(test structs.Test) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	je, ok := s.jobByID[test.JobID]
	if !ok {
		return corerr.New(corerr.NotFound, "no such job: "+test.JobID)
	}
	if jobHasTest(je, test.TestID) {
		return corerr.New(corerr.Duplicated, "test already registered: "+test.TestID)
	}
	je.tests = append(je.tests, test)
	return nil
}

// RemoveJob removes job from scheduling. For each of its tests holding an
// allocation, Unallocate is called so the allocation store stays
// consistent.
func (s *Scheduler) RemoveJob(jobID string, removeDevices bool) {
	s.mu.Lock()
	je, ok := s.jobByID[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.jobByID, jobID)
	for i, e := range s.jobs {
		if e == je {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			break
		}
	}
	tests := make([]structs.Test, len(je.tests))
	copy(tests, je.tests)
	s.mu.Unlock()

	for _, t := range tests {
		loc := structs.Locator{JobID: t.JobID, TestID: t.TestID}
		if alloc, ok := s.store.ByTest(loc); ok {
			s.UnallocateAllocation(alloc, removeDevices, false)
		}
		// A test with no allocation is simply skipped: calling Unallocate
		// with nothing to release would be a no-op anyway.
	}
}

// UpsertDevice ensures labIP's Lab exists and replaces/updates the device
// record.
func (s *Scheduler) UpsertDevice(device structs.Device, lab structs.Lab) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.labs[lab.IP]
	if !ok {
		entry = &labEntry{lab: lab, devices: make(map[string]*structs.Device)}
		s.labs[lab.IP] = entry
	}
	device.LabIP = lab.IP
	cp := device
	entry.devices[device.UniversalID] = &cp
}

// RemoveDevice drops the device record for universalID from its lab, if
// present.
func (s *Scheduler) RemoveDevice(universalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.labs {
		delete(entry.devices, universalID)
	}
}

// UnallocateByDevice looks up the allocation by device; if none and
// removeDevices, it removes the device record; otherwise it delegates to
// the allocation-centric variant.
func (s *Scheduler) UnallocateByDevice(universalID string, removeDevices, closeTest bool) {
	alloc, ok := s.store.ByDevice(universalID)
	if !ok {
		if removeDevices {
			s.RemoveDevice(universalID)
		}
		return
	}
	s.UnallocateAllocation(alloc, removeDevices, closeTest)
}

// UnallocateAllocation releases alloc via the allocation store, and
// depending on flags also removes the device records and/or the test.
// Calling it twice for the same allocation is idempotent: the second call
// finds nothing left to release.
func (s *Scheduler) UnallocateAllocation(alloc *structs.Allocation, removeDevices, closeTest bool) {
	if alloc == nil {
		return
	}
	s.store.RemoveByTest(alloc.TestLocator)

	if removeDevices {
		for _, id := range alloc.DeviceUniversalIDs() {
			s.RemoveDevice(id)
		}
	}
	if closeTest {
		s.mu.Lock()
		if je, ok := s.jobByID[alloc.TestLocator.JobID]; ok {
			for i, t := range je.tests {
				if t.TestID == alloc.TestLocator.TestID {
					je.tests = append(je.tests[:i], je.tests[i+1:]...)
					break
				}
			}
		}
		s.mu.Unlock()
	}
}
