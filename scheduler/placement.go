// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"math/rand"
	"time"

	"github.com/devicelab/core/structs"
)

// shuffler picks the iteration order over a slice of lab IPs; the default
// is deterministic (identity), and ShuffleLabs swaps in a random
// permutation per pass.
type shuffler struct {
	rnd *rand.Rand
}

func newShuffler() shuffler {
	return shuffler{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (sh *shuffler) order(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if sh.rnd != nil {
		sh.rnd.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	return idx
}

// orderedLabIPsLocked returns lab IPs either in deterministic (sorted) order or
// shuffled, depending on s.cfg.ShuffleLabs. Assumes s.mu is held.
func (s *Scheduler) orderedLabIPsLocked() []string {
	ips := make([]string, 0, len(s.labs))
	for ip := range s.labs {
		ips = append(ips, ip)
	}
	if !s.cfg.ShuffleLabs {
		sortStrings(ips)
		return ips
	}
	if s.rng.rnd == nil {
		s.rng = newShuffler()
	}
	order := s.rng.order(len(ips))
	shuffled := make([]string, len(ips))
	for i, j := range order {
		shuffled[i] = ips[j]
	}
	return shuffled
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// placeSingleDevice iterates all labs x devices and picks any idle device
// whose capabilities satisfy the job's requirements.
func (s *Scheduler) placeSingleDevice(job *structs.Job, test structs.Test) (bool, error) {
	var sel structs.DeviceSelection
	if len(job.SubDeviceSpecs) == 1 {
		sel = job.SubDeviceSpecs[0].Selection
	}

	s.mu.Lock()
	labIPs := s.orderedLabIPsLocked()
	var candidate *structs.Device
	var candidateLab string
outer:
	for _, ip := range labIPs {
		entry := s.labs[ip]
		for _, dev := range entry.devices {
			if dev.Status != structs.DeviceIdle {
				continue
			}
			if s.store.HasDevice(dev.UniversalID) {
				continue
			}
			if !sel.Matches(dev) {
				continue
			}
			cp := *dev
			candidate = &cp
			candidateLab = ip
			break outer
		}
	}
	s.mu.Unlock()

	if candidate == nil {
		return false, nil
	}

	return s.commitPlacement(job, test, candidateLab, []structs.Device{*candidate})
}

// adhocCandidates is the per-lab candidate filter for ad-hoc (multi-device)
// placement: device not allocated, device's type set intersects the job's
// requested sub-device type set, and the job's run-as user is in the
// device's owner set.
func adhocCandidates(entry *labEntry, store hasDevice, job *structs.Job) []structs.Device {
	wantedTypes := make(map[string]bool)
	for _, spec := range job.SubDeviceSpecs {
		wantedTypes[spec.Type] = true
	}

	var out []structs.Device
	for _, dev := range entry.devices {
		if dev.Status != structs.DeviceIdle {
			continue
		}
		if store.HasDevice(dev.UniversalID) {
			continue
		}
		if !typeSetIntersects(dev.Types, wantedTypes) {
			continue
		}
		if job.RunAsUser != "" && !containsOwner(dev.Owners, job.RunAsUser) {
			continue
		}
		out = append(out, *dev)
	}
	return out
}

type hasDevice interface {
	HasDevice(universalID string) bool
}

func typeSetIntersects(types []string, wanted map[string]bool) bool {
	for _, t := range types {
		if wanted[t] {
			return true
		}
	}
	return false
}

func containsOwner(owners []string, user string) bool {
	for _, o := range owners {
		if o == user {
			return true
		}
	}
	return false
}

// AdhocMatcher returns an ordered list of devices from candidates
// satisfying job's full sub-device spec, in the same order as
// job.SubDeviceSpecs. It is an external collaborator in the real system;
// the default implementation here does a straightforward greedy
// type-to-spec assignment, which is sufficient whenever each requested
// type appears at most as often as it's needed.
type AdhocMatcher interface {
	Match(specs []structs.SubDeviceSpec, candidates []structs.Device) ([]structs.Device, bool)
}

type greedyAdhocMatcher struct{}

func (greedyAdhocMatcher) Match(specs []structs.SubDeviceSpec, candidates []structs.Device) ([]structs.Device, bool) {
	used := make([]bool, len(candidates))
	out := make([]structs.Device, len(specs))
	for i, spec := range specs {
		found := false
		for j, dev := range candidates {
			if used[j] {
				continue
			}
			if containsString(dev.Types, spec.Type) {
				out[i] = dev
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return out, true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// placeAdhoc performs ad-hoc (multi-device) testbed matching.
func (s *Scheduler) placeAdhoc(job *structs.Job, test structs.Test) (bool, error) {
	s.mu.Lock()
	labIPs := s.orderedLabIPsLocked()
	var matched []structs.Device
	var matchedLab string
	for _, ip := range labIPs {
		entry := s.labs[ip]
		cands := adhocCandidates(entry, s.store, job)
		if len(cands) == 0 {
			continue
		}
		devices, ok := s.matcher().Match(job.SubDeviceSpecs, cands)
		if !ok {
			continue
		}
		matched = devices
		matchedLab = ip
		break
	}
	s.mu.Unlock()

	if matched == nil {
		return false, nil
	}
	return s.commitPlacement(job, test, matchedLab, matched)
}

func (s *Scheduler) matcher() AdhocMatcher {
	if s.adhocMatcher != nil {
		return s.adhocMatcher
	}
	return greedyAdhocMatcher{}
}
