// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package allocstore implements the allocation store: the exclusive
// device-to-test mapping, persisted, with a small transactional API.
// Every mutation and multi-step read takes a single mutex so consumers
// can never observe a partial state.
package allocstore

import (
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/devicelab/core/structs"
)

// Store owns both indexes over the live allocation set and the
// persistence adapter used to survive restarts.
type Store struct {
	mu     sync.Mutex
	byTest map[structs.Locator]*structs.Allocation
	byDev  map[string]*structs.Allocation // keyed by Device.UniversalID
	persist Persistence
	logger  hclog.Logger
}

func New(persist Persistence, logger hclog.Logger) *Store {
	if persist == nil {
		persist = NoopPersistence{}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		byTest:  make(map[structs.Locator]*structs.Allocation),
		byDev:   make(map[string]*structs.Allocation),
		persist: persist,
		logger:  logger.Named("allocstore"),
	}
}

// Add records alloc if neither its test nor any of its devices are
// already allocated (invariants A1, A2). It returns false with no side
// effect on conflict. Persistence failure is logged but does not roll
// back the in-memory state: in-memory state is authoritative for the
// running process; only persisted records survive restart.
func (s *Store) Add(alloc *structs.Allocation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byTest[alloc.TestLocator]; ok {
		return false
	}
	for _, id := range alloc.DeviceUniversalIDs() {
		if _, ok := s.byDev[id]; ok {
			return false
		}
	}

	s.byTest[alloc.TestLocator] = alloc
	for _, id := range alloc.DeviceUniversalIDs() {
		s.byDev[id] = alloc
	}

	if err := s.persist.Put(alloc); err != nil {
		s.logger.Error("failed to persist allocation, continuing with in-memory state",
			"test_id", alloc.TestLocator.TestID, "job_id", alloc.TestLocator.JobID, "error", err)
	}
	return true
}

// RemoveByTest deletes the allocation owning test, if any, from both
// indexes atomically. Removing an absent key is a no-op.
func (s *Store) RemoveByTest(test structs.Locator) *structs.Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	alloc, ok := s.byTest[test]
	if !ok {
		return nil
	}
	s.removeLocked(alloc)
	return alloc
}

// RemoveByDevice deletes the allocation holding the device identified by
// universalID, if any. Removing an absent key is a no-op.
func (s *Store) RemoveByDevice(universalID string) *structs.Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	alloc, ok := s.byDev[universalID]
	if !ok {
		return nil
	}
	s.removeLocked(alloc)
	return alloc
}

// removeLocked assumes s.mu is held.
func (s *Store) removeLocked(alloc *structs.Allocation) {
	delete(s.byTest, alloc.TestLocator)
	for _, id := range alloc.DeviceUniversalIDs() {
		delete(s.byDev, id)
	}
	if err := s.persist.Delete(alloc.TestLocator); err != nil {
		s.logger.Error("failed to delete persisted allocation",
			"test_id", alloc.TestLocator.TestID, "job_id", alloc.TestLocator.JobID, "error", err)
	}
}

// ByTest returns the allocation for test, if any.
func (s *Store) ByTest(test structs.Locator) (*structs.Allocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byTest[test]
	return a, ok
}

// ByDevice returns the allocation holding universalID, if any.
func (s *Store) ByDevice(universalID string) (*structs.Allocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byDev[universalID]
	return a, ok
}

func (s *Store) HasTest(test structs.Locator) bool {
	_, ok := s.ByTest(test)
	return ok
}

func (s *Store) HasDevice(universalID string) bool {
	_, ok := s.ByDevice(universalID)
	return ok
}

// Len returns the number of live allocations, mostly useful for tests and
// the monitor pipeline snapshot.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byTest)
}

// Restore reads every persisted allocation and calls Add for each,
// dropping (with a warning) any record whose Add is rejected; that
// indicates a post-crash conflict between two persisted records that can
// no longer both be added. Restore is expected to be the only caller of
// Add at startup.
func (s *Store) Restore() error {
	records, err := s.persist.List()
	if err != nil {
		return err
	}
	for _, alloc := range records {
		if !s.Add(alloc) {
			s.logger.Warn("dropping persisted allocation rejected on restore (post-crash conflict)",
				"test_id", alloc.TestLocator.TestID, "job_id", alloc.TestLocator.JobID)
		}
	}
	return nil
}

// Close releases the underlying persistence adapter.
func (s *Store) Close() error {
	return s.persist.Close()
}
