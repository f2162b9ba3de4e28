// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devicelab/core/allocstore"
	"github.com/devicelab/core/structs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingBus struct {
	mu     sync.Mutex
	events []AllocationEvent
}

func (b *recordingBus) PublishAllocation(e AllocationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *recordingBus) {
	t.Helper()
	store := allocstore.New(allocstore.NoopPersistence{}, hclog.NewNullLogger())
	bus := &recordingBus{}
	cfg.IdlePassInterval = 2 * time.Millisecond
	cfg.JobYieldInterval = time.Millisecond
	s := New(store, bus, cfg, hclog.NewNullLogger())
	return s, bus
}

func dev(id, labIP string, types ...string) structs.Device {
	return structs.Device{DeviceID: id, UniversalID: id, LabIP: labIP, Types: types, Status: structs.DeviceIdle}
}

// Scenario 1: single-device placement.
func TestScheduler_SingleDevicePlacement(t *testing.T) {
	s, bus := newTestScheduler(t, Config{})

	lab := structs.Lab{IP: "L1"}
	s.UpsertDevice(dev("d1", "L1", "A"), lab)
	s.UpsertDevice(dev("d2", "L1", "B"), lab)

	job := &structs.Job{JobID: "J", SubDeviceSpecs: []structs.SubDeviceSpec{{
		Selection: structs.DeviceSelection{ProductTypes: []string{"A"}},
	}}}
	require.NoError(t, s.AddJob(job))
	require.NoError(t, s.AddTest(structs.Test{TestID: "T", JobID: "J"}))

	placed, err := s.placeFirstUnallocatedTest(s.jobByID["J"])
	require.NoError(t, err)
	require.True(t, placed)

	require.True(t, s.store.HasDevice("d1"))
	require.False(t, s.store.HasDevice("d2"))
	require.Equal(t, 1, bus.count())
}

// Scenario 2: rotation / non-starvation.
func TestScheduler_RotationAcrossJobs(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})

	lab := structs.Lab{IP: "L1"}
	s.UpsertDevice(dev("d1", "L1", "A"), lab)
	s.UpsertDevice(dev("d2", "L1", "A"), lab)

	j1 := &structs.Job{JobID: "J1", SubDeviceSpecs: []structs.SubDeviceSpec{{Selection: structs.DeviceSelection{ProductTypes: []string{"A"}}}}}
	j2 := &structs.Job{JobID: "J2", SubDeviceSpecs: []structs.SubDeviceSpec{{Selection: structs.DeviceSelection{ProductTypes: []string{"A"}}}}}
	require.NoError(t, s.AddJob(j1))
	require.NoError(t, s.AddJob(j2))
	require.NoError(t, s.AddTest(structs.Test{TestID: "T1a", JobID: "J1"}))
	require.NoError(t, s.AddTest(structs.Test{TestID: "T1b", JobID: "J1"}))
	require.NoError(t, s.AddTest(structs.Test{TestID: "T2", JobID: "J2"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	placedAny, err := s.pass(ctx)
	require.NoError(t, err)
	require.True(t, placedAny)

	// After one pass, J1 placed its first test (T1a) and J2 placed its
	// only test (T2); T1b is still waiting because only two devices
	// exist and J1 only gets one shot per pass.
	require.True(t, s.store.HasTest(structs.Locator{JobID: "J1", TestID: "T1a"}))
	require.False(t, s.store.HasTest(structs.Locator{JobID: "J1", TestID: "T1b"}))
	require.True(t, s.store.HasTest(structs.Locator{JobID: "J2", TestID: "T2"}))
}

// Scenario 3: ad-hoc testbed ordering.
func TestScheduler_AdhocTestbedOrdering(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})

	lab := structs.Lab{IP: "L1"}
	s.UpsertDevice(dev("d1", "L1", "B"), lab)
	s.UpsertDevice(dev("d2", "L1", "A"), lab)

	job := &structs.Job{
		JobID: "J",
		SubDeviceSpecs: []structs.SubDeviceSpec{
			{Type: "A"},
			{Type: "B"},
		},
	}
	require.NoError(t, s.AddJob(job))
	require.NoError(t, s.AddTest(structs.Test{TestID: "T", JobID: "J"}))

	placed, err := s.placeFirstUnallocatedTest(s.jobByID["J"])
	require.NoError(t, err)
	require.True(t, placed)

	alloc, ok := s.store.ByTest(structs.Locator{JobID: "J", TestID: "T"})
	require.True(t, ok)
	require.Equal(t, []string{"d2", "d1"}, alloc.DeviceUniversalIDs())
}

func TestScheduler_DoubleCheckAbandonsOnDeviceRemoval(t *testing.T) {
	s, bus := newTestScheduler(t, Config{})
	lab := structs.Lab{IP: "L1"}
	s.UpsertDevice(dev("d1", "L1", "A"), lab)

	job := &structs.Job{JobID: "J", SubDeviceSpecs: []structs.SubDeviceSpec{{Selection: structs.DeviceSelection{ProductTypes: []string{"A"}}}}}
	require.NoError(t, s.AddJob(job))
	require.NoError(t, s.AddTest(structs.Test{TestID: "T", JobID: "J"}))
	require.NoError(t, s.AddTest(structs.Test{TestID: "T2", JobID: "J"}))

	// Baseline: with the device present the commit goes through.
	placed, err := s.commitPlacement(job, structs.Test{TestID: "T", JobID: "J"}, "L1", []structs.Device{dev("d1", "L1", "A")})
	require.NoError(t, err)
	require.True(t, placed)
	require.Equal(t, 1, bus.count())

	// Race: device vanishes between scan and commit. Its allocation is
	// released too, so the device's existence is the only failing check.
	s.store.RemoveByDevice("d1")
	s.RemoveDevice("d1")
	placed2, err := s.commitPlacement(job, structs.Test{TestID: "T2", JobID: "J"}, "L1", []structs.Device{dev("d1", "L1", "A")})
	require.NoError(t, err)
	require.False(t, placed2)
}

func TestScheduler_UnallocateIsIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	lab := structs.Lab{IP: "L1"}
	s.UpsertDevice(dev("d1", "L1", "A"), lab)
	job := &structs.Job{JobID: "J", SubDeviceSpecs: []structs.SubDeviceSpec{{Selection: structs.DeviceSelection{ProductTypes: []string{"A"}}}}}
	require.NoError(t, s.AddJob(job))
	require.NoError(t, s.AddTest(structs.Test{TestID: "T", JobID: "J"}))

	placed, err := s.placeFirstUnallocatedTest(s.jobByID["J"])
	require.NoError(t, err)
	require.True(t, placed)

	alloc, ok := s.store.ByTest(structs.Locator{JobID: "J", TestID: "T"})
	require.True(t, ok)

	s.UnallocateAllocation(alloc, false, false)
	require.False(t, s.store.HasTest(alloc.TestLocator))

	// Second call is a no-op, not an error.
	s.UnallocateAllocation(alloc, false, false)
}

func TestScheduler_DuplicateJobAndTestRejected(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	job := &structs.Job{JobID: "J"}
	require.NoError(t, s.AddJob(job))
	err := s.AddJob(job)
	require.Error(t, err)

	require.NoError(t, s.AddTest(structs.Test{TestID: "T", JobID: "J"}))
	err = s.AddTest(structs.Test{TestID: "T", JobID: "J"})
	require.Error(t, err)
}

func TestScheduler_RunRespectsContextCancellation(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler loop did not exit after cancellation")
	}
}
