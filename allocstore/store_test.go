// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package allocstore

import (
	"path/filepath"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/core/structs"
)

func mkAlloc(jobID, testID, labIP string, deviceIDs ...string) *structs.Allocation {
	devs := make([]structs.Device, len(deviceIDs))
	for i, id := range deviceIDs {
		devs[i] = structs.Device{DeviceID: id, UniversalID: id, LabIP: labIP}
	}
	return &structs.Allocation{
		TestLocator: structs.Locator{JobID: jobID, TestID: testID},
		Devices:     devs,
		CreatedAt:   time.Now(),
	}
}

// testPersistences runs the same behavior matrix against every
// Persistence implementation.
func testPersistences(t *testing.T, f func(t *testing.T, p Persistence)) {
	t.Helper()

	t.Run("Noop", func(t *testing.T) { f(t, NoopPersistence{}) })

	t.Run("Mem", func(t *testing.T) { f(t, NewMemPersistence()) })

	t.Run("Bolt", func(t *testing.T) {
		dir := t.TempDir()
		db, err := NewBoltPersistence(filepath.Join(dir, "allocs.db"), hclog.NewNullLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		f(t, db)
	})
}

func TestStore_AddRejectsConflicts(t *testing.T) {
	testPersistences(t, func(t *testing.T, p Persistence) {
		s := New(p, hclog.NewNullLogger())

		a1 := mkAlloc("j1", "t1", "10.0.0.1", "d1")
		require.True(t, s.Add(a1))

		// Same test again: rejected, no side effect.
		dup := mkAlloc("j1", "t1", "10.0.0.1", "d2")
		require.False(t, s.Add(dup))
		require.False(t, s.HasDevice("d2"))

		// Same device, different test: rejected.
		dup2 := mkAlloc("j1", "t2", "10.0.0.1", "d1")
		require.False(t, s.Add(dup2))
		require.False(t, s.HasTest(structs.Locator{JobID: "j1", TestID: "t2"}))

		require.Equal(t, 1, s.Len())
	})
}

func TestStore_RemoveIsIdempotentAndAtomic(t *testing.T) {
	testPersistences(t, func(t *testing.T, p Persistence) {
		s := New(p, hclog.NewNullLogger())
		a1 := mkAlloc("j1", "t1", "10.0.0.1", "d1", "d2")
		require.True(t, s.Add(a1))

		got := s.RemoveByTest(a1.TestLocator)
		require.Equal(t, a1, got)
		require.False(t, s.HasTest(a1.TestLocator))
		require.False(t, s.HasDevice("d1"))
		require.False(t, s.HasDevice("d2"))

		// Removing again (by test or by device) is a no-op, not an error.
		require.Nil(t, s.RemoveByTest(a1.TestLocator))
		require.Nil(t, s.RemoveByDevice("d1"))
	})
}

func TestStore_RestoreResumesPersistedAllocations(t *testing.T) {
	t.Run("Mem", func(t *testing.T) {
		p := NewMemPersistence()
		require.NoError(t, p.Put(mkAlloc("j1", "t1", "10.0.0.1", "d1")))
		require.NoError(t, p.Put(mkAlloc("j2", "t2", "10.0.0.1", "d2")))

		s := New(p, hclog.NewNullLogger())
		require.NoError(t, s.Restore())
		require.Equal(t, 2, s.Len())
		require.True(t, s.HasDevice("d1"))
		require.True(t, s.HasDevice("d2"))
	})

	t.Run("Bolt", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "allocs.db")

		db, err := NewBoltPersistence(path, hclog.NewNullLogger())
		require.NoError(t, err)
		require.NoError(t, db.Put(mkAlloc("j1", "t1", "10.0.0.1", "d1")))
		require.NoError(t, db.Close())

		db2, err := NewBoltPersistence(path, hclog.NewNullLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = db2.Close() })

		s := New(db2, hclog.NewNullLogger())
		require.NoError(t, s.Restore())
		require.Equal(t, 1, s.Len())
		require.True(t, s.HasDevice("d1"))
	})

	t.Run("ConflictingRecordsDropped", func(t *testing.T) {
		p := NewMemPersistence()
		// Two persisted allocations that both claim device d1: can only
		// happen after a crash between persisting and releasing. Restore
		// must keep exactly one and drop the other with a warning.
		require.NoError(t, p.Put(mkAlloc("j1", "t1", "10.0.0.1", "d1")))
		require.NoError(t, p.Put(mkAlloc("j2", "t2", "10.0.0.1", "d1")))

		s := New(p, hclog.NewNullLogger())
		require.NoError(t, s.Restore())
		require.Equal(t, 1, s.Len())
	})
}

func TestAllocation_LabIPAndDeviceIDs(t *testing.T) {
	a := mkAlloc("j1", "t1", "10.0.0.5", "d1", "d2")
	require.Equal(t, "10.0.0.5", a.LabIP())
	require.ElementsMatch(t, []string{"d1", "d2"}, a.DeviceUniversalIDs())
}
