// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "time"

// Allocation is the exclusive binding of one Test to one or more Devices
// within a single Lab.
type Allocation struct {
	TestLocator Locator
	Devices     []Device
	CreatedAt   time.Time
}

// LabIP returns the shared lab of every device in the allocation. Callers
// that construct an Allocation are responsible for invariant A3 (all
// devices share a lab); this just reads the first device's lab, which is
// meaningless on an empty allocation.
func (a *Allocation) LabIP() string {
	if len(a.Devices) == 0 {
		return ""
	}
	return a.Devices[0].LabIP
}

// DeviceUniversalIDs returns the UniversalID of every device in the
// allocation, the key the store indexes allocations by on the device
// side.
func (a *Allocation) DeviceUniversalIDs() []string {
	ids := make([]string, len(a.Devices))
	for i, d := range a.Devices {
		ids[i] = d.UniversalID
	}
	return ids
}
