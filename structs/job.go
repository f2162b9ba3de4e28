// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "time"

// ExecMode distinguishes the two driver families the planner emits jobs
// for: Tradefed and non-Tradefed.
type ExecMode string

const (
	ExecModeTradefed    ExecMode = "TRADEFED"
	ExecModeNonTradefed ExecMode = "NON_TRADEFED"
)

// JobTimeouts bundles the three timeout values the planner computes.
type JobTimeouts struct {
	Job   time.Duration
	Test  time.Duration
	Start time.Duration
}

// SubDeviceSpec describes one device slot a Job needs: a sub-device type
// for ad-hoc matching and a device selection. The planner fills Selection
// both for the collapsed single spec and for per-shard specs.
type SubDeviceSpec struct {
	// Type is the sub-device type this slot must satisfy in an ad-hoc
	// testbed match.
	Type string
	// DimensionRegex holds serial/property regexes over a device's
	// dimensions. The planner never sets it and placement does not read
	// it; sharded and collapsed specs carry the request's Selection
	// instead of a multi-match regex.
	DimensionRegex map[string]string
	Selection      DeviceSelection
}

// Job is an executable unit owned by a Session. Multiple Jobs per
// Session are allowed.
type Job struct {
	JobID           string
	SessionID       string
	ExecMode        ExecMode
	Driver          string
	Params          map[string]string
	SubDeviceSpecs  []SubDeviceSpec
	Timeouts        JobTimeouts
	Priority        int
	Attempts        int
	RunAsUser       string
	GenDir          string
}

// Test is the smallest schedulable unit within a Job; it consumes exactly
// one Allocation once placed.
type Test struct {
	TestID string
	JobID  string
}

// Locator identifies a Test uniquely for allocation purposes; it is what
// Allocation.TestLocator carries instead of a bare string so a stale
// TestID from a removed job can never collide with a fresh one reusing
// the same string.
type Locator struct {
	JobID  string
	TestID string
}
