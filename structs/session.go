// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package structs holds the data model shared across the device-lab
// orchestration core: sessions, jobs, tests, labs, devices, allocations,
// filters and log records. Beyond small pure helpers (matching
// predicates, Clone, status ordering) it carries no behavior; the owning
// packages (session, scheduler, planner) mutate these types under their
// own invariants.
package structs

import "time"

// SessionStatus is the monotonic lifecycle of a Session.
type SessionStatus string

const (
	SessionSubmitted SessionStatus = "SUBMITTED"
	SessionRunning   SessionStatus = "RUNNING"
	SessionFinished  SessionStatus = "FINISHED"
)

// statusRank gives SessionStatus a total order so callers can assert
// monotonicity without a switch statement at every call site.
var statusRank = map[SessionStatus]int{
	SessionSubmitted: 0,
	SessionRunning:   1,
	SessionFinished:  2,
}

// Less reports whether s sorts strictly before o in the lifecycle.
func (s SessionStatus) Less(o SessionStatus) bool {
	return statusRank[s] < statusRank[o]
}

// SessionOutput is the terminal/intermediate result surface of a session:
// properties accumulated during execution, timing, and the terminal error
// (if any) once FINISHED.
type SessionOutput struct {
	Properties map[string]string
	SubmitTime time.Time
	StartTime  time.Time
	EndTime    time.Time
	Error      string
}

// Session is a client-submitted unit of work grouping one or more Jobs.
type Session struct {
	SessionID    string
	Config       SessionConfig
	Status       SessionStatus
	Output       SessionOutput
	ClientID     string
	AbortedFlag  bool
}

// SessionConfig is the opaque-to-the-core request payload a client
// submitted; the planner reads SessionRequestInfo out of it to produce
// Jobs. Kept as a field bag so the core never needs to understand every
// possible run-command shape.
type SessionConfig struct {
	Name        string
	RequestInfo SessionRequestInfo
	Properties  map[string]string
}

// SessionRequestInfo is the client-supplied run command the planner
// expands into zero-or-more Jobs. It deliberately carries both tradefed
// and non-tradefed knobs; the planner picks the half from TestName and the
// module/test filter fields.
type SessionRequestInfo struct {
	TestName   string
	Plan       string
	ModuleSharding bool
	ShardCount int

	Selection DeviceSelection

	// ModuleIncludeFilters/ModuleExcludeFilters veto or admit a module by
	// name; TestIncludeFilters/TestExcludeFilters narrow to specific
	// tests within an admitted module.
	ModuleIncludeFilters []string
	ModuleExcludeFilters []string
	TestIncludeFilters   map[string][]string
	TestExcludeFilters   map[string][]string

	JobTimeout   time.Duration
	StartTimeout time.Duration

	XTSRoot string
	GenRoot string
}

// Clone returns a deep-enough copy of the session for safe return across
// an API boundary: maps are copied so a caller mutating the returned value
// can't corrupt manager-owned state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Output.Properties = cloneStringMap(s.Output.Properties)
	cp.Config.Properties = cloneStringMap(s.Config.Properties)
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SessionFilter is the closed query filter over sessions. There is
// deliberately no expression language: every field is AND'd together by
// the semantics in Matches.
type SessionFilter struct {
	StatusRegex          string
	IncludedPropertyKVs  map[string]string
	ExcludedPropertyKeys []string
	ClientIDInclude      string
	ClientIDExclude      string
}
