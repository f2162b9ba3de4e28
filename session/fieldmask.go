// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"strings"
	"time"

	"github.com/mitchellh/copystructure"

	"github.com/devicelab/core/structs"
)

// FieldMask names a set of SessionDetail fields a caller wants returned.
// Paths are dot-separated, e.g. "status" or "output.properties". A nil
// *FieldMask means "everything" and must be tolerated by every query
// path.
type FieldMask struct {
	Paths []string
}

// NewFieldMask builds a mask from path strings, deduping nothing: the
// matching below is a simple prefix test so redundant paths are harmless.
func NewFieldMask(paths ...string) *FieldMask {
	return &FieldMask{Paths: paths}
}

// included reports whether path (or one of its ancestors, or a
// descendant wildcard) is named by the mask.
func (m *FieldMask) included(path string) bool {
	if m == nil {
		return true
	}
	for _, p := range m.Paths {
		if p == path || strings.HasPrefix(path, p+".") || strings.HasPrefix(p, path+".") {
			return true
		}
	}
	return false
}

// applyFieldMask returns a copy of sess trimmed to mask. session_id and
// status are always retained since every client needs them to correlate
// the record; a record's own identity is never masked away.
func applyFieldMask(sess *structs.Session, mask *FieldMask) *structs.Session {
	if sess == nil || mask == nil {
		return sess
	}

	cpRaw, err := copystructure.Copy(sess)
	if err != nil {
		// Deep copy only fails on unsupported types, which Session does
		// not contain; fall back to the shallow Clone rather than panic.
		return sess.Clone()
	}
	cp := cpRaw.(*structs.Session)

	if !mask.included("config") {
		cp.Config = structs.SessionConfig{}
	}
	if !mask.included("client_id") {
		cp.ClientID = ""
	}
	if !mask.included("aborted_flag") {
		cp.AbortedFlag = false
	}
	if !mask.included("output") {
		cp.Output = structs.SessionOutput{}
	} else {
		if !mask.included("output.properties") {
			cp.Output.Properties = nil
		}
		if !mask.included("output.error") {
			cp.Output.Error = ""
		}
		if !mask.included("output.submit_time") {
			cp.Output.SubmitTime = time.Time{}
		}
		if !mask.included("output.start_time") {
			cp.Output.StartTime = time.Time{}
		}
		if !mask.included("output.end_time") {
			cp.Output.EndTime = time.Time{}
		}
	}

	return cp
}
