// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "regexp"

// Matches reports whether a session matches a filter: every configured
// criterion must hold. An empty/zero-value criterion is a wildcard that
// never excludes.
func (f *SessionFilter) Matches(s *Session) bool {
	if f == nil {
		return true
	}
	if f.StatusRegex != "" {
		re, err := regexp.Compile("^(?:" + f.StatusRegex + ")$")
		if err != nil || !re.MatchString(string(s.Status)) {
			return false
		}
	}
	for k, v := range f.IncludedPropertyKVs {
		if s.Config.Properties[k] != v {
			return false
		}
	}
	for _, k := range f.ExcludedPropertyKeys {
		if _, ok := s.Config.Properties[k]; ok {
			return false
		}
	}
	if f.ClientIDInclude != "" && f.ClientIDInclude != s.ClientID {
		return false
	}
	if f.ClientIDExclude != "" && f.ClientIDExclude == s.ClientID {
		return false
	}
	return true
}
