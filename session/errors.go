// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import "github.com/devicelab/core/corerr"

func errNotFound(id string) error {
	return corerr.New(corerr.NotFound, "session not found: "+id)
}
