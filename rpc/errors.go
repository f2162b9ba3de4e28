// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package rpc

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devicelab/core/corerr"
)

// statusFromError maps the closed corerr.Kind taxonomy onto grpc codes so
// every handler can return a uniform status instead of leaking internal
// error shapes across the wire.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}

	var code codes.Code
	switch corerr.KindOf(err) {
	case corerr.NotFound:
		code = codes.NotFound
	case corerr.Duplicated:
		code = codes.AlreadyExists
	case corerr.ConfigParseError, corerr.InvalidArgument:
		code = codes.InvalidArgument
	case corerr.ResolveTimeout:
		code = codes.DeadlineExceeded
	case corerr.ResolveFileError, corerr.PublishError:
		code = codes.Unavailable
	case corerr.MultipleMatches:
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
