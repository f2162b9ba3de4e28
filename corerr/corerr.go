// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package corerr defines the closed error taxonomy shared by every
// subsystem of the device-lab orchestration core. Subsystems never return
// bare errors for expected failure modes; they wrap them in an *Error so
// callers (and eventually the RPC facade) can make decisions on Kind
// without parsing messages.
package corerr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories from the design's error
// taxonomy. New kinds are not expected to be added casually; callers are
// allowed to switch exhaustively over this set.
type Kind string

const (
	NotFound         Kind = "NOT_FOUND"
	Duplicated       Kind = "DUPLICATED"
	ConfigParseError Kind = "CONFIG_PARSE_ERROR"
	InvalidArgument  Kind = "INVALID_ARGUMENT"
	ResolveTimeout   Kind = "RESOLVE_TIMEOUT"
	ResolveFileError Kind = "RESOLVE_FILE_ERROR"
	PublishError     Kind = "PUBLISH_ERROR"
	MultipleMatches  Kind = "MULTIPLE_MATCHES"
	Internal         Kind = "INTERNAL"
)

// Error is the single sum-type error value used across the core. It wraps
// an optional cause so errors.Is/errors.As keep working through it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing cause. Wrapping a nil cause
// returns nil, matching the usual "return corerr.Wrap(..., err)" idiom at
// the end of a function.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and
// returns Internal for any other error, including nil-safe callers that
// already checked err != nil.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
