// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package resolver implements the pluggable file-resolver chain: a
// responsibility chain of resolvers, fronted by a caching resolver that
// memoizes results and shares in-flight resolves. There is no shared
// executor: Resolve runs on the caller's goroutine, and Chain.ResolveAsync
// starts one goroutine per call for resolvers without their own async path.
package resolver

import "context"

// Result is what a resolve produces: the local path a source was
// materialized to.
type Result struct {
	Path string
}

// Resolver is one link in the chain. ShouldResolve decides whether this
// resolver claims source; the chain short-circuits on the first resolver
// that accepts.
type Resolver interface {
	ShouldResolve(source string) bool
	Resolve(ctx context.Context, source string) (Result, error)
}

// AsyncResolver is implemented by resolvers that can start a resolve and
// return a future rather than block the caller.
type AsyncResolver interface {
	Resolver
	ResolveAsync(ctx context.Context, source string) <-chan AsyncResult
}

// AsyncResult is delivered on an AsyncResolver's ResolveAsync channel.
type AsyncResult struct {
	Result Result
	Err    error
}

// BatchPreProcessor is implemented by resolvers that can warm multiple
// sources at once with a single batch preProcess call.
type BatchPreProcessor interface {
	PreProcess(ctx context.Context, sources []string) error
}
