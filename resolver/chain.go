// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package resolver

import (
	"context"

	"github.com/devicelab/core/corerr"
)

// Chain resolves a source by trying each Resolver in order and
// dispatching to the first that claims it. It short-circuits on the
// first resolver that accepts.
type Chain struct {
	resolvers []Resolver
}

func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers}
}

func (c *Chain) Resolve(ctx context.Context, source string) (Result, error) {
	r, ok := c.pick(source)
	if !ok {
		return Result{}, corerr.New(corerr.NotFound, "no resolver accepts source: "+source)
	}
	return r.Resolve(ctx, source)
}

// ResolveAsync dispatches to the first accepting resolver's async path if
// it implements AsyncResolver, else runs Resolve on a goroutine so every
// chain member is usable asynchronously regardless of its own
// capabilities.
func (c *Chain) ResolveAsync(ctx context.Context, source string) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)

	r, ok := c.pick(source)
	if !ok {
		out <- AsyncResult{Err: corerr.New(corerr.NotFound, "no resolver accepts source: "+source)}
		close(out)
		return out
	}

	if ar, ok := r.(AsyncResolver); ok {
		return ar.ResolveAsync(ctx, source)
	}

	go func() {
		res, err := r.Resolve(ctx, source)
		out <- AsyncResult{Result: res, Err: err}
		close(out)
	}()
	return out
}

// PreProcess forwards to every resolver in the chain that implements
// BatchPreProcessor, accumulating non-fatal errors so one resolver's
// failure doesn't stop the others from warming.
func (c *Chain) PreProcess(ctx context.Context, sources []string) error {
	var errs []error
	for _, r := range c.resolvers {
		bp, ok := r.(BatchPreProcessor)
		if !ok {
			continue
		}
		if err := bp.PreProcess(ctx, sources); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return joinErrors(errs)
}

func (c *Chain) pick(source string) (Resolver, bool) {
	for _, r := range c.resolvers {
		if r.ShouldResolve(source) {
			return r, true
		}
	}
	return nil, false
}
