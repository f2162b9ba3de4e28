// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package resolver

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache TTLs: cached failures expire after 3 minutes; cached successes
// after 3 hours.
const (
	failureTTL = 3 * time.Minute
	successTTL = 3 * time.Hour
)

type cacheEntry struct {
	result  Result
	err     error
	expires time.Time
}

func (e cacheEntry) stale(now time.Time) bool {
	return now.After(e.expires)
}

// CachingResolver sits at the head of a chain and memoizes results by
// {path, parameters}. Concurrent resolves for the same key share one
// singleflight call so a thundering herd against the same source only
// does the work once.
type CachingResolver struct {
	next  Resolver
	group singleflight.Group

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

func NewCachingResolver(next Resolver) *CachingResolver {
	return &CachingResolver{
		next:  next,
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

func (c *CachingResolver) ShouldResolve(source string) bool { return c.next.ShouldResolve(source) }

// Resolve returns the cached result for key(source, parameters) unless
// the cached entry is missing or stale, in which case it re-resolves
// through next and re-populates the cache.
func (c *CachingResolver) Resolve(ctx context.Context, source string) (Result, error) {
	return c.ResolveWithParams(ctx, source, nil)
}

// ResolveWithParams is the full-key entry point; parameters participate
// in the cache key alongside the path.
func (c *CachingResolver) ResolveWithParams(ctx context.Context, source string, parameters map[string]string) (Result, error) {
	key := cacheKey(source, parameters)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && !entry.stale(c.now()) {
		c.mu.Unlock()
		return entry.result, entry.err
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		res, rerr := c.next.Resolve(ctx, source)

		ttl := successTTL
		if rerr != nil {
			ttl = failureTTL
		}
		c.mu.Lock()
		c.cache[key] = cacheEntry{result: res, err: rerr, expires: c.now().Add(ttl)}
		c.mu.Unlock()

		return res, rerr
	})

	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func cacheKey(source string, parameters map[string]string) string {
	keys := make([]string, 0, len(parameters))
	for k := range parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := source
	for _, k := range keys {
		key += "\x00" + k + "=" + parameters[k]
	}
	return key
}
