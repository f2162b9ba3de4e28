// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package resolver

import (
	"context"
	"strings"

	"github.com/hashicorp/go-getter"

	"github.com/devicelab/core/corerr"
)

// GetterResolver claims any source go-getter understands (http(s), git,
// gcs, s3, local file, ...) and downloads it into DestDir.
type GetterResolver struct {
	DestDir string
	Client  *getter.Client
}

func NewGetterResolver(destDir string) *GetterResolver {
	return &GetterResolver{DestDir: destDir}
}

// ShouldResolve accepts anything that looks like a go-getter URL; it is
// meant to sit at the tail of the chain as the generic fallback.
func (g *GetterResolver) ShouldResolve(source string) bool {
	return strings.Contains(source, "://") || strings.HasPrefix(source, "/") || strings.HasPrefix(source, "./")
}

func (g *GetterResolver) Resolve(ctx context.Context, source string) (Result, error) {
	dest := g.DestDir + "/" + sourceBaseName(source)

	client := &getter.Client{
		Ctx:  ctx,
		Src:  source,
		Dst:  dest,
		Mode: getter.ClientModeAny,
	}
	if g.Client != nil {
		client = g.Client
		client.Ctx, client.Src, client.Dst = ctx, source, dest
	}

	if err := client.Get(); err != nil {
		return Result{}, corerr.Wrap(corerr.ResolveFileError, "get "+source, err)
	}
	return Result{Path: dest}, nil
}

func sourceBaseName(source string) string {
	if i := strings.LastIndexByte(source, '/'); i >= 0 {
		return source[i+1:]
	}
	return source
}
